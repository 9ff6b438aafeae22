package flags

import "testing"

func TestHash_Deterministic(t *testing.T) {
	a := Hash("flag-key", "user-1", "")
	b := Hash("flag-key", "user-1", "")
	if a != b {
		t.Fatalf("Hash is not deterministic: %v != %v", a, b)
	}
}

func TestHash_Range(t *testing.T) {
	subjects := []string{"user-1", "user-2", "another-user", "", "unicode-éè"}
	for _, s := range subjects {
		h := Hash("flag-key", s, "")
		if h < 0 || h >= 1 {
			t.Errorf("Hash(%q) = %v, want in [0, 1)", s, h)
		}
	}
}

func TestHash_SaltChangesOutput(t *testing.T) {
	rollout := Hash("flag-key", "user-1", "")
	variant := Hash("flag-key", "user-1", "variant")
	if rollout == variant {
		t.Fatal("expected different salts to produce different hashes")
	}
}

func TestInRollout_Boundaries(t *testing.T) {
	if !InRollout("flag-key", "user-1", 100) {
		t.Error("100% rollout should always match")
	}
	if InRollout("flag-key", "user-1", 0) {
		t.Error("0% rollout should never match")
	}
}

func TestInRollout_ConsistentWithHash(t *testing.T) {
	const key, subject = "flag-key", "user-1"
	h := Hash(key, subject, "")
	pct := (h + 0.0001) * 100
	if pct > 100 {
		pct = 100
	}
	if !InRollout(key, subject, pct) {
		t.Errorf("expected subject with hash %v to be in rollout %v%%", h, pct)
	}
}

func TestVariant_SelectsFromContiguousRanges(t *testing.T) {
	variants := []MultivariateVariant{
		{Key: "control", RolloutPercentage: 50},
		{Key: "test", RolloutPercentage: 50},
	}
	// Every subject must land in exactly one of the two variants since they
	// partition [0, 1) fully.
	for _, subject := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		got := Variant("flag-key", subject, variants)
		if got != "control" && got != "test" {
			t.Errorf("Variant(%q) = %q, want control or test", subject, got)
		}
	}
}

func TestVariant_NoneWhenRangesDontCoverHash(t *testing.T) {
	variants := []MultivariateVariant{
		{Key: "control", RolloutPercentage: 10},
	}
	hasMiss := false
	for _, subject := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"} {
		if Variant("flag-key", subject, variants) == "" {
			hasMiss = true
		}
	}
	if !hasMiss {
		t.Skip("none of the sample subjects missed the 10% partition; hash-dependent, not a failure")
	}
}

func TestVariant_Deterministic(t *testing.T) {
	variants := []MultivariateVariant{
		{Key: "control", RolloutPercentage: 33},
		{Key: "test-a", RolloutPercentage: 33},
		{Key: "test-b", RolloutPercentage: 34},
	}
	a := Variant("flag-key", "user-1", variants)
	b := Variant("flag-key", "user-1", variants)
	if a != b {
		t.Fatalf("Variant is not deterministic: %q != %q", a, b)
	}
}
