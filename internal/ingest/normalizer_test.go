package ingest

import "testing"

func TestCapture_RequiresSubjectID(t *testing.T) {
	_, err := Capture(CaptureInput{EventName: "signup"})
	if err == nil {
		t.Fatal("Capture() should fail without SubjectID")
	}
	if ve, ok := err.(*ValidationError); !ok || ve.Field != "distinct_id" {
		t.Fatalf("err = %v, want ValidationError{Field: distinct_id}", err)
	}
}

func TestCapture_RequiresEventName(t *testing.T) {
	_, err := Capture(CaptureInput{SubjectID: "u1"})
	if err == nil {
		t.Fatal("Capture() should fail without EventName")
	}
	if ve, ok := err.(*ValidationError); !ok || ve.Field != "event" {
		t.Fatalf("err = %v, want ValidationError{Field: event}", err)
	}
}

func TestCapture_InjectsBaseProperties(t *testing.T) {
	msg, err := Capture(CaptureInput{SubjectID: "u1", EventName: "signup"})
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if msg.Properties["$lib"] != LibraryName {
		t.Errorf("$lib = %v, want %v", msg.Properties["$lib"], LibraryName)
	}
	if msg.Properties["$lib_version"] != LibraryVersion {
		t.Errorf("$lib_version = %v, want %v", msg.Properties["$lib_version"], LibraryVersion)
	}
}

func TestCapture_MergesCallerProperties(t *testing.T) {
	msg, err := Capture(CaptureInput{
		SubjectID:  "u1",
		EventName:  "signup",
		Properties: map[string]any{"plan": "pro"},
	})
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if msg.Properties["plan"] != "pro" {
		t.Errorf("plan = %v, want pro", msg.Properties["plan"])
	}
}

func TestCapture_EncodesGroups(t *testing.T) {
	msg, err := Capture(CaptureInput{
		SubjectID: "u1",
		EventName: "signup",
		Groups:    map[string]string{"company": "acme"},
	})
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	groups, ok := msg.Properties["$groups"].(map[string]string)
	if !ok || groups["company"] != "acme" {
		t.Errorf("$groups = %#v, want map with company=acme", msg.Properties["$groups"])
	}
}

func TestCapture_EncodesFeatureVariants(t *testing.T) {
	msg, err := Capture(CaptureInput{
		SubjectID: "u1",
		EventName: "signup",
		FeatureVariants: map[string]any{
			"new-checkout": true,
			"beta-banner":  false,
			"pricing-test": "variant-a",
		},
	})
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if msg.Properties["$feature/new-checkout"] != true {
		t.Errorf("$feature/new-checkout = %v, want true", msg.Properties["$feature/new-checkout"])
	}
	if msg.Properties["$feature/pricing-test"] != "variant-a" {
		t.Errorf("$feature/pricing-test = %v, want variant-a", msg.Properties["$feature/pricing-test"])
	}
	active, ok := msg.Properties["$active_feature_flags"].([]string)
	if !ok {
		t.Fatalf("$active_feature_flags = %#v, want []string", msg.Properties["$active_feature_flags"])
	}
	wantActive := map[string]bool{"new-checkout": true, "pricing-test": true}
	if len(active) != len(wantActive) {
		t.Fatalf("$active_feature_flags = %v, want 2 entries", active)
	}
	for _, k := range active {
		if !wantActive[k] {
			t.Errorf("unexpected active flag %q", k)
		}
	}
}

func TestCapture_DropsInvalidUUID(t *testing.T) {
	msg, err := Capture(CaptureInput{SubjectID: "u1", EventName: "signup", UUID: "not-a-uuid"})
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if msg.UUID != nil {
		t.Errorf("UUID = %v, want nil for an invalid UUID string", msg.UUID)
	}
}

func TestIdentify_MovesPropertiesToSet(t *testing.T) {
	msg, err := Identify(IdentifyInput{SubjectID: "u1", Properties: map[string]any{"email": "a@b.com"}})
	if err != nil {
		t.Fatalf("Identify() error = %v", err)
	}
	if msg.SetProperties["email"] != "a@b.com" {
		t.Errorf("SetProperties[email] = %v, want a@b.com", msg.SetProperties["email"])
	}
	if _, ok := msg.Properties["email"]; ok {
		t.Error("Properties should not contain caller-supplied fields for identify")
	}
	if msg.EventName != "$identify" {
		t.Errorf("EventName = %q, want $identify", msg.EventName)
	}
}

func TestIdentify_RequiresSubjectID(t *testing.T) {
	if _, err := Identify(IdentifyInput{}); err == nil {
		t.Fatal("Identify() should fail without SubjectID")
	}
}

func TestAlias_RequiresBothIDs(t *testing.T) {
	if _, err := Alias(AliasInput{SubjectID: "u1"}); err == nil {
		t.Fatal("Alias() should fail without AliasID")
	}
	if _, err := Alias(AliasInput{AliasID: "u2"}); err == nil {
		t.Fatal("Alias() should fail without SubjectID")
	}
}

func TestAlias_SetsWireFields(t *testing.T) {
	msg, err := Alias(AliasInput{SubjectID: "u1", AliasID: "u2"})
	if err != nil {
		t.Fatalf("Alias() error = %v", err)
	}
	if msg.Properties["distinct_id"] != "u1" || msg.Properties["alias"] != "u2" {
		t.Errorf("Properties = %#v, want distinct_id=u1 alias=u2", msg.Properties)
	}
}

func TestGroupIdentify_RequiresTypeAndKey(t *testing.T) {
	if _, err := GroupIdentify(GroupIdentifyInput{GroupKey: "acme"}); err == nil {
		t.Fatal("GroupIdentify() should fail without GroupType")
	}
	if _, err := GroupIdentify(GroupIdentifyInput{GroupType: "company"}); err == nil {
		t.Fatal("GroupIdentify() should fail without GroupKey")
	}
}

func TestGroupIdentify_SynthesizesSubjectID(t *testing.T) {
	msg, err := GroupIdentify(GroupIdentifyInput{GroupType: "company", GroupKey: "acme"})
	if err != nil {
		t.Fatalf("GroupIdentify() error = %v", err)
	}
	if msg.SubjectID != "$company_acme" {
		t.Errorf("SubjectID = %q, want $company_acme", msg.SubjectID)
	}
}

func TestGroupIdentify_UsesExplicitSubjectID(t *testing.T) {
	msg, err := GroupIdentify(GroupIdentifyInput{SubjectID: "u1", GroupType: "company", GroupKey: "acme"})
	if err != nil {
		t.Fatalf("GroupIdentify() error = %v", err)
	}
	if msg.SubjectID != "u1" {
		t.Errorf("SubjectID = %q, want u1", msg.SubjectID)
	}
}
