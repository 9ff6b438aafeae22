package transport

import "testing"

func TestNewBackoffPolicy_DefaultsZeroValues(t *testing.T) {
	b := NewBackoffPolicy(0, 0, 0, 0)
	if b.Min != DefaultMinInterval {
		t.Errorf("Min = %v, want %v", b.Min, DefaultMinInterval)
	}
	if b.Max != DefaultMaxInterval {
		t.Errorf("Max = %v, want %v", b.Max, DefaultMaxInterval)
	}
	if b.Multiplier != DefaultMultiplier {
		t.Errorf("Multiplier = %v, want %v", b.Multiplier, DefaultMultiplier)
	}
	if b.MaxRetries != DefaultMaxRetries {
		t.Errorf("MaxRetries = %d, want %d", b.MaxRetries, DefaultMaxRetries)
	}
}

func TestBackoffPolicy_NextIntervalStaysWithinBounds(t *testing.T) {
	b := NewBackoffPolicy(0, 0, 0, 0)
	for i := 0; i < 50; i++ {
		d := b.NextInterval()
		if d < b.Min || d > b.Max {
			t.Fatalf("NextInterval() = %v, want within [%v, %v]", d, b.Min, b.Max)
		}
	}
}

func TestBackoffPolicy_ResetReturnsToMin(t *testing.T) {
	b := NewBackoffPolicy(0, 0, 0, 0)
	for i := 0; i < 10; i++ {
		b.NextInterval()
	}
	b.Reset()
	if b.current != b.Min {
		t.Errorf("current after Reset = %v, want Min %v", b.current, b.Min)
	}
}

func TestBackoffPolicy_ShouldRetry(t *testing.T) {
	b := NewBackoffPolicy(0, 0, 0, 3)
	cases := []struct {
		attempt int
		want    bool
	}{
		{0, true},
		{1, true},
		{2, true},
		{3, false},
		{4, false},
	}
	for _, tt := range cases {
		if got := b.ShouldRetry(tt.attempt); got != tt.want {
			t.Errorf("ShouldRetry(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
