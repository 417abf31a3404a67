package backoff

import (
	"errors"
	"testing"
	"time"
)

// --- Next Tests ---

func TestNext_Constant(t *testing.T) {
	s := Strategy{Kind: KindConstant, Seed: 3 * time.Second}

	for attempt := 1; attempt <= 4; attempt++ {
		if got := s.Next(attempt); got != 3*time.Second {
			t.Errorf("attempt %d: expected 3s, got %v", attempt, got)
		}
	}
}

func TestNext_Multiplicative(t *testing.T) {
	s := Strategy{Kind: KindMultiplicative, Seed: 2 * time.Second, Factor: 1.5}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 3 * time.Second},
		{2, 4500 * time.Millisecond},
		{3, 6750 * time.Millisecond},
	}

	for _, tt := range tests {
		if got := s.Next(tt.attempt); got != tt.want {
			t.Errorf("attempt %d: expected %v, got %v", tt.attempt, tt.want, got)
		}
	}
}

func TestNext_Exponential(t *testing.T) {
	s := Strategy{Kind: KindExponential, Factor: 2}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 2 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{5, 32 * time.Second},
	}

	for _, tt := range tests {
		if got := s.Next(tt.attempt); got != tt.want {
			t.Errorf("attempt %d: expected %v, got %v", tt.attempt, tt.want, got)
		}
	}
}

func TestNext_ExponentialIgnoresSeed(t *testing.T) {
	exp := Strategy{Kind: KindExponential, Seed: 100 * time.Millisecond, Factor: 3}
	mul := Strategy{Kind: KindMultiplicative, Seed: 100 * time.Millisecond, Factor: 3}

	tests := []struct {
		attempt int
		exp     time.Duration
		mul     time.Duration
	}{
		{1, 3 * time.Second, 300 * time.Millisecond},
		{2, 9 * time.Second, 900 * time.Millisecond},
		{3, 27 * time.Second, 2700 * time.Millisecond},
	}

	for _, tt := range tests {
		if got := exp.Next(tt.attempt); got != tt.exp {
			t.Errorf("exponential attempt %d: expected %v, got %v", tt.attempt, tt.exp, got)
		}
		if got := mul.Next(tt.attempt); got != tt.mul {
			t.Errorf("multiplicative attempt %d: expected %v, got %v", tt.attempt, tt.mul, got)
		}
	}
}

func TestNext_CappedAtMaxDelay(t *testing.T) {
	s := Strategy{Kind: KindExponential, Factor: 2, MaxDelay: 10 * time.Second}

	if got := s.Next(10); got != 10*time.Second {
		t.Errorf("expected 10s cap, got %v", got)
	}

	// Огромный attempt не должен переполнять Duration
	if got := s.Next(10_000); got != 10*time.Second {
		t.Errorf("expected 10s cap on overflow, got %v", got)
	}
}

func TestNext_JitterBounded(t *testing.T) {
	s := Strategy{
		Kind:   KindConstant,
		Seed:   10 * time.Second,
		Jitter: 0.5,
		Rand:   func() float64 { return 0.999 },
	}

	got := s.Next(1)
	if got < 10*time.Second || got > 15*time.Second {
		t.Errorf("expected delay in [10s, 15s], got %v", got)
	}

	s.Rand = func() float64 { return 0 }
	if got := s.Next(1); got != 10*time.Second {
		t.Errorf("expected 10s with zero jitter draw, got %v", got)
	}
}

func TestWithDefaults(t *testing.T) {
	s := Strategy{}.WithDefaults()

	if s.Kind != KindExponential {
		t.Errorf("expected exponential, got %s", s.Kind)
	}
	if s.MaxRetry != DefaultMaxRetry {
		t.Errorf("expected MaxRetry %d, got %d", DefaultMaxRetry, s.MaxRetry)
	}
	if s.MaxDelay != DefaultMaxDelay {
		t.Errorf("expected MaxDelay %v, got %v", DefaultMaxDelay, s.MaxDelay)
	}

	clamped := Strategy{Jitter: 3}.WithDefaults()
	if clamped.Jitter != 1 {
		t.Errorf("expected jitter clamped to 1, got %v", clamped.Jitter)
	}
}

// --- ParseKind Tests ---

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"", KindExponential, false},
		{"constant", KindConstant, false},
		{" Multiplicative ", KindMultiplicative, false},
		{"EXPONENTIAL", KindExponential, false},
		{"fibonacci", "", true},
	}

	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrUnknownKind) {
				t.Errorf("ParseKind(%q): expected ErrUnknownKind, got %v", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseKind(%q): unexpected error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseKind(%q): expected %s, got %s", tt.in, tt.want, got)
		}
	}
}
