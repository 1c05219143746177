package retry

import (
	"testing"
	"time"
)

func TestDelayModes(t *testing.T) {
	fixed := NewPolicy(BackoffFixed, 2*time.Second, 10*time.Second, 3)
	if d := fixed.Delay(3); d != 2*time.Second {
		t.Fatalf("fixed delay: %v", d)
	}

	linear := NewPolicy(BackoffLinear, time.Second, 3*time.Second, 5)
	if d := linear.Delay(2); d != 2*time.Second {
		t.Fatalf("linear delay: %v", d)
	}
	if d := linear.Delay(10); d != 3*time.Second {
		t.Fatalf("linear cap: %v", d)
	}

	exp := NewPolicy(BackoffExponential, time.Second, 5*time.Second, 5)
	if d := exp.Delay(3); d != 4*time.Second {
		t.Fatalf("exponential delay: %v", d)
	}
	if d := exp.Delay(6); d != 5*time.Second {
		t.Fatalf("exponential cap: %v", d)
	}
}

func TestZeroRetryCount(t *testing.T) {
	if d := DefaultPolicy().Delay(0); d != 0 {
		t.Fatalf("expected zero delay for attempt 0, got %v", d)
	}
}

func TestNewPolicyFallbacks(t *testing.T) {
	p := NewPolicy("bogus", 0, 0, -1)
	def := DefaultPolicy()
	if p != def {
		t.Fatalf("expected defaults for invalid input, got %+v", p)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("default policy must validate: %v", err)
	}
}
