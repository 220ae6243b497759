package backoff

import (
	"testing"
	"time"

	"postvault/pkg/config"
)

// deterministic returns a policy with jitter and penalties disabled so
// the adaptive portion can be asserted exactly
func deterministic() Policy {
	return Policy{
		MinDelay:     2 * time.Second,
		MaxDelay:     20 * time.Second,
		StepEvery:    10,
		StepFraction: 0.5,
		ErrorFactor:  0.5,
	}
}

func TestNextDelayBase(t *testing.T) {
	p := deterministic()

	tests := []struct {
		name     string
		items    int
		errors   int
		expected time.Duration
	}{
		{"fresh session", 0, 0, 2 * time.Second},
		{"below first step", 9, 0, 2 * time.Second},
		{"first step", 10, 0, 3 * time.Second},
		{"second step", 20, 0, 4 * time.Second},
		{"one error", 0, 1, 3 * time.Second},
		{"three errors", 0, 3, 5 * time.Second},
		{"steps and errors combine", 20, 2, 6 * time.Second},
		{"negative counts treated as zero", -5, -2, 2 * time.Second},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			delay := p.NextDelay(test.items, test.errors)
			if delay != test.expected {
				t.Errorf("NextDelay(%d, %d) = %v, want %v",
					test.items, test.errors, delay, test.expected)
			}
		})
	}
}

func TestNextDelayMonotoneInErrors(t *testing.T) {
	p := deterministic()

	for _, items := range []int{0, 7, 25, 113} {
		prev := time.Duration(0)
		for errs := 0; errs <= 30; errs++ {
			delay := p.NextDelay(items, errs)
			if delay < prev {
				t.Fatalf("delay decreased with more errors: items=%d errors=%d delay=%v prev=%v",
					items, errs, delay, prev)
			}
			prev = delay
		}
	}
}

func TestNextDelayCeiling(t *testing.T) {
	p := deterministic()

	for _, items := range []int{100, 1000, 100000} {
		// Avoid penalty checkpoints by offsetting one
		delay := p.NextDelay(items+1, 0)
		if delay > p.MaxDelay {
			t.Errorf("delay %v exceeds ceiling %v at items=%d", delay, p.MaxDelay, items+1)
		}
	}

	if p.NextDelay(1000001, 50) > p.MaxDelay {
		t.Error("ceiling must hold under heavy error counts too")
	}
}

func TestNextDelayJitterBounds(t *testing.T) {
	p := deterministic()
	p.JitterFraction = 0.3

	base := 2 * time.Second
	lo := time.Duration(float64(base) * 0.7)
	hi := time.Duration(float64(base) * 1.3)

	seen := make(map[time.Duration]bool)
	for i := 0; i < 100; i++ {
		delay := p.NextDelay(0, 0)
		if delay < lo || delay > hi {
			t.Fatalf("jittered delay %v outside [%v, %v]", delay, lo, hi)
		}
		seen[delay] = true
	}

	if len(seen) < 2 {
		t.Error("expected jitter to vary the delay")
	}
}

func TestNextDelayPenaltyCheckpoints(t *testing.T) {
	p := deterministic()
	p.PenaltyEvery = 10
	p.PenaltyMin = 10 * time.Second
	p.PenaltyMax = 15 * time.Second
	p.LongPenaltyEvery = 50
	p.LongPenaltyMin = 20 * time.Second
	p.LongPenaltyMax = 30 * time.Second

	// Item 10: adaptive 3s plus medium penalty
	d := p.NextDelay(10, 0)
	if d < 13*time.Second || d > 18*time.Second {
		t.Errorf("expected medium penalty at item 10, got %v", d)
	}

	// Item 50: adaptive 2s*(1+5*0.5)=7s plus both penalties
	d = p.NextDelay(50, 0)
	min := 7*time.Second + 10*time.Second + 20*time.Second
	max := 7*time.Second + 15*time.Second + 30*time.Second
	if d < min || d > max {
		t.Errorf("expected stacked penalties at item 50, got %v (want [%v, %v])", d, min, max)
	}

	// No penalty off-checkpoint or before the first item
	if got, want := p.NextDelay(7, 0), 2*time.Second; got != want {
		t.Errorf("expected no penalty at item 7, got %v", got)
	}
	if got, want := p.NextDelay(0, 0), 2*time.Second; got != want {
		t.Errorf("expected no penalty at item 0, got %v", got)
	}
}

func TestFromConfig(t *testing.T) {
	p := FromConfig(config.DelayConfig{
		MinDelay:       4 * time.Second,
		MaxDelay:       40 * time.Second,
		ErrorFactor:    0.25,
		JitterFraction: 0.2,
	})

	if p.MinDelay != 4*time.Second {
		t.Errorf("expected min delay 4s, got %v", p.MinDelay)
	}
	if p.MaxDelay != 40*time.Second {
		t.Errorf("expected max delay 40s, got %v", p.MaxDelay)
	}
	if p.PenaltyEvery != 10 || p.LongPenaltyEvery != 50 {
		t.Error("expected standard penalty cadence to be preserved")
	}
}

func TestPlatformPolicies(t *testing.T) {
	ig := InstagramPolicy()
	if ig.MinDelay != 5*time.Second {
		t.Errorf("instagram min delay: got %v", ig.MinDelay)
	}

	tg := TelegramPolicy()
	if tg.MinDelay != 2*time.Second {
		t.Errorf("telegram min delay: got %v", tg.MinDelay)
	}
	if tg.MaxDelay != ig.MaxDelay {
		t.Error("platform policies share the same ceiling")
	}
}
