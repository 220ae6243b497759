// Package backoff computes the pacing delay between remote platform
// requests. The policy is a pure function of the number of items
// processed and the recent error count, so runs slow down as a session
// ages and after failures without any hidden state.
package backoff

import (
	"math/rand"
	"time"

	"postvault/pkg/config"
)

// Policy computes the delay to sleep before the next remote request.
//
// The adaptive portion starts at MinDelay, grows by StepFraction of
// MinDelay for every StepEvery items processed, and grows linearly
// with the recent error count. It is clamped to MaxDelay and jittered
// by a symmetric random fraction. Penalty pauses on top imitate a
// human stepping away: a medium pause every PenaltyEvery items and a
// long pause every LongPenaltyEvery items, both sampled uniformly
// from their range.
type Policy struct {
	// MinDelay is the base delay between consecutive requests
	MinDelay time.Duration
	// MaxDelay caps the adaptive portion of the delay
	MaxDelay time.Duration
	// StepEvery is the item interval at which the base delay grows
	StepEvery int
	// StepFraction is the growth per step, as a fraction of MinDelay
	StepFraction float64
	// ErrorFactor is the delay growth per recent error, as a fraction
	// of MinDelay
	ErrorFactor float64
	// JitterFraction is the symmetric random jitter (0.0 to 0.5)
	JitterFraction float64

	// PenaltyEvery injects a medium pause at this item interval
	PenaltyEvery int
	PenaltyMin   time.Duration
	PenaltyMax   time.Duration

	// LongPenaltyEvery injects a long pause at this item interval
	LongPenaltyEvery int
	LongPenaltyMin   time.Duration
	LongPenaltyMax   time.Duration
}

// InstagramPolicy returns the pacing policy for Instagram extraction
func InstagramPolicy() Policy {
	return Policy{
		MinDelay:         5 * time.Second,
		MaxDelay:         30 * time.Second,
		StepEvery:        10,
		StepFraction:     0.5,
		ErrorFactor:      0.5,
		JitterFraction:   0.3,
		PenaltyEvery:     10,
		PenaltyMin:       10 * time.Second,
		PenaltyMax:       15 * time.Second,
		LongPenaltyEvery: 50,
		LongPenaltyMin:   20 * time.Second,
		LongPenaltyMax:   30 * time.Second,
	}
}

// TelegramPolicy returns the pacing policy for Telegram extraction
func TelegramPolicy() Policy {
	p := InstagramPolicy()
	p.MinDelay = 2 * time.Second
	p.StepFraction = 0.25
	p.JitterFraction = 0.25
	return p
}

// FromConfig builds a policy from a configured delay section, keeping
// the standard step and penalty cadence
func FromConfig(dc config.DelayConfig) Policy {
	p := InstagramPolicy()
	p.MinDelay = dc.MinDelay
	p.MaxDelay = dc.MaxDelay
	p.ErrorFactor = dc.ErrorFactor
	p.JitterFraction = dc.JitterFraction
	return p
}

// NextDelay returns the delay to sleep before the next request given
// how many items this session has processed and how many errors were
// observed in the trailing window. The adaptive portion never exceeds
// MaxDelay; penalty pauses stack on top at their checkpoints.
func (p Policy) NextDelay(itemsProcessed, recentErrorCount int) time.Duration {
	if itemsProcessed < 0 {
		itemsProcessed = 0
	}
	if recentErrorCount < 0 {
		recentErrorCount = 0
	}

	stepEvery := p.StepEvery
	if stepEvery <= 0 {
		stepEvery = 10
	}

	steps := float64(itemsProcessed / stepEvery)
	multiplier := 1 + steps*p.StepFraction + float64(recentErrorCount)*p.ErrorFactor
	delay := float64(p.MinDelay) * multiplier

	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	if p.JitterFraction > 0 {
		jitter := delay * p.JitterFraction
		delay += (rand.Float64()*2 - 1) * jitter
		if delay > float64(p.MaxDelay) {
			delay = float64(p.MaxDelay)
		}
		if delay < 0 {
			delay = 0
		}
	}

	return time.Duration(delay) + p.penalty(itemsProcessed)
}

// penalty returns the pause owed at coarse item checkpoints. At an
// item count divisible by both intervals the pauses stack.
func (p Policy) penalty(itemsProcessed int) time.Duration {
	if itemsProcessed <= 0 {
		return 0
	}

	var total time.Duration
	if p.PenaltyEvery > 0 && itemsProcessed%p.PenaltyEvery == 0 {
		total += uniform(p.PenaltyMin, p.PenaltyMax)
	}
	if p.LongPenaltyEvery > 0 && itemsProcessed%p.LongPenaltyEvery == 0 {
		total += uniform(p.LongPenaltyMin, p.LongPenaltyMax)
	}
	return total
}

func uniform(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}
