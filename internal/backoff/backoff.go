// Package backoff maps consecutive connection failures to wait durations.
package backoff

import "time"

// Policy computes reconnect delays: exponential growth from Base, clamped at
// Max. Pure and deterministic; NextDelay is monotonically non-decreasing in
// the failure count.
type Policy struct {
	Base time.Duration
	Max  time.Duration
}

func Default() Policy {
	return Policy{Base: 250 * time.Millisecond, Max: 8 * time.Second}
}

// NextDelay returns the wait before retry attempt failures+1. A negative
// count is treated as zero.
func (p Policy) NextDelay(failures int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	max := p.Max
	if max < base {
		max = base
	}
	if failures < 0 {
		failures = 0
	}
	delay := base
	for i := 0; i < failures; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
