package hub

import "time"

// Policy is the reconnection schedule: attempt n waits min(BaseDelay*2^n, MaxDelay),
// and no attempt is scheduled once MaxElapsed has passed since the connection dropped.
type Policy struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxElapsed time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		MaxElapsed: 60 * time.Second,
	}
}

// NextDelay returns the wait before the given zero-based attempt, or false when
// reconnection should stop.
func (p Policy) NextDelay(attempt int, elapsed time.Duration) (time.Duration, bool) {
	if elapsed >= p.MaxElapsed {
		return 0, false
	}

	delay := p.BaseDelay
	for i := 0; i < attempt && delay < p.MaxDelay; i++ {
		delay *= 2
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay, true
}
