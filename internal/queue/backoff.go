package queue

import "time"

// Backoff computes the retry delay for a failed queue item:
// exponential in the retry count, capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns min(Base * 2^retryCount, Max).
func (b Backoff) Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	d := b.Base
	for i := 0; i < retryCount; i++ {
		d *= 2
		if d >= b.Max || d < 0 {
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}
