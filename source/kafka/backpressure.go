package kafka

import "context"

// limiter bounds the number of frames emitted but not yet acked.
type limiter struct {
	slots chan struct{}
}

func newLimiter(capacity int64) *limiter {
	if capacity <= 0 {
		capacity = 1
	}
	return &limiter{slots: make(chan struct{}, capacity)}
}

func (l *limiter) Acquire(ctx context.Context) error {
	select {
	case l.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees n slots; releasing more than were acquired is a no-op.
func (l *limiter) Release(n int) {
	for i := 0; i < n; i++ {
		select {
		case <-l.slots:
		default:
			return
		}
	}
}

func (l *limiter) InFlight() int { return len(l.slots) }
