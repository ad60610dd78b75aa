package orchestrator

import "context"

// limiter is a small channel-based counting semaphore bounding how many
// delegations one coordinator may have in flight at once. N=1 serialises
// delegation; N>1 allows up to N concurrently, with the rest blocking in
// Acquire until a slot is released.
type limiter struct {
	slots chan struct{}
}

func newLimiter(n int) *limiter {
	if n < 1 {
		n = 1
	}
	return &limiter{slots: make(chan struct{}, n)}
}

// Acquire blocks until a slot is free or ctx is done.
func (l *limiter) Acquire(ctx context.Context) error {
	select {
	case l.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees one slot. Safe to call even if nothing was ever acquired.
func (l *limiter) Release() {
	select {
	case <-l.slots:
	default:
	}
}
