package supervisor

import (
	"context"
	"fmt"
	"time"
)

// Waiter polls a condition until it holds or a timeout passes
type Waiter struct {
	timeout  time.Duration
	interval time.Duration
}

// NewWaiter creates a new Waiter with the given timeout and polling interval
func NewWaiter(timeout, interval time.Duration) *Waiter {
	return &Waiter{
		timeout:  timeout,
		interval: interval,
	}
}

// WaitFor waits for condition to return true. The condition receives the bounded context.
func (w *Waiter) WaitFor(ctx context.Context, condition func(context.Context) bool, description string) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	if condition(ctx) {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for %s (timeout: %v)", description, w.timeout)
		case <-ticker.C:
			if condition(ctx) {
				return nil
			}
		}
	}
}
