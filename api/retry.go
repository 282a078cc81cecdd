package api

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	minRetryDelay = 5 * time.Millisecond
	maxRetryDelay = time.Second
)

// retrier spaces out retries of an accept or receive that keeps failing.
// Delays grow exponentially from minRetryDelay up to maxRetryDelay and drop
// back after a success.
type retrier struct {
	b *backoff.ExponentialBackOff
}

func newRetrier() *retrier {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = minRetryDelay
	b.MaxInterval = maxRetryDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return &retrier{b: b}
}

func (r *retrier) reset() {
	r.b.Reset()
}

// wait sleeps for the next delay. It returns false if done closes first.
func (r *retrier) wait(done <-chan struct{}) bool {
	t := time.NewTimer(r.b.NextBackOff())
	defer t.Stop()
	select {
	case <-done:
		return false
	case <-t.C:
		return true
	}
}
