package health

import (
	"context"
	"runtime"

	"github.com/go-faster/errors"
)

// Pinger is anything that can report its own connectivity, such as a
// database pool or a Redis client wrapper.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck wraps a Pinger.
func PingCheck(p Pinger) CheckFunc {
	return p.Ping
}

// GoroutineCountCheck fails when more than threshold goroutines are running,
// which usually means a leak.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}

// BacklogCheck fails when pending() exceeds limit. It watches in-process
// queues such as deferred enrichment jobs.
func BacklogCheck(name string, pending func() int, limit int) CheckFunc {
	return func(context.Context) error {
		if n := pending(); n > limit {
			return errors.Errorf("%s backlog %d exceeds %d", name, n, limit)
		}
		return nil
	}
}
