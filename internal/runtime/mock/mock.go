// Package mock provides a programmable fake of runtime.Runtime for tests,
// grounded on the MockTaskExecutor pattern used to test dagu's worker pool
// (internal/worker/worker_test.go): a configurable Func plus a call log,
// safe for concurrent use by the ExecutionQueue's single worker and the
// test goroutine observing it.
package mock

import (
	"context"
	"sync"

	"github.com/dagucloud/scriptd/internal/runtime"
)

// Runtime is a test double for runtime.Runtime.
type Runtime struct {
	// Func, when set, is invoked for every Run call. The default
	// behavior (Func == nil) returns nil immediately.
	Func func(ctx context.Context, body string, stop <-chan struct{}) error

	mu    sync.Mutex
	calls []string
}

var _ runtime.Runtime = (*Runtime)(nil)

// Run implements runtime.Runtime.
func (r *Runtime) Run(ctx context.Context, body string, stop <-chan struct{}) error {
	r.mu.Lock()
	r.calls = append(r.calls, body)
	r.mu.Unlock()

	if r.Func != nil {
		return r.Func(ctx, body, stop)
	}
	return nil
}

// Calls returns the bodies passed to Run, in order.
func (r *Runtime) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

// CallCount returns the number of times Run has been invoked.
func (r *Runtime) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}
