// Package runtime defines the narrow contract the ExecutionQueue uses to
// invoke the external Script Runtime (spec §1, §6: the script language,
// its parser and the OS-level input backends are explicitly out of
// scope — this is the seam between our core and that collaborator).
package runtime

import "context"

// Runtime executes a script body. It must observe stop: when the
// channel is closed, the runtime is expected to return promptly (spec
// §4.3, §5 cooperative cancellation). Run does not return until the
// script finishes, fails, or stop fires and the runtime honors it.
type Runtime interface {
	Run(ctx context.Context, body string, stop <-chan struct{}) error
}
