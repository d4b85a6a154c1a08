// Package session holds the process-wide table of script executions.
// Each session binds one client-submitted script to its input/output queues
// and, once streaming begins, to the running interpreter process.
package session

import (
	"time"

	"github.com/jkaninda/runbox/internal/linequeue"
	"github.com/jkaninda/runbox/internal/runner"
)

// Session is one client-visible execution request.
//
// Lifecycle: created (createdAt set, no process) -> streaming (createdAt
// cleared, process attached once started) -> removed. A session never
// started is evicted by the TTL sweep instead.
type Session struct {
	ID     string
	Script string

	// Input carries client-submitted stdin lines to the stdin pump.
	Input *linequeue.Queue
	// Output carries interpreter stdout lines to the SSE consumer;
	// closing it is the end-of-stream sentinel.
	Output *linequeue.Queue

	// process is a kill-only handle, set once the interpreter starts.
	// Guarded by the registry lock.
	process *runner.Handle

	// createdAt drives TTL eviction. The zero value marks a session whose
	// stream has begun; the sweep never touches those. Guarded by the
	// registry lock.
	createdAt time.Time

	// streaming is set on the first BeginStream so a second stream request
	// cannot start a second interpreter for the same session. Guarded by
	// the registry lock.
	streaming bool
}
