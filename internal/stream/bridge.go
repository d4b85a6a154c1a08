// Package stream bridges one runner invocation to a session's output queue.
// The producer side runs the script and closes the queue as the end-of-stream
// sentinel; the consumer side (the SSE handler) drains the queue and tears
// the session down on every exit path, including client disconnect.
package stream

import (
	"context"
	"log/slog"
	"time"

	"github.com/jkaninda/runbox/internal/runner"
	"github.com/jkaninda/runbox/internal/session"
)

// ScriptRunner executes one script, pushing output lines through the sink.
// Satisfied by *runner.Runner.
type ScriptRunner interface {
	Run(ctx context.Context, script string, opts runner.Opts) (int, error)
}

// Bridge launches executions for streaming sessions.
type Bridge struct {
	registry *session.Registry
	runner   ScriptRunner
	logger   *slog.Logger
}

// New creates a Bridge.
func New(reg *session.Registry, r ScriptRunner, logger *slog.Logger) *Bridge {
	return &Bridge{registry: reg, runner: r, logger: logger}
}

// Start runs the session's script in its own goroutine. Output lines land on
// the session's output queue; the queue is closed when the runner returns,
// whatever the outcome. The consumer remains responsible for calling
// registry.End — Start never removes the session itself, so a consumer that
// detaches early still owns teardown.
func (b *Bridge) Start(ctx context.Context, s *session.Session) {
	go func() {
		defer s.Output.Close()

		start := time.Now()
		exitCode, err := b.runner.Run(ctx, s.Script, runner.Opts{
			Input:  s.Input,
			Stdout: s.Output.Put,
			OnStart: func(h *runner.Handle) {
				b.registry.AttachProcess(s.ID, h)
			},
		})
		duration := time.Since(start)

		if err != nil {
			b.logger.Error("execution failed",
				slog.String("id", s.ID),
				slog.String("error", err.Error()),
			)
		}

		b.logger.Info("execution finished",
			slog.String("id", s.ID),
			slog.Int("exit_code", exitCode),
			slog.Duration("duration", duration),
		)
	}()
}
