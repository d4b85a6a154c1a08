package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/jkaninda/runbox/internal/linequeue"
	"github.com/jkaninda/runbox/internal/runner"
)

// ErrCapacity is returned by Create when the concurrency cap is reached.
var ErrCapacity = errors.New("session registry at capacity")

// ErrNotFound is returned for unknown or expired session ids.
var ErrNotFound = errors.New("session not found")

// Config configures the registry.
type Config struct {
	MaxSessions   int           // Concurrency cap. Default 10.
	InputCapacity int           // Input queue capacity per session. Default 50.
	TTL           time.Duration // Eviction window for never-streamed sessions. Default 60s.
}

// Registry is the process-wide session table. All read-modify-write access
// to the table goes through one mutex; none of the registry's operations
// block while holding it.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	cfg     Config
	logger  *slog.Logger
	metrics *Metrics
}

// New creates a Registry with the given limits.
func New(cfg Config, logger *slog.Logger) *Registry {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 10
	}
	if cfg.InputCapacity <= 0 {
		cfg.InputCapacity = 50
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 60 * time.Second
	}
	return &Registry{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		logger:   logger,
	}
}

// WithMetrics attaches Prometheus collectors. Must be called before use.
func (r *Registry) WithMetrics(m *Metrics) *Registry {
	r.metrics = m
	return r
}

// Create allocates a session for the script and inserts it under a fresh id.
// Returns ErrCapacity when the live session count is at the cap; the table
// is left untouched in that case.
func (r *Registry) Create(script string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.sessions) >= r.cfg.MaxSessions {
		if r.metrics != nil {
			r.metrics.Rejected.Inc()
		}
		return nil, ErrCapacity
	}

	s := &Session{
		ID:        uuid.New().String(),
		Script:    script,
		Input:     linequeue.New(r.cfg.InputCapacity),
		Output:    linequeue.New(0),
		createdAt: time.Now(),
	}
	r.sessions[s.ID] = s

	if r.metrics != nil {
		r.metrics.Created.Inc()
		r.metrics.Active.Set(float64(len(r.sessions)))
	}
	r.logger.Info("session created", slog.String("id", s.ID))
	return s, nil
}

// Get looks up a live session by id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// SubmitInput enqueues one stdin line for the session without blocking.
// Returns ErrNotFound for unknown ids and linequeue.ErrFull when the input
// queue is saturated.
func (r *Registry) SubmitInput(id, text string) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	return s.Input.TryPut(text)
}

// BeginStream looks up the session and marks it active, clearing the TTL
// timestamp under the same lock as the lookup so the sweep cannot race the
// transition. A session streams exactly once: a second call for the same id
// returns ErrNotFound rather than handing out a second interpreter.
func (r *Registry) BeginStream(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.streaming {
		return nil, ErrNotFound
	}
	s.streaming = true
	s.createdAt = time.Time{}
	return s, nil
}

// AttachProcess stores the kill-only handle on the session. A no-op when the
// session was already evicted; the runner owns the process either way.
func (r *Registry) AttachProcess(id string, h *runner.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.process = h
	}
}

// End removes the session, killing its process first if one is attached.
// Idempotent: unknown ids and repeated calls are no-ops.
func (r *Registry) End(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	n := len(r.sessions)
	r.mu.Unlock()
	if !ok {
		return
	}

	s.process.Kill()
	s.Output.Close()
	s.Input.Close()

	if r.metrics != nil {
		r.metrics.Active.Set(float64(n))
	}
	r.logger.Info("session ended", slog.String("id", id))
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// StartSweeper schedules the TTL sweep on a cron runner and returns a stop
// function. The sweep evicts sessions whose stream never began within the
// TTL window; streaming sessions are exempt (their timestamp was cleared in
// BeginStream).
func (r *Registry) StartSweeper(ctx context.Context) (func(), error) {
	c := cron.New()
	spec := fmt.Sprintf("@every %s", r.cfg.TTL)
	if _, err := c.AddFunc(spec, r.sweep); err != nil {
		return nil, fmt.Errorf("scheduling ttl sweep: %w", err)
	}
	c.Start()

	r.logger.Debug("ttl sweeper started", slog.Duration("interval", r.cfg.TTL))

	stop := func() { <-c.Stop().Done() }
	go func() {
		<-ctx.Done()
		c.Stop()
	}()
	return stop, nil
}

// sweep removes every never-streamed session older than the TTL.
func (r *Registry) sweep() {
	now := time.Now()

	r.mu.Lock()
	var stale []*Session
	for id, s := range r.sessions {
		if !s.createdAt.IsZero() && now.Sub(s.createdAt) > r.cfg.TTL {
			stale = append(stale, s)
			delete(r.sessions, id)
		}
	}
	n := len(r.sessions)
	r.mu.Unlock()

	for _, s := range stale {
		s.Output.Close()
		s.Input.Close()
		if r.metrics != nil {
			r.metrics.Swept.Inc()
		}
		r.logger.Info("session evicted by ttl sweep", slog.String("id", s.ID))
	}
	if len(stale) > 0 && r.metrics != nil {
		r.metrics.Active.Set(float64(n))
	}
}
