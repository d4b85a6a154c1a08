package session

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jkaninda/runbox/internal/linequeue"
)

func newTestRegistry(t *testing.T, cfg Config) *Registry {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return New(cfg, logger)
}

func TestRegistry_CreateAndCap(t *testing.T) {
	reg := newTestRegistry(t, Config{MaxSessions: 2})

	a, err := reg.Create("print(1)")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if a.ID == "" {
		t.Error("session id is empty")
	}
	if _, err := reg.Create("print(2)"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Third creation hits the cap and must not mutate the table.
	if _, err := reg.Create("print(3)"); !errors.Is(err, ErrCapacity) {
		t.Errorf("Create beyond cap = %v, want ErrCapacity", err)
	}
	if got := reg.Len(); got != 2 {
		t.Errorf("Len = %d, want 2", got)
	}

	// Ending a session frees a slot.
	reg.End(a.ID)
	if _, err := reg.Create("print(4)"); err != nil {
		t.Errorf("Create after End = %v, want nil", err)
	}
}

func TestRegistry_SubmitInput(t *testing.T) {
	reg := newTestRegistry(t, Config{InputCapacity: 2})
	s, err := reg.Create("read()")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := reg.SubmitInput("no-such-id", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("SubmitInput unknown id = %v, want ErrNotFound", err)
	}

	if err := reg.SubmitInput(s.ID, "one"); err != nil {
		t.Fatalf("SubmitInput: %v", err)
	}
	if err := reg.SubmitInput(s.ID, "two"); err != nil {
		t.Fatalf("SubmitInput: %v", err)
	}
	if err := reg.SubmitInput(s.ID, "three"); !errors.Is(err, linequeue.ErrFull) {
		t.Errorf("SubmitInput on full queue = %v, want ErrFull", err)
	}

	// FIFO order is preserved for the stdin pump.
	got, err := s.Input.Get(time.Second)
	if err != nil || got != "one" {
		t.Errorf("Get = %q, %v, want \"one\"", got, err)
	}
}

func TestRegistry_BeginStream(t *testing.T) {
	reg := newTestRegistry(t, Config{})
	s, err := reg.Create("print(1)")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := reg.BeginStream(s.ID)
	if err != nil {
		t.Fatalf("BeginStream: %v", err)
	}
	if got != s {
		t.Error("BeginStream returned a different session")
	}
	if !got.createdAt.IsZero() {
		t.Error("BeginStream did not clear the TTL timestamp")
	}

	if _, err := reg.BeginStream("no-such-id"); !errors.Is(err, ErrNotFound) {
		t.Errorf("BeginStream unknown id = %v, want ErrNotFound", err)
	}

	// A session streams at most once.
	if _, err := reg.BeginStream(s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second BeginStream = %v, want ErrNotFound", err)
	}
}

func TestRegistry_EndIdempotent(t *testing.T) {
	reg := newTestRegistry(t, Config{})
	s, err := reg.Create("print(1)")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	reg.End(s.ID)
	if got := reg.Len(); got != 0 {
		t.Fatalf("Len = %d, want 0", got)
	}
	// Repeated and unknown-id calls are no-ops.
	reg.End(s.ID)
	reg.End("no-such-id")

	// The output queue carries the sentinel after End.
	if _, err := s.Output.Get(time.Second); !errors.Is(err, linequeue.ErrClosed) {
		t.Errorf("Output.Get after End = %v, want ErrClosed", err)
	}
}

func TestRegistry_AttachProcessAfterEviction(t *testing.T) {
	reg := newTestRegistry(t, Config{})
	s, err := reg.Create("print(1)")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	reg.End(s.ID)

	// Must be a no-op, not an error, when the session is gone.
	reg.AttachProcess(s.ID, nil)
}

func TestRegistry_SweepEvictsOnlyStale(t *testing.T) {
	reg := newTestRegistry(t, Config{TTL: 50 * time.Millisecond})

	stale, err := reg.Create("never streamed")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	streaming, err := reg.Create("streamed")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := reg.BeginStream(streaming.ID); err != nil {
		t.Fatalf("BeginStream: %v", err)
	}

	// Not yet past the TTL window: nothing is evicted.
	reg.sweep()
	if got := reg.Len(); got != 2 {
		t.Fatalf("Len after early sweep = %d, want 2", got)
	}

	time.Sleep(80 * time.Millisecond)
	reg.sweep()

	if got := reg.Len(); got != 1 {
		t.Errorf("Len after sweep = %d, want 1", got)
	}
	// The stale session's queues are closed; the streaming one survives.
	if _, err := stale.Output.Get(time.Second); !errors.Is(err, linequeue.ErrClosed) {
		t.Errorf("stale Output.Get = %v, want ErrClosed", err)
	}
	if err := reg.SubmitInput(streaming.ID, "still here"); err != nil {
		t.Errorf("SubmitInput on streaming session after sweep: %v", err)
	}
}

func TestRegistry_SweeperLifecycle(t *testing.T) {
	reg := newTestRegistry(t, Config{TTL: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop, err := reg.StartSweeper(ctx)
	if err != nil {
		t.Fatalf("StartSweeper: %v", err)
	}
	stop()
}
