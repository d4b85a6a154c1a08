package runner

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/jkaninda/runbox/internal/linequeue"
)

// newTestRunner builds a Runner that "interprets" scripts with /bin/sh, so
// tests exercise the real pipeline without the production interpreter.
func newTestRunner(t *testing.T, cfg Config) *Runner {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available, skipping")
	}
	if cfg.Interpreter == "" {
		cfg.Interpreter = "/bin/sh"
	}
	if cfg.TempDir == "" {
		cfg.TempDir = t.TempDir()
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	r, err := New(cfg, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

// collectSink returns a sink and a getter for the accumulated lines.
type collectSink struct {
	mu    sync.Mutex
	lines []string
}

func (c *collectSink) add(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, line)
}

func (c *collectSink) get() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

func TestRun_OutputOrder(t *testing.T) {
	r := newTestRunner(t, Config{Timeout: 5 * time.Second})
	var out collectSink

	code, err := r.Run(context.Background(), "echo one\necho two\necho three\n", Opts{Stdout: out.add})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	got := out.get()
	want := []string{"one", "two", "three"}
	if len(got) != len(want) {
		t.Fatalf("lines = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRun_ExitCode(t *testing.T) {
	r := newTestRunner(t, Config{Timeout: 5 * time.Second})
	var out collectSink

	code, err := r.Run(context.Background(), "exit 7\n", Opts{Stdout: out.add})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if code != 7 {
		t.Errorf("exit code = %d, want 7", code)
	}
}

func TestRun_TimeLimit(t *testing.T) {
	r := newTestRunner(t, Config{Timeout: 300 * time.Millisecond})
	var out collectSink

	start := time.Now()
	code, err := r.Run(context.Background(), "sleep 30\n", Opts{Stdout: out.add})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Run took %s, want prompt kill after timeout", elapsed)
	}
	if code != -1 {
		t.Errorf("exit code = %d, want -1", code)
	}
	lines := out.get()
	if len(lines) == 0 || lines[len(lines)-1] != MsgTimeLimit {
		t.Errorf("lines = %v, want trailing %q", lines, MsgTimeLimit)
	}
}

func TestRun_OutputLimit(t *testing.T) {
	r := newTestRunner(t, Config{
		Timeout:     10 * time.Second,
		OutputLimit: 512,
	})
	var out collectSink

	start := time.Now()
	_, err := r.Run(context.Background(), "while true; do echo 0123456789; done\n", Opts{Stdout: out.add})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Run took %s, want kill on quota breach well before the timeout", elapsed)
	}
	lines := out.get()
	if len(lines) == 0 {
		t.Fatal("no output lines")
	}
	if got := lines[len(lines)-1]; got != MsgOutputLimit {
		t.Errorf("last line = %q, want %q", got, MsgOutputLimit)
	}
	// Lines before the diagnostic stay within the quota.
	var total int
	for _, l := range lines[:len(lines)-1] {
		total += len(l) + 1
	}
	if total > 512+11 {
		t.Errorf("delivered %d bytes before diagnostic, want <= quota plus one line", total)
	}
}

func TestRun_StdinEcho(t *testing.T) {
	r := newTestRunner(t, Config{
		Timeout:      5 * time.Second,
		PollInterval: 50 * time.Millisecond,
	})
	var out collectSink
	input := linequeue.New(50)
	if err := input.TryPut("hello"); err != nil {
		t.Fatalf("TryPut: %v", err)
	}

	code, err := r.Run(context.Background(), "read line; echo \"$line\"\n", Opts{
		Stdout: out.add,
		Input:  input,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	lines := out.get()
	if len(lines) != 1 || lines[0] != "hello" {
		t.Errorf("lines = %v, want [hello]", lines)
	}
}

func TestRun_ContextCancel(t *testing.T) {
	r := newTestRunner(t, Config{Timeout: 30 * time.Second})
	var out collectSink

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	code, err := r.Run(ctx, "sleep 30\n", Opts{Stdout: out.add})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Run took %s, want prompt kill on cancellation", elapsed)
	}
	if code != -1 {
		t.Errorf("exit code = %d, want -1", code)
	}
	// Cancellation is consumer-driven; no diagnostic line is owed.
	for _, l := range out.get() {
		if l == MsgTimeLimit {
			t.Errorf("unexpected diagnostic line %q on cancellation", l)
		}
	}
}

func TestRun_TempFileRemoved(t *testing.T) {
	dir := t.TempDir()
	r := newTestRunner(t, Config{Timeout: 5 * time.Second, TempDir: dir})
	var out collectSink

	if _, err := r.Run(context.Background(), "echo hi\n", Opts{Stdout: out.add}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".lr" {
			t.Errorf("temp script %s not removed", e.Name())
		}
	}
}

func TestRun_MetricsOutcomes(t *testing.T) {
	r := newTestRunner(t, Config{Timeout: 300 * time.Millisecond})
	m := NewMetrics(prometheus.NewRegistry())
	r.WithMetrics(m)
	var out collectSink

	if _, err := r.Run(context.Background(), "echo hi\n", Opts{Stdout: out.add}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := r.Run(context.Background(), "exit 3\n", Opts{Stdout: out.add}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := r.Run(context.Background(), "sleep 30\n", Opts{Stdout: out.add}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for outcome, want := range map[string]float64{
		"ok":      1,
		"error":   1,
		"timeout": 1,
	} {
		if got := testutil.ToFloat64(m.ExecutionsTotal.WithLabelValues(outcome)); got != want {
			t.Errorf("executions[%s] = %v, want %v", outcome, got, want)
		}
	}
}

func TestNewMetrics_NilRegistry(t *testing.T) {
	if NewMetrics(nil) != nil {
		t.Error("NewMetrics(nil) should return nil")
	}
}

func TestRun_SpawnFailure(t *testing.T) {
	r := newTestRunner(t, Config{
		Interpreter: "/nonexistent/interpreter",
		Timeout:     5 * time.Second,
	})
	var out collectSink

	code, _ := r.Run(context.Background(), "echo hi\n", Opts{Stdout: out.add})
	if code == 0 {
		t.Errorf("exit code = %d, want nonzero", code)
	}
	lines := out.get()
	if len(lines) == 0 || lines[len(lines)-1] != MsgInternalError {
		t.Errorf("lines = %v, want trailing %q", lines, MsgInternalError)
	}
}
