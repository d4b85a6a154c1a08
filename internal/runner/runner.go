// Package runner executes one script under the external interpreter as an
// isolated OS process, streaming its stdout line by line while enforcing
// wall-clock, memory, and output-size limits.
//
// Guarantees per invocation:
//   - Exactly one temp script file, removed on every exit path
//   - Process runs in its own process group (Setpgid); the whole group is
//     killed on timeout, output overflow, or cancellation
//   - Resource limits enforced via ulimit before the interpreter starts
//   - Both reader pumps drain their pipes before Run returns
package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jkaninda/runbox/internal/linequeue"
)

const (
	// MsgTimeLimit is appended to the output stream when the wall clock expires.
	MsgTimeLimit = "Time limit exceeded."
	// MsgOutputLimit is appended when cumulative stdout bytes exceed the quota.
	MsgOutputLimit = "Output size limit exceeded."
	// MsgInternalError is appended when the interpreter could not be started.
	MsgInternalError = "Internal execution error."

	defaultTimeout      = 10 * time.Second
	defaultMemoryMB     = 2048
	defaultOutputLimit  = 256 << 10 // 256 KiB
	defaultPollInterval = time.Second

	// maxLineBytes bounds a single scanned line so one giant line cannot
	// defeat the output quota check.
	maxLineBytes = 1 << 20
)

// Config configures a Runner. Zero values fall back to defaults.
type Config struct {
	Interpreter  string        // Interpreter binary; invoked as "interpreter <script>".
	Timeout      time.Duration // Wall-clock limit per execution.
	MemoryMB     int           // Virtual memory limit (ulimit -v).
	OutputLimit  int64         // Cumulative stdout byte quota.
	PollInterval time.Duration // Stdin pump poll interval.
	TempDir      string        // Directory for per-run script files.
}

// Runner executes scripts. Safe for concurrent use; each Run owns its own
// process, pipes, and temp file exclusively.
type Runner struct {
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics
}

// WithMetrics attaches Prometheus collectors. Must be called before use.
func (r *Runner) WithMetrics(m *Metrics) *Runner {
	r.metrics = m
	return r
}

// Handle is a kill-only reference to a running process, used by the session
// registry to cancel an execution it does not own.
type Handle struct {
	pid    int
	exited *atomic.Bool
}

// Kill terminates the process group. Safe to call after exit.
func (h *Handle) Kill() {
	if h == nil || h.exited.Load() {
		return
	}
	// Negative PID kills the whole group, including interpreter children.
	_ = syscall.Kill(-h.pid, syscall.SIGKILL)
}

// Opts carries the per-execution collaborators.
type Opts struct {
	// Input is an optional queue of stdin lines. Nil disables the stdin pump.
	Input *linequeue.Queue
	// Stdout receives each output line, including the final diagnostic line
	// on early termination. Required.
	Stdout func(line string)
	// OnStart, if set, is called exactly once after the process starts,
	// with a handle usable only for cancellation.
	OnStart func(*Handle)
}

// New creates a Runner, applying defaults and ensuring the temp directory
// exists.
func New(cfg Config, logger *slog.Logger) (*Runner, error) {
	if cfg.Interpreter == "" {
		return nil, errors.New("runner: interpreter path is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MemoryMB <= 0 {
		cfg.MemoryMB = defaultMemoryMB
	}
	if cfg.OutputLimit <= 0 {
		cfg.OutputLimit = defaultOutputLimit
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if err := os.MkdirAll(cfg.TempDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating temp dir %s: %w", cfg.TempDir, err)
	}
	return &Runner{cfg: cfg, logger: logger}, nil
}

// Run writes script to a temp file and executes it under the interpreter.
// It returns the process exit code, or -1 when the process was killed or
// never started. Failures are reported through the Stdout sink; the returned
// error is for logging only.
func (r *Runner) Run(ctx context.Context, script string, opts Opts) (int, error) {
	start := time.Now()
	outcome := "error"
	var outputBytes atomic.Int64
	defer func() {
		if r.metrics == nil {
			return
		}
		r.metrics.ExecutionsTotal.WithLabelValues(outcome).Inc()
		r.metrics.Duration.Observe(time.Since(start).Seconds())
		r.metrics.OutputBytes.Observe(float64(outputBytes.Load()))
	}()

	// The shell wrapper would mask a missing interpreter as exit 127, so
	// resolve it here to report spawn failures as such.
	if _, err := exec.LookPath(r.cfg.Interpreter); err != nil {
		opts.Stdout(MsgInternalError)
		return -1, fmt.Errorf("resolving interpreter: %w", err)
	}

	scriptPath, err := r.writeScript(script)
	if err != nil {
		opts.Stdout(MsgInternalError)
		return -1, fmt.Errorf("writing script file: %w", err)
	}
	defer os.Remove(scriptPath)

	cmd := r.buildCommand(scriptPath)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		opts.Stdout(MsgInternalError)
		return -1, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		opts.Stdout(MsgInternalError)
		return -1, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		opts.Stdout(MsgInternalError)
		return -1, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		opts.Stdout(MsgInternalError)
		return -1, fmt.Errorf("starting interpreter: %w", err)
	}

	var exited atomic.Bool
	handle := &Handle{pid: cmd.Process.Pid, exited: &exited}
	if opts.OnStart != nil {
		opts.OnStart(handle)
	}

	r.logger.Debug("interpreter started",
		slog.Int("pid", cmd.Process.Pid),
		slog.String("script", scriptPath),
	)

	var overflow atomic.Bool

	var pumps sync.WaitGroup
	pumps.Add(2)
	go func() {
		defer pumps.Done()
		r.pumpStdout(stdout, opts.Stdout, &overflow, &outputBytes, handle)
	}()
	go func() {
		defer pumps.Done()
		r.pumpStderr(stderr)
	}()

	var writer sync.WaitGroup
	if opts.Input != nil {
		writer.Add(1)
		go func() {
			defer writer.Done()
			r.pumpStdin(stdin, opts.Input, &exited)
		}()
	}

	// Readers drain their pipes to EOF before Wait reaps the process, so no
	// buffered output is lost.
	done := make(chan error, 1)
	go func() {
		pumps.Wait()
		done <- cmd.Wait()
	}()

	timer := time.NewTimer(r.cfg.Timeout)
	defer timer.Stop()

	exitCode := 0
	timedOut := false
	var waitErr error
	select {
	case waitErr = <-done:
	case <-timer.C:
		handle.Kill()
		waitErr = <-done
		if !overflow.Load() {
			opts.Stdout(MsgTimeLimit)
		}
		timedOut = true
		exitCode = -1
	case <-ctx.Done():
		handle.Kill()
		waitErr = <-done
		exitCode = -1
	}
	exited.Store(true)
	stdin.Close()
	writer.Wait()

	if exitCode == 0 && waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	switch {
	case overflow.Load():
		outcome = "output_limit"
	case timedOut:
		outcome = "timeout"
	case exitCode == 0:
		outcome = "ok"
	}

	r.logger.Debug("interpreter finished",
		slog.Int("pid", cmd.Process.Pid),
		slog.Int("exit_code", exitCode),
	)
	return exitCode, nil
}

// writeScript materializes the script text in a fresh unique temp file.
func (r *Runner) writeScript(script string) (string, error) {
	f, err := os.CreateTemp(r.cfg.TempDir, "runbox-*.lr")
	if err != nil {
		return "", err
	}
	if _, err := f.WriteString(script); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// buildCommand wraps the interpreter invocation so that ulimit applies the
// address-space and CPU-time limits before the interpreter starts:
//
//	sh -c 'ulimit -v KB 2>/dev/null; ulimit -t SEC 2>/dev/null; exec "$@"' _ interpreter script
//
// exec "$@" with positional parameters keeps the script path out of the
// shell string. The wall-clock timer in Run is the load-bearing limit on
// platforms where ulimit is a no-op.
func (r *Runner) buildCommand(scriptPath string) *exec.Cmd {
	memKB := r.cfg.MemoryMB * 1024
	cpuSec := int(r.cfg.Timeout / time.Second)
	if cpuSec < 1 {
		cpuSec = 1
	}
	shellScript := fmt.Sprintf(
		"ulimit -v %d 2>/dev/null; ulimit -t %d 2>/dev/null; exec \"$@\"",
		memKB, cpuSec,
	)

	cmd := exec.Command("/bin/sh", "-c", shellScript, "_", r.cfg.Interpreter, scriptPath)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + r.cfg.TempDir,
		"TMPDIR=" + r.cfg.TempDir,
		"LANG=en_US.UTF-8",
		"TERM=dumb",
	}
	return cmd
}

// pumpStdout reads interpreter output line by line, accounting bytes against
// the quota. On overflow it emits one diagnostic line, kills the process
// group, and stops; this is the only place the runner kills a still-timely
// process.
func (r *Runner) pumpStdout(pipe io.Reader, sink func(string), overflow *atomic.Bool, total *atomic.Int64, h *Handle) {
	sc := bufio.NewScanner(pipe)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := sc.Text()
		if total.Add(int64(len(line))+1) > r.cfg.OutputLimit {
			overflow.Store(true)
			sink(MsgOutputLimit)
			h.Kill()
			return
		}
		sink(line)
	}
	if err := sc.Err(); err != nil {
		r.logger.Debug("stdout pump ended", slog.String("error", err.Error()))
	}
}

// pumpStderr forwards interpreter diagnostics to the log only. Stderr is
// never mixed into the client stream and never counts against the quota.
func (r *Runner) pumpStderr(pipe io.Reader) {
	sc := bufio.NewScanner(pipe)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		r.logger.Debug("interpreter stderr", slog.String("line", sc.Text()))
	}
}

// pumpStdin feeds queued input lines to the process, polling so it can
// notice process exit. A broken pipe ends the pump silently.
func (r *Runner) pumpStdin(stdin io.WriteCloser, input *linequeue.Queue, exited *atomic.Bool) {
	defer stdin.Close()
	for !exited.Load() {
		line, err := input.Get(r.cfg.PollInterval)
		if errors.Is(err, linequeue.ErrTimeout) {
			continue
		}
		if err != nil {
			return
		}
		if _, err := io.WriteString(stdin, line+"\n"); err != nil {
			r.logger.Debug("stdin pump ended", slog.String("error", err.Error()))
			return
		}
	}
}
