package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"nu-mcp/internal/domain"
)

// ExecutorConfig holds configuration for the Executor.
type ExecutorConfig struct {
	Path           string            // interpreter binary (default: "nu")
	Dialect        Dialect           // command wrapping (default: NushellDialect)
	Env            map[string]string // extra environment for every child, below request env
	DefaultTimeout time.Duration     // blocking timeout when the request has none (default: 60s)
	StdoutMax      int               // blocking stdout cap in bytes (default: 200,000)
	StderrMax      int               // blocking stderr cap in bytes (default: 50,000)
	MonitorTimeout time.Duration     // background supervision ceiling (default: 300s)
	DrainFlush     time.Duration     // wait for drains after exit (default: 1s)
}

// Executor runs pipelines through the interpreter, either blocking with a
// timeout or as background jobs tracked by a Registry.
type Executor struct {
	config   ExecutorConfig
	session  *Session
	registry *Registry
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewExecutor creates an Executor. The session and registry are shared with
// the caller.
func NewExecutor(cfg ExecutorConfig, session *Session, registry *Registry, logger *slog.Logger) *Executor {
	if cfg.Path == "" {
		cfg.Path = "nu"
	}
	if cfg.Dialect == nil {
		cfg.Dialect = NushellDialect{}
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 60 * time.Second
	}
	if cfg.StdoutMax <= 0 {
		cfg.StdoutMax = 200_000
	}
	if cfg.StderrMax <= 0 {
		cfg.StderrMax = 50_000
	}
	if cfg.MonitorTimeout <= 0 {
		cfg.MonitorTimeout = 300 * time.Second
	}
	if cfg.DrainFlush <= 0 {
		cfg.DrainFlush = time.Second
	}
	return &Executor{
		config:   cfg,
		session:  session,
		registry: registry,
		logger:   logger,
	}
}

// Session returns the shared session state.
func (e *Executor) Session() *Session { return e.session }

// Registry returns the background job registry.
func (e *Executor) Registry() *Registry { return e.registry }

// ResolveTimeout converts an optional timeout in seconds, falling back to
// the configured default for nil or non-positive values.
func (e *Executor) ResolveTimeout(seconds *int) time.Duration {
	if seconds == nil || *seconds <= 0 {
		return e.config.DefaultTimeout
	}
	return time.Duration(*seconds) * time.Second
}

// ExecuteBlocking runs req.Command to completion or until its timeout.
//
// A timed-out (or cancelled) call kills the process group and reports exit
// code -1 with TimedOut set; it is not an error. The session directory is
// updated only when the wrapped command reached its directory disclosure.
func (e *Executor) ExecuteBlocking(ctx context.Context, req domain.ExecRequest) (*domain.ExecResult, error) {
	start := time.Now()
	if req.Cwd != "" {
		e.session.SetCwd(req.Cwd)
	}
	cwd := e.session.Cwd()
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.config.DefaultTimeout
	}

	e.logger.Debug("executing blocking", "cwd", cwd, "command", req.Command, "timeout", timeout)

	proc, err := spawn(e.config.Path, e.config.Dialect.Wrap(cwd, req.Command), buildEnvironment(req.Env, e.config.Env))
	if err != nil {
		return nil, err
	}
	defer proc.closeStreams()

	stdout := newLineBuffer(e.config.StdoutMax)
	stderr := newLineBuffer(e.config.StderrMax)
	drainCtx, cancelDrains := context.WithCancel(context.Background())
	defer cancelDrains()
	outDone := drain(drainCtx, "stdout", proc.stdout, stdout, e.logger)
	errDone := drain(drainCtx, "stderr", proc.stderr, stderr, e.logger)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	exitCode := -1
	timedOut := false
	select {
	case <-proc.Done():
		exitCode = proc.ExitCode()
	case <-timer.C:
		timedOut = true
	case <-ctx.Done():
		timedOut = true
		e.logger.Info("command cancelled", "pid", proc.Pid())
	}

	if timedOut {
		cancelDrains()
		if err := proc.terminate(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			e.logger.Warn("kill after timeout failed", "pid", proc.Pid(), "error", err)
		}
		proc.closeStreams()
	}
	// Closing after the flush also ends drains held open by grandchildren.
	e.awaitDrains(outDone, errDone)
	proc.closeStreams()

	out := stdout.String()
	errOut := stderr.String()
	newCwd := cwd
	if !timedOut {
		clean, dir, ok := ExtractCwd(out)
		out = clean
		if ok {
			newCwd = dir
			e.session.SetCwd(dir)
		}
	}

	elapsed := time.Since(start)
	result := &domain.ExecResult{
		ExitCode:  exitCode,
		Stdout:    out,
		Stderr:    errOut,
		Output:    domain.CombineOutput(out, errOut),
		ElapsedMs: elapsed.Milliseconds(),
		Success:   !timedOut && exitCode == 0,
		TimedOut:  timedOut,
		Cwd:       newCwd,
	}

	if timedOut {
		e.logger.Info("command timed out", "elapsed_ms", result.ElapsedMs, "cwd", newCwd)
	} else {
		e.logger.Info("command completed", "exit_code", exitCode, "elapsed_ms", result.ElapsedMs, "cwd", newCwd)
	}
	return result, nil
}

// ExecuteBackground starts req.Command as a background job and returns as
// soon as it is registered. Background jobs never change the session
// directory.
func (e *Executor) ExecuteBackground(ctx context.Context, req domain.ExecRequest) (*domain.BackgroundResult, error) {
	if req.Cwd != "" {
		e.session.SetCwd(req.Cwd)
	}
	cwd := e.session.Cwd()

	proc, err := spawn(e.config.Path, e.config.Dialect.WrapDetached(cwd, req.Command), buildEnvironment(req.Env, e.config.Env))
	if err != nil {
		return nil, err
	}

	id := e.newID()
	e.registry.Register(id, proc, req.Command)

	e.wg.Add(1)
	go e.supervise(id)

	e.logger.Info("job started", "job_id", id, "pid", proc.Pid(), "cwd", cwd)
	return &domain.BackgroundResult{
		ID:      id,
		Status:  "started",
		Message: fmt.Sprintf("Background process started. ID: %s. Use nu.output to see output.", id),
	}, nil
}

// Shutdown kills every background job and waits for the supervisors to
// record their final state, or for ctx to be done.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.registry.Stop(ctx)

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// --- internal ---

// supervise owns a background job's process from registration until exit.
func (e *Executor) supervise(id string) {
	defer e.wg.Done()

	j, ok := e.registry.Get(id)
	if !ok {
		e.logger.Warn("job removed before supervision", "job_id", id)
		return
	}
	proc := j.takeProc()
	if proc == nil {
		e.logger.Debug("job handle already taken", "job_id", id)
		return
	}

	// Background drains are never cancelled; they end at EOF or close.
	ctx := context.Background()
	outDone := drain(ctx, "stdout", proc.stdout, j.stdout, e.logger)
	errDone := drain(ctx, "stderr", proc.stderr, j.stderr, e.logger)

	ceiling := time.NewTimer(e.config.MonitorTimeout)
	defer ceiling.Stop()

	code := -1
	select {
	case <-proc.Done():
		code = proc.ExitCode()
		if j.markExited() {
			killLeftovers(j, e.logger)
		}
	case <-j.abort:
		err := proc.terminate()
		switch {
		case err == nil:
			e.logger.Info("job killed by request", "job_id", id)
		case errors.Is(err, os.ErrProcessDone):
			<-proc.Done()
			code = proc.ExitCode()
			j.markExited()
			killLeftovers(j, e.logger)
		default:
			e.logger.Warn("job kill failed", "job_id", id, "error", err)
		}
	case <-ceiling.C:
		// Not killed here; the handle goes back to the record so a later
		// kill or the reaper can still terminate it.
		e.logger.Warn("job exceeded monitoring ceiling", "job_id", id, "ceiling", e.config.MonitorTimeout)
		j.finish(domain.JobStatusFailed, -1)
		j.restoreProc(proc)
		return
	}

	e.awaitDrains(outDone, errDone)
	proc.closeStreams()

	status := statusForExit(code)
	if j.finish(status, code) {
		e.logger.Info("job finished", "job_id", id, "status", status, "exit_code", code)
	}
}

// awaitDrains waits up to DrainFlush for each drain to reach EOF.
func (e *Executor) awaitDrains(chans ...<-chan struct{}) {
	for _, ch := range chans {
		t := time.NewTimer(e.config.DrainFlush)
		select {
		case <-ch:
		case <-t.C:
		}
		t.Stop()
	}
}

func (e *Executor) newID() string {
	return "job_" + ulid.Make().String()
}
