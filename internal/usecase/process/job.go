package process

import (
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"nu-mcp/internal/domain"
)

// job is the record of one background invocation.
//
// proc is a take-once slot: the supervisor or a kill caller moves the handle
// out and later takers see nil. status and exitCode are written together
// exactly once, under mu, so no reader observes an exit code while the job
// still reports running. exited is set as soon as the leader process is
// gone, which can be well before finish while drains flush.
type job struct {
	id        string
	command   string
	pid       int
	startedAt time.Time
	stdout    *lineBuffer
	stderr    *lineBuffer

	mu         sync.Mutex
	proc       *child
	status     domain.JobStatus
	exitCode   *int
	finishedAt time.Time
	exited     bool

	abort     chan struct{}
	abortOnce sync.Once
}

func newJob(id, command string, proc *child, outputMax int) *job {
	pid := 0
	if proc != nil {
		pid = proc.Pid()
	}
	return &job{
		id:        id,
		command:   command,
		pid:       pid,
		startedAt: time.Now(),
		stdout:    newLineBuffer(outputMax),
		stderr:    newLineBuffer(outputMax),
		proc:      proc,
		status:    domain.JobStatusRunning,
		abort:     make(chan struct{}),
	}
}

// takeProc moves the process handle out of the record.
func (j *job) takeProc() *child {
	j.mu.Lock()
	defer j.mu.Unlock()
	p := j.proc
	j.proc = nil
	return p
}

// restoreProc hands a still-live process back to the record.
func (j *job) restoreProc(p *child) {
	j.mu.Lock()
	j.proc = p
	j.mu.Unlock()
}

// finish records the terminal state. It reports false if the job had
// already finished.
func (j *job) finish(status domain.JobStatus, code int) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != domain.JobStatusRunning {
		return false
	}
	j.status = status
	j.exitCode = &code
	j.finishedAt = time.Now()
	return true
}

// requestAbort asks the supervisor holding the handle to kill the process.
// It reports false if the job is no longer running or its leader process
// has already exited.
func (j *job) requestAbort() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != domain.JobStatusRunning || j.exited {
		return false
	}
	j.abortOnce.Do(func() { close(j.abort) })
	return true
}

// markExited records that the leader process is gone. It reports whether an
// abort had already been requested, in which case the caller still owes the
// process group a kill.
func (j *job) markExited() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.exited = true
	select {
	case <-j.abort:
		return true
	default:
		return false
	}
}

// leaderExited reports whether the leader process has exited.
func (j *job) leaderExited() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.exited
}

func (j *job) state() (domain.JobStatus, *int, time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var code *int
	if j.exitCode != nil {
		c := *j.exitCode
		code = &c
	}
	return j.status, code, j.finishedAt
}

// snapshot reads each field under its own lock; the result is a best-effort
// view, consistent per field.
func (j *job) snapshot(now time.Time) *domain.JobSnapshot {
	status, code, _ := j.state()
	return &domain.JobSnapshot{
		ID:             j.id,
		Command:        j.command,
		Status:         status,
		Stdout:         j.stdout.String(),
		Stderr:         j.stderr.String(),
		ExitCode:       code,
		StartedAt:      j.startedAt,
		ElapsedSeconds: int64(now.Sub(j.startedAt) / time.Second),
	}
}

func (j *job) summary(now time.Time) domain.JobSummary {
	status, code, _ := j.state()
	return domain.JobSummary{
		ID:             j.id,
		Command:        j.command,
		Status:         status,
		ExitCode:       code,
		StartedAt:      j.startedAt,
		ElapsedSeconds: int64(now.Sub(j.startedAt) / time.Second),
	}
}

func statusForExit(code int) domain.JobStatus {
	if code == 0 {
		return domain.JobStatusCompleted
	}
	return domain.JobStatusFailed
}

// killLeftovers kills whatever is left in the job's process group after the
// leader exited, typically backgrounded members still holding the pipes.
func killLeftovers(j *job, logger *slog.Logger) {
	if err := killGroup(j.pid); err != nil && !errors.Is(err, os.ErrProcessDone) {
		logger.Warn("kill leftover processes failed", "job_id", j.id, "error", err)
	}
}
