package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"nu-mcp/internal/domain"
)

// RegistryConfig holds configuration for the Registry.
type RegistryConfig struct {
	JobOutputMax    int           // per-stream byte cap for background output (default: 100,000)
	JobTTL          time.Duration // reap finished jobs after this (default: 30m)
	CleanupInterval time.Duration // how often to run TTL cleanup (default: 1m)
	PollInterval    time.Duration // blocking read poll interval (default: 100ms)
	ReadWaitMax     time.Duration // blocking read ceiling (default: 300s)
}

// killReapWait bounds how long Kill waits for a killed child to be reaped.
const killReapWait = 2 * time.Second

// Registry is the concurrent map of background jobs.
//
// The map lock is never held while a record or buffer lock is taken, so
// readers of one job never wait on another.
type Registry struct {
	jobs     map[string]*job
	mu       sync.RWMutex
	config   RegistryConfig
	logger   *slog.Logger
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRegistry creates a Registry and starts the TTL cleanup goroutine.
func NewRegistry(cfg RegistryConfig, logger *slog.Logger) *Registry {
	if cfg.JobOutputMax <= 0 {
		cfg.JobOutputMax = 100_000
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 30 * time.Minute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if cfg.ReadWaitMax <= 0 {
		cfg.ReadWaitMax = 300 * time.Second
	}

	r := &Registry{
		jobs:   make(map[string]*job),
		config: cfg,
		logger: logger,
		stopCh: make(chan struct{}),
	}
	go r.cleanupLoop()
	return r
}

// Register inserts a new running job that owns proc.
func (r *Registry) Register(id string, proc *child, command string) *job {
	j := newJob(id, command, proc, r.config.JobOutputMax)
	r.mu.Lock()
	r.jobs[id] = j
	r.mu.Unlock()
	return j
}

// Get returns the record for id.
func (r *Registry) Get(id string) (*job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	return j, ok
}

// Remove deletes the record for id and returns it.
func (r *Registry) Remove(id string) (*job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if ok {
		delete(r.jobs, id)
	}
	return j, ok
}

// TakeProcess moves the process handle out of the record for id, leaving
// the record in place. It returns nil if the job is unknown or the handle
// has already been taken.
func (r *Registry) TakeProcess(id string) *child {
	j, ok := r.Get(id)
	if !ok {
		return nil
	}
	return j.takeProc()
}

// Len returns the number of tracked jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// Snapshot returns a point-in-time view of the job.
func (r *Registry) Snapshot(id string) (*domain.JobSnapshot, error) {
	j, ok := r.Get(id)
	if !ok {
		return nil, domain.NewSubSystemError("process", "Registry.Snapshot", domain.ErrNotFound, id)
	}
	return j.snapshot(time.Now()), nil
}

// ReadOutput returns the job's current snapshot. With block set it first
// polls until the job leaves running, the wait ceiling elapses or ctx is
// done, whichever comes first.
func (r *Registry) ReadOutput(ctx context.Context, id string, block bool) (*domain.JobSnapshot, error) {
	snap, err := r.Snapshot(id)
	if err != nil || !block || snap.Status != domain.JobStatusRunning {
		return snap, err
	}

	ceiling := time.NewTimer(r.config.ReadWaitMax)
	defer ceiling.Stop()
	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return snap, nil
		case <-ceiling.C:
			return r.Snapshot(id)
		case <-ticker.C:
			snap, err = r.Snapshot(id)
			if err != nil {
				return nil, err
			}
			if snap.Status != domain.JobStatusRunning {
				return snap, nil
			}
		}
	}
}

// Kill removes the job and terminates its process.
//
// The record is removed before the handle is touched, so a supervisor that
// has not started yet finds nothing to supervise. If a supervisor already
// holds the handle it is asked to kill the process through the job's abort
// channel. A job that has already finished reports already_exited, and a
// second Kill for the same id reports NotFound.
func (r *Registry) Kill(id string) (*domain.KillResult, error) {
	j, ok := r.Remove(id)
	if !ok {
		return nil, domain.NewSubSystemError("process", "Registry.Kill", domain.ErrNotFound, id)
	}

	result := &domain.KillResult{ID: id, Command: j.command, Status: domain.KillStatusAlreadyExited}

	proc := j.takeProc()
	if proc == nil {
		switch {
		case j.requestAbort():
			result.Status = domain.KillStatusKilled
		case j.leaderExited():
			// The supervisor is still flushing output.
			killLeftovers(j, r.logger)
		}
		r.logger.Info("job kill requested", "job_id", id, "status", result.Status)
		return result, nil
	}

	err := proc.terminate()
	switch {
	case err == nil:
		result.Status = domain.KillStatusKilled
		select {
		case <-proc.Done():
		case <-time.After(killReapWait):
			r.logger.Warn("killed job not reaped in time", "job_id", id, "pid", proc.Pid())
		}
		j.finish(domain.JobStatusFailed, -1)
	case errors.Is(err, os.ErrProcessDone):
		<-proc.Done()
		j.finish(statusForExit(proc.ExitCode()), proc.ExitCode())
	default:
		// Put the job back so the caller can retry.
		j.restoreProc(proc)
		r.mu.Lock()
		r.jobs[id] = j
		r.mu.Unlock()
		return nil, domain.NewDomainError("Registry.Kill", domain.ErrKillFailed, fmt.Sprintf("%s (pid %d): %v", id, proc.Pid(), err))
	}
	proc.closeStreams()

	r.logger.Info("job killed", "job_id", id, "status", result.Status)
	return result, nil
}

// List returns summaries of all jobs ordered by start time.
func (r *Registry) List() []domain.JobSummary {
	jobs := r.all()

	now := time.Now()
	out := make([]domain.JobSummary, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.summary(now))
	}
	slices.SortFunc(out, func(a, b domain.JobSummary) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Stop shuts down the cleanup goroutine and kills every job that is still
// running. Records are kept so their final output can still be read.
func (r *Registry) Stop(ctx context.Context) {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})

	jobs := r.all()

	for _, j := range jobs {
		if ctx.Err() != nil {
			return
		}
		if proc := j.takeProc(); proc != nil {
			if err := proc.terminate(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				r.logger.Warn("stop: kill failed", "job_id", j.id, "error", err)
			}
			proc.closeStreams()
			j.finish(domain.JobStatusFailed, -1)
			continue
		}
		if !j.requestAbort() && j.leaderExited() {
			killLeftovers(j, r.logger)
		}
	}
}

// --- internal ---

// all copies the record pointers out from under the map lock.
func (r *Registry) all() []*job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	jobs := make([]*job, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, j)
	}
	return jobs
}

func (r *Registry) cleanupLoop() {
	ticker := time.NewTicker(r.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.cleanupExpired()
		}
	}
}

func (r *Registry) cleanupExpired() {
	cutoff := time.Now().Add(-r.config.JobTTL)

	jobs := r.all()

	for _, j := range jobs {
		status, _, finishedAt := j.state()
		if status == domain.JobStatusRunning || !finishedAt.Before(cutoff) {
			continue
		}

		r.mu.Lock()
		current, ok := r.jobs[j.id]
		if ok && current == j {
			delete(r.jobs, j.id)
		}
		r.mu.Unlock()
		if !ok || current != j {
			continue
		}

		// A job that outlived the monitoring ceiling still holds its handle.
		if proc := j.takeProc(); proc != nil {
			_ = proc.terminate()
			proc.closeStreams()
		}
		r.logger.Debug("job expired", "job_id", j.id)
	}
}
