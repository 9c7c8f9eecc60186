package domain

import (
	"strings"
	"time"
)

// JobStatus represents the lifecycle state of a background job.
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// KillStatus is the outcome of a kill request.
type KillStatus string

const (
	KillStatusKilled        KillStatus = "killed"
	KillStatusAlreadyExited KillStatus = "already_exited"
)

// ExecRequest describes one pipeline to run.
type ExecRequest struct {
	Command    string
	Env        map[string]string
	Cwd        string
	Timeout    time.Duration
	Background bool
}

// ExecResult is the outcome of a blocking execution.
type ExecResult struct {
	ExitCode  int    `json:"exit_code"`
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	Output    string `json:"output"`
	ElapsedMs int64  `json:"elapsed_ms"`
	Success   bool   `json:"success"`
	TimedOut  bool   `json:"timed_out"`
	Cwd       string `json:"cwd"`
}

// BackgroundResult is returned as soon as a background job has been registered.
type BackgroundResult struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// JobSnapshot is a point-in-time view of a background job.
type JobSnapshot struct {
	ID             string    `json:"id"`
	Command        string    `json:"command"`
	Status         JobStatus `json:"status"`
	Stdout         string    `json:"stdout"`
	Stderr         string    `json:"stderr"`
	ExitCode       *int      `json:"exit_code,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	ElapsedSeconds int64     `json:"elapsed_seconds"`
}

// Output joins stdout and stderr the way results are shown to callers.
func (s *JobSnapshot) Output() string {
	return CombineOutput(s.Stdout, s.Stderr)
}

// JobSummary is a listing entry for a background job.
type JobSummary struct {
	ID             string    `json:"id"`
	Command        string    `json:"command"`
	Status         JobStatus `json:"status"`
	ExitCode       *int      `json:"exit_code,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	ElapsedSeconds int64     `json:"elapsed_seconds"`
}

// KillResult is the outcome of killing a background job.
type KillResult struct {
	ID      string     `json:"id"`
	Status  KillStatus `json:"status"`
	Command string     `json:"command"`
}

// CombineOutput appends stderr under a "[stderr]" header when it is non-empty.
func CombineOutput(stdout, stderr string) string {
	if stderr == "" {
		return stdout
	}
	var b strings.Builder
	b.Grow(len(stdout) + len(stderr) + 10)
	b.WriteString(stdout)
	b.WriteString("\n[stderr]\n")
	b.WriteString(stderr)
	return b.String()
}
