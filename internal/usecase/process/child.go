package process

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"

	"nu-mcp/internal/domain"
)

// child is a spawned interpreter together with the read ends of its output
// pipes. It is the process handle that moves between a job record and its
// supervisor (or a kill caller); exactly one owner terminates it.
type child struct {
	cmd      *exec.Cmd
	stdout   *os.File
	stderr   *os.File
	done     chan struct{}
	exitCode int

	closeOnce sync.Once
}

// spawn starts "<path> -c <script>" with stdin on the null device, stdout and
// stderr on pipes owned by the caller, env overlaid on the current
// environment and the child placed in its own process group.
func spawn(path, script string, env []string) (*child, error) {
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, domain.NewDomainError("process.spawn", domain.ErrStreamAcquisition, fmt.Sprintf("stdout: %v", err))
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, domain.NewDomainError("process.spawn", domain.ErrStreamAcquisition, fmt.Sprintf("stderr: %v", err))
	}

	cmd := exec.Command(path, "-c", script)
	cmd.Env = env
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
		return nil, domain.NewDomainError("process.spawn", domain.ErrLaunchFailed, fmt.Sprintf("%s: %v", path, err))
	}

	// The child holds its own copies of the write ends.
	stdoutW.Close()
	stderrW.Close()

	c := &child{
		cmd:    cmd,
		stdout: stdoutR,
		stderr: stderrR,
		done:   make(chan struct{}),
	}
	go c.wait()
	return c, nil
}

func (c *child) wait() {
	err := c.cmd.Wait()
	c.exitCode = exitCodeOf(err, c.cmd.ProcessState)
	close(c.done)
}

// Pid returns the operating system process id.
func (c *child) Pid() int { return c.cmd.Process.Pid }

// Done is closed once the child has exited and been reaped.
func (c *child) Done() <-chan struct{} { return c.done }

// ExitCode is valid after Done is closed; -1 means no code was available
// (killed by a signal).
func (c *child) ExitCode() int { return c.exitCode }

func (c *child) exited() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// terminate kills the child's process group. It returns os.ErrProcessDone
// when the child had already exited.
func (c *child) terminate() error {
	if c.exited() {
		return os.ErrProcessDone
	}
	if err := killProcessGroup(c.cmd.Process); err != nil {
		if errors.Is(err, os.ErrProcessDone) || c.exited() {
			return os.ErrProcessDone
		}
		return err
	}
	return nil
}

// closeStreams closes the read ends of both pipes, which unblocks any drain
// still reading from them. Safe to call more than once.
func (c *child) closeStreams() {
	c.closeOnce.Do(func() {
		c.stdout.Close()
		c.stderr.Close()
	})
}

// exitCodeOf maps a Wait result to an exit code, -1 when none exists.
func exitCodeOf(err error, state *os.ProcessState) int {
	if state != nil {
		return state.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// buildEnvironment creates the environment for a child.
// Precedence (highest to lowest): overlays in argument order > os.Environ().
func buildEnvironment(overlays ...map[string]string) []string {
	envMap := make(map[string]string)
	for _, kv := range os.Environ() {
		if idx := strings.Index(kv, "="); idx > 0 {
			envMap[kv[:idx]] = kv[idx+1:]
		}
	}
	for i := len(overlays) - 1; i >= 0; i-- {
		for k, v := range overlays[i] {
			envMap[k] = v
		}
	}

	env := make([]string, 0, len(envMap))
	for _, k := range slices.Sorted(maps.Keys(envMap)) {
		env = append(env, k+"="+envMap[k])
	}
	return env
}
