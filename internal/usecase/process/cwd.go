package process

import (
	"fmt"
	"strings"
)

// Sentinel separates user output from the directory disclosure that the
// blocking wrapper prints after the pipeline.
const Sentinel = ":::CWD:::"

// Dialect wraps a pipeline for a particular interpreter.
type Dialect interface {
	// Name identifies the dialect in configuration.
	Name() string
	// Wrap enters cwd (ignoring failure), runs command and prints Sentinel
	// followed by the resulting working directory.
	Wrap(cwd, command string) string
	// WrapDetached enters cwd (ignoring failure) and runs command. Used for
	// background jobs, which never report their directory.
	WrapDetached(cwd, command string) string
}

// DialectByName returns the dialect registered under name.
func DialectByName(name string) (Dialect, error) {
	switch name {
	case "", "nushell", "nu":
		return NushellDialect{}, nil
	case "posix", "sh":
		return PosixDialect{}, nil
	default:
		return nil, fmt.Errorf("unknown shell dialect %q", name)
	}
}

// NushellDialect wraps pipelines for nu -c.
type NushellDialect struct{}

func (NushellDialect) Name() string { return "nushell" }

func (NushellDialect) Wrap(cwd, command string) string {
	return fmt.Sprintf("try { cd %s }; %s; print $\"%s(pwd)\"", nuQuote(cwd), command, Sentinel)
}

func (NushellDialect) WrapDetached(cwd, command string) string {
	return fmt.Sprintf("try { cd %s }; %s", nuQuote(cwd), command)
}

// nuQuote quotes s as a Nushell string literal. Single-quoted strings have
// no escapes, so paths containing a quote use a raw string.
func nuQuote(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	hashes := "#"
	for strings.Contains(s, "'"+hashes) {
		hashes += "#"
	}
	return "r" + hashes + "'" + s + "'" + hashes
}

// PosixDialect wraps pipelines for sh -c. The command's exit status is
// preserved across the directory disclosure.
type PosixDialect struct{}

func (PosixDialect) Name() string { return "posix" }

func (PosixDialect) Wrap(cwd, command string) string {
	var b strings.Builder
	b.WriteString("cd " + shellQuote(cwd) + " 2>/dev/null || :\n")
	b.WriteString(command)
	b.WriteString("\n__nu_mcp_status=$?\n")
	b.WriteString("printf '\\n%s%s\\n' '" + Sentinel + "' \"$(pwd)\"\n")
	b.WriteString("exit $__nu_mcp_status\n")
	return b.String()
}

func (PosixDialect) WrapDetached(cwd, command string) string {
	return "cd " + shellQuote(cwd) + " 2>/dev/null || :\n" + command + "\n"
}

// shellQuote single-quotes s for a POSIX shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// ExtractCwd splits wrapped stdout into user output and the disclosed
// directory. When the sentinel is missing (timeout, crash, explicit exit)
// stdout is returned untouched and ok is false.
func ExtractCwd(stdout string) (clean, dir string, ok bool) {
	idx := strings.LastIndex(stdout, Sentinel)
	if idx < 0 {
		return stdout, "", false
	}
	clean = strings.TrimRight(stdout[:idx], " \t\r\n")
	rest := stdout[idx+len(Sentinel):]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[:nl]
	}
	dir = strings.TrimSpace(rest)
	return clean, dir, dir != ""
}
