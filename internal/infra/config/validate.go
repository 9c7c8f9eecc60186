package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateServer(cfg, ve)
	validateShell(cfg, ve)
	validateApply(cfg, ve)
	validateSearch(cfg, ve)
	validateFetch(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	validateAudit(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateServer(cfg *Config, ve *ValidationError) {
	if cfg.Server.Name == "" {
		ve.Add("server.name must not be empty")
	}
}

var validDialects = map[string]bool{
	"":        true,
	"nu":      true,
	"nushell": true,
	"posix":   true,
	"sh":      true,
}

func validateShell(cfg *Config, ve *ValidationError) {
	s := cfg.Shell
	if s.Path == "" {
		ve.Add("shell.path must not be empty")
	}
	if !validDialects[s.Dialect] {
		ve.Add("shell.dialect %q is invalid (valid: nushell, posix)", s.Dialect)
	}
	if s.DefaultTimeout <= 0 {
		ve.Add("shell.default_timeout must be > 0")
	}
	if s.StdoutMax <= 0 {
		ve.Add("shell.stdout_max must be > 0")
	}
	if s.StderrMax <= 0 {
		ve.Add("shell.stderr_max must be > 0")
	}
	if s.JobOutputMax <= 0 {
		ve.Add("shell.job_output_max must be > 0")
	}
	if s.MonitorTimeout <= 0 {
		ve.Add("shell.monitor_timeout must be > 0")
	}
	if s.ReadWaitMax <= 0 {
		ve.Add("shell.read_wait_max must be > 0")
	}
	if s.PollInterval <= 0 {
		ve.Add("shell.poll_interval must be > 0")
	} else if s.ReadWaitMax > 0 && s.PollInterval > s.ReadWaitMax {
		ve.Add("shell.poll_interval must not exceed shell.read_wait_max")
	}
	if s.DrainFlush <= 0 {
		ve.Add("shell.drain_flush must be > 0")
	}
	if s.JobTTL <= 0 {
		ve.Add("shell.job_ttl must be > 0")
	}
	if s.CleanupInterval <= 0 {
		ve.Add("shell.cleanup_interval must be > 0")
	}
}

func validateApply(cfg *Config, ve *ValidationError) {
	a := cfg.Apply
	if !a.Enabled {
		return
	}
	validateHTTPURL("apply.api_url", a.APIURL, ve)
	if a.Model == "" {
		ve.Add("apply.model must not be empty when apply is enabled")
	}
	if a.Timeout <= 0 {
		ve.Add("apply.timeout must be > 0")
	}
}

func validateSearch(cfg *Config, ve *ValidationError) {
	s := cfg.Search
	if !s.Enabled {
		return
	}
	validateHTTPURL("search.searxng_url", s.SearXNGURL, ve)
	if s.Timeout <= 0 {
		ve.Add("search.timeout must be > 0")
	}
	if s.RateLimit < 0 {
		ve.Add("search.rate_limit must be >= 0")
	}
}

func validateFetch(cfg *Config, ve *ValidationError) {
	f := cfg.Fetch
	if !f.Enabled {
		return
	}
	if f.MaxBodyBytes <= 0 {
		ve.Add("fetch.max_body_bytes must be > 0")
	}
	if f.DefaultTimeout <= 0 {
		ve.Add("fetch.default_timeout must be > 0")
	}
	if f.RateLimit < 0 {
		ve.Add("fetch.rate_limit must be >= 0")
	}
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogger(cfg *Config, ve *ValidationError) {
	l := cfg.Logger
	if !validLogLevels[strings.ToLower(l.Level)] {
		ve.Add("logger.level %q is invalid (valid: debug, info, warn, error)", l.Level)
	}
	if l.Format != "text" && l.Format != "json" {
		ve.Add("logger.format %q is invalid (valid: text, json)", l.Format)
	}
	if l.Output == "stdout" {
		ve.Add("logger.output must not be stdout: stdout carries the MCP stream")
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	t := cfg.Tracer
	if !t.Enabled {
		return
	}
	switch t.Exporter {
	case "noop", "stderr":
	case "file":
		if t.Endpoint == "" {
			ve.Add("tracer.endpoint must be set for the file exporter")
		}
	default:
		ve.Add("tracer.exporter %q is invalid (valid: noop, stderr, file)", t.Exporter)
	}
}

func validateHTTPURL(field, raw string, ve *ValidationError) {
	if raw == "" {
		ve.Add("%s must not be empty", field)
		return
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		ve.Add("%s %q must be an http(s) URL", field, raw)
	}
}

func validateAudit(cfg *Config, ve *ValidationError) {
	if cfg.Audit.Enabled && cfg.Audit.Path == "" {
		ve.Add("audit.path must be set when audit is enabled")
	}
}
