package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"nu-mcp/internal/domain"
)

func writeConfig(t *testing.T, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nu-mcp.yaml")
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, perm); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Shell.Path != "nu" {
		t.Errorf("Shell.Path = %q, want %q", cfg.Shell.Path, "nu")
	}
	if cfg.Shell.DefaultTimeout != 60*time.Second {
		t.Errorf("DefaultTimeout = %v, want 60s", cfg.Shell.DefaultTimeout)
	}
	if cfg.Shell.StdoutMax != 200_000 || cfg.Shell.StderrMax != 50_000 || cfg.Shell.JobOutputMax != 100_000 {
		t.Errorf("caps = %d/%d/%d", cfg.Shell.StdoutMax, cfg.Shell.StderrMax, cfg.Shell.JobOutputMax)
	}
	if cfg.Apply.Model != "morph-v3-fast" {
		t.Errorf("Apply.Model = %q", cfg.Apply.Model)
	}
	if cfg.Logger.Output != "stderr" {
		t.Errorf("Logger.Output = %q, want stderr", cfg.Logger.Output)
	}
}

func TestLoadNonExistentReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Shell.MonitorTimeout != 300*time.Second {
		t.Errorf("expected defaults, got MonitorTimeout=%v", cfg.Shell.MonitorTimeout)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
shell:
  path: /usr/local/bin/nu
  default_timeout: 5s
  env:
    FOO: bar
search:
  searxng_url: http://search.internal:8080
logger:
  level: debug
  format: json
`, 0o600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Shell.Path != "/usr/local/bin/nu" {
		t.Errorf("Shell.Path = %q", cfg.Shell.Path)
	}
	if cfg.Shell.DefaultTimeout != 5*time.Second {
		t.Errorf("DefaultTimeout = %v, want 5s", cfg.Shell.DefaultTimeout)
	}
	if cfg.Shell.Env["FOO"] != "bar" {
		t.Errorf("Shell.Env = %v", cfg.Shell.Env)
	}
	if cfg.Search.SearXNGURL != "http://search.internal:8080" {
		t.Errorf("SearXNGURL = %q", cfg.Search.SearXNGURL)
	}
	// Untouched sections keep their defaults.
	if cfg.Shell.StdoutMax != 200_000 {
		t.Errorf("StdoutMax = %d, want default", cfg.Shell.StdoutMax)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "shell: [unterminated", 0o600)
	_, err := Load(path)
	if !errors.Is(err, domain.ErrConfigLoad) {
		t.Fatalf("err = %v, want ErrConfigLoad", err)
	}
}

func TestLoadInsecurePermissions(t *testing.T) {
	path := writeConfig(t, "logger:\n  level: info\n", 0o666)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "insecure permissions") {
		t.Fatalf("err = %v, want insecure permissions", err)
	}
}

func TestLoadValidationFailure(t *testing.T) {
	path := writeConfig(t, "logger:\n  output: stdout\n", 0o644)
	_, err := Load(path)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("NU_PATH", "/opt/nu")
	t.Setenv("APPLY_API_URL", "http://localhost:11434/v1")
	t.Setenv("APPLY_API_KEY", "k")
	t.Setenv("APPLY_MODEL", "m")
	t.Setenv("SEARXNG_URL", "http://sx:1")
	t.Setenv("NUMCP_LOGGER_LEVEL", "debug")
	t.Setenv("NUMCP_SHELL_DEFAULT_TIMEOUT", "7")
	t.Setenv("NUMCP_FETCH_ALLOW_PRIVATE", "true")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Shell.Path != "/opt/nu" {
		t.Errorf("Shell.Path = %q", cfg.Shell.Path)
	}
	if cfg.Apply.APIURL != "http://localhost:11434/v1" || cfg.Apply.APIKey != "k" || cfg.Apply.Model != "m" {
		t.Errorf("Apply = %+v", cfg.Apply)
	}
	if cfg.Search.SearXNGURL != "http://sx:1" {
		t.Errorf("SearXNGURL = %q", cfg.Search.SearXNGURL)
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q", cfg.Logger.Level)
	}
	if cfg.Shell.DefaultTimeout != 7*time.Second {
		t.Errorf("DefaultTimeout = %v, want 7s", cfg.Shell.DefaultTimeout)
	}
	if !cfg.Fetch.AllowPrivate {
		t.Error("Fetch.AllowPrivate should be true")
	}
}

func TestEnvDurationParsesGoDurations(t *testing.T) {
	t.Setenv("NUMCP_SHELL_DEFAULT_TIMEOUT", "1m30s")
	cfg := Defaults()
	ApplyEnvOverrides(cfg)
	if cfg.Shell.DefaultTimeout != 90*time.Second {
		t.Errorf("DefaultTimeout = %v, want 1m30s", cfg.Shell.DefaultTimeout)
	}

	t.Setenv("NUMCP_SHELL_DEFAULT_TIMEOUT", "soon")
	cfg = Defaults()
	ApplyEnvOverrides(cfg)
	if cfg.Shell.DefaultTimeout != 60*time.Second {
		t.Errorf("invalid duration should be ignored, got %v", cfg.Shell.DefaultTimeout)
	}
}

func TestApplyEnvOverridesTracer(t *testing.T) {
	t.Setenv("NUMCP_TRACER_ENABLED", "true")
	t.Setenv("NUMCP_TRACER_EXPORTER", "file")
	t.Setenv("NUMCP_TRACER_ENDPOINT", "/tmp/trace.json")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)
	if !cfg.Tracer.Enabled || cfg.Tracer.Exporter != "file" || cfg.Tracer.Endpoint != "/tmp/trace.json" {
		t.Errorf("Tracer = %+v", cfg.Tracer)
	}
}

func TestValidatePermissions(t *testing.T) {
	tests := []struct {
		perm    os.FileMode
		wantErr bool
	}{
		{0o600, false},
		{0o644, false},
		{0o640, false},
		{0o664, true},
		{0o666, true},
	}
	for _, tt := range tests {
		path := writeConfig(t, "", tt.perm)
		err := validatePermissions(path)
		if (err != nil) != tt.wantErr {
			t.Errorf("perm %o: err = %v, wantErr %v", tt.perm, err, tt.wantErr)
		}
	}
}

func TestValidatePermissionsStatError(t *testing.T) {
	if err := validatePermissions(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected stat error")
	}
}
