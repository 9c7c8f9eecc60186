package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"nu-mcp/internal/domain"
)

// DefaultPath is the config file read when --config is not given.
const DefaultPath = "nu-mcp.yaml"

// Config is the top-level application configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Shell  ShellConfig  `yaml:"shell"`
	Apply  ApplyConfig  `yaml:"apply"`
	Search SearchConfig `yaml:"search"`
	Fetch  FetchConfig  `yaml:"fetch"`
	Logger LoggerConfig `yaml:"logger"`
	Tracer TracerConfig `yaml:"tracer"`
	Audit  AuditConfig  `yaml:"audit"`
}

// ServerConfig holds MCP server identity settings.
type ServerConfig struct {
	Name         string `yaml:"name"`
	Instructions string `yaml:"instructions,omitempty"`
}

// ShellConfig holds interpreter and job supervision settings.
type ShellConfig struct {
	Path            string            `yaml:"path"`
	Dialect         string            `yaml:"dialect"` // "nushell" or "posix"
	Cwd             string            `yaml:"cwd,omitempty"`
	Env             map[string]string `yaml:"env,omitempty"`
	DefaultTimeout  time.Duration     `yaml:"default_timeout"`
	StdoutMax       int               `yaml:"stdout_max"`
	StderrMax       int               `yaml:"stderr_max"`
	JobOutputMax    int               `yaml:"job_output_max"`
	MonitorTimeout  time.Duration     `yaml:"monitor_timeout"`
	ReadWaitMax     time.Duration     `yaml:"read_wait_max"`
	PollInterval    time.Duration     `yaml:"poll_interval"`
	DrainFlush      time.Duration     `yaml:"drain_flush"`
	JobTTL          time.Duration     `yaml:"job_ttl"`
	CleanupInterval time.Duration     `yaml:"cleanup_interval"`
}

// ApplyConfig holds settings for the code-edit tool.
type ApplyConfig struct {
	Enabled bool          `yaml:"enabled"`
	APIURL  string        `yaml:"api_url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
	Root    string        `yaml:"root,omitempty"` // edits outside this directory are rejected; empty = no restriction
}

// SearchConfig holds settings for the SearXNG search tool.
type SearchConfig struct {
	Enabled    bool          `yaml:"enabled"`
	SearXNGURL string        `yaml:"searxng_url"`
	Timeout    time.Duration `yaml:"timeout"`
	RateLimit  int           `yaml:"rate_limit"` // requests per minute, 0 = unlimited
}

// FetchConfig holds settings for the page fetch tool.
type FetchConfig struct {
	Enabled        bool          `yaml:"enabled"`
	AllowPrivate   bool          `yaml:"allow_private"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	UserAgent      string        `yaml:"user_agent"`
	RateLimit      int           `yaml:"rate_limit"` // requests per minute, 0 = unlimited
}

// LoggerConfig holds structured logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"` // "stderr" or a file path; stdout carries the MCP stream
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "noop", "stderr" or "file"
	Endpoint string `yaml:"endpoint"` // file path for the "file" exporter
}

// AuditConfig holds the tool-call audit trail settings.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns the configuration used when no file is present.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Name: "nu-mcp",
		},
		Shell: ShellConfig{
			Path:            "nu",
			Dialect:         "nushell",
			DefaultTimeout:  60 * time.Second,
			StdoutMax:       200_000,
			StderrMax:       50_000,
			JobOutputMax:    100_000,
			MonitorTimeout:  300 * time.Second,
			ReadWaitMax:     300 * time.Second,
			PollInterval:    100 * time.Millisecond,
			DrainFlush:      time.Second,
			JobTTL:          30 * time.Minute,
			CleanupInterval: time.Minute,
		},
		Apply: ApplyConfig{
			Enabled: true,
			APIURL:  "https://api.morphllm.com/v1",
			APIKey:  "ollama",
			Model:   "morph-v3-fast",
			Timeout: 120 * time.Second,
		},
		Search: SearchConfig{
			Enabled:    true,
			SearXNGURL: "http://127.0.0.1:8888",
			Timeout:    15 * time.Second,
			RateLimit:  60,
		},
		Fetch: FetchConfig{
			Enabled:        true,
			MaxBodyBytes:   2 << 20,
			DefaultTimeout: 30 * time.Second,
			UserAgent:      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			RateLimit:      60,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
		Audit: AuditConfig{
			Enabled: false,
			Path:    "nu-mcp-audit.jsonl",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file is not an error: defaults plus env overrides are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, domain.NewDomainError("config.Load", domain.ErrConfigLoad, err.Error())
		}
	} else {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		if err := validatePermissions(absPath); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, domain.NewDomainError("config.Load", domain.ErrConfigLoad, fmt.Sprintf("parse %s: %v", path, err))
		}
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("NUMCP_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps environment variables to config fields. The
// unprefixed names (NU_PATH, APPLY_*, SEARXNG_URL) are kept for
// compatibility with existing MCP client setups.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NU_PATH"); v != "" {
		cfg.Shell.Path = v
	}
	if v := os.Getenv("NUMCP_SHELL_DIALECT"); v != "" {
		cfg.Shell.Dialect = v
	}
	if v := os.Getenv("NUMCP_SHELL_CWD"); v != "" {
		cfg.Shell.Cwd = v
	}
	if d, ok := envDuration("NUMCP_SHELL_DEFAULT_TIMEOUT"); ok {
		cfg.Shell.DefaultTimeout = d
	}
	if v := os.Getenv("APPLY_API_URL"); v != "" {
		cfg.Apply.APIURL = v
	}
	if v := os.Getenv("APPLY_API_KEY"); v != "" {
		cfg.Apply.APIKey = v
	}
	if v := os.Getenv("APPLY_MODEL"); v != "" {
		cfg.Apply.Model = v
	}
	if v := os.Getenv("NUMCP_APPLY_ROOT"); v != "" {
		cfg.Apply.Root = v
	}
	if v := os.Getenv("SEARXNG_URL"); v != "" {
		cfg.Search.SearXNGURL = v
	}
	if v := os.Getenv("NUMCP_FETCH_ALLOW_PRIVATE"); v != "" {
		cfg.Fetch.AllowPrivate = v == "true" || v == "1"
	}
	if v := os.Getenv("NUMCP_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("NUMCP_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("NUMCP_LOGGER_OUTPUT"); v != "" {
		cfg.Logger.Output = v
	}
	if v := os.Getenv("NUMCP_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("NUMCP_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("NUMCP_TRACER_ENDPOINT"); v != "" {
		cfg.Tracer.Endpoint = v
	}
	if v := os.Getenv("NUMCP_AUDIT_ENABLED"); v != "" {
		cfg.Audit.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("NUMCP_AUDIT_PATH"); v != "" {
		cfg.Audit.Path = v
	}
}

// envDuration reads a duration from key. Bare integers are seconds.
func envDuration(key string) (time.Duration, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, true
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
