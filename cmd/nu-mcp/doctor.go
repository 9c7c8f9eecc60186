package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"nu-mcp/internal/infra/config"
)

// CheckStatus is the outcome of one doctor check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome and an optional fix hint.
type CheckResult struct {
	Status  CheckStatus
	Message string
	Fix     string
}

// Check is a named health check.
type Check struct {
	Name string
	Fn   func(*config.Config) CheckResult
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run health checks on the config and environment",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runDoctor(cmd.OutOrStdout(), configPath)
	},
}

func runDoctor(w io.Writer, cfgPath string) error {
	cfg, cfgErr := config.Load(cfgPath)
	if cfgErr != nil {
		cfg = nil
	}

	checks := []Check{
		{"Config file", checkConfigFile(cfgPath, cfgErr)},
		{"Shell binary", checkShellBinary},
		{"Working directory", checkWorkingDir},
		{"Apply backend", checkApplyKey},
		{"SearXNG", checkSearXNG(http.DefaultClient)},
		{"Audit log", checkAuditPath},
	}

	fmt.Fprintln(w, "nu-mcp doctor")
	fmt.Fprintln(w, strings.Repeat("-", 50))

	var pass, warn, fail int
	for _, c := range checks {
		r := c.Fn(cfg)
		fmt.Fprintf(w, "%s %s: %s\n", statusIcon(r.Status), c.Name, r.Message)
		if r.Fix != "" && r.Status != StatusPass {
			fmt.Fprintf(w, "       fix: %s\n", r.Fix)
		}
		switch r.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("-", 50))
	fmt.Fprintf(w, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

// checkConfigFile reports whether the config file exists and loads. A
// missing file is only a warning since defaults apply.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     "Check " + cfgPath + " syntax and values",
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s, using defaults", cfgPath),
				Fix:     "Create " + cfgPath + " or pass --config",
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

func checkShellBinary(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusWarn, Message: "cannot check, config not loaded"}
	}
	path, err := exec.LookPath(cfg.Shell.Path)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("%q not found: %v", cfg.Shell.Path, err),
			Fix:     "Install Nushell or set shell.path / NU_PATH",
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, path, "--version").Output()
	if err != nil {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("found %s but --version failed: %v", path, err),
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s (%s)", path, strings.TrimSpace(string(out))),
	}
}

func checkWorkingDir(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusWarn, Message: "cannot check, config not loaded"}
	}
	if cfg.Shell.Cwd == "" {
		return CheckResult{Status: StatusPass, Message: "starts in the server's working directory"}
	}
	info, err := os.Stat(cfg.Shell.Cwd)
	if err != nil || !info.IsDir() {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("shell.cwd %s is not a directory", cfg.Shell.Cwd),
			Fix:     "Point shell.cwd at an existing directory",
		}
	}
	return CheckResult{Status: StatusPass, Message: cfg.Shell.Cwd}
}

func checkApplyKey(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusWarn, Message: "cannot check, config not loaded"}
	}
	if !cfg.Apply.Enabled {
		return CheckResult{Status: StatusPass, Message: "nu.apply disabled"}
	}
	if cfg.Apply.APIKey == "" || cfg.Apply.APIKey == config.Defaults().Apply.APIKey {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("no API key configured for %s", cfg.Apply.APIURL),
			Fix:     "Set apply.api_key or APPLY_API_KEY (use encrypt-secret to store it encrypted)",
		}
	}
	if strings.HasPrefix(cfg.Apply.APIKey, config.SecretPrefix) {
		return CheckResult{
			Status:  StatusFail,
			Message: "apply.api_key is encrypted but NUMCP_CONFIG_KEY is not set",
			Fix:     "Export NUMCP_CONFIG_KEY with the passphrase used by encrypt-secret",
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("model %s at %s", cfg.Apply.Model, cfg.Apply.APIURL)}
}

func checkSearXNG(client *http.Client) func(*config.Config) CheckResult {
	return func(cfg *config.Config) CheckResult {
		if cfg == nil {
			return CheckResult{Status: StatusWarn, Message: "cannot check, config not loaded"}
		}
		if !cfg.Search.Enabled {
			return CheckResult{Status: StatusPass, Message: "nu.search disabled"}
		}

		url := cfg.Search.SearXNGURL
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return CheckResult{Status: StatusFail, Message: fmt.Sprintf("invalid SearXNG URL: %v", err)}
		}
		resp, err := client.Do(req)
		if err != nil {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("SearXNG not reachable at %s: %v", url, err),
				Fix:     "Start SearXNG or update search.searxng_url / SEARXNG_URL",
			}
		}
		resp.Body.Close()

		if resp.StatusCode >= 400 {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("SearXNG responded with status %d at %s", resp.StatusCode, url),
			}
		}
		return CheckResult{Status: StatusPass, Message: fmt.Sprintf("SearXNG reachable at %s", url)}
	}
}

func checkAuditPath(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusWarn, Message: "cannot check, config not loaded"}
	}
	if !cfg.Audit.Enabled {
		return CheckResult{Status: StatusPass, Message: "audit logging disabled"}
	}
	dir := filepath.Dir(cfg.Audit.Path)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("audit directory %s does not exist", dir),
			Fix:     "Create the directory or change audit.path",
		}
	}
	return CheckResult{Status: StatusPass, Message: cfg.Audit.Path}
}
