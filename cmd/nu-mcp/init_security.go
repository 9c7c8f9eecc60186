package main

import (
	"fmt"
	"log/slog"

	"nu-mcp/internal/domain"
	"nu-mcp/internal/infra/config"
	"nu-mcp/internal/security"
)

// SecurityComponents holds the audit trail and the edit sandbox.
type SecurityComponents struct {
	Sandbox     *security.Sandbox  // nil when apply.root is empty
	AuditLogger domain.AuditLogger // nil when audit is disabled
}

// initSecurity builds the security components. The returned cleanup runs in
// reverse order of initialization.
func initSecurity(cfg *config.Config, log *slog.Logger) (*SecurityComponents, func(), error) {
	comp := &SecurityComponents{}
	var cleanups []func()

	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	if cfg.Apply.Root != "" {
		sb, err := security.NewSandbox(cfg.Apply.Root)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("sandbox: %w", err)
		}
		comp.Sandbox = sb
		log.Info("apply sandbox initialized", "root", sb.Root())
	}

	if cfg.Audit.Enabled {
		al, err := security.NewFileAuditLogger(cfg.Audit.Path)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("audit logger: %w", err)
		}
		comp.AuditLogger = al
		cleanups = append(cleanups, func() {
			if err := al.Close(); err != nil {
				log.Warn("audit logger close failed", "error", err)
			}
		})
		log.Info("audit logging enabled", "path", cfg.Audit.Path)
	}

	return comp, cleanup, nil
}
