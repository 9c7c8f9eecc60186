package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"nu-mcp/internal/adapter/mcpserver"
	"nu-mcp/internal/infra/config"
	"nu-mcp/internal/infra/logger"
	"nu-mcp/internal/infra/tracer"
	"nu-mcp/internal/usecase/process"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve MCP over stdin/stdout (default)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context(), configPath)
	},
}

func runServe(parent context.Context, cfgPath string) error {
	if parent == nil {
		parent = context.Background()
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, closeLog, err := logger.New(cfg.Logger, cfg.Server.Name)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerShutdown(sctx); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
	}()

	sec, cleanupSecurity, err := initSecurity(cfg, log)
	if err != nil {
		return err
	}
	defer cleanupSecurity()

	executor, err := initProcess(cfg, log)
	if err != nil {
		return err
	}

	tools := initTools(ctx, cfg, executor, sec, log)

	instructions := cfg.Server.Instructions
	if instructions == "" {
		instructions = mcpserver.DefaultInstructions
	}
	srv := mcpserver.New(mcpserver.Info{
		Name:         cfg.Server.Name,
		Version:      Version,
		Instructions: instructions,
	}, tools, log)

	log.Info("nu-mcp started",
		"shell", cfg.Shell.Path,
		"dialect", cfg.Shell.Dialect,
		"cwd", executor.Session().Cwd(),
		"tools", len(tools.Schemas()),
	)

	serveErr := srv.Serve(ctx, os.Stdin, os.Stdout)

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := executor.Shutdown(shutdownCtx); err != nil {
		log.Warn("executor shutdown incomplete", "error", err)
	}

	if serveErr != nil && ctx.Err() == nil {
		return fmt.Errorf("serve: %w", serveErr)
	}
	return nil
}

// initProcess builds the session, job registry and executor from the shell config.
func initProcess(cfg *config.Config, log *slog.Logger) (*process.Executor, error) {
	dialect, err := process.DialectByName(cfg.Shell.Dialect)
	if err != nil {
		return nil, fmt.Errorf("shell dialect: %w", err)
	}

	cwd := cfg.Shell.Cwd
	if cwd == "" {
		cwd, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
	}

	registry := process.NewRegistry(process.RegistryConfig{
		JobOutputMax:    cfg.Shell.JobOutputMax,
		JobTTL:          cfg.Shell.JobTTL,
		CleanupInterval: cfg.Shell.CleanupInterval,
		PollInterval:    cfg.Shell.PollInterval,
		ReadWaitMax:     cfg.Shell.ReadWaitMax,
	}, log.With("component", "jobs"))

	return process.NewExecutor(process.ExecutorConfig{
		Path:           cfg.Shell.Path,
		Dialect:        dialect,
		Env:            cfg.Shell.Env,
		DefaultTimeout: cfg.Shell.DefaultTimeout,
		StdoutMax:      cfg.Shell.StdoutMax,
		StderrMax:      cfg.Shell.StderrMax,
		MonitorTimeout: cfg.Shell.MonitorTimeout,
		DrainFlush:     cfg.Shell.DrainFlush,
	}, process.NewSession(cwd), registry, log.With("component", "executor")), nil
}
