package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"nu-mcp/internal/adapter/tool"
	"nu-mcp/internal/domain"
	"nu-mcp/internal/infra/config"
	"nu-mcp/internal/infra/logger"
)

var execTimeout int

var execCmd = &cobra.Command{
	Use:   "exec <pipeline>",
	Short: "Run one pipeline the way nu.exec does and print the result",
	Long: `Run a single pipeline through the configured interpreter with the same
wrapping, buffering and timeout handling as the nu.exec tool. Useful for
checking a config without an MCP client.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExec(cmd.Context(), cmd, configPath, strings.Join(args, " "), execTimeout)
	},
}

func init() {
	execCmd.Flags().IntVar(&execTimeout, "timeout", 0, "timeout in seconds (0 = configured default)")
}

func runExec(ctx context.Context, cmd *cobra.Command, cfgPath, pipeline string, timeoutSec int) error {
	if ctx == nil {
		ctx = context.Background()
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

	executor, err := initProcess(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = executor.Shutdown(sctx)
	}()

	var tsec *int
	if timeoutSec > 0 {
		tsec = &timeoutSec
	}
	timeout := executor.ResolveTimeout(tsec)

	start := time.Now()
	res, err := executor.ExecuteBlocking(ctx, domain.ExecRequest{
		Command: pipeline,
		Timeout: timeout,
	})
	if err != nil {
		return err
	}
	log.Debug("exec finished", "exit_code", res.ExitCode, "elapsed", time.Since(start))

	fmt.Fprintln(cmd.OutOrStdout(), tool.FormatExecResult(res, timeout))
	if !res.Success {
		return fmt.Errorf("pipeline exited with code %d", res.ExitCode)
	}
	return nil
}
