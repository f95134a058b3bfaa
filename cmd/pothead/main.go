package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/pothead-chat/pothead/pkg/bot"
	"github.com/pothead-chat/pothead/pkg/config"
	"github.com/pothead-chat/pothead/pkg/logger"
)

func main() {
	configPath := flag.String("config", "pothead.yaml", "path to the configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "pothead: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger.Init(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := exec.CommandContext(ctx, cfg.SignalCLIPath, "-a", cfg.Account, "jsonRpc")
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("signal-cli stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("signal-cli stdout: %w", err)
	}

	runtime, err := bot.New(cfg, stdin)
	if err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start signal-cli: %w", err)
	}
	logger.InfoCF("main", "signal-cli started", map[string]interface{}{
		"path": cfg.SignalCLIPath, "account": cfg.Account, "pid": cmd.Process.Pid,
	})

	// Run ends when signal-cli's stdout closes — on process exit or when the
	// context cancellation kills it.
	runErr := runtime.Run(ctx, stdout)

	stdin.Close()
	if err := cmd.Wait(); err != nil && ctx.Err() == nil {
		logger.ErrorCF("main", "signal-cli exited with error", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return runErr
}
