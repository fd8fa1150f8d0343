package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joeycumines/conduct/internal/command"
	"github.com/joeycumines/conduct/internal/config"
)

const version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	configPath, _ := config.GetConfigPath()
	cfg := config.NewConfig()
	if configPath != "" {
		loaded, err := config.LoadFromPath(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if cfg.HasWarnings() && cfg.GetBool("verbose") {
		for _, w := range cfg.Warnings {
			_, _ = fmt.Fprintf(stderr, "config: %s\n", w)
		}
	}

	registry := command.NewRegistry("conduct")
	registry.Register(command.NewHelpCommand(registry))
	registry.Register(command.NewVersionCommand(version))
	registry.Register(command.NewConfigCommand(cfg, configPath))
	registry.Register(command.NewRunCommand(cfg))
	registry.Register(command.NewValidateCommand())
	registry.Register(command.NewInspectCommand(cfg))

	return registry.Dispatch(ctx, args, stdout, stderr)
}
