package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sophialabs/meetpoint/internal/app"
	"github.com/sophialabs/meetpoint/internal/infrastructure/inbound/cli"
	"github.com/sophialabs/meetpoint/internal/infrastructure/wiring"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	envFile := flag.String("env", ".env", "path to a .env file")
	requestPath := flag.String("request", "", "meeting request file (YAML); - reads stdin")
	format := flag.String("format", cli.FormatText, "output format (text, json)")
	flag.Parse()

	if *requestPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*configPath, *envFile, *requestPath, *format); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, envFile, requestPath, format string) error {
	cfg, err := app.Load(configPath, envFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	in := os.Stdin
	if requestPath != "-" {
		f, err := os.Open(requestPath)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	req, err := cli.ReadRequest(in)
	if err != nil {
		return err
	}

	logger := app.NewLogger(os.Stderr, cfg.LogLevel)
	container, err := wiring.New(app.Params(cfg, logger))
	if err != nil {
		return fmt.Errorf("failed to wire infrastructure: %w", err)
	}
	defer container.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if repo := container.Catalog(); repo != nil {
		if err := repo.Reload(ctx); err != nil {
			return fmt.Errorf("failed to load station catalog: %w", err)
		}
	}

	runner := cli.NewRunner(container.PrepareSnapshotUseCase(), container.Engine(), container.Renderer())
	return runner.Run(ctx, req, format, os.Stdout)
}
