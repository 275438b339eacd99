package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/sophialabs/meetpoint/internal/app"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	envFile := flag.String("env", ".env", "path to a .env file")
	port := flag.Int("port", 0, "HTTP server port")
	logLevel := flag.String("log-level", "", "log level (debug, info, warn, error)")
	catalogPath := flag.String("catalog", "", "station catalog file or directory")
	transitURL := flag.String("transit-url", "", "routing service base URL")
	historySize := flag.Int("history-size", 0, "number of runs to keep in history")
	flag.Parse()

	cfg, err := app.Load(*configPath, *envFile)
	if err != nil {
		fail("failed to load configuration", err)
	}

	// Flags given on the command line override file and environment.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
		case "log-level":
			cfg.LogLevel = *logLevel
		case "catalog":
			cfg.Catalog.Path = *catalogPath
		case "transit-url":
			cfg.Transit.BaseURL = *transitURL
		case "history-size":
			cfg.HistorySize = *historySize
		}
	})

	a, err := app.New(cfg)
	if err != nil {
		fail("failed to initialize", err)
	}

	if err := a.Run(context.Background()); err != nil {
		fail("error", err)
	}
}

func fail(msg string, err error) {
	_, _ = fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}
