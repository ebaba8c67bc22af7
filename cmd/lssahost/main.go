// Command lssahost loads a set of isolated Wasm applications described
// by a YAML configuration file and runs them until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lssahost/lssa/internal/config"
	"github.com/lssahost/lssa/internal/log"
	"github.com/lssahost/lssa/internal/manager"
	"github.com/lssahost/lssa/internal/stats"
)

var (
	printStats = flag.Bool("stats", false, "print the admin stats snapshot after loading, before entering the dispatch loop")
	logLevel   = flag.String("log-level", "info", "minimum log level: debug|info|warn|error")
)

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: lssahost [-stats] [-log-level level] <config.yaml>")
		os.Exit(1)
	}
	configPath := flag.Arg(0)

	level, err := parseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lssa: %v\n", err)
		os.Exit(1)
	}
	log.SetDefaultHandler(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(configPath); err != nil {
		log.Errorf("lssa: %v", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	hc, err := config.LoadHostConfig(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := manager.New()
	m.Load(ctx, hc)

	if *printStats {
		if err := stats.Write(os.Stdout, m.Stats()); err != nil {
			log.Errorf("lssa: writing stats snapshot: %v", err)
		}
	}

	m.Run(ctx)
	m.Shutdown(context.Background())
	return nil
}

func parseLevel(raw string) (slog.Level, error) {
	switch raw {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unrecognized log level %q", raw)
	}
}
