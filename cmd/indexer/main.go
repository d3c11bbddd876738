package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/actasearch/internal/app"
	"github.com/seanblong/actasearch/internal/config"
	"github.com/seanblong/actasearch/internal/indexer"
	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.NewFlagSet("actasearch-indexer", pflag.ExitOnError)

	cfg, err := config.Load("", fs, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	fs.Usage = cfg.Usage

	logger, err := app.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// a positional argument overrides the configured directory
	root := cfg.DocsDir
	if fs.NArg() > 0 {
		root = fs.Arg(0)
	}
	if fi, err := os.Stat(root); err != nil || !fi.IsDir() {
		log.Fatal().Str("root", root).Msg("docs directory does not exist")
	}
	if cfg.Store == config.StoreMemory {
		logger.Warn().Msg("memory store selected: indexed documents are discarded on exit")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start")
	}
	defer a.Close()

	start := time.Now()
	report, err := indexer.New(a.Incidents, root, cfg.IngestWorkers).Run(ctx)
	if err != nil {
		log.Fatal().Err(err).Int("ingested", report.Ingested).Int("failed", report.Failed).Msg("indexing aborted")
	}

	ev := logger.Info()
	if report.Failed > 0 {
		ev = logger.Warn()
	}
	ev.Int("ingested", report.Ingested).
		Int("failed", report.Failed).
		Int("incidents", len(a.Incidents.GetAll())).
		Dur("dur", time.Since(start)).
		Msg("indexing complete")
}
