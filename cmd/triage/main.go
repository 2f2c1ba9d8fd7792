package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/polizaops/triage/internal/anthropic"
	"github.com/polizaops/triage/internal/api"
	"github.com/polizaops/triage/internal/backfill"
	"github.com/polizaops/triage/internal/bus"
	"github.com/polizaops/triage/internal/config"
	"github.com/polizaops/triage/internal/engine"
	"github.com/polizaops/triage/internal/oracle"
	"github.com/polizaops/triage/internal/processor"
	"github.com/polizaops/triage/internal/store"
	"github.com/polizaops/triage/internal/taxonomy"
	"github.com/polizaops/triage/internal/transcript"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	if len(os.Args) > 1 && os.Args[1] == "backfill" {
		runBackfill(cfg, os.Args[2:])
		return
	}

	slog.Info("triage starting", "port", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Taxonomy
	var tax *taxonomy.Store
	var err error
	if cfg.TaxonomyPath != "" {
		tax, err = taxonomy.LoadFile(cfg.TaxonomyPath)
		if err != nil {
			slog.Error("failed to load taxonomy", "path", cfg.TaxonomyPath, "error", err)
			os.Exit(1)
		}
		slog.Info("taxonomy loaded", "path", cfg.TaxonomyPath, "pairs", tax.Len())
	} else {
		tax, err = taxonomy.LoadDefault()
		if err != nil {
			slog.Error("failed to load embedded taxonomy", "error", err)
			os.Exit(1)
		}
		slog.Info("embedded taxonomy loaded", "pairs", tax.Len())
	}

	// Database
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database connected")

	// NLU oracle (optional; without it every decision is rule-only and
	// flagged degraded)
	var orc oracle.Oracle
	if cfg.AnthropicAPIKey != "" {
		llm := anthropic.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel, cfg.OracleTimeout+10*time.Second)
		orc = oracle.NewLLM(llm, cfg.OracleTimeout, slog.Default())
		slog.Info("oracle ready", "model", cfg.AnthropicModel, "timeout", cfg.OracleTimeout)
	} else {
		slog.Warn("ANTHROPIC_API_KEY not set, running rule-only classification")
	}

	// Engine
	eng := engine.New(tax, orc, slog.Default())

	// NATS
	busClient, err := bus.NewClient(cfg.NatsURL, cfg.NatsToken, slog.Default())
	if err != nil {
		slog.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer busClient.Close()
	slog.Info("NATS connected", "url", cfg.NatsURL)

	// Processor, the main pipeline
	proc := processor.New(eng, db, busClient, slog.Default())

	if err := busClient.Subscribe(bus.SubjectTranscriptStored, proc.HandleTranscriptStored); err != nil {
		slog.Error("failed to subscribe to transcript events", "error", err)
		os.Exit(1)
	}

	// HTTP API
	classify := func(ctx context.Context, callID string, turns []transcript.RawTurn) (*engine.Decision, error) {
		d, _, err := proc.Process(ctx, callID, turns)
		return d, err
	}
	srv := api.NewServer(cfg.Port, classify, tax, db, cfg.TaxonomyPath, cfg.APIToken, slog.Default())
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("triage ready", "port", cfg.Port)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")
	cancel()
	slog.Info("triage stopped")
}

// runBackfill replays historical transcript exports through the engine,
// persisting decisions without NATS or the HTTP API.
func runBackfill(cfg config.Config, args []string) {
	fs := flag.NewFlagSet("backfill", flag.ExitOnError)
	dir := fs.String("dir", "", "directory of JSONL transcript exports")
	file := fs.String("file", "", "replay a single export file")
	statePath := fs.String("state", "triage-backfill-state.json", "checkpoint file path")
	batch := fs.Int("batch", 50, "calls between checkpoint saves")
	pause := fs.Duration("pause", 0, "pause between batches")
	dryRun := fs.Bool("dry-run", false, "classify without persisting")
	_ = fs.Parse(args)

	if *dir == "" && *file == "" {
		slog.Error("backfill needs -dir or -file")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var tax *taxonomy.Store
	var err error
	if cfg.TaxonomyPath != "" {
		tax, err = taxonomy.LoadFile(cfg.TaxonomyPath)
	} else {
		tax, err = taxonomy.LoadDefault()
	}
	if err != nil {
		slog.Error("failed to load taxonomy", "error", err)
		os.Exit(1)
	}

	var orc oracle.Oracle
	if cfg.AnthropicAPIKey != "" {
		llm := anthropic.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel, cfg.OracleTimeout+10*time.Second)
		orc = oracle.NewLLM(llm, cfg.OracleTimeout, slog.Default())
	}
	eng := engine.New(tax, orc, slog.Default())

	var writer processor.DecisionWriter
	if !*dryRun {
		if cfg.DatabaseURL == "" {
			slog.Error("DATABASE_URL is required (or pass -dry-run)")
			os.Exit(1)
		}
		db, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		writer = db
	}

	proc := processor.New(eng, writer, nil, slog.Default())
	runner := backfill.NewRunner(backfill.Config{
		Dir:        *dir,
		SingleFile: *file,
		StatePath:  *statePath,
		BatchSize:  *batch,
		Pause:      *pause,
	}, proc, slog.Default())

	if err := runner.Run(ctx); err != nil {
		slog.Error("backfill failed", "error", err)
		os.Exit(1)
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
