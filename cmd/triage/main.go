package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lumenware/triage/internal/api"
	"github.com/lumenware/triage/internal/config"
	"github.com/lumenware/triage/internal/conversation"
	"github.com/lumenware/triage/internal/events"
	"github.com/lumenware/triage/internal/ingest"
	"github.com/lumenware/triage/internal/labeler"
	"github.com/lumenware/triage/internal/llm"
	"github.com/lumenware/triage/internal/report"
	"github.com/lumenware/triage/internal/sample"
	"github.com/lumenware/triage/internal/source"
	"github.com/lumenware/triage/internal/store"
	"github.com/lumenware/triage/internal/vector"
)

func main() {
	ingestOnce := flag.Bool("ingest-once", false, "run one ingestion pass and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	slog.Info("triage starting", "port", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database connected")

	// LLM backend
	backend := llm.NewClient(
		cfg.OpenAI.APIKey,
		cfg.OpenAI.Model,
		cfg.OpenAI.FallbackModel,
		cfg.OpenAI.EmbeddingModel,
		cfg.OpenAI.MaxTokens,
		slog.Default(),
	)
	slog.Info("llm client ready", "model", cfg.OpenAI.Model, "fallback", cfg.OpenAI.FallbackModel)

	// Sample library and vector index, loaded before anything can label.
	holder := sample.NewHolder(sample.NewLibrary(nil))
	retriever := vector.NewRetriever(backend, vector.NewIndex(), slog.Default())
	sampleSync := ingest.NewSampleSync(db, holder, retriever, slog.Default())
	if err := sampleSync.Reload(ctx); err != nil {
		slog.Error("failed to load sample library", "error", err)
		os.Exit(1)
	}
	if holder.Current().Len() == 0 {
		slog.Warn("sample library is empty — labeling will fail until samples are ingested")
	}

	// Labeling pipeline
	svc := labeler.NewService(db, retriever, backend, holder, labeler.Options{
		ConfidenceThreshold: cfg.Labeling.ConfidenceThreshold,
		RetryCeiling:        cfg.Labeling.RetryCeiling,
		TopK:                cfg.Labeling.TopK,
		MinSimilarity:       cfg.Labeling.MinSimilarity,
		ChunkMessages:       cfg.Labeling.ChunkMessages,
		TranscriptBudget:    cfg.Labeling.TranscriptBudget,
		ReasoningMaxChars:   cfg.Labeling.ReasoningMaxChars,
		MaxWorkers:          cfg.Labeling.MaxWorkers,
	}, slog.Default())

	// NATS
	nc, err := events.NewClient(cfg.Nats.URL, cfg.Nats.Token, slog.Default())
	if err != nil {
		slog.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer nc.Close()
	slog.Info("NATS connected", "url", cfg.Nats.URL)

	runManager := labeler.NewRunManager(svc, db, nc, slog.Default())

	// Ingestion
	src := source.NewClient(
		cfg.Source.BaseURL,
		cfg.Source.AccessKey,
		cfg.Source.AccessSecret,
		cfg.Source.PageSize,
		cfg.Source.MaxRetries,
		slog.Default(),
	)
	factory := conversation.NewFactory(slog.Default())
	ingestor := ingest.New(src, db, factory, nc, cfg.Labeling.MaxWorkers, slog.Default())

	if *ingestOnce {
		window := source.Window{From: time.Now().Add(-cfg.Ingest.Lookback), To: time.Now()}
		if _, err := ingestor.Run(ctx, window); err != nil {
			slog.Error("ingestion failed", "error", err)
			os.Exit(1)
		}
		return
	}

	// New conversations trigger a labeling run.
	err = nc.Subscribe(events.SubjectConversationsReady, func(_ string, data []byte) {
		var payload events.ConversationsReady
		if err := json.Unmarshal(data, &payload); err != nil {
			slog.Error("bad conversations-ready payload", "error", err)
			return
		}
		if _, err := runManager.Run(ctx, payload.ConversationIDs); err != nil {
			slog.Error("labeling run failed", "error", err)
		}
	})
	if err != nil {
		slog.Error("failed to subscribe", "error", err)
		os.Exit(1)
	}

	// Periodic ingestion
	go runIngestLoop(ctx, ingestor, cfg.Ingest)

	// HTTP API
	srv := api.NewServer(cfg.Port, cfg.APIToken, api.Deps{
		Labels:  db,
		Runs:    runManager,
		RunRead: db,
		Samples: sampleSync,
		Reports: report.NewBuilder(db),
		Library: holder,
	}, slog.Default())
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("triage ready", "port", cfg.Port, "samples", holder.Current().Len())

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")
	cancel()
	slog.Info("triage stopped")
}

func runIngestLoop(ctx context.Context, ingestor *ingest.Ingestor, cfg config.IngestConfig) {
	runOnce := func() {
		window := source.Window{From: time.Now().Add(-cfg.Lookback), To: time.Now()}
		if _, err := ingestor.Run(ctx, window); err != nil {
			slog.Error("scheduled ingestion failed", "error", err)
		}
	}

	if cfg.RunOnStart {
		runOnce()
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce()
		}
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
