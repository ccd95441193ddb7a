// Package main provides the stepflow bot server: the websocket chat
// gateway in front of the workflow engine.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/stepflow/internal/chat"
	"github.com/raphaelgruber/stepflow/internal/config"
	"github.com/raphaelgruber/stepflow/internal/db"
	"github.com/raphaelgruber/stepflow/internal/engine"
	"github.com/raphaelgruber/stepflow/internal/files"
	"github.com/raphaelgruber/stepflow/internal/llm"
	"github.com/raphaelgruber/stepflow/internal/metrics"
)

func main() {
	wipeDB := flag.Bool("wipe", false, "wipe all data from database on startup (testing only)")
	noAI := flag.Bool("no-ai", false, "run without an LLM provider (AI steps fail gracefully)")
	flag.Parse()

	cfg := config.Load()

	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer cleanup()

	logger.Info("starting stepflow-bot", "addr", cfg.ListenAddr)

	collector := metrics.NewCollector()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	dbClient, err := db.NewClient(ctx, db.Config{
		URL:       cfg.SurrealDBURL,
		Namespace: cfg.SurrealDBNamespace,
		Database:  cfg.SurrealDBDatabase,
		Username:  cfg.SurrealDBUser,
		Password:  cfg.SurrealDBPass,
		AuthLevel: cfg.SurrealDBAuthLevel,
	}, logger)
	cancel()
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	dbClient.WithMetrics(collector)
	defer func() {
		if err := dbClient.Close(context.Background()); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	err = dbClient.InitSchema(ctx)
	cancel()
	if err != nil {
		logger.Error("failed to initialize schema", "error", err)
		os.Exit(1)
	}

	if *wipeDB || os.Getenv("STEPFLOW_WIPE_DB") == "true" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := dbClient.WipeData(ctx)
		cancel()
		if err != nil {
			logger.Error("failed to wipe database", "error", err)
			os.Exit(1)
		}
	}

	var ai engine.StepGenerator
	if !*noAI {
		model, err := llm.NewModel(context.Background(), cfg)
		if err != nil {
			logger.Error("failed to create LLM model", "error", err)
			os.Exit(1)
		}
		model.WithMetrics(collector)
		ai = model
		logger.Info("LLM model ready", "provider", cfg.LLMProvider, "model", model.Model())
	} else {
		logger.Warn("running without LLM provider")
	}

	retriever, err := files.NewHTTPRetriever(cfg.FilesDir, logger)
	if err != nil {
		logger.Error("failed to create file retriever", "error", err)
		os.Exit(1)
	}

	eng := engine.New(engine.Options{
		Store:    dbClient,
		AI:       ai,
		Files:    retriever,
		Metrics:  collector,
		Logger:   logger,
		Language: cfg.DefaultLanguage,
	})
	gateway := chat.NewGateway(eng, logger)
	eng.SetChannel(gateway)

	reaperCtx, stopReaper := context.WithCancel(context.Background())
	defer stopReaper()
	go eng.RunReaper(reaperCtx, cfg.SessionTTL, cfg.ReapInterval)

	mux := http.NewServeMux()
	mux.Handle("/ws", gateway)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(collector.Snapshot()); err != nil {
			logger.Error("failed to encode stats", "error", err)
		}
	})

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second, // Long for LLM-backed steps
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("chat gateway listening", "url", fmt.Sprintf("ws://localhost%s/ws", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	stopReaper()

	snap := collector.Snapshot()
	logger.Info("runtime stats",
		"uptime_seconds", snap.UptimeSeconds,
		"events", opCount(snap.EventHandle),
		"steps_presented", opCount(snap.StepPresent),
		"llm_calls", opCount(snap.LLMGenerate),
		"db_queries", opCount(snap.DBQuery),
	)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

func opCount(snap *metrics.OperationSnapshot) int64 {
	if snap == nil {
		return 0
	}
	return snap.Count
}
