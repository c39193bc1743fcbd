package main

import (
	"context"
	"embed"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/atotto/clipboard"
	microphone "github.com/deepgram/deepgram-go-sdk/v3/pkg/audio/microphone"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/sjawhar/live-captioner/internal/caption"
	"github.com/sjawhar/live-captioner/internal/config"
	"github.com/sjawhar/live-captioner/internal/deepgram"
	"github.com/sjawhar/live-captioner/internal/gdrive"
	"github.com/sjawhar/live-captioner/internal/llm"
	"github.com/sjawhar/live-captioner/internal/server"
	"github.com/sjawhar/live-captioner/internal/session"
	"github.com/sjawhar/live-captioner/internal/storage"
	"github.com/sjawhar/live-captioner/internal/summary"
)

//go:embed static/*
var staticFiles embed.FS

// transcriptSink adapts the caption buffer to the session controller.
type transcriptSink struct {
	*caption.Buffer
}

func (s transcriptSink) Append(text string) {
	s.Buffer.Append(text)
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Parse()

	cfg, warnings, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "live-captioner: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	for _, w := range warnings {
		logger.Warn("config warning", "warning", w)
	}

	if err := run(cfg, warnings, logger); err != nil {
		logger.Error("live-captioner failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, warnings []string, logger *slog.Logger) error {
	logger.Info("live-captioner: starting")

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("storage init: %w", err)
	}
	defer func() { _ = store.Close() }()

	if err := store.SeedPreferences(cfg.Preferences); err != nil {
		return err
	}
	prefs, err := store.LoadPreferences()
	if err != nil {
		logger.Warn("stored preferences unreadable, using defaults", "error", err)
	}

	segments, err := store.LoadSegments()
	if err != nil {
		return fmt.Errorf("load transcript: %w", err)
	}

	hub := server.NewHub()
	buffer := caption.NewBuffer(
		caption.WithSegments(segments),
		caption.WithPersister(store),
		caption.WithObserver(hub.BroadcastTranscript),
		caption.WithLogger(logger),
	)
	logger.Info("transcript restored", "segments", len(segments))

	microphone.Initialize()
	defer microphone.Teardown()
	client.Init(client.InitLib{LogLevel: client.LogLevelDefault})

	engine := deepgram.New(deepgram.Config{
		APIKey:      cfg.DeepgramAPIKey,
		Model:       cfg.DeepgramModel,
		Language:    prefs.Language,
		SampleRates: cfg.SampleRateCandidates(),
	}, logger)
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Warn("engine close failed", "error", err)
		}
	}()

	userInitiated, err := store.LoadUserInitiated()
	if err != nil {
		logger.Warn("load capture state failed", "error", err)
	}

	ctrl := session.NewController(engine, transcriptSink{buffer}, store, hub, session.Options{
		Policy:        cfg.Policy(),
		UserInitiated: userInitiated,
		Logger:        logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctrlDone := make(chan struct{})
	go func() {
		defer close(ctrlDone)
		if err := ctrl.Run(ctx); err != nil {
			logger.Error("session controller stopped", "error", err)
		}
	}()

	if cfg.AutoResume && ctrl.Resume() {
		logger.Info("capture resumed")
	}

	exporter := storage.NewExporter(cfg.ExportDir, cfg.TimestampLayout)
	hooks := server.ControlHooks{
		Start:    ctrl.Start,
		Stop:     ctrl.Stop,
		Status:   ctrl.Status,
		Warnings: func() []string { return warnings },
		OnLanguageChanged: func(tag string) {
			engine.SetLanguage(tag)
			ctrl.Reconfigure()
		},
		Copy:            clipboard.WriteAll,
		Export:          exporter.Export,
		LatestSummary:   store.LatestSummary,
		TimestampLayout: cfg.TimestampLayout,
		Logger:          logger,
	}

	if cfg.GDriveFolderID != "" {
		uploader, err := gdrive.NewUploader(ctx, cfg.GoogleCredentialsFile, cfg.GDriveFolderID)
		if err != nil {
			logger.Warn("drive upload disabled", "error", err)
		} else {
			hooks.Upload = func(ctx context.Context, path string) (string, error) {
				return uploader.Upload(ctx, path, uploadName(path))
			}
		}
	}

	if key := cfg.SummaryAPIKey(); key != "" {
		provider, model, _ := llm.ParseModel(cfg.SummaryModel)
		llmClient, err := llm.NewClient(provider, key, model)
		if err != nil {
			logger.Warn("transcript summaries disabled", "error", err)
		} else {
			hooks.Summarize = summary.New(llmClient, store, logger).Summarize
		}
	}

	assets, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return fmt.Errorf("static assets init: %w", err)
	}
	handler, err := server.Handler(assets, hub, buffer, store, hooks)
	if err != nil {
		return fmt.Errorf("build http handler: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	logger.Info("live-captioner: web UI ready", "url", "http://"+cfg.ListenAddr)

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		logger.Error("http server failed", "error", err)
		stop()
	}

	logger.Info("live-captioner: shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", "error", err)
	}

	select {
	case <-ctrlDone:
	case <-shutdownCtx.Done():
		logger.Warn("session controller did not stop in time")
	}
	return nil
}

// uploadName names the Drive document after the export file.
func uploadName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
