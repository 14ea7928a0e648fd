package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"examguard/internal/api"
	"examguard/internal/batch"
	"examguard/internal/config"
	"examguard/internal/events"
	"examguard/internal/flags"
	"examguard/internal/ingest"
	"examguard/internal/logging"
	"examguard/internal/model"
	"examguard/internal/session"
	"examguard/internal/stats"
	"examguard/internal/storage"
	"examguard/internal/transport"
)

const version = "0.3.0"

func main() {
	configPath := flag.String("config", "examguard.yaml", "path to config file")
	flag.Parse()

	cfgManager, err := config.NewManager(config.ResolvePath(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	cfg := cfgManager.Get()

	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("starting examguard", "version", version, "config_path", cfgManager.Path(), "sensitivity", cfg.Detection.Sensitivity)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		logger.Error("storage init failed", "err", err)
		os.Exit(1)
	}
	if store != nil {
		initCtx, initCancel := context.WithTimeout(ctx, 30*time.Second)
		err := store.Init(initCtx)
		initCancel()
		if err != nil {
			logger.Error("storage schema init failed", "err", err)
			os.Exit(1)
		}
		defer store.Close()
		logger.Info("storage enabled", "driver", cfg.Storage.Driver)
	}

	var sink batch.Sink
	if backend := transport.New(cfg.Backend); backend != nil {
		sink = backend
		logger.Info("backend delivery enabled", "base_url", cfg.Backend.BaseURL)
	} else {
		sink = logSink{logger: logging.Component(logger, "batch")}
		logger.Info("backend delivery disabled, batches logged locally")
	}

	eventStore := events.NewStore(cfg.Events.StoreLimit)
	statStore := stats.NewStore(cfg.Stats.StoreLimit)
	flagStore := flags.NewStore()

	sessions := session.NewManager(cfgManager, sink, flagStore, eventStore, statStore, store, logging.Component(logger, "session"))

	parser, err := ingest.NewParser(cfg.Ingest.Parser)
	if err != nil {
		logger.Error("parser init failed", "err", err)
		os.Exit(1)
	}

	samples := make(chan model.Sample, cfg.Ingest.ChannelBuffer)
	ingestLogger := logging.Component(logger, "ingest")
	ingest.StartREST(ctx, cfgManager, parser, samples, ingestLogger)
	ingest.StartTCPStream(ctx, cfgManager, parser, samples, ingestLogger)
	ingest.StartKafka(ctx, cfgManager, parser, samples, ingestLogger)
	ingest.StartReplay(ctx, cfgManager, parser, samples, ingestLogger)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case s := <-samples:
				sessions.Dispatch(s)
			}
		}
	}()

	api.Start(ctx, cfgManager, sessions, eventStore, statStore, flagStore, logging.Component(logger, "api"), version)

	go cfgManager.Watch(3*time.Second, func(next *config.Config) {
		logger.Info("config reloaded", "sensitivity", next.Detection.Sensitivity)
	}, func(err error) {
		logger.Warn("config reload failed", "err", err)
	}, ctx.Done())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	sessions.StopAll(shutdownCtx)
	shutdownCancel()
	cancel()
	logger.Info("stopped")
}

// logSink stands in for the backend client when delivery is disabled.
type logSink struct {
	logger *slog.Logger
}

func (s logSink) SendBatch(_ context.Context, evs []model.ProctorEvent) error {
	s.logger.Info("batch ready", "events", len(evs))
	return nil
}
