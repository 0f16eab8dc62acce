package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/agriguard/cropsentinel/internal/config"
	"github.com/agriguard/cropsentinel/internal/features"
	"github.com/agriguard/cropsentinel/internal/ingest"
	"github.com/agriguard/cropsentinel/internal/logger"
	"github.com/agriguard/cropsentinel/internal/metrics"
	"github.com/agriguard/cropsentinel/internal/models"
	"github.com/agriguard/cropsentinel/internal/notify"
	"github.com/agriguard/cropsentinel/internal/pipeline"
	"github.com/agriguard/cropsentinel/internal/risk"
	"github.com/agriguard/cropsentinel/internal/storage"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	var store *storage.Storage
	if cfg.Storage.Enabled {
		store, err = storage.New(cfg.Storage.MaxRows, cfg.Storage.DBPath)
		if err != nil {
			logger.Fatal("Failed to initialize storage: %v", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Error("Failed to close storage: %v", err)
			}
		}()
	} else {
		logger.Debug("Persistence disabled")
	}

	var mets *metrics.Metrics
	if cfg.Metrics.Enabled {
		mets = metrics.New(nil)
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsServer := &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux}
		go func() {
			logger.Info("Metrics listening on %s", cfg.Metrics.ListenAddr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed: %v", err)
			}
		}()
		defer metricsServer.Close()
	}

	featCfg := features.DefaultConfig()
	featCfg.WindowSize = cfg.Features.WindowSize
	featCfg.MinSamples = cfg.Features.MinSamples
	featCfg.SustainedK = cfg.Features.SustainedK
	featCfg.FlagThresholds[models.SignalHumidity] = cfg.Features.HumidityThreshold
	featCfg.FlagThresholds[models.SignalLeafWetness] = cfg.Features.LeafWetnessThreshold
	featCfg.AnomalyCap = cfg.Features.AnomalyCap
	if len(cfg.Features.AnomalyWeights) > 0 {
		featCfg.AnomalyWeights = cfg.Features.AnomalyWeights
	}

	riskCfg := risk.DefaultConfig()
	riskCfg.Cutpoints = risk.Cutpoints{
		Medium: cfg.Risk.MediumCutpoint,
		High:   cfg.Risk.HighCutpoint,
	}
	riskCfg.MaxRecommendations = cfg.Risk.MaxRecommendations
	engine := risk.New(riskCfg, featCfg.WindowSize)

	pipeCfg := pipeline.Config{
		HistorySize:    cfg.Pipeline.HistorySize,
		AlertQueueSize: cfg.Pipeline.AlertQueueSize,
		AlertLogSize:   cfg.Pipeline.AlertLogSize,
		OverflowPolicy: cfg.Pipeline.OverflowPolicy,
	}
	var persistStore pipeline.Store
	if store != nil {
		persistStore = store
	}
	coord := pipeline.New(pipeCfg, featCfg, engine, persistStore, mets)

	var telegramClient *notify.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = notify.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	if telegramClient != nil {
		telegramClient.ListenForCommands(ctx)
	}

	var notifyWG sync.WaitGroup
	notifyWG.Add(1)
	go func() {
		defer notifyWG.Done()
		for alert := range coord.Alerts() {
			logger.Info("Alert %s: crop=%s score=%d level=%s",
				alert.ID, alert.CropType, alert.Assessment.Score, alert.Assessment.Level)
			if telegramClient != nil {
				if err := telegramClient.SendAlert(alert); err != nil {
					logger.Error("Failed to send alert notification: %v", err)
				}
			}
		}
	}()

	if store != nil {
		rotateTicker := time.NewTicker(cfg.Storage.RotateInterval)
		defer rotateTicker.Stop()
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-rotateTicker.C:
					if err := store.Rotate(); err != nil {
						logger.Warn("Failed to rotate storage: %v", err)
					}
				}
			}
		}()
	}

	source, err := newSource(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize reading source: %v", err)
	}
	defer func() {
		if err := source.Close(); err != nil {
			logger.Warn("Failed to close reading source: %v", err)
		}
	}()

	logger.Info("Starting pipeline (source: %s, window_size: %d, cutpoints: %d/%d)",
		cfg.Ingest.Source, cfg.Features.WindowSize, cfg.Risk.MediumCutpoint, cfg.Risk.HighCutpoint)

	runIngestLoop(ctx, source, coord, telegramClient)

	coord.Close()
	notifyWG.Wait()
	logger.Info("Service stopped")
}

// newSource selects the configured reading source.
func newSource(cfg *config.Config) (ingest.Source, error) {
	switch cfg.Ingest.Source {
	case "http":
		return ingest.NewHTTPSource(ingest.HTTPConfig{
			Endpoint:            cfg.Ingest.HTTPEndpoint,
			PollInterval:        cfg.Ingest.PollInterval,
			Timeout:             cfg.Ingest.Timeout,
			MaxRetries:          cfg.Ingest.MaxRetries,
			RetryDelayBase:      cfg.Ingest.RetryDelayBase,
			MaxIdleConns:        cfg.Ingest.MaxIdleConns,
			MaxIdleConnsPerHost: cfg.Ingest.MaxIdleConnsPerHost,
			IdleConnTimeout:     cfg.Ingest.IdleConnTimeout,
		}), nil
	default:
		return ingest.NewFileSource(cfg.Ingest.FilePath)
	}
}

// runIngestLoop pulls readings from the source and pushes them through the
// pipeline until the source drains or the context is cancelled. Source
// failures are notified once per failure sequence, with a recovery message
// when readings resume.
func runIngestLoop(ctx context.Context, source ingest.Source, coord *pipeline.Coordinator, telegramClient *notify.Client) {
	consecutiveFailures := 0

	handleResult := func(err error) {
		if err != nil {
			consecutiveFailures++
			logger.Error("Ingest cycle failed: %v", err)
			if consecutiveFailures == 1 && telegramClient != nil {
				if sendErr := telegramClient.SendError(err); sendErr != nil {
					logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
				}
			}
		} else {
			if consecutiveFailures > 0 && telegramClient != nil {
				if sendErr := telegramClient.SendRecovery(consecutiveFailures); sendErr != nil {
					logger.Warn("Failed to send recovery notification to Telegram: %v", sendErr)
				}
			}
			consecutiveFailures = 0
		}
	}

	for {
		reading, err := source.Next(ctx)
		if errors.Is(err, ingest.ErrSourceDrained) {
			logger.Info("Reading source drained")
			return
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		if err != nil {
			handleResult(err)
			continue
		}

		if err := coord.Process(reading); err != nil {
			// A bad reading degrades only its own context; keep consuming.
			logger.Warn("Failed to process reading for context %q: %v", reading.Context(), err)
			continue
		}
		handleResult(nil)
	}
}
