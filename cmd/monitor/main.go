package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/couchcryptid/rain-nowcast-monitor/internal/adapter/debugimg"
	httpadapter "github.com/couchcryptid/rain-nowcast-monitor/internal/adapter/http"
	"github.com/couchcryptid/rain-nowcast-monitor/internal/adapter/jma"
	kafkaadapter "github.com/couchcryptid/rain-nowcast-monitor/internal/adapter/kafka"
	"github.com/couchcryptid/rain-nowcast-monitor/internal/adapter/sqlite"
	"github.com/couchcryptid/rain-nowcast-monitor/internal/adapter/webhook"
	"github.com/couchcryptid/rain-nowcast-monitor/internal/config"
	"github.com/couchcryptid/rain-nowcast-monitor/internal/domain"
	"github.com/couchcryptid/rain-nowcast-monitor/internal/monitor"
	"github.com/couchcryptid/rain-nowcast-monitor/internal/notify"
	"github.com/couchcryptid/rain-nowcast-monitor/internal/observability"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"golang.org/x/sync/errgroup"
)

// ledgerRetention bounds how long sent-heartbeat rows are kept.
const ledgerRetention = 30 * 24 * time.Hour

// webhookQueueSize bounds undelivered webhook events.
const webhookQueueSize = 64

func main() {
	once := flag.Bool("once", false, "run a single cycle, print the report and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	if err := run(cfg, logger, metrics, *once); err != nil {
		logger.Error("monitor failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics, once bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scale, err := domain.ParseStepScale(cfg.StepScale)
	if err != nil {
		return err
	}

	client := jma.NewClient(cfg.JMABaseURL, cfg.JMATimeout, cfg.TargetTimesTTL, metrics, logger)
	tiles := jma.NewCachedTileSource(client, cfg.TileCacheSize, metrics)
	resolver := domain.NewSlotResolver(client, nil)

	var debug monitor.DebugSink
	var pruner monitor.Pruner
	if cfg.DebugImagesDir != "" {
		w, err := debugimg.NewWriter(cfg.DebugImagesDir, debugimg.Limits{
			Retention:  cfg.DebugRetention,
			MaxFiles:   cfg.DebugMaxFiles,
			MaxTotalMB: cfg.DebugMaxTotalMB,
		}, logger)
		if err != nil {
			return err
		}
		debug, pruner = w, w
		logger.Info("debug overlays enabled", "dir", cfg.DebugImagesDir)
	}

	notifiers := notify.Multi{notify.Log{Logger: logger}}
	var kafkaWriter *kafkaadapter.Writer
	if cfg.KafkaEnabled {
		kafkaWriter = kafkaadapter.NewWriter(cfg, logger)
		notifiers = append(notifiers, kafkaWriter)
		logger.Info("kafka notifier enabled", "topic", cfg.KafkaAlertTopic, "brokers", cfg.KafkaBrokers)
	}
	var hookQueue *notify.Queue
	if cfg.WebhookURL != "" {
		hookQueue = notify.NewQueue("webhook", webhook.New(cfg.WebhookURL, cfg.WebhookTimeout), webhookQueueSize, logger)
		notifiers = append(notifiers, hookQueue)
		logger.Info("webhook notifier enabled")
	}

	var ledger domain.HeartbeatLedger = domain.NewMemoryLedger()
	var db *sqlite.Ledger
	if cfg.StateDBPath != "" {
		if db, err = sqlite.Open(cfg.StateDBPath); err != nil {
			return err
		}
		if n, err := db.Prune(ctx, ledgerRetention); err != nil {
			logger.Warn("heartbeat ledger prune failed", "error", err)
		} else if n > 0 {
			logger.Info("heartbeat ledger pruned", "rows", n)
		}
		ledger = db
	}

	var schedule *domain.HeartbeatSchedule
	if cfg.HeartbeatEnabled {
		schedule = &domain.HeartbeatSchedule{Zone: cfg.Timezone, Grace: cfg.Interval}
		for _, s := range cfg.HeartbeatTimes {
			t, err := domain.ParseTimeOfDay(s)
			if err != nil {
				return err
			}
			schedule.Times = append(schedule.Times, t)
		}
	}

	aggregator := domain.NewSpatialAggregator(domain.NewIntensityDecoder(scale))
	estimator := monitor.NewEstimator(tiles, aggregator, cfg.Zoom, debug, logger)
	evaluator := domain.NewThresholdEvaluator(domain.WithCooldown(cfg.AlertCooldown))

	mon := monitor.New(
		config.FileLocations{Path: cfg.LocationsFile},
		resolver,
		estimator,
		evaluator,
		notifiers,
		monitor.Options{
			Interval:        cfg.Interval,
			Leads:           cfg.LeadMinutes,
			DecisionLead:    cfg.DecisionLead,
			NotifyAllLevels: cfg.NotifyAllLevels,
			Heartbeat:       schedule,
			Ledger:          ledger,
			Pruner:          pruner,
		},
		logger,
		metrics,
	)

	defer func() {
		if hookQueue != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			if err := hookQueue.Close(closeCtx); err != nil {
				logger.Warn("webhook queue not drained", "error", err)
			}
			cancel()
		}
		if kafkaWriter != nil {
			if err := kafkaWriter.Close(); err != nil {
				logger.Error("kafka writer close error", "error", err)
			}
		}
		if db != nil {
			if err := db.Close(); err != nil {
				logger.Error("heartbeat ledger close error", "error", err)
			}
		}
	}()

	if once {
		report, err := mon.RunOnce(ctx, monitor.TriggerOnce)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, mon, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return mon.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}
