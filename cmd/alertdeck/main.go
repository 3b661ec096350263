package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alertdeck/alertdeck/internal/api"
	"github.com/alertdeck/alertdeck/internal/cache"
	"github.com/alertdeck/alertdeck/internal/config"
	"github.com/alertdeck/alertdeck/internal/enrich"
	"github.com/alertdeck/alertdeck/internal/metrics"
	"github.com/alertdeck/alertdeck/internal/notify"
	"github.com/alertdeck/alertdeck/internal/pipeline"
	"github.com/alertdeck/alertdeck/internal/repo"
	"github.com/alertdeck/alertdeck/internal/usage"
	"github.com/alertdeck/alertdeck/internal/utils"
	"github.com/alertdeck/alertdeck/internal/ws"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting alertdeck",
		slog.String("address", cfg.Server.Address),
		slog.Duration("poll_interval", cfg.Pipeline.PollInterval))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	store := cache.NewStore(cfg.Pipeline.CacheSize)
	tokens := usage.NewTracker()

	zabbix := repo.NewZabbixClient(cfg.Zabbix.URL, cfg.Zabbix.Username, cfg.Zabbix.Password, cfg.Zabbix.Timeout)
	enricher := enrich.NewClient(cfg.OpenAI, tokens, logger)

	var notifier pipeline.Notifier
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		notifier = notify.NewTelegramNotifier(cfg.Telegram)
	} else {
		logger.Warn("telegram not configured, chat notifications disabled")
	}

	hub := ws.NewHub(logger, func() ws.Message {
		return ws.SnapshotMessage(store.ListRecent(0), tokens.Total())
	})

	pipe := pipeline.NewPipeline(logger, cfg.Pipeline, zabbix, zabbix, enricher, notifier, hub, store)

	server, err := api.NewServer(cfg.Server, logger, hub, store, tokens)
	if err != nil {
		logger.Error("failed to create dashboard server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		logger.Info("dashboard server listening", slog.String("address", server.Address()))
		if serveErr := server.Start(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Error("dashboard server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	go pipe.Run(ctx)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("dashboard server shutdown", slog.Any("error", err))
	}
	hub.Close()

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Drain in-flight enrichments and sink deliveries.
	pipe.Wait()
	logger.Info("alertdeck stopped")
}
