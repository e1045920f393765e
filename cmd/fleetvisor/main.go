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

	"github.com/fleetvisor/fleetvisor/internal/api"
	"github.com/fleetvisor/fleetvisor/internal/cache"
	"github.com/fleetvisor/fleetvisor/internal/collector"
	"github.com/fleetvisor/fleetvisor/internal/config"
	"github.com/fleetvisor/fleetvisor/internal/detector"
	"github.com/fleetvisor/fleetvisor/internal/engine"
	"github.com/fleetvisor/fleetvisor/internal/metrics"
	"github.com/fleetvisor/fleetvisor/internal/models"
	"github.com/fleetvisor/fleetvisor/internal/notify"
	"github.com/fleetvisor/fleetvisor/internal/playbooks"
	"github.com/fleetvisor/fleetvisor/internal/reasoning"
	"github.com/fleetvisor/fleetvisor/internal/repo"
	"github.com/fleetvisor/fleetvisor/internal/services"
	"github.com/fleetvisor/fleetvisor/internal/utils"
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

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting fleetvisor", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var cacheProvider cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Password:     cfg.Cache.Password,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
		})
		if err != nil {
			logger.Warn("valkey cache unavailable", slog.Any("error", err))
		} else {
			cacheProvider = provider
		}
	}
	defer cacheProvider.Close()

	victoria, err := repo.NewVictoriaClient(cfg.Sources.Victoria.BaseURL, cfg.Sources.Victoria.Timeout, logger)
	if err != nil {
		logger.Error("failed to create metrics client", slog.Any("error", err))
		os.Exit(1)
	}
	loki := repo.NewLokiClient(cfg.Sources.Loki.BaseURL, cfg.Sources.Loki.Timeout, cfg.Sources.Loki.Limit, logger)

	var kube *repo.KubeClient
	if cfg.Sources.Kube.Enabled {
		kube, err = repo.NewKubeClient(cfg.Sources.Kube.Kubeconfig, cfg.Sources.Kube.Namespace, cfg.Sources.Kube.Timeout, logger)
		if err != nil {
			logger.Warn("cluster access unavailable, workload evidence disabled", slog.Any("error", err))
			kube = nil
		}
	}

	completer, err := reasoning.New(cfg.Reasoning)
	if err != nil {
		logger.Warn("reasoning provider unavailable, running rule-based only", slog.Any("error", err))
		completer = nil
	}

	// Typed nils must not leak into interface fields.
	var workloads engine.WorkloadSource
	var pbWorkloads playbooks.WorkloadSource
	var remediator playbooks.Remediator
	if kube != nil {
		workloads = kube
		pbWorkloads = kube
		remediator = kube
	}

	investigator := engine.NewInvestigator(victoria, loki, workloads, completer, logger)

	var notifier playbooks.Notifier = notify.NoopNotifier{}
	if cfg.Notify.WebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.Notify.WebhookURL, cfg.Notify.Timeout, logger)
	}

	pbEngine := playbooks.NewEngine(investigator, notifier, remediator, pbWorkloads, cfg.Notify.Channel, logger)
	for _, pb := range playbooks.Defaults() {
		pbEngine.Register(pb)
	}
	pack, err := playbooks.LoadPack(cfg.Playbooks.Path)
	if err != nil {
		logger.Error("failed to load playbook pack", slog.String("path", cfg.Playbooks.Path), slog.Any("error", err))
		os.Exit(1)
	}
	for _, pb := range pack {
		pbEngine.Register(pb)
	}

	det := detector.New(completer, logger)
	coll := collector.New(victoria, logger)
	analysis := services.NewAnalysisService(
		coll,
		det,
		pbEngine,
		cacheProvider,
		cfg.Cache.AnalysisTTL,
		models.Severity(cfg.Detector.AutoTrigger),
		cfg.Detector.Interval,
		logger,
	)

	handlers := api.NewHandlers(analysis, investigator, pbEngine, logger)
	server := api.NewServer(cfg.Server, handlers, logger)

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

	go analysis.Run(ctx)

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("http server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", slog.Any("error", err))
	}

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("fleetvisor stopped")
}
