// Package services orchestrates the analysis cycle: snapshot the fleet,
// classify it, publish self-metrics, and promote severe anomalies into the
// playbook engine.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/fleetvisor/fleetvisor/internal/cache"
	"github.com/fleetvisor/fleetvisor/internal/metrics"
	"github.com/fleetvisor/fleetvisor/internal/models"
	"github.com/fleetvisor/fleetvisor/internal/utils"
)

const analysisCacheKey = "fleetvisor:analysis:latest"

// SnapshotSource captures the current fleet readings.
type SnapshotSource interface {
	Snapshot(ctx context.Context) models.MetricSnapshot
}

// Analyzer classifies a snapshot into an analysis result.
type Analyzer interface {
	Analyze(ctx context.Context, snapshot models.MetricSnapshot) *models.AnalysisResult
}

// Dispatcher routes promoted anomaly events to playbooks.
type Dispatcher interface {
	Dispatch(ctx context.Context, event models.Event) []*models.PlaybookRun
}

// AnalysisService drives the periodic detection loop and serves the latest
// result, cached for a short TTL so bursts of API reads do not re-query the
// fleet.
type AnalysisService struct {
	collector   SnapshotSource
	detector    Analyzer
	dispatcher  Dispatcher
	cache       cache.Provider
	cacheTTL    time.Duration
	autoTrigger models.Severity
	interval    time.Duration
	logger      *slog.Logger
	latencies   *utils.LatencyTracker
	now         func() time.Time
}

// Option mutates service construction.
type Option func(*AnalysisService)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *AnalysisService) { s.now = now }
}

// NewAnalysisService wires the analysis cycle. dispatcher may be nil to
// disable anomaly promotion; cacheProvider may be nil to disable caching.
func NewAnalysisService(collector SnapshotSource, detector Analyzer, dispatcher Dispatcher, cacheProvider cache.Provider, cacheTTL time.Duration, autoTrigger models.Severity, interval time.Duration, logger *slog.Logger, opts ...Option) *AnalysisService {
	if logger == nil {
		logger = slog.Default()
	}
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 15 * time.Second
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	s := &AnalysisService{
		collector:   collector,
		detector:    detector,
		dispatcher:  dispatcher,
		cache:       cacheProvider,
		cacheTTL:    cacheTTL,
		autoTrigger: autoTrigger,
		interval:    interval,
		logger:      logger,
		latencies:   utils.NewLatencyTracker(256),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Latest returns the most recent analysis, serving from cache when a result
// is fresh and running a full cycle otherwise.
func (s *AnalysisService) Latest(ctx context.Context) *models.AnalysisResult {
	payload, err := s.cache.Get(ctx, analysisCacheKey)
	if err == nil {
		var result models.AnalysisResult
		if err := json.Unmarshal(payload, &result); err == nil {
			return &result
		}
		s.logger.Warn("discarding undecodable cached analysis", "error", err)
		_ = s.cache.Del(ctx, analysisCacheKey)
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("analysis cache read failed", "error", err)
	}

	return s.RunCycle(ctx)
}

// RunCycle executes one full analysis pass: collect, classify, record
// metrics, cache, and promote severe anomalies. It always produces a result.
func (s *AnalysisService) RunCycle(ctx context.Context) *models.AnalysisResult {
	started := s.now()

	snapshot := s.collector.Snapshot(ctx)
	result := s.detector.Analyze(ctx, snapshot)

	metrics.ObserveAnalysis(result.Engine, result.OverallHealthScore)
	s.latencies.Observe(s.now().Sub(started))

	if payload, err := json.Marshal(result); err == nil {
		if err := s.cache.Set(ctx, analysisCacheKey, payload, s.cacheTTL); err != nil {
			s.logger.Warn("analysis cache write failed", "error", err)
		}
	}

	s.logger.Info("analysis cycle complete",
		"engine", result.Engine,
		"health_score", result.OverallHealthScore,
		"anomalies", len(result.Anomalies),
		"data_points", result.DataPoints)

	s.promote(ctx, result)
	return result
}

// promote turns anomalies at or above the auto-trigger severity into events
// and dispatches them to the playbook engine.
func (s *AnalysisService) promote(ctx context.Context, result *models.AnalysisResult) {
	if s.dispatcher == nil {
		return
	}
	threshold := s.autoTrigger.Rank()
	if threshold == 0 {
		threshold = models.SeverityCritical.Rank()
	}

	for _, anomaly := range result.Anomalies {
		if anomaly.Severity.Rank() < threshold {
			continue
		}
		event := models.Event{
			AlertName:   "AIAnomalyDetected",
			Source:      "detector",
			Service:     anomaly.Service,
			Cluster:     anomaly.Cluster,
			Severity:    anomaly.Severity,
			Metric:      anomaly.Metric,
			Value:       anomaly.Value,
			Description: anomaly.Reasoning,
			ReceivedAt:  s.now().UTC(),
		}
		runs := s.dispatcher.Dispatch(ctx, event)
		s.logger.Info("promoted anomaly to playbooks",
			"service", anomaly.Service,
			"metric", anomaly.Metric,
			"severity", anomaly.Severity,
			"runs", len(runs))
	}
}

// Run drives the detection loop until the context is cancelled. One cycle
// runs immediately so the cache is warm before the first tick.
func (s *AnalysisService) Run(ctx context.Context) {
	s.RunCycle(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("analysis loop stopped")
			return
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

// AverageCycle reports the mean duration of observed analysis cycles.
func (s *AnalysisService) AverageCycle() time.Duration {
	return s.latencies.Average()
}
