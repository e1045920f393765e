// Package collector assembles fleet metric snapshots for the detector.
package collector

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/common/model"

	"github.com/fleetvisor/fleetvisor/internal/models"
)

// MetricsSource is the subset of the metrics client the collector needs.
type MetricsSource interface {
	QueryVector(ctx context.Context, query string, ts time.Time) (model.Vector, error)
}

// fleetQueries define the snapshot shape: one row per (metric, target).
// Service comes from the job label, cluster from the cluster label.
var fleetQueries = []struct {
	metric string
	query  string
}{
	{metric: "cpu", query: `rate(process_cpu_seconds_total[5m]) * 100`},
	{metric: "memory_mb", query: `process_resident_memory_bytes / 1024 / 1024`},
	{metric: "latency_ms", query: `scrape_duration_seconds * 1000`},
	{metric: "up", query: `up`},
}

// Collector captures fleet-wide snapshots from the metrics source.
type Collector struct {
	source MetricsSource
	logger *slog.Logger
	now    func() time.Time
}

// New builds a Collector.
func New(source MetricsSource, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{source: source, logger: logger, now: time.Now}
}

// Snapshot gathers the current fleet readings. Failing queries are skipped
// with a warning; a snapshot is degraded, never aborted, so the detector
// always has something to classify.
func (c *Collector) Snapshot(ctx context.Context) models.MetricSnapshot {
	ts := c.now().UTC()
	var snapshot models.MetricSnapshot

	for _, fq := range fleetQueries {
		vector, err := c.source.QueryVector(ctx, fq.query, ts)
		if err != nil {
			c.logger.Warn("fleet query failed", "metric", fq.metric, "error", err)
			continue
		}
		for _, sample := range vector {
			snapshot = append(snapshot, models.MetricSample{
				Metric:    fq.metric,
				Service:   labelOr(sample.Metric, "job", "unknown"),
				Cluster:   labelOr(sample.Metric, "cluster", "local-docker"),
				Value:     float64(sample.Value),
				Timestamp: ts,
			})
		}
	}
	return snapshot
}

func labelOr(metric model.Metric, name model.LabelName, fallback string) string {
	if v, ok := metric[name]; ok && v != "" {
		return string(v)
	}
	return fallback
}
