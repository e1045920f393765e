package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	analysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetvisor",
			Name:      "analyses_total",
			Help:      "Total number of fleet analyses, partitioned by producing engine.",
		},
		[]string{"engine"},
	)

	fleetHealthScore = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fleetvisor",
			Name:      "fleet_health_score",
			Help:      "Most recent overall fleet health score (0-100).",
		},
	)

	investigationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetvisor",
			Name:      "investigations_total",
			Help:      "Total number of investigations, partitioned by terminal status.",
		},
		[]string{"status"},
	)

	investigationDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fleetvisor",
			Name:      "investigation_seconds",
			Help:      "Investigation wall-clock duration in seconds.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 3, 4, 5, 6, 8, 10, 15},
		},
	)

	playbookRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetvisor",
			Name:      "playbook_runs_total",
			Help:      "Total number of playbook runs, partitioned by terminal status.",
		},
		[]string{"status"},
	)
)

// Register attaches fleetvisor collectors to the supplied Prometheus
// registerer. Re-registration is tolerated so tests can share the default
// registry.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		analysesTotal,
		fleetHealthScore,
		investigationsTotal,
		investigationDurationSeconds,
		playbookRunsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveAnalysis records one analysis cycle.
func ObserveAnalysis(engine string, healthScore float64) {
	analysesTotal.WithLabelValues(engine).Inc()
	fleetHealthScore.Set(healthScore)
}

// ObserveInvestigation records a terminal investigation.
func ObserveInvestigation(status string, durationSeconds float64) {
	investigationsTotal.WithLabelValues(status).Inc()
	if durationSeconds < 0 {
		durationSeconds = 0
	}
	investigationDurationSeconds.Observe(durationSeconds)
}

// ObservePlaybookRun records a finished playbook run.
func ObservePlaybookRun(status string) {
	playbookRunsTotal.WithLabelValues(status).Inc()
}
