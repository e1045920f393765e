package detector

import (
	"fmt"
	"strings"

	"github.com/fleetvisor/fleetvisor/internal/models"
)

// Threshold tiers for the deterministic fallback layer. Values are breached
// strictly (>), except the service-up flag which fires on exact zero.
type thresholdRule struct {
	warning  float64
	high     float64
	critical float64
	hasWarn  bool
	hasHigh  bool
	hasCrit  bool
	unit     string
}

var thresholdRules = map[string]thresholdRule{
	"cpu":     {warning: 70, high: 80, critical: 90, hasWarn: true, hasHigh: true, hasCrit: true, unit: "%"},
	"memory":  {warning: 400, critical: 480, hasWarn: true, hasCrit: true, unit: "MB"},
	"error":   {warning: 1, high: 5, critical: 10, hasWarn: true, hasHigh: true, hasCrit: true, unit: "%"},
	"latency": {warning: 500, high: 1000, critical: 2000, hasWarn: true, hasHigh: true, hasCrit: true, unit: "ms"},
}

// metricFamily buckets a raw metric name into the rule table key.
func metricFamily(metric string) string {
	m := strings.ToLower(metric)
	switch {
	case strings.Contains(m, "cpu"):
		return "cpu"
	case strings.Contains(m, "memory"), strings.Contains(m, "mem_"):
		return "memory"
	case strings.Contains(m, "error"):
		return "error"
	case strings.Contains(m, "latency"), strings.Contains(m, "duration"):
		return "latency"
	case m == "up" || strings.HasSuffix(m, "_up"):
		return "up"
	default:
		return ""
	}
}

// evaluateSample applies the threshold table to one reading. The returned
// anomaly carries the highest tier breached; ok is false when no threshold
// is crossed or the metric has no rule.
func evaluateSample(s models.MetricSample) (models.Anomaly, bool) {
	family := metricFamily(s.Metric)
	if family == "" {
		return models.Anomaly{}, false
	}

	if family == "up" {
		if s.Value != 0 {
			return models.Anomaly{}, false
		}
		return models.Anomaly{
			Metric:       s.Metric,
			Service:      s.Service,
			Cluster:      s.Cluster,
			Value:        0,
			AnomalyScore: scoreFor(models.SeverityCritical),
			Severity:     models.SeverityCritical,
			Timestamp:    s.Timestamp,
			Reasoning:    fmt.Sprintf("service-up flag is 0 for %s: target is down or unreachable", s.Service),
			Details:      map[string]float64{"threshold": 0},
		}, true
	}

	rule := thresholdRules[family]
	var severity models.Severity
	var threshold float64
	switch {
	case rule.hasCrit && s.Value > rule.critical:
		severity, threshold = models.SeverityCritical, rule.critical
	case rule.hasHigh && s.Value > rule.high:
		severity, threshold = models.SeverityHigh, rule.high
	case rule.hasWarn && s.Value > rule.warning:
		severity, threshold = models.SeverityMedium, rule.warning
	default:
		return models.Anomaly{}, false
	}

	return models.Anomaly{
		Metric:       s.Metric,
		Service:      s.Service,
		Cluster:      s.Cluster,
		Value:        s.Value,
		AnomalyScore: scoreFor(severity),
		Severity:     severity,
		Timestamp:    s.Timestamp,
		Reasoning:    fmt.Sprintf("%s reading %.1f%s exceeds %s threshold %.0f%s", family, s.Value, rule.unit, severity, threshold, rule.unit),
		Details:      map[string]float64{"threshold": threshold},
	}, true
}

// scoreFor maps a severity tier onto the score scale the reasoning layer
// uses, where more negative means more anomalous.
func scoreFor(sev models.Severity) float64 {
	switch sev {
	case models.SeverityCritical:
		return -0.8
	case models.SeverityHigh:
		return -0.6
	default:
		return -0.4
	}
}

// healthScore applies the severity-weighted penalty, floored at 0.
func healthScore(anomalies []models.Anomaly) float64 {
	var critical, high, medium int
	for _, a := range anomalies {
		switch a.Severity {
		case models.SeverityCritical:
			critical++
		case models.SeverityHigh:
			high++
		case models.SeverityMedium:
			medium++
		}
	}
	score := 100.0 - 15.0*float64(critical) - 8.0*float64(high) - 3.0*float64(medium)
	if score < 0 {
		score = 0
	}
	return score
}
