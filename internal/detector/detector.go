// Package detector classifies fleet metric snapshots into anomalies. It is
// layered: a reasoning backend is asked first, and any failure there drops
// to a deterministic threshold table so a well-formed result is always
// produced.
package detector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fleetvisor/fleetvisor/internal/models"
	"github.com/fleetvisor/fleetvisor/internal/reasoning"
)

// EngineRuleBased tags results produced by the fallback layer.
const EngineRuleBased = "rule-based"

// Detector runs two-layer anomaly analysis over metric snapshots.
type Detector struct {
	completer reasoning.Completer
	logger    *slog.Logger
	now       func() time.Time
}

// Option mutates detector construction.
type Option func(*Detector)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// New builds a Detector. completer may be nil, in which case only the
// rule-based layer runs.
func New(completer reasoning.Completer, logger *slog.Logger, opts ...Option) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Detector{completer: completer, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Analyze classifies the snapshot. It never returns an error: reasoning
// failures degrade to the threshold layer, and an empty snapshot yields a
// clean bill of health.
func (d *Detector) Analyze(ctx context.Context, snapshot models.MetricSnapshot) *models.AnalysisResult {
	if len(snapshot) == 0 {
		return &models.AnalysisResult{
			Anomalies:          []models.Anomaly{},
			OverallHealthScore: 100,
			Insights:           buildInsights(nil),
			AnomaliesDetected:  false,
			Engine:             EngineRuleBased,
			AnalysisTimestamp:  d.now().UTC(),
			DataPoints:         0,
		}
	}

	if d.completer != nil {
		result, err := d.analyzeWithReasoning(ctx, snapshot)
		if err == nil {
			return result
		}
		d.logger.Warn("reasoning analysis failed, falling back to rules",
			"provider", d.completer.Name(), "error", err)
	}

	return d.analyzeWithRules(snapshot)
}

func (d *Detector) analyzeWithRules(snapshot models.MetricSnapshot) *models.AnalysisResult {
	anomalies := []models.Anomaly{}
	for _, sample := range snapshot {
		if a, ok := evaluateSample(sample); ok {
			anomalies = append(anomalies, a)
		}
	}

	return &models.AnalysisResult{
		Anomalies:          anomalies,
		OverallHealthScore: healthScore(anomalies),
		Insights:           buildInsights(anomalies),
		AnomaliesDetected:  len(anomalies) > 0,
		Engine:             EngineRuleBased,
		AnalysisTimestamp:  d.now().UTC(),
		DataPoints:         len(snapshot),
	}
}

// reasoningPayload is the schema the reasoning backend is asked to emit.
type reasoningPayload struct {
	Anomalies []struct {
		Metric       string  `json:"metric"`
		Service      string  `json:"service"`
		Cluster      string  `json:"cluster"`
		Value        float64 `json:"value"`
		AnomalyScore float64 `json:"anomaly_score"`
		Severity     string  `json:"severity"`
		Reasoning    string  `json:"reasoning"`
	} `json:"anomalies"`
	OverallHealthScore float64  `json:"overall_health_score"`
	Insights           []string `json:"insights"`
}

func (d *Detector) analyzeWithReasoning(ctx context.Context, snapshot models.MetricSnapshot) (*models.AnalysisResult, error) {
	raw, err := d.completer.Complete(ctx, buildAnalysisPrompt(snapshot))
	if err != nil {
		return nil, err
	}

	text, err := reasoning.ExtractJSON(raw)
	if err != nil {
		return nil, err
	}

	var payload reasoningPayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, fmt.Errorf("decode analysis payload: %w", err)
	}
	if err := validatePayload(&payload); err != nil {
		return nil, err
	}

	ts := d.now().UTC()
	anomalies := make([]models.Anomaly, 0, len(payload.Anomalies))
	for _, a := range payload.Anomalies {
		anomalies = append(anomalies, models.Anomaly{
			Metric:       a.Metric,
			Service:      a.Service,
			Cluster:      a.Cluster,
			Value:        a.Value,
			AnomalyScore: a.AnomalyScore,
			Severity:     models.Severity(strings.ToLower(a.Severity)),
			Timestamp:    ts,
			Reasoning:    a.Reasoning,
		})
	}

	return &models.AnalysisResult{
		Anomalies:          anomalies,
		OverallHealthScore: payload.OverallHealthScore,
		Insights:           payload.Insights,
		AnomaliesDetected:  len(anomalies) > 0,
		Engine:             "reasoning/" + d.completer.Name(),
		AnalysisTimestamp:  ts,
		DataPoints:         len(snapshot),
	}, nil
}

func validatePayload(p *reasoningPayload) error {
	if p.OverallHealthScore < 0 || p.OverallHealthScore > 100 {
		return fmt.Errorf("health score %.1f out of range", p.OverallHealthScore)
	}
	if len(p.Insights) < 4 || len(p.Insights) > 6 {
		return fmt.Errorf("expected 4-6 insights, got %d", len(p.Insights))
	}
	for i, a := range p.Anomalies {
		if a.Metric == "" || a.Service == "" || a.Reasoning == "" {
			return fmt.Errorf("anomaly %d missing metric, service or reasoning", i)
		}
		switch models.Severity(strings.ToLower(a.Severity)) {
		case models.SeverityLow, models.SeverityMedium, models.SeverityHigh, models.SeverityCritical:
		default:
			return fmt.Errorf("anomaly %d has unknown severity %q", i, a.Severity)
		}
	}
	return nil
}

func buildAnalysisPrompt(snapshot models.MetricSnapshot) string {
	var b strings.Builder
	b.WriteString("Analyze the following container fleet metric readings for anomalies.\n")
	b.WriteString("Healthy ranges: cpu below 70%, memory below 400MB, error_rate below 1%, latency_ms below 500, up equal to 1.\n\n")
	b.WriteString("Readings:\n")
	for _, s := range snapshot {
		fmt.Fprintf(&b, "- service=%s cluster=%s metric=%s value=%.2f at=%s\n",
			s.Service, s.Cluster, s.Metric, s.Value, s.Timestamp.UTC().Format(time.RFC3339))
	}
	b.WriteString("\nRespond with a single JSON object, no prose, matching:\n")
	b.WriteString(`{"anomalies": [{"metric": "...", "service": "...", "cluster": "...", "value": 0.0, "anomaly_score": -0.5, "severity": "low|medium|high|critical", "reasoning": "..."}], "overall_health_score": 0-100, "insights": ["4 to 6 short observations"]}`)
	b.WriteString("\nReport only genuine anomalies; an empty anomalies list is a valid answer.")
	return b.String()
}
