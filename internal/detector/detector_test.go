package detector

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/fleetvisor/fleetvisor/internal/models"
)

type fakeCompleter struct {
	response string
	err      error
	calls    int
}

func (f *fakeCompleter) Complete(_ context.Context, _ string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *fakeCompleter) Name() string { return "fake(test-model)" }

func sampleAt(metric, service string, value float64) models.MetricSample {
	return models.MetricSample{
		Metric:    metric,
		Service:   service,
		Cluster:   "k8s-paas-scw-1",
		Value:     value,
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestAnalyzeEmptySnapshot(t *testing.T) {
	d := New(nil, slog.Default())
	res := d.Analyze(context.Background(), nil)

	if res.DataPoints != 0 {
		t.Errorf("data points = %d, want 0", res.DataPoints)
	}
	if res.OverallHealthScore != 100 {
		t.Errorf("health = %v, want 100", res.OverallHealthScore)
	}
	if len(res.Anomalies) != 0 || res.AnomaliesDetected {
		t.Errorf("expected no anomalies, got %+v", res.Anomalies)
	}
	if len(res.Insights) == 0 {
		t.Error("expected an all-clear insight")
	}
}

func TestAnalyzeAllHealthy(t *testing.T) {
	d := New(nil, slog.Default())
	snapshot := models.MetricSnapshot{
		sampleAt("cpu", "vmagent", 42.0),
		sampleAt("memory_mb", "vmagent", 210.0),
		sampleAt("error_rate", "vmagent", 0.2),
		sampleAt("latency_ms", "vmagent", 120.0),
		sampleAt("up", "vmagent", 1.0),
	}

	res := d.Analyze(context.Background(), snapshot)
	if len(res.Anomalies) != 0 {
		t.Fatalf("expected no anomalies, got %+v", res.Anomalies)
	}
	if res.OverallHealthScore != 100 {
		t.Errorf("health = %v, want 100", res.OverallHealthScore)
	}
	if res.DataPoints != 5 {
		t.Errorf("data points = %d, want 5", res.DataPoints)
	}
	if res.Engine != EngineRuleBased {
		t.Errorf("engine = %q, want %q", res.Engine, EngineRuleBased)
	}
}

func TestAnalyzeCriticalCPU(t *testing.T) {
	d := New(nil, slog.Default())
	res := d.Analyze(context.Background(), models.MetricSnapshot{
		sampleAt("cpu", "vmagent", 94.7),
	})

	if len(res.Anomalies) != 1 {
		t.Fatalf("expected exactly one anomaly, got %d", len(res.Anomalies))
	}
	a := res.Anomalies[0]
	if a.Severity != models.SeverityCritical {
		t.Errorf("severity = %q, want critical", a.Severity)
	}
	if a.Value != 94.7 {
		t.Errorf("value = %v", a.Value)
	}
	if res.OverallHealthScore != 85 {
		t.Errorf("health = %v, want 85", res.OverallHealthScore)
	}
	if !res.AnomaliesDetected {
		t.Error("anomalies_detected should be true")
	}
}

func TestThresholdTiers(t *testing.T) {
	tests := []struct {
		metric string
		value  float64
		want   models.Severity
		none   bool
	}{
		{metric: "cpu", value: 70.0, none: true},
		{metric: "cpu", value: 75.0, want: models.SeverityMedium},
		{metric: "cpu", value: 85.0, want: models.SeverityHigh},
		{metric: "cpu", value: 95.0, want: models.SeverityCritical},
		{metric: "memory_mb", value: 410.0, want: models.SeverityMedium},
		{metric: "memory_mb", value: 490.0, want: models.SeverityCritical},
		{metric: "error_rate", value: 2.0, want: models.SeverityMedium},
		{metric: "error_rate", value: 7.0, want: models.SeverityHigh},
		{metric: "error_rate", value: 12.4, want: models.SeverityCritical},
		{metric: "latency_ms", value: 600.0, want: models.SeverityMedium},
		{metric: "latency_ms", value: 1500.0, want: models.SeverityHigh},
		{metric: "latency_ms", value: 2340.0, want: models.SeverityCritical},
		{metric: "up", value: 1.0, none: true},
		{metric: "up", value: 0.0, want: models.SeverityCritical},
		{metric: "disk_iops", value: 99999.0, none: true},
	}

	for _, tc := range tests {
		a, ok := evaluateSample(sampleAt(tc.metric, "svc", tc.value))
		if tc.none {
			if ok {
				t.Errorf("%s=%v: unexpected anomaly %+v", tc.metric, tc.value, a)
			}
			continue
		}
		if !ok {
			t.Errorf("%s=%v: expected anomaly", tc.metric, tc.value)
			continue
		}
		if a.Severity != tc.want {
			t.Errorf("%s=%v: severity = %q, want %q", tc.metric, tc.value, a.Severity, tc.want)
		}
		if a.Reasoning == "" {
			t.Errorf("%s=%v: empty reasoning", tc.metric, tc.value)
		}
	}
}

func TestHealthScoreMonotonicAndClamped(t *testing.T) {
	mk := func(sev models.Severity, n int) []models.Anomaly {
		out := make([]models.Anomaly, n)
		for i := range out {
			out[i] = models.Anomaly{Severity: sev}
		}
		return out
	}

	prev := 100.0
	for n := 1; n <= 10; n++ {
		score := healthScore(mk(models.SeverityCritical, n))
		if score > prev {
			t.Fatalf("health score increased from %v to %v at %d criticals", prev, score, n)
		}
		prev = score
	}
	if got := healthScore(mk(models.SeverityCritical, 10)); got != 0 {
		t.Errorf("10 criticals: health = %v, want clamp at 0", got)
	}
	if got := healthScore(mk(models.SeverityHigh, 2)); got != 84 {
		t.Errorf("2 high: health = %v, want 84", got)
	}
	if got := healthScore(mk(models.SeverityMedium, 3)); got != 91 {
		t.Errorf("3 medium: health = %v, want 91", got)
	}
}

func TestReasoningLayerFencedJSON(t *testing.T) {
	fc := &fakeCompleter{response: "Here is my analysis:\n```json\n" + `{
		"anomalies": [{
			"metric": "cpu", "service": "vmagent", "cluster": "k8s-paas-scw-1",
			"value": 94.7, "anomaly_score": -0.82, "severity": "critical",
			"reasoning": "sustained saturation"
		}],
		"overall_health_score": 72,
		"insights": ["one", "two", "three", "four"]
	}` + "\n```"}

	d := New(fc, slog.Default())
	res := d.Analyze(context.Background(), models.MetricSnapshot{sampleAt("cpu", "vmagent", 94.7)})

	if res.Engine != "reasoning/fake(test-model)" {
		t.Fatalf("engine = %q", res.Engine)
	}
	if res.OverallHealthScore != 72 {
		t.Errorf("health = %v, want 72", res.OverallHealthScore)
	}
	if len(res.Anomalies) != 1 || res.Anomalies[0].Severity != models.SeverityCritical {
		t.Errorf("anomalies = %+v", res.Anomalies)
	}
	if len(res.Insights) != 4 {
		t.Errorf("insights = %v", res.Insights)
	}
}

func TestReasoningLayerFallsBack(t *testing.T) {
	tests := []struct {
		name string
		fc   *fakeCompleter
	}{
		{name: "provider error", fc: &fakeCompleter{err: errors.New("timeout")}},
		{name: "invalid json", fc: &fakeCompleter{response: "{not json at all"}},
		{name: "no json object", fc: &fakeCompleter{response: "everything looks fine to me"}},
		{name: "too few insights", fc: &fakeCompleter{response: `{"anomalies": [], "overall_health_score": 90, "insights": ["only one"]}`}},
		{name: "score out of range", fc: &fakeCompleter{response: `{"anomalies": [], "overall_health_score": 140, "insights": ["a","b","c","d"]}`}},
		{name: "bad severity", fc: &fakeCompleter{response: `{"anomalies": [{"metric":"cpu","service":"s","severity":"catastrophic","reasoning":"x"}], "overall_health_score": 50, "insights": ["a","b","c","d"]}`}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := New(tc.fc, slog.Default())
			res := d.Analyze(context.Background(), models.MetricSnapshot{sampleAt("cpu", "vmagent", 94.7)})
			if res == nil {
				t.Fatal("result must never be nil")
			}
			if res.Engine != EngineRuleBased {
				t.Fatalf("engine = %q, want fallback %q", res.Engine, EngineRuleBased)
			}
			if tc.fc.calls != 1 {
				t.Errorf("completer calls = %d, want 1", tc.fc.calls)
			}
			if len(res.Anomalies) != 1 {
				t.Errorf("fallback anomalies = %d, want 1", len(res.Anomalies))
			}
		})
	}
}

func TestInsightsClustering(t *testing.T) {
	anomalies := []models.Anomaly{
		{Metric: "cpu", Service: "vmagent", Cluster: "a", Severity: models.SeverityCritical},
		{Metric: "cpu", Service: "vmagent", Cluster: "a", Severity: models.SeverityHigh},
		{Metric: "cpu", Service: "gateway", Cluster: "b", Severity: models.SeverityMedium},
	}
	insights := buildInsights(anomalies)
	if len(insights) < 3 {
		t.Fatalf("insights = %v", insights)
	}

	var hasCritical, hasService, hasDominant bool
	for _, in := range insights {
		switch {
		case in == "1 critical anomalies detected, immediate attention required":
			hasCritical = true
		case in == `service "vmagent" showing 2 anomalies, possible degradation`:
			hasService = true
		case in == "CPU-related anomalies dominant, possible resource exhaustion":
			hasDominant = true
		}
	}
	if !hasCritical || !hasService || !hasDominant {
		t.Errorf("missing expected insights, got %v", insights)
	}
}
