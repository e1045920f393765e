package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fleetvisor/fleetvisor/internal/models"
	"github.com/fleetvisor/fleetvisor/internal/reasoning"
)

// evidenceSummary condenses the gathered phases for synthesis.
type evidenceSummary struct {
	alert      models.Event
	metrics    map[string]float64
	logLines   []models.LogLine
	errorLines []models.LogLine
	workload   *models.WorkloadStatus
	restarts   int
	lastState  string
	metricsOK  bool
	logsOK     bool
}

func summarizeEvidence(inv *models.Investigation) evidenceSummary {
	s := evidenceSummary{
		alert:     inv.Alert,
		metrics:   inv.MetricEvidence,
		logLines:  inv.LogEvidence,
		workload:  inv.K8sContext,
		metricsOK: len(inv.MetricEvidence) > 0,
		logsOK:    len(inv.LogEvidence) > 0,
	}
	for _, line := range inv.LogEvidence {
		upper := strings.ToUpper(line.Line)
		if line.Level == "error" || containsAny(upper, "ERROR", "FATAL", "EXCEPTION", "CRITICAL", "OOM", "KILLED", "FAIL", "TIMEOUT") {
			s.errorLines = append(s.errorLines, line)
		}
	}
	if inv.K8sContext != nil {
		for _, c := range inv.K8sContext.Containers {
			s.restarts += c.RestartCount
			if c.LastState != "" {
				s.lastState = c.LastState
			}
		}
	}
	return s
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// baselineConfidence applies the corroboration rule: high when log and
// metric evidence agree on the same metric family, low when only one source
// returned data, medium otherwise.
func baselineConfidence(ev evidenceSummary) models.Confidence {
	sources := 0
	if ev.metricsOK {
		sources++
	}
	if ev.logsOK {
		sources++
	}
	if sources <= 1 {
		return models.ConfidenceLow
	}

	family := strings.ToLower(ev.alert.Metric)
	if family != "" {
		for name := range ev.metrics {
			if strings.Contains(strings.ToLower(name), family) || strings.Contains(family, strings.ToLower(name)) {
				for _, line := range ev.errorLines {
					if strings.Contains(strings.ToLower(line.Line), family) {
						return models.ConfidenceHigh
					}
				}
			}
		}
	}
	return models.ConfidenceMedium
}

// synthesizeDeterministic produces the root cause, summary, findings,
// recommendations and confidence from evidence alone, without the reasoning
// backend. Branch order mirrors the triage a human would do: kill signals
// first, liveness, then saturation, then dependency failures.
func synthesizeDeterministic(inv *models.Investigation) {
	ev := summarizeEvidence(inv)
	service := ev.alert.Service

	cpu := ev.metrics["cpu_usage_pct"]
	mem := ev.metrics["memory_mb"]
	up, hasUp := ev.metrics["up"]
	errorCount := len(ev.errorLines)

	var oomLines, timeoutLines int
	for _, line := range ev.errorLines {
		upper := strings.ToUpper(line.Line)
		if containsAny(upper, "OOM", "KILLED", "OOMKILL") {
			oomLines++
		}
		if containsAny(upper, "TIMEOUT", "DEADLINE", "CONNECTION REFUSED") {
			timeoutLines++
		}
	}

	switch {
	case oomLines > 0 || ev.lastState == "OOMKilled" || (mem > 450 && ev.restarts > 0):
		inv.Confidence = models.ConfidenceHigh
		inv.RootCause = fmt.Sprintf(
			"OOMKill: %s exceeded its memory limit and was killed. Evidence: %d OOM log entries, %d restart(s), memory at %.0fMB.",
			service, oomLines, ev.restarts, mem)
		inv.Findings = []string{
			fmt.Sprintf("container %s was OOMKilled, %d restart(s) recorded", service, ev.restarts),
			fmt.Sprintf("memory at %.0fMB, approaching the container limit", mem),
			fmt.Sprintf("%d OOM-related log entries in the investigation window", oomLines),
		}
		inv.Recommendations = []string{
			"increase the container memory limit in the deployment spec",
			"profile heap usage to find the allocation hot spot",
			"check for unbounded caches or data accumulation in recent changes",
			"alert at 80% memory so the next kill can be prevented",
		}

	case (hasUp && up == 0) || ev.alert.AlertName == "ServiceDown" || ev.alert.AlertName == "InstanceDown":
		inv.Confidence = models.ConfidenceHigh
		inv.RootCause = fmt.Sprintf(
			"%s is not responding to health checks (up=0). %d errors in logs, %d restart(s).",
			service, errorCount, ev.restarts)
		inv.Findings = []string{
			fmt.Sprintf("%s health check returning failure, up metric = 0", service),
			fmt.Sprintf("%d error log entries in the investigation window", errorCount),
			fmt.Sprintf("workload restart count: %d", ev.restarts),
		}
		if timeoutLines > 0 {
			inv.Findings = append(inv.Findings,
				fmt.Sprintf("%d connection timeout errors, possible downstream dependency failure", timeoutLines))
		}
		inv.Recommendations = []string{
			"check the workload phase and startup logs for an init crash",
			"verify config and secrets are mounted correctly",
			"test downstream dependency health",
			"add a readiness probe to keep traffic off unhealthy instances",
		}

	case cpu > 80:
		if cpu > 90 {
			inv.Confidence = models.ConfidenceHigh
		} else {
			inv.Confidence = models.ConfidenceMedium
		}
		inv.RootCause = fmt.Sprintf(
			"CPU exhaustion: %s consuming %.0f%% CPU. Performance degradation likely; %d errors observed.",
			service, cpu, errorCount)
		inv.Findings = []string{
			fmt.Sprintf("CPU at %.0f%%, significantly above the 70%% healthy threshold", cpu),
			fmt.Sprintf("memory at %.0fMB, secondary indicator only", mem),
			fmt.Sprintf("%d error log entries, some may be caused by CPU starvation", errorCount),
		}
		inv.Recommendations = []string{
			"scale horizontally or enable an autoscaler at 70% CPU",
			"profile CPU hot spots under load",
			"raise the CPU limit in the deployment spec",
			"check for tight loops or blocking I/O in recent changes",
		}

	case timeoutLines > 0:
		inv.Confidence = models.ConfidenceMedium
		inv.RootCause = fmt.Sprintf(
			"Dependency failure: %s cannot reach downstream services (%d timeout errors in logs).",
			service, timeoutLines)
		inv.Findings = []string{
			fmt.Sprintf("%d connection timeout or deadline exceeded errors in logs", timeoutLines),
			fmt.Sprintf("service itself is up (CPU %.1f%%, memory %.0fMB), issue is external", cpu, mem),
			fmt.Sprintf("%d total errors, majority connection-related", errorCount),
		}
		inv.Recommendations = []string{
			"check downstream service health and recent deployments",
			"verify network policies and DNS resolution from the workload",
			"add retry with backoff and a circuit breaker to prevent cascade",
		}

	default:
		inv.Confidence = baselineConfidence(ev)
		inv.RootCause = fmt.Sprintf(
			"Anomalous behaviour detected in %s: metrics deviate from baseline, deeper investigation required.",
			service)
		inv.Findings = []string{
			fmt.Sprintf("CPU %.1f%%, memory %.0fMB, up=%v", cpu, mem, up),
			fmt.Sprintf("%d error log entries in the investigation window", errorCount),
			fmt.Sprintf("workload restarts: %d", ev.restarts),
		}
		inv.Recommendations = []string{
			"compare current metrics to the 24h baseline",
			"check rollout history for recent deployments",
			"enable debug logging temporarily for deeper visibility",
		}
	}

	inv.AISummary = fmt.Sprintf(
		"Investigation summary for %s: %s Evidence shows CPU at %.1f%%, memory at %.0fMB, %d error log entries, %d restart(s). Confidence: %s.",
		service, inv.RootCause, cpu, mem, errorCount, ev.restarts, inv.Confidence)
}

// synthesisPayload is the schema requested from the reasoning backend.
type synthesisPayload struct {
	RootCause       string   `json:"root_cause"`
	Summary         string   `json:"summary"`
	Findings        []string `json:"findings"`
	Recommendations []string `json:"recommendations"`
	Confidence      string   `json:"confidence"`
}

// synthesisResult is a validated synthesis, decoupled from the investigation
// so the blocking completion call runs without the ledger lock and the fields
// are published in one locked apply.
type synthesisResult struct {
	rootCause       string
	summary         string
	findings        []string
	recommendations []string
	confidence      models.Confidence
}

// apply must be called with the ledger lock held.
func (r *synthesisResult) apply(inv *models.Investigation) {
	inv.RootCause = r.rootCause
	inv.AISummary = r.summary
	inv.Findings = r.findings
	inv.Recommendations = r.recommendations
	inv.Confidence = r.confidence
}

func synthesizeWithReasoning(ctx context.Context, completer reasoning.Completer, inv *models.Investigation) (*synthesisResult, error) {
	raw, err := completer.Complete(ctx, buildSynthesisPrompt(inv))
	if err != nil {
		return nil, err
	}
	text, err := reasoning.ExtractJSON(raw)
	if err != nil {
		return nil, err
	}

	var payload synthesisPayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, fmt.Errorf("decode synthesis payload: %w", err)
	}
	if payload.RootCause == "" || payload.Summary == "" {
		return nil, fmt.Errorf("synthesis payload missing root_cause or summary")
	}
	confidence := models.Confidence(strings.ToLower(payload.Confidence))
	switch confidence {
	case models.ConfidenceLow, models.ConfidenceMedium, models.ConfidenceHigh:
	default:
		return nil, fmt.Errorf("synthesis payload has unknown confidence %q", payload.Confidence)
	}

	return &synthesisResult{
		rootCause:       payload.RootCause,
		summary:         payload.Summary,
		findings:        payload.Findings,
		recommendations: payload.Recommendations,
		confidence:      confidence,
	}, nil
}

func buildSynthesisPrompt(inv *models.Investigation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Determine the root cause for an alert on service %q (cluster %q).\n", inv.Alert.Service, inv.Alert.Cluster)
	fmt.Fprintf(&b, "Alert: name=%s severity=%s metric=%s value=%.2f description=%s\n\n",
		inv.Alert.AlertName, inv.Alert.Severity, inv.Alert.Metric, inv.Alert.Value, inv.Alert.Description)

	b.WriteString("Metric evidence:\n")
	for name, value := range inv.MetricEvidence {
		fmt.Fprintf(&b, "- %s = %.2f\n", name, value)
	}
	b.WriteString("\nLog evidence:\n")
	for _, line := range inv.LogEvidence {
		fmt.Fprintf(&b, "- [%s] %s\n", line.Level, line.Line)
	}
	if inv.K8sContext != nil {
		fmt.Fprintf(&b, "\nWorkload %s status=%s\n", inv.K8sContext.Name, inv.K8sContext.Status)
		for _, c := range inv.K8sContext.Containers {
			fmt.Fprintf(&b, "- container %s ready=%v restarts=%d last_state=%s\n", c.Name, c.Ready, c.RestartCount, c.LastState)
		}
		for _, e := range inv.K8sContext.Events {
			fmt.Fprintf(&b, "- event %s/%s: %s (x%d)\n", e.Type, e.Reason, e.Message, e.Count)
		}
	}

	b.WriteString("\nRespond with a single JSON object, no prose, matching:\n")
	b.WriteString(`{"root_cause": "...", "summary": "2-4 sentences", "findings": ["..."], "recommendations": ["ranked, most urgent first"], "confidence": "low|medium|high"}`)
	return b.String()
}
