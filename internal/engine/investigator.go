// Package engine runs root-cause investigations: ordered evidence phases
// over the metrics, log and orchestration sources, followed by synthesis.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fleetvisor/fleetvisor/internal/metrics"
	"github.com/fleetvisor/fleetvisor/internal/models"
	"github.com/fleetvisor/fleetvisor/internal/reasoning"
	"github.com/fleetvisor/fleetvisor/internal/utils"
)

const (
	defaultLookback  = 5 * time.Minute
	defaultActiveTTL = 2 * time.Minute
	maxLogEvidence   = 20
	maxLedger        = 200
)

// MetricsSource provides per-service metric evidence.
type MetricsSource interface {
	ServiceMetrics(ctx context.Context, service string, at time.Time) (map[string]float64, error)
}

// LogSource provides log evidence for a service over a window.
type LogSource interface {
	QueryRange(ctx context.Context, service string, start, end time.Time) ([]models.LogLine, error)
}

// WorkloadSource provides orchestration context. May be absent.
type WorkloadSource interface {
	DescribeWorkload(ctx context.Context, service, cluster string) (*models.WorkloadStatus, error)
}

type activeEntry struct {
	id        string
	startedAt time.Time
}

// Investigator owns the investigation ledger. At most one active
// investigation exists per (service, cluster); duplicate triggers coalesce
// into the existing identifier.
type Investigator struct {
	metrics   MetricsSource
	logs      LogSource
	workloads WorkloadSource
	completer reasoning.Completer
	logger    *slog.Logger
	tracker   *utils.LatencyTracker
	now       func() time.Time
	lookback  time.Duration
	activeTTL time.Duration

	mu             sync.Mutex
	investigations map[string]*models.Investigation
	order          []string
	active         map[string]activeEntry
}

// InvestigatorOption mutates construction.
type InvestigatorOption func(*Investigator)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) InvestigatorOption {
	return func(iv *Investigator) { iv.now = now }
}

// WithActiveTTL overrides how long a non-terminal investigation blocks new
// ones for the same (service, cluster).
func WithActiveTTL(ttl time.Duration) InvestigatorOption {
	return func(iv *Investigator) { iv.activeTTL = ttl }
}

// WithLookback overrides the evidence window.
func WithLookback(d time.Duration) InvestigatorOption {
	return func(iv *Investigator) { iv.lookback = d }
}

// NewInvestigator builds an Investigator. workloads and completer may be
// nil; the corresponding phases degrade.
func NewInvestigator(ms MetricsSource, ls LogSource, ws WorkloadSource, completer reasoning.Completer, logger *slog.Logger, opts ...InvestigatorOption) *Investigator {
	if logger == nil {
		logger = slog.Default()
	}
	iv := &Investigator{
		metrics:        ms,
		logs:           ls,
		workloads:      ws,
		completer:      completer,
		logger:         logger,
		tracker:        utils.NewLatencyTracker(256),
		now:            time.Now,
		lookback:       defaultLookback,
		activeTTL:      defaultActiveTTL,
		investigations: make(map[string]*models.Investigation),
		active:         make(map[string]activeEntry),
	}
	for _, opt := range opts {
		opt(iv)
	}
	return iv
}

func coalescingKey(ev models.Event) string {
	cluster := ev.Cluster
	if cluster == "" {
		cluster = "default"
	}
	return ev.Service + "/" + cluster
}

// Investigate runs the full evidence pipeline for the alert and returns the
// finished investigation. A duplicate trigger for a (service, cluster) pair
// already under investigation returns the existing record instead of
// starting a second one.
func (iv *Investigator) Investigate(ctx context.Context, alert models.Event) *models.Investigation {
	started := iv.now().UTC()

	if alert.Service == "" {
		inv := &models.Investigation{
			ID:         newInvestigationID(),
			Status:     models.InvestigationFailed,
			Alert:      alert,
			StartedAt:  started,
			Steps:      []models.EvidenceStep{},
			RootCause:  "alert carries no resolvable service, evidence gathering is not possible",
			Confidence: models.ConfidenceLow,
		}
		iv.finish(inv, "", models.InvestigationFailed)
		iv.logger.Warn("investigation failed, unresolvable event", "id", inv.ID, "alertname", alert.AlertName)
		return iv.snapshot(inv.ID)
	}

	key := coalescingKey(alert)

	iv.mu.Lock()
	if entry, ok := iv.active[key]; ok && iv.now().Sub(entry.startedAt) < iv.activeTTL {
		if existing := iv.investigations[entry.id]; existing != nil && !existing.Status.Terminal() {
			id := entry.id
			iv.mu.Unlock()
			iv.logger.Info("coalesced duplicate trigger into active investigation", "id", id, "key", key)
			return iv.snapshot(id)
		}
	}

	inv := &models.Investigation{
		ID:             newInvestigationID(),
		Status:         models.InvestigationPending,
		Alert:          alert,
		StartedAt:      started,
		Steps:          []models.EvidenceStep{},
		LogEvidence:    []models.LogLine{},
		MetricEvidence: map[string]float64{},
	}
	iv.storeLocked(inv)
	iv.active[key] = activeEntry{id: inv.ID, startedAt: started}
	inv.Status = models.InvestigationInvestigating
	iv.mu.Unlock()

	iv.logger.Info("investigating", "id", inv.ID, "service", alert.Service, "cluster", alert.Cluster, "alertname", alert.AlertName)

	iv.gatherMetricEvidence(ctx, inv)
	iv.gatherLogEvidence(ctx, inv)
	iv.gatherWorkloadContext(ctx, inv)
	iv.synthesize(ctx, inv)

	iv.finish(inv, key, models.InvestigationComplete)
	return iv.snapshot(inv.ID)
}

func newInvestigationID() string {
	return "inv-" + uuid.NewString()
}

func (iv *Investigator) gatherMetricEvidence(ctx context.Context, inv *models.Investigation) {
	query := fmt.Sprintf("up{job=%q}, cpu, memory [now]", inv.Alert.Service)
	evidence, err := iv.metrics.ServiceMetrics(ctx, inv.Alert.Service, iv.now())

	iv.mu.Lock()
	defer iv.mu.Unlock()
	if err != nil {
		iv.appendStep(inv, "victoria-metrics", query, fmt.Sprintf("metrics source unavailable: %v", err))
		return
	}
	inv.MetricEvidence = evidence
	iv.appendStep(inv, "victoria-metrics", query, fmt.Sprintf(
		"CPU: %.1f%%  Memory: %.0fMB  Up: %s",
		evidence["cpu_usage_pct"], evidence["memory_mb"], yesNo(evidence["up"] == 1)))
}

func (iv *Investigator) gatherLogEvidence(ctx context.Context, inv *models.Investigation) {
	end := iv.now()
	query := fmt.Sprintf("{job=%q} [last %s]", inv.Alert.Service, iv.lookback)
	lines, err := iv.logs.QueryRange(ctx, inv.Alert.Service, end.Add(-iv.lookback), end)

	iv.mu.Lock()
	defer iv.mu.Unlock()
	if err != nil {
		iv.appendStep(inv, "loki", query, fmt.Sprintf("log source unavailable: %v", err))
		return
	}

	errors := 0
	for _, line := range lines {
		if line.Level == "error" || line.Level == "warn" {
			errors++
		}
	}
	// Keep the newest lines when over the evidence cap.
	if len(lines) > maxLogEvidence {
		lines = lines[len(lines)-maxLogEvidence:]
	}
	inv.LogEvidence = lines
	iv.appendStep(inv, "loki", query, fmt.Sprintf(
		"found %d log lines (%d errors/warnings) in past %s", len(lines), errors, iv.lookback))
}

func (iv *Investigator) gatherWorkloadContext(ctx context.Context, inv *models.Investigation) {
	query := fmt.Sprintf("describe workload %s", inv.Alert.Service)
	if iv.workloads == nil {
		iv.mu.Lock()
		iv.appendStep(inv, "kubernetes", query, "skipped: no cluster access configured")
		iv.mu.Unlock()
		return
	}

	status, err := iv.workloads.DescribeWorkload(ctx, inv.Alert.Service, inv.Alert.Cluster)

	iv.mu.Lock()
	defer iv.mu.Unlock()
	if err != nil {
		iv.appendStep(inv, "kubernetes", query, fmt.Sprintf("workload context unavailable: %v", err))
		return
	}
	inv.K8sContext = status

	restarts := 0
	for _, c := range status.Containers {
		restarts += c.RestartCount
	}
	iv.appendStep(inv, "kubernetes", query, fmt.Sprintf(
		"pod %s phase=%s restarts=%d events=%d", status.Name, status.Status, restarts, len(status.Events)))
}

func (iv *Investigator) synthesize(ctx context.Context, inv *models.Investigation) {
	if iv.completer != nil {
		res, err := synthesizeWithReasoning(ctx, iv.completer, inv)
		if err == nil {
			// Publish under the ledger lock so concurrent snapshots never see
			// a half-applied synthesis.
			iv.mu.Lock()
			res.apply(inv)
			iv.appendStep(inv, "synthesis", "reasoning/"+iv.completer.Name(), inv.RootCause)
			iv.mu.Unlock()
			return
		}
		iv.logger.Warn("reasoning synthesis failed, synthesizing deterministically", "id", inv.ID, "error", err)
	}

	iv.mu.Lock()
	defer iv.mu.Unlock()
	synthesizeDeterministic(inv)
	iv.appendStep(inv, "synthesis", "deterministic heuristics", inv.RootCause)
}

// appendStep must be called with iv.mu held.
func (iv *Investigator) appendStep(inv *models.Investigation, tool, query, result string) {
	inv.Steps = append(inv.Steps, models.EvidenceStep{
		Tool:      tool,
		Query:     query,
		Result:    result,
		Timestamp: iv.now().UTC(),
	})
}

// finish records the terminal transition exactly once and releases the
// (service, cluster) slot.
func (iv *Investigator) finish(inv *models.Investigation, key string, status models.InvestigationStatus) {
	iv.mu.Lock()
	defer iv.mu.Unlock()

	if inv.CompletedAt != nil {
		return
	}
	completed := iv.now().UTC()
	if completed.Before(inv.StartedAt) {
		completed = inv.StartedAt
	}
	duration := utils.DurationSeconds(inv.StartedAt, completed)
	inv.Status = status
	inv.CompletedAt = &completed
	inv.DurationSeconds = &duration

	if key != "" {
		delete(iv.active, key)
	}
	if _, ok := iv.investigations[inv.ID]; !ok {
		iv.storeLocked(inv)
	}

	iv.tracker.Observe(completed.Sub(inv.StartedAt))
	metrics.ObserveInvestigation(string(status), duration)
	iv.logger.Info("investigation finished", "id", inv.ID, "status", status,
		"duration_seconds", duration, "confidence", inv.Confidence)
}

// storeLocked must be called with iv.mu held.
func (iv *Investigator) storeLocked(inv *models.Investigation) {
	iv.investigations[inv.ID] = inv
	iv.order = append(iv.order, inv.ID)
	for len(iv.order) > maxLedger {
		oldest := iv.order[0]
		iv.order = iv.order[1:]
		delete(iv.investigations, oldest)
	}
}

// Get returns a copy of the investigation with the given id.
func (iv *Investigator) Get(id string) (*models.Investigation, error) {
	inv := iv.snapshot(id)
	if inv == nil {
		return nil, utils.NewAppError("engine.get", fmt.Sprintf("investigation %q", id), utils.ErrNotFound)
	}
	return inv, nil
}

// List returns up to limit investigations, newest first.
func (iv *Investigator) List(limit int) []*models.Investigation {
	iv.mu.Lock()
	ids := make([]string, len(iv.order))
	copy(ids, iv.order)
	iv.mu.Unlock()

	if limit <= 0 || limit > len(ids) {
		limit = len(ids)
	}
	out := make([]*models.Investigation, 0, limit)
	for i := len(ids) - 1; i >= 0 && len(out) < limit; i-- {
		if inv := iv.snapshot(ids[i]); inv != nil {
			out = append(out, inv)
		}
	}
	return out
}

// AverageDuration reports the mean wall-clock investigation time.
func (iv *Investigator) AverageDuration() time.Duration {
	return iv.tracker.Average()
}

// snapshot returns a deep copy so callers never observe in-flight mutation.
func (iv *Investigator) snapshot(id string) *models.Investigation {
	iv.mu.Lock()
	defer iv.mu.Unlock()

	inv, ok := iv.investigations[id]
	if !ok {
		return nil
	}
	out := *inv
	out.Steps = append([]models.EvidenceStep(nil), inv.Steps...)
	out.LogEvidence = append([]models.LogLine(nil), inv.LogEvidence...)
	out.Findings = append([]string(nil), inv.Findings...)
	out.Recommendations = append([]string(nil), inv.Recommendations...)
	if inv.MetricEvidence != nil {
		out.MetricEvidence = make(map[string]float64, len(inv.MetricEvidence))
		for k, v := range inv.MetricEvidence {
			out.MetricEvidence[k] = v
		}
	}
	if inv.K8sContext != nil {
		ctxCopy := *inv.K8sContext
		ctxCopy.Containers = append([]models.ContainerStatus(nil), inv.K8sContext.Containers...)
		ctxCopy.Events = append([]models.WorkloadEvent(nil), inv.K8sContext.Events...)
		out.K8sContext = &ctxCopy
	}
	if inv.CompletedAt != nil {
		t := *inv.CompletedAt
		out.CompletedAt = &t
	}
	if inv.DurationSeconds != nil {
		d := *inv.DurationSeconds
		out.DurationSeconds = &d
	}
	return &out
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "NO"
}
