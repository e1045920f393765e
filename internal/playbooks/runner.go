// Package playbooks matches inbound events to playbooks and executes their
// actions in order, keeping a bounded run ledger.
package playbooks

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fleetvisor/fleetvisor/internal/metrics"
	"github.com/fleetvisor/fleetvisor/internal/models"
	"github.com/fleetvisor/fleetvisor/internal/utils"
)

const (
	maxRunLedger   = 200
	maxEventLedger = 200
)

// Investigator runs root-cause investigations for investigate actions.
type Investigator interface {
	Investigate(ctx context.Context, alert models.Event) *models.Investigation
}

// Notifier delivers notify-action messages.
type Notifier interface {
	Send(ctx context.Context, channel, message string) error
}

// Remediator is the external remediation hook, gated by auto_remediate.
type Remediator interface {
	ScaleDeployment(ctx context.Context, service string, replicas int32) error
}

// WorkloadSource answers k8s_query actions. May be absent.
type WorkloadSource interface {
	DescribeWorkload(ctx context.Context, service, cluster string) (*models.WorkloadStatus, error)
}

// Engine is the playbook registry and runner.
type Engine struct {
	investigator Investigator
	notifier     Notifier
	remediator   Remediator
	workloads    WorkloadSource
	channel      string
	logger       *slog.Logger
	now          func() time.Time

	mu        sync.Mutex
	playbooks []*models.Playbook
	runs      map[string]*models.PlaybookRun
	runOrder  []string
	events    []models.Event
}

// EngineOption mutates construction.
type EngineOption func(*Engine)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine builds a playbook engine. remediator and workloads may be nil;
// the corresponding action types degrade to recorded skips.
func NewEngine(inv Investigator, notifier Notifier, remediator Remediator, workloads WorkloadSource, channel string, logger *slog.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		investigator: inv,
		notifier:     notifier,
		remediator:   remediator,
		workloads:    workloads,
		channel:      channel,
		logger:       logger,
		now:          time.Now,
		runs:         make(map[string]*models.PlaybookRun),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register adds a playbook to the registry.
func (e *Engine) Register(pb *models.Playbook) {
	if pb.ID == "" {
		pb.ID = "pb-" + uuid.NewString()
	}
	if pb.CreatedAt.IsZero() {
		pb.CreatedAt = e.now().UTC()
	}
	e.mu.Lock()
	e.playbooks = append(e.playbooks, pb)
	e.mu.Unlock()
	e.logger.Info("registered playbook", "id", pb.ID, "name", pb.Name)
}

// Dispatch routes an event to every matching playbook, executing each match
// as an independent run. Returns the finished runs; an empty slice means no
// playbook matched.
func (e *Engine) Dispatch(ctx context.Context, event models.Event) []*models.PlaybookRun {
	if event.ID == "" {
		event.ID = "ev-" + uuid.NewString()
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = e.now().UTC()
	}

	e.mu.Lock()
	e.events = append(e.events, event)
	if len(e.events) > maxEventLedger {
		e.events = e.events[len(e.events)-maxEventLedger:]
	}
	var matched []*models.Playbook
	for _, pb := range e.playbooks {
		if pb.Triggered(event) {
			matched = append(matched, pb)
		}
	}
	e.mu.Unlock()

	if len(matched) == 0 {
		e.logger.Info("no playbooks matched", "alertname", event.AlertName, "service", event.Service)
		return []*models.PlaybookRun{}
	}

	runs := make([]*models.PlaybookRun, 0, len(matched))
	for _, pb := range matched {
		runs = append(runs, e.run(ctx, pb, event))
	}
	return runs
}

func (e *Engine) run(ctx context.Context, pb *models.Playbook, event models.Event) *models.PlaybookRun {
	started := e.now().UTC()
	run := &models.PlaybookRun{
		ID:           "run-" + uuid.NewString(),
		PlaybookID:   pb.ID,
		PlaybookName: pb.Name,
		Event:        event,
		StartedAt:    started,
		Status:       models.RunRunning,
		ActionsTaken: []models.ActionRecord{},
		Enrichment:   map[string]string{},
	}
	e.logger.Info("running playbook", "run", run.ID, "playbook", pb.Name, "alertname", event.AlertName)

	executed, failed := 0, 0
	for _, action := range pb.Actions {
		record := models.ActionRecord{
			Action:      action.Name,
			Type:        action.Type,
			Description: action.Description,
			Timestamp:   e.now().UTC(),
		}

		result, skipped, err := e.execute(ctx, pb, action, event, run)
		switch {
		case skipped:
			record.Result = result
		case err != nil:
			executed++
			failed++
			record.Result = fmt.Sprintf("failed: %v", err)
			e.logger.Warn("playbook action failed", "run", run.ID, "action", action.Name, "error", err)
		default:
			executed++
			record.Result = result
		}
		run.ActionsTaken = append(run.ActionsTaken, record)
	}

	completed := e.now().UTC()
	duration := utils.DurationSeconds(started, completed)
	run.CompletedAt = &completed
	run.DurationSeconds = &duration
	if executed > 0 && failed == executed {
		run.Status = models.RunFailed
	} else {
		run.Status = models.RunSuccess
	}

	e.mu.Lock()
	pb.RunCount++
	last := completed
	pb.LastRun = &last
	e.storeRunLocked(run)
	e.mu.Unlock()

	metrics.ObservePlaybookRun(run.Status)
	e.logger.Info("playbook run finished", "run", run.ID, "status", run.Status, "actions", len(run.ActionsTaken))
	return run
}

// execute performs one action. skipped=true means the action did not run
// and must not count toward failure semantics.
func (e *Engine) execute(ctx context.Context, pb *models.Playbook, action models.Action, event models.Event, run *models.PlaybookRun) (result string, skipped bool, err error) {
	switch action.Type {
	case models.ActionInvestigate:
		inv := e.investigator.Investigate(ctx, event)
		run.InvestigationID = inv.ID
		run.Enrichment["root_cause"] = inv.RootCause
		run.Enrichment["confidence"] = string(inv.Confidence)
		if inv.Status == models.InvestigationFailed {
			return "", false, fmt.Errorf("investigation %s failed: %s", inv.ID, inv.RootCause)
		}
		return fmt.Sprintf("investigation %s complete (confidence %s)", inv.ID, inv.Confidence), false, nil

	case models.ActionNotify:
		message := fmt.Sprintf("[%s] %s on %s/%s: %s", event.Severity, event.AlertName, event.Cluster, event.Service, event.Description)
		if rc := run.Enrichment["root_cause"]; rc != "" {
			message += " | root cause: " + rc
		}
		if err := e.notifier.Send(ctx, e.channel, message); err != nil {
			return "", false, err
		}
		return "notification sent", false, nil

	case models.ActionRemediate:
		if !pb.AutoRemediate {
			return "skipped: auto_remediate disabled", true, nil
		}
		if e.remediator == nil {
			return "skipped: no remediation hook configured", true, nil
		}
		replicas := int32(3)
		if err := e.remediator.ScaleDeployment(ctx, event.Service, replicas); err != nil {
			return "", false, err
		}
		return fmt.Sprintf("scaled %s to %d replicas", event.Service, replicas), false, nil

	case models.ActionK8sQuery:
		if e.workloads == nil {
			return "skipped: no cluster access configured", true, nil
		}
		status, err := e.workloads.DescribeWorkload(ctx, event.Service, event.Cluster)
		if err != nil {
			return "", false, err
		}
		restarts := 0
		for _, c := range status.Containers {
			restarts += c.RestartCount
		}
		return fmt.Sprintf("pod %s phase=%s restarts=%d events=%d", status.Name, status.Status, restarts, len(status.Events)), false, nil

	case models.ActionRecommend:
		rec := recommendation(event)
		run.Enrichment["recommendation"] = rec
		return rec, false, nil

	case models.ActionCorrelate:
		summary := fmt.Sprintf("correlated %s across cluster %s: metric %s at %.1f",
			event.AlertName, event.Cluster, event.Metric, event.Value)
		run.Enrichment["correlation"] = summary
		return summary, false, nil

	default:
		return "", false, fmt.Errorf("unknown action type %q", action.Type)
	}
}

// recommendation templates the recommend action from the event's metric.
func recommendation(event models.Event) string {
	family := strings.ToLower(event.Metric)
	switch {
	case strings.Contains(family, "cpu"):
		return fmt.Sprintf("scale %s horizontally or raise its CPU limit; usage at %.1f%%", event.Service, event.Value)
	case strings.Contains(family, "memory"):
		return fmt.Sprintf("raise the memory limit for %s and profile heap growth; usage at %.0fMB", event.Service, event.Value)
	case strings.Contains(family, "latency"):
		return fmt.Sprintf("add caching or scale %s; latency at %.0fms", event.Service, event.Value)
	default:
		return fmt.Sprintf("review recent deployments and baselines for %s", event.Service)
	}
}

// storeRunLocked must be called with e.mu held.
func (e *Engine) storeRunLocked(run *models.PlaybookRun) {
	e.runs[run.ID] = run
	e.runOrder = append(e.runOrder, run.ID)
	for len(e.runOrder) > maxRunLedger {
		oldest := e.runOrder[0]
		e.runOrder = e.runOrder[1:]
		delete(e.runs, oldest)
	}
}

// List returns copies of the registered playbooks. Run bookkeeping mutates
// the registry entries under the engine lock, so callers get a snapshot
// rather than the shared pointers.
func (e *Engine) List() []*models.Playbook {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*models.Playbook, 0, len(e.playbooks))
	for _, pb := range e.playbooks {
		cp := *pb
		cp.Triggers = append([]models.Trigger(nil), pb.Triggers...)
		cp.Actions = append([]models.Action(nil), pb.Actions...)
		cp.Tags = append([]string(nil), pb.Tags...)
		if pb.LastRun != nil {
			last := *pb.LastRun
			cp.LastRun = &last
		}
		out = append(out, &cp)
	}
	return out
}

// GetRun returns one run record by id.
func (e *Engine) GetRun(id string) (*models.PlaybookRun, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	run, ok := e.runs[id]
	if !ok {
		return nil, utils.NewAppError("playbooks.get_run", fmt.Sprintf("run %q", id), utils.ErrNotFound)
	}
	return run, nil
}

// ListEvents returns up to limit received events, newest first.
func (e *Engine) ListEvents(limit int) []models.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	if limit <= 0 || limit > len(e.events) {
		limit = len(e.events)
	}
	out := make([]models.Event, 0, limit)
	for i := len(e.events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, e.events[i])
	}
	return out
}

// ListRuns returns up to limit run records, newest first.
func (e *Engine) ListRuns(limit int) []*models.PlaybookRun {
	e.mu.Lock()
	defer e.mu.Unlock()
	if limit <= 0 || limit > len(e.runOrder) {
		limit = len(e.runOrder)
	}
	out := make([]*models.PlaybookRun, 0, limit)
	for i := len(e.runOrder) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, e.runs[e.runOrder[i]])
	}
	return out
}
