package playbooks

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetvisor/fleetvisor/internal/models"
)

type fakeInvestigator struct {
	inv   *models.Investigation
	calls int
}

func (f *fakeInvestigator) Investigate(_ context.Context, alert models.Event) *models.Investigation {
	f.calls++
	if f.inv != nil {
		return f.inv
	}
	return &models.Investigation{
		ID:         "inv-fixed",
		Status:     models.InvestigationComplete,
		Alert:      alert,
		RootCause:  "CPU exhaustion",
		Confidence: models.ConfidenceHigh,
	}
}

type fakeNotifier struct {
	err      error
	messages []string
}

func (f *fakeNotifier) Send(_ context.Context, _, message string) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, message)
	return nil
}

type fakeRemediator struct {
	err    error
	scaled []string
}

func (f *fakeRemediator) ScaleDeployment(_ context.Context, service string, _ int32) error {
	if f.err != nil {
		return f.err
	}
	f.scaled = append(f.scaled, service)
	return nil
}

func criticalCPUEvent() models.Event {
	return models.Event{
		AlertName: "HighCPUUsage",
		Source:    "alertmanager",
		Service:   "vmagent",
		Cluster:   "k8s-paas-scw-1",
		Severity:  models.SeverityCritical,
		Metric:    "cpu",
		Value:     94.7,
	}
}

func newTestEngine(t *testing.T, notifier Notifier, remediator Remediator) (*Engine, *fakeInvestigator) {
	t.Helper()
	fi := &fakeInvestigator{}
	if notifier == nil {
		notifier = &fakeNotifier{}
	}
	return NewEngine(fi, notifier, remediator, nil, "ops", slog.Default()), fi
}

func TestDispatchNoMatch(t *testing.T) {
	e, _ := newTestEngine(t, nil, nil)
	e.Register(&models.Playbook{
		Name:     "narrow",
		Triggers: []models.Trigger{{AlertNames: []string{"SomethingElse"}}},
		Actions:  []models.Action{{Name: "n", Type: models.ActionNotify}},
	})

	runs := e.Dispatch(context.Background(), criticalCPUEvent())
	assert.Empty(t, runs)
}

func TestDispatchRunsMatchingPlaybooks(t *testing.T) {
	e, fi := newTestEngine(t, nil, nil)
	for _, pb := range Defaults() {
		e.Register(pb)
	}

	runs := e.Dispatch(context.Background(), criticalCPUEvent())

	// on_high_cpu (alertname + metric) and on_critical_alert (severity).
	require.Len(t, runs, 2)
	names := []string{runs[0].PlaybookName, runs[1].PlaybookName}
	assert.Contains(t, names, "on_high_cpu")
	assert.Contains(t, names, "on_critical_alert")
	assert.Equal(t, 2, fi.calls, "each run triggers its own investigation")

	for _, run := range runs {
		assert.Equal(t, models.RunSuccess, run.Status)
		assert.Equal(t, "inv-fixed", run.InvestigationID)
		assert.Equal(t, "CPU exhaustion", run.Enrichment["root_cause"])
		assert.Equal(t, "high", run.Enrichment["confidence"])
		require.NotNil(t, run.CompletedAt)
		assert.False(t, run.CompletedAt.Before(run.StartedAt))
	}
}

func TestRunPartialFailureStaysSuccess(t *testing.T) {
	notifier := &fakeNotifier{err: errors.New("webhook 500")}
	e, _ := newTestEngine(t, notifier, nil)
	pb := &models.Playbook{
		Name:     "three_steps",
		Triggers: []models.Trigger{{Severities: []models.Severity{models.SeverityCritical}}},
		Actions: []models.Action{
			{Name: "investigate", Type: models.ActionInvestigate},
			{Name: "page", Type: models.ActionNotify},
			{Name: "recommend", Type: models.ActionRecommend},
		},
	}
	e.Register(pb)

	runs := e.Dispatch(context.Background(), criticalCPUEvent())
	require.Len(t, runs, 1)
	run := runs[0]

	require.Len(t, run.ActionsTaken, 3, "every action gets a record")
	assert.Equal(t, models.RunSuccess, run.Status, "one failure among successes is not a failed run")
	assert.Contains(t, run.ActionsTaken[1].Result, "failed:")
	assert.NotContains(t, run.ActionsTaken[2].Result, "failed:", "execution continues after a failure")
}

func TestRunAllExecutedFailing(t *testing.T) {
	notifier := &fakeNotifier{err: errors.New("webhook down")}
	e, _ := newTestEngine(t, notifier, nil)
	e.Register(&models.Playbook{
		Name:     "notify_twice",
		Triggers: []models.Trigger{{Severities: []models.Severity{models.SeverityCritical}}},
		Actions: []models.Action{
			{Name: "page_primary", Type: models.ActionNotify},
			{Name: "page_secondary", Type: models.ActionNotify},
		},
	})

	runs := e.Dispatch(context.Background(), criticalCPUEvent())
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunFailed, runs[0].Status)
}

func TestRemediateGatedByAutoRemediate(t *testing.T) {
	remediator := &fakeRemediator{}
	e, _ := newTestEngine(t, nil, remediator)
	e.Register(&models.Playbook{
		Name:          "gated",
		AutoRemediate: false,
		Triggers:      []models.Trigger{{Severities: []models.Severity{models.SeverityCritical}}},
		Actions:       []models.Action{{Name: "scale_out", Type: models.ActionRemediate}},
	})

	runs := e.Dispatch(context.Background(), criticalCPUEvent())
	require.Len(t, runs, 1)
	run := runs[0]

	require.Len(t, run.ActionsTaken, 1)
	assert.Equal(t, "skipped: auto_remediate disabled", run.ActionsTaken[0].Result)
	assert.Empty(t, remediator.scaled)
	assert.Equal(t, models.RunSuccess, run.Status, "all-skipped run is a success, not a failure")
}

func TestRemediateExecutesWhenEnabled(t *testing.T) {
	remediator := &fakeRemediator{}
	e, _ := newTestEngine(t, nil, remediator)
	e.Register(&models.Playbook{
		Name:          "auto",
		AutoRemediate: true,
		Triggers:      []models.Trigger{{ReasonContains: "oom"}},
		Actions:       []models.Action{{Name: "scale_out", Type: models.ActionRemediate}},
	})

	event := models.Event{Service: "worker", Reason: "OOMKilling", Severity: models.SeverityHigh}
	runs := e.Dispatch(context.Background(), event)
	require.Len(t, runs, 1)
	assert.Equal(t, []string{"worker"}, remediator.scaled)
	assert.Contains(t, runs[0].ActionsTaken[0].Result, "scaled worker")
}

func TestRunCountAndLedger(t *testing.T) {
	e, _ := newTestEngine(t, nil, nil)
	pb := &models.Playbook{
		Name:     "counter",
		Triggers: []models.Trigger{{Severities: []models.Severity{models.SeverityCritical}}},
		Actions:  []models.Action{{Name: "recommend", Type: models.ActionRecommend}},
	}
	e.Register(pb)

	e.Dispatch(context.Background(), criticalCPUEvent())
	e.Dispatch(context.Background(), criticalCPUEvent())

	assert.Equal(t, 2, pb.RunCount)
	require.NotNil(t, pb.LastRun)

	runs := e.ListRuns(10)
	require.Len(t, runs, 2)

	got, err := e.GetRun(runs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, runs[0].ID, got.ID)

	_, err = e.GetRun("run-missing")
	assert.Error(t, err)
}

func TestListReturnsSnapshots(t *testing.T) {
	e, _ := newTestEngine(t, nil, nil)
	e.Register(&models.Playbook{
		Name:     "counter",
		Triggers: []models.Trigger{{Severities: []models.Severity{models.SeverityCritical}}},
		Actions:  []models.Action{{Name: "recommend", Type: models.ActionRecommend}},
	})

	before := e.List()
	require.Len(t, before, 1)

	e.Dispatch(context.Background(), criticalCPUEvent())

	// The pre-dispatch snapshot must not alias the registry entry, whose
	// run bookkeeping mutates under the engine lock.
	assert.Equal(t, 0, before[0].RunCount)
	assert.Nil(t, before[0].LastRun)

	after := e.List()
	require.Len(t, after, 1)
	assert.Equal(t, 1, after[0].RunCount)
	require.NotNil(t, after[0].LastRun)

	// Mutating a returned copy leaves the registry untouched.
	after[0].RunCount = 99
	assert.Equal(t, 1, e.List()[0].RunCount)
}

func TestEventLedgerRecordsDispatches(t *testing.T) {
	e, _ := newTestEngine(t, nil, nil)

	e.Dispatch(context.Background(), criticalCPUEvent())
	e.Dispatch(context.Background(), models.Event{AlertName: "DiskPressure", Service: "loki"})

	events := e.ListEvents(10)
	require.Len(t, events, 2, "unmatched events are recorded too")
	assert.Equal(t, "DiskPressure", events[0].AlertName, "newest first")
	assert.Equal(t, "HighCPUUsage", events[1].AlertName)
	for _, ev := range events {
		assert.NotEmpty(t, ev.ID)
		assert.False(t, ev.ReceivedAt.IsZero())
	}
}

func TestNotifyIncludesRootCauseEnrichment(t *testing.T) {
	notifier := &fakeNotifier{}
	e, _ := newTestEngine(t, notifier, nil)
	e.Register(&models.Playbook{
		Name:     "enriched_notify",
		Triggers: []models.Trigger{{Severities: []models.Severity{models.SeverityCritical}}},
		Actions: []models.Action{
			{Name: "investigate", Type: models.ActionInvestigate},
			{Name: "page", Type: models.ActionNotify},
		},
	})

	e.Dispatch(context.Background(), criticalCPUEvent())
	require.Len(t, notifier.messages, 1)
	assert.Contains(t, notifier.messages[0], "root cause: CPU exhaustion")
}
