package models

import (
	"strings"
	"time"
)

// Action types a playbook may run.
const (
	ActionInvestigate = "investigate"
	ActionK8sQuery    = "k8s_query"
	ActionNotify      = "notify"
	ActionRecommend   = "recommend"
	ActionCorrelate   = "correlate"
	ActionRemediate   = "remediate"
)

// Trigger is one declarative match condition. A trigger fires when every
// non-empty field group matches the event; a trigger with no populated
// groups never fires.
type Trigger struct {
	AlertNames     []string   `json:"alertnames,omitempty" yaml:"alertnames,omitempty"`
	Severities     []Severity `json:"severities,omitempty" yaml:"severities,omitempty"`
	MetricContains string     `json:"metric_contains,omitempty" yaml:"metric_contains,omitempty"`
	MinValue       *float64   `json:"min_value,omitempty" yaml:"min_value,omitempty"`
	Sources        []string   `json:"sources,omitempty" yaml:"sources,omitempty"`
	ReasonContains string     `json:"reason_contains,omitempty" yaml:"reason_contains,omitempty"`
}

// Matches reports whether the event satisfies every populated field group.
func (t Trigger) Matches(ev Event) bool {
	matched := false

	if len(t.AlertNames) > 0 {
		if !containsFold(t.AlertNames, ev.AlertName) {
			return false
		}
		matched = true
	}
	if len(t.Severities) > 0 {
		found := false
		for _, s := range t.Severities {
			if s == ev.Severity {
				found = true
				break
			}
		}
		if !found {
			return false
		}
		matched = true
	}
	if t.MetricContains != "" {
		if !strings.Contains(strings.ToLower(ev.Metric), strings.ToLower(t.MetricContains)) {
			return false
		}
		if t.MinValue != nil && ev.Value < *t.MinValue {
			return false
		}
		matched = true
	}
	if len(t.Sources) > 0 {
		if !containsFold(t.Sources, ev.Source) {
			return false
		}
		matched = true
	}
	if t.ReasonContains != "" {
		if !strings.Contains(strings.ToLower(ev.Reason), strings.ToLower(t.ReasonContains)) {
			return false
		}
		matched = true
	}

	return matched
}

func containsFold(hay []string, needle string) bool {
	for _, h := range hay {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}

// Action is one step in a playbook's ordered action list.
type Action struct {
	Name        string            `json:"name" yaml:"name"`
	Type        string            `json:"type" yaml:"type"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Params      map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
}

// Playbook binds triggers to an ordered action list.
type Playbook struct {
	ID            string     `json:"id" yaml:"id"`
	Name          string     `json:"name" yaml:"name"`
	Description   string     `json:"description,omitempty" yaml:"description,omitempty"`
	Triggers      []Trigger  `json:"triggers" yaml:"triggers"`
	Actions       []Action   `json:"actions" yaml:"actions"`
	AutoRemediate bool       `json:"auto_remediate" yaml:"auto_remediate"`
	Tags          []string   `json:"tags,omitempty" yaml:"tags,omitempty"`
	RunCount      int        `json:"run_count" yaml:"-"`
	LastRun       *time.Time `json:"last_run,omitempty" yaml:"-"`
	CreatedAt     time.Time  `json:"created_at" yaml:"-"`
}

// Triggered reports whether any of the playbook's triggers fires for the
// event.
func (p *Playbook) Triggered(ev Event) bool {
	for _, t := range p.Triggers {
		if t.Matches(ev) {
			return true
		}
	}
	return false
}

// Run statuses.
const (
	RunRunning = "running"
	RunSuccess = "success"
	RunFailed  = "failed"
)

// ActionRecord captures the outcome of one action within a run.
type ActionRecord struct {
	Action      string    `json:"action"`
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	Result      string    `json:"result"`
	Timestamp   time.Time `json:"timestamp"`
}

// PlaybookRun is one execution record in the run ledger.
type PlaybookRun struct {
	ID              string            `json:"id"`
	PlaybookID      string            `json:"playbook_id"`
	PlaybookName    string            `json:"playbook_name"`
	Event           Event             `json:"event"`
	StartedAt       time.Time         `json:"started_at"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	DurationSeconds *float64          `json:"duration_seconds,omitempty"`
	Status          string            `json:"status"`
	ActionsTaken    []ActionRecord    `json:"actions_taken"`
	InvestigationID string            `json:"investigation_id,omitempty"`
	Enrichment      map[string]string `json:"enrichment,omitempty"`
}
