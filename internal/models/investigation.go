package models

import "time"

// InvestigationStatus tracks the investigation lifecycle.
type InvestigationStatus string

const (
	InvestigationPending       InvestigationStatus = "pending"
	InvestigationInvestigating InvestigationStatus = "investigating"
	InvestigationComplete      InvestigationStatus = "complete"
	InvestigationFailed        InvestigationStatus = "failed"
)

// Terminal reports whether the status is a terminal state.
func (s InvestigationStatus) Terminal() bool {
	return s == InvestigationComplete || s == InvestigationFailed
}

// EvidenceStep records provenance of one evidence call, in call order.
type EvidenceStep struct {
	Tool      string    `json:"tool"`
	Query     string    `json:"query"`
	Result    string    `json:"result"`
	Timestamp time.Time `json:"timestamp"`
}

// LogLine is one classified log entry gathered as evidence.
type LogLine struct {
	Timestamp time.Time         `json:"timestamp"`
	Line      string            `json:"line"`
	Level     string            `json:"level"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// ContainerStatus summarises a container within a workload descriptor.
type ContainerStatus struct {
	Name         string `json:"name"`
	Ready        bool   `json:"ready"`
	RestartCount int    `json:"restart_count"`
	LastState    string `json:"last_state,omitempty"`
}

// WorkloadEvent is an orchestration event attached to a workload.
type WorkloadEvent struct {
	Type    string `json:"type"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// WorkloadStatus is the orchestration-state snapshot for a workload instance.
type WorkloadStatus struct {
	Name       string            `json:"name"`
	Namespace  string            `json:"namespace"`
	Cluster    string            `json:"cluster,omitempty"`
	Status     string            `json:"status"`
	Containers []ContainerStatus `json:"containers"`
	Events     []WorkloadEvent   `json:"events,omitempty"`
}

// Investigation is the structured root-cause report. Owned exclusively by the
// investigation engine; callers receive copies and must treat them read-only.
type Investigation struct {
	ID              string              `json:"id"`
	Status          InvestigationStatus `json:"status"`
	Alert           Event               `json:"alert"`
	StartedAt       time.Time           `json:"started_at"`
	CompletedAt     *time.Time          `json:"completed_at,omitempty"`
	DurationSeconds *float64            `json:"duration_seconds,omitempty"`
	Steps           []EvidenceStep      `json:"steps"`
	LogEvidence     []LogLine           `json:"log_evidence"`
	MetricEvidence  map[string]float64  `json:"metric_evidence"`
	K8sContext      *WorkloadStatus     `json:"k8s_context,omitempty"`
	RootCause       string              `json:"root_cause"`
	AISummary       string              `json:"ai_summary"`
	Findings        []string            `json:"findings"`
	Recommendations []string            `json:"recommendations"`
	Confidence      Confidence          `json:"confidence"`
}
