package models

import "time"

// Event is the inbound payload the engines consume: a Prometheus alert, a
// Kubernetes event, or an anomaly promoted by the detector. All fields are
// optional; consumers must tolerate whatever subset the sender provides.
type Event struct {
	ID          string    `json:"id,omitempty"`
	AlertName   string    `json:"alertname,omitempty"`
	Source      string    `json:"source,omitempty"`
	Service     string    `json:"service,omitempty"`
	Cluster     string    `json:"cluster,omitempty"`
	Severity    Severity  `json:"severity,omitempty"`
	Metric      string    `json:"metric,omitempty"`
	Value       float64   `json:"value,omitempty"`
	Description string    `json:"description,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	ReceivedAt  time.Time `json:"received_at,omitempty"`
}

// Severity captures impact levels shared by anomalies, events and triggers.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities so that thresholds like "high and above" compose.
// Unknown severities rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Confidence expresses how strongly the evidence supports a conclusion.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)
