package models

import "time"

// MetricSample is one reading in a fleet snapshot.
type MetricSample struct {
	Metric    string    `json:"metric"`
	Service   string    `json:"service"`
	Cluster   string    `json:"cluster"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// MetricSnapshot is the ordered set of samples captured for one analysis
// cycle. It is immutable once handed to the detector.
type MetricSnapshot []MetricSample

// Anomaly is a single classified deviation. Never mutated after creation.
type Anomaly struct {
	Metric       string             `json:"metric"`
	Service      string             `json:"service"`
	Cluster      string             `json:"cluster"`
	Value        float64            `json:"value"`
	AnomalyScore float64            `json:"anomaly_score"`
	Severity     Severity           `json:"severity"`
	Timestamp    time.Time          `json:"timestamp"`
	Reasoning    string             `json:"reasoning"`
	Details      map[string]float64 `json:"details,omitempty"`
}

// AnalysisResult is the detector output contract. Produced wholesale on every
// call; AnomaliesDetected must equal len(Anomalies) > 0 and Engine must name
// the layer that produced the result.
type AnalysisResult struct {
	Anomalies          []Anomaly `json:"anomalies"`
	OverallHealthScore float64   `json:"overall_health_score"`
	Insights           []string  `json:"insights"`
	AnomaliesDetected  bool      `json:"anomalies_detected"`
	Engine             string    `json:"engine"`
	AnalysisTimestamp  time.Time `json:"analysis_timestamp"`
	DataPoints         int       `json:"data_points"`
}
