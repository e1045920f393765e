package models

import "testing"

func TestTriggerMatches(t *testing.T) {
	minValue := 80.0
	event := Event{
		AlertName: "HighCPUUsage",
		Source:    "detector",
		Service:   "vmagent",
		Severity:  SeverityCritical,
		Metric:    "cpu",
		Value:     94.7,
		Reason:    "CPUThrottlingHigh",
	}

	tests := []struct {
		name    string
		trigger Trigger
		want    bool
	}{
		{name: "empty trigger never fires", trigger: Trigger{}, want: false},
		{name: "alertname match", trigger: Trigger{AlertNames: []string{"ServiceDown", "HighCPUUsage"}}, want: true},
		{name: "alertname case-insensitive", trigger: Trigger{AlertNames: []string{"highcpuusage"}}, want: true},
		{name: "alertname mismatch", trigger: Trigger{AlertNames: []string{"ServiceDown"}}, want: false},
		{name: "severity match", trigger: Trigger{Severities: []Severity{SeverityCritical}}, want: true},
		{name: "severity mismatch", trigger: Trigger{Severities: []Severity{SeverityLow}}, want: false},
		{name: "metric with min value", trigger: Trigger{MetricContains: "cpu", MinValue: &minValue}, want: true},
		{name: "metric below min value", trigger: Trigger{MetricContains: "cpu", MinValue: float64Ptr(95)}, want: false},
		{name: "metric substring mismatch", trigger: Trigger{MetricContains: "memory"}, want: false},
		{name: "source match", trigger: Trigger{Sources: []string{"detector"}}, want: true},
		{name: "reason contains", trigger: Trigger{ReasonContains: "throttling"}, want: true},
		{name: "all groups must hold", trigger: Trigger{AlertNames: []string{"HighCPUUsage"}, Severities: []Severity{SeverityLow}}, want: false},
		{name: "conjunction of matching groups", trigger: Trigger{AlertNames: []string{"HighCPUUsage"}, Severities: []Severity{SeverityCritical}}, want: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.trigger.Matches(event); got != tc.want {
				t.Errorf("Matches = %v, want %v", got, tc.want)
			}
		})
	}
}

func float64Ptr(v float64) *float64 { return &v }

func TestPlaybookTriggeredAnyTrigger(t *testing.T) {
	pb := Playbook{Triggers: []Trigger{
		{AlertNames: []string{"ServiceDown"}},
		{Severities: []Severity{SeverityCritical}},
	}}

	if !pb.Triggered(Event{Severity: SeverityCritical}) {
		t.Error("second trigger should fire")
	}
	if pb.Triggered(Event{Severity: SeverityLow, AlertName: "Other"}) {
		t.Error("no trigger should fire")
	}
}

func TestSeverityRank(t *testing.T) {
	ordered := []Severity{"bogus", SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
	for i := 1; i < len(ordered); i++ {
		if ordered[i].Rank() <= ordered[i-1].Rank() {
			t.Errorf("%s should outrank %s", ordered[i], ordered[i-1])
		}
	}
}
