package playbooks

import "github.com/fleetvisor/fleetvisor/internal/models"

func float(v float64) *float64 { return &v }

// Defaults returns the built-in playbooks registered at startup. Packs
// loaded from disk are appended after these.
func Defaults() []*models.Playbook {
	return []*models.Playbook{
		{
			ID:          "pb-on-service-down",
			Name:        "on_service_down",
			Description: "When a service goes down: fetch recent logs, run a root cause investigation, enrich and route the alert.",
			Triggers: []models.Trigger{
				{AlertNames: []string{"ServiceDown", "InstanceDown"}},
			},
			Actions: []models.Action{
				{Name: "root_cause_analysis", Type: models.ActionInvestigate, Description: "Run root cause investigation"},
				{Name: "fetch_workload_state", Type: models.ActionK8sQuery, Description: "Describe the failing workload"},
				{Name: "send_enriched_alert", Type: models.ActionNotify, Description: "Enrich and route the alert"},
			},
			Tags: []string{"service-health", "loki"},
		},
		{
			ID:          "pb-on-high-cpu",
			Name:        "on_high_cpu",
			Description: "Investigate high CPU events and suggest scaling. Remediation stays off by default.",
			Triggers: []models.Trigger{
				{AlertNames: []string{"HighCPUUsage", "CPUThrottling"}},
				{MetricContains: "cpu", MinValue: float(80)},
			},
			Actions: []models.Action{
				{Name: "root_cause_analysis", Type: models.ActionInvestigate, Description: "Run root cause investigation"},
				{Name: "check_workload", Type: models.ActionK8sQuery, Description: "Query workload status"},
				{Name: "scaling_recommendation", Type: models.ActionRecommend, Description: "Emit scaling recommendation"},
				{Name: "scale_out", Type: models.ActionRemediate, Description: "Scale the deployment out"},
			},
			Tags: []string{"cpu", "scaling"},
		},
		{
			ID:            "pb-on-oom-kill",
			Name:          "on_oom_kill",
			Description:   "Handle OOMKill events: fetch crash evidence, analyse memory growth, recommend a limit increase.",
			AutoRemediate: true,
			Triggers: []models.Trigger{
				{ReasonContains: "oom"},
				{AlertNames: []string{"PodOOMKilled", "OOMKill"}},
				{MetricContains: "memory", MinValue: float(450)},
			},
			Actions: []models.Action{
				{Name: "root_cause_analysis", Type: models.ActionInvestigate, Description: "Run root cause investigation"},
				{Name: "memory_growth_analysis", Type: models.ActionCorrelate, Description: "Analyse memory growth trend"},
				{Name: "raise_memory_limit", Type: models.ActionRecommend, Description: "Recommend a new memory limit"},
				{Name: "scale_out", Type: models.ActionRemediate, Description: "Scale the deployment out"},
			},
			Tags: []string{"oom", "memory"},
		},
		{
			ID:          "pb-on-anomaly",
			Name:        "on_ai_anomaly",
			Description: "When the anomaly detector promotes a fleet anomaly, investigate and correlate across affected services.",
			Triggers: []models.Trigger{
				{Sources: []string{"detector", "ai_agent"}},
				{AlertNames: []string{"AIAnomalyDetected"}},
			},
			Actions: []models.Action{
				{Name: "root_cause_analysis", Type: models.ActionInvestigate, Description: "Run root cause investigation"},
				{Name: "cross_service_correlation", Type: models.ActionCorrelate, Description: "Correlate anomalies across services"},
				{Name: "notify_on_call", Type: models.ActionNotify, Description: "Send enriched report to the on-call channel"},
			},
			Tags: []string{"anomaly", "fleet"},
		},
		{
			ID:          "pb-on-critical",
			Name:        "on_critical_alert",
			Description: "For any critical alert: immediate investigation and an on-call notification.",
			Triggers: []models.Trigger{
				{Severities: []models.Severity{models.SeverityCritical}},
			},
			Actions: []models.Action{
				{Name: "root_cause_analysis", Type: models.ActionInvestigate, Description: "Run root cause investigation"},
				{Name: "create_incident", Type: models.ActionNotify, Description: "Open an incident with the on-call team"},
			},
			Tags: []string{"critical", "incident"},
		},
		{
			ID:          "pb-on-scrape-failure",
			Name:        "on_scrape_failure",
			Description: "When the metrics agent reports scrape failures, check target connectivity and service health.",
			Triggers: []models.Trigger{
				{AlertNames: []string{"HighScrapeFailureRate", "ScrapeFailed"}},
			},
			Actions: []models.Action{
				{Name: "network_check", Type: models.ActionK8sQuery, Description: "Verify connectivity to scrape targets"},
				{Name: "root_cause_analysis", Type: models.ActionInvestigate, Description: "Run root cause investigation"},
			},
			Tags: []string{"metrics", "vmagent", "networking"},
		},
	}
}
