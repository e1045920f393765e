package detector

import (
	"fmt"

	"github.com/fleetvisor/fleetvisor/internal/models"
)

// buildInsights templates human-readable observations from the anomaly set:
// severity counts, worst service/cluster clustering, dominant metric family.
func buildInsights(anomalies []models.Anomaly) []string {
	if len(anomalies) == 0 {
		return []string{"All systems operating normally, no anomalies detected"}
	}

	var insights []string

	byService := map[string]int{}
	byCluster := map[string]int{}
	bySeverity := map[models.Severity]int{}
	byFamily := map[string]int{}
	for _, a := range anomalies {
		byService[a.Service]++
		byCluster[a.Cluster]++
		bySeverity[a.Severity]++
		byFamily[metricFamily(a.Metric)]++
	}

	if n := bySeverity[models.SeverityCritical]; n > 0 {
		insights = append(insights, fmt.Sprintf("%d critical anomalies detected, immediate attention required", n))
	}
	if len(byService) > 1 {
		service, count := maxKey(byService)
		insights = append(insights, fmt.Sprintf("service %q showing %d anomalies, possible degradation", service, count))
	}
	if len(byCluster) > 1 {
		cluster, _ := maxKey(byCluster)
		insights = append(insights, fmt.Sprintf("cluster %q experiencing an elevated anomaly rate", cluster))
	}

	half := len(anomalies) / 2
	switch {
	case byFamily["cpu"] > half:
		insights = append(insights, "CPU-related anomalies dominant, possible resource exhaustion")
	case byFamily["memory"] > half:
		insights = append(insights, "memory anomalies dominant, potential leak or pressure")
	case byFamily["latency"] > half:
		insights = append(insights, "latency spikes dominant, network or processing delays")
	case byFamily["error"] > half:
		insights = append(insights, "error-rate anomalies dominant, check recent deployments")
	}

	if len(insights) == 0 {
		insights = append(insights, fmt.Sprintf("%d anomalies detected across the fleet", len(anomalies)))
	}
	return insights
}

func maxKey(m map[string]int) (string, int) {
	var bestKey string
	bestCount := -1
	for k, v := range m {
		if v > bestCount || (v == bestCount && k < bestKey) {
			bestKey, bestCount = k, v
		}
	}
	return bestKey, bestCount
}
