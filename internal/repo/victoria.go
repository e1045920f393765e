// Package repo contains clients for the external evidence sources: the
// metrics store, the log store and the cluster API. Consumers declare the
// interfaces they need; this package provides the concrete clients.
package repo

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"github.com/fleetvisor/fleetvisor/internal/utils"
)

// VictoriaClient queries a VictoriaMetrics (Prometheus-compatible) endpoint.
type VictoriaClient struct {
	api    promv1.API
	logger *slog.Logger
}

// NewVictoriaClient builds a client for the given base URL.
func NewVictoriaClient(baseURL string, timeout time.Duration, logger *slog.Logger) (*VictoriaClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := api.NewClient(api.Config{
		Address: baseURL,
		Client:  &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, utils.NewAppError("victoria.new", "create metrics client", err)
	}
	return &VictoriaClient{api: promv1.NewAPI(client), logger: logger}, nil
}

// QueryVector runs an instant query and returns the sample vector. A scalar
// or empty result yields an empty vector, not an error.
func (v *VictoriaClient) QueryVector(ctx context.Context, query string, ts time.Time) (model.Vector, error) {
	result, warnings, err := v.api.Query(ctx, query, ts)
	if err != nil {
		return nil, utils.NewAppError("victoria.query", fmt.Sprintf("query %q", query), err)
	}
	if len(warnings) > 0 {
		v.logger.Warn("metrics query returned warnings", "query", query, "warnings", warnings)
	}
	vector, ok := result.(model.Vector)
	if !ok {
		return model.Vector{}, nil
	}
	return vector, nil
}

// serviceQueries are the per-service evidence readings gathered during an
// investigation. Keys become metric_evidence entries.
var serviceQueries = map[string]string{
	"cpu_usage_pct": `rate(process_cpu_seconds_total{job=%q}[5m]) * 100`,
	"memory_mb":     `process_resident_memory_bytes{job=%q} / 1024 / 1024`,
	"scrape_ms":     `scrape_duration_seconds{job=%q} * 1000`,
	"up":            `up{job=%q}`,
}

// ServiceMetrics fetches the key readings for one service. Individual query
// failures are tolerated; an error is returned only when every query failed,
// so callers can distinguish "source down" from "sparse data".
func (v *VictoriaClient) ServiceMetrics(ctx context.Context, service string, at time.Time) (map[string]float64, error) {
	out := make(map[string]float64, len(serviceQueries))
	var lastErr error
	for name, tmpl := range serviceQueries {
		vector, err := v.QueryVector(ctx, fmt.Sprintf(tmpl, service), at)
		if err != nil {
			lastErr = err
			continue
		}
		if len(vector) == 0 {
			continue
		}
		out[name] = float64(vector[0].Value)
	}
	if len(out) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return out, nil
}
