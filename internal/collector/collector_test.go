package collector

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/common/model"
)

type fakeSource struct {
	vectors map[string]model.Vector
	failOn  string
}

func (f *fakeSource) QueryVector(_ context.Context, query string, _ time.Time) (model.Vector, error) {
	if f.failOn != "" && strings.Contains(query, f.failOn) {
		return nil, errors.New("source unavailable")
	}
	for key, v := range f.vectors {
		if strings.Contains(query, key) {
			return v, nil
		}
	}
	return model.Vector{}, nil
}

func vec(job, cluster string, value float64) model.Vector {
	return model.Vector{
		&model.Sample{
			Metric: model.Metric{"job": model.LabelValue(job), "cluster": model.LabelValue(cluster)},
			Value:  model.SampleValue(value),
		},
	}
}

func TestSnapshot(t *testing.T) {
	source := &fakeSource{vectors: map[string]model.Vector{
		"process_cpu_seconds_total":     vec("vmagent", "k8s-paas-scw-1", 94.7),
		"process_resident_memory_bytes": vec("vmagent", "k8s-paas-scw-1", 312.5),
	}}
	c := New(source, slog.Default())

	snapshot := c.Snapshot(context.Background())
	if len(snapshot) != 2 {
		t.Fatalf("snapshot size = %d, want 2", len(snapshot))
	}

	byMetric := map[string]float64{}
	for _, s := range snapshot {
		byMetric[s.Metric] = s.Value
		if s.Service != "vmagent" || s.Cluster != "k8s-paas-scw-1" {
			t.Errorf("sample labels = %+v", s)
		}
	}
	if byMetric["cpu"] != 94.7 || byMetric["memory_mb"] != 312.5 {
		t.Errorf("values = %v", byMetric)
	}
}

func TestSnapshotDegradesOnFailure(t *testing.T) {
	source := &fakeSource{
		vectors: map[string]model.Vector{"up": vec("gateway", "", 1)},
		failOn:  "process_cpu_seconds_total",
	}
	c := New(source, slog.Default())

	snapshot := c.Snapshot(context.Background())
	if len(snapshot) != 1 {
		t.Fatalf("snapshot size = %d, want 1", len(snapshot))
	}
	if snapshot[0].Metric != "up" || snapshot[0].Cluster != "local-docker" {
		t.Errorf("sample = %+v", snapshot[0])
	}
}
