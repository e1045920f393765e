package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLokiQueryRange(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/loki/api/v1/query_range" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("query"); got != `{job="vmagent"}` {
			t.Errorf("query = %q", got)
		}
		if got := r.URL.Query().Get("direction"); got != "backward" {
			t.Errorf("direction = %q", got)
		}
		resp := map[string]any{
			"data": map[string]any{
				"result": []map[string]any{
					{
						"stream": map[string]string{"job": "vmagent", "level": "error"},
						"values": [][2]string{
							{fmt.Sprintf("%d", base.Add(2*time.Second).UnixNano()), "connection refused"},
							{fmt.Sprintf("%d", base.UnixNano()), "retrying scrape"},
						},
					},
				},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewLokiClient(server.URL, 2*time.Second, 100, slog.Default())
	lines, err := client.QueryRange(context.Background(), "vmagent", base.Add(-5*time.Minute), base.Add(time.Minute))
	if err != nil {
		t.Fatalf("QueryRange: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	// Oldest first.
	if !lines[0].Timestamp.Equal(base) {
		t.Errorf("first line at %v, want %v", lines[0].Timestamp, base)
	}
	if lines[0].Level != "error" {
		t.Errorf("level = %q, want error from stream label", lines[0].Level)
	}
}

func TestLokiQueryRangeErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewLokiClient(server.URL, 2*time.Second, 100, slog.Default())
	if _, err := client.QueryRange(context.Background(), "vmagent", time.Now().Add(-time.Minute), time.Now()); err == nil {
		t.Fatal("expected error on non-200 response")
	}
}

func TestClassifyLevel(t *testing.T) {
	tests := []struct {
		labels map[string]string
		line   string
		want   string
	}{
		{labels: map[string]string{"level": "WARN"}, line: "anything", want: "warn"},
		{labels: nil, line: "ERROR: out of memory", want: "error"},
		{labels: nil, line: "panic: runtime error", want: "error"},
		{labels: nil, line: "warning: queue depth growing", want: "warn"},
		{labels: nil, line: "request served in 12ms", want: "info"},
	}
	for _, tc := range tests {
		if got := classifyLevel(tc.labels, tc.line); got != tc.want {
			t.Errorf("classifyLevel(%v, %q) = %q, want %q", tc.labels, tc.line, got, tc.want)
		}
	}
}
