// Command mock-sources serves canned VictoriaMetrics and Loki responses so
// fleetvisor can run locally without a monitoring stack. One target, vmagent,
// is kept unhealthy to exercise detection and investigation end to end.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

type target struct {
	job     string
	cluster string
	cpu     float64
	memMB   float64
	scrapMS float64
	up      float64
}

var fleet = []target{
	{job: "vmagent", cluster: "k8s-paas-scw-1", cpu: 94.7, memMB: 470, scrapMS: 820, up: 1},
	{job: "grafana", cluster: "k8s-paas-scw-1", cpu: 12.3, memMB: 160, scrapMS: 45, up: 1},
	{job: "loki", cluster: "local-docker", cpu: 28.0, memMB: 310, scrapMS: 90, up: 1},
}

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/v1/query", handleQuery)
	mux.HandleFunc("/loki/api/v1/query_range", handleLogQuery)

	logger := log.New(log.Writer(), "mock-sources ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":8428",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :8428")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

// handleQuery answers Prometheus instant queries with one sample per fleet
// target, picking the value series from the query text.
func handleQuery(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if query == "" && r.Method == http.MethodPost {
		if err := r.ParseForm(); err == nil {
			query = r.PostForm.Get("query")
		}
	}

	now := float64(time.Now().Unix())
	results := make([]map[string]any, 0, len(fleet))
	for _, t := range fleet {
		if job := selectorJob(query); job != "" && job != t.job {
			continue
		}
		results = append(results, map[string]any{
			"metric": map[string]string{"job": t.job, "cluster": t.cluster},
			"value":  []any{now, fmt.Sprintf("%g", valueFor(query, t))},
		})
	}

	writeJSON(w, map[string]any{
		"status": "success",
		"data":   map[string]any{"resultType": "vector", "result": results},
	})
}

func valueFor(query string, t target) float64 {
	lower := strings.ToLower(query)
	switch {
	case strings.Contains(lower, "cpu"):
		return t.cpu
	case strings.Contains(lower, "memory") || strings.Contains(lower, "resident"):
		return t.memMB
	case strings.Contains(lower, "scrape") || strings.Contains(lower, "duration"):
		return t.scrapMS
	case strings.Contains(lower, "up"):
		return t.up
	default:
		return 0
	}
}

// selectorJob pulls the job out of a {job="x"} selector, if present.
func selectorJob(query string) string {
	idx := strings.Index(query, `job="`)
	if idx < 0 {
		return ""
	}
	rest := query[idx+len(`job="`):]
	end := strings.Index(rest, `"`)
	if end < 0 {
		return ""
	}
	return rest[:end]
}

func handleLogQuery(w http.ResponseWriter, r *http.Request) {
	job := selectorJob(r.URL.Query().Get("query"))
	now := time.Now()

	lines := [][2]string{
		{nano(now.Add(-4 * time.Minute)), "level=info msg=\"scrape cycle complete\""},
		{nano(now.Add(-3 * time.Minute)), "level=warn msg=\"remote write queue growing\""},
	}
	if job == "vmagent" {
		lines = append(lines,
			[2]string{nano(now.Add(-2 * time.Minute)), "level=error msg=\"remote write timeout after 30s\""},
			[2]string{nano(now.Add(-1 * time.Minute)), "level=error msg=\"CPU throttling detected, dropping samples\""},
		)
	}

	values := make([][]string, 0, len(lines))
	for _, l := range lines {
		values = append(values, []string{l[0], l[1]})
	}

	writeJSON(w, map[string]any{
		"status": "success",
		"data": map[string]any{
			"resultType": "streams",
			"result": []map[string]any{
				{
					"stream": map[string]string{"job": job},
					"values": values,
				},
			},
		},
	})
}

func nano(t time.Time) string {
	return fmt.Sprintf("%d", t.UnixNano())
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
