package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fleetvisor/fleetvisor/internal/models"
	"github.com/fleetvisor/fleetvisor/internal/utils"
)

// LokiClient fetches log evidence from a Loki query_range endpoint.
type LokiClient struct {
	baseURL    string
	httpClient *http.Client
	limit      int
	logger     *slog.Logger
}

// NewLokiClient builds a client for the given base URL. limit bounds how
// many lines one query may return; zero means 100.
func NewLokiClient(baseURL string, timeout time.Duration, limit int, logger *slog.Logger) *LokiClient {
	if limit <= 0 {
		limit = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LokiClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		limit:      limit,
		logger:     logger,
	}
}

type lokiQueryResponse struct {
	Data struct {
		Result []struct {
			Stream map[string]string `json:"stream"`
			Values [][2]string       `json:"values"`
		} `json:"result"`
	} `json:"data"`
}

// QueryRange returns log lines for the service's job label between start and
// end, newest first from the store, returned oldest first for display.
func (l *LokiClient) QueryRange(ctx context.Context, service string, start, end time.Time) ([]models.LogLine, error) {
	params := url.Values{}
	params.Set("query", fmt.Sprintf("{job=%q}", service))
	params.Set("start", strconv.FormatInt(start.UnixNano(), 10))
	params.Set("end", strconv.FormatInt(end.UnixNano(), 10))
	params.Set("limit", strconv.Itoa(l.limit))
	params.Set("direction", "backward")

	endpoint := l.baseURL + "/loki/api/v1/query_range?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, utils.NewAppError("loki.query", "build request", err)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, utils.NewAppError("loki.query", "execute request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, utils.NewAppError("loki.query",
			fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))), nil)
	}

	var payload lokiQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, utils.NewAppError("loki.query", "decode response", err)
	}

	var lines []models.LogLine
	for _, stream := range payload.Data.Result {
		for _, v := range stream.Values {
			ns, err := strconv.ParseInt(v[0], 10, 64)
			if err != nil {
				continue
			}
			lines = append(lines, models.LogLine{
				Timestamp: time.Unix(0, ns).UTC(),
				Line:      v[1],
				Level:     classifyLevel(stream.Stream, v[1]),
				Labels:    stream.Stream,
			})
		}
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].Timestamp.Before(lines[j].Timestamp) })
	return lines, nil
}

// classifyLevel prefers the stream's level label and falls back to scanning
// the line body.
func classifyLevel(labels map[string]string, line string) string {
	if lvl, ok := labels["level"]; ok && lvl != "" {
		return strings.ToLower(lvl)
	}
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "error"), strings.Contains(lower, "exception"),
		strings.Contains(lower, "fatal"), strings.Contains(lower, "panic"):
		return "error"
	case strings.Contains(lower, "warn"):
		return "warn"
	default:
		return "info"
	}
}
