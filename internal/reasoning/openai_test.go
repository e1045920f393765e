package reasoning

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func chatCompletionServer(t *testing.T, delay time.Duration, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(delay)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"choices": [{"message": {"role": "assistant", "content": %q}}]}`, content)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAICompleterReturnsContent(t *testing.T) {
	srv := chatCompletionServer(t, 0, `{"score": 85}`)
	completer := newOpenAI("test-key", "gpt-4o-mini", srv.URL+"/v1", 2*time.Second)

	got, err := completer.Complete(context.Background(), "analyze")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != `{"score": 85}` {
		t.Errorf("Complete = %q", got)
	}
}

func TestOpenAICompleterBoundsSlowBackend(t *testing.T) {
	srv := chatCompletionServer(t, 500*time.Millisecond, "too late")
	completer := newOpenAI("test-key", "gpt-4o-mini", srv.URL+"/v1", 50*time.Millisecond)

	start := time.Now()
	_, err := completer.Complete(context.Background(), "analyze")
	if err == nil {
		t.Fatal("expected timeout error from slow backend")
	}
	// The deadline-free context must not let the call ride out the full delay.
	if elapsed := time.Since(start); elapsed >= 500*time.Millisecond {
		t.Errorf("completion took %v, client timeout did not apply", elapsed)
	}
}
