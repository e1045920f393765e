// Package reasoning provides pluggable language-model completion backends
// used by the anomaly detector and the investigation synthesiser. Providers
// return raw model text; callers extract structured payloads from it.
package reasoning

import (
	"context"
	"fmt"
	"time"

	"github.com/fleetvisor/fleetvisor/internal/config"
)

// Completer produces a completion for a prompt. Implementations must honour
// ctx cancellation and return an error rather than partial output.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Name() string
}

// New builds the configured provider. Provider "none" (or empty) returns
// nil with no error; callers treat a nil Completer as reasoning disabled.
func New(cfg config.ReasoningConfig) (Completer, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("reasoning: openai provider requires an API key")
		}
		return newOpenAI(cfg.APIKey, cfg.Model, cfg.BaseURL, timeout), nil
	case "ollama":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("reasoning: ollama provider requires a base URL")
		}
		return newOllama(cfg.BaseURL, cfg.Model, timeout), nil
	default:
		return nil, fmt.Errorf("reasoning: unknown provider %q", cfg.Provider)
	}
}
