package reasoning

import (
	"context"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const openaiSystemPrompt = "You are an SRE assistant analyzing telemetry from a container fleet. Respond only with what the user asks for."

type openaiCompleter struct {
	client *openai.Client
	model  string
}

func newOpenAI(apiKey, model, baseURL string, timeout time.Duration) *openaiCompleter {
	if model == "" {
		model = "gpt-4o-mini"
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	// The analysis loop and investigations run on deadline-free contexts,
	// so the completion call must bound itself.
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return &openaiCompleter{client: openai.NewClientWithConfig(cfg), model: model}
}

func (o *openaiCompleter) Name() string {
	return fmt.Sprintf("openai(%s)", o.model)
}

func (o *openaiCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: 0.2,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: openaiSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai completion: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}
