// Package ollama answers prompts with a chat model served by Ollama.
package ollama

import (
	"context"
	"time"

	"github.com/custodia-labs/ragpipe/internal/adapters/driven/ai/ollamaapi"
	"github.com/custodia-labs/ragpipe/internal/core/ports/driven"
)

var _ driven.LLMService = (*LLMService)(nil)

const (
	DefaultBaseURL    = ollamaapi.DefaultBaseURL
	DefaultLLMModel   = "llama3.2"
	DefaultLLMTimeout = 120 * time.Second
)

// LLMConfig selects the server and model. Zero fields take the defaults.
type LLMConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// LLMService calls /api/chat without streaming.
type LLMService struct {
	client *ollamaapi.Client
	model  string
}

// NewLLMService builds a service from cfg.
func NewLLMService(cfg LLMConfig) *LLMService {
	if cfg.Model == "" {
		cfg.Model = DefaultLLMModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultLLMTimeout
	}
	return &LLMService{
		client: ollamaapi.New(cfg.BaseURL, cfg.Timeout),
		model:  cfg.Model,
	}
}

// Generate sends prompt as a single user turn.
func (s *LLMService) Generate(ctx context.Context, prompt string, opts driven.GenerateOptions) (string, error) {
	return s.chat(ctx,
		[]ollamaapi.Message{{Role: "user", Content: prompt}},
		modelOptions(opts.MaxTokens, opts.Temperature, opts.StopWords))
}

// Chat sends the whole conversation.
func (s *LLMService) Chat(ctx context.Context, messages []driven.ChatMessage, opts driven.ChatOptions) (string, error) {
	turns := make([]ollamaapi.Message, len(messages))
	for i, m := range messages {
		turns[i] = ollamaapi.Message{Role: m.Role, Content: m.Content}
	}
	return s.chat(ctx, turns, modelOptions(opts.MaxTokens, opts.Temperature, nil))
}

func (s *LLMService) chat(ctx context.Context, turns []ollamaapi.Message, opts *ollamaapi.Options) (string, error) {
	resp, err := s.client.Chat(ctx, ollamaapi.ChatRequest{Model: s.model, Messages: turns, Options: opts})
	if err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}

// modelOptions returns nil when nothing overrides the model defaults.
func modelOptions(maxTokens int, temperature float64, stop []string) *ollamaapi.Options {
	if maxTokens <= 0 && temperature <= 0 && len(stop) == 0 {
		return nil
	}
	return &ollamaapi.Options{NumPredict: maxTokens, Temperature: temperature, Stop: stop}
}

func (s *LLMService) ModelName() string { return s.model }

// Ping checks that the server answers.
func (s *LLMService) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

func (s *LLMService) Close() error { return nil }
