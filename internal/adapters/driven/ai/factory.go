// Package ai builds embedding and LLM adapters from settings.
package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	geminiembed "github.com/custodia-labs/ragpipe/internal/adapters/driven/embedding/gemini"
	ollamaembed "github.com/custodia-labs/ragpipe/internal/adapters/driven/embedding/ollama"
	openaiembed "github.com/custodia-labs/ragpipe/internal/adapters/driven/embedding/openai"
	anthropicllm "github.com/custodia-labs/ragpipe/internal/adapters/driven/llm/anthropic"
	ollamallm "github.com/custodia-labs/ragpipe/internal/adapters/driven/llm/ollama"
	openaillm "github.com/custodia-labs/ragpipe/internal/adapters/driven/llm/openai"
	"github.com/custodia-labs/ragpipe/internal/core/domain"
	"github.com/custodia-labs/ragpipe/internal/core/ports/driven"
)

// pingTimeout bounds each connectivity check.
const pingTimeout = 5 * time.Second

const configHint = "run 'ragpipe config set' to fix"

var errNoAnthropicEmbeddings = errors.New("anthropic does not support embeddings, use ollama, openai or gemini")

type embeddingBuilder func(ctx context.Context, s *domain.EmbeddingSettings) (driven.EmbeddingService, error)

type llmBuilder func(s *domain.LLMSettings) (driven.LLMService, error)

var embeddingBuilders = map[domain.AIProvider]embeddingBuilder{
	domain.AIProviderOllama: func(_ context.Context, s *domain.EmbeddingSettings) (driven.EmbeddingService, error) {
		return ollamaembed.NewEmbeddingService(ollamaembed.Config{
			BaseURL:    s.BaseURL,
			Model:      s.Model,
			Dimensions: embeddingDimensions(s),
		}), nil
	},
	domain.AIProviderOpenAI: func(_ context.Context, s *domain.EmbeddingSettings) (driven.EmbeddingService, error) {
		return openaiembed.NewEmbeddingService(openaiembed.Config{
			APIKey:     s.APIKey,
			BaseURL:    s.BaseURL,
			Model:      s.Model,
			Dimensions: s.Dimensions,
		})
	},
	domain.AIProviderGemini: func(ctx context.Context, s *domain.EmbeddingSettings) (driven.EmbeddingService, error) {
		return geminiembed.NewEmbeddingService(ctx, geminiembed.Config{
			APIKey:     s.APIKey,
			BaseURL:    s.BaseURL,
			Model:      s.Model,
			Dimensions: s.Dimensions,
		})
	},
}

var llmBuilders = map[domain.AIProvider]llmBuilder{
	domain.AIProviderOllama: func(s *domain.LLMSettings) (driven.LLMService, error) {
		return ollamallm.NewLLMService(ollamallm.LLMConfig{BaseURL: s.BaseURL, Model: s.Model}), nil
	},
	domain.AIProviderOpenAI: func(s *domain.LLMSettings) (driven.LLMService, error) {
		return openaillm.NewLLMService(openaillm.LLMConfig{APIKey: s.APIKey, BaseURL: s.BaseURL, Model: s.Model})
	},
	domain.AIProviderAnthropic: func(s *domain.LLMSettings) (driven.LLMService, error) {
		return anthropicllm.NewLLMService(anthropicllm.Config{APIKey: s.APIKey, BaseURL: s.BaseURL, Model: s.Model})
	},
}

// InitResult holds the services built by Init.
type InitResult struct {
	EmbeddingService driven.EmbeddingService

	// LLMService is nil when no LLM is configured or it failed to start.
	LLMService driven.LLMService

	// Warnings lists problems that did not stop initialisation.
	Warnings []string
}

// Close releases both services.
func (r *InitResult) Close() {
	if r.EmbeddingService != nil {
		_ = r.EmbeddingService.Close()
	}
	if r.LLMService != nil {
		_ = r.LLMService.Close()
	}
}

// Init builds the embedding service, which is required, and the LLM
// service, which is not: an LLM problem becomes a warning. With validate
// set both services are pinged.
func Init(ctx context.Context, settings *domain.Settings, validate bool) (*InitResult, error) {
	embedding, err := CreateEmbeddingService(ctx, &settings.Embedding)
	if err == nil && embedding == nil {
		err = fmt.Errorf("provider %q is not configured", settings.Embedding.Provider)
	}
	if err == nil && validate {
		err = checkReachable(ctx, embedding)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w; %s", domain.ErrEmbeddingUnavailable, err, configHint)
	}

	res := &InitResult{EmbeddingService: embedding}

	llm, err := CreateLLMService(&settings.LLM)
	if err == nil && llm != nil && validate {
		err = checkReachable(ctx, llm)
	}
	if err != nil {
		res.Warnings = append(res.Warnings, fmt.Errorf("%w: %w; %s", domain.ErrLLMUnavailable, err, configHint).Error())
		return res, nil
	}
	res.LLMService = llm
	return res, nil
}

// CreateEmbeddingService builds the configured embedding adapter. It returns
// nil, nil when the provider is not configured.
func CreateEmbeddingService(ctx context.Context, settings *domain.EmbeddingSettings) (driven.EmbeddingService, error) {
	if settings == nil {
		return nil, nil
	}
	if settings.Provider == domain.AIProviderAnthropic {
		return nil, errNoAnthropicEmbeddings
	}
	if !settings.IsConfigured() {
		return nil, nil
	}
	build, ok := embeddingBuilders[settings.Provider]
	if !ok {
		return nil, fmt.Errorf("unsupported embedding provider: %s", settings.Provider)
	}
	return build(ctx, settings)
}

// CreateLLMService builds the configured LLM adapter. It returns nil, nil
// when no LLM is configured.
func CreateLLMService(settings *domain.LLMSettings) (driven.LLMService, error) {
	if settings == nil || !settings.IsConfigured() {
		return nil, nil
	}
	build, ok := llmBuilders[settings.Provider]
	if !ok {
		return nil, fmt.Errorf("unsupported LLM provider: %s", settings.Provider)
	}
	return build(settings)
}

// CreateAndValidateEmbeddingService builds the embedding adapter and pings
// it. An unconfigured provider yields nil, nil.
func CreateAndValidateEmbeddingService(ctx context.Context, settings *domain.EmbeddingSettings) (driven.EmbeddingService, error) {
	svc, err := CreateEmbeddingService(ctx, settings)
	if err == nil && svc != nil {
		err = checkReachable(ctx, svc)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w; %s", domain.ErrEmbeddingUnavailable, err, configHint)
	}
	return svc, nil
}

// EmbeddingFactory builds services for other models of the configured
// provider, for per-ingestion model overrides.
func EmbeddingFactory(settings domain.EmbeddingSettings) driven.EmbeddingFactory {
	return func(model string) (driven.EmbeddingService, error) {
		s := settings
		s.Model = model
		// A reduced size only applies to the configured model.
		s.Dimensions = 0

		svc, err := CreateEmbeddingService(context.Background(), &s)
		if err != nil {
			return nil, err
		}
		if svc == nil {
			return nil, fmt.Errorf("%w: provider %q is not configured", domain.ErrEmbeddingUnavailable, s.Provider)
		}
		return svc, nil
	}
}

type pingCloser interface {
	Ping(ctx context.Context) error
	Close() error
}

func ping(ctx context.Context, svc pingCloser) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return svc.Ping(ctx)
}

// checkReachable pings svc and closes it when the ping fails.
func checkReachable(ctx context.Context, svc pingCloser) error {
	if err := ping(ctx, svc); err != nil {
		_ = svc.Close()
		return fmt.Errorf("service unreachable (%w)", err)
	}
	return nil
}

// embeddingDimensions prefers the explicit setting, then the known-model
// table. Zero lets the adapter apply its own default.
func embeddingDimensions(settings *domain.EmbeddingSettings) int {
	if settings.Dimensions > 0 {
		return settings.Dimensions
	}
	return domain.EmbeddingDimensions()[settings.Model]
}
