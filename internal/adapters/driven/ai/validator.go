package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/custodia-labs/ragpipe/internal/core/domain"
	"github.com/custodia-labs/ragpipe/internal/core/ports/driven"
)

var _ driven.AIConfigValidator = (*ConfigValidator)(nil)

// ConfigValidator checks provider settings before they are saved by
// building a throwaway adapter and pinging it. Settings that name no
// provider pass untouched.
type ConfigValidator struct {
	timeout time.Duration
}

// NewConfigValidator returns a validator that allows each ping pingTimeout.
func NewConfigValidator() *ConfigValidator {
	return &ConfigValidator{timeout: pingTimeout}
}

// ValidateEmbedding rejects providers that cannot embed or lack an API
// key, and reports ErrEmbeddingUnavailable when the endpoint does not
// answer.
func (v *ConfigValidator) ValidateEmbedding(s *domain.EmbeddingSettings) error {
	if s == nil || s.Provider == "" {
		return nil
	}
	if err := checkProvider(s.Provider, s.Provider.SupportsEmbeddings(), "embeddings", s.APIKey); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), v.timeout)
	defer cancel()

	svc, err := CreateEmbeddingService(ctx, s)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrEmbeddingUnavailable, s.Provider, err)
	}
	defer svc.Close()
	if err := svc.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %s model %s: %w", domain.ErrEmbeddingUnavailable, s.Provider, svc.ModelName(), err)
	}
	return nil
}

// ValidateLLM is ValidateEmbedding for the answering model.
func (v *ConfigValidator) ValidateLLM(s *domain.LLMSettings) error {
	if s == nil || s.Provider == "" {
		return nil
	}
	if err := checkProvider(s.Provider, s.Provider.SupportsChat(), "chat", s.APIKey); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), v.timeout)
	defer cancel()

	svc, err := CreateLLMService(s)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrLLMUnavailable, s.Provider, err)
	}
	defer svc.Close()
	if err := svc.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %s model %s: %w", domain.ErrLLMUnavailable, s.Provider, svc.ModelName(), err)
	}
	return nil
}

func checkProvider(p domain.AIProvider, supported bool, feature, apiKey string) error {
	switch {
	case !p.IsValid():
		return fmt.Errorf("%w: unknown provider %q", domain.ErrInvalidInput, p)
	case !supported:
		return fmt.Errorf("%w: %s does not offer %s", domain.ErrInvalidInput, p, feature)
	case p.RequiresAPIKey() && apiKey == "":
		return fmt.Errorf("%w: %s needs an API key", domain.ErrInvalidInput, p)
	}
	return nil
}
