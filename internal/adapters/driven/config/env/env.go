// Package env overlays environment variables onto settings loaded from the
// config file. Variables may also come from a .env file in the working
// directory.
//
// Precedence, lowest first: built-in defaults, config file, environment,
// command-line flags.
package env

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"

	"github.com/custodia-labs/ragpipe/internal/core/domain"
	"github.com/custodia-labs/ragpipe/internal/logger"
)

// Overlay holds the recognised environment variables. Zero values are
// treated as unset.
type Overlay struct {
	Collection string `env:"RAGPIPE_COLLECTION"`

	EmbeddingProvider string `env:"RAGPIPE_EMBEDDING_PROVIDER"`
	EmbeddingModel    string `env:"RAGPIPE_EMBEDDING_MODEL"`
	EmbeddingBaseURL  string `env:"RAGPIPE_EMBEDDING_BASE_URL"`

	LLMProvider string `env:"RAGPIPE_LLM_PROVIDER"`
	LLMModel    string `env:"RAGPIPE_LLM_MODEL"`
	LLMBaseURL  string `env:"RAGPIPE_LLM_BASE_URL"`

	StoreBackend string `env:"RAGPIPE_STORE_BACKEND"`
	StorePath    string `env:"RAGPIPE_STORE_PATH"`

	TopK           int           `env:"RAGPIPE_TOP_K"`
	ChunkSize      int           `env:"RAGPIPE_CHUNK_SIZE"`
	MaxDepth       int           `env:"RAGPIPE_MAX_DEPTH"`
	MaxConcurrency int           `env:"RAGPIPE_MAX_CONCURRENCY"`
	BatchSize      int           `env:"RAGPIPE_BATCH_SIZE"`
	CrawlTimeout   time.Duration `env:"RAGPIPE_CRAWL_TIMEOUT"`
	MaxSources     int           `env:"RAGPIPE_MAX_SOURCES"`
	UserAgent      string        `env:"RAGPIPE_USER_AGENT"`

	OpenAIAPIKey    string `env:"OPENAI_API_KEY"`
	GeminiAPIKey    string `env:"GEMINI_API_KEY"`
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`
	OllamaHost      string `env:"OLLAMA_HOST"`
}

// Load reads the given .env files (default ".env"; missing files are
// ignored) and parses the process environment.
func Load(dotenv ...string) (*Overlay, error) {
	if len(dotenv) == 0 {
		dotenv = []string{".env"}
	}
	for _, f := range dotenv {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
		logger.Debug("Loaded environment from %s", f)
	}

	o := &Overlay{}
	if err := env.Parse(o); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return o, nil
}

// Parse reads an overlay from the given variables instead of the process
// environment.
func Parse(vars map[string]string) (*Overlay, error) {
	o := &Overlay{}
	if err := env.ParseWithOptions(o, env.Options{Environment: vars}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return o, nil
}

// Apply writes every set variable into s. API keys are matched to the
// provider that uses them.
func (o *Overlay) Apply(s *domain.Settings) error {
	if o.Collection != "" {
		s.Collection = o.Collection
	}

	if o.EmbeddingProvider != "" {
		p := domain.AIProvider(strings.ToLower(o.EmbeddingProvider))
		if !p.IsValid() || !p.SupportsEmbeddings() {
			return fmt.Errorf("%w: RAGPIPE_EMBEDDING_PROVIDER=%q", domain.ErrInvalidInput, o.EmbeddingProvider)
		}
		if p != s.Embedding.Provider && o.EmbeddingModel == "" {
			s.Embedding.Model = domain.DefaultEmbeddingModels()[p]
		}
		s.Embedding.Provider = p
	}
	setString(&s.Embedding.Model, o.EmbeddingModel)
	setString(&s.Embedding.BaseURL, o.EmbeddingBaseURL)

	if o.LLMProvider != "" {
		p := domain.AIProvider(strings.ToLower(o.LLMProvider))
		if !p.IsValid() {
			return fmt.Errorf("%w: RAGPIPE_LLM_PROVIDER=%q", domain.ErrInvalidInput, o.LLMProvider)
		}
		if p != s.LLM.Provider && o.LLMModel == "" {
			s.LLM.Model = domain.DefaultLLMModels()[p]
		}
		s.LLM.Provider = p
	}
	setString(&s.LLM.Model, o.LLMModel)
	setString(&s.LLM.BaseURL, o.LLMBaseURL)

	if o.StoreBackend != "" {
		b := domain.StoreBackend(strings.ToLower(o.StoreBackend))
		if !b.IsValid() {
			return fmt.Errorf("%w: RAGPIPE_STORE_BACKEND=%q", domain.ErrInvalidInput, o.StoreBackend)
		}
		s.Store.Backend = b
	}
	setString(&s.Store.Path, o.StorePath)
	setString(&s.Fetch.UserAgent, o.UserAgent)

	setInt(&s.Query.TopK, o.TopK)
	setInt(&s.Ingest.Defaults.ChunkSize, o.ChunkSize)
	setInt(&s.Ingest.Defaults.MaxDepth, o.MaxDepth)
	setInt(&s.Ingest.Defaults.MaxConcurrency, o.MaxConcurrency)
	setInt(&s.Ingest.Defaults.BatchSize, o.BatchSize)
	setInt(&s.Ingest.MaxSources, o.MaxSources)
	if o.CrawlTimeout > 0 {
		s.Ingest.Defaults.CrawlTimeout = o.CrawlTimeout
	}

	s.Embedding.APIKey = o.keyFor(s.Embedding.Provider, s.Embedding.APIKey)
	s.LLM.APIKey = o.keyFor(s.LLM.Provider, s.LLM.APIKey)

	if host := o.ollamaURL(); host != "" {
		if s.Embedding.Provider == domain.AIProviderOllama && o.EmbeddingBaseURL == "" {
			s.Embedding.BaseURL = host
		}
		if s.LLM.Provider == domain.AIProviderOllama && o.LLMBaseURL == "" {
			s.LLM.BaseURL = host
		}
	}
	return nil
}

// keyFor returns the environment key for provider, or current when the
// environment has none.
func (o *Overlay) keyFor(provider domain.AIProvider, current string) string {
	var key string
	switch provider {
	case domain.AIProviderOpenAI:
		key = o.OpenAIAPIKey
	case domain.AIProviderGemini:
		key = o.GeminiAPIKey
	case domain.AIProviderAnthropic:
		key = o.AnthropicAPIKey
	}
	if key == "" {
		return current
	}
	return key
}

// ollamaURL accepts OLLAMA_HOST as a bare host:port, like the ollama CLI.
func (o *Overlay) ollamaURL() string {
	h := strings.TrimSpace(o.OllamaHost)
	if h == "" {
		return ""
	}
	if !strings.Contains(h, "://") {
		h = "http://" + h
	}
	return strings.TrimRight(h, "/")
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}
