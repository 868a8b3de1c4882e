package services

import (
	"cmp"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/ragpipe/internal/core/domain"
	"github.com/custodia-labs/ragpipe/internal/core/ports/driven"
	"github.com/custodia-labs/ragpipe/internal/core/ports/driving"
)

var _ driving.SettingsService = (*SettingsService)(nil)

const localProviderURL = "http://localhost:11434"

// Dotted keys under which each setting is stored.
//
//nolint:gosec // key names, not credentials
const (
	keyCollection        = "collection"
	keyEmbedProvider     = "embedding.provider"
	keyEmbedModel        = "embedding.model"
	keyEmbedBaseURL      = "embedding.base_url"
	keyEmbedAPIKey       = "embedding.api_key"
	keyEmbedDimensions   = "embedding.dimensions"
	keyLLMProvider       = "llm.provider"
	keyLLMModel          = "llm.model"
	keyLLMBaseURL        = "llm.base_url"
	keyLLMAPIKey         = "llm.api_key"
	keyStoreBackend      = "store.backend"
	keyStorePath         = "store.path"
	keyFetchTimeout      = "fetch.timeout"
	keyFetchMaxBytes     = "fetch.max_bytes"
	keyFetchRPS          = "fetch.requests_per_second"
	keyFetchUserAgent    = "fetch.user_agent"
	keyRetryAttempts     = "retry.max_attempts"
	keyRetryInitial      = "retry.initial_interval"
	keyRetryMax          = "retry.max_interval"
	keyQueryTopK         = "query.top_k"
	keyIngestChunkSize   = "ingest.chunk_size"
	keyIngestMaxDepth    = "ingest.max_depth"
	keyIngestConcurrency = "ingest.max_concurrency"
	keyIngestBatchSize   = "ingest.batch_size"
	keyIngestTimeout     = "ingest.crawl_timeout"
	keyIngestNoFollow    = "ingest.no_follow"
	keyIngestModel       = "ingest.embedding_model"
	keyIngestMaxSources  = "ingest.max_sources"
)

type valueKind int

const (
	kindString valueKind = iota
	kindInt
	kindFloat
	kindBool
	kindDuration
)

// settingKinds lists every key Set accepts and how its value is parsed.
var settingKinds = map[string]valueKind{
	keyCollection:        kindString,
	keyEmbedProvider:     kindString,
	keyEmbedModel:        kindString,
	keyEmbedBaseURL:      kindString,
	keyEmbedAPIKey:       kindString,
	keyEmbedDimensions:   kindInt,
	keyLLMProvider:       kindString,
	keyLLMModel:          kindString,
	keyLLMBaseURL:        kindString,
	keyLLMAPIKey:         kindString,
	keyStoreBackend:      kindString,
	keyStorePath:         kindString,
	keyFetchTimeout:      kindDuration,
	keyFetchMaxBytes:     kindInt,
	keyFetchRPS:          kindFloat,
	keyFetchUserAgent:    kindString,
	keyRetryAttempts:     kindInt,
	keyRetryInitial:      kindDuration,
	keyRetryMax:          kindDuration,
	keyQueryTopK:         kindInt,
	keyIngestChunkSize:   kindInt,
	keyIngestMaxDepth:    kindInt,
	keyIngestConcurrency: kindInt,
	keyIngestBatchSize:   kindInt,
	keyIngestTimeout:     kindDuration,
	keyIngestNoFollow:    kindBool,
	keyIngestModel:       kindString,
	keyIngestMaxSources:  kindInt,
}

// SettingKeys returns every key accepted by Set, sorted.
func SettingKeys() []string {
	return slices.Sorted(maps.Keys(settingKinds))
}

// IsSecretKey reports whether key holds a credential that should be masked
// when displayed.
func IsSecretKey(key string) bool {
	return strings.HasSuffix(key, ".api_key")
}

// SettingsService reads and writes settings through a ConfigStore,
// filling gaps with domain.DefaultSettings.
type SettingsService struct {
	store     driven.ConfigStore
	validator driven.AIConfigValidator
}

// NewSettingsService returns a service over store. validator may be nil,
// which turns the connectivity checks into no-ops.
func NewSettingsService(store driven.ConfigStore, validator driven.AIConfigValidator) *SettingsService {
	return &SettingsService{store: store, validator: validator}
}

// Path returns where settings are stored.
func (s *SettingsService) Path() string {
	return s.store.Path()
}

// Get retrieves current settings: defaults overlaid with stored values.
func (s *SettingsService) Get() (*domain.Settings, error) {
	d := domain.DefaultSettings()
	di := d.Ingest.Defaults

	settings := &domain.Settings{
		Collection: s.getString(keyCollection, d.Collection),
		Embedding: domain.EmbeddingSettings{
			Provider:   s.getProvider(keyEmbedProvider, d.Embedding.Provider),
			Model:      s.getString(keyEmbedModel, d.Embedding.Model),
			BaseURL:    s.store.GetString(keyEmbedBaseURL), // empty is valid for cloud providers
			APIKey:     s.store.GetString(keyEmbedAPIKey),
			Dimensions: s.getInt(keyEmbedDimensions, d.Embedding.Dimensions),
		},
		LLM: domain.LLMSettings{
			Provider: s.getProvider(keyLLMProvider, d.LLM.Provider),
			Model:    s.getString(keyLLMModel, d.LLM.Model),
			BaseURL:  s.store.GetString(keyLLMBaseURL),
			APIKey:   s.store.GetString(keyLLMAPIKey),
		},
		Store: domain.StoreSettings{
			Backend: s.getBackend(d.Store.Backend),
			Path:    s.getString(keyStorePath, d.Store.Path),
		},
		Fetch: domain.FetchSettings{
			Timeout:           s.getDuration(keyFetchTimeout, d.Fetch.Timeout),
			MaxBytes:          int64(s.getInt(keyFetchMaxBytes, int(d.Fetch.MaxBytes))),
			RequestsPerSecond: s.getFloat(keyFetchRPS, d.Fetch.RequestsPerSecond),
			UserAgent:         s.getString(keyFetchUserAgent, d.Fetch.UserAgent),
		},
		Retry: domain.RetrySettings{
			MaxAttempts:     s.getInt(keyRetryAttempts, d.Retry.MaxAttempts),
			InitialInterval: s.getDuration(keyRetryInitial, d.Retry.InitialInterval),
			MaxInterval:     s.getDuration(keyRetryMax, d.Retry.MaxInterval),
		},
		Query: domain.QuerySettings{
			TopK: s.getInt(keyQueryTopK, d.Query.TopK),
		},
		Ingest: domain.IngestSettings{
			Defaults: domain.IngestOptions{
				ChunkSize:      s.getInt(keyIngestChunkSize, di.ChunkSize),
				MaxDepth:       s.getInt(keyIngestMaxDepth, di.MaxDepth),
				MaxConcurrency: s.getInt(keyIngestConcurrency, di.MaxConcurrency),
				EmbeddingModel: s.store.GetString(keyIngestModel),
				BatchSize:      s.getInt(keyIngestBatchSize, di.BatchSize),
				CrawlTimeout:   s.getDuration(keyIngestTimeout, di.CrawlTimeout),
				NoFollow:       s.getBool(keyIngestNoFollow, di.NoFollow),
			},
			MaxSources: s.getInt(keyIngestMaxSources, d.Ingest.MaxSources),
		},
	}

	// The default model follows the provider unless one was stored.
	if s.store.GetString(keyEmbedModel) == "" {
		if m, ok := domain.DefaultEmbeddingModels()[settings.Embedding.Provider]; ok {
			settings.Embedding.Model = m
		}
	}
	if settings.LLM.Model == "" {
		settings.LLM.Model = domain.DefaultLLMModels()[settings.LLM.Provider]
	}

	return settings, nil
}

// SettingValues returns the value of every key in settings, as Save
// stores it.
func SettingValues(settings *domain.Settings) map[string]any {
	return map[string]any{
		keyCollection:        settings.Collection,
		keyEmbedProvider:     settings.Embedding.Provider.String(),
		keyEmbedModel:        settings.Embedding.Model,
		keyEmbedBaseURL:      settings.Embedding.BaseURL,
		keyEmbedAPIKey:       settings.Embedding.APIKey,
		keyEmbedDimensions:   settings.Embedding.Dimensions,
		keyLLMProvider:       settings.LLM.Provider.String(),
		keyLLMModel:          settings.LLM.Model,
		keyLLMBaseURL:        settings.LLM.BaseURL,
		keyLLMAPIKey:         settings.LLM.APIKey,
		keyStoreBackend:      string(settings.Store.Backend),
		keyStorePath:         settings.Store.Path,
		keyFetchTimeout:      settings.Fetch.Timeout.String(),
		keyFetchMaxBytes:     settings.Fetch.MaxBytes,
		keyFetchRPS:          settings.Fetch.RequestsPerSecond,
		keyFetchUserAgent:    settings.Fetch.UserAgent,
		keyRetryAttempts:     settings.Retry.MaxAttempts,
		keyRetryInitial:      settings.Retry.InitialInterval.String(),
		keyRetryMax:          settings.Retry.MaxInterval.String(),
		keyQueryTopK:         settings.Query.TopK,
		keyIngestChunkSize:   settings.Ingest.Defaults.ChunkSize,
		keyIngestMaxDepth:    settings.Ingest.Defaults.MaxDepth,
		keyIngestConcurrency: settings.Ingest.Defaults.MaxConcurrency,
		keyIngestBatchSize:   settings.Ingest.Defaults.BatchSize,
		keyIngestTimeout:     settings.Ingest.Defaults.CrawlTimeout.String(),
		keyIngestNoFollow:    settings.Ingest.Defaults.NoFollow,
		keyIngestModel:       settings.Ingest.Defaults.EmbeddingModel,
		keyIngestMaxSources:  settings.Ingest.MaxSources,
	}
}

// Save persists settings. Empty API keys are left untouched.
func (s *SettingsService) Save(settings *domain.Settings) error {
	if settings == nil {
		return fmt.Errorf("%w: nil settings", domain.ErrInvalidInput)
	}
	values := SettingValues(settings)
	for _, key := range SettingKeys() {
		val := values[key]
		if IsSecretKey(key) && val == "" {
			continue
		}
		if err := s.store.Set(key, val); err != nil {
			return fmt.Errorf("save %s: %w", key, err)
		}
	}
	return nil
}

// Set parses value according to key and stores it.
func (s *SettingsService) Set(key, value string) error {
	key = strings.ToLower(strings.TrimSpace(key))
	kind, ok := settingKinds[key]
	if !ok {
		return fmt.Errorf("%w: unknown setting %q", domain.ErrInvalidInput, key)
	}
	value = strings.TrimSpace(value)

	var parsed any
	switch kind {
	case kindInt:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: %s must be an integer", domain.ErrInvalidInput, key)
		}
		parsed = n
	case kindFloat:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%w: %s must be a number", domain.ErrInvalidInput, key)
		}
		parsed = f
	case kindBool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%w: %s must be true or false", domain.ErrInvalidInput, key)
		}
		parsed = b
	case kindDuration:
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%w: %s must be a duration like 30s", domain.ErrInvalidInput, key)
		}
		parsed = value
	default:
		parsed = value
	}

	switch key {
	case keyEmbedProvider, keyLLMProvider:
		if p := domain.AIProvider(value); value != "" && !p.IsValid() {
			return fmt.Errorf("%w: unknown provider %q", domain.ErrInvalidInput, value)
		}
	case keyStoreBackend:
		if b := domain.StoreBackend(value); !b.IsValid() {
			return fmt.Errorf("%w: unknown store backend %q", domain.ErrInvalidInput, value)
		}
	case keyQueryTopK:
		if n := parsed.(int); n < 1 || n > domain.MaxTopK {
			return fmt.Errorf("%w: %s must be between 1 and %d", domain.ErrInvalidInput, key, domain.MaxTopK)
		}
	}

	if err := s.store.Set(key, parsed); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// SetEmbeddingProvider switches embeddings to provider. An empty model
// selects the provider's default and the vector size follows the model
// when it is known.
func (s *SettingsService) SetEmbeddingProvider(provider domain.AIProvider, model, apiKey string) error {
	if err := checkProvider("embedding", provider, apiKey); err != nil {
		return err
	}
	if !provider.SupportsEmbeddings() {
		return fmt.Errorf("%w: %s cannot produce embeddings", domain.ErrInvalidInput, provider)
	}

	settings, err := s.Get()
	if err != nil {
		return err
	}
	e := &settings.Embedding
	e.Provider = provider
	e.Model = cmp.Or(model, domain.DefaultEmbeddingModels()[provider])
	e.BaseURL = endpointFor(provider, e.BaseURL)
	e.APIKey = apiKey
	if dims, known := domain.EmbeddingDimensions()[e.Model]; known {
		e.Dimensions = dims
	}
	return s.Save(settings)
}

// SetLLMProvider switches answer generation to provider.
func (s *SettingsService) SetLLMProvider(provider domain.AIProvider, model, apiKey string) error {
	if err := checkProvider("LLM", provider, apiKey); err != nil {
		return err
	}
	if !provider.SupportsChat() {
		return fmt.Errorf("%w: %s cannot answer questions", domain.ErrInvalidInput, provider)
	}

	settings, err := s.Get()
	if err != nil {
		return err
	}
	l := &settings.LLM
	l.Provider = provider
	l.Model = cmp.Or(model, domain.DefaultLLMModels()[provider])
	l.BaseURL = endpointFor(provider, l.BaseURL)
	l.APIKey = apiKey
	return s.Save(settings)
}

func checkProvider(role string, provider domain.AIProvider, apiKey string) error {
	switch {
	case !provider.IsValid():
		return fmt.Errorf("%w: unknown %s provider %q", domain.ErrInvalidInput, role, provider)
	case provider.RequiresAPIKey() && apiKey == "":
		return fmt.Errorf("%w: %s needs an API key", domain.ErrInvalidInput, provider)
	}
	return nil
}

// endpointFor keeps a custom URL for local providers and clears it for
// hosted ones, which use their SDK default.
func endpointFor(provider domain.AIProvider, current string) string {
	if !provider.IsLocal() {
		return ""
	}
	return cmp.Or(current, localProviderURL)
}

// Validate checks the stored settings for consistency.
func (s *SettingsService) Validate() error {
	settings, err := s.Get()
	if err != nil {
		return err
	}
	return ValidateSettings(settings)
}

// ValidateSettings checks a settings object for consistency.
func ValidateSettings(settings *domain.Settings) error {
	var errs []error
	if strings.TrimSpace(settings.Collection) == "" {
		errs = append(errs, errors.New("collection must not be empty"))
	}
	if !settings.Embedding.IsConfigured() {
		errs = append(errs, fmt.Errorf("embedding provider %q is not configured", settings.Embedding.Provider))
	}
	if settings.LLM.Provider != "" && !settings.LLM.IsConfigured() {
		errs = append(errs, fmt.Errorf("LLM provider %q is not configured", settings.LLM.Provider))
	}
	if !settings.Store.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("unknown store backend %q", settings.Store.Backend))
	}
	if k := settings.Query.TopK; k < 1 || k > domain.MaxTopK {
		errs = append(errs, fmt.Errorf("query.top_k must be between 1 and %d", domain.MaxTopK))
	}
	if settings.Ingest.Defaults.ChunkSize < 0 || settings.Ingest.Defaults.BatchSize < 0 {
		errs = append(errs, errors.New("ingest sizes must not be negative"))
	}
	if settings.Ingest.MaxSources < 0 {
		errs = append(errs, errors.New("ingest.max_sources must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	return nil
}

// ValidateEmbeddingConfig validates the current embedding configuration by pinging the provider.
func (s *SettingsService) ValidateEmbeddingConfig() error {
	if s.validator == nil {
		return nil
	}
	settings, err := s.Get()
	if err != nil {
		return err
	}
	return s.validator.ValidateEmbedding(&settings.Embedding)
}

// ValidateLLMConfig validates the current LLM configuration by pinging the provider.
func (s *SettingsService) ValidateLLMConfig() error {
	if s.validator == nil {
		return nil
	}
	settings, err := s.Get()
	if err != nil {
		return err
	}
	return s.validator.ValidateLLM(&settings.LLM)
}

func (s *SettingsService) getString(key, defaultVal string) string {
	val := s.store.GetString(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func (s *SettingsService) getInt(key string, defaultVal int) int {
	if _, exists := s.store.Get(key); !exists {
		return defaultVal
	}
	return s.store.GetInt(key)
}

func (s *SettingsService) getFloat(key string, defaultVal float64) float64 {
	if _, exists := s.store.Get(key); !exists {
		return defaultVal
	}
	return s.store.GetFloat(key)
}

func (s *SettingsService) getBool(key string, defaultVal bool) bool {
	if _, exists := s.store.Get(key); !exists {
		return defaultVal
	}
	return s.store.GetBool(key)
}

func (s *SettingsService) getDuration(key string, defaultVal time.Duration) time.Duration {
	val := s.store.GetString(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}

func (s *SettingsService) getProvider(key string, defaultVal domain.AIProvider) domain.AIProvider {
	val := s.store.GetString(key)
	if val == "" {
		return defaultVal
	}
	provider := domain.AIProvider(val)
	if !provider.IsValid() {
		return defaultVal
	}
	return provider
}

func (s *SettingsService) getBackend(defaultVal domain.StoreBackend) domain.StoreBackend {
	b := domain.StoreBackend(s.store.GetString(keyStoreBackend))
	if !b.IsValid() {
		return defaultVal
	}
	return b
}
