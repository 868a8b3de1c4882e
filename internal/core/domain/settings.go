package domain

import "time"

const unknownDescription = "Unknown"

// AIProvider names a hosted or local model API.
type AIProvider string

const (
	AIProviderOllama    AIProvider = "ollama"
	AIProviderOpenAI    AIProvider = "openai" // also any OpenAI-compatible gateway
	AIProviderGemini    AIProvider = "gemini"
	AIProviderAnthropic AIProvider = "anthropic"
)

type providerTraits struct {
	label      string
	local      bool
	embeddings bool
	chat       bool
}

// providers is ordered as the interactive setup lists them.
var providers = []struct {
	id AIProvider
	providerTraits
}{
	{AIProviderOllama, providerTraits{label: "Ollama (local)", local: true, embeddings: true, chat: true}},
	{AIProviderOpenAI, providerTraits{label: "OpenAI (cloud)", embeddings: true, chat: true}},
	{AIProviderGemini, providerTraits{label: "Google Gemini (cloud)", embeddings: true}},
	{AIProviderAnthropic, providerTraits{label: "Anthropic (cloud)", chat: true}},
}

func (p AIProvider) traits() (providerTraits, bool) {
	for _, entry := range providers {
		if entry.id == p {
			return entry.providerTraits, true
		}
	}
	return providerTraits{}, false
}

func (p AIProvider) IsValid() bool {
	_, ok := p.traits()
	return ok
}

// RequiresAPIKey is true for every hosted provider.
func (p AIProvider) RequiresAPIKey() bool {
	t, ok := p.traits()
	return ok && !t.local
}

func (p AIProvider) SupportsEmbeddings() bool {
	t, _ := p.traits()
	return t.embeddings
}

// SupportsChat reports whether the provider can back the answer step.
func (p AIProvider) SupportsChat() bool {
	t, _ := p.traits()
	return t.chat
}

func (p AIProvider) IsLocal() bool {
	t, _ := p.traits()
	return t.local
}

func (p AIProvider) String() string { return string(p) }

// Description is the label shown by the interactive setup.
func (p AIProvider) Description() string {
	if t, ok := p.traits(); ok {
		return t.label
	}
	return unknownDescription
}

// StoreBackend identifies a record store implementation.
type StoreBackend string

// Available store backends.
const (
	StoreSQLite  StoreBackend = "sqlite"
	StoreChromem StoreBackend = "chromem"
	StoreMemory  StoreBackend = "memory"
)

// IsValid returns true if the backend is recognised.
func (b StoreBackend) IsValid() bool {
	switch b {
	case StoreSQLite, StoreChromem, StoreMemory:
		return true
	default:
		return false
	}
}

// EmbeddingSettings selects the model that turns chunks and queries into
// vectors.
type EmbeddingSettings struct {
	Provider AIProvider
	Model    string

	// BaseURL overrides the provider endpoint, for Ollama hosts and
	// OpenAI-compatible gateways.
	BaseURL string
	APIKey  string

	// Dimensions requests a reduced output size where supported.
	Dimensions int
}

// IsConfigured reports whether an embedding adapter can be built.
func (e EmbeddingSettings) IsConfigured() bool {
	return e.Provider.SupportsEmbeddings() && (e.APIKey != "" || !e.Provider.RequiresAPIKey())
}

// LLMSettings selects the chat model used to answer questions. A zero
// value means no LLM; retrieval still works.
type LLMSettings struct {
	Provider AIProvider
	Model    string
	BaseURL  string
	APIKey   string
}

// IsConfigured reports whether a chat adapter can be built.
func (l LLMSettings) IsConfigured() bool {
	return l.Provider.SupportsChat() && (l.APIKey != "" || !l.Provider.RequiresAPIKey())
}

// StoreSettings holds record store configuration.
type StoreSettings struct {
	// Backend selects the store implementation.
	Backend StoreBackend

	// Path is the database file (sqlite) or directory (chromem).
	Path string
}

// FetchSettings holds HTTP fetching configuration.
type FetchSettings struct {
	// Timeout bounds a single request.
	Timeout time.Duration

	// MaxBytes caps the size of one fetched body.
	MaxBytes int64

	// RequestsPerSecond is the per-host rate limit. Zero disables it.
	RequestsPerSecond float64

	// UserAgent is sent with every request.
	UserAgent string
}

// RetrySettings configures the shared retry policy.
type RetrySettings struct {
	// MaxAttempts includes the first attempt.
	MaxAttempts int

	// InitialInterval is the first backoff delay.
	InitialInterval time.Duration

	// MaxInterval caps a single backoff delay.
	MaxInterval time.Duration
}

// QuerySettings holds retrieval configuration.
type QuerySettings struct {
	// TopK is the default number of results.
	TopK int
}

// IngestSettings holds collection-independent ingestion configuration.
type IngestSettings struct {
	// Defaults are applied when a call leaves an option zero.
	Defaults IngestOptions

	// MaxSources caps the number of sources in one batch call.
	// Zero means unlimited.
	MaxSources int
}

// Settings is the explicit configuration object passed to every component
// at construction. It replaces process-wide client singletons.
type Settings struct {
	Collection string
	Embedding  EmbeddingSettings
	LLM        LLMSettings
	Store      StoreSettings
	Fetch      FetchSettings
	Retry      RetrySettings
	Query      QuerySettings
	Ingest     IngestSettings
}

// DefaultSettings embeds with a local Ollama, so nothing needs an API key,
// and leaves the LLM unset.
func DefaultSettings() Settings {
	return Settings{
		Collection: DefaultCollection,
		Embedding: EmbeddingSettings{
			Provider: AIProviderOllama,
			Model:    DefaultEmbeddingModels()[AIProviderOllama],
		},
		LLM: LLMSettings{},
		Store: StoreSettings{
			Backend: StoreSQLite,
		},
		Fetch: FetchSettings{
			Timeout:           30 * time.Second,
			MaxBytes:          10 << 20,
			RequestsPerSecond: 5,
			UserAgent:         "ragpipe/1.0",
		},
		Retry: RetrySettings{
			MaxAttempts:     3,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     10 * time.Second,
		},
		Query: QuerySettings{
			TopK: DefaultTopK,
		},
		Ingest: IngestSettings{
			Defaults: IngestOptions{}.WithDefaults(),
		},
	}
}

// AllEmbeddingProviders lists the providers with an embedding API.
func AllEmbeddingProviders() []AIProvider {
	return providersWhere(AIProvider.SupportsEmbeddings)
}

// AllLLMProviders lists the providers that can answer questions.
func AllLLMProviders() []AIProvider {
	return providersWhere(AIProvider.SupportsChat)
}

func providersWhere(keep func(AIProvider) bool) []AIProvider {
	var out []AIProvider
	for _, entry := range providers {
		if keep(entry.id) {
			out = append(out, entry.id)
		}
	}
	return out
}

func DefaultEmbeddingModels() map[AIProvider]string {
	return map[AIProvider]string{
		AIProviderOllama: "nomic-embed-text",
		AIProviderOpenAI: "text-embedding-3-small",
		AIProviderGemini: "text-embedding-004",
	}
}

func DefaultLLMModels() map[AIProvider]string {
	return map[AIProvider]string{
		AIProviderOllama:    "llama3.2",
		AIProviderOpenAI:    "gpt-4o-mini",
		AIProviderAnthropic: "claude-3-5-sonnet-latest",
	}
}

// EmbeddingDimensions maps known embedding models to their vector size.
func EmbeddingDimensions() map[string]int {
	return map[string]int{
		"nomic-embed-text":       768,
		"mxbai-embed-large":      1024,
		"all-minilm":             384,
		"text-embedding-3-small": 1536,
		"text-embedding-3-large": 3072,
		"text-embedding-ada-002": 1536,
		"text-embedding-004":     768,
		"gemini-embedding-001":   3072,
	}
}
