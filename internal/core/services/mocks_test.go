package services

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/custodia-labs/ragpipe/internal/core/domain"
	"github.com/custodia-labs/ragpipe/internal/core/ports/driven"
	"github.com/custodia-labs/ragpipe/internal/postprocessors"
	"github.com/custodia-labs/ragpipe/internal/retry"
)

// fastPolicy retries immediately so tests do not sleep.
func fastPolicy(attempts int) retry.Policy {
	return retry.Policy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
		Multiplier:      1,
	}
}

func defaultPipeline(chunkSize int) (driven.PostProcessorPipeline, error) {
	return postprocessors.NewDefaultPipeline(chunkSize)
}

// --- Embedding ---

// mockEmbedding returns a deterministic vector per text.
type mockEmbedding struct {
	mu      sync.Mutex
	model   string
	dims    int
	calls   int
	inputs  [][]string
	failFor map[string]error // text substring -> error
	failN   int              // fail the first N calls
	short   bool             // return one vector too few
	closed  bool
}

func newMockEmbedding() *mockEmbedding {
	return &mockEmbedding{model: "mock-embed", dims: 8}
}

func (m *mockEmbedding) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (m *mockEmbedding) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.inputs = append(m.inputs, append([]string(nil), texts...))

	if m.failN > 0 {
		m.failN--
		return nil, errors.New("temporary failure")
	}
	for _, t := range texts {
		for sub, err := range m.failFor {
			if strings.Contains(t, sub) {
				return nil, err
			}
		}
	}

	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		out = append(out, vectorFor(t, m.dims))
	}
	if m.short && len(out) > 0 {
		out = out[:len(out)-1]
	}
	return out, nil
}

func (m *mockEmbedding) Dimensions() int              { return m.dims }
func (m *mockEmbedding) ModelName() string            { return m.model }
func (m *mockEmbedding) Ping(_ context.Context) error { return nil }

func (m *mockEmbedding) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockEmbedding) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// vectorFor hashes words into buckets so texts sharing words are similar.
func vectorFor(text string, dims int) []float32 {
	v := make([]float32, dims)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[h.Sum32()%uint32(dims)]++
	}
	v[0] += 0.01
	return v
}

// --- Fetcher ---

// mockFetcher emits a fixed set of documents and failures.
type mockFetcher struct {
	docs     []domain.RawDocument
	failures []domain.Failure
	block    bool // wait for ctx after sending
	gotOpts  driven.FetchOptions
	gotRef   domain.SourceRef
}

func (f *mockFetcher) Fetch(
	ctx context.Context, ref domain.SourceRef, opts driven.FetchOptions,
) (<-chan domain.RawDocument, <-chan domain.Failure) {
	f.gotRef = ref
	f.gotOpts = opts
	docs := make(chan domain.RawDocument)
	fails := make(chan domain.Failure)

	go func() {
		defer close(docs)
		defer close(fails)
		for _, d := range f.docs {
			select {
			case <-ctx.Done():
				return
			case docs <- d:
			}
		}
		for _, fl := range f.failures {
			select {
			case <-ctx.Done():
				return
			case fails <- fl:
			}
		}
		if f.block {
			<-ctx.Done()
		}
	}()

	return docs, fails
}

func textDoc(uri, content string) domain.RawDocument {
	return domain.RawDocument{
		Source:      "https://docs.example.com",
		URI:         uri,
		Kind:        domain.KindPlainText,
		ContentType: "text/plain",
		Content:     []byte(content),
		FetchedAt:   time.Now(),
	}
}

// --- Store ---

// failingStore wraps a RecordStore and fails ReplaceSource for chosen sources.
type failingStore struct {
	driven.RecordStore
	failFor map[string]error
}

func (s *failingStore) ReplaceSource(ctx context.Context, collection, source string, records []domain.Record) error {
	if err, ok := s.failFor[source]; ok {
		return err
	}
	return s.RecordStore.ReplaceSource(ctx, collection, source, records)
}

// --- LLM ---

type mockLLM struct {
	reply    string
	err      error
	messages []driven.ChatMessage
}

func (m *mockLLM) Generate(_ context.Context, prompt string, _ driven.GenerateOptions) (string, error) {
	return m.reply, m.err
}

func (m *mockLLM) Chat(_ context.Context, messages []driven.ChatMessage, _ driven.ChatOptions) (string, error) {
	m.messages = messages
	return m.reply, m.err
}

func (m *mockLLM) ModelName() string            { return "mock-llm" }
func (m *mockLLM) Ping(_ context.Context) error { return nil }
func (m *mockLLM) Close() error                 { return nil }

type mockPrompts struct {
	prompts map[string]string
}

func (p *mockPrompts) Load(name string) (string, error) {
	if s, ok := p.prompts[name]; ok {
		return s, nil
	}
	return "", domain.ErrNotFound
}

func (p *mockPrompts) Reload() {}

// --- AI validator ---

type mockValidator struct {
	embedErr error
	llmErr   error
	gotEmbed *domain.EmbeddingSettings
}

func (v *mockValidator) ValidateEmbedding(cfg *domain.EmbeddingSettings) error {
	v.gotEmbed = cfg
	return v.embedErr
}

func (v *mockValidator) ValidateLLM(_ *domain.LLMSettings) error {
	return v.llmErr
}
