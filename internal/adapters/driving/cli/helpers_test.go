package cli

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/custodia-labs/ragpipe/internal/core/domain"
	"github.com/custodia-labs/ragpipe/internal/core/services"
)

type mockRetriever struct {
	queryFunc   func(ctx context.Context, collection, text string, k int, filter domain.Filter) (*domain.QueryResult, error)
	contextFunc func(ctx context.Context, collection, text string, k int, filter domain.Filter) (*domain.ContextBlock, error)
	answerFunc  func(ctx context.Context, collection, question string, k int, filter domain.Filter) (*domain.Answer, error)

	gotCollection string
	gotText       string
	gotK          int
	gotFilter     domain.Filter
}

func (m *mockRetriever) record(collection, text string, k int, filter domain.Filter) {
	m.gotCollection, m.gotText, m.gotK, m.gotFilter = collection, text, k, filter
}

func (m *mockRetriever) Query(ctx context.Context, collection, text string, k int, filter domain.Filter) (*domain.QueryResult, error) {
	m.record(collection, text, k, filter)
	if m.queryFunc != nil {
		return m.queryFunc(ctx, collection, text, k, filter)
	}
	return &domain.QueryResult{Query: text, Collection: collection, K: k}, nil
}

func (m *mockRetriever) Context(ctx context.Context, collection, text string, k int, filter domain.Filter) (*domain.ContextBlock, error) {
	m.record(collection, text, k, filter)
	if m.contextFunc != nil {
		return m.contextFunc(ctx, collection, text, k, filter)
	}
	return &domain.ContextBlock{Query: text, Collection: collection}, nil
}

func (m *mockRetriever) Answer(ctx context.Context, collection, question string, k int, filter domain.Filter) (*domain.Answer, error) {
	m.record(collection, question, k, filter)
	if m.answerFunc != nil {
		return m.answerFunc(ctx, collection, question, k, filter)
	}
	return nil, domain.ErrLLMUnavailable
}

type ingestCall struct {
	collection string
	sources    []string
	opts       domain.IngestOptions
}

type mockIngestService struct {
	calls []ingestCall
	err   error
	// summary builds the result for each call.
	summary func(call ingestCall) *domain.IngestSummary
}

func (m *mockIngestService) result(call ingestCall) (*domain.IngestSummary, error) {
	m.calls = append(m.calls, call)
	if m.err != nil {
		return nil, m.err
	}
	if m.summary != nil {
		return m.summary(call), nil
	}
	now := time.Now()
	s := &domain.IngestSummary{Collection: call.collection, Started: now, Finished: now}
	for _, src := range call.sources {
		s.Succeeded = append(s.Succeeded, domain.IngestedDocument{URI: src, Chunks: 2})
	}
	return s, nil
}

func (m *mockIngestService) Ingest(_ context.Context, collection, source string, opts domain.IngestOptions) (*domain.IngestSummary, error) {
	return m.result(ingestCall{collection: collection, sources: []string{source}, opts: opts})
}

func (m *mockIngestService) IngestMany(_ context.Context, collection string, sources []string, opts domain.IngestOptions) (*domain.IngestSummary, error) {
	return m.result(ingestCall{collection: collection, sources: sources, opts: opts})
}

type mockCollectionService struct {
	collections []domain.CollectionInfo
	sources     map[string][]domain.SourceInfo
	deleted     []string
	err         error
}

func (m *mockCollectionService) ListCollections(context.Context) ([]domain.CollectionInfo, error) {
	return m.collections, m.err
}

func (m *mockCollectionService) ListSources(_ context.Context, collection string) ([]domain.SourceInfo, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.sources[collection], nil
}

func (m *mockCollectionService) DeleteSource(_ context.Context, collection, source string) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	for i, s := range m.sources[collection] {
		if s.Source == source {
			m.deleted = append(m.deleted, source)
			m.sources[collection] = append(m.sources[collection][:i], m.sources[collection][i+1:]...)
			return s.Records, nil
		}
	}
	return 0, domain.ErrNotFound
}

func (m *mockCollectionService) Stats(_ context.Context, collection string) (*domain.CollectionInfo, error) {
	for i := range m.collections {
		if m.collections[i].Name == collection {
			return &m.collections[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

type mockSettingsService struct {
	settings     domain.Settings
	set          map[string]string
	embeddingSet []string
	llmSet       []string
	validateErr  error
	pingErr      error
}

func newMockSettingsService() *mockSettingsService {
	return &mockSettingsService{settings: domain.DefaultSettings(), set: map[string]string{}}
}

func (m *mockSettingsService) Get() (*domain.Settings, error) {
	s := m.settings
	return &s, nil
}

func (m *mockSettingsService) Save(s *domain.Settings) error {
	m.settings = *s
	return nil
}

func (m *mockSettingsService) Set(key, value string) error {
	for _, k := range services.SettingKeys() {
		if k == key {
			m.set[key] = value
			return nil
		}
	}
	return domain.ErrInvalidInput
}

func (m *mockSettingsService) SetEmbeddingProvider(p domain.AIProvider, model, apiKey string) error {
	m.embeddingSet = []string{string(p), model, apiKey}
	return nil
}

func (m *mockSettingsService) SetLLMProvider(p domain.AIProvider, model, apiKey string) error {
	m.llmSet = []string{string(p), model, apiKey}
	return nil
}

func (m *mockSettingsService) Validate() error                { return m.validateErr }
func (m *mockSettingsService) ValidateEmbeddingConfig() error { return m.pingErr }
func (m *mockSettingsService) ValidateLLMConfig() error       { return m.pingErr }
func (m *mockSettingsService) Path() string                   { return "/tmp/ragpipe/config.toml" }

// execute runs the root command with args against s and returns the
// combined output. Flags are reset first since they live in package vars.
func execute(t *testing.T, s *Services, stdin string, args ...string) (string, error) {
	t.Helper()

	resetFlags(rootCmd)
	SetServices(s)
	t.Cleanup(func() { SetServices(nil) })

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	var in io.Reader = strings.NewReader(stdin)
	rootCmd.SetIn(in)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	return buf.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}
