package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/ragpipe/internal/core/domain"
	"github.com/custodia-labs/ragpipe/internal/core/ports/driven"
	"github.com/custodia-labs/ragpipe/internal/core/ports/driving"
	"github.com/custodia-labs/ragpipe/internal/logger"
	"github.com/custodia-labs/ragpipe/internal/metrics"
)

// Ensure Retriever implements the interface.
var _ driving.Retriever = (*Retriever)(nil)

// Fallback prompts used when the prompt store has no template.
const (
	fallbackAnswerSystem = "You answer questions using only the provided context. " +
		"Cite sources by their bracketed number. If the context does not contain the answer, say so."
	fallbackAnswer = "Context:\n" + driven.PlaceholderContext + "\n\nQuestion: " + driven.PlaceholderQuestion
)

// Retriever embeds queries and ranks stored records against them.
type Retriever struct {
	embedder *BatchEmbedder
	store    driven.RecordStore
	llm      driven.LLMService
	prompts  driven.PromptStore
	topK     int
	metrics  *metrics.Metrics
}

// RetrieverOption configures a Retriever.
type RetrieverOption func(*Retriever)

// WithLLM enables Answer. prompts may be nil to use built-in prompts.
func WithLLM(llm driven.LLMService, prompts driven.PromptStore) RetrieverOption {
	return func(r *Retriever) {
		r.llm = llm
		r.prompts = prompts
	}
}

// WithDefaultTopK sets the result count used when a call passes k <= 0.
func WithDefaultTopK(k int) RetrieverOption {
	return func(r *Retriever) {
		r.topK = k
	}
}

// WithRetrieverMetrics records query latency and outcome.
func WithRetrieverMetrics(m *metrics.Metrics) RetrieverOption {
	return func(r *Retriever) {
		r.metrics = m
	}
}

// NewRetriever creates a retriever. embedder may be nil, in which case
// queries fail with domain.ErrEmbeddingUnavailable.
func NewRetriever(embedder *BatchEmbedder, store driven.RecordStore, opts ...RetrieverOption) *Retriever {
	r := &Retriever{
		embedder: embedder,
		store:    store,
		topK:     domain.DefaultTopK,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Query embeds text and returns the k nearest records in collection.
func (r *Retriever) Query(
	ctx context.Context, collection, text string, k int, filter domain.Filter,
) (result *domain.QueryResult, err error) {
	collection = strings.TrimSpace(collection)
	text = strings.TrimSpace(text)
	if collection == "" {
		return nil, fmt.Errorf("%w: collection is required", domain.ErrInvalidInput)
	}
	if text == "" {
		return nil, fmt.Errorf("%w: query text is required", domain.ErrInvalidInput)
	}
	if r.embedder == nil {
		return nil, &domain.EmbeddingError{
			Batch: -1,
			Err:   fmt.Errorf("%w: no embedding service configured", domain.ErrEmbeddingUnavailable),
		}
	}
	k = domain.ClampK(k, r.topK)

	start := time.Now()
	defer func() {
		r.metrics.Query(time.Since(start), err)
	}()

	logger.Section("Query")
	logger.Debug("Collection %q, k=%d, filter=%+v: %q", collection, k, filter, text)

	vec, err := r.embedder.EmbedQuery(ctx, text)
	if err != nil {
		logger.Warn("Query embedding failed: %v", err)
		return nil, err
	}

	matches, err := r.store.Search(ctx, collection, vec, k, filter)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", collection, err)
	}
	if matches == nil {
		matches = []domain.ScoredRecord{}
	}
	logger.Debug("Query matched %d record(s) in %s", len(matches), time.Since(start).Round(time.Millisecond))

	return &domain.QueryResult{
		Query:          text,
		Collection:     collection,
		K:              k,
		QueryEmbedding: vec,
		Matches:        matches,
	}, nil
}

// Context runs Query and renders the matches as numbered passages with
// their provenance.
func (r *Retriever) Context(
	ctx context.Context, collection, text string, k int, filter domain.Filter,
) (*domain.ContextBlock, error) {
	res, err := r.Query(ctx, collection, text, k, filter)
	if err != nil {
		return nil, err
	}
	return &domain.ContextBlock{
		Query:      res.Query,
		Collection: res.Collection,
		Matches:    res.Matches,
		Text:       RenderContext(res.Matches),
	}, nil
}

// Answer retrieves context for question and asks the LLM to answer from it.
func (r *Retriever) Answer(
	ctx context.Context, collection, question string, k int, filter domain.Filter,
) (*domain.Answer, error) {
	if r.llm == nil {
		return nil, domain.ErrLLMUnavailable
	}

	block, err := r.Context(ctx, collection, question, k, filter)
	if err != nil {
		return nil, err
	}

	answer := &domain.Answer{
		Question: block.Query,
		Model:    r.llm.ModelName(),
		Context:  block,
	}
	if len(block.Matches) == 0 {
		answer.Text = "No stored content matches this question."
		return answer, nil
	}

	system := r.prompt(driven.PromptAnswerSystem, fallbackAnswerSystem)
	user := renderAnswer(r.prompt(driven.PromptAnswer, fallbackAnswer), block.Text, block.Query)

	logger.Debug("Asking %s with %d passage(s)", answer.Model, len(block.Matches))
	text, err := r.llm.Chat(ctx, []driven.ChatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}, driven.ChatOptions{Temperature: 0.2})
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	answer.Text = strings.TrimSpace(text)
	return answer, nil
}

func (r *Retriever) prompt(name, fallback string) string {
	if r.prompts == nil {
		return fallback
	}
	p, err := r.prompts.Load(name)
	if err != nil || strings.TrimSpace(p) == "" {
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			logger.Warn("Prompt %s: %v", name, err)
		}
		return fallback
	}
	return p
}

// renderAnswer fills the answer template in one pass, so placeholders or
// verbs inside the context or question are left as typed. A template
// missing either placeholder is replaced by the built-in one.
func renderAnswer(tmpl, contextText, question string) string {
	if !strings.Contains(tmpl, driven.PlaceholderContext) || !strings.Contains(tmpl, driven.PlaceholderQuestion) {
		logger.Warn("Prompt %s needs %s and %s; using the built-in template",
			driven.PromptAnswer, driven.PlaceholderContext, driven.PlaceholderQuestion)
		tmpl = fallbackAnswer
	}
	return strings.NewReplacer(
		driven.PlaceholderContext, contextText,
		driven.PlaceholderQuestion, question,
	).Replace(tmpl)
}

// RenderContext formats ranked records as
//
//	[1] https://example.com/guide#0 (Guide > Install)
//	chunk text
//
// separated by blank lines.
func RenderContext(matches []domain.ScoredRecord) string {
	var b strings.Builder
	for i := range matches {
		m := &matches[i]
		if i > 0 {
			b.WriteString("\n\n")
		}
		rank := m.Rank
		if rank == 0 {
			rank = i + 1
		}
		b.WriteString("[")
		b.WriteString(strconv.Itoa(rank))
		b.WriteString("] ")
		b.WriteString(m.Source)
		b.WriteString("#")
		b.WriteString(strconv.Itoa(m.ChunkIndex))
		if len(m.HeaderPath) > 0 {
			b.WriteString(" (")
			b.WriteString(strings.Join(m.HeaderPath, " > "))
			b.WriteString(")")
		}
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(m.Content))
	}
	return b.String()
}
