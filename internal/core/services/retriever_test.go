package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/ragpipe/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/ragpipe/internal/core/domain"
	"github.com/custodia-labs/ragpipe/internal/core/ports/driven"
)

func seedStore(t *testing.T, texts map[string][]string) *memory.RecordStore {
	t.Helper()
	store := memory.NewRecordStore()
	t.Cleanup(func() { _ = store.Close() })

	for source, chunks := range texts {
		records := make([]domain.Record, len(chunks))
		for i, c := range chunks {
			records[i] = domain.Record{
				Collection: "docs",
				Source:     source,
				ChunkIndex: i,
				Content:    c,
				HeaderPath: []string{"Guide"},
				Metadata:   map[string]string{domain.MetaKind: "webpage"},
				Embedding:  vectorFor(c, 8),
				CreatedAt:  time.Now(),
			}
		}
		require.NoError(t, store.ReplaceSource(context.Background(), "docs", source, records))
	}
	return store
}

func newTestRetriever(t *testing.T, opts ...RetrieverOption) (*Retriever, *mockEmbedding) {
	t.Helper()
	store := seedStore(t, map[string][]string{
		"https://a.example/install": {"install the cli with go install", "configure the cli"},
		"https://b.example/faq":     {"frequently asked questions", "contact support by email"},
	})
	embed := newMockEmbedding()
	return NewRetriever(NewBatchEmbedder(embed, WithRetryPolicy(fastPolicy(1))), store, opts...), embed
}

func TestRetriever_Query(t *testing.T) {
	r, _ := newTestRetriever(t)

	res, err := r.Query(context.Background(), "docs", "install the cli with go install", 3, domain.Filter{})

	require.NoError(t, err)
	assert.Equal(t, 3, res.K)
	require.Len(t, res.Matches, 3)
	assert.Equal(t, "https://a.example/install", res.Matches[0].Source)
	assert.Equal(t, 0, res.Matches[0].ChunkIndex)
	assert.InDelta(t, 1.0, res.Matches[0].Score, 1e-6)
	for i, m := range res.Matches {
		assert.Equal(t, i+1, m.Rank)
		if i > 0 {
			assert.LessOrEqual(t, m.Score, res.Matches[i-1].Score)
		}
	}
	assert.Len(t, res.QueryEmbedding, 8)
}

func TestRetriever_QueryClampsK(t *testing.T) {
	r, _ := newTestRetriever(t, WithDefaultTopK(2))

	res, err := r.Query(context.Background(), "docs", "cli", 0, domain.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.K)
	assert.Len(t, res.Matches, 2)

	res, err = r.Query(context.Background(), "docs", "cli", 500, domain.Filter{})
	require.NoError(t, err)
	assert.Equal(t, domain.MaxTopK, res.K)
	assert.Len(t, res.Matches, 4)
}

func TestRetriever_QueryFilter(t *testing.T) {
	r, _ := newTestRetriever(t)

	res, err := r.Query(context.Background(), "docs", "cli", 5, domain.Filter{Source: "https://b.example/faq"})

	require.NoError(t, err)
	require.Len(t, res.Matches, 2)
	for _, m := range res.Matches {
		assert.Equal(t, "https://b.example/faq", m.Source)
	}
}

func TestRetriever_EmptyCollection(t *testing.T) {
	r, _ := newTestRetriever(t)

	res, err := r.Query(context.Background(), "nothing-here", "anything", 5, domain.Filter{})

	require.NoError(t, err)
	require.NotNil(t, res)
	assert.NotNil(t, res.Matches)
	assert.True(t, res.Empty())
}

func TestRetriever_EmbeddingFailure(t *testing.T) {
	r, embed := newTestRetriever(t)
	embed.failFor = map[string]error{"": errors.New("connection refused")}

	_, err := r.Query(context.Background(), "docs", "cli", 5, domain.Filter{})

	assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
	var ee *domain.EmbeddingError
	assert.ErrorAs(t, err, &ee)
}

func TestRetriever_NoEmbedder(t *testing.T) {
	r := NewRetriever(nil, memory.NewRecordStore())

	_, err := r.Query(context.Background(), "docs", "cli", 5, domain.Filter{})

	assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
}

func TestRetriever_InvalidInput(t *testing.T) {
	r, _ := newTestRetriever(t)

	_, err := r.Query(context.Background(), "", "cli", 5, domain.Filter{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = r.Query(context.Background(), "docs", "   ", 5, domain.Filter{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRetriever_StoreUnavailable(t *testing.T) {
	store := memory.NewRecordStore()
	require.NoError(t, store.Close())
	r := NewRetriever(NewBatchEmbedder(newMockEmbedding()), store)

	_, err := r.Query(context.Background(), "docs", "cli", 5, domain.Filter{})

	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestRetriever_Context(t *testing.T) {
	r, _ := newTestRetriever(t)

	block, err := r.Context(context.Background(), "docs", "install the cli with go install", 1, domain.Filter{})

	require.NoError(t, err)
	require.Len(t, block.Matches, 1)
	assert.Equal(t, "[1] https://a.example/install#0 (Guide)\ninstall the cli with go install", block.Text)
}

func TestRenderContext(t *testing.T) {
	matches := []domain.ScoredRecord{
		{Record: domain.Record{Source: "s1", ChunkIndex: 2, Content: " first \n", HeaderPath: []string{"A", "B"}}, Rank: 1},
		{Record: domain.Record{Source: "s2", ChunkIndex: 0, Content: "second"}},
	}

	text := RenderContext(matches)

	assert.Equal(t, "[1] s1#2 (A > B)\nfirst\n\n[2] s2#0\nsecond", text)
	assert.Empty(t, RenderContext(nil))
}

func TestRetriever_Answer(t *testing.T) {
	t.Run("no LLM", func(t *testing.T) {
		r, _ := newTestRetriever(t)
		_, err := r.Answer(context.Background(), "docs", "how do I install?", 2, domain.Filter{})
		assert.ErrorIs(t, err, domain.ErrLLMUnavailable)
	})

	t.Run("uses prompts and context", func(t *testing.T) {
		llm := &mockLLM{reply: "  Run go install [1].  "}
		prompts := &mockPrompts{prompts: map[string]string{
			driven.PromptAnswerSystem: "SYSTEM",
			driven.PromptAnswer:       "CTX={{context}} Q={{question}}",
		}}
		r, _ := newTestRetriever(t, WithLLM(llm, prompts))

		ans, err := r.Answer(context.Background(), "docs", "install the cli with go install", 1, domain.Filter{})

		require.NoError(t, err)
		assert.Equal(t, "Run go install [1].", ans.Text)
		assert.Equal(t, "mock-llm", ans.Model)
		require.Len(t, llm.messages, 2)
		assert.Equal(t, "SYSTEM", llm.messages[0].Content)
		assert.Equal(t, "CTX="+ans.Context.Text+" Q=install the cli with go install", llm.messages[1].Content)
	})

	t.Run("fallback prompts", func(t *testing.T) {
		llm := &mockLLM{reply: "ok"}
		r, _ := newTestRetriever(t, WithLLM(llm, nil))

		_, err := r.Answer(context.Background(), "docs", "cli", 1, domain.Filter{})

		require.NoError(t, err)
		assert.Equal(t, fallbackAnswerSystem, llm.messages[0].Content)
		assert.Contains(t, llm.messages[1].Content, "Question: cli")
	})

	t.Run("malformed answer prompt falls back", func(t *testing.T) {
		for _, tmpl := range []string{"CTX=%s Q=%s %d", "Use 100% of {{context}}", "no placeholders at all"} {
			llm := &mockLLM{reply: "ok"}
			prompts := &mockPrompts{prompts: map[string]string{driven.PromptAnswer: tmpl}}
			r, _ := newTestRetriever(t, WithLLM(llm, prompts))

			ans, err := r.Answer(context.Background(), "docs", "cli", 1, domain.Filter{})

			require.NoError(t, err, tmpl)
			user := llm.messages[1].Content
			assert.Equal(t, "Context:\n"+ans.Context.Text+"\n\nQuestion: cli", user, tmpl)
			assert.NotContains(t, user, "%!", tmpl)
		}
	})

	t.Run("no matches skips the LLM", func(t *testing.T) {
		llm := &mockLLM{reply: "should not be used"}
		r, _ := newTestRetriever(t, WithLLM(llm, nil))

		ans, err := r.Answer(context.Background(), "empty", "cli", 1, domain.Filter{})

		require.NoError(t, err)
		assert.Nil(t, llm.messages)
		assert.NotEqual(t, "should not be used", ans.Text)
	})

	t.Run("LLM error", func(t *testing.T) {
		llm := &mockLLM{err: errors.New("rate limited")}
		r, _ := newTestRetriever(t, WithLLM(llm, nil))

		_, err := r.Answer(context.Background(), "docs", "cli", 1, domain.Filter{})

		assert.ErrorContains(t, err, "rate limited")
	})
}

func TestRenderAnswer(t *testing.T) {
	tests := []struct {
		name     string
		tmpl     string
		context  string
		question string
		want     string
	}{
		{
			name:     "named placeholders",
			tmpl:     "Q: {{question}}\nC: {{context}}",
			context:  "[1] a",
			question: "why?",
			want:     "Q: why?\nC: [1] a",
		},
		{
			name:     "percent signs are literal",
			tmpl:     "100% sure: {{context}} / {{question}} %s",
			context:  "ctx",
			question: "q",
			want:     "100% sure: ctx / q %s",
		},
		{
			name:     "placeholders in input are not expanded",
			tmpl:     "{{context}}|{{question}}",
			context:  "see {{question}}",
			question: "{{context}}",
			want:     "see {{question}}|{{context}}",
		},
		{
			name:     "question missing uses built-in",
			tmpl:     "{{context}} only",
			context:  "ctx",
			question: "q",
			want:     "Context:\nctx\n\nQuestion: q",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, renderAnswer(tt.tmpl, tt.context, tt.question))
		})
	}
}
