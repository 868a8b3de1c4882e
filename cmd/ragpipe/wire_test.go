package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/ragpipe/internal/adapters/driven/ai"
	"github.com/custodia-labs/ragpipe/internal/adapters/driven/config/file"
	"github.com/custodia-labs/ragpipe/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/ragpipe/internal/core/domain"
	"github.com/custodia-labs/ragpipe/internal/core/ports/driven"
	"github.com/custodia-labs/ragpipe/internal/core/services"
)

type stubLLM struct{ closed int }

func (s *stubLLM) Generate(context.Context, string, driven.GenerateOptions) (string, error) {
	return "", nil
}

func (s *stubLLM) Chat(context.Context, []driven.ChatMessage, driven.ChatOptions) (string, error) {
	return "", nil
}

func (s *stubLLM) ModelName() string          { return "stub" }
func (s *stubLLM) Ping(context.Context) error { return nil }

func (s *stubLLM) Close() error {
	s.closed++
	return nil
}

func TestWithAnswers_PromptFailureReleasesResources(t *testing.T) {
	orig := openPrompts
	openPrompts = func(string) (*file.PromptStore, error) { return nil, errors.New("no home directory") }
	defer func() { openPrompts = orig }()

	llm := &stubLLM{}
	store := memory.NewRecordStore()
	release := closer(&ai.InitResult{LLMService: llm}, store)

	opts, err := withAnswers(llm, t.TempDir(), release, services.WithDefaultTopK(5))

	require.Error(t, err)
	assert.ErrorContains(t, err, "open prompts")
	assert.Nil(t, opts)
	assert.Equal(t, 1, llm.closed)
	_, err = store.Count(context.Background(), "docs")
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestWithAnswers_AddsLLM(t *testing.T) {
	released := false
	release := func() error {
		released = true
		return nil
	}

	opts, err := withAnswers(&stubLLM{}, t.TempDir(), release, services.WithDefaultTopK(5))

	require.NoError(t, err)
	assert.Len(t, opts, 2)
	assert.False(t, released)
}

func TestWithAnswers_NoLLM(t *testing.T) {
	release := func() error {
		t.Fatal("release called")
		return nil
	}

	opts, err := withAnswers(nil, "", release, services.WithDefaultTopK(5))

	require.NoError(t, err)
	assert.Len(t, opts, 1)
}
