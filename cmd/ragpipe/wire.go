package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/custodia-labs/ragpipe/internal/adapters/driven/ai"
	"github.com/custodia-labs/ragpipe/internal/adapters/driven/config/env"
	"github.com/custodia-labs/ragpipe/internal/adapters/driven/config/file"
	"github.com/custodia-labs/ragpipe/internal/adapters/driven/storage"
	"github.com/custodia-labs/ragpipe/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/ragpipe/internal/adapters/driving/cli"
	"github.com/custodia-labs/ragpipe/internal/connectors"
	"github.com/custodia-labs/ragpipe/internal/connectors/filesystem"
	"github.com/custodia-labs/ragpipe/internal/connectors/web"
	"github.com/custodia-labs/ragpipe/internal/core/domain"
	"github.com/custodia-labs/ragpipe/internal/core/ports/driven"
	"github.com/custodia-labs/ragpipe/internal/core/services"
	"github.com/custodia-labs/ragpipe/internal/logger"
	"github.com/custodia-labs/ragpipe/internal/metrics"
	"github.com/custodia-labs/ragpipe/internal/normalisers"
	"github.com/custodia-labs/ragpipe/internal/postprocessors"
	"github.com/custodia-labs/ragpipe/internal/retry"
)

// embeddingCacheSize bounds the query embedding cache.
const embeddingCacheSize = 1024

var openPrompts = file.NewPromptStore

// bootstrap builds the services for one command run from the config file,
// the environment and .env.
func bootstrap(ctx context.Context, opts cli.BootstrapOptions) (*cli.Services, error) {
	configStore, err := file.NewConfigStore(opts.ConfigDir)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	settingsService := services.NewSettingsService(configStore, ai.NewConfigValidator())
	if opts.SettingsOnly {
		return &cli.Services{Settings: settingsService}, nil
	}

	settings, err := settingsService.Get()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	overlay, err := env.Load()
	if err != nil {
		return nil, err
	}
	if err := overlay.Apply(settings); err != nil {
		return nil, err
	}
	if settings.Store.Path == "" && opts.ConfigDir != "" {
		settings.Store.Path = defaultStorePath(opts.ConfigDir, settings.Store.Backend)
	}

	store, err := storage.Open(settings.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	aiServices, err := ai.Init(ctx, settings, false)
	if err != nil {
		// Collection management works without an embedder.
		logger.Warn("%v", err)
		aiServices = &ai.InitResult{}
	}
	for _, w := range aiServices.Warnings {
		logger.Warn("%s", w)
	}
	release := closer(aiServices, store)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	var embedder *services.BatchEmbedder
	if aiServices.EmbeddingService != nil {
		embedder = services.NewBatchEmbedder(aiServices.EmbeddingService,
			services.WithRetryPolicy(retry.FromSettings(settings.Retry)),
			services.WithBatchSize(settings.Ingest.Defaults.BatchSize),
			services.WithCache(embeddingCacheSize),
			services.WithEmbedderMetrics(m),
		)
	}

	fetcher := connectors.NewRouter(
		web.NewFetcher(web.NewClientFromSettings(settings.Fetch, settings.Retry)),
		filesystem.New(filesystem.WithMaxFileSize(settings.Fetch.MaxBytes)),
	)

	ingest := services.NewIngestService(fetcher, normalisers.NewRegistry(), embedder, store,
		services.WithPipelineFactory(func(chunkSize int) (driven.PostProcessorPipeline, error) {
			return postprocessors.NewDefaultPipeline(chunkSize)
		}),
		services.WithEmbeddingFactory(ai.EmbeddingFactory(settings.Embedding)),
		services.WithIngestSettings(settings.Ingest),
		services.WithIngestMetrics(m),
	)

	retrieverOpts, err := withAnswers(aiServices.LLMService, opts.ConfigDir, release,
		services.WithDefaultTopK(settings.Query.TopK),
		services.WithRetrieverMetrics(m),
	)
	if err != nil {
		return nil, err
	}

	return &cli.Services{
		Ingest:      ingest,
		Retriever:   services.NewRetriever(embedder, store, retrieverOpts...),
		Collections: services.NewCollectionService(store),
		Settings:    settingsService,
		Gatherer:    registry,
		Collection:  settings.Collection,
		TopK:        settings.Query.TopK,
		Close:       release,
	}, nil
}

// closer releases the AI services and then the store.
func closer(aiServices *ai.InitResult, store io.Closer) func() error {
	return func() error {
		aiServices.Close()
		return store.Close()
	}
}

// withAnswers adds the LLM and its prompt store to opts when an LLM is
// configured. If the prompts cannot be opened, release runs before the
// error is returned.
func withAnswers(
	llm driven.LLMService,
	configDir string,
	release func() error,
	opts ...services.RetrieverOption,
) ([]services.RetrieverOption, error) {
	if llm == nil {
		return opts, nil
	}
	prompts, err := openPrompts(promptDir(configDir))
	if err != nil {
		return nil, errors.Join(fmt.Errorf("open prompts: %w", err), release())
	}
	return append(opts, services.WithLLM(llm, prompts)), nil
}

func defaultStorePath(configDir string, backend domain.StoreBackend) string {
	if backend == domain.StoreChromem {
		return filepath.Join(configDir, "data", "chromem")
	}
	return filepath.Join(configDir, "data", sqlite.DefaultFileName)
}

// promptDir returns "" for the default location.
func promptDir(configDir string) string {
	if configDir == "" {
		return ""
	}
	return filepath.Join(configDir, "prompts")
}
