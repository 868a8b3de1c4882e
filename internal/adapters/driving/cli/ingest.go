package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/ragpipe/internal/adapters/driven/config/manifest"
	"github.com/custodia-labs/ragpipe/internal/adapters/driving/watch"
	"github.com/custodia-labs/ragpipe/internal/connectors/filesystem"
	"github.com/custodia-labs/ragpipe/internal/core/domain"
)

var (
	ingestCollection     string
	ingestChunkSize      int
	ingestMaxDepth       int
	ingestMaxConcurrency int
	ingestEmbeddingModel string
	ingestBatchSize      int
	ingestTimeout        time.Duration
	ingestNoFollow       bool
	ingestManifest       string
	ingestWatch          bool
	ingestDebounce       time.Duration
	ingestJSON           bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [source...]",
	Short: "Fetch, chunk, embed and store sources",
	Long: `Ingest one or more sources into a collection.

A source is a web page URL (crawled recursively up to --max-depth), a
sitemap URL (ending in sitemap.xml), a .txt or .md URL, a local file, a
directory or a glob pattern. Re-ingesting a source replaces its chunks.

Examples:
  ragpipe ingest https://example.com/docs --max-depth 3
  ragpipe ingest https://example.com/sitemap.xml --collection site
  ragpipe ingest ./notes --watch
  ragpipe ingest --manifest sources.yaml`,
	RunE: runIngest,
}

func init() {
	f := ingestCmd.Flags()
	f.StringVarP(&ingestCollection, "collection", "c", "", "target collection")
	f.IntVar(&ingestChunkSize, "chunk-size", 0, "maximum chunk length in characters (default 1000)")
	f.IntVar(&ingestMaxDepth, "max-depth", 0, "maximum link depth for web pages (default 2)")
	f.IntVar(&ingestMaxConcurrency, "max-concurrency", 0, "simultaneous fetches (default 10)")
	f.StringVar(&ingestEmbeddingModel, "embedding-model", "", "embedding model for this run")
	f.IntVar(&ingestBatchSize, "batch-size", 0, "chunks per embedding request (default 64)")
	f.DurationVar(&ingestTimeout, "timeout", 0, "overall crawl deadline, e.g. 5m")
	f.BoolVar(&ingestNoFollow, "no-follow", false, "do not follow links from web pages")
	f.StringVarP(&ingestManifest, "manifest", "m", "", "YAML file listing sources to ingest")
	f.BoolVarP(&ingestWatch, "watch", "w", false, "keep running and re-ingest local files when they change")
	f.DurationVar(&ingestDebounce, "debounce", watch.DefaultDebounce, "quiet period before re-ingesting a changed file")
	f.BoolVar(&ingestJSON, "json", false, "output the summary as JSON")
	rootCmd.AddCommand(ingestCmd)
}

func ingestOptionsFromFlags() domain.IngestOptions {
	return domain.IngestOptions{
		ChunkSize:      ingestChunkSize,
		MaxDepth:       ingestMaxDepth,
		MaxConcurrency: ingestMaxConcurrency,
		EmbeddingModel: ingestEmbeddingModel,
		BatchSize:      ingestBatchSize,
		CrawlTimeout:   ingestTimeout,
		NoFollow:       ingestNoFollow,
	}
}

func runIngest(cmd *cobra.Command, args []string) error {
	if ingestService == nil {
		return notConfigured("ingest service")
	}
	if len(args) == 0 && ingestManifest == "" {
		return errors.New("provide at least one source or --manifest")
	}

	ctx := cmd.Context()
	opts := ingestOptionsFromFlags()
	collection := collectionOrDefault(ingestCollection)
	progress := !ingestJSON && isTerminal(cmd.OutOrStdout())

	total := &domain.IngestSummary{Collection: collection, Started: time.Now()}

	if ingestManifest != "" {
		m, err := manifest.Load(ingestManifest)
		if err != nil {
			return err
		}
		for _, g := range m.Groups(collection) {
			if ingestCollection != "" {
				g.Collection = ingestCollection
			}
			if progress {
				cmd.Printf("Ingesting %d source(s) into %s...\n", len(g.Sources), g.Collection)
			}
			s, err := ingestService.IngestMany(ctx, g.Collection, g.Sources, g.Options.Overlay(opts))
			if err != nil {
				return fmt.Errorf("ingest failed: %w", err)
			}
			total.Merge(s)
		}
	}

	if len(args) > 0 {
		if progress {
			cmd.Printf("Ingesting %s into %s...\n", strings.Join(args, ", "), collection)
		}
		var (
			s   *domain.IngestSummary
			err error
		)
		if len(args) == 1 {
			s, err = ingestService.Ingest(ctx, collection, args[0], opts)
		} else {
			s, err = ingestService.IngestMany(ctx, collection, args, opts)
		}
		if err != nil {
			return fmt.Errorf("ingest failed: %w", err)
		}
		total.Merge(s)
	}
	total.Finished = time.Now()

	if ingestJSON {
		if err := printJSON(cmd, total); err != nil {
			return err
		}
	} else {
		printSummary(cmd, total)
	}

	if ingestWatch {
		return watchSources(ctx, cmd, collection, args, opts)
	}
	return nil
}

func printSummary(cmd *cobra.Command, s *domain.IngestSummary) {
	cmd.Printf("Ingested %d document(s), %d chunk(s) into %s in %s\n",
		len(s.Succeeded), s.Chunks(), s.Collection, s.Duration().Round(time.Millisecond))

	skipped := s.Skipped()
	if n := len(s.Failed) - len(skipped); n > 0 {
		cmd.Printf("\nFailed (%d):\n", n)
		for _, f := range s.Failed {
			if f.Reason == domain.ReasonSkipped {
				continue
			}
			cmd.Printf("  [%s] %s: %s\n", f.Stage, f.URI, f.Reason)
		}
	}
	if len(skipped) > 0 {
		cmd.Printf("\nSkipped (%d):\n", len(skipped))
		for _, f := range skipped {
			cmd.Printf("  %s: %s\n", f.URI, f.Reason)
		}
	}
}

// watchSources re-ingests local sources as they change. Directories are
// watched whole; a file is watched through its parent directory.
func watchSources(ctx context.Context, cmd *cobra.Command, collection string, args []string, opts domain.IngestOptions) error {
	var (
		sources []watch.ChangeSource
		files   []string
		dirs    bool
	)
	for _, ref := range args {
		info, err := os.Stat(ref)
		if err != nil {
			cmd.PrintErrf("Not watching %s: not a local path\n", ref)
			continue
		}
		root := ref
		if info.IsDir() {
			dirs = true
		} else {
			root = filepath.Dir(ref)
			files = append(files, ref)
		}
		w, err := filesystem.NewWatcher(root)
		if err != nil {
			closeAll(sources)
			return err
		}
		sources = append(sources, w)
		cmd.Printf("Watching %s\n", w.Root())
	}
	if len(sources) == 0 {
		return errors.New("--watch needs at least one local file or directory")
	}

	options := []watch.Option{
		watch.WithDebounce(ingestDebounce),
		watch.WithReporter(func(r watch.Result) {
			switch {
			case r.Err != nil:
				cmd.PrintErrf("%s: %v\n", r.Path, r.Err)
			case r.Change == filesystem.ChangeDeleted:
				cmd.Printf("Removed %s (%d chunks)\n", r.Path, r.Deleted)
			default:
				cmd.Printf("Re-ingested %s (%d chunks)\n", r.Path, r.Summary.Chunks())
			}
		}),
	}
	if !dirs {
		options = append(options, watch.WithFilter(watch.OnlyPaths(files...)))
	}

	runner := watch.New(ingestService, collectionService, collection, opts, options...)
	return runner.Run(ctx, sources...)
}

func closeAll(sources []watch.ChangeSource) {
	for _, s := range sources {
		_ = s.Close()
	}
}
