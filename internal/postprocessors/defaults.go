package postprocessors

import (
	"github.com/custodia-labs/ragpipe/internal/core/ports/driven"
	"github.com/custodia-labs/ragpipe/internal/postprocessors/annotate"
	"github.com/custodia-labs/ragpipe/internal/postprocessors/chunker"
)

// DefaultChain is the processor order used for ingestion.
var DefaultChain = []string{"chunker", "annotate"}

// RegisterDefaults registers all built-in processors with the registry.
// Call this during application initialisation to enable standard processors.
func RegisterDefaults(r *Registry) {
	r.Register("chunker", buildChunker)
	r.Register("annotate", buildAnnotate)
}

// NewDefaultPipeline builds the ingestion chain for the given chunk size.
func NewDefaultPipeline(chunkSize int) (*Pipeline, error) {
	r := NewRegistry()
	RegisterDefaults(r)

	return r.BuildChain(DefaultChain, map[string]map[string]any{
		"chunker": {"chunk_size": chunkSize},
	})
}

// buildChunker creates a chunker processor from generic config.
// Supported config keys:
//   - chunk_size (int): Maximum characters per chunk (default: 1000)
//   - heading_depth (int): Deepest heading level used as a boundary (default: 3)
//   - hard_split (bool): Cut oversized units by character count (default: true)
func buildChunker(cfg map[string]any) (driven.PostProcessor, error) {
	var opts []chunker.Option

	if cfg != nil {
		if size := getIntFromConfig(cfg, "chunk_size"); size > 0 {
			opts = append(opts, chunker.WithChunkSize(size))
		}
		if depth := getIntFromConfig(cfg, "heading_depth"); depth > 0 {
			opts = append(opts, chunker.WithHeadingDepth(depth))
		}
		if hard, ok := cfg["hard_split"].(bool); ok {
			opts = append(opts, chunker.WithHardSplit(hard))
		}
	}

	return chunker.New(opts...), nil
}

// buildAnnotate creates an annotate processor from generic config.
// Supported config keys:
//   - document_keys ([]string): document metadata keys copied onto chunks
func buildAnnotate(cfg map[string]any) (driven.PostProcessor, error) {
	var opts []annotate.Option

	if keys := getStringsFromConfig(cfg, "document_keys"); keys != nil {
		opts = append(opts, annotate.WithDocumentKeys(keys...))
	}

	return annotate.New(opts...), nil
}

// getIntFromConfig safely extracts an int from generic config map.
// Handles int, int64, and float64 types that may come from TOML/JSON parsing.
func getIntFromConfig(cfg map[string]any, key string) int {
	val, ok := cfg[key]
	if !ok {
		return 0
	}

	switch v := val.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// getStringsFromConfig extracts a string list. TOML and JSON decode arrays
// as []any, so both shapes are accepted.
func getStringsFromConfig(cfg map[string]any, key string) []string {
	switch v := cfg[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
