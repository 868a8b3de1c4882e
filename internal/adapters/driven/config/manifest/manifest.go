// Package manifest reads batch ingestion manifests.
//
// A manifest is a YAML file listing sources to ingest:
//
//	collection: docs
//	options:
//	  chunk_size: 800
//	  crawl_timeout: 2m
//	sources:
//	  - https://example.com/docs
//	  - source: ./handbook
//	    collection: handbook
//	    options:
//	      chunk_size: 1200
//
// Entry options override the manifest options field by field.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/custodia-labs/ragpipe/internal/core/domain"
)

// Manifest is a parsed ingestion manifest.
type Manifest struct {
	// Collection is the default target for entries without one.
	Collection string `yaml:"collection"`

	// Options apply to every entry.
	Options domain.IngestOptions `yaml:"options"`

	// Sources lists the references to ingest, in order.
	Sources []Entry `yaml:"sources"`
}

// Entry is one source in a manifest. It may be written as a plain string.
type Entry struct {
	Source     string                `yaml:"source"`
	Collection string                `yaml:"collection,omitempty"`
	Options    *domain.IngestOptions `yaml:"options,omitempty"`
}

// UnmarshalYAML accepts either a scalar reference or a mapping.
func (e *Entry) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		e.Source = value.Value
		return nil
	}
	type plain Entry
	return value.Decode((*plain)(e))
}

// Group is a run of sources sharing a collection and options, suitable for
// one IngestMany call.
type Group struct {
	Collection string
	Options    domain.IngestOptions
	Sources    []string
}

// Load reads and validates the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse decodes and validates a manifest.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks that every entry names a source.
func (m *Manifest) Validate() error {
	if len(m.Sources) == 0 {
		return fmt.Errorf("%w: manifest lists no sources", domain.ErrInvalidInput)
	}
	var errs []error
	for i, e := range m.Sources {
		if strings.TrimSpace(e.Source) == "" {
			errs = append(errs, fmt.Errorf("sources[%d]: source is required", i))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	return nil
}

// Groups resolves each entry's collection and options, then merges
// consecutive entries that share both. defaultCollection is used when
// neither the entry nor the manifest names one.
func (m *Manifest) Groups(defaultCollection string) []Group {
	var groups []Group
	for _, e := range m.Sources {
		collection := firstNonEmpty(e.Collection, m.Collection, defaultCollection)
		opts := m.Options
		if e.Options != nil {
			opts = opts.Overlay(*e.Options)
		}

		if n := len(groups); n > 0 && groups[n-1].Collection == collection && groups[n-1].Options == opts {
			groups[n-1].Sources = append(groups[n-1].Sources, strings.TrimSpace(e.Source))
			continue
		}
		groups = append(groups, Group{
			Collection: collection,
			Options:    opts,
			Sources:    []string{strings.TrimSpace(e.Source)},
		})
	}
	return groups
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
