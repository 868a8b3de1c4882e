// Package storage selects the RecordStore backend named in settings.
package storage

import (
	"fmt"

	"github.com/custodia-labs/ragpipe/internal/adapters/driven/storage/chromem"
	"github.com/custodia-labs/ragpipe/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/ragpipe/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/ragpipe/internal/core/domain"
	"github.com/custodia-labs/ragpipe/internal/core/ports/driven"
	"github.com/custodia-labs/ragpipe/internal/logger"
)

// Open builds the configured record store. An empty backend means sqlite.
func Open(cfg domain.StoreSettings) (driven.RecordStore, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = domain.StoreSQLite
	}
	logger.Debug("Opening %s store at %q", backend, cfg.Path)

	switch backend {
	case domain.StoreSQLite:
		return sqlite.NewStore(cfg.Path)
	case domain.StoreChromem:
		return chromem.NewStore(cfg.Path)
	case domain.StoreMemory:
		return memory.NewRecordStore(), nil
	default:
		return nil, fmt.Errorf("%w: unknown store backend %q (use sqlite, chromem or memory)",
			domain.ErrInvalidInput, backend)
	}
}
