// Package sqlite provides the default RecordStore backed by SQLite.
//
// This adapter uses modernc.org/sqlite, a pure Go SQLite implementation that requires
// no CGO, enabling easy cross-compilation.
//
// # Schema
//
// The database schema is managed through versioned migrations stored in the
// migrations/ directory. Each migration is a pair of .up.sql and .down.sql files.
// Two tables are used:
//
//   - collections: one row per collection with its fixed embedding dimensionality
//   - records: one row per (collection, source, chunk_index) holding the chunk
//     text, JSON header path and metadata, and the embedding as little-endian
//     float32 bytes
//
// # Search
//
// Search is an exact cosine scan over the collection, read in a single query so
// it sees one consistent snapshot while a writer replaces a source.
//
// # Data Location
//
// By default, the database is stored at ~/.ragpipe/data/ragpipe.db
//
// # Thread Safety
//
// All operations are thread-safe. The store uses database-level locking provided
// by SQLite in WAL mode. ReplaceSource runs in one transaction.
package sqlite
