package sqlite

import (
	"cmp"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/ragpipe/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/custodia-labs/ragpipe/internal/core/domain"
	"github.com/custodia-labs/ragpipe/internal/core/ports/driven"
)

var _ driven.RecordStore = (*Store)(nil)

// DefaultFileName is the database file created under the data directory.
const DefaultFileName = "ragpipe.db"

// Store is a SQLite-backed RecordStore.
type Store struct {
	db     *sql.DB
	path   string
	closed atomic.Bool

	// SQLite allows one writer at a time; serialising here avoids
	// SQLITE_BUSY when several sources are replaced concurrently.
	writeMu sync.Mutex
}

// dsnPragmas enable WAL, wait on a locked database and enforce the
// collection foreign key.
const dsnPragmas = "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

// NewStore opens the database at path, creating the file and applying
// pending migrations. An empty path means ~/.ragpipe/data/ragpipe.db.
func NewStore(path string) (*Store, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve data directory: %w", err)
		}
		path = filepath.Join(home, ".ragpipe", "data", DefaultFileName)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+dsnPragmas)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	s := &Store{db: db, path: path}
	if err := s.migrate(migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return s, nil
}

// Close is idempotent.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Path() string { return s.path }

type migration struct {
	version int
	name    string
}

// pendingMigrations returns the *.up.sql files numbered above applied,
// oldest first. Files are named like 001_initial.up.sql.
func pendingMigrations(fsys fs.FS, applied int) ([]migration, error) {
	names, err := fs.Glob(fsys, "*.up.sql")
	if err != nil {
		return nil, err
	}
	var out []migration
	for _, name := range names {
		prefix, _, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		v, err := strconv.Atoi(prefix)
		if err != nil || v <= applied {
			continue
		}
		out = append(out, migration{version: v, name: name})
	}
	slices.SortFunc(out, func(a, b migration) int { return cmp.Compare(a.version, b.version) })
	return out, nil
}

// migrate applies each pending migration in its own transaction and
// records it in schema_migrations.
func (s *Store) migrate(fsys fs.FS) error {
	const ledger = `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`
	if _, err := s.db.Exec(ledger); err != nil {
		return fmt.Errorf("create migration ledger: %w", err)
	}

	var applied int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&applied); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	pending, err := pendingMigrations(fsys, applied)
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	for _, m := range pending {
		if err := s.applyMigration(fsys, m); err != nil {
			return fmt.Errorf("%s: %w", m.name, err)
		}
	}
	return nil
}

func (s *Store) applyMigration(fsys fs.FS, m migration) error {
	script, err := fs.ReadFile(fsys, m.name)
	if err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(string(script)); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, m.version); err != nil {
		return err
	}
	return tx.Commit()
}

// ReplaceSource deletes the source's records and inserts the new set in
// one transaction.
func (s *Store) ReplaceSource(ctx context.Context, collection, source string, records []domain.Record) error {
	fail := func(err error) error {
		return s.storeErr("replace", collection, source, err)
	}
	if s.closed.Load() {
		return fail(domain.ErrStoreUnavailable)
	}

	dims, err := recordDimensions(records)
	if err != nil {
		return fail(err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fail(err)
	}
	defer tx.Rollback()

	// Delete first so the transaction takes the write lock before reading.
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM records WHERE collection = ? AND source = ?", collection, source); err != nil {
		return fail(err)
	}

	if len(records) > 0 {
		if err := ensureCollection(ctx, tx, collection, dims); err != nil {
			return fail(err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO records (collection, source, chunk_index, content, header_path,
				char_count, word_count, metadata, embedding, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fail(err)
		}
		defer stmt.Close()

		now := time.Now().UTC()
		for i := range records {
			r := &records[i]
			created := r.CreatedAt
			if created.IsZero() {
				created = now
			}
			headerJSON, err := marshalNullable(r.HeaderPath, len(r.HeaderPath) == 0)
			if err != nil {
				return fail(fmt.Errorf("marshalling header path: %w", err))
			}
			metaJSON, err := marshalNullable(r.Metadata, len(r.Metadata) == 0)
			if err != nil {
				return fail(fmt.Errorf("marshalling metadata: %w", err))
			}
			if _, err := stmt.ExecContext(ctx,
				collection, source, r.ChunkIndex, r.Content, headerJSON,
				r.CharCount, r.WordCount, metaJSON, encodeVector(r.Embedding),
				created.Format(time.RFC3339Nano),
			); err != nil {
				return fail(fmt.Errorf("inserting chunk %d: %w", r.ChunkIndex, err))
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fail(err)
	}
	return nil
}

// ensureCollection creates the collection row or checks its dimensions.
// A collection left with no records adopts the new dimensionality.
func ensureCollection(ctx context.Context, tx *sql.Tx, collection string, dims int) error {
	var existing int
	err := tx.QueryRowContext(ctx,
		"SELECT dimensions FROM collections WHERE name = ?", collection).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx,
			"INSERT INTO collections (name, dimensions, created_at) VALUES (?, ?, ?)",
			collection, dims, time.Now().UTC().Format(time.RFC3339Nano))
		return err
	case err != nil:
		return err
	case existing == dims:
		return nil
	}

	var remaining int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM records WHERE collection = ?", collection).Scan(&remaining); err != nil {
		return err
	}
	if remaining > 0 {
		return fmt.Errorf("%w: collection has %d, got %d", domain.ErrDimensionMismatch, existing, dims)
	}
	_, err = tx.ExecContext(ctx, "UPDATE collections SET dimensions = ? WHERE name = ?", dims, collection)
	return err
}

// Search scores every record in the collection against embedding.
func (s *Store) Search(
	ctx context.Context, collection string, embedding []float32, k int, filter domain.Filter,
) ([]domain.ScoredRecord, error) {
	fail := func(err error) error {
		return s.storeErr("search", collection, filter.Source, err)
	}
	if s.closed.Load() {
		return nil, fail(domain.ErrStoreUnavailable)
	}
	if k <= 0 {
		return []domain.ScoredRecord{}, nil
	}

	query := `
		SELECT r.source, r.chunk_index, r.content, r.header_path, r.char_count,
			r.word_count, r.metadata, r.embedding, r.created_at, c.dimensions
		FROM records r JOIN collections c ON c.name = r.collection
		WHERE r.collection = ?`
	args := []any{collection}
	if filter.Source != "" {
		query += " AND r.source = ?"
		args = append(args, filter.Source)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fail(err)
	}
	defer rows.Close()

	results := []domain.ScoredRecord{}
	for rows.Next() {
		var dims int
		rec, err := scanRecord(rows, &dims)
		if err != nil {
			return nil, fail(err)
		}
		if dims != len(embedding) {
			return nil, fail(fmt.Errorf("%w: collection has %d, query has %d",
				domain.ErrDimensionMismatch, dims, len(embedding)))
		}
		rec.Collection = collection
		if !filter.Matches(rec) {
			continue
		}
		results = append(results, domain.ScoredRecord{
			Record: *rec,
			Score:  domain.Cosine(embedding, rec.Embedding),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fail(err)
	}

	return domain.RankRecords(results, k), nil
}

// DeleteSource removes every record of source.
func (s *Store) DeleteSource(ctx context.Context, collection, source string) (int, error) {
	if s.closed.Load() {
		return 0, s.storeErr("delete", collection, source, domain.ErrStoreUnavailable)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM records WHERE collection = ? AND source = ?", collection, source)
	if err != nil {
		return 0, s.storeErr("delete", collection, source, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, s.storeErr("delete", collection, source, err)
	}
	return int(n), nil
}

// ListSources summarises the sources in a collection, ordered by source.
func (s *Store) ListSources(ctx context.Context, collection string) ([]domain.SourceInfo, error) {
	if s.closed.Load() {
		return nil, s.storeErr("list", collection, "", domain.ErrStoreUnavailable)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT source, COUNT(*), MAX(created_at),
			COALESCE(MAX(json_extract(metadata, '$.`+domain.MetaOrigin+`')), '')
		FROM records
		WHERE collection = ?
		GROUP BY source
		ORDER BY source
	`, collection)
	if err != nil {
		return nil, s.storeErr("list", collection, "", err)
	}
	defer rows.Close()

	sources := []domain.SourceInfo{}
	for rows.Next() {
		var info domain.SourceInfo
		if err := rows.Scan(&info.Source, &info.Records, &info.UpdatedAt, &info.Origin); err != nil {
			return nil, s.storeErr("list", collection, "", err)
		}
		sources = append(sources, info)
	}
	if err := rows.Err(); err != nil {
		return nil, s.storeErr("list", collection, "", err)
	}
	return sources, nil
}

// ListCollections summarises every collection, ordered by name.
func (s *Store) ListCollections(ctx context.Context) ([]domain.CollectionInfo, error) {
	if s.closed.Load() {
		return nil, s.storeErr("collections", "", "", domain.ErrStoreUnavailable)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.name, c.dimensions, COUNT(DISTINCT r.source), COUNT(r.source)
		FROM collections c
		LEFT JOIN records r ON r.collection = c.name
		GROUP BY c.name, c.dimensions
		ORDER BY c.name
	`)
	if err != nil {
		return nil, s.storeErr("collections", "", "", err)
	}
	defer rows.Close()

	collections := []domain.CollectionInfo{}
	for rows.Next() {
		var info domain.CollectionInfo
		if err := rows.Scan(&info.Name, &info.Dimensions, &info.Sources, &info.Records); err != nil {
			return nil, s.storeErr("collections", "", "", err)
		}
		collections = append(collections, info)
	}
	if err := rows.Err(); err != nil {
		return nil, s.storeErr("collections", "", "", err)
	}
	return collections, nil
}

// Count returns the number of records in a collection.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	if s.closed.Load() {
		return 0, s.storeErr("count", collection, "", domain.ErrStoreUnavailable)
	}

	var n int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM records WHERE collection = ?", collection).Scan(&n); err != nil {
		return 0, s.storeErr("count", collection, "", err)
	}
	return n, nil
}

// storeErr wraps err as a StoreError. Connection-level failures are
// reported as ErrStoreUnavailable so callers can abort.
func (s *Store) storeErr(op, collection, source string, err error) error {
	var se *domain.StoreError
	if errors.As(err, &se) {
		return err
	}
	if isUnavailable(err) {
		err = fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return &domain.StoreError{Op: op, Collection: collection, Source: source, Err: err}
}

func isUnavailable(err error) bool {
	if errors.Is(err, domain.ErrStoreUnavailable) {
		return false
	}
	if errors.Is(err, sql.ErrConnDone) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "database is closed") ||
		strings.Contains(msg, "unable to open database") ||
		strings.Contains(msg, "disk I/O error")
}

// recordDimensions returns the shared embedding size of records.
func recordDimensions(records []domain.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	dims := len(records[0].Embedding)
	if dims == 0 {
		return 0, fmt.Errorf("%w: record %d has no embedding", domain.ErrInvalidInput, records[0].ChunkIndex)
	}
	for i := range records {
		if len(records[i].Embedding) != dims {
			return 0, fmt.Errorf("%w: record %d has %d, expected %d",
				domain.ErrDimensionMismatch, records[i].ChunkIndex, len(records[i].Embedding), dims)
		}
	}
	return dims, nil
}

// scanRecord scans one search row. The collection's dimensions are
// written to dims.
func scanRecord(rows *sql.Rows, dims *int) (*domain.Record, error) {
	var (
		rec        domain.Record
		headerJSON sql.NullString
		metaJSON   sql.NullString
		embedding  []byte
		createdAt  string
	)
	if err := rows.Scan(&rec.Source, &rec.ChunkIndex, &rec.Content, &headerJSON,
		&rec.CharCount, &rec.WordCount, &metaJSON, &embedding, &createdAt, dims); err != nil {
		return nil, err
	}

	if headerJSON.Valid && headerJSON.String != "" {
		if err := json.Unmarshal([]byte(headerJSON.String), &rec.HeaderPath); err != nil {
			return nil, fmt.Errorf("unmarshalling header path: %w", err)
		}
	}
	if metaJSON.Valid && metaJSON.String != "" {
		if err := json.Unmarshal([]byte(metaJSON.String), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshalling metadata: %w", err)
		}
	}
	rec.Embedding = decodeVector(embedding)
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)

	return &rec, nil
}

// marshalNullable returns nil for empty values so the column stays NULL.
func marshalNullable(v any, empty bool) (any, error) {
	if empty {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// encodeVector packs v as little-endian float32s.
func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	out := make([]byte, 0, 4*len(v))
	for _, f := range v {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(f))
	}
	return out
}

// decodeVector reverses encodeVector. A trailing partial value is dropped.
func decodeVector(b []byte) []float32 {
	if len(b) < 4 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
