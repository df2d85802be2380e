package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"docembed/internal/apperr"
	"docembed/internal/contextutil"
	"docembed/internal/storage"
)

// tableNamePattern guards the collection names interpolated into SQL.
var tableNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// SQLiteStore implements Store on a local SQLite file. Each collection is a
// table of rows keyed by (source, chunk_index); search is a brute-force
// cosine scan, which is adequate for a single book.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the vector database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := storage.New(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrConfig, "failed to open vector database", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS collections (
		name TEXT PRIMARY KEY,
		dimension INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		_ = db.Close()
		return nil, apperr.Wrap(apperr.ErrConfig, "failed to migrate vector database", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func tableName(collection string) (string, error) {
	if !tableNamePattern.MatchString(collection) {
		return "", apperr.New(apperr.ErrConfig, "invalid collection name %q", collection)
	}
	return "vec_" + collection, nil
}

// CollectionExists checks if a collection exists.
func (s *SQLiteStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	_, ok, err := s.dimension(ctx, collection)
	return ok, err
}

func (s *SQLiteStore) dimension(ctx context.Context, collection string) (int, bool, error) {
	var dim int
	err := s.db.QueryRowContext(ctx, `SELECT dimension FROM collections WHERE name = ?`, collection).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, apperr.Wrap(apperr.ErrTransient, "failed to read collection", err)
	}
	return dim, true, nil
}

// EnsureCollection creates the collection table and its indexes on first use.
func (s *SQLiteStore) EnsureCollection(ctx context.Context, collection string, dimension int) error {
	logger := contextutil.LoggerFromContext(ctx)

	table, err := tableName(collection)
	if err != nil {
		return err
	}

	dim, ok, err := s.dimension(ctx, collection)
	if err != nil {
		return err
	}
	if ok {
		if dim != dimension {
			return apperr.New(apperr.ErrConfig, "collection %s vector size mismatch: expected %d, got %d",
				collection, dimension, dim)
		}
		logger.InfoContext(ctx, "collection validated", "collection", collection, "vector_size", dimension)
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.ErrTransient, "failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			heading TEXT NOT NULL,
			chapter TEXT NOT NULL,
			text TEXT NOT NULL,
			vector BLOB NOT NULL,
			UNIQUE (source, chunk_index)
		);`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_chapter ON %s (chapter);`, table, table),
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return apperr.Wrap(apperr.ErrTransient, "failed to create collection table", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO collections (name, dimension) VALUES (?, ?)`, collection, dimension); err != nil {
		return apperr.Wrap(apperr.ErrTransient, "failed to register collection", err)
	}
	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.ErrTransient, "failed to commit collection", err)
	}

	logger.InfoContext(ctx, "collection created", "collection", collection, "vector_size", dimension)
	return nil
}

// ExistingIndices returns the chunk indices stored for source.
func (s *SQLiteStore) ExistingIndices(ctx context.Context, collection, source string) (IndexSet, error) {
	set := NewIndexSet()

	exists, err := s.CollectionExists(ctx, collection)
	if err != nil || !exists {
		return set, err
	}
	table, err := tableName(collection)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT chunk_index FROM %s WHERE source = ?`, table), source)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrTransient, "failed to query existing chunks", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var idx int
		if err := rows.Scan(&idx); err != nil {
			return nil, apperr.Wrap(apperr.ErrTransient, "failed to scan chunk index", err)
		}
		set.Add(idx)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.ErrTransient, "failed to read existing chunks", err)
	}
	return set, nil
}

// Insert writes records in one transaction. A row already present for the
// same (source, chunk_index) is left untouched.
func (s *SQLiteStore) Insert(ctx context.Context, collection string, records []Record) error {
	logger := contextutil.LoggerFromContext(ctx)

	if len(records) == 0 {
		return nil
	}
	table, err := tableName(collection)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.ErrTransient, "failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, source, chunk_index, heading, chapter, text, vector)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, table))
	if err != nil {
		return apperr.Wrap(apperr.ErrTransient, "failed to prepare insert", err)
	}
	defer func() { _ = stmt.Close() }()

	inserted := 0
	for _, rec := range records {
		res, err := stmt.ExecContext(ctx, rec.ID, rec.Source, rec.ChunkIndex, rec.Heading, rec.Chapter, rec.Text, encodeVector(rec.Vector))
		if err != nil {
			return apperr.Wrap(apperr.ErrTransient, fmt.Sprintf("failed to insert chunk %d", rec.ChunkIndex), err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.ErrTransient, "failed to commit batch", err)
	}

	if inserted < len(records) {
		logger.WarnContext(ctx, "rows already present were skipped", "collection", collection,
			"count", len(records), "inserted", inserted)
	}
	return nil
}

// Search scores every row matching filter against query and returns the top k.
func (s *SQLiteStore) Search(ctx context.Context, collection string, query []float32, k int, filter Filter) ([]SearchResult, error) {
	if k <= 0 {
		return nil, apperr.New(apperr.ErrConfig, "k must be greater than 0")
	}

	dim, ok, err := s.dimension(ctx, collection)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []SearchResult{}, nil
	}
	if len(query) != dim {
		return nil, apperr.New(apperr.ErrConfig, "query vector has %d dimensions, collection %s has %d",
			len(query), collection, dim)
	}
	table, err := tableName(collection)
	if err != nil {
		return nil, err
	}

	var where []string
	var args []any
	if filter.Chapter != "" {
		where = append(where, "chapter = ?")
		args = append(args, filter.Chapter)
	}
	if filter.Source != "" {
		where = append(where, "source = ?")
		args = append(args, filter.Source)
	}
	q := fmt.Sprintf(`SELECT id, source, chunk_index, heading, chapter, text, vector FROM %s`, table)
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrTransient, "failed to query vectors", err)
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var rec Record
		var blob []byte
		if err := rows.Scan(&rec.ID, &rec.Source, &rec.ChunkIndex, &rec.Heading, &rec.Chapter, &rec.Text, &blob); err != nil {
			return nil, apperr.Wrap(apperr.ErrTransient, "failed to scan vector row", err)
		}
		results = append(results, SearchResult{
			Score:  cosine(query, decodeVector(blob)),
			Record: rec,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.ErrTransient, "failed to read vectors", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > k {
		results = results[:k]
	}
	if results == nil {
		results = []SearchResult{}
	}
	return results, nil
}

// encodeVector packs v as little-endian float32s.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v
}

// cosine returns the cosine similarity of a and b, 0 when either is a zero vector.
func cosine(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
