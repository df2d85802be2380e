package storage

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_run_store.go -package=mocks docembed/internal/storage RunStore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a record is not found.
	ErrNotFound = errors.New("record not found")
)

// DefaultListLimit caps List when no limit is given.
const DefaultListLimit = 20

// RunStore defines the interface for run ledger operations.
type RunStore interface {
	// Start records a new running run. It fills in ID and StartedAt when empty.
	Start(ctx context.Context, run *Run) error
	// Finish stores the final counts and status of a run started earlier.
	Finish(ctx context.Context, run *Run) error
	// LatestBySource returns the most recent run for source in collection.
	// Returns nil and ErrNotFound if there is none.
	LatestBySource(ctx context.Context, source, collection string) (*Run, error)
	// List returns the most recent runs, newest first.
	List(ctx context.Context, limit int) ([]Run, error)
}

// RunRepo provides methods for run ledger operations.
// It implements the RunStore interface.
type RunRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewRunRepo creates a new RunRepo.
func NewRunRepo(db *sql.DB) *RunRepo {
	return &RunRepo{db: db, now: func() time.Time { return time.Now().UTC() }}
}

const runColumns = `id, source, collection, doc_hash, chunk_config, status, total, skipped, embedded,
	written, batches, failed_batch, error, started_at, finished_at`

// Start records a new running run.
func (r *RunRepo) Start(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = r.now()
	}
	run.Status = RunRunning

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO runs (id, source, collection, doc_hash, chunk_config, status, started_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Source, run.Collection, run.DocHash, run.ChunkConfig, run.Status, formatTimestamp(run.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// Finish stores the final state of run. Status must already be set.
func (r *RunRepo) Finish(ctx context.Context, run *Run) error {
	finished := r.now()
	run.FinishedAt = &finished

	res, err := r.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, total = ?, skipped = ?, embedded = ?, written = ?, batches = ?,
			failed_batch = ?, error = ?, finished_at = ? WHERE id = ?`,
		run.Status, run.Total, run.Skipped, run.Embedded, run.Written, run.Batches,
		run.FailedBatch, run.Error, formatTimestamp(finished), run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// LatestBySource returns the most recent run for source in collection.
func (r *RunRepo) LatestBySource(ctx context.Context, source, collection string) (*Run, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE source = ? AND collection = ?
			ORDER BY started_at DESC, rowid DESC LIMIT 1`,
		source, collection,
	)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	return run, nil
}

// List returns up to limit runs, newest first. limit <= 0 uses DefaultListLimit.
func (r *RunRepo) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var startedAt string
	var finishedAt sql.NullString

	err := row.Scan(&run.ID, &run.Source, &run.Collection, &run.DocHash, &run.ChunkConfig, &run.Status,
		&run.Total, &run.Skipped, &run.Embedded, &run.Written, &run.Batches,
		&run.FailedBatch, &run.Error, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	if run.StartedAt, err = parseTimestamp(startedAt); err != nil {
		return nil, err
	}
	if finishedAt.Valid {
		t, err := parseTimestamp(finishedAt.String)
		if err != nil {
			return nil, err
		}
		run.FinishedAt = &t
	}
	return &run, nil
}

// timestampLayout sorts lexically in time order.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// parseTimestamp accepts the stored layout and SQLite's own DATETIME format.
func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		t, err = time.Parse("2006-01-02 15:04:05", s)
		if err != nil {
			return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
		}
	}
	return t, nil
}
