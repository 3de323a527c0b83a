// Package journal records one row per measurement episode in SQLite: how
// many leaves were found, how many passes and retries it took, and whether
// the retry budget ran out. Rows are observability only; nothing reads them
// back as a measurement cache.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/hazyhaar/shimmer/idgen"
	"github.com/hazyhaar/shimmer/skeleton"
)

// ErrNotFound is returned by Get for an unknown ID.
var ErrNotFound = errors.New("journal: entry not found")

const schema = `
CREATE TABLE IF NOT EXISTS measurements (
	id         TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
	trace_id   TEXT NOT NULL DEFAULT '',
	transport  TEXT NOT NULL DEFAULT '',
	width      INTEGER NOT NULL,
	fragments  INTEGER NOT NULL,
	leaves     INTEGER NOT NULL,
	passes     INTEGER NOT NULL,
	retries    INTEGER NOT NULL,
	exhausted  INTEGER NOT NULL,
	elapsed_ms INTEGER NOT NULL,
	config     TEXT NOT NULL,
	error      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_measurements_created ON measurements(created_at);
`

// Entry is one journaled measurement.
type Entry struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	TraceID   string          `json:"trace_id,omitempty"`
	Transport string          `json:"transport,omitempty"`
	Width     int             `json:"width"`
	Fragments int             `json:"fragments"`
	Leaves    int             `json:"leaves"`
	Passes    int             `json:"passes"`
	Retries   int             `json:"retries"`
	Exhausted bool            `json:"exhausted"`
	Elapsed   time.Duration   `json:"elapsed_ms"`
	Config    skeleton.Config `json:"config"`
	Error     string          `json:"error,omitempty"`
}

// MarshalJSON reports Elapsed in milliseconds.
func (e Entry) MarshalJSON() ([]byte, error) {
	type plain Entry
	return json.Marshal(struct {
		plain
		Elapsed int64 `json:"elapsed_ms"`
	}{plain(e), e.Elapsed.Milliseconds()})
}

// Journal writes and reads measurement entries. It is safe for concurrent
// use.
type Journal struct {
	db     *sql.DB
	ids    idgen.Generator
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Journal.
type Option func(*options)

type options struct {
	db     dbConfig
	ids    idgen.Generator
	now    func() time.Time
	logger *slog.Logger
}

// WithIDGenerator sets the entry ID generator. Default: idgen.Measurement.
func WithIDGenerator(g idgen.Generator) Option { return func(o *options) { o.ids = g } }

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds. Default: 10000.
func WithBusyTimeout(ms int) Option { return func(o *options) { o.db.busyTimeout = ms } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// withClock pins CreatedAt in tests.
func withClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// Open opens (creating if needed) the journal at path.
func Open(path string, opts ...Option) (*Journal, error) {
	o := options{db: dbDefaults(), ids: idgen.Measurement, now: time.Now, logger: slog.Default()}
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	db, err := openDB(path, o.db)
	if err != nil {
		return nil, err
	}
	return &Journal{db: db, ids: o.ids, now: o.now, logger: o.logger}, nil
}

// OpenMemory opens an in-memory journal closed by t.Cleanup.
func OpenMemory(t testing.TB, opts ...Option) *Journal {
	t.Helper()
	j, err := Open(":memory:", opts...)
	if err != nil {
		t.Fatalf("journal.OpenMemory: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record stores e. An empty ID or zero CreatedAt is filled in. It returns
// the stored ID.
func (j *Journal) Record(ctx context.Context, e Entry) (string, error) {
	if e.ID == "" {
		e.ID = j.ids()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = j.now()
	}
	cfg, err := json.Marshal(e.Config)
	if err != nil {
		return "", fmt.Errorf("journal: encode config: %w", err)
	}

	_, err = j.db.ExecContext(ctx, `INSERT INTO measurements
		(id, created_at, trace_id, transport, width, fragments, leaves, passes, retries, exhausted, elapsed_ms, config, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.CreatedAt.UnixMilli(), e.TraceID, e.Transport, e.Width, e.Fragments, e.Leaves,
		e.Passes, e.Retries, e.Exhausted, e.Elapsed.Milliseconds(), string(cfg), e.Error)
	if err != nil {
		return "", fmt.Errorf("journal: record: %w", err)
	}
	j.logger.Debug("journal: recorded", "id", e.ID, "leaves", e.Leaves, "passes", e.Passes)
	return e.ID, nil
}

const selectColumns = `SELECT id, created_at, trace_id, transport, width, fragments, leaves, passes, retries, exhausted, elapsed_ms, config, error FROM measurements`

// Recent returns up to limit entries, newest first. limit <= 0 means 20.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, selectColumns+` ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: recent: %w", err)
	}
	return out, nil
}

// Get returns the entry with id.
func (j *Journal) Get(ctx context.Context, id string) (Entry, error) {
	row := j.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

// Stats aggregates the journal.
type Stats struct {
	Count       int     `json:"count"`
	Exhausted   int     `json:"exhausted"`
	MeanPasses  float64 `json:"mean_passes"`
	MeanElapsed float64 `json:"mean_elapsed_ms"`
}

// Stats summarizes every entry.
func (j *Journal) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := j.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(exhausted), 0),
		COALESCE(AVG(passes), 0), COALESCE(AVG(elapsed_ms), 0) FROM measurements`).
		Scan(&s.Count, &s.Exhausted, &s.MeanPasses, &s.MeanElapsed)
	if err != nil {
		return Stats{}, fmt.Errorf("journal: stats: %w", err)
	}
	return s, nil
}

// Prune deletes entries created before cutoff and reports how many.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, `DELETE FROM measurements WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("journal: prune: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var (
		e         Entry
		createdAt int64
		elapsed   int64
		cfg       string
	)
	err := s.Scan(&e.ID, &createdAt, &e.TraceID, &e.Transport, &e.Width, &e.Fragments, &e.Leaves,
		&e.Passes, &e.Retries, &e.Exhausted, &elapsed, &cfg, &e.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, err
	}
	if err != nil {
		return Entry{}, fmt.Errorf("journal: scan: %w", err)
	}
	e.CreatedAt = time.UnixMilli(createdAt)
	e.Elapsed = time.Duration(elapsed) * time.Millisecond
	if err := json.Unmarshal([]byte(cfg), &e.Config); err != nil {
		return Entry{}, fmt.Errorf("journal: decode config: %w", err)
	}
	return e, nil
}
