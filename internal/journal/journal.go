// Package journal records behavior stack transitions to a SQLite database,
// one run per scheduler, for later inspection.
package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/joeycumines/conduct/internal/behavior"
	"github.com/joeycumines/conduct/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	label       TEXT,
	started_at  TEXT NOT NULL,
	ended_at    TEXT
);

CREATE TABLE IF NOT EXISTS transitions (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL,
	tick        INTEGER NOT NULL,
	at_ns       INTEGER NOT NULL,
	kind        TEXT NOT NULL,
	behavior    TEXT NOT NULL,
	parent      TEXT,
	depth       INTEGER NOT NULL,
	action      TEXT,
	status      TEXT,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE INDEX IF NOT EXISTS transitions_run_tick ON transitions (run_id, tick);
`

// ErrClosed is returned after Close.
var ErrClosed = errors.New("journal: closed")

// Run is one recorded scheduler run.
type Run struct {
	ID        uuid.UUID
	Label     string
	StartedAt time.Time
	EndedAt   time.Time
	Count     int
}

// Entry is one recorded transition.
type Entry struct {
	Seq      int64
	Tick     uint64
	At       time.Duration
	Kind     string
	Behavior string
	Parent   string
	Depth    int
	Action   string
	Status   string
}

// Journal writes the transitions of a single run.
type Journal struct {
	db     *sql.DB
	insert *sql.Stmt
	run    uuid.UUID
	logger *slog.Logger
	now    func() time.Time
	failed int
	closed bool
}

// Open opens (creating if needed) the database at path and starts a run
// labelled label. Use ":memory:" for a throwaway journal.
func Open(path, label string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path != ":memory:" {
		if err := storage.EnsureParentDir(path); err != nil {
			return nil, fmt.Errorf("journal: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open db: %w", err)
	}
	// an in-memory database exists per connection
	db.SetMaxOpenConns(1)
	j, err := open(db, label, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func open(db *sql.DB, label string, logger *slog.Logger) (*Journal, error) {
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("journal: pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("journal: pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	j := &Journal{db: db, run: uuid.New(), logger: logger, now: time.Now}
	if _, err := db.Exec(`INSERT INTO runs (run_id, label, started_at) VALUES (?, ?, ?)`,
		j.run.String(), nullIfEmpty(label), j.now().UTC().Format(time.RFC3339Nano)); err != nil {
		return nil, fmt.Errorf("journal: start run: %w", err)
	}
	insert, err := db.Prepare(`INSERT INTO transitions (run_id, tick, at_ns, kind, behavior, parent, depth, action, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("journal: prepare: %w", err)
	}
	j.insert = insert
	return j, nil
}

// RunID returns the id of the run being recorded.
func (j *Journal) RunID() uuid.UUID { return j.run }

// DB returns the underlying database.
func (j *Journal) DB() *sql.DB { return j.db }

// Failed returns how many Observe calls could not be written.
func (j *Journal) Failed() int { return j.failed }

// Record writes one transition.
func (j *Journal) Record(tr behavior.Transition) error {
	if j.closed {
		return ErrClosed
	}
	var action, status any
	if tr.Kind == behavior.ActionStarted || tr.Kind == behavior.ActionFinished {
		action, status = tr.Action, tr.Status.String()
	}
	_, err := j.insert.Exec(j.run.String(), int64(tr.Tick), int64(tr.At), tr.Kind.String(),
		string(tr.Behavior), nullIfEmpty(string(tr.Parent)), tr.Depth, action, status)
	if err != nil {
		return fmt.Errorf("journal: record: %w", err)
	}
	return nil
}

// Observe records tr, logging instead of returning failures. It has the
// shape of a scheduler observer.
func (j *Journal) Observe(tr behavior.Transition) {
	if err := j.Record(tr); err != nil {
		j.failed++
		j.logger.Warn("journal write failed", slog.String("behavior", string(tr.Behavior)), slog.Any("error", err))
	}
}

// Entries returns the transitions of run in order.
func (j *Journal) Entries(run uuid.UUID) ([]Entry, error) {
	rows, err := j.db.Query(`SELECT id, tick, at_ns, kind, behavior, parent, depth, action, status
		FROM transitions WHERE run_id = ? ORDER BY id`, run.String())
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var (
			e                      Entry
			tick, at               int64
			parent, action, status sql.NullString
		)
		if err := rows.Scan(&e.Seq, &tick, &at, &e.Kind, &e.Behavior, &parent, &e.Depth, &action, &status); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		e.Tick, e.At = uint64(tick), time.Duration(at)
		e.Parent, e.Action, e.Status = parent.String, action.String, status.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// Runs lists every run in the database, oldest first.
func (j *Journal) Runs() ([]Run, error) {
	rows, err := j.db.Query(`SELECT r.run_id, r.label, r.started_at, r.ended_at, COUNT(t.id)
		FROM runs r LEFT JOIN transitions t ON t.run_id = r.run_id
		GROUP BY r.run_id ORDER BY r.started_at, r.rowid`)
	if err != nil {
		return nil, fmt.Errorf("journal: query runs: %w", err)
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var (
			r            Run
			id, started  string
			label, ended sql.NullString
		)
		if err := rows.Scan(&id, &label, &started, &ended, &r.Count); err != nil {
			return nil, fmt.Errorf("journal: scan run: %w", err)
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("journal: run id: %w", err)
		}
		r.Label = label.String
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		if ended.Valid {
			r.EndedAt, _ = time.Parse(time.RFC3339Nano, ended.String)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close marks the run ended and closes the database.
func (j *Journal) Close() error {
	if j.closed {
		return nil
	}
	j.closed = true
	_, err := j.db.Exec(`UPDATE runs SET ended_at = ? WHERE run_id = ?`,
		j.now().UTC().Format(time.RFC3339Nano), j.run.String())
	if err != nil {
		err = fmt.Errorf("journal: end run: %w", err)
	}
	return errors.Join(err, j.insert.Close(), j.db.Close())
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
