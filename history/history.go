// Package history keeps a journal of program runs in SQLite: what was run,
// how it ended and the register contents afterwards.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/maxstrauch/theia/pkg/wire"
	"github.com/maxstrauch/theia/vm"

	_ "modernc.org/sqlite"
)

var log = commonlog.GetLogger("theia.history")

// ErrNotFound is returned by Get for an unknown entry ID.
var ErrNotFound = errors.New("history: entry not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	session    TEXT NOT NULL,
	language   TEXT NOT NULL,
	source     TEXT NOT NULL,
	outcome    TEXT NOT NULL,
	error      TEXT NOT NULL,
	steps      INTEGER NOT NULL,
	elapsed_ns INTEGER NOT NULL,
	started_at INTEGER NOT NULL,
	registers  BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_session_started ON runs (session, started_at);
`

// Entry is one journaled run.
type Entry struct {
	ID        string
	Session   string
	Language  string
	Source    string
	Outcome   vm.Outcome
	Error     string
	Steps     uint64
	Elapsed   time.Duration
	StartedAt time.Time
	Registers []vm.Cell
}

// NewEntry builds an entry from a finished run.
func NewEntry(session, language, source string, res vm.Result, regs []vm.Cell) Entry {
	e := Entry{
		Session:   session,
		Language:  language,
		Source:    source,
		Outcome:   res.Outcome,
		Steps:     res.Steps,
		Elapsed:   res.Elapsed,
		StartedAt: res.Started,
		Registers: regs,
	}
	if res.Err != nil {
		e.Error = res.Err.Error()
	}
	return e
}

// Journal is a run journal backed by a SQLite database. It is safe for
// concurrent use.
type Journal struct {
	db *sql.DB
}

// Open opens (creating if needed) the journal at path. The parent directory
// is created too. ":memory:" opens a private in-memory journal.
func Open(path string) (*Journal, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("history: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	// One connection keeps ":memory:" a single database and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: create schema: %w", err)
	}

	log.Debugf("journal opened at %s", path)
	return &Journal{db: db}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record stores an entry. An empty ID is replaced by a new UUID and a zero
// StartedAt by the current time. The stored entry is returned.
func (j *Journal) Record(ctx context.Context, e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now()
	}

	regs, err := wire.MarshalCells(e.Registers)
	if err != nil {
		return e, fmt.Errorf("history: encode registers: %w", err)
	}

	_, err = j.db.ExecContext(ctx,
		`INSERT INTO runs (id, session, language, source, outcome, error, steps, elapsed_ns, started_at, registers)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Session, e.Language, e.Source, e.Outcome.String(), e.Error,
		int64(e.Steps), int64(e.Elapsed), e.StartedAt.UnixNano(), regs)
	if err != nil {
		return e, fmt.Errorf("history: insert: %w", err)
	}
	return e, nil
}

// Get returns the entry with the given ID.
func (j *Journal) Get(ctx context.Context, id string) (Entry, error) {
	row := j.db.QueryRowContext(ctx, `SELECT `+columns+` FROM runs WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

// Query selects journal entries.
type Query struct {
	Session string // empty for all sessions
	Limit   int    // 0 for no limit
}

// Recent returns matching entries, newest first.
func (j *Journal) Recent(ctx context.Context, q Query) ([]Entry, error) {
	stmt := `SELECT ` + columns + ` FROM runs`
	var args []any
	if q.Session != "" {
		stmt += ` WHERE session = ?`
		args = append(args, q.Session)
	}
	stmt += ` ORDER BY started_at DESC, rowid DESC`
	if q.Limit > 0 {
		stmt += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := j.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	return entries, nil
}

// Prune deletes all but the newest keep entries and reports how many were
// removed.
func (j *Journal) Prune(ctx context.Context, keep int) (int64, error) {
	res, err := j.db.ExecContext(ctx,
		`DELETE FROM runs WHERE id NOT IN (SELECT id FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, fmt.Errorf("history: prune: %w", err)
	}
	return res.RowsAffected()
}

const columns = `id, session, language, source, outcome, error, steps, elapsed_ns, started_at, registers`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var (
		e       Entry
		outcome string
		steps   int64
		elapsed int64
		started int64
		regs    []byte
	)
	err := s.Scan(&e.ID, &e.Session, &e.Language, &e.Source, &outcome, &e.Error, &steps, &elapsed, &started, &regs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, err
		}
		return e, fmt.Errorf("history: scan: %w", err)
	}

	if err := e.Outcome.UnmarshalText([]byte(outcome)); err != nil {
		return e, fmt.Errorf("history: entry %s: %w", e.ID, err)
	}
	e.Steps = uint64(steps)
	e.Elapsed = time.Duration(elapsed)
	e.StartedAt = time.Unix(0, started)
	if e.Registers, err = wire.UnmarshalCells(regs); err != nil {
		return e, fmt.Errorf("history: entry %s: %w", e.ID, err)
	}
	return e, nil
}
