// Package errorstore is the append-only, deduplicated sink both the
// loader and the validator pipeline write into. It never deletes or
// updates a row once committed — it is the feed's audit trail.
package errorstore

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

// Record is one error, identified by the tuple the spec requires errors
// be deduplicated on: (kind, table, line, field, entity id, bad value,
// sequence).
type Record struct {
	Kind     string
	Table    string
	Line     int64 // 0 means "no line" (feed/table scope)
	Field    string
	EntityID string
	BadValue string
	Sequence int64 // 0 means "no sequence" (non-order tables)
	Priority Priority
}

var titleCaser = cases.Title(language.English)

// HumanMessage renders a symbolic error kind such as
// "AGENCY_ID_REQUIRED_FOR_MULTI_AGENCY_FEEDS" into the fixed English
// message template the CLI summary prints: "Agency Id Required For
// Multi Agency Feeds". The taxonomy is closed (spec.md §7), so this
// covers every kind the store ever receives without a lookup table.
func HumanMessage(kind string) string {
	words := strings.Split(strings.ToLower(kind), "_")
	return titleCaser.String(strings.Join(words, " "))
}

func (r Record) identity() string {
	return fmt.Sprintf("%s\x1f%s\x1f%d\x1f%s\x1f%s\x1f%s\x1f%d",
		r.Kind, r.Table, r.Line, r.Field, r.EntityID, r.BadValue, r.Sequence)
}

type state int

const (
	stateOpen state = iota
	stateClosed
)

// Store is a per-feed error store. It is safe for concurrent use: the
// spec allows multiple validators to write concurrently even though the
// reference pipeline runs them sequentially, so the dedup set and the
// counts are guarded by a single mutex (a coarse-grained lock, per
// spec.md §5, not a lock-free structure — error writes are not the hot
// path, row parsing is).
type Store struct {
	mu       sync.Mutex
	state    state
	seen     map[string]bool
	counts   map[string]int
	total    int
	db       *sql.DB
	errTable string
	badTable string
	ph       func(n int) string
}

// New wires a Store to the two backing tables inside a feed's schema:
// errTable holds one row per Record, badTable holds the verbose
// offending value for records that carry one (kept separate so the
// common case errors table stays narrow). placeholder renders the n-th
// (1-indexed) bind parameter in the backend's dialect ("?" for sqlite,
// "$n" for postgres).
func New(db *sql.DB, errTable, badTable string, placeholder func(n int) string) *Store {
	return &Store{
		state:    stateOpen,
		seen:     map[string]bool{},
		counts:   map[string]int{},
		db:       db,
		errTable: errTable,
		badTable: badTable,
		ph:       placeholder,
	}
}

// QuestionMark is the placeholder func for sqlite.
func QuestionMark(int) string { return "?" }

// Dollar is the placeholder func for postgres.
func Dollar(n int) string { return fmt.Sprintf("$%d", n) }

// Store records err, idempotently: a second call with an identical
// identity tuple is a silent no-op. Returns whether this call actually
// inserted a new row.
func (s *Store) Store(err Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateClosed {
		return false, errors.New("errorstore: store called after commit")
	}

	id := err.identity()
	if s.seen[id] {
		return false, nil
	}
	s.seen[id] = true
	s.counts[err.Kind]++
	s.total++

	_, execErr := s.db.Exec(
		fmt.Sprintf(`INSERT INTO %s (kind, tbl, line, field, entity_id, bad_value, sequence, priority) VALUES (%s,%s,%s,%s,%s,%s,%s,%s)`,
			s.errTable, s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8)),
		err.Kind, err.Table, err.Line, err.Field, err.EntityID, err.BadValue, err.Sequence, int(err.Priority),
	)
	if execErr != nil {
		return false, errors.Wrapf(execErr, "errorstore: inserting %s", err.Kind)
	}
	if err.BadValue != "" {
		_, execErr = s.db.Exec(
			fmt.Sprintf(`INSERT INTO %s (kind, tbl, line, bad_value) VALUES (%s,%s,%s,%s)`,
				s.badTable, s.ph(1), s.ph(2), s.ph(3), s.ph(4)),
			err.Kind, err.Table, err.Line, err.BadValue,
		)
		if execErr != nil {
			return false, errors.Wrapf(execErr, "errorstore: inserting bad value for %s", err.Kind)
		}
	}
	return true, nil
}

func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *Store) CountOfKind(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[kind]
}

// Counts returns a snapshot of the per-kind tallies accumulated so
// far, for the CLI's end-of-run summary.
func (s *Store) Counts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out
}

// Commit closes the store; subsequent Store calls return an error
// instead of silently accepting writes past the audit boundary.
func (s *Store) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = stateClosed
	return nil
}

// CreateTables issues the DDL for the two backing tables. Called once
// per feed namespace when the storage backend provisions a new schema.
func CreateTables(db *sql.DB, errTable, badTable string) error {
	if _, err := db.Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		tbl TEXT,
		line INTEGER,
		field TEXT,
		entity_id TEXT,
		bad_value TEXT,
		sequence INTEGER,
		priority INTEGER
	)`, errTable)); err != nil {
		return errors.Wrap(err, "errorstore: creating errors table")
	}
	if _, err := db.Exec(fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_kind ON %s (kind)`, errTable, errTable)); err != nil {
		return errors.Wrap(err, "errorstore: indexing errors table")
	}
	if _, err := db.Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		tbl TEXT,
		line INTEGER,
		bad_value TEXT
	)`, badTable)); err != nil {
		return errors.Wrap(err, "errorstore: creating bad values table")
	}
	return nil
}
