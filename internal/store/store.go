// Package store is the durable draft repository. Drafts live in a SQLite
// table indexed by their last-touched timestamp; every write is followed by
// a best-effort eviction pass.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pavelanni/examlog/internal/pubsub"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a draft identifier does not resolve.
var ErrNotFound = errors.New("draft not found")

// Store is the SQLite-backed draft repository.
type Store struct {
	db     *sql.DB
	policy EvictionPolicy
	now    func() time.Time
	events *pubsub.Broker[DraftEvent]

	locksMu sync.Mutex
	locks   map[string]*idLock
}

// Option configures a Store.
type Option func(*Store)

// WithEvictionPolicy overrides the default retention limits.
func WithEvictionPolicy(p EvictionPolicy) Option {
	return func(s *Store) { s.policy = p }
}

// WithClock sets the time source used for default timestamps and eviction.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithBroker publishes draft events on b instead of a private broker.
func WithBroker(b *pubsub.Broker[DraftEvent]) Option {
	return func(s *Store) { s.events = b }
}

// New opens the database at dbPath and applies migrations.
func New(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection: SQLite has a single writer, and each connection to
	// :memory: would otherwise be a separate database.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{
		db:     db,
		policy: DefaultEvictionPolicy(),
		now:    time.Now,
		events: pubsub.NewBroker[DraftEvent](),
		locks:  make(map[string]*idLock),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Policy returns the eviction policy in effect.
func (s *Store) Policy() EvictionPolicy {
	return s.policy
}

// Subscribe returns a channel of draft events that is closed when ctx ends.
func (s *Store) Subscribe(ctx context.Context) <-chan pubsub.Event[DraftEvent] {
	return s.events.Subscribe(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS drafts (
		id TEXT PRIMARY KEY,
		exam_code TEXT NOT NULL DEFAULT '',
		exam_name TEXT NOT NULL DEFAULT '',
		test_name TEXT NOT NULL DEFAULT '',
		remote_id TEXT NOT NULL DEFAULT '',
		form_data TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER,
		committed INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_drafts_touched
		ON drafts (COALESCE(updated_at, created_at));

	CREATE TABLE IF NOT EXISTS store_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// idLock is a reference-counted per-draft mutex.
type idLock struct {
	mu   sync.Mutex
	refs int
}

// lock serializes writers of one draft id and returns the unlock func.
func (s *Store) lock(id string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &idLock{}
		s.locks[id] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.locksMu.Unlock()
	}
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}
