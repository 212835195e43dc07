// Package queue is a durable, content-addressed work queue backed by SQLite.
//
// Items are keyed by the SHA-256 of their payload so enqueueing the same
// alert twice is a no-op. Dequeue does not remove anything: an item stays
// in the table until it is acknowledged, which gives at-least-once delivery
// to a single consumer group. There is no visibility timeout, so a crash
// between dequeue and acknowledge simply redelivers the item on the next poll.
package queue

import (
	"context"
	"crypto/sha256"
	"database/sql"
	_ "embed"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/linnemanlabs/go-core/log"
)

//go:embed schema.sql
var schema string

// Item is one queued alert.
type Item struct {
	ID      string
	Payload string
}

// Store is the queue handle. All operations are serialized through a single
// connection so each one is atomic with respect to the others.
type Store struct {
	db     *sql.DB
	logger log.Logger
}

// ID returns the content address of a payload.
func ID(payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// Open opens (or creates) the queue database at path and ensures the table
// exists.
func Open(ctx context.Context, path string, logger log.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("queue: empty database path")
	}
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("queue: open %s: %w", path, err)
	}
	// a single connection serializes writers and keeps pragmas applied
	db.SetMaxOpenConns(1)

	s := New(db, logger)
	if err := s.EnsureTable(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing database handle. The caller owns db and should limit
// it to one open connection.
func New(db *sql.DB, logger log.Logger) *Store {
	if logger == nil {
		logger = log.Nop()
	}
	return &Store{db: db, logger: logger.With("component", "queue")}
}

// EnsureTable creates the queue table if it does not exist.
func (s *Store) EnsureTable(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		s.logger.Error(ctx, err, "queue schema apply failed")
		return fmt.Errorf("queue: apply schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Enqueue stores payload under its content address. A payload that is
// already queued is ignored and reported with inserted=false.
func (s *Store) Enqueue(ctx context.Context, payload string) (id string, inserted bool, err error) {
	id = ID(payload)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO queue (id, payload) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`,
		id, payload,
	)
	if err != nil {
		s.logger.Error(ctx, err, "enqueue failed", "id", id)
		return id, false, fmt.Errorf("queue: enqueue %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		s.logger.Error(ctx, err, "enqueue rows affected failed", "id", id)
		return id, false, fmt.Errorf("queue: enqueue %s: %w", id, err)
	}
	return id, n > 0, nil
}

// Dequeue returns up to limit items without removing them.
func (s *Store) Dequeue(ctx context.Context, limit int) ([]Item, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, payload FROM queue ORDER BY rowid LIMIT ?`, limit)
	if err != nil {
		s.logger.Error(ctx, err, "dequeue failed", "limit", limit)
		return nil, fmt.Errorf("queue: dequeue: %w", err)
	}
	defer func() { _ = rows.Close() }()

	items := make([]Item, 0, limit)
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.Payload); err != nil {
			s.logger.Error(ctx, err, "dequeue scan failed")
			return nil, fmt.Errorf("queue: dequeue scan: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		s.logger.Error(ctx, err, "dequeue iterate failed")
		return nil, fmt.Errorf("queue: dequeue iterate: %w", err)
	}
	return items, nil
}

// Acknowledge removes the given ids. Ids that are not queued are ignored.
func (s *Store) Acknowledge(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM queue WHERE id IN (`+placeholders+`)`, args...); err != nil {
		s.logger.Error(ctx, err, "acknowledge failed", "ids", ids)
		return fmt.Errorf("queue: acknowledge: %w", err)
	}
	return nil
}

// Len reports how many items are queued.
func (s *Store) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM queue`).Scan(&n); err != nil {
		s.logger.Error(ctx, err, "queue length failed")
		return 0, fmt.Errorf("queue: len: %w", err)
	}
	return n, nil
}

func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(10000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	return "file:" + path + "?" + q.Encode()
}
