// Copyright 2025 James Ross
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// ErrStoreContention is returned when a write operation exhausts its
// lock-retry budget against a contending writer.
var ErrStoreContention = errors.New("persistence: store contention, retry budget exhausted")

// LockRetryConfig bounds the single-writer serializer's retry-on-lock
// behavior. The exact budget/backoff schedule was an Open Question;
// DESIGN.md fixes it here as a configurable default.
type LockRetryConfig struct {
	Retries  int
	Base     time.Duration
	Max      time.Duration
}

// LockRetryStats observes the serializer's behavior per named
// operation, surfaced for health/metrics reporting.
type LockRetryStats struct {
	Operation string
	Retries   int
	Successes int
	Failures  int
}

// Store wraps the single SQLite file backing every table in §3. All
// mutating access goes through a single-writer serializer (a buffered
// channel of size 1 acting as a mutex with retry-on-lock semantics).
// Reads skip the serializer, but Open caps the pool at one connection,
// so reads do not run concurrently with each other or with a write.
type Store struct {
	db         *sql.DB
	writerSem  chan struct{}
	retryCfg   LockRetryConfig
	statsMu    chanStatsGuard
	statsByOp  map[string]*LockRetryStats
	audit      *zap.Logger
}

// SetAuditLogger mirrors every AppendEvent call through log, in addition
// to the durable job_events row. Call with the rotating logger from
// obs.NewAuditLogger to give JobEvents an on-disk audit trail
// independent of the SQLite file; nil (the default) disables mirroring.
func (s *Store) SetAuditLogger(log *zap.Logger) { s.audit = log }

// chanStatsGuard is a tiny mutex alias kept as a distinct type so the
// zero value is ready to use without an explicit constructor step.
type chanStatsGuard struct{ ch chan struct{} }

func (g *chanStatsGuard) lock() {
	if g.ch == nil {
		g.ch = make(chan struct{}, 1)
	}
	g.ch <- struct{}{}
}

func (g *chanStatsGuard) unlock() { <-g.ch }

// Open opens (creating if absent) the SQLite database at path and
// applies the schema migrations idempotently.
func Open(path string, retryCfg LockRetryConfig) (*Store, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on", path))
	if err != nil {
		return nil, fmt.Errorf("persistence: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single-writer: one physical connection avoids SQLITE_BUSY storms
	s := &Store{
		db:        db,
		writerSem: make(chan struct{}, 1),
		retryCfg:  retryCfg,
		statsByOp: make(map[string]*LockRetryStats),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenInMemory opens an in-memory store, used by tests the way
// exactly_once/outbox_test.go opens sql.Open("sqlite3", ":memory:").
func OpenInMemory() (*Store, error) {
	return Open(":memory:", LockRetryConfig{Retries: 5, Base: 20 * time.Millisecond, Max: 500 * time.Millisecond})
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping is the read-only health check; it bypasses the serializer.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// withLockRetry runs op inside the single-writer region, retrying on
// SQLITE_BUSY/SQLITE_LOCKED with exponential backoff up to
// retryCfg.Retries times after the first attempt.
func (s *Store) withLockRetry(ctx context.Context, operationName string, op func(ctx context.Context) error) error {
	select {
	case s.writerSem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.writerSem }()

	var lastErr error
	for attempt := 0; attempt <= s.retryCfg.Retries; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			s.recordLockRetry(operationName, attempt, true)
			return nil
		}
		if !isLockError(lastErr) {
			return lastErr
		}
		if attempt == s.retryCfg.Retries {
			break
		}
		d := backoffFor(attempt, s.retryCfg.Base, s.retryCfg.Max)
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.recordLockRetry(operationName, s.retryCfg.Retries, false)
	return fmt.Errorf("%w: %s: %v", ErrStoreContention, operationName, lastErr)
}

func isLockError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "SQLITE_LOCKED")
}

func backoffFor(attempt int, base, max time.Duration) time.Duration {
	d := base * time.Duration(1<<uint(attempt))
	if d > max {
		d = max
	}
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	return d + jitter
}

func (s *Store) recordLockRetry(operation string, retries int, ok bool) {
	s.statsMu.lock()
	defer s.statsMu.unlock()
	st, exists := s.statsByOp[operation]
	if !exists {
		st = &LockRetryStats{Operation: operation}
		s.statsByOp[operation] = st
	}
	st.Retries += retries
	if ok {
		st.Successes++
	} else {
		st.Failures++
	}
}

// LockRetryStatsSnapshot returns a point-in-time copy of observed
// lock-retry statistics, keyed by operation name.
func (s *Store) LockRetryStatsSnapshot() map[string]LockRetryStats {
	s.statsMu.lock()
	defer s.statsMu.unlock()
	out := make(map[string]LockRetryStats, len(s.statsByOp))
	for k, v := range s.statsByOp {
		out[k] = *v
	}
	return out
}
