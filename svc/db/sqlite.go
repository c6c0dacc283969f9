package db

import (
	"context"
	"database/sql"
	"sync/atomic"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"textdrop/pkg/domain"
)

var ErrCircuitOpen = errors.New("database circuit breaker open")

const (
	circuitClosed   = 0
	circuitOpen     = 1
	circuitHalfOpen = 2
	maxFailures     = 5
	cooldownSeconds = 30
)

const (
	defaultMaxOpenConns = 100
	defaultMaxIdleConns = 10
	defaultQueryTimeout = 5 * time.Second
)

// SQLite is the durable record store. SQLite has no TTL index, so liveness is
// enforced in every query (expires_at > now) and physical reclamation is left
// to the cleanup worker.
type SQLite struct {
	db            *sql.DB
	failures      int32
	circuitState  int32
	circuitOpened int64
	queryTimeout  time.Duration
}

func (s *SQLite) DB() *sql.DB {
	return s.db
}

func NewSQLite(path string) (*SQLite, error) {
	return NewSQLiteWithConfig(path, defaultMaxOpenConns, defaultMaxIdleConns, defaultQueryTimeout)
}

func NewSQLiteWithConfig(path string, maxOpenConns, maxIdleConns int, queryTimeout time.Duration) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open db")
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to ping db")
	}
	s := &SQLite{
		db:           db,
		queryTimeout: queryTimeout,
	}
	if err := s.migrate(); err != nil {
		return nil, errors.Wrap(err, "migration failed")
	}
	return s, nil
}

func (s *SQLite) checkCircuit() error {
	state := atomic.LoadInt32(&s.circuitState)
	switch state {
	case circuitClosed:
		return nil
	case circuitOpen:
		opened := atomic.LoadInt64(&s.circuitOpened)
		if time.Now().Unix()-opened >= cooldownSeconds {
			if atomic.CompareAndSwapInt32(&s.circuitState, circuitOpen, circuitHalfOpen) {
				return nil
			}
		}
		return ErrCircuitOpen
	case circuitHalfOpen:
		return nil
	default:
		return nil
	}
}

func (s *SQLite) recordError(err error) {
	if err == nil {
		atomic.StoreInt32(&s.failures, 0)
		atomic.StoreInt32(&s.circuitState, circuitClosed)
		return
	}
	if errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return
	}
	failures := atomic.AddInt32(&s.failures, 1)
	if atomic.LoadInt32(&s.circuitState) == circuitHalfOpen {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
		atomic.StoreInt32(&s.failures, 0)
		return
	}
	if failures >= maxFailures && atomic.LoadInt32(&s.circuitState) == circuitClosed {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
	}
}

func (s *SQLite) migrate() error {
	_, err := s.db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		return errors.Wrap(err, "enable WAL mode")
	}
	_, err = s.db.Exec("PRAGMA busy_timeout = 5000")
	if err != nil {
		return errors.Wrap(err, "set busy timeout")
	}
	query := `
	CREATE TABLE IF NOT EXISTS texts (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		lock_hash TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		views INTEGER DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_texts_expires_at ON texts(expires_at);
	`
	_, err = s.db.Exec(query)
	return err
}

func isConstraintErr(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

// Create inserts a new record. A physically present but expired row under the
// same id is purged first so only a live duplicate triggers ErrTextConflict.
func (s *SQLite) Create(ctx context.Context, rec *domain.TextRecord) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	tx, err := s.db.BeginTx(queryCtx, nil)
	if err != nil {
		s.recordError(err)
		return errors.Wrap(err, "begin create tx")
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(queryCtx,
		`DELETE FROM texts WHERE id = ? AND expires_at <= ?`, rec.ID, time.Now()); err != nil {
		s.recordError(err)
		return errors.Wrap(err, "purge dead row")
	}
	_, err = tx.ExecContext(queryCtx, `
	INSERT INTO texts (id, content, lock_hash, created_at, expires_at, views)
	VALUES (?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Content, rec.LockHash, rec.CreatedAt, rec.ExpiresAt, rec.Views)
	if isConstraintErr(err) {
		return domain.ErrTextConflict
	}
	s.recordError(err)
	if err != nil {
		return errors.Wrap(err, "db create")
	}
	if err := tx.Commit(); err != nil {
		s.recordError(err)
		return errors.Wrap(err, "commit create tx")
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, id string) (*domain.TextRecord, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	SELECT id, content, lock_hash, created_at, expires_at, views
	FROM texts WHERE id = ? AND expires_at > ?
	`
	var rec domain.TextRecord
	err := s.db.QueryRowContext(queryCtx, q, id, time.Now()).Scan(
		&rec.ID, &rec.Content, &rec.LockHash, &rec.CreatedAt, &rec.ExpiresAt, &rec.Views,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrTextNotFound
	}
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "db get")
	}
	rec.Locked = rec.LockHash != ""
	return &rec, nil
}

// Update replaces content only. created_at and expires_at are untouched: an
// update does not refresh the expiry countdown.
func (s *SQLite) Update(ctx context.Context, id, content string) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `UPDATE texts SET content = ? WHERE id = ? AND expires_at > ?`
	res, err := s.db.ExecContext(queryCtx, q, content, id, time.Now())
	s.recordError(err)
	if err != nil {
		return errors.Wrap(err, "db update")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "update rows affected")
	}
	if affected == 0 {
		return domain.ErrTextNotFound
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, id string) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `DELETE FROM texts WHERE id = ? AND expires_at > ?`
	res, err := s.db.ExecContext(queryCtx, q, id, time.Now())
	s.recordError(err)
	if err != nil {
		return errors.Wrap(err, "db delete")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "delete rows affected")
	}
	if affected == 0 {
		return domain.ErrTextNotFound
	}
	return nil
}

func (s *SQLite) SetLock(ctx context.Context, id, lockHash string) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `UPDATE texts SET lock_hash = ? WHERE id = ? AND expires_at > ?`
	res, err := s.db.ExecContext(queryCtx, q, lockHash, id, time.Now())
	s.recordError(err)
	if err != nil {
		return errors.Wrap(err, "db set lock")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "lock rows affected")
	}
	if affected == 0 {
		return domain.ErrTextNotFound
	}
	return nil
}

func (s *SQLite) IncrViews(ctx context.Context, id string) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `UPDATE texts SET views = views + 1 WHERE id = ? AND expires_at > ?`
	_, err := s.db.ExecContext(queryCtx, q, id, time.Now())
	s.recordError(err)
	return errors.Wrap(err, "incr views")
}

// Exists is the allocator's collision pre-check. Expired rows don't count:
// their ids are free for reuse.
func (s *SQLite) Exists(ctx context.Context, id string) (bool, error) {
	if err := s.checkCircuit(); err != nil {
		return false, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var exists int
	q := `SELECT 1 FROM texts WHERE id = ? AND expires_at > ? LIMIT 1`
	err := s.db.QueryRowContext(queryCtx, q, id, time.Now()).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	s.recordError(err)
	if err != nil {
		return false, errors.Wrap(err, "exists check failed")
	}
	return exists == 1, nil
}

func (s *SQLite) CleanupExpired(ctx context.Context) (int, error) {
	if err := s.checkCircuit(); err != nil {
		return 0, err
	}
	totalDeleted := 0
	maxIterations := 10000
	for i := 0; i < maxIterations; i++ {
		select {
		case <-ctx.Done():
			return totalDeleted, ctx.Err()
		default:
		}
		queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
		result, err := s.db.ExecContext(queryCtx, `
			DELETE FROM texts
			WHERE id IN (
				SELECT id FROM texts
				WHERE expires_at <= ?
				LIMIT 100
			)
		`, time.Now())
		cancel()
		s.recordError(err)
		if err != nil {
			return totalDeleted, errors.Wrap(err, "cleanup batch failed")
		}
		deleted, _ := result.RowsAffected()
		totalDeleted += int(deleted)
		if deleted == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return totalDeleted, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
	return totalDeleted, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
