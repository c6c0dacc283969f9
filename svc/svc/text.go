package svc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"textdrop/cfg"
	"textdrop/metrics"
	"textdrop/pkg/domain"
	"textdrop/svc/auth"
	"textdrop/svc/cache"
	"textdrop/svc/db"
	"textdrop/svc/util"
)

const createAttempts = 3

// Text orchestrates the identifier allocator and the record store. All
// records share one fixed lifetime: expires_at is pinned at creation and
// nothing, including updates, moves it.
type Text struct {
	db              *db.SQLite
	lru             *cache.LRU
	rdb             *db.Redis
	hasher          *auth.Hasher
	cfg             *cfg.Cfg
	viewQueue       chan string
	viewWorkerWg    sync.WaitGroup
	activeCreateOps int32
	shutdownCtx     context.Context
	shutdownFn      context.CancelFunc
	shutdown        atomic.Bool
	opWg            sync.WaitGroup
}

func NewText(sqlDB *db.SQLite, lru *cache.LRU, rdb *db.Redis, h *auth.Hasher, c *cfg.Cfg) *Text {
	if sqlDB == nil || lru == nil || h == nil || c == nil {
		panic("text service: nil dependency (sqlDB, lru, hasher, or cfg)")
	}
	if c.WorkerPoolSize <= 0 {
		c.WorkerPoolSize = 20
	}
	shutdownCtx, shutdownFn := context.WithCancel(context.Background())
	t := &Text{
		db:          sqlDB,
		lru:         lru,
		rdb:         rdb,
		hasher:      h,
		cfg:         c,
		viewQueue:   make(chan string, c.WorkerPoolSize*100),
		shutdownCtx: shutdownCtx,
		shutdownFn:  shutdownFn,
	}
	t.startWorkers(c.WorkerPoolSize)
	return t
}

func (t *Text) startWorkers(n int) {
	for i := 0; i < n; i++ {
		t.viewWorkerWg.Add(1)
		go t.viewWorker()
	}
}

func (t *Text) viewWorker() {
	defer t.viewWorkerWg.Done()
	defer func() {
		if r := recover(); r != nil {
			util.Error().Interface("panic", r).Msg("viewWorker panicked")
		}
	}()
	for id := range t.viewQueue {
		ctx, cancel := context.WithTimeout(t.shutdownCtx, 5*time.Second)
		if err := t.db.IncrViews(ctx, id); err != nil {
			if errors.Is(err, context.Canceled) {
				cancel()
				return
			}
			util.Warn().Err(err).Str("id", id).Msg("failed to incr views")
		}
		cancel()
	}
}

func (t *Text) Shutdown() {
	t.shutdown.Store(true)
	close(t.viewQueue)
	t.shutdownFn()
	done := make(chan struct{})
	go func() {
		t.viewWorkerWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		util.Warn().Msg("view workers didn't stop in time")
	}
	t.opWg.Wait()
	util.Debug().Msg("text service shutdown complete")
}

// Create allocates a fresh id and persists the record. The allocator's
// exists pre-check reduces wasted inserts; a constraint conflict at insert is
// the authoritative collision signal and triggers a full re-allocation.
func (t *Text) Create(ctx context.Context, params domain.CreateParams) (*domain.TextRecord, error) {
	if t.shutdown.Load() {
		return nil, errors.New("service shutting down")
	}
	t.opWg.Add(1)
	defer t.opWg.Done()
	currentLoad := atomic.AddInt32(&t.activeCreateOps, 1)
	defer atomic.AddInt32(&t.activeCreateOps, -1)
	if currentLoad > int32(t.cfg.MaxWorkerLoad) {
		return nil, domain.ErrUnavailable
	}
	if params.Content == "" {
		return nil, domain.ErrContentRequired
	}
	if len(params.Content) > int(t.cfg.MaxTextSize) {
		return nil, domain.ErrTextTooLarge
	}

	var rec *domain.TextRecord
	for attempt := 0; attempt < createAttempts; attempt++ {
		id, err := util.GenID(func(id string) (bool, error) {
			return t.db.Exists(ctx, id)
		})
		if err != nil {
			return nil, errors.Wrap(err, "gen id")
		}
		now := time.Now()
		rec = &domain.TextRecord{
			ID:        id,
			Content:   params.Content,
			CreatedAt: now,
			ExpiresAt: now.Add(t.cfg.RecordTTL),
		}
		err = t.db.Create(ctx, rec)
		if errors.Is(err, domain.ErrTextConflict) {
			metrics.IDCollisions.Inc()
			rec = nil
			continue
		}
		if err != nil {
			return nil, errors.Wrap(err, "create text")
		}
		break
	}
	if rec == nil {
		return nil, domain.ErrIDGenerationFailed
	}

	ttl := time.Until(rec.ExpiresAt)
	t.lru.Set(ctx, rec, ttl)
	if t.rdb != nil {
		if err := t.rdb.CacheText(ctx, rec, ttl); err != nil {
			util.Warn().Err(err).Str("id", rec.ID).Msg("failed to cache in Redis")
		}
	}
	metrics.TextCreated.Inc()
	util.Debug().
		Str("id", rec.ID).
		Str("content", util.RedactContent(rec.Content)).
		Time("expires_at", rec.ExpiresAt).
		Msg("text persisted")
	return rec, nil
}

// Get reads through LRU, Redis, then SQLite. Every tier re-checks the expiry
// instant, so a record is never observable past it even while the row still
// physically exists.
func (t *Text) Get(ctx context.Context, id string) (*domain.TextRecord, error) {
	if rec := t.lru.Get(ctx, id); rec != nil {
		if !rec.Live(time.Now()) {
			t.evict(ctx, id)
			return nil, domain.ErrTextNotFound
		}
		metrics.CacheHits.Inc()
		t.countView(id)
		metrics.TextRetrieved.Inc()
		return rec, nil
	}
	metrics.CacheMisses.Inc()
	if t.rdb != nil {
		if rec, err := t.rdb.GetText(ctx, id); err == nil && rec != nil {
			if !rec.Live(time.Now()) {
				t.evict(ctx, id)
				return nil, domain.ErrTextNotFound
			}
			metrics.CacheHits.Inc()
			t.lru.Set(ctx, rec, time.Until(rec.ExpiresAt))
			t.countView(id)
			metrics.TextRetrieved.Inc()
			return rec, nil
		}
	}
	rec, err := t.db.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrTextNotFound) {
			return nil, domain.ErrTextNotFound
		}
		return nil, errors.Wrap(err, "get text")
	}
	ttl := time.Until(rec.ExpiresAt)
	t.lru.Set(ctx, rec, ttl)
	if t.rdb != nil {
		if err := t.rdb.CacheText(ctx, rec, ttl); err != nil {
			util.Warn().Err(err).Str("id", id).Msg("failed to cache in Redis")
		}
	}
	t.countView(id)
	metrics.TextRetrieved.Inc()
	return rec, nil
}

func (t *Text) countView(id string) {
	select {
	case t.viewQueue <- id:
	default:
		util.Warn().Str("id", id).Msg("view queue full, dropping increment")
	}
}

// Update replaces content on a live record. A locked record requires the
// matching password; created_at and the expiry deadline are untouched.
func (t *Text) Update(ctx context.Context, id string, params domain.UpdateParams) (*domain.TextRecord, error) {
	if t.shutdown.Load() {
		return nil, errors.New("service shutting down")
	}
	t.opWg.Add(1)
	defer t.opWg.Done()
	if len(params.Content) > int(t.cfg.MaxTextSize) {
		return nil, domain.ErrTextTooLarge
	}
	// The lock hash lives only in the durable store and the Redis envelope;
	// read it from SQLite so a stale cache can't bypass the gate.
	rec, err := t.db.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrTextNotFound) {
			return nil, domain.ErrTextNotFound
		}
		return nil, errors.Wrap(err, "load text for update")
	}
	if rec.LockHash != "" {
		if params.Password == "" {
			return nil, domain.ErrUnauthorized
		}
		match, err := t.hasher.Verify(params.Password, rec.LockHash)
		if err != nil {
			return nil, errors.Wrap(err, "verify lock password")
		}
		if !match {
			return nil, domain.ErrUnauthorized
		}
	}
	if err := t.db.Update(ctx, id, params.Content); err != nil {
		if errors.Is(err, domain.ErrTextNotFound) {
			return nil, domain.ErrTextNotFound
		}
		return nil, errors.Wrap(err, "update text")
	}
	rec.Content = params.Content
	ttl := time.Until(rec.ExpiresAt)
	t.lru.Set(ctx, rec, ttl)
	if t.rdb != nil {
		if err := t.rdb.CacheText(ctx, rec, ttl); err != nil {
			util.Warn().Err(err).Str("id", id).Msg("failed to refresh Redis after update")
		}
	}
	metrics.TextUpdated.Inc()
	return rec, nil
}

func (t *Text) Delete(ctx context.Context, id string) error {
	if err := t.db.Delete(ctx, id); err != nil {
		if errors.Is(err, domain.ErrTextNotFound) {
			t.evict(ctx, id)
			return domain.ErrTextNotFound
		}
		return errors.Wrap(err, "delete text")
	}
	t.evict(ctx, id)
	metrics.TextDeleted.Inc()
	util.Info().Str("id", id).Msg("text deleted")
	return nil
}

// Lock attaches a password to a live record. Re-locking overwrites the
// previous password; stale cached copies are evicted so the next read refills
// with the lock in place.
func (t *Text) Lock(ctx context.Context, id, password string) error {
	if password == "" {
		return domain.ErrInvalidRequest
	}
	hash, err := t.hasher.Hash(password)
	if err != nil {
		return errors.Wrap(err, "hash lock password")
	}
	if err := t.db.SetLock(ctx, id, hash); err != nil {
		if errors.Is(err, domain.ErrTextNotFound) {
			return domain.ErrTextNotFound
		}
		return errors.Wrap(err, "set lock")
	}
	t.evict(ctx, id)
	metrics.TextLocked.Inc()
	util.Info().Str("id", id).Msg("text locked")
	return nil
}

func (t *Text) evict(ctx context.Context, id string) {
	t.lru.Delete(id)
	if t.rdb != nil {
		if err := t.rdb.Delete(ctx, id); err != nil {
			util.Warn().Err(err).Str("id", id).Msg("failed to delete from redis")
		}
	}
}

var (
	cleanerOnce    sync.Once
	cleanerRunning atomic.Bool
)

// StartCleaner launches the expired-row sweeper. SQLite has no TTL index, so
// this worker is the reclamation half of expiry; the read paths enforce the
// deadline on their own.
func StartCleaner(ctx context.Context, db *db.SQLite, interval time.Duration) error {
	if cleanerRunning.Load() {
		return errors.New("cleaner already running")
	}
	cleanerOnce.Do(func() {
		cleanerRunning.Store(true)
		go runCleaner(ctx, db, interval)
	})
	return nil
}

func runCleaner(ctx context.Context, db *db.SQLite, interval time.Duration) {
	defer cleanerRunning.Store(false)
	cleanupRequestID := util.NewRequestID()
	ctx = util.SetRequestID(ctx, cleanupRequestID)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	util.Info().
		Str("request_id", cleanupRequestID).
		Dur("interval", interval).
		Msg("cleanup worker started")
	for {
		select {
		case <-ctx.Done():
			util.Info().
				Str("request_id", cleanupRequestID).
				Msg("cleanup worker shutting down")
			return
		case <-ticker.C:
			metrics.PruneCycles.Inc()
			deleted, err := db.CleanupExpired(ctx)
			if err != nil {
				util.Error().
					Err(err).
					Str("request_id", util.GetRequestID(ctx)).
					Msg("cleanup failed")
			} else if deleted > 0 {
				metrics.ExpiredPruned.Add(float64(deleted))
				util.Info().
					Int("deleted", deleted).
					Str("request_id", util.GetRequestID(ctx)).
					Msg("cleanup completed")
			}
		}
	}
}
