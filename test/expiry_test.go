package test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"

	"textdrop/pkg/domain"
)

func TestRecordUnobservableAfterDeadline(t *testing.T) {
	c := createTestConfig()
	c.RecordTTL = 150 * time.Millisecond
	textSvc, _ := createTestService(t, c)
	ctx := context.Background()

	rec, err := textSvc.Create(ctx, domain.CreateParams{Content: "short lived"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := textSvc.Get(ctx, rec.ID); err != nil {
		t.Fatalf("get before deadline failed: %v", err)
	}

	time.Sleep(250 * time.Millisecond)

	// The row may still be on disk; the deadline alone decides visibility.
	if _, err := textSvc.Get(ctx, rec.ID); !errors.Is(errors.Cause(err), domain.ErrTextNotFound) {
		t.Errorf("expected ErrTextNotFound past deadline, got %v", err)
	}
	if _, err := textSvc.Update(ctx, rec.ID, domain.UpdateParams{Content: "too late"}); !errors.Is(errors.Cause(err), domain.ErrTextNotFound) {
		t.Errorf("expected ErrTextNotFound on late update, got %v", err)
	}
	if err := textSvc.Delete(ctx, rec.ID); !errors.Is(errors.Cause(err), domain.ErrTextNotFound) {
		t.Errorf("expected ErrTextNotFound on late delete, got %v", err)
	}
	if err := textSvc.Lock(ctx, rec.ID, "secret"); !errors.Is(errors.Cause(err), domain.ErrTextNotFound) {
		t.Errorf("expected ErrTextNotFound on late lock, got %v", err)
	}
}

func TestCleanupReclaimsExpiredRows(t *testing.T) {
	c := createTestConfig()
	c.RecordTTL = 50 * time.Millisecond
	textSvc, sqlDB := createTestService(t, c)
	ctx := context.Background()

	const n = 5
	for i := 0; i < n; i++ {
		if _, err := textSvc.Create(ctx, domain.CreateParams{Content: "doomed"}); err != nil {
			t.Fatalf("create %d failed: %v", i, err)
		}
	}

	time.Sleep(120 * time.Millisecond)

	removed, err := sqlDB.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if removed < n {
		t.Errorf("cleanup removed %d rows, want at least %d", removed, n)
	}

	var remaining int
	if err := sqlDB.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM texts").Scan(&remaining); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if remaining != 0 {
		t.Errorf("%d expired rows left behind", remaining)
	}
}

func TestCreateReclaimsExpiredIDSlot(t *testing.T) {
	c := createTestConfig()
	textSvc, sqlDB := createTestService(t, c)
	ctx := context.Background()

	rec, err := textSvc.Create(ctx, domain.CreateParams{Content: "old tenant"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// Force the row past its deadline without deleting it.
	_, err = sqlDB.DB().ExecContext(ctx,
		"UPDATE texts SET expires_at = ? WHERE id = ?",
		time.Now().Add(-time.Minute), rec.ID)
	if err != nil {
		t.Fatalf("failed to backdate row: %v", err)
	}

	// A dead row must not block re-issuing its id.
	fresh := &domain.TextRecord{
		ID:        rec.ID,
		Content:   "new tenant",
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(c.RecordTTL),
	}
	if err := sqlDB.Create(ctx, fresh); err != nil {
		t.Fatalf("insert over expired row failed: %v", err)
	}

	got, err := sqlDB.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get after reclaim failed: %v", err)
	}
	if got.Content != "new tenant" {
		t.Errorf("got %q, want the reclaiming record", got.Content)
	}

	// A live duplicate is still a conflict.
	dup := &domain.TextRecord{
		ID:        rec.ID,
		Content:   "squatter",
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(c.RecordTTL),
	}
	if err := sqlDB.Create(ctx, dup); !errors.Is(errors.Cause(err), domain.ErrTextConflict) {
		t.Errorf("expected ErrTextConflict on live duplicate, got %v", err)
	}
}
