package test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"

	"textdrop/pkg/domain"
)

func TestCreateAndGetRoundTrip(t *testing.T) {
	c := createTestConfig()
	textSvc, _ := createTestService(t, c)
	ctx := context.Background()

	content := "hello world\nline two\ttabbed"
	rec, err := textSvc.Create(ctx, domain.CreateParams{Content: content})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if len(rec.ID) != 6 {
		t.Errorf("expected 6-char id, got %q (%d chars)", rec.ID, len(rec.ID))
	}
	if rec.Content != content {
		t.Errorf("create mutated content: got %q", rec.Content)
	}
	if want := rec.CreatedAt.Add(c.RecordTTL); !rec.ExpiresAt.Equal(want) {
		t.Errorf("expires_at = %v, want created_at + %v = %v", rec.ExpiresAt, c.RecordTTL, want)
	}

	got, err := textSvc.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Content != content {
		t.Errorf("round trip altered content: got %q, want %q", got.Content, content)
	}
	if got.ID != rec.ID {
		t.Errorf("get returned id %q, want %q", got.ID, rec.ID)
	}
}

func TestGetUnknownID(t *testing.T) {
	c := createTestConfig()
	textSvc, _ := createTestService(t, c)

	_, err := textSvc.Get(context.Background(), "zzzzzz")
	if !errors.Is(errors.Cause(err), domain.ErrTextNotFound) {
		t.Errorf("expected ErrTextNotFound for never-issued id, got %v", err)
	}
}

func TestUpdatePreservesIdentityAndDeadline(t *testing.T) {
	c := createTestConfig()
	textSvc, _ := createTestService(t, c)
	ctx := context.Background()

	rec, err := textSvc.Create(ctx, domain.CreateParams{Content: "hello"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	updated, err := textSvc.Update(ctx, rec.ID, domain.UpdateParams{Content: "world"})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Content != "world" {
		t.Errorf("update did not apply: got %q", updated.Content)
	}
	if updated.ID != rec.ID {
		t.Errorf("update changed id: %q -> %q", rec.ID, updated.ID)
	}
	// An update edits the record in place. The deadline set at creation
	// stands; editing must not grant more lifetime.
	if drift := updated.ExpiresAt.Sub(rec.ExpiresAt); drift < -time.Second || drift > time.Second {
		t.Errorf("update moved deadline: %v -> %v", rec.ExpiresAt, updated.ExpiresAt)
	}

	got, err := textSvc.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get after update failed: %v", err)
	}
	if got.Content != "world" {
		t.Errorf("get after update returned %q, want %q", got.Content, "world")
	}
}

func TestUpdateUnknownID(t *testing.T) {
	c := createTestConfig()
	textSvc, _ := createTestService(t, c)

	_, err := textSvc.Update(context.Background(), "zzzzzz", domain.UpdateParams{Content: "x"})
	if !errors.Is(errors.Cause(err), domain.ErrTextNotFound) {
		t.Errorf("expected ErrTextNotFound, got %v", err)
	}
}

func TestDeleteIsIdempotentlyObservable(t *testing.T) {
	c := createTestConfig()
	textSvc, _ := createTestService(t, c)
	ctx := context.Background()

	rec, err := textSvc.Create(ctx, domain.CreateParams{Content: "ephemeral"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := textSvc.Delete(ctx, rec.ID); err != nil {
		t.Fatalf("first delete failed: %v", err)
	}
	if _, err := textSvc.Get(ctx, rec.ID); !errors.Is(errors.Cause(err), domain.ErrTextNotFound) {
		t.Errorf("expected ErrTextNotFound after delete, got %v", err)
	}
	// A second delete finds no live row.
	err = textSvc.Delete(ctx, rec.ID)
	if !errors.Is(errors.Cause(err), domain.ErrTextNotFound) {
		t.Errorf("expected ErrTextNotFound on repeat delete, got %v", err)
	}
}

func TestViewsCount(t *testing.T) {
	c := createTestConfig()
	textSvc, sqlDB := createTestService(t, c)
	ctx := context.Background()

	rec, err := textSvc.Create(ctx, domain.CreateParams{Content: "watched"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := textSvc.Get(ctx, rec.ID); err != nil {
			t.Fatalf("get %d failed: %v", i, err)
		}
	}

	// View increments flow through a worker pool; poll until they land.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		stored, err := sqlDB.Get(ctx, rec.ID)
		if err != nil {
			t.Fatalf("db get failed: %v", err)
		}
		if stored.Views >= 3 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Error("view counter never reached 3")
}
