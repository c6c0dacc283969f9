package test

import (
	"context"
	"testing"

	"github.com/pkg/errors"

	"textdrop/pkg/domain"
)

func TestLockGatesUpdates(t *testing.T) {
	c := createTestConfig()
	textSvc, _ := createTestService(t, c)
	ctx := context.Background()

	rec, err := textSvc.Create(ctx, domain.CreateParams{Content: "guarded"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := textSvc.Lock(ctx, rec.ID, "hunter2"); err != nil {
		t.Fatalf("lock failed: %v", err)
	}

	// Reads stay open; locking only protects writes.
	got, err := textSvc.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get on locked record failed: %v", err)
	}
	if !got.Locked {
		t.Error("record not reported as locked")
	}
	if got.Content != "guarded" {
		t.Errorf("lock altered content: got %q", got.Content)
	}

	_, err = textSvc.Update(ctx, rec.ID, domain.UpdateParams{Content: "sneaky"})
	if !errors.Is(errors.Cause(err), domain.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized without password, got %v", err)
	}
	_, err = textSvc.Update(ctx, rec.ID, domain.UpdateParams{Content: "sneaky", Password: "wrong"})
	if !errors.Is(errors.Cause(err), domain.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized with wrong password, got %v", err)
	}

	updated, err := textSvc.Update(ctx, rec.ID, domain.UpdateParams{Content: "authorized edit", Password: "hunter2"})
	if err != nil {
		t.Fatalf("update with correct password failed: %v", err)
	}
	if updated.Content != "authorized edit" {
		t.Errorf("got %q after authorized update", updated.Content)
	}
}

func TestRelockReplacesPassword(t *testing.T) {
	c := createTestConfig()
	textSvc, _ := createTestService(t, c)
	ctx := context.Background()

	rec, err := textSvc.Create(ctx, domain.CreateParams{Content: "rotating"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := textSvc.Lock(ctx, rec.ID, "first"); err != nil {
		t.Fatalf("first lock failed: %v", err)
	}
	if err := textSvc.Lock(ctx, rec.ID, "second"); err != nil {
		t.Fatalf("second lock failed: %v", err)
	}

	if _, err := textSvc.Update(ctx, rec.ID, domain.UpdateParams{Content: "x", Password: "first"}); !errors.Is(errors.Cause(err), domain.ErrUnauthorized) {
		t.Errorf("old password still accepted after re-lock: %v", err)
	}
	if _, err := textSvc.Update(ctx, rec.ID, domain.UpdateParams{Content: "x", Password: "second"}); err != nil {
		t.Errorf("current password rejected after re-lock: %v", err)
	}
}

func TestLockRequiresPassword(t *testing.T) {
	c := createTestConfig()
	textSvc, _ := createTestService(t, c)
	ctx := context.Background()

	rec, err := textSvc.Create(ctx, domain.CreateParams{Content: "x"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := textSvc.Lock(ctx, rec.ID, ""); !errors.Is(errors.Cause(err), domain.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for empty password, got %v", err)
	}
}

func TestLockUnknownID(t *testing.T) {
	c := createTestConfig()
	textSvc, _ := createTestService(t, c)

	err := textSvc.Lock(context.Background(), "zzzzzz", "pw")
	if !errors.Is(errors.Cause(err), domain.ErrTextNotFound) {
		t.Errorf("expected ErrTextNotFound, got %v", err)
	}
}
