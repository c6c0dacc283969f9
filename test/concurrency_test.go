package test

import (
	"context"
	"sync"
	"testing"

	"textdrop/pkg/domain"
)

func TestConcurrentCreatesYieldUniqueIDs(t *testing.T) {
	c := createTestConfig()
	textSvc, _ := createTestService(t, c)
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	ids := make(chan string, workers)
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := textSvc.Create(ctx, domain.CreateParams{Content: "racer"})
			if err != nil {
				errs <- err
				return
			}
			ids <- rec.ID
		}()
	}
	wg.Wait()
	close(ids)
	close(errs)

	for err := range errs {
		t.Errorf("concurrent create failed: %v", err)
	}
	seen := make(map[string]bool)
	for id := range ids {
		if seen[id] {
			t.Errorf("duplicate id issued: %q", id)
		}
		seen[id] = true
	}
}

func TestConcurrentReadsAndWrites(t *testing.T) {
	c := createTestConfig()
	textSvc, _ := createTestService(t, c)
	ctx := context.Background()

	rec, err := textSvc.Create(ctx, domain.CreateParams{Content: "shared"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := textSvc.Get(ctx, rec.ID); err != nil {
				t.Errorf("concurrent get failed: %v", err)
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := textSvc.Update(ctx, rec.ID, domain.UpdateParams{Content: "rewritten"}); err != nil {
				t.Errorf("concurrent update failed: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := textSvc.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("final get failed: %v", err)
	}
	if got.Content != "shared" && got.Content != "rewritten" {
		t.Errorf("content torn by concurrent writes: %q", got.Content)
	}
}
