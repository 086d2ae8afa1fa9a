package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"XGov-Mesh/internal/orchestrator"
)

func newStoredJob(t *testing.T, store *MemoryStore, id string) *Job {
	t.Helper()
	job := &Job{ID: id, Goal: "collect pricing data", MaxRetries: 3}
	if err := store.Create(context.Background(), job); err != nil {
		t.Fatalf("Create(%s) error = %v", id, err)
	}
	return job
}

func TestMemoryStoreCreateDefaults(t *testing.T) {
	store := NewMemoryStore()
	job := newStoredJob(t, store, "job-1")

	if job.Status != StatusPending {
		t.Fatalf("Status = %s, want pending", job.Status)
	}
	if job.CreatedAt.IsZero() || job.UpdatedAt.IsZero() {
		t.Fatal("timestamps should be stamped on create")
	}
	if err := store.Create(context.Background(), &Job{ID: "job-1", Goal: "dup"}); !errors.Is(err, ErrJobConflict) {
		t.Fatalf("duplicate create error = %v, want ErrJobConflict", err)
	}
}

func TestMemoryStoreClaimLifecycle(t *testing.T) {
	store := NewMemoryStore()
	newStoredJob(t, store, "job-1")

	claimed, err := store.Claim(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if claimed.Status != StatusRunning || claimed.Attempts != 1 {
		t.Fatalf("claimed = %s/%d, want running/1", claimed.Status, claimed.Attempts)
	}
	if claimed.StartedAt == nil {
		t.Fatal("StartedAt should be set on claim")
	}
	if _, err := store.Claim(context.Background(), "job-1"); !errors.Is(err, ErrJobConflict) {
		t.Fatalf("second claim error = %v, want ErrJobConflict", err)
	}

	result := &orchestrator.Result{TaskID: "t-1", Success: true}
	if err := store.MarkSucceeded(context.Background(), "job-1", result); err != nil {
		t.Fatalf("MarkSucceeded() error = %v", err)
	}
	got, err := store.Get(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusSucceeded || got.Result == nil || !got.Result.Success {
		t.Fatalf("job after success = %+v", got)
	}
	if got.FinishedAt == nil {
		t.Fatal("FinishedAt should be set on success")
	}
	if _, err := store.Claim(context.Background(), "job-1"); !errors.Is(err, ErrJobCompleted) {
		t.Fatalf("claim after success error = %v, want ErrJobCompleted", err)
	}
}

func TestMemoryStoreMarkFailedRetryThenTerminal(t *testing.T) {
	store := NewMemoryStore()
	newStoredJob(t, store, "job-1")
	if _, err := store.Claim(context.Background(), "job-1"); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}

	if err := store.MarkFailed(context.Background(), "job-1", CodeJobProcessingFailed, "backend timeout", false); err != nil {
		t.Fatalf("MarkFailed(retry) error = %v", err)
	}
	got, _ := store.Get(context.Background(), "job-1")
	if got.Status != StatusPending || got.LastError != "backend timeout" {
		t.Fatalf("job after retryable failure = %s/%q", got.Status, got.LastError)
	}

	if _, err := store.Claim(context.Background(), "job-1"); err != nil {
		t.Fatalf("re-claim error = %v", err)
	}
	if err := store.MarkFailed(context.Background(), "job-1", CodeJobRetriesExhausted, "gave up", true); err != nil {
		t.Fatalf("MarkFailed(terminal) error = %v", err)
	}
	got, _ = store.Get(context.Background(), "job-1")
	if got.Status != StatusFailed || got.ErrorCode != CodeJobRetriesExhausted {
		t.Fatalf("job after terminal failure = %s/%s", got.Status, got.ErrorCode)
	}
	if got.Attempts != 2 {
		t.Fatalf("Attempts = %d, want 2", got.Attempts)
	}
}

func TestMemoryStoreListNewestFirst(t *testing.T) {
	store := NewMemoryStore()
	base := time.Now().UTC()
	for i, id := range []string{"job-a", "job-b", "job-c"} {
		job := &Job{ID: id, Goal: "goal", CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if err := store.Create(context.Background(), job); err != nil {
			t.Fatalf("Create(%s) error = %v", id, err)
		}
	}

	items, err := store.List(context.Background(), 2)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len = %d, want 2", len(items))
	}
	if items[0].ID != "job-c" || items[1].ID != "job-b" {
		t.Fatalf("order = %s,%s, want job-c,job-b", items[0].ID, items[1].ID)
	}
}

func TestMemoryStoreStats(t *testing.T) {
	store := NewMemoryStore()
	newStoredJob(t, store, "job-1")
	newStoredJob(t, store, "job-2")
	if _, err := store.Claim(context.Background(), "job-2"); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if err := store.MarkSucceeded(context.Background(), "job-2", &orchestrator.Result{Success: true}); err != nil {
		t.Fatalf("MarkSucceeded() error = %v", err)
	}

	stats, err := store.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Total != 2 || stats.Pending != 1 || stats.Succeeded != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}
