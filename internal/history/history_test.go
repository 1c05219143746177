package history

import (
	"context"
	"testing"
)

func TestRunLifecycle(t *testing.T) {
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.RecordStart(ctx, "run-1", "main", "fetching"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := store.UpdateState(ctx, "run-1", "building"); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := store.RecordFinish(ctx, "run-1", "built_deploy_ready", "built_ready", ""); err != nil {
		t.Fatalf("finish: %v", err)
	}

	rec, err := store.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.State != "built_deploy_ready" {
		t.Errorf("state: got %s", rec.State)
	}
	if rec.Outcome != "built_ready" {
		t.Errorf("outcome: got %s", rec.Outcome)
	}
	if rec.FinishedAt.IsZero() {
		t.Errorf("finished_at must be set")
	}
}

func TestRecentOrdersNewestFirst(t *testing.T) {
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	for _, id := range []string{"run-a", "run-b", "run-c"} {
		if err := store.RecordStart(ctx, id, "main", "fetching"); err != nil {
			t.Fatalf("start %s: %v", id, err)
		}
	}

	recs, err := store.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].RunID != "run-c" || recs[1].RunID != "run-b" {
		t.Fatalf("ordering wrong: %v", recs)
	}
}

func TestDuplicateRunIDRejected(t *testing.T) {
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.RecordStart(ctx, "run-1", "main", "fetching"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := store.RecordStart(ctx, "run-1", "main", "fetching"); err == nil {
		t.Fatalf("duplicate run_id must be rejected")
	}
}
