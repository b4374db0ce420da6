package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ghostsweep/ghostsweep/pkg/engine"
)

// setupTestStore creates an in-memory store with migrations applied.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleRun(id string, started time.Time) *engine.WorkflowRun {
	return &engine.WorkflowRun{
		ID:          id,
		Hostname:    "web01",
		StartedAt:   started,
		CompletedAt: started.Add(42 * time.Second),
		Status:      engine.RunStatusCompletedWithErrors,
		BackupID:    "web01-20260830-120000",
		Results: []engine.StepResult{
			{Step: "remove-ghost-devices", Target: "PCI\\VEN_15AD&DEV_07B0", Outcome: engine.OutcomeRebootRequired, Duration: 3 * time.Second},
			{Step: "remove-ghost-devices", Target: "PCI\\VEN_15AD&DEV_0405", Outcome: engine.OutcomeFailed, Detail: "exit code 1: device in use"},
			{Step: "flush-dns", Target: "dns-cache", Outcome: engine.OutcomeSuccess},
		},
	}
}

func TestSaveAndGetRun(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	started := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	want := sampleRun("run-1", started)
	if err := store.SaveRun(ctx, want); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Hostname != "web01" || got.Status != engine.RunStatusCompletedWithErrors {
		t.Errorf("run = %+v", got)
	}
	if got.BackupID != want.BackupID {
		t.Errorf("backup ID = %q, want %q", got.BackupID, want.BackupID)
	}
	if len(got.Results) != 3 {
		t.Fatalf("got %d results, want 3", len(got.Results))
	}
	if got.Results[0].Outcome != engine.OutcomeRebootRequired {
		t.Errorf("first result outcome = %s", got.Results[0].Outcome)
	}
	if got.Results[1].Detail != "exit code 1: device in use" {
		t.Errorf("failure detail = %q", got.Results[1].Detail)
	}
	if got.Results[0].Duration != 3*time.Second {
		t.Errorf("duration = %s", got.Results[0].Duration)
	}
}

func TestGetRunNotFound(t *testing.T) {
	store := setupTestStore(t)
	_, err := store.GetRun(context.Background(), "missing")
	if !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("err = %v, want ErrRunNotFound", err)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-old", "run-mid", "run-new"} {
		if err := store.SaveRun(ctx, sampleRun(id, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("SaveRun %s: %v", id, err)
		}
	}

	runs, err := store.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].ID != "run-new" || runs[1].ID != "run-mid" {
		t.Errorf("order = %s, %s", runs[0].ID, runs[1].ID)
	}
	if len(runs[0].Results) != 0 {
		t.Error("list should not hydrate step results")
	}
}

func TestStorePersistsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.SaveRun(ctx, sampleRun("run-1", time.Now().UTC())); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if _, err := reopened.GetRun(ctx, "run-1"); err != nil {
		t.Fatalf("GetRun after reopen: %v", err)
	}
}
