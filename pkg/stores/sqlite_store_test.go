package stores

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/uvk/uvk/pkg/engine"
)

// setupTestStore creates a migrated store backed by a temp file.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: filepath.Join(t.TempDir(), "history.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleLaunch(id string) *engine.LaunchRecord {
	return &engine.LaunchRecord{
		ID:        id,
		Kernel:    "uvk-py312",
		Root:      "/tmp/uvk-env-" + id,
		Python:    "/tmp/uvk-env-" + id + "/bin/python",
		State:     engine.StateLaunching,
		StartedAt: time.Now(),
	}
}

func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: filepath.Join(t.TempDir(), "history.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestStoreRequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"launches", "mutations"} {
		var count int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	// Migrating an up-to-date schema is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Errorf("re-migration failed: %v", err)
	}
}

func TestRecordStartAndGet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rec := sampleLaunch("launch-1")
	if err := store.RecordStart(ctx, rec); err != nil {
		t.Fatalf("record start failed: %v", err)
	}

	got, err := store.Get(ctx, "launch-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Kernel != rec.Kernel || got.Root != rec.Root || got.Python != rec.Python {
		t.Errorf("got %+v, want %+v", got, rec)
	}
	if got.State != engine.StateLaunching {
		t.Errorf("state = %s, want launching", got.State)
	}
	if got.ExitCode != nil || got.EndedAt != nil {
		t.Error("open launch must have no exit code or end time")
	}
}

func TestRecordExit(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.RecordStart(ctx, sampleLaunch("launch-1")); err != nil {
		t.Fatalf("record start failed: %v", err)
	}
	if err := store.RecordExit(ctx, "launch-1", engine.StateTerminated, 0); err != nil {
		t.Fatalf("record exit failed: %v", err)
	}

	got, err := store.Get(ctx, "launch-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.State != engine.StateTerminated {
		t.Errorf("state = %s, want terminated", got.State)
	}
	if got.ExitCode == nil || *got.ExitCode != 0 {
		t.Errorf("exit code = %v, want 0", got.ExitCode)
	}
	if got.EndedAt == nil {
		t.Error("ended_at not set")
	}
}

func TestRecordExitUnknownLaunch(t *testing.T) {
	store := setupTestStore(t)

	if err := store.RecordExit(context.Background(), "no-such", engine.StateTerminated, 1); err == nil {
		t.Fatal("expected error for unknown launch")
	}
}

func TestListNewestFirst(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"a", "b", "c"} {
		rec := sampleLaunch(id)
		rec.StartedAt = base.Add(time.Duration(i) * time.Minute)
		if err := store.RecordStart(ctx, rec); err != nil {
			t.Fatalf("record start failed: %v", err)
		}
	}

	records, err := store.List(ctx, 2)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("listed %d records, want 2", len(records))
	}
	if records[0].ID != "c" || records[1].ID != "b" {
		t.Errorf("unexpected order: %s, %s", records[0].ID, records[1].ID)
	}
}

func TestGetUnknownLaunch(t *testing.T) {
	store := setupTestStore(t)

	if _, err := store.Get(context.Background(), "no-such"); err == nil {
		t.Fatal("expected error for unknown launch")
	}
}

func TestFindActiveByRoot(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	// An ended launch on the same root must not match.
	ended := sampleLaunch("ended")
	ended.Root = "/tmp/uvk-env-shared"
	ended.StartedAt = time.Now().Add(-time.Hour)
	if err := store.RecordStart(ctx, ended); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordExit(ctx, "ended", engine.StateTerminated, 0); err != nil {
		t.Fatal(err)
	}

	active := sampleLaunch("active")
	active.Root = "/tmp/uvk-env-shared"
	if err := store.RecordStart(ctx, active); err != nil {
		t.Fatal(err)
	}

	got, err := store.FindActiveByRoot(ctx, "/tmp/uvk-env-shared")
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if got == nil || got.ID != "active" {
		t.Fatalf("got %+v, want the open launch", got)
	}

	// No open launch on the root yields nil, not an error.
	got, err = store.FindActiveByRoot(ctx, "/tmp/uvk-env-nowhere")
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if got != nil {
		t.Errorf("got %+v, want nil", got)
	}
}

func TestMutationRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.RecordStart(ctx, sampleLaunch("launch-1")); err != nil {
		t.Fatalf("record start failed: %v", err)
	}

	first := &MutationRecord{
		LaunchID:   "launch-1",
		Strategy:   "live-patch",
		Specifiers: strings.Join([]string{"scipy", "matplotlib"}, "\n"),
		Source:     "live-magic",
		AppliedAt:  time.Now().Add(-time.Minute),
	}
	second := &MutationRecord{
		LaunchID:   "launch-1",
		Strategy:   "rebuild",
		Specifiers: "numpy==2.0",
		Source:     "live-magic",
		AppliedAt:  time.Now(),
	}
	if err := store.RecordMutation(ctx, first); err != nil {
		t.Fatalf("record mutation failed: %v", err)
	}
	if err := store.RecordMutation(ctx, second); err != nil {
		t.Fatalf("record mutation failed: %v", err)
	}
	if first.ID == 0 || second.ID == 0 {
		t.Error("mutation IDs not assigned")
	}

	records, err := store.ListMutations(ctx, "launch-1")
	if err != nil {
		t.Fatalf("list mutations failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("listed %d mutations, want 2", len(records))
	}
	if records[0].Strategy != "live-patch" || records[1].Strategy != "rebuild" {
		t.Errorf("unexpected order: %s, %s", records[0].Strategy, records[1].Strategy)
	}
}

func TestPruneBefore(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	old := sampleLaunch("old")
	old.StartedAt = time.Now().Add(-48 * time.Hour)
	if err := store.RecordStart(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordExit(ctx, "old", engine.StateTerminated, 0); err != nil {
		t.Fatal(err)
	}
	// Force the end time into the past.
	if _, err := store.db.ExecContext(ctx,
		"UPDATE launches SET ended_at = ? WHERE id = ?",
		time.Now().Add(-47*time.Hour), "old"); err != nil {
		t.Fatal(err)
	}

	// An open launch is never pruned.
	if err := store.RecordStart(ctx, sampleLaunch("open")); err != nil {
		t.Fatal(err)
	}

	pruned, err := store.PruneBefore(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned %d launches, want 1", pruned)
	}
	if _, err := store.Get(ctx, "old"); err == nil {
		t.Error("pruned launch still present")
	}
	if _, err := store.Get(ctx, "open"); err != nil {
		t.Errorf("open launch was pruned: %v", err)
	}
}
