package registry

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"jobsman/internal/job"
	"jobsman/internal/storage"
	logx "jobsman/pkg/logx"
)

func newTestRegistry(t *testing.T) (*Registry, storage.Store) {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "jobsman.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return New(st, logx.Nop()), st
}

func TestAddThenListIncludesOnce(t *testing.T) {
	t.Parallel()
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	def := job.Definition{ID: "echo5", Command: "echo hi", Minute: "*/5", Timeout: 10}
	if err := r.Add(ctx, def); err != nil {
		t.Fatalf("Add: %v", err)
	}

	jobs, err := r.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	count := 0
	for _, j := range jobs {
		if j.ID == "echo5" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("echo5 appears %d times, want exactly 1", count)
	}

	// Second add with the same id is an update, not a duplicate.
	def.Command = "echo again"
	if err := r.Add(ctx, def); err != nil {
		t.Fatalf("Add (again): %v", err)
	}
	jobs, err = r.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Command != "echo again" {
		t.Fatalf("jobs = %+v, want single overwritten entry", jobs)
	}
}

func TestAddAppliesDefaults(t *testing.T) {
	t.Parallel()
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	if err := r.Add(ctx, job.Definition{ID: "bare", Command: "true"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	got, ok, err := r.Get(ctx, "bare")
	if err != nil || !ok {
		t.Fatalf("Get = ok=%v err=%v", ok, err)
	}
	if got.Second != "*" || got.DayOfWeek != "*" {
		t.Fatalf("schedule fields not defaulted: %+v", got)
	}
	if got.Timeout != job.DefaultTimeoutSeconds {
		t.Fatalf("Timeout = %d, want %d", got.Timeout, job.DefaultTimeoutSeconds)
	}
}

func TestAddRejectsInvalidBeforePersistence(t *testing.T) {
	t.Parallel()
	r, st := newTestRegistry(t)
	ctx := context.Background()

	err := r.Add(ctx, job.Definition{ID: "bad", Command: "true", Minute: "61"})
	if !errors.Is(err, job.ErrInvalidSchedule) {
		t.Fatalf("err = %v, want ErrInvalidSchedule", err)
	}
	jobs, err := st.ListJobs(ctx)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("invalid definition was persisted: %+v", jobs)
	}
	markers, err := st.PendingMarkers(ctx)
	if err != nil {
		t.Fatalf("PendingMarkers: %v", err)
	}
	if len(markers) != 0 {
		t.Fatalf("invalid definition left a marker: %+v", markers)
	}
}

func TestUpdateMissing(t *testing.T) {
	t.Parallel()
	r, _ := newTestRegistry(t)
	err := r.Update(context.Background(), job.New("ghost", "true"))
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRemoveMissing(t *testing.T) {
	t.Parallel()
	r, _ := newTestRegistry(t)
	err := r.Remove(context.Background(), "ghost")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMutationsLeavePendingMarkers(t *testing.T) {
	t.Parallel()
	r, st := newTestRegistry(t)
	ctx := context.Background()

	if err := r.Add(ctx, job.New("a", "true")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	upd := job.New("a", "false")
	if err := r.Update(ctx, upd); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := r.Remove(ctx, "a"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	markers, err := st.PendingMarkers(ctx)
	if err != nil {
		t.Fatalf("PendingMarkers: %v", err)
	}
	if len(markers) != 3 {
		t.Fatalf("got %d markers, want 3 (one per mutation)", len(markers))
	}

	// List must not add a fourth.
	if _, err := r.List(ctx); err != nil {
		t.Fatalf("List: %v", err)
	}
	markers, err = st.PendingMarkers(ctx)
	if err != nil {
		t.Fatalf("PendingMarkers: %v", err)
	}
	if len(markers) != 3 {
		t.Fatalf("List inserted a marker: %d", len(markers))
	}
}
