package reload

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"jobsman/internal/job"
	"jobsman/internal/registry"
	"jobsman/internal/schedule"
	"jobsman/internal/storage"
	logx "jobsman/pkg/logx"
)

type swapRecorder struct {
	mu    sync.Mutex
	sets  []*schedule.Set
	block chan struct{}
}

func (r *swapRecorder) Swap(set *schedule.Set) {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	r.sets = append(r.sets, set)
	r.mu.Unlock()
}

func (r *swapRecorder) swaps() []*schedule.Set {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*schedule.Set(nil), r.sets...)
}

func newTestCoordinator(t *testing.T) (*Coordinator, *registry.Registry, storage.Store, *swapRecorder) {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "jobsman.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	rec := &swapRecorder{}
	c := New(st, rec, logx.Nop())
	reg := registry.New(st, logx.Nop())
	return c, reg, st, rec
}

func mustAdd(t *testing.T, reg *registry.Registry, id, command string) {
	t.Helper()
	def := job.New(id, command)
	def.Second = "0"
	def.Minute = "*/5"
	if err := reg.Add(context.Background(), def); err != nil {
		t.Fatalf("add %s: %v", id, err)
	}
}

func TestTickNoMarkersIsNoop(t *testing.T) {
	t.Parallel()
	c, _, _, rec := newTestCoordinator(t)

	if err := c.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if got := len(rec.swaps()); got != 0 {
		t.Fatalf("swaps = %d, want 0", got)
	}
	if c.State() != Idle {
		t.Fatalf("state = %v, want idle", c.State())
	}
}

func TestTickAppliesPendingMarkers(t *testing.T) {
	t.Parallel()
	c, reg, st, rec := newTestCoordinator(t)
	ctx := context.Background()

	mustAdd(t, reg, "backup", "/usr/local/bin/backup.sh")
	mustAdd(t, reg, "rotate", "logrotate /etc/logrotate.conf")

	if err := c.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	swaps := rec.swaps()
	if len(swaps) != 1 {
		t.Fatalf("swaps = %d, want 1", len(swaps))
	}
	if got := swaps[0].Len(); got != 2 {
		t.Fatalf("set size = %d, want 2", got)
	}
	entry, ok := swaps[0].Get("backup")
	if !ok {
		t.Fatal("swapped set is missing the added job")
	}
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if next := entry.Schedule.Next(base); next.Sub(base) != 5*time.Minute {
		t.Fatalf("first firing after %v is %v, want a 5 minute cadence", base, next)
	}
	pending, err := st.PendingMarkers(ctx)
	if err != nil {
		t.Fatalf("pending markers: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending after tick = %d, want 0", len(pending))
	}
	if got := c.Reloads(); got != 1 {
		t.Fatalf("reloads = %d, want 1", got)
	}
}

func TestTickCoalescesMutationBurst(t *testing.T) {
	t.Parallel()
	c, reg, _, rec := newTestCoordinator(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "d"} {
		mustAdd(t, reg, id, "true")
	}

	if err := c.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if got := len(rec.swaps()); got != 1 {
		t.Fatalf("swaps = %d, want 1 rebuild for the whole burst", got)
	}
}

func TestTickSkippedWhileReloadInProgress(t *testing.T) {
	t.Parallel()
	c, reg, _, rec := newTestCoordinator(t)
	ctx := context.Background()

	mustAdd(t, reg, "slow", "true")
	rec.block = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- c.Tick(ctx) }()

	// Wait until the first tick is parked inside Swap, holding the lock.
	deadline := time.After(2 * time.Second)
	for c.State() != Reloading {
		select {
		case <-deadline:
			t.Fatal("first tick never reached reloading state")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if err := c.Tick(ctx); err != nil {
		t.Fatalf("concurrent tick: %v", err)
	}

	close(rec.block)
	if err := <-done; err != nil {
		t.Fatalf("blocked tick: %v", err)
	}
	if got := len(rec.swaps()); got != 1 {
		t.Fatalf("swaps = %d, want 1 (second tick must skip)", got)
	}
}

func TestTickFailureKeepsMarkersPending(t *testing.T) {
	t.Parallel()
	c, _, st, rec := newTestCoordinator(t)
	ctx := context.Background()

	// Bypass registry validation to plant a corrupt row, the way an external
	// writer with direct datastore access could.
	def := job.New("corrupt", "true")
	def.Minute = "61"
	if err := st.UpsertJob(ctx, def, false); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	err := c.Tick(ctx)
	if !errors.Is(err, job.ErrInvalidSchedule) {
		t.Fatalf("tick err = %v, want ErrInvalidSchedule", err)
	}
	if c.State() != Failed {
		t.Fatalf("state = %v, want failed", c.State())
	}
	if got := len(rec.swaps()); got != 0 {
		t.Fatalf("swaps = %d, want 0 on failed rebuild", got)
	}
	pending, err := st.PendingMarkers(ctx)
	if err != nil {
		t.Fatalf("pending markers: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want marker kept for retry", len(pending))
	}
	if c.LastErr() == nil {
		t.Fatal("LastErr = nil, want rebuild error")
	}
}

func TestTickRecoversAfterRowFixed(t *testing.T) {
	t.Parallel()
	c, reg, st, rec := newTestCoordinator(t)
	ctx := context.Background()

	def := job.New("flaky", "true")
	def.Hour = "25"
	if err := st.UpsertJob(ctx, def, false); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := c.Tick(ctx); err == nil {
		t.Fatal("tick on corrupt row: want error")
	}

	def.Hour = "3"
	if err := reg.Update(ctx, def); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := c.Tick(ctx); err != nil {
		t.Fatalf("tick after fix: %v", err)
	}
	if c.State() != Idle {
		t.Fatalf("state = %v, want idle", c.State())
	}
	if c.LastErr() != nil {
		t.Fatalf("LastErr = %v, want nil after recovery", c.LastErr())
	}
	if got := len(rec.swaps()); got != 1 {
		t.Fatalf("swaps = %d, want 1", got)
	}
}

func TestBootstrapBuildsInitialSet(t *testing.T) {
	t.Parallel()
	c, reg, st, rec := newTestCoordinator(t)
	ctx := context.Background()

	mustAdd(t, reg, "startup", "true")

	if err := c.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	swaps := rec.swaps()
	if len(swaps) != 1 || swaps[0].Len() != 1 {
		t.Fatalf("bootstrap swap mismatch: %d swaps", len(swaps))
	}
	// Markers left by a previous process are applied during bootstrap.
	pending, err := st.PendingMarkers(ctx)
	if err != nil {
		t.Fatalf("pending markers: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending after bootstrap = %d, want 0", len(pending))
	}
}

func TestBootstrapEmptyDatastore(t *testing.T) {
	t.Parallel()
	c, _, _, rec := newTestCoordinator(t)

	if err := c.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	swaps := rec.swaps()
	if len(swaps) != 1 {
		t.Fatalf("swaps = %d, want 1", len(swaps))
	}
	if !swaps[0].Empty() {
		t.Fatal("bootstrap on empty datastore must install an empty set")
	}
}
