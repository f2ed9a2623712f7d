// Package reload detects pending reload markers and rebuilds the active
// schedule set from the datastore.
//
// Reload is never triggered by a mutation call directly: the registry only
// leaves a marker behind, and the coordinator discovers it on its poll
// cadence. Any writer with datastore access can therefore request a reload
// without a channel to the running process.
package reload

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"jobsman/internal/schedule"
	"jobsman/internal/storage"
	logx "jobsman/pkg/logx"
)

// State is the coordinator's poll-cycle state, exposed for snapshots.
type State int32

const (
	Idle State = iota
	Polling
	Reloading
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Polling:
		return "polling"
	case Reloading:
		return "reloading"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Target receives rebuilt schedule sets. Swap must be atomic from the
// firing loop's perspective.
type Target interface {
	Swap(set *schedule.Set)
}

type Coordinator struct {
	store  storage.Store
	target Target
	log    logx.Logger

	// reloadMu serializes rebuilds. Ticks use TryLock: while a reload is
	// in progress the tick is skipped, never queued; still-pending markers
	// are re-detected on the next tick.
	reloadMu sync.Mutex

	state   atomic.Int32
	reloads atomic.Uint64

	emu     sync.Mutex
	lastErr error
}

func New(store storage.Store, target Target, log logx.Logger) *Coordinator {
	return &Coordinator{store: store, target: target, log: log.Named("reload")}
}

func (c *Coordinator) State() State   { return State(c.state.Load()) }
func (c *Coordinator) Reloads() uint64 { return c.reloads.Load() }

// LastErr returns the most recent reload failure, nil after a success.
func (c *Coordinator) LastErr() error {
	c.emu.Lock()
	defer c.emu.Unlock()
	return c.lastErr
}

func (c *Coordinator) setErr(err error) {
	c.emu.Lock()
	c.lastErr = err
	c.emu.Unlock()
}

// Bootstrap builds the initial schedule set from current datastore content.
// It runs the same rebuild path as a poll-detected reload, applying any
// markers left pending by a previous process.
func (c *Coordinator) Bootstrap(ctx context.Context) error {
	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()

	markers, err := c.store.PendingMarkers(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: list pending markers: %w", err)
	}
	return c.reloadLocked(ctx, markers)
}

// Tick runs one poll cycle: detect pending markers, and when any exist,
// rebuild under the reload lock. A tick that finds the lock busy returns
// immediately.
func (c *Coordinator) Tick(ctx context.Context) error {
	c.state.Store(int32(Polling))

	markers, err := c.store.PendingMarkers(ctx)
	if err != nil {
		// Datastore hiccup: log and retry next cycle rather than crash.
		c.state.Store(int32(Idle))
		c.log.Warn("marker poll failed", logx.Err(err))
		return err
	}
	if len(markers) == 0 {
		c.state.Store(int32(Idle))
		return nil
	}

	if !c.reloadMu.TryLock() {
		c.log.Debug("reload in progress, tick skipped", logx.Int("pending", len(markers)))
		return nil
	}
	defer c.reloadMu.Unlock()
	return c.reloadLocked(ctx, markers)
}

// reloadLocked rebuilds the schedule set from scratch and marks the given
// markers applied. Callers hold reloadMu.
//
// The rebuild is discard-and-replace: correctness is "whatever the
// datastore says now", never an incremental delta, so a burst of mutations
// between two ticks coalesces into one rebuild.
func (c *Coordinator) reloadLocked(ctx context.Context, markers []storage.Marker) error {
	c.state.Store(int32(Reloading))
	start := time.Now()

	defs, err := c.store.ListJobs(ctx)
	if err != nil {
		err = fmt.Errorf("reload: list jobs: %w", err)
		c.fail(err, len(markers))
		return err
	}

	set, err := schedule.Build(defs)
	if err != nil {
		// Previous set stays authoritative; markers stay pending and the
		// next tick retries.
		err = fmt.Errorf("reload: %w", err)
		c.fail(err, len(markers))
		return err
	}

	c.target.Swap(set)
	c.reloads.Add(1)
	c.setErr(nil)

	ids := make([]int64, 0, len(markers))
	for _, m := range markers {
		ids = append(ids, m.ID)
	}
	if err := c.store.MarkApplied(ctx, ids, time.Now()); err != nil {
		// The new set is already live. Leaving the markers pending only
		// causes an extra (idempotent) rebuild on the next tick.
		c.state.Store(int32(Idle))
		c.log.Warn("markers not cleared, will re-reload", logx.Int("markers", len(ids)), logx.Err(err))
		return err
	}

	c.state.Store(int32(Idle))
	c.log.Info("reload succeeded",
		logx.Int("jobs", set.Len()),
		logx.Int("markers", len(ids)),
		logx.Duration("took", time.Since(start)),
	)
	return nil
}

func (c *Coordinator) fail(err error, pending int) {
	c.state.Store(int32(Failed))
	c.setErr(err)
	c.log.Error("reload failed, previous schedule kept", logx.Int("pending", pending), logx.Err(err))
}
