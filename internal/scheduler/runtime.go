package scheduler

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"jobsman/internal/executor"
	"jobsman/internal/schedule"
	logx "jobsman/pkg/logx"
)

type Config struct {
	Workers      int
	QueueSize    int
	PollInterval time.Duration
	HistorySize  int
	Timezone     string // IANA TZ, e.g. "Asia/Jakarta"
}

const (
	defaultWorkers      = 2
	defaultQueueSize    = 256
	defaultPollInterval = 5 * time.Second
	defaultHistorySize  = 100
)

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.HistorySize <= 0 {
		c.HistorySize = defaultHistorySize
	}
	return c
}

// Reloader is polled once per cycle. Tick errors are already logged by the
// implementation and never stop the loop.
type Reloader interface {
	Tick(ctx context.Context) error
}

// task carries everything a worker needs to run one firing. Command and
// timeout are captured at enqueue time, so a reload that lands while the
// task waits in the queue does not alter this firing.
type task struct {
	jobID   string
	command string
	timeout time.Duration
	firedAt time.Time
}

type HistoryItem struct {
	JobID    string
	Started  time.Time
	Duration time.Duration
	State    executor.State
	ExitCode int
	Error    string
}

// Runtime owns the cron engine, the worker pool, and the reload poll loop.
// The installed schedule set is replaced wholesale through Swap.
type Runtime struct {
	cfg  Config
	log  logx.Logger
	exec *executor.Executor
	rel  Reloader

	mu     sync.Mutex
	c      *cron.Cron
	set    *schedule.Set
	loc    *time.Location
	queue  chan task
	stopCh chan struct{}

	workers sync.WaitGroup

	// poll holds the reload poll interval in nanoseconds; hot-applied on
	// config reload.
	poll atomic.Int64

	fired   atomic.Uint64
	dropped atomic.Uint64

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, rel Reloader, log logx.Logger) *Runtime {
	log = log.Named("scheduler")
	r := &Runtime{
		cfg:  cfg.withDefaults(),
		log:  log,
		exec: executor.New(log),
		rel:  rel,
		set:  schedule.Empty(),
	}
	r.poll.Store(int64(r.cfg.PollInterval))
	return r
}

// SetPollInterval changes the reload poll cadence; takes effect from the
// next cycle.
func (r *Runtime) SetPollInterval(d time.Duration) {
	if d <= 0 {
		d = defaultPollInterval
	}
	r.poll.Store(int64(d))
}

// SetReloader installs the reload poller. Call before Run; the runtime and
// the coordinator reference each other, so one side is wired late.
func (r *Runtime) SetReloader(rel Reloader) { r.rel = rel }

// Swap installs set as the active schedule set. If the runtime is running,
// the cron engine is torn down and rebuilt from the new set; queued and
// in-flight firings keep the parameters they were enqueued with.
func (r *Runtime) Swap(set *schedule.Set) {
	if set == nil {
		set = schedule.Empty()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.set = set
	if r.stopCh == nil {
		// Not started yet. Start picks the set up.
		return
	}
	r.restartLocked()
}

// Set returns the currently installed schedule set.
func (r *Runtime) Set() *schedule.Set {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.set
}

// Run starts the engine and blocks polling the reloader until ctx is
// cancelled, then shuts down, waiting for in-flight firings.
func (r *Runtime) Run(ctx context.Context) error {
	r.start(ctx)
	defer r.stop()

	timer := time.NewTimer(time.Duration(r.poll.Load()))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			if r.rel != nil {
				// Errors are retried on the next cycle.
				_ = r.rel.Tick(ctx)
			}
			timer.Reset(time.Duration(r.poll.Load()))
		}
	}
}

func (r *Runtime) start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopCh != nil {
		return
	}
	r.stopCh = make(chan struct{})
	r.queue = make(chan task, r.cfg.QueueSize)

	for i := 0; i < r.cfg.Workers; i++ {
		r.workers.Add(1)
		go r.worker(ctx, r.stopCh, r.queue)
	}
	r.restartLocked()
	r.log.Info("scheduler started",
		logx.Int("workers", r.cfg.Workers),
		logx.Int("jobs", r.set.Len()),
		logx.String("tz", r.loc.String()),
	)
}

func (r *Runtime) stop() {
	r.mu.Lock()
	if r.stopCh == nil {
		r.mu.Unlock()
		return
	}
	close(r.stopCh)
	r.stopCh = nil
	if r.c != nil {
		<-r.c.Stop().Done()
		r.c = nil
	}
	r.mu.Unlock()

	// Workers finish their current firing before exiting.
	r.workers.Wait()
	r.log.Info("scheduler stopped")
}

// restartLocked rebuilds the cron engine from r.set. Discarding the old
// engine instead of diffing entries keeps replacement trivially correct.
func (r *Runtime) restartLocked() {
	if r.c != nil {
		<-r.c.Stop().Done()
	}
	loc := r.loadLocationLocked()
	r.loc = loc
	r.c = cron.New(cron.WithLocation(loc))
	for _, e := range r.set.Entries() {
		e := e
		r.c.Schedule(e.Schedule, cron.FuncJob(func() {
			r.enqueue(task{
				jobID:   e.Job.ID,
				command: e.Job.Command,
				timeout: e.Timeout,
				firedAt: time.Now(),
			})
		}))
	}
	r.c.Start()
}

func (r *Runtime) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(r.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		r.log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (r *Runtime) enqueue(t task) {
	select {
	case r.queue <- t:
		r.fired.Add(1)
	default:
		r.dropped.Add(1)
		r.log.Warn("queue full, firing dropped", logx.String("job", t.jobID))
	}
}

func (r *Runtime) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan task) {
	defer r.workers.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case t := <-queue:
			r.execOne(t)
		}
	}
}

// execOne runs one firing. The execution context derives from Background,
// not the runtime's ctx, so a shutdown lets in-flight commands race their
// own timeouts instead of killing them immediately.
func (r *Runtime) execOne(t task) {
	res := r.exec.Run(context.Background(), t.command, t.timeout)

	switch res.State {
	case executor.Succeeded:
		r.log.Debug("job ok", logx.String("job", t.jobID), logx.Duration("dur", res.Duration))
	case executor.TimedOut:
		r.log.Warn("job timed out", logx.String("job", t.jobID), logx.Duration("timeout", t.timeout))
	default:
		r.log.Warn("job failed",
			logx.String("job", t.jobID),
			logx.Int("exit_code", res.ExitCode),
			logx.Err(res.Err),
		)
	}

	item := HistoryItem{
		JobID:    t.jobID,
		Started:  res.Started,
		Duration: res.Duration,
		State:    res.State,
		ExitCode: res.ExitCode,
	}
	if res.Err != nil {
		item.Error = res.Err.Error()
	}

	r.hmu.Lock()
	r.history = append(r.history, item)
	if len(r.history) > r.cfg.HistorySize {
		r.history = r.history[len(r.history)-r.cfg.HistorySize:]
	}
	r.hmu.Unlock()
}

// History returns a copy of the most recent firings, oldest first.
func (r *Runtime) History() []HistoryItem {
	r.hmu.Lock()
	defer r.hmu.Unlock()
	return append([]HistoryItem(nil), r.history...)
}

func (r *Runtime) Fired() uint64   { return r.fired.Load() }
func (r *Runtime) Dropped() uint64 { return r.dropped.Load() }
