package storage

import (
	"context"
	"errors"
	"time"

	"jobsman/internal/job"
	logx "jobsman/pkg/logx"
)

var (
	// ErrNotFound is returned when an update/delete targets a missing job id.
	ErrNotFound = errors.New("job not found")
)

// Config configures the datastore.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Marker is one reload request row. A mutation inserts it with Updated
// false; the reload coordinator flips it after a successful rebuild.
type Marker struct {
	ID         int64
	Updated    bool
	InsertTime time.Time
	UpdateTime time.Time // zero until applied
	JobsBefore string    // JSON snapshot prior to the mutation
	JobsAfter  string    // JSON snapshot after the mutation
}

// Store is the persistence API used by the registry, the reload
// coordinator, and the log sink. The datastore exclusively owns durable
// state; everything in memory is derived from it.
//
// UpsertJob and DeleteJob pair the definition write with a marker insert in
// one transaction, so a crash can never leave a marker-less change.
type Store interface {
	UpsertJob(ctx context.Context, def job.Definition, mustExist bool) error
	DeleteJob(ctx context.Context, id string) error
	GetJob(ctx context.Context, id string) (job.Definition, bool, error)
	ListJobs(ctx context.Context) ([]job.Definition, error)

	PendingMarkers(ctx context.Context) ([]Marker, error)
	MarkApplied(ctx context.Context, ids []int64, at time.Time) error

	// Append implements logx.Sink (syslog table).
	Append(ctx context.Context, r logx.Record) error

	Close() error
}
