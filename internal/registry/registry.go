// Package registry is the task API: CRUD over job definitions.
//
// Every mutation leaves a pending reload marker behind (written by the
// store in the same transaction as the definition change); the reload
// coordinator discovers markers on its own cadence, so mutations return
// as soon as the datastore commit does.
package registry

import (
	"context"

	"jobsman/internal/job"
	"jobsman/internal/storage"
	logx "jobsman/pkg/logx"
)

type Registry struct {
	store storage.Store
	log   logx.Logger
}

func New(store storage.Store, log logx.Logger) *Registry {
	return &Registry{store: store, log: log.Named("registry")}
}

// Add upserts the definition. An existing id is overwritten, never
// duplicated. Invalid definitions are rejected before persistence.
func (r *Registry) Add(ctx context.Context, def job.Definition) error {
	def = def.Normalized()
	if err := def.Validate(); err != nil {
		return err
	}
	if err := r.store.UpsertJob(ctx, def, false); err != nil {
		return err
	}
	r.log.Info("job added", logx.String("job", def.ID), logx.String("spec", def.Spec()), logx.Int("timeout", def.Timeout))
	return nil
}

// Update replaces an existing definition. Fails with storage.ErrNotFound
// when the id does not exist.
func (r *Registry) Update(ctx context.Context, def job.Definition) error {
	def = def.Normalized()
	if err := def.Validate(); err != nil {
		return err
	}
	if err := r.store.UpsertJob(ctx, def, true); err != nil {
		return err
	}
	r.log.Info("job updated", logx.String("job", def.ID), logx.String("spec", def.Spec()), logx.Int("timeout", def.Timeout))
	return nil
}

// Remove deletes the definition. Fails with storage.ErrNotFound when the
// id does not exist.
func (r *Registry) Remove(ctx context.Context, id string) error {
	if err := r.store.DeleteJob(ctx, id); err != nil {
		return err
	}
	r.log.Info("job removed", logx.String("job", id))
	return nil
}

// List returns the current definitions, sorted by id. Read-only: no marker
// side effect.
func (r *Registry) List(ctx context.Context) ([]job.Definition, error) {
	return r.store.ListJobs(ctx)
}

// Get returns one definition by id.
func (r *Registry) Get(ctx context.Context, id string) (job.Definition, bool, error) {
	return r.store.GetJob(ctx, id)
}
