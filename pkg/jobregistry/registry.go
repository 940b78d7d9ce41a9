package jobregistry

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Registry exposes atomic read-modify-write transactions over a Store.
//
// Every method performs exactly one lock acquisition, so operations from
// any number of processes are serialized in lock-grant order.
type Registry struct {
	store  *Store
	logger *zap.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger for registry transactions.
func WithRegistryLogger(l *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry wraps store. A store without a lock timeout is given
// DefaultLockTimeout, so registry calls never block indefinitely.
func NewRegistry(store *Store, opts ...RegistryOption) *Registry {
	if store.timeout <= 0 {
		store.timeout = DefaultLockTimeout
	}
	r := &Registry{store: store, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open is shorthand for NewRegistry(NewStore(path, opts...)).
func Open(path string, opts ...StoreOption) *Registry {
	return NewRegistry(NewStore(path, opts...))
}

// Store returns the underlying store.
func (r *Registry) Store() *Store {
	return r.store
}

// Jobs returns the full registry document (empty when nothing is registered).
func (r *Registry) Jobs(ctx context.Context) (Jobs, error) {
	var jobs Jobs
	err := r.store.With(ctx, func(h *Handle) error {
		var err error
		jobs, err = h.Load()
		return err
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// Get returns the record for id. A missing id yields the zero Job and false.
func (r *Registry) Get(ctx context.Context, id string) (Job, bool, error) {
	jobs, err := r.Jobs(ctx)
	if err != nil {
		return Job{}, false, err
	}
	j, ok := jobs[strings.TrimSpace(id)]
	return j, ok, nil
}

// Set merges the non-nil fields of p into the record for id, creating the
// record from the zero Job if it does not exist yet.
func (r *Registry) Set(ctx context.Context, id string, p Patch) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("job id is required")
	}
	return r.store.With(ctx, func(h *Handle) error {
		jobs, err := h.Load()
		if err != nil {
			return err
		}
		j := jobs[id]
		p.Apply(&j)
		jobs[id] = j
		if err := h.Store(jobs); err != nil {
			return err
		}
		r.logger.Debug("Registry record updated", zap.String("job_id", id), zap.Int("jobs", len(jobs)))
		return nil
	})
}

// Remove deletes the record for id and returns the removed copy. Removing an
// unknown id is a no-op returning the zero Job and false; the document is
// not rewritten in that case.
func (r *Registry) Remove(ctx context.Context, id string) (Job, bool, error) {
	id = strings.TrimSpace(id)
	var (
		removed Job
		found   bool
	)
	err := r.store.With(ctx, func(h *Handle) error {
		jobs, err := h.Load()
		if err != nil {
			return err
		}
		j, ok := jobs[id]
		if !ok {
			return nil
		}
		delete(jobs, id)
		if err := h.Store(jobs); err != nil {
			return err
		}
		removed, found = j, true
		return nil
	})
	if err != nil {
		return Job{}, false, err
	}
	if found {
		r.logger.Debug("Registry record removed", zap.String("job_id", id))
	}
	return removed, found, nil
}

// Admit applies the admission policy to the current document and, if the
// job is admitted, stores it under id. Check and write happen under one
// lock acquisition, so two concurrent admissions cannot both pass on a
// stale view. The returned snapshot is the document the decision was made
// on (before the new record was added).
//
// A refusal is an *AdmissionError and nothing is written.
func (r *Registry) Admit(ctx context.Context, id string, job Job) (Jobs, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("job id is required")
	}
	var snapshot Jobs
	err := r.store.With(ctx, func(h *Handle) error {
		jobs, err := h.Load()
		if err != nil {
			return err
		}
		snapshot = make(Jobs, len(jobs))
		for k, v := range jobs {
			snapshot[k] = v
		}
		if err := CheckAdmission(jobs, job.Exclusive); err != nil {
			return err
		}
		j := jobs[id]
		PatchFromJob(job).Apply(&j)
		jobs[id] = j
		return h.Store(jobs)
	})
	if err != nil {
		return snapshot, err
	}
	r.logger.Debug("Job admitted",
		zap.String("job_id", id),
		zap.Bool("exclusive", job.Exclusive),
		zap.Int("running", len(snapshot)))
	return snapshot, nil
}
