// Package registry is the job/instance/secret key-value registry the
// worker loop polls and updates: three collections a single worker
// needs, plus compare-and-swap so two workers racing on the same job
// can never both win the claim.
package registry

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/deepdriveio/botworker/pkg/types"
)

// ErrNotFound is returned by Get when no record exists for a key.
var ErrNotFound = errors.New("registry: not found")

// Store is the minimal KV contract the worker loop needs: read, write,
// and an atomic claim primitive. Collections are namespaced by the
// caller (job vs instance vs secret).
type Store interface {
	// Get reads collection/key into out (a pointer). Returns
	// ErrNotFound if absent.
	Get(ctx context.Context, collection, key string, out interface{}) error

	// Set unconditionally writes value to collection/key.
	Set(ctx context.Context, collection, key string, value interface{}) error

	// CompareAndSwap atomically replaces collection/key's value with
	// newValue iff its current value JSON-equals expected. expected
	// may be nil to mean "key does not currently exist". Returns true
	// iff the swap happened.
	CompareAndSwap(ctx context.Context, collection, key string, expected, newValue interface{}) (bool, error)

	// Query lists every key in a collection whose value satisfies
	// match (match receives the raw JSON and reports inclusion); used
	// by the worker loop to find an ASSIGNED job for this instance.
	Query(ctx context.Context, collection string, match func(raw []byte) bool) ([]string, error)

	Close() error
}

// Collection names namespacing the keys within a Store.
const (
	CollectionJobs      = "jobs"
	CollectionInstances = "instances"
	CollectionSecrets   = "secrets"
)

// JobStore narrows Store to job-specific helpers used throughout
// pkg/workerloop and pkg/executor.
type JobStore struct {
	Store Store
}

// Get reads a job by id.
func (s JobStore) Get(ctx context.Context, id string) (*types.Job, error) {
	var job types.Job
	if err := s.Store.Get(ctx, CollectionJobs, id, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Set writes a job unconditionally.
func (s JobStore) Set(ctx context.Context, job *types.Job) error {
	return s.Store.Set(ctx, CollectionJobs, job.ID, job)
}

// CompareAndSwap replaces a job iff the stored value still equals
// expected; the worker loop uses it for the ASSIGNED -> RUNNING claim.
func (s JobStore) CompareAndSwap(ctx context.Context, expected, newJob *types.Job) (bool, error) {
	return s.Store.CompareAndSwap(ctx, CollectionJobs, newJob.ID, expected, newJob)
}

// FindAssigned returns ids of every job ASSIGNED to instanceID, for
// the worker loop's claim step.
func (s JobStore) FindAssigned(ctx context.Context, instanceID string) ([]string, error) {
	return s.Store.Query(ctx, CollectionJobs, func(raw []byte) bool {
		return matchesAssigned(raw, instanceID)
	})
}

// CountByStatus returns the number of jobs currently in status, for
// the metrics collector's periodic gauge sample.
func (s JobStore) CountByStatus(ctx context.Context, status types.JobStatus) (int, error) {
	ids, err := s.Store.Query(ctx, CollectionJobs, func(raw []byte) bool {
		var job types.Job
		if err := json.Unmarshal(raw, &job); err != nil {
			return false
		}
		return job.Status == status
	})
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// InstanceStore narrows Store to instance-record helpers.
type InstanceStore struct {
	Store Store
}

func (s InstanceStore) Get(ctx context.Context, id string) (*types.Instance, error) {
	var inst types.Instance
	if err := s.Store.Get(ctx, CollectionInstances, id, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

func (s InstanceStore) Set(ctx context.Context, inst *types.Instance) error {
	return s.Store.Set(ctx, CollectionInstances, inst.ID, inst)
}

// SecretStore narrows Store to encrypted-secret blobs.
type SecretStore struct {
	Store Store
}

func (s SecretStore) Get(ctx context.Context, name string) (*types.Secret, error) {
	var sec types.Secret
	if err := s.Store.Get(ctx, CollectionSecrets, name, &sec); err != nil {
		return nil, err
	}
	return &sec, nil
}

func matchesAssigned(raw []byte, instanceID string) bool {
	var job types.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return false
	}
	return job.Status == types.JobStatusAssigned && job.InstanceID == instanceID
}
