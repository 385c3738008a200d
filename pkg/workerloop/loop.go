// Package workerloop drives the worker's main poll/claim/run/release
// cycle: at the top of every iteration it sweeps for stray containers,
// asks whether a newer binary revision is live, then looks for a job
// assigned to this instance and runs it to completion, all within a
// single synchronous loop since this worker holds at most one
// in-flight job at a time.
package workerloop

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/deepdriveio/botworker/pkg/log"
	"github.com/deepdriveio/botworker/pkg/metrics"
	"github.com/deepdriveio/botworker/pkg/types"
)

// JobRegistry is the subset of registry.JobStore the loop needs.
type JobRegistry interface {
	FindAssigned(ctx context.Context, instanceID string) ([]string, error)
	Get(ctx context.Context, id string) (*types.Job, error)
	CompareAndSwap(ctx context.Context, expected, newJob *types.Job) (bool, error)
	Set(ctx context.Context, job *types.Job) error
}

// InstanceRegistry is the subset of registry.InstanceStore the loop
// needs to release a VM back to the pool.
type InstanceRegistry interface {
	Get(ctx context.Context, id string) (*types.Instance, error)
	Set(ctx context.Context, inst *types.Instance) error
}

// Runtime is the subset of runtime.Runtime the loop drives directly.
type Runtime interface {
	Login(ctx context.Context, user, pass string) error
}

// Reconciler stops stray containers left over from a previous run.
type Reconciler interface {
	Reconcile(ctx context.Context, keep map[string]bool) ([]string, error)
}

// UpdateChecker reports whether a newer worker revision is already
// live on disk, asked once at the top of every iteration. The
// auto-updater's own git-pull mechanics are out of scope for this
// worker; only the yes/no signal it produces matters here.
type UpdateChecker interface {
	ShouldUpdate(ctx context.Context) bool
}

// Executor dispatches a claimed job to the container work its
// JobType describes, mutating job.Results and returning any error
// that escaped the dispatch (executor.Dispatch bound to its own
// collaborators by the caller).
type Executor func(ctx context.Context, job *types.Job) error

// Heartbeat is satisfied by health.Server; optional, nil-safe.
type Heartbeat interface {
	Heartbeat()
}

// Deps bundles every collaborator the loop needs, built once at
// process start and passed down, the same field-bundling shape
// pkg/executor.Deps uses.
type Deps struct {
	Jobs          JobRegistry
	Instances     InstanceRegistry
	Runtime       Runtime
	Reconciler    Reconciler
	Executor      Executor
	UpdateChecker UpdateChecker
	Health        Heartbeat

	InstanceID   string
	RegistryUser string
	RegistryPass string
}

// MinSleep and JitterMax implement a "0.5s + U[0,1]s" jittered
// inter-iteration backoff.
const (
	MinSleep  = 500 * time.Millisecond
	JitterMax = time.Second
)

// Loop runs the poll/claim/run/release cycle until the update checker
// signals a newer revision is live, or until maxIters iterations
// complete (a non-nil maxIters is a test hook; production callers
// pass nil to run forever). It returns the last job it processed, or
// nil if no job was ever claimed, for observability.
func Loop(ctx context.Context, d Deps, maxIters *int) *types.Job {
	logger := log.WithComponent("workerloop")
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))

	var last *types.Job
	for i := 0; maxIters == nil || i < *maxIters; i++ {
		if ctx.Err() != nil {
			return last
		}

		// Pruning dangling images and stopping stray containers both
		// reduce to "stop stray allow-listed containers": nothing in
		// this worker's stack distinguishes the two, so one reconciler
		// sweep covers both.
		if _, err := d.Reconciler.Reconcile(ctx, nil); err != nil {
			logger.Error().Err(err).Msg("orphan reconciliation sweep failed")
		}

		if d.UpdateChecker != nil && d.UpdateChecker.ShouldUpdate(ctx) {
			logger.Info().Msg("newer revision detected, returning for process restart")
			return last
		}

		if job := pollAndRun(ctx, d, logger); job != nil {
			last = job
		}

		metrics.LoopIterationsTotal.Inc()
		if d.Health != nil {
			d.Health.Heartbeat()
		}

		sleep := MinSleep + time.Duration(rnd.Int63n(int64(JitterMax)))
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return last
		}
	}
	return last
}

// pollAndRun finds this instance's ASSIGNED job, if any, and runs it.
// More than one assigned job is a fatal invariant violation and
// crashes the process.
func pollAndRun(ctx context.Context, d Deps, logger zerolog.Logger) *types.Job {
	ids, err := d.Jobs.FindAssigned(ctx, d.InstanceID)
	if err != nil {
		logger.Error().Err(err).Msg("query for assigned job failed")
		return nil
	}
	if len(ids) > 1 {
		logger.Fatal().Strs("job_ids", ids).Str("instance_id", d.InstanceID).
			Msg("more than one job assigned to this instance")
	}
	if len(ids) == 0 {
		return nil
	}

	job, err := d.Jobs.Get(ctx, ids[0])
	if err != nil {
		logger.Error().Err(err).Str("job_id", ids[0]).Msg("failed to load assigned job")
		return nil
	}

	return runJob(ctx, d, job)
}
