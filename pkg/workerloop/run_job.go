package workerloop

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/deepdriveio/botworker/pkg/log"
	"github.com/deepdriveio/botworker/pkg/metrics"
	"github.com/deepdriveio/botworker/pkg/registry"
	"github.com/deepdriveio/botworker/pkg/types"
)

// runJob claims the job via CAS, dispatches it to the executor under
// a scoped log sink so an escaped error never aborts the iteration,
// releases the instance, then unconditionally marks the job FINISHED.
func runJob(ctx context.Context, d Deps, job *types.Job) *types.Job {
	logger := log.WithJobID(job.ID)

	if err := d.Runtime.Login(ctx, d.RegistryUser, d.RegistryPass); err != nil {
		logger.Error().Err(err).Msg("registry login failed")
	}

	running := job.Clone()
	running.Status = types.JobStatusRunning
	running.StartedAt = time.Now()

	ok, err := d.Jobs.CompareAndSwap(ctx, job, running)
	if err != nil {
		logger.Error().Err(err).Msg("compare-and-swap to RUNNING failed")
		return nil
	}
	if !ok {
		logger.Warn().Msg("lost claim race for assigned job, abandoning iteration")
		return nil
	}

	running.Results = types.NewResults()

	sink := log.NewScopedSink()
	dispatch(ctx, d.Executor, running, sink)
	running.WorkerError = sink.String()

	releaseInstance(ctx, d, running.InstanceID, logger)

	running.Status = types.JobStatusFinished
	running.FinishedAt = time.Now()
	if err := d.Jobs.Set(ctx, running); err != nil {
		logger.Error().Err(err).Msg("failed to persist finished job")
	}

	metrics.JobsTotal.WithLabelValues(string(running.Status)).Inc()
	return running
}

// dispatch invokes executor and recovers any panic that escapes it,
// folding both the returned error and a recovered panic into sink.
func dispatch(ctx context.Context, executor Executor, job *types.Job, sink *log.ScopedSink) {
	defer func() {
		if r := recover(); r != nil {
			sink.Logger.Error().Interface("panic", r).Msg("executor panicked")
		}
	}()
	if err := executor(ctx, job); err != nil {
		sink.Logger.Error().Err(err).Msg("executor returned an error")
	}
}

// releaseInstance idempotently returns instanceID's VM to the
// available pool.
func releaseInstance(ctx context.Context, d Deps, instanceID string, logger zerolog.Logger) {
	inst, err := d.Instances.Get(ctx, instanceID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			logger.Warn().Str("instance_id", instanceID).Msg("instance record not found, skipping release")
			return
		}
		logger.Error().Err(err).Str("instance_id", instanceID).Msg("failed to look up instance for release")
		return
	}
	if inst.Status == types.InstanceStatusAvailable {
		logger.Warn().Str("instance_id", instanceID).Msg("instance already available, skipping release")
		return
	}

	inst.Status = types.InstanceStatusAvailable
	inst.TimeLastAvailable = time.Now()
	if err := d.Instances.Set(ctx, inst); err != nil {
		logger.Error().Err(err).Str("instance_id", instanceID).Msg("failed to release instance")
	}
}
