// Package reconciler stops stray allow-listed containers left running
// from a prior crashed or interrupted worker process, as a single
// one-shot sweep the worker loop runs at the start of every iteration.
package reconciler

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/deepdriveio/botworker/pkg/identity"
	"github.com/deepdriveio/botworker/pkg/log"
	"github.com/deepdriveio/botworker/pkg/metrics"
	"github.com/deepdriveio/botworker/pkg/types"
)

// Runtime is the subset of runtime.Runtime the reconciler needs.
type Runtime interface {
	ListRunning(ctx context.Context) ([]*types.Container, error)
	Stop(ctx context.Context, id string, timeout time.Duration) error
}

// StopTimeout bounds how long an orphan gets to exit gracefully
// before the reconciler force-kills it.
const StopTimeout = 5 * time.Second

// Reconciler stops any running container whose image matches
// identity.OrphanImageAllowlist and whose id isn't in the current
// job's keep-set.
type Reconciler struct {
	runtime Runtime
	logger  zerolog.Logger
}

// New creates a Reconciler over rt.
func New(rt Runtime) *Reconciler {
	return &Reconciler{runtime: rt, logger: log.WithComponent("reconciler")}
}

// Reconcile lists running containers and stops every allow-listed
// orphan not present in keep. It returns the ids it stopped.
func (r *Reconciler) Reconcile(ctx context.Context, keep map[string]bool) ([]string, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconciliationDuration)

	containers, err := r.runtime.ListRunning(ctx)
	if err != nil {
		return nil, err
	}

	var stopped []string
	for _, c := range containers {
		if keep[c.ID] {
			continue
		}
		if !isAllowlisted(c.Image) {
			continue
		}

		r.logger.Warn().Str("container_id", c.ID).Str("image", c.Image).
			Msg("stopping orphaned container")
		if err := r.runtime.Stop(ctx, c.ID, StopTimeout); err != nil {
			r.logger.Error().Err(err).Str("container_id", c.ID).
				Msg("failed to stop orphaned container")
			continue
		}
		stopped = append(stopped, c.ID)
	}

	return stopped, nil
}

// isAllowlisted reports whether image matches one of
// identity.OrphanImageAllowlist's prefixes or exact entries.
func isAllowlisted(image string) bool {
	for _, exact := range identity.OrphanImageAllowlist.Exact {
		if image == exact {
			return true
		}
	}
	for _, prefix := range identity.OrphanImageAllowlist.Prefixes {
		if strings.HasPrefix(image, prefix) {
			return true
		}
	}
	return false
}
