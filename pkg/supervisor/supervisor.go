// Package supervisor runs a set of sibling job containers to
// completion: start them detached, poll status and logs until every
// container has settled, stream de-duplicated log lines to the
// container log level, and stop any stragglers.
package supervisor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/deepdriveio/botworker/pkg/log"
	"github.com/deepdriveio/botworker/pkg/runtime"
	"github.com/deepdriveio/botworker/pkg/types"
)

// PollInterval is the status/log poll cadence.
const PollInterval = 100 * time.Millisecond

// StopTimeout is the grace period given to orphaned containers still
// running once the rest of the set has settled.
const StopTimeout = 1 * time.Second

// Runtime is the subset of pkg/runtime.Runtime the supervisor drives,
// narrowed for testability.
type Runtime interface {
	RunDetached(ctx context.Context, spec types.ContainerSpec) (*types.Container, error)
	Get(ctx context.Context, id string) (*types.Container, error)
	Logs(ctx context.Context, id string, since time.Time) ([]string, error)
	Stop(ctx context.Context, id string, timeout time.Duration) error
}

// Supervisor runs container sets to completion.
type Supervisor struct {
	rt     Runtime
	logger zerolog.Logger
}

// New returns a Supervisor driving rt.
func New(rt Runtime, logger zerolog.Logger) *Supervisor {
	return &Supervisor{rt: rt, logger: logger}
}

// state is the supervisor's per-container bookkeeping: the last
// observed log timestamp and line, used for incremental log dedup.
type state struct {
	container     *types.Container
	lastTimestamp time.Time
	lastLogLine   string
}

// Run starts every spec detached, then polls until every container
// has left {created, running}, or one reaches dead, or one exits
// nonzero. It returns the final observed containers and whether the
// whole set succeeded. On a context cancellation or panic escaping
// mid-loop, every started container is stopped before the error
// propagates.
func (s *Supervisor) Run(ctx context.Context, specs []types.ContainerSpec) ([]*types.Container, bool, error) {
	states := make([]*state, 0, len(specs))

	defer func() {
		if r := recover(); r != nil {
			s.stopAll(states)
			panic(r)
		}
	}()

	for _, spec := range specs {
		c, err := s.rt.RunDetached(ctx, spec)
		if err != nil {
			s.stopAll(states)
			return nil, false, fmt.Errorf("supervisor: start %s: %w", spec.Image, err)
		}
		states = append(states, &state{container: c})
	}

	for {
		settled, dead, failed, err := s.pollOnce(ctx, states)
		if err != nil {
			s.stopAll(states)
			return nil, false, err
		}
		if settled || dead || failed {
			break
		}

		select {
		case <-ctx.Done():
			s.stopAll(states)
			return nil, false, ctx.Err()
		case <-time.After(PollInterval):
		}
	}

	s.stopRunning(ctx, states)

	out := make([]*types.Container, len(states))
	success := true
	for i, st := range states {
		out[i] = st.container
		if st.container.Bad() {
			success = false
		}
	}
	return out, success, nil
}

// pollOnce refreshes every container's status and logs once. It
// reports whether the set has settled (none left in
// created/running), whether any is dead, and whether any exited
// nonzero.
func (s *Supervisor) pollOnce(ctx context.Context, states []*state) (settled, anyDead, anyFailed bool, err error) {
	settled = true
	for _, st := range states {
		refreshed, getErr := s.rt.Get(ctx, st.container.ID)
		if getErr != nil {
			return false, false, false, fmt.Errorf("supervisor: refresh %s: %w", st.container.ID, getErr)
		}
		refreshed.SetLastTimestamp(st.lastTimestamp)
		refreshed.SetLastLogLine(st.lastLogLine)
		st.container = refreshed

		if err := s.drainLogs(ctx, st); err != nil {
			return false, false, false, err
		}

		switch refreshed.Status {
		case types.ContainerStatusCreated, types.ContainerStatusRunning:
			settled = false
		case types.ContainerStatusDead:
			anyDead = true
		case types.ContainerStatusExited:
			if refreshed.ExitCode > 0 {
				anyFailed = true
			}
		}
	}
	return settled, anyDead, anyFailed, nil
}

// drainLogs fetches incremental logs for one container and applies
// the de-duplication rule below.
func (s *Supervisor) drainLogs(ctx context.Context, st *state) error {
	lines, err := s.rt.Logs(ctx, st.container.ID, st.lastTimestamp)
	if err != nil {
		return fmt.Errorf("supervisor: logs %s: %w", st.container.ID, err)
	}

	retained := dedupe(lines, st.lastLogLine)
	if len(retained) == 0 {
		return nil
	}

	containerLog := log.WithContainer(st.container.ID)
	for _, line := range retained {
		log.Container(containerLog, stripTimestamp(line))
	}

	lastLine := retained[len(retained)-1]
	if ts, ok := parseTimestamp(lastLine); ok {
		st.lastTimestamp = ts
		st.container.SetLastTimestamp(ts)
	}
	st.lastLogLine = lastLine
	st.container.SetLastLogLine(lastLine)

	return nil
}

// dedupe drops everything up to and including the previously seen
// line. If lastSeen does not appear, every line is retained (nothing
// to drop).
func dedupe(lines []string, lastSeen string) []string {
	if lastSeen == "" {
		return lines
	}
	for i, line := range lines {
		if line == lastSeen {
			return lines[i+1:]
		}
	}
	return lines
}

// timestampLayout matches the log prefix format:
// YYYY-MM-DDTHH:MM:SS.ffffff.
const timestampLayout = "2006-01-02T15:04:05.000000"

// parseTimestamp extracts and parses the leading timestamp of a log
// line. Parse failures are swallowed.
func parseTimestamp(line string) (time.Time, bool) {
	parts := strings.SplitN(line, " ", 2)
	if len(parts) == 0 {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, parts[0])
	if err == nil {
		return t, true
	}
	t, err = time.Parse(timestampLayout, parts[0])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func stripTimestamp(line string) string {
	parts := strings.SplitN(line, " ", 2)
	if len(parts) == 2 {
		return parts[1]
	}
	return line
}

func (s *Supervisor) stopRunning(ctx context.Context, states []*state) {
	for _, st := range states {
		if st.container.Status == types.ContainerStatusRunning || st.container.Status == types.ContainerStatusCreated {
			if err := s.rt.Stop(ctx, st.container.ID, StopTimeout); err != nil {
				s.logger.Warn().Str("container_id", st.container.ID).Err(err).Msg("failed to stop orphaned container")
			}
		}
	}
}

func (s *Supervisor) stopAll(states []*state) {
	ctx := context.Background()
	for _, st := range states {
		if err := s.rt.Stop(ctx, st.container.ID, StopTimeout); err != nil {
			s.logger.Warn().Str("container_id", st.container.ID).Err(err).Msg("failed to stop container during teardown")
		}
	}
}
