package workerloop

import (
	"context"
	"testing"

	"github.com/deepdriveio/botworker/pkg/registry"
	"github.com/deepdriveio/botworker/pkg/types"
)

type fakeRuntime struct {
	logins int
}

func (f *fakeRuntime) Login(context.Context, string, string) error {
	f.logins++
	return nil
}

type fakeReconciler struct {
	sweeps int
}

func (f *fakeReconciler) Reconcile(context.Context, map[string]bool) ([]string, error) {
	f.sweeps++
	return nil, nil
}

type fakeUpdateChecker struct {
	atIteration int
	calls       int
}

func (f *fakeUpdateChecker) ShouldUpdate(context.Context) bool {
	f.calls++
	return f.calls-1 == f.atIteration
}

func newTestDeps(t *testing.T) (Deps, registry.JobStore, registry.InstanceStore) {
	t.Helper()
	store := registry.NewMemoryStore()
	jobs := registry.JobStore{Store: store}
	instances := registry.InstanceStore{Store: store}

	d := Deps{
		Jobs:          jobs,
		Instances:     instances,
		Runtime:       &fakeRuntime{},
		Reconciler:    &fakeReconciler{},
		UpdateChecker: NeverUpdateChecker{},
		InstanceID:    "instance-1",
	}
	return d, jobs, instances
}

// TestLoopClaimsRunsAndReleases covers the normal path: an ASSIGNED
// job for this instance is claimed, dispatched, and the VM released.
func TestLoopClaimsRunsAndReleases(t *testing.T) {
	ctx := context.Background()
	d, jobs, instances := newTestDeps(t)

	job := &types.Job{
		ID:         "job-1",
		InstanceID: d.InstanceID,
		JobType:    types.JobTypeEval,
		Status:     types.JobStatusAssigned,
	}
	if err := jobs.Set(ctx, job); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	if err := instances.Set(ctx, &types.Instance{ID: d.InstanceID, Status: types.InstanceStatusUsed}); err != nil {
		t.Fatalf("seed instance: %v", err)
	}

	var dispatched *types.Job
	d.Executor = func(_ context.Context, j *types.Job) error {
		dispatched = j
		return nil
	}

	iters := 1
	last := Loop(ctx, d, &iters)

	if dispatched == nil {
		t.Fatal("expected executor to be dispatched")
	}
	if last == nil || last.Status != types.JobStatusFinished {
		t.Fatalf("last job = %+v, want FINISHED", last)
	}
	if last.WorkerError != "" {
		t.Errorf("WorkerError = %q, want empty", last.WorkerError)
	}

	persisted, err := jobs.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("get persisted job: %v", err)
	}
	if persisted.Status != types.JobStatusFinished {
		t.Errorf("persisted job status = %q, want FINISHED", persisted.Status)
	}

	inst, err := instances.Get(ctx, d.InstanceID)
	if err != nil {
		t.Fatalf("get instance: %v", err)
	}
	if inst.Status != types.InstanceStatusAvailable {
		t.Errorf("instance status = %q, want AVAILABLE", inst.Status)
	}
}

// TestLoopExecutorErrorStillFinishes covers the rule that no error
// condition prevents a claimed job from reaching FINISHED: an
// executor error lands in WorkerError but the job still finishes and
// the instance is still released.
func TestLoopExecutorErrorStillFinishes(t *testing.T) {
	ctx := context.Background()
	d, jobs, instances := newTestDeps(t)

	job := &types.Job{ID: "job-2", InstanceID: d.InstanceID, JobType: types.JobTypeEval, Status: types.JobStatusAssigned}
	_ = jobs.Set(ctx, job)
	_ = instances.Set(ctx, &types.Instance{ID: d.InstanceID, Status: types.InstanceStatusUsed})

	d.Executor = func(context.Context, *types.Job) error {
		return context.DeadlineExceeded
	}

	iters := 1
	last := Loop(ctx, d, &iters)

	if last == nil || last.Status != types.JobStatusFinished {
		t.Fatalf("last job = %+v, want FINISHED", last)
	}
	if last.WorkerError == "" {
		t.Error("expected WorkerError to be populated from the executor's returned error")
	}

	inst, _ := instances.Get(ctx, d.InstanceID)
	if inst.Status != types.InstanceStatusAvailable {
		t.Errorf("instance status = %q, want AVAILABLE even after executor error", inst.Status)
	}
}

// TestLoopExecutorPanicCaptured covers the panic-recovery path the
// scoped sink exists for: a panicking executor still lets the job
// reach FINISHED with a non-empty WorkerError.
func TestLoopExecutorPanicCaptured(t *testing.T) {
	ctx := context.Background()
	d, jobs, instances := newTestDeps(t)

	job := &types.Job{ID: "job-3", InstanceID: d.InstanceID, JobType: types.JobTypeEval, Status: types.JobStatusAssigned}
	_ = jobs.Set(ctx, job)
	_ = instances.Set(ctx, &types.Instance{ID: d.InstanceID, Status: types.InstanceStatusUsed})

	d.Executor = func(context.Context, *types.Job) error {
		panic("boom")
	}

	iters := 1
	last := Loop(ctx, d, &iters)

	if last == nil || last.Status != types.JobStatusFinished {
		t.Fatalf("last job = %+v, want FINISHED", last)
	}
	if last.WorkerError == "" {
		t.Error("expected WorkerError to capture the panic")
	}
}

// TestRunJobCASLost covers two workers racing the same ASSIGNED job:
// a rival's CAS lands first, so this worker's own CAS (built from its
// now-stale snapshot) fails, runJob abandons the iteration, and the
// job is left exactly as the rival set it.
func TestRunJobCASLost(t *testing.T) {
	ctx := context.Background()
	d, jobs, _ := newTestDeps(t)

	snapshot := &types.Job{ID: "job-4", InstanceID: d.InstanceID, JobType: types.JobTypeEval, Status: types.JobStatusAssigned}
	_ = jobs.Set(ctx, snapshot)

	rival := snapshot.Clone()
	rival.Status = types.JobStatusRunning
	if ok, err := jobs.CompareAndSwap(ctx, snapshot, rival); err != nil || !ok {
		t.Fatalf("seed rival claim: ok=%v err=%v", ok, err)
	}

	called := false
	d.Executor = func(context.Context, *types.Job) error {
		called = true
		return nil
	}

	last := runJob(ctx, d, snapshot)

	if called {
		t.Error("executor must not run when the CAS claim is lost")
	}
	if last != nil {
		t.Errorf("runJob result = %+v, want nil (iteration abandoned)", last)
	}

	persisted, err := jobs.Get(ctx, "job-4")
	if err != nil {
		t.Fatalf("get persisted job: %v", err)
	}
	if persisted.Status != types.JobStatusRunning {
		t.Errorf("persisted status = %q, want unchanged RUNNING from the rival claim", persisted.Status)
	}
}

// TestLoopAutoUpdateSignaled covers the update checker signaling
// before iteration k: Loop returns without ever polling for a job.
func TestLoopAutoUpdateSignaled(t *testing.T) {
	ctx := context.Background()
	d, jobs, _ := newTestDeps(t)

	job := &types.Job{ID: "job-5", InstanceID: d.InstanceID, JobType: types.JobTypeEval, Status: types.JobStatusAssigned}
	_ = jobs.Set(ctx, job)

	checker := &fakeUpdateChecker{atIteration: 0}
	d.UpdateChecker = checker

	called := false
	d.Executor = func(context.Context, *types.Job) error {
		called = true
		return nil
	}

	iters := 5
	last := Loop(ctx, d, &iters)

	if called {
		t.Error("executor must not run once the update checker signals")
	}
	if last != nil {
		t.Errorf("last job = %+v, want nil", last)
	}
	if checker.calls != 1 {
		t.Errorf("update checker called %d times, want exactly 1", checker.calls)
	}
}

// TestLoopSweepsEveryIteration confirms the reconciler runs once per
// iteration regardless of whether a job was found.
func TestLoopSweepsEveryIteration(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newTestDeps(t)
	rec := d.Reconciler.(*fakeReconciler)

	d.Executor = func(context.Context, *types.Job) error { return nil }

	iters := 3
	Loop(ctx, d, &iters)

	if rec.sweeps != 3 {
		t.Errorf("reconciler swept %d times, want 3", rec.sweeps)
	}
}
