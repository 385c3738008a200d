// Package runtime wraps containerd's client API into the narrow set
// of operations the supervisor and executor need: pull, run detached,
// list, inspect, incrementally tail logs, stop, tag, and push, built
// around the "run detached, poll status, tail logs" pattern a job
// container needs rather than a long-lived service's lifecycle.
package runtime

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/deepdriveio/botworker/pkg/types"
)

const (
	// Namespace isolates botworker's containers from any other
	// containerd tenant on the host.
	Namespace = "botworker"

	// DefaultSocketPath is containerd's default control socket.
	DefaultSocketPath = "/run/containerd/containerd.sock"
)

// Runtime is the containerd-backed container runtime adapter.
type Runtime struct {
	client *containerd.Client

	mu       sync.Mutex
	sinks    map[string]*logSink
	loggedIn bool
}

// New connects to containerd over socketPath (DefaultSocketPath if
// empty).
func New(socketPath string) (*Runtime, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("runtime: connect to containerd: %w", err)
	}
	return &Runtime{client: client, sinks: map[string]*logSink{}}, nil
}

func (r *Runtime) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

func (r *Runtime) ctx(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, Namespace)
}

// Login records that it was called for this process. containerd's
// resolver takes credentials per-pull rather than a persistent login;
// this adapter's Login discards user and pass, and Pull passes no
// credentials to the resolver, so private images are pulled
// unauthenticated.
func (r *Runtime) Login(_ context.Context, _, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loggedIn = true
	return nil
}

// Pull fetches and unpacks imageRef. containerd.Pull always resolves
// to a single platform-matched image rather than a list, so a
// "select the :latest-tagged image from a list" fallback never
// triggers here: there is nothing to select among.
func (r *Runtime) Pull(ctx context.Context, imageRef string) (containerd.Image, error) {
	ctx = r.ctx(ctx)
	image, err := r.client.Pull(ctx, imageRef, containerd.WithPullUnpack)
	if err != nil {
		return nil, fmt.Errorf("runtime: pull %s: %w", imageRef, err)
	}
	return image, nil
}

// PullDigest pulls imageRef and returns its content digest. It wraps
// Pull for callers (pkg/executor) that only need the digest to attach
// to a job's results and would otherwise have to depend on
// containerd's Image type just to read one field.
func (r *Runtime) PullDigest(ctx context.Context, imageRef string) (string, error) {
	image, err := r.Pull(ctx, imageRef)
	if err != nil {
		return "", err
	}
	return image.Target().Digest.String(), nil
}

// RunDetached starts spec's container with no attached IO: the
// caller polls status and logs rather than streaming them inline.
func (r *Runtime) RunDetached(ctx context.Context, spec types.ContainerSpec) (*types.Container, error) {
	ctx = r.ctx(ctx)

	image, err := r.client.GetImage(ctx, spec.Image)
	if err != nil {
		image, err = r.Pull(ctx, spec.Image)
		if err != nil {
			return nil, err
		}
	}

	name := spec.Name
	if name == "" {
		name = containerName(spec.Image)
	}

	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(env),
	}

	var mounts []specs.Mount
	for host, bind := range spec.Volumes {
		opt := []string{"rbind"}
		if bind.ReadOnly {
			opt = append(opt, "ro")
		} else {
			opt = append(opt, "rw")
		}
		mounts = append(mounts, specs.Mount{
			Source:      host,
			Destination: bind.Target,
			Type:        "bind",
			Options:     opt,
		})
	}
	for _, extra := range spec.RunOptions.ExtraBinds {
		mounts = append(mounts, specs.Mount{
			Source:      extra.Target,
			Destination: extra.Target,
			Type:        "bind",
			Options:     []string{"rbind", "rw"},
		})
	}
	if len(mounts) > 0 {
		opts = append(opts, oci.WithMounts(mounts))
	}

	ctrdContainer, err := r.client.NewContainer(
		ctx,
		name,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(name+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return nil, fmt.Errorf("runtime: create container %s: %w", name, err)
	}

	sink := newLogSink()
	r.mu.Lock()
	r.sinks[ctrdContainer.ID()] = sink
	r.mu.Unlock()

	task, err := ctrdContainer.NewTask(ctx, cio.NewCreator(cio.WithStreams(nil, sink, sink)))
	if err != nil {
		return nil, fmt.Errorf("runtime: create task for %s: %w", name, err)
	}
	if err := task.Start(ctx); err != nil {
		return nil, fmt.Errorf("runtime: start task for %s: %w", name, err)
	}

	return &types.Container{
		ID:     ctrdContainer.ID(),
		Name:   name,
		Image:  spec.Image,
		Status: types.ContainerStatusCreated,
	}, nil
}

// ListRunning returns the containers in the botworker namespace whose
// task is currently running (or paused), refreshed via Get.
func (r *Runtime) ListRunning(ctx context.Context) ([]*types.Container, error) {
	ctx = r.ctx(ctx)

	containers, err := r.client.Containers(ctx)
	if err != nil {
		return nil, fmt.Errorf("runtime: list containers: %w", err)
	}

	out := make([]*types.Container, 0, len(containers))
	for _, c := range containers {
		refreshed, err := r.Get(ctx, c.ID())
		if err != nil || refreshed.Status != types.ContainerStatusRunning {
			continue
		}
		out = append(out, refreshed)
	}
	return out, nil
}

// Get refreshes and returns a container's current status.
func (r *Runtime) Get(ctx context.Context, id string) (*types.Container, error) {
	ctx = r.ctx(ctx)

	c, err := r.client.LoadContainer(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("runtime: load container %s: %w", id, err)
	}

	info, err := c.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("runtime: container info %s: %w", id, err)
	}

	out := &types.Container{ID: id, Name: id, Image: info.Image}

	task, err := c.Task(ctx, nil)
	if err != nil {
		out.Status = types.ContainerStatusCreated
		return out, nil
	}

	status, err := task.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("runtime: task status %s: %w", id, err)
	}

	switch status.Status {
	case containerd.Running, containerd.Paused:
		out.Status = types.ContainerStatusRunning
	case containerd.Stopped:
		out.Status = types.ContainerStatusExited
		out.ExitCode = int(status.ExitStatus)
	default:
		out.Status = types.ContainerStatusCreated
	}

	return out, nil
}

// Logs returns retained log lines for id, each timestamp-prefixed
// (RFC3339Nano). since, when non-zero, filters out lines at or before
// that timestamp; the supervisor performs the line-level dedup
// against last_logline itself.
func (r *Runtime) Logs(_ context.Context, id string, since time.Time) ([]string, error) {
	r.mu.Lock()
	sink, ok := r.sinks[id]
	r.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return sink.Lines(since), nil
}

// Stop sends SIGTERM, waits up to timeout, then SIGKILLs and deletes
// the task.
func (r *Runtime) Stop(ctx context.Context, id string, timeout time.Duration) error {
	ctx = r.ctx(ctx)

	c, err := r.client.LoadContainer(ctx, id)
	if err != nil {
		return nil
	}

	task, err := c.Task(ctx, nil)
	if err != nil {
		return nil
	}

	stopCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	statusC, err := task.Wait(ctx)
	if err != nil {
		return fmt.Errorf("runtime: wait task %s: %w", id, err)
	}

	if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil {
		return fmt.Errorf("runtime: sigterm task %s: %w", id, err)
	}

	select {
	case <-statusC:
	case <-stopCtx.Done():
		if err := task.Kill(ctx, syscall.SIGKILL); err != nil {
			return fmt.Errorf("runtime: sigkill task %s: %w", id, err)
		}
		<-statusC
	}

	if _, err := task.Delete(ctx); err != nil {
		return fmt.Errorf("runtime: delete task %s: %w", id, err)
	}

	r.mu.Lock()
	delete(r.sinks, id)
	r.mu.Unlock()

	return nil
}

// Tag creates newTag in repo pointed at image, for archival
// re-tagging of eval bot/problem images.
func (r *Runtime) Tag(ctx context.Context, image, repo, newTag string) (string, error) {
	ctx = r.ctx(ctx)

	img, err := r.client.GetImage(ctx, image)
	if err != nil {
		return "", fmt.Errorf("runtime: get image %s: %w", image, err)
	}

	target := repo + ":" + newTag
	is := r.client.ImageService()
	imgRecord := img.Metadata()
	imgRecord.Name = target
	if _, err := is.Create(ctx, imgRecord); err != nil {
		return "", fmt.Errorf("runtime: tag %s as %s: %w", image, target, err)
	}
	return target, nil
}

// Push uploads repo:tag to its remote registry.
func (r *Runtime) Push(ctx context.Context, repo, tag string) error {
	ctx = r.ctx(ctx)

	ref := repo + ":" + tag
	img, err := r.client.GetImage(ctx, ref)
	if err != nil {
		return fmt.Errorf("runtime: get image %s: %w", ref, err)
	}

	if err := r.client.Push(ctx, ref, img.Target()); err != nil {
		return fmt.Errorf("runtime: push %s: %w", ref, err)
	}
	return nil
}

func containerName(image string) string {
	name := strings.NewReplacer("/", "-", ":", "-", "@", "-").Replace(image)
	return fmt.Sprintf("%s-%d", name, time.Now().UnixNano())
}
