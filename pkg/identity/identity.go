// Package identity resolves the worker process's environment: which VM
// it believes it is, whether it is running under the test harness, and
// which registry backend it should talk to.
package identity

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const (
	// MetadataURL is the GCP instance metadata endpoint used to resolve
	// the VM's instance id outside of test mode.
	MetadataURL = "http://metadata.google.internal/computeMetadata/v1/instance/id"

	// ArchiveRepo is the image repository EVAL jobs re-tag and push
	// bot/problem images into for archival.
	ArchiveRepo = "deepdriveio/botleague"

	// LogBucket is the object-storage bucket container logs are
	// uploaded to.
	LogBucket = "deepdriveio"

	// LogPrefix is the key prefix inside LogBucket.
	LogPrefix = "botleague_eval_logs"

	// ResultsMountBaseContainer is the in-container results directory
	// convention.
	ResultsMountBaseContainer = "/mnt/botleague/botleague_results"

	// GCPCredsHostPath / GCPCredsMountPath mount the worker's service
	// account credentials into the EVAL problem container.
	GCPCredsHostPath  = "/root/.gcpcreds"
	GCPCredsMountPath = "/mnt/.gcpcreds"

	// SimBuildBaseImage / DeepdriveBuildBaseImage are the fixed base
	// images a SIM_BUILD / DEEPDRIVE_BUILD job pulls before running its
	// single build container.
	SimBuildBaseImage       = "deepdriveio/deepdrive:sim-build-base"
	DeepdriveBuildBaseImage = "deepdriveio/deepdrive:build-base"

	// ContainerdSocketPath is bind-mounted into a DEEPDRIVE_BUILD
	// container so it can drive the host's containerd/docker control
	// socket (Docker-in-Docker pattern).
	ContainerdSocketPath = "/run/containerd/containerd.sock"
)

// OrphanImageAllowlist names the image prefixes/exact tags the loop is
// permitted to stop at start-of-iteration as orphans.
var OrphanImageAllowlist = struct {
	Prefixes []string
	Exact    []string
}{
	Prefixes: []string{
		"deepdriveio/deepdrive:problem_",
		"deepdriveio/deepdrive:bot_",
	},
	Exact: []string{
		"deepdriveio/private:deepdrive-sim-package",
		"deepdriveio/ue4-deepdrive-deps:latest",
	},
}

// Config is the resolved process environment.
type Config struct {
	InstanceID string

	// IsTest toggles test mode: skip liaison POSTs, use the in-memory
	// registry unless ForceFirestore is set.
	IsTest bool

	// ForceFirestore forces the durable registry backend even in test
	// mode (the original's FORCE_FIRESTORE_DB).
	ForceFirestore bool

	// ShouldUseFirestore is the non-test default backend selector
	// (SHOULD_USE_FIRESTORE, default true).
	ShouldUseFirestore bool

	// GCPProject is resolved from GOOGLE_CLOUD_PROJECT or GCP_PROJECT.
	GCPProject string

	// WorkerDir is the native (non-containerized) base directory used
	// to compute the per-eval results mount path when not running
	// inside a container.
	WorkerDir string
}

// UseDurableRegistry reports whether the resolved config selects the
// bbolt-backed registry over the in-memory one, matching the
// original get_db() selection rule.
func (c Config) UseDurableRegistry() bool {
	if c.IsTest {
		return c.ForceFirestore
	}
	return c.ShouldUseFirestore
}

// Load resolves a Config from the process environment. It does not
// fetch the cloud instance id; callers needing the real VM id should
// call ResolveInstanceID, which additionally consults the metadata
// service outside test mode.
func Load() Config {
	cfg := Config{
		InstanceID:         os.Getenv("INSTANCE_ID"),
		IsTest:             os.Getenv("IS_TEST") != "",
		ForceFirestore:     os.Getenv("FORCE_FIRESTORE_DB") != "",
		ShouldUseFirestore: true,
		WorkerDir:          workingDir(),
	}
	if v, ok := os.LookupEnv("SHOULD_USE_FIRESTORE"); ok {
		cfg.ShouldUseFirestore = v != "false"
	}
	cfg.GCPProject = os.Getenv("GOOGLE_CLOUD_PROJECT")
	if cfg.GCPProject == "" {
		cfg.GCPProject = os.Getenv("GCP_PROJECT")
	}
	return cfg
}

func workingDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	return dir
}

// ResolveInstanceID returns the VM's instance id. In test mode, or when
// INSTANCE_ID is already set, the env value wins. Otherwise it queries
// the GCP metadata service, which MUST have a finite timeout.
func ResolveInstanceID(ctx context.Context, cfg Config) (string, error) {
	if cfg.IsTest || cfg.InstanceID != "" {
		if cfg.InstanceID == "" {
			return "", fmt.Errorf("identity: IS_TEST set but INSTANCE_ID is empty")
		}
		return cfg.InstanceID, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, MetadataURL, nil)
	if err != nil {
		return "", fmt.Errorf("identity: build metadata request: %w", err)
	}
	req.Header.Set("Metadata-Flavor", "Google")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("identity: fetch instance id: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("identity: metadata service returned %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("identity: read metadata response: %w", err)
	}
	return string(body), nil
}

// ResultsMountBase returns the host-side base directory under which
// per-eval results directories are created: a fixed
// in-container path when running containerized, or a worker-relative
// path natively.
func ResultsMountBase(cfg Config, inContainer bool) string {
	if inContainer {
		return "/mnt/botleague_results"
	}
	return cfg.WorkerDir + "/botleague_results"
}
