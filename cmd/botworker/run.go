package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/deepdriveio/botworker/pkg/artifact"
	"github.com/deepdriveio/botworker/pkg/executor"
	"github.com/deepdriveio/botworker/pkg/health"
	"github.com/deepdriveio/botworker/pkg/identity"
	"github.com/deepdriveio/botworker/pkg/log"
	"github.com/deepdriveio/botworker/pkg/metrics"
	"github.com/deepdriveio/botworker/pkg/reconciler"
	"github.com/deepdriveio/botworker/pkg/registry"
	"github.com/deepdriveio/botworker/pkg/reporter"
	"github.com/deepdriveio/botworker/pkg/runtime"
	"github.com/deepdriveio/botworker/pkg/security"
	"github.com/deepdriveio/botworker/pkg/supervisor"
	"github.com/deepdriveio/botworker/pkg/types"
	"github.com/deepdriveio/botworker/pkg/volume"
	"github.com/deepdriveio/botworker/pkg/workerloop"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the worker loop until the process supervisor restarts it",
	Long: `Polls the job registry for a job assigned to this VM, runs it to
completion, releases the VM back to the pool, and repeats until
interrupted or until --max-iters iterations complete. The update
checker wired here never reports a newer revision.`,
	RunE: runWorker,
}

func init() {
	runCmd.Flags().String("containerd-socket", "", "containerd socket path (default /run/containerd/containerd.sock)")
	runCmd.Flags().String("data-dir", "/var/lib/botworker", "base directory for the durable registry")
	runCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "address to serve /metrics and /healthz on")
	runCmd.Flags().Int("max-iters", 0, "stop after N loop iterations (0 = run forever)")
	runCmd.Flags().Bool("in-container", false, "true when this process itself runs inside a container")
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("received shutdown signal, finishing current iteration")
		cancel()
	}()

	containerdSocket, _ := cmd.Flags().GetString("containerd-socket")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	maxIters, _ := cmd.Flags().GetInt("max-iters")
	inContainer, _ := cmd.Flags().GetBool("in-container")

	cfg := identity.Load()
	instanceID, err := identity.ResolveInstanceID(ctx, cfg)
	if err != nil {
		return fmt.Errorf("resolve instance id: %w", err)
	}

	store, err := registry.New(cfg, dataDir)
	if err != nil {
		return fmt.Errorf("open job registry: %w", err)
	}
	defer store.Close()

	rt, err := runtime.New(containerdSocket)
	if err != nil {
		return fmt.Errorf("connect to containerd: %w", err)
	}
	defer rt.Close()

	volMgr, err := volume.NewDefaultManager(cfg, inContainer)
	if err != nil {
		return fmt.Errorf("create results volume manager: %w", err)
	}

	secMgr, err := loadSecurityManager()
	if err != nil {
		return fmt.Errorf("load secret encryption key: %w", err)
	}

	artifacts, err := artifact.NewDefault(ctx)
	if err != nil {
		return fmt.Errorf("create artifact sink: %w", err)
	}
	defer artifacts.Close()

	healthSrv := health.NewServer()
	go serveMetricsAndHealth(metricsAddr, healthSrv)

	sup := supervisor.New(rt, log.WithComponent("supervisor"))
	recon := reconciler.New(rt)

	execDeps := executor.Deps{
		Runtime:    rt,
		Supervisor: sup,
		Artifacts:  artifacts,
		Reporter:   reporter.New(cfg),
		Volumes:    volMgr,
		Secrets:    secMgr,
		SecretRepo: registry.SecretStore{Store: store},
	}

	loopDeps := workerloop.Deps{
		Jobs:          registry.JobStore{Store: store},
		Instances:     registry.InstanceStore{Store: store},
		Runtime:       rt,
		Reconciler:    recon,
		UpdateChecker: workerloop.NeverUpdateChecker{},
		Health:        healthSrv,
		InstanceID:    instanceID,
		RegistryUser:  os.Getenv("CONTAINER_REGISTRY_USER"),
		RegistryPass:  os.Getenv("CONTAINER_REGISTRY_PASS"),
		Executor: func(ctx context.Context, job *types.Job) error {
			return executor.Dispatch(ctx, execDeps, job)
		},
	}

	var iters *int
	if maxIters > 0 {
		iters = &maxIters
	}

	log.WithComponent("botworker").Info().Str("instance_id", instanceID).Msg("worker loop starting")
	workerloop.Loop(ctx, loopDeps, iters)
	return nil
}

// loadSecurityManager builds the credential decryptor from
// BOTWORKER_SECRET_KEY, a base64-encoded 32-byte AES-256 key shared
// with the coordinator that encrypted the registry's secret blobs.
func loadSecurityManager() (*security.Manager, error) {
	encoded := os.Getenv("BOTWORKER_SECRET_KEY")
	if encoded == "" {
		return nil, fmt.Errorf("BOTWORKER_SECRET_KEY is not set")
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode BOTWORKER_SECRET_KEY: %w", err)
	}
	return security.NewManager(key)
}

func serveMetricsAndHealth(addr string, h *health.Server) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/healthz", h.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		log.WithComponent("botworker").Error().Err(err).Msg("metrics/health server exited")
	}
}
