// Package executor dispatches a claimed job to the container work it
// describes: an EVAL job pits a bot image against a problem image
// under the supervisor, a SIM_BUILD/DEEPDRIVE_BUILD job runs one
// credentialed build container. One struct holds every collaborator
// dispatch needs, built once by the worker loop and passed down.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/deepdriveio/botworker/pkg/artifact"
	"github.com/deepdriveio/botworker/pkg/collector"
	"github.com/deepdriveio/botworker/pkg/identity"
	"github.com/deepdriveio/botworker/pkg/log"
	"github.com/deepdriveio/botworker/pkg/metrics"
	"github.com/deepdriveio/botworker/pkg/registry"
	"github.com/deepdriveio/botworker/pkg/security"
	"github.com/deepdriveio/botworker/pkg/types"
)

// Runtime is the subset of pkg/runtime.Runtime the executor drives
// directly, outside of what it hands to the Supervisor.
type Runtime interface {
	Login(ctx context.Context, user, pass string) error
	// PullDigest pulls imageRef (unpacking it, so the image is ready
	// to run) and returns its content digest.
	PullDigest(ctx context.Context, imageRef string) (string, error)
	Logs(ctx context.Context, id string, since time.Time) ([]string, error)
	Tag(ctx context.Context, image, repo, newTag string) (string, error)
	Push(ctx context.Context, repo, tag string) error
}

// Supervisor is the subset of pkg/supervisor.Supervisor the executor
// needs.
type Supervisor interface {
	Run(ctx context.Context, specs []types.ContainerSpec) ([]*types.Container, bool, error)
}

// Artifacts is the subset of pkg/artifact.Sink the executor needs.
type Artifacts interface {
	Upload(ctx context.Context, text, filename string) (string, error)
}

// Reporter is the subset of pkg/reporter.Reporter the executor needs.
type Reporter interface {
	Post(ctx context.Context, url string, body interface{}) (*http.Response, error)
}

// Volumes is the subset of pkg/volume.Manager the executor needs.
type Volumes interface {
	Create(evalID string) (string, error)
}

// Secrets decrypts credential blobs out of the secrets collection.
type Secrets interface {
	DecryptCredentials(secret *types.Secret) (security.Credentials, error)
}

// Deps bundles every collaborator Dispatch needs, built once by the
// worker loop and handed down per job.
type Deps struct {
	Runtime    Runtime
	Supervisor Supervisor
	Artifacts  Artifacts
	Reporter   Reporter
	Volumes    Volumes
	Secrets    Secrets
	SecretRepo registry.SecretStore
}

// Dispatch runs job to completion against the container work its
// JobType names, mutating job.Results in place. It never returns an
// error for expected, job-scoped failures (a bad pull, a nonzero
// exit) -- those are recorded into job.Results.Errors and the job
// still proceeds to report and finish: no error condition prevents a
// claimed job from reaching FINISHED except CAS loss at claim time.
// Dispatch returns an error only for failures
// that escape the job-scoped result record entirely (e.g. the
// supervisor itself panicking or an unrecognized job type), which the
// worker loop captures into job.WorkerError.
func Dispatch(ctx context.Context, d Deps, job *types.Job) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.JobDuration, string(job.JobType))

	switch job.JobType {
	case types.JobTypeEval:
		return runEval(ctx, d, job)
	case types.JobTypeSimBuild:
		return runBuild(ctx, d, job, identity.SimBuildBaseImage, false)
	case types.JobTypeDeepdriveBuild:
		return runBuild(ctx, d, job, identity.DeepdriveBuildBaseImage, true)
	default:
		return fmt.Errorf("executor: unknown job type %q", job.JobType)
	}
}

// runEval implements the EVAL flow.
func runEval(ctx context.Context, d Deps, job *types.Job) error {
	logger := log.WithComponent("executor").With().Str("job_id", job.ID).Logger()

	eval := job.Eval
	if eval == nil {
		return fmt.Errorf("executor: EVAL job %s has no eval_spec", job.ID)
	}

	suffix := ""
	if eval.ProblemDef != nil {
		suffix = eval.ProblemDef.ContainerPostfix
	}
	problemTag := "deepdriveio/deepdrive:problem_" + eval.Problem + suffix
	botTag := eval.DockerTag + suffix

	problemDigest, problemPullErr := pullWithMetrics(ctx, d.Runtime, problemTag)
	if problemPullErr != nil {
		job.Results.Errors["problem_pull"] = problemPullErr.Error()
	}
	botDigest, botPullErr := pullWithMetrics(ctx, d.Runtime, botTag)
	if botPullErr != nil {
		job.Results.Errors["bot_pull"] = botPullErr.Error()
	}

	canRun := problemPullErr == nil && (eval.RunProblemOnly || botPullErr == nil)
	if !canRun {
		logger.Warn().Msg("skipping run phase after image pull failure")
		return reportEval(ctx, d, job)
	}

	resultsDir, err := d.Volumes.Create(eval.EvalID)
	if err != nil {
		return fmt.Errorf("executor: create results mount for %s: %w", eval.EvalID, err)
	}

	problemSpec := types.ContainerSpec{
		Image: problemTag,
		Env:   problemEnv(job, eval),
		Volumes: map[string]types.VolumeBind{
			resultsDir:                {Target: identity.ResultsMountBaseContainer},
			identity.GCPCredsHostPath: {Target: identity.GCPCredsMountPath},
		},
	}
	botSpec := types.ContainerSpec{Image: botTag}

	specs := []types.ContainerSpec{problemSpec}
	if !eval.RunProblemOnly {
		specs = append(specs, botSpec)
	}

	containers, success, err := d.Supervisor.Run(ctx, specs)
	if err != nil {
		return fmt.Errorf("executor: supervise eval containers: %w", err)
	}

	collectContainerOutput(ctx, d, job, containers)

	if success {
		collector.CollectFile(resultsDir, &job.Results)
	}

	if problemDigest != "" {
		job.Results.ProblemDockerDigest = problemDigest
	}
	if botDigest != "" {
		job.Results.BotDockerDigest = botDigest
	}

	archiveImages(ctx, d, eval, job.ID, problemTag, botTag)

	for _, c := range containers {
		metrics.ContainersTotal.WithLabelValues(containerResult(c)).Inc()
	}

	return reportEval(ctx, d, job)
}

// problemEnv builds the problem container's env block.
func problemEnv(job *types.Job, eval *types.EvalSpec) map[string]string {
	env := map[string]string{
		"BOTLEAGUE_EVAL_KEY": eval.EvalKey,
		"BOTLEAGUE_SEED":     strconv.FormatInt(eval.Seed, 10),
		// BOTLEAUGE_PROBLEM preserves the original schema's misspelling.
		"BOTLEAUGE_PROBLEM":              eval.Problem,
		"BOTLEAGUE_RESULT_FILEPATH":      identity.ResultsMountBaseContainer + "/" + collector.ResultsFilename,
		"DEEPDRIVE_UPLOAD":               "1",
		"GOOGLE_APPLICATION_CREDENTIALS": identity.GCPCredsMountPath,
	}
	if simURL := simURLFromRequest(eval.FullEvalRequest); simURL != "" {
		env["SIM_URL"] = simURL
	}
	return env
}

// simURLFromRequest pulls an optional sim_url field out of the
// opaque full_eval_request the coordinator attached, since EvalSpec
// itself has no dedicated field for it.
func simURLFromRequest(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var fields struct {
		SimURL string `json:"sim_url"`
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return ""
	}
	return fields.SimURL
}

// collectContainerOutput runs the common post-setup for every
// finished container: retrieve its complete run-log (the sink never
// discards lines, so a zero `since` fetches everything the supervisor
// ever drained), extract stdout-JSON, and upload the log text.
func collectContainerOutput(ctx context.Context, d Deps, job *types.Job, containers []*types.Container) {
	for _, c := range containers {
		lines, err := d.Runtime.Logs(ctx, c.ID, time.Time{})
		if err != nil {
			job.Results.Errors[c.ID] = "failed to read run log: " + err.Error()
			continue
		}
		runLog := strings.Join(lines, "\n")

		collector.CollectStdout(runLog, &job.Results)

		url, err := d.Artifacts.Upload(ctx, runLog, artifact.LogFilename(c.Image, job.ID))
		if err != nil {
			job.Results.Errors[c.ID] = "failed to upload log: " + err.Error()
		} else {
			job.Results.Logs[c.ID] = url
		}

		if c.Bad() {
			job.Results.Errors[c.ID] = fmt.Sprintf("Container failed with exit code %d", c.ExitCode)
		}
	}
}

// archiveEvalParts derives the <user>/<bot>/<problem_owner>/<problem_name>
// naming components an archive retag needs. EvalSpec carries none of
// these as first-class fields, so they are recovered best-effort from
// the opaque full_eval_request (when the coordinator included them)
// and otherwise from the docker_tag/problem strings themselves.
type archiveFields struct {
	User         string `json:"user"`
	Bot          string `json:"bot"`
	ProblemOwner string `json:"problem_owner"`
	ProblemName  string `json:"problem_name"`
}

func archiveEvalParts(eval *types.EvalSpec) (user, bot, problemOwner, problemName string) {
	var f archiveFields
	if len(eval.FullEvalRequest) > 0 {
		_ = json.Unmarshal(eval.FullEvalRequest, &f)
	}

	user, bot = f.User, f.Bot
	if bot == "" {
		bot = sanitizeArchiveComponent(strings.TrimPrefix(tagSuffix(eval.DockerTag), "bot_"))
	}
	if user == "" {
		user = "unknown"
	}

	problemOwner, problemName = f.ProblemOwner, f.ProblemName
	if problemName == "" {
		problemName = sanitizeArchiveComponent(eval.Problem)
	}
	if problemOwner == "" {
		problemOwner = "deepdriveio"
	}
	return user, bot, problemOwner, problemName
}

func tagSuffix(dockerTag string) string {
	if i := strings.LastIndex(dockerTag, ":"); i >= 0 {
		return dockerTag[i+1:]
	}
	return dockerTag
}

func sanitizeArchiveComponent(s string) string {
	return strings.NewReplacer("/", "_", ":", "_").Replace(s)
}

// archiveImages re-tags and pushes both images to the archive repo
// under a deterministic naming scheme. A tag or push failure is
// logged, not fatal: archival is best-effort and must never block a
// job from finishing.
func archiveImages(ctx context.Context, d Deps, eval *types.EvalSpec, jobID, problemTag, botTag string) {
	user, bot, problemOwner, problemName := archiveEvalParts(eval)

	botArchiveTag := fmt.Sprintf("bot-%s-%s-%s_%s-%s", user, bot, problemOwner, problemName, jobID)
	problemArchiveTag := fmt.Sprintf("problem-%s_%s-%s", problemOwner, problemName, jobID)

	pushTagged(ctx, d, botTag, botArchiveTag)
	pushTagged(ctx, d, problemTag, problemArchiveTag)
}

func pushTagged(ctx context.Context, d Deps, image, newTag string) {
	if _, err := d.Runtime.Tag(ctx, image, identity.ArchiveRepo, newTag); err != nil {
		log.WithComponent("executor").Warn().Err(err).Str("image", image).Msg("archive tag failed")
		return
	}
	if err := d.Runtime.Push(ctx, identity.ArchiveRepo, newTag); err != nil {
		log.WithComponent("executor").Warn().Err(err).Str("tag", newTag).Msg("archive push failed")
	}
}

// reportEval posts the job's accumulated results to its liaison.
func reportEval(ctx context.Context, d Deps, job *types.Job) error {
	if job.BotleagueLiaisonHost == "" {
		return nil
	}
	url := strings.TrimRight(job.BotleagueLiaisonHost, "/") + "/results"
	body := map[string]interface{}{
		"eval_key": job.Eval.EvalKey,
		"results":  job.Results,
	}
	if _, err := d.Reporter.Post(ctx, url, body); err != nil {
		return fmt.Errorf("executor: report eval results: %w", err)
	}
	return nil
}

// runBuild implements the SIM_BUILD/DEEPDRIVE_BUILD flow: pull a
// fixed base image, decrypt build credentials, run one container
// carrying the commit/branch/credential env, and for DEEPDRIVE_BUILD
// additionally mount the host's container-control socket for the
// Docker-in-Docker build step.
func runBuild(ctx context.Context, d Deps, job *types.Job, baseImage string, dockerInDocker bool) error {
	build := job.Build
	if build == nil {
		return fmt.Errorf("executor: %s job %s has no build_spec", job.JobType, job.ID)
	}

	digest, err := pullWithMetrics(ctx, d.Runtime, baseImage)
	if err != nil {
		job.Results.Errors["base_pull"] = err.Error()
		return nil
	}
	job.Results.SimBaseDockerDigest = digest

	secret, err := d.SecretRepo.Get(ctx, string(job.JobType))
	if err != nil {
		job.Results.Errors["credentials"] = "no credentials found for " + string(job.JobType) + ": " + err.Error()
		return nil
	}
	creds, err := d.Secrets.DecryptCredentials(secret)
	if err != nil {
		job.Results.Errors["credentials"] = "failed to decrypt credentials: " + err.Error()
		return nil
	}

	env := creds.AsEnv()
	env["DEEPDRIVE_COMMIT"] = build.Commit
	env["DEEPDRIVE_BRANCH"] = build.Branch
	if dockerInDocker {
		env["IS_DEEPDRIVE_BUILD"] = "1"
	} else {
		env["IS_DEEPDRIVE_SIM_BUILD"] = "1"
	}

	spec := types.ContainerSpec{Image: baseImage, Env: env}
	if dockerInDocker {
		spec.RunOptions.ExtraBinds = []types.VolumeBind{
			{Target: identity.ContainerdSocketPath},
		}
	}

	containers, _, err := d.Supervisor.Run(ctx, []types.ContainerSpec{spec})
	if err != nil {
		return fmt.Errorf("executor: supervise build container: %w", err)
	}

	collectContainerOutput(ctx, d, job, containers)
	for _, c := range containers {
		metrics.ContainersTotal.WithLabelValues(containerResult(c)).Inc()
	}

	return nil
}

func pullWithMetrics(ctx context.Context, rt Runtime, imageRef string) (string, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PullDuration)
	return rt.PullDigest(ctx, imageRef)
}

func containerResult(c *types.Container) string {
	if c.Bad() {
		return "failed"
	}
	return "success"
}
