// Package pipeline executes the jobs declared in ltxkit.yaml: parallel
// isolated jobs, each running its steps sequentially and stopping at the
// first failure.
package pipeline

import (
	"context"
	goerrors "errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/litetx/ltxkit/pkg/artifact"
	"github.com/litetx/ltxkit/pkg/cache"
	"github.com/litetx/ltxkit/pkg/config"
	"github.com/litetx/ltxkit/pkg/errors"
	"github.com/litetx/ltxkit/pkg/util/console"
	"github.com/litetx/ltxkit/pkg/util/files"
)

// JobError reports a step failure in a named job, carrying the exit code of
// the failed command.
type JobError struct {
	Job      string
	Step     string
	ExitCode int
	Err      error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job %q failed at %q: %s", e.Job, e.Step, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// ExitCode maps a pipeline error to a process exit code. Step failures
// propagate the command's own exit code; everything else is 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var jobErr *JobError
	if goerrors.As(err, &jobErr) && jobErr.ExitCode > 0 {
		return jobErr.ExitCode
	}
	return 1
}

type Runner struct {
	config     *config.Config
	projectDir string
	store      cache.Store
	client     *http.Client
}

// NewRunner builds a runner for the given project. store may be nil to
// disable dependency caching, client may be nil to use http.DefaultClient.
func NewRunner(cfg *config.Config, projectDir string, store cache.Store, client *http.Client) *Runner {
	if client == nil {
		client = http.DefaultClient
	}
	return &Runner{
		config:     cfg,
		projectDir: projectDir,
		store:      store,
		client:     client,
	}
}

// Run executes the named jobs in parallel, or every configured job when no
// names are given. A failing job does not interrupt its siblings; Run returns
// the first failure after all jobs have finished.
func (r *Runner) Run(ctx context.Context, jobNames ...string) error {
	if len(jobNames) == 0 {
		jobNames = r.config.JobNames()
	}
	for _, name := range jobNames {
		if _, ok := r.config.Jobs[name]; !ok {
			return fmt.Errorf("no such job: %q (have %s)", name, strings.Join(r.config.JobNames(), ", "))
		}
	}
	sort.Strings(jobNames)

	var group errgroup.Group
	for _, name := range jobNames {
		name := name
		group.Go(func() error {
			return r.runJob(ctx, name, r.config.Jobs[name])
		})
	}
	return group.Wait()
}

func (r *Runner) runJob(ctx context.Context, name string, job *config.Job) error {
	console.Infof("Starting job %s", name)

	scratchDir, err := os.MkdirTemp("", "ltxkit-"+name+"-")
	if err != nil {
		return &JobError{Job: name, Step: "checkout", Err: err}
	}
	defer os.RemoveAll(scratchDir)

	// Seed an isolated working copy so concurrent jobs never trample the
	// project tree or each other.
	if err := files.CopyDir(r.projectDir, scratchDir, ".git"); err != nil {
		return &JobError{Job: name, Step: "checkout", Err: err}
	}

	env := r.jobEnv(job)
	if job.Artifact != nil {
		a, err := artifact.FromConfig(job.Artifact)
		if err != nil {
			return &JobError{Job: name, Step: "install " + job.Artifact.Name, Err: err}
		}
		if err := artifact.Install(ctx, r.client, a); err != nil {
			return &JobError{Job: name, Step: "install " + a.Name, Err: err}
		}
		prefix := artifact.EnvPrefix(a.Name)
		env[prefix+"_BIN"] = a.Path
		env[prefix+"_VERSION"] = a.Version
	}

	cacheKey, err := r.restoreCache(ctx, name, scratchDir)
	if err != nil {
		return &JobError{Job: name, Step: "restore cache", Err: err}
	}

	for _, step := range job.Steps {
		if err := r.runStep(ctx, name, scratchDir, env, step); err != nil {
			return err
		}
	}

	if err := r.saveCache(ctx, name, scratchDir, cacheKey); err != nil {
		return &JobError{Job: name, Step: "save cache", Err: err}
	}

	console.Infof("Job %s passed", name)
	return nil
}

func (r *Runner) runStep(ctx context.Context, jobName string, dir string, jobEnv map[string]string, step config.Step) error {
	console.Infof("[%s] Running %s", jobName, step.Name)

	cmd := exec.CommandContext(ctx, "sh", "-c", step.Run)
	cmd.Dir = dir
	cmd.Env = mergeEnv(jobEnv, step.Env)
	console.Debug("$ " + strings.Join(cmd.Args, " "))

	stdout := newPrefixWriter(os.Stdout, jobName)
	stderr := newPrefixWriter(os.Stderr, jobName)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	err := cmd.Run()
	if ferr := stdout.Flush(); ferr != nil {
		console.Warnf("[%s] Failed to flush step output: %s", jobName, ferr)
	}
	if ferr := stderr.Flush(); ferr != nil {
		console.Warnf("[%s] Failed to flush step output: %s", jobName, ferr)
	}
	if err != nil {
		jobErr := &JobError{Job: jobName, Step: step.Name, Err: err}
		var exitErr *exec.ExitError
		if goerrors.As(err, &exitErr) {
			jobErr.ExitCode = exitErr.ExitCode()
		}
		return jobErr
	}
	return nil
}

// jobEnv merges the pipeline environment: process env, then top-level config
// env, then job env. Step env is layered on top in runStep.
func (r *Runner) jobEnv(job *config.Job) map[string]string {
	env := map[string]string{}
	for k, v := range r.config.Env {
		env[k] = v
	}
	for k, v := range job.Env {
		env[k] = v
	}
	return env
}

func mergeEnv(jobEnv map[string]string, stepEnv map[string]string) []string {
	merged := os.Environ()
	for k, v := range jobEnv {
		if _, ok := stepEnv[k]; ok {
			continue
		}
		merged = append(merged, k+"="+v)
	}
	for k, v := range stepEnv {
		merged = append(merged, k+"="+v)
	}
	return merged
}

// restoreCache extracts a previous dependency cache into the scratch dir,
// returning the key to save under after the job succeeds.
func (r *Runner) restoreCache(ctx context.Context, jobName string, scratchDir string) (string, error) {
	if r.store == nil || r.config.Cache == nil {
		return "", nil
	}
	key, err := cache.Key(r.config.Cache.Prefix, r.projectDir, r.config.Cache.Files)
	if err != nil {
		return "", err
	}
	err = r.store.Restore(ctx, key, filepath.Join(scratchDir, r.config.Cache.Path))
	switch {
	case errors.IsCacheMiss(err):
		console.Debugf("[%s] %s", jobName, err)
	case err != nil:
		return "", err
	default:
		console.Infof("[%s] Restored cache %s", jobName, key)
	}
	return key, nil
}

// saveCache is only reached after every step succeeded, so failed jobs never
// poison the cache.
func (r *Runner) saveCache(ctx context.Context, jobName string, scratchDir string, key string) error {
	if r.store == nil || r.config.Cache == nil || key == "" {
		return nil
	}
	cacheDir := filepath.Join(scratchDir, r.config.Cache.Path)
	if ok, err := files.IsDir(cacheDir); err != nil || !ok {
		return err
	}
	if err := r.store.Save(ctx, key, cacheDir); err != nil {
		return err
	}
	console.Infof("[%s] Saved cache %s", jobName, key)
	return nil
}
