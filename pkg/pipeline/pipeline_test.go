package pipeline

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/require"

	"github.com/litetx/ltxkit/pkg/cache"
	"github.com/litetx/ltxkit/pkg/config"
	"github.com/litetx/ltxkit/pkg/errors"
)

// newProject writes a project tree containing the given files and returns its
// directory.
func newProject(t *testing.T, contents map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, data := range contents {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	}
	return dir
}

func newConfig(t *testing.T, jobs map[string]*config.Job) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Jobs = jobs
	require.NoError(t, cfg.ValidateAndComplete())
	return cfg
}

func TestRunExecutesAllJobs(t *testing.T) {
	projectDir := newProject(t, nil)
	outDir := t.TempDir()

	cfg := newConfig(t, map[string]*config.Job{
		"lint": {Steps: []config.Step{{Run: `echo lint > "$OUT/lint"`}}},
		"unit": {Steps: []config.Step{{Run: `echo unit > "$OUT/unit"`}}},
	})
	cfg.Env = map[string]string{"OUT": outDir}

	runner := NewRunner(cfg, projectDir, nil, nil)
	require.NoError(t, runner.Run(t.Context()))

	require.FileExists(t, filepath.Join(outDir, "lint"))
	require.FileExists(t, filepath.Join(outDir, "unit"))
}

func TestRunUnknownJob(t *testing.T) {
	cfg := newConfig(t, map[string]*config.Job{
		"unit": {Steps: []config.Step{{Run: "true"}}},
	})
	runner := NewRunner(cfg, newProject(t, nil), nil, nil)
	require.ErrorContains(t, runner.Run(t.Context(), "nope"), `no such job: "nope"`)
}

func TestRunJobsAreIsolated(t *testing.T) {
	projectDir := newProject(t, map[string]string{"input.txt": "from the project\n"})
	outDir := t.TempDir()

	cfg := newConfig(t, map[string]*config.Job{
		"unit": {Steps: []config.Step{
			// The working copy is seeded from the project tree.
			{Run: `cp input.txt "$OUT/copied"`},
			// New files stay in the working copy.
			{Run: "touch created.txt"},
		}},
	})
	cfg.Env = map[string]string{"OUT": outDir}

	runner := NewRunner(cfg, projectDir, nil, nil)
	require.NoError(t, runner.Run(t.Context()))

	copied, err := os.ReadFile(filepath.Join(outDir, "copied"))
	require.NoError(t, err)
	require.Equal(t, "from the project\n", string(copied))
	require.NoFileExists(t, filepath.Join(projectDir, "created.txt"))
}

func TestRunStepsShortCircuit(t *testing.T) {
	outDir := t.TempDir()
	cfg := newConfig(t, map[string]*config.Job{
		"unit": {Steps: []config.Step{
			{Name: "fail", Run: "exit 3"},
			{Name: "after", Run: `touch "$OUT/after"`},
		}},
	})
	cfg.Env = map[string]string{"OUT": outDir}

	runner := NewRunner(cfg, newProject(t, nil), nil, nil)
	err := runner.Run(t.Context())
	require.Error(t, err)

	var jobErr *JobError
	require.ErrorAs(t, err, &jobErr)
	require.Equal(t, "unit", jobErr.Job)
	require.Equal(t, "fail", jobErr.Step)
	require.Equal(t, 3, jobErr.ExitCode)
	require.Equal(t, 3, ExitCode(err))
	require.NoFileExists(t, filepath.Join(outDir, "after"))
}

func TestRunFailingJobDoesNotStopSiblings(t *testing.T) {
	outDir := t.TempDir()
	cfg := newConfig(t, map[string]*config.Job{
		"bad":  {Steps: []config.Step{{Run: "exit 1"}}},
		"good": {Steps: []config.Step{{Run: `sleep 0.1 && touch "$OUT/good"`}}},
	})
	cfg.Env = map[string]string{"OUT": outDir}

	runner := NewRunner(cfg, newProject(t, nil), nil, nil)
	require.Error(t, runner.Run(t.Context()))
	require.FileExists(t, filepath.Join(outDir, "good"))
}

func TestRunEnvPrecedence(t *testing.T) {
	outDir := t.TempDir()
	cfg := newConfig(t, map[string]*config.Job{
		"unit": {
			Env: map[string]string{"WHO": "job"},
			Steps: []config.Step{
				{Run: `echo "$WHO" > "$OUT/job"`},
				{Env: map[string]string{"WHO": "step"}, Run: `echo "$WHO" > "$OUT/step"`},
			},
		},
	})
	cfg.Env = map[string]string{"OUT": outDir, "WHO": "global"}

	runner := NewRunner(cfg, newProject(t, nil), nil, nil)
	require.NoError(t, runner.Run(t.Context()))

	jobVal, err := os.ReadFile(filepath.Join(outDir, "job"))
	require.NoError(t, err)
	require.Equal(t, "job\n", string(jobVal))

	stepVal, err := os.ReadFile(filepath.Join(outDir, "step"))
	require.NoError(t, err)
	require.Equal(t, "step\n", string(stepVal))
}

func TestRunInstallsArtifactBeforeSteps(t *testing.T) {
	var buf bytes.Buffer
	gzw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gzw)
	script := "#!/bin/sh\necho from-artifact\n"
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name:     "ltx",
		Typeflag: tar.TypeReg,
		Mode:     0o755,
		Size:     int64(len(script)),
	}))
	_, err := tw.Write([]byte(script))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gzw.Close())

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(buf.Bytes())
	}))
	defer server.Close()

	outDir := t.TempDir()
	cfg := newConfig(t, map[string]*config.Job{
		"integration": {
			Artifact: &config.Artifact{
				Name:    "ltx",
				URL:     server.URL + "/{version}/{os}/{arch}/ltx.tar.gz",
				Version: "0.5.0",
				Path:    filepath.Join(t.TempDir(), "bin", "ltx"),
			},
			// The binary is installed and exported before the step runs.
			Steps: []config.Step{{Run: `"$LTX_BIN" > "$OUT/artifact-out" && echo "$LTX_VERSION" > "$OUT/artifact-version"`}},
		},
	})
	cfg.Env = map[string]string{"OUT": outDir}

	runner := NewRunner(cfg, newProject(t, nil), nil, server.Client())
	require.NoError(t, runner.Run(t.Context()))

	out, err := os.ReadFile(filepath.Join(outDir, "artifact-out"))
	require.NoError(t, err)
	require.Equal(t, "from-artifact\n", string(out))

	ver, err := os.ReadFile(filepath.Join(outDir, "artifact-version"))
	require.NoError(t, err)
	require.Equal(t, "0.5.0\n", string(ver))
}

func TestRunExpandsArtifactHomePath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	homedir.Reset()
	t.Cleanup(homedir.Reset)

	var buf bytes.Buffer
	gzw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gzw)
	script := "#!/bin/sh\necho from-home-artifact\n"
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name:     "ltx",
		Typeflag: tar.TypeReg,
		Mode:     0o755,
		Size:     int64(len(script)),
	}))
	_, err := tw.Write([]byte(script))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gzw.Close())

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(buf.Bytes())
	}))
	defer server.Close()

	outDir := t.TempDir()
	cfg := newConfig(t, map[string]*config.Job{
		"integration": {
			Artifact: &config.Artifact{
				Name:    "ltx",
				URL:     server.URL + "/{version}/{os}/{arch}/ltx.tar.gz",
				Version: "0.5.0",
				Path:    "~/bin/ltx",
			},
			// The exported variable must hold the expanded install path, since
			// the shell does not expand a tilde inside quotes.
			Steps: []config.Step{{Run: `"$LTX_BIN" > "$OUT/home-artifact-out"`}},
		},
	})
	cfg.Env = map[string]string{"OUT": outDir}

	runner := NewRunner(cfg, newProject(t, nil), nil, server.Client())
	require.NoError(t, runner.Run(t.Context()))

	require.FileExists(t, filepath.Join(home, "bin", "ltx"))
	out, err := os.ReadFile(filepath.Join(outDir, "home-artifact-out"))
	require.NoError(t, err)
	require.Equal(t, "from-home-artifact\n", string(out))
}

func TestRunCacheRoundTrip(t *testing.T) {
	projectDir := newProject(t, map[string]string{"Cargo.lock": "deps v1\n"})
	store, err := cache.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	cfg := newConfig(t, map[string]*config.Job{
		"unit": {Steps: []config.Step{{Run: "mkdir -p target && echo built > target/dep"}}},
	})
	cfg.Cache = &config.Cache{Prefix: "deps", Files: []string{"Cargo.lock"}, Path: "target"}
	require.NoError(t, cfg.ValidateAndComplete())

	runner := NewRunner(cfg, projectDir, store, nil)
	require.NoError(t, runner.Run(t.Context()))

	// A second run against the same lockfile starts from the saved cache.
	cfg2 := newConfig(t, map[string]*config.Job{
		"unit": {Steps: []config.Step{{Run: `test "$(cat target/dep)" = built`}}},
	})
	cfg2.Cache = cfg.Cache

	runner2 := NewRunner(cfg2, projectDir, store, nil)
	require.NoError(t, runner2.Run(t.Context()))
}

func TestRunFailedJobDoesNotSaveCache(t *testing.T) {
	projectDir := newProject(t, map[string]string{"Cargo.lock": "deps v1\n"})
	store, err := cache.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	cfg := newConfig(t, map[string]*config.Job{
		"unit": {Steps: []config.Step{
			{Run: "mkdir -p target && echo poisoned > target/dep"},
			{Run: "exit 1"},
		}},
	})
	cfg.Cache = &config.Cache{Prefix: "deps", Files: []string{"Cargo.lock"}, Path: "target"}

	runner := NewRunner(cfg, projectDir, store, nil)
	require.Error(t, runner.Run(t.Context()))

	key, err := cache.Key("deps", projectDir, []string{"Cargo.lock"})
	require.NoError(t, err)
	err = store.Restore(t.Context(), key, filepath.Join(t.TempDir(), "target"))
	require.True(t, errors.IsCacheMiss(err))
}

func TestPrefixWriter(t *testing.T) {
	var out bytes.Buffer
	w := newPrefixWriter(&out, "unit")

	_, err := w.Write([]byte("one\ntwo\npart"))
	require.NoError(t, err)
	_, err = w.Write([]byte("ial\n"))
	require.NoError(t, err)
	_, err = w.Write([]byte("tail"))
	require.NoError(t, err)
	require.NoError(t, w.Flush())

	require.Equal(t, "[unit] one\n[unit] two\n[unit] partial\n[unit] tail\n", out.String())
}
