package config

import (
	"fmt"
	"sort"

	"github.com/hashicorp/go-version"
	"gopkg.in/yaml.v2"
)

// PullRequestTypes are the pull-request events a pipeline may be triggered by.
var PullRequestTypes = []string{"opened", "synchronize", "reopened"}

type PushTrigger struct {
	Branches []string `json:"branches,omitempty" yaml:"branches"`
}

type PullRequestTrigger struct {
	Types []string `json:"types,omitempty" yaml:"types"`
}

type Triggers struct {
	Push        *PushTrigger        `json:"push,omitempty" yaml:"push"`
	PullRequest *PullRequestTrigger `json:"pull_request,omitempty" yaml:"pull_request"`
}

// Artifact declares an external binary release a job depends on. The URL is a
// template expanding {version}, {os} and {arch}.
type Artifact struct {
	Name    string `json:"name,omitempty" yaml:"name"`
	URL     string `json:"url,omitempty" yaml:"url"`
	Version string `json:"version,omitempty" yaml:"version"`
	Path    string `json:"path,omitempty" yaml:"path"`
}

type Step struct {
	Name string            `json:"name,omitempty" yaml:"name"`
	Run  string            `json:"run,omitempty" yaml:"run"`
	Env  map[string]string `json:"env,omitempty" yaml:"env"`
}

type Job struct {
	Artifact *Artifact         `json:"artifact,omitempty" yaml:"artifact"`
	Env      map[string]string `json:"env,omitempty" yaml:"env"`
	Steps    []Step            `json:"steps,omitempty" yaml:"steps"`
}

type Cache struct {
	Prefix string   `json:"prefix,omitempty" yaml:"prefix"`
	Files  []string `json:"files,omitempty" yaml:"files"`
	Path   string   `json:"path,omitempty" yaml:"path"`
}

type Config struct {
	Triggers *Triggers         `json:"triggers,omitempty" yaml:"triggers"`
	Env      map[string]string `json:"env,omitempty" yaml:"env"`
	Cache    *Cache            `json:"cache,omitempty" yaml:"cache"`
	Jobs     map[string]*Job   `json:"jobs" yaml:"jobs"`
}

func DefaultConfig() *Config {
	return &Config{
		Triggers: &Triggers{
			Push:        &PushTrigger{Branches: []string{"main"}},
			PullRequest: &PullRequestTrigger{Types: PullRequestTypes},
		},
	}
}

func FromYAML(contents []byte) (*Config, error) {
	config := DefaultConfig()
	if err := yaml.UnmarshalStrict(contents, config); err != nil {
		return nil, fmt.Errorf("Failed to parse config: %w", err)
	}
	return config, nil
}

// JobNames returns the configured job names in a stable order.
func (c *Config) JobNames() []string {
	names := make([]string, 0, len(c.Jobs))
	for name := range c.Jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateAndComplete fills in defaults and rejects configs the runner can't
// execute.
func (c *Config) ValidateAndComplete() error {
	if c.Triggers == nil {
		c.Triggers = DefaultConfig().Triggers
	}
	if c.Triggers.Push != nil && len(c.Triggers.Push.Branches) == 0 {
		c.Triggers.Push.Branches = []string{"main"}
	}
	if c.Triggers.PullRequest != nil {
		if len(c.Triggers.PullRequest.Types) == 0 {
			c.Triggers.PullRequest.Types = PullRequestTypes
		}
		for _, typ := range c.Triggers.PullRequest.Types {
			if !containsString(PullRequestTypes, typ) {
				return fmt.Errorf("unknown pull_request trigger type: %q", typ)
			}
		}
	}

	if len(c.Jobs) == 0 {
		return fmt.Errorf("at least one job must be defined")
	}
	for name, job := range c.Jobs {
		if job == nil || len(job.Steps) == 0 {
			return fmt.Errorf("job %q has no steps", name)
		}
		for i, step := range job.Steps {
			if step.Run == "" {
				return fmt.Errorf("job %q step %d has no run command", name, i+1)
			}
			if job.Steps[i].Name == "" {
				job.Steps[i].Name = fmt.Sprintf("step-%d", i+1)
			}
		}
		if job.Artifact != nil {
			if err := job.Artifact.Validate(); err != nil {
				return fmt.Errorf("job %q: %w", name, err)
			}
		}
	}

	if c.Cache != nil {
		if len(c.Cache.Files) == 0 {
			return fmt.Errorf("cache requires at least one lockfile")
		}
		if c.Cache.Prefix == "" {
			c.Cache.Prefix = "deps"
		}
		if c.Cache.Path == "" {
			c.Cache.Path = "target"
		}
	}

	return nil
}

func (a *Artifact) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("artifact requires a name")
	}
	if a.URL == "" {
		return fmt.Errorf("artifact %q requires a url", a.Name)
	}
	if a.Path == "" {
		return fmt.Errorf("artifact %q requires an install path", a.Name)
	}
	if _, err := version.NewVersion(a.Version); err != nil {
		return fmt.Errorf("artifact %q has an invalid version pin %q: %w", a.Name, a.Version, err)
	}
	return nil
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
