// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package config loads and validates the YAML job-configuration file that
// describes the jobs a pipeline run drives to completion.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	pipelineerrors "github.com/ai4up/slurm-pipeline/pkg/errors"
)

const (
	DefaultPollInterval               = 30
	DefaultExpBackoffFactor           = 4
	DefaultMaxRetries                 = 3
	DefaultFailureThreshold           = 0.25
	DefaultFailureThresholdActivation = 50
	DefaultKeepWorkDir                = false
	DefaultLogLevel                   = "INFO"

	minPollInterval = 10
	maxPollInterval = 3600
)

// Resources is a declarative resource request. Mem/Time/Partition are
// optional; zero values mean "let the cluster adapter decide".
type Resources struct {
	CPUs      int    `yaml:"cpus"`
	Mem       int    `yaml:"mem"`
	Time      string `yaml:"time"`
	Partition string `yaml:"partition"`
}

// FileRule bounds a special case to files whose resolved size falls in
// [SizeMin, SizeMax].
type FileRule struct {
	Path    string `yaml:"path"`
	SizeMin int64  `yaml:"size_min"`
	SizeMax int64  `yaml:"size_max"`
}

// SpecialCase overrides the default resource request when its Files rule
// matches a work package's resolved parameters.
type SpecialCase struct {
	Name      string    `yaml:"name"`
	Resources Resources `yaml:"resources"`
	Files     FileRule  `yaml:"files"`
}

// Slack holds the chat-notification sink's credentials.
type Slack struct {
	Channel string `yaml:"channel"`
	Token   string `yaml:"token"`
}

// Properties are settings merged from the top-level document down into
// each job, with the job's own properties taking precedence.
type Properties struct {
	CondaEnv                   string  `yaml:"conda_env"`
	Account                    string  `yaml:"account"`
	LogLevel                   string  `yaml:"log_level"`
	KeepWorkDir                bool    `yaml:"keep_work_dir"`
	MaxRetries                 int     `yaml:"max_retries"`
	PollInterval               int     `yaml:"poll_interval"`
	ExpBackoffFactor           int     `yaml:"exp_backoff_factor"`
	FailureThreshold           float64 `yaml:"failure_threshold"`
	FailureThresholdActivation int     `yaml:"failure_threshold_activation"`
	Slack                      Slack   `yaml:"slack"`
}

// Job is one job entry: a script plus the parameter bundles to run it
// against.
type Job struct {
	Name               string        `yaml:"name"`
	Script             string        `yaml:"script"`
	ParamFiles         []string      `yaml:"param_files"`
	ParamGeneratorFile string        `yaml:"param_generator_file"`
	N                  *int          `yaml:"n"`
	LogDir             string        `yaml:"log_dir"`
	Resources          Resources     `yaml:"resources"`
	SpecialCases       []SpecialCase `yaml:"special_cases"`
	Properties         Properties    `yaml:"properties"`
}

// Config is the validated, defaults-merged job-configuration document.
type Config struct {
	Jobs       []Job      `yaml:"jobs"`
	Properties Properties `yaml:"properties"`
}

// Load reads, validates and defaults-merges the job-configuration file at
// path: parse, then fill defaults, then push the merged properties down
// into every job, then validate the merged result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, pipelineerrors.NewConfigError(pipelineerrors.ErrorCodeInvalidValue, fmt.Sprintf("cannot read config %s", path), path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, pipelineerrors.NewConfigError(pipelineerrors.ErrorCodeInvalidValue, fmt.Sprintf("error loading config %s", path), path, err)
	}

	setDefaults(&cfg)
	mergeDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks structural requirements that a YAML schema would
// otherwise enforce: required fields, the param_files/param_generator_file
// XOR, a conda_env available globally or per-job, and bounded tuning
// knobs.
func (c *Config) Validate() error {
	if len(c.Jobs) == 0 {
		return pipelineerrors.NewConfigError(pipelineerrors.ErrorCodeMissingField, "at least one job is required", "jobs", nil)
	}

	for _, job := range c.Jobs {
		if job.Name == "" {
			return pipelineerrors.NewConfigError(pipelineerrors.ErrorCodeMissingField, "job name is required", "name", nil)
		}
		if job.Script == "" {
			return pipelineerrors.NewConfigError(pipelineerrors.ErrorCodeMissingField, fmt.Sprintf("script is required for job %s", job.Name), "script", nil)
		}
		if job.LogDir == "" {
			return pipelineerrors.NewConfigError(pipelineerrors.ErrorCodeMissingField, fmt.Sprintf("log_dir is required for job %s", job.Name), "log_dir", nil)
		}
		if job.Resources.CPUs <= 0 {
			return pipelineerrors.NewConfigError(pipelineerrors.ErrorCodeMissingField, fmt.Sprintf("resources.cpus is required for job %s", job.Name), "resources.cpus", nil)
		}

		hasParamFiles := len(job.ParamFiles) > 0
		hasGenerator := job.ParamGeneratorFile != ""
		if hasParamFiles == hasGenerator {
			return pipelineerrors.NewConfigError(pipelineerrors.ErrorCodeMutuallyExclusive,
				fmt.Sprintf("either param_files or param_generator_file must be specified for job %s", job.Name), "param_files", nil)
		}

		if job.Properties.CondaEnv == "" {
			return pipelineerrors.NewConfigError(pipelineerrors.ErrorCodeMissingCondaEnv,
				fmt.Sprintf("conda_env must be specified either globally or for job %s", job.Name), "conda_env", nil)
		}

		pi := job.Properties.PollInterval
		if pi < minPollInterval || pi > maxPollInterval {
			return pipelineerrors.NewConfigError(pipelineerrors.ErrorCodeInvalidValue,
				fmt.Sprintf("poll_interval must be between %d and %d seconds for job %s", minPollInterval, maxPollInterval, job.Name), "poll_interval", nil)
		}

		ft := job.Properties.FailureThreshold
		if ft < 0.0 || ft > 1.0 {
			return pipelineerrors.NewConfigError(pipelineerrors.ErrorCodeInvalidValue,
				fmt.Sprintf("failure_threshold must be between 0.0 and 1.0 for job %s", job.Name), "failure_threshold", nil)
		}
	}

	return nil
}

// JobByName returns the job entry with the given name.
func (c *Config) JobByName(name string) (*Job, bool) {
	for i := range c.Jobs {
		if c.Jobs[i].Name == name {
			return &c.Jobs[i], true
		}
	}
	return nil, false
}

func setDefaults(c *Config) {
	applyPropertyDefaults(&c.Properties)

	for i := range c.Jobs {
		if c.Jobs[i].N == nil {
			// leave nil: "process all parameter combinations"
		}
	}
}

func applyPropertyDefaults(p *Properties) {
	if p.LogLevel == "" {
		p.LogLevel = DefaultLogLevel
	}
	if p.MaxRetries == 0 {
		p.MaxRetries = DefaultMaxRetries
	}
	if p.PollInterval == 0 {
		p.PollInterval = DefaultPollInterval
	}
	if p.ExpBackoffFactor == 0 {
		p.ExpBackoffFactor = DefaultExpBackoffFactor
	}
	if p.FailureThreshold == 0 {
		p.FailureThreshold = DefaultFailureThreshold
	}
	if p.FailureThresholdActivation == 0 {
		p.FailureThresholdActivation = DefaultFailureThresholdActivation
	}
}

// mergeDefaults pushes the top-level properties into every job, letting
// each job's own properties win field-by-field.
func mergeDefaults(c *Config) {
	for i := range c.Jobs {
		merged := c.Properties
		jp := c.Jobs[i].Properties

		if jp.CondaEnv != "" {
			merged.CondaEnv = jp.CondaEnv
		}
		if jp.Account != "" {
			merged.Account = jp.Account
		}
		if jp.LogLevel != "" {
			merged.LogLevel = jp.LogLevel
		}
		if jp.MaxRetries != 0 {
			merged.MaxRetries = jp.MaxRetries
		}
		if jp.PollInterval != 0 {
			merged.PollInterval = jp.PollInterval
		}
		if jp.ExpBackoffFactor != 0 {
			merged.ExpBackoffFactor = jp.ExpBackoffFactor
		}
		if jp.FailureThreshold != 0 {
			merged.FailureThreshold = jp.FailureThreshold
		}
		if jp.FailureThresholdActivation != 0 {
			merged.FailureThresholdActivation = jp.FailureThresholdActivation
		}
		if jp.Slack.Channel != "" {
			merged.Slack.Channel = jp.Slack.Channel
		}
		if jp.Slack.Token != "" {
			merged.Slack.Token = jp.Slack.Token
		}
		merged.KeepWorkDir = jp.KeepWorkDir || c.Properties.KeepWorkDir

		c.Jobs[i].Properties = merged
	}
}
