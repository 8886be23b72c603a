// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/ai4up/slurm-pipeline/internal/workpkg"
	"github.com/ai4up/slurm-pipeline/pkg/config"
)

// cliState is the small JSON state file persisted at stateFilePath,
// tracking the most recently started run so later commands (abort,
// status, squeue, stdout --control) know what to act on.
type cliState struct {
	Config  string `json:"config"`
	JobID   string `json:"job_id"`
	Account string `json:"account"`
	Stdout  string `json:"stdout"`
	Stderr  string `json:"stderr"`
}

func stateFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".slurm-pipeline")
}

func persistCLIState(s cliState) error {
	data, err := json.MarshalIndent(s, "", "    ")
	if err != nil {
		return fmt.Errorf("encode cli state: %w", err)
	}
	data = append(data, '\n')
	return os.WriteFile(stateFilePath(), data, 0o644)
}

func loadCLIState() (cliState, error) {
	var s cliState
	data, err := os.ReadFile(stateFilePath())
	if err != nil {
		return s, fmt.Errorf("no active run: %w", err)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("malformed cli state file %s: %w", stateFilePath(), err)
	}
	return s, nil
}

// loadConfigFromState loads the job-configuration file the active run was
// started with.
func loadConfigFromState() (*config.Config, error) {
	s, err := loadCLIState()
	if err != nil {
		return nil, err
	}
	return config.Load(s.Config)
}

// workState maps each job name to its most recently written work.json
// records, per §6.2's per-run directory layout.
type workState map[string][]workpkg.Record

func loadWorkState() (workState, error) {
	cfg, err := loadConfigFromState()
	if err != nil {
		return nil, err
	}

	state := workState{}
	for _, job := range cfg.Jobs {
		dir, err := newestJobFolder(job.LogDir, job.Name)
		if err != nil {
			return nil, fmt.Errorf("no run directory found for job %s: %w", job.Name, err)
		}

		var records []workpkg.Record
		if err := readJSONFile(filepath.Join(dir, "work.json"), &records); err != nil {
			return nil, err
		}
		state[job.Name] = records
	}
	return state, nil
}

// newestJobFolder returns the most recently modified <job_name>-* run
// directory under base.
func newestJobFolder(base, jobName string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(base, jobName+"-*"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no directories matching %s-* under %s", jobName, base)
	}

	sort.Slice(matches, func(i, j int) bool {
		fi, _ := os.Stat(matches[i])
		fj, _ := os.Stat(matches[j])
		return fi.ModTime().Before(fj.ModTime())
	})
	return matches[len(matches)-1], nil
}

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func pendingOf(records []workpkg.Record) []workpkg.Record   { return filterRecords(records, "PENDING") }
func succeededOf(records []workpkg.Record) []workpkg.Record { return filterRecords(records, "SUCCEEDED") }
func failedOf(records []workpkg.Record) []workpkg.Record    { return filterRecords(records, "FAILED") }

func filterRecords(records []workpkg.Record, status string) []workpkg.Record {
	var out []workpkg.Record
	for _, r := range records {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out
}
