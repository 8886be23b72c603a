// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package persistence owns the per-run directory layout the Scheduler
// writes its durable JSON snapshots into: work.json, succeeded-work.json,
// failed-work.json, workdir/<uuid>-workfile.json and task-logs/. Every
// write goes to a temporary file first and is renamed into place so a
// reader never observes a partially written snapshot.
package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/ai4up/slurm-pipeline/internal/workpkg"
)

// Run owns one job run's on-disk layout, rooted at
// <log_dir>/<job-name>-<timestamp>/.
type Run struct {
	Dir        string
	WorkDir    string
	TaskLogDir string
}

// NewRun creates the directory tree for a fresh run and returns the
// handle used for every subsequent persistence call.
func NewRun(baseLogDir, jobName string, start time.Time) (*Run, error) {
	dirName := fmt.Sprintf("%s-%s", jobName, start.Format("2006-01-02--15-04-05"))
	dir := filepath.Join(baseLogDir, dirName)
	r := &Run{
		Dir:        dir,
		WorkDir:    filepath.Join(dir, "workdir"),
		TaskLogDir: filepath.Join(dir, "task-logs"),
	}

	for _, d := range []string{r.Dir, r.WorkDir, r.TaskLogDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("create run directory %s: %w", d, err)
		}
	}

	return r, nil
}

// WriteWork persists the full work-package snapshot to work.json.
func (r *Run) WriteWork(records []workpkg.Record) error {
	return r.writeJSON(filepath.Join(r.Dir, "work.json"), records)
}

// WriteSucceeded persists the succeeded partition to succeeded-work.json.
func (r *Run) WriteSucceeded(records []workpkg.Record) error {
	return r.writeJSON(filepath.Join(r.Dir, "succeeded-work.json"), records)
}

// WriteFailed persists the failed partition to failed-work.json.
func (r *Run) WriteFailed(records []workpkg.Record) error {
	return r.writeJSON(filepath.Join(r.Dir, "failed-work.json"), records)
}

// WriteWorkfile writes one array submission's parameter bundles to a
// fresh workdir/<uuid>-workfile.json file and returns its path.
func (r *Run) WriteWorkfile(bundles []map[string]any) (string, error) {
	path := filepath.Join(r.WorkDir, fmt.Sprintf("%s-workfile.json", uuid.New().String()))
	if err := r.writeJSON(path, bundles); err != nil {
		return "", err
	}
	return path, nil
}

// TaskStdout, TaskStderr and TaskMemProfile return the derived per-task
// log paths for a given cluster job/task id, matching §6.2's task-logs
// layout.
func (r *Run) TaskStdout(id string) string      { return filepath.Join(r.TaskLogDir, id+".stdout") }
func (r *Run) TaskStderr(id string) string      { return filepath.Join(r.TaskLogDir, id+".stderr") }
func (r *Run) TaskMemProfile(id string) string  { return filepath.Join(r.TaskLogDir, "mprofile_"+id+".dat") }

// Remove deletes the run's working directory tree, used when the job's
// keep_work_dir property is false.
func (r *Run) Remove() error {
	return os.RemoveAll(r.WorkDir)
}

// writeJSON marshals v with sorted keys and 4-space indent (matching the
// original control plane's json.dump(..., sort_keys=True, indent=4)) and
// writes it atomically via write-to-temp-then-rename.
//
// json.MarshalIndent alone would emit struct fields in declaration order,
// not alphabetically, so v is round-tripped through a generic any first:
// unmarshaling into any turns every JSON object into a map[string]interface{},
// and Go always marshals map keys in sorted order, which is what gives us
// the sort_keys=True behavior the original control plane relied on.
func (r *Run) writeJSON(path string, v any) error {
	unsorted, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	var generic any
	if err := json.Unmarshal(unsorted, &generic); err != nil {
		return fmt.Errorf("normalize %s: %w", path, err)
	}

	data, err := json.MarshalIndent(generic, "", "    ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	data = append(data, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s to %s: %w", tmp, path, err)
	}
	return nil
}
