// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package workpkg is the mutable work-package value object the
// Scheduler drives through its lifecycle: queued, scheduled, observed,
// and finally SUCCEEDED or FAILED.
package workpkg

import (
	"fmt"

	"github.com/ai4up/slurm-pipeline/internal/cluster"
	"github.com/ai4up/slurm-pipeline/internal/clusterstatus"
)

// Status is the work package's own lifecycle status, distinct from the
// raw cluster status observed via the adapter.
type Status string

const (
	Pending   Status = "PENDING"
	Succeeded Status = "SUCCEEDED"
	Failed    Status = "FAILED"
)

// Package represents one parameter bundle and everything the Scheduler
// has observed about its submission history.
type Package struct {
	// Name identifies the bundle for CLI/log display (e.g. "preprocess-7");
	// the Scheduler assigns it at queue-initialisation time.
	Name string

	Params map[string]any

	CPUs      int
	Mem       int
	Time      string
	Partition string

	Status         Status
	ExternalStatus clusterstatus.Status
	NTries         int
	JobID          string
	OldJobIDs      []string

	StdoutPath     string
	StderrPath     string
	MemProfilePath string

	ErrorMsg string
	MaxMem   int
}

// New constructs a queued work package from resolved resources and a
// parameter bundle.
func New(params map[string]any, res cluster.Resources) *Package {
	return &Package{
		Params:    params,
		CPUs:      res.CPUs,
		Mem:       res.Mem,
		Time:      res.Time,
		Partition: res.Partition,
		Status:    Pending,
	}
}

// InitFailed constructs a terminal FAILED package with no resources
// set, for parameter bundles whose resource resolution itself failed.
func InitFailed(params map[string]any, errMsg string) *Package {
	return &Package{
		Params:   params,
		Status:   Failed,
		ErrorMsg: errMsg,
	}
}

// Resources returns the package's current resource request, reflecting
// any OOM/timeout resizing already applied.
func (p *Package) Resources() cluster.Resources {
	return cluster.Resources{CPUs: p.CPUs, Mem: p.Mem, Time: p.Time, Partition: p.Partition}
}

// partition returns the cluster partition this package would submit
// to, auto-deriving one from its resources when unset.
func (p *Package) partition() string {
	return cluster.PartitionFor(p.Resources())
}

// QoS returns the QoS class this package's current resource request
// maps to.
func (p *Package) QoS() string {
	return cluster.QoSFor(p.Resources())
}

// Queued reports whether the package is awaiting its next submission:
// PENDING with no assigned job id.
func (p *Package) Queued() bool {
	return p.Status == Pending && p.JobID == ""
}

// Scheduled reports whether the package has been submitted and is
// awaiting observation.
func (p *Package) Scheduled() bool {
	return p.Status == Pending && p.JobID != ""
}

// MarkScheduled assigns jobID, increments NTries, and derives the
// per-job log paths under taskLogDir.
func (p *Package) MarkScheduled(jobID, taskLogDir string) {
	p.NTries++
	p.JobID = jobID
	p.StdoutPath = fmt.Sprintf("%s/%s.stdout", taskLogDir, jobID)
	p.StderrPath = fmt.Sprintf("%s/%s.stderr", taskLogDir, jobID)
	p.MemProfilePath = fmt.Sprintf("%s/mprofile_%s.dat", taskLogDir, jobID)
}

// Requeue clears the assigned job id and archives it to OldJobIDs,
// leaving the package PENDING and queued for the next schedule pass.
func (p *Package) Requeue() {
	if p.JobID != "" {
		p.OldJobIDs = append(p.OldJobIDs, p.JobID)
	}
	p.JobID = ""
}

// Succeed marks the package terminally SUCCEEDED.
func (p *Package) Succeed() {
	p.Status = Succeeded
}

// Fail marks the package terminally FAILED with the given diagnostic.
func (p *Package) Fail(msg string) {
	p.Status = Failed
	p.ErrorMsg = msg
}

// Record is the stable JSON encoding of a Package, matching the persisted
// work.json schema. encoding/json emits its fields in declaration order;
// the persistence writer sorts the keys when it writes the file.
type Record struct {
	Params      map[string]any `json:"params"`
	CPUs        int            `json:"cpus"`
	Mem         int            `json:"mem"`
	Time        string         `json:"time"`
	Partition   string         `json:"partition"`
	Name        string         `json:"name"`
	Status      string         `json:"status"`
	SlurmStatus string         `json:"slurm_status"`
	NTries      int            `json:"n_tries"`
	JobID       string         `json:"job_id"`
	Stdout      string         `json:"stdout"`
	Stderr      string         `json:"stderr"`
	MemProfile  string         `json:"mem_profile"`
	MaxMem      int            `json:"max_mem"`
	ErrorMsg    string         `json:"error_msg"`
	OldJobIDs   []string       `json:"old_job_ids"`
}

// Encode returns the JSON-serialisable record for this package. Field
// order in the struct matches §6.2's documented key order; encoding/json
// sorts map keys within Params.
func (p *Package) Encode() Record {
	return Record{
		Params:      p.Params,
		CPUs:        p.CPUs,
		Mem:         p.Mem,
		Time:        p.Time,
		Partition:   p.partition(),
		Name:        p.Name,
		Status:      string(p.Status),
		SlurmStatus: string(p.ExternalStatus),
		NTries:      p.NTries,
		JobID:       p.JobID,
		Stdout:      p.StdoutPath,
		Stderr:      p.StderrPath,
		MemProfile:  p.MemProfilePath,
		MaxMem:      p.MaxMem,
		ErrorMsg:    p.ErrorMsg,
		OldJobIDs:   p.OldJobIDs,
	}
}
