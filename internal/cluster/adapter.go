// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package cluster is the shell-free, testable seam wrapping the external
// batch-scheduler CLI (sbatch/sacct/scancel/squeue). All external calls
// the pipeline makes go through this package.
package cluster

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ai4up/slurm-pipeline/internal/clusterstatus"
	pipelinectx "github.com/ai4up/slurm-pipeline/pkg/context"
	pipelineerrors "github.com/ai4up/slurm-pipeline/pkg/errors"
	"github.com/ai4up/slurm-pipeline/pkg/logging"
	"github.com/ai4up/slurm-pipeline/pkg/metrics"
	"github.com/ai4up/slurm-pipeline/pkg/retry"

	goctx "context"
)

//go:embed templates/submit.sh
var submitTemplate []byte

//go:embed templates/submit-array.sh
var submitArrayTemplate []byte

// SubmitRequest describes a single (non-array) batch submission.
type SubmitRequest struct {
	Script    string
	CondaEnv  string
	Resources Resources
	LogDir    string
	JobName   string
	Account   string
	ErrorFile string
	OutFile   string
}

// Adapter wraps the cluster CLI with structured logging, metrics and
// timeout-bounded, argv-array child-process invocations (never shell
// interpolation).
type Adapter struct {
	logger       logging.Logger
	metrics      metrics.Collector
	timeouts     *pipelinectx.TimeoutConfig
	templateDir  string
	retryBackoff retry.BackoffStrategy
}

// New constructs an Adapter. templateDir is where the embedded submit
// script templates are materialised on first use (defaults to os.TempDir
// when empty). Transient failures of the accounting/cancellation CLI
// (sacct/scancel/squeue) are retried with exponential backoff; sbatch
// submissions are not, since sbatch is not idempotent and retrying a
// failed submission could double-submit the same work.
func New(logger logging.Logger, collector metrics.Collector, templateDir string) *Adapter {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	if templateDir == "" {
		templateDir = os.TempDir()
	}
	return &Adapter{
		logger:       logger,
		metrics:      collector,
		timeouts:     pipelinectx.DefaultTimeoutConfig(),
		templateDir:  templateDir,
		retryBackoff: defaultCLIRetryBackoff(),
	}
}

// defaultCLIRetryBackoff bounds retries of flaky accounting-CLI calls to
// a handful of short, jittered attempts — this is working around a
// momentarily unresponsive accounting database, not a long outage.
func defaultCLIRetryBackoff() *retry.ExponentialBackoff {
	return &retry.ExponentialBackoff{
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
		MaxAttempts:  3,
	}
}

func (a *Adapter) materialize(name string, contents []byte) (string, error) {
	path := filepath.Join(a.templateDir, name)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := os.WriteFile(path, contents, 0o755); err != nil {
		return "", fmt.Errorf("materialize template %s: %w", name, err)
	}
	return path, nil
}

func (a *Adapter) run(ctx goctx.Context, op pipelinectx.OperationType, args []string) ([]byte, []byte, error) {
	ctx, cancel := pipelinectx.WithTimeout(ctx, op, a.timeouts)
	defer cancel()

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	a.metrics.RecordRequest(args[0], describeArgs(args))
	err := cmd.Run()
	duration := time.Since(start)

	if err != nil {
		a.metrics.RecordError(args[0], describeArgs(args), err)
		return stdout.Bytes(), stderr.Bytes(), err
	}
	a.metrics.RecordResponse(args[0], describeArgs(args), 0, duration)
	return stdout.Bytes(), stderr.Bytes(), nil
}

// runRetryable runs the given CLI invocation like run, but retries a
// non-zero exit with the adapter's exponential backoff policy. Only
// idempotent, read/cancel-style commands (sacct, scancel, squeue) should
// call this; sbatch submissions go through run directly.
func (a *Adapter) runRetryable(ctx goctx.Context, op pipelinectx.OperationType, args []string) ([]byte, []byte, error) {
	var stdout, stderr []byte
	err := retry.Retry(ctx, a.retryBackoff, func() error {
		var runErr error
		stdout, stderr, runErr = a.run(ctx, op, args)
		return runErr
	})
	return stdout, stderr, err
}

func describeArgs(args []string) string {
	if len(args) > 1 {
		return args[len(args)-1]
	}
	return ""
}

// Submit emits a single batch submission and returns the opaque cluster
// job id. Fails with a ClusterError when sbatch exits non-zero; stderr
// is preserved verbatim on the error.
func (a *Adapter) Submit(ctx goctx.Context, req SubmitRequest) (string, error) {
	tmplPath, err := a.materialize("submit.sh", submitTemplate)
	if err != nil {
		return "", err
	}

	res := Clamp(req.Resources, a.logger)
	args := a.sbatchArgs(tmplPath, req, res, "")

	stdout, stderr, err := a.run(ctx, pipelinectx.OpWrite, args)
	if err != nil {
		return "", pipelineerrors.WrapClusterError(strings.Join(args, " "), stderr, err)
	}

	return strings.TrimSpace(string(stdout)), nil
}

// SubmitArray submits an array job of n tasks over workfile. If
// res.Partition is an "io"-style partition that does not accept arrays,
// the adapter degrades to a single submission and returns synthetic
// "<job_id>_<i>" task ids for log-path disambiguation, with degraded=true.
func (a *Adapter) SubmitArray(ctx goctx.Context, workfile string, n int, req SubmitRequest) (jobID string, taskIDs []string, degraded bool, err error) {
	res := Clamp(req.Resources, a.logger)

	if !SupportsArray(res) {
		req.Resources = res
		jobID, err = a.Submit(ctx, req)
		if err != nil {
			return "", nil, true, err
		}
		taskIDs = make([]string, n)
		for i := range taskIDs {
			taskIDs[i] = fmt.Sprintf("%s_%d", jobID, i)
		}
		return jobID, taskIDs, true, nil
	}

	tmplPath, err := a.materialize("submit-array.sh", submitArrayTemplate)
	if err != nil {
		return "", nil, false, err
	}

	arraySpec := fmt.Sprintf("0-%d", n-1)
	args := a.sbatchArgs(tmplPath, req, res, workfile)
	// sbatch only reads flags before the script path; the last four
	// elements are the script path, user script, conda env and workfile.
	tail := len(args) - 4
	args = append(args[:tail:tail], append([]string{"--array=" + arraySpec}, args[tail:]...)...)

	stdout, stderr, err := a.run(ctx, pipelinectx.OpWrite, args)
	if err != nil {
		return "", nil, false, pipelineerrors.WrapClusterError(strings.Join(args, " "), stderr, err)
	}

	jobID = strings.TrimSpace(string(stdout))
	taskIDs = make([]string, n)
	for i := range taskIDs {
		taskIDs[i] = fmt.Sprintf("%s_%d", jobID, i)
	}
	return jobID, taskIDs, false, nil
}

func (a *Adapter) sbatchArgs(scriptPath string, req SubmitRequest, res Resources, workfile string) []string {
	partition := PartitionFor(res)
	qos := QoSFor(res)

	args := []string{"sbatch", "--parsable"}
	args = append(args, "--qos="+qos)
	if res.Time != "" {
		args = append(args, "--time="+res.Time)
	}
	args = append(args, "--nodes=1")
	args = append(args, "--ntasks=1")
	args = append(args, "--cpus-per-task="+strconv.Itoa(res.CPUs))
	args = append(args, "--partition="+partition)
	if req.Account != "" {
		args = append(args, "--account="+req.Account)
	}
	if req.ErrorFile != "" {
		args = append(args, "--error="+req.ErrorFile)
	}
	if req.OutFile != "" {
		args = append(args, "--output="+req.OutFile)
	}
	if req.LogDir != "" {
		args = append(args, "--chdir="+req.LogDir)
	}
	if req.JobName != "" {
		args = append(args, "--job-name="+req.JobName)
	}
	if res.Mem > 0 {
		args = append(args, "--mem="+strconv.Itoa(res.Mem))
	}
	if res.GPU {
		args = append(args, "--gres=gpu:1")
	}
	args = append(args, "--export=ALL")

	args = append(args, scriptPath, req.Script, req.CondaEnv)
	if workfile != "" {
		args = append(args, workfile)
	}
	return args
}

// Status queries the accounting CLI for jobID. It returns Pending when
// the record does not yet exist (sacct returned no line, e.g. a job
// that was just submitted) and Unknown when the returned token does not
// map to the enumeration. A non-zero CLI exit raises ClusterError.
func (a *Adapter) Status(ctx goctx.Context, jobID string) (clusterstatus.Status, error) {
	args := []string{"sacct", "--job=" + jobID, "--format=state", "--parsable2", "--noheader"}

	stdout, stderr, err := a.runRetryable(ctx, pipelinectx.OpRead, args)
	if err != nil {
		return "", pipelineerrors.WrapClusterError(strings.Join(args, " "), stderr, err)
	}

	lines := strings.Split(strings.TrimSpace(string(stdout)), "\n")
	if len(lines) == 0 || lines[0] == "" {
		a.logger.Warn("could not determine status for job, treating as pending", "job_id", jobID)
		return clusterstatus.Pending, nil
	}

	return clusterstatus.Parse(strings.TrimSpace(lines[0])), nil
}

// Cancel best-effort terminates jobID; a non-zero exit is logged but not
// treated as a fatal error by the caller, matching the original's
// fire-and-forget cancellation semantics.
func (a *Adapter) Cancel(ctx goctx.Context, jobID string) error {
	args := []string{"scancel", jobID}
	_, stderr, err := a.runRetryable(ctx, pipelinectx.OpWrite, args)
	if err != nil {
		return pipelineerrors.WrapClusterError(strings.Join(args, " "), stderr, err)
	}
	return nil
}

// Squeue reports the account's current queue as plain text, for the CLI
// surface's `squeue` command.
func (a *Adapter) Squeue(ctx goctx.Context, account string) (string, error) {
	args := []string{"squeue", "--states=all"}
	if account != "" {
		args = append(args, "--account="+account)
	}

	stdout, stderr, err := a.runRetryable(ctx, pipelinectx.OpList, args)
	if err != nil {
		return "", pipelineerrors.WrapClusterError(strings.Join(args, " "), stderr, err)
	}
	return string(stdout), nil
}
