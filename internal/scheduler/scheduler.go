// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package scheduler is the main control loop for one job: it initialises
// the work-package queue, groups and submits queued packages as bounded
// array chunks, polls the cluster, classifies outcomes, retries with
// exponential backoff, triggers panic-abort on excessive failure rates,
// persists state every iteration, and emits chat notifications.
package scheduler

import (
	"context"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ai4up/slurm-pipeline/internal/cluster"
	"github.com/ai4up/slurm-pipeline/internal/clusterstatus"
	"github.com/ai4up/slurm-pipeline/internal/policy"
	"github.com/ai4up/slurm-pipeline/internal/workpkg"
	"github.com/ai4up/slurm-pipeline/pkg/config"
	"github.com/ai4up/slurm-pipeline/pkg/logging"
	"github.com/ai4up/slurm-pipeline/pkg/metrics"
)

// fastPollWindow is how long after start the scheduler substitutes a
// short fast-poll interval to shorten the boot phase (§4.4 wait step).
const fastPollWindow = 5 * time.Minute

// fastPollInterval is the substituted poll interval during fastPollWindow.
const fastPollInterval = 3 * time.Second

// ClusterAPI is the narrow seam the Scheduler depends on for cluster
// interaction, satisfied by *cluster.Adapter in production and by a fake
// in tests.
type ClusterAPI interface {
	Submit(ctx context.Context, req cluster.SubmitRequest) (string, error)
	SubmitArray(ctx context.Context, workfile string, n int, req cluster.SubmitRequest) (jobID string, taskIDs []string, degraded bool, err error)
	Status(ctx context.Context, jobID string) (clusterstatus.Status, error)
	Cancel(ctx context.Context, jobID string) error
}

// Notifier is the chat-notification seam, satisfied by *notify.SlackSink.
type Notifier interface {
	Send(ctx context.Context, text, channel, token, threadID string) (ts, respChannel string, err error)
	Update(ctx context.Context, text, channel, token, ts string) (newTS, respChannel string, err error)
}

// Store is the persistence seam, satisfied by *persistence.Run.
type Store interface {
	WriteWork(records []workpkg.Record) error
	WriteSucceeded(records []workpkg.Record) error
	WriteFailed(records []workpkg.Record) error
	WriteWorkfile(bundles []map[string]any) (string, error)
	TaskStdout(id string) string
	TaskStderr(id string) string
	TaskMemProfile(id string) string
	Remove() error
}

// Scheduler drives one job's work packages to completion.
type Scheduler struct {
	Job     config.Job
	Cluster ClusterAPI
	Store   Store
	Notify  Notifier
	Logger  logging.Logger
	Metrics metrics.Collector

	Packages    []*workpkg.Package
	StartTime   time.Time
	NInitFailed int

	chatThreadID string
	chatChannel  string
	pollCount    int

	// Sleep and Now are overridable for deterministic tests.
	Sleep func(time.Duration)
	Now   func() time.Time
}

// New constructs a Scheduler for job, wiring sensible defaults for the
// overridable clock/sleep hooks.
func New(job config.Job, clusterAPI ClusterAPI, store Store, notifier Notifier, logger logging.Logger, collector metrics.Collector) *Scheduler {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	return &Scheduler{
		Job:       job,
		Cluster:   clusterAPI,
		Store:     store,
		Notify:    notifier,
		Logger:    logger,
		Metrics:   collector,
		StartTime: time.Now(),
		Sleep:     time.Sleep,
		Now:       time.Now,
	}
}

// Run executes the job to completion: initialise, then schedule/wait/
// monitor/notify until no PENDING packages remain, then persist final
// results, notify, and clean up.
func (s *Scheduler) Run(ctx context.Context, bundles []map[string]any) error {
	if err := s.InitQueue(bundles); err != nil {
		return err
	}

	if s.initFailureTripped() {
		s.panic(ctx)
	}

	for len(s.PendingWork()) > 0 {
		s.Schedule(ctx)
		s.Wait()
		s.pollCount++
		s.Monitor(ctx)
		s.NotifyStatus(ctx)
	}

	return s.finish(ctx)
}

// InitQueue builds the work-package list from the resolved parameter
// bundles, resolving each one's effective resources via the resource
// policy. A bundle whose resource resolution fails becomes a pre-failed
// package rather than aborting the whole run. The initial snapshot is
// persisted immediately.
func (s *Scheduler) InitQueue(bundles []map[string]any) error {
	s.Logger.Info("initializing queue", "job", s.Job.Name, "n_bundles", len(bundles))

	for i, params := range bundles {
		res, err := policy.EffectiveResources(s.Job, stringify(params))
		var pkg *workpkg.Package
		if err != nil {
			s.Logger.Error("failed to resolve resources for work package", "index", i, "error", err.Error())
			pkg = workpkg.InitFailed(params, err.Error())
			s.NInitFailed++
		} else {
			pkg = workpkg.New(params, res)
		}
		pkg.Name = fmt.Sprintf("%s-%d", s.Job.Name, i)
		s.Packages = append(s.Packages, pkg)
	}

	return s.persistWork()
}

// Schedule groups every queued package by identical resource request,
// subdivides groups larger than MaxArraySize, and submits each chunk as
// one array job.
func (s *Scheduler) Schedule(ctx context.Context) {
	queued := s.QueuedWork()
	s.Logger.Info("scheduling new work packages", "count", len(queued), "total", len(s.Packages))

	for _, group := range groupByResources(queued) {
		for _, chunk := range chunks(group, cluster.MaxArraySize) {
			s.submitChunk(ctx, chunk)
		}
	}
}

func (s *Scheduler) submitChunk(ctx context.Context, chunk []*workpkg.Package) {
	bundles := make([]map[string]any, len(chunk))
	for i, p := range chunk {
		bundles[i] = p.Params
	}

	workfile, err := s.Store.WriteWorkfile(bundles)
	if err != nil {
		s.failChunk(chunk, err.Error())
		return
	}

	res := chunk[0].Resources()
	req := cluster.SubmitRequest{
		Script:    s.Job.Script,
		CondaEnv:  s.Job.Properties.CondaEnv,
		Resources: res,
		LogDir:    s.Job.LogDir,
		JobName:   s.Job.Name,
		Account:   s.Job.Properties.Account,
	}

	jobID, taskIDs, _, err := s.Cluster.SubmitArray(ctx, workfile, len(chunk), req)
	if err != nil {
		s.Logger.Error("failed to submit array job", "error", err.Error())
		s.failChunk(chunk, err.Error())
		return
	}

	for i, p := range chunk {
		id := jobID
		if i < len(taskIDs) {
			id = taskIDs[i]
		}
		p.MarkScheduled(id, "")
		p.StdoutPath = s.Store.TaskStdout(id)
		p.StderrPath = s.Store.TaskStderr(id)
		p.MemProfilePath = s.Store.TaskMemProfile(id)
	}
}

func (s *Scheduler) failChunk(chunk []*workpkg.Package, msg string) {
	for _, p := range chunk {
		p.Fail(msg)
	}
}

// Wait sleeps for poll_interval seconds, substituting a short fast-poll
// interval during the first five minutes of the run to shorten the boot
// phase.
func (s *Scheduler) Wait() {
	interval := time.Duration(s.Job.Properties.PollInterval) * time.Second
	if s.Now().Sub(s.StartTime) < fastPollWindow {
		interval = fastPollInterval
	}
	s.Logger.Info("waiting for next poll", "interval", interval)
	s.Sleep(interval)
}

// Monitor queries the cluster for every scheduled package's status and
// applies the classification table (§4.4), then persists the snapshot
// and evaluates the failure threshold.
func (s *Scheduler) Monitor(ctx context.Context) {
	scheduled := s.ScheduledWork()
	s.Logger.Info("monitoring scheduled work packages", "count", len(scheduled))

	for _, p := range scheduled {
		status, err := s.Cluster.Status(ctx, p.JobID)
		if err != nil {
			s.Logger.Error("failed to determine cluster status", "job_id", p.JobID, "error", err.Error())
			p.Fail(err.Error())
			continue
		}

		p.ExternalStatus = status
		s.classify(p, status)
	}

	s.persistWork()

	if s.runtimeFailureTripped() {
		s.panic(ctx)
	}
}

func (s *Scheduler) classify(p *workpkg.Package, status clusterstatus.Status) {
	switch status {
	case clusterstatus.Completed:
		p.Succeed()

	case clusterstatus.Timeout:
		s.processTimeout(p)

	case clusterstatus.OutOfMemory:
		s.processOOM(p)

	case clusterstatus.Cancelled:
		if s.isOOMCancellation(p) {
			s.processOOM(p)
		} else {
			p.Fail("job was cancelled")
		}

	case clusterstatus.Failed:
		p.Fail("job failed")

	default:
		if status.IsRetryable() {
			s.requeue(p)
		} else if status.IsActive() {
			// no-op: still in flight
		} else {
			p.Fail("unknown status")
		}
	}
}

func (s *Scheduler) processTimeout(p *workpkg.Package) {
	d, err := cluster.ParseTime(p.Time)
	if err != nil {
		d = 0
	}
	p.Time = cluster.FormatTime(d * time.Duration(s.backoffFactor()))
	s.requeue(p)
}

func (s *Scheduler) processOOM(p *workpkg.Package) {
	res := p.Resources()
	currentMem := cluster.EffectiveMem(res)
	maxMem := cluster.MaxMemFor(res)

	if currentMem >= maxMem {
		p.Fail(fmt.Sprintf("out of memory at maximum allowed %d MB, cannot retry", maxMem))
		return
	}

	p.Mem = currentMem * s.backoffFactor()
	s.requeue(p)
}

// isOOMCancellation inspects the task's persisted stderr for Slurm's
// memory-limit cancellation message.
func (s *Scheduler) isOOMCancellation(p *workpkg.Package) bool {
	if p.StderrPath == "" {
		return false
	}
	data, err := os.ReadFile(p.StderrPath)
	if err != nil {
		return false
	}
	return strings.Contains(string(data), "Exceeded job memory limit")
}

func (s *Scheduler) backoffFactor() int {
	if s.Job.Properties.ExpBackoffFactor <= 0 {
		return 1
	}
	return s.Job.Properties.ExpBackoffFactor
}

// requeue converts p back to queued (clearing JobID) unless it has
// exhausted its retry budget, in which case it is terminally failed.
// n_tries is incremented at submission time (see SPEC_FULL.md's resolved
// Open Question), so the limit is n_tries >= max_retries + 1.
func (s *Scheduler) requeue(p *workpkg.Package) {
	if p.NTries >= s.Job.Properties.MaxRetries+1 {
		p.Fail(fmt.Sprintf("exceeded max retries (%d)", s.Job.Properties.MaxRetries))
		return
	}
	p.Requeue()
}

// NotifyStatus emits a progress snapshot to the chat sink, throttled by
// every_n_polls. The first notification pins the chat thread id.
func (s *Scheduler) NotifyStatus(ctx context.Context) {
	if s.Job.Properties.Slack.Channel == "" || s.Job.Properties.Slack.Token == "" {
		return
	}
	if !everyNPolls(int(s.Now().Sub(s.StartTime).Seconds()), s.Job.Properties.PollInterval, statusEveryNPolls) {
		return
	}

	msg := s.statusMessage()
	s.sendOrUpdate(ctx, msg)
}

// statusEveryNPolls is how many polls elapse between progress
// notifications.
const statusEveryNPolls = 10

func (s *Scheduler) statusMessage() string {
	return fmt.Sprintf("Job %s: %d pending, %d succeeded, %d failed (of %d)",
		s.Job.Name, len(s.PendingWork()), len(s.SucceededWork()), len(s.FailedWork()), len(s.Packages))
}

func (s *Scheduler) sendOrUpdate(ctx context.Context, msg string) {
	channel := s.Job.Properties.Slack.Channel
	token := s.Job.Properties.Slack.Token

	if s.chatThreadID == "" {
		ts, ch, err := s.Notify.Send(ctx, msg, channel, token, "")
		if err != nil {
			s.Logger.Warn("failed to send chat notification", "error", err.Error())
			return
		}
		s.chatThreadID = ts
		s.chatChannel = ch
		return
	}

	if _, _, err := s.Notify.Update(ctx, msg, s.chatChannel, token, s.chatThreadID); err != nil {
		s.Logger.Warn("failed to update chat notification", "error", err.Error())
	}
}

// finish persists the split result partitions, sends the final
// notification, and removes the working directory unless keep_work_dir
// is set.
func (s *Scheduler) finish(ctx context.Context) error {
	if err := s.persistWork(); err != nil {
		return err
	}
	if err := s.Store.WriteSucceeded(encode(s.SucceededWork())); err != nil {
		return err
	}
	if err := s.Store.WriteFailed(encode(s.FailedWork())); err != nil {
		return err
	}

	if s.Job.Properties.Slack.Channel != "" && s.Job.Properties.Slack.Token != "" {
		duration := s.Now().Sub(s.StartTime).Round(time.Second)
		msg := fmt.Sprintf("Job %s finished after %s. %d of %d work packages succeeded.",
			s.Job.Name, duration, len(s.SucceededWork()), len(s.Packages))
		s.sendOrUpdate(ctx, msg)
	}

	if !s.Job.Properties.KeepWorkDir {
		if err := s.Store.Remove(); err != nil {
			s.Logger.Warn("failed to remove work directory", "error", err.Error())
		}
	}

	return nil
}

func (s *Scheduler) persistWork() error {
	return s.Store.WriteWork(encode(s.Packages))
}

// PendingWork, QueuedWork, ScheduledWork, SucceededWork and FailedWork
// are the standard work-package partitions the control loop consults
// every iteration.
func (s *Scheduler) PendingWork() []*workpkg.Package   { return filterStatus(s.Packages, workpkg.Pending) }
func (s *Scheduler) SucceededWork() []*workpkg.Package { return filterStatus(s.Packages, workpkg.Succeeded) }
func (s *Scheduler) FailedWork() []*workpkg.Package    { return filterStatus(s.Packages, workpkg.Failed) }

func (s *Scheduler) QueuedWork() []*workpkg.Package {
	var out []*workpkg.Package
	for _, p := range s.PendingWork() {
		if p.JobID == "" {
			out = append(out, p)
		}
	}
	return out
}

func (s *Scheduler) ScheduledWork() []*workpkg.Package {
	var out []*workpkg.Package
	for _, p := range s.PendingWork() {
		if p.JobID != "" {
			out = append(out, p)
		}
	}
	return out
}

func filterStatus(pkgs []*workpkg.Package, status workpkg.Status) []*workpkg.Package {
	var out []*workpkg.Package
	for _, p := range pkgs {
		if p.Status == status {
			out = append(out, p)
		}
	}
	return out
}

func encode(pkgs []*workpkg.Package) []workpkg.Record {
	records := make([]workpkg.Record, len(pkgs))
	for i, p := range pkgs {
		records[i] = p.Encode()
	}
	return records
}

// groupByResources partitions pkgs into slices sharing an identical
// (cpus, mem, time, partition) resource key so each group can be
// submitted as one array.
func groupByResources(pkgs []*workpkg.Package) [][]*workpkg.Package {
	order := []string{}
	groups := map[string][]*workpkg.Package{}

	for _, p := range pkgs {
		key := p.Resources().Key()
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], p)
	}

	out := make([][]*workpkg.Package, 0, len(order))
	for _, key := range order {
		out = append(out, groups[key])
	}
	return out
}

// chunks subdivides pkgs into slices of at most n elements each.
func chunks(pkgs []*workpkg.Package, n int) [][]*workpkg.Package {
	var out [][]*workpkg.Package
	for i := 0; i < len(pkgs); i += n {
		end := int(math.Min(float64(i+n), float64(len(pkgs))))
		out = append(out, pkgs[i:end])
	}
	return out
}

// stringify renders an opaque params map as string values for the
// resource policy's {{var}} path interpolation.
func stringify(params map[string]any) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[k] = toString(v)
	}
	return out
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
