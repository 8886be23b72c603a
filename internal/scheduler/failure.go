// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"context"
	"math"
)

// initFailureTripped evaluates the init-failure rate once, immediately
// after queue initialisation: n_init_failed / n_total >= failure_threshold.
func (s *Scheduler) initFailureTripped() bool {
	total := len(s.Packages)
	if total == 0 {
		return false
	}
	rate := float64(s.NInitFailed) / float64(total)
	return rate >= s.Job.Properties.FailureThreshold
}

// runtimeFailureTripped evaluates the runtime-failure rate after a
// monitor pass, once processed has reached failure_threshold_activation.
func (s *Scheduler) runtimeFailureTripped() bool {
	runtimeFailed := len(s.FailedWork()) - s.NInitFailed
	processed := len(s.SucceededWork()) + runtimeFailed
	if processed < s.Job.Properties.FailureThresholdActivation {
		return false
	}
	rate := float64(runtimeFailed) / float64(processed)
	return rate >= s.Job.Properties.FailureThreshold
}

// panic sweeps the queue: every PENDING package is marked FAILED, and
// every scheduled one additionally gets a best-effort cancel. It persists
// the result and lets the main Run loop drain naturally (PendingWork
// becomes empty once this returns).
func (s *Scheduler) panic(ctx context.Context) {
	s.Logger.Error("failure threshold tripped, panicking job", "job", s.Job.Name)

	for _, p := range s.ScheduledWork() {
		if err := s.Cluster.Cancel(ctx, p.JobID); err != nil {
			s.Logger.Warn("best-effort cancel failed during panic", "job_id", p.JobID, "error", err.Error())
		}
	}

	for _, p := range s.PendingWork() {
		p.Fail("Panic! failure threshold exceeded for job " + s.Job.Name)
	}

	s.persistWork()
}

// everyNPolls is true when the wall-clock duration (seconds since run
// start), rounded to the nearest multiple of pollInterval, is itself a
// multiple of n*pollInterval. This gives a deterministic "every Nth
// poll" trigger without tracking a counter, tolerant to missed ticks.
func everyNPolls(elapsedSeconds, pollInterval, n int) bool {
	if pollInterval <= 0 || n <= 0 {
		return false
	}
	rounded := roundToNearestMultiple(elapsedSeconds, pollInterval)
	return rounded%(n*pollInterval) == 0
}

func roundToNearestMultiple(value, multiple int) int {
	if multiple == 0 {
		return value
	}
	return int(math.Round(float64(value)/float64(multiple))) * multiple
}
