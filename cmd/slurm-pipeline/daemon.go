// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ai4up/slurm-pipeline/internal/cluster"
	"github.com/ai4up/slurm-pipeline/internal/notify"
	"github.com/ai4up/slurm-pipeline/internal/persistence"
	"github.com/ai4up/slurm-pipeline/internal/scheduler"
	"github.com/ai4up/slurm-pipeline/pkg/config"
	"github.com/ai4up/slurm-pipeline/pkg/logging"
	"github.com/ai4up/slurm-pipeline/pkg/metrics"
)

// daemonCmd is the hidden entry point `start` forks into: it loads the
// job-configuration file and drives every job's Scheduler to completion,
// one job at a time (mirroring the sequential iteration over
// `job_config['jobs']` in the original control plane's caller).
var daemonCmd = &cobra.Command{
	Use:    "daemon <config>",
	Short:  "Run the control-plane loop for every job in a configuration file",
	Hidden: true,
	Args:   cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runDaemon(args[0]); err != nil {
			fatal(err)
		}
	},
}

func runDaemon(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := logging.NewLogger(logging.DefaultConfig())
	collector := metrics.NewInMemoryCollector()
	ctx := context.Background()

	for _, job := range cfg.Jobs {
		if err := runJob(ctx, job, logger, collector); err != nil {
			logger.Error("job run failed", "job", job.Name, "error", err.Error())
			return fmt.Errorf("job %s: %w", job.Name, err)
		}
	}
	return nil
}

func runJob(ctx context.Context, job config.Job, logger logging.Logger, collector metrics.Collector) error {
	run, err := persistence.NewRun(job.LogDir, job.Name, time.Now())
	if err != nil {
		return err
	}

	adapter := cluster.New(logger, collector, run.WorkDir)

	var notifier scheduler.Notifier = notify.NoOpSink{}
	if job.Properties.Slack.Channel != "" && job.Properties.Slack.Token != "" {
		notifier = notify.New(logger, collector)
	}

	bundles, err := scheduler.LoadParams(job)
	if err != nil {
		return err
	}

	sched := scheduler.New(job, adapter, run, notifier, logger, collector)
	return sched.Run(ctx, bundles)
}
