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

var retryDryRun bool

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Resubmit the active run's terminally failed work packages as a fresh run",
	Long: `Reads the most recent failed-work.json for every job in the active
run's configuration and resubmits those parameter bundles against a new
run directory, picking up where the original run left off. With
--dry-run, only reports what would be resubmitted.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runRetry(retryDryRun); err != nil {
			fatal(err)
		}
	},
}

func init() {
	retryCmd.Flags().BoolVar(&retryDryRun, "dry-run", false, "Report what would be retried without resubmitting")
}

func runRetry(dryRun bool) error {
	cfg, err := loadConfigFromState()
	if err != nil {
		return err
	}

	logger := logging.NewLogger(logging.DefaultConfig())
	collector := metrics.NewInMemoryCollector()
	ctx := context.Background()

	for _, job := range cfg.Jobs {
		dir, err := newestJobFolder(job.LogDir, job.Name)
		if err != nil {
			fmt.Printf("%s: no prior run found, skipping\n", job.Name)
			continue
		}

		var records []struct {
			Params map[string]any `json:"params"`
		}
		if err := readJSONFile(dir+"/failed-work.json", &records); err != nil {
			return err
		}

		if len(records) == 0 {
			fmt.Printf("%s: nothing to retry\n", job.Name)
			continue
		}

		if dryRun {
			fmt.Printf("%s: would resubmit %d failed work package(s)\n", job.Name, len(records))
			continue
		}

		bundles := make([]map[string]any, len(records))
		for i, r := range records {
			bundles[i] = r.Params
		}

		fmt.Printf("%s: resubmitting %d failed work package(s)\n", job.Name, len(bundles))
		if err := retryJob(ctx, job, bundles, logger, collector); err != nil {
			return fmt.Errorf("retry job %s: %w", job.Name, err)
		}
	}

	return nil
}

func retryJob(ctx context.Context, job config.Job, bundles []map[string]any, logger logging.Logger, collector metrics.Collector) error {
	run, err := persistence.NewRun(job.LogDir, job.Name, time.Now())
	if err != nil {
		return err
	}

	adapter := cluster.New(logger, collector, run.WorkDir)

	var notifier scheduler.Notifier = notify.NoOpSink{}
	if job.Properties.Slack.Channel != "" && job.Properties.Slack.Token != "" {
		notifier = notify.New(logger, collector)
	}

	sched := scheduler.New(job, adapter, run, notifier, logger, collector)
	return sched.Run(ctx, bundles)
}
