// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ai4up/slurm-pipeline/internal/cluster"
	"github.com/ai4up/slurm-pipeline/pkg/logging"
	"github.com/ai4up/slurm-pipeline/pkg/metrics"
)

var (
	abortJob string
	abortAll bool
)

var abortCmd = &cobra.Command{
	Use:   "abort",
	Short: "Cancel every currently scheduled work package for a job, or all jobs",
	Long: `Issues scancel against every work package's currently assigned
job id. The running control-plane daemon observes CANCELLED on its next
monitor pass and classifies it per the standard table; abort never
mutates work.json itself.`,
	Run: func(cmd *cobra.Command, args []string) {
		if abortJob == "" && !abortAll {
			fatal(fmt.Errorf("either --job <name> or --all is required"))
		}
		if err := runAbort(abortJob, abortAll); err != nil {
			fatal(err)
		}
	},
}

func init() {
	abortCmd.Flags().StringVar(&abortJob, "job", "", "Name of the job to abort")
	abortCmd.Flags().BoolVar(&abortAll, "all", false, "Abort every job in the active run")
}

func runAbort(jobName string, all bool) error {
	cfg, err := loadConfigFromState()
	if err != nil {
		return err
	}
	state, err := loadWorkState()
	if err != nil {
		return err
	}

	logger := logging.NewLogger(logging.DefaultConfig())
	collector := metrics.NewInMemoryCollector()
	adapter := cluster.New(logger, collector, "")
	ctx := context.Background()

	cancelled := 0
	for _, job := range cfg.Jobs {
		if !all && job.Name != jobName {
			continue
		}

		for _, rec := range state[job.Name] {
			if rec.Status != "PENDING" || rec.JobID == "" {
				continue
			}
			if err := adapter.Cancel(ctx, rec.JobID); err != nil {
				fmt.Printf("%s: failed to cancel %s: %v\n", job.Name, rec.JobID, err)
				continue
			}
			cancelled++
		}
	}

	fmt.Printf("Cancelled %d scheduled work package(s)\n", cancelled)
	return nil
}
