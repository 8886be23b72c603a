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

var squeueCmd = &cobra.Command{
	Use:   "squeue",
	Short: "Print the active run's account queue, as reported by the cluster's squeue",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runSqueue(); err != nil {
			fatal(err)
		}
	},
}

func runSqueue() error {
	s, err := loadCLIState()
	if err != nil {
		return err
	}

	logger := logging.NewLogger(logging.DefaultConfig())
	adapter := cluster.New(logger, metrics.NoOpCollector{}, "")

	out, err := adapter.Squeue(context.Background(), s.Account)
	if err != nil {
		return err
	}

	fmt.Print(out)
	return nil
}
