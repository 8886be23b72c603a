// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Command slurm-pipeline is the operator-facing front-end for the batch
// pipeline control plane: it starts/retries/aborts a run and inspects the
// JSON state one or more runs left behind, per spec §6.5.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is set at build time; left "dev" otherwise, matching the
	// teacher's cmd/slurm-cli convention.
	Version = "dev"

	outputFmt string

	rootCmd = &cobra.Command{
		Use:     "slurm-pipeline",
		Short:   "Operator CLI for the batch-pipeline control plane",
		Long:    `Starts, retries, aborts and inspects batch-pipeline control-plane runs.`,
		Version: Version,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(abortCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(workCmd)
	rootCmd.AddCommand(stdoutCmd)
	rootCmd.AddCommand(stderrCmd)
	rootCmd.AddCommand(errorsCmd)
	rootCmd.AddCommand(squeueCmd)
	rootCmd.AddCommand(daemonCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}
