// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ai4up/slurm-pipeline/internal/workpkg"
)

var workCmd = &cobra.Command{
	Use:   "work <job>",
	Short: "List every work package's current state for a job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runWork(args[0]); err != nil {
			fatal(err)
		}
	},
}

func runWork(jobName string) error {
	cfg, err := loadConfigFromState()
	if err != nil {
		return err
	}
	job, ok := cfg.JobByName(jobName)
	if !ok {
		return fmt.Errorf("unknown job %q", jobName)
	}

	dir, err := newestJobFolder(job.LogDir, job.Name)
	if err != nil {
		return err
	}

	var records []workpkg.Record
	if err := readJSONFile(filepath.Join(dir, "work.json"), &records); err != nil {
		return err
	}

	if outputFmt == "json" {
		return printJSON(records)
	}

	fmt.Printf("%-16s %-10s %-8s %-14s %-10s %s\n", "NAME", "STATUS", "N_TRIES", "JOB_ID", "CPUS", "ERROR")
	fmt.Println(strings.Repeat("-", 90))
	for _, r := range records {
		fmt.Printf("%-16s %-10s %-8d %-14s %-10d %s\n", r.Name, r.Status, r.NTries, r.JobID, r.CPUs, r.ErrorMsg)
	}

	return nil
}
