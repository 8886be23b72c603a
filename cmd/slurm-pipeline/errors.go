// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var errorsLimit int

var errorsCmd = &cobra.Command{
	Use:   "errors",
	Short: "Show the most recent FAILED work packages' diagnostics across all jobs",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runErrors(errorsLimit); err != nil {
			fatal(err)
		}
	},
}

func init() {
	errorsCmd.Flags().IntVarP(&errorsLimit, "n", "n", 20, "Maximum number of errors to show")
}

func runErrors(limit int) error {
	cfg, err := loadConfigFromState()
	if err != nil {
		return err
	}
	state, err := loadWorkState()
	if err != nil {
		return err
	}

	type entry struct {
		Job   string `json:"job"`
		Name  string `json:"name"`
		JobID string `json:"job_id"`
		Msg   string `json:"error_msg"`
	}
	var entries []entry
	for _, job := range cfg.Jobs {
		for _, rec := range failedOf(state[job.Name]) {
			if rec.ErrorMsg == "" {
				continue
			}
			entries = append(entries, entry{job.Name, rec.Name, rec.JobID, rec.ErrorMsg})
		}
	}

	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}

	if outputFmt == "json" {
		return printJSON(entries)
	}

	for _, e := range entries {
		fmt.Printf("[%s] %s (job_id=%s): %s\n", e.Job, e.Name, e.JobID, e.Msg)
	}
	if len(entries) == 0 {
		fmt.Println("no errors recorded")
	}
	return nil
}
