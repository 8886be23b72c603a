// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var statusCaser = cases.Title(language.English)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a one-line-per-job progress summary for the active run",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runStatus(); err != nil {
			fatal(err)
		}
	},
}

func runStatus() error {
	cfg, err := loadConfigFromState()
	if err != nil {
		return err
	}
	state, err := loadWorkState()
	if err != nil {
		return err
	}

	if outputFmt == "json" {
		return printJSON(state)
	}

	fmt.Printf("%-20s %-10s %-10s %-10s %-10s %-12s\n", "JOB", "PENDING", "SUCCEEDED", "FAILED", "TOTAL", "STATUS")
	fmt.Println(strings.Repeat("-", 78))

	for _, job := range cfg.Jobs {
		records := state[job.Name]
		pending := len(pendingOf(records))
		succeeded := len(succeededOf(records))
		failed := len(failedOf(records))

		fmt.Printf("%-20s %-10d %-10d %-10d %-10d %-12s\n",
			job.Name, pending, succeeded, failed, len(records), statusCaser.String(jobStatusWord(pending, succeeded, failed)))
	}

	return nil
}

// jobStatusWord summarises a job's progress as a single lowercase word,
// title-cased for display by the caller.
func jobStatusWord(pending, succeeded, failed int) string {
	switch {
	case pending > 0:
		return "running"
	case failed > 0:
		return "failed"
	default:
		return "completed"
	}
}
