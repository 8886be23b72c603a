// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/ai4up/slurm-pipeline/internal/workpkg"
)

// logFlags is the shared --job/--job-id/--params/--failed/--control flag
// set for the stdout and stderr inspection commands.
type logFlags struct {
	job     string
	jobID   string
	params  string
	failed  bool
	control bool
}

func bindLogFlags(cmd *cobra.Command, f *logFlags) {
	cmd.Flags().StringVar(&f.job, "job", "", "Only show logs for this job")
	cmd.Flags().StringVar(&f.jobID, "job-id", "", "Only show logs for this cluster job id")
	cmd.Flags().StringVar(&f.params, "params", "", "Only show logs for work packages whose params match this regex")
	cmd.Flags().BoolVar(&f.failed, "failed", false, "Only show logs for FAILED work packages")
	cmd.Flags().BoolVar(&f.control, "control", false, "Show the control plane's own daemon log instead of a work package's")
}

// runLogs prints the requested log stream (stdout or stderr) for every
// work package matching f, or the control plane's own daemon log when
// f.control is set.
func runLogs(stream string, f logFlags) error {
	if f.control {
		return dumpControlLog(stream)
	}

	cfg, err := loadConfigFromState()
	if err != nil {
		return err
	}
	state, err := loadWorkState()
	if err != nil {
		return err
	}

	var paramsRe *regexp.Regexp
	if f.params != "" {
		paramsRe, err = regexp.Compile(f.params)
		if err != nil {
			return fmt.Errorf("invalid --params regex %q: %w", f.params, err)
		}
	}

	printed := 0
	for _, job := range cfg.Jobs {
		if f.job != "" && job.Name != f.job {
			continue
		}

		for _, rec := range state[job.Name] {
			if !matchesLogFilter(rec, f, paramsRe) {
				continue
			}

			path := rec.Stdout
			if stream == "stderr" {
				path = rec.Stderr
			}
			if path == "" {
				continue
			}

			fmt.Printf("==> %s (%s) <==\n", rec.Name, path)
			data, err := os.ReadFile(path)
			if err != nil {
				fmt.Printf("(could not read log: %v)\n\n", err)
				continue
			}
			fmt.Println(string(data))
			printed++
		}
	}

	if printed == 0 {
		fmt.Println("no matching work packages")
	}
	return nil
}

func matchesLogFilter(rec workpkg.Record, f logFlags, paramsRe *regexp.Regexp) bool {
	if f.jobID != "" && rec.JobID != f.jobID {
		return false
	}
	if f.failed && rec.Status != "FAILED" {
		return false
	}
	if paramsRe != nil && !paramsRe.MatchString(fmt.Sprint(rec.Params)) {
		return false
	}
	return true
}

func dumpControlLog(stream string) error {
	s, err := loadCLIState()
	if err != nil {
		return err
	}

	path := s.Stdout
	if stream == "stderr" {
		path = s.Stderr
	}
	if path == "" {
		return fmt.Errorf("no control-plane %s log recorded for the active run", stream)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	fmt.Println(string(data))
	return nil
}
