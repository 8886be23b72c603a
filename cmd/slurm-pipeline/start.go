// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
)

var (
	startAccount string
	startLogDir  string
)

var startCmd = &cobra.Command{
	Use:   "start <config>",
	Short: "Start the pipeline control plane",
	Long: `Starts the control-plane daemon as a detached background process
against the given job-configuration file and records its location in the
CLI state file (~/.slurm-pipeline) for later retry/abort/status/squeue
calls.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		configPath := args[0]
		if err := runStart(configPath, startAccount, startLogDir); err != nil {
			fatal(err)
		}
	},
}

func init() {
	startCmd.Flags().StringVarP(&startAccount, "account", "a", "", "Cluster account to schedule tasks under")
	startCmd.Flags().StringVarP(&startLogDir, "log-dir", "l", ".", "Directory to store the control plane's own logs")
}

// runStart launches the daemon subcommand of this same binary as a
// detached background process. The original control plane submits
// itself as a cluster job running a python module; a compiled Go binary
// has no equivalent "python -m" entry point to hand the cluster's
// conda-activation submission template, so this port forks the daemon
// locally instead (documented in DESIGN.md) while preserving the same
// operator-facing state file and workflow.
func runStart(configPath, account, logDir string) error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve own executable path: %w", err)
	}

	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("create log dir %s: %w", logDir, err)
	}

	stdoutPath := filepath.Join(logDir, "control_plane.stdout")
	stderrPath := filepath.Join(logDir, "control_plane.stderr")

	stdoutFile, err := os.Create(stdoutPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", stdoutPath, err)
	}
	stderrFile, err := os.Create(stderrPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", stderrPath, err)
	}

	cmd := exec.Command(self, "daemon", configPath)
	cmd.Stdout = stdoutFile
	cmd.Stderr = stderrFile

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start control plane daemon: %w", err)
	}

	fmt.Printf("Pipeline control plane started. PID: %d\n", cmd.Process.Pid)

	return persistCLIState(cliState{
		Config:  configPath,
		JobID:   strconv.Itoa(cmd.Process.Pid),
		Account: account,
		Stdout:  stdoutPath,
		Stderr:  stderrPath,
	})
}
