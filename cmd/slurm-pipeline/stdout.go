// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import "github.com/spf13/cobra"

var stdoutFlags logFlags

var stdoutCmd = &cobra.Command{
	Use:   "stdout",
	Short: "Dump task stdout logs for matching work packages",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runLogs("stdout", stdoutFlags); err != nil {
			fatal(err)
		}
	},
}

func init() {
	bindLogFlags(stdoutCmd, &stdoutFlags)
}
