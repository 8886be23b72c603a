// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import "github.com/spf13/cobra"

var stderrFlags logFlags

var stderrCmd = &cobra.Command{
	Use:   "stderr",
	Short: "Dump task stderr logs for matching work packages",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runLogs("stderr", stderrFlags); err != nil {
			fatal(err)
		}
	},
}

func init() {
	bindLogFlags(stderrCmd, &stderrFlags)
}
