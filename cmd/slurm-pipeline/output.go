// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"os"
)

// printJSON renders data with the same indentation the daemon uses for
// its own work.json snapshots, for `--output json` on any inspection
// command.
func printJSON(data any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "    ")
	return enc.Encode(data)
}
