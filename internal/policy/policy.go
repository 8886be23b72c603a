// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package policy resolves the resource request a work package submits
// with, overlaying job-configuration special cases onto the job's
// default resources.
package policy

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ai4up/slurm-pipeline/internal/cluster"
	"github.com/ai4up/slurm-pipeline/pkg/config"
	pipelineerrors "github.com/ai4up/slurm-pipeline/pkg/errors"
)

var interpolationPattern = regexp.MustCompile(`{{(.*?)}}`)

// EffectiveResources starts from job.Resources and, for the first
// special case whose files rule matches params, overlays that case's
// resource overrides on top of the defaults. A special case matches
// when the total size of the file(s)/directory/glob its path resolves
// to (after {{var}} interpolation against params) falls within
// [SizeMin, SizeMax]. A path that cannot be resolved or read fails the
// call with a PolicyError; it never matches silently.
func EffectiveResources(job config.Job, params map[string]string) (cluster.Resources, error) {
	defaults := toClusterResources(job.Resources)

	for _, sc := range job.SpecialCases {
		if sc.Files.Path == "" {
			continue
		}

		path, err := interpolate(sc.Files.Path, params)
		if err != nil {
			return cluster.Resources{}, pipelineerrors.NewPolicyError(pipelineerrors.ErrorCodePolicyPathMissing, err.Error(), sc.Files.Path, err)
		}

		size, err := filesSize(path)
		if err != nil {
			return cluster.Resources{}, pipelineerrors.NewPolicyError(pipelineerrors.ErrorCodePolicyPathUnreadable, "cannot resolve special case files path "+path, path, err)
		}

		max := sc.Files.SizeMax
		if max == 0 {
			max = maxInt64
		}
		if size >= sc.Files.SizeMin && size <= max {
			return overlay(defaults, sc.Resources), nil
		}
	}

	return defaults, nil
}

const maxInt64 = 1<<63 - 1

func toClusterResources(r config.Resources) cluster.Resources {
	return cluster.Resources{CPUs: r.CPUs, Mem: r.Mem, Time: r.Time, Partition: r.Partition}
}

// overlay returns defaults with every non-zero field of override applied
// on top, mirroring the original's dict-merge `{**defaults, **override}`.
func overlay(defaults cluster.Resources, override config.Resources) cluster.Resources {
	merged := defaults
	if override.CPUs != 0 {
		merged.CPUs = override.CPUs
	}
	if override.Mem != 0 {
		merged.Mem = override.Mem
	}
	if override.Time != "" {
		merged.Time = override.Time
	}
	if override.Partition != "" {
		merged.Partition = override.Partition
	}
	return merged
}

// interpolate substitutes every {{var}} token in path with params[var].
// A referenced variable absent from params is an error: the original
// pipeline treats it as a KeyError, we surface it as a resolvable path
// failure rather than submitting a job against a mangled path.
func interpolate(path string, params map[string]string) (string, error) {
	var missing []string
	result := interpolationPattern.ReplaceAllStringFunc(path, func(tok string) string {
		name := interpolationPattern.FindStringSubmatch(tok)[1]
		value, ok := params[name]
		if !ok {
			missing = append(missing, name)
			return tok
		}
		return value
	})

	if len(missing) > 0 {
		return "", pipelineerrors.NewPolicyError(pipelineerrors.ErrorCodePolicyPathMissing,
			"missing parameter(s) for special case path interpolation: "+strings.Join(missing, ", "), path, nil)
	}

	return result, nil
}

// filesSize sums the size of every regular file path resolves to: a glob
// pattern (path containing "*"), a directory (recursively), or a single
// file. A path that resolves to nothing existing on disk is an error —
// the original pipeline silently sums zero over an empty list, but that
// masks a misconfigured special case, so this port fails loudly instead.
func filesSize(path string) (int64, error) {
	var files []string

	switch {
	case strings.Contains(path, "*"):
		matches, err := filepath.Glob(path)
		if err != nil {
			return 0, err
		}
		if len(matches) == 0 {
			return 0, &os.PathError{Op: "glob", Path: path, Err: os.ErrNotExist}
		}
		files = matches
	default:
		info, err := os.Stat(path)
		if err != nil {
			return 0, err
		}
		if info.IsDir() {
			err := filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if !d.IsDir() {
					files = append(files, p)
				}
				return nil
			})
			if err != nil {
				return 0, err
			}
		} else {
			files = []string{path}
		}
	}

	var total int64
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		if info.Mode().IsRegular() {
			total += info.Size()
		}
	}

	return total, nil
}
