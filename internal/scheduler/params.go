// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"github.com/ai4up/slurm-pipeline/pkg/config"
	pipelineerrors "github.com/ai4up/slurm-pipeline/pkg/errors"
)

// LoadParams resolves a job's parameter bundles per §6.1: either
// concatenating every param_files entry (each a JSON array of param
// objects) or, for param_generator_file, executing the generator and
// decoding its stdout as a JSON array of param objects. Config
// validation already enforces the XOR between the two.
func LoadParams(job config.Job) ([]map[string]any, error) {
	if job.ParamGeneratorFile != "" {
		return loadFromGenerator(job.ParamGeneratorFile, job.N)
	}
	return loadFromFiles(job.ParamFiles, job.N)
}

func loadFromFiles(paths []string, n *int) ([]map[string]any, error) {
	var all []map[string]any
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, pipelineerrors.NewConfigError(pipelineerrors.ErrorCodeInvalidValue,
				fmt.Sprintf("cannot read param file %s", path), path, err)
		}

		var bundles []map[string]any
		if err := json.Unmarshal(data, &bundles); err != nil {
			return nil, pipelineerrors.NewConfigError(pipelineerrors.ErrorCodeInvalidValue,
				fmt.Sprintf("param file %s is not a JSON array of objects", path), path, err)
		}

		if n != nil && len(bundles) > *n {
			bundles = bundles[:*n]
		}
		all = append(all, bundles...)
	}
	return all, nil
}

func loadFromGenerator(path string, n *int) ([]map[string]any, error) {
	cmd := exec.Command(path)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, pipelineerrors.NewConfigError(pipelineerrors.ErrorCodeInvalidValue,
			fmt.Sprintf("param generator %s failed: %s", path, stderr.String()), path, err)
	}

	var bundles []map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &bundles); err != nil {
		return nil, pipelineerrors.NewConfigError(pipelineerrors.ErrorCodeInvalidValue,
			fmt.Sprintf("param generator %s did not emit a JSON array of objects", path), path, err)
	}

	if n != nil && len(bundles) > *n {
		bundles = bundles[:*n]
	}
	return bundles, nil
}
