// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai4up/slurm-pipeline/internal/workpkg"
)

func TestNewRun_CreatesDirectoryTree(t *testing.T) {
	base := t.TempDir()
	start := time.Date(2026, 7, 29, 10, 30, 0, 0, time.UTC)

	r, err := NewRun(base, "preprocess", start)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(base, "preprocess-2026-07-29--10-30-00"), r.Dir)
	assert.DirExists(t, r.Dir)
	assert.DirExists(t, r.WorkDir)
	assert.DirExists(t, r.TaskLogDir)
}

func TestWriteWork_IsIdempotentByteForByte(t *testing.T) {
	r, err := NewRun(t.TempDir(), "job", time.Now())
	require.NoError(t, err)

	records := []workpkg.Record{
		{Params: map[string]any{"region": "eu"}, CPUs: 2, Status: "PENDING"},
	}

	require.NoError(t, r.WriteWork(records))
	first, err := os.ReadFile(filepath.Join(r.Dir, "work.json"))
	require.NoError(t, err)

	require.NoError(t, r.WriteWork(records))
	second, err := os.ReadFile(filepath.Join(r.Dir, "work.json"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestWriteWork_KeysAreSortedAlphabetically(t *testing.T) {
	r, err := NewRun(t.TempDir(), "job", time.Now())
	require.NoError(t, err)

	records := []workpkg.Record{
		{Params: map[string]any{"region": "eu"}, CPUs: 2, Status: "PENDING", Name: "task-0"},
	}
	require.NoError(t, r.WriteWork(records))

	data, err := os.ReadFile(filepath.Join(r.Dir, "work.json"))
	require.NoError(t, err)

	var raw []map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))

	keys := make([]string, 0, len(raw[0]))
	for k := range raw[0] {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var firstKey string
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, `"`) {
			firstKey = strings.SplitN(trimmed, `"`, 3)[1]
			break
		}
	}
	assert.Equal(t, keys[0], firstKey)
}

func TestWriteSucceededAndFailed_WriteSeparateFiles(t *testing.T) {
	r, err := NewRun(t.TempDir(), "job", time.Now())
	require.NoError(t, err)

	require.NoError(t, r.WriteSucceeded([]workpkg.Record{{Status: "SUCCEEDED"}}))
	require.NoError(t, r.WriteFailed([]workpkg.Record{{Status: "FAILED"}, {Status: "FAILED"}}))

	var succeeded, failed []workpkg.Record
	readJSON(t, filepath.Join(r.Dir, "succeeded-work.json"), &succeeded)
	readJSON(t, filepath.Join(r.Dir, "failed-work.json"), &failed)

	assert.Len(t, succeeded, 1)
	assert.Len(t, failed, 2)
}

func TestWriteWorkfile_WritesUniqueFiles(t *testing.T) {
	r, err := NewRun(t.TempDir(), "job", time.Now())
	require.NoError(t, err)

	p1, err := r.WriteWorkfile([]map[string]any{{"a": 1}})
	require.NoError(t, err)
	p2, err := r.WriteWorkfile([]map[string]any{{"a": 2}})
	require.NoError(t, err)

	assert.NotEqual(t, p1, p2)
	assert.FileExists(t, p1)
	assert.FileExists(t, p2)
}

func TestTaskLogPaths(t *testing.T) {
	r, err := NewRun(t.TempDir(), "job", time.Now())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(r.TaskLogDir, "42.stdout"), r.TaskStdout("42"))
	assert.Equal(t, filepath.Join(r.TaskLogDir, "42.stderr"), r.TaskStderr("42"))
	assert.Equal(t, filepath.Join(r.TaskLogDir, "mprofile_42.dat"), r.TaskMemProfile("42"))
}

func TestRemove_DeletesWorkDirOnly(t *testing.T) {
	r, err := NewRun(t.TempDir(), "job", time.Now())
	require.NoError(t, err)

	require.NoError(t, r.Remove())
	assert.NoDirExists(t, r.WorkDir)
	assert.DirExists(t, r.Dir)
}

func readJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}
