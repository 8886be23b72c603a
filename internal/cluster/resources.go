// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package cluster

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ai4up/slurm-pipeline/pkg/logging"
)

// Resources is a declarative resource request passed to the cluster
// adapter. Mem, Time and Partition are optional; zero values mean "let
// the adapter decide".
type Resources struct {
	CPUs      int
	Mem       int // megabytes; 0 means scheduler default
	Time      string
	Partition string
	GPU       bool
}

// Key returns the tuple the Scheduler groups queued work packages by so
// that identically-resourced packages share one array submission.
func (r Resources) Key() string {
	return fmt.Sprintf("%d|%d|%s|%s", r.CPUs, r.Mem, r.Time, r.Partition)
}

// Clamp caps CPU and memory requests at the hardware maxima, logging a
// warning for every value it had to reduce.
func Clamp(r Resources, logger logging.Logger) Resources {
	maxCPUs, maxMem, memPerCPU := MaxCPUs, MaxMem, MemPerCPU
	if r.GPU {
		maxCPUs, maxMem, memPerCPU = MaxGPUCPUs, MaxGPUMem, GPUMemPerGPU
	}

	clamped := r
	if clamped.CPUs > maxCPUs {
		logger.Warn("clamping cpu request to hardware maximum", "requested", clamped.CPUs, "max", maxCPUs)
		clamped.CPUs = maxCPUs
	}

	requestedMem := clamped.Mem
	if requestedMem == 0 {
		requestedMem = clamped.CPUs * memPerCPU
	}
	if requestedMem > maxMem {
		logger.Warn("clamping memory request to hardware maximum", "requested", requestedMem, "max", maxMem)
		clamped.Mem = maxMem
	}

	return clamped
}

// EffectiveMem returns the memory actually allocated for r: the explicit
// Mem if set, otherwise cpus * mem-per-cpu for the relevant hardware
// class.
func EffectiveMem(r Resources) int {
	if r.Mem > 0 {
		return r.Mem
	}
	if r.GPU {
		return r.CPUs * GPUMemPerGPU
	}
	return r.CPUs * MemPerCPU
}

// MaxMemFor returns the hard memory ceiling for r's hardware class, used
// by the scheduler's OOM policy to decide whether a package can still be
// retried with more memory.
func MaxMemFor(r Resources) int {
	if r.GPU {
		return MaxGPUMem
	}
	return MaxMem
}

// PartitionFor auto-chooses a partition from CPU/memory thresholds when
// the caller left Partition unset.
func PartitionFor(r Resources) string {
	if r.Partition != "" {
		return r.Partition
	}
	if r.GPU {
		return "gpu"
	}
	if EffectiveMem(r) > MemPerCPU*16 {
		return "highmem"
	}
	return "standard"
}

// QoSFor derives the QoS class from a resource request's wall-time.
// The io partition is pinned to the io QoS regardless of wall-time.
func QoSFor(r Resources) string {
	partition := PartitionFor(r)
	if partition == IOPartition {
		return ioQoS
	}

	d, err := ParseTime(r.Time)
	if err != nil || d <= 0 {
		return qosShort
	}

	switch {
	case d <= shortMaxHours*time.Hour:
		return qosShort
	case d <= mediumMaxHours*time.Hour:
		return qosMedium
	default:
		return qosLong
	}
}

// SupportsArray reports whether r's partition accepts array submissions.
func SupportsArray(r Resources) bool {
	return PartitionFor(r) != IOPartition
}

// ParseTime parses the batch-scheduler time grammar:
// "M", "M:S", "H:M:S", "D-H", "D-H:M", "D-H:M:S". An empty string yields
// zero duration. The unit of a bare integer is minutes.
func ParseTime(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	var days int
	hasDays := false
	rest := s
	if idx := strings.Index(s, "-"); idx >= 0 {
		d, err := strconv.Atoi(s[:idx])
		if err != nil {
			return 0, fmt.Errorf("invalid day component in duration %q: %w", s, err)
		}
		days = d
		hasDays = true
		rest = s[idx+1:]
	}

	parts := strings.Split(rest, ":")
	var hours, minutes, seconds int
	var err error

	switch {
	case hasDays && len(parts) == 1: // D-H
		hours, err = strconv.Atoi(parts[0])
	case hasDays && len(parts) == 2: // D-H:M
		hours, err = strconv.Atoi(parts[0])
		if err == nil {
			minutes, err = strconv.Atoi(parts[1])
		}
	case hasDays && len(parts) == 3: // D-H:M:S
		hours, err = strconv.Atoi(parts[0])
		if err == nil {
			minutes, err = strconv.Atoi(parts[1])
		}
		if err == nil {
			seconds, err = strconv.Atoi(parts[2])
		}
	case len(parts) == 1: // M
		minutes, err = strconv.Atoi(parts[0])
	case len(parts) == 2: // M:S
		minutes, err = strconv.Atoi(parts[0])
		if err == nil {
			seconds, err = strconv.Atoi(parts[1])
		}
	case len(parts) == 3: // H:M:S
		hours, err = strconv.Atoi(parts[0])
		if err == nil {
			minutes, err = strconv.Atoi(parts[1])
		}
		if err == nil {
			seconds, err = strconv.Atoi(parts[2])
		}
	default:
		return 0, fmt.Errorf("unrecognised duration grammar: %q", s)
	}

	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}

	total := time.Duration(days)*24*time.Hour +
		time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds)*time.Second

	return total, nil
}

// FormatTime renders a duration back into the D-H:M:S form sbatch's
// --time flag expects.
func FormatTime(d time.Duration) string {
	totalSeconds := int64(d.Seconds())
	days := totalSeconds / 86400
	totalSeconds %= 86400
	hours := totalSeconds / 3600
	totalSeconds %= 3600
	minutes := totalSeconds / 60
	seconds := totalSeconds % 60

	if days > 0 {
		return fmt.Sprintf("%d-%02d:%02d:%02d", days, hours, minutes, seconds)
	}
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}
