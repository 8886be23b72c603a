// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package cluster

// Hardware ceilings the adapter enforces before every submission. These
// mirror a typical university HPC allocation; operators running against a
// differently sized cluster should fork rather than configure, since the
// values double as a sanity check against typo'd resource requests.
const (
	MaxArraySize = 3000

	MaxCPUs    = 128
	MemPerCPU  = 4000 // MB per CPU on a standard-memory partition
	MaxMem     = 500000

	MaxGPUCPUs   = 32
	GPUMemPerGPU = 40000 // MB per GPU on a GPU partition
	MaxGPUMem    = 320000

	// IOPartition is the partition that serves I/O-bound jobs. It does
	// not accept array submissions and is pinned to the "io" QoS.
	IOPartition = "io"
	ioQoS       = "io"

	qosShort  = "short"
	qosMedium = "medium"
	qosLong   = "long"

	shortMaxHours  = 24
	mediumMaxHours = 24 * 7
)
