/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package fusion

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// ComputeCapability identifies the accelerator generation. Heuristics may key
// on it; the fusion algorithm's structure never does.
type ComputeCapability struct {
	Major, Minor int
}

// AtLeast returns whether the capability is >= major.minor.
func (cc ComputeCapability) AtLeast(major, minor int) bool {
	return cc.Major > major || (cc.Major == major && cc.Minor >= minor)
}

// String implements fmt.Stringer.
func (cc ComputeCapability) String() string {
	return fmt.Sprintf("%d.%d", cc.Major, cc.Minor)
}

// DeviceInfo describes the accelerator the fused kernels will run on. It
// parameterizes the budget and profitability predicates; the pass itself is
// device-agnostic.
type DeviceInfo struct {
	Name       string
	Capability ComputeCapability

	// CoreCount and ClockGHz determine the peak arithmetic rate together with
	// FlopsPerClockPerCore.
	CoreCount            int
	ClockGHz             float64
	FlopsPerClockPerCore int

	// MemoryBandwidth in bytes per second.
	MemoryBandwidth int64

	// SharedMemoryPerBlock and ThreadsPerBlockLimit bound one kernel's
	// resources.
	SharedMemoryPerBlock int64
	ThreadsPerBlockLimit int

	// KernelLaunchOverhead is the fixed cost of dispatching one kernel;
	// fusing kernels amortizes it.
	KernelLaunchOverhead time.Duration

	// MaxOperandsAndOutputsPerFusion bounds a fused kernel's parameter-space
	// footprint: distinct operands plus materialized outputs.
	MaxOperandsAndOutputsPerFusion int

	// MaxFusedInstructionCount bounds the body size of one fusion.
	MaxFusedInstructionCount int
}

// FlopsPerSecond returns the peak arithmetic rate of the device.
func (d DeviceInfo) FlopsPerSecond() float64 {
	return float64(d.CoreCount) * d.ClockGHz * 1e9 * float64(d.FlopsPerClockPerCore)
}

// String implements fmt.Stringer.
func (d DeviceInfo) String() string {
	return fmt.Sprintf("%s (cc %s, %d cores @ %.2fGHz, %s/s memory bandwidth, %s shared memory/block)",
		d.Name, d.Capability, d.CoreCount, d.ClockGHz,
		humanize.Bytes(uint64(d.MemoryBandwidth)), humanize.Bytes(uint64(d.SharedMemoryPerBlock)))
}

// DefaultDeviceInfo returns a generic datacenter-accelerator description,
// suitable for tests and tools that don't care about an exact device.
func DefaultDeviceInfo() DeviceInfo {
	return DeviceInfo{
		Name:                           "generic-accelerator",
		Capability:                     ComputeCapability{Major: 8, Minor: 0},
		CoreCount:                      108,
		ClockGHz:                       1.41,
		FlopsPerClockPerCore:           128,
		MemoryBandwidth:                1_555_000_000_000,
		SharedMemoryPerBlock:           48 * 1024,
		ThreadsPerBlockLimit:           1024,
		KernelLaunchOverhead:           5 * time.Microsecond,
		MaxOperandsAndOutputsPerFusion: 96,
		MaxFusedInstructionCount:       4096,
	}
}
