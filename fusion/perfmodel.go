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
	"time"

	"github.com/gomlx/hlopt/hlo"
)

// RunTimes compares the estimated execution time of a producer-consumer group
// fused into one kernel against running each instruction as its own kernel.
type RunTimes struct {
	TimeFused   time.Duration
	TimeUnfused time.Duration
}

// EstimateRunTimes models both schedules for a producer and a set of its
// consumers with a roofline estimate: each kernel pays a fixed launch
// overhead plus the larger of its compute time and its memory time.
//
// The fused kernel does not materialize the producer's result for in-kernel
// consumption. Every consumer instead re-derives the producer's value per
// element it reads, so the producer's work and input traffic scale with the
// consumer's read multiplicity. That is what makes fusing a large reduction
// into a wide consumer a loss even though it saves a kernel launch.
//
// With multiOutput the producer's result is additionally written out once for
// its remaining external users.
//
// The estimate is deterministic for fixed inputs.
func EstimateRunTimes(producer *hlo.Instruction, consumers []*hlo.Instruction,
	analysis *CostAnalysis, device DeviceInfo, useExperimentalBlockSize bool,
	multiOutput bool) RunTimes {
	launch := device.KernelLaunchOverhead
	if useExperimentalBlockSize {
		// Better occupancy from the experimental block sizing amortizes a
		// part of the per-kernel fixed cost.
		launch = launch * 3 / 4
	}

	producerCost := analysis.Cost(producer)
	producerOutBytes := analysis.opts.ShapeSize(producer.Shape())
	producerInBytes := producerCost.BytesAccessed - producerOutBytes
	if producerInBytes < 0 {
		producerInBytes = 0
	}

	unfused := launch + kernelTime(device, producerCost.Flops, producerCost.BytesAccessed)

	var fusedFlops, fusedBytes int64
	for _, consumer := range consumers {
		consumerCost := analysis.Cost(consumer)
		unfused += launch + kernelTime(device, consumerCost.Flops, consumerCost.BytesAccessed)

		m := readMultiplicity(producer, consumer)
		fusedFlops += consumerCost.Flops + producerCost.Flops*m
		reads := countProducerReads(producer, consumer) * producerOutBytes
		bytes := consumerCost.BytesAccessed - reads + producerInBytes*m
		if bytes < 0 {
			bytes = 0
		}
		fusedBytes += bytes
	}
	if multiOutput {
		fusedBytes += producerOutBytes
	}
	fused := launch + kernelTime(device, fusedFlops, fusedBytes)

	return RunTimes{TimeFused: fused, TimeUnfused: unfused}
}

func kernelTime(device DeviceInfo, flops, bytes int64) time.Duration {
	compute := float64(flops) / device.FlopsPerSecond()
	memory := float64(bytes) / float64(device.MemoryBandwidth)
	seconds := compute
	if memory > seconds {
		seconds = memory
	}
	return time.Duration(seconds * float64(time.Second))
}

// countProducerReads counts the consumer's operand slots that read the
// producer's value, stepping through tuple selectors.
func countProducerReads(producer, consumer *hlo.Instruction) int64 {
	var slots int64
	for _, operand := range consumer.Operands() {
		if operand == producer {
			slots++
			continue
		}
		if operand.Op() == hlo.OpTypeGetTupleElement && operand.Operand(0) == producer {
			slots++
		}
	}
	if slots == 0 {
		slots = 1
	}
	return slots
}

// readMultiplicity estimates how many times the fused kernel evaluates the
// producer per element it produces: the consumer's iteration count over the
// producer's output element count, times the number of slots reading it. It
// is 1 for same-shape elementwise consumers and large when a small result
// feeds a wide consumer (the broadcast-of-a-reduction shape).
func readMultiplicity(producer, consumer *hlo.Instruction) int64 {
	producerElems := int64(producer.Shape().Size())
	if producer.Shape().IsTuple() {
		producerElems = 0
		for _, ts := range producer.Shape().TupleShapes {
			producerElems += int64(ts.Size())
		}
	}
	if producerElems <= 0 {
		producerElems = 1
	}
	consumerIters := int64(loopShape(consumer).Size())
	m := consumerIters / producerElems
	if m < 1 {
		m = 1
	}
	return m * countProducerReads(producer, consumer)
}
