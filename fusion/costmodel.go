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
	"github.com/gomlx/exceptions"
	"github.com/gomlx/hlopt/hlo"
	"github.com/gomlx/hlopt/types/shapes"
	"github.com/pkg/errors"
)

// ShapeSizeFunc maps a shape to the bytes needed to materialize it. The
// surrounding pipeline plugs in its target's layout-aware version; the default
// is the dense packed size.
type ShapeSizeFunc func(shape shapes.Shape) int64

// DefaultShapeSize is the dense packed byte size of a shape.
func DefaultShapeSize(shape shapes.Shape) int64 {
	return int64(shape.Memory())
}

// Cost is the estimated execution cost of one instruction: arithmetic work
// and memory traffic. Fusions aggregate their body's flops but only their
// boundary (parameters and outputs) traffic -- that is the point of fusing.
type Cost struct {
	Flops         int64
	BytesAccessed int64
}

// transcendentalFlopsPerElement weighs expensive elementwise functions (exp,
// log, ...) against cheap arithmetic.
const transcendentalFlopsPerElement = 10

// CostOptions parameterizes a CostAnalysis.
type CostOptions struct {
	// ShapeSize gives the materialized byte size of a shape. Defaults to
	// DefaultShapeSize.
	ShapeSize ShapeSizeFunc

	// CountMultipleInputAccesses counts every operand slot separately, even
	// when several slots read the same buffer. Generated kernels reload
	// operands per use, so this is on by default.
	CountMultipleInputAccesses bool

	// MaxMergedInstructionCount rejects producer-consumer merges whose
	// combined body would exceed this many instructions.
	MaxMergedInstructionCount int
}

// DefaultCostOptions returns the options used when none are given.
func DefaultCostOptions() CostOptions {
	return CostOptions{
		ShapeSize:                  DefaultShapeSize,
		CountMultipleInputAccesses: true,
		MaxMergedInstructionCount:  4096,
	}
}

// CostAnalysis maintains a running cost estimate per instruction over a whole
// computation. It is incrementally maintained by explicit
// RemoveInstruction/RevisitInstruction calls bracketing each graph mutation;
// it is never silently stale.
//
// The estimates are deterministic for a fixed graph state: the same graph
// always produces the same verdicts, which keeps the fusion pass's fixed-point
// behavior reproducible.
type CostAnalysis struct {
	opts  CostOptions
	costs map[*hlo.Instruction]Cost
}

// NewCostAnalysis creates an empty analysis. Zero-valued option fields fall
// back to their defaults.
func NewCostAnalysis(opts CostOptions) *CostAnalysis {
	if opts.ShapeSize == nil {
		opts.ShapeSize = DefaultShapeSize
	}
	if opts.MaxMergedInstructionCount == 0 {
		opts.MaxMergedInstructionCount = DefaultCostOptions().MaxMergedInstructionCount
	}
	return &CostAnalysis{
		opts:  opts,
		costs: make(map[*hlo.Instruction]Cost),
	}
}

// Accept seeds the analysis with every instruction of the computation.
func (a *CostAnalysis) Accept(c *hlo.Computation) error {
	for _, i := range c.MakeInstructionPostOrder() {
		a.costs[i] = a.computeCost(i)
	}
	return nil
}

// Cost returns the current estimate for the instruction. The entry must
// exist: a missing entry means a mutation site forgot its
// Remove/Revisit bracket, and continuing with made-up numbers would make the
// pass's decisions unreproducible.
func (a *CostAnalysis) Cost(i *hlo.Instruction) Cost {
	cost, found := a.costs[i]
	if !found {
		exceptions.Panicf("cost analysis has no entry for %s. This should never happen.", i.Name())
	}
	return cost
}

// RemoveInstruction excises the instruction's contribution. It must be called
// before the instruction is merged away or deleted.
func (a *CostAnalysis) RemoveInstruction(i *hlo.Instruction) error {
	if _, found := a.costs[i]; !found {
		return errors.Errorf("cost analysis cannot remove %s: no entry", i.Name())
	}
	delete(a.costs, i)
	return nil
}

// Forget drops the entry of an instruction that left the computation as a
// side effect of a merge, such as a tuple selector that lost its last user.
// Unlike RemoveInstruction it tolerates instructions that never had an entry,
// since selectors minted by an earlier merge are not re-seeded.
func (a *CostAnalysis) Forget(i *hlo.Instruction) {
	delete(a.costs, i)
}

// RevisitInstruction recomputes the cost of the (possibly now-larger)
// surviving instruction. It must be called after each mutation.
func (a *CostAnalysis) RevisitInstruction(i *hlo.Instruction) error {
	if i.Parent() == nil {
		return errors.Errorf("cost analysis cannot revisit %s: instruction was removed", i.Name())
	}
	a.costs[i] = a.computeCost(i)
	return nil
}

// ProducerConsumerMergedTooLarge guards against runaway code duplication: the
// merged body of the candidate pair must not exceed the configured
// instruction count.
func (a *CostAnalysis) ProducerConsumerMergedTooLarge(producer, consumer *hlo.Instruction) bool {
	merged := producer.FusedInstructionCount() + consumer.FusedInstructionCount()
	return merged > a.opts.MaxMergedInstructionCount
}

func (a *CostAnalysis) operandBytes(i *hlo.Instruction) int64 {
	var total int64
	if a.opts.CountMultipleInputAccesses {
		for _, operand := range i.Operands() {
			total += a.opts.ShapeSize(operand.Shape())
		}
		return total
	}
	seen := make(map[*hlo.Instruction]struct{}, i.OperandCount())
	for _, operand := range i.Operands() {
		if _, found := seen[operand]; found {
			continue
		}
		seen[operand] = struct{}{}
		total += a.opts.ShapeSize(operand.Shape())
	}
	return total
}

func (a *CostAnalysis) computeCost(i *hlo.Instruction) Cost {
	switch {
	case i.Op() == hlo.OpTypeParameter, i.Op() == hlo.OpTypeConstant,
		i.Op() == hlo.OpTypeIota, i.Op() == hlo.OpTypeTuple,
		i.Op() == hlo.OpTypeGetTupleElement:
		// Free: either no kernel at all, or pure buffer aliasing.
		return Cost{}

	case i.IsFusion():
		// Flops of the whole body, traffic only at the fusion boundary.
		var flops int64
		for _, fused := range i.FusedComputation().Instructions() {
			if fused.Op() == hlo.OpTypeParameter || fused.IsFusion() {
				continue
			}
			flops += a.computeCost(fused).Flops
		}
		return Cost{
			Flops:         flops,
			BytesAccessed: a.operandBytes(i) + a.opts.ShapeSize(i.Shape()),
		}

	case i.Op().IsElementwise():
		perElement := int64(1)
		if i.Op().IsTranscendental() {
			perElement = transcendentalFlopsPerElement
		}
		return Cost{
			Flops:         int64(i.Shape().Size()) * perElement,
			BytesAccessed: a.operandBytes(i) + a.opts.ShapeSize(i.Shape()),
		}

	case i.Op().IsReduction():
		// One accumulation per input element.
		var flops int64
		if i.OperandCount() > 0 {
			flops = int64(i.Operand(0).Shape().Size())
		}
		return Cost{
			Flops:         flops,
			BytesAccessed: a.operandBytes(i) + a.opts.ShapeSize(i.Shape()),
		}

	default:
		// Data movement and opaque calls: traffic only.
		return Cost{
			BytesAccessed: a.operandBytes(i) + a.opts.ShapeSize(i.Shape()),
		}
	}
}
