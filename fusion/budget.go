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
	"github.com/gomlx/hlopt/hlo"
	"github.com/gomlx/hlopt/types"
)

// FusionFitsInBudget checks that merging the two candidates stays within the
// device's per-kernel limits: the distinct operand buffers plus materialized
// outputs of the merged fusion, and its total body size.
func FusionFitsInBudget(a, b *hlo.Instruction, device DeviceInfo, cache *InfoCache) Decision {
	operands := types.MakeSet[*hlo.Instruction](a.OperandCount() + b.OperandCount())
	for _, operand := range a.Operands() {
		operands.Insert(operand)
	}
	for _, operand := range b.Operands() {
		operands.Insert(operand)
	}
	// Edges between the candidates become internal to the merged fusion.
	operands.Delete(a, b)
	outputs := a.MultiOutputCount() + b.MultiOutputCount()
	if len(operands)+outputs > device.MaxOperandsAndOutputsPerFusion {
		return Forbidf("fusion would have %d operands and outputs, larger than the allowed budget of %d",
			len(operands)+outputs, device.MaxOperandsAndOutputsPerFusion)
	}
	if count := cache.InstructionCount(a) + cache.InstructionCount(b); count > device.MaxFusedInstructionCount {
		return Forbidf("fusion would have %d instructions, larger than the allowed budget of %d",
			count, device.MaxFusedInstructionCount)
	}
	return Allow()
}

// LegalToFuse is the closing sibling-fusion check: it assumes the first
// candidate is a fusion, excludes in-place dynamic-update-slice roots (the
// emitter only supports a single one per kernel), and defers to the budget.
func LegalToFuse(a, b *hlo.Instruction, device DeviceInfo, cache *InfoCache) Decision {
	if !a.IsFusion() {
		return Forbidf("%s is not a fusion", a.Name())
	}
	if rootsDynamicUpdateSlice(a) || (b.IsFusion() && rootsDynamicUpdateSlice(b)) {
		return Forbidf("can't fuse multiple dynamic-update-slices")
	}
	// Do this check last, as it may be expensive.
	return FusionFitsInBudget(a, b, device, cache)
}

func rootsDynamicUpdateSlice(f *hlo.Instruction) bool {
	return f.FusedExpressionRoot().Op() == hlo.OpTypeDynamicUpdateSlice
}
