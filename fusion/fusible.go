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
	"github.com/gomlx/hlopt/types/shapes"
)

// Capability queries deciding which instructions may participate in
// multi-output fusion at all. These are structural properties of single
// instructions; pairwise legality lives in the constraint chains of the
// driver.

// isFusibleOp returns whether the op kind can live inside a generated kernel.
func isFusibleOp(i *hlo.Instruction) bool {
	switch {
	case i.Op().IsElementwise(), i.Op().IsDataMovement(), i.Op() == hlo.OpTypeIota:
		return true
	case i.Op() == hlo.OpTypeReduce, i.Op() == hlo.OpTypeReduceWindow:
		return true
	case i.Op() == hlo.OpTypeFusion:
		return !i.IsCustomFusion()
	}
	return false
}

// IsFusibleAsMultiOutputFusionRoot returns whether the instruction can become
// (one root of) a multi-output fusion: fusible, not opaque, and not a
// variadic reduction, which cannot be nested inside another fusion.
func IsFusibleAsMultiOutputFusionRoot(i *hlo.Instruction) bool {
	return isFusibleOp(i) && !IsNestableVariadicReduction(i)
}

// IsProducerMultiOutputFusible returns whether the instruction may be absorbed
// into one of its consumers as a multi-output operand. Constants are never
// worth it (the regular fusion pass handles those), opaque custom fusions must
// not be touched, and a fusion that already is multi-output exposes its values
// only through GetTupleElement selectors, which are not re-fusible.
func IsProducerMultiOutputFusible(producer *hlo.Instruction) bool {
	switch producer.Op() {
	case hlo.OpTypeConstant, hlo.OpTypeParameter, hlo.OpTypeTuple, hlo.OpTypeGetTupleElement:
		return false
	}
	if producer.IsCustomFusion() || producer.IsMultiOutputFusion() {
		return false
	}
	return isFusibleOp(producer)
}

// IsNestableVariadicReduction returns whether the instruction is (or is a
// fusion rooted at) a variadic reduction: a Reduce producing a tuple of
// results. Those have dedicated codegen and cannot become one output among
// others.
func IsNestableVariadicReduction(i *hlo.Instruction) bool {
	if i.Op() == hlo.OpTypeReduce {
		return i.Shape().IsTuple()
	}
	if i.IsFusion() && !i.IsMultiOutputFusion() {
		root := i.FusedExpressionRoot()
		return root.Op() == hlo.OpTypeReduce && root.Shape().IsTuple()
	}
	return false
}

// IsSiblingFusionCandidate returns whether the instruction qualifies as a
// sibling in sibling fusion: it still has users, is a legal multi-output
// fusion root, and -- if already multi-output -- all of its users are plain
// GetTupleElement selectors, which is what the merge rewiring assumes.
func IsSiblingFusionCandidate(i *hlo.Instruction) bool {
	if i.UserCount() == 0 || !IsFusibleAsMultiOutputFusionRoot(i) || IsNestableVariadicReduction(i) {
		return false
	}
	if i.IsMultiOutputFusion() {
		for _, user := range i.Users() {
			if user.Op() != hlo.OpTypeGetTupleElement {
				return false
			}
		}
	}
	return true
}

// IsProfitableOperand returns whether sharing the operand across a
// multi-output fusion can save memory traffic. Effective scalars are not worth
// sharing.
func IsProfitableOperand(i *hlo.Instruction) bool {
	return !i.Shape().IsEffectiveScalar()
}

// loopShape returns the iteration shape a candidate contributes to a fused
// kernel: the first output of a fusion, the input shape for reductions (the
// loop runs over the input), the instruction's own shape otherwise.
func loopShape(i *hlo.Instruction) shapes.Shape {
	root := i
	if i.IsFusion() {
		root = i.FusedExpressionRoot()
		if root.Op() == hlo.OpTypeTuple {
			root = root.Operand(0)
		}
	}
	if root.Op().IsReduction() && root.OperandCount() > 0 {
		return root.Operand(0).Shape()
	}
	return root.Shape()
}

// ShapesCompatibleForMultiOutputFusion returns whether the outputs of the two
// candidates can be combined into one multi-output fusion's output tuple: the
// fused kernel iterates one index space, so the two loop shapes must have the
// same dimensions (dtypes are free to differ).
func ShapesCompatibleForMultiOutputFusion(a, b *hlo.Instruction) Decision {
	if !loopShape(a).EqualDimensions(loopShape(b)) {
		return Forbidf("fusion outputs have incompatible shapes")
	}
	return Allow()
}
