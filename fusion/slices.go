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
)

// sliceSharingThresholdBytes is how large a shared operand must be before
// non-overlapping slice consumption vetoes a sibling fusion. Below it, sharing
// the operand is cheap regardless of overlap.
const sliceSharingThresholdBytes = 1024

// FindUniqueSlice finds the unique Slice through which parent is consumed by
// instr: either instr itself is a slice, or instr is a fusion whose parameter
// bound to parent feeds exactly one user chain ending at a slice. Returns nil
// if there is no such unique slice.
func FindUniqueSlice(parent, instr *hlo.Instruction) *hlo.Instruction {
	switch {
	case instr.Op() == hlo.OpTypeSlice:
		return instr
	case instr.IsFusion():
		var result *hlo.Instruction
		for idx := 0; idx < instr.OperandCount(); idx++ {
			if instr.Operand(idx) != parent {
				continue
			}
			// Parent bound more than once -> there's no unique slice.
			if result != nil {
				return nil
			}
			param := instr.FusedParameter(idx)
			if param.UserCount() != 1 {
				return nil
			}
			result = FindUniqueSlice(param, param.Users()[0])
			if result == nil {
				return nil
			}
		}
		return result
	default:
		return nil
	}
}

// ParameterSlicesAreNonOverlapping vetoes a sibling pair that provably reads
// disjoint element ranges of the same large shared parent: fusing them would
// share nothing, only inflate the kernel. Pairs whose slices overlap on every
// axis (or that don't slice the parent at all) are not vetoed by this
// predicate.
func ParameterSlicesAreNonOverlapping(a, b, parent *hlo.Instruction) Decision {
	if parent.Shape().IsTuple() {
		return Allow()
	}
	// Allow multi-output fusion if the parameter is small, even if there's no
	// overlap.
	if parent.Shape().Memory() < sliceSharingThresholdBytes {
		return Allow()
	}

	slice1 := FindUniqueSlice(parent, a)
	slice2 := FindUniqueSlice(parent, b)
	if slice1 == nil || slice2 == nil {
		return Allow()
	}

	// TODO: check strides as well.
	starts1, limits1 := slice1.SliceStarts(), slice1.SliceLimits()
	starts2, limits2 := slice2.SliceStarts(), slice2.SliceLimits()
	for dim := 0; dim < parent.Shape().Rank(); dim++ {
		overlap := starts1[dim] < limits2[dim] && starts2[dim] < limits1[dim]
		if !overlap {
			return Forbidf("slices are non-overlapping")
		}
	}
	return Allow()
}
