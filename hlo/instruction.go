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

package hlo

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/hlopt/types"
	"github.com/gomlx/hlopt/types/shapes"
)

// FusionKind describes the code-generation strategy of a Fusion instruction.
type FusionKind int

const (
	// FusionKindNone marks a non-fusion instruction.
	FusionKindNone FusionKind = iota

	// FusionKindLoop fusions are emitted as a single elementwise loop.
	FusionKindLoop

	// FusionKindInput fusions have a reduction (or similar input-bound op) at
	// the root, the loop runs over the input.
	FusionKindInput

	// FusionKindOutput fusions have a reduction feeding elementwise ops.
	FusionKindOutput

	// FusionKindCustom fusions are opaque to the optimizer and are never
	// merged with anything.
	FusionKindCustom
)

// String implements fmt.Stringer.
func (k FusionKind) String() string {
	switch k {
	case FusionKindNone:
		return "none"
	case FusionKindLoop:
		return "loop"
	case FusionKindInput:
		return "input"
	case FusionKindOutput:
		return "output"
	case FusionKindCustom:
		return "custom"
	}
	return fmt.Sprintf("FusionKind(%d)", int(k))
}

// Instruction is a single operation node in a Computation graph.
//
// Operand edges point at the producers of this instruction's inputs; user
// edges are the non-owning back-references, one entry per distinct consumer
// (an instruction that uses the same operand twice appears once in its user
// list). Both directions are kept consistent by every mutation primitive.
type Instruction struct {
	id     int
	name   string
	op     OpType
	shape  shapes.Shape
	parent *Computation

	operands []*Instruction
	users    []*Instruction
	userSet  types.Set[*Instruction]

	// Fusion instructions only:
	kind  FusionKind
	fused *Computation

	// Slice instructions only:
	sliceStarts, sliceLimits, sliceStrides []int

	// GetTupleElement instructions only:
	tupleIndex int

	// Parameter instructions only:
	parameterNumber int
}

// Name of the instruction, unique within its Computation.
func (i *Instruction) Name() string { return i.name }

// Op returns the operation kind.
func (i *Instruction) Op() OpType { return i.op }

// Shape of the instruction's output. Multi-output fusions have tuple shapes.
func (i *Instruction) Shape() shapes.Shape { return i.shape }

// Parent returns the Computation that owns this instruction, or nil after it
// has been removed.
func (i *Instruction) Parent() *Computation { return i.parent }

// Operands returns the ordered operand list. The returned slice is owned by
// the instruction and must not be mutated.
func (i *Instruction) Operands() []*Instruction { return i.operands }

// Operand returns the idx-th operand.
func (i *Instruction) Operand(idx int) *Instruction {
	if idx < 0 || idx >= len(i.operands) {
		exceptions.Panicf("instruction %s has %d operands, tried to access operand %d", i.name, len(i.operands), idx)
	}
	return i.operands[idx]
}

// OperandCount returns the number of operand slots (counting duplicates).
func (i *Instruction) OperandCount() int { return len(i.operands) }

// Users returns the distinct consumers of this instruction, in the order they
// first became users. The returned slice is owned by the instruction.
func (i *Instruction) Users() []*Instruction { return i.users }

// UserCount returns the number of distinct consumers.
func (i *Instruction) UserCount() int { return len(i.users) }

// IsFusion returns whether this is a Fusion instruction.
func (i *Instruction) IsFusion() bool { return i.op == OpTypeFusion }

// IsCustomFusion returns whether this is an opaque custom fusion, which the
// optimizer must never touch.
func (i *Instruction) IsCustomFusion() bool {
	return i.op == OpTypeFusion && i.kind == FusionKindCustom
}

// IsMultiOutputFusion returns whether this fusion produces a tuple of outputs.
func (i *Instruction) IsMultiOutputFusion() bool {
	return i.op == OpTypeFusion && i.fused != nil && i.fused.root != nil &&
		i.fused.root.op == OpTypeTuple
}

// IsInputFusion returns whether this is an input-kind fusion.
func (i *Instruction) IsInputFusion() bool {
	return i.op == OpTypeFusion && i.kind == FusionKindInput
}

// Kind returns the FusionKind, FusionKindNone for non-fusions.
func (i *Instruction) Kind() FusionKind { return i.kind }

// SetFusionKind changes the codegen strategy of a fusion instruction.
func (i *Instruction) SetFusionKind(kind FusionKind) {
	if !i.IsFusion() {
		exceptions.Panicf("SetFusionKind called on non-fusion instruction %s", i.name)
	}
	i.kind = kind
}

// FusedComputation returns the fusion body, nil for non-fusions.
func (i *Instruction) FusedComputation() *Computation { return i.fused }

// FusedExpressionRoot returns the root of the fusion body. For multi-output
// fusions that is a Tuple instruction.
func (i *Instruction) FusedExpressionRoot() *Instruction {
	if !i.IsFusion() {
		exceptions.Panicf("FusedExpressionRoot called on non-fusion instruction %s", i.name)
	}
	return i.fused.root
}

// FusedParameter returns the fusion body's parameter bound to operand idx.
func (i *Instruction) FusedParameter(idx int) *Instruction {
	if !i.IsFusion() {
		exceptions.Panicf("FusedParameter called on non-fusion instruction %s", i.name)
	}
	return i.fused.parameters[idx]
}

// FusedInstructionCount returns the number of instructions in the fusion body
// (including parameters), or 1 for a non-fusion instruction.
func (i *Instruction) FusedInstructionCount() int {
	if !i.IsFusion() {
		return 1
	}
	return len(i.fused.instructions)
}

// MultiOutputCount returns how many outputs this instruction materializes: the
// tuple size for multi-output fusions, 1 otherwise.
func (i *Instruction) MultiOutputCount() int {
	if i.IsMultiOutputFusion() {
		return i.shape.TupleSize()
	}
	return 1
}

// TupleIndex returns the element index of a GetTupleElement instruction.
func (i *Instruction) TupleIndex() int {
	if i.op != OpTypeGetTupleElement {
		exceptions.Panicf("TupleIndex called on non-GetTupleElement instruction %s", i.name)
	}
	return i.tupleIndex
}

// ParameterNumber returns the position of a Parameter instruction.
func (i *Instruction) ParameterNumber() int {
	if i.op != OpTypeParameter {
		exceptions.Panicf("ParameterNumber called on non-Parameter instruction %s", i.name)
	}
	return i.parameterNumber
}

// SliceStarts returns the per-axis start offsets of a Slice instruction.
func (i *Instruction) SliceStarts() []int { return i.sliceStarts }

// SliceLimits returns the per-axis (exclusive) end offsets of a Slice instruction.
func (i *Instruction) SliceLimits() []int { return i.sliceLimits }

// SliceStrides returns the per-axis strides of a Slice instruction.
func (i *Instruction) SliceStrides() []int { return i.sliceStrides }

// addUser records user as a consumer of i. Idempotent.
func (i *Instruction) addUser(user *Instruction) {
	if i.userSet.Has(user) {
		return
	}
	i.userSet.Insert(user)
	i.users = append(i.users, user)
}

// removeUser drops user from i's consumer list. It must only be called once
// user no longer references i through any operand slot.
func (i *Instruction) removeUser(user *Instruction) {
	if !i.userSet.Has(user) {
		exceptions.Panicf("%s is not a user of %s", user.name, i.name)
	}
	i.userSet.Delete(user)
	idx := slices.Index(i.users, user)
	i.users = slices.Delete(i.users, idx, idx+1)
}

// appendOperand adds a new operand slot at the end.
func (i *Instruction) appendOperand(operand *Instruction) {
	i.operands = append(i.operands, operand)
	operand.addUser(i)
}

// removeOperandAt deletes the operand slot idx, dropping the user edge if it
// was the last slot referencing that operand.
func (i *Instruction) removeOperandAt(idx int) {
	old := i.operands[idx]
	i.operands = slices.Delete(i.operands, idx, idx+1)
	if !slices.Contains(i.operands, old) {
		old.removeUser(i)
	}
}

// ReplaceOperandWith replaces operand slot idx with next, maintaining user
// edges on both sides. Shapes of the old and new operand must match.
func (i *Instruction) ReplaceOperandWith(idx int, next *Instruction) {
	old := i.operands[idx]
	if old == next {
		return
	}
	if !old.shape.Equal(next.shape) {
		exceptions.Panicf("ReplaceOperandWith(%s, %d): shape mismatch between %s (%s) and %s (%s)",
			i.name, idx, old.name, old.shape, next.name, next.shape)
	}
	i.operands[idx] = next
	next.addUser(i)
	if !slices.Contains(i.operands, old) {
		old.removeUser(i)
	}
}

// replaceUsesOfWith rewires every operand slot of i that points at old to
// point at next instead.
func (i *Instruction) replaceUsesOfWith(old, next *Instruction) {
	for idx, operand := range i.operands {
		if operand == old {
			i.operands[idx] = next
		}
	}
	next.addUser(i)
	old.removeUser(i)
}

// ReplaceAllUsesWith rewires every consumer of i to consume next instead. The
// computation root is not adjusted, callers that may replace the root use
// Computation.ReplaceInstruction.
func (i *Instruction) ReplaceAllUsesWith(next *Instruction) {
	if i == next {
		return
	}
	for _, user := range slices.Clone(i.users) {
		user.replaceUsesOfWith(i, next)
	}
}

// String returns a one-line rendering of the instruction in the usual
// "%name = shape op(%operands)" form.
func (i *Instruction) String() string {
	if i == nil {
		return "Instruction(nil)"
	}
	operandNames := make([]string, 0, len(i.operands))
	for _, operand := range i.operands {
		operandNames = append(operandNames, "%"+operand.name)
	}
	str := fmt.Sprintf("%%%s = %s %s(%s)", i.name, i.shape, strings.ToLower(i.op.String()), strings.Join(operandNames, ", "))
	switch {
	case i.op == OpTypeFusion && i.fused != nil:
		str += fmt.Sprintf(", kind=%s, calls=%s", i.kind, i.fused.name)
	case i.op == OpTypeGetTupleElement:
		str += fmt.Sprintf(", index=%d", i.tupleIndex)
	case i.op == OpTypeSlice:
		str += fmt.Sprintf(", slice=%v:%v:%v", i.sliceStarts, i.sliceLimits, i.sliceStrides)
	}
	return str
}
