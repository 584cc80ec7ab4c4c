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
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/hlopt/types"
	"github.com/gomlx/hlopt/types/shapes"
	"github.com/pkg/errors"
)

// Computation is an ordered, owned collection of Instructions with one
// distinguished root, analogous to a function body.
//
// All graph mutation goes through the Computation (or the Instruction edge
// primitives), which keep operand/user back-references consistent: no
// instruction is ever left with dangling edges.
type Computation struct {
	name   string
	module *Module
	root   *Instruction

	instructions []*Instruction

	// parameters, aligned by index with the fusion instruction's operands.
	// Only set for fusion bodies.
	parameters        []*Instruction
	fusionInstruction *Instruction

	executionThread string
	nextID          int
}

// MainExecutionThread is the thread computations are assigned to by default.
const MainExecutionThread = "main"

// NewComputation creates an empty Computation, not yet attached to a Module.
func NewComputation(name string) *Computation {
	return &Computation{name: name, executionThread: MainExecutionThread}
}

// Name of the computation.
func (c *Computation) Name() string { return c.name }

// Module that owns the computation, or nil if unattached.
func (c *Computation) Module() *Module { return c.module }

// Root returns the distinguished root instruction.
func (c *Computation) Root() *Instruction { return c.root }

// SetRoot makes root the computation's distinguished root. It must already be
// owned by the computation.
func (c *Computation) SetRoot(root *Instruction) {
	if root.parent != c {
		exceptions.Panicf("SetRoot: instruction %s does not belong to computation %s", root.name, c.name)
	}
	c.root = root
}

// Instructions returns the owned instructions in insertion order. The returned
// slice must not be mutated.
func (c *Computation) Instructions() []*Instruction { return c.instructions }

// NumInstructions returns the number of owned instructions.
func (c *Computation) NumInstructions() int { return len(c.instructions) }

// IsFusionComputation returns whether this computation is the body of a Fusion
// instruction.
func (c *Computation) IsFusionComputation() bool { return c.fusionInstruction != nil }

// FusionInstruction returns the Fusion instruction this computation is the
// body of, or nil.
func (c *Computation) FusionInstruction() *Instruction { return c.fusionInstruction }

// ExecutionThread returns the thread this computation is assigned to.
func (c *Computation) ExecutionThread() string { return c.executionThread }

// SetExecutionThread assigns the computation to an execution thread.
func (c *Computation) SetExecutionThread(thread string) { c.executionThread = thread }

// newInstruction allocates an instruction owned by c with an automatic name.
func (c *Computation) newInstruction(op OpType, shape shapes.Shape) *Instruction {
	c.nextID++
	i := &Instruction{
		id:      c.nextID,
		name:    fmt.Sprintf("%s.%d", strings.ToLower(op.String()), c.nextID),
		op:      op,
		shape:   shape,
		parent:  c,
		userSet: types.MakeSet[*Instruction](),
	}
	c.instructions = append(c.instructions, i)
	return i
}

// AddInstruction creates a new instruction of the given op and shape,
// consuming the given operands, and appends it to the computation. The first
// instruction added becomes the root until SetRoot is called.
func (c *Computation) AddInstruction(op OpType, shape shapes.Shape, operands ...*Instruction) *Instruction {
	for _, operand := range operands {
		if operand.parent != c {
			exceptions.Panicf("AddInstruction(%s): operand %s does not belong to computation %q",
				op, operand.name, c.name)
		}
	}
	i := c.newInstruction(op, shape)
	for _, operand := range operands {
		i.appendOperand(operand)
	}
	if c.root == nil {
		c.root = i
	}
	return i
}

// AddNamedInstruction is AddInstruction with an explicit name.
func (c *Computation) AddNamedInstruction(name string, op OpType, shape shapes.Shape, operands ...*Instruction) *Instruction {
	i := c.AddInstruction(op, shape, operands...)
	i.name = name
	return i
}

// AddParameter creates a Parameter instruction. Parameters of fusion bodies
// are managed by the fusion mechanics, this entry point serves IR building.
func (c *Computation) AddParameter(name string, shape shapes.Shape) *Instruction {
	i := c.AddInstruction(OpTypeParameter, shape)
	i.name = name
	i.parameterNumber = len(c.parameters)
	c.parameters = append(c.parameters, i)
	return i
}

// AddTuple creates a Tuple instruction whose shape is derived from the
// elements.
func (c *Computation) AddTuple(elements ...*Instruction) *Instruction {
	elementShapes := make([]shapes.Shape, 0, len(elements))
	for _, element := range elements {
		elementShapes = append(elementShapes, element.shape.Clone())
	}
	return c.AddInstruction(OpTypeTuple, shapes.MakeTuple(elementShapes), elements...)
}

// AddGetTupleElement creates a GetTupleElement selecting element index of
// operand, whose shape must be a tuple.
func (c *Computation) AddGetTupleElement(operand *Instruction, index int) *Instruction {
	if !operand.shape.IsTuple() || index < 0 || index >= operand.shape.TupleSize() {
		exceptions.Panicf("AddGetTupleElement(%s, %d): operand shape %s has no such element",
			operand.name, index, operand.shape)
	}
	i := c.AddInstruction(OpTypeGetTupleElement, operand.shape.TupleShapes[index].Clone(), operand)
	i.tupleIndex = index
	return i
}

// AddSlice creates a Slice instruction taking the static [start:limit:stride]
// window of operand on every axis.
func (c *Computation) AddSlice(operand *Instruction, starts, limits, strides []int) *Instruction {
	rank := operand.shape.Rank()
	if len(starts) != rank || len(limits) != rank || len(strides) != rank {
		exceptions.Panicf("AddSlice(%s): starts/limits/strides must have rank %d entries", operand.name, rank)
	}
	dims := make([]int, rank)
	for axis := range dims {
		if strides[axis] <= 0 || starts[axis] < 0 || limits[axis] > operand.shape.Dim(axis) || starts[axis] >= limits[axis] {
			exceptions.Panicf("AddSlice(%s): invalid window [%d:%d:%d] for axis %d of shape %s",
				operand.name, starts[axis], limits[axis], strides[axis], axis, operand.shape)
		}
		dims[axis] = (limits[axis] - starts[axis] + strides[axis] - 1) / strides[axis]
	}
	i := c.AddInstruction(OpTypeSlice, shapes.Make(operand.shape.DType, dims...), operand)
	i.sliceStarts = append([]int(nil), starts...)
	i.sliceLimits = append([]int(nil), limits...)
	i.sliceStrides = append([]int(nil), strides...)
	return i
}

// RemoveInstruction deletes an instruction from the computation. The
// instruction must have no users left and must not be the root; violating
// either is an error (the caller is holding a corrupted graph view).
func (c *Computation) RemoveInstruction(i *Instruction) error {
	if i.parent != c {
		return errors.Errorf("RemoveInstruction: %s does not belong to computation %s", i.name, c.name)
	}
	if i.UserCount() > 0 {
		return errors.Errorf("RemoveInstruction: %s still has %d users", i.name, i.UserCount())
	}
	if c.root == i {
		return errors.Errorf("RemoveInstruction: %s is the computation root", i.name)
	}
	for len(i.operands) > 0 {
		i.removeOperandAt(len(i.operands) - 1)
	}
	idx := -1
	for pos, instr := range c.instructions {
		if instr == i {
			idx = pos
			break
		}
	}
	c.instructions = append(c.instructions[:idx], c.instructions[idx+1:]...)
	if i.fused != nil && c.module != nil {
		c.module.removeComputation(i.fused)
	}
	i.parent = nil
	return nil
}

// ReplaceInstruction splices next into every use of old (including the root,
// if old is the root) and removes old from the computation. The two must have
// equal shapes.
func (c *Computation) ReplaceInstruction(old, next *Instruction) error {
	if old.parent != c || next.parent != c {
		return errors.Errorf("ReplaceInstruction: %s and %s must both belong to computation %s",
			old.name, next.name, c.name)
	}
	if !old.shape.Equal(next.shape) {
		return errors.Errorf("ReplaceInstruction: shape mismatch between %s (%s) and %s (%s)",
			old.name, old.shape, next.name, next.shape)
	}
	old.ReplaceAllUsesWith(next)
	if c.root == old {
		c.root = next
	}
	return c.RemoveInstruction(old)
}

// MakeInstructionPostOrder returns all instructions in a deterministic
// defs-before-uses order: every operand appears before its consumers.
func (c *Computation) MakeInstructionPostOrder() []*Instruction {
	postOrder := make([]*Instruction, 0, len(c.instructions))
	visited := types.MakeSet[*Instruction](len(c.instructions))
	var visit func(i *Instruction)
	visit = func(i *Instruction) {
		if visited.Has(i) {
			return
		}
		visited.Insert(i)
		for _, operand := range i.operands {
			visit(operand)
		}
		postOrder = append(postOrder, i)
	}
	for _, i := range c.instructions {
		visit(i)
	}
	return postOrder
}

// String renders the computation in a textual form, root marked with "ROOT".
func (c *Computation) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s {\n", c.name)
	for _, i := range c.MakeInstructionPostOrder() {
		marker := "  "
		if i == c.root {
			marker = "  ROOT "
		}
		fmt.Fprintf(&sb, "%s%s\n", marker, i)
	}
	sb.WriteString("}")
	return sb.String()
}
