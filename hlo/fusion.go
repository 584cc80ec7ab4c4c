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

	"github.com/gomlx/exceptions"
	"github.com/gomlx/hlopt/types/shapes"
)

// This file implements the fusion-node mechanics: creating a fusion wrapper
// around an instruction, and absorbing further instructions into a fusion as
// extra ("multi-output") results.
//
// Fusion bodies are single-level: merging a fusion instruction into another
// splices its body instructions in, it never nests computations. The body's
// parameters are kept aligned, by index, with the fusion instruction's
// operands -- every mutation below preserves that alignment.

// CreateFusion creates a new Fusion instruction of the given kind whose body
// computes the same value as root. The original root instruction is left
// untouched and still in place: callers typically follow up with
// ReplaceInstruction(root, fusion) to splice the fusion into the graph.
func (c *Computation) CreateFusion(kind FusionKind, root *Instruction) *Instruction {
	if root.parent != c {
		exceptions.Panicf("CreateFusion: %s does not belong to computation %s", root.name, c.name)
	}
	if root.IsFusion() {
		exceptions.Panicf("CreateFusion: %s is already a fusion", root.name)
	}
	f := c.AddInstruction(OpTypeFusion, root.shape.Clone())
	f.kind = kind
	body := NewComputation(fmt.Sprintf("fused_computation.%d", f.id))
	body.executionThread = c.executionThread
	body.fusionInstruction = f
	f.fused = body
	if c.module != nil {
		c.module.AddComputation(body)
	}

	opMap := make(map[*Instruction]*Instruction, root.OperandCount())
	for _, operand := range root.operands {
		if _, found := opMap[operand]; found {
			continue
		}
		opMap[operand] = f.addFusionOperand(operand)
	}
	body.root = body.cloneInstruction(root, opMap)
	return f
}

// FuseInstructionIntoMultiOutput absorbs a non-fusion producer into the fusion
// f, making the producer's value an extra output of f. The producer's external
// users are rewired to a GetTupleElement of f; afterwards the producer has
// zero users and the caller is expected to remove it from the computation.
func (f *Instruction) FuseInstructionIntoMultiOutput(producer *Instruction) {
	if !f.IsFusion() || f.IsCustomFusion() {
		exceptions.Panicf("FuseInstructionIntoMultiOutput: %s is not a fusible fusion", f.name)
	}
	if producer.IsFusion() {
		exceptions.Panicf("FuseInstructionIntoMultiOutput: %s is a fusion, use MergeFusionInstructionIntoMultiOutput", producer.name)
	}
	if producer.parent != f.parent {
		exceptions.Panicf("FuseInstructionIntoMultiOutput: %s and %s belong to different computations", f.name, producer.name)
	}
	c := f.parent
	body := f.fused

	// Clone the producer into the body, binding its operands to parameters.
	opMap := make(map[*Instruction]*Instruction, producer.OperandCount())
	for _, operand := range producer.operands {
		if _, found := opMap[operand]; found {
			continue
		}
		opMap[operand] = f.addFusionOperand(operand)
	}
	clone := body.cloneInstruction(producer, opMap)

	// If f consumed the producer directly, the bound parameter now computes
	// inside the body instead.
	if idx := slices.Index(f.operands, producer); idx >= 0 {
		param := body.parameters[idx]
		param.ReplaceAllUsesWith(clone)
		f.removeFusionOperandAt(idx)
	}

	f.ensureMultiOutput()
	outputIdx := f.appendFusionOutput(clone)

	// Reroute the producer's remaining (external) users to the new output.
	if producer.UserCount() > 0 || c.root == producer {
		gte := c.AddGetTupleElement(f, outputIdx)
		for _, user := range slices.Clone(producer.users) {
			user.replaceUsesOfWith(producer, gte)
		}
		if c.root == producer {
			c.root = gte
		}
	}
}

// MergeFusionInstructionIntoMultiOutput splices the body of the producer
// fusion into f, making all of the producer's outputs extra outputs of f. The
// producer's users (GetTupleElement selectors included) are rewired onto f's
// outputs and the producer is removed from the computation.
func (f *Instruction) MergeFusionInstructionIntoMultiOutput(producer *Instruction) {
	if !f.IsFusion() || f.IsCustomFusion() {
		exceptions.Panicf("MergeFusionInstructionIntoMultiOutput: %s is not a fusible fusion", f.name)
	}
	if !producer.IsFusion() || producer.IsCustomFusion() {
		exceptions.Panicf("MergeFusionInstructionIntoMultiOutput: %s is not a fusible fusion", producer.name)
	}
	if producer.parent != f.parent || f == producer {
		exceptions.Panicf("MergeFusionInstructionIntoMultiOutput: cannot merge %s into %s", producer.name, f.name)
	}
	c := f.parent
	body := f.fused
	pBody := producer.fused

	// Bind the producer's operands to parameters of f.
	opMap := make(map[*Instruction]*Instruction, len(pBody.instructions))
	for idx, operand := range producer.operands {
		opMap[pBody.parameters[idx]] = f.addFusionOperand(operand)
	}

	// Splice the producer body in. A multi-output root tuple is not cloned,
	// its elements become outputs of f individually.
	pRoots := producer.fusionRoots()
	for _, instr := range pBody.MakeInstructionPostOrder() {
		if instr.op == OpTypeParameter {
			continue
		}
		if instr == pBody.root && pBody.root.op == OpTypeTuple {
			continue
		}
		opMap[instr] = body.cloneInstruction(instr, opMap)
	}
	cloneRoots := make([]*Instruction, len(pRoots))
	for k, root := range pRoots {
		cloneRoots[k] = opMap[root]
	}

	// Disconnect f's own uses of the producer: the bound parameters now read
	// the spliced-in producer values directly.
	for {
		idx := -1
		for pos, operand := range f.operands {
			if operand == producer || (operand.op == OpTypeGetTupleElement && operand.operands[0] == producer) {
				idx = pos
				break
			}
		}
		if idx < 0 {
			break
		}
		operand := f.operands[idx]
		param := body.parameters[idx]
		var replacement *Instruction
		if operand == producer {
			if len(cloneRoots) == 1 {
				replacement = cloneRoots[0]
			} else {
				replacement = body.AddTuple(cloneRoots...)
			}
		} else {
			replacement = cloneRoots[operand.tupleIndex]
		}
		param.ReplaceAllUsesWith(replacement)
		f.removeFusionOperandAt(idx)
	}

	f.ensureMultiOutput()
	outputIdx := make([]int, len(cloneRoots))
	for k, root := range cloneRoots {
		outputIdx[k] = f.appendFusionOutput(root)
	}

	// Rewire the producer's external users onto f's new outputs.
	for _, user := range slices.Clone(producer.users) {
		if user.op == OpTypeGetTupleElement && user.operands[0] == producer {
			if user.UserCount() == 0 && c.root != user {
				// Selector only fed f, which no longer consumes it.
				if err := c.RemoveInstruction(user); err != nil {
					exceptions.Panicf("merge of %s into %s left selector %s unremovable: %+v",
						producer.name, f.name, user.name, err)
				}
				continue
			}
			// Retarget the selector at the corresponding output of f.
			user.operands[0] = f
			user.tupleIndex = outputIdx[user.tupleIndex]
			f.addUser(user)
			producer.removeUser(user)
		} else {
			user.replaceUsesOfWith(producer, c.selectOutputs(f, outputIdx, producer.shape))
		}
	}
	if c.root == producer {
		c.root = c.selectOutputs(f, outputIdx, producer.shape)
	}

	if err := c.RemoveInstruction(producer); err != nil {
		exceptions.Panicf("merge of %s into %s left it with users: %+v", producer.name, f.name, err)
	}
}

// selectOutputs materializes the value the producer used to compute, in terms
// of f's outputs: a single GetTupleElement, or a Tuple of selectors when the
// producer was itself multi-output.
func (c *Computation) selectOutputs(f *Instruction, outputIdx []int, producerShape shapes.Shape) *Instruction {
	if len(outputIdx) == 1 && !producerShape.IsTuple() {
		return c.AddGetTupleElement(f, outputIdx[0])
	}
	gtes := make([]*Instruction, len(outputIdx))
	for k, idx := range outputIdx {
		gtes[k] = c.AddGetTupleElement(f, idx)
	}
	return c.AddTuple(gtes...)
}

// fusionRoots returns the externally visible results of a fusion: the operands
// of the root tuple for multi-output fusions, else the single root.
func (i *Instruction) fusionRoots() []*Instruction {
	root := i.FusedExpressionRoot()
	if root.op == OpTypeTuple {
		return root.operands
	}
	return []*Instruction{root}
}

// addFusionOperand returns the body parameter bound to operand, appending a
// new operand slot and parameter when the fusion doesn't consume it yet.
func (f *Instruction) addFusionOperand(operand *Instruction) *Instruction {
	body := f.fused
	if idx := slices.Index(f.operands, operand); idx >= 0 {
		return body.parameters[idx]
	}
	f.appendOperand(operand)
	param := body.newInstruction(OpTypeParameter, operand.shape.Clone())
	param.name = fmt.Sprintf("param_%d", len(body.parameters))
	param.parameterNumber = len(body.parameters)
	body.parameters = append(body.parameters, param)
	return param
}

// removeFusionOperandAt drops operand slot idx and its bound body parameter,
// which must be unused by now, renumbering the remaining parameters.
func (f *Instruction) removeFusionOperandAt(idx int) {
	body := f.fused
	param := body.parameters[idx]
	f.removeOperandAt(idx)
	body.parameters = slices.Delete(body.parameters, idx, idx+1)
	if err := body.RemoveInstruction(param); err != nil {
		exceptions.Panicf("fusion %s: cannot drop parameter %s: %+v", f.name, param.name, err)
	}
	for k, p := range body.parameters {
		p.parameterNumber = k
		p.name = fmt.Sprintf("param_%d", k)
	}
}

// ensureMultiOutput converts a single-output fusion into a multi-output one
// with, so far, the same single output. Existing users of f (and the
// computation root) are rerouted through a GetTupleElement selector.
func (f *Instruction) ensureMultiOutput() {
	body := f.fused
	if body.root.op == OpTypeTuple {
		return
	}
	c := f.parent
	oldRoot := body.root
	body.root = body.AddTuple(oldRoot)
	users := slices.Clone(f.users)
	f.shape = shapes.MakeTuple([]shapes.Shape{f.shape.Clone()})
	if len(users) > 0 || c.root == f {
		gte := c.AddGetTupleElement(f, 0)
		for _, user := range users {
			user.replaceUsesOfWith(f, gte)
		}
		if c.root == f {
			c.root = gte
		}
	}
}

// appendFusionOutput adds output (an instruction of the body) as an extra
// element of the fusion's root tuple and returns its output index.
func (f *Instruction) appendFusionOutput(output *Instruction) int {
	body := f.fused
	tuple := body.root
	if tuple.op != OpTypeTuple {
		exceptions.Panicf("appendFusionOutput: fusion %s is not multi-output", f.name)
	}
	tuple.appendOperand(output)
	tuple.shape.TupleShapes = append(tuple.shape.TupleShapes, output.shape.Clone())
	f.shape.TupleShapes = append(f.shape.TupleShapes, output.shape.Clone())
	return f.shape.TupleSize() - 1
}

// cloneInstruction copies original into c, with operands remapped through
// opMap. Nested fusion instructions are not clonable.
func (c *Computation) cloneInstruction(original *Instruction, opMap map[*Instruction]*Instruction) *Instruction {
	if original.IsFusion() {
		exceptions.Panicf("cloneInstruction: cannot clone nested fusion %s", original.name)
	}
	clone := c.newInstruction(original.op, original.shape.Clone())
	clone.tupleIndex = original.tupleIndex
	clone.parameterNumber = original.parameterNumber
	clone.sliceStarts = slices.Clone(original.sliceStarts)
	clone.sliceLimits = slices.Clone(original.sliceLimits)
	clone.sliceStrides = slices.Clone(original.sliceStrides)
	for _, operand := range original.operands {
		mapped, found := opMap[operand]
		if !found {
			exceptions.Panicf("cloneInstruction(%s): operand %s has no mapping", original.name, operand.name)
		}
		clone.appendOperand(mapped)
	}
	return clone
}

// ChooseFusionKind picks the codegen strategy for fusing producer into
// consumer: input fusion when a reduction ends up at the root, loop fusion
// otherwise.
func ChooseFusionKind(producer, consumer *Instruction) FusionKind {
	if hasReductionRoot(consumer) || hasReductionRoot(producer) {
		return FusionKindInput
	}
	return FusionKindLoop
}

func hasReductionRoot(i *Instruction) bool {
	if i.IsFusion() {
		for _, root := range i.fusionRoots() {
			if root.op.IsReduction() {
				return true
			}
		}
		return false
	}
	return i.op.IsReduction()
}
