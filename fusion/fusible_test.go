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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/hlopt/hlo"
	"github.com/gomlx/hlopt/types/shapes"
)

func vec(dims ...int) shapes.Shape { return shapes.Make(dtypes.Float32, dims...) }

// makeEntry returns a module with one empty entry computation.
func makeEntry() (*hlo.Module, *hlo.Computation) {
	m := hlo.NewModule("test")
	c := m.AddComputation(hlo.NewComputation("entry"))
	return m, c
}

// wrapInFusion replaces instr with a fresh loop fusion computing it.
func wrapInFusion(t *testing.T, c *hlo.Computation, instr *hlo.Instruction) *hlo.Instruction {
	t.Helper()
	f := c.CreateFusion(hlo.FusionKindLoop, instr)
	require.NoError(t, c.ReplaceInstruction(instr, f))
	return f
}

func TestIsProfitableOperand(t *testing.T) {
	_, c := makeEntry()
	assert.False(t, IsProfitableOperand(c.AddParameter("s", vec())))
	assert.False(t, IsProfitableOperand(c.AddParameter("s1", vec(1, 1))))
	assert.True(t, IsProfitableOperand(c.AddParameter("x", vec(8))))
}

func TestIsProducerMultiOutputFusible(t *testing.T) {
	_, c := makeEntry()
	x := c.AddParameter("x", vec(8))
	exp := c.AddInstruction(hlo.OpTypeExp, vec(8), x)
	konst := c.AddInstruction(hlo.OpTypeConstant, vec(8))

	assert.False(t, IsProducerMultiOutputFusible(x))
	assert.False(t, IsProducerMultiOutputFusible(konst))
	assert.True(t, IsProducerMultiOutputFusible(exp))

	f := wrapInFusion(t, c, exp)
	assert.True(t, IsProducerMultiOutputFusible(f))

	// Once multi-output, a fusion only exposes values through selectors and
	// is not a producer candidate anymore.
	abs := c.AddInstruction(hlo.OpTypeAbs, vec(8), x)
	f.FuseInstructionIntoMultiOutput(abs)
	require.NoError(t, c.RemoveInstruction(abs))
	assert.False(t, IsProducerMultiOutputFusible(f))
}

func TestIsNestableVariadicReduction(t *testing.T) {
	_, c := makeEntry()
	x := c.AddParameter("x", vec(16, 8))
	plain := c.AddInstruction(hlo.OpTypeReduce, vec(16), x)
	variadicShape := shapes.MakeTuple([]shapes.Shape{vec(16), vec(16)})
	variadic := c.AddInstruction(hlo.OpTypeReduce, variadicShape, x, x)

	assert.False(t, IsNestableVariadicReduction(plain))
	assert.True(t, IsNestableVariadicReduction(variadic))
	assert.True(t, IsNestableVariadicReduction(wrapInFusion(t, c, variadic)))

	assert.True(t, IsFusibleAsMultiOutputFusionRoot(plain))
	assert.False(t, IsFusibleAsMultiOutputFusionRoot(variadic))
}

func TestIsSiblingFusionCandidate(t *testing.T) {
	_, c := makeEntry()
	x := c.AddParameter("x", vec(8))
	exp := c.AddInstruction(hlo.OpTypeExp, vec(8), x)

	// No users yet.
	assert.False(t, IsSiblingFusionCandidate(exp))

	neg := c.AddInstruction(hlo.OpTypeNeg, vec(8), exp)
	assert.True(t, IsSiblingFusionCandidate(exp))
	assert.False(t, IsSiblingFusionCandidate(x), "parameters are not fusible")

	// Multi-output fusions qualify only while all their users are selectors.
	f := wrapInFusion(t, c, neg)
	abs := c.AddInstruction(hlo.OpTypeAbs, vec(8), exp)
	f.FuseInstructionIntoMultiOutput(abs)
	require.NoError(t, c.RemoveInstruction(abs))
	gte := c.AddGetTupleElement(f, 0)
	assert.True(t, IsSiblingFusionCandidate(f))

	c.AddTuple(f, gte)
	assert.False(t, IsSiblingFusionCandidate(f))
}

func TestShapesCompatibleForMultiOutputFusion(t *testing.T) {
	_, c := makeEntry()
	x := c.AddParameter("x", vec(16, 8))
	neg := c.AddInstruction(hlo.OpTypeNeg, vec(16, 8), x)
	abs := c.AddInstruction(hlo.OpTypeAbs, vec(16, 8), x)
	small := c.AddInstruction(hlo.OpTypeExp, vec(4), c.AddParameter("y", vec(4)))

	assert.True(t, ShapesCompatibleForMultiOutputFusion(neg, abs).CanFuse())

	d := ShapesCompatibleForMultiOutputFusion(neg, small)
	assert.False(t, d.CanFuse())
	assert.Equal(t, "fusion outputs have incompatible shapes", d.Reason())

	// A reduction's loop shape is its input shape, so it pairs with
	// elementwise siblings of that shape.
	reduce := c.AddInstruction(hlo.OpTypeReduce, vec(16), x)
	assert.True(t, ShapesCompatibleForMultiOutputFusion(reduce, neg).CanFuse())
	assert.False(t, ShapesCompatibleForMultiOutputFusion(reduce, small).CanFuse())
}
