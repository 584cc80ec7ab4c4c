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

	"github.com/gomlx/hlopt/hlo"
	"github.com/gomlx/hlopt/types"
)

// newTestState builds a runState over the computation, the way Run does, for
// exercising the predicate chains directly.
func newTestState(t *testing.T, m *hlo.Module, c *hlo.Computation) *runState {
	t.Helper()
	pass := NewMultiOutputFusion(DefaultDeviceInfo(), nil)
	st := &runState{
		pass:        pass,
		computation: c,
		cost: NewCostAnalysis(CostOptions{
			ShapeSize:                  DefaultShapeSize,
			CountMultipleInputAccesses: true,
			MaxMergedInstructionCount:  pass.device.MaxFusedInstructionCount,
		}),
		cache: NewInfoCache(),
		fuel:  newFuelCounter(m.Config().DebugOptions.FusionFuel),
		debug: m.Config().DebugOptions,
	}
	require.NoError(t, st.cost.Accept(c))
	st.recomputeReachability()
	return st
}

func runPass(t *testing.T, m *hlo.Module) bool {
	t.Helper()
	pass := NewMultiOutputFusion(DefaultDeviceInfo(), nil)
	changed, err := pass.Run(m, types.MakeSet[string]())
	require.NoError(t, err)
	return changed
}

// requireAcyclic fails if any two distinct instructions are mutually
// reachable.
func requireAcyclic(t *testing.T, c *hlo.Computation) {
	t.Helper()
	r := hlo.BuildReachability(c)
	instructions := c.Instructions()
	for _, a := range instructions {
		for _, b := range instructions {
			if a == b {
				continue
			}
			require.False(t, r.IsReachable(a, b) && r.IsReachable(b, a),
				"%s and %s are mutually reachable", a.Name(), b.Name())
		}
	}
}

func TestSiblingFusionScenario(t *testing.T) {
	m, c := makeEntry()
	x := c.AddParameter("x", vec(1024))
	neg := c.AddInstruction(hlo.OpTypeNeg, vec(1024), x)
	abs := c.AddInstruction(hlo.OpTypeAbs, vec(1024), x)
	tb := c.AddInstruction(hlo.OpTypeTanh, vec(1024), neg)
	tc := c.AddInstruction(hlo.OpTypeTanh, vec(1024), abs)
	root := c.AddTuple(tb, tc)
	c.SetRoot(root)
	fb := wrapInFusion(t, c, neg)
	fc := wrapInFusion(t, c, abs)

	require.True(t, runPass(t, m))

	// fb absorbed fc: one multi-output fusion whose outputs feed the prior
	// users of both, and x is read once.
	assert.NotContains(t, c.Instructions(), fc)
	assert.True(t, fb.IsMultiOutputFusion())
	assert.Equal(t, 2, fb.MultiOutputCount())
	assert.Equal(t, []*hlo.Instruction{x}, fb.Operands())
	assert.Equal(t, 1, x.UserCount())

	gte0 := tb.Operand(0)
	require.Equal(t, hlo.OpTypeGetTupleElement, gte0.Op())
	assert.Equal(t, fb, gte0.Operand(0))
	assert.Equal(t, 0, gte0.TupleIndex())
	gte1 := tc.Operand(0)
	require.Equal(t, hlo.OpTypeGetTupleElement, gte1.Op())
	assert.Equal(t, fb, gte1.Operand(0))
	assert.Equal(t, 1, gte1.TupleIndex())

	requireAcyclic(t, c)

	// Fixed point: a second run finds nothing to do and changes nothing.
	before := c.NumInstructions()
	assert.False(t, runPass(t, m))
	assert.Equal(t, before, c.NumInstructions())
}

func TestSiblingPriorityPrefersMultiOutputFusion(t *testing.T) {
	m, c := makeEntry()
	x := c.AddParameter("x", vec(1024))

	// A multi-output fusion {neg, abs} of x, consumed through selectors.
	neg := c.AddInstruction(hlo.OpTypeNeg, vec(1024), x)
	mof := wrapInFusion(t, c, neg)
	abs := c.AddInstruction(hlo.OpTypeAbs, vec(1024), x)
	mof.FuseInstructionIntoMultiOutput(abs)
	require.NoError(t, c.RemoveInstruction(abs))
	g0 := c.AddGetTupleElement(mof, 0)
	g1 := c.AddGetTupleElement(mof, 1)

	// A plain fusion sibling, added before the multi-output one in x's user
	// order would not matter: priority sorts the multi-output fusion first.
	tanh := c.AddInstruction(hlo.OpTypeTanh, vec(1024), x)
	plain := wrapInFusion(t, c, tanh)
	u := c.AddInstruction(hlo.OpTypeCos, vec(1024), plain)
	root := c.AddTuple(g0, g1, u)
	c.SetRoot(root)

	require.True(t, runPass(t, m))

	// The multi-output fusion is the survivor, grown by the plain sibling.
	assert.Contains(t, c.Instructions(), mof)
	assert.NotContains(t, c.Instructions(), plain)
	assert.Equal(t, 3, mof.MultiOutputCount())
	gte := u.Operand(0)
	require.Equal(t, hlo.OpTypeGetTupleElement, gte.Op())
	assert.Equal(t, mof, gte.Operand(0))
	assert.Equal(t, 2, gte.TupleIndex())
	requireAcyclic(t, c)
}

func TestSiblingPriorityThreeWay(t *testing.T) {
	m, c := makeEntry()
	x := c.AddParameter("x", vec(1024))

	// Three siblings of x, one of each kind: a multi-output fusion {neg, abs},
	// a plain fusion around tanh, and an unfused sin.
	neg := c.AddInstruction(hlo.OpTypeNeg, vec(1024), x)
	mof := wrapInFusion(t, c, neg)
	abs := c.AddInstruction(hlo.OpTypeAbs, vec(1024), x)
	mof.FuseInstructionIntoMultiOutput(abs)
	require.NoError(t, c.RemoveInstruction(abs))
	g0 := c.AddGetTupleElement(mof, 0)
	g1 := c.AddGetTupleElement(mof, 1)

	tanh := c.AddInstruction(hlo.OpTypeTanh, vec(1024), x)
	plain := wrapInFusion(t, c, tanh)
	u := c.AddInstruction(hlo.OpTypeCos, vec(1024), plain)

	sin := c.AddInstruction(hlo.OpTypeSin, vec(1024), x)
	root := c.AddTuple(g0, g1, u, sin)
	c.SetRoot(root)

	require.True(t, runPass(t, m))

	// The multi-output fusion absorbs both: the plain fusion first, the
	// unfused sibling after it, so their outputs land at indices 2 and 3.
	assert.Contains(t, c.Instructions(), mof)
	assert.NotContains(t, c.Instructions(), plain)
	assert.NotContains(t, c.Instructions(), sin)
	assert.Equal(t, 4, mof.MultiOutputCount())
	assert.Equal(t, []*hlo.Instruction{x}, mof.Operands())
	assert.Equal(t, 1, x.UserCount())

	gteTanh := u.Operand(0)
	require.Equal(t, hlo.OpTypeGetTupleElement, gteTanh.Op())
	assert.Equal(t, mof, gteTanh.Operand(0))
	assert.Equal(t, 2, gteTanh.TupleIndex())
	gteSin := root.Operand(3)
	require.Equal(t, hlo.OpTypeGetTupleElement, gteSin.Op())
	assert.Equal(t, mof, gteSin.Operand(0))
	assert.Equal(t, 3, gteSin.TupleIndex())

	requireAcyclic(t, c)
	before := c.NumInstructions()
	assert.False(t, runPass(t, m))
	assert.Equal(t, before, c.NumInstructions())
}

func TestSiblingMergeDropsDeadSelectorCostEntry(t *testing.T) {
	m, c := makeEntry()
	x := c.AddParameter("x", vec(1024))

	// Two multi-output fusion siblings of x. One of b's selectors has no
	// users, so merging b into a removes it from the computation.
	neg := c.AddInstruction(hlo.OpTypeNeg, vec(1024), x)
	a := wrapInFusion(t, c, neg)
	abs := c.AddInstruction(hlo.OpTypeAbs, vec(1024), x)
	a.FuseInstructionIntoMultiOutput(abs)
	require.NoError(t, c.RemoveInstruction(abs))
	gA0 := c.AddGetTupleElement(a, 0)
	gA1 := c.AddGetTupleElement(a, 1)

	tanh := c.AddInstruction(hlo.OpTypeTanh, vec(1024), x)
	b := wrapInFusion(t, c, tanh)
	cos := c.AddInstruction(hlo.OpTypeCos, vec(1024), x)
	b.FuseInstructionIntoMultiOutput(cos)
	require.NoError(t, c.RemoveInstruction(cos))
	gB0 := c.AddGetTupleElement(b, 0)
	gB1 := c.AddGetTupleElement(b, 1)
	sin := c.AddInstruction(hlo.OpTypeSin, vec(1024), gB0)
	root := c.AddTuple(gA0, gA1, sin)
	c.SetRoot(root)

	st := newTestState(t, m, c)
	changed, err := st.fuseSiblings(x)
	require.NoError(t, err)
	require.True(t, changed)

	// gB0 was retargeted at the surviving fusion, gB1 was dead and removed,
	// and its cost entry went with it.
	assert.Equal(t, a, gB0.Operand(0))
	assert.Nil(t, gB1.Parent())
	_, stale := st.cost.costs[gB1]
	assert.False(t, stale)
	_, kept := st.cost.costs[gB0]
	assert.True(t, kept)
}

func TestProducerConsumerFusion(t *testing.T) {
	m, c := makeEntry()
	x := c.AddParameter("x", vec(1024))
	exp := c.AddInstruction(hlo.OpTypeExp, vec(1024), x)
	neg := c.AddInstruction(hlo.OpTypeNeg, vec(1024), exp)
	mul := c.AddInstruction(hlo.OpTypeMul, vec(1024), exp, exp)
	root := c.AddTuple(neg, mul)
	c.SetRoot(root)

	require.True(t, runPass(t, m))

	// exp was absorbed into a fusion wrapped around neg; mul reads exp's
	// value through a selector on the fusion's extra output.
	assert.NotContains(t, c.Instructions(), exp)
	gte0 := root.Operand(0)
	require.Equal(t, hlo.OpTypeGetTupleElement, gte0.Op())
	f := gte0.Operand(0)
	require.True(t, f.IsFusion())
	assert.True(t, f.IsMultiOutputFusion())
	assert.Equal(t, 2, f.MultiOutputCount())
	assert.Equal(t, []*hlo.Instruction{x}, f.Operands())

	gte1 := mul.Operand(0)
	require.Equal(t, hlo.OpTypeGetTupleElement, gte1.Op())
	assert.Equal(t, f, gte1.Operand(0))
	assert.Equal(t, 1, gte1.TupleIndex())
	assert.Equal(t, gte1, mul.Operand(1))
	requireAcyclic(t, c)

	assert.False(t, runPass(t, m))
}

func TestProfitabilityVeto(t *testing.T) {
	m, c := makeEntry()
	x := c.AddParameter("x", vec(1<<20))
	reduce := c.AddInstruction(hlo.OpTypeReduce, vec(), x)
	b1 := c.AddInstruction(hlo.OpTypeBroadcast, vec(1<<20), reduce)
	b2 := c.AddInstruction(hlo.OpTypeBroadcast, vec(1<<20), reduce)
	root := c.AddTuple(b1, b2)
	c.SetRoot(root)

	st := newTestState(t, m, c)
	d := st.producerCandidateIsFusible(reduce, b1)
	assert.False(t, d.CanFuse())
	assert.Equal(t, "would execute slower if fused", d.Reason())

	// The whole pass leaves the graph alone.
	before := c.NumInstructions()
	assert.False(t, runPass(t, m))
	assert.Equal(t, before, c.NumInstructions())
	assert.Contains(t, c.Instructions(), reduce)
}

func TestCycleVeto(t *testing.T) {
	m, c := makeEntry()
	x := c.AddParameter("x", vec(1024))
	exp := c.AddInstruction(hlo.OpTypeExp, vec(1024), x)
	neg := c.AddInstruction(hlo.OpTypeNeg, vec(1024), exp)
	mul := c.AddInstruction(hlo.OpTypeMul, vec(1024), exp, neg)
	c.SetRoot(mul)

	st := newTestState(t, m, c)
	d := st.producerCandidateIsFusible(exp, mul)
	assert.False(t, d.CanFuse())
	assert.Contains(t, d.Reason(), "would introduce a cycle when fused")

	// The pass may still fuse exp with neg; whatever it does, the graph
	// stays acyclic.
	runPass(t, m)
	requireAcyclic(t, c)
}

func TestSliceVetoEndToEnd(t *testing.T) {
	m, c := makeEntry()
	x := c.AddParameter("x", vec(1024))
	f1 := sliceFusion(t, c, x, 0, 512)
	f2 := sliceFusion(t, c, x, 512, 1024)
	t1 := c.AddInstruction(hlo.OpTypeTanh, vec(512), f1)
	t2 := c.AddInstruction(hlo.OpTypeTanh, vec(512), f2)
	root := c.AddTuple(t1, t2)
	c.SetRoot(root)

	st := newTestState(t, m, c)
	d := st.canFuseSiblings(f1, f2, x)
	assert.False(t, d.CanFuse())
	assert.Equal(t, "slices are non-overlapping", d.Reason())

	assert.False(t, runPass(t, m))
	assert.Contains(t, c.Instructions(), f1)
	assert.Contains(t, c.Instructions(), f2)
}

func TestSliceOverlapFuses(t *testing.T) {
	m, c := makeEntry()
	x := c.AddParameter("x", vec(1024))
	f1 := sliceFusion(t, c, x, 0, 512)
	f2 := sliceFusion(t, c, x, 256, 768)
	t1 := c.AddInstruction(hlo.OpTypeTanh, vec(512), f1)
	t2 := c.AddInstruction(hlo.OpTypeTanh, vec(512), f2)
	root := c.AddTuple(t1, t2)
	c.SetRoot(root)

	require.True(t, runPass(t, m))
	assert.True(t, f1.IsMultiOutputFusion())
	assert.NotContains(t, c.Instructions(), f2)
	requireAcyclic(t, c)
}

func TestFuelBoundsRewrites(t *testing.T) {
	m, c := makeEntry()
	m.Config().DebugOptions.FusionFuel = 1
	x := c.AddParameter("x", vec(1024))
	neg := c.AddInstruction(hlo.OpTypeNeg, vec(1024), x)
	abs := c.AddInstruction(hlo.OpTypeAbs, vec(1024), x)
	tanh := c.AddInstruction(hlo.OpTypeTanh, vec(1024), x)
	u1 := c.AddInstruction(hlo.OpTypeCos, vec(1024), neg)
	u2 := c.AddInstruction(hlo.OpTypeCos, vec(1024), abs)
	u3 := c.AddInstruction(hlo.OpTypeCos, vec(1024), tanh)
	root := c.AddTuple(u1, u2, u3)
	c.SetRoot(root)
	f1 := wrapInFusion(t, c, neg)
	f2 := wrapInFusion(t, c, abs)
	f3 := wrapInFusion(t, c, tanh)

	require.True(t, runPass(t, m))

	// Only one merge fit in the budget: f2 joined f1, f3 was left alone.
	assert.True(t, f1.IsMultiOutputFusion())
	assert.Equal(t, 2, f1.MultiOutputCount())
	assert.NotContains(t, c.Instructions(), f2)
	assert.Contains(t, c.Instructions(), f3)
}

func TestSelectPreferredCandidate(t *testing.T) {
	_, c := makeEntry()
	x := c.AddParameter("x", vec(8))
	plain := c.AddInstruction(hlo.OpTypeNeg, vec(8), x)
	f := wrapInFusion(t, c, c.AddInstruction(hlo.OpTypeAbs, vec(8), x))

	assert.Nil(t, selectPreferredCandidate(nil))
	assert.Equal(t, f, selectPreferredCandidate([]*hlo.Instruction{plain, f}))
	assert.Equal(t, plain, selectPreferredCandidate([]*hlo.Instruction{plain}))
	assert.Equal(t, 1, fusionPriority(f))
	assert.Equal(t, 0, fusionPriority(plain))
}
