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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gomlx/hlopt/hlo"
)

func TestFusionFitsInBudget(t *testing.T) {
	_, c := makeEntry()
	x := c.AddParameter("x", vec(8))
	y := c.AddParameter("y", vec(8))
	z := c.AddParameter("z", vec(8))
	a := c.AddInstruction(hlo.OpTypeAdd, vec(8), x, y)
	b := c.AddInstruction(hlo.OpTypeMul, vec(8), y, z)

	device := DefaultDeviceInfo()
	cache := NewInfoCache()
	assert.True(t, FusionFitsInBudget(a, b, device, cache).CanFuse())

	// {x, y, z} shared operands plus two outputs against a budget of 4.
	device.MaxOperandsAndOutputsPerFusion = 4
	d := FusionFitsInBudget(a, b, device, cache)
	assert.False(t, d.CanFuse())
	assert.True(t, strings.Contains(d.Reason(), "larger than the allowed budget"), d.Reason())
}

func TestFusionBudgetIgnoresInternalEdges(t *testing.T) {
	_, c := makeEntry()
	x := c.AddParameter("x", vec(8))
	a := c.AddInstruction(hlo.OpTypeExp, vec(8), x)
	b := c.AddInstruction(hlo.OpTypeNeg, vec(8), a)

	device := DefaultDeviceInfo()
	// b's operand is a itself: that edge becomes internal, leaving operand x
	// plus two outputs.
	device.MaxOperandsAndOutputsPerFusion = 3
	assert.True(t, FusionFitsInBudget(a, b, device, NewInfoCache()).CanFuse())
	device.MaxOperandsAndOutputsPerFusion = 2
	assert.False(t, FusionFitsInBudget(a, b, device, NewInfoCache()).CanFuse())
}

func TestLegalToFuse(t *testing.T) {
	_, c := makeEntry()
	x := c.AddParameter("x", vec(8))
	neg := c.AddInstruction(hlo.OpTypeNeg, vec(8), x)
	abs := c.AddInstruction(hlo.OpTypeAbs, vec(8), x)

	device := DefaultDeviceInfo()
	cache := NewInfoCache()

	// The leading candidate must already be a fusion.
	assert.False(t, LegalToFuse(neg, abs, device, cache).CanFuse())

	f := wrapInFusion(t, c, neg)
	assert.True(t, LegalToFuse(f, abs, device, cache).CanFuse())

	// In-place dynamic-update-slice roots cannot share a kernel.
	dus := c.AddInstruction(hlo.OpTypeDynamicUpdateSlice, vec(8), x)
	fdus := wrapInFusion(t, c, dus)
	d := LegalToFuse(fdus, abs, device, cache)
	assert.False(t, d.CanFuse())
	assert.Equal(t, "can't fuse multiple dynamic-update-slices", d.Reason())
	assert.False(t, LegalToFuse(f, fdus, device, cache).CanFuse())
}

func TestInfoCache(t *testing.T) {
	_, c := makeEntry()
	x := c.AddParameter("x", vec(8))
	neg := c.AddInstruction(hlo.OpTypeNeg, vec(8), x)
	cache := NewInfoCache()

	assert.Equal(t, 1, cache.InstructionCount(neg))

	f := wrapInFusion(t, c, neg)
	// param + neg clone.
	assert.Equal(t, 2, cache.InstructionCount(f))

	abs := c.AddInstruction(hlo.OpTypeAbs, vec(8), x)
	f.FuseInstructionIntoMultiOutput(abs)
	// Stale until invalidated.
	assert.Equal(t, 2, cache.InstructionCount(f))
	cache.Invalidate(f)
	assert.Equal(t, f.FusedInstructionCount(), cache.InstructionCount(f))
	assert.Greater(t, cache.InstructionCount(f), 2)
}
