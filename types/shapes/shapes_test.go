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

package shapes

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMake(t *testing.T) {
	s := Make(dtypes.Float32, 3, 2)
	assert.Equal(t, 2, s.Rank())
	assert.Equal(t, 6, s.Size())
	assert.Equal(t, uintptr(24), s.Memory())
	assert.Equal(t, "(Float32)[3 2]", s.String())
	assert.Equal(t, 2, s.Dim(-1))
	assert.Equal(t, 3, s.Dim(0))
	require.Panics(t, func() { Make(dtypes.Float32, 3, 0) })
	require.Panics(t, func() { s.Dim(2) })
}

func TestScalar(t *testing.T) {
	s := Scalar[float64]()
	assert.True(t, s.IsScalar())
	assert.True(t, s.IsEffectiveScalar())
	assert.Equal(t, 1, s.Size())

	// All dimensions 1 counts as an effective scalar.
	assert.True(t, Make(dtypes.Int32, 1, 1, 1).IsEffectiveScalar())
	assert.False(t, Make(dtypes.Int32, 1, 2).IsEffectiveScalar())
}

func TestTuple(t *testing.T) {
	s0 := Make(dtypes.Float32, 4)
	s1 := Make(dtypes.Int64, 2, 2)
	tuple := MakeTuple([]Shape{s0, s1})
	assert.True(t, tuple.IsTuple())
	assert.Equal(t, 2, tuple.TupleSize())
	assert.Equal(t, uintptr(4*4+2*2*8), tuple.Memory())
	assert.Equal(t, "Tuple<(Float32)[4], (Int64)[2 2]>", tuple.String())
	assert.False(t, tuple.IsEffectiveScalar())
}

func TestEqual(t *testing.T) {
	a := Make(dtypes.Float32, 3, 2)
	assert.True(t, a.Equal(Make(dtypes.Float32, 3, 2)))
	assert.False(t, a.Equal(Make(dtypes.Float32, 2, 3)))
	assert.False(t, a.Equal(Make(dtypes.Float64, 3, 2)))
	assert.True(t, a.EqualDimensions(Make(dtypes.Float64, 3, 2)))

	tuple := MakeTuple([]Shape{a, a})
	assert.True(t, tuple.Equal(MakeTuple([]Shape{a, a})))
	assert.False(t, tuple.Equal(MakeTuple([]Shape{a})))
	assert.False(t, tuple.Equal(a))
}

func TestClone(t *testing.T) {
	a := MakeTuple([]Shape{Make(dtypes.Float32, 3, 2), Scalar[int32]()})
	b := a.Clone()
	require.True(t, a.Equal(b))
	b.TupleShapes[0].Dimensions[0] = 7
	assert.False(t, a.Equal(b))
}

func TestInvalid(t *testing.T) {
	var zero Shape
	assert.False(t, zero.Ok())
	assert.False(t, Invalid().Ok())
	assert.True(t, Make(dtypes.Bool).Ok())
}
