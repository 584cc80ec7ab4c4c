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

	"github.com/gomlx/hlopt/hlo"
)

func TestDecision(t *testing.T) {
	assert.True(t, Allow().CanFuse())
	assert.Empty(t, Allow().Reason())

	d := Forbidf("%s is in the way", "op")
	assert.False(t, d.CanFuse())
	assert.Equal(t, "op is in the way", d.Reason())

	assert.True(t, Check(true, "unused").CanFuse())
	assert.False(t, Check(false, "bad").CanFuse())
	assert.Equal(t, "bad", Check(false, "bad").Reason())
}

func TestCheckAllShortCircuits(t *testing.T) {
	_, c := makeEntry()
	a := c.AddParameter("a", vec(4))
	b := c.AddParameter("b", vec(4))

	var evaluated []string
	named := func(name string, d Decision) Constraint {
		return func(_, _ *hlo.Instruction) Decision {
			evaluated = append(evaluated, name)
			return d
		}
	}

	d := checkAll(a, b, []Constraint{
		named("first", Allow()),
		named("second", Forbidf("second says no")),
		named("third", Forbidf("third never runs")),
	})
	assert.False(t, d.CanFuse())
	assert.Equal(t, "second says no", d.Reason())
	assert.Equal(t, []string{"first", "second"}, evaluated)

	evaluated = nil
	assert.True(t, checkAll(a, b, []Constraint{named("only", Allow())}).CanFuse())
	assert.Equal(t, []string{"only"}, evaluated)
}
