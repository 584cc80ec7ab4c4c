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
	"k8s.io/klog/v2"
)

// fuelCounter rations graph rewrites for bisecting miscompiles: every fusion
// spends one unit, and once the budget runs out the pass keeps analyzing but
// stops rewriting. A non-positive budget means unlimited.
type fuelCounter struct {
	remaining int64
	limited   bool
	exhausted bool
}

func newFuelCounter(budget int64) *fuelCounter {
	return &fuelCounter{remaining: budget, limited: budget > 0}
}

// consume reports whether one more rewrite may proceed; explain is only
// evaluated on the transition to exhaustion.
func (f *fuelCounter) consume(explain func() string) bool {
	if !f.limited {
		return true
	}
	if f.remaining <= 0 {
		if !f.exhausted {
			f.exhausted = true
			klog.V(1).Infof("fusion fuel exhausted, skipping: %s", explain())
		}
		return false
	}
	f.remaining--
	return true
}
