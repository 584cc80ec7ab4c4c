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
	"fmt"

	"github.com/gomlx/hlopt/hlo"
)

// Decision is the outcome of one legality predicate (or of a whole chain): a
// candidate pair is either allowed to fuse, or rejected with a human-readable
// reason. Rejections are normal policy outcomes, not errors -- the driver
// simply moves on to the next candidate.
type Decision struct {
	reason string
	denied bool
}

// Allow returns an accepting Decision.
func Allow() Decision { return Decision{} }

// Forbidf returns a rejecting Decision with a formatted reason.
func Forbidf(format string, args ...any) Decision {
	return Decision{denied: true, reason: fmt.Sprintf(format, args...)}
}

// Check maps a boolean condition to a Decision: accepted when ok, otherwise
// rejected with the given reason.
func Check(ok bool, reason string) Decision {
	if ok {
		return Decision{}
	}
	return Decision{denied: true, reason: reason}
}

// CanFuse returns whether the pair may fuse.
func (d Decision) CanFuse() bool { return !d.denied }

// Reason returns the rejection reason, empty for accepting decisions.
func (d Decision) Reason() string { return d.reason }

// Constraint is one legality predicate over a candidate (producer, consumer)
// pair. Context -- reachability, cost model, device limits, the shared parent
// operand -- is closure-captured when the chain is assembled.
type Constraint func(producer, consumer *hlo.Instruction) Decision

// checkAll evaluates the constraints in order, short-circuiting at the first
// rejection, whose reason becomes the chain's reason. Cheap structural checks
// are expected to come first, expensive ones last.
func checkAll(producer, consumer *hlo.Instruction, constraints []Constraint) Decision {
	for _, constraint := range constraints {
		if decision := constraint(producer, consumer); !decision.CanFuse() {
			return decision
		}
	}
	return Allow()
}
