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
	"github.com/gomlx/hlopt/hlo"
)

// InfoCache memoizes per-instruction properties that the budget predicates
// recompute often, currently the number of instructions inside a fusion body.
// Entries must be invalidated whenever the instruction is merged, removed, or
// has its operand set changed.
type InfoCache struct {
	instructionCounts map[*hlo.Instruction]int
}

// NewInfoCache returns an empty cache.
func NewInfoCache() *InfoCache {
	return &InfoCache{
		instructionCounts: make(map[*hlo.Instruction]int),
	}
}

// Invalidate drops the cached verdicts for the instruction. Call it on every
// participant of a merge before mutating the graph.
func (cache *InfoCache) Invalidate(i *hlo.Instruction) {
	delete(cache.instructionCounts, i)
}

// InstructionCount returns the number of instructions the candidate would
// contribute to a fused body: its body size for fusions, 1 otherwise.
func (cache *InfoCache) InstructionCount(i *hlo.Instruction) int {
	if !i.IsFusion() {
		return 1
	}
	if count, found := cache.instructionCounts[i]; found {
		return count
	}
	count := i.FusedInstructionCount()
	cache.instructionCounts[i] = count
	return count
}
