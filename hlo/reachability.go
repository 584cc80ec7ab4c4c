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
	"github.com/gomlx/exceptions"
)

const bitsPerWord = 64

// bitset is a bit array for dense instruction indices.
type bitset []uint64

func newBitset(n int) bitset {
	return make(bitset, (n+bitsPerWord-1)/bitsPerWord)
}

func (bs bitset) Set(idx int) {
	bs[idx/bitsPerWord] |= 1 << (idx % bitsPerWord)
}

func (bs bitset) Test(idx int) bool {
	return bs[idx/bitsPerWord]&(1<<(idx%bitsPerWord)) != 0
}

// Union ors other into bs. Both must have the same length.
func (bs bitset) Union(other bitset) {
	for w := range bs {
		bs[w] |= other[w]
	}
}

// ReachabilityMap is a derived snapshot of the transitive dependency relation
// of one Computation, valid only for the graph state at the moment
// BuildReachability was called.
//
// It precomputes, per instruction, the bitset of its ancestors (the
// instructions it transitively depends on, itself included), so pairwise
// queries cost a single bit test.
//
// After any structural mutation of the computation the map is stale and must
// be rebuilt; the fusion pass's cycle-safety depends on never consulting a
// stale map, so querying instructions the map doesn't know about fails loudly
// instead of returning a wrong answer.
type ReachabilityMap struct {
	computation *Computation
	indices     map[*Instruction]int
	ancestors   []bitset
}

// BuildReachability computes the reachability snapshot for the computation's
// current instruction set.
func BuildReachability(c *Computation) *ReachabilityMap {
	postOrder := c.MakeInstructionPostOrder()
	n := len(postOrder)
	r := &ReachabilityMap{
		computation: c,
		indices:     make(map[*Instruction]int, n),
		ancestors:   make([]bitset, n),
	}
	for idx, instr := range postOrder {
		r.indices[instr] = idx
	}
	// Post-order guarantees operands are processed before their consumers, so
	// one sweep suffices.
	for idx, instr := range postOrder {
		bs := newBitset(n)
		bs.Set(idx)
		for _, operand := range instr.operands {
			bs.Union(r.ancestors[r.indices[operand]])
		}
		r.ancestors[idx] = bs
	}
	return r
}

// IsPresent reports whether the instruction existed when the map was built.
// Instructions created by fusion mutations after the build (e.g. fresh
// GetTupleElement selectors) are absent; callers resolve those to a known
// ancestor (the selector's operand) before querying.
func (r *ReachabilityMap) IsPresent(i *Instruction) bool {
	_, found := r.indices[i]
	return found
}

// IsReachable reports whether to transitively depends on from, i.e. whether
// there is a directed path from -> ... -> to following user edges. An
// instruction is considered reachable from itself.
//
// Both instructions must be present in the map: asking about an unknown
// instruction means the caller is consulting a stale snapshot, which could
// silently green-light a cycle-creating fusion, so it panics instead.
func (r *ReachabilityMap) IsReachable(from, to *Instruction) bool {
	fromIdx, found := r.indices[from]
	if !found {
		exceptions.Panicf("reachability map of %s is incomplete: %s is not present. This should never happen.",
			r.computation.name, from.name)
	}
	toIdx, found := r.indices[to]
	if !found {
		exceptions.Panicf("reachability map of %s is incomplete: %s is not present. This should never happen.",
			r.computation.name, to.name)
	}
	return r.ancestors[toIdx].Test(fromIdx)
}

// IsConnected reports whether either instruction transitively depends on the
// other.
func (r *ReachabilityMap) IsConnected(a, b *Instruction) bool {
	return r.IsReachable(a, b) || r.IsReachable(b, a)
}
