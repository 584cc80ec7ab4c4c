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

// Package fusion implements multi-output fusion: merging instructions that
// share inputs into fusions with tuple outputs, so their bodies run as one
// kernel without materializing intermediate results.
//
// Two merge forms exist. Sibling fusion merges two consumers of a common
// producer into one multi-output fusion. Producer-consumer fusion absorbs a
// producer into one of its consumers while still materializing the producer's
// value for its remaining users.
//
// Every candidate pair runs through an ordered chain of legality and
// profitability predicates, cheap structural checks first; the first failing
// predicate vetoes the pair with a human-readable reason. Accepted merges
// mutate the graph in place, after which the reachability map is rebuilt and
// the cost analysis entries of the participants are refreshed, so later
// decisions never see stale derived state.
package fusion

import (
	"fmt"
	"sort"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/hlopt/hlo"
	"github.com/gomlx/hlopt/types"
)

// MultiOutputFusion is the pass object. It holds only target description and
// configuration; all per-run state lives in a runState, so one pass value can
// be reused across modules.
type MultiOutputFusion struct {
	device    DeviceInfo
	shapeSize ShapeSizeFunc
	recorder  StateRecorder
}

// NewMultiOutputFusion creates the pass for the given target. shapeSize may
// be nil, in which case the dense packed size is used.
func NewMultiOutputFusion(device DeviceInfo, shapeSize ShapeSizeFunc) *MultiOutputFusion {
	if shapeSize == nil {
		shapeSize = DefaultShapeSize
	}
	return &MultiOutputFusion{
		device:    device,
		shapeSize: shapeSize,
		recorder:  logStateRecorder{},
	}
}

// WithRecorder replaces the diagnostics sink. Recording still only happens
// when DebugOptions.DumpFusionVisualization is set.
func (p *MultiOutputFusion) WithRecorder(r StateRecorder) *MultiOutputFusion {
	p.recorder = r
	return p
}

// Name identifies the pass in logs and fuel accounting.
func (p *MultiOutputFusion) Name() string { return "multi_output_fusion" }

// runState is the mutable state of one computation's traversal: the graph,
// its derived structures, and the shared fuel counter.
type runState struct {
	pass         *MultiOutputFusion
	computation  *hlo.Computation
	reachability *hlo.ReachabilityMap
	cost         *CostAnalysis
	cache        *InfoCache
	fuel         *fuelCounter
	debug        hlo.DebugOptions
}

// Run applies the pass to every non-fusion computation of the module on the
// given execution threads (empty set means all threads). It returns whether
// any fusion happened. Each computation is traversed repeatedly until one
// full traversal makes no merge.
func (p *MultiOutputFusion) Run(module *hlo.Module, executionThreads types.Set[string]) (bool, error) {
	debug := module.Config().DebugOptions
	fuel := newFuelCounter(debug.FusionFuel)
	changed := false
	for _, computation := range module.MakeNonfusionComputations(executionThreads) {
		st := &runState{
			pass:        p,
			computation: computation,
			cost: NewCostAnalysis(CostOptions{
				ShapeSize:                  p.shapeSize,
				CountMultipleInputAccesses: true,
				MaxMergedInstructionCount:  p.device.MaxFusedInstructionCount,
			}),
			cache: NewInfoCache(),
			fuel:  fuel,
			debug: debug,
		}
		if err := st.cost.Accept(computation); err != nil {
			return changed, errors.WithMessagef(err, "%s: seeding cost analysis for %q", p.Name(), computation.Name())
		}
		for {
			st.recomputeReachability()
			iterChanged, err := st.fuseOnce()
			if iterChanged {
				changed = true
			}
			if err != nil {
				return changed, errors.WithMessagef(err, "%s: computation %q", p.Name(), computation.Name())
			}
			if !iterChanged {
				break
			}
		}
	}
	return changed, nil
}

func (st *runState) recomputeReachability() {
	st.reachability = hlo.BuildReachability(st.computation)
}

func (st *runState) record(label string, consumer, producer *hlo.Instruction) {
	if !st.debug.DumpFusionVisualization {
		return
	}
	st.pass.recorder.Record(st.computation, label, consumer, producer)
}

// fuseOnce is one full traversal of the computation in reverse post-order
// (uses before defs). For each producer it first merges eligible sibling
// consumers into each other, then tries to absorb the producer itself into
// its best consumer. Merges only ever remove instructions at or after the
// traversal position, so iterating over the snapshot is safe.
func (st *runState) fuseOnce() (bool, error) {
	changed := false
	defsBeforeUses := st.computation.MakeInstructionPostOrder()
	for idx := len(defsBeforeUses) - 1; idx >= 0; idx-- {
		producer := defsBeforeUses[idx]
		// Constants are free to rematerialize and custom fusions are opaque
		// to the codegen, so neither participates.
		if producer.Op() == hlo.OpTypeConstant || producer.IsCustomFusion() {
			continue
		}
		siblingsChanged, err := st.fuseSiblings(producer)
		if siblingsChanged {
			changed = true
		}
		if err != nil {
			return changed, err
		}

		candidates := st.producerConsumerCandidates(producer)
		consumer := selectPreferredCandidate(candidates)
		if consumer == nil {
			continue
		}
		if !st.fuel.consume(func() string {
			return fmt.Sprintf("Not fusing %s into %s.", producer.Name(), consumer.Name())
		}) {
			continue
		}
		changed = true
		if err := st.cost.RemoveInstruction(producer); err != nil {
			return changed, err
		}
		if err := st.cost.RemoveInstruction(consumer); err != nil {
			return changed, err
		}

		target := consumer
		if consumer.IsFusion() {
			klog.V(2).Infof("Fuse producer %s into its consumer %s", producer.Name(), consumer.Name())
		} else {
			target = st.computation.CreateFusion(hlo.ChooseFusionKind(producer, consumer), consumer)
			klog.V(2).Infof("Fuse producer %s and its consumer %s into %s",
				producer.Name(), consumer.Name(), target.Name())
			if err := st.computation.ReplaceInstruction(consumer, target); err != nil {
				return changed, errors.WithMessage(err, "replacing consumer with its fusion wrapper")
			}
		}
		st.record(fmt.Sprintf("About to fuse |%s| into |%s| inside multi-output fusion",
			producer.Name(), target.Name()), target, producer)
		st.cache.Invalidate(target)
		st.cache.Invalidate(producer)
		if producer.IsFusion() {
			selectors := tupleSelectors(producer)
			target.MergeFusionInstructionIntoMultiOutput(producer)
			st.forgetDeadSelectors(selectors)
		} else {
			target.FuseInstructionIntoMultiOutput(producer)
			if err := st.computation.RemoveInstruction(producer); err != nil {
				return changed, err
			}
		}
		if err := st.cost.RevisitInstruction(target); err != nil {
			return changed, err
		}
		st.record(fmt.Sprintf("Fused |%s| into |%s| inside multi-output fusion",
			producer.Name(), target.Name()), target, nil)
		st.recomputeReachability()
	}
	return changed, nil
}

// tupleSelectors snapshots the GetTupleElement users of an instruction before
// a merge rewires them.
func tupleSelectors(i *hlo.Instruction) []*hlo.Instruction {
	var selectors []*hlo.Instruction
	for _, user := range i.Users() {
		if user.Op() == hlo.OpTypeGetTupleElement {
			selectors = append(selectors, user)
		}
	}
	return selectors
}

// forgetDeadSelectors drops the cost entries of selectors the merge removed
// from the computation. Retargeted selectors keep theirs.
func (st *runState) forgetDeadSelectors(selectors []*hlo.Instruction) {
	for _, selector := range selectors {
		if selector.Parent() == nil {
			st.cost.Forget(selector)
		}
	}
}

// fusionPriority orders candidates: existing multi-output fusions first, then
// ordinary fusions, then unfused instructions. Growing the largest existing
// fusion preserves the most already-won opportunities.
func fusionPriority(i *hlo.Instruction) int {
	if i.IsMultiOutputFusion() {
		return 2
	}
	if i.IsFusion() {
		return 1
	}
	return 0
}

// selectPreferredCandidate returns the first candidate of highest priority,
// or nil if there are none.
func selectPreferredCandidate(candidates []*hlo.Instruction) *hlo.Instruction {
	var best *hlo.Instruction
	for _, candidate := range candidates {
		if best == nil || fusionPriority(candidate) > fusionPriority(best) {
			best = candidate
		}
	}
	return best
}

// fuseSiblings merges pairs of the parent's consumers into each other. The
// candidate list is sorted by priority (stable, preserving user order) and
// scanned pairwise; a fusion-kind leader absorbs later candidates that pass
// the predicate chain, and the list shrinks in place so scanning continues
// from the same position.
func (st *runState) fuseSiblings(parent *hlo.Instruction) (bool, error) {
	if !IsProfitableOperand(parent) {
		klog.V(3).Infof("Operand %s is not profitable", parent.Name())
		return false, nil
	}
	var siblings []*hlo.Instruction
	for _, user := range parent.Users() {
		if IsSiblingFusionCandidate(user) {
			siblings = append(siblings, user)
		}
	}
	stableSortByPriority(siblings)
	changed := false
	for i := 0; i < len(siblings); i++ {
		lead := siblings[i]
		klog.V(3).Infof("Considering %s", lead.Name())
		if !lead.IsFusion() {
			continue
		}
		for j := i + 1; j < len(siblings); {
			other := siblings[j]
			klog.V(3).Infof("Considering %s and %s", lead.Name(), other.Name())
			if decision := st.canFuseSiblings(lead, other, parent); !decision.CanFuse() {
				klog.V(3).Infof("Can't fuse: %s", decision.Reason())
				j++
				continue
			}
			if !st.fuel.consume(func() string {
				return fmt.Sprintf("Not fusing siblings %s and %s.", lead.Name(), other.Name())
			}) {
				j++
				continue
			}
			klog.V(2).Infof("Fuse siblings %s and %s", lead.Name(), other.Name())
			st.cache.Invalidate(lead)
			st.cache.Invalidate(other)
			if err := st.cost.RemoveInstruction(lead); err != nil {
				return changed, err
			}
			if err := st.cost.RemoveInstruction(other); err != nil {
				return changed, err
			}
			st.record(fmt.Sprintf("About to fuse sibling |%s| into sibling |%s| inside multi-output fusion",
				other.Name(), lead.Name()), lead, other)
			if other.IsFusion() {
				otherWasInput := other.IsInputFusion()
				selectors := tupleSelectors(other)
				lead.MergeFusionInstructionIntoMultiOutput(other)
				st.forgetDeadSelectors(selectors)
				if otherWasInput {
					lead.SetFusionKind(hlo.FusionKindInput)
				}
			} else {
				lead.FuseInstructionIntoMultiOutput(other)
				if err := st.computation.RemoveInstruction(other); err != nil {
					return changed, err
				}
			}
			st.record(fmt.Sprintf("Fused |%s| into |%s| inside multi-output fusion",
				other.Name(), lead.Name()), lead, nil)
			if err := st.cost.RevisitInstruction(lead); err != nil {
				return changed, err
			}
			changed = true
			siblings = append(siblings[:j], siblings[j+1:]...)
			st.recomputeReachability()
		}
	}
	return changed, nil
}

// stableSortByPriority sorts highest priority first, preserving the relative
// order of equal-priority candidates.
func stableSortByPriority(siblings []*hlo.Instruction) {
	sort.SliceStable(siblings, func(i, j int) bool {
		return fusionPriority(siblings[i]) > fusionPriority(siblings[j])
	})
}

// canFuseSiblings is the sibling predicate chain, cheapest first.
func (st *runState) canFuseSiblings(a, b, parent *hlo.Instruction) Decision {
	return checkAll(a, b, []Constraint{
		func(a, b *hlo.Instruction) Decision {
			return Check(!st.reachability.IsConnected(a, b),
				fmt.Sprintf("%s and %s are connected", a.Name(), b.Name()))
		},
		ShapesCompatibleForMultiOutputFusion,
		func(a, b *hlo.Instruction) Decision {
			return ParameterSlicesAreNonOverlapping(a, b, parent)
		},
		func(a, b *hlo.Instruction) Decision {
			return LegalToFuse(a, b, st.pass.device, st.cache)
		},
	})
}

// producerConsumerCandidates returns the producer's consumers into which it
// could legally and profitably be multi-output fused.
func (st *runState) producerConsumerCandidates(producer *hlo.Instruction) []*hlo.Instruction {
	if !IsProducerMultiOutputFusible(producer) {
		return nil
	}
	// A single non-multi-output-fusion user was already considered, and
	// rejected, by the producer-consumer fusion merger.
	if producer.UserCount() == 1 && !producer.Users()[0].IsMultiOutputFusion() {
		return nil
	}
	var candidates []*hlo.Instruction
	for _, consumer := range producer.Users() {
		klog.V(3).Infof("Looking at producer %s and its consumer %s", producer.Name(), consumer.Name())
		if decision := st.producerCandidateIsFusible(producer, consumer); decision.CanFuse() {
			candidates = append(candidates, consumer)
		} else if st.debug.DumpFusionVisualization {
			st.record(fmt.Sprintf("Not considering fusion of producer |%s| into consumer |%s| due to: %s",
				producer.Name(), consumer.Name(), decision.Reason()), consumer, producer)
		}
	}
	return candidates
}

// producerCandidateIsFusible is the producer-consumer predicate chain,
// cheapest first and the performance model last.
func (st *runState) producerCandidateIsFusible(producer, consumer *hlo.Instruction) Decision {
	return checkAll(producer, consumer, []Constraint{
		func(producer, consumer *hlo.Instruction) Decision {
			return Check(IsFusibleAsMultiOutputFusionRoot(consumer),
				"consumer not eligible as multi-output fusion root.")
		},
		func(producer, consumer *hlo.Instruction) Decision {
			return ShapesCompatibleForMultiOutputFusion(consumer, producer)
		},
		st.operandReachableFromProducer,
		func(producer, consumer *hlo.Instruction) Decision {
			return FusionFitsInBudget(producer, consumer, st.pass.device, st.cache)
		},
		func(producer, consumer *hlo.Instruction) Decision {
			return Check(!st.cost.ProducerConsumerMergedTooLarge(producer, consumer),
				"will generate too large IR")
		},
		func(producer, consumer *hlo.Instruction) Decision {
			t := EstimateRunTimes(producer, []*hlo.Instruction{consumer}, st.cost,
				st.pass.device, st.debug.ExperimentalBlockSize, true)
			return Check(t.TimeFused <= t.TimeUnfused, "would execute slower if fused")
		},
	})
}

// operandReachableFromProducer rejects consumers with an operand through
// which the producer is reachable other than the direct edge: fusing such a
// pair would close a cycle.
func (st *runState) operandReachableFromProducer(producer, consumer *hlo.Instruction) Decision {
	for _, operand := range consumer.Operands() {
		// Tuple selectors minted by an earlier merge postdate the map; their
		// source stands in for them.
		if !st.reachability.IsPresent(operand) && operand.Op() == hlo.OpTypeGetTupleElement {
			operand = operand.Operand(0)
		}
		if !st.reachability.IsPresent(operand) || !st.reachability.IsPresent(producer) {
			exceptions.Panicf("reachability map is incomplete. This should never happen.")
		}
		if operand != producer && st.reachability.IsReachable(producer, operand) {
			return Forbidf("%s would introduce a cycle when fused with %s", producer.Name(), operand.Name())
		}
	}
	return Allow()
}
