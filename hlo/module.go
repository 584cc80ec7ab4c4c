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

// Package hlo implements the dataflow intermediate representation the hlopt
// optimizer passes rewrite: Modules of Computations of Instructions.
//
// The graph is mutated in place. All mutation primitives keep operand/user
// back-references bidirectionally consistent, and removal of an instruction
// that still has users is an error: passes rely on use counts to know when a
// value has been fully absorbed into a fusion.
//
// Invariant violations -- accessing a removed instruction, inconsistent edges,
// stale derived state -- panic via github.com/gomlx/exceptions: a corrupted
// graph must never be silently optimized further. Recoverable failures of the
// mutation primitives return errors with stack traces (github.com/pkg/errors).
package hlo

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/hlopt/types"
)

// DebugOptions holds developer-facing toggles that alter pass behavior without
// changing the algorithms' structure.
type DebugOptions struct {
	// DumpFusionVisualization enables recording of why instruction pairs were
	// or were not fused. Purely diagnostic.
	DumpFusionVisualization bool

	// ExperimentalBlockSize enables the experimental kernel block-size
	// heuristic in the performance model.
	ExperimentalBlockSize bool

	// FusionFuel bounds how many rewrites the fusion pass may apply in one
	// invocation. Zero or negative means unlimited. A debugging/bisection
	// valve, not a correctness mechanism.
	FusionFuel int64
}

// Config is the per-Module configuration surface.
type Config struct {
	DebugOptions DebugOptions
}

// Module is a program: a named collection of Computations with one entry
// computation, plus configuration.
type Module struct {
	name         string
	config       Config
	computations []*Computation
	entry        *Computation
}

// NewModule creates an empty Module with default configuration.
func NewModule(name string) *Module {
	return &Module{name: name}
}

// Name of the module.
func (m *Module) Name() string { return m.name }

// Config returns a pointer to the module configuration, so callers can toggle
// DebugOptions before running passes.
func (m *Module) Config() *Config { return &m.config }

// AddComputation transfers ownership of a computation to the module. The first
// non-fusion computation added becomes the entry computation.
func (m *Module) AddComputation(c *Computation) *Computation {
	c.module = m
	m.computations = append(m.computations, c)
	if m.entry == nil && !c.IsFusionComputation() {
		m.entry = c
	}
	return c
}

// removeComputation drops a (fusion body) computation from the module.
func (m *Module) removeComputation(c *Computation) {
	idx := slices.Index(m.computations, c)
	if idx < 0 {
		return
	}
	m.computations = slices.Delete(m.computations, idx, idx+1)
	c.module = nil
}

// EntryComputation returns the entry computation, or nil for an empty module.
func (m *Module) EntryComputation() *Computation { return m.entry }

// Computations returns all computations, including fusion bodies.
func (m *Module) Computations() []*Computation { return m.computations }

// MakeNonfusionComputations returns the computations that are not fusion
// bodies, restricted to the given execution threads. An empty (or nil) set
// means no restriction.
func (m *Module) MakeNonfusionComputations(executionThreads types.Set[string]) []*Computation {
	result := make([]*Computation, 0, len(m.computations))
	for _, c := range m.computations {
		if c.IsFusionComputation() {
			continue
		}
		if len(executionThreads) > 0 && !executionThreads.Has(c.executionThread) {
			continue
		}
		result = append(result, c)
	}
	return result
}

// String renders the whole module.
func (m *Module) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "module %s\n", m.name)
	for _, c := range m.computations {
		sb.WriteString(c.String())
		sb.WriteString("\n")
	}
	return sb.String()
}
