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

	"github.com/gomlx/hlopt/hlo"
)

// StateRecorder observes the computation around each fusion step, for
// visualizing how the pass transformed a graph. Recording only happens when
// DebugOptions.DumpFusionVisualization is set.
type StateRecorder interface {
	// Record is called with the computation state, a label describing the
	// step ("About to fuse ..." or "Fused ..."), and the pair involved.
	// Producer may be nil for sibling-only steps.
	Record(computation *hlo.Computation, label string, consumer, producer *hlo.Instruction)
}

// logStateRecorder dumps each recorded state to the structured log at high
// verbosity.
type logStateRecorder struct{}

func (logStateRecorder) Record(computation *hlo.Computation, label string, consumer, producer *hlo.Instruction) {
	if !klog.V(3).Enabled() {
		return
	}
	klog.V(3).Infof("%s\n%s", label, computation.String())
}
