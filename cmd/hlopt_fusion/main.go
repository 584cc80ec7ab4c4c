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

// hlopt_fusion runs the multi-output fusion pass over a textual computation
// and prints the graph before and after: a developer tool for inspecting what
// the pass would do to a given shape of graph.
//
// Usage:
//
//	hlopt_fusion graph.txt
//	hlopt_fusion < graph.txt
//
// See parse.go for the input format. Use -v=2 (klog) to see each fusion
// decision, -fuel to bound the number of rewrites, -dump to record the
// intermediate states.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/janpfeifer/must"
	"golang.org/x/exp/maps"
	"k8s.io/klog/v2"

	"github.com/gomlx/hlopt/fusion"
	"github.com/gomlx/hlopt/hlo"
	"github.com/gomlx/hlopt/types"
)

var (
	flagFuel = flag.Int64("fuel", 0, "Maximum number of fusion rewrites (0 = unlimited).")
	flagDump = flag.Bool("dump", false, "Record the computation state around each fusion step.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	var text []byte
	name := "stdin"
	if flag.NArg() > 0 {
		path := flag.Arg(0)
		text = must.M1(os.ReadFile(path))
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	} else {
		text = must.M1(io.ReadAll(os.Stdin))
	}

	module := hlo.NewModule(name)
	module.Config().DebugOptions.FusionFuel = *flagFuel
	module.Config().DebugOptions.DumpFusionVisualization = *flagDump
	computation := must.M1(parseComputation("entry", string(text)))
	module.AddComputation(computation)

	fmt.Println("Before:")
	fmt.Println(module.String())

	pass := fusion.NewMultiOutputFusion(fusion.DefaultDeviceInfo(), nil)
	changed := must.M1(pass.Run(module, types.MakeSet[string]()))

	if !changed {
		fmt.Println("No fusion opportunities found.")
		return
	}
	fmt.Println("After:")
	fmt.Println(module.String())

	counts := make(map[string]int)
	for _, instr := range computation.Instructions() {
		counts[instr.Op().String()]++
	}
	names := maps.Keys(counts)
	sort.Strings(names)
	fmt.Println("Op counts:")
	for _, opName := range names {
		fmt.Printf("  %-16s %d\n", opName, counts[opName])
	}
}
