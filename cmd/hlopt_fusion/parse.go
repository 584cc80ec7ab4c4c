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

package main

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/hlopt/hlo"
	"github.com/gomlx/hlopt/types/shapes"
)

// The input is one instruction per line, in def-before-use order:
//
//	x = parameter(f32[1024, 8])
//	exp.1 = exp(x)
//	neg.1 = neg(exp.1)
//	root = tuple(exp.1, neg.1)
//
// Shapes are inherited from the first operand unless an explicit
// ": dtype[dims]" suffix overrides them (needed for broadcast, reduce and
// friends). Slices take per-dimension ranges: slice(x, 0:512, 0:8:2).
// Lines starting with # are comments.

var dtypeNames = map[string]dtypes.DType{
	"pred": dtypes.Bool,
	"s8":   dtypes.Int8,
	"s16":  dtypes.Int16,
	"s32":  dtypes.Int32,
	"s64":  dtypes.Int64,
	"u8":   dtypes.Uint8,
	"u16":  dtypes.Uint16,
	"u32":  dtypes.Uint32,
	"u64":  dtypes.Uint64,
	"f16":  dtypes.Float16,
	"f32":  dtypes.Float32,
	"f64":  dtypes.Float64,
}

var opsByLowerName = func() map[string]hlo.OpType {
	m := make(map[string]hlo.OpType, len(hlo.OpTypeValues()))
	for _, op := range hlo.OpTypeValues() {
		m[strings.ToLower(op.String())] = op
	}
	// Common HLO text shorthand.
	m["gte"] = hlo.OpTypeGetTupleElement
	return m
}()

// parseComputation builds a Computation from the textual form.
func parseComputation(name, text string) (*hlo.Computation, error) {
	c := hlo.NewComputation(name)
	byName := make(map[string]*hlo.Instruction)
	var last *hlo.Instruction
	for lineNo, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		instr, err := parseLine(c, byName, line)
		if err != nil {
			return nil, errors.WithMessagef(err, "line %d: %q", lineNo+1, line)
		}
		byName[instr.Name()] = instr
		last = instr
	}
	if last == nil {
		return nil, errors.New("empty computation")
	}
	c.SetRoot(last)
	return c, nil
}

func parseLine(c *hlo.Computation, byName map[string]*hlo.Instruction, line string) (*hlo.Instruction, error) {
	name, rhs, found := strings.Cut(line, "=")
	if !found {
		return nil, errors.New("expected \"name = op(...)\"")
	}
	name = strings.TrimSpace(name)
	rhs = strings.TrimSpace(rhs)

	rhs, shapeSuffix, hasShape := cutShapeSuffix(rhs)
	opName, argsText, found := strings.Cut(rhs, "(")
	if !found || !strings.HasSuffix(argsText, ")") {
		return nil, errors.New("expected \"op(args)\"")
	}
	opName = strings.TrimSpace(opName)
	argsText = strings.TrimSuffix(argsText, ")")
	op, found := opsByLowerName[strings.ToLower(opName)]
	if !found {
		return nil, errors.Errorf("unknown op %q", opName)
	}

	args := splitArgs(argsText)
	switch op {
	case hlo.OpTypeParameter, hlo.OpTypeConstant, hlo.OpTypeIota:
		if len(args) != 1 {
			return nil, errors.Errorf("%s takes exactly one shape argument", opName)
		}
		shape, err := parseShape(args[0])
		if err != nil {
			return nil, err
		}
		if op == hlo.OpTypeParameter {
			param := c.AddParameter(name, shape)
			return param, nil
		}
		return c.AddNamedInstruction(name, op, shape), nil

	case hlo.OpTypeTuple:
		operands, err := resolve(byName, args)
		if err != nil {
			return nil, err
		}
		tuple := c.AddTuple(operands...)
		return tuple, nil

	case hlo.OpTypeGetTupleElement:
		if len(args) != 2 {
			return nil, errors.New("gte takes (tuple, index)")
		}
		operands, err := resolve(byName, args[:1])
		if err != nil {
			return nil, err
		}
		index, err := strconv.Atoi(args[1])
		if err != nil {
			return nil, errors.Wrapf(err, "gte index %q", args[1])
		}
		return c.AddGetTupleElement(operands[0], index), nil

	case hlo.OpTypeSlice:
		if len(args) < 2 {
			return nil, errors.New("slice takes (operand, ranges...)")
		}
		operands, err := resolve(byName, args[:1])
		if err != nil {
			return nil, err
		}
		starts, limits, strides, err := parseRanges(args[1:])
		if err != nil {
			return nil, err
		}
		return c.AddSlice(operands[0], starts, limits, strides), nil
	}

	operands, err := resolve(byName, args)
	if err != nil {
		return nil, err
	}
	shape := shapes.Invalid()
	if hasShape {
		shape, err = parseShape(shapeSuffix)
		if err != nil {
			return nil, err
		}
	} else {
		if len(operands) == 0 {
			return nil, errors.Errorf("%s needs operands or an explicit \": dtype[dims]\" shape", opName)
		}
		shape = operands[0].Shape()
	}
	return c.AddNamedInstruction(name, op, shape, operands...), nil
}

func cutShapeSuffix(rhs string) (rest, shape string, found bool) {
	depth := 0
	for i := len(rhs) - 1; i >= 0; i-- {
		switch rhs[i] {
		case ')':
			depth++
		case '(':
			depth--
		case ':':
			if depth == 0 {
				return strings.TrimSpace(rhs[:i]), strings.TrimSpace(rhs[i+1:]), true
			}
		}
	}
	return rhs, "", false
}

func splitArgs(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	var args []string
	depth := 0
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '[':
			depth++
		case ']':
			depth--
		case ',':
			if depth == 0 {
				args = append(args, strings.TrimSpace(text[start:i]))
				start = i + 1
			}
		}
	}
	args = append(args, strings.TrimSpace(text[start:]))
	return args
}

// parseShape parses "f32[1024, 8]" or a bare scalar "f32".
func parseShape(text string) (shapes.Shape, error) {
	dtypeText, dimsText, hasDims := strings.Cut(text, "[")
	dtype, found := dtypeNames[strings.TrimSpace(dtypeText)]
	if !found {
		return shapes.Invalid(), errors.Errorf("unknown dtype %q", dtypeText)
	}
	if !hasDims {
		return shapes.Make(dtype), nil
	}
	dimsText = strings.TrimSuffix(strings.TrimSpace(dimsText), "]")
	var dims []int
	if dimsText != "" {
		for _, dimText := range strings.Split(dimsText, ",") {
			dim, err := strconv.Atoi(strings.TrimSpace(dimText))
			if err != nil {
				return shapes.Invalid(), errors.Wrapf(err, "dimension %q", dimText)
			}
			dims = append(dims, dim)
		}
	}
	return shapes.Make(dtype, dims...), nil
}

// parseRanges parses per-dimension "start:limit" or "start:limit:stride".
func parseRanges(args []string) (starts, limits, strides []int, err error) {
	for _, arg := range args {
		parts := strings.Split(arg, ":")
		if len(parts) != 2 && len(parts) != 3 {
			return nil, nil, nil, errors.Errorf("range %q: want start:limit or start:limit:stride", arg)
		}
		values := make([]int, len(parts))
		for i, part := range parts {
			values[i], err = strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return nil, nil, nil, errors.Wrapf(err, "range %q", arg)
			}
		}
		starts = append(starts, values[0])
		limits = append(limits, values[1])
		if len(values) == 3 {
			strides = append(strides, values[2])
		} else {
			strides = append(strides, 1)
		}
	}
	return starts, limits, strides, nil
}

func resolve(byName map[string]*hlo.Instruction, names []string) ([]*hlo.Instruction, error) {
	operands := make([]*hlo.Instruction, 0, len(names))
	for _, operandName := range names {
		operand, found := byName[operandName]
		if !found {
			return nil, errors.Errorf("unknown operand %q", operandName)
		}
		operands = append(operands, operand)
	}
	return operands, nil
}
