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

// OpType is a closed enum of the operations an Instruction can perform.
//
// The optimizer never interprets the semantics of most ops: it only needs the
// coarse capability queries below (elementwise, transcendental, ...) plus a few
// structurally special ops (Fusion, Tuple, GetTupleElement, Slice, Reduce).
type OpType int

//go:generate go tool enumer -type=OpType -trimprefix=OpType -output=gen_optype_enumer.go optype.go

const (
	OpTypeInvalid OpType = iota
	OpTypeParameter
	OpTypeConstant
	OpTypeIota

	// Elementwise ops.
	OpTypeAbs
	OpTypeAdd
	OpTypeCompare
	OpTypeConvertDType
	OpTypeCos
	OpTypeDiv
	OpTypeExp
	OpTypeLog
	OpTypeMax
	OpTypeMin
	OpTypeMul
	OpTypeNeg
	OpTypePow
	OpTypeRsqrt
	OpTypeSelect
	OpTypeSin
	OpTypeSqrt
	OpTypeSub
	OpTypeTanh

	// Data movement ops.
	OpTypeBroadcast
	OpTypeConcatenate
	OpTypeDynamicSlice
	OpTypeDynamicUpdateSlice
	OpTypeGather
	OpTypeReshape
	OpTypeReverse
	OpTypeSlice
	OpTypeTranspose

	// Reduction-like ops.
	OpTypeReduce
	OpTypeReduceWindow
	OpTypeScatter

	// Tuple plumbing.
	OpTypeGetTupleElement
	OpTypeTuple

	// Opaque grouping ops.
	OpTypeFusion
	OpTypeCustomCall
)

// IsElementwise returns whether the op computes each output element from the
// corresponding input elements only.
func (op OpType) IsElementwise() bool {
	switch op {
	case OpTypeAbs, OpTypeAdd, OpTypeCompare, OpTypeConvertDType, OpTypeCos,
		OpTypeDiv, OpTypeExp, OpTypeLog, OpTypeMax, OpTypeMin, OpTypeMul,
		OpTypeNeg, OpTypePow, OpTypeRsqrt, OpTypeSelect, OpTypeSin,
		OpTypeSqrt, OpTypeSub, OpTypeTanh:
		return true
	}
	return false
}

// IsTranscendental returns whether the op is an expensive elementwise function,
// used by the cost model to weigh flops.
func (op OpType) IsTranscendental() bool {
	switch op {
	case OpTypeCos, OpTypeExp, OpTypeLog, OpTypePow, OpTypeRsqrt, OpTypeSin,
		OpTypeSqrt, OpTypeTanh:
		return true
	}
	return false
}

// IsDataMovement returns whether the op only rearranges (copies, slices,
// broadcasts) its input without arithmetic.
func (op OpType) IsDataMovement() bool {
	switch op {
	case OpTypeBroadcast, OpTypeConcatenate, OpTypeDynamicSlice,
		OpTypeDynamicUpdateSlice, OpTypeGather, OpTypeReshape, OpTypeReverse,
		OpTypeSlice, OpTypeTranspose:
		return true
	}
	return false
}

// IsReduction returns whether the op contracts one or more axes of its input.
func (op OpType) IsReduction() bool {
	switch op {
	case OpTypeReduce, OpTypeReduceWindow, OpTypeScatter:
		return true
	}
	return false
}
