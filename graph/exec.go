// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"math"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/scan/types/tensors"
	"github.com/pkg/errors"
)

// Host interpreter for body graphs: nodes are evaluated in DAG order, one result buffer
// per node. It is reentrant -- no state is shared across concurrent Run calls -- which
// is what allows the scan engine to parallelize recurrence-free loops.

// Run executes the frozen graph with the given parameter values, in parameter creation
// order, and returns one tensor per output.
//
// Domain errors (integer division by zero, Log of non-positive values) and parameter
// shape mismatches are returned as errors.
func (g *Graph) Run(inputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
	if !g.IsFrozen() {
		return nil, errors.Errorf("graph %q cannot be executed before Return is called", g.name)
	}
	if len(inputs) != g.NumParameters() {
		return nil, errors.Errorf("graph %q takes %d parameters, %d given to Run()",
			g.name, g.NumParameters(), len(inputs))
	}
	for ii, param := range g.parameters {
		if inputs[ii] == nil {
			return nil, errors.Errorf("graph %q: parameter %q (#%d) is nil", g.name, param.paramName, ii)
		}
		if !inputs[ii].Shape().Equal(param.shape) {
			return nil, errors.Errorf("graph %q: parameter %q (#%d) has shape %s, want %s",
				g.name, param.paramName, ii, inputs[ii].Shape(), param.shape)
		}
	}

	results := make([]*tensors.Tensor, len(g.nodes))
	for _, node := range g.nodes {
		var err error
		switch node.opType {
		case OpParameter:
			results[node.id] = inputs[node.paramIndex]
		case OpConstant:
			results[node.id] = node.constValue
		default:
			results[node.id], err = execNode(node, results)
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "graph %q: executing node %s", g.name, node)
		}
	}

	outputs := make([]*tensors.Tensor, len(g.outputs))
	for ii, node := range g.outputs {
		outputs[ii] = results[node.id]
	}
	return outputs, nil
}

func execNode(node *Node, results []*tensors.Tensor) (*tensors.Tensor, error) {
	operands := make([]*tensors.Tensor, len(node.inputs))
	for ii, input := range node.inputs {
		operands[ii] = results[input.id]
	}
	output := tensors.FromShape(node.shape.Clone())
	var err error
	switch node.opType {
	case OpNeg, OpAbs, OpExp, OpLog:
		err = execUnary(node.opType, operands[0], output)
	case OpLogicalNot:
		in, out := tensors.FlatOf[bool](operands[0]), tensors.FlatOf[bool](output)
		for ii, v := range in {
			out[ii] = !v
		}
	case OpAdd, OpSub, OpMul, OpDiv, OpMaximum, OpMinimum:
		err = execBinary(node.opType, operands[0], operands[1], output)
	case OpGreaterThan, OpLessThan:
		err = execCompare(node.opType, operands[0], operands[1], output)
	case OpReduceSum:
		err = execReduceSum(operands[0], output)
	default:
		err = errors.Errorf("op %s not implemented by the interpreter", node.opType)
	}
	if err != nil {
		return nil, err
	}
	return output, nil
}

func execUnary(opType OpType, in, out *tensors.Tensor) error {
	switch in.DType() {
	case dtypes.Int32:
		return unaryIntKernel(opType, tensors.FlatOf[int32](in), tensors.FlatOf[int32](out))
	case dtypes.Int64:
		return unaryIntKernel(opType, tensors.FlatOf[int64](in), tensors.FlatOf[int64](out))
	case dtypes.Float32:
		return unaryFloatKernel(opType, tensors.FlatOf[float32](in), tensors.FlatOf[float32](out))
	case dtypes.Float64:
		return unaryFloatKernel(opType, tensors.FlatOf[float64](in), tensors.FlatOf[float64](out))
	}
	return errors.Errorf("op %s: unsupported dtype %s", opType, in.DType())
}

func unaryIntKernel[T int32 | int64](opType OpType, in, out []T) error {
	switch opType {
	case OpNeg:
		for ii, v := range in {
			out[ii] = -v
		}
	case OpAbs:
		for ii, v := range in {
			if v < 0 {
				out[ii] = -v
			} else {
				out[ii] = v
			}
		}
	default:
		return errors.Errorf("op %s not defined for integer dtypes", opType)
	}
	return nil
}

func unaryFloatKernel[T float32 | float64](opType OpType, in, out []T) error {
	switch opType {
	case OpNeg:
		for ii, v := range in {
			out[ii] = -v
		}
	case OpAbs:
		for ii, v := range in {
			out[ii] = T(math.Abs(float64(v)))
		}
	case OpExp:
		for ii, v := range in {
			out[ii] = T(math.Exp(float64(v)))
		}
	case OpLog:
		for ii, v := range in {
			if v <= 0 {
				return errors.Errorf("Log of non-positive value %v", v)
			}
			out[ii] = T(math.Log(float64(v)))
		}
	default:
		return errors.Errorf("op %s not implemented for float dtypes", opType)
	}
	return nil
}

// broadcastStride returns the index stride of an operand: 0 for scalars being broadcast,
// 1 otherwise.
func broadcastStride(operandSize, outputSize int) int {
	if operandSize == 1 && outputSize != 1 {
		return 0
	}
	return 1
}

func execBinary(opType OpType, lhs, rhs, out *tensors.Tensor) error {
	isInt := lhs.DType().IsInt()
	switch lhs.DType() {
	case dtypes.Int32:
		return binaryKernel(opType, isInt, tensors.FlatOf[int32](lhs), tensors.FlatOf[int32](rhs), tensors.FlatOf[int32](out))
	case dtypes.Int64:
		return binaryKernel(opType, isInt, tensors.FlatOf[int64](lhs), tensors.FlatOf[int64](rhs), tensors.FlatOf[int64](out))
	case dtypes.Float32:
		return binaryKernel(opType, isInt, tensors.FlatOf[float32](lhs), tensors.FlatOf[float32](rhs), tensors.FlatOf[float32](out))
	case dtypes.Float64:
		return binaryKernel(opType, isInt, tensors.FlatOf[float64](lhs), tensors.FlatOf[float64](rhs), tensors.FlatOf[float64](out))
	}
	return errors.Errorf("op %s: unsupported dtype %s", opType, lhs.DType())
}

func binaryKernel[T int32 | int64 | float32 | float64](opType OpType, isInt bool, lhs, rhs, out []T) error {
	lhsStride := broadcastStride(len(lhs), len(out))
	rhsStride := broadcastStride(len(rhs), len(out))
	for ii := range out {
		a, b := lhs[ii*lhsStride], rhs[ii*rhsStride]
		switch opType {
		case OpAdd:
			out[ii] = a + b
		case OpSub:
			out[ii] = a - b
		case OpMul:
			out[ii] = a * b
		case OpDiv:
			if isInt && b == 0 {
				return errors.Errorf("integer division by zero")
			}
			out[ii] = a / b
		case OpMaximum:
			out[ii] = max(a, b)
		case OpMinimum:
			out[ii] = min(a, b)
		}
	}
	return nil
}

func execCompare(opType OpType, lhs, rhs, out *tensors.Tensor) error {
	switch lhs.DType() {
	case dtypes.Int32:
		compareKernel(opType, tensors.FlatOf[int32](lhs), tensors.FlatOf[int32](rhs), tensors.FlatOf[bool](out))
	case dtypes.Int64:
		compareKernel(opType, tensors.FlatOf[int64](lhs), tensors.FlatOf[int64](rhs), tensors.FlatOf[bool](out))
	case dtypes.Float32:
		compareKernel(opType, tensors.FlatOf[float32](lhs), tensors.FlatOf[float32](rhs), tensors.FlatOf[bool](out))
	case dtypes.Float64:
		compareKernel(opType, tensors.FlatOf[float64](lhs), tensors.FlatOf[float64](rhs), tensors.FlatOf[bool](out))
	default:
		return errors.Errorf("op %s: unsupported dtype %s", opType, lhs.DType())
	}
	return nil
}

func compareKernel[T int32 | int64 | float32 | float64](opType OpType, lhs, rhs []T, out []bool) {
	lhsStride := broadcastStride(len(lhs), len(out))
	rhsStride := broadcastStride(len(rhs), len(out))
	for ii := range out {
		a, b := lhs[ii*lhsStride], rhs[ii*rhsStride]
		if opType == OpGreaterThan {
			out[ii] = a > b
		} else {
			out[ii] = a < b
		}
	}
}

func execReduceSum(in, out *tensors.Tensor) error {
	switch in.DType() {
	case dtypes.Int32:
		reduceSumKernel(tensors.FlatOf[int32](in), tensors.FlatOf[int32](out))
	case dtypes.Int64:
		reduceSumKernel(tensors.FlatOf[int64](in), tensors.FlatOf[int64](out))
	case dtypes.Float32:
		reduceSumKernel(tensors.FlatOf[float32](in), tensors.FlatOf[float32](out))
	case dtypes.Float64:
		reduceSumKernel(tensors.FlatOf[float64](in), tensors.FlatOf[float64](out))
	default:
		return errors.Errorf("op %s: unsupported dtype %s", OpReduceSum, in.DType())
	}
	return nil
}

func reduceSumKernel[T int32 | int64 | float32 | float64](in, out []T) {
	var sum T
	for _, v := range in {
		sum += v
	}
	out[0] = sum
}
