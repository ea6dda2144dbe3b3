// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/scan/types/shapes"
)

// OpType identifies the operation performed by a node. The op set is closed and small:
// the body of a loop only needs elementwise arithmetic, comparisons (for early-stop
// conditions) and a full reduction.
type OpType int

const (
	OpInvalid OpType = iota
	OpParameter
	OpConstant

	// Unary ops.
	OpNeg
	OpAbs
	OpExp
	OpLog
	OpLogicalNot

	// Binary ops, elementwise with scalar broadcast.
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMaximum
	OpMinimum

	// Comparisons, elementwise with scalar broadcast, Bool output.
	OpGreaterThan
	OpLessThan

	// Reductions.
	OpReduceSum

	opTypeLast
)

var opTypeNames = [opTypeLast]string{
	"Invalid", "Parameter", "Constant",
	"Neg", "Abs", "Exp", "Log", "LogicalNot",
	"Add", "Sub", "Mul", "Div", "Maximum", "Minimum",
	"GreaterThan", "LessThan",
	"ReduceSum",
}

// String implements fmt.Stringer.
func (op OpType) String() string {
	if op < 0 || op >= opTypeLast {
		return "Invalid"
	}
	return opTypeNames[op]
}

// binaryShape infers the output shape of an elementwise binary op: operands must have
// the same dtype, and either equal dimensions or one of them a scalar (broadcast).
func binaryShape(opType OpType, lhs, rhs *Node) shapes.Shape {
	if lhs.shape.DType != rhs.shape.DType {
		exceptions.Panicf("op %s: operands have different dtypes: %s and %s", opType, lhs.shape, rhs.shape)
	}
	if lhs.shape.IsScalar() {
		return rhs.shape.Clone()
	}
	if rhs.shape.IsScalar() || lhs.shape.EqualDimensions(rhs.shape) {
		return lhs.shape.Clone()
	}
	exceptions.Panicf("op %s: incompatible operand shapes %s and %s", opType, lhs.shape, rhs.shape)
	return shapes.Invalid()
}

func requireNumeric(opType OpType, operand *Node) {
	if operand.shape.DType == dtypes.Bool {
		exceptions.Panicf("op %s: not defined for dtype Bool", opType)
	}
}

func requireFloat(opType OpType, operand *Node) {
	if !operand.shape.DType.IsFloat() {
		exceptions.Panicf("op %s: requires a float dtype, got %s", opType, operand.shape)
	}
}

// Neg returns the element-wise negation of x.
func Neg(x *Node) *Node {
	requireNumeric(OpNeg, x)
	return x.graph.newOpNode(OpNeg, x.shape.Clone(), x)
}

// Abs returns the element-wise absolute value of x.
func Abs(x *Node) *Node {
	requireNumeric(OpAbs, x)
	return x.graph.newOpNode(OpAbs, x.shape.Clone(), x)
}

// Exp returns e^x element-wise.
func Exp(x *Node) *Node {
	requireFloat(OpExp, x)
	return x.graph.newOpNode(OpExp, x.shape.Clone(), x)
}

// Log returns the natural logarithm of x element-wise. Non-positive inputs fail at
// execution time.
func Log(x *Node) *Node {
	requireFloat(OpLog, x)
	return x.graph.newOpNode(OpLog, x.shape.Clone(), x)
}

// LogicalNot negates a Bool tensor element-wise.
func LogicalNot(x *Node) *Node {
	if x.shape.DType != dtypes.Bool {
		exceptions.Panicf("op %s: requires dtype Bool, got %s", OpLogicalNot, x.shape)
	}
	return x.graph.newOpNode(OpLogicalNot, x.shape.Clone(), x)
}

// Add returns lhs+rhs element-wise, with scalar broadcast.
func Add(lhs, rhs *Node) *Node {
	requireNumeric(OpAdd, lhs)
	return lhs.graph.newOpNode(OpAdd, binaryShape(OpAdd, lhs, rhs), lhs, rhs)
}

// Sub returns lhs-rhs element-wise, with scalar broadcast.
func Sub(lhs, rhs *Node) *Node {
	requireNumeric(OpSub, lhs)
	return lhs.graph.newOpNode(OpSub, binaryShape(OpSub, lhs, rhs), lhs, rhs)
}

// Mul returns lhs*rhs element-wise, with scalar broadcast.
func Mul(lhs, rhs *Node) *Node {
	requireNumeric(OpMul, lhs)
	return lhs.graph.newOpNode(OpMul, binaryShape(OpMul, lhs, rhs), lhs, rhs)
}

// Div returns lhs/rhs element-wise, with scalar broadcast. Integer division by zero
// fails at execution time.
func Div(lhs, rhs *Node) *Node {
	requireNumeric(OpDiv, lhs)
	return lhs.graph.newOpNode(OpDiv, binaryShape(OpDiv, lhs, rhs), lhs, rhs)
}

// Maximum returns the element-wise maximum of lhs and rhs, with scalar broadcast.
func Maximum(lhs, rhs *Node) *Node {
	requireNumeric(OpMaximum, lhs)
	return lhs.graph.newOpNode(OpMaximum, binaryShape(OpMaximum, lhs, rhs), lhs, rhs)
}

// Minimum returns the element-wise minimum of lhs and rhs, with scalar broadcast.
func Minimum(lhs, rhs *Node) *Node {
	requireNumeric(OpMinimum, lhs)
	return lhs.graph.newOpNode(OpMinimum, binaryShape(OpMinimum, lhs, rhs), lhs, rhs)
}

// GreaterThan returns lhs > rhs element-wise, with scalar broadcast. Output dtype is
// Bool.
func GreaterThan(lhs, rhs *Node) *Node {
	requireNumeric(OpGreaterThan, lhs)
	shape := binaryShape(OpGreaterThan, lhs, rhs)
	shape.DType = dtypes.Bool
	return lhs.graph.newOpNode(OpGreaterThan, shape, lhs, rhs)
}

// LessThan returns lhs < rhs element-wise, with scalar broadcast. Output dtype is Bool.
func LessThan(lhs, rhs *Node) *Node {
	requireNumeric(OpLessThan, lhs)
	shape := binaryShape(OpLessThan, lhs, rhs)
	shape.DType = dtypes.Bool
	return lhs.graph.newOpNode(OpLessThan, shape, lhs, rhs)
}

// ReduceSum sums all elements of x into a scalar of the same dtype.
func ReduceSum(x *Node) *Node {
	requireNumeric(OpReduceSum, x)
	return x.graph.newOpNode(OpReduceSum, shapes.Make(x.shape.DType), x)
}
