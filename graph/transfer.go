// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/gomlx/exceptions"
)

// Transfer copies the expression rooted at node into the graph dst, returning the
// corresponding node in dst.
//
// replace maps nodes of the source graph to their substitutes in dst; it must be
// pre-seeded with a substitute for every parameter the expression reaches (rewrite
// passes decide how source parameters map to destination parameters). Transfer memoizes
// every copied node into replace, so subsequent calls sharing sub-expressions reuse
// them -- combined with build-time de-duplication this keeps the destination graph free
// of duplicated expressions.
func Transfer(dst *Graph, node *Node, replace map[*Node]*Node) *Node {
	if substitute, found := replace[node]; found {
		return substitute
	}
	var newNode *Node
	switch node.opType {
	case OpParameter:
		exceptions.Panicf("graph.Transfer: parameter %q of graph %q has no substitute in dst graph %q",
			node.paramName, node.graph.name, dst.name)
	case OpConstant:
		newNode = Const(dst, node.constValue)
	default:
		newInputs := make([]*Node, len(node.inputs))
		for ii, input := range node.inputs {
			newInputs[ii] = Transfer(dst, input, replace)
		}
		newNode = dst.newOpNode(node.opType, node.shape.Clone(), newInputs...)
	}
	replace[node] = newNode
	return newNode
}
