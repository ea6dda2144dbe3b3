// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import "github.com/gomlx/scan/types/tensors"

// Dedup implementation: remove duplicated expressions, also known as "common
// subexpression elimination". Two nodes are duplicates when they have the same op type,
// the same input nodes (by pointer) and, for constants, equal values.

// nodeDedupKey is used to index into the de-duplication map. It provides fast lookup
// for candidate nodes with the same operation type and input structure.
type nodeDedupKey struct {
	opType     OpType
	inputCount int
	firstInput *Node // nil if there are no inputs.
}

func makeNodeDedupKey(opType OpType, inputs []*Node) nodeDedupKey {
	key := nodeDedupKey{
		opType:     opType,
		inputCount: len(inputs),
	}
	if len(inputs) > 0 {
		key.firstInput = inputs[0]
	}
	return key
}

// findDuplicate searches for an existing node that matches the given parameters.
// Returns nil if no duplicate is found.
func (g *Graph) findDuplicate(opType OpType, inputs []*Node, constValue any) *Node {
	key := makeNodeDedupKey(opType, inputs)
	for _, candidate := range g.nodeDedup[key] {
		if !nodesEqual(candidate.inputs, inputs) {
			continue
		}
		if constEqual(candidate, constValue) {
			return candidate
		}
	}
	return nil
}

// registerForDeduplication adds a node to the de-duplication index. Parameters are never
/// registered: each Parameter call creates a distinct input slot.
func (g *Graph) registerForDeduplication(node *Node) {
	key := makeNodeDedupKey(node.opType, node.inputs)
	g.nodeDedup[key] = append(g.nodeDedup[key], node)
}

// constEqual compares a candidate node's constant value to the given one. Non-constant
// nodes carry nil values and match only nil.
func constEqual(candidate *Node, constValue any) bool {
	if constValue == nil {
		return candidate.constValue == nil
	}
	value, ok := constValue.(*tensors.Tensor)
	if !ok {
		return false
	}
	return candidate.constValue != nil && candidate.constValue.Equal(value)
}

// nodesEqual checks if two slices of nodes are equal (same pointers).
func nodesEqual(a, b []*Node) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
