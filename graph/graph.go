// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graph implements the computation executed by the body of a scan loop: a small,
// acyclic graph of tensor operations over a closed op set, built once and then
// interpreted on the host once per loop step.
//
// A Graph is built by creating Parameter nodes (the body's inputs: one per sequence
// slice, recurrent tap and non-sequence -- see the scan package for the ordering
// contract), combining them with the ops from ops.go, and freezing the graph with
// Graph.Return. Structurally identical expressions are de-duplicated at build time
// (common-subexpression elimination), so rewrites that re-emit expressions into a new
// graph collapse duplicates for free.
//
// The graph is always acyclic: recurrence is never expressed as a graph cycle, it is
// realized by the scan engine feeding previous outputs back in as parameters.
package graph

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/scan/types/shapes"
	"github.com/gomlx/scan/types/tensors"
)

// NodeId is a unique id of a node within a Graph.
type NodeId int

// InvalidNodeId indicates a node that failed to be created.
const InvalidNodeId = NodeId(-1)

// Graph holds the operations of a loop body and their dependencies.
//
// Nodes are stored in creation order, which is also a valid topological (DAG) order for
// execution.
type Graph struct {
	name string

	nodes      []*Node
	parameters []*Node

	// outputs are set by Return; a graph with outputs is frozen.
	outputs []*Node

	// nodeDedup indexes existing nodes for common-subexpression elimination.
	nodeDedup map[nodeDedupKey][]*Node
}

// Node represents the result of an operation in the body graph.
type Node struct {
	graph  *Graph
	id     NodeId
	opType OpType
	shape  shapes.Shape

	// inputs are the edges of the computation graph.
	inputs []*Node

	// paramIndex is the position among the graph's parameters, for OpParameter nodes.
	paramIndex int
	// paramName is a label for OpParameter nodes, used only for printing.
	paramName string

	// constValue holds the value of OpConstant nodes.
	constValue *tensors.Tensor
}

// New creates an empty body Graph with the given name.
func New(name string) *Graph {
	return &Graph{
		name:      name,
		nodeDedup: make(map[nodeDedupKey][]*Node),
	}
}

// Name of the computation this Graph defines.
func (g *Graph) Name() string { return g.name }

// NumNodes returns the number of nodes in the graph.
func (g *Graph) NumNodes() int { return len(g.nodes) }

// NodeById returns the node with the given id.
func (g *Graph) NodeById(id NodeId) *Node {
	if id < 0 || int(id) >= len(g.nodes) {
		exceptions.Panicf("invalid request Graph.NodeById(id=%d): there are only %d nodes", id, len(g.nodes))
	}
	return g.nodes[id]
}

// Nodes returns all nodes, in DAG order. The returned slice must not be modified.
func (g *Graph) Nodes() []*Node { return g.nodes }

// NumParameters returns the number of parameters created for this graph.
func (g *Graph) NumParameters() int { return len(g.parameters) }

// Parameters returns the parameter nodes, in creation order.
func (g *Graph) Parameters() []*Node { return g.parameters }

// ParameterByIndex returns the ii-th parameter, in order of creation.
func (g *Graph) ParameterByIndex(ii int) *Node { return g.parameters[ii] }

// IsFrozen returns whether Return has already been called.
func (g *Graph) IsFrozen() bool { return g.outputs != nil }

// Outputs returns the output nodes set with Return, or nil if the graph is not frozen.
func (g *Graph) Outputs() []*Node { return g.outputs }

// NumOutputs returns the number of outputs set with Return.
func (g *Graph) NumOutputs() int { return len(g.outputs) }

// Return sets the outputs of the body and freezes the graph: no new nodes can be
// created afterwards.
func (g *Graph) Return(outputs ...*Node) {
	if g.IsFrozen() {
		exceptions.Panicf("graph %q already has its outputs set", g.name)
	}
	if len(outputs) == 0 {
		exceptions.Panicf("graph %q: Return requires at least one output", g.name)
	}
	for ii, node := range outputs {
		if node == nil {
			exceptions.Panicf("output node %d is nil when freezing graph %q", ii, g.name)
		}
		if node.graph != g {
			exceptions.Panicf("output node %d is part of a different graph (name=%q) than the one being frozen (name=%q)",
				ii, node.graph.name, g.name)
		}
	}
	g.outputs = outputs
}

// Parameter registers an input parameter for the body. Parameters are positional: the
// scan engine feeds them in creation order. The name is used only for printing.
func (g *Graph) Parameter(name string, shape shapes.Shape) *Node {
	g.checkMutable()
	if !shape.Ok() {
		exceptions.Panicf("graph %q: Parameter(%q) with invalid shape", g.name, name)
	}
	index := len(g.parameters)
	if name == "" {
		name = fmt.Sprintf("p#%d", index)
	}
	node := &Node{
		graph:      g,
		opType:     OpParameter,
		shape:      shape.Clone(),
		paramIndex: index,
		paramName:  name,
	}
	node.id = g.registerNode(node)
	g.parameters = append(g.parameters, node)
	return node
}

// Const creates a constant node from the given tensor. Identical constants are
// de-duplicated.
func Const(g *Graph, value *tensors.Tensor) *Node {
	g.checkMutable()
	if value == nil {
		exceptions.Panicf("graph %q: Const with nil tensor", g.name)
	}
	if found := g.findDuplicate(OpConstant, nil, value); found != nil {
		return found
	}
	node := &Node{
		graph:      g,
		opType:     OpConstant,
		shape:      value.Shape().Clone(),
		constValue: value,
	}
	node.id = g.registerNode(node)
	g.registerForDeduplication(node)
	return node
}

// Scalar creates a scalar constant node.
func Scalar[T tensors.Supported](g *Graph, value T) *Node {
	return Const(g, tensors.FromScalar(value))
}

func (g *Graph) checkMutable() {
	if g.IsFrozen() {
		exceptions.Panicf("cannot add new op to graph %q, it is frozen (Return already called)", g.name)
	}
}

// registerNode in the graph, returning a new unique id within the Graph.
func (g *Graph) registerNode(node *Node) NodeId {
	id := NodeId(len(g.nodes))
	g.nodes = append(g.nodes, node)
	return id
}

// newOpNode creates (or de-duplicates) a node for the given op and inputs, with the
// given output shape.
func (g *Graph) newOpNode(opType OpType, shape shapes.Shape, inputs ...*Node) *Node {
	g.checkMutable()
	for ii, input := range inputs {
		if input == nil {
			exceptions.Panicf("graph %q: input %d to op %s is nil", g.name, ii, opType)
		}
		if input.graph != g {
			exceptions.Panicf("graph %q: input %d to op %s belongs to a different graph %q",
				g.name, ii, opType, input.graph.name)
		}
	}
	if found := g.findDuplicate(opType, inputs, nil); found != nil {
		return found
	}
	node := &Node{
		graph:  g,
		id:     InvalidNodeId,
		opType: opType,
		shape:  shape,
		inputs: inputs,
	}
	node.id = g.registerNode(node)
	g.registerForDeduplication(node)
	return node
}

// Graph that holds this Node.
func (n *Node) Graph() *Graph { return n.graph }

// Id of the node within its graph.
func (n *Node) Id() NodeId { return n.id }

// Type identifies the operation performed by the node.
func (n *Node) Type() OpType { return n.opType }

// Shape of the Node's output.
func (n *Node) Shape() shapes.Shape { return n.shape }

// Inputs are the edges of the computation graph: the nodes this node consumes.
// The returned slice must not be modified.
func (n *Node) Inputs() []*Node { return n.inputs }

// IsParameter returns whether this is an input parameter node.
func (n *Node) IsParameter() bool { return n.opType == OpParameter }

// ParameterIndex returns the position of this parameter among the graph's parameters.
// It panics if the node is not a parameter.
func (n *Node) ParameterIndex() int {
	if !n.IsParameter() {
		exceptions.Panicf("Node.ParameterIndex on non-parameter node %s", n)
	}
	return n.paramIndex
}

// ParameterName returns the label of a parameter node.
func (n *Node) ParameterName() string { return n.paramName }

// ConstValue returns the value of an OpConstant node, nil otherwise.
func (n *Node) ConstValue() *tensors.Tensor { return n.constValue }

// String implements fmt.Stringer.
func (n *Node) String() string {
	if n == nil {
		return "Node(nil)"
	}
	switch n.opType {
	case OpParameter:
		return fmt.Sprintf("#%d %s(%q) -> %s", n.id, n.opType, n.paramName, n.shape)
	case OpConstant:
		return fmt.Sprintf("#%d %s(%s)", n.id, n.opType, n.constValue)
	default:
		inputIds := make([]string, len(n.inputs))
		for ii, input := range n.inputs {
			inputIds[ii] = fmt.Sprintf("#%d", input.id)
		}
		return fmt.Sprintf("#%d %s(%s) -> %s", n.id, n.opType, strings.Join(inputIds, ", "), n.shape)
	}
}

// String converts the Graph to a multi-line string, one line per node.
func (g *Graph) String() string {
	parts := []string{fmt.Sprintf("Graph %q: %d nodes, %d parameters, %d outputs",
		g.name, len(g.nodes), g.NumParameters(), g.NumOutputs())}
	for _, node := range g.nodes {
		parts = append(parts, "\t"+node.String())
	}
	return strings.Join(parts, "\n")
}
