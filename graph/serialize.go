// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"encoding/gob"

	"github.com/gomlx/scan/types/shapes"
	"github.com/gomlx/scan/types/tensors"
	"github.com/pkg/errors"
)

// Serialization of body graphs: the graph definition (ops, parameters, constants,
// outputs) is part of a scan node's own definition and must round-trip unchanged.
// Only frozen graphs can be serialized.

type serializedNode struct {
	OpType    OpType
	Shape     shapes.Shape
	InputIds  []NodeId
	ParamName string
	ConstFlat any // flat data of OpConstant nodes, nil otherwise.
}

type serializedGraph struct {
	Name      string
	Nodes     []serializedNode
	OutputIds []NodeId
}

// GobSerialize the graph definition in binary format.
func (g *Graph) GobSerialize(encoder *gob.Encoder) error {
	if !g.IsFrozen() {
		return errors.Errorf("graph %q must be frozen (Return called) before serialization", g.name)
	}
	serialized := serializedGraph{
		Name:  g.name,
		Nodes: make([]serializedNode, len(g.nodes)),
	}
	for ii, node := range g.nodes {
		sNode := serializedNode{
			OpType:    node.opType,
			Shape:     node.shape,
			ParamName: node.paramName,
		}
		if len(node.inputs) > 0 {
			sNode.InputIds = make([]NodeId, len(node.inputs))
			for jj, input := range node.inputs {
				sNode.InputIds[jj] = input.id
			}
		}
		if node.opType == OpConstant {
			sNode.ConstFlat = node.constValue.Flat()
		}
		serialized.Nodes[ii] = sNode
	}
	serialized.OutputIds = make([]NodeId, len(g.outputs))
	for ii, node := range g.outputs {
		serialized.OutputIds[ii] = node.id
	}
	err := encoder.Encode(serialized)
	if err != nil {
		return errors.Wrapf(err, "failed to serialize graph %q", g.name)
	}
	return nil
}

// GobDeserialize a graph definition, rebuilding an equivalent frozen Graph.
func GobDeserialize(decoder *gob.Decoder) (*Graph, error) {
	var serialized serializedGraph
	err := decoder.Decode(&serialized)
	if err != nil {
		return nil, errors.Wrap(err, "failed to deserialize graph")
	}
	g := New(serialized.Name)
	rebuilt := make([]*Node, len(serialized.Nodes))
	for ii, sNode := range serialized.Nodes {
		switch sNode.OpType {
		case OpParameter:
			rebuilt[ii] = g.Parameter(sNode.ParamName, sNode.Shape)
		case OpConstant:
			value := &serializedConstant{shape: sNode.Shape, flat: sNode.ConstFlat}
			rebuilt[ii] = Const(g, value.tensor())
		default:
			inputs := make([]*Node, len(sNode.InputIds))
			for jj, id := range sNode.InputIds {
				if id < 0 || int(id) >= ii {
					return nil, errors.Errorf("graph %q: node #%d references out-of-order input #%d",
						serialized.Name, ii, id)
				}
				inputs[jj] = rebuilt[id]
			}
			rebuilt[ii] = g.newOpNode(sNode.OpType, sNode.Shape, inputs...)
		}
	}
	outputs := make([]*Node, len(serialized.OutputIds))
	for ii, id := range serialized.OutputIds {
		if id < 0 || int(id) >= len(rebuilt) {
			return nil, errors.Errorf("graph %q: output references invalid node #%d", serialized.Name, id)
		}
		outputs[ii] = rebuilt[id]
	}
	g.Return(outputs...)
	return g, nil
}

// serializedConstant reassembles a tensor from its serialized shape+flat parts.
type serializedConstant struct {
	shape shapes.Shape
	flat  any
}

func (c *serializedConstant) tensor() *tensors.Tensor {
	switch flat := c.flat.(type) {
	case []bool:
		return tensors.FromFlatAndDimensions(flat, c.shape.Dimensions...)
	case []int32:
		return tensors.FromFlatAndDimensions(flat, c.shape.Dimensions...)
	case []int64:
		return tensors.FromFlatAndDimensions(flat, c.shape.Dimensions...)
	case []float32:
		return tensors.FromFlatAndDimensions(flat, c.shape.Dimensions...)
	case []float64:
		return tensors.FromFlatAndDimensions(flat, c.shape.Dimensions...)
	}
	return nil
}
