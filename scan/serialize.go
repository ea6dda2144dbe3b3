// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package scan

import (
	"encoding/gob"

	"github.com/gomlx/scan/graph"
	"github.com/gomlx/scan/types/shapes"
	"github.com/gomlx/scan/types/xslices"
	"github.com/pkg/errors"
)

// Serialization of a scan node definition: roles, outer input declarations, body graph
// and hoisted preludes round-trip in binary format. Derived structures (MappingTable,
// Connectivity) are not serialized, they are rebuilt on load -- a deserialized node
// behaves identically to the original, it only loses outer-graph producer links (its
// input values are fed externally).

type serializedScan struct {
	Name     string
	NumSteps int
	Until    bool
	Roles    []Role

	// Outer input declarations, in canonical order.
	InputNames  []string
	InputShapes []shapes.Shape

	Donatable []bool

	// Preludes hold the hoisted computations' wiring; the graphs follow separately.
	PreludeArgs    [][]int
	PreludeTargets []int
}

// GobSerialize the node definition in binary format.
func (n *Node) GobSerialize(encoder *gob.Encoder) error {
	serialized := serializedScan{
		Name:           n.name,
		NumSteps:       n.numSteps,
		Until:          n.until,
		Roles:          n.roles,
		InputNames:     xslices.Map(n.outerInputs, func(v *Value) string { return v.name }),
		InputShapes:    xslices.Map(n.outerInputs, func(v *Value) shapes.Shape { return v.shape }),
		Donatable:      n.donatable,
		PreludeArgs:    make([][]int, len(n.preludes)),
		PreludeTargets: make([]int, len(n.preludes)),
	}
	for pi, p := range n.preludes {
		serialized.PreludeArgs[pi] = p.args
		serialized.PreludeTargets[pi] = p.target
	}
	if err := encoder.Encode(&serialized); err != nil {
		return errors.Wrapf(err, "failed to serialize scan node %q", n.name)
	}
	if err := n.body.GobSerialize(encoder); err != nil {
		return errors.WithMessagef(err, "failed to serialize body of scan node %q", n.name)
	}
	for pi, p := range n.preludes {
		if err := p.comp.GobSerialize(encoder); err != nil {
			return errors.WithMessagef(err, "failed to serialize prelude %d of scan node %q", pi, n.name)
		}
	}
	return nil
}

// GobDeserialize a scan node from the stream. The node is rebuilt through the normal
// construction path, so a corrupted or inconsistent stream fails validation instead of
// producing a broken node.
func GobDeserialize(decoder *gob.Decoder) (*Node, error) {
	var serialized serializedScan
	if err := decoder.Decode(&serialized); err != nil {
		return nil, errors.Wrap(err, "failed to deserialize scan node")
	}
	body, err := graph.GobDeserialize(decoder)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to deserialize body of scan node %q", serialized.Name)
	}

	inputs := make([]*Value, len(serialized.InputNames))
	for ii := range inputs {
		inputs[ii] = NewValue(serialized.InputNames[ii], serialized.InputShapes[ii])
	}
	config := Config{NumSteps: serialized.NumSteps, Until: serialized.Until}
	for ii := range serialized.Roles {
		role := &serialized.Roles[ii]
		switch role.Kind {
		case RoleSequence:
			config.Sequences = append(config.Sequences, inputs[role.OuterInput])
		case RoleNonSequence:
			config.NonSequences = append(config.NonSequences, inputs[role.OuterInput])
		default:
			config.Recurrences = append(config.Recurrences, TapSpec{
				InputTaps:  role.InputTaps,
				OutputTaps: role.OutputTaps,
			})
			if len(role.InputTaps) > 0 {
				config.Inits = append(config.Inits, inputs[role.OuterInput])
			}
		}
	}
	node, err := New(serialized.Name, body, config)
	if err != nil {
		return nil, errors.WithMessagef(err, "deserialized scan node %q failed validation", serialized.Name)
	}
	if len(serialized.Donatable) == len(node.donatable) {
		copy(node.donatable, serialized.Donatable)
	}
	for pi := range serialized.PreludeTargets {
		comp, err := graph.GobDeserialize(decoder)
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to deserialize prelude %d of scan node %q", pi, serialized.Name)
		}
		node.preludes = append(node.preludes, &prelude{
			comp:   comp,
			args:   serialized.PreludeArgs[pi],
			target: serialized.PreludeTargets[pi],
		})
	}
	return node, nil
}
