// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package scan

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Relation names one of the twelve mappings between the four variable namespaces
// (outer/inner x input/output). The names follow the "<target>_from_<source>"
// convention: OuterInpFromOuterOut answers "given an outer output position, which outer
// input holds the same logical state".
type Relation int

const (
	OuterInpFromOuterOut Relation = iota
	InnerInpFromOuterOut
	InnerOutFromOuterOut
	InnerInpFromOuterInp
	InnerOutFromOuterInp
	OuterOutFromOuterInp
	OuterInpFromInnerInp
	InnerOutFromInnerInp
	OuterOutFromInnerInp
	OuterInpFromInnerOut
	InnerInpFromInnerOut
	OuterOutFromInnerOut

	numRelations
)

var relationNames = [numRelations]string{
	"outer_inp_from_outer_out",
	"inner_inp_from_outer_out",
	"inner_out_from_outer_out",
	"inner_inp_from_outer_inp",
	"inner_out_from_outer_inp",
	"outer_out_from_outer_inp",
	"outer_inp_from_inner_inp",
	"inner_out_from_inner_inp",
	"outer_out_from_inner_inp",
	"outer_inp_from_inner_out",
	"inner_inp_from_inner_out",
	"outer_out_from_inner_out",
}

// String implements fmt.Stringer, returning the canonical relation name.
func (r Relation) String() string {
	if r < 0 || r >= numRelations {
		return "invalid_relation"
	}
	return relationNames[r]
}

// sourceOf returns which namespace a relation's positions are looked up in, as a size
// selector index: 0=outer inputs, 1=outer outputs, 2=inner inputs, 3=inner outputs.
func (r Relation) sourceOf() int {
	switch r {
	case OuterInpFromOuterOut, InnerInpFromOuterOut, InnerOutFromOuterOut:
		return 1
	case InnerInpFromOuterInp, InnerOutFromOuterInp, OuterOutFromOuterInp:
		return 0
	case OuterInpFromInnerInp, InnerOutFromInnerInp, OuterOutFromInnerInp:
		return 2
	default:
		return 3
	}
}

// MappingTable is the bidirectional index derived from a role list: for each of the
// twelve relations, the correspondence from every position of the source namespace to
// the positions of the target namespace holding the same logical loop state.
//
// Built in O(n) once, each lookup is O(1). Rebuilding from the same role list is
// idempotent. Rewrite passes that reorder or drop variables must rebuild the table from
// the new role list, never patch it, to avoid stale-mapping bugs.
type MappingTable struct {
	// relations[r][pos] lists the target positions for source position pos; empty means
	// no correspondence.
	relations [numRelations][][]int

	// Namespace sizes: outer inputs, outer outputs, inner inputs, inner outputs.
	sizes [4]int
}

// BuildMappingTable derives the twelve relations from the ordered role list.
func BuildMappingTable(roles []Role) *MappingTable {
	table := &MappingTable{}
	for _, role := range roles {
		if role.OuterInput != NoCorrespondence {
			table.sizes[0] = max(table.sizes[0], role.OuterInput+1)
		}
		if role.OuterOutput != NoCorrespondence {
			table.sizes[1] = max(table.sizes[1], role.OuterOutput+1)
		}
		for _, j := range role.InnerInputs {
			table.sizes[2] = max(table.sizes[2], j+1)
		}
		for _, k := range role.InnerOutputs {
			table.sizes[3] = max(table.sizes[3], k+1)
		}
	}
	for r := Relation(0); r < numRelations; r++ {
		table.relations[r] = make([][]int, table.sizes[r.sourceOf()])
	}

	for _, role := range roles {
		i, o := role.OuterInput, role.OuterOutput
		ins, outs := role.InnerInputs, role.InnerOutputs
		if o != NoCorrespondence {
			if i != NoCorrespondence {
				table.relations[OuterInpFromOuterOut][o] = []int{i}
			}
			table.relations[InnerInpFromOuterOut][o] = slices.Clone(ins)
			table.relations[InnerOutFromOuterOut][o] = slices.Clone(outs)
		}
		if i != NoCorrespondence {
			table.relations[InnerInpFromOuterInp][i] = slices.Clone(ins)
			table.relations[InnerOutFromOuterInp][i] = slices.Clone(outs)
			if o != NoCorrespondence {
				table.relations[OuterOutFromOuterInp][i] = []int{o}
			}
		}
		for _, j := range ins {
			if i != NoCorrespondence {
				table.relations[OuterInpFromInnerInp][j] = []int{i}
			}
			table.relations[InnerOutFromInnerInp][j] = slices.Clone(outs)
			if o != NoCorrespondence {
				table.relations[OuterOutFromInnerInp][j] = []int{o}
			}
		}
		for _, k := range outs {
			if i != NoCorrespondence {
				table.relations[OuterInpFromInnerOut][k] = []int{i}
			}
			table.relations[InnerInpFromInnerOut][k] = slices.Clone(ins)
			if o != NoCorrespondence {
				table.relations[OuterOutFromInnerOut][k] = []int{o}
			}
		}
	}
	return table
}

// NumOuterInputs returns the size of the outer-input namespace.
func (t *MappingTable) NumOuterInputs() int { return t.sizes[0] }

// NumOuterOutputs returns the size of the outer-output namespace.
func (t *MappingTable) NumOuterOutputs() int { return t.sizes[1] }

// NumInnerInputs returns the size of the inner-input (body parameter) namespace.
func (t *MappingTable) NumInnerInputs() int { return t.sizes[2] }

// NumInnerOutputs returns the size of the inner-output (body output) namespace.
func (t *MappingTable) NumInnerOutputs() int { return t.sizes[3] }

// Lookup returns the positions in the relation's target namespace corresponding to the
// given position in its source namespace. An empty (nil) result means no
// correspondence: e.g. a Sequence position under outer_out_from_outer_inp.
//
// The result is ordered (tap order for multi-tap relations) and must not be modified.
func (t *MappingTable) Lookup(relation Relation, position int) []int {
	rel := t.relations[relation]
	if position < 0 || position >= len(rel) {
		exceptions.Panicf("MappingTable.Lookup(%s, %d): position out of range [0, %d)",
			relation, position, len(rel))
	}
	return rel[position]
}

// LookupOne returns the single position corresponding to the given one, or
// NoCorrespondence if there is none. It panics if the relation maps the position to
// more than one target (use Lookup for multi-valued relations).
func (t *MappingTable) LookupOne(relation Relation, position int) int {
	found := t.Lookup(relation, position)
	switch len(found) {
	case 0:
		return NoCorrespondence
	case 1:
		return found[0]
	}
	exceptions.Panicf("MappingTable.LookupOne(%s, %d): relation is multi-valued here (%v)",
		relation, position, found)
	return NoCorrespondence
}

// inversePairs lists the relation pairs that must be mutual inverses.
var inversePairs = [][2]Relation{
	{OuterInpFromOuterOut, OuterOutFromOuterInp},
	{InnerInpFromOuterOut, OuterOutFromInnerInp},
	{InnerOutFromOuterOut, OuterOutFromInnerOut},
	{InnerInpFromOuterInp, OuterInpFromInnerInp},
	{InnerOutFromOuterInp, OuterInpFromInnerOut},
	{InnerInpFromInnerOut, InnerOutFromInnerInp},
}

// CheckInverses verifies that every pair of opposite relations agrees: if relation A
// maps position p to q, then its inverse maps q back to p. Returns the first violation
// found, nil if the table is consistent.
func (t *MappingTable) CheckInverses() error {
	for _, pair := range inversePairs {
		forward, backward := pair[0], pair[1]
		for p, targets := range t.relations[forward] {
			for _, q := range targets {
				if !slices.Contains(t.relations[backward][q], p) {
					return errors.Errorf("relation %s maps %d to %d, but %s does not map back",
						forward, p, q, backward)
				}
			}
		}
	}
	return nil
}

// String summarizes the table, one line per relation.
func (t *MappingTable) String() string {
	parts := []string{fmt.Sprintf("MappingTable: %d outer inputs, %d outer outputs, %d inner inputs, %d inner outputs",
		t.sizes[0], t.sizes[1], t.sizes[2], t.sizes[3])}
	for r := Relation(0); r < numRelations; r++ {
		entries := make([]string, len(t.relations[r]))
		for p, targets := range t.relations[r] {
			if len(targets) == 0 {
				entries[p] = "ø"
			} else {
				entries[p] = fmt.Sprint(targets)
			}
		}
		parts = append(parts, fmt.Sprintf("\t%s: [%s]", r, strings.Join(entries, " ")))
	}
	return strings.Join(parts, "\n")
}
