// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package scan

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/scan/graph"
	"github.com/gomlx/scan/types"
	"github.com/gomlx/scan/types/xslices"
	"k8s.io/klog/v2"
)

// Rewrite passes.
//
// Every pass takes a node and returns (newNode, applied): the input node is never
// mutated, and the returned node -- when applied is true -- is a fresh node with all
// derived structures (MappingTable, Connectivity) rebuilt and fresh outer-output
// values. A pass that cannot apply returns the original node and false, logging the
// reason at verbosity 1. Passes never fail.

// paramRoles maps each body parameter position to the role owning it.
func (n *Node) paramRoles() []*Role {
	byParam := make([]*Role, n.body.NumParameters())
	for ii := range n.roles {
		for _, j := range n.roles[ii].InnerInputs {
			byParam[j] = &n.roles[ii]
		}
	}
	return byParam
}

// HoistInvariant extracts loop-invariant computation out of the body: every maximal
// body subtree depending only on NonSequence inputs and constants is replaced by a new
// NonSequence input, computed once per execution by a hoisted prelude instead of once
// per iteration.
//
// Values are preserved exactly: the prelude computes the identical expression the body
// computed, only once.
func HoistInvariant(node *Node) (*Node, bool) {
	body := node.body
	byParam := node.paramRoles()

	// A node is invariant when nothing it depends on changes across iterations.
	invariant := make([]bool, body.NumNodes())
	for _, bn := range body.Nodes() { // creation order is topological
		switch {
		case bn.Type() == graph.OpConstant:
			invariant[bn.Id()] = true
		case bn.IsParameter():
			invariant[bn.Id()] = byParam[bn.ParameterIndex()].Kind == RoleNonSequence
		default:
			invariant[bn.Id()] = true
			for _, input := range bn.Inputs() {
				if !invariant[input.Id()] {
					invariant[bn.Id()] = false
					break
				}
			}
		}
	}

	// Candidates are the maximal invariant subtrees with actual computation in them:
	// invariant op nodes consumed by a variant node or returned as body outputs.
	isOp := func(bn *graph.Node) bool {
		return !bn.IsParameter() && bn.Type() != graph.OpConstant
	}
	candidateSet := types.MakeSet[*graph.Node]()
	for _, bn := range body.Nodes() {
		if invariant[bn.Id()] {
			continue
		}
		for _, input := range bn.Inputs() {
			if invariant[input.Id()] && isOp(input) {
				candidateSet.Insert(input)
			}
		}
	}
	for _, output := range body.Outputs() {
		if invariant[output.Id()] && isOp(output) {
			candidateSet.Insert(output)
		}
	}
	if len(candidateSet) == 0 {
		klog.V(1).Infof("scan %q: HoistInvariant not applied, no loop-invariant subtree in the body", node.Name())
		return node, false
	}
	// Deterministic order for the new inputs.
	candidates := xslices.Keep(body.Nodes(), candidateSet.Has)

	// New body: original parameters plus one NonSequence parameter per hoisted subtree.
	newBody := graph.New(body.Name())
	replace := make(map[*graph.Node]*graph.Node, body.NumNodes())
	for ii := 0; ii < body.NumParameters(); ii++ {
		param := body.ParameterByIndex(ii)
		replace[param] = newBody.Parameter(param.ParameterName(), param.Shape().Clone())
	}
	hoistedValues := xslices.MapIndexed(candidates, func(hi int, candidate *graph.Node) *Value {
		return NewValue(fmt.Sprintf("%s#hoist%d", node.Name(), hi), candidate.Shape().Clone())
	})
	preludes := make([]*prelude, len(candidates))
	for hi, candidate := range candidates {
		name := hoistedValues[hi].Name()
		replace[candidate] = newBody.Parameter(name, candidate.Shape().Clone())
		preludes[hi] = buildPrelude(name, candidate, byParam)
	}
	newBody.Return(xslices.Map(body.Outputs(), func(output *graph.Node) *graph.Node {
		return graph.Transfer(newBody, output, replace)
	})...)

	config := node.configuration()
	config.NonSequences = append(slices.Clone(config.NonSequences), hoistedValues...)
	newNode, err := New(node.Name(), newBody, config)
	if err != nil {
		exceptions.Panicf("scan %q: HoistInvariant produced an invalid node: %+v", node.Name(), err)
	}
	copy(newNode.donatable, node.donatable) // hoisted inputs appended at the end, old positions unchanged
	for hi := range preludes {
		preludes[hi].target = len(node.outerInputs) + hi
	}
	newNode.preludes = append(slices.Clone(node.preludes), preludes...)
	klog.V(1).Infof("scan %q: hoisted %d loop-invariant subtree(s) out of the body", node.Name(), len(candidates))
	return newNode, true
}

// buildPrelude creates the once-per-execution computation for one hoisted subtree: a
// graph whose parameters are the NonSequence inputs the subtree reads, in outer-input
// order, and whose single output is the subtree's value.
func buildPrelude(name string, root *graph.Node, byParam []*Role) *prelude {
	var params []*graph.Node
	seen := types.MakeSet[*graph.Node]()
	var collect func(bn *graph.Node)
	collect = func(bn *graph.Node) {
		if seen.Has(bn) {
			return
		}
		seen.Insert(bn)
		if bn.IsParameter() {
			params = append(params, bn)
			return
		}
		for _, input := range bn.Inputs() {
			collect(input)
		}
	}
	collect(root)
	slices.SortFunc(params, func(a, b *graph.Node) int {
		return a.ParameterIndex() - b.ParameterIndex()
	})

	comp := graph.New(name)
	p := &prelude{comp: comp}
	replace := make(map[*graph.Node]*graph.Node, len(seen))
	for _, param := range params {
		replace[param] = comp.Parameter(param.ParameterName(), param.Shape().Clone())
		p.args = append(p.args, byParam[param.ParameterIndex()].OuterInput)
	}
	comp.Return(graph.Transfer(comp, root, replace))
	return p
}

// PruneUnusedNonSequences drops every NonSequence input that neither the body nor any
// hoisted prelude reads. Such inputs contribute to no output (an all-false connectivity
// row) so removing them changes no value.
func PruneUnusedNonSequences(node *Node) (*Node, bool) {
	usedAsPreludeArg := make(map[int]bool)
	for _, p := range node.preludes {
		for _, arg := range p.args {
			usedAsPreludeArg[arg] = true
		}
	}
	dropParams := make(map[int]bool)
	dropInputs := make(map[int]bool)
	for ii := range node.roles {
		role := &node.roles[ii]
		if role.Kind != RoleNonSequence || usedAsPreludeArg[role.OuterInput] {
			continue
		}
		if !node.conn.InputUsed(role.InnerInputs[0]) {
			dropParams[role.InnerInputs[0]] = true
			dropInputs[role.OuterInput] = true
		}
	}
	if len(dropParams) == 0 {
		klog.V(1).Infof("scan %q: PruneUnusedNonSequences not applied, every input is read", node.Name())
		return node, false
	}

	body := node.body
	newBody := graph.New(body.Name())
	replace := make(map[*graph.Node]*graph.Node, body.NumNodes())
	for ii := 0; ii < body.NumParameters(); ii++ {
		if dropParams[ii] {
			continue
		}
		param := body.ParameterByIndex(ii)
		replace[param] = newBody.Parameter(param.ParameterName(), param.Shape().Clone())
	}
	newBody.Return(xslices.Map(body.Outputs(), func(output *graph.Node) *graph.Node {
		return graph.Transfer(newBody, output, replace)
	})...)

	config := node.configuration()
	var keptNonSequences []*Value
	oldToNew := make(map[int]int, len(node.outerInputs))
	newPos := 0
	for oldPos, value := range node.outerInputs {
		if dropInputs[oldPos] {
			continue
		}
		oldToNew[oldPos] = newPos
		newPos++
		if role := node.roleOfOuterInput(oldPos); role.Kind == RoleNonSequence {
			keptNonSequences = append(keptNonSequences, value)
		}
	}
	config.NonSequences = keptNonSequences

	newNode, err := New(node.Name(), newBody, config)
	if err != nil {
		exceptions.Panicf("scan %q: PruneUnusedNonSequences produced an invalid node: %+v", node.Name(), err)
	}
	for oldPos, donated := range node.donatable {
		if np, kept := oldToNew[oldPos]; kept && donated {
			newNode.donatable[np] = true
		}
	}
	newNode.preludes = make([]*prelude, len(node.preludes))
	for pi, p := range node.preludes {
		remapped := &prelude{comp: p.comp, args: make([]int, len(p.args)), target: oldToNew[p.target]}
		for ai, arg := range p.args {
			remapped.args[ai] = oldToNew[arg]
		}
		newNode.preludes[pi] = remapped
	}
	klog.V(1).Infof("scan %q: pruned %d unused non-sequence input(s)", node.Name(), len(dropInputs))
	return newNode, true
}
