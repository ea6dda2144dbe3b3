// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package scan

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/scan/graph"
	"github.com/gomlx/scan/types"
	"k8s.io/klog/v2"
)

// FuseScans merges two independent loops proven to run the same number of steps into a
// single loop whose body computes both bodies. Shared outer inputs collapse to one
// slot, and body de-duplication collapses any computation the two bodies had in
// common, so fused execution never recomputes shared work.
//
// The proof obligations, each rejected with a logged reason when unmet:
//
//   - same step count: equal explicit bounds with no sequences, or identical sequence
//     value sets (same *Value pointers, so the same fed tensors bound both loops) with
//     equal explicit bounds;
//   - independence: neither loop consumes, directly or through a chain of producing
//     nodes, an output of the other;
//   - neither loop carries an early-stop condition (its step count is dynamic);
//   - neither loop has hoisted preludes (hoist after fusing, not before).
//
// The fused node's outer outputs are a's followed by b's.
func FuseScans(a, b *Node) (*Node, bool) {
	if a == b {
		klog.V(1).Infof("scan %q: not fusing with itself", a.Name())
		return a, false
	}
	if a.Until() || b.Until() {
		klog.V(1).Infof("scan: not fusing %q and %q, early-stop conditions make step counts dynamic", a.Name(), b.Name())
		return a, false
	}
	if len(a.preludes) > 0 || len(b.preludes) > 0 {
		klog.V(1).Infof("scan: not fusing %q and %q, hoisted preludes present (fuse before hoisting)", a.Name(), b.Name())
		return a, false
	}
	if !sameStepCount(a, b) {
		klog.V(1).Infof("scan: not fusing %q and %q, cannot prove equal step counts", a.Name(), b.Name())
		return a, false
	}
	if dependsOn(a, b) || dependsOn(b, a) {
		klog.V(1).Infof("scan: not fusing %q and %q, one consumes the other's outputs", a.Name(), b.Name())
		return a, false
	}

	// Merged declaration: sequences and non-sequences de-duplicated by value identity,
	// recurrences (and their inits) concatenated, a's first.
	var config Config
	config.NumSteps = a.numSteps
	seqSeen := types.MakeSet[*Value]()
	nonSeqSeen := types.MakeSet[*Value]()
	for _, node := range []*Node{a, b} {
		sub := node.configuration()
		for _, value := range sub.Sequences {
			if !seqSeen.Has(value) {
				seqSeen.Insert(value)
				config.Sequences = append(config.Sequences, value)
			}
		}
		for _, value := range sub.NonSequences {
			if !nonSeqSeen.Has(value) {
				nonSeqSeen.Insert(value)
				config.NonSequences = append(config.NonSequences, value)
			}
		}
		config.Inits = append(config.Inits, sub.Inits...)
		config.Recurrences = append(config.Recurrences, sub.Recurrences...)
	}

	// Merged body, parameters in the canonical order of the merged declaration. The
	// replace maps route each source body's parameters to the merged ones; Transfer's
	// memoization plus build-time de-duplication collapse shared sub-expressions.
	name := a.Name() + "+" + b.Name()
	newBody := graph.New(name)
	seqParam := make(map[*Value]*graph.Node, len(config.Sequences))
	for _, value := range config.Sequences {
		seqParam[value] = newBody.Parameter(value.Name(), value.Shape().DropLeadingAxis())
	}
	replaces := [2]map[*graph.Node]*graph.Node{
		make(map[*graph.Node]*graph.Node), make(map[*graph.Node]*graph.Node),
	}
	for ni, node := range []*Node{a, b} {
		for ii := range node.roles {
			role := &node.roles[ii]
			if role.Kind != RoleSequence {
				continue
			}
			oldParam := node.body.ParameterByIndex(role.InnerInputs[0])
			replaces[ni][oldParam] = seqParam[node.outerInputs[role.OuterInput]]
		}
	}
	for ni, node := range []*Node{a, b} {
		for ii := range node.roles {
			role := &node.roles[ii]
			if !role.IsRecurrent() {
				continue
			}
			for _, j := range role.InnerInputs {
				oldParam := node.body.ParameterByIndex(j)
				replaces[ni][oldParam] = newBody.Parameter(oldParam.ParameterName(), oldParam.Shape().Clone())
			}
		}
	}
	nonSeqParam := make(map[*Value]*graph.Node, len(config.NonSequences))
	for _, value := range config.NonSequences {
		nonSeqParam[value] = newBody.Parameter(value.Name(), value.Shape().Clone())
	}
	for ni, node := range []*Node{a, b} {
		for ii := range node.roles {
			role := &node.roles[ii]
			if role.Kind != RoleNonSequence {
				continue
			}
			oldParam := node.body.ParameterByIndex(role.InnerInputs[0])
			replaces[ni][oldParam] = nonSeqParam[node.outerInputs[role.OuterInput]]
		}
	}
	var newOutputs []*graph.Node
	for ni, node := range []*Node{a, b} {
		for _, output := range node.body.Outputs() {
			newOutputs = append(newOutputs, graph.Transfer(newBody, output, replaces[ni]))
		}
	}
	newBody.Return(newOutputs...)

	fused, err := New(name, newBody, config)
	if err != nil {
		exceptions.Panicf("scan: FuseScans(%q, %q) produced an invalid node: %+v", a.Name(), b.Name(), err)
	}
	klog.V(1).Infof("scan: fused %q and %q into %q (%d body nodes, was %d+%d)",
		a.Name(), b.Name(), name, newBody.NumNodes(), a.body.NumNodes(), b.body.NumNodes())
	return fused, true
}

// sameStepCount proves both loops complete the same number of steps on any inputs:
// identical explicit bounds, and identical sequence value sets so runtime truncation
// (shorter fed sequences) lowers both bounds equally.
func sameStepCount(a, b *Node) bool {
	if a.numSteps != b.numSteps {
		return false
	}
	aSeqs, bSeqs := sequenceValues(a), sequenceValues(b)
	if len(aSeqs) == 0 && len(bSeqs) == 0 {
		return a.numSteps > 0 // both unbounded otherwise
	}
	return aSeqs.Equal(bSeqs)
}

func sequenceValues(n *Node) types.Set[*Value] {
	values := types.MakeSet[*Value]()
	for ii := range n.roles {
		if n.roles[ii].Kind == RoleSequence {
			values.Insert(n.outerInputs[n.roles[ii].OuterInput])
		}
	}
	return values
}

// dependsOn reports whether consumer reaches producer through outer-value producer
// links: some outer input of consumer is (transitively) an output of producer.
func dependsOn(consumer, producer *Node) bool {
	visited := types.MakeSet[*Node]()
	var visit func(n *Node) bool
	visit = func(n *Node) bool {
		if n == producer {
			return true
		}
		if visited.Has(n) {
			return false
		}
		visited.Insert(n)
		for _, input := range n.outerInputs {
			if p, _ := input.Producer(); p != nil && visit(p) {
				return true
			}
		}
		return false
	}
	return visit(consumer)
}
