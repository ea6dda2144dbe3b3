// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package scan implements the execution and optimization machinery of a Scan node: a
// single graph node representing a bounded loop whose body is itself a small
// computation graph (see the graph package), executed repeatedly against per-step
// slices of sequence inputs and its own prior outputs.
//
// The pieces, leaf first:
//
//   - Role model (roles.go): classifies every loop variable into Sequence, NonSequence
//     or one of the four recurrence kinds (Nitsot/Sitsot/Mitsot/Mitmot), with
//     tap-offset metadata.
//   - MappingTable (index.go): the bidirectional index connecting the four variable
//     namespaces (outer/inner x input/output).
//   - Connectivity (connectivity.go): which inputs actually reach which outputs,
//     following paths through the body computation.
//   - BufferPlan (plan.go): how many timesteps of each output must physically be
//     retained.
//   - Exec (exec.go): the iteration engine, driving circular buffers through the loop.
//   - Rewrite passes (rewrite_*.go): hoisting of loop-invariant computation, in-place
//     aliasing of recurrent buffers, fusion of independent loops, pruning of unused
//     inputs. Passes never mutate their input node; they return a new node with all
//     derived structures rebuilt.
//
// Recurrence is never represented as a cycle: the body graph stays acyclic and the tap
// offsets recorded on the roles are the only place recurrence is expressed, realized by
// the engine's buffer indexing.
package scan

import (
	"fmt"
	"strings"

	"github.com/gomlx/scan/graph"
	"github.com/gomlx/scan/types/shapes"
	"github.com/pkg/errors"
)

// Value is a placeholder for an outer-graph tensor fed to, or produced by, a Scan
// node. The outer graph itself is an external collaborator; Values are its handles,
// used as keys when feeding concrete tensors to Exec.Run and as the identity that
// rewrite passes use to reason about outer data dependencies.
type Value struct {
	name  string
	shape shapes.Shape

	// producer is set when this value is the output of another Scan node.
	producer    *Node
	producerIdx int
}

// NewValue creates an outer-graph value placeholder with the given name and shape.
func NewValue(name string, shape shapes.Shape) *Value {
	return &Value{name: name, shape: shape}
}

// Name of the value.
func (v *Value) Name() string { return v.name }

// Shape of the value.
func (v *Value) Shape() shapes.Shape { return v.shape }

// Producer returns the Scan node and output position that produces this value, or
// (nil, NoCorrespondence) for values fed from outside.
func (v *Value) Producer() (*Node, int) {
	if v.producer == nil {
		return nil, NoCorrespondence
	}
	return v.producer, v.producerIdx
}

// String implements fmt.Stringer.
func (v *Value) String() string {
	return fmt.Sprintf("%s%s", v.name, v.shape)
}

// prelude is a loop-invariant computation hoisted out of the body: it runs once per
// execution, before the first iteration, and its result feeds the outer input at
// position target (always a hoisted NonSequence).
type prelude struct {
	comp *graph.Graph

	// args are outer-input positions feeding comp's parameters, in order.
	args []int

	// target is the outer-input position whose value comp computes.
	target int
}

// Config declares a Scan node. The caller (the loop-construction collaborator) has
// already decided which of its values are sequences, non-sequences and recurrences, and
// built a body graph whose parameters and outputs follow the canonical order documented
// on Classify.
type Config struct {
	// Sequences are outer inputs sliced per iteration along their leading axis.
	Sequences []*Value

	// Inits carries the initial recurrent values, one per element of Recurrences that
	// declares input taps, in recurrence order. Each has shape [depth, core...], the
	// depth timesteps stored oldest-first.
	Inits []*Value

	// NonSequences are outer inputs passed unchanged to every iteration.
	NonSequences []*Value

	// Recurrences declares the tap pattern of each outer output, in body-output order.
	Recurrences []TapSpec

	// NumSteps is the explicitly requested iteration count; 0 derives it from the
	// shortest sequence. When both are present the stricter (smaller) wins.
	NumSteps int

	// Until marks the body as carrying one extra trailing scalar-Bool output: when it
	// evaluates to true the loop stops after the current step, retaining all steps
	// computed so far.
	Until bool
}

// Node is a Scan loop node: the classified roles, the outer-graph values it consumes
// and produces, and its body graph. Derived structures (MappingTable, Connectivity) are
// built eagerly at construction and rebuilt from scratch by every rewrite pass --
// never patched incrementally.
type Node struct {
	name string
	body *graph.Graph

	roles        []Role
	outerInputs  []*Value
	outerOutputs []*Value

	numSteps int
	until    bool

	// preludes hold hoisted loop-invariant computations (see HoistInvariant).
	preludes []*prelude

	// donatable marks outer inputs whose storage the engine may write in place
	// (see MarkInplace).
	donatable []bool

	table *MappingTable
	conn  *Connectivity
}

// New builds a Scan node from the declaration in config, classifying every variable,
// validating the declaration against the body graph, and deriving the MappingTable and
// Connectivity caches.
//
// On any malformed declaration it returns an error (wrapping ErrMalformedTap for tap
// and shape mismatches) and no node: a partially-built node is never returned.
func New(name string, body *graph.Graph, config Config) (*Node, error) {
	roles, err := Classify(config.Sequences, config.Inits, config.NonSequences, body,
		config.Recurrences, config.Until)
	if err != nil {
		return nil, errors.WithMessagef(err, "scan.New(%q)", name)
	}
	if config.NumSteps < 0 {
		return nil, errors.Errorf("scan.New(%q): NumSteps must be >= 0, got %d", name, config.NumSteps)
	}
	if config.NumSteps == 0 && len(config.Sequences) == 0 {
		return nil, errors.Errorf("scan.New(%q): iteration bound underivable: no sequences and no NumSteps", name)
	}

	node := &Node{
		name:     name,
		body:     body,
		roles:    roles,
		numSteps: config.NumSteps,
		until:    config.Until,
	}
	node.outerInputs = make([]*Value, 0, len(config.Sequences)+len(config.Inits)+len(config.NonSequences))
	node.outerInputs = append(node.outerInputs, config.Sequences...)
	node.outerInputs = append(node.outerInputs, config.Inits...)
	node.outerInputs = append(node.outerInputs, config.NonSequences...)
	for ii, value := range node.outerInputs {
		if value == nil {
			return nil, errors.Errorf("scan.New(%q): outer input %d is nil", name, ii)
		}
	}
	node.donatable = make([]bool, len(node.outerInputs))

	// One outer output value per recurrence, shaped [steps, core...].
	steps := node.StaticSteps()
	for _, role := range roles {
		if !role.HasOuterOutput() {
			continue
		}
		coreShape := body.Outputs()[role.InnerOutputs[0]].Shape()
		value := NewValue(fmt.Sprintf("%s#out%d", name, role.OuterOutput), coreShape.Prepend(steps))
		value.producer = node
		value.producerIdx = role.OuterOutput
		node.outerOutputs = append(node.outerOutputs, value)
	}

	node.rebuildDerived()
	return node, nil
}

// rebuildDerived recomputes the MappingTable and Connectivity caches from the role list
// and body graph.
func (n *Node) rebuildDerived() {
	n.table = BuildMappingTable(n.roles)
	n.conn = ConnectionPattern(n.roles, n.body)
}

// Name of the node.
func (n *Node) Name() string { return n.name }

// Body returns the loop-body graph.
func (n *Node) Body() *graph.Graph { return n.body }

// Roles returns the ordered role classification. The returned slice must not be
// modified.
func (n *Node) Roles() []Role { return n.roles }

// OuterInputs returns the node's outer input values, in canonical order: sequences,
// initial values, non-sequences. The returned slice must not be modified.
func (n *Node) OuterInputs() []*Value { return n.outerInputs }

// OuterOutputs returns the node's outer output values, one per recurrence. The
// returned slice must not be modified.
func (n *Node) OuterOutputs() []*Value { return n.outerOutputs }

// NumSteps returns the explicitly requested iteration count, 0 when the bound is
// derived from sequences.
func (n *Node) NumSteps() int { return n.numSteps }

// Until reports whether the body carries a trailing early-stop condition output.
func (n *Node) Until() bool { return n.until }

// Table returns the node's MappingTable, built at construction.
func (n *Node) Table() *MappingTable { return n.table }

// Connectivity returns the node's connectivity matrices, built at construction.
func (n *Node) Connectivity() *Connectivity { return n.conn }

// StaticSteps resolves the nominal iteration bound from the declared sequence lengths
/// and the explicit NumSteps: the stricter (smaller) of the two. Execution may still
// complete fewer steps (shorter actual sequences or an early stop).
func (n *Node) StaticSteps() int {
	steps := n.numSteps
	for _, role := range n.roles {
		if role.Kind != RoleSequence {
			continue
		}
		seqLen := n.outerInputs[role.OuterInput].Shape().Dim(0)
		if steps == 0 || seqLen < steps {
			steps = seqLen
		}
	}
	return steps
}

// configuration reconstructs the Config declaration equivalent to this node's roles
// and outer inputs. Rewrite passes use it to assemble their result node through New,
// re-running the full validation.
func (n *Node) configuration() Config {
	config := Config{NumSteps: n.numSteps, Until: n.until}
	for ii := range n.roles {
		role := &n.roles[ii]
		switch role.Kind {
		case RoleSequence:
			config.Sequences = append(config.Sequences, n.outerInputs[role.OuterInput])
		case RoleNonSequence:
			config.NonSequences = append(config.NonSequences, n.outerInputs[role.OuterInput])
		default:
			config.Recurrences = append(config.Recurrences, TapSpec{
				InputTaps:  role.InputTaps,
				OutputTaps: role.OutputTaps,
			})
			if role.IsRecurrent() {
				config.Inits = append(config.Inits, n.outerInputs[role.OuterInput])
			}
		}
	}
	return config
}

// numRecurrences counts roles with an outer output.
func (n *Node) numRecurrences() int { return len(n.outerOutputs) }

// roleOfOuterOutput returns the role producing the given outer output.
func (n *Node) roleOfOuterOutput(outerOut int) *Role {
	for ii := range n.roles {
		if n.roles[ii].OuterOutput == outerOut {
			return &n.roles[ii]
		}
	}
	return nil
}

// roleOfOuterInput returns the role owning the given outer input.
func (n *Node) roleOfOuterInput(outerIn int) *Role {
	for ii := range n.roles {
		if n.roles[ii].OuterInput == outerIn {
			return &n.roles[ii]
		}
	}
	return nil
}

// preludeTargets returns the set of outer-input positions computed by preludes (hoisted
// inputs, not fed by the caller).
func (n *Node) preludeTargets() map[int]bool {
	if len(n.preludes) == 0 {
		return nil
	}
	targets := make(map[int]bool, len(n.preludes))
	for _, p := range n.preludes {
		targets[p.target] = true
	}
	return targets
}

// String converts the node to a multi-line description: one line per role, plus the
// body size.
func (n *Node) String() string {
	parts := []string{fmt.Sprintf("Scan %q: %d steps, %d outer inputs, %d outer outputs, body with %d nodes",
		n.name, n.StaticSteps(), len(n.outerInputs), len(n.outerOutputs), n.body.NumNodes())}
	for ii := range n.roles {
		role := &n.roles[ii]
		var outerName string
		if role.OuterInput != NoCorrespondence {
			outerName = n.outerInputs[role.OuterInput].String()
		} else {
			outerName = n.outerOutputs[role.OuterOutput].String()
		}
		parts = append(parts, fmt.Sprintf("\t%s: %s", outerName, role.String()))
	}
	if n.until {
		parts = append(parts, "\tearly-stop condition: body output #"+fmt.Sprint(n.body.NumOutputs()-1))
	}
	if len(n.preludes) > 0 {
		parts = append(parts, fmt.Sprintf("\t%d hoisted prelude(s)", len(n.preludes)))
	}
	return strings.Join(parts, "\n")
}
