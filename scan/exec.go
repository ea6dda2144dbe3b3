// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package scan

import (
	"github.com/gomlx/scan/types/tensors"
	"github.com/gomlx/scan/types/xslices"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ParamsMap feeds concrete tensors to an execution, keyed by the node's outer-input
// values. Outer inputs computed by hoisted preludes must not be fed.
type ParamsMap map[*Value]*tensors.Tensor

// Result of one execution of a Scan node.
type Result struct {
	// Outputs holds one tensor per outer output. With full retention the leading axis is
	// Steps; with a bounded window it is min(window, Steps+TapDepth): the most recent
	// timeline rows, oldest first, initial rows included when the window reaches past the
	// first produced step.
	Outputs []*tensors.Tensor

	// Steps actually completed. Less than the nominal bound after an early stop or a
	// shorter-than-declared sequence.
	Steps int

	// EarlyStopped is set when the body's until-condition fired before the nominal bound.
	EarlyStopped bool

	// Truncated is set when a fed sequence was shorter than its declared length, lowering
	// the bound. Not an error: all completed steps are valid.
	Truncated bool
}

// Exec is the iteration engine for one Scan node. Configure it with the chainable
// setters, then call Run any number of times; an Exec is safe for sequential reuse but
// not for concurrent Run calls.
type Exec struct {
	node *Node
	plan *BufferPlan

	// forcedWindows, when set, overrides the plan's windows (same encoding). Shrinking
	// a window changes memory, never retained values.
	forcedWindows []int

	parallelism int
}

// NewExec creates an engine for node with full retention and sequential execution.
func NewExec(node *Node) *Exec {
	return &Exec{node: node, plan: PlanBuffers(node, nil), parallelism: 1}
}

// SetUsage replaces the buffer plan with one computed from the given per-output usage.
// It returns the updated e, so calls can be cascaded.
func (e *Exec) SetUsage(usage []OutputUsage) *Exec {
	e.plan = PlanBuffers(e.node, usage)
	return e
}

// SetForcedWindows overrides the planned window of every outer output (WindowAll or a
// positive row count per output). It returns the updated e, so calls can be cascaded.
func (e *Exec) SetForcedWindows(windows []int) *Exec {
	e.forcedWindows = windows
	return e
}

// SetParallelism sets the number of workers used for iteration-parallel execution.
// Values < 2 mean sequential. Only loops whose recurrences are all Nitsot and that
// carry no early-stop condition are parallelized; others fall back to sequential
// regardless. It returns the updated e, so calls can be cascaded.
func (e *Exec) SetParallelism(workers int) *Exec {
	e.parallelism = workers
	return e
}

func (e *Exec) window(o int) int {
	if e.forcedWindows != nil {
		return e.forcedWindows[o]
	}
	return e.plan.Window(o)
}

// outputBuffer is the engine's circular buffer for one recurrence: rows hold timeline
// timesteps, the initial TapDepth rows first. Timeline row r lives at physical row
// r%len, valid while r is within the retained window.
type outputBuffer struct {
	role *Role

	// storage has rows = clamp(window) physical rows of the output's core shape. It may
	// alias a donated initial-values tensor.
	storage *tensors.Tensor
	rows    int
}

func (b *outputBuffer) read(timelineRow int) *tensors.Tensor {
	return b.storage.Row(timelineRow % b.rows)
}

func (b *outputBuffer) write(timelineRow int, value *tensors.Tensor) {
	b.storage.SetRow(timelineRow%b.rows, value)
}

// resolvedInputs are the per-run concrete tensors, indexed by outer-input position.
type resolvedInputs []*tensors.Tensor

// Run executes the loop against the given outer inputs.
//
// Any body failure aborts the whole run: internal buffers are discarded, the error
// wraps ErrComputation, and no partial outputs are returned. Early stop and sequence
// truncation are not errors; they are reported in the Result.
func (e *Exec) Run(params ParamsMap) (*Result, error) {
	node := e.node
	inputs, err := e.resolveInputs(params)
	if err != nil {
		return nil, err
	}
	steps, truncated := e.resolveSteps(inputs)

	if e.parallelism > 1 && e.parallelizable() {
		return e.runParallel(inputs, steps, truncated)
	}

	buffers := e.allocateBuffers(inputs, steps)
	body := node.Body()
	bodyInputs := make([]*tensors.Tensor, body.NumParameters())
	done := 0
	earlyStopped := false
	for t := 0; t < steps; t++ {
		e.gatherBodyInputs(inputs, buffers, t, bodyInputs)
		outs, err := body.Run(bodyInputs)
		if err != nil {
			return nil, errors.WithMessagef(ErrComputation, "scan %q step %d: %+v", node.Name(), t, err)
		}
		e.scatterBodyOutputs(buffers, t, outs)
		done = t + 1
		if node.Until() && tensors.ScalarValue[bool](xslices.Last(outs)) {
			earlyStopped = true
			break
		}
	}
	if klog.V(2).Enabled() {
		klog.Infof("scan %q: completed %d/%d steps (earlyStopped=%v, truncated=%v)",
			node.Name(), done, steps, earlyStopped, truncated)
	}

	return &Result{
		Outputs:      e.materialize(buffers, done),
		Steps:        done,
		EarlyStopped: earlyStopped,
		Truncated:    truncated,
	}, nil
}

// resolveInputs checks params against the node's outer inputs and evaluates hoisted
// preludes for the inputs they compute.
func (e *Exec) resolveInputs(params ParamsMap) (resolvedInputs, error) {
	node := e.node
	inputs := make(resolvedInputs, len(node.outerInputs))
	hoisted := node.preludeTargets()
	for ii, value := range node.outerInputs {
		if hoisted[ii] {
			if _, found := params[value]; found {
				return nil, errors.Errorf("scan %q: outer input %d (%q) is computed by a hoisted prelude, must not be fed",
					node.Name(), ii, value.Name())
			}
			continue
		}
		tensor, found := params[value]
		if !found {
			return nil, errors.Errorf("scan %q: missing tensor for outer input %d (%q)", node.Name(), ii, value.Name())
		}
		if err := e.checkInputShape(ii, value, tensor); err != nil {
			return nil, err
		}
		inputs[ii] = tensor
	}
	for _, p := range node.preludes {
		args := make([]*tensors.Tensor, len(p.args))
		for jj, argPos := range p.args {
			args[jj] = inputs[argPos]
		}
		outs, err := p.comp.Run(args)
		if err != nil {
			return nil, errors.WithMessagef(ErrComputation, "scan %q: hoisted prelude for input %d: %+v",
				node.Name(), p.target, err)
		}
		inputs[p.target] = outs[0]
	}
	return inputs, nil
}

// checkInputShape validates a fed tensor against the declared value shape. Sequences
// may be fed shorter than declared (truncation); everything else must match exactly.
func (e *Exec) checkInputShape(pos int, value *Value, tensor *tensors.Tensor) error {
	role := e.node.roleOfOuterInput(pos)
	if role != nil && role.Kind == RoleSequence {
		want, got := value.Shape(), tensor.Shape()
		if got.Rank() != want.Rank() || got.DType != want.DType ||
			!got.DropLeadingAxis().EqualDimensions(want.DropLeadingAxis()) ||
			got.Dim(0) > want.Dim(0) {
			return errors.Errorf("scan %q: sequence %q fed shape %s, want %s (leading axis may only shrink)",
				e.node.Name(), value.Name(), got, want)
		}
		return nil
	}
	if !tensor.Shape().Equal(value.Shape()) {
		return errors.Errorf("scan %q: outer input %q fed shape %s, want %s",
			e.node.Name(), value.Name(), tensor.Shape(), value.Shape())
	}
	return nil
}

// resolveSteps lowers the nominal bound to the shortest fed sequence.
func (e *Exec) resolveSteps(inputs resolvedInputs) (steps int, truncated bool) {
	steps = e.node.StaticSteps()
	for _, role := range e.node.roles {
		if role.Kind != RoleSequence {
			continue
		}
		if seqLen := inputs[role.OuterInput].Shape().Dim(0); seqLen < steps {
			steps = seqLen
			truncated = true
		}
	}
	return
}

// allocateBuffers creates one circular buffer per recurrence and seeds the initial
// rows. A donated initial-values tensor whose window needs no extra rows is written in
// place instead of copied.
func (e *Exec) allocateBuffers(inputs resolvedInputs, steps int) []*outputBuffer {
	node := e.node
	buffers := make([]*outputBuffer, len(node.outerOutputs))
	for o := range buffers {
		role := node.roleOfOuterOutput(o)
		depth := role.TapDepth()
		core := node.Body().Outputs()[role.InnerOutputs[0]].Shape()
		full := depth + steps + role.MaxOutputTap()
		rows := full
		if w := e.window(o); w != WindowAll {
			rows = min(full, max(w, depth+role.MaxOutputTap()))
		}
		rows = max(rows, 1) // Nitsot with window 1 and steps 0 still needs a row.

		buffer := &outputBuffer{role: role, rows: rows}
		if depth > 0 {
			init := inputs[role.OuterInput]
			if rows == depth && node.donatable[role.OuterInput] {
				buffer.storage = init
			} else {
				buffer.storage = tensors.FromShape(core.Prepend(rows))
				for r, row := range init.Rows() {
					buffer.storage.SetRow(r, row)
				}
			}
		} else {
			buffer.storage = tensors.FromShape(core.Prepend(rows))
		}
		buffers[o] = buffer
	}
	return buffers
}

// gatherBodyInputs fills bodyInputs (indexed by body parameter position) for step t.
// Timeline row of step t is t+TapDepth; a tap at offset k reads timeline row t+k+depth.
func (e *Exec) gatherBodyInputs(inputs resolvedInputs, buffers []*outputBuffer, t int,
	bodyInputs []*tensors.Tensor) {
	for ii := range e.node.roles {
		role := &e.node.roles[ii]
		switch role.Kind {
		case RoleSequence:
			bodyInputs[role.InnerInputs[0]] = inputs[role.OuterInput].Row(t)
		case RoleNonSequence:
			bodyInputs[role.InnerInputs[0]] = inputs[role.OuterInput]
		default:
			buffer := buffers[role.OuterOutput]
			depth := role.TapDepth()
			for jj, tap := range role.InputTaps {
				bodyInputs[role.InnerInputs[jj]] = buffer.read(t + tap + depth)
			}
		}
	}
}

// scatterBodyOutputs writes step t's body outputs into the buffers. A Mitmot output tap
// k lands at timeline row t+k+depth; overlapping writes are last-writer-wins, and rows
// beyond the materialized range are simply never read back.
func (e *Exec) scatterBodyOutputs(buffers []*outputBuffer, t int, outs []*tensors.Tensor) {
	for _, buffer := range buffers {
		role := buffer.role
		depth := role.TapDepth()
		if len(role.OutputTaps) == 0 {
			buffer.write(t+depth, outs[role.InnerOutputs[0]])
			continue
		}
		for jj, tap := range role.OutputTaps {
			buffer.write(t+tap+depth, outs[role.InnerOutputs[jj]])
		}
	}
}

// materialize converts each circular buffer into the output tensor the caller sees.
// With full retention that is exactly the done produced steps; with a bounded window w
// it is the last min(w, done+depth) timeline rows, oldest first -- bit-identical to the
// matching rows of a full-retention run.
func (e *Exec) materialize(buffers []*outputBuffer, done int) []*tensors.Tensor {
	outputs := make([]*tensors.Tensor, len(buffers))
	for o, buffer := range buffers {
		depth := buffer.role.TapDepth()
		timeline := depth + done

		first, count := depth, done // full retention: produced rows only
		if w := e.window(o); w != WindowAll {
			count = min(w, timeline)
			first = timeline - count
		}
		rows := make([]*tensors.Tensor, count)
		for r := range rows {
			rows[r] = buffer.read(first + r)
		}
		outputs[o] = tensors.Stack(rows)
	}
	return outputs
}
