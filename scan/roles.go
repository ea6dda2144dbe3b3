// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package scan

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/scan/graph"
	"github.com/gomlx/scan/types/shapes"
	"github.com/pkg/errors"
)

// RoleKind classifies a loop variable by its recurrence pattern. The set is closed:
// engine and planner switch exhaustively over it.
type RoleKind int

const (
	RoleInvalid RoleKind = iota

	// RoleSequence is an outer input sliced per iteration along its leading axis.
	// No inner output, no tap.
	RoleSequence

	// RoleNonSequence is an outer input passed unchanged to every iteration.
	RoleNonSequence

	// RoleNitsot is an output with no input tap, accumulated across iterations
	// ("no input taps, single output tap").
	RoleNitsot

	// RoleSitsot is a single-step recurrence: tap offset -1 only
	// ("single input tap, single output tap").
	RoleSitsot

	// RoleMitsot is a recurrence referencing a fixed, possibly non-contiguous set of
	// negative offsets, e.g. {-2, -1} ("multiple input taps, single output tap").
	RoleMitsot

	// RoleMitmot generalizes Mitsot by also producing multiple future-timestep outputs
	// per call ("multiple input taps, multiple output taps"). It arises from derivative
	// construction, never from direct loop construction.
	RoleMitmot

	roleKindLast
)

var roleKindNames = [roleKindLast]string{
	"Invalid", "Sequence", "NonSequence", "Nitsot", "Sitsot", "Mitsot", "Mitmot",
}

// String implements fmt.Stringer.
func (k RoleKind) String() string {
	if k < 0 || k >= roleKindLast {
		return "Invalid"
	}
	return roleKindNames[k]
}

// NoCorrespondence is the sentinel for "this variable has no counterpart in that
// namespace": e.g. a Sequence role has no outer output.
const NoCorrespondence = -1

// Role ties together the up-to-four positions of one logical loop variable across the
// four namespaces (outer/inner x input/output), plus its tap-offset metadata.
//
// Positions are stable indices into the node's outer inputs, outer outputs, body
// parameters and body outputs respectively; NoCorrespondence where a namespace does not
// apply to the kind.
type Role struct {
	Kind RoleKind

	// OuterInput is the outer input position: the sequence, the non-sequence, or the
	// initial-values input of a recurrence. NoCorrespondence for Nitsot.
	OuterInput int

	// OuterOutput is the outer output position. NoCorrespondence for Sequence and
	// NonSequence.
	OuterOutput int

	// InnerInputs are body parameter positions: the single sequence slice or
	// non-sequence, or one per input tap, ordered like InputTaps (oldest first).
	InnerInputs []int

	// InnerOutputs are body output positions: one for Nitsot/Sitsot/Mitsot, one per
	// output tap for Mitmot (ordered like OutputTaps).
	InnerOutputs []int

	// InputTaps are the recurrence input offsets: strictly negative, strictly
	// ascending, so InputTaps[0] is the oldest tap.
	InputTaps []int

	// OutputTaps are the future-timestep output offsets of a Mitmot: non-negative,
	// strictly ascending. Empty for every other kind.
	OutputTaps []int
}

// TapDepth is the number of past timesteps this role's recurrence reaches:
// 0 for Nitsot, 1 for Sitsot, -min(InputTaps) for Mitsot/Mitmot. It is also the number
// of initial-value timesteps the caller must supply.
func (r *Role) TapDepth() int {
	if len(r.InputTaps) == 0 {
		return 0
	}
	return -r.InputTaps[0]
}

// MaxOutputTap returns the largest future output offset (0 when there are no output
// taps).
func (r *Role) MaxOutputTap() int {
	if len(r.OutputTaps) == 0 {
		return 0
	}
	return r.OutputTaps[len(r.OutputTaps)-1]
}

// IsRecurrent reports whether the role feeds any of its own past outputs back into the
// body.
func (r *Role) IsRecurrent() bool { return len(r.InputTaps) > 0 }

// HasOuterOutput reports whether the role produces an outer output.
func (r *Role) HasOuterOutput() bool { return r.OuterOutput != NoCorrespondence }

// String implements fmt.Stringer.
func (r *Role) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s{outerIn=%d, outerOut=%d", r.Kind, r.OuterInput, r.OuterOutput)
	if len(r.InputTaps) > 0 {
		fmt.Fprintf(&b, ", taps=%v", r.InputTaps)
	}
	if len(r.OutputTaps) > 0 {
		fmt.Fprintf(&b, ", outTaps=%v", r.OutputTaps)
	}
	b.WriteString("}")
	return b.String()
}

// TapSpec declares the recurrence pattern of one outer output at construction time.
type TapSpec struct {
	// InputTaps are past-timestep offsets the body reads, strictly negative. Empty
	// declares a Nitsot (pure accumulation, no recurrence).
	InputTaps []int

	// OutputTaps are future-timestep offsets the body writes, non-negative. Only
	// derivative construction produces these (Mitmot).
	OutputTaps []int
}

// malformedTapErrorf wraps ErrMalformedTap with context.
func malformedTapErrorf(format string, args ...any) error {
	return errors.Wrapf(ErrMalformedTap, format, args...)
}

// Classify derives the ordered Role list of a loop from the declared taps and the
// shapes of the outer inputs and body variables.
//
// It is a pure function: no side effects, and on any mismatch between declaration and
// body it fails with an error wrapping ErrMalformedTap, never returning a partial
// classification.
//
// The canonical variable order it enforces (the loop-construction contract):
//
//   - outer inputs: sequences, one initial-values input per tapped recurrence (in
//     recurrence order), then non-sequences;
//   - body parameters: sequence slices, tap slices per recurrence (taps ascending,
//     oldest first), then non-sequences;
//   - body outputs: per recurrence (Mitmot: one per output tap, ascending), then the
//     optional early-stop condition output last;
//   - outer outputs: one per recurrence.
//
// Returned roles are ordered: sequence roles, recurrence roles, non-sequence roles.
func Classify(sequences, inits, nonSequences []*Value, body *graph.Graph,
	recurrences []TapSpec, until bool) ([]Role, error) {
	if body == nil || !body.IsFrozen() {
		return nil, errors.Errorf("scan.Classify: body graph must be non-nil and frozen")
	}

	// Validate tap declarations and global counts first.
	numTapped := 0
	totalTapInputs := 0
	totalInnerOutputs := 0
	for ii, rec := range recurrences {
		if err := validateTapSpec(ii, rec); err != nil {
			return nil, err
		}
		if len(rec.InputTaps) > 0 {
			numTapped++
			totalTapInputs += len(rec.InputTaps)
		}
		totalInnerOutputs += max(1, len(rec.OutputTaps))
	}
	if len(inits) != numTapped {
		return nil, malformedTapErrorf("%d recurrences declare input taps, but %d initial-value inputs given",
			numTapped, len(inits))
	}
	wantParams := len(sequences) + totalTapInputs + len(nonSequences)
	if body.NumParameters() != wantParams {
		return nil, malformedTapErrorf(
			"body has %d parameters, but declaration requires %d (%d sequences + %d taps + %d non-sequences)",
			body.NumParameters(), wantParams, len(sequences), totalTapInputs, len(nonSequences))
	}
	wantOutputs := totalInnerOutputs
	if until {
		wantOutputs++
	}
	if body.NumOutputs() != wantOutputs {
		return nil, malformedTapErrorf("body has %d outputs, but declaration requires %d", body.NumOutputs(), wantOutputs)
	}
	if until {
		condShape := body.Outputs()[body.NumOutputs()-1].Shape()
		if !condShape.Equal(shapes.Scalar[bool]()) {
			return nil, malformedTapErrorf("early-stop condition output must be a Bool scalar, got %s", condShape)
		}
	}

	roles := make([]Role, 0, len(sequences)+len(recurrences)+len(nonSequences))

	// Sequence roles.
	innerIn := 0
	for ii, seq := range sequences {
		if seq.Shape().Rank() == 0 {
			return nil, malformedTapErrorf("sequence input %d (%q) must have a leading steps axis, got scalar", ii, seq.Name())
		}
		sliceShape := seq.Shape().DropLeadingAxis()
		paramShape := body.ParameterByIndex(innerIn).Shape()
		if !paramShape.Equal(sliceShape) {
			return nil, malformedTapErrorf("sequence %d (%q): body parameter %d has shape %s, want per-step slice %s",
				ii, seq.Name(), innerIn, paramShape, sliceShape)
		}
		roles = append(roles, Role{
			Kind:        RoleSequence,
			OuterInput:  ii,
			OuterOutput: NoCorrespondence,
			InnerInputs: []int{innerIn},
		})
		innerIn++
	}

	// Recurrence roles.
	innerOut := 0
	initIdx := 0
	for ii, rec := range recurrences {
		role := Role{
			Kind:        kindOfTaps(rec),
			OuterInput:  NoCorrespondence,
			OuterOutput: ii,
			InputTaps:   slices.Clone(rec.InputTaps),
			OutputTaps:  slices.Clone(rec.OutputTaps),
		}
		numOuts := max(1, len(rec.OutputTaps))
		for jj := 0; jj < numOuts; jj++ {
			role.InnerOutputs = append(role.InnerOutputs, innerOut)
			innerOut++
		}
		coreShape := body.Outputs()[role.InnerOutputs[0]].Shape()
		for _, outIdx := range role.InnerOutputs[1:] {
			if !body.Outputs()[outIdx].Shape().Equal(coreShape) {
				return nil, malformedTapErrorf("recurrence %d: output-tap body outputs disagree on shape (%s vs %s)",
					ii, body.Outputs()[outIdx].Shape(), coreShape)
			}
		}
		if role.IsRecurrent() {
			role.OuterInput = len(sequences) + initIdx
			init := inits[initIdx]
			initIdx++
			depth := role.TapDepth()
			wantInit := coreShape.Prepend(depth)
			if !init.Shape().Equal(wantInit) {
				return nil, malformedTapErrorf(
					"recurrence %d: initial values %q have shape %s, want %s (%d timesteps oldest-first, taps %v)",
					ii, init.Name(), init.Shape(), wantInit, depth, rec.InputTaps)
			}
			for _, tap := range rec.InputTaps {
				paramShape := body.ParameterByIndex(innerIn).Shape()
				if !paramShape.Equal(coreShape) {
					return nil, malformedTapErrorf("recurrence %d: body parameter %d (tap %d) has shape %s, want %s",
						ii, innerIn, tap, paramShape, coreShape)
				}
				role.InnerInputs = append(role.InnerInputs, innerIn)
				innerIn++
			}
		}
		roles = append(roles, role)
	}

	// Non-sequence roles.
	for ii, nonSeq := range nonSequences {
		paramShape := body.ParameterByIndex(innerIn).Shape()
		if !paramShape.Equal(nonSeq.Shape()) {
			return nil, malformedTapErrorf("non-sequence %d (%q): body parameter %d has shape %s, want %s",
				ii, nonSeq.Name(), innerIn, paramShape, nonSeq.Shape())
		}
		roles = append(roles, Role{
			Kind:        RoleNonSequence,
			OuterInput:  len(sequences) + numTapped + ii,
			OuterOutput: NoCorrespondence,
			InnerInputs: []int{innerIn},
		})
		innerIn++
	}

	return roles, nil
}

func validateTapSpec(recurrence int, spec TapSpec) error {
	for jj, tap := range spec.InputTaps {
		if tap >= 0 {
			return malformedTapErrorf("recurrence %d: input tap offsets must be strictly negative, got %d", recurrence, tap)
		}
		if jj > 0 && tap <= spec.InputTaps[jj-1] {
			return malformedTapErrorf("recurrence %d: input taps must be strictly ascending (oldest first), got %v",
				recurrence, spec.InputTaps)
		}
	}
	for jj, tap := range spec.OutputTaps {
		if tap < 0 {
			return malformedTapErrorf("recurrence %d: output tap offsets must be non-negative, got %d", recurrence, tap)
		}
		if jj > 0 && tap <= spec.OutputTaps[jj-1] {
			return malformedTapErrorf("recurrence %d: output taps must be strictly ascending, got %v",
				recurrence, spec.OutputTaps)
		}
	}
	if len(spec.OutputTaps) > 0 && len(spec.InputTaps) == 0 {
		return malformedTapErrorf("recurrence %d: output taps require input taps (Mitmot generalizes Mitsot)", recurrence)
	}
	return nil
}

func kindOfTaps(spec TapSpec) RoleKind {
	switch {
	case len(spec.OutputTaps) > 0:
		return RoleMitmot
	case len(spec.InputTaps) == 0:
		return RoleNitsot
	case len(spec.InputTaps) == 1 && spec.InputTaps[0] == -1:
		return RoleSitsot
	default:
		return RoleMitsot
	}
}
