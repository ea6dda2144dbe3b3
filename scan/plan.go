// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package scan

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/scan/types/xslices"
	"k8s.io/klog/v2"
)

// WindowAll marks an output buffer that keeps every timestep. Valid window values are
// WindowAll or a positive row count; 0 is never valid.
const WindowAll = -1

// OutputUsage declares how downstream consumers use one outer output, the input to
// buffer planning.
type OutputUsage struct {
	// NeedsAll forces full retention for this output. It always wins over LastK: when
	// different consumers disagree, the caller must merge them with NeedsAll set if any
	// consumer needs the full history (fail closed).
	NeedsAll bool

	// LastK is the number of most recent timesteps consumers read, > 0. Ignored when
	// NeedsAll is set.
	LastK int
}

// BufferPlan assigns each outer output its retention window: the number of timeline
// rows (initial timesteps plus produced timesteps) the engine physically keeps in the
// output's circular buffer.
//
// The plan affects memory only, never values: for any window, the rows that are
// retained are bit-identical to the corresponding rows of a full-retention run.
type BufferPlan struct {
	node *Node

	// windows[o] is WindowAll or a positive row count >= the recurrence's tap depth.
	windows []int
}

// PlanBuffers computes retention windows for every outer output of node.
//
// A nil usage plans full retention for all outputs. Otherwise usage must have one entry
// per outer output; each bounded entry gets window max(TapDepth, LastK): never fewer
// rows than the recurrence itself taps, never more than its consumers read.
func PlanBuffers(node *Node, usage []OutputUsage) *BufferPlan {
	numOuts := len(node.OuterOutputs())
	plan := &BufferPlan{node: node, windows: xslices.SliceWithValue(numOuts, WindowAll)}
	if usage == nil {
		return plan
	}
	if len(usage) != numOuts {
		exceptions.Panicf("scan.PlanBuffers(%q): %d usage entries for %d outer outputs",
			node.Name(), len(usage), numOuts)
	}
	for o, u := range usage {
		if u.NeedsAll {
			plan.windows[o] = WindowAll
			continue
		}
		if u.LastK < 1 {
			exceptions.Panicf("scan.PlanBuffers(%q): output %d: LastK must be >= 1 when NeedsAll is false, got %d",
				node.Name(), o, u.LastK)
		}
		role := node.roleOfOuterOutput(o)
		plan.windows[o] = max(role.TapDepth(), u.LastK)
	}
	if klog.V(2).Enabled() {
		klog.Infof("scan %q buffer plan: windows=%v, estimated %s", node.Name(), plan.windows,
			humanize.Bytes(uint64(plan.MemoryEstimate())))
	}
	return plan
}

// Window returns the retention window of outer output o: WindowAll or a positive row
// count.
func (p *BufferPlan) Window(o int) int { return p.windows[o] }

// rows returns the physical circular-buffer row count the engine allocates for outer
// output o, given the nominal step count. Covers the engine's floor: a buffer always
// holds at least TapDepth+MaxOutputTap rows so every tap read and future-tap write
// lands inside it.
func (p *BufferPlan) rows(o, steps int) int {
	role := p.node.roleOfOuterOutput(o)
	full := role.TapDepth() + steps + role.MaxOutputTap()
	if p.windows[o] == WindowAll {
		return full
	}
	return min(full, max(p.windows[o], role.TapDepth()+role.MaxOutputTap()))
}

// MemoryEstimate returns the total bytes of output buffer storage the plan implies at
// the node's nominal step count.
func (p *BufferPlan) MemoryEstimate() int {
	steps := p.node.StaticSteps()
	total := 0
	for o := range p.windows {
		role := p.node.roleOfOuterOutput(o)
		core := p.node.Body().Outputs()[role.InnerOutputs[0]].Shape()
		total += p.rows(o, steps) * int(core.Memory())
	}
	return total
}

// String lists one line per output with its window and buffer size.
func (p *BufferPlan) String() string {
	steps := p.node.StaticSteps()
	parts := []string{fmt.Sprintf("BufferPlan for %q (%d steps, ~%s):",
		p.node.Name(), steps, humanize.Bytes(uint64(p.MemoryEstimate())))}
	for o, window := range p.windows {
		role := p.node.roleOfOuterOutput(o)
		core := p.node.Body().Outputs()[role.InnerOutputs[0]].Shape()
		desc := "all"
		if window != WindowAll {
			desc = fmt.Sprintf("last %d", window)
		}
		parts = append(parts, fmt.Sprintf("\toutput #%d (%s, core %s): %s -> %d rows, %s",
			o, role.Kind, core, desc, p.rows(o, steps),
			humanize.Bytes(uint64(p.rows(o, steps)*int(core.Memory())))))
	}
	return strings.Join(parts, "\n")
}
