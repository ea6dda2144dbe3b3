// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package scan

import (
	"sync"

	"github.com/gomlx/scan/types/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// parallelizable reports whether iterations of the loop are independent: every
// recurrence is a Nitsot (no step reads a previous step's output) and there is no
// early-stop condition (which imposes a sequential decision per step).
func (e *Exec) parallelizable() bool {
	if e.node.Until() {
		return false
	}
	for ii := range e.node.roles {
		role := &e.node.roles[ii]
		if role.HasOuterOutput() && role.Kind != RoleNitsot {
			return false
		}
	}
	return true
}

// runParallel executes independent iterations on a bounded worker pool. Each step
// writes at its absolute timeline row, so the outputs are identical to a sequential
// run regardless of completion order. Buffers are always allocated full here: workers
// must never race on a shared circular row; materialize still applies the windows.
func (e *Exec) runParallel(inputs resolvedInputs, steps int, truncated bool) (*Result, error) {
	node := e.node
	body := node.Body()

	buffers := make([]*outputBuffer, len(node.outerOutputs))
	for o := range buffers {
		role := node.roleOfOuterOutput(o)
		core := body.Outputs()[role.InnerOutputs[0]].Shape()
		rows := max(steps, 1)
		buffers[o] = &outputBuffer{
			role:    role,
			storage: tensors.FromShape(core.Prepend(rows)),
			rows:    rows,
		}
	}

	workers := min(e.parallelism, steps)
	if klog.V(2).Enabled() {
		klog.Infof("scan %q: running %d independent steps on %d workers", node.Name(), steps, workers)
	}
	stepsChan := make(chan int, workers)
	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bodyInputs := make([]*tensors.Tensor, body.NumParameters())
			for t := range stepsChan {
				e.gatherBodyInputs(inputs, buffers, t, bodyInputs)
				outs, err := body.Run(bodyInputs)
				if err != nil {
					errOnce.Do(func() {
						firstErr = errors.WithMessagef(ErrComputation, "scan %q step %d: %+v", node.Name(), t, err)
					})
					continue
				}
				e.scatterBodyOutputs(buffers, t, outs)
			}
		}()
	}
	for t := 0; t < steps; t++ {
		stepsChan <- t
	}
	close(stepsChan)
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}

	return &Result{
		Outputs:   e.materialize(buffers, steps),
		Steps:     steps,
		Truncated: truncated,
	}, nil
}
