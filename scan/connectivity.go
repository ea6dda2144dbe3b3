// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package scan

import (
	"fmt"
	"strings"

	"github.com/gomlx/scan/graph"
	"github.com/gomlx/scan/types"
)

// Connectivity holds the boolean data-dependency relations of a loop: which inner
// inputs reach which inner outputs through the body computation, and the outer-level
// relation derived from it through the MappingTable correspondences.
//
// It is a derived, cached structure: any structural edit of the body graph requires
// recomputing it (rewrite passes rebuild it on the node they return).
type Connectivity struct {
	// inner[j][k] is true iff inner input j reaches inner output k through the body.
	inner [][]bool

	// outer[i][o] is true iff outer input i reaches outer output o: some inner input it
	// maps to is inner-connected to some inner output mapped to outer output o.
	outer [][]bool
}

// ConnectionPattern computes the connectivity of a loop from its role list and body
// graph.
//
// The inner matrix is computed by reverse traversal from each body output through the
// body's dependency edges -- O(V+E) per output. The outer matrix is the composition of
// the inner matrix with the input/output correspondences of the MappingTable.
func ConnectionPattern(roles []Role, body *graph.Graph) *Connectivity {
	table := BuildMappingTable(roles)
	numInnerIn, numInnerOut := body.NumParameters(), len(table.relations[OuterOutFromInnerOut])
	if numInnerOut < body.NumOutputs() {
		// The trailing early-stop condition output (if any) has no role; it still takes
		// a column so the matrix covers every body output.
		numInnerOut = body.NumOutputs()
	}

	conn := &Connectivity{
		inner: make([][]bool, numInnerIn),
		outer: make([][]bool, table.NumOuterInputs()),
	}
	for j := range conn.inner {
		conn.inner[j] = make([]bool, numInnerOut)
	}
	for i := range conn.outer {
		conn.outer[i] = make([]bool, table.NumOuterOutputs())
	}

	// Inner matrix: reverse DFS from each body output down to parameters.
	for k, output := range body.Outputs() {
		visited := types.MakeSet[graph.NodeId]()
		var visit func(node *graph.Node)
		visit = func(node *graph.Node) {
			if visited.Has(node.Id()) {
				return
			}
			visited.Insert(node.Id())
			if node.IsParameter() {
				conn.inner[node.ParameterIndex()][k] = true
				return
			}
			for _, input := range node.Inputs() {
				visit(input)
			}
		}
		visit(output)
	}

	// Outer matrix: compose through the index correspondences.
	for i := 0; i < table.NumOuterInputs(); i++ {
		for _, j := range table.Lookup(InnerInpFromOuterInp, i) {
			for k := 0; k < numInnerOut; k++ {
				if !conn.inner[j][k] {
					continue
				}
				if o := table.LookupOne(OuterOutFromInnerOut, k); o != NoCorrespondence {
					conn.outer[i][o] = true
				}
			}
		}
	}
	return conn
}

// InnerConnected reports whether inner input j reaches inner output k through the body
// computation.
func (c *Connectivity) InnerConnected(j, k int) bool { return c.inner[j][k] }

// OuterConnected reports whether a data path exists from outer input i to outer
// output o.
func (c *Connectivity) OuterConnected(i, o int) bool { return c.outer[i][o] }

// InputUsed reports whether inner input j reaches any body output at all. A NonSequence
// for which this is false is ignored by the loop (the basis of unused-input pruning).
func (c *Connectivity) InputUsed(j int) bool {
	for _, connected := range c.inner[j] {
		if connected {
			return true
		}
	}
	return false
}

func matrixString(name string, m [][]bool) string {
	rows := make([]string, 0, len(m)+1)
	rows = append(rows, name+":")
	for i, row := range m {
		cells := make([]byte, len(row))
		for o, connected := range row {
			if connected {
				cells[o] = 'X'
			} else {
				cells[o] = '.'
			}
		}
		rows = append(rows, fmt.Sprintf("\t%d: %s", i, cells))
	}
	return strings.Join(rows, "\n")
}

// String pretty-prints both matrices, inputs as rows and outputs as columns.
func (c *Connectivity) String() string {
	return matrixString("inner (inputs x outputs)", c.inner) + "\n" +
		matrixString("outer (inputs x outputs)", c.outer)
}
