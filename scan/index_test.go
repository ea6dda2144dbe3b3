package scan

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/scan/graph"
	"github.com/gomlx/scan/types/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mixedRoles classifies a loop exercising every namespace: one sequence, one Sitsot,
// one Nitsot and one non-sequence.
func mixedRoles(t *testing.T) []Role {
	body := graph.New("mixed-body")
	xt := body.Parameter("x_t", shapes.Scalar[float64]())
	acc := body.Parameter("acc", shapes.Scalar[float64]())
	scale := body.Parameter("scale", shapes.Scalar[float64]())
	body.Return(graph.Add(xt, acc), graph.Mul(xt, scale))

	seq := NewValue("x", shapes.Make(dtypes.Float64, 3))
	init := NewValue("acc0", shapes.Make(dtypes.Float64, 1))
	nonSeq := NewValue("scale", shapes.Scalar[float64]())
	roles, err := Classify([]*Value{seq}, []*Value{init}, []*Value{nonSeq}, body,
		[]TapSpec{{InputTaps: []int{-1}}, {}}, false)
	require.NoError(t, err)
	return roles
}

func TestMappingTableSizes(t *testing.T) {
	table := BuildMappingTable(mixedRoles(t))
	assert.Equal(t, 3, table.NumOuterInputs())  // sequence, init, non-sequence
	assert.Equal(t, 2, table.NumOuterOutputs()) // Sitsot, Nitsot
	assert.Equal(t, 3, table.NumInnerInputs())
	assert.Equal(t, 2, table.NumInnerOutputs())
}

func TestMappingTableLookups(t *testing.T) {
	table := BuildMappingTable(mixedRoles(t))

	// The Sitsot: outer input 1 (init) <-> outer output 0 <-> inner input 1 <-> inner
	// output 0.
	assert.Equal(t, 1, table.LookupOne(OuterInpFromOuterOut, 0))
	assert.Equal(t, 0, table.LookupOne(OuterOutFromOuterInp, 1))
	assert.Equal(t, []int{1}, table.Lookup(InnerInpFromOuterOut, 0))
	assert.Equal(t, []int{0}, table.Lookup(InnerOutFromOuterInp, 1))
	assert.Equal(t, 0, table.LookupOne(InnerOutFromInnerInp, 1))
	assert.Equal(t, 1, table.LookupOne(InnerInpFromInnerOut, 0))

	// The Nitsot has no outer input.
	assert.Equal(t, NoCorrespondence, table.LookupOne(OuterInpFromOuterOut, 1))
	assert.Equal(t, NoCorrespondence, table.LookupOne(InnerInpFromOuterOut, 1))
	assert.Equal(t, 1, table.LookupOne(OuterOutFromInnerOut, 1))

	// The sequence and non-sequence have no outputs.
	assert.Equal(t, NoCorrespondence, table.LookupOne(OuterOutFromOuterInp, 0))
	assert.Equal(t, NoCorrespondence, table.LookupOne(OuterOutFromOuterInp, 2))
	assert.Equal(t, 0, table.LookupOne(OuterInpFromInnerInp, 0))
	assert.Equal(t, 2, table.LookupOne(OuterInpFromInnerInp, 2))
}

func TestMappingTableMultiTap(t *testing.T) {
	node, _ := fibNode(t)
	table := node.Table()
	// Both tap parameters resolve to the same init input and the same outer output.
	assert.Equal(t, []int{0, 1}, table.Lookup(InnerInpFromOuterInp, 0))
	assert.Equal(t, 0, table.LookupOne(OuterInpFromInnerInp, 0))
	assert.Equal(t, 0, table.LookupOne(OuterInpFromInnerInp, 1))
	assert.Equal(t, []int{0, 1}, table.Lookup(InnerInpFromInnerOut, 0))
}

func TestMappingTableInverses(t *testing.T) {
	for _, roles := range [][]Role{mixedRoles(t)} {
		table := BuildMappingTable(roles)
		require.NoError(t, table.CheckInverses())
	}
	node, _ := fibNode(t)
	require.NoError(t, node.Table().CheckInverses())
	cumsum, _, _ := cumsumNode(t)
	require.NoError(t, cumsum.Table().CheckInverses())
}

func TestMappingTableRebuildIdempotent(t *testing.T) {
	roles := mixedRoles(t)
	first := BuildMappingTable(roles)
	second := BuildMappingTable(roles)
	assert.Equal(t, first, second)
}

func TestMappingTableLookupOutOfRange(t *testing.T) {
	table := BuildMappingTable(mixedRoles(t))
	err := exceptions.TryCatch[error](func() { table.Lookup(OuterOutFromOuterInp, 99) })
	require.Error(t, err)
}
