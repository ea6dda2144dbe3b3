package scan

import (
	"bytes"
	"encoding/gob"
	"testing"

	"github.com/gomlx/scan/types/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, node *Node) *Node {
	var buf bytes.Buffer
	require.NoError(t, node.GobSerialize(gob.NewEncoder(&buf)))
	restored, err := GobDeserialize(gob.NewDecoder(&buf))
	require.NoError(t, err)
	return restored
}

func TestSerializeFibonacci(t *testing.T) {
	node, _ := fibNode(t)
	restored := roundTrip(t, node)

	assert.Equal(t, node.Name(), restored.Name())
	assert.Equal(t, node.Roles(), restored.Roles())
	assert.Equal(t, node.NumSteps(), restored.NumSteps())
	require.NoError(t, restored.Table().CheckInverses())

	// The restored node has its own input values; feed by its declaration.
	init := restored.OuterInputs()[0]
	result := runScan(t, restored, ParamsMap{init: fibInit()})
	assert.Equal(t, []int64{1, 2, 3, 5, 8}, tensors.FlatOf[int64](result.Outputs[0]))
}

func TestSerializeWithUntil(t *testing.T) {
	node, _ := countUntilNode(t, 3)
	restored := roundTrip(t, node)
	require.True(t, restored.Until())

	init := restored.OuterInputs()[0]
	result := runScan(t, restored, ParamsMap{init: tensors.FromFlatAndDimensions([]int64{0}, 1)})
	assert.Equal(t, []int64{1, 2, 3, 4}, tensors.FlatOf[int64](result.Outputs[0]))
	assert.True(t, result.EarlyStopped)
}

func TestSerializeWithPreludes(t *testing.T) {
	node, seq, init, w0, w1 := scaledSumNode(t)
	hoisted, applied := HoistInvariant(node)
	require.True(t, applied)

	restored := roundTrip(t, hoisted)
	require.Len(t, restored.preludes, 1)
	assert.Equal(t, hoisted.preludes[0].args, restored.preludes[0].args)
	assert.Equal(t, hoisted.preludes[0].target, restored.preludes[0].target)

	// Execute with the restored node's own values, same canonical positions.
	in := restored.OuterInputs()
	result := runScan(t, restored, ParamsMap{
		in[0]: tensors.FromValue([]float64{1, 2, 3, 4}),
		in[1]: tensors.FromFlatAndDimensions([]float64{0}, 1),
		in[2]: tensors.FromScalar(2.0),
		in[3]: tensors.FromScalar(3.0),
	})
	want := runScan(t, node, scaledSumParams(seq, init, w0, w1))
	assert.True(t, want.Outputs[0].Equal(result.Outputs[0]))
}

func TestSerializeDonatable(t *testing.T) {
	node, init := fibNode(t)
	marked, applied := MarkInplace(node, map[*Value]bool{init: true})
	require.True(t, applied)
	restored := roundTrip(t, marked)
	assert.Equal(t, marked.donatable, restored.donatable)
}
