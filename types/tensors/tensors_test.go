package tensors

import (
	"bytes"
	"encoding/gob"
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/scan/types/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromFlatAndDimensions(t *testing.T) {
	tensor := FromFlatAndDimensions([]float64{1, 2, 3, 4, 5, 6}, 2, 3)
	assert.Equal(t, "(Float64)[2 3]", tensor.Shape().String())
	assert.Equal(t, 6, tensor.Size())
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, FlatOf[float64](tensor))

	err := exceptions.Try(func() { FromFlatAndDimensions([]float64{1, 2, 3}, 2, 2) })
	require.NotNil(t, err, "flat size mismatch must panic")
}

func TestScalarAndValue(t *testing.T) {
	s := FromScalar(int32(7))
	assert.True(t, s.Shape().IsScalar())
	assert.Equal(t, int32(7), ScalarValue[int32](s))

	v := FromValue([]float32{1, 2, 3})
	assert.Equal(t, []int{3}, v.Shape().Dimensions)
}

func TestRowSharesStorage(t *testing.T) {
	tensor := FromFlatAndDimensions([]float64{1, 2, 3, 4, 5, 6}, 3, 2)
	row := tensor.Row(1)
	assert.Equal(t, []float64{3, 4}, FlatOf[float64](row))

	// Writing through the row view must be visible in the parent.
	FlatOf[float64](row)[0] = 30
	assert.Equal(t, []float64{1, 2, 30, 4, 5, 6}, FlatOf[float64](tensor))

	// And SetRow writes through.
	tensor.SetRow(2, FromValue([]float64{50, 60}))
	assert.Equal(t, []float64{50, 60}, FlatOf[float64](tensor.Row(2)))

	err := exceptions.Try(func() { tensor.Row(3) })
	require.NotNil(t, err)
}

func TestCloneIsDeep(t *testing.T) {
	tensor := FromValue([]int64{1, 2, 3})
	clone := tensor.Clone()
	FlatOf[int64](clone)[0] = 100
	assert.Equal(t, int64(1), FlatOf[int64](tensor)[0])
	assert.False(t, tensor.Equal(clone))
	clone.CopyFrom(tensor)
	assert.True(t, tensor.Equal(clone))
}

func TestStack(t *testing.T) {
	a := FromValue([]float64{1, 2})
	b := FromValue([]float64{3, 4})
	c := FromValue([]float64{5, 6})
	stacked := Stack([]*Tensor{a, b, c})
	assert.Equal(t, []int{3, 2}, stacked.Shape().Dimensions)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, FlatOf[float64](stacked))

	scalars := Stack([]*Tensor{FromScalar(1.0), FromScalar(2.0)})
	assert.Equal(t, []int{2}, scalars.Shape().Dimensions)

	// Rows is the inverse view: axis-0 slices sharing the stacked storage.
	rows := stacked.Rows()
	require.Len(t, rows, 3)
	assert.True(t, rows[1].Equal(b))
	FlatOf[float64](rows[0])[0] = -1
	assert.Equal(t, float64(-1), FlatOf[float64](stacked)[0])

	err := exceptions.Try(func() { Stack([]*Tensor{a, FromValue([]float64{1, 2, 3})}) })
	require.NotNil(t, err, "stacking mismatched shapes must panic")
}

func TestFromShapeZeros(t *testing.T) {
	tensor := FromShape(shapes.Make(dtypes.Int32, 2, 2))
	assert.Equal(t, []int32{0, 0, 0, 0}, FlatOf[int32](tensor))
}

func TestGobRoundTrip(t *testing.T) {
	tensor := FromFlatAndDimensions([]float32{1, 2, 3, 4}, 2, 2)
	var buf bytes.Buffer
	require.NoError(t, tensor.GobSerialize(gob.NewEncoder(&buf)))
	recovered, err := GobDeserialize(gob.NewDecoder(&buf))
	require.NoError(t, err)
	assert.True(t, tensor.Equal(recovered))
}
