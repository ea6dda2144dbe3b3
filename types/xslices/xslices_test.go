package xslices

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMap(t *testing.T) {
	count := 17
	in := make([]int, count)
	for ii := 0; ii < count; ii++ {
		in[ii] = ii
	}
	out := Map(in, func(v int) int32 { return int32(v + 1) })
	for ii := 0; ii < count; ii++ {
		assert.Equalf(t, int32(ii+1), out[ii], "element %d doesn't match", ii)
	}

	indexed := MapIndexed(in, func(ii, v int) int { return ii + v })
	assert.Equal(t, 2*(count-1), Last(indexed))
}

func TestAtAndLast(t *testing.T) {
	slice := []int{0, 1, 2, 3, 4, 5}
	assert.Equal(t, 5, At(slice, -1))
	assert.Equal(t, 4, At(slice, -2))
	assert.Equal(t, 0, At(slice, 0))
	assert.Equal(t, 5, Last(slice))
	err := exceptions.Try(func() { At(slice, -7) })
	require.NotNil(t, err)
}

func TestSliceWithValue(t *testing.T) {
	s := SliceWithValue(4, 3.0)
	assert.Equal(t, []float64{3, 3, 3, 3}, s)
}

func TestIota(t *testing.T) {
	assert.Equal(t, []int{2, 3, 4}, Iota(2, 3))
	assert.Equal(t, []float32{0, 1, 2, 3}, Iota(float32(0), 4))
}

func TestKeep(t *testing.T) {
	in := []int{0, 1, 2, 3, 4, 5}
	out := Keep(in, func(e int) bool { return e%2 == 0 })
	assert.Equal(t, []int{0, 2, 4}, out)
}

func TestSortedKeys(t *testing.T) {
	m := map[string]int{"fib": 2, "cumsum": 1, "until": 3}
	assert.Equal(t, []string{"cumsum", "fib", "until"}, SortedKeys(m))
	assert.Empty(t, SortedKeys(map[int]bool{}))
}
