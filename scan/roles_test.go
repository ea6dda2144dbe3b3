package scan

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/scan/graph"
	"github.com/gomlx/scan/types/shapes"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyCumsum(t *testing.T) {
	node, _, _ := cumsumNode(t)
	roles := node.Roles()
	require.Len(t, roles, 2)

	assert.Equal(t, RoleSequence, roles[0].Kind)
	assert.Equal(t, 0, roles[0].OuterInput)
	assert.Equal(t, NoCorrespondence, roles[0].OuterOutput)
	assert.Equal(t, []int{0}, roles[0].InnerInputs)

	assert.Equal(t, RoleSitsot, roles[1].Kind)
	assert.Equal(t, 1, roles[1].OuterInput)
	assert.Equal(t, 0, roles[1].OuterOutput)
	assert.Equal(t, []int{1}, roles[1].InnerInputs)
	assert.Equal(t, []int{0}, roles[1].InnerOutputs)
	assert.Equal(t, 1, roles[1].TapDepth())
	assert.True(t, roles[1].IsRecurrent())
}

func TestClassifyFibonacci(t *testing.T) {
	node, _ := fibNode(t)
	roles := node.Roles()
	require.Len(t, roles, 1)
	assert.Equal(t, RoleMitsot, roles[0].Kind)
	assert.Equal(t, []int{-2, -1}, roles[0].InputTaps)
	assert.Equal(t, 2, roles[0].TapDepth())
	assert.Equal(t, []int{0, 1}, roles[0].InnerInputs)
}

func TestClassifyKinds(t *testing.T) {
	assert.Equal(t, RoleNitsot, kindOfTaps(TapSpec{}))
	assert.Equal(t, RoleSitsot, kindOfTaps(TapSpec{InputTaps: []int{-1}}))
	assert.Equal(t, RoleMitsot, kindOfTaps(TapSpec{InputTaps: []int{-3}}))
	assert.Equal(t, RoleMitsot, kindOfTaps(TapSpec{InputTaps: []int{-2, -1}}))
	assert.Equal(t, RoleMitmot, kindOfTaps(TapSpec{InputTaps: []int{-1}, OutputTaps: []int{0, 1}}))
}

// sitsotBody returns a frozen one-parameter identity-ish body used by the malformed
// declaration tests.
func sitsotBody() *graph.Graph {
	body := graph.New("body")
	acc := body.Parameter("acc", shapes.Scalar[float64]())
	body.Return(graph.Add(acc, graph.Scalar(body, 1.0)))
	return body
}

func TestClassifyMalformed(t *testing.T) {
	init := NewValue("init", shapes.Make(dtypes.Float64, 1))

	t.Run("non-negative input tap", func(t *testing.T) {
		_, err := New("bad", sitsotBody(), Config{
			Inits:       []*Value{init},
			Recurrences: []TapSpec{{InputTaps: []int{0}}},
			NumSteps:    3,
		})
		require.ErrorIs(t, err, ErrMalformedTap)
	})

	t.Run("descending input taps", func(t *testing.T) {
		_, err := New("bad", sitsotBody(), Config{
			Inits:       []*Value{init},
			Recurrences: []TapSpec{{InputTaps: []int{-1, -2}}},
			NumSteps:    3,
		})
		require.ErrorIs(t, err, ErrMalformedTap)
	})

	t.Run("output taps without input taps", func(t *testing.T) {
		_, err := New("bad", sitsotBody(), Config{
			Recurrences: []TapSpec{{OutputTaps: []int{0}}},
			NumSteps:    3,
		})
		require.ErrorIs(t, err, ErrMalformedTap)
	})

	t.Run("init count mismatch", func(t *testing.T) {
		_, err := New("bad", sitsotBody(), Config{
			Recurrences: []TapSpec{{InputTaps: []int{-1}}},
			NumSteps:    3,
		})
		require.ErrorIs(t, err, ErrMalformedTap)
	})

	t.Run("init shape mismatch", func(t *testing.T) {
		badInit := NewValue("init", shapes.Make(dtypes.Float64, 2)) // depth 2 for a -1 tap
		_, err := New("bad", sitsotBody(), Config{
			Inits:       []*Value{badInit},
			Recurrences: []TapSpec{{InputTaps: []int{-1}}},
			NumSteps:    3,
		})
		require.ErrorIs(t, err, ErrMalformedTap)
	})

	t.Run("parameter count mismatch", func(t *testing.T) {
		_, err := New("bad", sitsotBody(), Config{
			Sequences:   []*Value{NewValue("x", shapes.Make(dtypes.Float64, 4))},
			Inits:       []*Value{init},
			Recurrences: []TapSpec{{InputTaps: []int{-1}}},
		})
		require.ErrorIs(t, err, ErrMalformedTap)
	})

	t.Run("until condition not a bool scalar", func(t *testing.T) {
		body := graph.New("body")
		acc := body.Parameter("acc", shapes.Scalar[float64]())
		next := graph.Add(acc, graph.Scalar(body, 1.0))
		body.Return(next, next) // condition output is Float64, not Bool
		_, err := New("bad", body, Config{
			Inits:       []*Value{init},
			Recurrences: []TapSpec{{InputTaps: []int{-1}}},
			NumSteps:    3,
			Until:       true,
		})
		require.ErrorIs(t, err, ErrMalformedTap)
	})

	t.Run("no iteration bound", func(t *testing.T) {
		_, err := New("bad", sitsotBody(), Config{
			Inits:       []*Value{init},
			Recurrences: []TapSpec{{InputTaps: []int{-1}}},
		})
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrMalformedTap)) // a bound problem, not a tap problem
	})
}
