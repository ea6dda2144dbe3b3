package scan

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/scan/graph"
	"github.com/gomlx/scan/types/shapes"
	"github.com/gomlx/scan/types/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecCumulativeSum(t *testing.T) {
	node, seq, init := cumsumNode(t)
	result := runScan(t, node, cumsumParams(seq, init))

	assert.Equal(t, []float64{1, 3, 6, 10}, tensors.FlatOf[float64](result.Outputs[0]))
	assert.Equal(t, 4, result.Steps)
	assert.False(t, result.EarlyStopped)
	assert.False(t, result.Truncated)
}

func TestExecFibonacci(t *testing.T) {
	node, init := fibNode(t)
	result := runScan(t, node, ParamsMap{init: fibInit()})

	assert.Equal(t, []int64{1, 2, 3, 5, 8}, tensors.FlatOf[int64](result.Outputs[0]))
	assert.Equal(t, 5, result.Steps)
}

func TestExecWindowedMatchesFull(t *testing.T) {
	node, init := fibNode(t)
	full := runScan(t, node, ParamsMap{init: fibInit()})
	fullFlat := tensors.FlatOf[int64](full.Outputs[0])

	// Every bounded window must reproduce the matching tail of the full run exactly.
	// Windows reaching past the produced steps include the initial rows.
	for window := 2; window <= 8; window++ {
		exec := NewExec(node).SetForcedWindows([]int{window})
		result, err := exec.Run(ParamsMap{init: fibInit()})
		require.NoError(t, err)
		got := tensors.FlatOf[int64](result.Outputs[0])

		timeline := append([]int64{0, 1}, fullFlat...) // inits then produced steps
		want := timeline[max(0, len(timeline)-window):]
		assert.Equalf(t, want, got, "window %d", window)
	}
}

func TestExecWindowedMatchesFullWithSequence(t *testing.T) {
	node, seq, init := cumsumNode(t)
	full := runScan(t, node, cumsumParams(seq, init))
	timeline := append([]float64{0}, tensors.FlatOf[float64](full.Outputs[0])...)

	for window := 1; window <= 6; window++ {
		exec := NewExec(node).SetForcedWindows([]int{window})
		result, err := exec.Run(cumsumParams(seq, init))
		require.NoError(t, err)
		want := timeline[max(0, len(timeline)-window):]
		assert.Equalf(t, want, tensors.FlatOf[float64](result.Outputs[0]), "window %d", window)
	}
}

func TestExecPlannedWindow(t *testing.T) {
	node, init := fibNode(t)
	exec := NewExec(node).SetUsage([]OutputUsage{{LastK: 2}})
	result, err := exec.Run(ParamsMap{init: fibInit()})
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 8}, tensors.FlatOf[int64](result.Outputs[0]))
	assert.Equal(t, 5, result.Steps)
}

// countUntilNode increments a counter each step and stops once it exceeds the given
// limit, with a generous nominal bound.
func countUntilNode(t *testing.T, limit int64) (*Node, *Value) {
	body := graph.New("count-until")
	acc := body.Parameter("acc", shapes.Scalar[int64]())
	next := graph.Add(acc, graph.Scalar(body, int64(1)))
	body.Return(next, graph.GreaterThan(next, graph.Scalar(body, limit)))

	init := NewValue("acc0", shapes.Make(dtypes.Int64, 1))
	node, err := New("count", body, Config{
		Inits:       []*Value{init},
		Recurrences: []TapSpec{{InputTaps: []int{-1}}},
		NumSteps:    10,
		Until:       true,
	})
	require.NoError(t, err)
	return node, init
}

func TestExecEarlyStop(t *testing.T) {
	node, init := countUntilNode(t, 3)
	result := runScan(t, node, ParamsMap{init: tensors.FromFlatAndDimensions([]int64{0}, 1)})

	// Steps produce 1,2,3,4; 4 > 3 fires the condition on the fourth step.
	assert.Equal(t, []int64{1, 2, 3, 4}, tensors.FlatOf[int64](result.Outputs[0]))
	assert.Equal(t, 4, result.Steps)
	assert.True(t, result.EarlyStopped)
}

func TestExecEarlyStopNeverFires(t *testing.T) {
	node, init := countUntilNode(t, 100)
	result := runScan(t, node, ParamsMap{init: tensors.FromFlatAndDimensions([]int64{0}, 1)})
	assert.Equal(t, 10, result.Steps)
	assert.False(t, result.EarlyStopped)
}

func TestExecMitmot(t *testing.T) {
	// Each step reads tap -1 and writes output taps 0 and +1: the future write at t+1
	// is overwritten by the next step's tap-0 write (last writer wins), except past the
	// final step.
	body := graph.New("mitmot-body")
	acc := body.Parameter("acc", shapes.Scalar[int64]())
	body.Return(graph.Add(acc, graph.Scalar(body, int64(1))), graph.Add(acc, graph.Scalar(body, int64(2))))

	init := NewValue("acc0", shapes.Make(dtypes.Int64, 1))
	node, err := New("mitmot", body, Config{
		Inits:       []*Value{init},
		Recurrences: []TapSpec{{InputTaps: []int{-1}, OutputTaps: []int{0, 1}}},
		NumSteps:    3,
	})
	require.NoError(t, err)
	require.Equal(t, RoleMitmot, node.Roles()[0].Kind)
	require.Equal(t, 1, node.Roles()[0].MaxOutputTap())

	result := runScan(t, node, ParamsMap{init: tensors.FromFlatAndDimensions([]int64{0}, 1)})
	assert.Equal(t, []int64{1, 2, 3}, tensors.FlatOf[int64](result.Outputs[0]))
	assert.Equal(t, 3, result.Steps)
}

func TestExecSequenceTruncation(t *testing.T) {
	node, seq, init := cumsumNode(t) // declared for 4 steps
	result := runScan(t, node, ParamsMap{
		seq:  tensors.FromValue([]float64{1, 2, 3}), // fed one short
		init: tensors.FromFlatAndDimensions([]float64{0}, 1),
	})
	assert.Equal(t, []float64{1, 3, 6}, tensors.FlatOf[float64](result.Outputs[0]))
	assert.Equal(t, 3, result.Steps)
	assert.True(t, result.Truncated)
	assert.False(t, result.EarlyStopped)
}

// squareNode maps each sequence element to its square: a pure Nitsot loop with
// independent iterations.
func squareNode(t *testing.T, length int) (*Node, *Value) {
	body := graph.New("square-body")
	xt := body.Parameter("x_t", shapes.Scalar[float64]())
	body.Return(graph.Mul(xt, xt))

	seq := NewValue("x", shapes.Make(dtypes.Float64, length))
	node, err := New("square", body, Config{
		Sequences:   []*Value{seq},
		Recurrences: []TapSpec{{}},
	})
	require.NoError(t, err)
	return node, seq
}

func TestExecParallelMatchesSequential(t *testing.T) {
	const length = 100
	node, seq := squareNode(t, length)
	values := make([]float64, length)
	for ii := range values {
		values[ii] = float64(ii) - 50
	}
	input := tensors.FromValue(values)

	sequential := runScan(t, node, ParamsMap{seq: input})
	parallel, err := NewExec(node).SetParallelism(4).Run(ParamsMap{seq: input})
	require.NoError(t, err)
	assert.True(t, sequential.Outputs[0].Equal(parallel.Outputs[0]))
	assert.Equal(t, length, parallel.Steps)
}

func TestExecParallelFallsBackForRecurrences(t *testing.T) {
	node, init := fibNode(t)
	assert.False(t, NewExec(node).parallelizable())
	result, err := NewExec(node).SetParallelism(8).Run(ParamsMap{init: fibInit()})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 5, 8}, tensors.FlatOf[int64](result.Outputs[0]))
}

func TestExecInputErrors(t *testing.T) {
	node, seq, init := cumsumNode(t)

	t.Run("missing input", func(t *testing.T) {
		_, err := NewExec(node).Run(ParamsMap{seq: tensors.FromValue([]float64{1, 2, 3, 4})})
		require.Error(t, err)
		assert.Contains(t, err.Error(), init.Name())
	})

	t.Run("wrong init shape", func(t *testing.T) {
		_, err := NewExec(node).Run(ParamsMap{
			seq:  tensors.FromValue([]float64{1, 2, 3, 4}),
			init: tensors.FromValue([]float64{0, 0}),
		})
		require.Error(t, err)
	})

	t.Run("sequence longer than declared", func(t *testing.T) {
		_, err := NewExec(node).Run(ParamsMap{
			seq:  tensors.FromValue([]float64{1, 2, 3, 4, 5}),
			init: tensors.FromFlatAndDimensions([]float64{0}, 1),
		})
		require.Error(t, err)
	})
}

func TestExecBodyFailure(t *testing.T) {
	body := graph.New("div-body")
	xt := body.Parameter("x_t", shapes.Scalar[int64]())
	acc := body.Parameter("acc", shapes.Scalar[int64]())
	body.Return(graph.Div(acc, xt))

	seq := NewValue("x", shapes.Make(dtypes.Int64, 3))
	init := NewValue("acc0", shapes.Make(dtypes.Int64, 1))
	node, err := New("div", body, Config{
		Sequences:   []*Value{seq},
		Inits:       []*Value{init},
		Recurrences: []TapSpec{{InputTaps: []int{-1}}},
	})
	require.NoError(t, err)

	result, err := NewExec(node).Run(ParamsMap{
		seq:  tensors.FromValue([]int64{2, 0, 1}), // divides by zero on step 1
		init: tensors.FromFlatAndDimensions([]int64{8}, 1),
	})
	require.ErrorIs(t, err, ErrComputation)
	assert.Nil(t, result)
}
