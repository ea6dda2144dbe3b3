package scan

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/scan/graph"
	"github.com/gomlx/scan/types/shapes"
	"github.com/gomlx/scan/types/tensors"
	"github.com/stretchr/testify/require"
)

// cumsumNode builds the canonical single-tap loop: out_t = x_t + out_{t-1} over a
// 4-element float64 sequence.
func cumsumNode(t *testing.T) (node *Node, seq, init *Value) {
	body := graph.New("cumsum-body")
	xt := body.Parameter("x_t", shapes.Scalar[float64]())
	acc := body.Parameter("acc", shapes.Scalar[float64]())
	body.Return(graph.Add(xt, acc))

	seq = NewValue("x", shapes.Make(dtypes.Float64, 4))
	init = NewValue("acc0", shapes.Make(dtypes.Float64, 1))
	node, err := New("cumsum", body, Config{
		Sequences:   []*Value{seq},
		Inits:       []*Value{init},
		Recurrences: []TapSpec{{InputTaps: []int{-1}}},
	})
	require.NoError(t, err)
	return
}

func cumsumParams(seq, init *Value) ParamsMap {
	return ParamsMap{
		seq:  tensors.FromValue([]float64{1, 2, 3, 4}),
		init: tensors.FromFlatAndDimensions([]float64{0}, 1),
	}
}

// fibNode builds a two-tap recurrence: out_t = out_{t-2} + out_{t-1}, five steps from
// inits {0, 1}.
func fibNode(t *testing.T) (node *Node, init *Value) {
	body := graph.New("fib-body")
	f2 := body.Parameter("f_t-2", shapes.Scalar[int64]())
	f1 := body.Parameter("f_t-1", shapes.Scalar[int64]())
	body.Return(graph.Add(f2, f1))

	init = NewValue("fib0", shapes.Make(dtypes.Int64, 2))
	node, err := New("fib", body, Config{
		Inits:       []*Value{init},
		Recurrences: []TapSpec{{InputTaps: []int{-2, -1}}},
		NumSteps:    5,
	})
	require.NoError(t, err)
	return
}

func fibInit() *tensors.Tensor {
	return tensors.FromFlatAndDimensions([]int64{0, 1}, 2)
}

func runScan(t *testing.T, node *Node, params ParamsMap) *Result {
	result, err := NewExec(node).Run(params)
	require.NoError(t, err)
	return result
}
