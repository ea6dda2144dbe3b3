// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// scan_inspect prints the anatomy of a scan loop: its variable roles, connectivity
// matrices, buffer plan and (optionally) the result of executing it on sample inputs.
//
// It ships a few built-in demo loops, selected by the positional argument:
//
//	scan_inspect -roles -connectivity cumsum
//	scan_inspect -plan -last_k=2 fib
//	scan_inspect -run until
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/scan/graph"
	"github.com/gomlx/scan/scan"
	"github.com/gomlx/scan/types/shapes"
	"github.com/gomlx/scan/types/tensors"
	"github.com/gomlx/scan/types/xslices"
	"github.com/muesli/termenv"
	"k8s.io/klog/v2"
)

var (
	flagRoles        = flag.Bool("roles", false, "Display the variable role classification table.")
	flagConnectivity = flag.Bool("connectivity", false, "Display the inner and outer connectivity matrices.")
	flagPlan         = flag.Bool("plan", false, "Display the buffer plan and its memory estimate.")
	flagRun          = flag.Bool("run", false, "Execute the loop on its sample inputs and display the outputs.")
	flagLastK        = flag.Int("last_k", 0, "Plan buffers keeping only the last K timesteps of every output (0 keeps everything).")
	flagParallelism  = flag.Int("parallelism", 1, "Workers for iteration-parallel execution (independent loops only).")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	args := flag.Args()
	if len(args) != 1 {
		klog.Errorf("Expected one demo loop name (%s). See 'scan_inspect -help'.", strings.Join(demoNames(), ", "))
		os.Exit(1)
	}
	build, found := demos[args[0]]
	if !found {
		klog.Errorf("Unknown demo loop %q, pick one of: %s", args[0], strings.Join(demoNames(), ", "))
		os.Exit(1)
	}
	if !(*flagRoles || *flagConnectivity || *flagPlan || *flagRun) {
		*flagRoles, *flagConnectivity, *flagPlan = true, true, true
	}
	report(build())
}

// demo is a built-in loop plus the sample inputs to execute it with.
type demo struct {
	node   *scan.Node
	params scan.ParamsMap
}

var demos = map[string]func() *demo{
	"cumsum": cumsumDemo,
	"fib":    fibDemo,
	"until":  untilDemo,
}

func demoNames() []string {
	return xslices.SortedKeys(demos)
}

// cumsumDemo: out_t = x_t + out_{t-1} over a small float64 sequence.
func cumsumDemo() *demo {
	body := graph.New("cumsum-body")
	xt := body.Parameter("x_t", shapes.Scalar[float64]())
	acc := body.Parameter("acc", shapes.Scalar[float64]())
	body.Return(graph.Add(xt, acc))

	seq := scan.NewValue("x", shapes.Make(dtypes.Float64, 8))
	init := scan.NewValue("acc0", shapes.Make(dtypes.Float64, 1))
	node, err := scan.New("cumsum", body, scan.Config{
		Sequences:   []*scan.Value{seq},
		Inits:       []*scan.Value{init},
		Recurrences: []scan.TapSpec{{InputTaps: []int{-1}}},
	})
	if err != nil {
		klog.Fatalf("building cumsum demo: %+v", err)
	}
	return &demo{node: node, params: scan.ParamsMap{
		seq:  tensors.FromValue(xslices.Iota(1.0, 8)),
		init: tensors.FromFlatAndDimensions([]float64{0}, 1),
	}}
}

// fibDemo: the two-tap Fibonacci recurrence, 10 steps from {0, 1}.
func fibDemo() *demo {
	body := graph.New("fib-body")
	f2 := body.Parameter("f_t-2", shapes.Scalar[int64]())
	f1 := body.Parameter("f_t-1", shapes.Scalar[int64]())
	body.Return(graph.Add(f2, f1))

	init := scan.NewValue("fib0", shapes.Make(dtypes.Int64, 2))
	node, err := scan.New("fib", body, scan.Config{
		Inits:       []*scan.Value{init},
		Recurrences: []scan.TapSpec{{InputTaps: []int{-2, -1}}},
		NumSteps:    10,
	})
	if err != nil {
		klog.Fatalf("building fib demo: %+v", err)
	}
	return &demo{node: node, params: scan.ParamsMap{
		init: tensors.FromFlatAndDimensions([]int64{0, 1}, 2),
	}}
}

// untilDemo: doubles a value each step, stopping early once it exceeds 1000.
func untilDemo() *demo {
	body := graph.New("double-body")
	acc := body.Parameter("acc", shapes.Scalar[int64]())
	next := graph.Mul(acc, graph.Scalar(body, int64(2)))
	body.Return(next, graph.GreaterThan(next, graph.Scalar(body, int64(1000))))

	init := scan.NewValue("acc0", shapes.Make(dtypes.Int64, 1))
	node, err := scan.New("double", body, scan.Config{
		Inits:       []*scan.Value{init},
		Recurrences: []scan.TapSpec{{InputTaps: []int{-1}}},
		NumSteps:    100,
		Until:       true,
	})
	if err != nil {
		klog.Fatalf("building until demo: %+v", err)
	}
	return &demo{node: node, params: scan.ParamsMap{
		init: tensors.FromFlatAndDimensions([]int64{1}, 1),
	}}
}

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)
	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 0, 4)
)

func newPlainTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if withHeader && row == 1 {
				s = headerRowStyle
				return
			}
			switch {
			case row%2 == 0:
				s = oddRowStyle
			default:
				s = evenRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Right)
			} else {
				s = s.Align(lipgloss.Left)
			}
			return
		})
}

func title(out *termenv.Output, format string, args ...any) {
	fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf(format, args...)))
}

func report(d *demo) {
	out := termenv.NewOutput(os.Stdout)
	node := d.node
	title(out, "Scan %q: %d steps, body with %d nodes", node.Name(), node.StaticSteps(), node.Body().NumNodes())

	if *flagRoles {
		reportRoles(out, node)
	}
	if *flagConnectivity {
		reportConnectivity(out, node)
	}
	usage := planUsage(node)
	if *flagPlan {
		reportPlan(out, node, usage)
	}
	if *flagRun {
		reportRun(out, d, usage)
	}
}

// planUsage translates -last_k into per-output usage, nil meaning keep everything.
func planUsage(node *scan.Node) []scan.OutputUsage {
	if *flagLastK <= 0 {
		return nil
	}
	usage := make([]scan.OutputUsage, len(node.OuterOutputs()))
	for o := range usage {
		usage[o] = scan.OutputUsage{LastK: *flagLastK}
	}
	return usage
}

func reportRoles(out *termenv.Output, node *scan.Node) {
	title(out, "Roles")
	table := newPlainTable(true)
	table.Row("Variable", "Kind", "Outer In", "Outer Out", "Inner Ins", "Inner Outs", "Taps")
	for _, role := range node.Roles() {
		var name string
		if role.OuterInput != scan.NoCorrespondence {
			name = node.OuterInputs()[role.OuterInput].String()
		} else {
			name = node.OuterOutputs()[role.OuterOutput].String()
		}
		taps := "-"
		if len(role.InputTaps) > 0 {
			taps = fmt.Sprint(role.InputTaps)
			if len(role.OutputTaps) > 0 {
				taps += " / " + fmt.Sprint(role.OutputTaps)
			}
		}
		table.Row(name, role.Kind.String(),
			position(role.OuterInput), position(role.OuterOutput),
			fmt.Sprint(role.InnerInputs), fmt.Sprint(role.InnerOutputs), taps)
	}
	fmt.Fprintln(out, table.Render())
}

func position(p int) string {
	if p == scan.NoCorrespondence {
		return "-"
	}
	return fmt.Sprint(p)
}

func reportConnectivity(out *termenv.Output, node *scan.Node) {
	title(out, "Outer connectivity (inputs x outputs)")
	conn := node.Connectivity()
	table := newPlainTable(true)
	header := []string{"Input"}
	for o := range node.OuterOutputs() {
		header = append(header, fmt.Sprintf("out #%d", o))
	}
	table.Row(header...)
	for i, input := range node.OuterInputs() {
		row := []string{input.Name()}
		for o := range node.OuterOutputs() {
			if conn.OuterConnected(i, o) {
				row = append(row, "X")
			} else {
				row = append(row, ".")
			}
		}
		table.Row(row...)
	}
	fmt.Fprintln(out, table.Render())
}

func reportPlan(out *termenv.Output, node *scan.Node, usage []scan.OutputUsage) {
	plan := scan.PlanBuffers(node, usage)
	title(out, "Buffer plan (~%s)", humanize.Bytes(uint64(plan.MemoryEstimate())))
	table := newPlainTable(true)
	table.Row("Output", "Window")
	for o, value := range node.OuterOutputs() {
		window := "all"
		if w := plan.Window(o); w != scan.WindowAll {
			window = fmt.Sprintf("last %d", w)
		}
		table.Row(value.Name(), window)
	}
	fmt.Fprintln(out, table.Render())
}

func reportRun(out *termenv.Output, d *demo, usage []scan.OutputUsage) {
	exec := scan.NewExec(d.node).SetUsage(usage).SetParallelism(*flagParallelism)
	result, err := exec.Run(d.params)
	if err != nil {
		klog.Fatalf("executing %q: %+v", d.node.Name(), err)
	}
	title(out, "Run: %d steps (earlyStopped=%v, truncated=%v)", result.Steps, result.EarlyStopped, result.Truncated)
	table := newPlainTable(true)
	table.Row("Output", "Values")
	for o, tensor := range result.Outputs {
		table.Row(d.node.OuterOutputs()[o].Name(), tensor.String())
	}
	fmt.Fprintln(out, table.Render())
}
