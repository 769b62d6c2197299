package engine

import (
	"math"
	"math/rand"
	"testing"

	"github.com/FlavioCFOliveira/admmnet/internal/activations"
	"github.com/FlavioCFOliveira/admmnet/internal/device"
	"github.com/FlavioCFOliveira/admmnet/internal/net"
	"github.com/FlavioCFOliveira/admmnet/internal/shape"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"
)

var smallArch = net.Arch{
	Conv1Channels: 2,
	Conv2Channels: 3,
	KernelSize:    3,
	PoolSize:      2,
	PoolStride:    2,
	Hidden:        4,
	Classes:       3,
}

func openDevice(t *testing.T) *device.Device {
	t.Helper()
	dev, err := device.Open(0)
	if err != nil {
		t.Fatal(err)
	}
	return dev
}

func smallModel(t *testing.T, seed int64) *net.LeNet {
	t.Helper()
	m, err := net.New(smallArch, 1, 10, 10)
	if err != nil {
		t.Fatal(err)
	}
	m.Randomize(rand.New(rand.NewSource(seed)))
	return m
}

func randomBatch(rng *rand.Rand, batch, perSample, classes int) ([]float32, []float32) {
	images := make([]float32, batch*perSample)
	for i := range images {
		images[i] = rng.Float32()
	}
	labels := make([]float32, batch)
	for i := range labels {
		labels[i] = float32(rng.Intn(classes))
	}
	return images, labels
}

func newContext(t *testing.T, m *net.LeNet, batch int, mode AlgoMode) *Context {
	t.Helper()
	ctx, err := NewContext(openDevice(t), NewWorkspace(), m, batch, Options{ConvAlgo: mode})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ctx.Close() })
	return ctx
}

func toFloat64(xs []float32) []float64 {
	out := make([]float64, len(xs))
	for i, v := range xs {
		out[i] = float64(v)
	}
	return out
}

func TestContextShapes(t *testing.T) {
	m, err := net.New(net.DefaultArch, 1, 28, 28)
	if err != nil {
		t.Fatal(err)
	}
	ctx := newContext(t, m, 64, AlgoAuto)

	want := map[Buffer]shape.Tensor4D{
		Data:       {N: 64, C: 1, H: 28, W: 28},
		Conv1Out:   {N: 64, C: 20, H: 24, W: 24},
		Pool1Out:   {N: 64, C: 20, H: 12, W: 12},
		Conv2Out:   {N: 64, C: 50, H: 8, W: 8},
		Pool2Out:   {N: 64, C: 50, H: 4, W: 4},
		FC1Out:     {N: 64, C: 500, H: 1, W: 1},
		SoftmaxOut: {N: 64, C: 10, H: 1, W: 1},
	}
	for b, s := range want {
		if ctx.Shapes[b] != s {
			t.Errorf("shape of %s = %s, want %s", b, ctx.Shapes[b], s)
		}
	}
	if ctx.Conv1.Data != AlgoNone {
		t.Errorf("conv1 data algorithm = %s, want none", ctx.Conv1.Data)
	}
}

func TestNewContextRejectsBadBatch(t *testing.T) {
	m := smallModel(t, 1)
	if _, err := NewContext(openDevice(t), NewWorkspace(), m, 0, Options{}); err == nil {
		t.Error("expected error for batch 0")
	}
}

func TestSoftmaxRowsSumToOne(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	for _, seed := range []int64{1, 2, 3} {
		m := smallModel(t, seed)
		ctx := newContext(t, m, 4, AlgoAuto)
		images, labels := randomBatch(rng, 4, 100, smallArch.Classes)
		ctx.LoadBatch(images, labels)
		ctx.Forward(m.Params())
		probs := ctx.Probabilities()
		for n := 0; n < 4; n++ {
			sum := floats.Sum(toFloat64(probs[n*3 : (n+1)*3]))
			if !scalar.EqualWithinAbs(sum, 1, 1e-5) {
				t.Errorf("seed %d row %d sums to %v", seed, n, sum)
			}
		}
	}
}

func TestSoftmaxKnownValues(t *testing.T) {
	probs := make([]float32, 2)
	activations.Softmax{}.Forward(probs, []float32{2, 1}, 2)
	if !floats.EqualApprox(toFloat64(probs), []float64{0.731, 0.269}, 1e-3) {
		t.Errorf("softmax([2 1]) = %v", probs)
	}

	seed := make([]float32, 2)
	LossSeed(seed, probs, []float32{0}, 2)
	if !floats.EqualApprox(toFloat64(seed), []float64{-0.269, 0.269}, 1e-3) {
		t.Errorf("seed = %v, want [-0.269 0.269]", seed)
	}
}

func TestLossSeedScalesByBatch(t *testing.T) {
	probs := []float32{0.5, 0.5, 0.25, 0.75}
	seed := make([]float32, 4)
	LossSeed(seed, probs, []float32{1, 0}, 2)
	want := []float64{0.25, -0.25, -0.375, 0.375}
	if !floats.EqualApprox(toFloat64(seed), want, 1e-6) {
		t.Errorf("seed = %v, want %v", seed, want)
	}
}

func TestConvOfOnes(t *testing.T) {
	for _, algo := range []ConvAlgo{AlgoDirect, AlgoGEMM} {
		in := shape.Tensor4D{N: 2, C: 1, H: 5, W: 5}
		out, err := shape.Conv(in, 2, 3)
		if err != nil {
			t.Fatal(err)
		}
		x := make([]float32, in.Len())
		for i := range x {
			x[i] = 1
		}
		var p net.ParamSet
		p[net.Conv1] = make([]float32, 2*3*3)
		for i := range p[net.Conv1] {
			p[net.Conv1][i] = 0.1
		}
		p[net.Conv1Bias] = make([]float32, 2)

		conv := &convStage{name: "conv", in: in, out: out, k: 3, w: net.Conv1, b: net.Conv1Bias,
			algos: ConvAlgos{Forward: algo, Filter: algo},
			x: x, y: make([]float32, out.Len())}
		ws := NewWorkspace()
		ws.Ensure(conv.WorkspaceSize())
		conv.Forward(p, ws)

		if len(conv.y) != 2*2*3*3 {
			t.Fatalf("%s: conv output has %d values, want 36", algo, len(conv.y))
		}
		for n := 0; n < 2; n++ {
			for i, v := range conv.y[n*out.PerSample() : (n+1)*out.PerSample()] {
				if math.Abs(float64(v)-0.9) > 1e-5 {
					t.Fatalf("%s: sample %d conv[%d] = %v, want 0.9", algo, n, i, v)
				}
			}
		}

		pooled, _ := shape.Pool(out, 2)
		pool := &poolStage{name: "pool", in: out, out: pooled, size: 2, stride: 2,
			x: conv.y, y: make([]float32, pooled.Len())}
		pool.Forward(p, ws)
		if pooled.N != 2 || pooled.H != 1 || pooled.W != 1 {
			t.Fatalf("pooled shape %s, want 2 samples of 1x1", pooled)
		}
		for i, v := range pool.y {
			if math.Abs(float64(v)-0.9) > 1e-5 {
				t.Errorf("%s: sample %d channel %d pooled = %v, want 0.9", algo, i/2, i%2, v)
			}
		}
	}
}

func TestPoolBackwardRoutesToMax(t *testing.T) {
	in := shape.Tensor4D{N: 1, C: 1, H: 2, W: 2}
	out := shape.Tensor4D{N: 1, C: 1, H: 1, W: 1}
	pool := &poolStage{name: "pool", in: in, out: out, size: 2, stride: 2,
		x: []float32{1, 7, 7, 3}, y: make([]float32, 1),
		dx: []float32{9, 9, 9, 9}, dy: []float32{2}}
	pool.Forward(net.ParamSet{}, nil)
	pool.Backward(net.ParamSet{}, net.ParamSet{}, nil)

	if pool.y[0] != 7 {
		t.Errorf("max = %v, want 7", pool.y[0])
	}
	want := []float32{0, 2, 0, 0}
	for i := range want {
		if pool.dx[i] != want[i] {
			t.Errorf("dx = %v, want %v", pool.dx, want)
			break
		}
	}
}

func TestReLUBackwardGates(t *testing.T) {
	r := &reluStage{name: "relu",
		x: []float32{-1, 0, 2}, y: make([]float32, 3),
		dx: make([]float32, 3), dy: []float32{5, 5, 5}}
	r.Forward(net.ParamSet{}, nil)
	r.Backward(net.ParamSet{}, net.ParamSet{}, nil)
	if r.y[0] != 0 || r.y[2] != 2 {
		t.Errorf("y = %v", r.y)
	}
	if r.dx[0] != 0 || r.dx[1] != 0 || r.dx[2] != 5 {
		t.Errorf("dx = %v, want [0 0 5]", r.dx)
	}
}

func runStep(ctx *Context, p net.ParamSet, images, labels []float32) net.ParamSet {
	ctx.LoadBatch(images, labels)
	ctx.Forward(p)
	ctx.Backward(p)
	ctx.Synchronize()
	return ctx.Grads.Clone()
}

func TestGEMMMatchesDirect(t *testing.T) {
	m := smallModel(t, 9)
	images, labels := randomBatch(rand.New(rand.NewSource(9)), 3, 100, smallArch.Classes)

	gemm := newContext(t, m, 3, ForceGEMM)
	direct := newContext(t, m, 3, ForceDirect)
	if gemm.WorkspaceSize() == 0 {
		t.Fatal("GEMM context reports no workspace")
	}
	if direct.WorkspaceSize() != 0 {
		t.Errorf("direct context workspace = %d, want 0", direct.WorkspaceSize())
	}

	gg := runStep(gemm, m.Params(), images, labels)
	gd := runStep(direct, m.Params(), images, labels)

	if !floats.EqualApprox(toFloat64(gemm.Probabilities()), toFloat64(direct.Probabilities()), 1e-5) {
		t.Error("forward outputs differ between algorithms")
	}
	for i := range gg {
		if !floats.EqualApprox(toFloat64(gg[i]), toFloat64(gd[i]), 1e-4) {
			t.Errorf("%s gradient differs between algorithms", net.Tensor(i))
		}
	}
}

func TestBackwardDoesNotAccumulate(t *testing.T) {
	m := smallModel(t, 4)
	ctx := newContext(t, m, 2, AlgoAuto)
	images, labels := randomBatch(rand.New(rand.NewSource(4)), 2, 100, smallArch.Classes)

	first := runStep(ctx, m.Params(), images, labels)
	second := runStep(ctx, m.Params(), images, labels)
	for i := range first {
		if !floats.Equal(toFloat64(first[i]), toFloat64(second[i])) {
			t.Errorf("%s gradient changed on repeat", net.Tensor(i))
		}
	}
}

func TestGradientMatchesFiniteDifference(t *testing.T) {
	for _, mode := range []AlgoMode{ForceGEMM, ForceDirect} {
		m := smallModel(t, 21)
		ctx := newContext(t, m, 2, mode)
		images, labels := randomBatch(rand.New(rand.NewSource(21)), 2, 100, smallArch.Classes)
		p := m.Params()

		grads := runStep(ctx, p, images, labels)

		loss := func() float64 {
			ctx.Forward(p)
			return ctx.Loss()
		}

		const eps = 1e-3
		for ti := range p {
			for _, i := range []int{0, len(p[ti]) / 2, len(p[ti]) - 1} {
				orig := p[ti][i]
				p[ti][i] = orig + eps
				plus := loss()
				p[ti][i] = orig - eps
				minus := loss()
				p[ti][i] = orig

				numeric := (plus - minus) / (2 * eps)
				analytic := float64(grads[ti][i])
				if math.Abs(numeric-analytic) > 2e-3+5e-2*math.Abs(analytic) {
					t.Errorf("%s: d/d%s[%d] analytic %v numeric %v", mode, net.Tensor(ti), i, analytic, numeric)
				}
			}
		}
	}
}

func TestPredictGrowsSharedWorkspace(t *testing.T) {
	m := smallModel(t, 2)
	dev := openDevice(t)
	ws := NewWorkspace()

	train, err := NewContext(dev, ws, m, 8, Options{ConvAlgo: ForceDirect})
	if err != nil {
		t.Fatal(err)
	}
	defer train.Close()
	if ws.Size() != 0 {
		t.Fatalf("workspace = %d after direct context", ws.Size())
	}

	eval, err := NewContext(dev, ws, m, 1, Options{ConvAlgo: ForceGEMM})
	if err != nil {
		t.Fatal(err)
	}
	defer eval.Close()
	if ws.Size() < eval.WorkspaceSize() || ws.Size() == 0 {
		t.Errorf("workspace = %d, eval needs %d", ws.Size(), eval.WorkspaceSize())
	}

	image, _ := randomBatch(rand.New(rand.NewSource(2)), 1, 100, smallArch.Classes)
	pred := eval.Predict(m.Params(), image)
	if len(pred) != 1 || pred[0] < 0 || pred[0] >= smallArch.Classes {
		t.Errorf("Predict = %v", pred)
	}
}

func TestWorkspaceSingleOwner(t *testing.T) {
	ws := NewWorkspace()
	ws.Ensure(16)
	ws.Acquire("first", 8)
	defer func() {
		if recover() == nil {
			t.Error("expected panic on second Acquire")
		}
	}()
	ws.Acquire("second", 8)
}

func TestParseAlgoMode(t *testing.T) {
	for in, want := range map[string]AlgoMode{"": AlgoAuto, "auto": AlgoAuto, "gemm": ForceGEMM, "direct": ForceDirect} {
		got, err := ParseAlgoMode(in)
		if err != nil || got != want {
			t.Errorf("ParseAlgoMode(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseAlgoMode("winograd"); err == nil {
		t.Error("expected error for unknown algorithm")
	}
}
