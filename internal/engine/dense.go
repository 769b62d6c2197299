package engine

import (
	"github.com/FlavioCFOliveira/admmnet/internal/net"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// denseStage is Y = X*W^T + 1*b^T over a batch.
type denseStage struct {
	name            string
	batch           int
	inputs, outputs int
	w, b            net.Tensor

	x, y   []float32
	dx, dy []float32
	ones   []float32
}

func (s *denseStage) Name() string       { return s.name }
func (s *denseStage) WorkspaceSize() int { return 0 }

func matrix(rows, cols int, data []float32) blas32.General {
	return blas32.General{Rows: rows, Cols: cols, Stride: cols, Data: data}
}

func (s *denseStage) Forward(p net.ParamSet, _ *Workspace) {
	checkLen(s.name, "input", s.x, s.batch*s.inputs)
	y := matrix(s.batch, s.outputs, s.y)
	blas32.Gemm(blas.NoTrans, blas.Trans, 1,
		matrix(s.batch, s.inputs, s.x), matrix(s.outputs, s.inputs, p[s.w]), 0, y)
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
		matrix(s.batch, 1, s.ones), matrix(1, s.outputs, p[s.b]), 1, y)
}

func (s *denseStage) Backward(p, g net.ParamSet, _ *Workspace) {
	dy := matrix(s.batch, s.outputs, s.dy)

	// gW = dY^T * X
	blas32.Gemm(blas.Trans, blas.NoTrans, 1, dy, matrix(s.batch, s.inputs, s.x), 0,
		matrix(s.outputs, s.inputs, g[s.w]))
	// gb = dY^T * 1
	blas32.Gemv(blas.Trans, 1, dy,
		blas32.Vector{N: s.batch, Inc: 1, Data: s.ones}, 0,
		blas32.Vector{N: s.outputs, Inc: 1, Data: g[s.b]})
	// dX = dY * W
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, dy, matrix(s.outputs, s.inputs, p[s.w]), 0,
		matrix(s.batch, s.inputs, s.dx))
}
