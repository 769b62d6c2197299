package engine

import (
	"github.com/FlavioCFOliveira/admmnet/internal/net"
	"github.com/FlavioCFOliveira/admmnet/internal/shape"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// convStage is a valid, unit-stride cross-correlation plus per-channel bias.
type convStage struct {
	name    string
	in, out shape.Tensor4D
	k       int
	w, b    net.Tensor
	algos   ConvAlgos

	x, y   []float32
	dx, dy []float32 // dx is nil when no data gradient is needed
}

func (s *convStage) Name() string { return s.name }

// colLen is the size of one unfolded sample: (inC*k*k) x (outH*outW).
func (s *convStage) colLen() int {
	return s.in.C * s.k * s.k * s.out.Spatial()
}

func (s *convStage) WorkspaceSize() int {
	if s.algos.Forward == AlgoGEMM || s.algos.Filter == AlgoGEMM || s.algos.Data == AlgoGEMM {
		return s.colLen()
	}
	return 0
}

func (s *convStage) Forward(p net.ParamSet, ws *Workspace) {
	checkLen(s.name, "input", s.x, s.in.Len())
	checkLen(s.name, "output", s.y, s.out.Len())

	if s.algos.Forward == AlgoGEMM {
		col := ws.Acquire(s.name+" forward", s.colLen())
		s.forwardGEMM(p[s.w], col)
		ws.Release()
	} else {
		s.forwardDirect(p[s.w])
	}
	addChannelBias(s.y, p[s.b], s.out)
}

func (s *convStage) Backward(p, g net.ParamSet, ws *Workspace) {
	biasGrad(g[s.b], s.dy, s.out)

	if s.algos.Filter == AlgoGEMM {
		col := ws.Acquire(s.name+" backward filter", s.colLen())
		s.filterGEMM(g[s.w], col)
		ws.Release()
	} else {
		s.filterDirect(g[s.w])
	}

	if s.dx == nil {
		return
	}
	if s.algos.Data == AlgoGEMM {
		col := ws.Acquire(s.name+" backward data", s.colLen())
		s.dataGEMM(p[s.w], col)
		ws.Release()
	} else {
		s.dataDirect(p[s.w])
	}
}

func (s *convStage) weightMatrix(w []float32) blas32.General {
	inner := s.in.C * s.k * s.k
	return blas32.General{Rows: s.out.C, Cols: inner, Stride: inner, Data: w}
}

func (s *convStage) colMatrix(col []float32) blas32.General {
	spatial := s.out.Spatial()
	return blas32.General{Rows: s.in.C * s.k * s.k, Cols: spatial, Stride: spatial, Data: col}
}

func (s *convStage) sampleMatrix(buf []float32, n int) blas32.General {
	spatial := s.out.Spatial()
	per := s.out.PerSample()
	return blas32.General{Rows: s.out.C, Cols: spatial, Stride: spatial, Data: buf[n*per : (n+1)*per]}
}

// forwardGEMM computes y_n = W * im2col(x_n) for every sample.
func (s *convStage) forwardGEMM(w, col []float32) {
	wm, cm := s.weightMatrix(w), s.colMatrix(col)
	per := s.in.PerSample()
	for n := 0; n < s.in.N; n++ {
		im2col(s.x[n*per:(n+1)*per], s.in, s.k, s.out, col)
		blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, wm, cm, 0, s.sampleMatrix(s.y, n))
	}
}

// filterGEMM computes gW = sum_n dy_n * im2col(x_n)^T. The first sample
// writes with beta 0 so nothing survives from a previous iteration.
func (s *convStage) filterGEMM(gw, col []float32) {
	gm, cm := s.weightMatrix(gw), s.colMatrix(col)
	per := s.in.PerSample()
	for n := 0; n < s.in.N; n++ {
		im2col(s.x[n*per:(n+1)*per], s.in, s.k, s.out, col)
		var beta float32
		if n > 0 {
			beta = 1
		}
		blas32.Gemm(blas.NoTrans, blas.Trans, 1, s.sampleMatrix(s.dy, n), cm, beta, gm)
	}
}

// dataGEMM computes dx_n = col2im(W^T * dy_n).
func (s *convStage) dataGEMM(w, col []float32) {
	wm, cm := s.weightMatrix(w), s.colMatrix(col)
	per := s.in.PerSample()
	for n := 0; n < s.in.N; n++ {
		blas32.Gemm(blas.Trans, blas.NoTrans, 1, wm, s.sampleMatrix(s.dy, n), 0, cm)
		col2im(col, s.in, s.k, s.out, s.dx[n*per:(n+1)*per])
	}
}

func (s *convStage) forwardDirect(w []float32) {
	clear(s.y)
	inC, outC, k := s.in.C, s.out.C, s.k
	inH, inW := s.in.H, s.in.W
	outH, outW := s.out.H, s.out.W
	inPer, outPer := s.in.PerSample(), s.out.PerSample()

	for n := 0; n < s.in.N; n++ {
		x := s.x[n*inPer : (n+1)*inPer]
		y := s.y[n*outPer : (n+1)*outPer]
		for oc := 0; oc < outC; oc++ {
			ocOut := y[oc*outH*outW : (oc+1)*outH*outW]
			for ic := 0; ic < inC; ic++ {
				wBase := (oc*inC + ic) * k * k
				inBase := ic * inH * inW
				for kh := 0; kh < k; kh++ {
					for kw := 0; kw < k; kw++ {
						wVal := w[wBase+kh*k+kw]
						for oh := 0; oh < outH; oh++ {
							row := x[inBase+(oh+kh)*inW+kw:]
							dst := ocOut[oh*outW : (oh+1)*outW]
							for ow := range dst {
								dst[ow] += wVal * row[ow]
							}
						}
					}
				}
			}
		}
	}
}

func (s *convStage) filterDirect(gw []float32) {
	clear(gw)
	inC, outC, k := s.in.C, s.out.C, s.k
	inH, inW := s.in.H, s.in.W
	outH, outW := s.out.H, s.out.W
	inPer, outPer := s.in.PerSample(), s.out.PerSample()

	for n := 0; n < s.in.N; n++ {
		x := s.x[n*inPer : (n+1)*inPer]
		dy := s.dy[n*outPer : (n+1)*outPer]
		for oc := 0; oc < outC; oc++ {
			g := dy[oc*outH*outW : (oc+1)*outH*outW]
			for ic := 0; ic < inC; ic++ {
				wBase := (oc*inC + ic) * k * k
				inBase := ic * inH * inW
				for kh := 0; kh < k; kh++ {
					for kw := 0; kw < k; kw++ {
						var sum float32
						for oh := 0; oh < outH; oh++ {
							row := x[inBase+(oh+kh)*inW+kw:]
							for ow := 0; ow < outW; ow++ {
								sum += g[oh*outW+ow] * row[ow]
							}
						}
						gw[wBase+kh*k+kw] += sum
					}
				}
			}
		}
	}
}

func (s *convStage) dataDirect(w []float32) {
	clear(s.dx)
	inC, outC, k := s.in.C, s.out.C, s.k
	inH, inW := s.in.H, s.in.W
	outH, outW := s.out.H, s.out.W
	inPer, outPer := s.in.PerSample(), s.out.PerSample()

	for n := 0; n < s.in.N; n++ {
		dx := s.dx[n*inPer : (n+1)*inPer]
		dy := s.dy[n*outPer : (n+1)*outPer]
		for oc := 0; oc < outC; oc++ {
			g := dy[oc*outH*outW : (oc+1)*outH*outW]
			for ic := 0; ic < inC; ic++ {
				wBase := (oc*inC + ic) * k * k
				inBase := ic * inH * inW
				for kh := 0; kh < k; kh++ {
					for kw := 0; kw < k; kw++ {
						wVal := w[wBase+kh*k+kw]
						for oh := 0; oh < outH; oh++ {
							row := dx[inBase+(oh+kh)*inW+kw:]
							src := g[oh*outW : (oh+1)*outW]
							for ow, v := range src {
								row[ow] += wVal * v
							}
						}
					}
				}
			}
		}
	}
}

// im2col unfolds one sample into rows indexed by (c, kh, kw) and columns
// indexed by output position.
func im2col(x []float32, in shape.Tensor4D, k int, out shape.Tensor4D, col []float32) {
	spatial := out.Spatial()
	for c := 0; c < in.C; c++ {
		for kh := 0; kh < k; kh++ {
			for kw := 0; kw < k; kw++ {
				row := col[((c*k+kh)*k+kw)*spatial:]
				for oh := 0; oh < out.H; oh++ {
					src := x[c*in.H*in.W+(oh+kh)*in.W+kw:]
					copy(row[oh*out.W:(oh+1)*out.W], src[:out.W])
				}
			}
		}
	}
}

// col2im scatters an unfolded gradient back into x, overwriting it.
func col2im(col []float32, in shape.Tensor4D, k int, out shape.Tensor4D, x []float32) {
	clear(x)
	spatial := out.Spatial()
	for c := 0; c < in.C; c++ {
		for kh := 0; kh < k; kh++ {
			for kw := 0; kw < k; kw++ {
				row := col[((c*k+kh)*k+kw)*spatial:]
				for oh := 0; oh < out.H; oh++ {
					dst := x[c*in.H*in.W+(oh+kh)*in.W+kw:]
					src := row[oh*out.W : (oh+1)*out.W]
					for ow, v := range src {
						dst[ow] += v
					}
				}
			}
		}
	}
}

func addChannelBias(y, bias []float32, t shape.Tensor4D) {
	spatial := t.Spatial()
	for n := 0; n < t.N; n++ {
		for c := 0; c < t.C; c++ {
			b := bias[c]
			base := (n*t.C + c) * spatial
			for i := base; i < base+spatial; i++ {
				y[i] += b
			}
		}
	}
}

func biasGrad(gb, dy []float32, t shape.Tensor4D) {
	clear(gb)
	spatial := t.Spatial()
	for n := 0; n < t.N; n++ {
		for c := 0; c < t.C; c++ {
			base := (n*t.C + c) * spatial
			var sum float32
			for _, v := range dy[base : base+spatial] {
				sum += v
			}
			gb[c] += sum
		}
	}
}
