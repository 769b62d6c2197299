package engine

import (
	"github.com/FlavioCFOliveira/admmnet/internal/net"
	"github.com/FlavioCFOliveira/admmnet/internal/shape"
)

// poolStage is max pooling with a square window. Windows that run past
// the input edge are clipped.
type poolStage struct {
	name         string
	in, out      shape.Tensor4D
	size, stride int

	x, y   []float32
	dx, dy []float32
}

func (s *poolStage) Name() string       { return s.name }
func (s *poolStage) WorkspaceSize() int { return 0 }

// argmax returns the flat index in x of the first maximum of the window
// for output (plane, oh, ow).
func (s *poolStage) argmax(plane, oh, ow int) int {
	base := plane * s.in.H * s.in.W
	h0, w0 := oh*s.stride, ow*s.stride
	h1, w1 := min(h0+s.size, s.in.H), min(w0+s.size, s.in.W)

	best := base + h0*s.in.W + w0
	for h := h0; h < h1; h++ {
		for w := w0; w < w1; w++ {
			idx := base + h*s.in.W + w
			if s.x[idx] > s.x[best] {
				best = idx
			}
		}
	}
	return best
}

func (s *poolStage) Forward(_ net.ParamSet, _ *Workspace) {
	checkLen(s.name, "input", s.x, s.in.Len())
	planes := s.in.N * s.in.C
	i := 0
	for p := 0; p < planes; p++ {
		for oh := 0; oh < s.out.H; oh++ {
			for ow := 0; ow < s.out.W; ow++ {
				s.y[i] = s.x[s.argmax(p, oh, ow)]
				i++
			}
		}
	}
}

// Backward routes each output gradient to the position that won the
// forward maximum. The argmax is recomputed from the saved input.
func (s *poolStage) Backward(_, _ net.ParamSet, _ *Workspace) {
	clear(s.dx)
	planes := s.in.N * s.in.C
	i := 0
	for p := 0; p < planes; p++ {
		for oh := 0; oh < s.out.H; oh++ {
			for ow := 0; ow < s.out.W; ow++ {
				s.dx[s.argmax(p, oh, ow)] += s.dy[i]
				i++
			}
		}
	}
}
