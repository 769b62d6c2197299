package engine

import (
	"github.com/FlavioCFOliveira/admmnet/internal/activations"
	"github.com/FlavioCFOliveira/admmnet/internal/net"
)

// reluStage keeps the pre-activation in x so Backward can gate on it.
type reluStage struct {
	name   string
	x, y   []float32
	dx, dy []float32
}

func (s *reluStage) Name() string       { return s.name }
func (s *reluStage) WorkspaceSize() int { return 0 }

func (s *reluStage) Forward(_ net.ParamSet, _ *Workspace) {
	activations.ReLU{}.Forward(s.y, s.x)
}

func (s *reluStage) Backward(_, _ net.ParamSet, _ *Workspace) {
	activations.ReLU{}.Backward(s.dx, s.x, s.dy)
}

// softmaxStage normalizes each sample across classes.
// Its gradient is folded into the loss seed, so Backward does nothing.
type softmaxStage struct {
	name    string
	classes int
	x, y    []float32
}

func (s *softmaxStage) Name() string                            { return s.name }
func (s *softmaxStage) WorkspaceSize() int                      { return 0 }
func (s *softmaxStage) Backward(_, _ net.ParamSet, _ *Workspace) {}

func (s *softmaxStage) Forward(_ net.ParamSet, _ *Workspace) {
	activations.Softmax{}.Forward(s.y, s.x, s.classes)
}
