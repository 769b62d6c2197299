package engine

import "github.com/FlavioCFOliveira/admmnet/internal/net"

// Stage is one step of the fixed forward sequence.
// Forward reads its input buffer and writes its output buffer.
// Backward reads the output gradient and writes parameter gradients and,
// when it has one, the input gradient. Every destination is overwritten.
type Stage interface {
	Name() string
	WorkspaceSize() int
	Forward(p net.ParamSet, ws *Workspace)
	Backward(p, g net.ParamSet, ws *Workspace)
}
