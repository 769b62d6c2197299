package engine

import (
	"github.com/FlavioCFOliveira/admmnet/internal/device"
	"github.com/pkg/errors"
)

// ConvAlgo selects how a convolution direction is computed.
type ConvAlgo int

const (
	// AlgoNone marks a direction that is not computed.
	AlgoNone ConvAlgo = iota
	// AlgoDirect loops over the kernel window. It needs no workspace.
	AlgoDirect
	// AlgoGEMM unfolds each sample with im2col and multiplies.
	AlgoGEMM
)

func (a ConvAlgo) String() string {
	switch a {
	case AlgoDirect:
		return "direct"
	case AlgoGEMM:
		return "gemm"
	default:
		return "none"
	}
}

// AlgoMode is the user override for algorithm selection.
type AlgoMode int

const (
	AlgoAuto AlgoMode = iota
	ForceGEMM
	ForceDirect
)

// ParseAlgoMode accepts "auto", "gemm" or "direct".
func ParseAlgoMode(s string) (AlgoMode, error) {
	switch s {
	case "", "auto":
		return AlgoAuto, nil
	case "gemm":
		return ForceGEMM, nil
	case "direct":
		return ForceDirect, nil
	}
	return AlgoAuto, errors.Errorf("unknown convolution algorithm %q", s)
}

func (m AlgoMode) String() string {
	switch m {
	case ForceGEMM:
		return "gemm"
	case ForceDirect:
		return "direct"
	default:
		return "auto"
	}
}

// ConvAlgos holds the algorithm chosen for each direction of one convolution.
type ConvAlgos struct {
	Forward ConvAlgo
	Filter  ConvAlgo
	Data    ConvAlgo
}

// gemmMinInner is the smallest reduction length for which the unfolded
// product beats direct loops on a core without wide FMA.
const gemmMinInner = 64

// pickAlgo answers "fastest algorithm" for a product with the given
// reduction length.
func pickAlgo(dev *device.Device, mode AlgoMode, inner int) ConvAlgo {
	switch mode {
	case ForceGEMM:
		return AlgoGEMM
	case ForceDirect:
		return AlgoDirect
	}
	if dev.HasVectorUnit() || inner >= gemmMinInner {
		return AlgoGEMM
	}
	return AlgoDirect
}

func chooseConvAlgos(dev *device.Device, mode AlgoMode, inC, outC, k int, needData bool) ConvAlgos {
	a := ConvAlgos{
		Forward: pickAlgo(dev, mode, inC*k*k),
		Filter:  pickAlgo(dev, mode, inC*k*k),
	}
	if needData {
		a.Data = pickAlgo(dev, mode, outC)
	}
	return a
}
