// Package device enumerates compute devices and provides the ordered
// command stream that device work is launched onto.
package device

import (
	"runtime"

	"github.com/klauspost/cpuid/v2"
	"github.com/pkg/errors"
)

// ErrInvalidIndex is returned by Open for an index outside [0, Count()).
var ErrInvalidIndex = errors.New("invalid device index")

// Type represents the hardware class of a device.
type Type int

const (
	CPU Type = iota
)

func (t Type) String() string {
	switch t {
	case CPU:
		return "cpu"
	default:
		return "unknown"
	}
}

// Device is one compute device owned by a single process.
type Device struct {
	index    int
	name     string
	features []string
	vector   bool
}

// Count returns the number of devices visible to this process.
// Every logical core is addressable as its own device.
func Count() int {
	n := cpuid.CPU.LogicalCores
	if n <= 0 {
		n = runtime.NumCPU()
	}
	if n <= 0 {
		n = 1
	}
	return n
}

// Open validates index and returns the device.
func Open(index int) (*Device, error) {
	if index < 0 || index >= Count() {
		return nil, errors.Wrapf(ErrInvalidIndex, "device %d (have %d)", index, Count())
	}
	name := cpuid.CPU.BrandName
	if name == "" {
		name = runtime.GOARCH
	}
	return &Device{
		index:    index,
		name:     name,
		features: cpuid.CPU.FeatureSet(),
		vector:   cpuid.CPU.Supports(cpuid.AVX2, cpuid.FMA3) || cpuid.CPU.Supports(cpuid.ASIMD),
	}, nil
}

func (d *Device) Type() Type   { return CPU }
func (d *Device) Index() int   { return d.index }
func (d *Device) Name() string { return d.name }

// Features lists the instruction set extensions reported by the backend.
func (d *Device) Features() []string { return d.features }

// HasVectorUnit reports whether wide fused multiply-add is available,
// which makes GEMM-based convolution the faster algorithm.
func (d *Device) HasVectorUnit() bool { return d.vector }

// NewStream starts an ordered command stream on the device.
func (d *Device) NewStream() *Stream {
	return newStream()
}
