package layer

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/FlavioCFOliveira/admmnet/internal/shape"
	"github.com/pkg/errors"
)

func TestNewConvBiasShapes(t *testing.T) {
	conv, err := NewConvBias(1, 20, 5, 28, 28)
	if err != nil {
		t.Fatal(err)
	}
	if conv.OutWidth != 24 || conv.OutHeight != 24 {
		t.Errorf("out = %dx%d, want 24x24", conv.OutWidth, conv.OutHeight)
	}
	if len(conv.Weights) != 1*20*5*5 {
		t.Errorf("len(Weights) = %d, want %d", len(conv.Weights), 500)
	}
	if len(conv.Bias) != 20 {
		t.Errorf("len(Bias) = %d, want 20", len(conv.Bias))
	}
}

func TestNewConvBiasRejectsLargeKernel(t *testing.T) {
	_, err := NewConvBias(1, 2, 7, 5, 5)
	if errors.Cause(err) != shape.ErrNonPositive {
		t.Errorf("error = %v, want ErrNonPositive", err)
	}
}

func TestNewFullyConnected(t *testing.T) {
	fc, err := NewFullyConnected(800, 500)
	if err != nil {
		t.Fatal(err)
	}
	if len(fc.Weights) != 800*500 || len(fc.Bias) != 500 {
		t.Errorf("sizes = %d/%d", len(fc.Weights), len(fc.Bias))
	}
	if _, err := NewFullyConnected(0, 10); err == nil {
		t.Error("expected error for zero inputs")
	}
}

func TestMaxPoolOutShape(t *testing.T) {
	pool, err := NewMaxPool(2, 2)
	if err != nil {
		t.Fatal(err)
	}
	out, err := pool.OutShape(shape.Tensor4D{N: 2, C: 3, H: 8, W: 8})
	if err != nil {
		t.Fatal(err)
	}
	if out != (shape.Tensor4D{N: 2, C: 3, H: 4, W: 4}) {
		t.Errorf("OutShape = %s", out)
	}
}

func TestXavierFillBounds(t *testing.T) {
	conv, err := NewConvBias(2, 4, 3, 6, 6)
	if err != nil {
		t.Fatal(err)
	}
	XavierFill(conv, rand.New(rand.NewSource(1)))

	// sqrt(3 / (3*3*2))
	const limit = 0.40825
	nonZero := 0
	for _, w := range conv.Weights {
		if w < -limit || w > limit {
			t.Fatalf("weight %f outside [-%f, %f]", w, limit, limit)
		}
		if w != 0 {
			nonZero++
		}
	}
	if nonZero == 0 {
		t.Error("XavierFill left all weights zero")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	prefix := filepath.Join(dir, "ip1")

	src, _ := NewFullyConnected(7, 3)
	XavierFill(src, rand.New(rand.NewSource(7)))
	if err := Save(src, prefix); err != nil {
		t.Fatal(err)
	}

	dst, _ := NewFullyConnected(7, 3)
	if err := Load(dst, prefix); err != nil {
		t.Fatal(err)
	}
	for i := range src.Weights {
		if src.Weights[i] != dst.Weights[i] {
			t.Errorf("Weights[%d] = %v, want %v", i, dst.Weights[i], src.Weights[i])
		}
	}
	for i := range src.Bias {
		if src.Bias[i] != dst.Bias[i] {
			t.Errorf("Bias[%d] = %v, want %v", i, dst.Bias[i], src.Bias[i])
		}
	}

	info, err := os.Stat(WeightsFile(prefix))
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 7*3*4 {
		t.Errorf("weights file size = %d, want %d", info.Size(), 7*3*4)
	}
}

func TestLoadShortFile(t *testing.T) {
	dir := t.TempDir()
	prefix := filepath.Join(dir, "conv1")

	small, _ := NewFullyConnected(2, 2)
	if err := Save(small, prefix); err != nil {
		t.Fatal(err)
	}

	big, _ := NewFullyConnected(4, 4)
	err := Load(big, prefix)
	if errors.Cause(err) != ErrShortFile {
		t.Errorf("Load error = %v, want ErrShortFile", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	fc, _ := NewFullyConnected(2, 2)
	if err := Load(fc, filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}
