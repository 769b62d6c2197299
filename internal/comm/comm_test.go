package comm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/FlavioCFOliveira/admmnet/internal/net"
	"github.com/pkg/errors"
)

func TestTags(t *testing.T) {
	if GlobalTag(net.Conv1) != 6 || GlobalTag(net.FC2Bias) != 13 {
		t.Errorf("global tags = %d..%d, want 6..13", GlobalTag(net.Conv1), GlobalTag(net.FC2Bias))
	}
	if ResidualTag(net.Conv1) != 14 || ResidualTag(net.FC2Bias) != 21 {
		t.Errorf("residual tags = %d..%d, want 14..21", ResidualTag(net.Conv1), ResidualTag(net.FC2Bias))
	}
	if NumTags != 22 {
		t.Errorf("NumTags = %d, want 22", NumTags)
	}
	if s := ResidualTag(net.FC1Bias).String(); s != "residual/fc1.bias" {
		t.Errorf("String = %q", s)
	}
}

func TestLocalSendRecvOrder(t *testing.T) {
	eps := NewLocalGroup(2)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := eps[1].Send(ctx, 0, TagBatchData, []float32{float32(i)}); err != nil {
			t.Fatal(err)
		}
	}
	buf := make([]float32, 1)
	for i := 0; i < 3; i++ {
		if err := eps[0].Recv(ctx, 1, TagBatchData, buf); err != nil {
			t.Fatal(err)
		}
		if buf[0] != float32(i) {
			t.Errorf("message %d = %v", i, buf[0])
		}
	}
}

func TestLocalSendCopiesData(t *testing.T) {
	eps := NewLocalGroup(2)
	ctx := context.Background()
	data := []float32{1, 2}
	if err := eps[0].Send(ctx, 1, TagWidth, data); err != nil {
		t.Fatal(err)
	}
	data[0] = 99

	buf := make([]float32, 2)
	if err := eps[1].Recv(ctx, 0, TagWidth, buf); err != nil {
		t.Fatal(err)
	}
	if buf[0] != 1 {
		t.Errorf("received %v, sender mutation leaked", buf)
	}
}

func TestLocalTagsAreIndependent(t *testing.T) {
	eps := NewLocalGroup(2)
	ctx := context.Background()
	eps[0].Send(ctx, 1, TagHeight, []float32{28})
	eps[0].Send(ctx, 1, TagWidth, []float32{32})

	buf := make([]float32, 1)
	if err := eps[1].Recv(ctx, 0, TagWidth, buf); err != nil || buf[0] != 32 {
		t.Errorf("width = %v, %v", buf[0], err)
	}
	if err := eps[1].Recv(ctx, 0, TagHeight, buf); err != nil || buf[0] != 28 {
		t.Errorf("height = %v, %v", buf[0], err)
	}
}

func TestRecvSizeMismatch(t *testing.T) {
	eps := NewLocalGroup(2)
	ctx := context.Background()
	eps[0].Send(ctx, 1, TagTrainSize, []float32{1, 2, 3})

	err := eps[1].Recv(ctx, 0, TagTrainSize, make([]float32, 2))
	if errors.Cause(err) != ErrSizeMismatch {
		t.Errorf("error = %v, want ErrSizeMismatch", err)
	}
}

func TestRecvBlocksUntilContextDone(t *testing.T) {
	eps := NewLocalGroup(2)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := eps[0].Recv(ctx, 1, TagBatchLabels, make([]float32, 1))
	if errors.Cause(err) != context.DeadlineExceeded {
		t.Errorf("error = %v, want deadline exceeded", err)
	}
}

func TestRecvUnblocksOnClose(t *testing.T) {
	eps := NewLocalGroup(2)
	done := make(chan error, 1)
	go func() {
		done <- eps[0].Recv(context.Background(), 1, TagBatchLabels, make([]float32, 1))
	}()
	time.Sleep(10 * time.Millisecond)
	eps[0].Close()

	select {
	case err := <-done:
		if err != ErrClosed {
			t.Errorf("error = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Recv did not return after Close")
	}
}

func TestInvalidRank(t *testing.T) {
	eps := NewLocalGroup(2)
	err := eps[0].Send(context.Background(), 5, TagHeight, []float32{1})
	if errors.Cause(err) != ErrInvalidRank {
		t.Errorf("error = %v, want ErrInvalidRank", err)
	}
}

func TestBcast(t *testing.T) {
	const size = 4
	eps := NewLocalGroup(size)
	ctx := context.Background()

	var wg sync.WaitGroup
	got := make([][]float32, size)
	for r := 0; r < size; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			buf := make([]float32, 3)
			if r == 0 {
				copy(buf, []float32{1, 2, 3})
			}
			if err := Bcast(ctx, eps[r], 0, GlobalTag(net.Conv2), buf); err != nil {
				t.Errorf("rank %d: %v", r, err)
			}
			got[r] = buf
		}(r)
	}
	wg.Wait()

	for r, buf := range got {
		if buf[0] != 1 || buf[1] != 2 || buf[2] != 3 {
			t.Errorf("rank %d got %v", r, buf)
		}
	}
}
