package admm

import (
	"bytes"
	"context"
	"log"
	"math/rand"
	"strings"
	"sync"
	"testing"
)

// lockedBuffer serializes writes from the per-rank loggers.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func tinyDataset(count int) *Dataset {
	rng := rand.New(rand.NewSource(int64(count)))
	d := &Dataset{Width: 12, Height: 12, Channels: 1, Count: count,
		Images: make([]byte, count*144),
		Labels: make([]byte, count)}
	rng.Read(d.Images)
	for i := range d.Labels {
		d.Labels[i] = byte(i % 4)
	}
	return d
}

func tinyOptions() Options {
	o := DefaultOptions()
	o.Arch = Arch{Conv1Channels: 2, Conv2Channels: 2, KernelSize: 3, PoolSize: 2, PoolStride: 2, Hidden: 6, Classes: 4}
	o.Iterations = 2
	o.BatchSize = 2
	o.Seed = 3
	o.Classify = 4
	o.LogEvery = 1
	return o
}

func TestTrainLocal(t *testing.T) {
	var buf lockedBuffer
	logger := log.New(&buf, "", 0)

	res, err := TrainLocal(context.Background(), 3, 0, tinyDataset(20), tinyDataset(8), tinyOptions(), logger)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if res.Evaluated != 4 {
		t.Errorf("Evaluated = %d, want 4", res.Evaluated)
	}
	out := buf.String()
	for _, want := range []string{"[rank 0] ", "[rank 2] ", "Classification result", "Iteration time"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q", want)
		}
	}
}

func TestTrainLocalReportsFailure(t *testing.T) {
	opts := tinyOptions()
	opts.BatchSize = 50
	if _, err := TrainLocal(context.Background(), 2, 0, tinyDataset(20), nil, opts, log.New(&lockedBuffer{}, "", 0)); err == nil {
		t.Error("expected error for a batch larger than the training set")
	}
}

func TestRunRankBadDevice(t *testing.T) {
	_, err := RunRank(context.Background(), NewLocalGroup(2)[0], -1, tinyDataset(4), nil, tinyOptions(), nil)
	if err == nil {
		t.Error("expected error for device -1")
	}
}
