package comm

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	nettensor "github.com/FlavioCFOliveira/admmnet/internal/net"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func startGRPCGroup(t *testing.T, size int) []*GRPC {
	t.Helper()
	listeners := make([]net.Listener, size)
	peers := make([]string, size)
	for i := range listeners {
		lis, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatal(err)
		}
		listeners[i] = lis
		peers[i] = lis.Addr().String()
	}

	group := make([]*GRPC, size)
	for i := range group {
		g, err := newGRPC(i, peers, listeners[i], nil)
		if err != nil {
			t.Fatal(err)
		}
		group[i] = g
	}
	t.Cleanup(func() {
		for _, g := range group {
			g.Close()
		}
	})
	return group
}

func TestGRPCSendRecv(t *testing.T) {
	group := startGRPCGroup(t, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	want := make([]float32, 50000)
	for i := range want {
		want[i] = float32(i) * 0.5
	}
	if err := group[1].Send(ctx, 0, ResidualTag(nettensor.FC1), want); err != nil {
		t.Fatal(err)
	}
	got := make([]float32, len(want))
	if err := group[0].Recv(ctx, 1, ResidualTag(nettensor.FC1), got); err != nil {
		t.Fatal(err)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestGRPCBcastPreservesOrder(t *testing.T) {
	const size = 3
	group := startGRPCGroup(t, size)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for r := 0; r < size; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			for round := 0; round < 5; round++ {
				buf := []float32{0, 0}
				if r == 0 {
					buf = []float32{float32(round), -float32(round)}
				}
				if err := Bcast(ctx, group[r], 0, GlobalTag(nettensor.Conv1Bias), buf); err != nil {
					t.Errorf("rank %d round %d: %v", r, round, err)
					return
				}
				if buf[0] != float32(round) || buf[1] != -float32(round) {
					t.Errorf("rank %d round %d got %v", r, round, buf)
				}
			}
		}(r)
	}
	wg.Wait()
}

func TestGRPCRejectsBadSource(t *testing.T) {
	group := startGRPCGroup(t, 2)
	env := Envelope{Src: 7, Tag: TagHeight, Data: []float32{1}}
	if _, err := group[0].Deliver(context.Background(), &wrapperspb.BytesValue{Value: env.Marshal()}); err == nil {
		t.Error("expected error for unknown source rank")
	}
}
