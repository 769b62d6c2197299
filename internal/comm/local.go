package comm

import (
	"context"
)

// LocalGroup connects ranks living in the same process.
type LocalGroup struct {
	boxes []*mailbox
}

// NewLocalGroup creates size endpoints; endpoint i has rank i.
func NewLocalGroup(size int) []Communicator {
	g := &LocalGroup{boxes: make([]*mailbox, size)}
	eps := make([]Communicator, size)
	for i := range g.boxes {
		g.boxes[i] = newMailbox()
		eps[i] = &localEndpoint{group: g, rank: i}
	}
	return eps
}

type localEndpoint struct {
	group *LocalGroup
	rank  int
}

func (e *localEndpoint) Rank() int { return e.rank }
func (e *localEndpoint) Size() int { return len(e.group.boxes) }

func (e *localEndpoint) Send(ctx context.Context, dst int, tag Tag, data []float32) error {
	if err := checkRank(dst, e.Size()); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	e.group.boxes[dst].deliver(e.rank, tag, append([]float32(nil), data...))
	return nil
}

func (e *localEndpoint) Recv(ctx context.Context, src int, tag Tag, buf []float32) error {
	if err := checkRank(src, e.Size()); err != nil {
		return err
	}
	return e.group.boxes[e.rank].receive(ctx, src, tag, buf)
}

// Close unblocks any pending Recv on this endpoint.
func (e *localEndpoint) Close() error {
	e.group.boxes[e.rank].close()
	return nil
}
