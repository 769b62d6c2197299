// Package comm carries tagged float32 messages between the ranks of a
// training group. Messages between one pair of ranks on one tag arrive in
// the order they were sent.
package comm

import (
	"context"

	"github.com/pkg/errors"
)

var (
	// ErrSizeMismatch is returned by Recv when the message length differs
	// from the receive buffer.
	ErrSizeMismatch = errors.New("message size mismatch")
	// ErrClosed is returned by operations on a closed communicator.
	ErrClosed = errors.New("communicator closed")
	// ErrInvalidRank is returned for a peer outside the group.
	ErrInvalidRank = errors.New("invalid rank")
)

// Communicator is one rank's endpoint in the group.
// Send may return before the peer has received the message.
// Recv blocks until a message from src on tag arrives or ctx is done.
type Communicator interface {
	Rank() int
	Size() int
	Send(ctx context.Context, dst int, tag Tag, data []float32) error
	Recv(ctx context.Context, src int, tag Tag, buf []float32) error
	Close() error
}

// Bcast sends buf from root to every other rank; non-root ranks receive
// into buf.
func Bcast(ctx context.Context, c Communicator, root int, tag Tag, buf []float32) error {
	if c.Rank() != root {
		return c.Recv(ctx, root, tag, buf)
	}
	for dst := 0; dst < c.Size(); dst++ {
		if dst == root {
			continue
		}
		if err := c.Send(ctx, dst, tag, buf); err != nil {
			return errors.Wrapf(err, "broadcast %s to rank %d", tag, dst)
		}
	}
	return nil
}

func checkRank(r, size int) error {
	if r < 0 || r >= size {
		return errors.Wrapf(ErrInvalidRank, "rank %d of %d", r, size)
	}
	return nil
}
