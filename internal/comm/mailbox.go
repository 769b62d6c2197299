package comm

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

type mailKey struct {
	src int
	tag Tag
}

type mailQueue struct {
	items  [][]float32
	signal chan struct{}
}

// mailbox holds delivered messages per (source, tag) until received.
type mailbox struct {
	mu     sync.Mutex
	queues map[mailKey]*mailQueue
	closed chan struct{}
	once   sync.Once
}

func newMailbox() *mailbox {
	return &mailbox{
		queues: make(map[mailKey]*mailQueue),
		closed: make(chan struct{}),
	}
}

func (m *mailbox) queue(k mailKey) *mailQueue {
	q, ok := m.queues[k]
	if !ok {
		q = &mailQueue{}
		m.queues[k] = q
	}
	return q
}

// deliver takes ownership of data.
func (m *mailbox) deliver(src int, tag Tag, data []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue(mailKey{src, tag})
	q.items = append(q.items, data)
	if q.signal != nil {
		close(q.signal)
		q.signal = nil
	}
}

func (m *mailbox) take(ctx context.Context, src int, tag Tag) ([]float32, error) {
	k := mailKey{src, tag}
	for {
		m.mu.Lock()
		q := m.queue(k)
		if len(q.items) > 0 {
			data := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			m.mu.Unlock()
			return data, nil
		}
		if q.signal == nil {
			q.signal = make(chan struct{})
		}
		signal := q.signal
		m.mu.Unlock()

		select {
		case <-signal:
		case <-m.closed:
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, errors.Wrapf(ctx.Err(), "waiting for %s from rank %d", tag, src)
		}
	}
}

// receive copies the next message from src on tag into buf.
func (m *mailbox) receive(ctx context.Context, src int, tag Tag, buf []float32) error {
	data, err := m.take(ctx, src, tag)
	if err != nil {
		return err
	}
	if len(data) != len(buf) {
		return errors.Wrapf(ErrSizeMismatch, "%s from rank %d: got %d values, want %d", tag, src, len(data), len(buf))
	}
	copy(buf, data)
	return nil
}

func (m *mailbox) close() {
	m.once.Do(func() { close(m.closed) })
}
