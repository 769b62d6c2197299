package device

import "sync"

// Stream executes launched work in order on a dedicated goroutine,
// asynchronously to the caller.
type Stream struct {
	work    chan func()
	pending sync.WaitGroup
	closed  sync.Once
	done    chan struct{}
}

func newStream() *Stream {
	s := &Stream{
		work: make(chan func(), 64),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Stream) run() {
	defer close(s.done)
	for fn := range s.work {
		fn()
		s.pending.Done()
	}
}

// Launch queues fn behind all previously launched work.
func (s *Stream) Launch(fn func()) {
	s.pending.Add(1)
	s.work <- fn
}

// Synchronize blocks until every launched function has returned.
func (s *Stream) Synchronize() {
	s.pending.Wait()
}

// CopyToDevice queues a host to device copy.
func (s *Stream) CopyToDevice(dst, src []float32) {
	if len(dst) != len(src) {
		panic("device: CopyToDevice size mismatch")
	}
	s.Launch(func() { copy(dst, src) })
}

// CopyToHost waits for pending work and copies device memory to host.
func (s *Stream) CopyToHost(dst, src []float32) {
	if len(dst) != len(src) {
		panic("device: CopyToHost size mismatch")
	}
	s.Synchronize()
	copy(dst, src)
}

// Close drains the stream and stops its goroutine.
func (s *Stream) Close() {
	s.closed.Do(func() {
		s.Synchronize()
		close(s.work)
		<-s.done
	})
}
