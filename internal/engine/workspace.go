package engine

import (
	"fmt"
	"sync"
)

// Workspace is the scratch arena shared by every convolution stage of a
// process. It is sized to the peak demand and checked out by one stage
// at a time.
type Workspace struct {
	mu    sync.Mutex
	buf   []float32
	owner string
}

// NewWorkspace returns an empty arena.
func NewWorkspace() *Workspace {
	return &Workspace{}
}

// Size returns the current allocation in float32 elements.
func (w *Workspace) Size() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buf)
}

// Ensure grows the arena to at least n elements. It reports whether a
// reallocation happened.
func (w *Workspace) Ensure(n int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.owner != "" {
		panic(fmt.Sprintf("engine: workspace resized while held by %s", w.owner))
	}
	if n <= len(w.buf) {
		return false
	}
	w.buf = make([]float32, n)
	return true
}

// Acquire checks out the first n elements for owner.
// It panics if the arena is already checked out or too small.
func (w *Workspace) Acquire(owner string, n int) []float32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.owner != "" {
		panic(fmt.Sprintf("engine: workspace requested by %s while held by %s", owner, w.owner))
	}
	if n > len(w.buf) {
		panic(fmt.Sprintf("engine: %s needs %d workspace elements, have %d", owner, n, len(w.buf)))
	}
	w.owner = owner
	return w.buf[:n]
}

// Release returns the arena.
func (w *Workspace) Release() {
	w.mu.Lock()
	w.owner = ""
	w.mu.Unlock()
}
