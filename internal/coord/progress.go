package coord

import (
	"log"
	"math"
	"time"
)

// IterationStats describes one finished iteration on one rank.
type IterationStats struct {
	Iteration int
	LR        float32
	// Loss is the mean cross-entropy of the rank's last batch, NaN on the root.
	Loss    float64
	Elapsed time.Duration
}

// Callback observes the training loop.
type Callback interface {
	OnTrainBegin(c *Coordinator)
	OnIterationEnd(s IterationStats)
	OnTrainEnd(c *Coordinator)
}

// BaseCallback provides default empty implementations for Callback.
type BaseCallback struct{}

func (BaseCallback) OnTrainBegin(*Coordinator)     {}
func (BaseCallback) OnIterationEnd(IterationStats) {}
func (BaseCallback) OnTrainEnd(*Coordinator)       {}

// ProgressLogger prints a line every Every iterations.
type ProgressLogger struct {
	BaseCallback
	Every  int
	Logger *log.Logger
}

func (p *ProgressLogger) OnIterationEnd(s IterationStats) {
	if p.Every <= 0 || (s.Iteration+1)%p.Every != 0 {
		return
	}
	if math.IsNaN(s.Loss) {
		p.Logger.Printf("iteration %d: lr %.6g, %.3f ms", s.Iteration+1, s.LR, ms(s.Elapsed))
		return
	}
	p.Logger.Printf("iteration %d: lr %.6g, loss %.4f, %.3f ms", s.Iteration+1, s.LR, s.Loss, ms(s.Elapsed))
}

// Timer accumulates iteration wall time and reports the mean at the end.
type Timer struct {
	BaseCallback
	Logger     *log.Logger
	Iterations int
	Total      time.Duration
}

func (t *Timer) OnIterationEnd(s IterationStats) {
	t.Iterations++
	t.Total += s.Elapsed
}

// Mean returns the mean iteration time.
func (t *Timer) Mean() time.Duration {
	if t.Iterations == 0 {
		return 0
	}
	return t.Total / time.Duration(t.Iterations)
}

func (t *Timer) OnTrainEnd(*Coordinator) {
	if t.Logger != nil && t.Iterations > 0 {
		t.Logger.Printf("Iteration time: %.3f ms", ms(t.Mean()))
	}
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
