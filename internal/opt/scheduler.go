package opt

import "math"

// Scheduler maps an iteration number to a learning rate.
type Scheduler interface {
	LR(iter int) float32
}

// InvLR is the inverse decay policy: base * (1 + gamma*iter)^(-power).
type InvLR struct {
	Base  float32
	Gamma float32
	Power float32
}

func (s InvLR) LR(iter int) float32 {
	return float32(float64(s.Base) * math.Pow(1+float64(s.Gamma)*float64(iter), -float64(s.Power)))
}

// ConstantLR always returns the same rate.
type ConstantLR float32

func (s ConstantLR) LR(int) float32 { return float32(s) }
