package opt

import "github.com/FlavioCFOliveira/admmnet/internal/net"

// DefaultRho is the penalty weight that ties local parameters to the
// global ones.
const DefaultRho = 10

// Consensus is the penalised SGD variant run by the workers, together with
// the global correction applied by the root.
type Consensus struct {
	Rho float32
	// Optimizer applies the gradient step after the consensus pull.
	// Nil means plain SGD.
	Optimizer Optimizer
}

// LocalUpdate computes the residual r = lr*rho*(local - global) - lr*rho*grad,
// then moves local <- local - r - lr*grad. The residual is left in residual
// for shipping to the root.
func (c Consensus) LocalUpdate(lr float32, local, global, grad, residual net.ParamSet) {
	k := lr * c.Rho
	for i := range local {
		r := residual[i]
		clear(r)
		axpy(k, local[i], r)
		axpy(-k, global[i], r)
		axpy(-k, grad[i], r)
		axpy(-1, r, local[i])
	}
	c.optimizer().StepInPlace(lr, local, grad)
}

func (c Consensus) optimizer() Optimizer {
	if c.Optimizer == nil {
		return SGD{}
	}
	return c.Optimizer
}

// GlobalUpdate applies one worker's residual: global <- global + lr*r.
func (c Consensus) GlobalUpdate(lr float32, global, residual net.ParamSet) {
	for i := range global {
		axpy(lr, residual[i], global[i])
	}
}

// SumResiduals adds src into dst.
func SumResiduals(dst, src net.ParamSet) {
	for i := range dst {
		axpy(1, src[i], dst[i])
	}
}
