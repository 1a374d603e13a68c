package sensitive

import "gonum.org/v1/gonum/mat"

// Snapshot is a value-semantics copy of a Float, distinct from the mutable
// scratch type so that returned results cannot alias a later evaluation's
// buffers.
type Snapshot struct {
	Val  float64
	Grad *mat.VecDense
	Hess *mat.Dense // nil when the source Float carried no Hessian
}

// Snapshot deep-copies f.
func (f *Float) Snapshot() Snapshot {
	s := Snapshot{Val: f.Val, Grad: mat.VecDenseCopyOf(f.Grad)}
	if f.Hess != nil {
		s.Hess = mat.DenseCopyOf(f.Hess)
	}
	return s
}
