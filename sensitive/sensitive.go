// Package sensitive implements the fundamental accumulator of the ELBO
// kernel: a scalar bundled with its gradient and, optionally, its Hessian
// over a fixed parameter set. All operations are pure in-place accumulation
// on buffers allocated once and cleared between passes.
package sensitive

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/mat"
)

var ErrDimMismatch = errors.New("sensitive value dimension mismatch")

// Float is a sensitive value over p parameters. Grad always has length p;
// Hess is either nil or p x p and kept symmetric by every operation.
// A Float is owned by exactly one evaluation context and must not be
// mutated concurrently.
type Float struct {
	Val  float64
	Grad *mat.VecDense
	Hess *mat.Dense
}

// NewFloat allocates a zeroed sensitive value over p parameters. The
// Hessian buffer is allocated only when withHess is set.
func NewFloat(p int, withHess bool) *Float {
	f := &Float{Grad: mat.NewVecDense(p, nil)}
	if withHess {
		f.Hess = mat.NewDense(p, p, nil)
	}
	return f
}

// P is the parameter dimension.
func (f *Float) P() int {
	return f.Grad.Len()
}

// Clear zeroes the value and gradient, and the Hessian only when
// withHess is set (skipping the Hessian avoids wasted work when second
// derivatives are not needed this pass).
func (f *Float) Clear(withHess bool) {
	f.Val = 0
	g := f.Grad.RawVector()
	for i := range g.Data {
		g.Data[i] = 0
	}
	if withHess && f.Hess != nil {
		h := f.Hess.RawMatrix()
		for i := range h.Data {
			h.Data[i] = 0
		}
	}
}

// hessVec views the Hessian storage as a flat blas64 vector.
func (f *Float) hessVec() blas64.Vector {
	h := f.Hess.RawMatrix()
	return blas64.Vector{N: len(h.Data), Inc: 1, Data: h.Data}
}

// AddScaled accumulates f += c * o across value, gradient and, when
// withHess is set, Hessian. Parameter dimensions must match exactly.
func (f *Float) AddScaled(o *Float, c float64, withHess bool) {
	if f.P() != o.P() {
		panic(ErrDimMismatch)
	}
	f.Val += c * o.Val
	blas64.Axpy(c, o.Grad.RawVector(), f.Grad.RawVector())
	if withHess {
		blas64.Axpy(c, o.hessVec(), f.hessVec())
	}
}

// AddSubset accumulates the smaller sensitive value o into f at the rows
// and columns named by idx: f.Grad[idx[i]] += o.Grad[i], and likewise for
// the Hessian block. len(idx) must equal o's dimension.
func (f *Float) AddSubset(o *Float, idx []int, withHess bool) {
	if len(idx) != o.P() {
		panic(ErrDimMismatch)
	}
	f.Val += o.Val
	og := o.Grad.RawVector().Data
	fg := f.Grad.RawVector().Data
	for i, gi := range idx {
		fg[gi] += og[i]
	}
	if withHess {
		oh := o.Hess.RawMatrix()
		fh := f.Hess.RawMatrix()
		for i, gi := range idx {
			row := oh.Data[i*oh.Stride:]
			frow := fh.Data[gi*fh.Stride:]
			for j, gj := range idx {
				frow[gj] += row[j]
			}
		}
	}
}

// CombineAdd folds a scalar function g(a, b) of two sensitive values over
// the same parameter set into dst via the second-order chain rule:
//
//	dst += c * [g, ga*da + gb*db,
//	            ga*Ha + gb*Hb + gaa*da*da' + gbb*db*db' + gab*(da*db' + db*da')]
//
// where ga, gb, gaa, gab, gbb are the closed-form partials of g at
// (a.Val, b.Val) supplied by the caller.
func CombineAdd(dst, a, b *Float, c, g, ga, gb, gaa, gab, gbb float64, withHess bool) {
	p := dst.P()
	if a.P() != p || b.P() != p {
		panic(ErrDimMismatch)
	}
	dst.Val += c * g
	blas64.Axpy(c*ga, a.Grad.RawVector(), dst.Grad.RawVector())
	blas64.Axpy(c*gb, b.Grad.RawVector(), dst.Grad.RawVector())
	if !withHess {
		return
	}
	blas64.Axpy(c*ga, a.hessVec(), dst.hessVec())
	blas64.Axpy(c*gb, b.hessVec(), dst.hessVec())
	// Outer-product terms are mirrored by hand: each upper-triangle
	// entry is computed once and written to both slots, so the
	// accumulated Hessian stays exactly symmetric.
	h := dst.Hess.RawMatrix()
	ag := a.Grad.RawVector().Data
	bg := b.Grad.RawVector().Data
	for i := 0; i < p; i++ {
		for k := i; k < p; k++ {
			w := 0.0
			if gaa != 0 {
				w += c * gaa * (ag[i] * ag[k])
			}
			if gbb != 0 {
				w += c * gbb * (bg[i] * bg[k])
			}
			if gab != 0 {
				w += c * gab * (ag[i]*bg[k] + ag[k]*bg[i])
			}
			if w == 0 {
				continue
			}
			h.Data[i*h.Stride+k] += w
			if k != i {
				h.Data[k*h.Stride+i] += w
			}
		}
	}
}

// IsFinite reports whether the value, every gradient entry and (if
// present) every Hessian entry are finite.
func (f *Float) IsFinite() bool {
	if math.IsNaN(f.Val) || math.IsInf(f.Val, 0) {
		return false
	}
	for _, v := range f.Grad.RawVector().Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	if f.Hess != nil {
		for _, v := range f.Hess.RawMatrix().Data {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}
