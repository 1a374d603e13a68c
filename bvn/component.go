// Package bvn evaluates bivariate-normal mixture light models at pixel
// offsets, together with the gradient and Hessian of the density with
// respect to source position and shape parameters.
package bvn

import (
	"math"

	"github.com/saurabhr/celeste/sensitive"
	"github.com/saurabhr/celeste/utils"
)

// Component is one bivariate normal of a mixture, in pixel coordinates:
// density f(x) = z * exp(-0.5 * (x-mean)' * prec * (x-mean)), with the
// mixture weight and normalizing constant folded into z.
type Component struct {
	Mean [2]float64
	prec utils.Sym2
	z    float64
}

// NewComponent builds a component from its pixel-frame mean, covariance
// and mixture weight. Returns utils.ErrNotPosDef for a degenerate
// covariance.
func NewComponent(mean [2]float64, cov utils.Sym2, weight float64) (Component, error) {
	prec, err := cov.Inverse()
	if err != nil {
		return Component{}, err
	}
	return Component{
		Mean: mean,
		prec: prec,
		z:    weight / (2 * math.Pi * math.Sqrt(cov.Det())),
	}, nil
}

// Density evaluates the component at pixel (ph, pw).
func (c *Component) Density(ph, pw float64) float64 {
	p0 := ph - c.Mean[0]
	p1 := pw - c.Mean[1]
	v0 := c.prec[0]*p0 + c.prec[1]*p1
	v1 := c.prec[1]*p0 + c.prec[2]*p1
	return c.z * math.Exp(-0.5*(p0*v0+p1*v1))
}

// eval computes the density f and v = prec * (x - mean), the shared
// intermediates of every derivative formula.
func (c *Component) eval(ph, pw float64) (f, v0, v1 float64) {
	p0 := ph - c.Mean[0]
	p1 := pw - c.Mean[1]
	v0 = c.prec[0]*p0 + c.prec[1]*p1
	v1 = c.prec[1]*p0 + c.prec[2]*p1
	f = c.z * math.Exp(-0.5*(p0*v0+p1*v1))
	return
}

// lamJ returns prec * J for the world-to-pixel Jacobian J.
func (c *Component) lamJ(j [2][2]float64) [2][2]float64 {
	return [2][2]float64{
		{c.prec[0]*j[0][0] + c.prec[1]*j[1][0], c.prec[0]*j[0][1] + c.prec[1]*j[1][1]},
		{c.prec[1]*j[0][0] + c.prec[2]*j[1][0], c.prec[1]*j[0][1] + c.prec[2]*j[1][1]},
	}
}

// AddStar accumulates the component's density at pixel (ph, pw) into dst,
// a sensitive value over the star shape parameters (u0, u1). The mean
// moves with the source position through the WCS Jacobian j, so
//
//	d log f / du     = J' * v
//	d2 log f / du du = -J' * prec * J
//
// and the density derivatives follow by the exp chain rule.
func (c *Component) AddStar(dst *sensitive.Float, ph, pw float64, j [2][2]float64, wantGrad, wantHess bool) {
	f, v0, v1 := c.eval(ph, pw)
	dst.Val += f
	if !wantGrad {
		return
	}
	lu := [2]float64{
		j[0][0]*v0 + j[1][0]*v1,
		j[0][1]*v0 + j[1][1]*v1,
	}
	g := dst.Grad.RawVector().Data
	g[0] += f * lu[0]
	g[1] += f * lu[1]
	if !wantHess {
		return
	}
	lj := c.lamJ(j)
	h := dst.Hess.RawMatrix()
	for i := 0; i < 2; i++ {
		for k := i; k < 2; k++ {
			jlj := j[0][i]*lj[0][k] + j[1][i]*lj[1][k]
			w := f * (lu[i]*lu[k] - jlj)
			h.Data[i*h.Stride+k] += w
			if k != i {
				h.Data[k*h.Stride+i] += w
			}
		}
	}
}
