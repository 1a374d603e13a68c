package bvn

import (
	"math"

	"github.com/saurabhr/celeste/sensitive"
	"github.com/saurabhr/celeste/utils"
)

func sincos(x float64) (sn, cs float64) {
	return math.Sincos(x)
}

// GalType selects one of the two fixed galaxy light profiles.
type GalType int

const (
	Exponential GalType = iota
	DeVaucouleurs
	NumGalTypes
)

// profileComponent is one Gaussian of a fixed mixture-of-Gaussians
// approximation to a galaxy radial profile; NuBar scales the galaxy
// shape covariance.
type profileComponent struct {
	Weight float64
	NuBar  float64
}

// Mixture-of-Gaussians approximations of the exponential and
// de Vaucouleurs profiles; weights sum to one.
var galProfiles = [NumGalTypes][]profileComponent{
	Exponential: {
		{0.00067, 0.00046},
		{0.00854, 0.00407},
		{0.05217, 0.02250},
		{0.21968, 0.09012},
		{0.45217, 0.30801},
		{0.26677, 1.05222},
	},
	DeVaucouleurs: {
		{0.00014, 0.00004},
		{0.00117, 0.00046},
		{0.00656, 0.00318},
		{0.02860, 0.01679},
		{0.09882, 0.07722},
		{0.24782, 0.32449},
		{0.37726, 1.31886},
		{0.23963, 5.63146},
	},
}

// galShapeCov is the world-frame galaxy shape covariance
// scale^2 * R(angle) * diag(1, axis^2) * R(angle)', before the profile
// component's NuBar scaling.
func galShapeCov(axis, angle, scale float64) utils.Sym2 {
	sn, cs := sincos(angle)
	s2 := scale * scale
	e2 := axis * axis
	return utils.Sym2{
		s2 * (cs*cs + e2*sn*sn),
		s2 * cs * sn * (1 - e2),
		s2 * (sn*sn + e2*cs*cs),
	}
}

// ShapeDerivs holds the pixel-frame first and second derivatives of the
// component covariance with respect to the galaxy shape parameters
// (axis, angle, scale): J[k][a] = dSigma_k/dg_a and T[k][a][b] the
// corresponding second-derivative tensor, k ranging over the (11, 12, 22)
// covariance entries. Built once per component per band; read-only during
// pixel traversal.
type ShapeDerivs struct {
	J [3][3]float64
	T [3][3][3]float64
}

// NewShapeDerivs differentiates nuBar * J_wcs * Sigma_gal(axis, angle,
// scale) * J_wcs' through the sandwich map m (see utils.SandwichMap).
func NewShapeDerivs(axis, angle, scale, nuBar float64, m [3][3]float64) *ShapeDerivs {
	sn, cs := sincos(angle)
	s2 := scale * scale
	e2 := axis * axis
	cs2 := cs * cs
	sn2 := sn * sn
	csn := cs * sn

	// World-frame derivatives of the (11, 12, 22) covariance entries.
	var d1 [3][3]float64 // d1[a][k]
	d1[0] = [3]float64{s2 * 2 * axis * sn2, -s2 * 2 * axis * csn, s2 * 2 * axis * cs2}
	d1[1] = [3]float64{s2 * 2 * csn * (e2 - 1), s2 * (cs2 - sn2) * (1 - e2), s2 * 2 * csn * (1 - e2)}
	d1[2] = [3]float64{2 * scale * (cs2 + e2*sn2), 2 * scale * csn * (1 - e2), 2 * scale * (sn2 + e2*cs2)}

	var d2 [3][3][3]float64 // d2[a][b][k]
	d2[0][0] = [3]float64{s2 * 2 * sn2, -s2 * 2 * csn, s2 * 2 * cs2}
	d2[0][1] = [3]float64{s2 * 4 * axis * csn, -s2 * 2 * axis * (cs2 - sn2), -s2 * 4 * axis * csn}
	d2[0][2] = [3]float64{4 * scale * axis * sn2, -4 * scale * axis * csn, 4 * scale * axis * cs2}
	d2[1][1] = [3]float64{s2 * 2 * (cs2 - sn2) * (e2 - 1), -s2 * 4 * csn * (1 - e2), s2 * 2 * (cs2 - sn2) * (1 - e2)}
	d2[1][2] = [3]float64{4 * scale * csn * (e2 - 1), 2 * scale * (cs2 - sn2) * (1 - e2), 4 * scale * csn * (1 - e2)}
	d2[2][2] = [3]float64{2 * (cs2 + e2*sn2), 2 * csn * (1 - e2), 2 * (sn2 + e2*cs2)}
	d2[1][0] = d2[0][1]
	d2[2][0] = d2[0][2]
	d2[2][1] = d2[1][2]

	sd := &ShapeDerivs{}
	for k := 0; k < 3; k++ {
		for a := 0; a < 3; a++ {
			sd.J[k][a] = nuBar * (m[k][0]*d1[a][0] + m[k][1]*d1[a][1] + m[k][2]*d1[a][2])
			for b := 0; b < 3; b++ {
				sd.T[k][a][b] = nuBar * (m[k][0]*d2[a][b][0] + m[k][1]*d2[a][b][1] + m[k][2]*d2[a][b][2])
			}
		}
	}
	return sd
}

// GalComponent is one Gaussian of a galaxy mixture. Shape is nil for
// sources whose derivatives are not requested.
type GalComponent struct {
	Component
	Shape *ShapeDerivs
}

// AddDensity accumulates the component's density at pixel (ph, pw) into
// dst, a sensitive value over the galaxy shape parameters
// (u0, u1, axis, angle, scale). Position derivatives chain through the
// WCS Jacobian j exactly as for stars; shape derivatives chain through
// the precomputed covariance derivatives:
//
//	d log f / dsig_k       = -0.5*tr(prec*E_k) + 0.5*v'*E_k*v
//	d2 log f / dsig dsig   = 0.5*tr(prec*E_l*prec*E_k) - (E_k v)'*prec*(E_l v)
//	d2 log f / du dsig_k   = -J' * prec * E_k * v
//
// with E_k the symmetric basis of the covariance and v = prec*(x - mean).
func (c *GalComponent) AddDensity(dst *sensitive.Float, ph, pw float64, j [2][2]float64, wantGrad, wantHess bool) {
	f, v0, v1 := c.eval(ph, pw)
	dst.Val += f
	if !wantGrad {
		return
	}
	l11, l12, l22 := c.prec[0], c.prec[1], c.prec[2]
	sd := c.Shape

	dsig := [3]float64{
		0.5 * (v0*v0 - l11),
		v0*v1 - l12,
		0.5 * (v1*v1 - l22),
	}

	// Gradient of log f over (u0, u1, axis, angle, scale).
	var lg [5]float64
	lg[0] = j[0][0]*v0 + j[1][0]*v1
	lg[1] = j[0][1]*v0 + j[1][1]*v1
	for a := 0; a < 3; a++ {
		lg[2+a] = dsig[0]*sd.J[0][a] + dsig[1]*sd.J[1][a] + dsig[2]*sd.J[2][a]
	}

	g := dst.Grad.RawVector().Data
	for i := 0; i < 5; i++ {
		g[i] += f * lg[i]
	}
	if !wantHess {
		return
	}

	// Hessian of log f over the sigma entries.
	var hsig [3][3]float64
	hsig[0][0] = 0.5*l11*l11 - l11*v0*v0
	hsig[0][1] = l11*l12 - v0*(l11*v1+l12*v0)
	hsig[0][2] = 0.5*l12*l12 - l12*v0*v1
	hsig[1][1] = l12*l12 + l11*l22 - (l11*v1*v1 + 2*l12*v0*v1 + l22*v0*v0)
	hsig[1][2] = l12*l22 - v1*(l12*v1+l22*v0)
	hsig[2][2] = 0.5*l22*l22 - l22*v1*v1
	hsig[1][0] = hsig[0][1]
	hsig[2][0] = hsig[0][2]
	hsig[2][1] = hsig[1][2]

	// Cross terms d2 log f / du dsig_k = -J' * prec * E_k * v.
	lw := [3][2]float64{
		{l11 * v0, l12 * v0},
		{l11*v1 + l12*v0, l12*v1 + l22*v0},
		{l12 * v1, l22 * v1},
	}
	var cross [2][3]float64
	for i := 0; i < 2; i++ {
		for k := 0; k < 3; k++ {
			cross[i][k] = -(j[0][i]*lw[k][0] + j[1][i]*lw[k][1])
		}
	}

	// Hessian of log f over the five shape parameters.
	var hl [5][5]float64
	lj := c.lamJ(j)
	for i := 0; i < 2; i++ {
		for k := 0; k < 2; k++ {
			hl[i][k] = -(j[0][i]*lj[0][k] + j[1][i]*lj[1][k])
		}
		for a := 0; a < 3; a++ {
			v := cross[i][0]*sd.J[0][a] + cross[i][1]*sd.J[1][a] + cross[i][2]*sd.J[2][a]
			hl[i][2+a] = v
			hl[2+a][i] = v
		}
	}
	for a := 0; a < 3; a++ {
		for b := a; b < 3; b++ {
			v := 0.0
			for k := 0; k < 3; k++ {
				for l := 0; l < 3; l++ {
					v += hsig[k][l] * sd.J[k][a] * sd.J[l][b]
				}
				v += dsig[k] * sd.T[k][a][b]
			}
			hl[2+a][2+b] = v
			hl[2+b][2+a] = v
		}
	}

	h := dst.Hess.RawMatrix()
	for i := 0; i < 5; i++ {
		for k := i; k < 5; k++ {
			w := f * (lg[i]*lg[k] + hl[i][k])
			h.Data[i*h.Stride+k] += w
			if k != i {
				h.Data[k*h.Stride+i] += w
			}
		}
	}
}
