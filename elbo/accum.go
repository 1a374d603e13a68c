package elbo

import (
	"github.com/saurabhr/celeste/sensitive"
)

// accumulateType folds one model type's contribution into a source's
// expected brightness eg = E[G_s] and expected squared brightness
// egg = E[G_s^2], both sensitive values over the source's canonical
// parameter vector:
//
//	eg  += a * E[l]   * dens
//	egg += a * E[l^2] * dens^2
//
// dens is the type's shape-density sensitive value (over shapeIDs), el
// and ell the brightness moments (over brightIDs), and a the
// non-differentiated type weight. Every gradient and Hessian write is an
// accumulation into the cleared scratch, so the position block shared by
// the two model types sums both contributions rather than overwriting.
func accumulateType(eg, egg, dens, el, ell *sensitive.Float, a float64, shapeIDs, brightIDs []int, wantHess bool) {
	if dens.P() != len(shapeIDs) || el.P() != len(brightIDs) || ell.P() != len(brightIDs) {
		panic(sensitive.ErrDimMismatch)
	}
	d := dens.Val
	eg.Val += a * el.Val * d
	egg.Val += a * ell.Val * d * d

	dg := dens.Grad.RawVector().Data
	elg := el.Grad.RawVector().Data
	ellg := ell.Grad.RawVector().Data
	egGrad := eg.Grad.RawVector().Data
	eggGrad := egg.Grad.RawVector().Data

	for j, bj := range brightIDs {
		egGrad[bj] += a * d * elg[j]
		eggGrad[bj] += a * d * d * ellg[j]
	}
	for q, sq := range shapeIDs {
		egGrad[sq] += a * el.Val * dg[q]
		eggGrad[sq] += 2 * a * ell.Val * d * dg[q]
	}
	if !wantHess {
		return
	}

	egH := eg.Hess.RawMatrix()
	eggH := egg.Hess.RawMatrix()
	dh := dens.Hess.RawMatrix()
	elh := el.Hess.RawMatrix()
	ellh := ell.Hess.RawMatrix()

	// Brightness x brightness: the moment Hessians scaled by the density.
	for j, bj := range brightIDs {
		for k, bk := range brightIDs {
			egH.Data[bj*egH.Stride+bk] += a * d * elh.Data[j*elh.Stride+k]
			eggH.Data[bj*eggH.Stride+bk] += a * d * d * ellh.Data[j*ellh.Stride+k]
		}
	}
	// Shape x shape: the density Hessian scaled by the moment, plus the
	// outer-product correction for E[G^2]'s extra density factor.
	for q, sq := range shapeIDs {
		for r, sr := range shapeIDs {
			egH.Data[sq*egH.Stride+sr] += a * el.Val * dh.Data[q*dh.Stride+r]
			eggH.Data[sq*eggH.Stride+sr] += 2 * a * ell.Val * (d*dh.Data[q*dh.Stride+r] + dg[q]*dg[r])
		}
	}
	// Brightness x shape cross terms, mirrored for symmetry.
	for j, bj := range brightIDs {
		for q, sq := range shapeIDs {
			v := a * elg[j] * dg[q]
			egH.Data[bj*egH.Stride+sq] += v
			egH.Data[sq*egH.Stride+bj] += v
			vv := 2 * a * d * ellg[j] * dg[q]
			eggH.Data[bj*eggH.Stride+sq] += vv
			eggH.Data[sq*eggH.Stride+bj] += vv
		}
	}
}

// deriveVariance accumulates Var(G_s) = E[G^2] - E[G]^2 into dst with the
// chain rule through both moments.
func deriveVariance(dst, egg, eg *sensitive.Float, wantHess bool) {
	sensitive.CombineAdd(dst, egg, eg, 1,
		egg.Val-eg.Val*eg.Val, // g
		1, -2*eg.Val,          // dg/dE[G^2], dg/dE[G]
		0, 0, -2, // second derivatives
		wantHess)
}
