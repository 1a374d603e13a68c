// Package prior subtracts the brightness-prior divergence from an ELBO
// accumulator in place, after the pixel traversal.
package prior

import (
	"math"

	"github.com/saurabhr/celeste/param"
	"github.com/saurabhr/celeste/sensitive"
)

// Normal is a univariate normal prior on a source's log flux.
type Normal struct {
	Mean float64
	Var  float64
}

// Prior holds one log-flux prior per model type.
type Prior struct {
	Flux [param.NumTypes]Normal
}

// kl is the divergence of the posterior N(r1, r2) from the prior
// N(m0, v0), with its derivatives over (r1, r2):
//
//	KL = 0.5*log(v0/r2) + (r2 + (r1-m0)^2)/(2*v0) - 0.5
func kl(r1, r2, m0, v0 float64) (v, d1, d2, h11, h22 float64) {
	d := r1 - m0
	v = 0.5*math.Log(v0/r2) + (r2+d*d)/(2*v0) - 0.5
	d1 = d / v0
	d2 = 1/(2*v0) - 1/(2*r2)
	h11 = 1 / v0
	h22 = 1 / (2 * r2 * r2)
	return
}

// SubtractKL removes each active source's brightness divergence (value,
// gradient, Hessian per the flags) from acc, a sensitive value over the
// concatenated active parameter space.
func (p *Prior) SubtractKL(acc *sensitive.Float, srcs []param.SourceParams, active *param.ActiveSet, wantGrad, wantHess bool) {
	for k := 0; k < active.Len(); k++ {
		sp := &srcs[active.Global(k)]
		off := active.Offset(k)
		for t := param.ModelType(0); t < param.NumTypes; t++ {
			pr := p.Flux[t]
			v, d1, d2, h11, h22 := kl(sp.FluxMean[t], sp.FluxVar[t], pr.Mean, pr.Var)
			acc.Val -= v
			if !wantGrad {
				continue
			}
			ids := param.BrightIDs(t)
			i1 := off + ids[0]
			i2 := off + ids[1]
			acc.Grad.SetVec(i1, acc.Grad.AtVec(i1)-d1)
			acc.Grad.SetVec(i2, acc.Grad.AtVec(i2)-d2)
			if wantHess {
				acc.Hess.Set(i1, i1, acc.Hess.At(i1, i1)-h11)
				acc.Hess.Set(i2, i2, acc.Hess.At(i2, i2)-h22)
			}
		}
	}
}
