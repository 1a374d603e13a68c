// Package brightness provides per-source expected flux moments. The flux
// of each model type is lognormal with log-mean r1 and log-variance r2,
// so E[l] = exp(r1 + r2/2) and E[l^2] = exp(2*r1 + 2*r2), scaled per band
// by the source's fixed band ratio. Both moments are sensitive values
// over (r1, r2), shared by every pixel of an evaluation.
package brightness

import (
	"math"

	"github.com/saurabhr/celeste/param"
	"github.com/saurabhr/celeste/sensitive"
)

// Source holds one source's moments, indexed by model type then band.
type Source struct {
	El  [param.NumTypes][]*sensitive.Float // E[l]
	Ell [param.NumTypes][]*sensitive.Float // E[l^2]
}

// Compute evaluates the moments of every source for nBands bands.
// Gradients and Hessians are filled per the flags; inactive sources cost
// the same small closed forms as active ones.
func Compute(srcs []param.SourceParams, nBands int, wantGrad, wantHess bool) []Source {
	out := make([]Source, len(srcs))
	for s := range srcs {
		sp := &srcs[s]
		for t := param.ModelType(0); t < param.NumTypes; t++ {
			el := make([]*sensitive.Float, nBands)
			ell := make([]*sensitive.Float, nBands)
			ev := math.Exp(sp.FluxMean[t] + 0.5*sp.FluxVar[t])
			evv := math.Exp(2*sp.FluxMean[t] + 2*sp.FluxVar[t])
			for b := 0; b < nBands; b++ {
				rho := sp.BandRatios[b]
				el[b] = moment(rho*ev, 1, 0.5, wantGrad, wantHess)
				ell[b] = moment(rho*rho*evv, 2, 2, wantGrad, wantHess)
			}
			out[s].El[t] = el
			out[s].Ell[t] = ell
		}
	}
	return out
}

// moment builds a sensitive value for v = c*exp(a*r1 + b*r2), whose
// derivatives over (r1, r2) are v scaled by products of a and b.
func moment(v, a, b float64, wantGrad, wantHess bool) *sensitive.Float {
	f := sensitive.NewFloat(param.NumBrightParams, wantHess)
	f.Val = v
	if !wantGrad {
		return f
	}
	f.Grad.SetVec(0, a*v)
	f.Grad.SetVec(1, b*v)
	if wantHess {
		f.Hess.Set(0, 0, a*a*v)
		f.Hess.Set(0, 1, a*b*v)
		f.Hess.Set(1, 0, a*b*v)
		f.Hess.Set(1, 1, b*b*v)
	}
	return f
}
