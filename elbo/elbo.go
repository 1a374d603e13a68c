// Package elbo accumulates the evidence lower bound of the image model
// and its derivatives over the active sources' parameters: per pixel it
// combines the mixture densities and brightness moments into an expected
// brightness and variance, applies the second-order expansion of the
// Poisson log term, and folds everything into one running sensitive
// value.
package elbo

import (
	"errors"
	"fmt"
	"math"

	"github.com/saurabhr/celeste/brightness"
	"github.com/saurabhr/celeste/bvn"
	"github.com/saurabhr/celeste/image"
	"github.com/saurabhr/celeste/param"
	"github.com/saurabhr/celeste/prior"
	"github.com/saurabhr/celeste/sensitive"
	"github.com/saurabhr/celeste/utils"
)

var ErrNotFinite = errors.New("non-finite ELBO")

// Evaluator owns every scratch buffer of one evaluation context: the
// per-source density and moment accumulators, the per-pixel totals, the
// global ELBO accumulator and the pixel-dedup bitmap. All buffers are
// allocated once here and cleared in place between uses; an Evaluator
// must not be shared between concurrent evaluations.
type Evaluator struct {
	images  []*image.Image
	psf     [][]bvn.PsfComponent // per band
	patches [][]image.Patch      // [source][band]
	active  *param.ActiveSet

	wantGrad bool
	wantHess bool

	fsStar  *sensitive.Float // star shape density
	fsGal   *sensitive.Float // galaxy shape density
	eg      *sensitive.Float // per-source E[G]
	egg     *sensitive.Float // per-source E[G^2]
	varG    *sensitive.Float // per-source Var(G)
	pixE    *sensitive.Float // pixel total E[G]
	pixVar  *sensitive.Float // pixel total Var(G)
	acc     *sensitive.Float // running ELBO
	idxMaps [][]int          // active-local -> global parameter indices
	visited []bool

	lastBand, lastH, lastW int
}

// NewEvaluator preallocates an evaluation context. patches is indexed by
// [source][band]; psf holds each band's PSF mixture. wantHess requires
// wantGrad.
func NewEvaluator(images []*image.Image, psf [][]bvn.PsfComponent, patches [][]image.Patch, active *param.ActiveSet, wantGrad, wantHess bool) *Evaluator {
	e := &Evaluator{
		images:   images,
		psf:      psf,
		patches:  patches,
		active:   active,
		wantGrad: wantGrad,
		wantHess: wantHess,
		fsStar:   sensitive.NewFloat(len(param.ShapeIDs(param.Star)), wantHess),
		fsGal:    sensitive.NewFloat(len(param.ShapeIDs(param.Galaxy)), wantHess),
		eg:       sensitive.NewFloat(param.NumSourceParams, wantHess),
		egg:      sensitive.NewFloat(param.NumSourceParams, wantHess),
		varG:     sensitive.NewFloat(param.NumSourceParams, wantHess),
		pixE:     sensitive.NewFloat(active.NumParams(), wantHess),
		pixVar:   sensitive.NewFloat(active.NumParams(), wantHess),
		acc:      sensitive.NewFloat(active.NumParams(), wantHess),
	}
	e.idxMaps = make([][]int, active.Len())
	for k := range e.idxMaps {
		ids := make([]int, param.NumSourceParams)
		for i := range ids {
			ids[i] = active.Offset(k) + i
		}
		e.idxMaps[k] = ids
	}
	return e
}

// Likelihood evaluates the ELBO (without the prior term) at the given
// parameters and returns a deep-copy snapshot of the accumulator. The
// result is checked for finiteness; a NaN or Inf anywhere yields
// ErrNotFinite naming the last pixel processed.
func (e *Evaluator) Likelihood(srcs []param.SourceParams) (sensitive.Snapshot, error) {
	e.acc.Clear(e.wantHess)
	brights := brightness.Compute(srcs, len(e.images), e.wantGrad, e.wantHess)
	for b := range e.images {
		band, err := bvn.Load(e.images[b], srcs, e.psf[b], e.active, e.wantGrad)
		if err != nil {
			return sensitive.Snapshot{}, err
		}
		e.traverseBand(b, band, srcs, brights)
	}
	if !e.acc.IsFinite() {
		return sensitive.Snapshot{}, fmt.Errorf("%w: band %d, pixel (%d, %d)",
			ErrNotFinite, e.lastBand, e.lastH, e.lastW)
	}
	return e.acc.Snapshot(), nil
}

// Objective is Likelihood minus the prior divergence.
func (e *Evaluator) Objective(srcs []param.SourceParams, pr *prior.Prior) (sensitive.Snapshot, error) {
	if _, err := e.Likelihood(srcs); err != nil {
		return sensitive.Snapshot{}, err
	}
	pr.SubtractKL(e.acc, srcs, e.active, e.wantGrad, e.wantHess)
	return e.acc.Snapshot(), nil
}

// traverseBand walks each active source's active-pixel bitmap, translated
// to image coordinates, deduplicating pixels covered by more than one
// active source so that every image pixel contributes at most once.
func (e *Evaluator) traverseBand(b int, band *bvn.Band, srcs []param.SourceParams, brights []brightness.Source) {
	im := e.images[b]
	multi := e.active.Len() > 1
	if multi {
		if len(e.visited) < im.H*im.W {
			e.visited = make([]bool, im.H*im.W)
		} else {
			for i := range e.visited {
				e.visited[i] = false
			}
		}
	}
	for k := 0; k < e.active.Len(); k++ {
		s := e.active.Global(k)
		p := &e.patches[s][b]
		for lh := range p.Active {
			for lw, on := range p.Active[lh] {
				if !on {
					continue
				}
				h := p.H0 + lh
				w := p.W0 + lw
				if h < 0 || h >= im.H || w < 0 || w >= im.W {
					continue
				}
				if multi {
					if e.visited[h*im.W+w] {
						continue
					}
					e.visited[h*im.W+w] = true
				}
				e.addPixel(b, im, band, h, w, srcs, brights)
			}
		}
	}
}

// addPixel accumulates one pixel's three ELBO terms across all sources
// overlapping it, active or not.
func (e *Evaluator) addPixel(b int, im *image.Image, band *bvn.Band, h, w int, srcs []param.SourceParams, brights []brightness.Source) {
	e.lastBand, e.lastH, e.lastW = b, h, w
	ph, pw := float64(h), float64(w)

	e.pixE.Clear(e.wantHess)
	e.pixVar.Clear(e.wantHess)
	e.pixE.Val += im.Background(h, w) // sky, value only

	for s := range srcs {
		if !e.patches[s][b].Contains(h, w) {
			continue
		}
		sp := &srcs[s]
		br := &brights[s]
		local, isActive := e.active.Local(s)
		if isActive && e.wantGrad {
			e.fsStar.Clear(e.wantHess)
			e.fsGal.Clear(e.wantHess)
			band.AddStarDensity(e.fsStar, s, ph, pw, im.WcsJ, true, e.wantHess)
			band.AddGalDensity(e.fsGal, s, ph, pw, im.WcsJ, true, e.wantHess)

			e.eg.Clear(e.wantHess)
			e.egg.Clear(e.wantHess)
			accumulateType(e.eg, e.egg, e.fsStar, br.El[param.Star][b], br.Ell[param.Star][b],
				sp.TypeWeight(param.Star), param.ShapeIDs(param.Star), param.BrightIDs(param.Star), e.wantHess)
			accumulateType(e.eg, e.egg, e.fsGal, br.El[param.Galaxy][b], br.Ell[param.Galaxy][b],
				sp.TypeWeight(param.Galaxy), param.ShapeIDs(param.Galaxy), param.BrightIDs(param.Galaxy), e.wantHess)

			e.varG.Clear(e.wantHess)
			deriveVariance(e.varG, e.egg, e.eg, e.wantHess)

			e.pixE.AddSubset(e.eg, e.idxMaps[local], e.wantHess)
			e.pixVar.AddSubset(e.varG, e.idxMaps[local], e.wantHess)
		} else {
			// Inactive (or derivative-free) source: scalar contribution only.
			d1 := band.StarDensity(s, ph, pw)
			d2 := band.GalDensity(s, ph, pw)
			egv := sp.TypeWeight(param.Star)*br.El[param.Star][b].Val*d1 +
				sp.TypeWeight(param.Galaxy)*br.El[param.Galaxy][b].Val*d2
			eggv := sp.TypeWeight(param.Star)*br.Ell[param.Star][b].Val*d1*d1 +
				sp.TypeWeight(param.Galaxy)*br.Ell[param.Galaxy][b].Val*d2*d2
			e.pixE.Val += egv
			e.pixVar.Val += eggv - egv*egv
		}
	}

	e.addLogTerm(im, h, w)
}

// addLogTerm folds the pixel totals into the running ELBO:
//
//	elbo += x * (log(iota) + log(E[G]) - Var(G)/(2*E[G]^2))
//	      - iota * E[G] - log(x!)
//
// The log term is combined with the (Var, E) sensitive values through its
// closed-form gradient and Hessian in (Var, E).
func (e *Evaluator) addLogTerm(im *image.Image, h, w int) {
	x := im.Count(h, w)
	iota := im.Iota[h]
	ev := e.pixE.Val
	vv := e.pixVar.Val

	ev2 := ev * ev
	ev3 := ev2 * ev
	g := math.Log(ev) - vv/(2*ev2)
	gV := -1 / (2 * ev2)
	gE := 1/ev + vv/ev3
	gVE := 1 / ev3
	gEE := -(1/ev2 + 3*vv/(ev2*ev2))

	sensitive.CombineAdd(e.acc, e.pixVar, e.pixE, x, g, gV, gE, 0, gVE, gEE, e.wantHess)
	e.acc.Val += x * math.Log(iota)
	e.acc.AddScaled(e.pixE, -iota, e.wantHess)
	e.acc.Val -= utils.LogFactorial(x)
}
