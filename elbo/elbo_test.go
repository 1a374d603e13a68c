package elbo_test

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/saurabhr/celeste/bvn"
	"github.com/saurabhr/celeste/direct"
	"github.com/saurabhr/celeste/elbo"
	"github.com/saurabhr/celeste/image"
	"github.com/saurabhr/celeste/param"
	"github.com/saurabhr/celeste/prior"
	"github.com/saurabhr/celeste/utils"
)

// unitPsf is a single-component PSF with unit covariance and unit
// normalization (z = weight / 2*pi*sqrt(det) = 1).
func unitPsf() [][]bvn.PsfComponent {
	return [][]bvn.PsfComponent{{{Cov: utils.Sym2{1, 0, 1}, Weight: 2 * math.Pi}}}
}

func starSource() param.SourceParams {
	sp := param.SourceParams{
		U:            [2]float64{3, 3},
		GalAxisRatio: 0.7,
		GalAngle:     0.4,
		GalScale:     1.0,
		GalFrac:      0,
		GalDevFrac:   0.3,
		BandRatios:   []float64{1},
	}
	sp.FluxMean[param.Star] = 0.4
	sp.FluxVar[param.Star] = 0.2
	sp.FluxMean[param.Galaxy] = 0.1
	sp.FluxVar[param.Galaxy] = 0.3
	return sp
}

// fullPatches marks every pixel active for every source.
func fullPatches(n int, im *image.Image) [][]image.Patch {
	out := make([][]image.Patch, n)
	for s := range out {
		p := image.NewPatch(0, 0, im.H, im.W)
		for h := range p.Active {
			for w := range p.Active[h] {
				p.Active[h][w] = true
			}
		}
		out[s] = []image.Patch{p}
	}
	return out
}

// One star at pixel (3,3), unit PSF, background 0.1, x=5 at that pixel,
// iota=1, a single active pixel: the ELBO must match the closed form
// x*(log(iota) + log(E) - V/(2E^2)) - iota*E - log(x!) with
// E = eps + E[l] and V = E[l^2] - E[l]^2.
func TestEndToEndSingleStar(t *testing.T) {
	im := image.New(7, 7)
	for i := range im.Epsilon {
		im.Epsilon[i] = 0.1
	}
	im.Pixels[3*7+3] = 5

	patch := image.NewPatch(3, 3, 1, 1)
	patch.Active[0][0] = true
	patches := [][]image.Patch{{patch}}

	sp := starSource()
	active := param.NewActiveSet(1, []int{0})
	ev := elbo.NewEvaluator([]*image.Image{im}, unitPsf(), patches, active, true, true)
	snap, err := ev.Likelihood([]param.SourceParams{sp})
	require.NoError(t, err)

	el := math.Exp(0.4 + 0.1)
	ell := math.Exp(2*0.4 + 2*0.2)
	e := 0.1 + el // density is exactly 1 at the source center
	v := ell - el*el
	want := 5*(math.Log(e)-v/(2*e*e)) - e - utils.LogFactorial(5)
	require.InDelta(t, want, snap.Val, 1e-10)
}

// Deterministic brightness (r2 = 0) with a pure star source forces
// Var(G) = 0 at every pixel.
func TestVarianceZeroDegenerate(t *testing.T) {
	im := image.New(7, 7)
	for i := range im.Epsilon {
		im.Epsilon[i] = 0.1
	}
	im.Pixels[3*7+3] = 5

	patch := image.NewPatch(3, 3, 1, 1)
	patch.Active[0][0] = true

	sp := starSource()
	sp.FluxVar[param.Star] = 0
	active := param.NewActiveSet(1, []int{0})
	ev := elbo.NewEvaluator([]*image.Image{im}, unitPsf(), [][]image.Patch{{patch}}, active, true, true)
	snap, err := ev.Likelihood([]param.SourceParams{sp})
	require.NoError(t, err)

	e := 0.1 + math.Exp(0.4)
	want := 5*math.Log(e) - e - utils.LogFactorial(5)
	require.InDelta(t, want, snap.Val, 1e-10)
}

// fdScene is the finite-difference toy scene: one mixed star/galaxy
// source, uniform background, a single 5x5 active patch, varying counts
// and per-row sensitivities.
func fdScene() (*image.Image, [][]image.Patch, param.SourceParams) {
	im := image.New(7, 7)
	for i := range im.Epsilon {
		im.Epsilon[i] = 0.1
	}
	for h := 0; h < im.H; h++ {
		im.Iota[h] = 1 + 0.05*float64(h)
		for w := 0; w < im.W; w++ {
			im.Pixels[h*im.W+w] = float64((h*3+w*5)%7) + 1
		}
	}
	patch := image.NewPatch(1, 1, 5, 5)
	for h := range patch.Active {
		for w := range patch.Active[h] {
			patch.Active[h][w] = true
		}
	}
	sp := starSource()
	sp.GalFrac = 0.35
	return im, [][]image.Patch{{patch}}, sp
}

// Analytic gradient and Hessian of the likelihood must match centered
// finite differences.
func TestLikelihoodDerivsFiniteDiff(t *testing.T) {
	const eps = 1e-6
	im, patches, sp := fdScene()
	active := param.NewActiveSet(1, []int{0})
	imgs := []*image.Image{im}
	psf := unitPsf()

	full := elbo.NewEvaluator(imgs, psf, patches, active, true, true)
	snap, err := full.Likelihood([]param.SourceParams{sp})
	require.NoError(t, err)

	valOnly := elbo.NewEvaluator(imgs, psf, patches, active, false, false)
	gradOnly := elbo.NewEvaluator(imgs, psf, patches, active, true, false)

	// The derivative-free path must agree with the full path on values.
	v, err := valOnly.Likelihood([]param.SourceParams{sp})
	require.NoError(t, err)
	require.InDelta(t, snap.Val, v.Val, 1e-10)

	for i := 0; i < param.NumSourceParams; i++ {
		up, dn := sp, sp
		up.Set(i, sp.Get(i)+eps)
		dn.Set(i, sp.Get(i)-eps)

		vUp, err := valOnly.Likelihood([]param.SourceParams{up})
		require.NoError(t, err)
		vDn, err := valOnly.Likelihood([]param.SourceParams{dn})
		require.NoError(t, err)
		fd := (vUp.Val - vDn.Val) / (2 * eps)
		require.InDelta(t, fd, snap.Grad.AtVec(i), 1e-4*math.Abs(fd)+1e-6, "gradient %d", i)

		gUp, err := gradOnly.Likelihood([]param.SourceParams{up})
		require.NoError(t, err)
		gDn, err := gradOnly.Likelihood([]param.SourceParams{dn})
		require.NoError(t, err)
		for j := 0; j < param.NumSourceParams; j++ {
			fdH := (gUp.Grad.AtVec(j) - gDn.Grad.AtVec(j)) / (2 * eps)
			require.InDelta(t, fdH, snap.Hess.At(i, j), 1e-4*math.Abs(fdH)+1e-6, "hessian (%d,%d)", i, j)
		}
	}
}

// The accumulated Hessian must be exactly symmetric, entry for entry.
func TestHessianExactSymmetry(t *testing.T) {
	im, _, sp := fdScene()
	sp2 := sp
	sp2.U = [2]float64{4.2, 2.6}
	srcs := []param.SourceParams{sp, sp2}
	active := param.NewActiveSet(2, []int{0, 1})

	ev := elbo.NewEvaluator([]*image.Image{im}, unitPsf(), fullPatches(2, im), active, true, true)
	snap, err := ev.Likelihood(srcs)
	require.NoError(t, err)

	n := active.NumParams()
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			require.Equal(t, snap.Hess.At(i, j), snap.Hess.At(j, i), "entry (%d,%d)", i, j)
		}
	}
}

// Two active sources with fully overlapping patches must produce the
// same total as the brute-force evaluator that visits every pixel
// exactly once: the traversal never double-counts shared pixels.
func TestPixelDedupAgainstDirect(t *testing.T) {
	im, _, sp := fdScene()
	sp2 := sp
	sp2.U = [2]float64{4.0, 4.0}
	srcs := []param.SourceParams{sp, sp2}
	active := param.NewActiveSet(2, []int{0, 1})

	ev := elbo.NewEvaluator([]*image.Image{im}, unitPsf(), fullPatches(2, im), active, true, true)
	snap, err := ev.Likelihood(srcs)
	require.NoError(t, err)

	want, err := direct.Likelihood([]*image.Image{im}, unitPsf(), srcs)
	require.NoError(t, err)
	require.InDelta(t, want, snap.Val, 1e-10)
}

// An inactive source still contributes its scalar light.
func TestInactiveSourceValueOnly(t *testing.T) {
	im, _, sp := fdScene()
	sp2 := sp
	sp2.U = [2]float64{4.0, 4.0}
	srcs := []param.SourceParams{sp, sp2}
	active := param.NewActiveSet(2, []int{0})

	ev := elbo.NewEvaluator([]*image.Image{im}, unitPsf(), fullPatches(2, im), active, true, true)
	snap, err := ev.Likelihood(srcs)
	require.NoError(t, err)
	require.Equal(t, param.NumSourceParams, snap.Grad.Len())

	// Value matches the brute-force sum over both sources.
	want, err := direct.Likelihood([]*image.Image{im}, unitPsf(), srcs)
	require.NoError(t, err)
	require.InDelta(t, want, snap.Val, 1e-10)
}

// A zero expected brightness drives the log term non-finite, which must
// surface as ErrNotFinite rather than a silent NaN.
func TestNotFinite(t *testing.T) {
	im := image.New(5, 5)
	im.Pixels[2*5+2] = 1
	patch := image.NewPatch(2, 2, 1, 1)
	patch.Active[0][0] = true

	sp := starSource()
	sp.BandRatios = []float64{0} // no light, no background
	active := param.NewActiveSet(1, []int{0})
	ev := elbo.NewEvaluator([]*image.Image{im}, unitPsf(), [][]image.Patch{{patch}}, active, true, true)
	_, err := ev.Likelihood([]param.SourceParams{sp})
	require.ErrorIs(t, err, elbo.ErrNotFinite)
}

// Objective subtracts the closed-form brightness divergence from the
// likelihood.
func TestObjectiveSubtractsPrior(t *testing.T) {
	im, patches, sp := fdScene()
	active := param.NewActiveSet(1, []int{0})
	ev := elbo.NewEvaluator([]*image.Image{im}, unitPsf(), patches, active, true, true)

	lik, err := ev.Likelihood([]param.SourceParams{sp})
	require.NoError(t, err)

	pr := &prior.Prior{}
	pr.Flux[param.Star] = prior.Normal{Mean: 0, Var: 1}
	pr.Flux[param.Galaxy] = prior.Normal{Mean: 0, Var: 1}
	obj, err := ev.Objective([]param.SourceParams{sp}, pr)
	require.NoError(t, err)

	klTotal := 0.0
	for _, mt := range []param.ModelType{param.Star, param.Galaxy} {
		r1, r2 := sp.FluxMean[mt], sp.FluxVar[mt]
		klTotal += 0.5*math.Log(1/r2) + (r2+r1*r1)/2 - 0.5
	}
	require.InDelta(t, lik.Val-klTotal, obj.Val, 1e-12)
}

// Repeated evaluations are deterministic, and returned snapshots never
// alias the evaluator's scratch buffers.
func TestSnapshotsIndependent(t *testing.T) {
	im, patches, sp := fdScene()
	active := param.NewActiveSet(1, []int{0})
	ev := elbo.NewEvaluator([]*image.Image{im}, unitPsf(), patches, active, true, true)

	first, err := ev.Likelihood([]param.SourceParams{sp})
	require.NoError(t, err)
	firstGrad := append([]float64(nil), first.Grad.RawVector().Data...)

	again, err := ev.Likelihood([]param.SourceParams{sp})
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(firstGrad, again.Grad.RawVector().Data))

	// A later evaluation at different parameters must not disturb the
	// earlier snapshot.
	moved := sp
	moved.U = [2]float64{2.5, 3.5}
	_, err = ev.Likelihood([]param.SourceParams{moved})
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(firstGrad, first.Grad.RawVector().Data))
}
