// Package direct is a derivative-free ELBO evaluator that walks every
// pixel of every band with plain scalar arithmetic. It shares the mixture
// and brightness models with the accumulation engine but none of its
// traversal or chain-rule machinery, which makes it an independent
// cross-check for the engine's values.
package direct

import (
	"math"

	"github.com/saurabhr/celeste/brightness"
	"github.com/saurabhr/celeste/bvn"
	"github.com/saurabhr/celeste/image"
	"github.com/saurabhr/celeste/param"
	"github.com/saurabhr/celeste/utils"
)

// Likelihood sums the ELBO value over all pixels of all bands, with every
// source contributing everywhere (no patch gating, no deduplication
// needed).
func Likelihood(images []*image.Image, psf [][]bvn.PsfComponent, srcs []param.SourceParams) (float64, error) {
	none := param.NewActiveSet(len(srcs), nil)
	brights := brightness.Compute(srcs, len(images), false, false)
	total := 0.0
	for b, im := range images {
		band, err := bvn.Load(im, srcs, psf[b], none, false)
		if err != nil {
			return 0, err
		}
		for h := 0; h < im.H; h++ {
			for w := 0; w < im.W; w++ {
				ev := im.Background(h, w)
				vv := 0.0
				for s := range srcs {
					sp := &srcs[s]
					br := &brights[s]
					d1 := band.StarDensity(s, float64(h), float64(w))
					d2 := band.GalDensity(s, float64(h), float64(w))
					eg := sp.TypeWeight(param.Star)*br.El[param.Star][b].Val*d1 +
						sp.TypeWeight(param.Galaxy)*br.El[param.Galaxy][b].Val*d2
					egg := sp.TypeWeight(param.Star)*br.Ell[param.Star][b].Val*d1*d1 +
						sp.TypeWeight(param.Galaxy)*br.Ell[param.Galaxy][b].Val*d2*d2
					ev += eg
					vv += egg - eg*eg
				}
				x := im.Count(h, w)
				total += x*(math.Log(im.Iota[h])+math.Log(ev)-vv/(2*ev*ev)) -
					im.Iota[h]*ev - utils.LogFactorial(x)
			}
		}
	}
	return total, nil
}
