package bvn

import (
	"fmt"

	"github.com/saurabhr/celeste/image"
	"github.com/saurabhr/celeste/param"
	"github.com/saurabhr/celeste/sensitive"
	"github.com/saurabhr/celeste/utils"
)

// PsfComponent is one Gaussian of a band's point-spread-function mixture,
// in pixel coordinates relative to the source center.
type PsfComponent struct {
	Mean   [2]float64
	Cov    utils.Sym2
	Weight float64
}

// Band holds one band's fully convolved mixtures, rebuilt from current
// parameters once per band per evaluation and read-only afterwards.
// Star is indexed by [psf component][source]; Gal by
// [galaxy type][psf component][profile component][source]. Derivative
// tensors are populated only for active sources.
type Band struct {
	Star [][]Component
	Gal  [NumGalTypes][][][]GalComponent
}

// Load convolves every source's light model with the band's PSF mixture.
// Galaxy covariances are the PSF covariance plus the WCS-transformed,
// NuBar-scaled shape covariance.
func Load(im *image.Image, srcs []param.SourceParams, psf []PsfComponent, active *param.ActiveSet, wantDerivs bool) (*Band, error) {
	b := &Band{Star: make([][]Component, len(psf))}
	for t := GalType(0); t < NumGalTypes; t++ {
		b.Gal[t] = make([][][]GalComponent, len(psf))
		for k := range psf {
			b.Gal[t][k] = make([][]GalComponent, len(galProfiles[t]))
			for c := range galProfiles[t] {
				b.Gal[t][k][c] = make([]GalComponent, len(srcs))
			}
		}
	}
	for k := range psf {
		b.Star[k] = make([]Component, len(srcs))
	}

	sandwich := utils.SandwichMap(im.WcsJ)
	for s := range srcs {
		sp := &srcs[s]
		center := im.WorldToPix(sp.U)
		_, isActive := active.Local(s)

		for k, pc := range psf {
			mean := [2]float64{center[0] + pc.Mean[0], center[1] + pc.Mean[1]}
			comp, err := NewComponent(mean, pc.Cov, pc.Weight)
			if err != nil {
				return nil, fmt.Errorf("star mixture, source %d: %w", s, err)
			}
			b.Star[k][s] = comp
		}

		shapeCov := utils.Sandwich(im.WcsJ, galShapeCov(sp.GalAxisRatio, sp.GalAngle, sp.GalScale))
		for t := GalType(0); t < NumGalTypes; t++ {
			typeFrac := sp.GalDevFrac
			if t == Exponential {
				typeFrac = 1 - sp.GalDevFrac
			}
			for c, prof := range galProfiles[t] {
				var sd *ShapeDerivs
				if wantDerivs && isActive {
					sd = NewShapeDerivs(sp.GalAxisRatio, sp.GalAngle, sp.GalScale, prof.NuBar, sandwich)
				}
				cov := shapeCov.Scale(prof.NuBar)
				for k, pc := range psf {
					mean := [2]float64{center[0] + pc.Mean[0], center[1] + pc.Mean[1]}
					comp, err := NewComponent(mean, pc.Cov.Add(cov), pc.Weight*prof.Weight*typeFrac)
					if err != nil {
						return nil, fmt.Errorf("galaxy mixture, source %d: %w", s, err)
					}
					b.Gal[t][k][c][s] = GalComponent{Component: comp, Shape: sd}
				}
			}
		}
	}
	return b, nil
}

// StarDensity evaluates the star mixture density of source s at pixel
// (ph, pw), value only.
func (b *Band) StarDensity(s int, ph, pw float64) float64 {
	d := 0.0
	for k := range b.Star {
		d += b.Star[k][s].Density(ph, pw)
	}
	return d
}

// GalDensity evaluates the galaxy mixture density of source s at pixel
// (ph, pw), value only.
func (b *Band) GalDensity(s int, ph, pw float64) float64 {
	d := 0.0
	for t := GalType(0); t < NumGalTypes; t++ {
		for k := range b.Gal[t] {
			for c := range b.Gal[t][k] {
				d += b.Gal[t][k][c][s].Density(ph, pw)
			}
		}
	}
	return d
}

// AddStarDensity accumulates the full star mixture density of source s at
// pixel (ph, pw) into dst, a sensitive value over the star shape subset.
func (b *Band) AddStarDensity(dst *sensitive.Float, s int, ph, pw float64, j [2][2]float64, wantGrad, wantHess bool) {
	for k := range b.Star {
		b.Star[k][s].AddStar(dst, ph, pw, j, wantGrad, wantHess)
	}
}

// AddGalDensity accumulates the full galaxy mixture density of source s
// at pixel (ph, pw) into dst, a sensitive value over the galaxy shape
// subset.
func (b *Band) AddGalDensity(dst *sensitive.Float, s int, ph, pw float64, j [2][2]float64, wantGrad, wantHess bool) {
	for t := GalType(0); t < NumGalTypes; t++ {
		for k := range b.Gal[t] {
			for c := range b.Gal[t][k] {
				b.Gal[t][k][c][s].AddDensity(dst, ph, pw, j, wantGrad, wantHess)
			}
		}
	}
}
