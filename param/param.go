// Package param fixes the canonical per-source parameter layout and the
// index tables that map model-type-local derivative blocks into it.
package param

import "errors"

var ErrUnknownIndex = errors.New("unknown parameter index")

// ModelType selects one of the two light-profile models of a source.
type ModelType int

const (
	Star ModelType = iota
	Galaxy
	NumTypes
)

// Canonical per-source parameter indices. The position block (U0, U1) is
// shared between the star and galaxy shape subsets; every other block is
// owned by exactly one model type.
const (
	U0 = iota // position, first world coordinate
	U1
	GalAxis  // galaxy minor/major axis ratio
	GalAngle // galaxy position angle (radians)
	GalScale // galaxy half-light radius scale
	StarFlux // log-flux mean, star model
	StarFluxVar
	GalFlux // log-flux mean, galaxy model
	GalFluxVar
	NumSourceParams
)

var (
	starShape = []int{U0, U1}
	galShape  = []int{U0, U1, GalAxis, GalAngle, GalScale}

	starBright = []int{StarFlux, StarFluxVar}
	galBright  = []int{GalFlux, GalFluxVar}
)

// ShapeIDs returns the canonical indices of the shape (position +
// morphology) subset of model type t, in local derivative order.
func ShapeIDs(t ModelType) []int {
	if t == Star {
		return starShape
	}
	return galShape
}

// BrightIDs returns the canonical indices of the brightness subset of
// model type t, in local derivative order.
func BrightIDs(t ModelType) []int {
	if t == Star {
		return starBright
	}
	return galBright
}

// NumBrightParams is the size of each model type's brightness subset.
const NumBrightParams = 2

// SourceParams holds one source's current parameters. Fields outside the
// canonical vector (GalFrac, GalDevFrac, BandRatios) are mixing weights
// read directly during evaluation and never differentiated.
type SourceParams struct {
	U [2]float64 // world position

	GalAxisRatio float64
	GalAngle     float64
	GalScale     float64

	// Log-flux mean and variance per model type, indexed by ModelType.
	FluxMean [NumTypes]float64
	FluxVar  [NumTypes]float64

	GalFrac    float64 // weight of the galaxy model, in [0, 1]
	GalDevFrac float64 // de Vaucouleurs fraction of the galaxy profile

	BandRatios []float64 // fixed flux ratio per band
}

// TypeWeight returns the non-differentiated mixture weight a_t.
func (s *SourceParams) TypeWeight(t ModelType) float64 {
	if t == Star {
		return 1 - s.GalFrac
	}
	return s.GalFrac
}

// Get reads the canonical parameter idx.
func (s *SourceParams) Get(idx int) float64 {
	switch idx {
	case U0:
		return s.U[0]
	case U1:
		return s.U[1]
	case GalAxis:
		return s.GalAxisRatio
	case GalAngle:
		return s.GalAngle
	case GalScale:
		return s.GalScale
	case StarFlux:
		return s.FluxMean[Star]
	case StarFluxVar:
		return s.FluxVar[Star]
	case GalFlux:
		return s.FluxMean[Galaxy]
	case GalFluxVar:
		return s.FluxVar[Galaxy]
	}
	panic(ErrUnknownIndex)
}

// Set writes the canonical parameter idx.
func (s *SourceParams) Set(idx int, v float64) {
	switch idx {
	case U0:
		s.U[0] = v
	case U1:
		s.U[1] = v
	case GalAxis:
		s.GalAxisRatio = v
	case GalAngle:
		s.GalAngle = v
	case GalScale:
		s.GalScale = v
	case StarFlux:
		s.FluxMean[Star] = v
	case StarFluxVar:
		s.FluxVar[Star] = v
	case GalFlux:
		s.FluxMean[Galaxy] = v
	case GalFluxVar:
		s.FluxVar[Galaxy] = v
	default:
		panic(ErrUnknownIndex)
	}
}
