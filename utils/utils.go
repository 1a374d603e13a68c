package utils

import (
	"errors"
	"math"
)

var ErrNotPosDef = errors.New("matrix not positive definite")

// Sym2 is a symmetric 2x2 matrix stored as (a11, a12, a22).
type Sym2 [3]float64

func (s Sym2) Det() float64 {
	return s[0]*s[2] - s[1]*s[1]
}

// Inverse returns the inverse of s, or ErrNotPosDef if s is not
// positive definite.
func (s Sym2) Inverse() (Sym2, error) {
	det := s.Det()
	if s[0] <= 0 || det <= 0 {
		return Sym2{}, ErrNotPosDef
	}
	return Sym2{s[2] / det, -s[1] / det, s[0] / det}, nil
}

func (s Sym2) Add(o Sym2) Sym2 {
	return Sym2{s[0] + o[0], s[1] + o[1], s[2] + o[2]}
}

func (s Sym2) Scale(c float64) Sym2 {
	return Sym2{c * s[0], c * s[1], c * s[2]}
}

// Sandwich computes J * s * J^T for a general 2x2 matrix J given in
// row-major order.
func Sandwich(j [2][2]float64, s Sym2) Sym2 {
	return Sym2{
		j[0][0]*j[0][0]*s[0] + 2*j[0][0]*j[0][1]*s[1] + j[0][1]*j[0][1]*s[2],
		j[0][0]*j[1][0]*s[0] + (j[0][0]*j[1][1]+j[0][1]*j[1][0])*s[1] + j[0][1]*j[1][1]*s[2],
		j[1][0]*j[1][0]*s[0] + 2*j[1][0]*j[1][1]*s[1] + j[1][1]*j[1][1]*s[2],
	}
}

// SandwichMap returns the 3x3 linear map M such that the (11, 12, 22)
// components of J*S*J^T equal M applied to the components of S.
func SandwichMap(j [2][2]float64) [3][3]float64 {
	return [3][3]float64{
		{j[0][0] * j[0][0], 2 * j[0][0] * j[0][1], j[0][1] * j[0][1]},
		{j[0][0] * j[1][0], j[0][0]*j[1][1] + j[0][1]*j[1][0], j[0][1] * j[1][1]},
		{j[1][0] * j[1][0], 2 * j[1][0] * j[1][1], j[1][1] * j[1][1]},
	}
}

// LogFactorial returns log(x!) for non-negative x via the gamma function.
func LogFactorial(x float64) float64 {
	v, _ := math.Lgamma(x + 1)
	return v
}
