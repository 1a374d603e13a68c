package param

import "errors"

var ErrSourceOutOfRange = errors.New("source index out of range")

// ActiveSet is the bidirectional mapping between global source indices and
// the compact indices of the sources whose derivatives are computed. Active
// source k owns the global parameter block
// [k*NumSourceParams, (k+1)*NumSourceParams).
type ActiveSet struct {
	globals []int
	locals  []int // global index -> local index, -1 if inactive
}

// NewActiveSet builds the mapping for nSources sources, of which the listed
// global indices are active. Order of actives is preserved.
func NewActiveSet(nSources int, actives []int) *ActiveSet {
	a := &ActiveSet{
		globals: make([]int, len(actives)),
		locals:  make([]int, nSources),
	}
	for i := range a.locals {
		a.locals[i] = -1
	}
	for k, s := range actives {
		if s < 0 || s >= nSources {
			panic(ErrSourceOutOfRange)
		}
		a.globals[k] = s
		a.locals[s] = k
	}
	return a
}

// Len is the number of active sources.
func (a *ActiveSet) Len() int {
	return len(a.globals)
}

// NumSources is the total number of sources, active or not.
func (a *ActiveSet) NumSources() int {
	return len(a.locals)
}

// Global maps an active-local index to the global source index.
func (a *ActiveSet) Global(local int) int {
	return a.globals[local]
}

// Local maps a global source index to its active-local index. The second
// return is false for inactive sources.
func (a *ActiveSet) Local(global int) (int, bool) {
	l := a.locals[global]
	return l, l >= 0
}

// Offset is the first global parameter index owned by active source local.
func (a *ActiveSet) Offset(local int) int {
	return local * NumSourceParams
}

// NumParams is the dimension of the concatenated active parameter vector.
func (a *ActiveSet) NumParams() int {
	return len(a.globals) * NumSourceParams
}
