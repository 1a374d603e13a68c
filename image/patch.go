package image

// Patch is one source's rectangular region of interest in one band: a
// corner offset into image coordinates and a bitmap marking which pixels
// inside the box receive non-negligible contribution from the source.
type Patch struct {
	H0, W0 int      // image coordinates of the bitmap's (0, 0) corner
	Active [][]bool // bitmap, Active[h][w] in patch-local coordinates
}

// NewPatch allocates an all-inactive h x w patch anchored at (h0, w0).
func NewPatch(h0, w0, h, w int) Patch {
	active := make([][]bool, h)
	for i := range active {
		active[i] = make([]bool, w)
	}
	return Patch{H0: h0, W0: w0, Active: active}
}

// Contains reports whether image pixel (h, w) is active for this source.
// Bounds are checked inclusively on both axes after corner translation;
// coordinates falling outside the bitmap are inactive, never an error.
func (p *Patch) Contains(h, w int) bool {
	lh := h - p.H0
	lw := w - p.W0
	if lh < 0 || lh >= len(p.Active) {
		return false
	}
	if lw < 0 || lw >= len(p.Active[lh]) {
		return false
	}
	return p.Active[lh][lw]
}
