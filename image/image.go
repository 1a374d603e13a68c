// Package image holds the read-only pixel-data collaborators of the ELBO
// kernel: calibrated band images and per-source active-pixel patches.
package image

// Image is one band of observed data. Pixels and Epsilon are row-major
// H x W planes; Iota is the per-row sensitivity scale.
type Image struct {
	H, W    int
	Pixels  []float64 // observed photon counts
	Iota    []float64 // sensitivity scale, one entry per row
	Epsilon []float64 // expected background rate per pixel

	// Affine world-to-pixel map: pix = P0 + J * (u - U0).
	WcsJ  [2][2]float64
	WcsP0 [2]float64
	WcsU0 [2]float64
}

// New allocates a zeroed h x w image with an identity world-to-pixel map
// and unit sensitivity.
func New(h, w int) *Image {
	im := &Image{
		H:       h,
		W:       w,
		Pixels:  make([]float64, h*w),
		Iota:    make([]float64, h),
		Epsilon: make([]float64, h*w),
		WcsJ:    [2][2]float64{{1, 0}, {0, 1}},
	}
	for i := range im.Iota {
		im.Iota[i] = 1
	}
	return im
}

func (im *Image) Count(h, w int) float64 {
	return im.Pixels[h*im.W+w]
}

func (im *Image) Background(h, w int) float64 {
	return im.Epsilon[h*im.W+w]
}

// WorldToPix maps a world position through the affine WCS.
func (im *Image) WorldToPix(u [2]float64) [2]float64 {
	d0 := u[0] - im.WcsU0[0]
	d1 := u[1] - im.WcsU0[1]
	return [2]float64{
		im.WcsP0[0] + im.WcsJ[0][0]*d0 + im.WcsJ[0][1]*d1,
		im.WcsP0[1] + im.WcsJ[1][0]*d0 + im.WcsJ[1][1]*d1,
	}
}
