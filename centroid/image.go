package centroid

import (
	"fmt"

	"github.com/nasa-jpl/agcc/camera"
)

// Image is a row major float frame
type Image struct {
	Pix    []float64
	Width  int
	Height int
}

// NewImage allocates a zero image
func NewImage(width, height int) *Image {
	return &Image{Pix: make([]float64, width*height), Width: width, Height: height}
}

// FromFrame converts a camera frame
func FromFrame(f camera.Frame) *Image {
	im := NewImage(f.Width, f.Height)
	for i, v := range f.Data {
		im.Pix[i] = float64(v)
	}
	return im
}

// At returns the pixel at column x, row y
func (im *Image) At(x, y int) float64 {
	return im.Pix[y*im.Width+x]
}

// Set sets the pixel at column x, row y
func (im *Image) Set(x, y int, v float64) {
	im.Pix[y*im.Width+x] = v
}

// Clone returns a deep copy
func (im *Image) Clone() *Image {
	out := &Image{Pix: make([]float64, len(im.Pix)), Width: im.Width, Height: im.Height}
	copy(out.Pix, im.Pix)
	return out
}

// cut copies region r out of the image
func (im *Image) cut(r Region) []float64 {
	w := r.Width()
	out := make([]float64, w*r.Height())
	for y := r.Y0; y < r.Y1; y++ {
		copy(out[(y-r.Y0)*w:(y-r.Y0+1)*w], im.Pix[y*im.Width+r.X0:y*im.Width+r.X1])
	}
	return out
}

func (im *Image) checkRegion(r Region) error {
	if r.X0 < 0 || r.Y0 < 0 || r.X1 > im.Width || r.Y1 > im.Height {
		return fmt.Errorf("region x[%d:%d] y[%d:%d] outside %dx%d frame", r.X0, r.X1, r.Y0, r.Y1, im.Width, im.Height)
	}
	return nil
}
