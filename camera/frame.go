package camera

import (
	"image"
	"time"
)

// Frame is one read out image.  Data is row major and strided by Width.
type Frame struct {
	Data   []uint16
	Width  int
	Height int

	// Start is when the exposure began
	Start time.Time

	// Area is the readout area the frame came from
	Area Area

	// Dark is true if the shutter stayed closed
	Dark bool
}

// At returns the pixel at column x, row y
func (f Frame) At(x, y int) uint16 {
	return f.Data[y*f.Width+x]
}

// Empty returns true if the frame holds no pixels
func (f Frame) Empty() bool {
	return len(f.Data) == 0
}

// Gray16 views the frame as an image, big endian as image.Gray16 requires
func (f Frame) Gray16() *image.Gray16 {
	im := image.NewGray16(image.Rect(0, 0, f.Width, f.Height))
	for i, v := range f.Data {
		im.Pix[2*i] = byte(v >> 8)
		im.Pix[2*i+1] = byte(v)
	}
	return im
}

// FlatFrame builds a frame of ones covering area.  It is the test frame of
// the smoke-test exposure mode.
func FlatFrame(area Area) Frame {
	w, h := area.Width(), area.Height()
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	data := make([]uint16, w*h)
	for i := range data {
		data[i] = 1
	}
	return Frame{Data: data, Width: w, Height: h, Start: time.Now(), Area: area, Dark: true}
}
