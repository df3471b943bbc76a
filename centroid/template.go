package centroid

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/astrogo/fitsio"
)

// Template is a PSF image used for cross correlation registration
type Template struct {
	Pix    []float64
	Width  int
	Height int
}

// GaussianTemplate returns a size x size circular gaussian of the given
// sigma, normalized to unit sum
func GaussianTemplate(size int, sigma float64) *Template {
	if size%2 == 0 {
		size++
	}
	t := &Template{Pix: make([]float64, size*size), Width: size, Height: size}
	c := float64(size / 2)
	var sum float64
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx, dy := float64(x)-c, float64(y)-c
			v := math.Exp(-(dx*dx + dy*dy) / (2 * sigma * sigma))
			t.Pix[y*size+x] = v
			sum += v
		}
	}
	for i := range t.Pix {
		t.Pix[i] /= sum
	}
	return t
}

// LoadTemplate reads the primary image of a FITS file as a template
func LoadTemplate(path string) (*Template, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fits, err := fitsio.Open(f)
	if err != nil {
		return nil, err
	}
	defer fits.Close()
	img, ok := fits.HDU(0).(fitsio.Image)
	if !ok {
		return nil, fmt.Errorf("%s: primary HDU is not an image", path)
	}
	hdr := img.Header()
	axes := hdr.Axes()
	if len(axes) != 2 {
		return nil, fmt.Errorf("%s: template must be 2D, got %d axes", path, len(axes))
	}
	pix, err := decodeRaw(img.Raw(), hdr.Bitpix(), axes[0]*axes[1])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	zero, scale := cardFloat(hdr, "BZERO", 0), cardFloat(hdr, "BSCALE", 1)
	for i := range pix {
		pix[i] = pix[i]*scale + zero
	}
	return &Template{Pix: pix, Width: axes[0], Height: axes[1]}, nil
}

func decodeRaw(raw []byte, bitpix, n int) ([]float64, error) {
	size := bitpix / 8
	if size < 0 {
		size = -size
	}
	if size == 0 || len(raw) < n*size {
		return nil, fmt.Errorf("short image data, %d bytes for %d pixels of BITPIX %d", len(raw), n, bitpix)
	}
	out := make([]float64, n)
	be := binary.BigEndian
	for i := 0; i < n; i++ {
		b := raw[i*size : (i+1)*size]
		switch bitpix {
		case 8:
			out[i] = float64(b[0])
		case 16:
			out[i] = float64(int16(be.Uint16(b)))
		case 32:
			out[i] = float64(int32(be.Uint32(b)))
		case 64:
			out[i] = float64(int64(be.Uint64(b)))
		case -32:
			out[i] = float64(math.Float32frombits(be.Uint32(b)))
		case -64:
			out[i] = math.Float64frombits(be.Uint64(b))
		default:
			return nil, fmt.Errorf("unsupported BITPIX %d", bitpix)
		}
	}
	return out, nil
}

func cardFloat(hdr *fitsio.Header, name string, def float64) float64 {
	c := hdr.Get(name)
	if c == nil {
		return def
	}
	switch v := c.Value.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return def
	}
}
