package centroid

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// correlate is the template correlation with the template centered on
// pixel (cx, cy).  Pixels outside the box count as zero.
func (win window) correlate(t *Template, cx, cy int) float64 {
	tcx, tcy := t.Width/2, t.Height/2
	var sum float64
	for b := 0; b < t.Height; b++ {
		y := cy + b - tcy
		if y < 0 || y >= win.h {
			continue
		}
		for a := 0; a < t.Width; a++ {
			x := cx + a - tcx
			if x < 0 || x >= win.w {
				continue
			}
			sum += win.data[y*win.w+x] * t.Pix[b*t.Width+a]
		}
	}
	return sum
}

// register finds the best template match in a grid x grid window around
// (x, y) and refines it to sub-pixel precision with a least squares
// parabola through five correlation samples on each axis.  An axis whose
// fit fails, or lands more than two pixels from the peak, keeps the
// integer peak and ok is false.
func (win window) register(x, y float64, t *Template, grid int) (rx, ry float64, ok bool) {
	ix, iy := int(math.Round(x)), int(math.Round(y))
	half := grid / 2
	best := math.Inf(-1)
	px, py := ix, iy
	for dv := -half; dv <= half; dv++ {
		for du := -half; du <= half; du++ {
			c := win.correlate(t, ix+du, iy+dv)
			if c > best {
				best, px, py = c, ix+du, iy+dv
			}
		}
	}
	var xs, ys [5]float64
	for k := -2; k <= 2; k++ {
		xs[k+2] = win.correlate(t, px+k, py)
		ys[k+2] = win.correlate(t, px, py+k)
	}
	ox, okx := parabolaVertex(xs)
	oy, oky := parabolaVertex(ys)
	return float64(px) + ox, float64(py) + oy, okx && oky
}

// parabolaVertex fits c = a t^2 + b t + d to samples at t = -2..2 and
// returns the vertex offset of a downward parabola
func parabolaVertex(samples [5]float64) (float64, bool) {
	a := mat.NewDense(5, 3, nil)
	for i := 0; i < 5; i++ {
		t := float64(i - 2)
		a.Set(i, 0, t*t)
		a.Set(i, 1, t)
		a.Set(i, 2, 1)
	}
	var coef mat.VecDense
	if err := coef.SolveVec(a, mat.NewVecDense(5, samples[:])); err != nil {
		return 0, false
	}
	qa, qb := coef.AtVec(0), coef.AtVec(1)
	if !(qa < 0) {
		return 0, false
	}
	off := -qb / (2 * qa)
	if math.Abs(off) > 2 || !finiteAll(off) {
		return 0, false
	}
	return off, true
}
