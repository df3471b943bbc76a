package centroid

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/nasa-jpl/agcc/mathx"
)

// moments is a position and second moment matrix in region local pixels
type moments struct {
	x, y       float64
	xx, xy, yy float64
}

func (m moments) sym() *mat.SymDense {
	return mat.NewSymDense(2, []float64{m.xx, m.xy, m.xy, m.yy})
}

// ellipticity returns the e1, e2 shape components of the moment matrix
func (m moments) ellipticity() (e1, e2 float64) {
	tr := m.xx + m.yy
	if tr == 0 {
		return 0, 0
	}
	return (m.xx - m.yy) / tr, 2 * m.xy / tr
}

// positiveDefinite reports whether m's moment matrix is usable as a
// gaussian weight covariance
func (m moments) positiveDefinite() bool {
	if !finiteAll(m.xx, m.xy, m.yy) {
		return false
	}
	var ch mat.Cholesky
	return ch.Factorize(m.sym())
}

// window is the analysis box of a region local image
type window struct {
	data []float64
	w, h int
}

// weightedPass computes the weighted zeroth, first and central second
// moments of the box around (x, y) under a gaussian weight of covariance
// cov.  ok is false when the weighted flux is not positive.
func (win window) weightedPass(x, y float64, cov moments) (mx, my float64, p moments, ok bool) {
	var ch mat.Cholesky
	if !ch.Factorize(cov.sym()) {
		return 0, 0, moments{}, false
	}
	var inv mat.SymDense
	if err := ch.InverseTo(&inv); err != nil {
		return 0, 0, moments{}, false
	}
	ixx, ixy, iyy := inv.At(0, 0), inv.At(0, 1), inv.At(1, 1)

	cx, cy := int(math.Floor(x)), int(math.Floor(y))
	x0, x1 := maxInt(0, cx-WindowHalfWidth), minInt(win.w-1, cx+WindowHalfWidth)
	y0, y1 := maxInt(0, cy-WindowHalfWidth), minInt(win.h-1, cy+WindowHalfWidth)

	var sw, sx, sy, sxx, sxy, syy float64
	for j := y0; j <= y1; j++ {
		dy := float64(j) - y
		for i := x0; i <= x1; i++ {
			dx := float64(i) - x
			q := ixx*dx*dx + 2*ixy*dx*dy + iyy*dy*dy
			wi := math.Exp(-q/2) * win.data[j*win.w+i]
			sw += wi
			sx += wi * dx
			sy += wi * dy
			sxx += wi * dx * dx
			sxy += wi * dx * dy
			syy += wi * dy * dy
		}
	}
	if sw <= 0 || !finiteAll(sw, sx, sy, sxx, sxy, syy) {
		return 0, 0, moments{}, false
	}
	mx, my = sx/sw, sy/sw
	p = moments{
		x:  x + mx,
		y:  y + my,
		xx: sxx/sw - mx*mx,
		xy: sxy/sw - mx*my,
		yy: syy/sw - my*my,
	}
	return mx, my, p, true
}

// refine iterates gaussian weighted moments from start, an initial position
// and weight covariance, until the shape and size settle.  If the weighted
// moments stop being positive definite, leave the box, or do not settle in
// maxIt passes, the result is a single pass under the last valid weight with
// negative variances clamped to zero and converged false.
//
// Each pass takes the weighted second moments P of the product of the
// source and the weight; for a gaussian source of covariance C and weight
// M, P = (C^-1 + M^-1)^-1, so M = 2P is the fixed point at M = C.  The
// position moves by twice the weighted offset for the same reason.
func (win window) refine(start moments, maxIt int) (m moments, converged bool) {
	cur := start
	for it := 0; it < maxIt; it++ {
		mx, my, p, ok := win.weightedPass(cur.x, cur.y, cur)
		if !ok {
			break
		}
		next := moments{
			x:  cur.x + 2*mx,
			y:  cur.y + 2*my,
			xx: 2 * p.xx,
			xy: 2 * p.xy,
			yy: 2 * p.yy,
		}
		if !next.positiveDefinite() || !win.inside(next.x, next.y) {
			break
		}
		e1, e2 := cur.ellipticity()
		n1, n2 := next.ellipticity()
		if math.Abs(n1-e1) < ShapeTolerance && math.Abs(n2-e2) < ShapeTolerance &&
			math.Abs(math.Sqrt(next.xx)-math.Sqrt(cur.xx)) < SizeTolerance*math.Sqrt(cur.xx) {
			return next, true
		}
		cur = next
	}
	return win.fallback(cur, start), false
}

// fallback is a single weighted pass under the last valid weight
func (win window) fallback(last, start moments) moments {
	_, _, p, ok := win.weightedPass(last.x, last.y, last)
	if !ok {
		p = moments{x: last.x, y: last.y, xx: start.xx, xy: start.xy, yy: start.yy}
	} else {
		p = moments{x: last.x, y: last.y, xx: 2 * p.xx, xy: 2 * p.xy, yy: 2 * p.yy}
	}
	p.xx = math.Max(0, p.xx)
	p.yy = math.Max(0, p.yy)
	lim := math.Sqrt(p.xx * p.yy)
	p.xy = mathx.Clamp(p.xy, -lim, lim)
	if !finiteAll(p.xx, p.xy, p.yy) {
		p.xx, p.xy, p.yy = 0, 0, 0
	}
	return p
}

func (win window) inside(x, y float64) bool {
	return x >= 0 && y >= 0 && x <= float64(win.w-1) && y <= float64(win.h-1)
}

func finiteAll(v ...float64) bool {
	for _, x := range v {
		if !mathx.Finite(x) {
			return false
		}
	}
	return true
}
