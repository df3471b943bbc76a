package centroid

import (
	"math"
	"sort"
)

// blob is a connected set of above-threshold pixels in region local
// coordinates.  Moments are intensity weighted and central.
type blob struct {
	pix   []int
	flux  float64
	x, y  float64
	xx    float64
	xy    float64
	yy    float64
	peak  float64
	peakX int
	peakY int
}

func (b *blob) npix() int { return len(b.pix) }

// measure fills in the moments of b from data.  It returns false if the
// blob carries no positive flux.
func (b *blob) measure(data []float64, w int) bool {
	var sum, sx, sy float64
	b.peak = math.Inf(-1)
	for _, p := range b.pix {
		v := data[p]
		x, y := float64(p%w), float64(p/w)
		sum += v
		sx += v * x
		sy += v * y
		if v > b.peak {
			b.peak = v
			b.peakX, b.peakY = p%w, p/w
		}
	}
	if sum <= 0 {
		return false
	}
	b.flux = sum
	b.x, b.y = sx/sum, sy/sum
	var sxx, sxy, syy float64
	for _, p := range b.pix {
		v := data[p]
		dx, dy := float64(p%w)-b.x, float64(p/w)-b.y
		sxx += v * dx * dx
		sxy += v * dx * dy
		syy += v * dy * dy
	}
	b.xx, b.xy, b.yy = sxx/sum, sxy/sum, syy/sum
	return true
}

// axisRatio is the minor over major axis length of the blob's moment ellipse
func (b *blob) axisRatio() float64 {
	tr := (b.xx + b.yy) / 2
	d := math.Sqrt(math.Max(0, (b.xx-b.yy)*(b.xx-b.yy)/4+b.xy*b.xy))
	a2, b2 := tr+d, tr-d
	if a2 <= 0 {
		return 1
	}
	if b2 < 0 {
		b2 = 0
	}
	return math.Sqrt(b2 / a2)
}

var neighbours = [8][2]int{{-1, -1}, {0, -1}, {1, -1}, {-1, 0}, {1, 0}, {-1, 1}, {0, 1}, {1, 1}}

// components labels the 8-connected components of mask over a w x h grid.
// Components are returned in raster order of their first pixel.
func components(mask []bool, w, h int) [][]int {
	seen := make([]bool, len(mask))
	var out [][]int
	var stack []int
	for start := range mask {
		if !mask[start] || seen[start] {
			continue
		}
		seen[start] = true
		stack = append(stack[:0], start)
		var comp []int
		for len(stack) > 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			comp = append(comp, p)
			px, py := p%w, p/w
			for _, n := range neighbours {
				x, y := px+n[0], py+n[1]
				if x < 0 || y < 0 || x >= w || y >= h {
					continue
				}
				q := y*w + x
				if mask[q] && !seen[q] {
					seen[q] = true
					stack = append(stack, q)
				}
			}
		}
		sort.Ints(comp)
		out = append(out, comp)
	}
	return out
}

// extract finds the blobs of pixels above thresh times the local background
// RMS with at least minArea pixels, deblending each
func extract(data []float64, bg *background, p Parameters) []*blob {
	w, h := bg.w, bg.h
	mask := make([]bool, len(data))
	for i, v := range data {
		mask[i] = v > p.Threshold*bg.rms[i]
	}
	var out []*blob
	for _, comp := range components(mask, w, h) {
		if len(comp) < p.MinArea {
			continue
		}
		var thresh float64
		for _, q := range comp {
			thresh += p.Threshold * bg.rms[q]
		}
		thresh /= float64(len(comp))
		for _, pix := range deblend(data, w, comp, thresh, p, 0) {
			b := &blob{pix: pix}
			if b.measure(data, w) {
				out = append(out, b)
			}
		}
	}
	return out
}

const maxDeblendDepth = 8

// deblend splits pix into separate sources when, at some threshold between
// thresh and the peak, it breaks into two or more branches each holding more
// than DeblendCont of the flux.  Every parent pixel is assigned to the
// nearest branch, and each branch is deblended again above the split level.
func deblend(data []float64, w int, pix []int, thresh float64, p Parameters, depth int) [][]int {
	if p.DeblendCont >= 1 || depth >= maxDeblendDepth || thresh <= 0 {
		return [][]int{pix}
	}
	var total, peak float64
	x0, y0, x1, y1 := w, math.MaxInt32, -1, -1
	for _, q := range pix {
		total += data[q]
		if data[q] > peak {
			peak = data[q]
		}
		x, y := q%w, q/w
		x0, y0 = minInt(x0, x), minInt(y0, y)
		x1, y1 = maxInt(x1, x), maxInt(y1, y)
	}
	if peak <= thresh || total <= 0 {
		return [][]int{pix}
	}
	bw, bh := x1-x0+1, y1-y0+1
	mask := make([]bool, bw*bh)
	for lvl := 1; lvl < p.DeblendLevels; lvl++ {
		t := thresh * math.Pow(peak/thresh, float64(lvl)/float64(p.DeblendLevels))
		for i := range mask {
			mask[i] = false
		}
		for _, q := range pix {
			if data[q] > t {
				mask[(q/w-y0)*bw+q%w-x0] = true
			}
		}
		var branches []*blob
		for _, c := range components(mask, bw, bh) {
			b := &blob{pix: make([]int, len(c))}
			for i, lq := range c {
				b.pix[i] = (lq/bw+y0)*w + lq%bw + x0
			}
			if !b.measure(data, w) || b.flux <= p.DeblendCont*total || b.npix() < minInt(p.MinArea, 3) {
				continue
			}
			branches = append(branches, b)
		}
		if len(branches) < 2 {
			continue
		}
		children := make([][]int, len(branches))
		for _, q := range pix {
			x, y := float64(q%w), float64(q/w)
			best, bestD := 0, math.Inf(1)
			for i, b := range branches {
				d := (x-b.x)*(x-b.x) + (y-b.y)*(y-b.y)
				if d < bestD {
					best, bestD = i, d
				}
			}
			children[best] = append(children[best], q)
		}
		var out [][]int
		for _, c := range children {
			out = append(out, deblend(data, w, c, t, p, depth+1)...)
		}
		return out
	}
	return [][]int{pix}
}
