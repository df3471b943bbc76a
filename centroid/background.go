package centroid

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

const (
	clipSigma = 3.0
	clipIters = 10
)

// median returns the median of v.  v is sorted in place.
func median(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	sort.Float64s(v)
	return stat.Quantile(0.5, stat.Empirical, v, nil)
}

// clippedStats returns the sigma clipped mean, median and standard deviation
// of v.  v is reordered.
func clippedStats(v []float64) (mean, med, std float64) {
	if len(v) == 0 {
		return 0, 0, 0
	}
	cur := v
	for i := 0; i < clipIters; i++ {
		sort.Float64s(cur)
		med = stat.Quantile(0.5, stat.Empirical, cur, nil)
		mean, std = stat.MeanStdDev(cur, nil)
		if len(cur) < 2 || std == 0 || math.IsNaN(std) {
			return mean, med, 0
		}
		lo, hi := med-clipSigma*std, med+clipSigma*std
		kept := cur[:0:0]
		for _, x := range cur {
			if x >= lo && x <= hi {
				kept = append(kept, x)
			}
		}
		if len(kept) == len(cur) || len(kept) == 0 {
			break
		}
		cur = kept
	}
	return mean, med, std
}

// modeEstimate is the background level of a clipped pixel distribution.
// Sources skew the mean above the median; when that skew is small the
// mode is extrapolated from the two, otherwise the median is used.
func modeEstimate(mean, med, std float64) float64 {
	if std == 0 || (mean-med)/std >= 0.3 {
		return med
	}
	return 2.5*med - 1.5*mean
}

// background is a smooth level and noise map over a w x h region
type background struct {
	back []float64
	rms  []float64
	w, h int
}

// estimateBackground measures the background on a mesh of size x size cells,
// median filters the mesh and interpolates it back to full resolution
func estimateBackground(data []float64, w, h, size int) *background {
	if size > w {
		size = w
	}
	if size > h {
		size = h
	}
	if size < 1 {
		size = 1
	}
	nx := (w + size - 1) / size
	ny := (h + size - 1) / size
	level := make([]float64, nx*ny)
	noise := make([]float64, nx*ny)
	buf := make([]float64, 0, size*size)
	for cy := 0; cy < ny; cy++ {
		for cx := 0; cx < nx; cx++ {
			buf = buf[:0]
			for y := cy * size; y < (cy+1)*size && y < h; y++ {
				buf = append(buf, data[y*w+cx*size:y*w+minInt((cx+1)*size, w)]...)
			}
			mean, med, std := clippedStats(buf)
			level[cy*nx+cx] = modeEstimate(mean, med, std)
			noise[cy*nx+cx] = std
		}
	}
	level = medianFilter3(level, nx, ny)
	noise = medianFilter3(noise, nx, ny)

	b := &background{back: make([]float64, w*h), rms: make([]float64, w*h), w: w, h: h}
	half := float64(size) / 2
	for y := 0; y < h; y++ {
		gy := (float64(y) + 0.5 - half) / float64(size)
		for x := 0; x < w; x++ {
			gx := (float64(x) + 0.5 - half) / float64(size)
			b.back[y*w+x] = bilinear(level, nx, ny, gx, gy)
			b.rms[y*w+x] = math.Max(bilinear(noise, nx, ny, gx, gy), MinRMS)
		}
	}
	return b
}

// subtract removes the background from data in place
func (b *background) subtract(data []float64) {
	for i := range data {
		data[i] -= b.back[i]
	}
}

// medianFilter3 applies a 3x3 median filter to an nx x ny mesh, shrinking
// the window at the edges
func medianFilter3(m []float64, nx, ny int) []float64 {
	if nx < 2 && ny < 2 {
		return m
	}
	out := make([]float64, len(m))
	buf := make([]float64, 0, 9)
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			buf = buf[:0]
			for j := maxInt(0, y-1); j <= minInt(ny-1, y+1); j++ {
				for i := maxInt(0, x-1); i <= minInt(nx-1, x+1); i++ {
					buf = append(buf, m[j*nx+i])
				}
			}
			out[y*nx+x] = median(buf)
		}
	}
	return out
}

// bilinear interpolates mesh m at fractional cell coordinates, clamping to
// the outer cell centers
func bilinear(m []float64, nx, ny int, gx, gy float64) float64 {
	gx = math.Max(0, math.Min(float64(nx-1), gx))
	gy = math.Max(0, math.Min(float64(ny-1), gy))
	x0, y0 := int(gx), int(gy)
	x1, y1 := minInt(x0+1, nx-1), minInt(y0+1, ny-1)
	fx, fy := gx-float64(x0), gy-float64(y0)
	top := m[y0*nx+x0]*(1-fx) + m[y0*nx+x1]*fx
	bot := m[y1*nx+x0]*(1-fx) + m[y1*nx+x1]*fx
	return top*(1-fy) + bot*fy
}

// biasLevel is the median of the OverscanColumns columns at the outer edge
// of a half.  The left half's strip is its first columns, the right half's
// its last.
func biasLevel(im *Image, r Region, right bool) float64 {
	n := minInt(OverscanColumns, r.Width())
	x0 := r.X0
	if right {
		x0 = r.X1 - n
	}
	strip := make([]float64, 0, n*r.Height())
	for y := r.Y0; y < r.Y1; y++ {
		for x := x0; x < x0+n; x++ {
			strip = append(strip, im.At(x, y))
		}
	}
	return median(strip)
}

// repairColumns replaces each bad column with the mean of its neighbours
func repairColumns(im *Image, cols []int) {
	for _, c := range cols {
		if c < 0 || c >= im.Width {
			continue
		}
		for y := 0; y < im.Height; y++ {
			switch {
			case c > 0 && c < im.Width-1:
				im.Set(c, y, (im.At(c-1, y)+im.At(c+1, y))/2)
			case c > 0:
				im.Set(c, y, im.At(c-1, y))
			case c < im.Width-1:
				im.Set(c, y, im.At(c+1, y))
			}
		}
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
