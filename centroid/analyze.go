package centroid

import (
	"fmt"
	"math"

	"github.com/nasa-jpl/agcc/camera"
	"github.com/nasa-jpl/agcc/mathx"
)

// half is one calibrated readout half ready for measurement
type half struct {
	index  int
	region Region
	bias   float64
	bg     *background
	win    window
}

// AnalyzeFrame converts a camera frame and analyzes it
func AnalyzeFrame(f camera.Frame, ip ImageParameters, p Parameters, m Method) ([]Spot, error) {
	return Analyze(FromFrame(f), ip, p, m)
}

// Analyze measures the spots of a raw frame.  The frame itself is not
// modified.  Spots of the first half come before those of the second, and
// IDs count up from zero in that order.
func Analyze(raw *Image, ip ImageParameters, p Parameters, m Method) ([]Spot, error) {
	p = p.withDefaults()
	halves, err := calibrate(raw, ip, p)
	if err != nil {
		return nil, err
	}
	var spots []Spot
	for _, h := range halves {
		switch m {
		case Windowed:
			spots = append(spots, h.windowed(raw, ip, p)...)
		case CrossCorrelationTemplate:
			spots = append(spots, h.templated(ip, p)...)
		default:
			return nil, fmt.Errorf("unknown centroid method %d", int(m))
		}
	}
	for i := range spots {
		spots[i].ID = i
		spots[i].Magnitude = Magnitude(spots[i].Flux, p.ExposureTime.Seconds(), ip.MagSlope, ip.MagIntercept)
	}
	return spots, nil
}

// calibrate removes bias, bad columns and background from each non-empty half
func calibrate(raw *Image, ip ImageParameters, p Parameters) ([]half, error) {
	for i, r := range ip.Regions {
		if r.Empty() {
			continue
		}
		if err := raw.checkRegion(r); err != nil {
			return nil, fmt.Errorf("half %d: %w", i, err)
		}
	}
	work := raw.Clone()
	biases := [2]float64{}
	for i, r := range ip.Regions {
		if r.Empty() {
			continue
		}
		biases[i] = biasLevel(work, r, i == 1)
		for y := r.Y0; y < r.Y1; y++ {
			for x := r.X0; x < r.X1; x++ {
				work.Set(x, y, work.At(x, y)-biases[i])
			}
		}
	}
	repairColumns(work, ip.BadColumns)

	var out []half
	for i, r := range ip.Regions {
		if r.Empty() {
			continue
		}
		data := work.cut(r)
		bg := estimateBackground(data, r.Width(), r.Height(), p.MeshSize)
		bg.subtract(data)
		out = append(out, half{
			index:  i,
			region: r,
			bias:   biases[i],
			bg:     bg,
			win:    window{data: data, w: r.Width(), h: r.Height()},
		})
	}
	return out, nil
}

func (h half) baseFlags() Flag {
	if h.index == 1 {
		return RightHalf
	}
	return 0
}

// windowed runs extraction, flagging and windowed refinement over the half
func (h half) windowed(raw *Image, ip ImageParameters, p Parameters) []Spot {
	r := h.region
	var out []Spot
	for _, b := range extract(h.win.data, h.bg, p) {
		flags := h.baseFlags() | h.classify(b, raw, ip, p)
		start := moments{x: b.x, y: b.y, xx: p.InitialMoment, yy: p.InitialMoment}
		m, converged := h.win.refine(start, p.MaxIterations)
		if !converged {
			flags |= MomentDidNotConverge
		}
		out = append(out, Spot{
			CentroidX:  m.x + float64(r.X0),
			CentroidY:  m.y + float64(r.Y0),
			M20:        m.xx,
			M11:        m.xy,
			M02:        m.yy,
			PeakX:      b.peakX + r.X0,
			PeakY:      b.peakY + r.Y0,
			Peak:       b.peak,
			Background: h.bias + h.bg.back[b.peakY*h.bg.w+b.peakX],
			Flux:       b.flux,
			NPix:       b.npix(),
			Flags:      flags,
		})
	}
	return out
}

// classify applies the edge, shape, saturation and flat top tests
func (h half) classify(b *blob, raw *Image, ip ImageParameters, p Parameters) Flag {
	var f Flag
	r := h.region
	x, y := b.x+float64(r.X0), b.y+float64(r.Y0)
	reach := float64(2 * NominalHalfWidth)
	if x-reach < float64(r.X0) || x+reach > float64(r.X1-1) ||
		y-reach < float64(r.Y0) || y+reach > float64(r.Y1-1) {
		f |= NearEdge
	}
	if b.axisRatio() < p.Ellipticity && b.npix() < p.NMin {
		f |= BadEllipticity
	}
	if sat := ip.saturation(h.index); sat > 0 && raw.At(b.peakX+r.X0, b.peakY+r.Y0) >= sat {
		f |= Saturated
	}
	if ip.FlatTopTolerance > 0 && b.peak > 0 {
		drop := math.Inf(1)
		for _, dx := range []int{-NominalHalfWidth, NominalHalfWidth} {
			sx := b.peakX + dx
			if sx < 0 || sx >= h.win.w {
				continue
			}
			d := (b.peak - h.win.data[b.peakY*h.win.w+sx]) / b.peak
			drop = math.Min(drop, d)
		}
		if drop < ip.FlatTopTolerance {
			f |= FlatTop
		}
	}
	return f
}

// templated registers the expected positions that fall in this half
func (h half) templated(ip ImageParameters, p Parameters) []Spot {
	r := h.region
	grid := ip.GridSize
	if grid <= 0 {
		grid = DefaultGridSize
	}
	t := ip.Templates[h.index]
	if t == nil {
		t = GaussianTemplate(grid, math.Sqrt(p.InitialMoment))
	}
	var out []Spot
	for _, e := range p.Expected {
		if !r.Contains(e.X, e.Y) {
			continue
		}
		flags := h.baseFlags()
		x, y, ok := h.win.register(e.X-float64(r.X0), e.Y-float64(r.Y0), t, grid)
		if !ok {
			flags |= TemplateFitFailed
		}
		x = math.Max(0, math.Min(float64(h.win.w-1), x))
		y = math.Max(0, math.Min(float64(h.win.h-1), y))
		m, converged := h.win.refine(moments{x: x, y: y, xx: p.InitialMoment, yy: p.InitialMoment}, p.MaxIterations)
		if !converged {
			flags |= MomentDidNotConverge
		}
		s := Spot{
			CentroidX: m.x + float64(r.X0),
			CentroidY: m.y + float64(r.Y0),
			M20:       m.xx,
			M11:       m.xy,
			M02:       m.yy,
			Flags:     flags,
		}
		s.PeakX, s.PeakY, s.Peak, s.Flux, s.NPix = h.box(int(math.Round(m.x)), int(math.Round(m.y)), grid/2)
		s.Background = h.bias + h.bg.back[(s.PeakY-r.Y0)*h.bg.w+s.PeakX-r.X0]
		out = append(out, s)
	}
	return out
}

// box sums the background subtracted pixels within hw of (cx, cy) and
// finds the brightest, in frame coordinates
func (h half) box(cx, cy, hw int) (px, py int, peak, flux float64, n int) {
	peak = math.Inf(-1)
	px, py = cx, cy
	x0, x1 := mathx.ClampInt(cx-hw, 0, h.win.w-1), mathx.ClampInt(cx+hw, 0, h.win.w-1)
	y0, y1 := mathx.ClampInt(cy-hw, 0, h.win.h-1), mathx.ClampInt(cy+hw, 0, h.win.h-1)
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			v := h.win.data[y*h.win.w+x]
			flux += v
			n++
			if v > peak {
				peak, px, py = v, x, y
			}
		}
	}
	return px + h.region.X0, py + h.region.Y0, peak, flux, n
}

// Magnitude converts a flux in ADU over an exposure of expSec seconds to a
// magnitude with a linear calibration.  Non-positive flux or exposure gives
// UndefinedMagnitude.
func Magnitude(flux, expSec, slope, intercept float64) float64 {
	if flux <= 0 || expSec <= 0 {
		return UndefinedMagnitude
	}
	mag := -2.5*math.Log10(flux/expSec)*slope + intercept
	if !finiteAll(mag) {
		return UndefinedMagnitude
	}
	return mag
}
