package centroid

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type star struct {
	x, y, sx, sy, peak float64
}

// synth renders gaussian stars over a flat level with deterministic noise,
// rounded to whole ADU the way a camera delivers them
func synth(w, h int, level, noise float64, seed int64, stars ...star) *Image {
	rng := rand.New(rand.NewSource(seed))
	im := NewImage(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := level + noise*rng.NormFloat64()
			for _, s := range stars {
				dx, dy := float64(x)-s.x, float64(y)-s.y
				v += s.peak * math.Exp(-dx*dx/(2*s.sx*s.sx)-dy*dy/(2*s.sy*s.sy))
			}
			im.Set(x, y, math.Round(v))
		}
	}
	return im
}

func oneHalf(w, h int) ImageParameters {
	return ImageParameters{Regions: [2]Region{{X0: 0, X1: w, Y0: 0, Y1: h}}}
}

func testParams() Parameters {
	p := DefaultParameters()
	p.ExposureTime = time.Second
	return p
}

func TestWindowedAccuracy(t *testing.T) {
	im := synth(100, 100, 1000, 3, 1, star{x: 50.3, y: 40.7, sx: 1.8, sy: 1.8, peak: 2000})
	spots, err := Analyze(im, oneHalf(100, 100), testParams(), Windowed)
	require.NoError(t, err)
	require.Len(t, spots, 1)
	s := spots[0]
	assert.InDelta(t, 50.3, s.CentroidX, 0.05)
	assert.InDelta(t, 40.7, s.CentroidY, 0.05)
	assert.InEpsilon(t, 3.24, s.M20, 0.05)
	assert.InEpsilon(t, 3.24, s.M02, 0.05)
	assert.InDelta(t, 0, s.M11, 0.1)
	assert.False(t, s.Flags.Has(MomentDidNotConverge))
	assert.False(t, s.Flags.Has(RightHalf))
	assert.Equal(t, 50, s.PeakX)
	assert.Equal(t, 41, s.PeakY)
	assert.InDelta(t, 1000, s.Background, 2)
	assert.Equal(t, 0, s.ID)
}

func TestMomentAxisNaming(t *testing.T) {
	im := synth(100, 100, 500, 2, 2, star{x: 50, y: 50, sx: 3, sy: 1.5, peak: 3000})
	spots, err := Analyze(im, oneHalf(100, 100), testParams(), Windowed)
	require.NoError(t, err)
	require.Len(t, spots, 1)
	assert.Greater(t, spots[0].M20, spots[0].M02)
	assert.InEpsilon(t, 9.0, spots[0].M20, 0.05)
	assert.InEpsilon(t, 2.25, spots[0].M02, 0.05)
}

func TestNearEdge(t *testing.T) {
	im := synth(100, 100, 800, 2, 3,
		star{x: 5, y: 50, sx: 1.5, sy: 1.5, peak: 2000},
		star{x: 50, y: 50, sx: 1.5, sy: 1.5, peak: 2000})
	ip := ImageParameters{Regions: [2]Region{{X0: 0, X1: 100, Y0: 0, Y1: 100}}}
	p := testParams()
	spots, err := Analyze(im, ip, p, Windowed)
	require.NoError(t, err)
	require.Len(t, spots, 2)
	byX := map[bool]Spot{}
	for _, s := range spots {
		byX[s.CentroidX < 25] = s
	}
	assert.True(t, byX[true].Flags.Has(NearEdge))
	assert.False(t, byX[false].Flags.Has(NearEdge))
}

func TestHalvesOrderedAndFlagged(t *testing.T) {
	im := synth(200, 60, 900, 2, 4,
		star{x: 150, y: 30, sx: 1.6, sy: 1.6, peak: 1500},
		star{x: 50, y: 30, sx: 1.6, sy: 1.6, peak: 1500})
	ip := ImageParameters{Regions: [2]Region{
		{X0: 0, X1: 100, Y0: 0, Y1: 60},
		{X0: 100, X1: 200, Y0: 0, Y1: 60},
	}}
	spots, err := Analyze(im, ip, testParams(), Windowed)
	require.NoError(t, err)
	require.Len(t, spots, 2)
	assert.InDelta(t, 50, spots[0].CentroidX, 0.1)
	assert.False(t, spots[0].Flags.Has(RightHalf))
	assert.InDelta(t, 150, spots[1].CentroidX, 0.1)
	assert.True(t, spots[1].Flags.Has(RightHalf))
	assert.Equal(t, []int{0, 1}, []int{spots[0].ID, spots[1].ID})
}

func TestAnalyzeLeavesFrameUntouched(t *testing.T) {
	im := synth(64, 64, 300, 2, 5, star{x: 30, y: 30, sx: 1.5, sy: 1.5, peak: 900})
	before := im.Clone()
	_, err := Analyze(im, oneHalf(64, 64), testParams(), Windowed)
	require.NoError(t, err)
	assert.Equal(t, before.Pix, im.Pix)
}

func TestRegionOutsideFrame(t *testing.T) {
	im := NewImage(10, 10)
	_, err := Analyze(im, oneHalf(20, 10), testParams(), Windowed)
	assert.Error(t, err)
}

func TestBackgroundIdempotent(t *testing.T) {
	im := synth(128, 128, 100, 4, 6, star{x: 64, y: 64, sx: 2, sy: 2, peak: 800})
	data := append([]float64(nil), im.Pix...)
	first := estimateBackground(data, 128, 128, 64)
	var level float64
	for _, v := range first.back {
		level += v
	}
	level /= float64(len(first.back))
	require.InDelta(t, 100, level, 2)

	first.subtract(data)
	second := estimateBackground(data, 128, 128, 64)
	for _, v := range second.back {
		assert.Less(t, math.Abs(v), 0.01*level)
	}
}

func TestBackgroundRMSFloor(t *testing.T) {
	data := make([]float64, 32*32)
	bg := estimateBackground(data, 32, 32, 16)
	for _, v := range bg.rms {
		assert.Equal(t, MinRMS, v)
	}
}

func TestRefineNonPositiveDefiniteFallsBack(t *testing.T) {
	const n = 41
	data := make([]float64, n*n)
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			r2 := (x-20)*(x-20) + (y-20)*(y-20)
			if r2 >= 9 && r2 <= 16 {
				data[y*n+x] = -50
			}
		}
	}
	data[20*n+20] = 1000
	win := window{data: data, w: n, h: n}
	m, converged := win.refine(moments{x: 20, y: 20, xx: DefaultInitialMoment, yy: DefaultInitialMoment}, DefaultMaxIterations)
	assert.False(t, converged)
	assert.True(t, finiteAll(m.x, m.y, m.xx, m.xy, m.yy))
	assert.GreaterOrEqual(t, m.xx, 0.0)
	assert.GreaterOrEqual(t, m.yy, 0.0)
}

func TestDeblendSplitsCloseStars(t *testing.T) {
	pair := []star{
		{x: 46, y: 50, sx: 1.5, sy: 1.5, peak: 2000},
		{x: 54, y: 50, sx: 1.5, sy: 1.5, peak: 1500},
	}
	im := synth(100, 100, 500, 2, 7, pair...)

	p := testParams()
	spots, err := Analyze(im, oneHalf(100, 100), p, Windowed)
	require.NoError(t, err)
	require.Len(t, spots, 2)
	assert.InDelta(t, 46, spots[0].CentroidX, 0.3)
	assert.InDelta(t, 54, spots[1].CentroidX, 0.3)

	p.DeblendCont = 1
	spots, err = Analyze(im, oneHalf(100, 100), p, Windowed)
	require.NoError(t, err)
	assert.Len(t, spots, 1)
}

func TestSaturatedAndFlatTop(t *testing.T) {
	// a wide star clipped at the full well leaves a plateau past 5 px
	im := synth(100, 100, 500, 2, 8, star{x: 50, y: 50, sx: 3, sy: 3, peak: 200000})
	for i, v := range im.Pix {
		im.Pix[i] = math.Min(v, 40000)
	}
	ip := oneHalf(100, 100)
	ip.Saturation = [2]float64{40000}
	ip.FlatTopTolerance = 0.6
	spots, err := Analyze(im, ip, testParams(), Windowed)
	require.NoError(t, err)
	require.Len(t, spots, 1)
	assert.True(t, spots[0].Flags.Has(Saturated))
	assert.True(t, spots[0].Flags.Has(FlatTop))
}

func TestBadColumnRepaired(t *testing.T) {
	im := synth(100, 100, 500, 2, 9, star{x: 60, y: 50, sx: 1.5, sy: 1.5, peak: 2000})
	for y := 0; y < 100; y++ {
		im.Set(30, y, 60000)
	}
	ip := oneHalf(100, 100)
	ip.BadColumns = []int{30}
	spots, err := Analyze(im, ip, testParams(), Windowed)
	require.NoError(t, err)
	require.Len(t, spots, 1)
	assert.InDelta(t, 60, spots[0].CentroidX, 0.1)
}

func TestTemplateRegistration(t *testing.T) {
	im := synth(100, 100, 700, 2, 10, star{x: 42.4, y: 57.2, sx: 1.7, sy: 1.7, peak: 2500})
	ip := oneHalf(100, 100)
	p := testParams()
	p.Expected = []Point{{X: 44, Y: 56}, {X: 500, Y: 500}}
	spots, err := Analyze(im, ip, p, CrossCorrelationTemplate)
	require.NoError(t, err)
	require.Len(t, spots, 1)
	s := spots[0]
	assert.InDelta(t, 42.4, s.CentroidX, 0.05)
	assert.InDelta(t, 57.2, s.CentroidY, 0.05)
	assert.False(t, s.Flags.Has(TemplateFitFailed))
	assert.Equal(t, 42, s.PeakX)
	assert.Equal(t, 57, s.PeakY)
	assert.Less(t, s.Magnitude, UndefinedMagnitude)
}

func TestParabolaVertex(t *testing.T) {
	var s [5]float64
	for i := range s {
		x := float64(i-2) - 0.3
		s[i] = 10 - x*x
	}
	off, ok := parabolaVertex(s)
	require.True(t, ok)
	assert.InDelta(t, 0.3, off, 1e-9)

	_, ok = parabolaVertex([5]float64{1, 2, 3, 4, 5})
	assert.False(t, ok)
}

func TestMagnitude(t *testing.T) {
	assert.Equal(t, UndefinedMagnitude, Magnitude(0, 1, 1, 20))
	assert.Equal(t, UndefinedMagnitude, Magnitude(100, 0, 1, 20))
	assert.InDelta(t, 12.5, Magnitude(1000, 1, 1, 20), 1e-9)
}

func TestFlagString(t *testing.T) {
	assert.Equal(t, "0", Flag(0).String())
	assert.Equal(t, "RIGHT_HALF|SATURATED", (RightHalf | Saturated).String())
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod("XCORR")
	require.NoError(t, err)
	assert.Equal(t, CrossCorrelationTemplate, m)
	m, err = ParseMethod("sep")
	require.NoError(t, err)
	assert.Equal(t, Windowed, m)
	_, err = ParseMethod("psf")
	assert.Error(t, err)
}

func TestIsolatedSpotConvergesUnflagged(t *testing.T) {
	im := synth(33, 33, 100, 0, 0, star{x: 16.3, y: 15.8, sx: 1.8, sy: 1.8, peak: 5000})
	p := testParams()
	p.Threshold = 8
	p.MinArea = 5
	spots, err := Analyze(im, oneHalf(33, 33), p, Windowed)
	require.NoError(t, err)
	require.Len(t, spots, 1)
	s := spots[0]
	assert.Equal(t, Flag(0), s.Flags)
	assert.InDelta(t, 16.3, s.CentroidX, 0.05)
	assert.InDelta(t, 15.8, s.CentroidY, 0.05)
	assert.InEpsilon(t, 3.24, s.M20, 0.05)
	assert.InEpsilon(t, 3.24, s.M02, 0.05)
}

func TestSaturationThreshold(t *testing.T) {
	im := synth(64, 64, 100, 0, 0, star{x: 32, y: 32, sx: 1.8, sy: 1.8, peak: 5000})
	require.Equal(t, 5100.0, im.At(32, 32))
	ip := oneHalf(64, 64)

	ip.Saturation = [2]float64{5100}
	spots, err := Analyze(im, ip, testParams(), Windowed)
	require.NoError(t, err)
	require.Len(t, spots, 1)
	assert.True(t, spots[0].Flags.Has(Saturated))

	ip.Saturation = [2]float64{5101}
	spots, err = Analyze(im, ip, testParams(), Windowed)
	require.NoError(t, err)
	require.Len(t, spots, 1)
	assert.False(t, spots[0].Flags.Has(Saturated))
}
