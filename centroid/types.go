/*Package centroid finds point sources in guide camera frames and measures
their positions, shapes and fluxes.

A frame is processed as two independently read out halves.  Each half has its
bias removed from an overscan strip, bad columns interpolated, a smooth
background subtracted, and then either sources are extracted and refined with
adaptive windowed moments, or known positions are registered against a PSF
template and refined the same way.

*/
package centroid

import (
	"fmt"
	"strings"
	"time"
)

const (
	// SpotVersion is the version of the Spot record layout
	SpotVersion = 2

	// OverscanColumns is the width of the bias strip at the outer edge of each half
	OverscanColumns = 4

	// NominalHalfWidth is the nominal PSF half width in pixels used for edge
	// and flat top tests
	NominalHalfWidth = 5

	// WindowHalfWidth is the half width of the box the windowed moments are
	// computed in
	WindowHalfWidth = 20

	// DefaultMaxIterations bounds the windowed moment iteration
	DefaultMaxIterations = 30

	// ShapeTolerance is the largest change in e1 or e2 between iterations
	// for the moments to count as converged
	ShapeTolerance = 0.001

	// SizeTolerance is the largest fractional change in the x width (sigma)
	// between iterations for the moments to count as converged
	SizeTolerance = 0.01

	// DefaultInitialMoment is the isotropic weight variance, px^2, the
	// iteration starts from
	DefaultInitialMoment = 6.0

	// DefaultMeshSize is the background mesh cell size in pixels
	DefaultMeshSize = 64

	// DefaultDeblendLevels is the number of sub-thresholds used when deblending
	DefaultDeblendLevels = 32

	// DefaultGridSize is the template registration window size in pixels
	DefaultGridSize = 21

	// MinRMS is the floor applied to the background RMS.  Frames are
	// quantized to whole ADU so no real frame has less noise.
	MinRMS = 1.0

	// UndefinedMagnitude is reported when the flux or exposure time does not
	// allow a magnitude
	UndefinedMagnitude = 99.0
)

// Flag is a bitset of spot quality conditions.  Flags accumulate.
type Flag uint16

const (
	// RightHalf marks spots from the second half of the sensor
	RightHalf Flag = 1 << iota

	// NearEdge marks spots within twice the nominal half width of the half's bounds
	NearEdge

	// BadEllipticity marks small, elongated blobs
	BadEllipticity

	// Saturated marks spots whose raw peak pixel reached the saturation level
	Saturated

	// FlatTop marks spots whose core does not fall off like a PSF
	FlatTop

	// MomentDidNotConverge marks spots whose windowed moments came from the
	// single pass fallback
	MomentDidNotConverge

	// TemplateFitFailed marks template registered spots whose sub-pixel
	// parabola fit failed on at least one axis
	TemplateFitFailed
)

var flagNames = []struct {
	f    Flag
	name string
}{
	{RightHalf, "RIGHT_HALF"},
	{NearEdge, "NEAR_EDGE"},
	{BadEllipticity, "BAD_ELLIPTICITY"},
	{Saturated, "SATURATED"},
	{FlatTop, "FLAT_TOP"},
	{MomentDidNotConverge, "MOMENT_DID_NOT_CONVERGE"},
	{TemplateFitFailed, "TEMPLATE_FIT_FAILED"},
}

// Has returns true if every bit of o is set in f
func (f Flag) Has(o Flag) bool {
	return f&o == o
}

func (f Flag) String() string {
	if f == 0 {
		return "0"
	}
	var parts []string
	for _, fn := range flagNames {
		if f.Has(fn.f) {
			parts = append(parts, fn.name)
		}
	}
	return strings.Join(parts, "|")
}

// Method selects how spot positions are found
type Method int

const (
	// Windowed extracts blobs and refines them with windowed moments
	Windowed Method = iota

	// CrossCorrelationTemplate registers known positions against a PSF template
	CrossCorrelationTemplate
)

func (m Method) String() string {
	switch m {
	case Windowed:
		return "win"
	case CrossCorrelationTemplate:
		return "xcorr"
	default:
		return fmt.Sprintf("Method(%d)", int(m))
	}
}

// ParseMethod parses the command layer's method names.  "sep" is accepted
// as a synonym for the windowed pipeline.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(s) {
	case "", "win", "windowed", "sep":
		return Windowed, nil
	case "xcorr", "template", "cross-correlation":
		return CrossCorrelationTemplate, nil
	default:
		return Windowed, fmt.Errorf("unknown centroid method %q", s)
	}
}

// Region is a rectangle of frame pixels, X1 and Y1 exclusive
type Region struct {
	X0 int `json:"x0" yaml:"x0"`
	X1 int `json:"x1" yaml:"x1"`
	Y0 int `json:"y0" yaml:"y0"`
	Y1 int `json:"y1" yaml:"y1"`
}

// Width is the number of columns
func (r Region) Width() int { return r.X1 - r.X0 }

// Height is the number of rows
func (r Region) Height() int { return r.Y1 - r.Y0 }

// Empty returns true if the region holds no pixels
func (r Region) Empty() bool { return r.Width() <= 0 || r.Height() <= 0 }

// Contains returns true if the point lies inside the region
func (r Region) Contains(x, y float64) bool {
	return x >= float64(r.X0) && x < float64(r.X1) && y >= float64(r.Y0) && y < float64(r.Y1)
}

// Point is a position in frame pixels
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// ImageParameters describe one camera's sensor layout and calibration
type ImageParameters struct {
	// Regions are the left and right readout halves.  An empty second
	// region means the camera is read as one half.
	Regions [2]Region

	// BadColumns are frame column indices to interpolate over
	BadColumns []int

	// Saturation is the raw ADU level per half at which a peak is saturated.
	// A zero second value reuses the first; zero disables the test.
	Saturation [2]float64

	// FlatTopTolerance is the fractional drop from the peak, NominalHalfWidth
	// pixels out, below which a spot is flagged FlatTop.  Zero disables it.
	FlatTopTolerance float64

	// MagSlope and MagIntercept are the linear flux to magnitude calibration
	MagSlope     float64
	MagIntercept float64

	// Templates are the PSF templates for each half.  A nil template falls
	// back to a gaussian of the initial weight size.
	Templates [2]*Template

	// GridSize is the registration window size, DefaultGridSize if zero
	GridSize int
}

func (p ImageParameters) saturation(half int) float64 {
	if half == 1 && p.Saturation[1] > 0 {
		return p.Saturation[1]
	}
	return p.Saturation[0]
}

// Parameters tune detection and refinement
type Parameters struct {
	// Threshold is the detection threshold in units of the background RMS
	Threshold float64 `json:"thresh" yaml:"thresh"`

	// MinArea is the minimum number of pixels in a detection
	MinArea int `json:"minarea" yaml:"minarea"`

	// DeblendCont is the minimum flux fraction a branch needs to be split
	// off as its own source.  One or more disables deblending.
	DeblendCont float64 `json:"deblend" yaml:"deblend"`

	// DeblendLevels is the number of sub-thresholds tried when deblending
	DeblendLevels int `json:"deblendLevels" yaml:"deblendLevels"`

	// Ellipticity is the axis ratio below which small blobs are flagged
	Ellipticity float64 `json:"ellip" yaml:"ellip"`

	// NMin is the pixel count below which the ellipticity test applies
	NMin int `json:"nmin" yaml:"nmin"`

	// InitialMoment is the isotropic weight variance, px^2, used to start
	// the windowed iteration
	InitialMoment float64 `json:"initMoment" yaml:"initMoment"`

	// MaxIterations bounds the windowed iteration
	MaxIterations int `json:"maxIt" yaml:"maxIt"`

	// MeshSize is the background mesh cell size
	MeshSize int `json:"meshSize" yaml:"meshSize"`

	// ExposureTime is the exposure the frame came from, for magnitudes
	ExposureTime time.Duration `json:"-" yaml:"-"`

	// Expected holds the known spot positions for template registration
	Expected []Point `json:"expected,omitempty" yaml:"-"`
}

// DefaultParameters are the detection parameters the actor starts with
func DefaultParameters() Parameters {
	return Parameters{
		Threshold:     5,
		MinArea:       10,
		DeblendCont:   0.005,
		DeblendLevels: DefaultDeblendLevels,
		Ellipticity:   0.5,
		NMin:          30,
		InitialMoment: DefaultInitialMoment,
		MaxIterations: DefaultMaxIterations,
		MeshSize:      DefaultMeshSize,
	}
}

func (p Parameters) withDefaults() Parameters {
	if p.DeblendLevels < 2 {
		p.DeblendLevels = DefaultDeblendLevels
	}
	if p.InitialMoment <= 0 {
		p.InitialMoment = DefaultInitialMoment
	}
	if p.MaxIterations <= 0 {
		p.MaxIterations = DefaultMaxIterations
	}
	if p.MeshSize <= 0 {
		p.MeshSize = DefaultMeshSize
	}
	if p.MinArea < 1 {
		p.MinArea = 1
	}
	return p
}

// Spot is one detected source.  Positions are frame pixels.  Fields a method
// does not measure keep their zero value; Magnitude is UndefinedMagnitude
// when it cannot be computed.
type Spot struct {
	ID         int     `json:"spot_id"`
	CentroidX  float64 `json:"centroid_x_pix"`
	CentroidY  float64 `json:"centroid_y_pix"`
	M20        float64 `json:"central_image_moment_20_pix"`
	M11        float64 `json:"central_image_moment_11_pix"`
	M02        float64 `json:"central_image_moment_02_pix"`
	PeakX      int     `json:"peak_pixel_x_pix"`
	PeakY      int     `json:"peak_pixel_y_pix"`
	Peak       float64 `json:"peak_intensity"`
	Background float64 `json:"background"`
	Flux       float64 `json:"image_moment_00_pix"`
	Magnitude  float64 `json:"estimated_magnitude"`
	NPix       int     `json:"npix"`
	Flags      Flag    `json:"flags"`
}
