package camera

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

const (
	// SimWidth is the full sensor width of the simulated MicroLine camera
	SimWidth = 1072

	// SimHeight is the full sensor height of the simulated MicroLine camera
	SimHeight = 1033

	// SimReadout is the simulated readout time added to every exposure
	SimReadout = 350 * time.Millisecond
)

// ErrNotReady is returned by the simulator when a command needs an idle camera
var ErrNotReady = errors.New("camera not ready")

// Star is a gaussian source painted into simulated object frames
type Star struct {
	X     float64 `yaml:"X"`
	Y     float64 `yaml:"Y"`
	Sigma float64 `yaml:"Sigma"`
	Peak  float64 `yaml:"Peak"`
}

// SimConfig tunes a simulated camera
type SimConfig struct {
	// Width and Height are the sensor size, defaults SimWidth x SimHeight
	Width  int `yaml:"Width"`
	Height int `yaml:"Height"`

	// Readout is added to the exposure time before the frame is returned
	Readout time.Duration `yaml:"Readout"`

	// Bias is the flat pedestal in ADU
	Bias float64 `yaml:"Bias"`

	// Noise is the gaussian read noise in ADU
	Noise float64 `yaml:"Noise"`

	// Stars is the star field for object frames
	Stars []Star `yaml:"Stars"`

	// Seed seeds the noise generator
	Seed int64 `yaml:"Seed"`
}

// Sim is a simulated camera.  It behaves like the FLI devices: one exposure
// at a time, cancellable, status readable at any time.
type Sim struct {
	mu sync.Mutex

	cfg    SimConfig
	serial string
	status Status
	rng    *rand.Rand

	exptime time.Duration
	binning Binning
	area    Area
	temp    float64
	mode    int
	abort   chan struct{}
	last    time.Duration

	// FailExpose, if set, is returned by the next Expose call
	FailExpose error

	// FailExposureTime, if set, is returned by every SetExposureTime call
	FailExposureTime error

	// Exposures counts the exposures started
	Exposures int

	// Temperatures records every setpoint programmed, in order
	Temperatures []float64
}

// NewSim returns a closed simulated camera
func NewSim(serial string, cfg SimConfig) *Sim {
	if cfg.Width == 0 {
		cfg.Width = SimWidth
	}
	if cfg.Height == 0 {
		cfg.Height = SimHeight
	}
	return &Sim{
		cfg:    cfg,
		serial: serial,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Open opens the simulated device and programs its defaults
func (s *Sim) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != Closed {
		return fmt.Errorf("sim camera %s already open", s.serial)
	}
	s.binning = Binning{H: 1, V: 1}
	s.area = s.fullArea()
	s.status = Ready
	return nil
}

// Close closes the simulated device
func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == Closed {
		return fmt.Errorf("sim camera %s already closed", s.serial)
	}
	s.status = Closed
	return nil
}

// Serial returns the serial number
func (s *Sim) Serial() string { return s.serial }

// Model returns the model name
func (s *Sim) Model() string { return "MicroLine ML4720" }

// IsReady returns true if the camera is idle
func (s *Sim) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == Ready
}

// IsExposing returns true if an exposure is in progress
func (s *Sim) IsExposing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == Exposing
}

// SetTemperature sets the CCD setpoint
func (s *Sim) SetTemperature(t float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.temp = t
	s.Temperatures = append(s.Temperatures, t)
	return nil
}

// GetTemperature returns the CCD temperature, which the simulator holds at
// the setpoint
func (s *Sim) GetTemperature() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.temp, nil
}

// SetFrame sets the readout area
func (s *Sim) SetFrame(x0, y0, width, height int) error {
	if width <= 0 || height <= 0 || x0 < 0 || y0 < 0 ||
		x0+width > s.cfg.Width || y0+height > s.cfg.Height {
		return fmt.Errorf("frame %d,%d %dx%d outside %dx%d sensor", x0, y0, width, height, s.cfg.Width, s.cfg.Height)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.area = Area{X0: x0, Y0: y0, X1: x0 + width, Y1: y0 + height}
	return nil
}

// ResetFrame restores full frame and 1x1 binning
func (s *Sim) ResetFrame() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.binning = Binning{H: 1, V: 1}
	s.area = s.fullArea()
	return nil
}

// GetFrame returns the readout area
func (s *Sim) GetFrame() Area {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.area
}

// SetBinning sets the binning factors
func (s *Sim) SetBinning(b Binning) error {
	if b.H < 1 || b.V < 1 {
		return fmt.Errorf("invalid binning %dx%d", b.H, b.V)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.binning = b
	return nil
}

// GetBinning returns the binning factors
func (s *Sim) GetBinning() Binning {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.binning
}

// SetReadoutMode selects mode 0 (4 MHz) or 1 (500 KHz)
func (s *Sim) SetReadoutMode(mode int) error {
	if mode != 0 && mode != 1 {
		return fmt.Errorf("readout mode %d not supported", mode)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
	return nil
}

// GetReadoutMode returns the readout mode
func (s *Sim) GetReadoutMode() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode, nil
}

// ReadoutModeString describes a readout mode
func (s *Sim) ReadoutModeString(mode int) (string, error) {
	switch mode {
	case 0:
		return "4 MHz", nil
	case 1:
		return "500 KHz", nil
	default:
		return "", fmt.Errorf("readout mode %d not supported", mode)
	}
}

// SetExposureTime sets the exposure time
func (s *Sim) SetExposureTime(d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailExposureTime != nil {
		return s.FailExposureTime
	}
	s.exptime = d
	return nil
}

// Expose waits out the exposure and readout time, then renders a frame
func (s *Sim) Expose(dark bool) (Frame, error) {
	s.mu.Lock()
	if s.status != Ready {
		s.mu.Unlock()
		return Frame{}, ErrNotReady
	}
	if err := s.FailExpose; err != nil {
		s.FailExpose = nil
		s.mu.Unlock()
		return Frame{}, err
	}
	s.status = Exposing
	s.Exposures++
	abort := make(chan struct{})
	s.abort = abort
	wait := s.exptime + s.cfg.Readout
	start := time.Now()
	s.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-abort:
		s.mu.Lock()
		s.abort = nil
		s.last = 0
		s.status = Ready
		s.mu.Unlock()
		return Frame{}, ErrAborted
	case <-timer.C:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.render(dark)
	f.Start = start
	s.abort = nil
	s.last = time.Since(start)
	s.status = Ready
	return f, nil
}

// Cancel aborts the exposure in progress, if any
func (s *Sim) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == Exposing && s.abort != nil {
		close(s.abort)
		s.abort = nil
	}
	return nil
}

// LastExposureDuration returns exposure plus readout time of the last frame
func (s *Sim) LastExposureDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Sim) fullArea() Area {
	return Area{X0: 0, Y0: 0, X1: s.cfg.Width, Y1: s.cfg.Height}
}

// render must be called with the lock held
func (s *Sim) render(dark bool) Frame {
	a := s.area
	w, h := a.Width(), a.Height()
	data := make([]uint16, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := s.cfg.Bias + s.cfg.Noise*s.rng.NormFloat64()
			if !dark {
				fx, fy := float64(a.X0+x), float64(a.Y0+y)
				for _, st := range s.cfg.Stars {
					dx, dy := fx-st.X, fy-st.Y
					v += st.Peak * math.Exp(-(dx*dx+dy*dy)/(2*st.Sigma*st.Sigma))
				}
			}
			data[y*w+x] = uint16(math.Max(0, math.Min(65535, math.Round(v))))
		}
	}
	return Frame{Data: data, Width: w, Height: h, Area: a, Dark: dark}
}
