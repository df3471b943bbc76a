/*Package camera describes the capability the exposure core needs from one
physical guide camera, plus a simulated implementation.

The Handle type is the sum of the smaller interfaces below.  The vendor driver
binding lives outside this module; anything satisfying Handle can be attached
to the registry.

*/
package camera

import (
	"errors"
	"fmt"
	"time"
)

// ErrAborted is returned by Expose when the exposure was cancelled before
// the frame was read out
var ErrAborted = errors.New("exposure aborted")

// Status is the state of one camera slot
type Status int

const (
	// Closed means the device is not open
	Closed Status = iota

	// Ready means the camera is idle and accepts commands
	Ready

	// Exposing means an exposure or readout is in progress
	Exposing

	// SettingMode means the readout mode is being changed
	SettingMode
)

func (s Status) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Ready:
		return "READY"
	case Exposing:
		return "EXPOSING"
	case SettingMode:
		return "SETMODE"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Area is a rectangle of sensor pixels, X1 and Y1 exclusive
type Area struct {
	X0 int `json:"x0" yaml:"x0"`
	Y0 int `json:"y0" yaml:"y0"`
	X1 int `json:"x1" yaml:"x1"`
	Y1 int `json:"y1" yaml:"y1"`
}

// Width is the number of columns in the area
func (a Area) Width() int { return a.X1 - a.X0 }

// Height is the number of rows in the area
func (a Area) Height() int { return a.Y1 - a.Y0 }

// String renders the area the way the CCDAREA FITS card does
func (a Area) String() string {
	return fmt.Sprintf("[%d:%d,%d:%d]", a.X0, a.X1, a.Y0, a.Y1)
}

// Binning encapsulates information about pixel addition on camera
type Binning struct {
	// H is the horizontal binning factor
	H int `json:"h"`

	// V is the vertical binning factor
	V int `json:"v"`
}

// Device is the lifecycle and identity of a camera
type Device interface {
	// Open opens the device and programs its defaults
	Open() error

	// Close closes the device
	Close() error

	// Serial is the device serial number
	Serial() string

	// Model is the device model name
	Model() string

	// IsReady returns true if the device is idle
	IsReady() bool

	// IsExposing returns true if an exposure or readout is in progress
	IsExposing() bool
}

// ThermalManager describes a camera which can regulate its sensor temperature
type ThermalManager interface {
	// SetTemperature sets the CCD temperature setpoint in Celcius
	SetTemperature(float64) error

	// GetTemperature gets the current CCD temperature in Celcius
	GetTemperature() (float64, error)
}

// Framer describes a camera with a configurable readout area and binning
type Framer interface {
	// SetFrame sets the readout area from a corner and a size
	SetFrame(x0, y0, width, height int) error

	// ResetFrame restores the full area and 1x1 binning
	ResetFrame() error

	// GetFrame returns the current readout area
	GetFrame() Area

	// SetBinning sets the binning
	SetBinning(Binning) error

	// GetBinning gets the binning
	GetBinning() Binning
}

// ModeSetter describes a camera with selectable readout modes
type ModeSetter interface {
	// SetReadoutMode selects a readout mode by index
	SetReadoutMode(int) error

	// GetReadoutMode returns the current readout mode index
	GetReadoutMode() (int, error)

	// ReadoutModeString describes a readout mode index
	ReadoutModeString(int) (string, error)
}

// PictureTaker describes a camera which can capture images
type PictureTaker interface {
	// SetExposureTime sets the exposure time
	SetExposureTime(time.Duration) error

	// Expose triggers an exposure and blocks until the frame is read out
	// or the exposure is cancelled, in which case ErrAborted is returned.
	// dark keeps the shutter closed.
	Expose(dark bool) (Frame, error)

	// Cancel requests the in-flight exposure stop.  It does not wait.
	Cancel() error

	// LastExposureDuration is the exposure plus readout time of the last
	// completed frame, zero if it was aborted
	LastExposureDuration() time.Duration
}

// Handle is everything the exposure core needs from one camera
type Handle interface {
	Device
	ThermalManager
	Framer
	ModeSetter
	PictureTaker
}
