package agcc

import (
	"errors"
	"fmt"
)

var (
	// ErrNoCameraAvailable is returned when none of the requested cameras is attached
	ErrNoCameraAvailable = errors.New("no camera available")

	// ErrCameraBusy is returned when a requested camera is not Ready.  Nothing
	// was started or changed.
	ErrCameraBusy = errors.New("camera busy")

	// ErrSequenceInUse is returned by StartSequence on a sequence that is not idle
	ErrSequenceInUse = errors.New("sequence in use")

	// ErrSequenceNotRunning is returned by StopSequence on a sequence that is not running
	ErrSequenceNotRunning = errors.New("sequence not running")

	// ErrAnalysisFailed marks a camera whose frame could not be analyzed.  The
	// exposure still completed.
	ErrAnalysisFailed = errors.New("analysis failed")

	// ErrPersistenceFailed marks a frame or spot write that failed.  It is
	// logged and never unwinds the exposure.
	ErrPersistenceFailed = errors.New("persistence failed")

	// ErrBadCamera is returned for a camera id outside the registry
	ErrBadCamera = errors.New("invalid camera id")

	// ErrBadSequence is returned for a sequence id outside the fixed set
	ErrBadSequence = errors.New("invalid sequence id")

	// ErrBadRequest is returned for malformed exposure or settings arguments
	ErrBadRequest = errors.New("invalid request")
)

// HardwareFault is a failure of one camera's hardware during an exposure.
// It is reported for that camera only.
type HardwareFault struct {
	// Camera is the 0-based slot
	Camera int

	// Op is the operation that failed
	Op string

	// Err is the driver error
	Err error
}

// Error satisfies the error interface
func (e HardwareFault) Error() string {
	return fmt.Sprintf("camera %d %s: %v", e.Camera+1, e.Op, e.Err)
}

// Unwrap returns the driver error
func (e HardwareFault) Unwrap() error {
	return e.Err
}

func badCamera(id int) error {
	return fmt.Errorf("%w: %d", ErrBadCamera, id+1)
}

func busy(id int) error {
	return fmt.Errorf("%w: camera %d", ErrCameraBusy, id+1)
}
