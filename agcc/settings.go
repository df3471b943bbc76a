package agcc

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/nasa-jpl/agcc/camera"
)

// every runs fn on each attached camera of ids.  Nothing is changed unless
// all of them are Ready; a setter error stops at that camera.
func (o *Orchestrator) every(ids []int, fn func(st *CameraState) error) error {
	ids = o.Registry.Attached(ids)
	if len(ids) == 0 {
		return ErrNoCameraAvailable
	}
	return o.Registry.updateAll(ids, fn)
}

// SetFrame sets the readout area of Ready cameras
func (o *Orchestrator) SetFrame(ids []int, x0, y0, width, height int) error {
	return o.every(ids, func(st *CameraState) error {
		if err := st.Handle.SetFrame(x0, y0, width, height); err != nil {
			return fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
		st.Region = st.Handle.GetFrame()
		return nil
	})
}

// ResetFrame restores the full readout area and 1x1 binning
func (o *Orchestrator) ResetFrame(ids []int) error {
	return o.every(ids, func(st *CameraState) error {
		if err := st.Handle.ResetFrame(); err != nil {
			return HardwareFault{Camera: st.ID, Op: "reset frame", Err: err}
		}
		st.Region = st.Handle.GetFrame()
		st.Binning = st.Handle.GetBinning()
		return nil
	})
}

// SetBinning sets the binning of Ready cameras
func (o *Orchestrator) SetBinning(ids []int, b camera.Binning) error {
	return o.every(ids, func(st *CameraState) error {
		if err := st.Handle.SetBinning(b); err != nil {
			return fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
		st.Binning = st.Handle.GetBinning()
		return nil
	})
}

// SetTemperature programs a new CCD setpoint on Ready cameras
func (o *Orchestrator) SetTemperature(ids []int, t float64) error {
	var set []int
	err := o.every(ids, func(st *CameraState) error {
		if err := st.Handle.SetTemperature(t); err != nil {
			return HardwareFault{Camera: st.ID, Op: "set temperature", Err: err}
		}
		st.TemperatureSetpoint = t
		set = append(set, st.ID)
		return nil
	})
	for _, id := range set {
		o.notify.Inform(fmt.Sprintf("agc%d_setpoint", id+1), t)
	}
	return err
}

// TECOff drives Ready cameras to the configured off setpoint
func (o *Orchestrator) TECOff(ids []int) error {
	return o.SetTemperature(ids, o.tecOff)
}

// SetRegions replaces the guiding regions of interest of Ready cameras
func (o *Orchestrator) SetRegions(ids []int, regions [2]ROI) error {
	for _, r := range regions {
		if r.D < 0 || r.X < 0 || r.Y < 0 {
			return fmt.Errorf("%w: region %s", ErrBadRequest, r)
		}
	}
	return o.every(ids, func(st *CameraState) error {
		st.Regions = regions
		return nil
	})
}

// SetMode programs a readout mode on the cameras in parallel.  They must all
// be Ready and show SettingMode while it happens.
func (o *Orchestrator) SetMode(ids []int, mode int) error {
	ids = o.Registry.Attached(ids)
	if len(ids) == 0 {
		return ErrNoCameraAvailable
	}
	states, err := o.Registry.reserve(ids, camera.SettingMode)
	if err != nil {
		return err
	}
	errs := make([]error, len(states))
	var wg sync.WaitGroup
	for i, st := range states {
		wg.Add(1)
		go func(i int, st CameraState) {
			defer wg.Done()
			defer o.Registry.release(st.ID, nil)
			o.notify.Inform(fmt.Sprintf("agc%d_stat", st.ID+1), camera.SettingMode.String())
			if err := st.Handle.SetReadoutMode(mode); err != nil {
				errs[i] = HardwareFault{Camera: st.ID, Op: "set readout mode", Err: err}
				o.log.WithFields(logrus.Fields{"cam": st.ID + 1, "err": err}).Error("hardware fault")
			}
			o.notify.Inform(fmt.Sprintf("agc%d_stat", st.ID+1), camera.Ready.String())
		}(i, st)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// GetMode returns a camera's readout mode
func (o *Orchestrator) GetMode(id int) (int, error) {
	st, ok := o.Registry.Get(id)
	if !ok {
		return 0, fmt.Errorf("%w: camera %d not attached", ErrNoCameraAvailable, id+1)
	}
	return st.Handle.GetReadoutMode()
}

// ModeString describes a camera's readout mode
func (o *Orchestrator) ModeString(id, mode int) (string, error) {
	st, ok := o.Registry.Get(id)
	if !ok {
		return "", fmt.Errorf("%w: camera %d not attached", ErrNoCameraAvailable, id+1)
	}
	s, err := st.Handle.ReadoutModeString(mode)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return s, nil
}

// InsertVisit records a visit for later spot writes
func (o *Orchestrator) InsertVisit(visit int) error {
	if err := o.spots.InsertVisit(visit); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	return nil
}

// Reconnect detaches every camera and attaches what the connect function
// finds.  Every camera must be Ready and no sequence may be running.
func (o *Orchestrator) Reconnect() error {
	if o.connect == nil {
		return fmt.Errorf("%w: no camera connector configured", ErrBadRequest)
	}
	o.mu.Lock()
	for id, s := range o.seqs {
		if s.status != Idle {
			o.mu.Unlock()
			return fmt.Errorf("%w: sequence %d", ErrSequenceInUse, id+1)
		}
	}
	o.mu.Unlock()
	if err := o.Registry.DetachAll(); err != nil {
		return err
	}
	return o.connect(o.Registry)
}

// CameraInfo is the reported state of one camera slot
type CameraInfo struct {
	ID           int     `json:"id"`
	Status       string  `json:"status"`
	Serial       string  `json:"serial,omitempty"`
	Model        string  `json:"model,omitempty"`
	Setpoint     float64 `json:"setpoint"`
	Temperature  float64 `json:"temperature"`
	Binning      string  `json:"binning"`
	Area         string  `json:"area"`
	Regions      [2]ROI  `json:"regions"`
	LastExposure float64 `json:"lastExposure"`
}

// CameraStatus reports slot id.  Absent slots report CLOSED.
func (o *Orchestrator) CameraStatus(id int) (CameraInfo, error) {
	if id < 0 || id >= NumCameras {
		return CameraInfo{}, badCamera(id)
	}
	st, ok := o.Registry.Get(id)
	info := CameraInfo{ID: id, Status: st.Status.String()}
	if !ok {
		return info, nil
	}
	info.Serial = st.Handle.Serial()
	info.Model = st.Handle.Model()
	info.Setpoint = st.TemperatureSetpoint
	if t, err := st.Handle.GetTemperature(); err == nil {
		info.Temperature = t
	}
	info.Binning = fmt.Sprintf("%dx%d", st.Binning.H, st.Binning.V)
	info.Area = st.Region.String()
	info.Regions = st.Regions
	info.LastExposure = st.LastExposure.Seconds()
	return info, nil
}

// Snapshot is the whole actor status
type Snapshot struct {
	Exposing  int              `json:"exposing"`
	FrameID   int              `json:"frameId"`
	Cameras   []CameraInfo     `json:"cameras"`
	Sequences []SequenceStatus `json:"sequences"`
}

// Status reports every camera and sequence
func (o *Orchestrator) Status() Snapshot {
	s := Snapshot{Exposing: o.Busy(), FrameID: o.LastFrameID(), Sequences: o.Sequences()}
	for id := 0; id < NumCameras; id++ {
		info, _ := o.CameraStatus(id)
		s.Cameras = append(s.Cameras, info)
	}
	return s
}
