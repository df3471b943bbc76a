package agcc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nasa-jpl/agcc/camera"
	"github.com/nasa-jpl/agcc/centroid"
	"github.com/nasa-jpl/agcc/photometry"
)

// NumCameras is the number of camera slots
const NumCameras = 6

// ROI is a square region of interest centered on X, Y with side D, as set
// by the operator for guiding
type ROI struct {
	X int `json:"x"`
	Y int `json:"y"`
	D int `json:"d"`
}

func (r ROI) String() string {
	return fmt.Sprintf("[%d,%d,%d]", r.X, r.Y, r.D)
}

// CameraState is the actor's view of one attached camera
type CameraState struct {
	ID                  int
	Handle              camera.Handle
	Status              camera.Status
	TemperatureSetpoint float64
	Binning             camera.Binning
	Region              camera.Area
	Regions             [2]ROI
	LastExposure        time.Duration
	AbortRequested      bool
	Image               centroid.ImageParameters

	worker *photometry.Worker
	// abort is closed when an abort is requested for the current reservation
	abort chan struct{}
}

// Registry holds the camera slots.  Status changes happen under its lock;
// everything else about a camera is only changed while it is Ready.
type Registry struct {
	mu      sync.Mutex
	slots   [NumCameras]*CameraState
	changed chan struct{}
	log     logrus.FieldLogger
}

// NewRegistry returns an empty registry
func NewRegistry(log logrus.FieldLogger) *Registry {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Registry{changed: make(chan struct{}), log: log}
}

// broadcast wakes WaitReady callers.  Must be called with the lock held.
func (r *Registry) broadcast() {
	close(r.changed)
	r.changed = make(chan struct{})
}

func (r *Registry) slot(id int) (*CameraState, error) {
	if id < 0 || id >= NumCameras {
		return nil, badCamera(id)
	}
	return r.slots[id], nil
}

// Attach opens h, programs the temperature setpoint and puts it in slot id
// with its own photometry worker
func (r *Registry) Attach(id int, h camera.Handle, ip centroid.ImageParameters, setpoint float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, err := r.slot(id)
	if err != nil {
		return err
	}
	if cur != nil {
		return fmt.Errorf("camera %d already attached", id+1)
	}
	if err := h.Open(); err != nil {
		return HardwareFault{Camera: id, Op: "open", Err: err}
	}
	if err := h.SetTemperature(setpoint); err != nil {
		r.log.WithFields(logrus.Fields{"cam": id + 1, "err": err}).Warn("setting temperature on attach")
	}
	r.slots[id] = &CameraState{
		ID:                  id,
		Handle:              h,
		Status:              camera.Ready,
		TemperatureSetpoint: setpoint,
		Binning:             h.GetBinning(),
		Region:              h.GetFrame(),
		Image:               ip,
		worker:              photometry.NewWorker(id, r.log),
	}
	r.log.WithFields(logrus.Fields{"cam": id + 1, "serial": h.Serial(), "model": h.Model()}).Info("camera attached")
	r.broadcast()
	return nil
}

// Detach closes the camera in slot id.  The camera must be Ready.
func (r *Registry) Detach(id int) error {
	r.mu.Lock()
	st, err := r.slot(id)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	if st == nil {
		r.mu.Unlock()
		return nil
	}
	if st.Status != camera.Ready {
		r.mu.Unlock()
		return busy(id)
	}
	r.slots[id] = nil
	r.broadcast()
	r.mu.Unlock()

	st.worker.Close()
	if err := st.Handle.Close(); err != nil {
		return HardwareFault{Camera: id, Op: "close", Err: err}
	}
	r.log.WithField("cam", id+1).Info("camera detached")
	return nil
}

// DetachAll detaches every camera, failing with ErrCameraBusy before
// touching any if one is not Ready
func (r *Registry) DetachAll() error {
	r.mu.Lock()
	for id, st := range r.slots {
		if st != nil && st.Status != camera.Ready {
			r.mu.Unlock()
			return busy(id)
		}
	}
	r.mu.Unlock()
	var first error
	for id := 0; id < NumCameras; id++ {
		if err := r.Detach(id); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Get returns a copy of the state of slot id and whether a camera is attached
func (r *Registry) Get(id int) (CameraState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, err := r.slot(id)
	if err != nil || st == nil {
		return CameraState{ID: id, Status: camera.Closed}, false
	}
	return *st, true
}

// Status returns the status of slot id, Closed when nothing is attached
func (r *Registry) Status(id int) camera.Status {
	st, _ := r.Get(id)
	return st.Status
}

// Attached filters ids down to the attached cameras.  An empty ids means
// every slot.
func (r *Registry) Attached(ids []int) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(ids) == 0 {
		ids = make([]int, NumCameras)
		for i := range ids {
			ids[i] = i
		}
	}
	var out []int
	for _, id := range ids {
		if id >= 0 && id < NumCameras && r.slots[id] != nil {
			out = append(out, id)
		}
	}
	return out
}

// reserve moves every camera in ids from Ready to s, or none of them
func (r *Registry) reserve(ids []int, s camera.Status) ([]CameraState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		st, err := r.slot(id)
		if err != nil {
			return nil, err
		}
		if st == nil {
			return nil, fmt.Errorf("%w: camera %d not attached", ErrNoCameraAvailable, id+1)
		}
		if st.Status != camera.Ready {
			return nil, busy(id)
		}
	}
	out := make([]CameraState, len(ids))
	for i, id := range ids {
		st := r.slots[id]
		st.Status = s
		st.AbortRequested = false
		st.abort = make(chan struct{})
		out[i] = *st
	}
	r.broadcast()
	return out, nil
}

// release returns a reserved camera to Ready
func (r *Registry) release(id int, fn func(*CameraState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.slots[id]
	if st == nil {
		return
	}
	if fn != nil {
		fn(st)
	}
	st.Status = camera.Ready
	st.AbortRequested = false
	st.abort = nil
	r.broadcast()
}

// update applies fn to a Ready camera under the lock
func (r *Registry) update(id int, fn func(*CameraState) error) error {
	return r.updateAll([]int{id}, fn)
}

// updateAll applies fn to every camera in ids under the lock, or to none of
// them when one is missing or not Ready
func (r *Registry) updateAll(ids []int, fn func(*CameraState) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		st, err := r.slot(id)
		if err != nil {
			return err
		}
		if st == nil {
			return fmt.Errorf("%w: camera %d not attached", ErrNoCameraAvailable, id+1)
		}
		if st.Status != camera.Ready {
			return busy(id)
		}
	}
	for _, id := range ids {
		if err := fn(r.slots[id]); err != nil {
			return err
		}
	}
	return nil
}

// requestAbort marks the cameras in ids for abort and returns the handles
// of those exposing
func (r *Registry) requestAbort(ids []int) map[int]camera.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[int]camera.Handle{}
	for _, id := range ids {
		if id < 0 || id >= NumCameras || r.slots[id] == nil {
			continue
		}
		st := r.slots[id]
		if st.Status == camera.Exposing {
			if !st.AbortRequested && st.abort != nil {
				close(st.abort)
			}
			st.AbortRequested = true
			out[id] = st.Handle
		}
	}
	return out
}

// WaitReady blocks until every attached camera in ids is Ready, or ctx ends
func (r *Registry) WaitReady(ctx context.Context, ids []int) error {
	for {
		r.mu.Lock()
		ready := true
		for _, id := range ids {
			if id >= 0 && id < NumCameras && r.slots[id] != nil && r.slots[id].Status != camera.Ready {
				ready = false
				break
			}
		}
		ch := r.changed
		r.mu.Unlock()
		if ready {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Registry) worker(id int) *photometry.Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st := r.slots[id]; st != nil {
		return st.worker
	}
	return nil
}
