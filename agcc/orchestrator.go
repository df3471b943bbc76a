/*Package agcc coordinates the guide cameras: parallel exposures behind an
all-or-nothing readiness gate, abortable exposure sequences, and per-camera
centroid analysis.

Each exposure runs one goroutine per camera.  Expose returns only after every
camera's goroutine has finished, and every camera that took part is Ready
again by then, whether its exposure completed, was aborted, or failed.
*/
package agcc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nasa-jpl/agcc/camera"
	"github.com/nasa-jpl/agcc/centroid"
	"github.com/nasa-jpl/agcc/photometry"
)

// Kind is the kind of frame taken
type Kind int

const (
	// Object frames open the shutter
	Object Kind = iota

	// Dark frames keep the shutter closed
	Dark

	// Test frames touch no hardware; a flat frame of the camera's readout
	// area goes through the rest of the pipeline
	Test
)

func (k Kind) String() string {
	switch k {
	case Object:
		return "object"
	case Dark:
		return "dark"
	case Test:
		return "test"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind parses "object", "dark" or "test"
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "", "object":
		return Object, nil
	case "dark":
		return Dark, nil
	case "test":
		return Test, nil
	default:
		return Object, fmt.Errorf("%w: unknown frame kind %q", ErrBadRequest, s)
	}
}

// Request describes one exposure
type Request struct {
	// Cameras are 0-based slots.  Empty means every attached camera;
	// unattached slots are skipped.
	Cameras []int

	ExposureTime time.Duration
	Kind         Kind

	// Combined writes one file for the whole exposure instead of one per camera
	Combined bool

	// Centroid runs spot analysis on each frame
	Centroid bool
	Method   centroid.Method

	// Parameters overrides the orchestrator's centroid parameters
	Parameters *centroid.Parameters

	// StartupDelay is multiplied by each camera's position in Cameras and
	// slept before it exposes
	StartupDelay time.Duration

	// TECOff drives the temperature setpoint to the off value while
	// exposing and restores it afterward
	TECOff bool

	// Visit is the visit id spots are recorded under
	Visit int

	// Expected are known spot positions per camera for template registration
	Expected [NumCameras][]centroid.Point

	// SeqID is the 1-based sequence number, 0 outside a sequence
	SeqID int
}

// Outcome is how one camera's part of an exposure ended
type Outcome int

const (
	// Completed means a frame was taken
	Completed Outcome = iota

	// Aborted means the exposure was cancelled and no frame was taken
	Aborted

	// Faulted means the hardware failed and no frame was taken
	Faulted
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	case Faulted:
		return "faulted"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// CameraResult is one camera's part of an exposure
type CameraResult struct {
	Camera   int
	Outcome  Outcome
	Err      error
	Duration time.Duration
	File     string
	Record   FrameRecord

	// Spots is empty when centroiding was not requested or AnalysisErr is set
	Spots       []centroid.Spot
	AnalysisErr error
}

// Result is the outcome of one exposure
type Result struct {
	FrameID      int
	RunID        string
	Cameras      []CameraResult
	CombinedFile string
}

// Options wires an Orchestrator's collaborators.  Nil collaborators discard.
type Options struct {
	Frames  FrameSink
	Spots   SpotSink
	Notify  Notifier
	Counter FrameCounter
	Log     logrus.FieldLogger

	// Parameters are the default centroid parameters
	Parameters centroid.Parameters

	// TECOffSetpoint is the setpoint programmed for TECOff exposures
	TECOffSetpoint float64

	// Connect attaches the available cameras, used by Reconnect
	Connect ConnectFunc
}

// ConnectFunc opens the cameras available to the actor and attaches them
type ConnectFunc func(reg *Registry) error

// Orchestrator owns the exposure and sequence state of the actor
type Orchestrator struct {
	Registry *Registry

	frames  FrameSink
	spots   SpotSink
	notify  Notifier
	counter FrameCounter
	log     logrus.FieldLogger
	connect ConnectFunc
	tecOff  float64

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	busy     int
	last     int
	params   centroid.Parameters
	fallback memCounter
	seqs     [NumSequences]sequence
	loops    sync.WaitGroup
}

// New returns an Orchestrator over reg
func New(reg *Registry, o Options) *Orchestrator {
	if o.Log == nil {
		o.Log = logrus.StandardLogger()
	}
	var d discard
	if o.Frames == nil {
		o.Frames = d
	}
	if o.Spots == nil {
		o.Spots = d
	}
	if o.Notify == nil {
		o.Notify = d
	}
	if o.Counter == nil {
		o.Counter = &memCounter{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	orc := &Orchestrator{
		Registry: reg,
		frames:   o.Frames,
		spots:    o.Spots,
		notify:   o.Notify,
		counter:  o.Counter,
		log:      o.Log,
		connect:  o.Connect,
		tecOff:   o.TECOffSetpoint,
		params:   o.Parameters,
		ctx:      ctx,
		cancel:   cancel,
	}
	for i := range orc.seqs {
		orc.seqs[i].done = make(chan struct{})
		close(orc.seqs[i].done)
	}
	return orc
}

// Close stops accepting sequences, aborts the running ones and waits for them
func (o *Orchestrator) Close() error {
	o.cancel()
	for id := range o.seqs {
		o.StopSequence(id)
	}
	o.loops.Wait()
	return o.Registry.DetachAll()
}

// Busy returns the number of cameras exposing right now
func (o *Orchestrator) Busy() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.busy
}

// LastFrameID returns the id of the most recent exposure, 0 before the first
func (o *Orchestrator) LastFrameID() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

// Parameters returns the default centroid parameters
func (o *Orchestrator) Parameters() centroid.Parameters {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.params
}

// SetParameters replaces the default centroid parameters
func (o *Orchestrator) SetParameters(p centroid.Parameters) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.params = p
}

func (o *Orchestrator) addBusy(n int) {
	o.mu.Lock()
	o.busy += n
	b := o.busy
	o.mu.Unlock()
	o.notify.Inform("agc_exposing", b)
}

func (o *Orchestrator) nextFrameID() int {
	id, err := o.counter.Next()
	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		o.log.WithField("err", err).Warn("frame counter unavailable, counting in memory")
		id, _ = o.fallback.Next()
	}
	o.last = id
	return id
}

// Expose takes one exposure on the requested cameras in parallel.  It fails
// with ErrNoCameraAvailable if none of them is attached and ErrCameraBusy if
// any is not Ready, in which case nothing was started.  Per-camera failures
// are reported in the result, never as the error.
func (o *Orchestrator) Expose(ctx context.Context, req Request) (*Result, error) {
	if req.ExposureTime < 0 {
		return nil, fmt.Errorf("%w: negative exposure time", ErrBadRequest)
	}
	ids := o.Registry.Attached(req.Cameras)
	if len(ids) == 0 {
		return nil, ErrNoCameraAvailable
	}
	states, err := o.Registry.reserve(ids, camera.Exposing)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		o.notify.Inform(fmt.Sprintf("agc%d_stat", id+1), camera.Exposing.String())
	}
	res := &Result{FrameID: o.nextFrameID(), RunID: uuid.New().String()}
	o.notify.Inform("agc_frameid", res.FrameID)
	log := o.log.WithFields(logrus.Fields{"frame": res.FrameID, "seq": req.SeqID, "kind": req.Kind.String()})
	log.WithField("cams", ids).Info("exposure starting")

	params := o.Parameters()
	if req.Parameters != nil {
		params = *req.Parameters
	}
	params.ExposureTime = req.ExposureTime

	o.addBusy(len(ids))
	res.Cameras = make([]CameraResult, len(ids))
	var wg sync.WaitGroup
	for i, st := range states {
		wg.Add(1)
		go func(i int, st CameraState) {
			defer wg.Done()
			res.Cameras[i] = o.exposeOne(ctx, st, req, params, i, res)
		}(i, st)
	}
	wg.Wait()
	o.addBusy(-len(ids))

	if req.Combined {
		var recs []FrameRecord
		for _, cr := range res.Cameras {
			if cr.Outcome == Completed {
				recs = append(recs, cr.Record)
			}
		}
		if len(recs) > 0 {
			path, err := o.frames.WriteCombined(res.FrameID, req.SeqID, recs)
			if err != nil {
				log.WithField("err", fmt.Errorf("%w: %v", ErrPersistenceFailed, err)).Warn("writing combined frame")
			} else {
				res.CombinedFile = path
				o.notify.Inform(fmt.Sprintf("fits_seq%d", req.SeqID), path)
			}
		}
	}
	log.Info("exposure finished")
	return res, nil
}

// exposeOne is one camera's part of an exposure.  The camera is back to
// Ready when it returns, however it returns.
func (o *Orchestrator) exposeOne(ctx context.Context, st CameraState, req Request, params centroid.Parameters, idx int, res *Result) (cr CameraResult) {
	cam := st.ID
	log := o.log.WithFields(logrus.Fields{"cam": cam + 1, "frame": res.FrameID})
	cr.Camera = cam
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("camera goroutine panicked")
			cr.Outcome = Faulted
			cr.Err = HardwareFault{Camera: cam, Op: "expose", Err: fmt.Errorf("panic: %v", r)}
		}
		o.Registry.release(cam, func(s *CameraState) {
			if cr.Outcome == Completed {
				s.LastExposure = cr.Duration
			}
		})
		o.notify.Inform(fmt.Sprintf("agc%d_stat", cam+1), camera.Ready.String())
	}()

	if d := req.StartupDelay * time.Duration(idx); d > 0 {
		t := time.NewTimer(d)
		select {
		case <-t.C:
		case <-st.abort:
			t.Stop()
			cr.Outcome, cr.Err = Aborted, camera.ErrAborted
			log.Info("exposure aborted during startup delay")
			return cr
		case <-ctx.Done():
			t.Stop()
			cr.Outcome, cr.Err = Aborted, ctx.Err()
			return cr
		}
	}

	var frame camera.Frame
	temp := st.TemperatureSetpoint
	if req.Kind == Test {
		frame = camera.FlatFrame(st.Region)
		frame.Start = time.Now()
	} else {
		h := st.Handle
		if req.TECOff {
			if err := h.SetTemperature(o.tecOff); err != nil {
				log.WithField("err", err).Warn("turning TEC off")
			}
			defer func() {
				if err := h.SetTemperature(st.TemperatureSetpoint); err != nil {
					log.WithField("err", err).Warn("restoring temperature setpoint")
				}
			}()
		}
		if err := h.SetExposureTime(req.ExposureTime); err != nil {
			cr.Outcome, cr.Err = Faulted, HardwareFault{Camera: cam, Op: "set exposure time", Err: err}
			log.WithField("err", err).Error("hardware fault")
			return cr
		}
		if aborted(st.abort) {
			cr.Outcome, cr.Err = Aborted, camera.ErrAborted
			log.Info("exposure aborted before trigger")
			return cr
		}
		var err error
		frame, err = h.Expose(req.Kind == Dark)
		if errors.Is(err, camera.ErrAborted) {
			cr.Outcome, cr.Err = Aborted, err
			log.Info("exposure aborted")
			return cr
		}
		if err != nil {
			cr.Outcome, cr.Err = Faulted, HardwareFault{Camera: cam, Op: "expose", Err: err}
			log.WithField("err", err).Error("hardware fault")
			return cr
		}
		cr.Duration = h.LastExposureDuration()
		if t, err := h.GetTemperature(); err == nil {
			temp = t
		}
	}
	cr.Outcome = Completed

	if req.Centroid {
		p := params
		p.Expected = req.Expected[cam]
		spots, err := o.measure(ctx, cam, photometry.Request{Frame: frame, Image: st.Image, Parameters: p, Method: req.Method})
		if err != nil {
			cr.AnalysisErr = fmt.Errorf("%w: camera %d: %v", ErrAnalysisFailed, cam+1, err)
			log.WithField("err", err).Warn("analysis failed")
		} else {
			cr.Spots = spots
		}
	}

	cr.Record = FrameRecord{
		Camera:       cam,
		Serial:       st.Handle.Serial(),
		Model:        st.Handle.Model(),
		Frame:        frame,
		ExposureTime: req.ExposureTime,
		Binning:      st.Binning,
		Temperature:  temp,
		FrameID:      res.FrameID,
		RunID:        res.RunID,
		Regions:      st.Regions,
		Halves:       st.Image.Regions,
		Spots:        cr.Spots,
	}
	if !req.Combined {
		path, err := o.frames.WriteFrame(cr.Record)
		if err != nil {
			log.WithField("err", fmt.Errorf("%w: %v", ErrPersistenceFailed, err)).Warn("writing frame")
		} else {
			cr.File = path
			o.notify.Inform(fmt.Sprintf("fits_cam%d", cam+1), path)
		}
	}
	if req.Centroid && cr.AnalysisErr == nil {
		err := o.spots.WriteSpots(SpotRecord{
			Visit:        req.Visit,
			FrameID:      res.FrameID,
			Camera:       cam,
			ExposureTime: req.ExposureTime,
			Taken:        frame.Start,
			Spots:        cr.Spots,
		})
		if err != nil {
			log.WithField("err", fmt.Errorf("%w: %v", ErrPersistenceFailed, err)).Warn("writing spots")
		}
	}
	log.WithFields(logrus.Fields{"spots": len(cr.Spots), "duration": cr.Duration}).Debug("camera finished")
	return cr
}

// aborted reports whether ch has been closed without blocking
func aborted(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func (o *Orchestrator) measure(ctx context.Context, cam int, req photometry.Request) ([]centroid.Spot, error) {
	w := o.Registry.worker(cam)
	if w == nil {
		return nil, fmt.Errorf("camera %d has no photometry worker", cam+1)
	}
	return w.Measure(ctx, req)
}

// Abort requests cancellation of the exposures in progress on ids, every
// attached camera if ids is empty.  It does not wait for the cameras.
func (o *Orchestrator) Abort(ids []int) {
	ids = o.Registry.Attached(ids)
	for id, h := range o.Registry.requestAbort(ids) {
		if err := h.Cancel(); err != nil {
			o.log.WithFields(logrus.Fields{"cam": id + 1, "err": err}).Warn("cancelling exposure")
		}
	}
}
