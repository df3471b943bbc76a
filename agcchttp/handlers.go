package agcchttp

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nasa-jpl/agcc/agcc"
	"github.com/nasa-jpl/agcc/camera"
	"github.com/nasa-jpl/agcc/centroid"
	"github.com/nasa-jpl/agcc/mathx"
	"github.com/nasa-jpl/agcc/util"
)

// Expected is a known spot position for template registration
type Expected struct {
	Camera int     `json:"camera"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

// ExposeRequest is the body of /expose and /sequence/{seq}/start
type ExposeRequest struct {
	Cameras string `json:"cameras"`

	// ExposureTime is in seconds
	ExposureTime float64 `json:"exptime"`

	// Type is object, dark or test
	Type     string `json:"type"`
	Combined bool   `json:"combined"`
	Centroid bool   `json:"centroid"`
	Method   string `json:"method"`

	Parameters *centroid.Parameters `json:"params,omitempty"`

	// Delay is the per-camera startup delay in milliseconds
	Delay int `json:"delay"`

	TECOff   bool       `json:"tecoff"`
	Visit    int        `json:"visit"`
	Expected []Expected `json:"expected,omitempty"`

	// Count is the number of exposures of a sequence
	Count int `json:"count,omitempty"`
}

func cameras(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	ids, err := util.ParseCameraList(s, agcc.NumCameras)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", agcc.ErrBadCamera, err)
	}
	return ids, nil
}

// Request converts the body to an orchestrator request
func (e ExposeRequest) Request() (agcc.Request, error) {
	var req agcc.Request
	ids, err := cameras(e.Cameras)
	if err != nil {
		return req, err
	}
	kind, err := agcc.ParseKind(e.Type)
	if err != nil {
		return req, err
	}
	method, err := centroid.ParseMethod(e.Method)
	if err != nil {
		return req, fmt.Errorf("%w: %v", agcc.ErrBadRequest, err)
	}
	if e.ExposureTime < 0 || e.Delay < 0 {
		return req, fmt.Errorf("%w: negative exposure time or delay", agcc.ErrBadRequest)
	}
	req = agcc.Request{
		Cameras:      ids,
		ExposureTime: util.SecsToDuration(e.ExposureTime),
		Kind:         kind,
		Combined:     e.Combined,
		Centroid:     e.Centroid,
		Method:       method,
		Parameters:   e.Parameters,
		StartupDelay: util.MillisToDuration(e.Delay),
		TECOff:       e.TECOff,
		Visit:        e.Visit,
	}
	for _, x := range e.Expected {
		if x.Camera < 1 || x.Camera > agcc.NumCameras {
			return req, fmt.Errorf("%w: expected spot on camera %d", agcc.ErrBadCamera, x.Camera)
		}
		req.Expected[x.Camera-1] = append(req.Expected[x.Camera-1], centroid.Point{X: x.X, Y: x.Y})
	}
	return req, nil
}

// CameraReply is one camera's part of an exposure reply
type CameraReply struct {
	Camera        int             `json:"camera"`
	Outcome       string          `json:"outcome"`
	Error         string          `json:"error,omitempty"`
	Duration      float64         `json:"duration"`
	File          string          `json:"file,omitempty"`
	Spots         []centroid.Spot `json:"spots,omitempty"`
	AnalysisError string          `json:"analysisError,omitempty"`
}

// ExposeReply is the reply to /expose
type ExposeReply struct {
	FrameID      int           `json:"frameId"`
	RunID        string        `json:"runId"`
	CombinedFile string        `json:"combinedFile,omitempty"`
	Cameras      []CameraReply `json:"cameras"`
}

// Reply converts an orchestrator result.  Durations are seconds rounded to
// the millisecond.
func Reply(res *agcc.Result) ExposeReply {
	out := ExposeReply{FrameID: res.FrameID, RunID: res.RunID, CombinedFile: res.CombinedFile}
	for _, cr := range res.Cameras {
		c := CameraReply{
			Camera:   cr.Camera + 1,
			Outcome:  cr.Outcome.String(),
			Duration: mathx.Round(cr.Duration.Seconds(), 0.001),
			File:     cr.File,
			Spots:    cr.Spots,
		}
		if cr.Err != nil {
			c.Error = cr.Err.Error()
		}
		if cr.AnalysisErr != nil {
			c.AnalysisError = cr.AnalysisErr.Error()
		}
		out.Cameras = append(out.Cameras, c)
	}
	return out
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	respond(w, s.orc.Status())
}

func (s *Server) cameraStatus(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "cam", agcc.ErrBadCamera)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	info, err := s.orc.CameraStatus(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond(w, info)
}

func (s *Server) getMode(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "cam", agcc.ErrBadCamera)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	mode, err := s.orc.GetMode(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	name, err := s.orc.ModeString(id, mode)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond(w, struct {
		Mode int    `json:"mode"`
		Name string `json:"name"`
	}{mode, name})
}

func (s *Server) expose(w http.ResponseWriter, r *http.Request) {
	var body ExposeRequest
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	req, err := body.Request()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.log.WithFields(logrus.Fields{"cams": util.IntSliceToCSV(req.Cameras), "exptime": req.ExposureTime, "kind": req.Kind.String()}).Info("expose requested")
	res, err := s.orc.Expose(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond(w, Reply(res))
}

type camerasBody struct {
	Cameras string `json:"cameras"`
}

func (s *Server) abort(w http.ResponseWriter, r *http.Request) {
	var body camerasBody
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	ids, err := cameras(body.Cameras)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.orc.Abort(ids)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) sequences(w http.ResponseWriter, r *http.Request) {
	respond(w, s.orc.Sequences())
}

func (s *Server) sequence(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "seq", agcc.ErrBadSequence)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	st, err := s.orc.Sequence(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond(w, st)
}

func (s *Server) startSequence(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "seq", agcc.ErrBadSequence)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body ExposeRequest
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	req, err := body.Request()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.orc.StartSequence(id, req, body.Count); err != nil {
		s.fail(w, r, err)
		return
	}
	st, _ := s.orc.Sequence(id)
	respond(w, st)
}

func (s *Server) stopSequence(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "seq", agcc.ErrBadSequence)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.orc.StopSequence(id); err != nil {
		s.fail(w, r, err)
		return
	}
	if r.URL.Query().Get("wait") == "true" {
		ctx, cancel := context.WithTimeout(r.Context(), time.Minute)
		defer cancel()
		if err := s.orc.WaitSequence(ctx, id); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	st, _ := s.orc.Sequence(id)
	respond(w, st)
}

func (s *Server) setTemperature(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Cameras  string  `json:"cameras"`
		Setpoint float64 `json:"setpoint"`
	}
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	ids, err := cameras(body.Cameras)
	if err == nil {
		err = s.orc.SetTemperature(ids, body.Setpoint)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) tecOff(w http.ResponseWriter, r *http.Request) {
	var body camerasBody
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	ids, err := cameras(body.Cameras)
	if err == nil {
		err = s.orc.TECOff(ids)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// FrameRequest is the body of /frame
type FrameRequest struct {
	Cameras string `json:"cameras"`
	BinX    int    `json:"bx"`
	BinY    int    `json:"by"`
	X0      int    `json:"x0"`
	Y0      int    `json:"y0"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
}

func (s *Server) setFrame(w http.ResponseWriter, r *http.Request) {
	var body FrameRequest
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	ids, err := cameras(body.Cameras)
	if err == nil && (body.BinX != 0 || body.BinY != 0) {
		err = s.orc.SetBinning(ids, camera.Binning{H: body.BinX, V: body.BinY})
	}
	if err == nil {
		err = s.orc.SetFrame(ids, body.X0, body.Y0, body.Width, body.Height)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) resetFrame(w http.ResponseWriter, r *http.Request) {
	var body camerasBody
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	ids, err := cameras(body.Cameras)
	if err == nil {
		err = s.orc.ResetFrame(ids)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) setMode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Cameras string `json:"cameras"`
		Mode    int    `json:"mode"`
	}
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	ids, err := cameras(body.Cameras)
	if err == nil {
		err = s.orc.SetMode(ids, body.Mode)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) setRegions(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Cameras string `json:"cameras"`
		Regions string `json:"regions"`
	}
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	ids, err := cameras(body.Cameras)
	var regions [2]agcc.ROI
	if err == nil {
		regions, err = ParseRegions(body.Regions)
	}
	if err == nil {
		err = s.orc.SetRegions(ids, regions)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) insertVisit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Visit int `json:"visit"`
	}
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.orc.InsertVisit(body.Visit); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) reconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.orc.Reconnect(); err != nil {
		s.fail(w, r, err)
		return
	}
	respond(w, s.orc.Status())
}

func (s *Server) getParams(w http.ResponseWriter, r *http.Request) {
	respond(w, s.orc.Parameters())
}

func (s *Server) setParams(w http.ResponseWriter, r *http.Request) {
	p := s.orc.Parameters()
	if err := decode(r, &p); err != nil {
		s.fail(w, r, err)
		return
	}
	s.orc.SetParameters(p)
	respond(w, p)
}
