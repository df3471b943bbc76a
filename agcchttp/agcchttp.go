// Package agcchttp exposes the guide camera controller over HTTP.
//
// Camera and sequence numbers on the wire are 1-based.  Camera lists are
// strings, either a run of digits ("136") or comma separated ("1,3,6"); an
// empty list means every attached camera.  Bodies and replies are JSON.
package agcchttp

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi"
	"github.com/sirupsen/logrus"

	"github.com/nasa-jpl/agcc/agcc"
)

// MethodPath is a method and chi route pattern
type MethodPath struct {
	Method string
	Path   string
}

// RouteTable maps routes to handlers
type RouteTable map[MethodPath]http.HandlerFunc

// Bind registers every route on r
func (rt RouteTable) Bind(r chi.Router) {
	for mp, fn := range rt {
		r.MethodFunc(mp.Method, mp.Path, fn)
	}
}

// Endpoints lists the routes as "METHOD path"
func (rt RouteTable) Endpoints() []string {
	out := make([]string, 0, len(rt))
	for mp := range rt {
		out = append(out, mp.Method+" "+mp.Path)
	}
	return out
}

// HTTPStatus maps an orchestrator error to a status code
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, agcc.ErrCameraBusy),
		errors.Is(err, agcc.ErrSequenceInUse),
		errors.Is(err, agcc.ErrSequenceNotRunning):
		return http.StatusConflict
	case errors.Is(err, agcc.ErrNoCameraAvailable):
		return http.StatusNotFound
	case errors.Is(err, agcc.ErrBadRequest),
		errors.Is(err, agcc.ErrBadCamera),
		errors.Is(err, agcc.ErrBadSequence):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Server binds an Orchestrator to HTTP routes
type Server struct {
	orc *agcc.Orchestrator
	log logrus.FieldLogger

	RouteTable RouteTable
}

// NewServer builds the route table for orc
func NewServer(orc *agcc.Orchestrator, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{orc: orc, log: log, RouteTable: RouteTable{}}
	rt := s.RouteTable
	rt[MethodPath{http.MethodGet, "/status"}] = s.status
	rt[MethodPath{http.MethodGet, "/camera/{cam}"}] = s.cameraStatus
	rt[MethodPath{http.MethodGet, "/camera/{cam}/mode"}] = s.getMode
	rt[MethodPath{http.MethodPost, "/expose"}] = s.expose
	rt[MethodPath{http.MethodPost, "/abort"}] = s.abort
	rt[MethodPath{http.MethodGet, "/sequence"}] = s.sequences
	rt[MethodPath{http.MethodGet, "/sequence/{seq}"}] = s.sequence
	rt[MethodPath{http.MethodPost, "/sequence/{seq}/start"}] = s.startSequence
	rt[MethodPath{http.MethodPost, "/sequence/{seq}/stop"}] = s.stopSequence
	rt[MethodPath{http.MethodPost, "/temperature"}] = s.setTemperature
	rt[MethodPath{http.MethodPost, "/tecoff"}] = s.tecOff
	rt[MethodPath{http.MethodPost, "/frame"}] = s.setFrame
	rt[MethodPath{http.MethodPost, "/frame/reset"}] = s.resetFrame
	rt[MethodPath{http.MethodPost, "/mode"}] = s.setMode
	rt[MethodPath{http.MethodPost, "/regions"}] = s.setRegions
	rt[MethodPath{http.MethodPost, "/visit"}] = s.insertVisit
	rt[MethodPath{http.MethodPost, "/reconnect"}] = s.reconnect
	rt[MethodPath{http.MethodGet, "/centroid-params"}] = s.getParams
	rt[MethodPath{http.MethodPost, "/centroid-params"}] = s.setParams
	return s
}

// Router returns a chi router serving the route table
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	s.RouteTable.Bind(r)
	r.Get("/list-of-routes", func(w http.ResponseWriter, r *http.Request) {
		respond(w, s.RouteTable.Endpoints())
	})
	return r
}

func respond(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithField("err", err).Error("encoding reply")
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := HTTPStatus(err)
	if code >= http.StatusInternalServerError {
		s.log.WithFields(logrus.Fields{"path": r.URL.Path, "err": err}).Error("request failed")
	}
	http.Error(w, err.Error(), code)
}

func decode(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", agcc.ErrBadRequest, err)
	}
	return nil
}

// urlID parses a 1-based URL parameter into a 0-based id
func urlID(r *http.Request, name string, bad error) (int, error) {
	v := chi.URLParam(r, name)
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", bad, v)
	}
	return n - 1, nil
}

// ParseRegions parses "x,y,d" or "x,y,d,x,y,d"
func ParseRegions(s string) ([2]agcc.ROI, error) {
	var out [2]agcc.ROI
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 && len(parts) != 6 {
		return out, fmt.Errorf("%w: regions %q need 3 or 6 values", agcc.ErrBadRequest, s)
	}
	v := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return out, fmt.Errorf("%w: regions %q", agcc.ErrBadRequest, s)
		}
		v[i] = n
	}
	out[0] = agcc.ROI{X: v[0], Y: v[1], D: v[2]}
	if len(v) == 6 {
		out[1] = agcc.ROI{X: v[3], Y: v[4], D: v[5]}
	}
	return out, nil
}
