// Package photometry runs centroid analysis for one camera on a dedicated
// goroutine, so a camera's frames are analyzed one at a time and never on
// the goroutine that drives the exposure.
package photometry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/nasa-jpl/agcc/camera"
	"github.com/nasa-jpl/agcc/centroid"
)

var (
	// ErrWorkerClosed is returned by Measure after Close
	ErrWorkerClosed = errors.New("photometry worker closed")

	// ErrAnalysisFailed wraps any failure inside the analysis
	ErrAnalysisFailed = errors.New("analysis failed")
)

// Request is one frame to measure
type Request struct {
	Frame      camera.Frame
	Image      centroid.ImageParameters
	Parameters centroid.Parameters
	Method     centroid.Method
}

// Result is the outcome of a Request
type Result struct {
	Spots []centroid.Spot
	Err   error
}

type job struct {
	req Request
	out chan Result
}

// Analyzer is the analysis function a Worker runs
type Analyzer func(camera.Frame, centroid.ImageParameters, centroid.Parameters, centroid.Method) ([]centroid.Spot, error)

// Worker serializes analysis requests for one camera
type Worker struct {
	// Camera is the slot the worker serves, for logging
	Camera int

	in      chan job
	done    chan struct{}
	analyze Analyzer
	log     logrus.FieldLogger

	mu     sync.Mutex
	closed bool
}

// NewWorker starts a worker using centroid.AnalyzeFrame
func NewWorker(cam int, log logrus.FieldLogger) *Worker {
	return NewWorkerWith(cam, log, centroid.AnalyzeFrame)
}

// NewWorkerWith starts a worker with a custom analysis function
func NewWorkerWith(cam int, log logrus.FieldLogger, a Analyzer) *Worker {
	if log == nil {
		log = logrus.StandardLogger()
	}
	w := &Worker{
		Camera:  cam,
		in:      make(chan job),
		done:    make(chan struct{}),
		analyze: a,
		log:     log.WithField("cam", cam+1),
	}
	go w.loop()
	return w
}

func (w *Worker) loop() {
	defer close(w.done)
	for j := range w.in {
		j.out <- w.run(j.req)
	}
}

func (w *Worker) run(req Request) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			w.log.WithField("panic", r).Error("analysis panicked")
			res = Result{Err: fmt.Errorf("%w: %v", ErrAnalysisFailed, r)}
		}
	}()
	spots, err := w.analyze(req.Frame, req.Image, req.Parameters, req.Method)
	if err != nil {
		return Result{Err: fmt.Errorf("%w: %v", ErrAnalysisFailed, err)}
	}
	w.log.WithField("spots", len(spots)).Debug("frame analyzed")
	return Result{Spots: spots}
}

// Measure submits a request and waits for its result.  A cancelled context
// abandons the wait; the analysis itself still runs to completion.
func (w *Worker) Measure(ctx context.Context, req Request) ([]centroid.Spot, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, ErrWorkerClosed
	}
	out := make(chan Result, 1)
	select {
	case w.in <- job{req: req, out: out}:
		w.mu.Unlock()
	case <-ctx.Done():
		w.mu.Unlock()
		return nil, ctx.Err()
	}
	select {
	case res := <-out:
		return res.Spots, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the worker after the request in flight, if any, completes
func (w *Worker) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.in)
	w.mu.Unlock()
	<-w.done
	return nil
}
