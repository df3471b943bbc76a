package agcc

import (
	"time"

	"github.com/nasa-jpl/agcc/camera"
	"github.com/nasa-jpl/agcc/centroid"
)

// FrameRecord is everything persisted about one camera's frame
type FrameRecord struct {
	Camera       int
	Serial       string
	Model        string
	Frame        camera.Frame
	ExposureTime time.Duration
	Binning      camera.Binning
	Temperature  float64
	FrameID      int
	RunID        string
	Regions      [2]ROI
	Halves       [2]centroid.Region
	Spots        []centroid.Spot
}

// SpotRecord is one camera's spots from one exposure
type SpotRecord struct {
	Visit        int
	FrameID      int
	Camera       int
	ExposureTime time.Duration
	Taken        time.Time
	Spots        []centroid.Spot
}

// FrameSink persists frames and returns where they went
type FrameSink interface {
	// WriteFrame persists a single camera's frame
	WriteFrame(rec FrameRecord) (string, error)

	// WriteCombined persists every camera's frame from one exposure together.
	// seq is the 1-based sequence number, 0 outside a sequence.
	WriteCombined(frameID, seq int, recs []FrameRecord) (string, error)
}

// SpotSink persists spot measurements
type SpotSink interface {
	// InsertVisit records a visit so spots can refer to it
	InsertVisit(visit int) error

	// WriteSpots bulk writes one camera's spots from one exposure
	WriteSpots(rec SpotRecord) error
}

// Notifier publishes keyword status updates as they happen
type Notifier interface {
	Inform(key string, value interface{})
}

// FrameCounter hands out frame ids unique across restarts
type FrameCounter interface {
	Next() (int, error)
}

type discard struct{}

func (discard) WriteFrame(FrameRecord) (string, error) { return "", nil }
func (discard) WriteCombined(int, int, []FrameRecord) (string, error) { return "", nil }
func (discard) InsertVisit(int) error { return nil }
func (discard) WriteSpots(SpotRecord) error { return nil }
func (discard) Inform(string, interface{}) {}

// memCounter counts from 1 in memory
type memCounter struct{ n int }

func (c *memCounter) Next() (int, error) {
	c.n++
	return c.n, nil
}
