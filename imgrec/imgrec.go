// Package imgrec decides where frames are saved and hands out frame ids.
package imgrec

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// CounterFile is the name of the frame id file kept in the data root
const CounterFile = "nframe.txt"

// Recorder places frame files under Root, optionally in yyyy-mm-dd subfolders.
// It is safe for concurrent use.
type Recorder struct {
	// Root is the root path
	Root string

	// DateFolders puts files in a yyyy-mm-dd subfolder of Root named for the
	// exposure start
	DateFolders bool

	mu sync.Mutex
}

// timestamp renders t as yyyymmdd_hhmmss followed by tenths of a second
func timestamp(t time.Time) string {
	return fmt.Sprintf("%s%d", t.Format("20060102_150405"), t.Nanosecond()/1e8)
}

// folder makes the folder for files started at t and returns it
func (r *Recorder) folder(t time.Time) (string, error) {
	fldr := r.Root
	if r.DateFolders {
		fldr = filepath.Join(fldr, t.Format("2006-01-02"))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	err := os.MkdirAll(fldr, 0755)
	return fldr, err
}

// CameraPath is the path for a single camera's frame.  cam is 0-based.
func (r *Recorder) CameraPath(cam int, start time.Time) (string, error) {
	fldr, err := r.folder(start)
	if err != nil {
		return "", err
	}
	return filepath.Join(fldr, fmt.Sprintf("agcc_c%d_%s.fits", cam+1, timestamp(start))), nil
}

// SequencePath is the path for a combined frame.  seq is 0-based, and -1
// for exposures outside any sequence.
func (r *Recorder) SequencePath(seq int, start time.Time) (string, error) {
	fldr, err := r.folder(start)
	if err != nil {
		return "", err
	}
	return filepath.Join(fldr, fmt.Sprintf("agcc_s%d_%s.fits", seq+1, timestamp(start))), nil
}

// Counter is a frame id counter persisted to a text file so ids stay
// unique across restarts
type Counter struct {
	path string
	mu   sync.Mutex
}

// NewCounter returns a counter stored in CounterFile under root
func NewCounter(root string) *Counter {
	return &Counter{path: filepath.Join(root, CounterFile)}
}

// Path returns the counter file path
func (c *Counter) Path() string { return c.path }

// Next increments and returns the frame id.  A missing file starts at 1.
func (c *Counter) Next() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	b, err := ioutil.ReadFile(c.path)
	switch {
	case err == nil:
		n, err = strconv.Atoi(strings.TrimSpace(string(b)))
		if err != nil {
			return 0, fmt.Errorf("frame counter %s: %w", c.path, err)
		}
	case os.IsNotExist(err):
	default:
		return 0, err
	}
	n++
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return 0, err
	}
	tmp := c.path + ".tmp"
	if err := ioutil.WriteFile(tmp, []byte(strconv.Itoa(n)), 0644); err != nil {
		return 0, err
	}
	return n, os.Rename(tmp, c.path)
}
