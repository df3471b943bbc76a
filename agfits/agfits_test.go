package agfits

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/agcc/agcc"
	"github.com/nasa-jpl/agcc/camera"
	"github.com/nasa-jpl/agcc/centroid"
	"github.com/nasa-jpl/agcc/imgrec"
)

func record(cam int, w, h int) agcc.FrameRecord {
	data := make([]uint16, w*h)
	for i := range data {
		data[i] = uint16(i * 997 % 65536)
	}
	data[0], data[1] = 0, 65535
	start := time.Date(2026, 5, 4, 12, 30, 15, 300000000, time.UTC)
	return agcc.FrameRecord{
		Camera:       cam,
		Serial:       "ML0042",
		Model:        "MicroLine ML4720",
		Frame:        camera.Frame{Data: data, Width: w, Height: h, Start: start, Area: camera.Area{X1: w, Y1: h}},
		ExposureTime: 1500 * time.Millisecond,
		Binning:      camera.Binning{H: 1, V: 1},
		Temperature:  -29.5,
		FrameID:      7,
		RunID:        "b3b0f3a4-0000-4000-8000-000000000000",
		Regions:      [2]agcc.ROI{{X: 10, Y: 20, D: 30}},
		Halves:       [2]centroid.Region{{X0: 0, X1: w / 2, Y0: 0, Y1: h}, {X0: w / 2, X1: w, Y0: 0, Y1: h}},
	}
}

func open(t *testing.T, path string) *fitsio.File {
	t.Helper()
	r, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	f, err := fitsio.Open(r)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func card(t *testing.T, hdu fitsio.HDU, name string) interface{} {
	t.Helper()
	c := hdu.Header().Get(name)
	require.NotNil(t, c, name)
	return c.Value
}

func TestWriteFrameRoundTrip(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(&imgrec.Recorder{Root: root}, nil)
	rec := record(2, 12, 8)
	path, err := w.WriteFrame(rec)
	require.NoError(t, err)
	assert.Equal(t, "agcc_c3_20260504_1230153.fits", filepath.Base(path))

	tmpl, err := centroid.LoadTemplate(path)
	require.NoError(t, err)
	require.Equal(t, 12, tmpl.Width)
	require.Equal(t, 8, tmpl.Height)
	for i, v := range rec.Frame.Data {
		require.Equal(t, float64(v), tmpl.Pix[i], "pixel %d", i)
	}

	f := open(t, path)
	require.Len(t, f.HDUs(), 1)
	hdu := f.HDU(0)
	assert.Equal(t, "ML0042", card(t, hdu, "SERIAL"))
	assert.EqualValues(t, 1500, card(t, hdu, "EXPTIME"))
	assert.Equal(t, "OPEN", card(t, hdu, "SHUTTER"))
	assert.Equal(t, "[10,20,30]", card(t, hdu, "REGION1"))
	assert.Equal(t, "[0:6,0:8]", card(t, hdu, "HALF1"))
	assert.Equal(t, rec.RunID, card(t, hdu, "RUNID"))
	assert.Equal(t, "2026-05-04T12:30:15.3", card(t, hdu, "DATE"))
}

func TestWriteFrameWithSpots(t *testing.T) {
	w := NewWriter(&imgrec.Recorder{Root: t.TempDir()}, nil)
	rec := record(0, 4, 4)
	rec.Frame.Dark = true
	rec.Spots = []centroid.Spot{
		{ID: 0, CentroidX: 1.25, CentroidY: 2.5, M20: 3, M02: 2, PeakX: 1, PeakY: 2, Peak: 900, Flux: 5000, Magnitude: 99, NPix: 12},
		{ID: 1, CentroidX: 3.5, CentroidY: 0.75, M11: -0.5, Flags: centroid.RightHalf | centroid.NearEdge},
	}
	path, err := w.WriteFrame(rec)
	require.NoError(t, err)

	f := open(t, path)
	require.Len(t, f.HDUs(), 2)
	assert.Equal(t, "CLOSE", card(t, f.HDU(0), "SHUTTER"))
	tbl, ok := f.HDU(1).(*fitsio.Table)
	require.True(t, ok)
	assert.Equal(t, "SPOTS", tbl.Name())
	spots, err := ReadSpots(tbl)
	require.NoError(t, err)
	assert.Equal(t, rec.Spots, spots)
}

func TestWriteCombined(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(&imgrec.Recorder{Root: root}, nil)
	a, b := record(0, 6, 4), record(3, 6, 4)
	b.Frame.Start = a.Frame.Start.Add(-time.Second)
	b.Spots = []centroid.Spot{{ID: 0, CentroidX: 2, CentroidY: 2}}
	path, err := w.WriteCombined(7, 2, []agcc.FrameRecord{a, b})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(path), "agcc_s2_20260504_123014"))

	f := open(t, path)
	hdus := f.HDUs()
	require.Len(t, hdus, 1+agcc.NumCameras+1)
	assert.EqualValues(t, 7, card(t, hdus[0], "FRAMEID"))
	assert.EqualValues(t, 2, card(t, hdus[0], "NCAMS"))
	for slot := 0; slot < agcc.NumCameras; slot++ {
		hdu := hdus[slot+1]
		assert.Equal(t, "cam"+string(rune('1'+slot)), hdu.Name())
		im, ok := hdu.(fitsio.Image)
		require.True(t, ok)
		if slot == 0 || slot == 3 {
			assert.Equal(t, []int{6, 4}, im.Header().Axes())
			assert.EqualValues(t, slot+1, card(t, hdu, "CAMERA"))
		} else {
			assert.Empty(t, im.Header().Axes())
		}
	}
	tbl, ok := hdus[len(hdus)-1].(*fitsio.Table)
	require.True(t, ok)
	assert.Equal(t, "spots4", tbl.Name())

	// outside a sequence the file is numbered 0
	path, err = w.WriteCombined(8, 0, []agcc.FrameRecord{a})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(path), "agcc_s0_"))
}

func TestWriteRejectsBadFrames(t *testing.T) {
	w := NewWriter(&imgrec.Recorder{Root: t.TempDir()}, nil)
	rec := record(1, 4, 4)
	rec.Frame.Data = rec.Frame.Data[:3]
	path, err := w.WriteFrame(rec)
	assert.Error(t, err)
	assert.Empty(t, path)
	entries, err := os.ReadDir(w.Rec.Root)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = w.WriteCombined(1, 0, nil)
	assert.Error(t, err)
	bad := record(0, 4, 4)
	bad.Camera = agcc.NumCameras
	_, err = w.WriteCombined(1, 0, []agcc.FrameRecord{bad})
	assert.Error(t, err)
}
