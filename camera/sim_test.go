package camera

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSim(t *testing.T, cfg SimConfig) *Sim {
	t.Helper()
	s := NewSim("ML0001", cfg)
	require.NoError(t, s.Open())
	return s
}

func TestSimExposeReturnsAreaSizedFrame(t *testing.T) {
	s := openSim(t, SimConfig{Width: 64, Height: 48, Bias: 100})
	require.NoError(t, s.SetFrame(8, 4, 32, 16))
	f, err := s.Expose(false)
	require.NoError(t, err)
	assert.Equal(t, 32, f.Width)
	assert.Equal(t, 16, f.Height)
	assert.Len(t, f.Data, 32*16)
	assert.Equal(t, uint16(100), f.At(3, 3))
	assert.True(t, s.IsReady())
	assert.Greater(t, s.LastExposureDuration(), time.Duration(0))
}

func TestSimCancelAborts(t *testing.T) {
	s := openSim(t, SimConfig{Width: 16, Height: 16})
	require.NoError(t, s.SetExposureTime(10*time.Second))
	done := make(chan error, 1)
	go func() {
		_, err := s.Expose(true)
		done <- err
	}()
	require.Eventually(t, s.IsExposing, time.Second, time.Millisecond)
	require.NoError(t, s.Cancel())
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, ErrAborted))
	case <-time.After(2 * time.Second):
		t.Fatal("cancel did not stop the exposure")
	}
	assert.True(t, s.IsReady())
	assert.Equal(t, time.Duration(0), s.LastExposureDuration())
}

func TestSimRejectsSecondExposure(t *testing.T) {
	s := openSim(t, SimConfig{Width: 16, Height: 16})
	require.NoError(t, s.SetExposureTime(200*time.Millisecond))
	go s.Expose(false)
	require.Eventually(t, s.IsExposing, time.Second, time.Millisecond)
	_, err := s.Expose(false)
	assert.Equal(t, ErrNotReady, err)
	s.Cancel()
}

func TestSimStarLandsAtPosition(t *testing.T) {
	s := openSim(t, SimConfig{Width: 40, Height: 40, Stars: []Star{{X: 20, Y: 10, Sigma: 1.5, Peak: 3000}}})
	f, err := s.Expose(false)
	require.NoError(t, err)
	assert.Equal(t, uint16(3000), f.At(20, 10))
	dark, err := s.Expose(true)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), dark.At(20, 10))
}

func TestResetFrameRestoresBinningAndArea(t *testing.T) {
	s := openSim(t, SimConfig{Width: 64, Height: 64})
	require.NoError(t, s.SetBinning(Binning{H: 2, V: 2}))
	require.NoError(t, s.SetFrame(1, 1, 10, 10))
	require.NoError(t, s.ResetFrame())
	assert.Equal(t, Binning{H: 1, V: 1}, s.GetBinning())
	assert.Equal(t, Area{X0: 0, Y0: 0, X1: 64, Y1: 64}, s.GetFrame())
}

func TestLookupUnknownDriver(t *testing.T) {
	_, err := Lookup("nope")
	var notFound ErrDriverNotFound
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "nope", notFound.Name)
	d, err := Lookup("SIM")
	require.NoError(t, err)
	h, err := d(2, "ML0003")
	require.NoError(t, err)
	assert.Equal(t, "ML0003", h.Serial())
}

func TestFlatFrame(t *testing.T) {
	f := FlatFrame(Area{X0: 2, Y0: 2, X1: 12, Y1: 7})
	assert.Equal(t, 10, f.Width)
	assert.Equal(t, 5, f.Height)
	for _, v := range f.Data {
		assert.Equal(t, uint16(1), v)
	}
	assert.Equal(t, "[2:12,2:7]", f.Area.String())
}
