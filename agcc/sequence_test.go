package agcc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/agcc/camera"
)

func waitSeq(t *testing.T, o *Orchestrator, id int) SequenceStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.WaitSequence(ctx, id))
	st, err := o.Sequence(id)
	require.NoError(t, err)
	return st
}

func TestSequenceRunsToCompletion(t *testing.T) {
	r := newRig(t, 2, camera.SimConfig{Readout: 20 * time.Millisecond})
	req := Request{Combined: true}
	require.NoError(t, r.orc.StartSequence(2, req, 3))

	st, err := r.orc.Sequence(2)
	require.NoError(t, err)
	assert.Equal(t, Running, st.Status)
	assert.Equal(t, "RUNNING", st.State)
	assert.Equal(t, []int{0, 1}, st.Cameras)

	err = r.orc.StartSequence(2, req, 3)
	assert.True(t, errors.Is(err, ErrSequenceInUse))

	st = waitSeq(t, r.orc, 2)
	assert.Equal(t, Idle, st.Status)
	assert.Equal(t, 3, st.Completed)
	assert.Equal(t, 3, st.Target)

	require.Len(t, r.sink.combined, 3)
	assert.Equal(t, []interface{}{true, false}, r.sink.informed("inused_seq3"))
	assert.Equal(t, []interface{}{1, 2, 3}, r.sink.informed("seq3_count"))
	assert.Equal(t, []interface{}{3}, r.sink.informed("seq3_done"))
	assert.Len(t, r.sink.informed("fits_seq3"), 3)
	r.allReady(t)

	// an Idle sequence starts again
	require.NoError(t, r.orc.StartSequence(2, req, 1))
	assert.Equal(t, 1, waitSeq(t, r.orc, 2).Completed)
}

func TestSequenceStopMidRun(t *testing.T) {
	r := newRig(t, 2, camera.SimConfig{Readout: 300 * time.Millisecond})
	require.NoError(t, r.orc.StartSequence(0, Request{}, 3))
	require.Eventually(t, func() bool {
		st, _ := r.orc.Sequence(0)
		return st.Completed >= 1
	}, 3*time.Second, time.Millisecond)

	require.NoError(t, r.orc.StopSequence(0))
	st, err := r.orc.Sequence(0)
	require.NoError(t, err)
	assert.Equal(t, Aborting, st.Status)
	assert.Equal(t, "ABORT", st.State)
	assert.True(t, errors.Is(r.orc.StopSequence(0), ErrSequenceNotRunning))

	st = waitSeq(t, r.orc, 0)
	assert.Equal(t, Idle, st.Status)
	assert.Less(t, st.Completed, 3)
	r.allReady(t)
}

func TestSequenceErrors(t *testing.T) {
	r := newRig(t, 1, camera.SimConfig{})
	assert.True(t, errors.Is(r.orc.StopSequence(1), ErrSequenceNotRunning))
	assert.True(t, errors.Is(r.orc.StopSequence(NumSequences), ErrBadSequence))
	assert.True(t, errors.Is(r.orc.StartSequence(-1, Request{}, 1), ErrBadSequence))
	assert.True(t, errors.Is(r.orc.StartSequence(0, Request{}, 0), ErrBadRequest))
	assert.True(t, errors.Is(r.orc.StartSequence(0, Request{Cameras: []int{5}}, 1), ErrNoCameraAvailable))

	go r.orc.Expose(context.Background(), Request{ExposureTime: 10 * time.Second})
	require.Eventually(t, func() bool { return r.orc.Registry.Status(0) == camera.Exposing }, time.Second, time.Millisecond)
	assert.True(t, errors.Is(r.orc.StartSequence(0, Request{}, 1), ErrCameraBusy))
	st, _ := r.orc.Sequence(0)
	assert.Equal(t, Idle, st.Status)
	assert.True(t, errors.Is(r.orc.Reconnect(), ErrBadRequest))
	r.orc.Abort(nil)
}

func TestCloseStopsSequences(t *testing.T) {
	r := newRig(t, 1, camera.SimConfig{Readout: 100 * time.Millisecond})
	require.NoError(t, r.orc.StartSequence(4, Request{}, 1000))
	require.Eventually(t, func() bool { return r.orc.Registry.Status(0) == camera.Exposing }, time.Second, time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- r.orc.Close() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("close did not stop the sequence")
	}
	st, _ := r.orc.Sequence(4)
	assert.Equal(t, Idle, st.Status)
	assert.Less(t, st.Completed, 1000)
	assert.True(t, errors.Is(r.orc.StartSequence(4, Request{}, 1), ErrSequenceInUse))
}
