package agcc

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/nasa-jpl/agcc/camera"
)

// NumSequences is the number of sequence ids
const NumSequences = 6

// SeqStatus is the state of a sequence
type SeqStatus int

const (
	// Idle sequences accept StartSequence
	Idle SeqStatus = iota

	// Running sequences are taking exposures
	Running

	// Aborting sequences stop at the next iteration boundary
	Aborting
)

func (s SeqStatus) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Running:
		return "RUNNING"
	case Aborting:
		return "ABORT"
	default:
		return fmt.Sprintf("SeqStatus(%d)", int(s))
	}
}

// SequenceStatus is a snapshot of one sequence
type SequenceStatus struct {
	ID        int       `json:"id"`
	Status    SeqStatus `json:"-"`
	State     string    `json:"status"`
	Completed int       `json:"completed"`
	Target    int       `json:"target"`
	Cameras   []int     `json:"cameras"`
}

type sequence struct {
	status    SeqStatus
	completed int
	target    int
	cams      []int
	done      chan struct{}
}

func (o *Orchestrator) checkSeq(id int) error {
	if id < 0 || id >= NumSequences {
		return fmt.Errorf("%w: %d", ErrBadSequence, id+1)
	}
	return nil
}

// StartSequence starts taking count exposures described by req under
// sequence id (0-based) and returns once the loop is running.  It fails with
// ErrSequenceInUse unless the sequence is Idle, and with ErrNoCameraAvailable
// or ErrCameraBusy if the first exposure could not start.
func (o *Orchestrator) StartSequence(id int, req Request, count int) error {
	if err := o.checkSeq(id); err != nil {
		return err
	}
	if count < 1 {
		return fmt.Errorf("%w: sequence count %d", ErrBadRequest, count)
	}
	if o.ctx.Err() != nil {
		return fmt.Errorf("%w: shutting down", ErrSequenceInUse)
	}
	o.mu.Lock()
	s := &o.seqs[id]
	if s.status != Idle {
		o.mu.Unlock()
		return fmt.Errorf("%w: sequence %d", ErrSequenceInUse, id+1)
	}
	cams := o.Registry.Attached(req.Cameras)
	if len(cams) == 0 {
		o.mu.Unlock()
		return ErrNoCameraAvailable
	}
	for _, c := range cams {
		if o.Registry.Status(c) != camera.Ready {
			o.mu.Unlock()
			return busy(c)
		}
	}
	req.Cameras = cams
	req.SeqID = id + 1
	s.status = Running
	s.completed = 0
	s.target = count
	s.cams = cams
	s.done = make(chan struct{})
	o.loops.Add(1)
	o.mu.Unlock()

	o.notify.Inform(fmt.Sprintf("inused_seq%d", id+1), true)
	o.log.WithFields(logrus.Fields{"seq": id + 1, "count": count, "cams": cams}).Info("sequence started")
	go o.runSequence(id, req)
	return nil
}

func (o *Orchestrator) runSequence(id int, req Request) {
	defer o.loops.Done()
	log := o.log.WithField("seq", id+1)
	for {
		o.mu.Lock()
		s := &o.seqs[id]
		if s.status != Running || s.completed >= s.target {
			o.mu.Unlock()
			break
		}
		o.mu.Unlock()

		if _, err := o.Expose(o.ctx, req); err != nil {
			log.WithField("err", err).Error("sequence exposure rejected")
			break
		}

		o.mu.Lock()
		s.completed++
		n := s.completed
		o.mu.Unlock()
		o.notify.Inform(fmt.Sprintf("seq%d_count", id+1), n)
		log.Infof("Sequence [%d] count [%d] done", id+1, n)
	}

	o.mu.Lock()
	s := &o.seqs[id]
	aborted := s.status == Aborting
	o.mu.Unlock()
	if aborted {
		o.Abort(req.Cameras)
		if err := o.Registry.WaitReady(context.Background(), req.Cameras); err != nil {
			log.WithField("err", err).Warn("waiting for cameras after abort")
		}
	}

	o.mu.Lock()
	s.status = Idle
	n, target, done := s.completed, s.target, s.done
	o.mu.Unlock()
	o.notify.Inform(fmt.Sprintf("seq%d_done", id+1), n)
	o.notify.Inform(fmt.Sprintf("inused_seq%d", id+1), false)
	defer close(done)
	if n < target {
		log.WithFields(logrus.Fields{"completed": n, "target": target}).Warn("sequence aborted")
	} else {
		log.WithField("completed", n).Info("sequence finished")
	}
}

// StopSequence asks a running sequence to stop at its next iteration
// boundary.  It fails with ErrSequenceNotRunning unless the sequence is Running.
func (o *Orchestrator) StopSequence(id int) error {
	if err := o.checkSeq(id); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	s := &o.seqs[id]
	if s.status != Running {
		return fmt.Errorf("%w: sequence %d", ErrSequenceNotRunning, id+1)
	}
	s.status = Aborting
	o.log.WithField("seq", id+1).Info("sequence stop requested")
	return nil
}

// Sequence returns a snapshot of sequence id
func (o *Orchestrator) Sequence(id int) (SequenceStatus, error) {
	if err := o.checkSeq(id); err != nil {
		return SequenceStatus{}, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.seqs[id].snapshot(id), nil
}

// Sequences returns a snapshot of every sequence
func (o *Orchestrator) Sequences() []SequenceStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]SequenceStatus, NumSequences)
	for i := range o.seqs {
		out[i] = o.seqs[i].snapshot(i)
	}
	return out
}

// WaitSequence blocks until sequence id is Idle or ctx ends
func (o *Orchestrator) WaitSequence(ctx context.Context, id int) error {
	if err := o.checkSeq(id); err != nil {
		return err
	}
	o.mu.Lock()
	done := o.seqs[id].done
	o.mu.Unlock()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *sequence) snapshot(id int) SequenceStatus {
	return SequenceStatus{
		ID:        id,
		Status:    s.status,
		State:     s.status.String(),
		Completed: s.completed,
		Target:    s.target,
		Cameras:   append([]int(nil), s.cams...),
	}
}
