package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type producer struct {
	mu      sync.Mutex
	batches [][]kafka.Message
	block   chan struct{}
	fail    error
	closed  bool
}

func (p *producer) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, msgs)
	return p.fail
}

func (p *producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *producer) messages() []kafka.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []kafka.Message
	for _, b := range p.batches {
		out = append(out, b...)
	}
	return out
}

func TestKafkaKeyedByKeyword(t *testing.T) {
	p := &producer{}
	log, _ := test.NewNullLogger()
	k := NewKafka(p, KafkaConfig{}, log)
	k.Inform("agc_frameid", 7)
	k.Inform("seq1_count", 2)
	require.Eventually(t, func() bool { return len(p.messages()) == 2 }, time.Second, time.Millisecond)
	require.NoError(t, k.Close())
	assert.True(t, p.closed)

	msgs := p.messages()
	assert.Equal(t, "agc_frameid", string(msgs[0].Key))
	var m Message
	require.NoError(t, json.Unmarshal(msgs[0].Value, &m))
	assert.EqualValues(t, 7, m.Value)
	assert.Equal(t, "seq1_count", string(msgs[1].Key))
}

func TestKafkaBatchesBacklog(t *testing.T) {
	p := &producer{block: make(chan struct{})}
	log, _ := test.NewNullLogger()
	k := NewKafka(p, KafkaConfig{Queue: 8, Batch: 4}, log)
	k.Inform("k", 0)
	require.Eventually(t, func() bool { return len(k.queue) == 0 }, time.Second, time.Millisecond)
	for i := 1; i <= 10; i++ {
		k.Inform("k", i)
	}
	assert.Equal(t, 2, k.Dropped())
	close(p.block)
	require.NoError(t, k.Close())

	assert.Len(t, p.messages(), 9)
	for _, b := range p.batches {
		assert.LessOrEqual(t, len(b), 4)
	}
}

func TestKafkaWriteErrorLogged(t *testing.T) {
	p := &producer{fail: errors.New("leader not available")}
	log, hook := test.NewNullLogger()
	k := NewKafka(p, KafkaConfig{}, log)
	k.Inform("agc_exposing", 1)
	require.Eventually(t, func() bool { return len(p.messages()) == 1 }, time.Second, time.Millisecond)
	require.NoError(t, k.Close())
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "Kafka write failed", hook.LastEntry().Message)
}
