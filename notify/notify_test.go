package notify

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/agcc/agcc"
)

type token struct{ err error }

func (t token) Wait() bool                     { return true }
func (t token) WaitTimeout(time.Duration) bool { return true }
func (t token) Error() error                   { return t.err }
func (t token) Done() <-chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// client records publishes; the embedded interface panics on anything else
type client struct {
	mqtt.Client
	mu           sync.Mutex
	msgs         []published
	block        chan struct{}
	fail         error
	disconnected bool
}

func (c *client) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, published{topic, qos, retained, payload.([]byte)})
	return token{err: c.fail}
}

func (c *client) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

func (c *client) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func TestMQTTPublishesRetained(t *testing.T) {
	c := &client{}
	log, _ := test.NewNullLogger()
	m := NewMQTT(c, MQTTConfig{Topic: "pfs/agcc", QoS: 1}, log)
	m.Inform("agc_exposing", 3)
	m.Inform("fits_cam1", "/data/agcc_c1.fits")
	require.Eventually(t, func() bool { return c.count() == 2 }, time.Second, time.Millisecond)
	require.NoError(t, m.Close())

	assert.True(t, c.disconnected)
	p := c.msgs[0]
	assert.Equal(t, "pfs/agcc/agc_exposing", p.topic)
	assert.Equal(t, byte(1), p.qos)
	assert.True(t, p.retained)
	var msg Message
	require.NoError(t, json.Unmarshal(p.payload, &msg))
	assert.Equal(t, "agc_exposing", msg.Key)
	assert.EqualValues(t, 3, msg.Value)
	assert.Equal(t, "pfs/agcc/fits_cam1", c.msgs[1].topic)
}

func TestMQTTDropsWhenFull(t *testing.T) {
	c := &client{block: make(chan struct{})}
	log, hook := test.NewNullLogger()
	m := NewMQTT(c, MQTTConfig{Queue: 2}, log)
	// the first update is taken by the publisher and blocks it
	m.Inform("k", 0)
	require.Eventually(t, func() bool { return len(m.queue) == 0 }, time.Second, time.Millisecond)
	for i := 1; i <= 4; i++ {
		m.Inform("k", i)
	}
	assert.Equal(t, 2, m.Dropped())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	close(c.block)
	require.NoError(t, m.Close())
	assert.Equal(t, 3, c.count())
}

func TestMQTTPublishErrorLogged(t *testing.T) {
	c := &client{fail: errors.New("not connected")}
	log, hook := test.NewNullLogger()
	m := NewMQTT(c, MQTTConfig{}, log)
	m.Inform("agc_frameid", 12)
	require.Eventually(t, func() bool { return c.count() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, m.Close())
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "MQTT publish failed", hook.LastEntry().Message)
}

type recorder struct{ keys []string }

func (r *recorder) Inform(key string, value interface{}) { r.keys = append(r.keys, key) }

func TestMultiAndLog(t *testing.T) {
	log, hook := test.NewNullLogger()
	a, b := &recorder{}, &recorder{}
	var n agcc.Notifier = Multi{a, Log{Log: log}, b}
	n.Inform("inused_seq1", true)
	assert.Equal(t, []string{"inused_seq1"}, a.keys)
	assert.Equal(t, []string{"inused_seq1"}, b.keys)
	require.Len(t, hook.Entries, 1)
	assert.Equal(t, "inused_seq1=true", hook.LastEntry().Message)
	assert.Equal(t, "inused_seq1", hook.LastEntry().Data["key"])
}
