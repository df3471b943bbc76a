package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// MQTTConfig is the broker connection
type MQTTConfig struct {
	// Broker is the broker URL, e.g. tcp://localhost:1883.  Empty disables MQTT.
	Broker   string `yaml:"Broker"`
	ClientID string `yaml:"ClientID"`
	Username string `yaml:"Username"`
	Password string `yaml:"Password"`

	// Topic prefixes every keyword, published as <Topic>/<key>
	Topic string `yaml:"Topic"`

	QoS byte `yaml:"QoS"`

	// Rate is the sustained number of publishes per second, Burst the bucket size
	Rate  float64 `yaml:"Rate"`
	Burst int     `yaml:"Burst"`

	// Queue is the number of updates buffered before new ones are dropped
	Queue int `yaml:"Queue"`

	ConnectTimeout time.Duration `yaml:"ConnectTimeout"`
}

func (c *MQTTConfig) defaults() {
	if c.Topic == "" {
		c.Topic = "agcc"
	}
	if c.Rate <= 0 {
		c.Rate = 50
	}
	if c.Burst <= 0 {
		c.Burst = 20
	}
	if c.Queue <= 0 {
		c.Queue = 256
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.ClientID == "" {
		c.ClientID = "agcc-" + uuid.New().String()[:8]
	}
}

// Message is the payload of one keyword update
type Message struct {
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
	Time  time.Time   `json:"time"`
}

type update struct {
	topic string
	msg   Message
}

// MQTT publishes keyword updates to a broker.  Updates are queued and paced
// by a token bucket; when the queue is full new updates are dropped.
type MQTT struct {
	client  mqtt.Client
	cfg     MQTTConfig
	limiter *rate.Limiter
	log     logrus.FieldLogger

	queue  chan update
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	dropped int
}

// DialMQTT connects to the broker, retrying with exponential backoff, and
// starts publishing
func DialMQTT(cfg MQTTConfig, log logrus.FieldLogger) (*MQTT, error) {
	cfg.defaults()
	if log == nil {
		log = logrus.StandardLogger()
	}
	opts := mqtt.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetKeepAlive(10 * time.Second)
	opts.SetPingTimeout(2 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		log.WithField("err", err).Warn("MQTT connection lost")
	})
	c := mqtt.NewClient(opts)

	op := func() error {
		tok := c.Connect()
		if !tok.WaitTimeout(cfg.ConnectTimeout) {
			return fmt.Errorf("timeout connecting to %s", cfg.Broker)
		}
		return tok.Error()
	}
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     100 * time.Millisecond,
		RandomizationFactor: 0.1,
		Multiplier:          2.,
		MaxInterval:         2 * time.Second,
		MaxElapsedTime:      cfg.ConnectTimeout,
		Clock:               backoff.SystemClock})
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT broker %s: %w", cfg.Broker, err)
	}
	log.WithFields(logrus.Fields{"broker": cfg.Broker, "client": cfg.ClientID}).Info("connected to MQTT broker")
	return NewMQTT(c, cfg, log), nil
}

// NewMQTT publishes through an already connected client
func NewMQTT(c mqtt.Client, cfg MQTTConfig, log logrus.FieldLogger) *MQTT {
	cfg.defaults()
	if log == nil {
		log = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &MQTT{
		client:  c,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
		log:     log,
		queue:   make(chan update, cfg.Queue),
		ctx:     ctx,
		cancel:  cancel,
	}
	m.wg.Add(1)
	go m.run()
	return m
}

// Inform queues the update for publication
func (m *MQTT) Inform(key string, value interface{}) {
	u := update{topic: m.cfg.Topic + "/" + key, msg: Message{Key: key, Value: value, Time: time.Now().UTC()}}
	select {
	case <-m.ctx.Done():
		return
	default:
	}
	select {
	case m.queue <- u:
	default:
		m.mu.Lock()
		m.dropped++
		m.mu.Unlock()
		m.log.WithField("key", key).Warn("MQTT queue full, update dropped")
	}
}

// Dropped returns the number of updates dropped on a full queue
func (m *MQTT) Dropped() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

func (m *MQTT) run() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case u := <-m.queue:
			if err := m.limiter.Wait(m.ctx); err != nil {
				m.publish(u)
				return
			}
			m.publish(u)
		}
	}
}

func (m *MQTT) publish(u update) {
	b, err := json.Marshal(u.msg)
	if err != nil {
		m.log.WithFields(logrus.Fields{"key": u.msg.Key, "err": err}).Error("encoding status update")
		return
	}
	tok := m.client.Publish(u.topic, m.cfg.QoS, true, b)
	if !tok.WaitTimeout(5 * time.Second) {
		m.log.WithField("topic", u.topic).Warn("MQTT publish timed out")
		return
	}
	if err := tok.Error(); err != nil {
		m.log.WithFields(logrus.Fields{"topic": u.topic, "err": err}).Warn("MQTT publish failed")
	}
}

// Close publishes what is queued, then disconnects
func (m *MQTT) Close() error {
	m.cancel()
	m.wg.Wait()
	for drained := false; !drained; {
		select {
		case u := <-m.queue:
			m.publish(u)
		default:
			drained = true
		}
	}
	m.client.Disconnect(250)
	return nil
}
