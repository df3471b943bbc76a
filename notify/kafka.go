package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// KafkaConfig is the keyword archive topic
type KafkaConfig struct {
	// Brokers are host:port addresses.  Empty disables Kafka.
	Brokers []string `yaml:"Brokers"`
	Topic   string   `yaml:"Topic"`

	// Queue is the number of updates buffered before new ones are dropped
	Queue int `yaml:"Queue"`

	// Batch is the most messages written at once
	Batch int `yaml:"Batch"`
}

func (c *KafkaConfig) defaults() {
	if c.Topic == "" {
		c.Topic = "agcc_keywords"
	}
	if c.Queue <= 0 {
		c.Queue = 1024
	}
	if c.Batch <= 0 {
		c.Batch = 100
	}
}

// Producer is the part of a kafka.Writer Kafka uses
type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka archives keyword updates to a topic, keyed by keyword.  Updates are
// queued and written in batches; when the queue is full new updates are dropped.
type Kafka struct {
	w   Producer
	cfg KafkaConfig
	log logrus.FieldLogger

	queue  chan Message
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	dropped int
}

// DialKafka returns a Kafka notifier writing to cfg.Brokers.  The writer
// connects lazily, so an unreachable broker shows up as write warnings.
func DialKafka(cfg KafkaConfig, log logrus.FieldLogger) *Kafka {
	cfg.defaults()
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
	}
	return NewKafka(w, cfg, log)
}

// NewKafka writes through w
func NewKafka(w Producer, cfg KafkaConfig, log logrus.FieldLogger) *Kafka {
	cfg.defaults()
	if log == nil {
		log = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	k := &Kafka{
		w:      w,
		cfg:    cfg,
		log:    log,
		queue:  make(chan Message, cfg.Queue),
		ctx:    ctx,
		cancel: cancel,
	}
	k.wg.Add(1)
	go k.run()
	return k
}

// Inform queues the update
func (k *Kafka) Inform(key string, value interface{}) {
	select {
	case <-k.ctx.Done():
		return
	default:
	}
	select {
	case k.queue <- Message{Key: key, Value: value, Time: time.Now().UTC()}:
	default:
		k.mu.Lock()
		k.dropped++
		k.mu.Unlock()
		k.log.WithField("key", key).Warn("Kafka queue full, update dropped")
	}
}

// Dropped returns the number of updates dropped on a full queue
func (k *Kafka) Dropped() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.dropped
}

func (k *Kafka) run() {
	defer k.wg.Done()
	for {
		select {
		case <-k.ctx.Done():
			return
		case m := <-k.queue:
			k.write(k.collect(m))
		}
	}
}

// collect gathers m and whatever else is queued, up to a batch
func (k *Kafka) collect(m Message) []Message {
	batch := []Message{m}
	for len(batch) < k.cfg.Batch {
		select {
		case m := <-k.queue:
			batch = append(batch, m)
		default:
			return batch
		}
	}
	return batch
}

func (k *Kafka) write(batch []Message) {
	msgs := make([]kafka.Message, 0, len(batch))
	for _, m := range batch {
		b, err := json.Marshal(m)
		if err != nil {
			k.log.WithFields(logrus.Fields{"key": m.Key, "err": err}).Error("encoding status update")
			continue
		}
		msgs = append(msgs, kafka.Message{Key: []byte(m.Key), Value: b, Time: m.Time})
	}
	if len(msgs) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := k.w.WriteMessages(ctx, msgs...); err != nil {
		k.log.WithFields(logrus.Fields{"topic": k.cfg.Topic, "n": len(msgs), "err": err}).Warn("Kafka write failed")
	}
}

// Close writes what is queued, then closes the writer
func (k *Kafka) Close() error {
	k.cancel()
	k.wg.Wait()
	for drained := false; !drained; {
		select {
		case m := <-k.queue:
			k.write(k.collect(m))
		default:
			drained = true
		}
	}
	return k.w.Close()
}
