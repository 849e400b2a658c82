package kafka

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/IBM/sarama"

	"scriptfilter/internal/logging"
	"scriptfilter/internal/reading"
	"scriptfilter/sink"
)

// driver publishes every reading as one message keyed by asset code.
// Delivery failures surface on the next Push.
type driver struct {
	cfg Config
	p   sarama.AsyncProducer

	mu      sync.Mutex
	lastErr error
	done    chan struct{}
	once    sync.Once
}

func (d *driver) Configure(c any) error {
	cfg, ok := c.(Config)
	if !ok {
		return fmt.Errorf("kafka-sink: want Config, got %T", c)
	}
	ver, err := sarama.ParseKafkaVersion(cfg.Version)
	if err != nil {
		return err
	}
	sc := sarama.NewConfig()
	sc.Version = ver
	sc.ClientID = cfg.ClientID
	sc.Producer.RequiredAcks = sarama.RequiredAcks(cfg.Acks)
	sc.Producer.Return.Errors = true
	p, err := sarama.NewAsyncProducer(cfg.Brokers, sc)
	if err != nil {
		return err
	}
	d.start(cfg, p)
	return nil
}

func (d *driver) start(cfg Config, p sarama.AsyncProducer) {
	d.cfg, d.p = cfg, p
	d.done = make(chan struct{})
	go d.drain()
}

func (d *driver) drain() {
	defer close(d.done)
	for pe := range d.p.Errors() {
		logging.L().Warn("kafka sink delivery failed", "topic", d.cfg.Topic, "err", pe.Err)
		d.mu.Lock()
		d.lastErr = pe.Err
		d.mu.Unlock()
	}
}

func (d *driver) takeErr() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	err := d.lastErr
	d.lastErr = nil
	return err
}

func (d *driver) Push(batch []*reading.Reading) error {
	if err := d.takeErr(); err != nil {
		return fmt.Errorf("kafka-sink: earlier delivery failed: %w", err)
	}
	for _, r := range batch {
		b, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("kafka-sink: %w", err)
		}
		d.p.Input() <- &sarama.ProducerMessage{
			Topic: d.cfg.Topic,
			Key:   sarama.StringEncoder(r.Asset()),
			Value: sarama.ByteEncoder(b),
		}
	}
	return nil
}

func (d *driver) Close() error {
	var err error
	d.once.Do(func() {
		if d.p == nil {
			return
		}
		err = d.p.Close()
		<-d.done
	})
	return err
}

func init() { sink.Register("kafka", func() sink.Adapter { return &driver{} }) }
