package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"scriptfilter/internal/logging"
	"scriptfilter/source"

	"github.com/IBM/sarama"
)

func init() {
	source.Register("kafka", "sarama", func() source.Adapter { return &SaramaDriver{} })
}

// commitClock decides when a marked offset should be flushed to the broker.
type commitClock struct {
	mu    sync.Mutex
	every time.Duration
	last  time.Time
	now   func() time.Time
}

func newCommitClock(every time.Duration) *commitClock {
	return &commitClock{every: every, now: time.Now, last: time.Now()}
}

func (c *commitClock) due() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := c.now(); n.Sub(c.last) >= c.every {
		c.last = n
		return true
	}
	return false
}

type SaramaDriver struct {
	cfg   Config
	cl    sarama.Client
	group sarama.ConsumerGroup
	lim   *limiter
	clock *commitClock

	mu      sync.Mutex
	pending map[source.Checkpoint]func()
}

func (d *SaramaDriver) Configure(v any) error {
	cfg, ok := v.(Config)
	if !ok {
		return fmt.Errorf("kafka source: want kafka.Config, got %T", v)
	}
	d.init(cfg)

	sc, err := saramaConfig(cfg)
	if err != nil {
		return err
	}
	if d.cl, err = sarama.NewClient(cfg.Brokers, sc); err != nil {
		return err
	}
	d.group, err = sarama.NewConsumerGroupFromClient(cfg.GroupID, d.cl)
	return err
}

func (d *SaramaDriver) init(cfg Config) {
	d.cfg = cfg
	d.lim = newLimiter(cfg.BackPressure.Capacity)
	d.clock = newCommitClock(cfg.Checkpoint.CommitInt)
	d.pending = make(map[source.Checkpoint]func())
}

func saramaConfig(c Config) (*sarama.Config, error) {
	ver, err := sarama.ParseKafkaVersion(c.Version)
	if err != nil {
		return nil, err
	}
	sc := sarama.NewConfig()
	sc.Version = ver
	sc.Consumer.Return.Errors = true
	sc.Consumer.Offsets.AutoCommit.Enable = false
	if c.TLSEn {
		sc.Net.TLS.Enable = true
	}
	if c.SASLUser != "" {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.User, sc.Net.SASL.Password = c.SASLUser, c.SASLPass
	}
	switch c.StartFrom {
	case "oldest":
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	default:
		sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	return sc, nil
}

func (d *SaramaDriver) Run(ctx context.Context, emit source.EmitFunc) error {
	go d.drainErrors(ctx)
	handler := &groupHandler{driver: d, emit: emit}
	for {
		if err := d.group.Consume(ctx, d.cfg.Topics, handler); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (d *SaramaDriver) drainErrors(ctx context.Context) {
	for {
		select {
		case err, ok := <-d.group.Errors():
			if !ok {
				return
			}
			logging.L().Warn("kafka consumer error", "err", err)
		case <-ctx.Done():
			return
		}
	}
}

func (d *SaramaDriver) Close() error {
	if d.group != nil {
		_ = d.group.Close()
	}
	if d.cl != nil {
		_ = d.cl.Close()
	}
	return nil
}

// OnAck marks the checkpoint's offset and frees its in-flight slot. Acks for
// unknown checkpoints (auto mode, or dropped by a rebalance) are ignored.
func (d *SaramaDriver) OnAck(cp source.Checkpoint) {
	d.mu.Lock()
	mark, ok := d.pending[cp]
	if ok {
		delete(d.pending, cp)
	}
	d.mu.Unlock()
	if !ok {
		return
	}
	mark()
	d.lim.Release(1)
}

func (d *SaramaDriver) track(cp source.Checkpoint, mark func()) {
	d.mu.Lock()
	d.pending[cp] = mark
	d.mu.Unlock()
}

// dropPending forgets every unacked frame and returns how many there were.
func (d *SaramaDriver) dropPending() int {
	d.mu.Lock()
	n := len(d.pending)
	d.pending = make(map[source.Checkpoint]func())
	d.mu.Unlock()
	d.lim.Release(n)
	return n
}

type groupHandler struct {
	driver *SaramaDriver
	emit   source.EmitFunc
}

func (*groupHandler) Setup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	if n := h.driver.dropPending(); n > 0 {
		logging.L().Info("kafka rebalance cleared pending acks", "count", n)
	}
	sess.Commit()
	return nil
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	d := h.driver
	ctx := sess.Context()
	for {
		if err := d.lim.Acquire(ctx); err != nil {
			return nil
		}
		var msg *sarama.ConsumerMessage
		select {
		case <-ctx.Done():
			d.lim.Release(1)
			return nil
		case m, ok := <-claim.Messages():
			if !ok {
				d.lim.Release(1)
				return nil
			}
			msg = m
		}

		fr := frameOf(msg)
		mark := func() {
			sess.MarkMessage(msg, "")
			if d.clock.due() {
				sess.Commit()
			}
		}
		if d.cfg.CommitMode == CommitE2E {
			// Tracked before emit: the runner may ack before emit returns.
			d.track(fr.Checkpoint, mark)
		}
		if err := h.emit(fr); err != nil {
			if d.cfg.CommitMode == CommitE2E {
				d.mu.Lock()
				delete(d.pending, fr.Checkpoint)
				d.mu.Unlock()
			}
			d.lim.Release(1)
			return err
		}
		if d.cfg.CommitMode == CommitAuto {
			mark()
			d.lim.Release(1)
		}
	}
}

func frameOf(msg *sarama.ConsumerMessage) *source.Frame {
	return &source.Frame{
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: toHeaderMap(msg.Headers),
		Ts:      msg.Timestamp,
		Checkpoint: source.Checkpoint{
			Topic:     msg.Topic,
			Partition: msg.Partition,
			Offset:    msg.Offset,
		},
	}
}

func toHeaderMap(src []*sarama.RecordHeader) map[string][]byte {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string][]byte, len(src))
	for _, h := range src {
		out[string(h.Key)] = h.Value
	}
	return out
}
