// Package broadcaster drains the durable outbox onto the event topic.
// Delivery is at-least-once: an entry advances NEW -> SENT -> ACKED and a
// crash between send and ack replays the send on restart.
package broadcaster

import (
	"context"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"paperfx/infra/outbox"
)

type Config struct {
	Brokers    []string
	Topic      string
	Interval   time.Duration
	MaxRetries uint32
}

type Broadcaster struct {
	cfg      Config
	producer sarama.SyncProducer
	outbox   *outbox.Outbox
	log      zerolog.Logger
}

func New(cfg Config, ob *outbox.Outbox, log zerolog.Logger) (*Broadcaster, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = 200 * time.Millisecond
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}

	sc := sarama.NewConfig()
	sc.Version = sarama.V2_1_0_0
	sc.Producer.Return.Successes = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Idempotent = true
	sc.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, err
	}

	return &Broadcaster{
		cfg:      cfg,
		producer: producer,
		outbox:   ob,
		log:      log.With().Str("component", "broadcaster").Logger(),
	}, nil
}

func (b *Broadcaster) Run(ctx context.Context) {
	// entries stuck in SENT mean we crashed before recording the ack;
	// resend them before anything new
	b.drain(outbox.StateSent)

	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.drain(outbox.StateNew)
		}
	}
}

func (b *Broadcaster) drain(state outbox.State) {
	err := b.outbox.ScanByState(state, func(e outbox.Entry) error {
		b.deliver(e)
		return nil
	})
	if err != nil {
		b.log.Error().Err(err).Msg("outbox scan failed")
	}
}

func (b *Broadcaster) deliver(e outbox.Entry) {
	if err := b.outbox.Mark(e.Seq, outbox.StateSent, e.Retries); err != nil {
		b.log.Error().Err(err).Uint64("seq", e.Seq).Msg("mark sent failed")
		return
	}

	_, _, err := b.producer.SendMessage(&sarama.ProducerMessage{
		Topic: b.cfg.Topic,
		Key:   sarama.StringEncoder(keyOf(e.Seq)),
		Value: sarama.ByteEncoder(e.Payload),
	})
	if err == nil {
		if err := b.outbox.Mark(e.Seq, outbox.StateAcked, e.Retries); err != nil {
			b.log.Error().Err(err).Uint64("seq", e.Seq).Msg("mark acked failed")
		}
		return
	}

	retries := e.Retries + 1
	next := outbox.StateNew
	if retries >= b.cfg.MaxRetries {
		next = outbox.StateFailed
		b.log.Error().Err(err).Uint64("seq", e.Seq).Uint32("retries", retries).
			Msg("event delivery abandoned")
	} else {
		b.log.Warn().Err(err).Uint64("seq", e.Seq).Uint32("retries", retries).
			Msg("event delivery failed, will retry")
	}
	if err := b.outbox.Mark(e.Seq, next, retries); err != nil {
		b.log.Error().Err(err).Uint64("seq", e.Seq).Msg("mark failed")
	}
}

// stable key keeps one event's retries in one partition
func keyOf(seq uint64) string {
	return "event-" + strconv.FormatUint(seq, 10)
}

func (b *Broadcaster) Close() error {
	return b.producer.Close()
}
