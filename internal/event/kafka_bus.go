package event

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/trip-dispatch/internal/observability"
)

// KafkaBus routes each event type to its own topic, using the dotted event
// type verbatim as the topic name. Consumption is ack-after-success: a
// message is committed only once the handler returns nil; a failed message
// is shipped to the type's dead-letter topic before committing so the
// partition keeps moving.
type KafkaBus struct {
	brokers []string
	groupID string
	logger  *slog.Logger

	mu      sync.Mutex
	writers map[string]*kafka.Writer
	cancel  context.CancelFunc
	ctx     context.Context
	wg      sync.WaitGroup
}

func NewKafkaBus(brokers []string, groupID string, logger *slog.Logger) *KafkaBus {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &KafkaBus{
		brokers: brokers,
		groupID: groupID,
		logger:  logger,
		writers: make(map[string]*kafka.Writer),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (b *KafkaBus) writer(topic string) *kafka.Writer {
	b.mu.Lock()
	defer b.mu.Unlock()
	if w, ok := b.writers[topic]; ok {
		return w
	}
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  b.brokers,
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	})
	b.writers[topic] = w
	return w
}

func (b *KafkaBus) Publish(ctx context.Context, e *Event) error {
	body, err := e.Marshal()
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	err = b.writer(e.Type).WriteMessages(wctx, kafka.Message{Key: []byte(e.ID), Value: body})
	if err != nil {
		observability.EventPublishErrors.WithLabelValues(e.Type).Inc()
		return err
	}
	observability.EventsPublished.WithLabelValues(e.Type).Inc()
	return nil
}

func (b *KafkaBus) Subscribe(eventType string, h Handler) error {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  b.brokers,
		Topic:    eventType,
		GroupID:  b.groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	b.wg.Add(1)
	go b.consume(r, eventType, h)
	return nil
}

func (b *KafkaBus) consume(r *kafka.Reader, eventType string, h Handler) {
	defer b.wg.Done()
	defer r.Close()

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.FetchMessage(b.ctx)
		if err != nil {
			if b.ctx.Err() != nil {
				return
			}
			b.logger.Warn("kafka fetch error", "topic", eventType, "error", err)
			select {
			case <-time.After(backoff):
			case <-b.ctx.Done():
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		e, err := Unmarshal(m.Value)
		if err != nil {
			b.logger.Warn("invalid event payload", "topic", eventType, "error", err)
			_ = r.CommitMessages(b.ctx, m)
			continue
		}

		if err := h(b.ctx, e); err != nil {
			b.logger.Error("event handler failed, dead-lettering",
				"event_type", eventType, "event_id", e.ID, "error", err)
			b.deadLetter(eventType, m.Value)
		}
		if err := r.CommitMessages(b.ctx, m); err != nil && b.ctx.Err() == nil {
			b.logger.Warn("kafka commit error", "topic", eventType, "error", err)
		}
	}
}

func (b *KafkaBus) deadLetter(eventType string, body []byte) {
	ctx, cancel := context.WithTimeout(b.ctx, 2*time.Second)
	defer cancel()
	w := b.writer(eventType + ".dlq")
	if err := w.WriteMessages(ctx, kafka.Message{Value: body}); err != nil {
		b.logger.Error("dead-letter write failed", "topic", eventType, "error", err)
	}
}

// Close stops all consumer loops and flushes writers.
func (b *KafkaBus) Close() error {
	b.cancel()
	b.wg.Wait()
	b.mu.Lock()
	defer b.mu.Unlock()
	var first error
	for _, w := range b.writers {
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
