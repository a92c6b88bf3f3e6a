package transmit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/example/fleet-tracking/internal/codec"
	"github.com/example/fleet-tracking/internal/models"
)

// Header values carried in the "kind" header of every message.
const (
	KindLive     = "live"
	KindBackfill = "backfill"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSender publishes records for cmd/relay to apply. Messages are keyed by
// unit so one unit's records stay ordered within a partition.
type KafkaSender struct {
	writer messageWriter
}

func NewKafkaSender(brokers []string, topic string) *KafkaSender {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.Hash{}})
	return &KafkaSender{writer: w}
}

func (k *KafkaSender) Send(ctx context.Context, batch []models.CompactRecord) error {
	return k.publish(ctx, KindLive, batch)
}

func (k *KafkaSender) Backfill(ctx context.Context, batch []models.CompactRecord) error {
	return k.publish(ctx, KindBackfill, batch)
}

func (k *KafkaSender) publish(ctx context.Context, kind string, batch []models.CompactRecord) error {
	if len(batch) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(batch))
	for _, r := range batch {
		b, err := json.Marshal(r)
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(r.Unit),
			Value: b,
			Headers: []kafka.Header{
				{Key: "kind", Value: []byte(kind)},
				{Key: "id", Value: []byte(codec.Key(r))},
			},
		})
	}
	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("%w: %w", ErrTransientSend, err)
	}
	return nil
}

func (k *KafkaSender) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// MessageKind reads the kind header; messages without one are live.
func MessageKind(m kafka.Message) string {
	for _, h := range m.Headers {
		if h.Key == "kind" {
			return string(h.Value)
		}
	}
	return KindLive
}
