package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/guetchou/bantudelice-tracking/internal/models"
)

// locationMessage is the wire shape on the location topic, keyed by actor so
// per-actor ordering survives partitioning.
type locationMessage struct {
	ActorID  string          `json:"actor_id"`
	Position models.Position `json:"position"`
}

type KafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &KafkaProducer{writer: w}
}

// PublishPosition pushes an accepted fix onto the location topic for the
// downstream mirror consumer and analytics.
func (k *KafkaProducer) PublishPosition(actorID string, pos models.Position) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, err := json.Marshal(locationMessage{ActorID: actorID, Position: pos})
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(actorID), Value: b})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
