package attachments

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// Event is published on attachment lifecycle changes for external consumers
// (notification delivery, activity feeds). Publishing is best effort: a
// broker outage never fails the user-facing call.
type Event struct {
	Type         string    `json:"type"` // attachment.created | attachment.deleted
	AttachmentID string    `json:"attachment_id"`
	ParentID     string    `json:"parent_id,omitempty"`
	At           time.Time `json:"at"`
}

type EventProducer struct {
	w *kafka.Writer
}

func NewEventProducer(broker, topic string) *EventProducer {
	return &EventProducer{
		w: kafka.NewWriter(kafka.WriterConfig{
			Brokers: []string{broker},
			Topic:   topic,
		}),
	}
}

func (p *EventProducer) Close() error {
	if p == nil || p.w == nil {
		return nil
	}
	return p.w.Close()
}

func (p *EventProducer) publish(ctx context.Context, ev Event) {
	const op = "attachments.EventProducer.publish"

	if p == nil || p.w == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("%s: %v", op, err)
		return
	}
	if err := p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.AttachmentID),
		Value: payload,
	}); err != nil {
		log.Printf("%s: %v", op, err)
	}
}
