package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"wellness-service/internal/logging"
	"wellness-service/internal/models"
)

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes alert lifecycle events keyed by checker id, so one
// checker's events stay ordered on a partition.
type Producer struct {
	writer writer
	logger *logging.Logger
	events chan models.AlertEvent
}

func NewProducer(brokers []string, topic string, logger *logging.Logger, buffer int) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	return newProducer(w, logger, buffer)
}

func newProducer(w writer, logger *logging.Logger, buffer int) *Producer {
	if buffer <= 0 {
		buffer = 256
	}
	return &Producer{writer: w, logger: logger, events: make(chan models.AlertEvent, buffer)}
}

// EncodeEvent builds the topic message for an alert event.
func EncodeEvent(ev models.AlertEvent) (kafka.Message, error) {
	value, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to encode alert event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(ev.Alert.CheckerID),
		Value: value,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(ev.Type)},
		},
	}, nil
}

// Observe queues an event for publishing without blocking the caller.
func (p *Producer) Observe(ev models.AlertEvent) {
	select {
	case p.events <- ev:
	default:
		p.logger.Errorf("Alert event buffer full, dropping %s for alert %s", ev.Type, ev.Alert.ID)
	}
}

// Start publishes queued events until ctx is cancelled, then flushes what is
// left in the buffer.
func (p *Producer) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				p.drain()
				return
			case ev := <-p.events:
				p.publish(ctx, ev)
			}
		}
	}()
}

func (p *Producer) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case ev := <-p.events:
			p.publish(ctx, ev)
		default:
			return
		}
	}
}

func (p *Producer) publish(ctx context.Context, ev models.AlertEvent) {
	msg, err := EncodeEvent(ev)
	if err != nil {
		p.logger.Errorf("%v", err)
		return
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Errorf("Publish of %s for alert %s failed: %v", ev.Type, ev.Alert.ID, err)
		return
	}
	p.logger.Debugf("Published %s for alert %s", ev.Type, ev.Alert.ID)
}

func (p *Producer) Close() {
	if err := p.writer.Close(); err != nil {
		p.logger.Errorf("Kafka writer close failed: %v", err)
	}
}
