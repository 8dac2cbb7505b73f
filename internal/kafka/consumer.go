package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"wellness-service/internal/logging"
	"wellness-service/internal/models"
)

const retryBackoff = 200 * time.Millisecond

// TaskQueue accepts decoded work without blocking. A false return leaves the
// task with the caller.
type TaskQueue interface {
	TryQueueTask(task models.Task) bool
}

type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// checkinMessage is the payload on the check-in topic. Type defaults to
// checkin.
type checkinMessage struct {
	RequestID  string    `json:"request_id"`
	Type       string    `json:"type"`
	CheckerID  string    `json:"checker_id"`
	Level      string    `json:"level"`
	OccurredAt time.Time `json:"occurred_at"`
}

// DecodeTask turns a check-in topic payload into a worker Task.
func DecodeTask(value []byte) (models.Task, error) {
	var msg checkinMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return models.Task{}, fmt.Errorf("failed to decode message: %w", err)
	}
	if strings.TrimSpace(msg.CheckerID) == "" {
		return models.Task{}, errors.New("message has no checker_id")
	}

	task := models.Task{RequestID: msg.RequestID, CheckerID: msg.CheckerID, Timestamp: msg.OccurredAt}
	switch kind := models.TaskKind(strings.ToLower(msg.Type)); kind {
	case "", models.TaskCheckIn:
		task.Kind = models.TaskCheckIn
	case models.TaskEvaluate:
		task.Kind = models.TaskEvaluate
	case models.TaskTrigger:
		level, err := models.ParseLevel(msg.Level)
		if err != nil {
			return models.Task{}, err
		}
		task.Kind = models.TaskTrigger
		task.Level = level
	default:
		return models.Task{}, fmt.Errorf("unknown message type %q", msg.Type)
	}
	return task, nil
}

// Consumer reads check-in events and queues them on the worker pool.
type Consumer struct {
	reader reader
	queue  TaskQueue
	logger *logging.Logger
}

func NewConsumer(brokers []string, topic, groupID string, queue TaskQueue, logger *logging.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 1 << 20,
	})
	return &Consumer{reader: r, queue: queue, logger: logger}
}

// Start consumes until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.logger.Infof("Kafka consumer started")
		for {
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					c.logger.Infof("Kafka consumer stopped")
					return
				}
				c.logger.Errorf("Read message failed: %v", err)
				if !sleep(ctx, retryBackoff) {
					return
				}
				continue
			}
			if !c.handle(ctx, msg) {
				return
			}
		}
	}()
}

// handle queues one message and commits it. It reports false when ctx ended
// before the message could be queued.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) bool {
	task, err := DecodeTask(msg.Value)
	if err != nil {
		c.logger.Errorf("Invalid message at offset %d: %v", msg.Offset, err)
	} else {
		// A full queue holds the partition instead of losing check-ins.
		for !c.queue.TryQueueTask(task) {
			if !sleep(ctx, retryBackoff) {
				return false
			}
		}
		c.logger.Debugf("Processed Kafka message for checker %s", task.CheckerID)
	}
	if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
		c.logger.Errorf("Commit of offset %d failed: %v", msg.Offset, err)
	}
	return true
}

func (c *Consumer) Close() {
	if err := c.reader.Close(); err != nil {
		c.logger.Errorf("Kafka reader close failed: %v", err)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
