package activity

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

const recorderBuffer = 256

// messageWriter is the slice of kafka.Writer the recorder needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaRecorder forwards events to a Kafka topic through a buffered channel so
// that recording never blocks a presence mutation. A full buffer or a broker
// failure drops the event with a log line.
type KafkaRecorder struct {
	writer messageWriter
	events chan Event
	done   chan struct{}
}

func NewKafkaRecorder(writer messageWriter) *KafkaRecorder {
	return &KafkaRecorder{
		writer: writer,
		events: make(chan Event, recorderBuffer),
		done:   make(chan struct{}),
	}
}

// NewActivityWriter builds the kafka.Writer the recorder is normally run with.
func NewActivityWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 100 * time.Millisecond,
	}
}

func (r *KafkaRecorder) Record(event Event) {
	if event.At.IsZero() {
		event.At = time.Now()
	}
	select {
	case r.events <- event:
	default:
		slog.Warn("Activity buffer full, dropping event",
			"clientID", event.ClientID, "userID", event.UserID, "action", event.Action)
	}
}

// Run drains the buffer until ctx is cancelled, then flushes what is queued.
func (r *KafkaRecorder) Run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case event := <-r.events:
			r.write(ctx, event)
		case <-ctx.Done():
			for {
				select {
				case event := <-r.events:
					r.write(context.Background(), event)
				default:
					return
				}
			}
		}
	}
}

// Wait blocks until Run has returned.
func (r *KafkaRecorder) Wait() {
	<-r.done
}

func (r *KafkaRecorder) write(ctx context.Context, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to marshal activity event", "error", err)
		return
	}

	msg := kafka.Message{
		Key:   []byte(event.ClientID),
		Value: data,
	}
	if err := r.writer.WriteMessages(ctx, msg); err != nil {
		slog.Error("Failed to publish activity event",
			"clientID", event.ClientID, "userID", event.UserID, "error", err)
	}
}
