package activity

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"

	"gateway-service/internal/models"

	"github.com/segmentio/kafka-go"
)

// Consumer drains the activity topic and persists entries. It is the async
// collaborator on the other side of the recorder: a lagging or down consumer
// never affects presence handling.
type Consumer struct {
	reader *kafka.Reader
	repo   *Repository
}

func NewConsumer(brokers []string, topic, groupID string, repo *Repository) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: groupID,
	})
	return &Consumer{reader: reader, repo: repo}
}

func (c *Consumer) Run(ctx context.Context) {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return
			}
			slog.Error("Failed to read activity message", "error", err)
			continue
		}

		var event Event
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			slog.Error("Failed to unmarshal activity event", "error", err)
			continue
		}

		entry := &models.ActivityLog{
			ClientID:    event.ClientID,
			UserID:      event.UserID,
			Action:      event.Action,
			Description: event.Description,
			CreatedAt:   event.At,
		}
		if err := c.repo.Create(entry); err != nil {
			slog.Error("Failed to persist activity log",
				"clientID", event.ClientID, "userID", event.UserID, "error", err)
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
