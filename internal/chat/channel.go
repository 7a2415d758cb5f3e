// Package chat implements the single global append-only message log. There
// is no update or delete: the log is a pure audit trail.
package chat

import (
	"fmt"
	"slices"
	"unicode/utf8"

	appkafka "example.com/socialstream/internal/broker"
	"example.com/socialstream/internal/bus"
	"example.com/socialstream/internal/logger"
	"example.com/socialstream/internal/models"
	"example.com/socialstream/internal/store"
)

var logg = logger.New()

// WindowSize bounds the live window to the most recent messages.
const WindowSize = 100

type Channel struct {
	store  store.StoreInterface
	writer appkafka.KafkaWriter
}

func New(st store.StoreInterface, writer appkafka.KafkaWriter) *Channel {
	return &Channel{store: st, writer: writer}
}

// Send appends a message; the store assigns createdAt, so ordering is
// authoritative regardless of the sender's clock.
func (c *Channel) Send(authorID, text string) (models.ChatMessage, error) {
	if authorID == "" {
		return models.ChatMessage{}, fmt.Errorf("%w: missing author", models.ErrValidation)
	}
	if text == "" {
		return models.ChatMessage{}, fmt.Errorf("%w: empty message", models.ErrValidation)
	}
	if utf8.RuneCountInString(text) > models.MaxChatTextLen {
		return models.ChatMessage{}, fmt.Errorf("%w: message exceeds %d characters", models.ErrValidation, models.MaxChatTextLen)
	}

	msg, err := c.store.InsertChatMessage(authorID, text)
	if err != nil {
		return models.ChatMessage{}, err
	}

	ev := models.ChangeEvent{Collection: models.CollectionChat, Type: models.EventAdded, Doc: msg}
	if err := appkafka.Publish(c.writer, ev); err != nil {
		logg.Error("chat", "Failed to publish chat change event", err)
	}
	return msg, nil
}

// Recent returns the current window, oldest first.
func (c *Channel) Recent() ([]models.ChatMessage, error) {
	return c.store.ListChatMessages(WindowSize)
}

// Subscribe opens the live window: the most recent WindowSize messages in
// ascending (createdAt, id) order, then every appended message.
func (c *Channel) Subscribe(b *bus.Bus) (*bus.Subscription, error) {
	// Take the newest WindowSize messages, then flip the snapshot back to
	// ascending order for the reader.
	sub, err := b.Subscribe(bus.Query{
		Collection: models.CollectionChat,
		Less:       bus.ByCreatedDesc,
		Limit:      WindowSize,
	})
	if err != nil {
		return nil, err
	}
	slices.Reverse(sub.Snapshot())
	return sub, nil
}
