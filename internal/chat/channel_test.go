package chat

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	appkafka "example.com/socialstream/internal/broker"
	"example.com/socialstream/internal/bus"
	"example.com/socialstream/internal/models"
	"example.com/socialstream/internal/store"
)

func TestSendValidation(t *testing.T) {
	c := New(store.NewMock(), &appkafka.MockKafka{})

	if _, err := c.Send("", "hello"); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected validation error for missing author, got %v", err)
	}
	if _, err := c.Send("alice", ""); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected validation error for empty message, got %v", err)
	}
	long := strings.Repeat("x", models.MaxChatTextLen+1)
	if _, err := c.Send("alice", long); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected validation error for oversized message, got %v", err)
	}
}

func TestRecentIsTailWindowAscending(t *testing.T) {
	c := New(store.NewMock(), &appkafka.MockKafka{})

	for i := 0; i < WindowSize+20; i++ {
		if _, err := c.Send("alice", fmt.Sprintf("msg %d", i)); err != nil {
			t.Fatalf("send %d failed: %v", i, err)
		}
	}

	recent, err := c.Recent()
	if err != nil {
		t.Fatalf("recent failed: %v", err)
	}
	if len(recent) != WindowSize {
		t.Fatalf("expected window of %d, got %d", WindowSize, len(recent))
	}
	if recent[0].Text != "msg 20" || recent[len(recent)-1].Text != fmt.Sprintf("msg %d", WindowSize+19) {
		t.Fatalf("unexpected window bounds: first=%q last=%q", recent[0].Text, recent[len(recent)-1].Text)
	}
	for i := 1; i < len(recent); i++ {
		if recent[i].CreatedAt.Before(recent[i-1].CreatedAt) {
			t.Fatalf("window not ascending at %d", i)
		}
	}
}

func TestSubscribeSnapshotThenLive(t *testing.T) {
	mockStore := store.NewMock()
	b := bus.New(mockStore)
	defer b.Close()
	c := New(mockStore, &appkafka.MockKafka{Bus: b})

	c.Send("alice", "one")
	c.Send("bob", "two")

	sub, err := c.Subscribe(b)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	snap := sub.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(snap))
	}
	if snap[0].(models.ChatMessage).Text != "one" || snap[1].(models.ChatMessage).Text != "two" {
		t.Fatalf("snapshot out of order: %+v", snap)
	}

	sent, _ := c.Send("carol", "three")
	select {
	case ev := <-sub.Events():
		if ev.Type != models.EventAdded || ev.Doc.DocID() != sent.ID {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for chat event")
	}
}

func TestSubscribeWindowDropsOldest(t *testing.T) {
	mockStore := store.NewMock()
	b := bus.New(mockStore)
	defer b.Close()
	c := New(mockStore, &appkafka.MockKafka{Bus: b})

	for i := 0; i < WindowSize+5; i++ {
		c.Send("alice", fmt.Sprintf("msg %d", i))
	}

	sub, err := c.Subscribe(b)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	snap := sub.Snapshot()
	if len(snap) != WindowSize {
		t.Fatalf("expected window of %d, got %d", WindowSize, len(snap))
	}
	if snap[0].(models.ChatMessage).Text != "msg 5" {
		t.Fatalf("expected oldest in window to be msg 5, got %q", snap[0].(models.ChatMessage).Text)
	}
}
