package worker

import (
	"context"
	"testing"
	"time"

	appkafka "example.com/socialstream/internal/broker"
	"example.com/socialstream/internal/models"
	"example.com/socialstream/internal/store"
	"github.com/segmentio/kafka-go"
)

func encodeTestEvent(t *testing.T, msg models.ChatMessage) []byte {
	t.Helper()
	data, err := models.EncodeEvent(models.ChangeEvent{
		Collection: models.CollectionChat,
		Type:       models.EventAdded,
		Doc:        msg,
	})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	return data
}

// pollUntil retries the condition until it holds or the deadline passes.
func pollUntil(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition never held within %v", d)
}

// ---------- Positive tests ----------

func TestWorker_ArchivesEvents(t *testing.T) {
	mockStore := store.NewMock()
	msg, _ := mockStore.InsertChatMessage("alice", "hello")

	mockKafka := &appkafka.MockKafka{
		ReadMessages: []kafka.Message{{Value: encodeTestEvent(t, msg)}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := New(mockStore, mockKafka, 1, 1, time.Hour)

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	pollUntil(t, time.Second, func() bool {
		return mockStore.RawEventCount() == 1
	})

	cancel()
	<-done
}

func TestWorker_SweepsExpiredStories(t *testing.T) {
	mockStore := store.NewMock()

	fresh, _ := mockStore.InsertStory("alice", "mock://media/1", models.MediaImage)
	stale, _ := mockStore.InsertStory("alice", "mock://media/2", models.MediaImage)
	mockStore.SetStoryCreatedAt(stale.ID, time.Now().Add(-3*models.StoryActiveWindow))

	ctx, cancel := context.WithCancel(context.Background())
	w := New(mockStore, &appkafka.MockKafka{}, 1, 1, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	pollUntil(t, time.Second, func() bool {
		_, err := mockStore.GetStory(stale.ID)
		return err != nil
	})

	// The fresh story survives the sweep.
	if _, err := mockStore.GetStory(fresh.ID); err != nil {
		t.Fatalf("fresh story swept: %v", err)
	}

	cancel()
	<-done
}

// ---------- Negative tests ----------

func TestWorker_SkipsInvalidEnvelope(t *testing.T) {
	mockStore := store.NewMock()
	good, _ := mockStore.InsertChatMessage("alice", "hello")

	mockKafka := &appkafka.MockKafka{
		ReadMessages: []kafka.Message{
			{Value: []byte("not json")},
			{Value: encodeTestEvent(t, good)},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := New(mockStore, mockKafka, 1, 1, time.Hour)

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	// Only the valid envelope lands in the archive.
	pollUntil(t, time.Second, func() bool {
		return mockStore.RawEventCount() == 1
	})

	cancel()
	<-done
}

func TestWorker_GracefulShutdown(t *testing.T) {
	mockStore := store.NewMock()
	w := New(mockStore, &appkafka.MockKafkaFail{}, 2, 2, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not stop after cancellation")
	}
}
