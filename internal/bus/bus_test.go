package bus

import (
	"errors"
	"testing"
	"time"

	"example.com/socialstream/internal/models"
	"example.com/socialstream/internal/store"
)

// waitEvent receives one event or fails the test after a deadline.
func waitEvent(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatalf("event channel closed, err: %v", sub.Err())
		}
		return ev
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return Event{}
}

func TestSnapshotThenDiff(t *testing.T) {
	mockStore := store.NewMock()
	b := New(mockStore)
	defer b.Close()

	first, _ := mockStore.InsertChatMessage("alice", "hello")

	sub, err := b.Subscribe(Query{Collection: models.CollectionChat, Less: ByCreatedAsc})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	snap := sub.Snapshot()
	if len(snap) != 1 || snap[0].DocID() != first.ID {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	second, _ := mockStore.InsertChatMessage("bob", "hi")
	b.Dispatch(models.ChangeEvent{Collection: models.CollectionChat, Type: models.EventAdded, Doc: second})

	ev := waitEvent(t, sub)
	if ev.Type != models.EventAdded || ev.Doc.DocID() != second.ID {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestFilterOrderAndLimit(t *testing.T) {
	mockStore := store.NewMock()
	b := New(mockStore)
	defer b.Close()

	mockStore.InsertPost("alice", "first", "")
	mockStore.InsertPost("bob", "second", "")
	mockStore.InsertPost("alice", "third", "")

	sub, err := b.Subscribe(Query{
		Collection: models.CollectionPosts,
		Filter: func(doc models.Document) bool {
			post, ok := doc.(models.Post)
			return ok && post.AuthorID == "alice"
		},
		Less:  ByCreatedDesc,
		Limit: 1,
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	snap := sub.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 document, got %d", len(snap))
	}
	if snap[0].(models.Post).Text != "third" {
		t.Fatalf("expected newest alice post, got %+v", snap[0])
	}

	// A matching live event passes the filter, a non-matching one does not.
	bobPost, _ := mockStore.InsertPost("bob", "ignored", "")
	alicePost, _ := mockStore.InsertPost("alice", "delivered", "")
	b.Dispatch(models.ChangeEvent{Collection: models.CollectionPosts, Type: models.EventAdded, Doc: bobPost})
	b.Dispatch(models.ChangeEvent{Collection: models.CollectionPosts, Type: models.EventAdded, Doc: alicePost})

	ev := waitEvent(t, sub)
	if ev.Doc.DocID() != alicePost.ID {
		t.Fatalf("filter leaked event: %+v", ev)
	}
}

func TestUnsubscribeClosesCleanly(t *testing.T) {
	b := New(store.NewMock())
	defer b.Close()

	sub, err := b.Subscribe(Query{Collection: models.CollectionChat})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	sub.Unsubscribe()
	sub.Unsubscribe() // safe to repeat

	if _, ok := <-sub.Events(); ok {
		t.Fatalf("expected closed event channel")
	}
	if sub.Err() != nil {
		t.Fatalf("expected nil error after unsubscribe, got %v", sub.Err())
	}
}

func TestSlowSubscriberTerminated(t *testing.T) {
	mockStore := store.NewMock()
	b := New(mockStore)
	defer b.Close()

	sub, err := b.Subscribe(Query{Collection: models.CollectionChat})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	msg, _ := mockStore.InsertChatMessage("alice", "spam")
	ev := models.ChangeEvent{Collection: models.CollectionChat, Type: models.EventAdded, Doc: msg}
	for i := 0; i < eventBuffer+1; i++ {
		b.Dispatch(ev)
	}

	// Drain: the channel must close after the buffered backlog.
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-sub.Events():
			if !ok {
				if !errors.Is(sub.Err(), models.ErrTransient) {
					t.Fatalf("expected transient error, got %v", sub.Err())
				}
				return
			}
		case <-deadline:
			t.Fatalf("stream never terminated")
		}
	}
}

func TestFailTerminatesAllStreams(t *testing.T) {
	b := New(store.NewMock())
	defer b.Close()

	sub, err := b.Subscribe(Query{Collection: models.CollectionPosts})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	b.Fail(errors.New("feed lost"))

	if _, ok := <-sub.Events(); ok {
		t.Fatalf("expected closed event channel")
	}
	if !errors.Is(sub.Err(), models.ErrTransient) {
		t.Fatalf("expected transient error, got %v", sub.Err())
	}
}

func TestSubscribeAfterClose(t *testing.T) {
	b := New(store.NewMock())
	b.Close()

	if _, err := b.Subscribe(Query{Collection: models.CollectionChat}); !errors.Is(err, models.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}
