package feed

import (
	"errors"
	"strings"
	"testing"
	"time"

	appkafka "example.com/socialstream/internal/broker"
	"example.com/socialstream/internal/bus"
	"example.com/socialstream/internal/models"
	"example.com/socialstream/internal/store"
)

func setupEngine() (*Engine, *store.MockStore, *appkafka.MockKafka) {
	mockStore := store.NewMock()
	mockKafka := &appkafka.MockKafka{}
	return NewEngine(mockStore, mockKafka), mockStore, mockKafka
}

func TestCreatePostValidation(t *testing.T) {
	e, _, _ := setupEngine()

	if _, err := e.CreatePost("", "hello", ""); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected validation error for missing author, got %v", err)
	}
	if _, err := e.CreatePost("alice", "", ""); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected validation error for empty post, got %v", err)
	}
	long := strings.Repeat("x", models.MaxPostTextLen+1)
	if _, err := e.CreatePost("alice", long, ""); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected validation error for oversized text, got %v", err)
	}

	// Media alone is a valid post.
	if _, err := e.CreatePost("alice", "", "mock://media/1"); err != nil {
		t.Fatalf("media-only post failed: %v", err)
	}
}

func TestToggleLikeTwiceRestoresState(t *testing.T) {
	e, _, _ := setupEngine()

	post, err := e.CreatePost("alice", "hello", "")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	liked, err := e.ToggleLike(post.ID, "bob")
	if err != nil {
		t.Fatalf("toggle failed: %v", err)
	}
	if !liked.LikedBy("bob") || liked.LikeCount != 1 {
		t.Fatalf("expected one like, got %+v", liked)
	}

	unliked, err := e.ToggleLike(post.ID, "bob")
	if err != nil {
		t.Fatalf("second toggle failed: %v", err)
	}
	if unliked.LikedBy("bob") || unliked.LikeCount != 0 {
		t.Fatalf("expected like removed, got %+v", unliked)
	}
}

func TestLikeCountMatchesSet(t *testing.T) {
	e, _, _ := setupEngine()

	post, _ := e.CreatePost("alice", "hello", "")
	for _, id := range []string{"bob", "carol", "dave"} {
		var err error
		post, err = e.ToggleLike(post.ID, id)
		if err != nil {
			t.Fatalf("toggle by %s failed: %v", id, err)
		}
		if post.LikeCount != len(post.Likes) {
			t.Fatalf("count %d diverged from set %v", post.LikeCount, post.Likes)
		}
	}
	if post.LikeCount != 3 {
		t.Fatalf("expected 3 likes, got %d", post.LikeCount)
	}
}

func TestDeletePostPermission(t *testing.T) {
	e, _, _ := setupEngine()

	post, _ := e.CreatePost("alice", "hello", "")

	if err := e.DeletePost(post.ID, "bob"); !errors.Is(err, models.ErrPermission) {
		t.Fatalf("expected permission error, got %v", err)
	}
	if err := e.DeletePost(post.ID, "alice"); err != nil {
		t.Fatalf("author delete failed: %v", err)
	}
	if _, err := e.GetPost(post.ID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestDeletePostCascadesComments(t *testing.T) {
	e, _, mockKafka := setupEngine()

	post, _ := e.CreatePost("alice", "hello", "")
	e.AddComment(post.ID, "bob", "first")
	e.AddComment(post.ID, "carol", "second")

	if err := e.DeletePost(post.ID, "alice"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	comments, err := e.Comments(post.ID)
	if err != nil {
		t.Fatalf("list comments failed: %v", err)
	}
	if len(comments) != 0 {
		t.Fatalf("expected comments gone, got %+v", comments)
	}

	// One removal event for the post, one per cascaded comment.
	removed := 0
	for _, msg := range mockKafka.WrittenMessages {
		ev, err := models.DecodeEvent(msg.Value)
		if err != nil {
			t.Fatalf("bad envelope on feed: %v", err)
		}
		if ev.Type == models.EventRemoved {
			removed++
		}
	}
	if removed != 3 {
		t.Fatalf("expected 3 removal events, got %d", removed)
	}
}

func TestAddCommentValidation(t *testing.T) {
	e, _, _ := setupEngine()

	post, _ := e.CreatePost("alice", "hello", "")

	if _, err := e.AddComment(post.ID, "bob", ""); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := e.AddComment("missing", "bob", "hi"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found for missing post, got %v", err)
	}
}

func TestDeleteCommentPermission(t *testing.T) {
	e, _, _ := setupEngine()

	post, _ := e.CreatePost("alice", "hello", "")
	comment, _ := e.AddComment(post.ID, "bob", "hi")

	if err := e.DeleteComment(post.ID, comment.ID, "alice"); !errors.Is(err, models.ErrPermission) {
		t.Fatalf("expected permission error, got %v", err)
	}
	if err := e.DeleteComment(post.ID, comment.ID, "bob"); err != nil {
		t.Fatalf("author delete failed: %v", err)
	}
}

func TestFeedOrderNewestFirst(t *testing.T) {
	e, _, _ := setupEngine()

	first, _ := e.CreatePost("alice", "first", "")
	second, _ := e.CreatePost("bob", "second", "")
	third, _ := e.CreatePost("carol", "third", "")

	posts, err := e.ListFeed(2)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(posts) != 2 || posts[0].ID != third.ID || posts[1].ID != second.ID {
		t.Fatalf("unexpected feed order: %+v", posts)
	}
	_ = first
}

func TestSubscribeCommentsLiveOrder(t *testing.T) {
	mockStore := store.NewMock()
	b := bus.New(mockStore)
	defer b.Close()
	e := NewEngine(mockStore, &appkafka.MockKafka{Bus: b})

	post, _ := e.CreatePost("alice", "hello", "")
	other, _ := e.CreatePost("alice", "other", "")
	e.AddComment(post.ID, "bob", "before")
	e.AddComment(other.ID, "bob", "elsewhere")

	sub, err := e.SubscribeComments(b, post.ID)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	snap := sub.Snapshot()
	if len(snap) != 1 || snap[0].(models.Comment).Text != "before" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	added, _ := e.AddComment(post.ID, "carol", "after")

	select {
	case ev := <-sub.Events():
		if ev.Type != models.EventAdded || ev.Doc.DocID() != added.ID {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for comment event")
	}
}
