// Package feed implements post, like and comment synchronization over the
// shared document store, with live feed delivery through the bus.
package feed

import (
	"fmt"
	"unicode/utf8"

	appkafka "example.com/socialstream/internal/broker"
	"example.com/socialstream/internal/bus"
	"example.com/socialstream/internal/logger"
	"example.com/socialstream/internal/models"
	"example.com/socialstream/internal/store"
)

var logg = logger.New()

// DefaultFeedLimit bounds the initial feed snapshot.
const DefaultFeedLimit = 50

type Engine struct {
	store  store.StoreInterface
	writer appkafka.KafkaWriter
}

func NewEngine(st store.StoreInterface, writer appkafka.KafkaWriter) *Engine {
	return &Engine{store: st, writer: writer}
}

func (e *Engine) publish(collection string, evType models.EventType, doc models.Document) {
	ev := models.ChangeEvent{Collection: collection, Type: evType, Doc: doc}
	if err := appkafka.Publish(e.writer, ev); err != nil {
		logg.Error("feed", "Failed to publish change event", err)
	}
}

// CreatePost validates and stores a new post. A post needs text or media;
// the media reference must already be uploaded, so a failed upload never
// produces a post record.
func (e *Engine) CreatePost(authorID, text, mediaRef string) (models.Post, error) {
	if authorID == "" {
		return models.Post{}, fmt.Errorf("%w: missing author", models.ErrValidation)
	}
	if text == "" && mediaRef == "" {
		return models.Post{}, fmt.Errorf("%w: post needs text or media", models.ErrValidation)
	}
	if utf8.RuneCountInString(text) > models.MaxPostTextLen {
		return models.Post{}, fmt.Errorf("%w: post text exceeds %d characters", models.ErrValidation, models.MaxPostTextLen)
	}

	post, err := e.store.InsertPost(authorID, text, mediaRef)
	if err != nil {
		return models.Post{}, err
	}

	e.publish(models.CollectionPosts, models.EventAdded, post)
	return post, nil
}

// DeletePost removes the requester's own post and cascades its comments.
// The post goes first: once it is gone its comments are unreachable even if
// the cascade is interrupted.
func (e *Engine) DeletePost(postID, requesterID string) error {
	post, err := e.store.GetPost(postID)
	if err != nil {
		return err
	}
	if post.AuthorID != requesterID {
		return fmt.Errorf("%w: only the author can delete a post", models.ErrPermission)
	}

	if err := e.store.DeletePost(postID); err != nil {
		return err
	}
	e.publish(models.CollectionPosts, models.EventRemoved, post)

	comments, err := e.store.DeleteCommentsByPost(postID)
	if err != nil {
		return err
	}
	for _, comment := range comments {
		e.publish(models.CollectionComments, models.EventRemoved, comment)
	}
	return nil
}

// ToggleLike flips the account's like on a post. The store recomputes
// likeCount from the post-mutation set, so concurrent toggles by different
// viewers cannot corrupt the count, and toggling twice restores the
// original state.
func (e *Engine) ToggleLike(postID, accountID string) (models.Post, error) {
	post, err := e.store.ToggleLike(postID, accountID)
	if err != nil {
		return models.Post{}, err
	}

	e.publish(models.CollectionPosts, models.EventModified, post)
	return post, nil
}

// AddComment appends a comment to a post in arrival order.
func (e *Engine) AddComment(postID, authorID, text string) (models.Comment, error) {
	if text == "" {
		return models.Comment{}, fmt.Errorf("%w: empty comment", models.ErrValidation)
	}
	if utf8.RuneCountInString(text) > models.MaxCommentTextLen {
		return models.Comment{}, fmt.Errorf("%w: comment exceeds %d characters", models.ErrValidation, models.MaxCommentTextLen)
	}
	if _, err := e.store.GetPost(postID); err != nil {
		return models.Comment{}, err
	}

	comment, err := e.store.InsertComment(postID, authorID, text)
	if err != nil {
		return models.Comment{}, err
	}

	e.publish(models.CollectionComments, models.EventAdded, comment)
	return comment, nil
}

// DeleteComment removes the requester's own comment.
func (e *Engine) DeleteComment(postID, commentID, requesterID string) error {
	comment, err := e.store.GetComment(postID, commentID)
	if err != nil {
		return err
	}
	if comment.AuthorID != requesterID {
		return fmt.Errorf("%w: only the author can delete a comment", models.ErrPermission)
	}

	if err := e.store.DeleteComment(postID, commentID); err != nil {
		return err
	}
	e.publish(models.CollectionComments, models.EventRemoved, comment)
	return nil
}

// GetPost returns one post.
func (e *Engine) GetPost(postID string) (models.Post, error) {
	return e.store.GetPost(postID)
}

// Comments lists a post's comments in insertion order.
func (e *Engine) Comments(postID string) ([]models.Comment, error) {
	return e.store.ListComments(postID)
}

// ListFeed returns the newest posts first, ties broken by id.
func (e *Engine) ListFeed(limit int) ([]models.Post, error) {
	if limit <= 0 {
		limit = DefaultFeedLimit
	}
	return e.store.ListPosts(limit)
}

// SubscribeFeed opens a live feed: a newest-first snapshot followed by
// every post change.
func (e *Engine) SubscribeFeed(b *bus.Bus, limit int) (*bus.Subscription, error) {
	if limit <= 0 {
		limit = DefaultFeedLimit
	}
	return b.Subscribe(bus.Query{
		Collection: models.CollectionPosts,
		Less:       bus.ByCreatedDesc,
		Limit:      limit,
	})
}

// SubscribeComments opens a live view of one post's comments, oldest first.
func (e *Engine) SubscribeComments(b *bus.Bus, postID string) (*bus.Subscription, error) {
	return b.Subscribe(bus.Query{
		Collection: models.CollectionComments,
		Filter: func(doc models.Document) bool {
			comment, ok := doc.(models.Comment)
			return ok && comment.PostID == postID
		},
		Less: bus.ByCreatedAsc,
	})
}
