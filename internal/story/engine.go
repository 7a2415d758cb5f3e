// Package story implements ephemeral per-author reels: stories are visible
// for 24 hours after creation, where expiry is a query-time predicate, not a
// stored transition.
package story

import (
	"fmt"
	"sort"
	"time"

	appkafka "example.com/socialstream/internal/broker"
	"example.com/socialstream/internal/bus"
	"example.com/socialstream/internal/logger"
	"example.com/socialstream/internal/models"
	"example.com/socialstream/internal/store"
	"github.com/samber/lo"
)

var logg = logger.New()

type Engine struct {
	store  store.StoreInterface
	writer appkafka.KafkaWriter
	now    func() time.Time
}

func NewEngine(st store.StoreInterface, writer appkafka.KafkaWriter) *Engine {
	return &Engine{store: st, writer: writer, now: time.Now}
}

func (e *Engine) publish(evType models.EventType, story models.Story) {
	ev := models.ChangeEvent{Collection: models.CollectionStories, Type: evType, Doc: story}
	if err := appkafka.Publish(e.writer, ev); err != nil {
		logg.Error("story", "Failed to publish story change event", err)
	}
}

// PostStory validates and stores a new story. The media must already be
// uploaded; a failed upload never produces a story record.
func (e *Engine) PostStory(authorID, mediaRef string, mediaType models.MediaType) (models.Story, error) {
	if authorID == "" || mediaRef == "" {
		return models.Story{}, fmt.Errorf("%w: story needs an author and media", models.ErrValidation)
	}
	if mediaType != models.MediaImage && mediaType != models.MediaVideo {
		return models.Story{}, fmt.Errorf("%w: unsupported media type %q", models.ErrValidation, mediaType)
	}

	story, err := e.store.InsertStory(authorID, mediaRef, mediaType)
	if err != nil {
		return models.Story{}, err
	}

	e.publish(models.EventAdded, story)
	return story, nil
}

// MarkViewed records that an account saw the story; repeated views are
// idempotent.
func (e *Engine) MarkViewed(storyID, viewerID string) (models.Story, error) {
	if viewerID == "" {
		return models.Story{}, fmt.Errorf("%w: missing viewer", models.ErrValidation)
	}

	story, err := e.store.AddStoryViewer(storyID, viewerID)
	if err != nil {
		return models.Story{}, err
	}

	e.publish(models.EventModified, story)
	return story, nil
}

// Reel is one author's active stories, newest first.
type Reel struct {
	AuthorID string         `json:"author_id"`
	Stories  []models.Story `json:"stories"`
}

// ActiveReels groups the currently active stories per author. Reels are
// ordered by their freshest story, newest first.
func (e *Engine) ActiveReels() ([]Reel, error) {
	since := e.now().Add(-models.StoryActiveWindow)
	stories, err := e.store.ListActiveStories(since)
	if err != nil {
		return nil, err
	}

	// The store lists newest first and GroupBy preserves order, so each
	// reel comes out already sorted.
	grouped := lo.GroupBy(stories, func(s models.Story) string { return s.AuthorID })
	reels := make([]Reel, 0, len(grouped))
	for authorID, group := range grouped {
		reels = append(reels, Reel{AuthorID: authorID, Stories: group})
	}
	sort.Slice(reels, func(i, j int) bool {
		return bus.ByCreatedDesc(reels[i].Stories[0], reels[j].Stories[0])
	})
	return reels, nil
}

// SubscribeActive opens a live view of active stories, newest first. The
// window predicate is evaluated at snapshot and event time; no event is ever
// emitted for expiry itself.
func (e *Engine) SubscribeActive(b *bus.Bus) (*bus.Subscription, error) {
	return b.Subscribe(bus.Query{
		Collection: models.CollectionStories,
		Filter: func(doc models.Document) bool {
			story, ok := doc.(models.Story)
			return ok && story.ActiveAt(e.now())
		},
		Less: bus.ByCreatedDesc,
	})
}
