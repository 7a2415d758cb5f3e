package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Collection names of the persisted document store.
const (
	CollectionFollows  = "follows"
	CollectionPosts    = "posts"
	CollectionComments = "comments"
	CollectionStories  = "stories"
	CollectionChat     = "chat"
)

// Text length limits enforced by the engines.
const (
	MaxPostTextLen    = 2200
	MaxCommentTextLen = 2200
	MaxChatTextLen    = 1000
)

// Document is any entity that lives in a store collection. CreatedAt is
// assigned by the store at write time and is monotonic per collection, so
// (CreatedAt, ID) is a total order regardless of client clocks.
type Document interface {
	DocID() string
	DocCreatedAt() time.Time
}

// Account is owned by the external identity provider and never mutated here.
type Account struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarRef   string `json:"avatar_ref,omitempty"`
}

// FollowStatus is the closed set of stored relationship states. The absence
// of a record means StatusNone; StatusNone itself is never written.
type FollowStatus uint8

const (
	StatusNone FollowStatus = iota
	StatusPending
	StatusFollowing
)

func (s FollowStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusFollowing:
		return "following"
	default:
		return "none"
	}
}

// ParseFollowStatus converts the stored text form back into the enum.
func ParseFollowStatus(v string) (FollowStatus, error) {
	switch v {
	case "pending":
		return StatusPending, nil
	case "following":
		return StatusFollowing, nil
	case "none", "":
		return StatusNone, nil
	default:
		return StatusNone, fmt.Errorf("unknown follow status %q", v)
	}
}

func (s FollowStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *FollowStatus) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	parsed, err := ParseFollowStatus(v)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// FollowRelationship is keyed by the ordered pair (FollowerID, TargetID);
// at most one record exists per pair and FollowerID != TargetID.
type FollowRelationship struct {
	FollowerID string       `json:"follower_id"`
	TargetID   string       `json:"target_id"`
	Status     FollowStatus `json:"status"`
	CreatedAt  time.Time    `json:"created_at"`
	AcceptedAt time.Time    `json:"accepted_at,omitzero"`
}

// FollowDocID builds the document id for an ordered follower/target pair.
func FollowDocID(followerID, targetID string) string {
	return followerID + "_" + targetID
}

func (f FollowRelationship) DocID() string           { return FollowDocID(f.FollowerID, f.TargetID) }
func (f FollowRelationship) DocCreatedAt() time.Time { return f.CreatedAt }

type Post struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Text      string    `json:"text"`
	MediaRef  string    `json:"media_ref,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	// Likes is the authoritative set of liking account ids; LikeCount is the
	// denormalized size of that set and must equal len(Likes) after every
	// completed mutation.
	Likes     []string `json:"likes"`
	LikeCount int      `json:"like_count"`
}

func (p Post) DocID() string           { return p.ID }
func (p Post) DocCreatedAt() time.Time { return p.CreatedAt }

// LikedBy reports whether the account is in the like set.
func (p Post) LikedBy(accountID string) bool {
	for _, id := range p.Likes {
		if id == accountID {
			return true
		}
	}
	return false
}

// Comment is stored in its own collection keyed (PostID, ID) so the post
// document stays bounded; it cascades away with its post.
type Comment struct {
	ID        string    `json:"id"`
	PostID    string    `json:"post_id"`
	AuthorID  string    `json:"author_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

func (c Comment) DocID() string           { return c.ID }
func (c Comment) DocCreatedAt() time.Time { return c.CreatedAt }

type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
)

// StoryActiveWindow is how long a story stays visible after creation.
const StoryActiveWindow = 24 * time.Hour

type Story struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	MediaRef  string    `json:"media_ref"`
	MediaType MediaType `json:"media_type"`
	CreatedAt time.Time `json:"created_at"`
	Viewers   []string  `json:"viewers"`
}

func (s Story) DocID() string           { return s.ID }
func (s Story) DocCreatedAt() time.Time { return s.CreatedAt }

// ActiveAt reports whether the story is inside its visibility window.
// Expiry is a query-time predicate; nothing is written when a story expires.
func (s Story) ActiveAt(now time.Time) bool {
	return now.Sub(s.CreatedAt) < StoryActiveWindow
}

type ChatMessage struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

func (m ChatMessage) DocID() string           { return m.ID }
func (m ChatMessage) DocCreatedAt() time.Time { return m.CreatedAt }
