package store

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"example.com/socialstream/internal/models"
)

// MockStore simulates the Cassandra-backed document store for testing.
// Fields are exported so tests can seed or backdate records directly.
type MockStore struct {
	mu         sync.Mutex
	Follows    map[string]models.FollowRelationship
	Posts      map[string]models.Post
	Comments   map[string]map[string]models.Comment // postID -> commentID -> comment
	Stories    map[string]models.Story
	Chat       []models.ChatMessage
	RawEvents  [][]byte
	ShouldFail bool // flag to simulate failures

	stamps *stamper
}

// NewMock initializes a new mock store
func NewMock() *MockStore {
	return &MockStore{
		Follows:  make(map[string]models.FollowRelationship),
		Posts:    make(map[string]models.Post),
		Comments: make(map[string]map[string]models.Comment),
		Stories:  make(map[string]models.Story),
		stamps:   newStamper(),
	}
}

func (m *MockStore) Close() {}

func (m *MockStore) fail(op string) error {
	return fmt.Errorf("%w: mock %s failed", models.ErrTransient, op)
}

// --- Follow operations ---

func (m *MockStore) GetFollow(followerID, targetID string) (models.FollowRelationship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return models.FollowRelationship{}, m.fail("get follow")
	}
	rel, ok := m.Follows[models.FollowDocID(followerID, targetID)]
	if !ok {
		return models.FollowRelationship{}, models.ErrNotFound
	}
	return rel, nil
}

func (m *MockStore) InsertFollow(followerID, targetID string) (models.FollowRelationship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return models.FollowRelationship{}, m.fail("insert follow")
	}
	key := models.FollowDocID(followerID, targetID)
	if _, ok := m.Follows[key]; ok {
		return models.FollowRelationship{}, models.ErrConflict
	}
	rel := models.FollowRelationship{
		FollowerID: followerID,
		TargetID:   targetID,
		Status:     models.StatusPending,
		CreatedAt:  m.stamps.next(models.CollectionFollows),
	}
	m.Follows[key] = rel
	return rel, nil
}

func (m *MockStore) UpdateFollowStatus(followerID, targetID string, status models.FollowStatus, acceptedAt time.Time) (models.FollowRelationship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return models.FollowRelationship{}, m.fail("update follow")
	}
	key := models.FollowDocID(followerID, targetID)
	rel, ok := m.Follows[key]
	if !ok {
		return models.FollowRelationship{}, models.ErrNotFound
	}
	rel.Status = status
	rel.AcceptedAt = acceptedAt
	m.Follows[key] = rel
	return rel, nil
}

func (m *MockStore) DeleteFollow(followerID, targetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return m.fail("delete follow")
	}
	delete(m.Follows, models.FollowDocID(followerID, targetID))
	return nil
}

func (m *MockStore) CountFollowers(accountID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return 0, m.fail("count followers")
	}
	count := 0
	for _, rel := range m.Follows {
		if rel.TargetID == accountID && rel.Status == models.StatusFollowing {
			count++
		}
	}
	return count, nil
}

func (m *MockStore) CountFollowing(accountID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return 0, m.fail("count following")
	}
	count := 0
	for _, rel := range m.Follows {
		if rel.FollowerID == accountID && rel.Status == models.StatusFollowing {
			count++
		}
	}
	return count, nil
}

func (m *MockStore) ListFollowRequests(targetID string) ([]models.FollowRelationship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return nil, m.fail("list follow requests")
	}
	var res []models.FollowRelationship
	for _, rel := range m.Follows {
		if rel.TargetID == targetID && rel.Status == models.StatusPending {
			res = append(res, rel)
		}
	}
	sortByCreatedAsc(res)
	return res, nil
}

// --- Post operations ---

func (m *MockStore) InsertPost(authorID, text, mediaRef string) (models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return models.Post{}, m.fail("insert post")
	}
	post := models.Post{
		ID:        newDocID(),
		AuthorID:  authorID,
		Text:      text,
		MediaRef:  mediaRef,
		CreatedAt: m.stamps.next(models.CollectionPosts),
		Likes:     []string{},
	}
	m.Posts[post.ID] = post
	return post, nil
}

func (m *MockStore) GetPost(postID string) (models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return models.Post{}, m.fail("get post")
	}
	post, ok := m.Posts[postID]
	if !ok {
		return models.Post{}, models.ErrNotFound
	}
	return post, nil
}

func (m *MockStore) DeletePost(postID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return m.fail("delete post")
	}
	if _, ok := m.Posts[postID]; !ok {
		return models.ErrNotFound
	}
	delete(m.Posts, postID)
	return nil
}

func (m *MockStore) ToggleLike(postID, accountID string) (models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return models.Post{}, m.fail("toggle like")
	}
	post, ok := m.Posts[postID]
	if !ok {
		return models.Post{}, models.ErrNotFound
	}

	if post.LikedBy(accountID) {
		next := make([]string, 0, len(post.Likes))
		for _, id := range post.Likes {
			if id != accountID {
				next = append(next, id)
			}
		}
		post.Likes = next
	} else {
		post.Likes = append(slices.Clone(post.Likes), accountID)
	}
	// Count always derives from the set after the flip.
	post.LikeCount = len(post.Likes)
	m.Posts[postID] = post
	return post, nil
}

func (m *MockStore) ListPosts(limit int) ([]models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return nil, m.fail("list posts")
	}
	res := make([]models.Post, 0, len(m.Posts))
	for _, post := range m.Posts {
		res = append(res, post)
	}
	sortByCreatedAsc(res)
	slices.Reverse(res)
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

// --- Comment operations ---

func (m *MockStore) InsertComment(postID, authorID, text string) (models.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return models.Comment{}, m.fail("insert comment")
	}
	comment := models.Comment{
		ID:        newDocID(),
		PostID:    postID,
		AuthorID:  authorID,
		Text:      text,
		CreatedAt: m.stamps.next(models.CollectionComments),
	}
	if m.Comments[postID] == nil {
		m.Comments[postID] = make(map[string]models.Comment)
	}
	m.Comments[postID][comment.ID] = comment
	return comment, nil
}

func (m *MockStore) GetComment(postID, commentID string) (models.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return models.Comment{}, m.fail("get comment")
	}
	comment, ok := m.Comments[postID][commentID]
	if !ok {
		return models.Comment{}, models.ErrNotFound
	}
	return comment, nil
}

func (m *MockStore) DeleteComment(postID, commentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return m.fail("delete comment")
	}
	delete(m.Comments[postID], commentID)
	return nil
}

func (m *MockStore) ListComments(postID string) ([]models.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return nil, m.fail("list comments")
	}
	res := make([]models.Comment, 0, len(m.Comments[postID]))
	for _, comment := range m.Comments[postID] {
		res = append(res, comment)
	}
	sortByCreatedAsc(res)
	return res, nil
}

func (m *MockStore) DeleteCommentsByPost(postID string) ([]models.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return nil, m.fail("cascade comments")
	}
	res := make([]models.Comment, 0, len(m.Comments[postID]))
	for _, comment := range m.Comments[postID] {
		res = append(res, comment)
	}
	sortByCreatedAsc(res)
	delete(m.Comments, postID)
	return res, nil
}

// --- Story operations ---

func (m *MockStore) InsertStory(authorID, mediaRef string, mediaType models.MediaType) (models.Story, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return models.Story{}, m.fail("insert story")
	}
	story := models.Story{
		ID:        newDocID(),
		AuthorID:  authorID,
		MediaRef:  mediaRef,
		MediaType: mediaType,
		CreatedAt: m.stamps.next(models.CollectionStories),
		Viewers:   []string{},
	}
	m.Stories[story.ID] = story
	return story, nil
}

func (m *MockStore) GetStory(storyID string) (models.Story, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return models.Story{}, m.fail("get story")
	}
	story, ok := m.Stories[storyID]
	if !ok {
		return models.Story{}, models.ErrNotFound
	}
	return story, nil
}

func (m *MockStore) AddStoryViewer(storyID, viewerID string) (models.Story, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return models.Story{}, m.fail("add story viewer")
	}
	story, ok := m.Stories[storyID]
	if !ok {
		return models.Story{}, models.ErrNotFound
	}
	if !slices.Contains(story.Viewers, viewerID) {
		story.Viewers = append(slices.Clone(story.Viewers), viewerID)
		m.Stories[storyID] = story
	}
	return story, nil
}

func (m *MockStore) ListActiveStories(since time.Time) ([]models.Story, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return nil, m.fail("list active stories")
	}
	var res []models.Story
	for _, story := range m.Stories {
		if story.CreatedAt.After(since) {
			res = append(res, story)
		}
	}
	sortByCreatedAsc(res)
	slices.Reverse(res)
	return res, nil
}

// SetStoryCreatedAt backdates a story, for visibility-window tests.
func (m *MockStore) SetStoryCreatedAt(storyID string, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if story, ok := m.Stories[storyID]; ok {
		story.CreatedAt = t
		m.Stories[storyID] = story
	}
}

func (m *MockStore) DeleteStoriesBefore(cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return 0, m.fail("delete stories")
	}
	count := 0
	for id, story := range m.Stories {
		if story.CreatedAt.Before(cutoff) {
			delete(m.Stories, id)
			count++
		}
	}
	return count, nil
}

// --- Chat operations ---

func (m *MockStore) InsertChatMessage(authorID, text string) (models.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return models.ChatMessage{}, m.fail("insert chat message")
	}
	msg := models.ChatMessage{
		ID:        newDocID(),
		AuthorID:  authorID,
		Text:      text,
		CreatedAt: m.stamps.next(models.CollectionChat),
	}
	m.Chat = append(m.Chat, msg)
	return msg, nil
}

func (m *MockStore) ListChatMessages(limit int) ([]models.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return nil, m.fail("list chat messages")
	}
	res := slices.Clone(m.Chat)
	sortByCreatedAsc(res)
	if limit > 0 && len(res) > limit {
		res = res[len(res)-limit:]
	}
	return res, nil
}

// --- Audit events ---

func (m *MockStore) SaveRawEvent(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return m.fail("save raw event")
	}
	m.RawEvents = append(m.RawEvents, slices.Clone(data))
	return nil
}

// RawEventCount reads the archive size under the lock, for tests polling a
// concurrent archiver.
func (m *MockStore) RawEventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.RawEvents)
}

// --- Bus snapshots ---

func (m *MockStore) Snapshot(collection string) ([]models.Document, error) {
	switch collection {
	case models.CollectionFollows:
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.ShouldFail {
			return nil, m.fail("snapshot")
		}
		docs := make([]models.Document, 0, len(m.Follows))
		for _, rel := range m.Follows {
			docs = append(docs, rel)
		}
		return docs, nil
	case models.CollectionPosts:
		posts, err := m.ListPosts(0)
		if err != nil {
			return nil, err
		}
		docs := make([]models.Document, 0, len(posts))
		for _, p := range posts {
			docs = append(docs, p)
		}
		return docs, nil
	case models.CollectionComments:
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.ShouldFail {
			return nil, m.fail("snapshot")
		}
		var docs []models.Document
		for _, byID := range m.Comments {
			for _, c := range byID {
				docs = append(docs, c)
			}
		}
		return docs, nil
	case models.CollectionStories:
		stories, err := m.ListActiveStories(time.Time{})
		if err != nil {
			return nil, err
		}
		docs := make([]models.Document, 0, len(stories))
		for _, s := range stories {
			docs = append(docs, s)
		}
		return docs, nil
	case models.CollectionChat:
		msgs, err := m.ListChatMessages(0)
		if err != nil {
			return nil, err
		}
		docs := make([]models.Document, 0, len(msgs))
		for _, msg := range msgs {
			docs = append(docs, msg)
		}
		return docs, nil
	default:
		return nil, fmt.Errorf("unknown collection %q", collection)
	}
}

// sortByCreatedAsc orders by (created_at, id) ascending, the store's
// authoritative total order.
func sortByCreatedAsc[T models.Document](docs []T) {
	slices.SortFunc(docs, func(a, b T) int {
		if c := a.DocCreatedAt().Compare(b.DocCreatedAt()); c != 0 {
			return c
		}
		return strings.Compare(a.DocID(), b.DocID())
	})
}

// ---------------------------------------------
// MockStoreFail always returns errors for negative tests
type MockStoreFail struct{}

func (m *MockStoreFail) Close() {}

func failErr(op string) error {
	return fmt.Errorf("%w: mock store %s failed", models.ErrTransient, op)
}

func (m *MockStoreFail) GetFollow(followerID, targetID string) (models.FollowRelationship, error) {
	return models.FollowRelationship{}, failErr("get follow")
}

func (m *MockStoreFail) InsertFollow(followerID, targetID string) (models.FollowRelationship, error) {
	return models.FollowRelationship{}, failErr("insert follow")
}

func (m *MockStoreFail) UpdateFollowStatus(followerID, targetID string, status models.FollowStatus, acceptedAt time.Time) (models.FollowRelationship, error) {
	return models.FollowRelationship{}, failErr("update follow")
}

func (m *MockStoreFail) DeleteFollow(followerID, targetID string) error {
	return failErr("delete follow")
}

func (m *MockStoreFail) CountFollowers(accountID string) (int, error) {
	return 0, failErr("count followers")
}

func (m *MockStoreFail) CountFollowing(accountID string) (int, error) {
	return 0, failErr("count following")
}

func (m *MockStoreFail) ListFollowRequests(targetID string) ([]models.FollowRelationship, error) {
	return nil, failErr("list follow requests")
}

func (m *MockStoreFail) InsertPost(authorID, text, mediaRef string) (models.Post, error) {
	return models.Post{}, failErr("insert post")
}

func (m *MockStoreFail) GetPost(postID string) (models.Post, error) {
	return models.Post{}, failErr("get post")
}

func (m *MockStoreFail) DeletePost(postID string) error {
	return failErr("delete post")
}

func (m *MockStoreFail) ToggleLike(postID, accountID string) (models.Post, error) {
	return models.Post{}, failErr("toggle like")
}

func (m *MockStoreFail) ListPosts(limit int) ([]models.Post, error) {
	return nil, failErr("list posts")
}

func (m *MockStoreFail) InsertComment(postID, authorID, text string) (models.Comment, error) {
	return models.Comment{}, failErr("insert comment")
}

func (m *MockStoreFail) GetComment(postID, commentID string) (models.Comment, error) {
	return models.Comment{}, failErr("get comment")
}

func (m *MockStoreFail) DeleteComment(postID, commentID string) error {
	return failErr("delete comment")
}

func (m *MockStoreFail) ListComments(postID string) ([]models.Comment, error) {
	return nil, failErr("list comments")
}

func (m *MockStoreFail) DeleteCommentsByPost(postID string) ([]models.Comment, error) {
	return nil, failErr("cascade comments")
}

func (m *MockStoreFail) InsertStory(authorID, mediaRef string, mediaType models.MediaType) (models.Story, error) {
	return models.Story{}, failErr("insert story")
}

func (m *MockStoreFail) GetStory(storyID string) (models.Story, error) {
	return models.Story{}, failErr("get story")
}

func (m *MockStoreFail) AddStoryViewer(storyID, viewerID string) (models.Story, error) {
	return models.Story{}, failErr("add story viewer")
}

func (m *MockStoreFail) ListActiveStories(since time.Time) ([]models.Story, error) {
	return nil, failErr("list active stories")
}

func (m *MockStoreFail) DeleteStoriesBefore(cutoff time.Time) (int, error) {
	return 0, failErr("delete stories")
}

func (m *MockStoreFail) InsertChatMessage(authorID, text string) (models.ChatMessage, error) {
	return models.ChatMessage{}, failErr("insert chat message")
}

func (m *MockStoreFail) ListChatMessages(limit int) ([]models.ChatMessage, error) {
	return nil, failErr("list chat messages")
}

func (m *MockStoreFail) SaveRawEvent(data []byte) error {
	return failErr("save raw event")
}

func (m *MockStoreFail) Snapshot(collection string) ([]models.Document, error) {
	return nil, failErr("snapshot")
}
