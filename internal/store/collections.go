package store

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"example.com/socialstream/internal/models"
	"github.com/gocql/gocql"
)

// Single time-bucket for the ordered reference tables. One partition is
// enough at this scale; sharding by day is a schema change, not a code one.
const timeBucket = "all"

// toggleLikeRetries bounds the CAS retry loop on like contention.
const toggleLikeRetries = 5

// --- Follow operations ---

// Follows are written to two tables: follows (partitioned by follower, for
// following counts and point reads) and follows_by_target (partitioned by
// target, for follower counts and the request inbox). Both sides of a
// mutation go in one logged batch.

func (s *Store) GetFollow(followerID, targetID string) (models.FollowRelationship, error) {
	var rel models.FollowRelationship
	var status string
	rel.FollowerID = followerID
	rel.TargetID = targetID

	err := s.Session.Query(
		`SELECT status, created_at, accepted_at FROM follows WHERE follower_id = ? AND target_id = ?`,
		followerID, targetID,
	).Scan(&status, &rel.CreatedAt, &rel.AcceptedAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return models.FollowRelationship{}, models.ErrNotFound
		}
		logg.Error("store", "Failed to query follow relationship", err)
		return models.FollowRelationship{}, fmt.Errorf("%w: %v", models.ErrTransient, err)
	}

	rel.Status, err = models.ParseFollowStatus(status)
	if err != nil {
		return models.FollowRelationship{}, err
	}
	return rel, nil
}

func (s *Store) InsertFollow(followerID, targetID string) (models.FollowRelationship, error) {
	rel := models.FollowRelationship{
		FollowerID: followerID,
		TargetID:   targetID,
		Status:     models.StatusPending,
		CreatedAt:  s.stamps.next(models.CollectionFollows),
	}

	// CAS insert guards the one-record-per-pair invariant.
	result := make(map[string]interface{})
	applied, err := s.Session.Query(`
		INSERT INTO follows (follower_id, target_id, status, created_at)
		VALUES (?, ?, ?, ?) IF NOT EXISTS`,
		followerID, targetID, rel.Status.String(), rel.CreatedAt,
	).MapScanCAS(result)
	if err != nil {
		logg.Error("store", "Failed to insert follow relationship", err)
		return models.FollowRelationship{}, fmt.Errorf("%w: %v", models.ErrTransient, err)
	}
	if !applied {
		return models.FollowRelationship{}, models.ErrConflict
	}

	if err := s.Session.Query(`
		INSERT INTO follows_by_target (target_id, follower_id, status, created_at)
		VALUES (?, ?, ?, ?)`,
		targetID, followerID, rel.Status.String(), rel.CreatedAt,
	).Exec(); err != nil {
		logg.Error("store", "Failed to mirror follow to target table", err)
		return models.FollowRelationship{}, fmt.Errorf("%w: %v", models.ErrTransient, err)
	}

	return rel, nil
}

func (s *Store) UpdateFollowStatus(followerID, targetID string, status models.FollowStatus, acceptedAt time.Time) (models.FollowRelationship, error) {
	rel, err := s.GetFollow(followerID, targetID)
	if err != nil {
		return models.FollowRelationship{}, err
	}

	batch := s.Session.NewBatch(gocql.LoggedBatch)
	batch.Query(`UPDATE follows SET status = ?, accepted_at = ? WHERE follower_id = ? AND target_id = ?`,
		status.String(), acceptedAt, followerID, targetID)
	batch.Query(`UPDATE follows_by_target SET status = ?, accepted_at = ? WHERE target_id = ? AND follower_id = ?`,
		status.String(), acceptedAt, targetID, followerID)

	if err := s.Session.ExecuteBatch(batch); err != nil {
		logg.Error("store", "Failed to update follow status", err)
		return models.FollowRelationship{}, fmt.Errorf("%w: %v", models.ErrTransient, err)
	}

	rel.Status = status
	rel.AcceptedAt = acceptedAt
	return rel, nil
}

func (s *Store) DeleteFollow(followerID, targetID string) error {
	batch := s.Session.NewBatch(gocql.LoggedBatch)
	batch.Query(`DELETE FROM follows WHERE follower_id = ? AND target_id = ?`, followerID, targetID)
	batch.Query(`DELETE FROM follows_by_target WHERE target_id = ? AND follower_id = ?`, targetID, followerID)

	if err := s.Session.ExecuteBatch(batch); err != nil {
		logg.Error("store", "Failed to delete follow relationship", err)
		return fmt.Errorf("%w: %v", models.ErrTransient, err)
	}
	return nil
}

func (s *Store) CountFollowers(accountID string) (int, error) {
	iter := s.Session.Query(
		`SELECT status FROM follows_by_target WHERE target_id = ?`, accountID,
	).Iter()

	var status string
	count := 0
	for iter.Scan(&status) {
		if status == models.StatusFollowing.String() {
			count++
		}
	}
	if err := iter.Close(); err != nil {
		logg.Error("store", "Failed to count followers", err)
		return 0, fmt.Errorf("%w: %v", models.ErrTransient, err)
	}
	return count, nil
}

func (s *Store) CountFollowing(accountID string) (int, error) {
	iter := s.Session.Query(
		`SELECT status FROM follows WHERE follower_id = ?`, accountID,
	).Iter()

	var status string
	count := 0
	for iter.Scan(&status) {
		if status == models.StatusFollowing.String() {
			count++
		}
	}
	if err := iter.Close(); err != nil {
		logg.Error("store", "Failed to count following", err)
		return 0, fmt.Errorf("%w: %v", models.ErrTransient, err)
	}
	return count, nil
}

func (s *Store) ListFollowRequests(targetID string) ([]models.FollowRelationship, error) {
	iter := s.Session.Query(
		`SELECT follower_id, status, created_at, accepted_at FROM follows_by_target WHERE target_id = ?`,
		targetID,
	).Iter()

	var res []models.FollowRelationship
	var followerID, status string
	var createdAt, acceptedAt time.Time
	for iter.Scan(&followerID, &status, &createdAt, &acceptedAt) {
		if status != models.StatusPending.String() {
			continue
		}
		res = append(res, models.FollowRelationship{
			FollowerID: followerID,
			TargetID:   targetID,
			Status:     models.StatusPending,
			CreatedAt:  createdAt,
			AcceptedAt: acceptedAt,
		})
	}
	if err := iter.Close(); err != nil {
		logg.Error("store", "Failed to list follow requests", err)
		return nil, fmt.Errorf("%w: %v", models.ErrTransient, err)
	}
	return res, nil
}

// --- Post operations ---

func (s *Store) InsertPost(authorID, text, mediaRef string) (models.Post, error) {
	post := models.Post{
		ID:        newDocID(),
		AuthorID:  authorID,
		Text:      text,
		MediaRef:  mediaRef,
		CreatedAt: s.stamps.next(models.CollectionPosts),
		Likes:     []string{},
	}

	batch := s.Session.NewBatch(gocql.LoggedBatch)
	batch.Query(`
		INSERT INTO posts (post_id, author_id, body, media_ref, created_at, like_count)
		VALUES (?, ?, ?, ?, ?, 0)`,
		post.ID, post.AuthorID, post.Text, post.MediaRef, post.CreatedAt)
	batch.Query(`INSERT INTO posts_by_time (bucket, created_at, post_id) VALUES (?, ?, ?)`,
		timeBucket, post.CreatedAt, post.ID)

	if err := s.Session.ExecuteBatch(batch); err != nil {
		logg.Error("store", "Failed to insert post", err)
		return models.Post{}, fmt.Errorf("%w: %v", models.ErrTransient, err)
	}
	return post, nil
}

func (s *Store) GetPost(postID string) (models.Post, error) {
	var post models.Post
	var likes []string
	post.ID = postID

	err := s.Session.Query(`
		SELECT author_id, body, media_ref, created_at, likes, like_count
		FROM posts WHERE post_id = ?`, postID,
	).Scan(&post.AuthorID, &post.Text, &post.MediaRef, &post.CreatedAt, &likes, &post.LikeCount)
	if err != nil {
		if err == gocql.ErrNotFound {
			return models.Post{}, models.ErrNotFound
		}
		logg.Error("store", "Failed to query post", err)
		return models.Post{}, fmt.Errorf("%w: %v", models.ErrTransient, err)
	}

	if likes == nil {
		likes = []string{}
	}
	post.Likes = likes
	return post, nil
}

func (s *Store) DeletePost(postID string) error {
	post, err := s.GetPost(postID)
	if err != nil {
		return err
	}

	batch := s.Session.NewBatch(gocql.LoggedBatch)
	batch.Query(`DELETE FROM posts WHERE post_id = ?`, postID)
	batch.Query(`DELETE FROM posts_by_time WHERE bucket = ? AND created_at = ? AND post_id = ?`,
		timeBucket, post.CreatedAt, postID)

	if err := s.Session.ExecuteBatch(batch); err != nil {
		logg.Error("store", "Failed to delete post", err)
		return fmt.Errorf("%w: %v", models.ErrTransient, err)
	}
	return nil
}

// ToggleLike flips the account's membership in the like set and recomputes
// like_count from the resulting set inside the same CAS-guarded update.
// Concurrent toggles by different accounts retry instead of clobbering each
// other's count.
func (s *Store) ToggleLike(postID, accountID string) (models.Post, error) {
	for attempt := 0; attempt < toggleLikeRetries; attempt++ {
		post, err := s.GetPost(postID)
		if err != nil {
			return models.Post{}, err
		}

		var next []string
		if post.LikedBy(accountID) {
			for _, id := range post.Likes {
				if id != accountID {
					next = append(next, id)
				}
			}
		} else {
			next = append(slices.Clone(post.Likes), accountID)
		}
		if next == nil {
			next = []string{}
		}

		result := make(map[string]interface{})
		applied, err := s.Session.Query(`
			UPDATE posts SET likes = ?, like_count = ? WHERE post_id = ? IF likes = ?`,
			next, len(next), postID, post.Likes,
		).MapScanCAS(result)
		if err != nil {
			logg.Error("store", "Failed to toggle like", err)
			return models.Post{}, fmt.Errorf("%w: %v", models.ErrTransient, err)
		}
		if applied {
			post.Likes = next
			post.LikeCount = len(next)
			return post, nil
		}
		// Lost the race against another toggle; re-read and retry.
	}

	logg.Error("store", "Like toggle retries exhausted", nil)
	return models.Post{}, fmt.Errorf("%w: like toggle contention", models.ErrTransient)
}

func (s *Store) ListPosts(limit int) ([]models.Post, error) {
	if limit <= 0 {
		limit = 1000 // snapshot-sized default
	}

	iter := s.Session.Query(`
		SELECT post_id FROM posts_by_time WHERE bucket = ? LIMIT ?`,
		timeBucket, limit,
	).Iter()

	var ids []string
	var id string
	for iter.Scan(&id) {
		ids = append(ids, id)
	}
	if err := iter.Close(); err != nil {
		logg.Error("store", "Failed to list posts", err)
		return nil, fmt.Errorf("%w: %v", models.ErrTransient, err)
	}

	res := make([]models.Post, 0, len(ids))
	for _, pid := range ids {
		post, err := s.GetPost(pid)
		if errors.Is(err, models.ErrNotFound) {
			continue // reference row outlived a concurrent delete
		}
		if err != nil {
			return nil, err
		}
		res = append(res, post)
	}
	return res, nil
}

// --- Comment operations ---

// Comments cluster by comment_id, and comment ids are ULIDs, so the natural
// clustering order is insertion order.

func (s *Store) InsertComment(postID, authorID, text string) (models.Comment, error) {
	comment := models.Comment{
		ID:        newDocID(),
		PostID:    postID,
		AuthorID:  authorID,
		Text:      text,
		CreatedAt: s.stamps.next(models.CollectionComments),
	}

	if err := s.Session.Query(`
		INSERT INTO comments (post_id, comment_id, author_id, body, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		comment.PostID, comment.ID, comment.AuthorID, comment.Text, comment.CreatedAt,
	).Exec(); err != nil {
		logg.Error("store", "Failed to insert comment", err)
		return models.Comment{}, fmt.Errorf("%w: %v", models.ErrTransient, err)
	}
	return comment, nil
}

func (s *Store) GetComment(postID, commentID string) (models.Comment, error) {
	comment := models.Comment{ID: commentID, PostID: postID}

	err := s.Session.Query(`
		SELECT author_id, body, created_at FROM comments WHERE post_id = ? AND comment_id = ?`,
		postID, commentID,
	).Scan(&comment.AuthorID, &comment.Text, &comment.CreatedAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return models.Comment{}, models.ErrNotFound
		}
		logg.Error("store", "Failed to query comment", err)
		return models.Comment{}, fmt.Errorf("%w: %v", models.ErrTransient, err)
	}
	return comment, nil
}

func (s *Store) DeleteComment(postID, commentID string) error {
	if err := s.Session.Query(
		`DELETE FROM comments WHERE post_id = ? AND comment_id = ?`, postID, commentID,
	).Exec(); err != nil {
		logg.Error("store", "Failed to delete comment", err)
		return fmt.Errorf("%w: %v", models.ErrTransient, err)
	}
	return nil
}

func (s *Store) ListComments(postID string) ([]models.Comment, error) {
	iter := s.Session.Query(`
		SELECT comment_id, author_id, body, created_at FROM comments WHERE post_id = ?`,
		postID,
	).Iter()

	var res []models.Comment
	var comment models.Comment
	comment.PostID = postID
	for iter.Scan(&comment.ID, &comment.AuthorID, &comment.Text, &comment.CreatedAt) {
		res = append(res, comment)
	}
	if err := iter.Close(); err != nil {
		logg.Error("store", "Failed to list comments", err)
		return nil, fmt.Errorf("%w: %v", models.ErrTransient, err)
	}
	return res, nil
}

// DeleteCommentsByPost removes the whole comment partition of a post and
// returns the deleted comments so the caller can emit removal events.
func (s *Store) DeleteCommentsByPost(postID string) ([]models.Comment, error) {
	comments, err := s.ListComments(postID)
	if err != nil {
		return nil, err
	}

	if err := s.Session.Query(
		`DELETE FROM comments WHERE post_id = ?`, postID,
	).Exec(); err != nil {
		logg.Error("store", "Failed to cascade comment deletion", err)
		return nil, fmt.Errorf("%w: %v", models.ErrTransient, err)
	}
	return comments, nil
}

// --- Story operations ---

func (s *Store) InsertStory(authorID, mediaRef string, mediaType models.MediaType) (models.Story, error) {
	story := models.Story{
		ID:        newDocID(),
		AuthorID:  authorID,
		MediaRef:  mediaRef,
		MediaType: mediaType,
		CreatedAt: s.stamps.next(models.CollectionStories),
		Viewers:   []string{},
	}

	batch := s.Session.NewBatch(gocql.LoggedBatch)
	batch.Query(`
		INSERT INTO stories (story_id, author_id, media_ref, media_type, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		story.ID, story.AuthorID, story.MediaRef, string(story.MediaType), story.CreatedAt)
	batch.Query(`INSERT INTO stories_by_time (bucket, created_at, story_id) VALUES (?, ?, ?)`,
		timeBucket, story.CreatedAt, story.ID)

	if err := s.Session.ExecuteBatch(batch); err != nil {
		logg.Error("store", "Failed to insert story", err)
		return models.Story{}, fmt.Errorf("%w: %v", models.ErrTransient, err)
	}
	return story, nil
}

func (s *Store) GetStory(storyID string) (models.Story, error) {
	var story models.Story
	var mediaType string
	var viewers []string
	story.ID = storyID

	err := s.Session.Query(`
		SELECT author_id, media_ref, media_type, created_at, viewers
		FROM stories WHERE story_id = ?`, storyID,
	).Scan(&story.AuthorID, &story.MediaRef, &mediaType, &story.CreatedAt, &viewers)
	if err != nil {
		if err == gocql.ErrNotFound {
			return models.Story{}, models.ErrNotFound
		}
		logg.Error("store", "Failed to query story", err)
		return models.Story{}, fmt.Errorf("%w: %v", models.ErrTransient, err)
	}

	story.MediaType = models.MediaType(mediaType)
	if viewers == nil {
		viewers = []string{}
	}
	story.Viewers = viewers
	return story, nil
}

func (s *Store) AddStoryViewer(storyID, viewerID string) (models.Story, error) {
	if _, err := s.GetStory(storyID); err != nil {
		return models.Story{}, err
	}

	if err := s.Session.Query(
		`UPDATE stories SET viewers = viewers + ? WHERE story_id = ?`,
		[]string{viewerID}, storyID,
	).Exec(); err != nil {
		logg.Error("store", "Failed to add story viewer", err)
		return models.Story{}, fmt.Errorf("%w: %v", models.ErrTransient, err)
	}
	return s.GetStory(storyID)
}

func (s *Store) ListActiveStories(since time.Time) ([]models.Story, error) {
	iter := s.Session.Query(`
		SELECT story_id FROM stories_by_time WHERE bucket = ? AND created_at > ?`,
		timeBucket, since,
	).Iter()

	var ids []string
	var id string
	for iter.Scan(&id) {
		ids = append(ids, id)
	}
	if err := iter.Close(); err != nil {
		logg.Error("store", "Failed to list active stories", err)
		return nil, fmt.Errorf("%w: %v", models.ErrTransient, err)
	}

	res := make([]models.Story, 0, len(ids))
	for _, sid := range ids {
		story, err := s.GetStory(sid)
		if errors.Is(err, models.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		res = append(res, story)
	}
	return res, nil
}

func (s *Store) DeleteStoriesBefore(cutoff time.Time) (int, error) {
	iter := s.Session.Query(`
		SELECT created_at, story_id FROM stories_by_time WHERE bucket = ? AND created_at < ?`,
		timeBucket, cutoff,
	).Iter()

	type ref struct {
		createdAt time.Time
		id        string
	}
	var refs []ref
	var r ref
	for iter.Scan(&r.createdAt, &r.id) {
		refs = append(refs, r)
	}
	if err := iter.Close(); err != nil {
		logg.Error("store", "Failed to scan expired stories", err)
		return 0, fmt.Errorf("%w: %v", models.ErrTransient, err)
	}

	for _, r := range refs {
		batch := s.Session.NewBatch(gocql.LoggedBatch)
		batch.Query(`DELETE FROM stories WHERE story_id = ?`, r.id)
		batch.Query(`DELETE FROM stories_by_time WHERE bucket = ? AND created_at = ? AND story_id = ?`,
			timeBucket, r.createdAt, r.id)
		if err := s.Session.ExecuteBatch(batch); err != nil {
			logg.Error("store", "Failed to delete expired story", err)
			return 0, fmt.Errorf("%w: %v", models.ErrTransient, err)
		}
	}
	return len(refs), nil
}

// --- Chat operations ---

func (s *Store) InsertChatMessage(authorID, text string) (models.ChatMessage, error) {
	msg := models.ChatMessage{
		ID:        newDocID(),
		AuthorID:  authorID,
		Text:      text,
		CreatedAt: s.stamps.next(models.CollectionChat),
	}

	if err := s.Session.Query(`
		INSERT INTO chat (bucket, created_at, message_id, author_id, body)
		VALUES (?, ?, ?, ?, ?)`,
		timeBucket, msg.CreatedAt, msg.ID, msg.AuthorID, msg.Text,
	).Exec(); err != nil {
		logg.Error("store", "Failed to insert chat message", err)
		return models.ChatMessage{}, fmt.Errorf("%w: %v", models.ErrTransient, err)
	}
	return msg, nil
}

// ListChatMessages returns the most recent limit messages in ascending
// (created_at, id) order. The table clusters newest-first, so the window is
// read directly and reversed.
func (s *Store) ListChatMessages(limit int) ([]models.ChatMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	iter := s.Session.Query(`
		SELECT created_at, message_id, author_id, body FROM chat WHERE bucket = ? LIMIT ?`,
		timeBucket, limit,
	).Iter()

	var res []models.ChatMessage
	var msg models.ChatMessage
	for iter.Scan(&msg.CreatedAt, &msg.ID, &msg.AuthorID, &msg.Text) {
		res = append(res, msg)
	}
	if err := iter.Close(); err != nil {
		logg.Error("store", "Failed to list chat messages", err)
		return nil, fmt.Errorf("%w: %v", models.ErrTransient, err)
	}

	slices.Reverse(res)
	return res, nil
}

// --- Audit events ---

func (s *Store) SaveRawEvent(data []byte) error {
	if err := s.Session.Query(`
		INSERT INTO events (event_id, received_at, payload) VALUES (?, ?, ?)`,
		newDocID(), time.Now().UTC(), data,
	).Exec(); err != nil {
		logg.Error("store", "Failed to archive event", err)
		return fmt.Errorf("%w: %v", models.ErrTransient, err)
	}
	return nil
}

// --- Bus snapshots ---

// Snapshot scans a collection's base table; the bus applies query filters,
// ordering and limits on top.
func (s *Store) Snapshot(collection string) ([]models.Document, error) {
	switch collection {
	case models.CollectionFollows:
		iter := s.Session.Query(
			`SELECT follower_id, target_id, status, created_at, accepted_at FROM follows`,
		).Iter()
		var docs []models.Document
		var followerID, targetID, status string
		var createdAt, acceptedAt time.Time
		for iter.Scan(&followerID, &targetID, &status, &createdAt, &acceptedAt) {
			parsed, err := models.ParseFollowStatus(status)
			if err != nil {
				continue
			}
			docs = append(docs, models.FollowRelationship{
				FollowerID: followerID,
				TargetID:   targetID,
				Status:     parsed,
				CreatedAt:  createdAt,
				AcceptedAt: acceptedAt,
			})
		}
		if err := iter.Close(); err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrTransient, err)
		}
		return docs, nil

	case models.CollectionPosts:
		posts, err := s.ListPosts(0)
		if err != nil {
			return nil, err
		}
		docs := make([]models.Document, 0, len(posts))
		for _, p := range posts {
			docs = append(docs, p)
		}
		return docs, nil

	case models.CollectionComments:
		iter := s.Session.Query(
			`SELECT post_id, comment_id, author_id, body, created_at FROM comments`,
		).Iter()
		var docs []models.Document
		var c models.Comment
		for iter.Scan(&c.PostID, &c.ID, &c.AuthorID, &c.Text, &c.CreatedAt) {
			docs = append(docs, c)
		}
		if err := iter.Close(); err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrTransient, err)
		}
		return docs, nil

	case models.CollectionStories:
		stories, err := s.ListActiveStories(time.Time{})
		if err != nil {
			return nil, err
		}
		docs := make([]models.Document, 0, len(stories))
		for _, st := range stories {
			docs = append(docs, st)
		}
		return docs, nil

	case models.CollectionChat:
		msgs, err := s.ListChatMessages(0)
		if err != nil {
			return nil, err
		}
		docs := make([]models.Document, 0, len(msgs))
		for _, m := range msgs {
			docs = append(docs, m)
		}
		return docs, nil

	default:
		return nil, fmt.Errorf("unknown collection %q", collection)
	}
}
