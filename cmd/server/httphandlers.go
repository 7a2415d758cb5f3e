package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"example.com/socialstream/internal/blob"
	"example.com/socialstream/internal/middleware"
	"example.com/socialstream/internal/models"
)

// --- HTTP Handlers ---

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrSelfFollow):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrPermission):
		return http.StatusForbidden
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, scope string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logg.Error(scope, "Request failed", err)
		http.Error(w, "internal error", status)
		return
	}
	logg.Info(scope, "Request rejected: "+err.Error())
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, scope string, dst any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		logg.Error(scope, "Invalid request body", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func callerID(w http.ResponseWriter, r *http.Request, scope string) (string, bool) {
	accountID, ok := middleware.AccountIDFromContext(r.Context())
	if !ok {
		logg.Info(scope, "Unauthorized request")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}
	return accountID, ok
}

// uploadMedia decodes an inline base64 payload, checks it against the size
// cap and stores it in the blob store. The returned URL is what gets
// persisted; the bytes never touch the document store.
func (s *Server) uploadMedia(r *http.Request, b64, contentType string, limit int) (string, error) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", fmt.Errorf("%w: invalid base64 media: %v", models.ErrValidation, err)
	}
	if err := blob.ValidateSize(data, limit); err != nil {
		return "", err
	}
	return s.uploads.Put(r.Context(), data, contentType)
}

// --- Posts ---

// createPostHandler creates a post from JSON {"text": ..., "media_base64":
// ..., "media_content_type": ...}. Media is uploaded first so a failed
// upload never leaves a post behind.
func (s *Server) createPostHandler(w http.ResponseWriter, r *http.Request) {
	type req struct {
		Text             string `json:"text"`
		MediaBase64      string `json:"media_base64"`
		MediaContentType string `json:"media_content_type"`
	}
	var body req
	if !decodeBody(w, r, "http/posts", &body) {
		return
	}
	accountID, ok := callerID(w, r, "http/posts")
	if !ok {
		return
	}

	var mediaRef string
	if body.MediaBase64 != "" {
		var err error
		mediaRef, err = s.uploadMedia(r, body.MediaBase64, body.MediaContentType, blob.MaxPostImageBytes)
		if err != nil {
			s.writeError(w, "http/posts", err)
			return
		}
	}

	post, err := s.feed.CreatePost(accountID, body.Text, mediaRef)
	if err != nil {
		s.writeError(w, "http/posts", err)
		return
	}

	logg.Info("http/posts", "Post created successfully by account_id="+accountID)
	writeJSON(w, post)
}

func (s *Server) deletePostHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := callerID(w, r, "http/posts")
	if !ok {
		return
	}
	if err := s.feed.DeletePost(r.PathValue("id"), accountID); err != nil {
		s.writeError(w, "http/posts", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) toggleLikeHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := callerID(w, r, "http/likes")
	if !ok {
		return
	}
	post, err := s.feed.ToggleLike(r.PathValue("id"), accountID)
	if err != nil {
		s.writeError(w, "http/likes", err)
		return
	}
	writeJSON(w, post)
}

// getFeedHandler returns the newest posts. Query parameters: ?limit=50
func (s *Server) getFeedHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := callerID(w, r, "http/feed"); !ok {
		return
	}

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	posts, err := s.feed.ListFeed(limit)
	if err != nil {
		s.writeError(w, "http/feed", err)
		return
	}
	writeJSON(w, posts)
}

// --- Comments ---

func (s *Server) addCommentHandler(w http.ResponseWriter, r *http.Request) {
	type req struct {
		Text string `json:"text"`
	}
	var body req
	if !decodeBody(w, r, "http/comments", &body) {
		return
	}
	accountID, ok := callerID(w, r, "http/comments")
	if !ok {
		return
	}

	comment, err := s.feed.AddComment(r.PathValue("id"), accountID, body.Text)
	if err != nil {
		s.writeError(w, "http/comments", err)
		return
	}
	writeJSON(w, comment)
}

func (s *Server) listCommentsHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := callerID(w, r, "http/comments"); !ok {
		return
	}
	comments, err := s.feed.Comments(r.PathValue("id"))
	if err != nil {
		s.writeError(w, "http/comments", err)
		return
	}
	writeJSON(w, comments)
}

func (s *Server) deleteCommentHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := callerID(w, r, "http/comments")
	if !ok {
		return
	}
	if err := s.feed.DeleteComment(r.PathValue("id"), r.PathValue("commentID"), accountID); err != nil {
		s.writeError(w, "http/comments", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Follow graph ---

// followBody is the shared request shape for follow mutations: the caller is
// always taken from the token, the other side of the pair from the body.
type followBody struct {
	TargetID   string `json:"target_id"`
	FollowerID string `json:"follower_id"`
}

func (s *Server) requestFollowHandler(w http.ResponseWriter, r *http.Request) {
	var body followBody
	if !decodeBody(w, r, "http/follow", &body) {
		return
	}
	accountID, ok := callerID(w, r, "http/follow")
	if !ok {
		return
	}

	rel, err := s.follows.RequestFollow(accountID, body.TargetID)
	if err != nil {
		s.writeError(w, "http/follow", err)
		return
	}
	logg.Info("http/follow", "Follow requested by account_id="+accountID)
	writeJSON(w, rel)
}

func (s *Server) acceptFollowHandler(w http.ResponseWriter, r *http.Request) {
	var body followBody
	if !decodeBody(w, r, "http/follow", &body) {
		return
	}
	accountID, ok := callerID(w, r, "http/follow")
	if !ok {
		return
	}

	rel, err := s.follows.AcceptRequest(accountID, body.FollowerID)
	if err != nil {
		s.writeError(w, "http/follow", err)
		return
	}
	writeJSON(w, rel)
}

func (s *Server) rejectFollowHandler(w http.ResponseWriter, r *http.Request) {
	var body followBody
	if !decodeBody(w, r, "http/follow", &body) {
		return
	}
	accountID, ok := callerID(w, r, "http/follow")
	if !ok {
		return
	}

	if err := s.follows.RejectRequest(accountID, body.FollowerID); err != nil {
		s.writeError(w, "http/follow", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) cancelFollowHandler(w http.ResponseWriter, r *http.Request) {
	var body followBody
	if !decodeBody(w, r, "http/follow", &body) {
		return
	}
	accountID, ok := callerID(w, r, "http/follow")
	if !ok {
		return
	}

	if err := s.follows.CancelRequest(accountID, body.TargetID); err != nil {
		s.writeError(w, "http/follow", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) unfollowHandler(w http.ResponseWriter, r *http.Request) {
	var body followBody
	if !decodeBody(w, r, "http/follow", &body) {
		return
	}
	accountID, ok := callerID(w, r, "http/follow")
	if !ok {
		return
	}

	if err := s.follows.Unfollow(accountID, body.TargetID); err != nil {
		s.writeError(w, "http/follow", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// followStatusHandler reports the caller's relationship to ?target=.
func (s *Server) followStatusHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := callerID(w, r, "http/follow")
	if !ok {
		return
	}
	targetID := r.URL.Query().Get("target")
	if targetID == "" {
		http.Error(w, "missing target", http.StatusBadRequest)
		return
	}

	status, err := s.follows.Status(accountID, targetID)
	if err != nil {
		s.writeError(w, "http/follow", err)
		return
	}
	writeJSON(w, map[string]any{"status": status})
}

// followCountsHandler returns follower/following counts for ?account=,
// defaulting to the caller.
func (s *Server) followCountsHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := callerID(w, r, "http/follow")
	if !ok {
		return
	}
	if q := r.URL.Query().Get("account"); q != "" {
		accountID = q
	}

	followers, err := s.follows.FollowerCount(accountID)
	if err != nil {
		s.writeError(w, "http/follow", err)
		return
	}
	following, err := s.follows.FollowingCount(accountID)
	if err != nil {
		s.writeError(w, "http/follow", err)
		return
	}
	writeJSON(w, map[string]int{"followers": followers, "following": following})
}

func (s *Server) followRequestsHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := callerID(w, r, "http/follow")
	if !ok {
		return
	}
	requests, err := s.follows.PendingRequests(accountID)
	if err != nil {
		s.writeError(w, "http/follow", err)
		return
	}
	writeJSON(w, requests)
}

// --- Stories ---

// postStoryHandler creates a story from JSON {"media_base64": ...,
// "media_content_type": ..., "media_type": "image"|"video"}.
func (s *Server) postStoryHandler(w http.ResponseWriter, r *http.Request) {
	type req struct {
		MediaBase64      string `json:"media_base64"`
		MediaContentType string `json:"media_content_type"`
		MediaType        string `json:"media_type"`
	}
	var body req
	if !decodeBody(w, r, "http/stories", &body) {
		return
	}
	accountID, ok := callerID(w, r, "http/stories")
	if !ok {
		return
	}
	if body.MediaBase64 == "" {
		http.Error(w, "story needs media", http.StatusBadRequest)
		return
	}

	mediaRef, err := s.uploadMedia(r, body.MediaBase64, body.MediaContentType, blob.MaxStoryMediaBytes)
	if err != nil {
		s.writeError(w, "http/stories", err)
		return
	}

	st, err := s.stories.PostStory(accountID, mediaRef, models.MediaType(body.MediaType))
	if err != nil {
		s.writeError(w, "http/stories", err)
		return
	}

	logg.Info("http/stories", "Story posted by account_id="+accountID)
	writeJSON(w, st)
}

func (s *Server) getReelsHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := callerID(w, r, "http/stories"); !ok {
		return
	}
	reels, err := s.stories.ActiveReels()
	if err != nil {
		s.writeError(w, "http/stories", err)
		return
	}
	writeJSON(w, reels)
}

func (s *Server) markStorySeenHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := callerID(w, r, "http/stories")
	if !ok {
		return
	}
	st, err := s.stories.MarkViewed(r.PathValue("id"), accountID)
	if err != nil {
		s.writeError(w, "http/stories", err)
		return
	}
	writeJSON(w, st)
}

// --- Chat ---

func (s *Server) sendChatHandler(w http.ResponseWriter, r *http.Request) {
	type req struct {
		Text string `json:"text"`
	}
	var body req
	if !decodeBody(w, r, "http/chat", &body) {
		return
	}
	accountID, ok := callerID(w, r, "http/chat")
	if !ok {
		return
	}

	msg, err := s.chat.Send(accountID, body.Text)
	if err != nil {
		s.writeError(w, "http/chat", err)
		return
	}
	writeJSON(w, msg)
}

func (s *Server) recentChatHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := callerID(w, r, "http/chat"); !ok {
		return
	}
	messages, err := s.chat.Recent()
	if err != nil {
		s.writeError(w, "http/chat", err)
		return
	}
	writeJSON(w, messages)
}
