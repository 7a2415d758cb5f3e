package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"example.com/socialstream/internal/blob"
	appkafka "example.com/socialstream/internal/broker"
	"example.com/socialstream/internal/bus"
	"example.com/socialstream/internal/models"
	"example.com/socialstream/internal/store"
	"github.com/golang-jwt/jwt/v5"
)

//
// --- Helpers ---
//

// generate JWT token for test account
func makeTestJWT(accountID string) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"account_id":   accountID,
		"display_name": "test " + accountID,
		"exp":          time.Now().Add(time.Hour).Unix(),
	})
	tokenStr, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		panic(err)
	}
	return tokenStr
}

// create HTTP request with JWT token
func sendJSONRequest(t *testing.T, method, url string, body any, token string, expectedStatus int) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("json.Marshal failed: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	if resp.StatusCode != expectedStatus {
		b, _ := io.ReadAll(resp.Body)
		defer resp.Body.Close()
		t.Fatalf("expected %d, got %d: %s", expectedStatus, resp.StatusCode, string(b))
	}
	return resp
}

func decodeInto(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response failed: %v", err)
	}
}

//
// --- Setup test server ---
//

func setupTestServer(t *testing.T) (*Server, *store.MockStore, *httptest.Server) {
	t.Helper()
	os.Setenv("JWT_SECRET", "test-secret")

	mockStore := store.NewMock()
	b := bus.New(mockStore)
	t.Cleanup(b.Close)

	s := newServer(mockStore, &appkafka.MockKafka{Bus: b}, b, &blob.MockUploader{})
	ts := httptest.NewServer(s.routes())
	t.Cleanup(ts.Close)
	return s, mockStore, ts
}

//
// --- Tests ---
//

func TestUnauthorizedWithoutToken(t *testing.T) {
	_, _, ts := setupTestServer(t)

	resp, err := http.Post(ts.URL+"/posts", "application/json", bytes.NewReader([]byte(`{"text":"hi"}`)))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

// full flow: post -> like -> comment -> feed
func TestPostLikeCommentFlow(t *testing.T) {
	_, _, ts := setupTestServer(t)

	aliceToken := makeTestJWT("alice")
	bobToken := makeTestJWT("bob")

	var post models.Post
	resp := sendJSONRequest(t, "POST", ts.URL+"/posts", map[string]string{"text": "hello world"}, aliceToken, http.StatusOK)
	decodeInto(t, resp, &post)
	if post.AuthorID != "alice" || post.ID == "" {
		t.Fatalf("unexpected post: %+v", post)
	}

	var liked models.Post
	resp = sendJSONRequest(t, "POST", ts.URL+"/posts/"+post.ID+"/like", nil, bobToken, http.StatusOK)
	decodeInto(t, resp, &liked)
	if liked.LikeCount != 1 || !liked.LikedBy("bob") {
		t.Fatalf("unexpected like state: %+v", liked)
	}

	var comment models.Comment
	resp = sendJSONRequest(t, "POST", ts.URL+"/posts/"+post.ID+"/comments", map[string]string{"text": "nice"}, bobToken, http.StatusOK)
	decodeInto(t, resp, &comment)
	if comment.AuthorID != "bob" || comment.PostID != post.ID {
		t.Fatalf("unexpected comment: %+v", comment)
	}

	var feed []models.Post
	resp = sendJSONRequest(t, "GET", ts.URL+"/feed?limit=10", nil, aliceToken, http.StatusOK)
	decodeInto(t, resp, &feed)
	if len(feed) != 1 || feed[0].ID != post.ID {
		t.Fatalf("unexpected feed: %+v", feed)
	}

	// Only the author may delete; the cascade takes the comment with it.
	sendJSONRequest(t, "DELETE", ts.URL+"/posts/"+post.ID, nil, bobToken, http.StatusForbidden)
	sendJSONRequest(t, "DELETE", ts.URL+"/posts/"+post.ID, nil, aliceToken, http.StatusNoContent)

	var comments []models.Comment
	resp = sendJSONRequest(t, "GET", ts.URL+"/posts/"+post.ID+"/comments", nil, aliceToken, http.StatusOK)
	decodeInto(t, resp, &comments)
	if len(comments) != 0 {
		t.Fatalf("expected cascade to remove comments, got %+v", comments)
	}
}

// full flow: request -> accept -> counts -> unfollow
func TestFollowFlow(t *testing.T) {
	_, _, ts := setupTestServer(t)

	aliceToken := makeTestJWT("alice")
	bobToken := makeTestJWT("bob")

	sendJSONRequest(t, "POST", ts.URL+"/follow/request", map[string]string{"target_id": "bob"}, aliceToken, http.StatusOK)

	// Following yourself and duplicate requests are rejected.
	sendJSONRequest(t, "POST", ts.URL+"/follow/request", map[string]string{"target_id": "alice"}, aliceToken, http.StatusBadRequest)
	sendJSONRequest(t, "POST", ts.URL+"/follow/request", map[string]string{"target_id": "bob"}, aliceToken, http.StatusConflict)

	var requests []models.FollowRelationship
	resp := sendJSONRequest(t, "GET", ts.URL+"/follow/requests", nil, bobToken, http.StatusOK)
	decodeInto(t, resp, &requests)
	if len(requests) != 1 || requests[0].FollowerID != "alice" {
		t.Fatalf("unexpected request inbox: %+v", requests)
	}

	sendJSONRequest(t, "POST", ts.URL+"/follow/accept", map[string]string{"follower_id": "alice"}, bobToken, http.StatusOK)

	var status map[string]string
	resp = sendJSONRequest(t, "GET", ts.URL+"/follow/status?target=bob", nil, aliceToken, http.StatusOK)
	decodeInto(t, resp, &status)
	if status["status"] != "following" {
		t.Fatalf("unexpected status: %+v", status)
	}

	var counts map[string]int
	resp = sendJSONRequest(t, "GET", ts.URL+"/follow/counts", nil, bobToken, http.StatusOK)
	decodeInto(t, resp, &counts)
	if counts["followers"] != 1 || counts["following"] != 0 {
		t.Fatalf("unexpected counts: %+v", counts)
	}

	sendJSONRequest(t, "POST", ts.URL+"/follow/unfollow", map[string]string{"target_id": "bob"}, aliceToken, http.StatusNoContent)

	resp = sendJSONRequest(t, "GET", ts.URL+"/follow/status?target=bob", nil, aliceToken, http.StatusOK)
	decodeInto(t, resp, &status)
	if status["status"] != "none" {
		t.Fatalf("unexpected status after unfollow: %+v", status)
	}
}

func TestStoryFlowWithUpload(t *testing.T) {
	s, _, ts := setupTestServer(t)

	aliceToken := makeTestJWT("alice")
	bobToken := makeTestJWT("bob")

	media := base64.StdEncoding.EncodeToString([]byte("tiny image bytes"))
	body := map[string]string{
		"media_base64":       media,
		"media_content_type": "image/jpeg",
		"media_type":         "image",
	}

	var story models.Story
	resp := sendJSONRequest(t, "POST", ts.URL+"/stories", body, aliceToken, http.StatusOK)
	decodeInto(t, resp, &story)
	if story.MediaRef == "" {
		t.Fatalf("expected uploaded media ref, got %+v", story)
	}
	if uploads := s.uploads.(*blob.MockUploader); len(uploads.Puts) != 1 {
		t.Fatalf("expected one upload, got %d", len(uploads.Puts))
	}

	var seen models.Story
	resp = sendJSONRequest(t, "POST", ts.URL+"/stories/"+story.ID+"/seen", nil, bobToken, http.StatusOK)
	decodeInto(t, resp, &seen)
	if len(seen.Viewers) != 1 || seen.Viewers[0] != "bob" {
		t.Fatalf("unexpected viewers: %+v", seen.Viewers)
	}

	var reels []struct {
		AuthorID string         `json:"author_id"`
		Stories  []models.Story `json:"stories"`
	}
	resp = sendJSONRequest(t, "GET", ts.URL+"/stories/reels", nil, bobToken, http.StatusOK)
	decodeInto(t, resp, &reels)
	if len(reels) != 1 || reels[0].AuthorID != "alice" {
		t.Fatalf("unexpected reels: %+v", reels)
	}
}

func TestPostMediaOverCap(t *testing.T) {
	_, _, ts := setupTestServer(t)

	oversized := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte("x"), blob.MaxPostImageBytes+1))
	body := map[string]string{
		"text":               "too big",
		"media_base64":       oversized,
		"media_content_type": "image/jpeg",
	}
	sendJSONRequest(t, "POST", ts.URL+"/posts", body, makeTestJWT("alice"), http.StatusBadRequest)
}

func TestChatFlow(t *testing.T) {
	_, _, ts := setupTestServer(t)

	aliceToken := makeTestJWT("alice")
	bobToken := makeTestJWT("bob")

	sendJSONRequest(t, "POST", ts.URL+"/chat/messages", map[string]string{"text": "hello"}, aliceToken, http.StatusOK)
	sendJSONRequest(t, "POST", ts.URL+"/chat/messages", map[string]string{"text": "hi alice"}, bobToken, http.StatusOK)
	sendJSONRequest(t, "POST", ts.URL+"/chat/messages", map[string]string{"text": ""}, bobToken, http.StatusBadRequest)

	var messages []models.ChatMessage
	resp := sendJSONRequest(t, "GET", ts.URL+"/chat/messages", nil, aliceToken, http.StatusOK)
	decodeInto(t, resp, &messages)
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].Text != "hello" || messages[1].Text != "hi alice" {
		t.Fatalf("window out of order: %+v", messages)
	}
}

//
// --- Failure paths ---
//

func TestStoreFailureMapsTo500(t *testing.T) {
	os.Setenv("JWT_SECRET", "test-secret")

	b := bus.New(&store.MockStoreFail{})
	t.Cleanup(b.Close)
	s := newServer(&store.MockStoreFail{}, &appkafka.MockKafka{}, b, &blob.MockUploader{})
	ts := httptest.NewServer(s.routes())
	t.Cleanup(ts.Close)

	sendJSONRequest(t, "POST", ts.URL+"/posts", map[string]string{"text": "hi"}, makeTestJWT("alice"), http.StatusInternalServerError)
	sendJSONRequest(t, "GET", ts.URL+"/feed", nil, makeTestJWT("alice"), http.StatusInternalServerError)
}

func TestPublishFailureStillCommits(t *testing.T) {
	os.Setenv("JWT_SECRET", "test-secret")

	mockStore := store.NewMock()
	b := bus.New(mockStore)
	t.Cleanup(b.Close)
	s := newServer(mockStore, &appkafka.MockKafkaFail{}, b, &blob.MockUploader{})
	ts := httptest.NewServer(s.routes())
	t.Cleanup(ts.Close)

	var post models.Post
	resp := sendJSONRequest(t, "POST", ts.URL+"/posts", map[string]string{"text": "hi"}, makeTestJWT("alice"), http.StatusOK)
	decodeInto(t, resp, &post)

	if _, err := mockStore.GetPost(post.ID); err != nil {
		t.Fatalf("post not committed: %v", err)
	}
}
