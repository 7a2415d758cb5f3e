package server

import (
	"fmt"
	"net/http"
	"strconv"

	"example.com/socialstream/internal/bus"
	"example.com/socialstream/internal/follow"
	"example.com/socialstream/internal/middleware"
	"example.com/socialstream/internal/models"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The JWT middleware already authenticated the caller.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsFrame is one message on a live stream. The first frame is always the
// snapshot; applying the following added/modified/removed frames in order
// reproduces current state. An error frame means the stream is dead and the
// client must re-subscribe.
type wsFrame struct {
	Type   string            `json:"type"`
	Docs   []models.Document `json:"docs,omitempty"`
	Doc    models.Document   `json:"doc,omitempty"`
	Counts *follow.Counts    `json:"counts,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// wsHandler opens a live stream selected by ?stream=. Supported streams:
// feed (?limit=), comments (?post_id=), stories, chat, follows, counts.
func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountIDFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	stream := r.URL.Query().Get("stream")
	if stream == "counts" {
		s.serveCounts(w, r, accountID)
		return
	}

	sub, err := s.subscribeStream(r, stream, accountID)
	if err != nil {
		s.writeError(w, "ws", err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Unsubscribe()
		logg.Error("ws", "Websocket upgrade failed", err)
		return
	}
	defer conn.Close()

	// Reader goroutine: the client never sends data frames, but reading is
	// what surfaces the close handshake.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	defer sub.Unsubscribe()

	if err := conn.WriteJSON(wsFrame{Type: "snapshot", Docs: sub.Snapshot()}); err != nil {
		return
	}

	for {
		select {
		case <-gone:
			return
		case ev, open := <-sub.Events():
			if !open {
				if err := sub.Err(); err != nil {
					conn.WriteJSON(wsFrame{Type: "error", Error: err.Error()})
				}
				return
			}
			if err := conn.WriteJSON(wsFrame{Type: string(ev.Type), Doc: ev.Doc}); err != nil {
				return
			}
		}
	}
}

func (s *Server) subscribeStream(r *http.Request, stream, accountID string) (*bus.Subscription, error) {
	switch stream {
	case "feed":
		limit := 0
		if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
			limit = l
		}
		return s.feed.SubscribeFeed(s.bus, limit)
	case "comments":
		postID := r.URL.Query().Get("post_id")
		if postID == "" {
			return nil, fmtValidation("comments stream needs post_id")
		}
		return s.feed.SubscribeComments(s.bus, postID)
	case "stories":
		return s.stories.SubscribeActive(s.bus)
	case "chat":
		return s.chat.Subscribe(s.bus)
	case "follows":
		// Only relationships the caller is party to.
		return s.bus.Subscribe(bus.Query{
			Collection: models.CollectionFollows,
			Filter: func(doc models.Document) bool {
				rel, ok := doc.(models.FollowRelationship)
				return ok && (rel.FollowerID == accountID || rel.TargetID == accountID)
			},
			Less: bus.ByCreatedAsc,
		})
	default:
		return nil, fmtValidation("unknown stream " + strconv.Quote(stream))
	}
}

// serveCounts streams the caller's live follower/following totals.
func (s *Server) serveCounts(w http.ResponseWriter, r *http.Request, accountID string) {
	watcher, err := s.follows.WatchCounts(s.bus, accountID)
	if err != nil {
		s.writeError(w, "ws", err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		watcher.Stop()
		logg.Error("ws", "Websocket upgrade failed", err)
		return
	}
	defer conn.Close()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	defer watcher.Stop()

	for {
		select {
		case <-gone:
			return
		case counts, open := <-watcher.Updates():
			if !open {
				if err := watcher.Err(); err != nil {
					conn.WriteJSON(wsFrame{Type: "error", Error: err.Error()})
				}
				return
			}
			if err := conn.WriteJSON(wsFrame{Type: "counts", Counts: &counts}); err != nil {
				return
			}
		}
	}
}

func fmtValidation(msg string) error {
	return fmt.Errorf("%w: %s", models.ErrValidation, msg)
}
