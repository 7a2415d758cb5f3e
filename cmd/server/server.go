package server

import (
	"context"
	"math"
	"net/http"
	"time"

	"example.com/socialstream/internal/blob"
	appkafka "example.com/socialstream/internal/broker"
	"example.com/socialstream/internal/bus"
	"example.com/socialstream/internal/chat"
	"example.com/socialstream/internal/feed"
	"example.com/socialstream/internal/follow"
	"example.com/socialstream/internal/logger"
	"example.com/socialstream/internal/metrics"
	"example.com/socialstream/internal/middleware"
	"example.com/socialstream/internal/models"
	"example.com/socialstream/internal/store"
	"example.com/socialstream/internal/story"
)

var logg = logger.New()

// maxReadRetries is how many consecutive change-feed read failures the
// server tolerates before declaring the feed lost and failing every live
// subscription.
const maxReadRetries = 10

type Server struct {
	store   store.StoreInterface
	writer  appkafka.KafkaWriter
	bus     *bus.Bus
	uploads blob.Uploader
	follows *follow.Manager
	feed    *feed.Engine
	stories *story.Engine
	chat    *chat.Channel
}

func newServer(st store.StoreInterface, writer appkafka.KafkaWriter, b *bus.Bus, uploads blob.Uploader) *Server {
	return &Server{
		store:   st,
		writer:  writer,
		bus:     b,
		uploads: uploads,
		follows: follow.NewManager(st, writer),
		feed:    feed.NewEngine(st, writer),
		stories: story.NewEngine(st, writer),
		chat:    chat.New(st, writer),
	}
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	auth := func(h http.HandlerFunc) http.Handler {
		return middleware.JWTAuth(h)
	}

	mux.Handle("POST /posts", auth(s.createPostHandler))
	mux.Handle("DELETE /posts/{id}", auth(s.deletePostHandler))
	mux.Handle("POST /posts/{id}/like", auth(s.toggleLikeHandler))
	mux.Handle("GET /posts/{id}/comments", auth(s.listCommentsHandler))
	mux.Handle("POST /posts/{id}/comments", auth(s.addCommentHandler))
	mux.Handle("DELETE /posts/{id}/comments/{commentID}", auth(s.deleteCommentHandler))
	mux.Handle("GET /feed", auth(s.getFeedHandler))

	mux.Handle("POST /follow/request", auth(s.requestFollowHandler))
	mux.Handle("POST /follow/accept", auth(s.acceptFollowHandler))
	mux.Handle("POST /follow/reject", auth(s.rejectFollowHandler))
	mux.Handle("POST /follow/cancel", auth(s.cancelFollowHandler))
	mux.Handle("POST /follow/unfollow", auth(s.unfollowHandler))
	mux.Handle("GET /follow/status", auth(s.followStatusHandler))
	mux.Handle("GET /follow/counts", auth(s.followCountsHandler))
	mux.Handle("GET /follow/requests", auth(s.followRequestsHandler))

	mux.Handle("POST /stories", auth(s.postStoryHandler))
	mux.Handle("GET /stories/reels", auth(s.getReelsHandler))
	mux.Handle("POST /stories/{id}/seen", auth(s.markStorySeenHandler))

	mux.Handle("POST /chat/messages", auth(s.sendChatHandler))
	mux.Handle("GET /chat/messages", auth(s.recentChatHandler))

	mux.Handle("GET /ws", auth(s.wsHandler))

	// Public scrape endpoint, no JWT required
	mux.Handle("/metrics", metrics.Handler())

	return mux
}

// Run starts the HTTPS server with JWT-protected routes and graceful
// shutdown. The reader is the server's end of the change feed: every event
// published by any replica flows through it into the bus.
func Run(ctx context.Context, st store.StoreInterface, writer appkafka.KafkaWriter, reader appkafka.KafkaReader, uploads blob.Uploader, addr string) {
	b := bus.New(st)
	defer b.Close()

	s := newServer(st, writer, b, uploads)

	go s.feedLoop(ctx, reader)

	srv := &http.Server{
		Addr:         addr,
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second, // prevent slowloris attacks
		WriteTimeout: 0,                // websocket streams stay open indefinitely
	}

	// --- Start server in a goroutine ---
	go func() {
		logg.Info("server", "Starting HTTPS server on "+addr)
		// TLS: cert.pem and key.pem should be valid certificates in specified paths
		if err := srv.ListenAndServeTLS("/certs/cert.pem", "/certs/key.pem"); err != nil && err != http.ErrServerClosed {
			logg.Error("server", "Server stopped unexpectedly", err)
		}
	}()

	// --- Graceful shutdown ---
	<-ctx.Done()
	logg.Info("server", "Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logg.Error("server", "Error during server shutdown", err)
	} else {
		logg.Info("server", "Server stopped gracefully")
	}
}

// feedLoop pumps change events from the broker into the bus. Read errors
// back off exponentially; once the failure looks persistent every live
// subscription is terminated so clients know to re-subscribe, and the loop
// keeps retrying so a recovered broker serves new subscriptions.
func (s *Server) feedLoop(ctx context.Context, reader appkafka.KafkaReader) {
	var retry int
	for {
		select {
		case <-ctx.Done():
			return
		default:
			msg, err := reader.ReadMessage(ctx)
			if err != nil {
				retry++
				if retry == maxReadRetries {
					logg.Error("server", "Change feed lost, failing live subscriptions", err)
					s.bus.Fail(models.ErrTransient)
				}
				backoff := time.Duration(math.Min(1000, math.Pow(2, float64(retry)))) * time.Millisecond
				if !waitWithContext(ctx, backoff) {
					return
				}
				continue
			}
			retry = 0

			if len(msg.Value) == 0 {
				continue
			}

			ev, err := models.DecodeEvent(msg.Value)
			if err != nil {
				logg.Error("server", "Invalid change event on feed", err)
				continue
			}
			s.bus.Dispatch(ev)
		}
	}
}

// waitWithContext waits for duration or context cancellation.
func waitWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
