package store

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	config "example.com/socialstream/internal/init"
	"example.com/socialstream/internal/logger"
	"example.com/socialstream/internal/models"
	"github.com/gocql/gocql"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/cassandra"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/oklog/ulid/v2"
)

var logg = logger.New()

// --- Interfaces ---

type SessionInterface interface {
	Query(stmt string, values ...interface{}) *gocql.Query
	NewBatch(batchType gocql.BatchType) *gocql.Batch
	ExecuteBatch(batch *gocql.Batch) error
	Close()
}

// StoreInterface is the document store shared by every engine. All ids and
// created_at stamps are assigned here, never by callers, so the
// (created_at, id) order is authoritative regardless of client clocks.
type StoreInterface interface {
	// follows
	GetFollow(followerID, targetID string) (models.FollowRelationship, error)
	InsertFollow(followerID, targetID string) (models.FollowRelationship, error)
	UpdateFollowStatus(followerID, targetID string, status models.FollowStatus, acceptedAt time.Time) (models.FollowRelationship, error)
	DeleteFollow(followerID, targetID string) error
	CountFollowers(accountID string) (int, error)
	CountFollowing(accountID string) (int, error)
	ListFollowRequests(targetID string) ([]models.FollowRelationship, error)

	// posts
	InsertPost(authorID, text, mediaRef string) (models.Post, error)
	GetPost(postID string) (models.Post, error)
	DeletePost(postID string) error
	ToggleLike(postID, accountID string) (models.Post, error)
	ListPosts(limit int) ([]models.Post, error)

	// comments
	InsertComment(postID, authorID, text string) (models.Comment, error)
	GetComment(postID, commentID string) (models.Comment, error)
	DeleteComment(postID, commentID string) error
	ListComments(postID string) ([]models.Comment, error)
	DeleteCommentsByPost(postID string) ([]models.Comment, error)

	// stories
	InsertStory(authorID, mediaRef string, mediaType models.MediaType) (models.Story, error)
	GetStory(storyID string) (models.Story, error)
	AddStoryViewer(storyID, viewerID string) (models.Story, error)
	ListActiveStories(since time.Time) ([]models.Story, error)
	DeleteStoriesBefore(cutoff time.Time) (int, error)

	// chat
	InsertChatMessage(authorID, text string) (models.ChatMessage, error)
	ListChatMessages(limit int) ([]models.ChatMessage, error)

	// audit trail written by the worker
	SaveRawEvent(data []byte) error

	// Snapshot returns the current contents of a collection for the bus.
	Snapshot(collection string) ([]models.Document, error)

	Close()
}

// --- Store Implementation ---

type Store struct {
	Session SessionInterface
	stamps  *stamper
}

// New initializes Cassandra connection using config package.
func New() (StoreInterface, error) {
	cfg := config.Get()

	if err := ensureKeyspace(cfg); err != nil {
		return nil, fmt.Errorf("failed to ensure keyspace: %w", err)
	}

	if err := runMigrations(cfg); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	cluster := gocql.NewCluster(cfg.CassandraHost)
	cluster.Keyspace = cfg.CassandraKeyspace
	cluster.Consistency = gocql.Quorum
	cluster.Timeout = cfg.CassandraTimeout
	cluster.ConnectTimeout = cfg.CassandraTimeout

	if cfg.CassandraUsername != "" && cfg.CassandraPassword != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.CassandraUsername,
			Password: cfg.CassandraPassword,
		}
	}

	if cfg.CassandraDC != "" {
		cluster.HostFilter = gocql.DataCentreHostFilter(cfg.CassandraDC)
	}

	sess, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create Cassandra session: %w", err)
	}

	logg.Info("store", "Connected to Cassandra keyspace (host anonymized)")
	return &Store{Session: sess, stamps: newStamper()}, nil
}

// --- Ensure keyspace exists before migrations ---

func ensureKeyspace(cfg *config.Config) error {
	cluster := gocql.NewCluster(cfg.CassandraHost)
	cluster.Keyspace = "system"
	sess, err := cluster.CreateSession()
	if err != nil {
		return fmt.Errorf("failed to connect to Cassandra system keyspace: %w", err)
	}
	defer sess.Close()

	query := fmt.Sprintf(`
        CREATE KEYSPACE IF NOT EXISTS %s
        WITH replication = {'class': 'SimpleStrategy', 'replication_factor': 1};
    `, cfg.CassandraKeyspace)

	if err := sess.Query(query).Exec(); err != nil {
		return fmt.Errorf("failed to create keyspace: %w", err)
	}

	logg.Info("store", "Ensured Cassandra keyspace exists (keyspace name anonymized)")
	return nil
}

// --- Migration runner ---

func runMigrations(cfg *config.Config) error {
	migrationsPath := filepath.Join("./migrations/cassandra")
	sourceURL := fmt.Sprintf("file://%s", migrationsPath)
	dbURL := fmt.Sprintf(
		"cassandra://%s/%s?x-migrations-table=schema_migrations&x-multi-statement=true",
		cfg.CassandraHost, cfg.CassandraKeyspace,
	)

	m, err := migrate.New(sourceURL, dbURL)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration up failed: %w", err)
	}

	if err == migrate.ErrNoChange {
		logg.Info("store", "No new migrations to apply")
	} else {
		logg.Info("store", "Migrations applied successfully")
	}
	return nil
}

// Close gracefully closes Cassandra session.
func (s *Store) Close() {
	if s.Session != nil {
		s.Session.Close()
		logg.Info("store", "Cassandra session closed")
	}
}

// --- Id and timestamp assignment ---

// newDocID returns a ULID: lexicographically ordered by creation time, which
// makes the id a usable tie-break for equal created_at stamps.
func newDocID() string {
	return ulid.Make().String()
}

// stamper hands out strictly increasing created_at values per collection.
type stamper struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func newStamper() *stamper {
	return &stamper{last: make(map[string]time.Time)}
}

func (s *stamper) next(collection string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if last, ok := s.last[collection]; ok && !now.After(last) {
		now = last.Add(time.Microsecond)
	}
	s.last[collection] = now
	return now
}
