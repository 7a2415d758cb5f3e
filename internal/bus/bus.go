// Package bus implements the live subscription mechanism: a query over one
// collection yields a snapshot of the store at subscribe time followed by an
// ordered stream of change events. Subscribers are independent; ordering is
// guaranteed per subscriber, never across subscribers.
package bus

import (
	"fmt"
	"sort"
	"sync"

	"example.com/socialstream/internal/logger"
	"example.com/socialstream/internal/metrics"
	"example.com/socialstream/internal/models"
	"github.com/google/uuid"
)

var logg = logger.New()

// eventBuffer is the per-subscriber backlog. A consumer that falls this far
// behind is terminated with a transient error rather than stalling dispatch
// for everyone else.
const eventBuffer = 256

// Query selects the documents a subscriber observes. Filter and Less apply
// to the snapshot; Filter alone applies to live events. Limit keeps the
// first Limit snapshot documents in Less order.
type Query struct {
	Collection string
	Filter     func(models.Document) bool
	Less       func(a, b models.Document) bool
	Limit      int
}

// Event is one incremental change delivered to a subscriber. Applying a
// subscription's events in order on top of its snapshot reproduces current
// store state for the queried documents.
type Event struct {
	Type models.EventType
	Doc  models.Document
}

// Snapshotter is the read side of the store the bus snapshots from.
type Snapshotter interface {
	Snapshot(collection string) ([]models.Document, error)
}

type Bus struct {
	store  Snapshotter
	mu     sync.Mutex
	subs   map[string]*Subscription
	closed bool
}

func New(store Snapshotter) *Bus {
	return &Bus{
		store: store,
		subs:  make(map[string]*Subscription),
	}
}

// Subscription is one live query. Read the snapshot first, then consume
// Events until it closes; Err reports why the stream ended (nil after
// Unsubscribe, a transient error otherwise).
type Subscription struct {
	id       string
	query    Query
	snapshot []models.Document
	events   chan Event
	err      error
	bus      *Bus
}

func (s *Subscription) Snapshot() []models.Document { return s.snapshot }

func (s *Subscription) Events() <-chan Event { return s.events }

// Err is valid once the events channel has closed.
func (s *Subscription) Err() error { return s.err }

// Unsubscribe stops delivery and releases the subscription. Safe to call
// more than once.
func (s *Subscription) Unsubscribe() {
	s.bus.remove(s.id, nil)
}

// Subscribe registers a live query. The snapshot is taken under the dispatch
// lock, so no event published after the snapshot can be missed and none
// published before can be replayed.
func (b *Bus) Subscribe(q Query) (*Subscription, error) {
	if q.Collection == "" {
		return nil, fmt.Errorf("%w: subscription needs a collection", models.ErrValidation)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("%w: bus is closed", models.ErrTransient)
	}

	docs, err := b.store.Snapshot(q.Collection)
	if err != nil {
		return nil, err
	}

	snap := docs
	if q.Filter != nil {
		snap = make([]models.Document, 0, len(docs))
		for _, doc := range docs {
			if q.Filter(doc) {
				snap = append(snap, doc)
			}
		}
	}
	if q.Less != nil {
		sort.SliceStable(snap, func(i, j int) bool { return q.Less(snap[i], snap[j]) })
	}
	if q.Limit > 0 && len(snap) > q.Limit {
		snap = snap[:q.Limit]
	}

	sub := &Subscription{
		id:       uuid.NewString(),
		query:    q,
		snapshot: snap,
		events:   make(chan Event, eventBuffer),
		bus:      b,
	}
	b.subs[sub.id] = sub
	metrics.ActiveSubscriptions.Inc()
	return sub, nil
}

// Dispatch fans one change event out to every matching subscriber, in call
// order. Dispatch is the only sender on subscription channels, so each
// subscriber sees a causally ordered stream.
func (b *Bus) Dispatch(ev models.ChangeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	metrics.EventsDispatched.WithLabelValues(ev.Collection).Inc()

	for id, sub := range b.subs {
		if sub.query.Collection != ev.Collection {
			continue
		}
		if sub.query.Filter != nil && !sub.query.Filter(ev.Doc) {
			continue
		}

		select {
		case sub.events <- Event{Type: ev.Type, Doc: ev.Doc}:
		default:
			// Dropping a single event would corrupt the subscriber's replay,
			// so the whole stream terminates instead.
			logg.Warn("bus", "Subscriber fell behind, terminating stream")
			sub.err = fmt.Errorf("%w: subscriber fell behind", models.ErrTransient)
			close(sub.events)
			delete(b.subs, id)
			metrics.DroppedSubscribers.Inc()
			metrics.ActiveSubscriptions.Dec()
		}
	}
}

// Fail terminates every active stream with a transient error, for when the
// underlying change feed is lost. Re-subscribing is the caller's decision;
// the bus never reconnects on its own.
func (b *Bus) Fail(cause error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subs {
		sub.err = fmt.Errorf("%w: %v", models.ErrTransient, cause)
		close(sub.events)
		delete(b.subs, id)
		metrics.ActiveSubscriptions.Dec()
	}
}

// Close releases all subscriptions cleanly and rejects new ones.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.events)
		delete(b.subs, id)
		metrics.ActiveSubscriptions.Dec()
	}
}

func (b *Bus) remove(id string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[id]
	if !ok {
		return
	}
	sub.err = err
	close(sub.events)
	delete(b.subs, id)
	metrics.ActiveSubscriptions.Dec()
}

// ByCreatedAsc orders documents by the store's authoritative
// (created_at, id) key, ascending.
func ByCreatedAsc(a, b models.Document) bool {
	if !a.DocCreatedAt().Equal(b.DocCreatedAt()) {
		return a.DocCreatedAt().Before(b.DocCreatedAt())
	}
	return a.DocID() < b.DocID()
}

// ByCreatedDesc is ByCreatedAsc reversed: newest first.
func ByCreatedDesc(a, b models.Document) bool {
	return ByCreatedAsc(b, a)
}
