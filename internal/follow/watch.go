package follow

import (
	"example.com/socialstream/internal/bus"
	"example.com/socialstream/internal/models"
)

// Counts is a point-in-time view of an account's follower and following
// totals, both restricted to Following relationships.
type Counts struct {
	Followers int `json:"followers"`
	Following int `json:"following"`
}

// CountWatcher keeps an account's counts current off a live subscription.
type CountWatcher struct {
	sub     *bus.Subscription
	updates chan Counts
}

// Updates emits a Counts value after the initial snapshot and after every
// relevant relationship change. Intermediate values may be skipped when the
// consumer lags; the latest value is always delivered. The channel closes
// when the watcher stops or the underlying stream terminates.
func (w *CountWatcher) Updates() <-chan Counts { return w.updates }

// Err reports why the underlying stream ended; valid once Updates closes.
func (w *CountWatcher) Err() error { return w.sub.Err() }

// Stop releases the underlying subscription.
func (w *CountWatcher) Stop() { w.sub.Unsubscribe() }

// WatchCounts derives live follower/following counts for an account from
// the follows collection, per the rule that counts are query results, not
// stored counters.
func (m *Manager) WatchCounts(b *bus.Bus, accountID string) (*CountWatcher, error) {
	sub, err := b.Subscribe(bus.Query{
		Collection: models.CollectionFollows,
		Filter: func(doc models.Document) bool {
			rel, ok := doc.(models.FollowRelationship)
			return ok && (rel.FollowerID == accountID || rel.TargetID == accountID)
		},
	})
	if err != nil {
		return nil, err
	}

	state := make(map[string]models.FollowRelationship)
	for _, doc := range sub.Snapshot() {
		if rel, ok := doc.(models.FollowRelationship); ok {
			state[doc.DocID()] = rel
		}
	}

	w := &CountWatcher{sub: sub, updates: make(chan Counts, 16)}

	go func() {
		defer close(w.updates)

		w.send(countsOf(state, accountID))
		for ev := range sub.Events() {
			rel, ok := ev.Doc.(models.FollowRelationship)
			if !ok {
				continue
			}
			switch ev.Type {
			case models.EventAdded, models.EventModified:
				state[rel.DocID()] = rel
			case models.EventRemoved:
				delete(state, rel.DocID())
			}
			w.send(countsOf(state, accountID))
		}
	}()

	return w, nil
}

// send delivers the newest counts, evicting the oldest buffered value if
// the consumer is behind. Counts are absolute, so skipping stale ones is
// lossless.
func (w *CountWatcher) send(c Counts) {
	for {
		select {
		case w.updates <- c:
			return
		default:
			select {
			case <-w.updates:
			default:
			}
		}
	}
}

func countsOf(state map[string]models.FollowRelationship, accountID string) Counts {
	var c Counts
	for _, rel := range state {
		if rel.Status != models.StatusFollowing {
			continue
		}
		if rel.TargetID == accountID {
			c.Followers++
		}
		if rel.FollowerID == accountID {
			c.Following++
		}
	}
	return c
}
