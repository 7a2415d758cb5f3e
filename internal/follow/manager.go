// Package follow implements the relationship state machine between ordered
// account pairs: None -> Pending -> Following, with deletions returning a
// pair to None. Counts are derived from live queries, never stored.
package follow

import (
	"errors"
	"fmt"
	"time"

	appkafka "example.com/socialstream/internal/broker"
	"example.com/socialstream/internal/logger"
	"example.com/socialstream/internal/models"
	"example.com/socialstream/internal/store"
)

var logg = logger.New()

type Manager struct {
	store  store.StoreInterface
	writer appkafka.KafkaWriter
}

func NewManager(st store.StoreInterface, writer appkafka.KafkaWriter) *Manager {
	return &Manager{store: st, writer: writer}
}

// publish emits a change event after a durable mutation. A publish failure
// only leaves live views stale until re-subscribe, so it is logged, not
// surfaced: the mutation itself already committed.
func (m *Manager) publish(evType models.EventType, rel models.FollowRelationship) {
	ev := models.ChangeEvent{Collection: models.CollectionFollows, Type: evType, Doc: rel}
	if err := appkafka.Publish(m.writer, ev); err != nil {
		logg.Error("follow", "Failed to publish follow change event", err)
	}
}

// RequestFollow creates a Pending relationship from follower to target.
func (m *Manager) RequestFollow(followerID, targetID string) (models.FollowRelationship, error) {
	if followerID == "" || targetID == "" {
		return models.FollowRelationship{}, fmt.Errorf("%w: missing account id", models.ErrValidation)
	}
	if followerID == targetID {
		return models.FollowRelationship{}, models.ErrSelfFollow
	}

	rel, err := m.store.InsertFollow(followerID, targetID)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return models.FollowRelationship{}, fmt.Errorf("%w: relationship already exists", models.ErrConflict)
		}
		return models.FollowRelationship{}, err
	}

	m.publish(models.EventAdded, rel)
	return rel, nil
}

// AcceptRequest transitions a Pending request addressed to target into
// Following and stamps acceptedAt.
func (m *Manager) AcceptRequest(targetID, followerID string) (models.FollowRelationship, error) {
	rel, err := m.store.GetFollow(followerID, targetID)
	if err != nil {
		return models.FollowRelationship{}, err
	}
	if rel.Status != models.StatusPending {
		return models.FollowRelationship{}, fmt.Errorf("%w: no pending request", models.ErrNotFound)
	}

	rel, err = m.store.UpdateFollowStatus(followerID, targetID, models.StatusFollowing, time.Now().UTC())
	if err != nil {
		return models.FollowRelationship{}, err
	}

	m.publish(models.EventModified, rel)
	return rel, nil
}

// RejectRequest deletes a Pending request addressed to target.
func (m *Manager) RejectRequest(targetID, followerID string) error {
	return m.deletePending(followerID, targetID)
}

// CancelRequest deletes a Pending request the follower sent. Reject and
// cancel differ only in who calls them; the storage effect is identical.
func (m *Manager) CancelRequest(followerID, targetID string) error {
	return m.deletePending(followerID, targetID)
}

func (m *Manager) deletePending(followerID, targetID string) error {
	rel, err := m.store.GetFollow(followerID, targetID)
	if err != nil {
		return err
	}
	if rel.Status != models.StatusPending {
		return fmt.Errorf("%w: no pending request", models.ErrNotFound)
	}

	if err := m.store.DeleteFollow(followerID, targetID); err != nil {
		return err
	}
	m.publish(models.EventRemoved, rel)
	return nil
}

// Unfollow deletes an established Following relationship.
func (m *Manager) Unfollow(followerID, targetID string) error {
	rel, err := m.store.GetFollow(followerID, targetID)
	if err != nil {
		return err
	}
	if rel.Status != models.StatusFollowing {
		return fmt.Errorf("%w: not following", models.ErrNotFound)
	}

	if err := m.store.DeleteFollow(followerID, targetID); err != nil {
		return err
	}
	m.publish(models.EventRemoved, rel)
	return nil
}

// Status reports the relationship state for the ordered pair; a missing
// record is StatusNone, not an error.
func (m *Manager) Status(followerID, targetID string) (models.FollowStatus, error) {
	rel, err := m.store.GetFollow(followerID, targetID)
	if errors.Is(err, models.ErrNotFound) {
		return models.StatusNone, nil
	}
	if err != nil {
		return models.StatusNone, err
	}
	return rel.Status, nil
}

// FollowerCount counts accounts Following the given account.
func (m *Manager) FollowerCount(accountID string) (int, error) {
	return m.store.CountFollowers(accountID)
}

// FollowingCount counts accounts the given account is Following.
func (m *Manager) FollowingCount(accountID string) (int, error) {
	return m.store.CountFollowing(accountID)
}

// PendingRequests lists the open requests addressed to target, oldest first.
func (m *Manager) PendingRequests(targetID string) ([]models.FollowRelationship, error) {
	return m.store.ListFollowRequests(targetID)
}
