package models

import (
	"encoding/json"
	"fmt"
)

// EventType describes what happened to a document.
type EventType string

const (
	EventAdded    EventType = "added"
	EventModified EventType = "modified"
	EventRemoved  EventType = "removed"
)

// ChangeEvent is a single document change. For EventRemoved the Doc carries
// the last observed state of the document so subscribers can still match
// filters against it.
type ChangeEvent struct {
	Collection string
	Type       EventType
	Doc        Document
}

// eventEnvelope is the wire form carried through the broker.
type eventEnvelope struct {
	Collection string          `json:"collection"`
	Type       EventType       `json:"type"`
	Doc        json.RawMessage `json:"doc"`
}

// EncodeEvent serializes a change event into its broker envelope.
func EncodeEvent(ev ChangeEvent) ([]byte, error) {
	doc, err := json.Marshal(ev.Doc)
	if err != nil {
		return nil, err
	}
	return json.Marshal(eventEnvelope{
		Collection: ev.Collection,
		Type:       ev.Type,
		Doc:        doc,
	})
}

// DecodeEvent parses a broker envelope back into a typed change event.
func DecodeEvent(data []byte) (ChangeEvent, error) {
	var env eventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return ChangeEvent{}, err
	}

	ev := ChangeEvent{Collection: env.Collection, Type: env.Type}
	switch env.Type {
	case EventAdded, EventModified, EventRemoved:
	default:
		return ChangeEvent{}, fmt.Errorf("unknown event type %q", env.Type)
	}

	switch env.Collection {
	case CollectionFollows:
		var doc FollowRelationship
		if err := json.Unmarshal(env.Doc, &doc); err != nil {
			return ChangeEvent{}, err
		}
		ev.Doc = doc
	case CollectionPosts:
		var doc Post
		if err := json.Unmarshal(env.Doc, &doc); err != nil {
			return ChangeEvent{}, err
		}
		ev.Doc = doc
	case CollectionComments:
		var doc Comment
		if err := json.Unmarshal(env.Doc, &doc); err != nil {
			return ChangeEvent{}, err
		}
		ev.Doc = doc
	case CollectionStories:
		var doc Story
		if err := json.Unmarshal(env.Doc, &doc); err != nil {
			return ChangeEvent{}, err
		}
		ev.Doc = doc
	case CollectionChat:
		var doc ChatMessage
		if err := json.Unmarshal(env.Doc, &doc); err != nil {
			return ChangeEvent{}, err
		}
		ev.Doc = doc
	default:
		return ChangeEvent{}, fmt.Errorf("unknown collection %q", env.Collection)
	}

	return ev, nil
}
