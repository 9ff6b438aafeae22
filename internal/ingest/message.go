// Package ingest turns public-API calls into validated, immutable Messages
// and accumulates them into size-bounded batches for delivery.
package ingest

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind identifies the shape of a Message.
type Kind string

const (
	KindCapture       Kind = "capture"
	KindIdentify      Kind = "identify"
	KindAlias         Kind = "alias"
	KindGroupIdentify Kind = "groupIdentify"
	KindException     Kind = "exception"
)

const (
	// LibraryName is injected into every Message's properties as "$lib".
	LibraryName = "posthog-go"
	// LibraryVersion is injected into every Message's properties as "$lib_version".
	LibraryVersion = "1.0.0"

	timestampLayout = "2006-01-02T15:04:05.000Z"
)

// Message is the unit of delivery. Once returned by a Normalizer
// constructor it must not be mutated — callers that need a variant should
// build a new Message.
type Message struct {
	Kind             Kind
	EventName        string
	SubjectID        string
	TimestampISO8601 string
	MessageID        uuid.UUID
	Properties       map[string]any
	SetProperties    map[string]any
	UUID             *uuid.UUID
}

// wireMessage is the JSON shape sent to the ingest endpoint.
type wireMessage struct {
	Type          string         `json:"type"`
	Event         string         `json:"event,omitempty"`
	DistinctID    string         `json:"distinct_id"`
	Timestamp     string         `json:"timestamp"`
	MessageID     string         `json:"messageId"`
	Properties    map[string]any `json:"properties"`
	Set           map[string]any `json:"$set,omitempty"`
	Library       string         `json:"library"`
	LibraryVer    string         `json:"library_version"`
	UUID          string         `json:"uuid,omitempty"`
}

// MarshalJSON renders the Message into the wire shape described by the
// ingest endpoint contract.
func (m Message) MarshalJSON() ([]byte, error) {
	wm := wireMessage{
		Type:       string(m.Kind),
		Event:      m.EventName,
		DistinctID: m.SubjectID,
		Timestamp:  m.TimestampISO8601,
		MessageID:  m.MessageID.String(),
		Properties: m.Properties,
		Set:        m.SetProperties,
		Library:    LibraryName,
		LibraryVer: LibraryVersion,
	}
	if m.UUID != nil {
		wm.UUID = m.UUID.String()
	}
	return json.Marshal(wm)
}

// UnmarshalJSON parses a Message from the wire shape. It is used by tests
// exercising the round-trip invariant (spec.md §8 property 7).
func (m *Message) UnmarshalJSON(data []byte) error {
	var wm wireMessage
	if err := json.Unmarshal(data, &wm); err != nil {
		return err
	}
	id, err := uuid.Parse(wm.MessageID)
	if err != nil {
		return err
	}
	m.Kind = Kind(wm.Type)
	m.EventName = wm.Event
	m.SubjectID = wm.DistinctID
	m.TimestampISO8601 = wm.Timestamp
	m.MessageID = id
	m.Properties = wm.Properties
	m.SetProperties = wm.Set
	if wm.UUID != "" {
		if u, err := uuid.Parse(wm.UUID); err == nil {
			m.UUID = &u
		}
	}
	return nil
}

func nowTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func newMessageID() uuid.UUID {
	return uuid.New()
}

// parseOptionalUUIDv4 returns a pointer to a UUID iff raw parses as a
// syntactically valid RFC-4122 v4 UUID; otherwise it returns nil without
// error, per spec.md §4.1 ("invalid values silently dropped").
func parseOptionalUUIDv4(raw string) *uuid.UUID {
	if raw == "" {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	if id.Version() != 4 {
		return nil
	}
	return &id
}
