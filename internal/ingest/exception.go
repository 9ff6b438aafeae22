package ingest

import (
	"time"

	"github.com/matt-riley/posthog-go/internal/exception"
)

// ExceptionInput carries the caller-supplied fields for an exception capture.
type ExceptionInput struct {
	SubjectID string
	Exception exception.Input
	UUID      string
	Timestamp time.Time
}

// Exception validates and constructs an exception Message, delegating
// property-bag construction to the exception package.
func Exception(in ExceptionInput) (Message, error) {
	if in.SubjectID == "" {
		return Message{}, validationErr("distinct_id")
	}

	props := baseProperties()
	for k, v := range exception.Serialize(in.Exception).ToMap() {
		props[k] = v
	}

	return Message{
		Kind:             KindException,
		EventName:        "$exception",
		SubjectID:        in.SubjectID,
		TimestampISO8601: nowTimestamp(resolveTimestamp(in.Timestamp)),
		MessageID:        newMessageID(),
		Properties:       props,
		UUID:             parseOptionalUUIDv4(in.UUID),
	}, nil
}
