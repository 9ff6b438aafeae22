package ingest

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ValidationError is returned when a caller-supplied field fails a
// required-non-empty check. The Field name matches the identifier named in
// spec.md's concrete scenarios (e.g. "distinct_id must be given").
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func validationErr(field string) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf("%s must be given", field)}
}

// CaptureInput carries the caller-supplied fields for a capture event.
type CaptureInput struct {
	SubjectID       string
	EventName       string
	Properties      map[string]any
	Groups          map[string]string
	FeatureVariants map[string]any
	UUID            string
	Timestamp       time.Time
}

// IdentifyInput carries the caller-supplied fields for an identify event.
type IdentifyInput struct {
	SubjectID  string
	Properties map[string]any
	UUID       string
	Timestamp  time.Time
}

// AliasInput carries the caller-supplied fields for an alias event.
type AliasInput struct {
	SubjectID string
	AliasID   string
	UUID      string
	Timestamp time.Time
}

// GroupIdentifyInput carries the caller-supplied fields for a groupIdentify event.
type GroupIdentifyInput struct {
	SubjectID  string
	GroupType  string
	GroupKey   string
	Properties map[string]any
	UUID       string
	Timestamp  time.Time
}

func baseProperties() map[string]any {
	return map[string]any{
		"$lib":         LibraryName,
		"$lib_version": LibraryVersion,
	}
}

func resolveTimestamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

// Capture validates and constructs a capture Message.
func Capture(in CaptureInput) (Message, error) {
	if strings.TrimSpace(in.SubjectID) == "" {
		return Message{}, validationErr("distinct_id")
	}
	if strings.TrimSpace(in.EventName) == "" {
		return Message{}, validationErr("event")
	}

	props := baseProperties()
	for k, v := range in.Properties {
		props[k] = v
	}
	if len(in.Groups) > 0 {
		groups := make(map[string]string, len(in.Groups))
		for k, v := range in.Groups {
			groups[k] = v
		}
		props["$groups"] = groups
	}
	if len(in.FeatureVariants) > 0 {
		active := make([]string, 0, len(in.FeatureVariants))
		keys := make([]string, 0, len(in.FeatureVariants))
		for k := range in.FeatureVariants {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v := in.FeatureVariants[k]
			props["$feature/"+k] = v
			if b, ok := v.(bool); !ok || b {
				active = append(active, k)
			}
		}
		props["$active_feature_flags"] = active
	}

	return Message{
		Kind:             KindCapture,
		EventName:        in.EventName,
		SubjectID:        in.SubjectID,
		TimestampISO8601: nowTimestamp(resolveTimestamp(in.Timestamp)),
		MessageID:        newMessageID(),
		Properties:       props,
		UUID:             parseOptionalUUIDv4(in.UUID),
	}, nil
}

// Identify validates and constructs an identify Message. The caller's
// Properties move to the Message's SetProperties ($set); the injected base
// properties remain on Properties.
func Identify(in IdentifyInput) (Message, error) {
	if strings.TrimSpace(in.SubjectID) == "" {
		return Message{}, validationErr("distinct_id")
	}

	set := make(map[string]any, len(in.Properties))
	for k, v := range in.Properties {
		set[k] = v
	}

	return Message{
		Kind:             KindIdentify,
		EventName:        "$identify",
		SubjectID:        in.SubjectID,
		TimestampISO8601: nowTimestamp(resolveTimestamp(in.Timestamp)),
		MessageID:        newMessageID(),
		Properties:       baseProperties(),
		SetProperties:    set,
		UUID:             parseOptionalUUIDv4(in.UUID),
	}, nil
}

// Alias validates and constructs an alias Message.
func Alias(in AliasInput) (Message, error) {
	if strings.TrimSpace(in.SubjectID) == "" {
		return Message{}, validationErr("distinct_id")
	}
	if strings.TrimSpace(in.AliasID) == "" {
		return Message{}, validationErr("alias")
	}

	props := baseProperties()
	props["distinct_id"] = in.SubjectID
	props["alias"] = in.AliasID

	return Message{
		Kind:             KindAlias,
		EventName:        "$create_alias",
		SubjectID:        in.SubjectID,
		TimestampISO8601: nowTimestamp(resolveTimestamp(in.Timestamp)),
		MessageID:        newMessageID(),
		Properties:       props,
		UUID:             parseOptionalUUIDv4(in.UUID),
	}, nil
}

// GroupIdentify validates and constructs a groupIdentify Message. When the
// caller omits SubjectID, one is synthesized as "$<groupType>_<groupKey>".
func GroupIdentify(in GroupIdentifyInput) (Message, error) {
	if strings.TrimSpace(in.GroupType) == "" {
		return Message{}, validationErr("group_type")
	}
	if strings.TrimSpace(in.GroupKey) == "" {
		return Message{}, validationErr("group_key")
	}

	subjectID := in.SubjectID
	if strings.TrimSpace(subjectID) == "" {
		subjectID = fmt.Sprintf("$%s_%s", in.GroupType, in.GroupKey)
	}

	props := baseProperties()
	props["$group_type"] = in.GroupType
	props["$group_key"] = in.GroupKey
	groupSet := make(map[string]any, len(in.Properties))
	for k, v := range in.Properties {
		groupSet[k] = v
	}
	props["$group_set"] = groupSet

	return Message{
		Kind:             KindGroupIdentify,
		EventName:        "$groupidentify",
		SubjectID:        subjectID,
		TimestampISO8601: nowTimestamp(resolveTimestamp(in.Timestamp)),
		MessageID:        newMessageID(),
		Properties:       props,
		UUID:             parseOptionalUUIDv4(in.UUID),
	}, nil
}
