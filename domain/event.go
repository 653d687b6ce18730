package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// EventType is the wire discriminator carried in the "type" field.
type EventType string

const (
	EventChunk           EventType = "chunk"
	EventStatus          EventType = "status"
	EventIntent          EventType = "intent"
	EventMetadata        EventType = "metadata"
	EventRecommendations EventType = "recommendations"
	EventError           EventType = "error"
	EventDone            EventType = "done"
)

var (
	ErrMalformedRecord  = errors.New("malformed record")
	ErrUnknownEventType = errors.New("unknown event type")
)

// Event is one decoded record of the event stream. The set of
// implementations is closed: only the types in this file satisfy it.
type Event interface {
	Type() EventType
	// Terminal reports whether the event ends its stream.
	Terminal() bool

	isEvent()
}

type ChunkEvent struct {
	Content string `json:"content"`
}

type StatusEvent struct {
	Message  string    `json:"message"`
	Progress *Progress `json:"progress,omitempty"`
}

type IntentEvent struct {
	Intent string `json:"intent"`
}

type MetadataEvent struct {
	Confidence string `json:"confidence,omitempty"`
	Sources    []any  `json:"sources,omitempty"`
}

type RecommendationsEvent struct {
	Recommendations []Recommendation `json:"data"`
	Count           int              `json:"count"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}

type DoneEvent struct{}

func (ChunkEvent) Type() EventType           { return EventChunk }
func (StatusEvent) Type() EventType          { return EventStatus }
func (IntentEvent) Type() EventType          { return EventIntent }
func (MetadataEvent) Type() EventType        { return EventMetadata }
func (RecommendationsEvent) Type() EventType { return EventRecommendations }
func (ErrorEvent) Type() EventType           { return EventError }
func (DoneEvent) Type() EventType            { return EventDone }

func (ChunkEvent) Terminal() bool           { return false }
func (StatusEvent) Terminal() bool          { return false }
func (IntentEvent) Terminal() bool          { return false }
func (MetadataEvent) Terminal() bool        { return false }
func (RecommendationsEvent) Terminal() bool { return false }
func (ErrorEvent) Terminal() bool           { return true }
func (DoneEvent) Terminal() bool            { return true }

func (ChunkEvent) isEvent()           {}
func (StatusEvent) isEvent()          {}
func (IntentEvent) isEvent()          {}
func (MetadataEvent) isEvent()        {}
func (RecommendationsEvent) isEvent() {}
func (ErrorEvent) isEvent()           {}
func (DoneEvent) isEvent()            {}

func (e ChunkEvent) MarshalJSON() ([]byte, error) {
	type wire ChunkEvent
	return json.Marshal(struct {
		Type EventType `json:"type"`
		wire
	}{EventChunk, wire(e)})
}

func (e StatusEvent) MarshalJSON() ([]byte, error) {
	type wire StatusEvent
	return json.Marshal(struct {
		Type EventType `json:"type"`
		wire
	}{EventStatus, wire(e)})
}

func (e IntentEvent) MarshalJSON() ([]byte, error) {
	type wire IntentEvent
	return json.Marshal(struct {
		Type EventType `json:"type"`
		wire
	}{EventIntent, wire(e)})
}

func (e MetadataEvent) MarshalJSON() ([]byte, error) {
	type wire MetadataEvent
	return json.Marshal(struct {
		Type EventType `json:"type"`
		wire
	}{EventMetadata, wire(e)})
}

func (e RecommendationsEvent) MarshalJSON() ([]byte, error) {
	type wire RecommendationsEvent
	w := wire(e)
	if w.Recommendations == nil {
		w.Recommendations = []Recommendation{}
	}
	return json.Marshal(struct {
		Type EventType `json:"type"`
		wire
	}{EventRecommendations, w})
}

func (e ErrorEvent) MarshalJSON() ([]byte, error) {
	type wire ErrorEvent
	return json.Marshal(struct {
		Type EventType `json:"type"`
		wire
	}{EventError, wire(e)})
}

func (DoneEvent) MarshalJSON() ([]byte, error) {
	return []byte(`{"type":"done"}`), nil
}

// DecodeEvent maps one record payload to its Event variant. It never
// panics: invalid JSON, a missing type, or a variant whose fields do not
// decode yield ErrMalformedRecord; an unrecognised type yields
// ErrUnknownEventType.
func DecodeEvent(payload []byte) (Event, error) {
	var head struct {
		Type *string `json:"type"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if head.Type == nil {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedRecord)
	}

	switch EventType(*head.Type) {
	case EventChunk:
		var ev ChunkEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("%w: chunk: %v", ErrMalformedRecord, err)
		}
		return ev, nil

	case EventStatus:
		var ev StatusEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("%w: status: %v", ErrMalformedRecord, err)
		}
		return ev, nil

	case EventIntent:
		var ev IntentEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("%w: intent: %v", ErrMalformedRecord, err)
		}
		return ev, nil

	case EventMetadata:
		var w struct {
			Confidence json.RawMessage `json:"confidence"`
			Sources    []any           `json:"sources"`
		}
		if err := json.Unmarshal(payload, &w); err != nil {
			return nil, fmt.Errorf("%w: metadata: %v", ErrMalformedRecord, err)
		}
		return MetadataEvent{Confidence: confidenceString(w.Confidence), Sources: w.Sources}, nil

	case EventRecommendations:
		var w struct {
			Data  []Recommendation `json:"data"`
			Count *int             `json:"count"`
		}
		if err := json.Unmarshal(payload, &w); err != nil {
			return nil, fmt.Errorf("%w: recommendations: %v", ErrMalformedRecord, err)
		}
		ev := RecommendationsEvent{Recommendations: w.Data, Count: len(w.Data)}
		if w.Count != nil {
			ev.Count = *w.Count
		}
		return ev, nil

	// Terminal records are decoded leniently: losing one would leave the
	// stream without an end.
	case EventError:
		var w struct {
			Message any `json:"message"`
		}
		_ = json.Unmarshal(payload, &w)
		msg, _ := w.Message.(string)
		return ErrorEvent{Message: msg}, nil

	case EventDone:
		return DoneEvent{}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, *head.Type)
}

func confidenceString(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	return s
}
