package domain

// State is the lifecycle state of a conversation session.
type State string

const (
	StateInitializing         State = "initializing"
	StateAwaitingUserInput    State = "awaiting_user_input"
	StateStreamingResponse    State = "streaming_response"
	StateRecommendationsReady State = "recommendations_ready"
	StateComplete             State = "complete"
	StateErrored              State = "errored"
)

// AcceptsInput reports whether a new user submission may start a turn.
// A submission while streaming supersedes the live turn.
func (s State) AcceptsInput() bool {
	switch s {
	case StateAwaitingUserInput, StateErrored, StateStreamingResponse, StateRecommendationsReady:
		return true
	}
	return false
}

type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

type Metadata struct {
	Confidence string `json:"confidence,omitempty"`
	Sources    []any  `json:"sources,omitempty"`
}

// SessionSnapshot is a detached copy of a session handed to UIs.
type SessionSnapshot struct {
	ID       string    `json:"id"`
	State    State     `json:"state"`
	Messages []Message `json:"messages"`
	Progress *Progress `json:"progress,omitempty"`
	Intent   string    `json:"intent,omitempty"`
	Metadata *Metadata `json:"metadata,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// LastMessage returns the newest message, if any.
func (s SessionSnapshot) LastMessage() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}
