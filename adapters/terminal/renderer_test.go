package terminal

import (
	"bytes"
	"testing"

	"github.com/satriahrh/cocoa-fruit/relay/domain"
	"github.com/satriahrh/cocoa-fruit/relay/usecase"
	"github.com/stretchr/testify/assert"
)

func snapshot(state domain.State, msg domain.Message) domain.SessionSnapshot {
	return domain.SessionSnapshot{ID: "s", State: state, Messages: []domain.Message{msg}}
}

func TestRenderer_StreamsIncrementally(t *testing.T) {
	var out bytes.Buffer
	r := NewRenderer(&out)

	msg := domain.Message{ID: "a1", Role: domain.AssistantRole, Streaming: true}
	for _, part := range []string{"Hel", "lo", ", world"} {
		msg.Content += part
		r.Observe(usecase.Update{Kind: usecase.UpdateMessage, Snapshot: snapshot(domain.StateStreamingResponse, msg)})
	}
	msg.Streaming = false
	r.Observe(usecase.Update{Kind: usecase.UpdateMessage, Snapshot: snapshot(domain.StateStreamingResponse, msg)})
	r.Observe(usecase.Update{Kind: usecase.UpdateState, Snapshot: snapshot(domain.StateAwaitingUserInput, msg)})

	// Late updates for a finished message print nothing.
	r.Observe(usecase.Update{Kind: usecase.UpdateState, Snapshot: snapshot(domain.StateAwaitingUserInput, msg)})

	assert.Equal(t, "assistant> Hello, world\n", out.String())
}

func TestRenderer_Recommendations(t *testing.T) {
	var out bytes.Buffer
	r := NewRenderer(&out)

	msg := domain.Message{
		ID:      "a1",
		Role:    domain.AssistantRole,
		Content: "Here are your matches.",
		Recommendations: []domain.Recommendation{{
			CategoryName:    "Innovation",
			ProgramName:     "Tech Awards",
			SimilarityScore: 0.92,
			MatchReasons:    []string{"r1", "r2", "r3", "r4"},
			IsFree:          true,
		}},
		MatchCount: 7,
	}
	r.Observe(usecase.Update{Kind: usecase.UpdateState, Snapshot: snapshot(domain.StateComplete, msg)})

	got := out.String()
	assert.Contains(t, got, "Here are your matches.")
	assert.Contains(t, got, "Top 1 of 7 matching categories")
	assert.Contains(t, got, "1. Innovation (free)")
	assert.Contains(t, got, "92% match")
	assert.Contains(t, got, "- r3")
	assert.NotContains(t, got, "r4")
	assert.Contains(t, got, "Conversation complete")
}

func TestRenderer_ErrorReplacesText(t *testing.T) {
	var out bytes.Buffer
	r := NewRenderer(&out)

	msg := domain.Message{ID: "a1", Role: domain.AssistantRole, Content: "partial", Streaming: true}
	r.Observe(usecase.Update{Kind: usecase.UpdateMessage, Snapshot: snapshot(domain.StateStreamingResponse, msg)})

	msg.Content = "partial\n\nFailed to reach chat service"
	msg.Streaming = false
	r.Observe(usecase.Update{Kind: usecase.UpdateError, Snapshot: snapshot(domain.StateStreamingResponse, msg)})
	r.Observe(usecase.Update{Kind: usecase.UpdateState, Snapshot: snapshot(domain.StateErrored, msg)})

	assert.Equal(t, "assistant> partial\n\nFailed to reach chat service\n", out.String())
}

func TestRenderer_IgnoresUserMessagesAndRestarts(t *testing.T) {
	var out bytes.Buffer
	r := NewRenderer(&out)

	user := domain.Message{ID: "u1", Role: domain.UserRole, Content: "hi"}
	r.Observe(usecase.Update{Kind: usecase.UpdateMessage, Snapshot: snapshot(domain.StateAwaitingUserInput, user)})
	assert.Empty(t, out.String())

	r.Observe(usecase.Update{Kind: usecase.UpdateRestarted})
	assert.Contains(t, out.String(), "Started a new conversation.")
}
