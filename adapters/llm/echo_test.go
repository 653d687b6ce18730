package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/satriahrh/cocoa-fruit/relay/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEchoLLM_StreamsWholeReply(t *testing.T) {
	var deltas []string
	err := NewEchoLLM().GenerateStream(context.Background(), nil, "hello there", func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	require.NoError(t, err)

	assert.Greater(t, len(deltas), 1)
	assert.Equal(t, `I hear you. You said "hello there". Tell me a little more about that.`, strings.Join(deltas, ""))
}

func TestEchoLLM_CountsHistory(t *testing.T) {
	history := []domain.ChatMessage{
		{Role: domain.UserRole, Content: "first"},
		{Role: domain.AssistantRole, Content: "reply"},
	}
	var sb strings.Builder
	require.NoError(t, NewEchoLLM().GenerateStream(context.Background(), history, "second", func(d string) error {
		sb.WriteString(d)
		return nil
	}))
	assert.True(t, strings.HasPrefix(sb.String(), "Thanks, that is message 2."))
}

func TestEchoLLM_StopsOnDeltaError(t *testing.T) {
	stop := errors.New("stop")
	calls := 0
	err := NewEchoLLM().GenerateStream(context.Background(), nil, "hi", func(string) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}
