package forwarder

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/satriahrh/cocoa-fruit/relay/adapters/hasher"
	"github.com/satriahrh/cocoa-fruit/relay/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readRecords decodes every record of a stream, including any that follow
// a terminal record, so the full synthesized tail can be checked.
func readRecords(t *testing.T, body io.ReadCloser) []map[string]any {
	t.Helper()
	defer body.Close()
	raw, err := io.ReadAll(body)
	require.NoError(t, err)

	out := []map[string]any{}
	for _, record := range strings.Split(string(raw), "\n\n") {
		var data []string
		for _, line := range strings.Split(record, "\n") {
			if payload, ok := strings.CutPrefix(strings.TrimSpace(line), "data:"); ok {
				data = append(data, strings.TrimSpace(payload))
			}
		}
		if len(data) == 0 {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.Join(data, "")), &m))
		out = append(out, m)
	}
	return out
}

func chatTurn() domain.TurnRequest {
	return domain.TurnRequest{Route: domain.RouteChat, SessionID: "s-1", Message: "hello", Credential: "tok"}
}

func TestForward_NormalizesFailures(t *testing.T) {
	ctx := context.Background()

	unset := New("").Forward(ctx, chatTurn())

	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()
	unreachable := New(deadURL).Forward(ctx, chatTurn())

	boom := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer boom.Close()
	failed := New(boom.URL).Forward(ctx, chatTurn())

	streams := [][]map[string]any{
		readRecords(t, unset.Body),
		readRecords(t, unreachable.Body),
		readRecords(t, failed.Body),
	}
	messages := []string{}
	for _, recs := range streams {
		require.Len(t, recs, 2)
		assert.Equal(t, "error", recs[0]["type"])
		assert.Equal(t, map[string]any{"type": "done"}, recs[1])
		messages = append(messages, recs[0]["message"].(string))

		// Only the message differs between failure causes.
		delete(recs[0], "message")
		assert.Equal(t, map[string]any{"type": "error"}, recs[0])
	}
	assert.Equal(t, []string{"upstream API URL is not set", "Failed to reach chat service", "boom"}, messages)
	assert.Equal(t, http.StatusOK, unset.StatusCode)
}

func TestForward_ValidatesBeforeNetwork(t *testing.T) {
	called := false
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer upstream.Close()
	f := New(upstream.URL)

	cases := map[string]domain.TurnRequest{
		"Invalid session_id": {Route: domain.RouteChat, SessionID: "  ", Message: "hi"},
		"Invalid message":    {Route: domain.RouteChat, SessionID: "s", Message: "\n\t"},
		"Invalid question":   {Route: domain.RouteAsk, Message: ""},
	}
	for want, req := range cases {
		recs := readRecords(t, f.Forward(context.Background(), req).Body)
		require.Len(t, recs, 2)
		assert.Equal(t, want, recs[0]["message"])
	}
	assert.False(t, called)
}

func TestForward_EmptyErrorBodyUsesStatus(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer upstream.Close()

	recs := readRecords(t, New(upstream.URL).Forward(context.Background(), chatTurn()).Body)
	assert.Equal(t, "Chat service error (502)", recs[0]["message"])

	ask := domain.TurnRequest{Route: domain.RouteAsk, Message: "what?"}
	recs = readRecords(t, New(upstream.URL).Forward(context.Background(), ask).Body)
	assert.Equal(t, "Chatbot service error (502)", recs[0]["message"])
}

func TestForward_ErrorBodyIsVerbatim(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "  rate limited", http.StatusTooManyRequests)
	}))
	defer upstream.Close()

	recs := readRecords(t, New(upstream.URL).Forward(context.Background(), chatTurn()).Body)
	require.Len(t, recs, 2)
	assert.Equal(t, "  rate limited\n", recs[0]["message"])
	assert.Equal(t, map[string]any{"type": "done"}, recs[1])
}

func TestForward_PassesStreamThrough(t *testing.T) {
	stream := "data: {\"type\":\"chunk\",\"content\":\"hi\"}\n\ndata: {\"type\":\"done\"}\n\n"
	var gotAuth, gotAccept string
	var gotBody map[string]string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, ChatPath, r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(stream))
	}))
	defer upstream.Close()

	resp := New(upstream.URL+"/", WithHasher(hasher.New())).Forward(context.Background(), chatTurn())
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, stream, string(raw))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "text/event-stream", gotAccept)
	assert.Equal(t, map[string]string{"session_id": "s-1", "message": "hello"}, gotBody)
}

func TestForward_AskRouteSendsQuestionWithoutCredential(t *testing.T) {
	var gotAuth string
	var gotBody map[string]string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, AskPath, r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte("data: {\"type\":\"done\"}\n\n"))
	}))
	defer upstream.Close()

	req := domain.TurnRequest{Route: domain.RouteAsk, Message: "what is this?", Credential: "tok"}
	body := New(upstream.URL).OpenTurn(context.Background(), req)
	recs := readRecords(t, body)

	assert.Equal(t, []map[string]any{{"type": "done"}}, recs)
	assert.Empty(t, gotAuth)
	assert.Equal(t, map[string]string{"question": "what is this?"}, gotBody)
}
