package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/satriahrh/cocoa-fruit/relay/adapters/forwarder"
	"github.com/satriahrh/cocoa-fruit/relay/adapters/llm"
	"github.com/satriahrh/cocoa-fruit/relay/domain"
	"github.com/satriahrh/cocoa-fruit/relay/usecase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedCounter int

func (f fixedCounter) ClientCount() int { return int(f) }

func newRelay(upstreamURL string) *echo.Echo {
	h := NewRelayHandler(forwarder.New(upstreamURL), fixedCounter(3))
	e := echo.New()
	e.POST(forwarder.ChatPath, h.Chat)
	e.POST(forwarder.AskPath, h.Ask)
	e.GET("/api/v1/health", h.HealthCheck)
	return e
}

func post(e *echo.Echo, path, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

// events decodes every record in body, including records after a
// terminal one, so a trailing done is visible to assertions.
func events(t *testing.T, body string) []domain.Event {
	t.Helper()
	var out []domain.Event
	for _, record := range strings.Split(body, "\n\n") {
		var data []string
		for _, line := range strings.Split(record, "\n") {
			if payload, ok := strings.CutPrefix(strings.TrimSpace(line), "data:"); ok {
				data = append(data, strings.TrimSpace(payload))
			}
		}
		if len(data) == 0 {
			continue
		}
		ev, err := domain.DecodeEvent([]byte(strings.Join(data, "")))
		require.NoError(t, err)
		out = append(out, ev)
	}
	return out
}

func assertStreamHeaders(t *testing.T, h http.Header) {
	t.Helper()
	assert.Equal(t, "text/event-stream; charset=utf-8", h.Get("Content-Type"))
	assert.Equal(t, "no-cache, no-transform", h.Get("Cache-Control"))
	assert.Equal(t, "keep-alive", h.Get("Connection"))
	assert.Equal(t, "no", h.Get("X-Accel-Buffering"))
}

func TestRelayHandler_ChatPassesStreamThrough(t *testing.T) {
	stream := "data: {\"type\":\"chunk\",\"content\":\"Hi\"}\n\ndata: {\"type\":\"done\"}\n\n"
	var gotAuth string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(stream))
	}))
	defer upstream.Close()

	rec := post(newRelay(upstream.URL), forwarder.ChatPath, `{"session_id":"s-1","message":"hello"}`,
		http.Header{"Authorization": {"Bearer tok-123"}})

	assert.Equal(t, http.StatusOK, rec.Code)
	assertStreamHeaders(t, rec.Header())
	assert.Equal(t, stream, rec.Body.String())
	assert.Equal(t, "Bearer tok-123", gotAuth)
}

func TestRelayHandler_MalformedBodyBecomesErrorStream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream must not be called")
	}))
	defer upstream.Close()
	e := newRelay(upstream.URL)

	for body, want := range map[string]string{
		`not json`:                           "Invalid session_id",
		`{"session_id":42,"message":"hi"}`:   "Invalid session_id",
		`{"session_id":"s","message":"   "}`: "Invalid message",
	} {
		rec := post(e, forwarder.ChatPath, body, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assertStreamHeaders(t, rec.Header())
		assert.Equal(t, []domain.Event{domain.ErrorEvent{Message: want}, domain.DoneEvent{}}, events(t, rec.Body.String()), body)
	}
}

func TestRelayHandler_AskWithoutUpstream(t *testing.T) {
	rec := post(newRelay(""), forwarder.AskPath, `{"question":"Is it free?"}`, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []domain.Event{
		domain.ErrorEvent{Message: "upstream API URL is not set"},
		domain.DoneEvent{},
	}, events(t, rec.Body.String()))
}

func TestRelayHandler_UpstreamStatusIsKept(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("maintenance"))
	}))
	defer upstream.Close()

	rec := post(newRelay(upstream.URL), forwarder.ChatPath, `{"session_id":"s","message":"hi"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.ErrorEvent{Message: "maintenance"}, events(t, rec.Body.String())[0])
}

func TestRelayHandler_HealthCheck(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	newRelay("").ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(3), body["clients"])
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer  abc"))
	assert.Empty(t, BearerToken("Basic abc"))
	assert.Empty(t, BearerToken("Bearer "))
	assert.Empty(t, BearerToken(""))
}

func protected(auth *Authenticator) *echo.Echo {
	e := echo.New()
	e.GET("/me", func(c echo.Context) error {
		user, _ := c.Get(ContextUserID).(string)
		token, _ := c.Get(ContextToken).(string)
		return c.JSON(http.StatusOK, map[string]string{"user": user, "token": token})
	}, auth.Middleware)
	return e
}

func get(e *echo.Echo, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestAuthenticator(t *testing.T) {
	issuer := NewTokenIssuer("s3cret", "key", "secret")
	token, err := issuer.Sign("user-7")
	require.NoError(t, err)
	e := protected(NewAuthenticator("s3cret"))

	rec := get(e, "/me", http.Header{"Authorization": {"Bearer " + token}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user":"user-7","token":"`+token+`"}`, rec.Body.String())

	rec = get(e, "/me?token="+token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, http.StatusUnauthorized, get(e, "/me", nil).Code)

	forged, err := NewTokenIssuer("other", "key", "secret").Sign("user-7")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, get(e, "/me", http.Header{"Authorization": {"Bearer " + forged}}).Code)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"user_id": "x"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, get(e, "/me", http.Header{"Authorization": {"Bearer " + unsigned}}).Code)
}

func TestAuthenticator_DisabledOnlyExtracts(t *testing.T) {
	rec := get(protected(NewAuthenticator("")), "/me", http.Header{"Authorization": {"Bearer opaque"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user":"","token":"opaque"}`, rec.Body.String())
}

func TestTokenIssuer_GenerateJWT(t *testing.T) {
	issuer := NewTokenIssuer("s3cret", "key", "secret")
	e := echo.New()
	e.POST("/token", issuer.GenerateJWT)

	rec := post(e, "/token", "", http.Header{"X-Api-Key": {"key"}, "X-Api-Secret": {"secret"}, "X-User-Id": {"u-1"}})
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Bearer", body["type"])

	claims, err := NewAuthenticator("s3cret").Parse(body["token"])
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.User())
	assert.WithinDuration(t, time.Now().Add(DefaultTokenExpiry), claims.ExpiresAt.Time, time.Minute)

	rec = post(e, "/token", "", http.Header{"X-Api-Key": {"key"}, "X-Api-Secret": {"wrong"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestConcurrencyLimit(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	e := echo.New()
	e.GET("/slow", func(c echo.Context) error {
		close(entered)
		<-release
		return c.NoContent(http.StatusNoContent)
	}, ConcurrencyLimit(1))

	first := make(chan int)
	go func() { first <- get(e, "/slow", nil).Code }()
	<-entered

	assert.Equal(t, http.StatusTooManyRequests, get(e, "/slow", nil).Code)
	close(release)
	assert.Equal(t, http.StatusNoContent, <-first)
}

func TestConcurrencyLimit_NonPositiveDisablesCap(t *testing.T) {
	e := echo.New()
	e.GET("/ok", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, ConcurrencyLimit(0))

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusNoContent, get(e, "/ok", nil).Code)
	}
}

func newBackend() *echo.Echo {
	replies := usecase.NewReplyService(llm.NewEchoLLM(), usecase.DefaultCatalog(), usecase.DefaultReplyConfig())
	h := NewBackendHandler(replies)
	e := echo.New()
	e.POST(forwarder.ChatPath, h.Chat)
	e.POST(forwarder.AskPath, h.Ask)
	return e
}

func TestBackendHandler_Chat(t *testing.T) {
	rec := post(newBackend(), forwarder.ChatPath, `{"session_id":"s-1","message":"Please recommend award categories for our AI product"}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assertStreamHeaders(t, rec.Header())
	evs := events(t, rec.Body.String())
	require.NotEmpty(t, evs)
	assert.Equal(t, domain.IntentEvent{Intent: usecase.IntentRecommendation}, evs[1])
	assert.Equal(t, domain.DoneEvent{}, evs[len(evs)-1])

	recs, ok := evs[len(evs)-2].(domain.RecommendationsEvent)
	require.True(t, ok)
	assert.Equal(t, "tech-innovation", recs.Recommendations[0].CategoryID)
}

func TestBackendHandler_RejectsInvalidTurns(t *testing.T) {
	e := newBackend()

	rec := post(e, forwarder.ChatPath, `{"session_id":"s-1"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid message", rec.Body.String())

	rec = post(e, forwarder.AskPath, `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid question", rec.Body.String())
}

func TestRelayInFrontOfBackend(t *testing.T) {
	backend := httptest.NewServer(newBackend())
	defer backend.Close()
	relay := newRelay(backend.URL)

	rec := post(relay, forwarder.AskPath, `{"question":"Is entry free?"}`, nil)
	evs := events(t, rec.Body.String())
	require.NotEmpty(t, evs)
	assert.Equal(t, domain.DoneEvent{}, evs[len(evs)-1])

	var text strings.Builder
	for _, ev := range evs {
		if c, ok := ev.(domain.ChunkEvent); ok {
			text.WriteString(c.Content)
		}
	}
	assert.Contains(t, text.String(), "Is entry free?")
}
