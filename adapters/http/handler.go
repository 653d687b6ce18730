package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/satriahrh/cocoa-fruit/relay/adapters/forwarder"
	"github.com/satriahrh/cocoa-fruit/relay/adapters/sse"
	"github.com/satriahrh/cocoa-fruit/relay/domain"
	"github.com/satriahrh/cocoa-fruit/relay/utils/log"
	"go.uber.org/zap"
)

const (
	// MaxRequestBody bounds the JSON body read from a turn submission.
	MaxRequestBody = 64 * 1024

	copyBufferSize = 32 * 1024
)

// ClientCounter reports live UI connections for the health endpoint.
type ClientCounter interface {
	ClientCount() int
}

// RelayHandler exposes the Forwarder over HTTP. Every response is an
// event stream, including for malformed requests.
type RelayHandler struct {
	forwarder *forwarder.Forwarder
	clients   ClientCounter
}

func NewRelayHandler(f *forwarder.Forwarder, clients ClientCounter) *RelayHandler {
	return &RelayHandler{forwarder: f, clients: clients}
}

// Chat relays {session_id, message} to the authenticated chat endpoint.
func (h *RelayHandler) Chat(c echo.Context) error {
	body := readJSONObject(c.Request().Body)
	return h.relay(c, domain.TurnRequest{
		Route:      domain.RouteChat,
		SessionID:  stringField(body, "session_id"),
		Message:    stringField(body, "message"),
		Credential: BearerToken(c.Request().Header.Get(echo.HeaderAuthorization)),
	})
}

// Ask relays {question} to the unauthenticated question endpoint.
func (h *RelayHandler) Ask(c echo.Context) error {
	body := readJSONObject(c.Request().Body)
	return h.relay(c, domain.TurnRequest{
		Route:   domain.RouteAsk,
		Message: stringField(body, "question"),
	})
}

func (h *RelayHandler) relay(c echo.Context, req domain.TurnRequest) error {
	ctx := log.WithRoute(c.Request().Context(), string(req.Route))
	if id := c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
		ctx = log.WithRequestID(ctx, id)
	}
	if req.SessionID != "" {
		ctx = log.WithSessionID(ctx, req.SessionID)
	}
	logger := log.WithCtx(ctx)

	resp := h.forwarder.Forward(ctx, req)
	defer resp.Body.Close()

	w := c.Response()
	sse.SetHeaders(w.Header())
	w.WriteHeader(resp.StatusCode)
	w.Flush()

	buf := make([]byte, copyBufferSize)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				logger.Debug("client went away", zap.Error(werr))
				return nil
			}
			w.Flush()
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) || ctx.Err() != nil {
			return nil
		}

		// Close any half-written record so the error is still parsed.
		logger.Warn("upstream stream broke", zap.Error(err))
		tail := sse.ErrorStream("Failed to read response stream")
		_, _ = w.Write([]byte("\n\n"))
		_, _ = io.Copy(w, tail)
		w.Flush()
		return nil
	}
}

func (h *RelayHandler) HealthCheck(c echo.Context) error {
	return Health("relay", h.clients)(c)
}

// Health reports liveness for service. clients may be nil.
func Health(service string, clients ClientCounter) echo.HandlerFunc {
	return func(c echo.Context) error {
		count := 0
		if clients != nil {
			count = clients.ClientCount()
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":    "healthy",
			"timestamp": time.Now().UTC(),
			"service":   service,
			"clients":   count,
		})
	}
}

// BearerToken extracts the token of a "Bearer <token>" header value.
func BearerToken(header string) string {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// readJSONObject decodes a request body leniently: anything that is not a
// JSON object yields an empty map.
func readJSONObject(r io.Reader) map[string]any {
	out := map[string]any{}
	if r == nil {
		return out
	}
	b, err := io.ReadAll(io.LimitReader(r, MaxRequestBody))
	if err != nil {
		return out
	}
	_ = json.Unmarshal(b, &out)
	if out == nil {
		out = map[string]any{}
	}
	return out
}

// stringField returns body[key] when it is a string. Other types read as
// empty so they fail validation downstream.
func stringField(body map[string]any, key string) string {
	s, _ := body[key].(string)
	return s
}
