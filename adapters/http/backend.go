package http

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/satriahrh/cocoa-fruit/relay/adapters/sse"
	"github.com/satriahrh/cocoa-fruit/relay/domain"
	"github.com/satriahrh/cocoa-fruit/relay/usecase"
	"github.com/satriahrh/cocoa-fruit/relay/utils/log"
	"go.uber.org/zap"
)

// BackendHandler serves the conversational backend side of the event
// stream protocol.
type BackendHandler struct {
	replies *usecase.ReplyService
}

func NewBackendHandler(replies *usecase.ReplyService) *BackendHandler {
	return &BackendHandler{replies: replies}
}

func (h *BackendHandler) Chat(c echo.Context) error {
	body := readJSONObject(c.Request().Body)
	sessionID := stringField(body, "session_id")
	message := stringField(body, "message")
	if strings.TrimSpace(sessionID) == "" {
		return c.String(http.StatusBadRequest, "Invalid session_id")
	}
	if strings.TrimSpace(message) == "" {
		return c.String(http.StatusBadRequest, "Invalid message")
	}
	return h.stream(c, usecase.ReplyTurn{Route: domain.RouteChat, SessionID: sessionID, Message: message})
}

func (h *BackendHandler) Ask(c echo.Context) error {
	question := stringField(readJSONObject(c.Request().Body), "question")
	if strings.TrimSpace(question) == "" {
		return c.String(http.StatusBadRequest, "Invalid question")
	}
	return h.stream(c, usecase.ReplyTurn{Route: domain.RouteAsk, Message: question})
}

func (h *BackendHandler) stream(c echo.Context, turn usecase.ReplyTurn) error {
	ctx := log.WithRoute(c.Request().Context(), string(turn.Route))
	if turn.SessionID != "" {
		ctx = log.WithSessionID(ctx, turn.SessionID)
	}
	if userID, ok := c.Get(ContextUserID).(string); ok {
		ctx = log.WithUserID(ctx, userID)
	}

	w := c.Response()
	sse.SetHeaders(w.Header())
	w.WriteHeader(http.StatusOK)

	if err := h.replies.Reply(ctx, turn, sse.NewWriter(w).WriteEvent); err != nil {
		log.WithCtx(ctx).Debug("client went away", zap.Error(err))
	}
	return nil
}
