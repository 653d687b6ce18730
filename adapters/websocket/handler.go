package websocket

import (
	"context"

	"github.com/labstack/echo/v4"
	httpadapter "github.com/satriahrh/cocoa-fruit/relay/adapters/http"
	"github.com/satriahrh/cocoa-fruit/relay/usecase"
	"github.com/satriahrh/cocoa-fruit/relay/utils/log"
)

// Handler upgrades "/ws" requests. The bearer token found by the auth
// middleware is forwarded with every turn of the connection's session.
func (s *Server) Handler(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	token, _ := c.Get(httpadapter.ContextToken).(string)
	userID, _ := c.Get(httpadapter.ContextUserID).(string)

	ctx := log.WithUserID(context.Background(), userID)
	if id := c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
		ctx = log.WithRequestID(ctx, id)
	}

	client := NewClient(ctx, conn)
	opts := append([]usecase.SessionOption{}, s.sessionOpts...)
	opts = append(opts, usecase.WithCredential(token), usecase.WithObserver(client.observe))
	session := usecase.NewSession(s.streamer, opts...)
	client.Attach(session)

	s.hub.Register(client)
	defer s.hub.Unregister(client)
	defer session.Close()

	client.Run()

	// Wait for the client context to be done (connection closed)
	<-client.Context().Done()

	return nil
}
