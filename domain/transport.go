package domain

import (
	"context"
	"io"
)

// Route selects the upstream endpoint a turn is forwarded to.
type Route string

const (
	// RouteChat is the authenticated conversation endpoint.
	RouteChat Route = "chat"
	// RouteAsk is the unauthenticated question endpoint.
	RouteAsk Route = "ask"
)

// TurnRequest is one user submission headed for the conversational backend.
type TurnRequest struct {
	Route      Route
	SessionID  string
	Message    string
	Credential string
}

// TurnStreamer opens the event stream for a turn. Implementations never
// fail out of band: every failure is reported inside the returned stream
// as an error record followed by a done record.
type TurnStreamer interface {
	OpenTurn(ctx context.Context, req TurnRequest) io.ReadCloser
}
