package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/satriahrh/cocoa-fruit/relay/adapters/sse"
	"github.com/satriahrh/cocoa-fruit/relay/domain"
	"github.com/satriahrh/cocoa-fruit/relay/utils/log"
	"go.uber.org/zap"
)

const (
	ChatPath = "/api/chat"
	AskPath  = "/api/chatbot/ask"

	// maxErrorBody bounds how much of a failed upstream response is read
	// into the synthesized error message.
	maxErrorBody = 64 * 1024
)

// Response is the event stream handed back to the caller. Body is either
// the upstream body, untouched, or a synthesized error+done stream.
type Response struct {
	StatusCode int
	Body       io.ReadCloser
}

// Forwarder relays one turn to the conversational backend. It keeps no
// state between calls.
type Forwarder struct {
	baseURL    string
	httpClient *http.Client
	hasher     domain.Hasher
}

type Option func(*Forwarder)

func WithHTTPClient(c *http.Client) Option {
	return func(f *Forwarder) { f.httpClient = c }
}

// WithHasher enables logging a fingerprint of the forwarded credential.
func WithHasher(h domain.Hasher) Option {
	return func(f *Forwarder) { f.hasher = h }
}

func New(baseURL string, opts ...Option) *Forwarder {
	f := &Forwarder{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		// No client timeout: a stream lives as long as the upstream keeps
		// talking. The request context bounds it instead.
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type route struct {
	path    string
	service string
}

func routeFor(r domain.Route) route {
	if r == domain.RouteAsk {
		return route{path: AskPath, service: "Chatbot service"}
	}
	return route{path: ChatPath, service: "Chat service"}
}

// Forward validates req, issues the upstream request and returns its
// stream. It never returns an error: every failure becomes a stream of
// an error record followed by a done record.
func (f *Forwarder) Forward(ctx context.Context, req domain.TurnRequest) *Response {
	rt := routeFor(req.Route)
	logger := log.WithCtx(ctx).With(zap.String("upstream_path", rt.path))

	if f.baseURL == "" {
		logger.Error("upstream API URL is not configured")
		return synthesized("upstream API URL is not set")
	}

	payload, msg := buildPayload(req)
	if msg != "" {
		logger.Debug("rejecting turn", zap.String("reason", msg))
		return synthesized(msg)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return synthesized(fmt.Sprintf("Failed to encode request: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+rt.path, bytes.NewReader(body))
	if err != nil {
		logger.Error("building upstream request", zap.Error(err))
		return synthesized("Failed to reach " + strings.ToLower(rt.service))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if req.Route != domain.RouteAsk && req.Credential != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Credential)
		if f.hasher != nil {
			logger = logger.With(zap.String("credential_fp", fingerprint(f.hasher, req.Credential)))
		}
	}

	resp, err := f.httpClient.Do(httpReq)
	if err != nil {
		logger.Warn("upstream unreachable", zap.Error(err))
		return synthesized("Failed to reach " + strings.ToLower(rt.service))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 || resp.Body == nil || resp.Body == http.NoBody {
		text := readErrorBody(resp)
		if text == "" {
			text = fmt.Sprintf("%s error (%d)", rt.service, resp.StatusCode)
		}
		logger.Warn("upstream rejected turn", zap.Int("status", resp.StatusCode))
		return synthesized(text)
	}

	logger.Debug("streaming upstream response", zap.Int("status", resp.StatusCode))
	return &Response{StatusCode: resp.StatusCode, Body: resp.Body}
}

// OpenTurn lets the forwarder serve as a session's in-process transport.
func (f *Forwarder) OpenTurn(ctx context.Context, req domain.TurnRequest) io.ReadCloser {
	return f.Forward(ctx, req).Body
}

func buildPayload(req domain.TurnRequest) (any, string) {
	if req.Route == domain.RouteAsk {
		if strings.TrimSpace(req.Message) == "" {
			return nil, "Invalid question"
		}
		return map[string]string{"question": req.Message}, ""
	}

	if strings.TrimSpace(req.SessionID) == "" {
		return nil, "Invalid session_id"
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, "Invalid message"
	}
	return map[string]string{"session_id": req.SessionID, "message": req.Message}, ""
}

// readErrorBody reads what it can of a failed response, verbatim. Secondary
// failures are swallowed; the caller falls back to a generic message.
func readErrorBody(resp *http.Response) string {
	if resp.Body == nil {
		return ""
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil && len(b) == 0 {
		return ""
	}
	return string(b)
}

func synthesized(message string) *Response {
	return &Response{StatusCode: http.StatusOK, Body: sse.ErrorStream(message)}
}

func fingerprint(h domain.Hasher, credential string) string {
	sum := h.Hash([]byte(credential))
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}
