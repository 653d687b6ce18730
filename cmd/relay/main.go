package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/satriahrh/cocoa-fruit/relay/adapters/forwarder"
	"github.com/satriahrh/cocoa-fruit/relay/adapters/hasher"
	httpadapter "github.com/satriahrh/cocoa-fruit/relay/adapters/http"
	"github.com/satriahrh/cocoa-fruit/relay/adapters/websocket"
	"github.com/satriahrh/cocoa-fruit/relay/config"
	"github.com/satriahrh/cocoa-fruit/relay/usecase"
	"github.com/satriahrh/cocoa-fruit/relay/utils/log"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"
)

func main() {
	gotenv.Load()
	defer log.Sync()

	cfg, err := config.LoadRelay()
	if err != nil {
		log.With().Fatal("load config", zap.Error(err))
	}
	if cfg.UpstreamAPIURL == "" {
		log.With().Warn("UPSTREAM_API_URL is not set, every turn will fail")
	}

	fwd := forwarder.New(cfg.UpstreamAPIURL,
		forwarder.WithHasher(hasher.New()),
		forwarder.WithHTTPClient(&http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: cfg.UpstreamTimeout,
			},
		}),
	)

	sessionOpts := []usecase.SessionOption{
		usecase.WithPacing(cfg.Pacing.Config()),
		usecase.WithMaxMessageLength(cfg.MaxMessageLength),
	}
	if cfg.Greeting != "" {
		sessionOpts = append(sessionOpts, usecase.WithGreeting(cfg.Greeting))
	}
	wsServer := websocket.NewServer(fwd, sessionOpts...)
	relay := httpadapter.NewRelayHandler(fwd, wsServer.GetHub())
	auth := httpadapter.NewAuthenticator(cfg.JWTSecret)

	e := httpadapter.NewEcho(httpadapter.ServerOptions{
		RateLimit:    cfg.RateLimit,
		BodyLimit:    cfg.BodyLimit,
		AllowOrigins: cfg.AllowOrigins,
	})

	// The upstream validates credentials; the relay only passes them on.
	streams := e.Group("/api", httpadapter.ConcurrencyLimit(cfg.MaxStreams))
	streams.POST("/chat", relay.Chat)
	streams.POST("/chatbot/ask", relay.Ask)

	e.GET("/api/v1/health", relay.HealthCheck)
	e.GET("/ws", wsServer.Handler, auth.Middleware)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := httpadapter.Serve(ctx, e, cfg.Addr, cfg.ShutdownTimeout, wsServer.Shutdown); err != nil {
		log.With().Fatal("relay stopped", zap.Error(err))
	}
}
