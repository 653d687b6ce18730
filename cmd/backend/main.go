package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/satriahrh/cocoa-fruit/relay/adapters/http"
	"github.com/satriahrh/cocoa-fruit/relay/adapters/llm"
	"github.com/satriahrh/cocoa-fruit/relay/config"
	"github.com/satriahrh/cocoa-fruit/relay/domain"
	"github.com/satriahrh/cocoa-fruit/relay/usecase"
	"github.com/satriahrh/cocoa-fruit/relay/utils/log"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"
)

func main() {
	gotenv.Load()
	defer log.Sync()

	cfg, err := config.LoadBackend()
	if err != nil {
		log.With().Fatal("load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var model domain.Llm
	switch cfg.LLMProvider {
	case "gemini":
		model, err = llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			log.With().Fatal("create gemini client", zap.Error(err))
		}
	default:
		echoModel := llm.NewEchoLLM()
		echoModel.Delay = cfg.EchoDelay
		model = echoModel
	}
	log.With(zap.String("provider", cfg.LLMProvider)).Info("language model ready")

	replies := usecase.NewReplyService(model, usecase.DefaultCatalog(), cfg.Reply())
	backend := httpadapter.NewBackendHandler(replies)
	auth := httpadapter.NewAuthenticator(cfg.JWTSecret)
	issuer := httpadapter.NewTokenIssuer(cfg.JWTSecret, cfg.DevAPIKey, cfg.DevAPISecret)

	e := httpadapter.NewEcho(httpadapter.ServerOptions{RateLimit: cfg.RateLimit, BodyLimit: "1MB"})

	e.POST("/api/chat", backend.Chat, auth.Middleware)
	e.POST("/api/chatbot/ask", backend.Ask)

	api := e.Group("/api/v1")
	api.GET("/health", httpadapter.Health("backend", nil))
	api.POST("/auth/token", issuer.GenerateJWT)

	if err := httpadapter.Serve(ctx, e, cfg.Addr, cfg.ShutdownTimeout, nil); err != nil {
		log.With().Fatal("backend stopped", zap.Error(err))
	}
}
