package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/satriahrh/cocoa-fruit/relay/utils/log"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type ServerOptions struct {
	// RateLimit is requests per second per client IP. Zero disables it.
	RateLimit    float64
	BodyLimit    string
	AllowOrigins []string
}

// NewEcho builds an echo instance with the middleware stack shared by the
// relay and the backend.
func NewEcho(opts ServerOptions) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.RequestID())
	e.Use(requestLogger)
	e.Use(middleware.Recover())
	e.Use(middleware.Secure())
	if opts.RateLimit > 0 {
		e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(opts.RateLimit))))
	}

	origins := opts.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{echo.GET, echo.POST, echo.OPTIONS},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderAuthorization,
			"X-API-Key",
			"X-API-Secret",
			"X-User-ID",
		},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	if opts.BodyLimit != "" {
		e.Use(middleware.BodyLimit(opts.BodyLimit))
	}
	return e
}

// requestLogger logs each request through zap once it completes. Streams
// are logged when they end, so latency covers the whole stream.
func requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		req := c.Request()
		log.WithCtx(log.WithRequestID(req.Context(), c.Response().Header().Get(echo.HeaderXRequestID))).Info("request",
			zap.String("method", req.Method),
			zap.String("uri", req.RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("latency", time.Since(start)),
		)
		return nil
	}
}

// Serve runs e on addr until ctx is cancelled, then runs beforeShutdown and
// drains in-flight requests for at most timeout.
func Serve(ctx context.Context, e *echo.Echo, addr string, timeout time.Duration, beforeShutdown func()) error {
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		log.With(zap.String("addr", addr)).Info("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		<-ctx.Done()
		log.With(zap.String("addr", addr)).Info("shutting down server")
		if beforeShutdown != nil {
			beforeShutdown()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}
