package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/satriahrh/cocoa-fruit/relay/utils/log"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	// Keys set on the echo context by the auth middleware.
	ContextUserID = "user_id"
	ContextToken  = "token"

	DefaultTokenExpiry = 24 * time.Hour
	tokenIssuer        = "cocoa-fruit-relay"
)

type Claims struct {
	UserID string `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

// User returns the user the token was issued for.
func (c *Claims) User() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.RegisteredClaims.Subject
}

// Authenticator validates HMAC-signed bearer tokens. With no secret it
// only extracts the token, so a downstream service can validate it.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

func (a *Authenticator) Enabled() bool { return len(a.secret) > 0 }

// Middleware accepts the token from the Authorization header or, for
// websocket clients that cannot set headers, the "token" query parameter.
func (a *Authenticator) Middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		tokenString := BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
		if tokenString == "" {
			tokenString = c.QueryParam("token")
		}

		if !a.Enabled() {
			c.Set(ContextToken, tokenString)
			return next(c)
		}
		if tokenString == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "Missing authorization header")
		}

		claims, err := a.Parse(tokenString)
		if err != nil {
			log.WithCtx(c.Request().Context()).Debug("JWT validation error", zap.Error(err))
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token")
		}

		c.Set(ContextUserID, claims.User())
		c.Set(ContextToken, tokenString)
		return next(c)
	}
}

func (a *Authenticator) Parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// TokenIssuer hands out development tokens in exchange for a static API
// key pair.
type TokenIssuer struct {
	secret    []byte
	apiKey    string
	apiSecret string
	expiry    time.Duration
}

func NewTokenIssuer(secret, apiKey, apiSecret string) *TokenIssuer {
	return &TokenIssuer{
		secret:    []byte(secret),
		apiKey:    apiKey,
		apiSecret: apiSecret,
		expiry:    DefaultTokenExpiry,
	}
}

func (t *TokenIssuer) Sign(userID string) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(t.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   userID,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// GenerateJWT creates a token for a client presenting X-API-Key and
// X-API-Secret. X-User-ID picks the subject, defaulting to the key.
func (t *TokenIssuer) GenerateJWT(c echo.Context) error {
	if len(t.secret) == 0 || t.apiKey == "" {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Token issuing is disabled")
	}

	key := c.Request().Header.Get("X-API-Key")
	secret := c.Request().Header.Get("X-API-Secret")
	if key != t.apiKey || secret != t.apiSecret {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid credentials")
	}

	userID := c.Request().Header.Get("X-User-ID")
	if userID == "" {
		userID = key
	}
	tokenString, err := t.Sign(userID)
	if err != nil {
		log.WithCtx(c.Request().Context()).Error("Error signing JWT", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to generate token")
	}

	return c.JSON(http.StatusOK, map[string]string{
		"token": tokenString,
		"type":  "Bearer",
	})
}

// ConcurrencyLimit rejects requests beyond limit in flight. Streams are
// long-lived, so this caps open upstream connections. A limit below 1
// disables the cap.
func ConcurrencyLimit(limit int) echo.MiddlewareFunc {
	if limit < 1 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	sem := semaphore.NewWeighted(int64(limit))
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !sem.TryAcquire(1) {
				return echo.NewHTTPError(http.StatusTooManyRequests, "Too many concurrent requests")
			}
			defer sem.Release(1)
			return next(c)
		}
	}
}
