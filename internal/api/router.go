// Package api exposes the gateway over HTTP with echo.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-gateway/internal/core"
	"github.com/book-expert/tts-gateway/internal/service"
	"github.com/book-expert/tts-gateway/internal/slots"
	"github.com/book-expert/tts-gateway/internal/stats"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

const (
	defaultUserHeader   = "X-User-Email"
	limiterEntryExpiry  = 3 * time.Minute
	retryAfterSeconds   = "1"
	audioContentType    = "audio/wav"
	maxRequestBodyLimit = "2M"
)

// Synthesis is the part of service.Service the handlers drive.
type Synthesis interface {
	SynthesizeOne(ctx context.Context, req service.SingleRequest) (service.Result, error)
	SynthesizeBatch(ctx context.Context, req service.BatchRequest) (service.BatchResult, error)
	Slots() []slots.SlotState
	FreeSlots() int
	Outputs() core.ObjectStore
}

// RouterConfig wires the handlers.
type RouterConfig struct {
	Service Synthesis
	Log     *logger.Logger
	// UserHeader carries the authenticated e-mail set by the fronting proxy.
	UserHeader string
	// RatePerSecond and Burst bound requests per user on the synthesis
	// routes. A zero rate disables limiting.
	RatePerSecond float64
	Burst         int
	// Stats is optional and backs GET /v1/stats.
	Stats *stats.MemoryRecorder
}

// SetupRouter registers middleware and routes on e.
func SetupRouter(e *echo.Echo, cfg RouterConfig) {
	if cfg.UserHeader == "" {
		cfg.UserHeader = defaultUserHeader
	}

	handler := &Handler{svc: cfg.Service, log: cfg.Log}

	e.HTTPErrorHandler = handler.errorHandler
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(echomw.BodyLimit(maxRequestBodyLimit))
	e.Use(accessLog(cfg.Log))

	e.GET("/health", handler.Health)

	v1 := e.Group("/v1")
	v1.GET("/slots", handler.Slots)
	v1.GET("/audio/*", handler.Audio)

	if cfg.Stats != nil {
		v1.GET("/stats", func(c echo.Context) error {
			return c.JSON(http.StatusOK, cfg.Stats.Snapshot())
		})
	}

	ttsGroup := v1.Group("/tts", Auth(cfg.UserHeader))
	if cfg.RatePerSecond > 0 {
		ttsGroup.Use(RateLimit(cfg.RatePerSecond, cfg.Burst))
	}

	ttsGroup.POST("/question", handler.Question)
	ttsGroup.POST("/batch", handler.Batch)
}

// RateLimit denies a user's requests beyond perSecond (with burst) with 429.
func RateLimit(perSecond float64, burst int) echo.MiddlewareFunc {
	store := echomw.NewRateLimiterMemoryStoreWithConfig(echomw.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(perSecond),
		Burst:     burst,
		ExpiresIn: limiterEntryExpiry,
	})

	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			if user := UserFrom(c); user != "" {
				return user, nil
			}

			return c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, identifier string, _ error) error {
			return c.JSON(http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded for " + identifier})
		},
	})
}
