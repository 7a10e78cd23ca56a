// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/samber/oops"
)

// RouterConfig configures NewRouter. Auth is required.
type RouterConfig struct {
	Auth    Authenticator
	Logger  *slog.Logger
	Metrics RequestObserver

	// CORSOrigins lists allowed origins. Empty disables CORS handling.
	CORSOrigins []string

	// LoginLimiter, when set, limits POST /login per client IP.
	LoginLimiter *LoginLimiter
}

// NewRouter builds the gin engine serving the auth routes.
func NewRouter(cfg RouterConfig) (*gin.Engine, error) {
	if cfg.Auth == nil {
		return nil, oops.Code("HTTP_NIL_AUTHENTICATOR").Errorf("authenticator cannot be nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http")

	engine := gin.New()
	// Client IPs come from the socket; forwarded headers are not trusted.
	if err := engine.SetTrustedProxies(nil); err != nil {
		return nil, oops.Code("HTTP_PROXY_CONFIG_FAILED").Wrap(err)
	}
	engine.HandleMethodNotAllowed = true

	engine.Use(requestID(), accessLog(logger))
	if cfg.Metrics != nil {
		engine.Use(observe(cfg.Metrics))
	}
	engine.Use(recovery(logger))
	if len(cfg.CORSOrigins) > 0 {
		mw, err := corsMiddleware(cfg.CORSOrigins)
		if err != nil {
			return nil, err
		}
		engine.Use(mw)
	}

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, errorResponse{Error: "not_found"})
	})
	engine.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, errorResponse{Error: "method_not_allowed"})
	})

	h := NewHandler(cfg.Auth, logger)
	engine.POST("/signup", h.Signup)
	if cfg.LoginLimiter != nil {
		engine.POST("/login", cfg.LoginLimiter.Middleware(), h.Login)
	} else {
		engine.POST("/login", h.Login)
	}
	engine.GET("/user", h.User)

	return engine, nil
}
