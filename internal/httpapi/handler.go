// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package httpapi exposes the auth service over HTTP using gin.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/holomush/holoauth/internal/auth"
	"github.com/holomush/holoauth/pkg/errutil"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 64 << 10

// TokenHeader carries the token on GET /user. Authorization: Bearer is
// accepted as well.
const TokenHeader = "token"

// Authenticator is the auth surface served over HTTP.
type Authenticator interface {
	Register(ctx context.Context, email, name, password string) error
	Login(ctx context.Context, email, password string) (string, error)
	ResolveIdentity(ctx context.Context, token string) (auth.Identity, error)
}

type signupRequest struct {
	Email    string `json:"email" form:"email"`
	Name     string `json:"name" form:"name"`
	Password string `json:"password" form:"password"`
}

type loginRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler serves the signup, login and user routes.
type Handler struct {
	auth   Authenticator
	logger *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(a Authenticator, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{auth: a, logger: logger}
}

// Signup handles POST /signup.
func (h *Handler) Signup(c *gin.Context) {
	var req signupRequest
	if !h.bind(c, &req, auth.KindValidation) {
		return
	}
	if err := h.auth.Register(c.Request.Context(), req.Email, req.Name, req.Password); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, statusResponse{Status: "ok"})
}

// Login handles POST /login.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if !h.bind(c, &req, auth.KindAuthenticationFailed) {
		return
	}
	token, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tokenResponse{Token: token})
}

// User handles GET /user.
func (h *Handler) User(c *gin.Context) {
	identity, err := h.auth.ResolveIdentity(c.Request.Context(), requestToken(c.Request))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, identity)
}

// bind decodes a JSON or form body. On failure it writes the error the
// route uses for bad input and returns false.
func (h *Handler) bind(c *gin.Context, dst any, onFailure auth.Kind) bool {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	if err := c.ShouldBind(dst); err != nil {
		h.logger.DebugContext(c.Request.Context(), "request body rejected", "error", err)
		c.AbortWithStatusJSON(statusForKind(onFailure), errorResponse{Error: onFailure.String()})
		return false
	}
	return true
}

func (h *Handler) writeError(c *gin.Context, err error) {
	kind := auth.KindOf(err)
	status := statusForKind(kind)
	if kind == auth.KindInternal {
		errutil.LogErrorContext(c.Request.Context(), h.logger, "unclassified auth error", err)
	}
	c.AbortWithStatusJSON(status, errorResponse{Error: kind.String()})
}

func statusForKind(kind auth.Kind) int {
	switch kind {
	case auth.KindValidation, auth.KindDuplicateEmail:
		return http.StatusBadRequest
	case auth.KindAuthenticationFailed, auth.KindUnauthorized:
		return http.StatusUnauthorized
	case auth.KindServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// requestToken reads the token header, falling back to a bearer token.
func requestToken(r *http.Request) string {
	if token := strings.TrimSpace(r.Header.Get(TokenHeader)); token != "" {
		return token
	}
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
