package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/ports"
	"github.com/layer-3/passport/service"
)

// AuthHandlers contains HTTP handlers for auth endpoints
type AuthHandlers struct {
	authService *service.AuthService
	metrics     *Metrics
}

// NewAuthHandlers creates new auth handlers
func NewAuthHandlers(authService *service.AuthService, metrics *Metrics) *AuthHandlers {
	return &AuthHandlers{authService: authService, metrics: metrics}
}

func badRequest(c *gin.Context) {
	c.JSON(http.StatusBadRequest, ports.ErrorResponse{Error: "Invalid request"})
}

// VerifyAPIKey answers once APIKeyMiddleware accepted the key
func (h *AuthHandlers) VerifyAPIKey(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

// Project returns the project identifier of the api key
func (h *AuthHandlers) Project(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"project_identifier": c.GetString(ctxProject)})
}

// VerifyProject answers once ProjectMiddleware accepted the identifier
func (h *AuthHandlers) VerifyProject(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"project_identifier": c.GetString(ctxProject)})
}

// OAuthRedirect issues an authorization URL
func (h *AuthHandlers) OAuthRedirect(c *gin.Context) {
	var req ports.RedirectRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Provider == "" {
		badRequest(c)
		return
	}

	resp, err := h.authService.OAuthRedirect(c.Request.Context(), c.GetString(ctxProject), req)
	if err != nil {
		abort(c, err)
		return
	}
	h.metrics.redirects.WithLabelValues(req.Provider).Inc()
	c.JSON(http.StatusOK, resp)
}

// Challenge handles the challenge request
func (h *AuthHandlers) Challenge(c *gin.Context) {
	var req struct {
		Address string `json:"address" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	resp, err := h.authService.CreateChallenge(req.Address)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Register signs a user in with one or more identity sessions
func (h *AuthHandlers) Register(c *gin.Context) {
	var req ports.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Provider == "" {
		badRequest(c)
		return
	}

	tokens, err := h.authService.Register(c.Request.Context(), c.GetString(ctxProject), req)
	if err != nil {
		h.metrics.registrations.WithLabelValues(req.Provider, "failure").Inc()
		abort(c, err)
		return
	}
	h.metrics.registrations.WithLabelValues(req.Provider, "success").Inc()
	c.JSON(http.StatusOK, tokens)
}

// Refresh handles token refresh
func (h *AuthHandlers) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	tokens, err := h.authService.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"refresh":    tokens.Refresh,
		"access":     tokens.Access,
		"token_type": "Bearer",
		"expires_in": int(h.authService.AccessTTL().Seconds()),
	})
}

// Logout handles session logout
func (h *AuthHandlers) Logout(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	if err := h.authService.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		if errors.Is(err, core.ErrTokenExpired) {
			// An expired token is as good as logged out.
			c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
			return
		}
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// Me returns the current session of the authenticated user
func (h *AuthHandlers) Me(c *gin.Context) {
	cs, err := h.authService.CurrentSession(c.Request.Context(), c.GetString(ctxUID))
	if err != nil {
		c.JSON(http.StatusNotFound, ports.ErrorResponse{Error: "No current session"})
		return
	}
	c.JSON(http.StatusOK, cs)
}

// UpdateMe replaces the current session of the authenticated user
func (h *AuthHandlers) UpdateMe(c *gin.Context) {
	var cs core.CurrentSession
	if err := c.ShouldBindJSON(&cs); err != nil {
		badRequest(c)
		return
	}
	if err := h.authService.UpdateCurrentSession(c.Request.Context(), c.GetString(ctxUID), cs); err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, cs)
}

// VerifyToken returns the user behind the bearer token
func (h *AuthHandlers) VerifyToken(c *gin.Context) {
	session, ok := c.Get(ctxSession)
	s, _ := session.(*core.AuthSession)
	if !ok || s == nil {
		c.JSON(http.StatusInternalServerError, ports.ErrorResponse{Error: "User not found in context"})
		return
	}
	c.JSON(http.StatusOK, core.User{UID: s.UID, Provider: s.Provider})
}
