package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/ports"
	"github.com/layer-3/passport/service"
)

const (
	ctxProject = "project"
	ctxUID     = "uid"
	ctxSession = "session"
)

// RequestLogger logs every request and observes its latency
func RequestLogger(log logrus.FieldLogger, metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		metrics.requests.WithLabelValues(route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())

		entry := log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"route":    route,
			"status":   status,
			"duration": time.Since(start),
		})
		if status >= http.StatusInternalServerError {
			entry.Warn("request failed")
			return
		}
		entry.Debug("request served")
	}
}

// APIKeyMiddleware requires a known X-API-KEY and resolves its project
func APIKeyMiddleware(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		project, err := authService.Project(c.GetHeader(ports.HeaderAPIKey))
		if err != nil {
			abort(c, err)
			return
		}
		c.Set(ctxProject, project)
		c.Next()
	}
}

// ProjectMiddleware requires a known X-PROJECT-IDENT
func ProjectMiddleware(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		project := c.GetHeader(ports.HeaderProjectIdentifier)
		if err := authService.VerifyProject(project); err != nil {
			abort(c, err)
			return
		}
		c.Set(ctxProject, project)
		c.Next()
	}
}

// AuthMiddleware creates middleware that validates access tokens
func AuthMiddleware(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader(ports.HeaderAuthorization)
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ports.ErrorResponse{Error: "Invalid authorization header", Code: ports.WireCode(core.ErrInvalidToken)})
			return
		}

		session, err := authService.ValidateAccessToken(c.Request.Context(), token)
		if err != nil {
			if !errors.Is(err, core.ErrTokenExpired) && !errors.Is(err, core.ErrTokenInvalidated) {
				err = core.ErrInvalidToken
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, ports.ErrorResponse{Error: err.Error(), Code: ports.WireCode(err)})
			return
		}

		c.Set(ctxUID, session.UID)
		c.Set(ctxSession, session)
		c.Next()
	}
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidAPIKey),
		errors.Is(err, core.ErrInvalidSignature),
		errors.Is(err, core.ErrTokenExpired),
		errors.Is(err, core.ErrTokenInvalidated),
		errors.Is(err, core.ErrInvalidToken),
		errors.Is(err, core.ErrAuthenticityFailed):
		return http.StatusUnauthorized
	case errors.Is(err, core.ErrProjectNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrUnknownVendor),
		errors.Is(err, core.ErrInvalidChallenge),
		errors.Is(err, core.ErrInvalidSession):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func abort(c *gin.Context, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		msg = "Internal error"
	}
	c.AbortWithStatusJSON(status, ports.ErrorResponse{Error: msg, Code: ports.WireCode(err)})
}
