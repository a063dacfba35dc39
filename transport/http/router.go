package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/layer-3/passport/identity"
	"github.com/layer-3/passport/service"
)

// SetupRouter sets up the Gin router
func SetupRouter(authService *service.AuthService, registry *identity.Registry, reg *prometheus.Registry, log logrus.FieldLogger) *gin.Engine {
	metrics := NewMetrics(reg)

	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(log, metrics))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	handlers := NewAuthHandlers(authService, metrics)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/providers", Providers(registry))
		v1.POST("/challenge", handlers.Challenge)
		v1.POST("/token/refresh", handlers.Refresh)
		v1.POST("/logout", handlers.Logout)
	}

	withKey := v1.Group("", APIKeyMiddleware(authService))
	{
		withKey.GET("/verify-api-key", handlers.VerifyAPIKey)
		withKey.GET("/project", handlers.Project)
	}

	withProject := v1.Group("", ProjectMiddleware(authService))
	{
		withProject.GET("/project/verify", handlers.VerifyProject)
		withProject.POST("/oauth/redirect", handlers.OAuthRedirect)
		withProject.POST("/token", handlers.Register)
	}

	user := v1.Group("", AuthMiddleware(authService))
	{
		user.GET("/me", handlers.Me)
		user.POST("/me", handlers.UpdateMe)
		user.GET("/token/verify", handlers.VerifyToken)
	}

	return router
}
