package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/accounts/internal/handlers"
)

type authRouteDeps struct {
	Handler  *handlers.AuthHandler
	Throttle gin.HandlerFunc
}

// Logout resolves its own token so an expired cookie can still be cleared.
func registerAuthRoutes(r *gin.Engine, deps authRouteDeps) {
	auth := r.Group("/auth")
	{
		auth.POST("/login", deps.Throttle, deps.Handler.Login)
		auth.POST("/logout", deps.Handler.Logout)
	}
}
