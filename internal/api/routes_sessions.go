package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/accounts/internal/handlers"
)

type sessionRouteDeps struct {
	Handler     *handlers.SessionHandler
	RequireAuth gin.HandlerFunc
}

func registerSessionRoutes(r *gin.Engine, deps sessionRouteDeps) {
	sessions := r.Group("/sessions")
	{
		sessions.POST("/refresh-cookie", deps.Handler.RefreshCookie)
		sessions.POST("/refresh", deps.Handler.RefreshBody)
	}

	protected := sessions.Group("")
	protected.Use(deps.RequireAuth)
	{
		protected.GET("/", deps.Handler.List)
		protected.PATCH("/", deps.Handler.RevokeAll)
		protected.PATCH("/current", deps.Handler.RevokeCurrent)
		protected.PATCH("/:id", deps.Handler.RevokeByID)
	}
}
