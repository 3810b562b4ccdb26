package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/accounts/internal/handlers"
)

type userRouteDeps struct {
	Handler     *handlers.UserHandler
	RequireAuth gin.HandlerFunc
	Throttle    gin.HandlerFunc
}

func registerUserRoutes(r *gin.Engine, deps userRouteDeps) {
	users := r.Group("/users")
	users.POST("/register", deps.Throttle, deps.Handler.Register)

	protected := users.Group("")
	protected.Use(deps.RequireAuth)
	{
		protected.GET("/", deps.Handler.List)

		protected.GET("/me", deps.Handler.Me)
		protected.PATCH("/me", deps.Handler.UpdateMe)
		protected.DELETE("/me", deps.Handler.DeleteMe)

		protected.GET("/:id", deps.Handler.Get)
		protected.PATCH("/:id", deps.Handler.Update)
		protected.DELETE("/:id", deps.Handler.Delete)
	}
}
