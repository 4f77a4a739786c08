package main

import (
	"github.com/gin-gonic/gin"
	"github.com/teamflowhq/teamflow/internal/middleware"
	"github.com/teamflowhq/teamflow/pkg/logger"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, svc *appServices) {
	// Middleware
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.CORS())

	// Rate limiter for the public auth route
	loginLimiter := middleware.NewRateLimiter(5, 10)

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "service": "teamflow"})
	})

	// API routes
	api := r.Group("/api")
	{
		// Auth routes (public)
		auth := api.Group("/auth")
		{
			auth.POST("/login", loginLimiter.Middleware(), svc.authHandler.Login)
		}

		// Streaming routes (public with internal token validation)
		api.GET("/events", svc.eventsHandler.Stream)
		api.GET("/ws", svc.eventsHandler.Socket)

		// Protected routes
		protected := api.Group("")
		protected.Use(middleware.AuthRequired())
		{
			// Auth
			protected.GET("/auth/me", svc.authHandler.Me)

			// Team members
			protected.DELETE("/team-members/:id", svc.teamMemberHandler.Remove)
			protected.POST("/team-members/:id/promote", svc.teamMemberHandler.Promote)

			// Projects
			protected.PATCH("/projects/:id", svc.projectHandler.Update)
			protected.POST("/projects/:id/github-issue", svc.githubHandler.CreateIssue)
		}
	}
}
