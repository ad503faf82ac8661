package rest

import (
	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all REST API routes
func SetupRoutes(router *gin.Engine, handler Handler) {
	// Health check endpoint (no version prefix)
	router.GET("/health", handler.HealthCheck)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Entity lookups by primary key
		v1.GET("/entities/:kind/:id", handler.GetEntity)
		v1.GET("/entities/:kind/:id/links/:relation", handler.GetLinks)

		// Projection run state
		v1.GET("/run", handler.GetRun)
	}
}
