package main

import (
	"time"

	"github.com/gin-gonic/gin"
	"pkt.systems/pslog"

	"github.com/resume-studio/collabsync/api/handlers"
	"github.com/resume-studio/collabsync/internal/relay"
	"github.com/resume-studio/collabsync/internal/repository"
)

// newRouter builds the relay HTTP surface. transcripts may be nil when
// archiving is disabled.
func newRouter(wsService *relay.Service, transcripts *repository.TranscriptRepository, logger pslog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(logger))

	// Enable CORS for development
	r.Use(corsMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})

	api := r.Group("/api")
	{
		handlers.NewWebSocketHandler(wsService.Handler()).RegisterRoutes(api)
		handlers.NewRoomHandler(wsService).RegisterRoutes(api)
		if transcripts != nil {
			handlers.NewTranscriptHandler(transcripts).RegisterRoutes(api)
		}
	}

	return r
}

// requestLogger logs one line per request.
func requestLogger(logger pslog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
		)
	}
}

// corsMiddleware returns a CORS middleware for development.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization, Origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, DELETE, OPTIONS")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
