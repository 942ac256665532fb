package handler

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"
)

const requestIDHeader = "X-Request-ID"

// RequestID проставляет идентификатор запроса, если клиент его не прислал
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Writer.Header().Set(requestIDHeader, id)
		c.Next()
	}
}

// GinZapLogger логирует завершенные запросы через zap
func GinZapLogger(logger *zap.Logger) gin.HandlerFunc {
	log := logger.Named("HTTP")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("requestID", c.GetString("request_id")),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			log.Error("Request completed", fields...)
		default:
			log.Info("Request completed", fields...)
		}
	}
}

// NewRouter собирает gin-роутер со всеми маршрутами и middleware
func NewRouter(h *StoryHandler, corsOrigins []string, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(RequestID())
	router.Use(GinZapLogger(logger))
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(corsOrigins) == 1 && corsOrigins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = corsOrigins
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, requestIDHeader)
	router.Use(cors.New(corsConfig))

	p := ginprometheus.NewPrometheus("gin")
	p.Use(router)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	{
		api.POST("/story", h.PostStory)
		api.POST("/story/continue", h.PostContinue)
		api.GET("/story/summary", h.GetSummary)
		api.DELETE("/story/session", h.DeleteSession)
		api.GET("/users/:user_id/recommendations", h.GetRecommendations)
		api.GET("/users/:user_id/conversations", h.GetConversations)
		api.DELETE("/conversations/:id", h.DeleteConversation)
	}

	return router
}
