package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tbourn/go-chat-worker/internal/config"
	"github.com/tbourn/go-chat-worker/internal/http/middleware"
)

// NewRouter assembles the listener: correlation IDs, access logs, panic
// recovery, then the webhook route plus health and metrics endpoints.
func NewRouter(cfg config.Config, wh *WebhookHandler) *gin.Engine {
	gin.SetMode(cfg.GinMode)

	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Logger(), middleware.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "go-chat-worker"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.POST(cfg.WebhookPath, wh.Handle)

	return r
}
