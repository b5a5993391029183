package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/faceid/internal/api/handlers"
	"github.com/your-org/faceid/internal/api/ws"
	"github.com/your-org/faceid/internal/auth"
	"github.com/your-org/faceid/internal/config"
	"github.com/your-org/faceid/internal/identify"
)

type RouterConfig struct {
	APIKey     string
	Checks     map[string]handlers.Check
	Identifier handlers.Identifier
	Session    *identify.Session
	Events     handlers.EventStore
	Objects    handlers.ObjectGetter
	Control    handlers.ControlPublisher
	Streams    []config.StreamConfig
	Hub        *ws.Hub
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.New(corsConfig()))

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Checks)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	if cfg.Hub != nil {
		v1.GET("/ws", cfg.Hub.HandleWS)
	}

	// Identification
	if cfg.Identifier != nil {
		v1.POST("/identify", handlers.NewIdentifyHandler(cfg.Identifier).Identify)
	}
	if cfg.Session != nil {
		v1.GET("/gallery", handlers.NewGalleryHandler(cfg.Session).Get)
	}

	// Streams
	if cfg.Control != nil {
		streamH := handlers.NewStreamHandler(cfg.Streams, cfg.Control)
		v1.GET("/streams", streamH.List)
		v1.POST("/streams/:id/start", streamH.Start)
		v1.POST("/streams/:id/stop", streamH.Stop)
	}

	// Events
	if cfg.Events != nil {
		eventH := handlers.NewEventHandler(cfg.Events, cfg.Objects)
		v1.GET("/events", eventH.List)
		v1.GET("/events/:id", eventH.Get)
		v1.GET("/events/:id/snapshot", eventH.Snapshot)
		v1.GET("/events/:id/frame", eventH.Frame)
	}

	return r
}

func corsConfig() cors.Config {
	c := cors.DefaultConfig()
	c.AllowAllOrigins = true
	c.AddAllowHeaders(auth.HeaderName)
	return c
}
