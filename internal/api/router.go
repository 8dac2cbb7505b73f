package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wellness-service/internal/config"
	"wellness-service/internal/logging"
)

// NewRouter wires the routes. gatherer backs /metrics; nil uses the default
// registry.
func NewRouter(h *Handler, logger *logging.Logger, cfg config.Config, gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLoggingMiddleware(logger))

	api := r.Group(cfg.API.BasePath)
	{
		// Internal
		internal := api.Group("", ServiceAuth(cfg.Auth.ServiceToken))
		internal.POST("/alerts/trigger", h.TriggerAlert)
		internal.POST("/checkers/:checker_id/evaluate", h.EvaluateChecker)
		internal.POST("/checkers/:checker_id/checkins", h.RecordCheckIn)

		// Supporters
		supporters := api.Group("", SupporterAuth(cfg.Auth.JWTSecret, cfg.Auth.ServiceToken))
		supporters.GET("/alerts/:id", h.GetAlert)
		supporters.POST("/alerts/:id/acknowledge", h.AcknowledgeAlert)
		supporters.POST("/alerts/:id/resolve", h.ResolveAlert)
		supporters.GET("/alerts/:id/deliveries", h.ListDeliveries)
		supporters.GET("/checkers/:checker_id/alerts/active", h.ListActiveAlerts)
		supporters.GET("/ws/alerts", h.AlertFeed)

		// Voice gateway callbacks
		voice := api.Group("/voice")
		if cfg.Twilio.ValidateSignatures && cfg.Twilio.AuthToken != "" {
			voice.Use(TwilioSignature(cfg.Twilio.AuthToken, cfg.API.PublicURL, logger))
		}
		voice.POST("/greeting", h.VoiceGreeting)
		voice.POST("/gather", h.VoiceGather)
		voice.POST("/status", h.VoiceStatus)
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	return r
}
