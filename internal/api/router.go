package api

import (
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"air-quality-backend/config"
	"air-quality-backend/internal/live"
	"air-quality-backend/internal/mw"
	"air-quality-backend/internal/store"
)

// NewRouter creates and configures a new Gin router. The device-facing
// ingestion and query contract lives at the root path; the websocket
// feed and the push-subscription API sit beside it.
func NewRouter(cfg *config.Config, s store.Store, hub *live.Hub, webpushOptions *webpush.Options) *gin.Engine {
	r := gin.Default()
	r.HandleMethodNotAllowed = true

	handler := NewHandler(cfg, s, webpushOptions)

	r.Use(mw.CORS())
	r.Use(mw.RateLimiter(rate.Limit(cfg.Server.RateLimitPerSec), cfg.Server.RateLimitBurst))

	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"status": "error", "message": "Method not allowed"})
	})

	// The read path can be cached when many clients poll the same
	// window. Off by default so a POST is visible to the next GET.
	queryChain := []gin.HandlerFunc{handler.GetReadings}
	if cfg.Server.CacheTTLSeconds > 0 {
		ttl := time.Duration(cfg.Server.CacheTTLSeconds) * time.Second
		cacheStore := cache.New(ttl, 2*ttl)
		queryChain = append([]gin.HandlerFunc{mw.Cache(cacheStore, ttl)}, queryChain...)
	}

	r.POST("/", handler.PostReading)
	r.GET("/", queryChain...)

	if hub != nil {
		r.GET("/ws", gin.WrapH(hub))
	}

	api := r.Group("/api")
	{
		api.GET("/subscriptions", handler.GetSubscription)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	return r
}
