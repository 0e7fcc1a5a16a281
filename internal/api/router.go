package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"lsr-dashboard-backend/config"
	"lsr-dashboard-backend/internal/coordinator"
	"lsr-dashboard-backend/internal/mw"
	"lsr-dashboard-backend/internal/store"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(cfg *config.ServerConfig, s store.Store, coord *coordinator.Coordinator, webpushOptions *webpush.Options) *gin.Engine {
	r := gin.Default()

	handler := NewHandler(s, coord, webpushOptions)

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)

	cacheTTL := time.Duration(cfg.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(cacheTTL, 10*time.Minute)
	caching := mw.Cache(cacheStore, cacheTTL)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		// Snapshot reads are cached between refresh cycles.
		api.GET("/accounts", caching, handler.GetAccounts)
		api.GET("/accounts/:account_id", caching, handler.GetAccount)
		api.GET("/accounts/:account_id/meters", caching, handler.GetAccountMeters)

		// Previews and refreshes hit the upstream, never the cache.
		api.GET("/accounts/:account_id/cameras/:camera_id/preview", handler.GetCameraPreview)
		api.POST("/refresh", handler.PostRefresh)

		api.GET("/subscriptions", handler.GetSubscription)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r
}
