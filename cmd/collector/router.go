package main

import (
	"context"
	"net/http"
	"time"

	"github.com/Wuchinator/beacon-analytics/internal/auth"
	"github.com/Wuchinator/beacon-analytics/internal/event"
	"github.com/Wuchinator/beacon-analytics/internal/query"
	"github.com/Wuchinator/beacon-analytics/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type healthChecker interface {
	HealthCheck(ctx context.Context) error
	GetStats() map[string]any
}

type routes struct {
	events         *event.Handler
	stats          *query.Handler
	auth           *auth.Authenticator
	health         healthChecker
	gatherer       prometheus.Gatherer
	allowedOrigins []string
	trustedProxies []string
}

func newRouter(rt routes, log *zap.Logger) (*gin.Engine, error) {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	if err := r.SetTrustedProxies(rt.trustedProxies); err != nil {
		return nil, err
	}
	r.Use(logger.AccessLog(log), logger.Recovery(log))

	rt.events.RegisterRoutes(r, rt.allowedOrigins)
	auth.NewHandler(rt.auth, log).RegisterRoutes(r)
	rt.stats.RegisterRoutes(r, rt.auth.RequireAuth())

	r.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := rt.health.HealthCheck(ctx); err != nil {
			log.Warn("Health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "postgres": rt.health.GetStats()})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(rt.gatherer, promhttp.HandlerOpts{})))

	return r, nil
}
