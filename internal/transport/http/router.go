package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/richardliu001/account-events/internal/config"
	"github.com/richardliu001/account-events/internal/service"
	"go.uber.org/zap"
)

// NewRouter wires middleware, the account holder API and /metrics.
func NewRouter(svc *service.AccountHolderService, rl config.RateLimitConfig, gatherer prometheus.Gatherer, log *zap.SugaredLogger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggingMiddleware(log))
	if rl.RPS > 0 {
		r.Use(RateLimitMiddleware(rl.RPS, rl.Burst))
	}
	RegisterHandlers(r, svc)
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	return r
}
