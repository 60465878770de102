package api

import (
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/fauzanteza/mesin-cuci-store-sub002/config"
	_ "github.com/fauzanteza/mesin-cuci-store-sub002/docs"
	"github.com/fauzanteza/mesin-cuci-store-sub002/internal/api/handler"
	"github.com/fauzanteza/mesin-cuci-store-sub002/internal/api/middleware"
	"github.com/fauzanteza/mesin-cuci-store-sub002/pkg/metrics"
)

// NewRouter 注册全部路由
func NewRouter(cfg *config.Config, h *handler.Handler, admins middleware.AdminResolver) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	// trace 上下文要最先提取
	r.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	r.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	r.Use(middleware.RequestLogger())
	r.Use(metrics.Middleware())
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	r.GET("/health", h.Health)
	r.GET("/metrics", metrics.Handler())
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := r.Group("/api/v1")
	v1.POST("/payments/webhook", middleware.WebhookToken(cfg.Auth.WebhookToken), h.PaymentWebhook)

	authed := v1.Group("", middleware.JWTAuth(cfg.Auth.JWTSecret))
	{
		limiter := middleware.NewActorRateLimiter(cfg.RateLimit.CheckoutRPS, cfg.RateLimit.CheckoutBurst)
		authed.POST("/checkout", limiter.Middleware(), h.Checkout)

		authed.GET("/orders/:id", h.GetOrder)
		authed.GET("/orders/:id/history", h.GetOrderHistory)
		authed.POST("/orders/:id/cancel", h.CancelOrder)
	}

	admin := authed.Group("/admin", middleware.RequireAdmin(admins))
	{
		admin.POST("/orders/:id/status", h.UpdateOrderStatus)
		admin.POST("/orders/bulk-status", h.BulkUpdateOrderStatus)
		admin.POST("/stock/adjust", h.AdjustStock)
		admin.GET("/stock/audit", h.AuditStock)
	}
	return r
}
