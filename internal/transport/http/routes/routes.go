package routes

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/storefront-signup/internal/infra/config"
	"github.com/arklim/storefront-signup/internal/transport/http/handlers"
	"github.com/arklim/storefront-signup/internal/transport/http/middleware"
)

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config         *config.AppConfig
	Logger         *zap.Logger
	Registration   handlers.RegistrationFlow
	HTTPMetrics    *middleware.HTTPMetrics
	MetricsHandler http.Handler
	TracerProvider trace.TracerProvider
	Database       HealthChecker
	Cache          HealthChecker
	Documents      HealthChecker
}

// HealthChecker exposes readiness behaviour for a backing store.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if err := middleware.ConfigureClientIP(r, deps.Config.App.TrustedProxies); err != nil && deps.Logger != nil {
		deps.Logger.Warn("invalid trusted proxies, forwarding headers ignored", zap.Error(err))
	}
	r.Use(gin.Recovery())
	r.Use(middleware.Tracing(middleware.TracingOptions{TracerProvider: deps.TracerProvider}))
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))
	r.Use(deps.HTTPMetrics.Handler())

	healthOptions := make([]handlers.HealthOption, 0, 3)
	if deps.Database != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("postgres", deps.Database.HealthCheck))
	}
	if deps.Cache != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("redis", deps.Cache.HealthCheck))
	}
	if deps.Documents != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("mongo", deps.Documents.HealthCheck))
	}
	healthHandler := handlers.NewHealthHandler(healthOptions...)

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)

	metricsHandler := deps.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.GET("/metrics", gin.WrapH(metricsHandler))

	if deps.Registration != nil {
		api := r.Group("/api/v1")
		handlers.NewRegistrationHandler(deps.Registration).RegisterRoutes(api.Group("/register"))
	}

	return r
}
