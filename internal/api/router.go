// Package api assembles the gateway's HTTP layer: middleware, health and
// metrics endpoints, and the authenticated /api routes.
package api

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"fireedge.io/gateway/internal/api/handlers"
	"fireedge.io/gateway/internal/api/middleware"
	"fireedge.io/gateway/internal/auth"
	"fireedge.io/gateway/internal/engine"
	"fireedge.io/gateway/internal/metrics"
	"fireedge.io/gateway/internal/oneflow"
	"fireedge.io/gateway/internal/provision"
	"fireedge.io/gateway/internal/ratelimit"
	"fireedge.io/gateway/internal/support"
	"fireedge.io/gateway/internal/upstream"
)

// RouterConfig holds configuration for setting up the HTTP router.
type RouterConfig struct {
	// DB is the database connection, pinged by the readiness probe.
	DB *sql.DB

	// Logger is the Zap logger for request logging.
	Logger *zap.Logger

	// Version is reported by the health endpoints.
	Version string

	// AllowOrigins is the list of allowed CORS origins. Empty disables CORS.
	AllowOrigins []string

	// RateLimitRPS and RateLimitBurst bound requests per client IP.
	RateLimitRPS   float64
	RateLimitBurst int

	Auth       *auth.Service
	Limiter    *ratelimit.Limiter
	Dispatcher *engine.Dispatcher
	Engine     *upstream.Breaker
	OneFlow    *oneflow.Client
	Support    *support.Client
	Provision  *provision.Manager
}

// Router is the configured gin engine plus the resources it owns.
type Router struct {
	*gin.Engine
	ipLimiter *middleware.RateLimiter
}

// Close releases the router's background goroutines.
func (r *Router) Close() {
	if r.ipLimiter != nil {
		r.ipLimiter.Stop()
	}
}

// SetupRouter creates and configures the Gin HTTP router with all routes and middleware.
//
// Middleware order: recovery, metrics, request logging, CORS, per-IP rate
// limiting. Everything under /api except login additionally requires a
// session and is limited per user.
func SetupRouter(config *RouterConfig) *Router {
	router := gin.New()
	router.HandleMethodNotAllowed = true

	router.Use(gin.Recovery())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(config.Logger))

	if len(config.AllowOrigins) > 0 {
		router.Use(middleware.CORS(config.AllowOrigins))
	}

	var ipLimiter *middleware.RateLimiter
	if config.RateLimitRPS > 0 {
		ipLimiter = middleware.NewRateLimiter(config.RateLimitRPS, config.RateLimitBurst, time.Minute)
		router.Use(middleware.RateLimitByIP(ipLimiter))
	}

	healthHandler := handlers.NewHealthHandler(config.DB, config.Version, config.Engine, breakers(config)...)
	authHandler := handlers.NewAuthHandler(config.Auth)
	engineHandler := handlers.NewEngineHandler(config.Dispatcher)

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
		metrics.Registry,
		promhttp.HandlerOpts{},
	)))

	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Liveness)
		health.GET("/ready", healthHandler.Readiness)
	}

	api := router.Group("/api")

	// POST /api/auth - Log in; the only unauthenticated API route
	api.POST("/auth", authHandler.Login)

	authed := api.Group("")
	authed.Use(middleware.RequireSession(config.Auth))
	authed.Use(middleware.RateLimitBySession(config.Limiter, ratelimit.LimitTypeRequest))
	{
		authed.GET("/auth", authHandler.Session)
		authed.DELETE("/auth", authHandler.Logout)

		// GET /api/commands - Engine command registry
		authed.GET("/commands", engineHandler.Commands)

		// /api/<resource>/:action[/:id] - Engine commands; the registry
		// decides which method each action accepts.
		for _, resource := range config.Dispatcher.Registry().Resources() {
			group := authed.Group("/" + resource)
			dispatch := engineHandler.Dispatch(resource)
			for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete} {
				group.Handle(method, "/:action", dispatch)
				group.Handle(method, "/:action/:id", dispatch)
			}
		}

		if config.OneFlow != nil {
			registerServiceRoutes(authed, handlers.NewServiceHandler(config.OneFlow))
		}

		registerSupportRoutes(authed, handlers.NewSupportHandler(config.Support))

		if config.Provision != nil {
			registerProvisionRoutes(authed, handlers.NewProvisionHandler(config.Provision), config.Limiter)
		}
	}

	return &Router{Engine: router, ipLimiter: ipLimiter}
}

func registerServiceRoutes(api *gin.RouterGroup, h *handlers.ServiceHandler) {
	services := api.Group("/service")
	{
		services.GET("", h.ListServices())
		services.GET("/:id", h.ShowService())
		services.DELETE("/:id", h.DeleteService())
		services.POST("/:id/action", h.ServiceAction())
		services.POST("/:id/scale", h.ScaleService())
		services.POST("/:id/role/:role/action", h.RoleAction())
	}

	templates := api.Group("/service_template")
	{
		templates.GET("", h.ListTemplates())
		templates.POST("", h.CreateTemplate())
		templates.GET("/:id", h.ShowTemplate())
		templates.PUT("/:id", h.UpdateTemplate())
		templates.DELETE("/:id", h.DeleteTemplate())
		templates.POST("/:id/action", h.InstantiateTemplate())
	}
}

func registerSupportRoutes(api *gin.RouterGroup, h *handlers.SupportHandler) {
	group := api.Group("/support")
	group.Use(h.RequireEnabled())
	{
		group.POST("/login", h.Login)
		group.DELETE("/login", h.Logout)
		group.GET("/tickets", h.ListTickets)
		group.POST("/tickets", h.CreateTicket)
		group.GET("/tickets/:id", h.ShowTicket)
		group.PUT("/tickets/:id", h.UpdateTicket)
	}
}

func registerProvisionRoutes(api *gin.RouterGroup, h *handlers.ProvisionHandler, limiter *ratelimit.Limiter) {
	jobLimit := middleware.RateLimitBySession(limiter, ratelimit.LimitTypeProvision)

	provisions := api.Group("/provision")
	{
		provisions.GET("", h.ListProvisions)
		provisions.POST("", jobLimit, h.CreateProvision)
		provisions.GET("/:id", h.ShowProvision)
		provisions.DELETE("/:id", jobLimit, h.DeleteProvision)
		provisions.GET("/:id/log", h.Log)

		provisions.GET("/job/:uuid", h.Job)
		provisions.DELETE("/job/:uuid", h.CancelJob)

		provisions.POST("/host/:action/:id", h.HostAction)
	}

	providers := api.Group("/provider")
	{
		providers.GET("", h.ListProviders)
		providers.GET("/:id", h.ShowProvider)
		providers.DELETE("/:id", h.DeleteProvider)
	}
}

func breakers(config *RouterConfig) []*upstream.Breaker {
	var out []*upstream.Breaker
	if config.OneFlow != nil {
		out = append(out, config.OneFlow.Breaker())
	}
	if config.Support.Enabled() {
		out = append(out, config.Support.Breaker())
	}
	return out
}
