package app

import (
	"net/http"

	"github.com/callmonitor/courier/internal/middleware"
	"github.com/callmonitor/courier/internal/modules/audit"
	"github.com/callmonitor/courier/internal/modules/system/core/health"
	"github.com/callmonitor/courier/internal/modules/tasks/crontask"
	"github.com/callmonitor/courier/internal/modules/webhook"
	"github.com/callmonitor/courier/internal/pkg/metrics"
	"github.com/callmonitor/courier/internal/pkg/response"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const apiPrefix = "/api/v1"

func (a *App) newRouter() *gin.Engine {
	if a.cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(a.logger.Named("HTTP")))
	router.Use(cors.New(corsConfig(a.cfg.AllowedOrigins, a.cfg.IsProduction())))
	return router
}

func (a *App) registerRoutes() {
	r := a.router
	authMW := middleware.Auth(a.signer)

	r.NoRoute(func(c *gin.Context) { response.NotFound(c) })
	r.NoMethod(func(c *gin.Context) { response.MethodNotAllowed(c) })

	metrics.MustRegister()
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	health.RegisterRoutes(r.Group(""), a.db, a.redis)

	api := r.Group(apiPrefix)
	api.Use(middleware.RateLimit(a.redis.Raw(), a.cfg.RateLimit))
	api.Use(middleware.Idempotence(a.redis.Raw()))
	api.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"data": "pong"}) })

	auditHandler := audit.NewHandler(a.audit)
	auditHandler.RegisterRoutes(api, authMW)
	webhook.NewHandler(a.webhooks, a.audit).RegisterRoutes(api, authMW)

	ops := api.Group("/ops", authMW, middleware.RequireOperator())
	auditHandler.RegisterOpsRoutes(ops)
	crontask.NewHandler(a.sched).RegisterOpsRoutes(ops)
}
