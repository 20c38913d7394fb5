package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/callmonitor/courier/internal/config"
	"github.com/callmonitor/courier/internal/database"
	"github.com/callmonitor/courier/internal/modules/audit"
	"github.com/callmonitor/courier/internal/modules/webhook"
	pkgcron "github.com/callmonitor/courier/internal/pkg/cron"
	"github.com/callmonitor/courier/internal/pkg/deadletter"
	"github.com/callmonitor/courier/internal/pkg/jwt"
	pkgredis "github.com/callmonitor/courier/internal/pkg/redis"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App holds all application dependencies.
type App struct {
	cfg        *config.AppConfig
	router     *gin.Engine
	db         *gorm.DB
	redis      *pkgredis.Client
	signer     *jwt.Signer
	audit      *audit.Service
	dispatcher *webhook.Dispatcher
	webhooks   *webhook.Service
	sched      *pkgcron.Scheduler
	logger     *zap.Logger
	cancel     context.CancelFunc
}

// New initializes the application: DB, Redis buffer, services, jobs, routes.
func New(logger *zap.Logger, cfg *config.AppConfig) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	db, err := database.Connect(cfg, true)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	rc, err := pkgredis.Connect(cfg.Redis.URLValue())
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}

	signer, err := newSigner(cfg, logger)
	if err != nil {
		_ = rc.Close()
		return nil, err
	}

	return build(logger, cfg, db, rc, signer), nil
}

// build wires services around already opened connections.
func build(logger *zap.Logger, cfg *config.AppConfig, db *gorm.DB, rc *pkgredis.Client, signer *jwt.Signer) *App {
	buffer := deadletter.NewStore(rc)

	auditSvc := audit.NewService(db, buffer,
		audit.WithLogger(logger),
		audit.WithBufferTTL(cfg.Audit.DLQTTL),
	)
	dispatcher := webhook.NewDispatcher(db, buffer,
		webhook.WithLogger(logger),
		webhook.WithTimeout(cfg.Webhook.Timeout),
		webhook.WithRetryBackoff(cfg.Webhook.RetryBackoff),
		webhook.WithMaxFanout(cfg.Webhook.MaxFanout),
		webhook.WithResponseExcerpt(cfg.Webhook.ResponseExcerptBytes),
		webhook.WithHistoryTTL(cfg.Audit.DLQTTL),
	)
	webhookSvc := webhook.NewService(db, dispatcher, webhook.WithServiceLogger(logger))

	sched := pkgcron.New(pkgcron.WithLogger(logger))

	a := &App{
		cfg:        cfg,
		db:         db,
		redis:      rc,
		signer:     signer,
		audit:      auditSvc,
		dispatcher: dispatcher,
		webhooks:   webhookSvc,
		sched:      sched,
		logger:     logger,
		cancel:     func() {},
	}
	a.registerCronJobs()
	a.router = a.newRouter()
	a.registerRoutes()
	return a
}

func newSigner(cfg *config.AppConfig, logger *zap.Logger) (*jwt.Signer, error) {
	secret := cfg.JWTSecret
	if secret == "" {
		// Production refuses to start without one; see config validation.
		secret = uuid.NewString()
		logger.Warn("jwt_secret is empty, using a random per-process secret")
	}
	return jwt.NewSigner(secret)
}

// Start launches the background jobs.
func (a *App) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.sched.Start(ctx)
}

// Addr returns the listen address.
func (a *App) Addr() string { return fmt.Sprintf(":%d", a.cfg.Port) }

// Router returns the HTTP handler.
func (a *App) Router() http.Handler { return a.router }

// Dispatcher exposes the webhook dispatcher to in-process event producers.
func (a *App) Dispatcher() *webhook.Dispatcher { return a.dispatcher }

// Audit exposes the audit trail writer to in-process producers.
func (a *App) Audit() *audit.Service { return a.audit }

// Shutdown stops the jobs, waits for in-flight writes and deliveries, and
// closes the connections. Call it after the HTTP server has drained.
func (a *App) Shutdown() {
	a.cancel()
	a.sched.Wait()
	a.dispatcher.Wait()
	a.audit.Wait()

	if err := a.redis.Close(); err != nil {
		a.logger.Warn("close redis", zap.Error(err))
	}
	if sqlDB, err := a.db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			a.logger.Warn("close database", zap.Error(err))
		}
	}
}
