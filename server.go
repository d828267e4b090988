package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/procurement_backend/config"
	"github.com/mmdatafocus/procurement_backend/middlewares"
	"github.com/mmdatafocus/procurement_backend/models"
	"github.com/mmdatafocus/procurement_backend/workflow"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const defaultPort = "8080"

// services is built once the database is reachable. Until then app endpoints answer 503.
type services struct {
	db         *gorm.DB
	lifecycle  *workflow.Lifecycle
	allocator  *workflow.Allocator
	ledger     *workflow.Ledger
	reconciler *workflow.Reconciler
}

type api struct {
	logger *logrus.Logger
	svc    atomic.Pointer[services]
	// now is replaceable in tests.
	now func() time.Time
}

func newAPI(logger *logrus.Logger) *api {
	return &api{logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// RateLimiter is a fixed window limiter keyed by client IP.
// The client is attached once Redis is connected; until then requests pass.
type RateLimiter struct {
	client atomic.Pointer[redis.Client]
	limit  int64
	window time.Duration
}

func NewRateLimiter(limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:  limit,
		window: window,
	}
}

func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	client := rl.client.Load()
	if client == nil {
		c.Next()
		return
	}
	key := "ratelimit:" + c.ClientIP()

	count, err := client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		// Redis trouble must not take the API down.
		c.Next()
		return
	}
	if count == 1 {
		_ = client.Expire(c.Request.Context(), key, rl.window).Err()
	}
	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}
	c.Next()
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			logger.WithFields(logrus.Fields{
				"path":   c.FullPath(),
				"status": c.Writer.Status(),
			}).Error(c.Errors.String())
		}
	}
}

func (a *api) readinessGate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.svc.Load() == nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "service not ready"})
			return
		}
		c.Next()
	}
}

func newCorsConfig() cors.Config {
	corsConfig := cors.DefaultConfig()
	// In production require an explicit allowlist; elsewhere allow all.
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type",
		middlewares.HeaderUserId, middlewares.HeaderUserName,
		middlewares.HeaderGrantedTransitions, middlewares.HeaderCorrelationId)
	corsConfig.AddExposeHeaders("Content-Length", middlewares.HeaderCorrelationId)
	return corsConfig
}

func (a *api) routes(r *gin.Engine) {
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	g := r.Group("/", a.readinessGate(), middlewares.SessionMiddleware())
	g.POST("/catalog-windows", a.createCatalogWindowHandler)
	g.POST("/catalog-windows/:id/close", a.closeCatalogWindowHandler)
	g.POST("/requests", a.createDraftHandler)
	g.GET("/requests/:id", a.getRequestHandler)
	g.GET("/requests/:id/history", a.getRequestHistoryHandler)
	g.POST("/requests/:id/transition", a.transitionHandler)
	g.POST("/requests/:id/cancel", a.cancelHandler)
	g.POST("/requests/:id/receipt", a.receiptHandler)
	g.POST("/requests/:id/allocate", a.allocateHandler)
	g.POST("/lots", a.receiveLotHandler)
	g.DELETE("/lots/:id", a.voidLotHandler)
	g.POST("/internal/ops/reconcile", a.reconcileHandler)

	r.NoRoute(customNotFoundHandler)
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	a := newAPI(logger)

	// Start the HTTP server ASAP. Until DB/Redis are ready app endpoints return 503.
	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(cors.New(newCorsConfig()))

	// Optional rate limiting.
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	var rateLimiter *RateLimiter
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		rateLimiter = NewRateLimiter(envInt64("RATE_LIMIT_MAX_REQUESTS", 600), time.Duration(envInt64("RATE_LIMIT_WINDOW_SECONDS", 60))*time.Second)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())
	a.routes(r)

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	if rateLimiter != nil {
		rateLimiter.client.Store(config.GetRedisDB())
	}

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can block tables; SKIP_MIGRATIONS=true leaves schema changes to a separate job.
	if !config.SkipMigrations() {
		if err := models.MigrateTable(db); err != nil {
			log.Fatal(err)
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	var renderer workflow.Renderer
	if endpoint := strings.TrimSpace(os.Getenv("DOCUMENT_RENDERER_URL")); endpoint != "" {
		renderer = &workflow.HTTPRenderer{Endpoint: endpoint}
	}
	lifecycle := workflow.NewLifecycle(db, logger, config.GetRedisLock(), workflow.DefaultHooks(db, renderer)...)
	a.svc.Store(&services{
		db:         db,
		lifecycle:  lifecycle,
		allocator:  lifecycle.Allocator,
		ledger:     workflow.NewLedger(db, logger),
		reconciler: workflow.NewReconciler(db, logger),
	})

	// Outbox dispatcher publishes notifications after commit.
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	if config.DispatcherEnabled() {
		go workflow.NewOutboxDispatcher(db, logger).Run(dispatcherCtx)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
		"port": port,
	}).Info("procurement API ready")

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while we're draining.
	cancelDispatcher()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	config.ClosePubSub()
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

func envInt64(key string, def int64) int64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
