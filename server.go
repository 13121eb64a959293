package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/billing_backend/config"
	"github.com/mmdatafocus/billing_backend/models"
	"github.com/mmdatafocus/billing_backend/syncengine"
	"github.com/mmdatafocus/billing_backend/utils"
	"github.com/mmdatafocus/billing_backend/webhooks"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// spoolMiddleware attaches a fresh write spool to every request and flushes
// it after the handler finishes. Mutations performed by the request are
// coalesced in the spool and become durable write jobs on flush.
func spoolMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Sync-run and write-job scopes stay sink-less: records imported from
		// a provider must not echo back out as write jobs, and outbound write
		// processing mutates nothing locally.
		switch c.Request.URL.Path {
		case "/pubsub/sync-run", "/pubsub/write-job":
			c.Next()
			return
		}
		spool := syncengine.NewRequestSpool()
		c.Request = c.Request.WithContext(models.SinkIntoContext(c.Request.Context(), spool))
		c.Next()
		if err := spool.Close(c.Request.Context()); err != nil {
			config.LogError(config.GetLogger(), "server.go", "spoolMiddleware",
				"failed to flush write spool", nil, err)
		}
	}
}

func ensurePubSubResources(logger *logrus.Logger) {
	client, err := config.GetClient(context.Background())
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "pubsub"}).Warn("pubsub bootstrap skipped: " + err.Error())
		return
	}
	topics := []string{
		syncengine.SyncRunTopicName(),
		syncengine.WriteJobTopicName(),
		webhooks.WebhookJobTopicName(),
	}
	for _, name := range topics {
		topic, err := config.CreateTopicIfNotExists(client, name)
		if err != nil {
			logger.WithFields(logrus.Fields{"field": "pubsub", "topic": name}).Warn("failed to ensure topic: " + err.Error())
			continue
		}
		if _, err := config.CreateSubscriptionIfNotExists(client, name+"-sub", topic); err != nil {
			logger.WithFields(logrus.Fields{"field": "pubsub", "topic": name}).Warn("failed to ensure subscription: " + err.Error())
		}
	}
}

func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, app endpoints return 503.
	r := gin.New()
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
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
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization", "X-Business-Id")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())
	r.Use(spoolMiddleware())

	// Gateway webhook ingress.
	r.POST("/webhooks/stripe", webhooks.IngressHandler(models.GatewayStripe))
	r.POST("/webhooks/braintree", webhooks.IngressHandler(models.GatewayBraintree))

	// Pub/Sub push delivery.
	r.POST("/pubsub/sync-run", syncengine.SyncRunPushHandler())
	r.POST("/pubsub/write-job", syncengine.WriteJobPushHandler())
	r.POST("/pubsub/webhook-job", webhooks.JobPushHandler())

	// Integration management API.
	integrations := r.Group("/integrations")
	integrations.GET("/:provider/status", syncengine.StatusHandler())
	integrations.POST("/connect", syncengine.ConnectHandler())
	integrations.POST("/:provider/disconnect", syncengine.DisconnectHandler())
	integrations.POST("/sync", syncengine.TriggerSyncHandler())
	integrations.POST("/:provider/resync", syncengine.ResyncRecordHandler())
	integrations.GET("/:provider/runs", syncengine.SyncHistoryHandler())
	integrations.GET("/runs/:id", syncengine.SyncRunDetailHandler())
	integrations.POST("/runs/:id/retry", syncengine.RetrySyncRunHandler())

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can run DDL that blocks tables; allow running migrations as
	// a separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Local/dev bootstrap: the Pub/Sub emulator starts empty. Production
	// topics and push subscriptions are provisioned outside the service.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		go ensurePubSubResources(logger)
	}

	// Start the write-job outbox dispatcher (publishes AFTER commit).
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	go syncengine.NewWriteJobDispatcher(db, logger).Run(dispatcherCtx)

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on port ", port)
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers before draining so they don't claim new jobs.
	cancelDispatcher()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}
