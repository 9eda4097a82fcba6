package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/obialo/tutornotify/internal/adapters"
	"github.com/obialo/tutornotify/internal/config"
	"github.com/obialo/tutornotify/internal/directory"
	"github.com/obialo/tutornotify/internal/dispatch"
	"github.com/obialo/tutornotify/internal/handlers"
	"github.com/obialo/tutornotify/internal/metrics"
	"github.com/obialo/tutornotify/internal/middleware"
	"github.com/obialo/tutornotify/internal/push"
	"github.com/obialo/tutornotify/internal/queue"
	"github.com/obialo/tutornotify/internal/resolve"
	"github.com/obialo/tutornotify/internal/scheduler"
	"github.com/obialo/tutornotify/internal/store"
	"github.com/obialo/tutornotify/internal/track"
	"github.com/obialo/tutornotify/internal/worker"
	redispkg "github.com/obialo/tutornotify/pkg/redis"
	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	rdb, err := redispkg.InitRedis(cfg.Redis)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	rabbit, err := queue.NewRabbitMqService(cfg.RabbitMQ)
	if err != nil {
		logger.Fatal("failed to connect to rabbitmq", zap.Error(err))
	}
	defer rabbit.CloseConnection()
	if err := rabbit.SetUpExchangeAndQueue(); err != nil {
		logger.Fatal("failed to set up rabbitmq topology", zap.Error(err))
	}

	st := store.NewStore(rdb, logger)
	tracker := track.NewTracker(st, logger)
	hub := push.NewHub(cfg.Sync.PushBufferLen, logger)
	defer hub.Close()

	dir := directory.NewClient(cfg.Directory.BaseURL, cfg.Directory.Timeout)
	resolver := resolve.NewResolver(dir, logger)

	sched := scheduler.NewScheduler(cfg.Redis, logger)
	defer sched.Close()

	inApp := adapters.NewInApp(st, hub, tracker, logger)
	dispatcher := dispatch.NewDispatcher(st, resolver, tracker, rabbit, inApp, sched, logger)

	schedWorker := scheduler.NewWorker(cfg.Redis, dispatcher, logger)
	if err := schedWorker.Start(); err != nil {
		logger.Fatal("failed to start scheduler worker", zap.Error(err))
	}
	defer schedWorker.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	emailWorker := worker.NewChannelWorker(rabbit, cfg.RabbitMQ.EmailQueue,
		adapters.NewEmail(cfg.Channels.EmailGatewayURL), tracker, logger)
	smsWorker := worker.NewChannelWorker(rabbit, cfg.RabbitMQ.SmsQueue,
		adapters.NewSms(cfg.Channels.SmsGatewayURL), tracker, logger)
	go func() {
		if err := emailWorker.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("email worker stopped", zap.Error(err))
		}
	}()
	go func() {
		if err := smsWorker.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("sms worker stopped", zap.Error(err))
		}
	}()

	admin := handlers.NewAdminHandler(dispatcher, st, tracker, logger)
	feed := handlers.NewFeedHandler(st, tracker, hub, logger)
	health := handlers.NewHealthHandler(rabbit, rdb, dir)

	r := gin.New()
	r.Use(gin.Recovery(), middleware.CorrelationID())

	r.GET("/health", health.HealthCheck)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api", middleware.AuthMiddleware(cfg.Auth.JWTSecret))
	{
		api.GET("/notifications", feed.List)
		api.GET("/notifications/stream", feed.Stream)
		api.POST("/notifications/:id/read", feed.MarkRead)
		api.POST("/notifications/read-all", feed.ReadAll)
		api.DELETE("/notifications/:id", feed.Delete)

		adminGroup := api.Group("/admin", middleware.RequireRole("admin"))
		{
			adminGroup.POST("/notifications", admin.CreateNotification)
			adminGroup.POST("/notifications/:id/resend", admin.ResendNotification)
			adminGroup.GET("/notifications/:id/stats", admin.NotificationStats)
			adminGroup.POST("/templates", admin.SaveTemplate)
			adminGroup.GET("/templates", admin.ListTemplates)
			adminGroup.DELETE("/templates/:name", admin.DeleteTemplate)
			adminGroup.POST("/templates/preview", admin.PreviewTemplate)
		}
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: 0, // SSE streams stay open
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
}
