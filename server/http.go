package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"recnode/config"
	"recnode/constant"
	"recnode/dto"
	commandHandler "recnode/handler"
	"recnode/pkg/httpc"
	"recnode/pkg/rabbitmq"
	"recnode/pkg/storage"
	"recnode/pkg/store"
	"recnode/service"
)

func RunHttp(cfg *config.Config) {
	ctx, cancel := signal.NotifyContext(setupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Bool("isProduction", cfg.App.Environment == constant.EnvironmentProduction.String()).Send()
	if cfg.App.Environment == constant.EnvironmentProduction.String() {
		gin.SetMode(gin.ReleaseMode)
	}

	conn, err := config.NewRabbitMQConn(ctx, cfg.Queue)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("NewRabbitMQConn")
	}

	master, replica, err := config.NewRedisClients(ctx, cfg.Redis)
	if err != nil {
		zerolog.Ctx(ctx).Fatal().Err(err).Msg("NewRedisClients")
	}

	registry := prometheus.NewRegistry()
	counter := store.NewRequestCounter(registry)
	store.InstrumentClient(master, counter, "master")
	if replica != master {
		store.InstrumentClient(replica, counter, "replica")
	}
	clients := store.NewClients(master, replica)

	httpClient := httpc.NewClient(cfg.Recording.HttpTimeout, cfg.Recording.HttpRetryLimit)
	writer := storage.NewMinioWriter(cfg.Storage, cfg.MinIOBucket)
	liveService := service.NewLiveRecordService(clients, cfg.Recording.LiveTTL)
	fetcher := service.NewProbeFetcher(httpClient)
	scheduler := service.NewScheduler(cfg.Recording, clients, liveService, httpClient, fetcher, writer)

	go scheduler.Supervise(ctx)

	deps := commandHandler.ServiceDependencies{Scheduler: scheduler}
	commandConsumer := rabbitmq.NewConsumer(conn, cfg.Queue, cfg.Server.Workers, commandHandler.CommandHandler)
	go func() {
		if err := commandConsumer.Consume(ctx, deps); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("Command consumer error")
		}
	}()

	r := gin.Default()
	addHealth(r)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	addSessionRoutes(ctx, r, scheduler)

	handler := http.Server{
		Handler:           r,
		Addr:              fmt.Sprintf(":%s", cfg.Server.HttpPort),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("start http server")
		if err := handler.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
		}
	}()

	<-ctx.Done()
	zerolog.Ctx(ctx).Info().Msg("shutting down server")
	if err := handler.Shutdown(ctx); err != nil {
		zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
	}

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("server shutdown")
}

func addHealth(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})
}

func addSessionRoutes(ctx context.Context, r *gin.Engine, scheduler *service.Scheduler) {
	r.GET("/sessions/:id", func(c *gin.Context) {
		status, err := scheduler.Status(c.Param("id"))
		if errors.Is(err, service.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, status)
	})

	r.POST("/sessions/:id/cancel", func(c *gin.Context) {
		if err := scheduler.Cancel(c.Param("id")); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
	})

	r.POST("/sessions/:id/validate", func(c *gin.Context) {
		var req dto.ValidateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		validator, nums := scheduler.NewValidator(c.Param("id"))
		ok := validator.ValidateSegments(ctx, req.Segments, nums)
		c.JSON(http.StatusOK, dto.ValidateResponse{Ok: ok})
	})
}

func setupLogger(cfg *config.Config) context.Context {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.App.Environment == constant.EnvironmentDevelop.String() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	// Log to standard output
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	ctx := logger.WithContext(context.Background())

	return ctx
}
