package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"catalog-svc/cache"
	"catalog-svc/config"
	"catalog-svc/database"
	"catalog-svc/handlers"
	"catalog-svc/imagestore"
	"catalog-svc/kafka"
	"catalog-svc/middleware"
	"catalog-svc/repository"
	"catalog-svc/sweeper"

	"github.com/IBM/sarama"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

const serviceName = "catalog-service"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Initialize logger
	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	// Initialize OpenTelemetry
	shutdownTracing, err := middleware.InitTracing(serviceName, cfg.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}

	// Initialize database
	db, err := database.InitDB(cfg.DSN(), logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	if err := database.Migrate(cmd.Context(), db, logger); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}

	images, err := imagestore.NewOS(cfg.ImageDir, logger)
	if err != nil {
		logger.Fatal("Failed to initialize image store", zap.Error(err))
	}

	repo := repository.NewProductRepository(db)
	var opts []handlers.Option

	// Redis and Kafka are optional
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient, err = cache.InitRedis(cfg.RedisAddr, cfg.RedisPassword, logger)
		if err != nil {
			logger.Fatal("Failed to initialize Redis", zap.Error(err))
		}
		opts = append(opts, handlers.WithCache(cache.NewProductCache(redisClient, cfg.CacheTTL)))
	}

	var producer sarama.SyncProducer
	if cfg.KafkaBroker != "" {
		producer, err = kafka.InitProducer(cfg.KafkaBroker, logger)
		if err != nil {
			logger.Fatal("Failed to initialize Kafka producer", zap.Error(err))
		}
		opts = append(opts, handlers.WithEvents(kafka.NewPublisher(producer, cfg.KafkaTopic, logger)))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var sweepCron *cron.Cron
	if cfg.ImageSweepSchedule != "" {
		sweepCron, err = newSweeper(repo, images, cfg, logger).Schedule(ctx, cfg.ImageSweepSchedule)
		if err != nil {
			logger.Fatal("Failed to schedule image sweep", zap.Error(err))
		}
		logger.Info("Image sweep scheduled", zap.String("schedule", cfg.ImageSweepSchedule))
	}

	productHandler := handlers.NewProductHandler(repo, images, logger, opts...)
	router := setupRouter(cfg, productHandler, images, logger)

	// Start server
	restSrv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: router,
	}

	go func() {
		if err := restSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Catalog Service REST API started", zap.String("addr", cfg.Addr()))

	<-ctx.Done()
	gracefulShutdown(restSrv, sweepCron, db, redisClient, producer, shutdownTracing, logger)
	return nil
}

func setupRouter(cfg *config.Config, productHandler *handlers.ProductHandler, images *imagestore.Store, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.MaxMultipartMemory = cfg.MaxUploadBytes
	router.Use(gin.Recovery())
	// OpenTelemetry middleware must be first to extract trace context
	router.Use(otelgin.Middleware(serviceName))
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.MetricsMiddleware())
	router.Use(cors.Default())

	// Health check endpoint
	router.GET("/health", handlers.HealthCheck)

	// Metrics endpoint
	router.GET("/metrics", middleware.PrometheusHandler())

	// Uploaded images
	router.StaticFS(imagestore.URLPrefix, images.FileSystem())

	// Product endpoints
	productHandler.Register(router.Group("/products", middleware.BodyLimit(cfg.MaxUploadBytes)))

	return router
}

func newSweeper(repo *repository.ProductRepository, images *imagestore.Store, cfg *config.Config, logger *zap.Logger) *sweeper.Sweeper {
	sw := sweeper.New(repo, images, cfg.ImageSweepGrace, logger)
	sw.OnRemove = func(outcome imagestore.RemoveOutcome) {
		middleware.RecordImageCleanup("sweep", outcome.String())
	}
	return sw
}

// gracefulShutdown stops accepting requests and closes every collaborator
func gracefulShutdown(
	restSrv *http.Server,
	sweepCron *cron.Cron,
	db *sql.DB,
	redisClient *redis.Client,
	producer sarama.SyncProducer,
	shutdownTracing func(),
	logger *zap.Logger,
) {
	logger.Info("Shutdown signal received. Exiting...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Stop REST server
	if err := restSrv.Shutdown(ctx); err != nil {
		logger.Error("REST server forced to shutdown", zap.Error(err))
	} else {
		logger.Info("REST server stopped gracefully")
	}

	// Wait for a running sweep
	if sweepCron != nil {
		select {
		case <-sweepCron.Stop().Done():
		case <-ctx.Done():
			logger.Warn("Image sweep still running at shutdown")
		}
	}

	if producer != nil {
		if err := producer.Close(); err != nil {
			logger.Error("Failed to close Kafka producer", zap.Error(err))
		}
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("Failed to close Redis cache", zap.Error(err))
		}
	}

	// Close database
	if err := db.Close(); err != nil {
		logger.Error("Failed to close database", zap.Error(err))
	} else {
		logger.Info("Database connection closed gracefully")
	}

	// Shutdown tracing
	shutdownTracing()
	logger.Info("Catalog Service exited gracefully")
}
