// collector receives beacons, stores anonymized events, serves the dashboard API and
// runs the aggregation and retention cycles.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Wuchinator/beacon-analytics/internal/analytics"
	"github.com/Wuchinator/beacon-analytics/internal/anonymize"
	"github.com/Wuchinator/beacon-analytics/internal/auth"
	"github.com/Wuchinator/beacon-analytics/internal/config"
	"github.com/Wuchinator/beacon-analytics/internal/db/migrate"
	"github.com/Wuchinator/beacon-analytics/internal/event"
	"github.com/Wuchinator/beacon-analytics/internal/metrics"
	"github.com/Wuchinator/beacon-analytics/internal/query"
	"github.com/Wuchinator/beacon-analytics/pkg/kafka"
	"github.com/Wuchinator/beacon-analytics/pkg/logger"
	"github.com/Wuchinator/beacon-analytics/pkg/postgres"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {

	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log, err := logger.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		panic(fmt.Sprintf("Failed to create logger: %v", err))
	}
	defer log.Sync()

	log = logger.WithService(log, "collector")
	log.Info("Starting Collector",
		zap.String("environment", cfg.Environment),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("timezone", cfg.Collector.Location.String()),
		zap.Bool("kafka", cfg.KafkaEnabled()),
		zap.Bool("auth", cfg.AuthEnabled()),
	)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := postgres.New(postgres.Config{
		DSN:             cfg.Postgres.PostgresDSN(),
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
	}, log)
	if err != nil {
		log.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer db.Close()

	if cfg.AutoMigrate {
		if err := migrate.Run(cfg.Postgres.MigrateURL(), "up"); err != nil {
			log.Fatal("Failed to apply migrations", zap.Error(err))
		}
		log.Info("Migrations applied")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewDBStatsCollector(db.DB.DB, "postgres"),
	)
	m := metrics.New(registry)

	bufferOpts := []event.BufferOption{event.WithMetrics(m)}
	if cfg.KafkaEnabled() {
		producer, err := kafka.NewProducer(kafka.ProducerConfig{
			Brokers:          cfg.Kafka.Brokers,
			Topic:            cfg.Kafka.Topic,
			Retries:          cfg.Kafka.ProducerRetries,
			Timeout:          cfg.Kafka.ProducerTimeout,
			RequiredAcks:     cfg.Kafka.RequiredAcks,
			Compression:      cfg.Kafka.CompressionType,
			IdempotentWrites: cfg.Kafka.IdempotentWrites,
			MaxMessageBytes:  cfg.Kafka.MaxMessageBytes,
		}, log)
		if err != nil {
			log.Fatal("Failed to create Kafka producer", zap.Error(err))
		}
		defer producer.Close()
		bufferOpts = append(bufferOpts, event.WithPublisher(producer))
	}

	rawRetention := time.Duration(cfg.Retention.RawHours) * time.Hour

	eventRepo := event.NewRepository(db, log)
	buffer := event.NewBuffer(eventRepo, cfg.Collector.FlushDelay, log, bufferOpts...)
	eventService := event.NewService(anonymize.New(cfg.Collector.Location), buffer, event.ServiceConfig{
		MaxAge:         rawRetention,
		CountryHeaders: cfg.Collector.CountryHeaders,
	}, log)
	eventHandler := event.NewHandler(eventService, config.MaxBodyBytes, m, log)

	queryService := query.NewService(query.NewRepository(db, log), cfg.Collector.Location, config.ActiveVisitorWindow, log)
	queryHandler := query.NewHandler(queryService, log)

	analyticsService := analytics.NewService(analytics.NewRepository(db, log), analytics.Config{
		RawRetention:        rawRetention,
		AggregateRetention:  time.Duration(cfg.Retention.AggregateHours) * time.Hour,
		ActiveVisitorWindow: config.ActiveVisitorWindow,
		Location:            cfg.Collector.Location,
	}, m, log)
	scheduler := analytics.NewScheduler(log, true,
		analytics.AggregationJobs(analyticsService, cfg.Retention.AggregationInterval, cfg.Retention.RetentionInterval)...)

	authenticator := auth.New(auth.Config{
		PasswordHash: cfg.Auth.AdminPasswordHash,
		Secret:       []byte(cfg.Auth.JWTSecret),
		SessionTTL:   cfg.Auth.SessionTTL,
		SecureCookie: cfg.Environment == "production",
	}, log)

	router, err := newRouter(routes{
		events:         eventHandler,
		stats:          queryHandler,
		auth:           authenticator,
		health:         db,
		gatherer:       registry,
		allowedOrigins: cfg.Collector.AllowedOrigins,
		trustedProxies: cfg.Collector.TrustedProxies,
	}, log)
	if err != nil {
		log.Fatal("Failed to build router", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	schedulerCtx, stopScheduler := context.WithCancel(context.Background())
	scheduler.Start(schedulerCtx)

	go func() {
		log.Info("Starting HTTP server", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down Collector")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("HTTP shutdown timed out", zap.Error(err))
	}

	stopScheduler()
	scheduler.Wait()

	flushed := buffer.Flush(context.Background())
	log.Info("Collector stopped", zap.Int("flushed_events", flushed))
}
