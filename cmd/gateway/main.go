package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/smsrelay/smsrelay/internal/alert"
	"github.com/smsrelay/smsrelay/internal/api"
	"github.com/smsrelay/smsrelay/internal/circuitbreaker"
	"github.com/smsrelay/smsrelay/internal/config"
	"github.com/smsrelay/smsrelay/internal/db"
	"github.com/smsrelay/smsrelay/internal/metrics"
	"github.com/smsrelay/smsrelay/internal/observ"
	"github.com/smsrelay/smsrelay/internal/redis"
	"github.com/smsrelay/smsrelay/internal/relay"
	"github.com/smsrelay/smsrelay/internal/ses"
	"github.com/smsrelay/smsrelay/internal/smtp"
	"github.com/smsrelay/smsrelay/internal/sqs"
	"github.com/smsrelay/smsrelay/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting smsrelay gateway",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("transport", cfg.Transport),
	)

	if err := cfg.ValidateDelivery(); err != nil {
		// The relay still ingests and queues; it just cannot send until
		// the operator fixes the delivery settings.
		logger.Warn("delivery configuration incomplete, messages will queue",
			zap.Error(err),
		)
	}

	// Initialize database connection
	ctx := context.Background()
	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	logger.Info("database connection established",
		zap.String("host", cfg.DBHost),
		zap.Int("port", cfg.DBPort),
		zap.String("database", cfg.DBName),
	)

	queue := db.NewQueueStore(database, cfg.QueueMaxSize, logger)
	history := db.NewHistoryStore(database, cfg.HistoryRetention, cfg.HistoryMaxRecords, logger)

	// Redis backs duplicate suppression and rate limiting; the relay
	// degrades rather than refusing to start when it is down.
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, idempotency and rate limiting disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	}

	var idempotencyService *redis.IdempotencyService
	var rateLimiter *redis.RateLimiter
	if redisClient != nil {
		idempotencyService = redis.NewIdempotencyService(redisClient, logger)
		if cfg.RateLimit > 0 {
			rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
				Limit:  cfg.RateLimit,
				Window: cfg.RateLimitWindow,
			})
		}
		defer redisClient.Close()
	}

	// Outbound transport
	var transport relay.Transport
	switch cfg.Transport {
	case "ses":
		transport, err = ses.NewTransport(ctx, ses.Config{
			Region:    cfg.AWSRegion,
			FromEmail: cfg.SESFromEmail,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to create SES transport: %w", err)
		}
	default:
		transport = smtp.NewTransport(smtp.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			Timeout:  cfg.SMTPTimeout,
		}, logger)
	}

	breaker := circuitbreaker.New(circuitbreaker.DefaultConfig(cfg.Transport), logger)
	protected := circuitbreaker.NewProtectedTransport(transport, breaker, logger)

	// Delivery pipeline
	fromAddress := cfg.SMTPFrom
	if cfg.Transport == "ses" {
		fromAddress = cfg.SESFromEmail
	}
	settings := relay.NewSettingsStore(relay.DeliverySettings{
		Filter: relay.FilterRule{
			SenderContains: cfg.FilterSenderContains,
			BodyContains:   cfg.FilterBodyContains,
		},
		DeviceAlias: cfg.DeviceAlias,
		FromAddress: fromAddress,
		ToAddress:   cfg.SMTPTo,
	})

	deliverer := relay.NewDeliverer(settings, protected, history, logger)
	flusher := relay.NewFlusher(queue, deliverer, 2*cfg.SMTPTimeout, logger)
	service := relay.NewService(deliverer, queue, flusher, logger)

	// Operator alerting
	notifiers := []alert.Notifier{alert.NewLogNotifier(logger)}
	if cfg.AlertTopicARN != "" {
		snsNotifier, err := alert.NewSNSNotifier(ctx, cfg.AlertTopicARN, cfg.AWSRegion)
		if err != nil {
			logger.Warn("sns alerting unavailable", zap.Error(err))
		} else {
			notifiers = append(notifiers, snsNotifier)
		}
	}
	if cfg.AlertWebhook != "" {
		notifiers = append(notifiers, alert.NewWebhookNotifier(cfg.AlertWebhook, 10*time.Second, logger))
	}
	alerts := alert.NewFanout(logger, notifiers...)

	// Background flush worker: one startup flush for messages parked by
	// a previous run, then periodic drains.
	w := worker.New(service, alerts, worker.Config{
		FlushInterval: cfg.FlushInterval,
	}, logger)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	go w.Start(workerCtx)
	logger.Info("flush worker started")

	// Optional SQS ingest
	if cfg.SQSQueueURL != "" {
		consumer, err := sqs.NewConsumer(ctx, sqs.Config{
			Region:   cfg.AWSRegion,
			QueueURL: cfg.SQSQueueURL,
		}, service, logger)
		if err != nil {
			logger.Warn("sqs ingest unavailable", zap.Error(err))
		} else {
			go consumer.Start(workerCtx)
			logger.Info("sqs consumer started")
		}
	}

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute))
	r.Use(metrics.Middleware)

	// Custom logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	// API routes
	var handler *api.Handler
	if idempotencyService != nil {
		handler = api.NewHandlerWithIdempotency(logger, service, settings, queue, history, idempotencyService)
	} else {
		handler = api.NewHandler(logger, service, settings, queue, history)
	}
	r.Route("/v1", func(r chi.Router) {
		r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.SourceKeyFunc))

		r.Post("/messages", handler.CreateMessage)

		r.Get("/filter", handler.GetFilter)
		r.Put("/filter", handler.UpdateFilter)

		r.Post("/smtp/test", handler.TestSMTP)

		r.Get("/queue", handler.GetQueue)
		r.Post("/queue/flush", handler.FlushQueue)
		r.Delete("/queue", handler.ClearQueue)

		r.Get("/history", handler.ListHistory)
		r.Delete("/history/{id}", handler.DeleteHistoryRecord)
		r.Delete("/history", handler.ClearHistory)
	})

	// Health check with dependency detail
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]interface{}{
			"status":  "ok",
			"breaker": breaker.Stats(),
		}
		if err := database.Health(r.Context()); err != nil {
			status["status"] = "degraded"
			status["database"] = err.Error()
		}
		if redisClient != nil {
			if err := redisClient.Ping(r.Context()); err != nil {
				status["status"] = "degraded"
				status["redis"] = err.Error()
			}
			metrics.SetRedisConnections(redisClient.ActiveConnections())
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(status)
	})

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.Handler())

	// Setup HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		// Stop the background workers before the listener so an
		// in-flight flush is not cut off mid-message.
		workerCancel()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}
