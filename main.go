package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/streadway/amqp"

	"qrhub/internal/archive"
	"qrhub/internal/cache"
	"qrhub/internal/config"
	"qrhub/internal/handlers"
	"qrhub/internal/logging"
	"qrhub/internal/qr"
	"qrhub/internal/repositories"
	"qrhub/internal/services"
	"qrhub/internal/worker"
	"qrhub/pkg/rabbitmq"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logging.New(os.Stdout, cfg.App.LogLevel)
	ctx := context.Background()
	log.Info(ctx, "starting qrhub", "config", cfg.String())

	app, cleanup, err := newServer(ctx, cfg, log)
	if err != nil {
		log.Error(ctx, "failed to initialize server", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	// Graceful shutdown handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info(ctx, "listening", "addr", cfg.App.Port)
		if err := app.Listen(cfg.App.Port); err != nil {
			log.Error(ctx, "server stopped", "error", err)
			quit <- syscall.SIGTERM
		}
	}()

	<-quit
	log.Info(ctx, "shutting down server")
	if err := app.Shutdown(); err != nil {
		log.Error(ctx, "error during fiber shutdown", "error", err)
	}
	log.Info(ctx, "server gracefully stopped")
}

// newServer wires storage, the QR pipeline and the optional cache, archive
// and event publisher into a Fiber app. cleanup releases everything that
// was opened, in reverse order.
func newServer(ctx context.Context, cfg *config.Config, log logging.Logger) (app *fiber.App, cleanup func(), err error) {
	var closers []func()
	cleanup = func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	defer func() {
		if err != nil {
			cleanup()
		}
	}()

	store, err := repositories.NewStore(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("storage: %w", err)
	}
	closers = append(closers, func() { _ = store.Close() })
	checks := []handlers.HealthCheck{{Name: "database", Ping: store.Ping}}

	encoder, err := qr.NewEncoder(qr.EncoderOptions{
		MaxVersion: cfg.QR.MaxVersion,
		ModuleSize: cfg.QR.ModuleSize,
		QuietZone:  cfg.QR.QuietZone,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("qr encoder: %w", err)
	}

	opts := services.QRServiceOptions{
		DecodeTimeout: cfg.Decode.Timeout,
		Logger:        log.With("component", "qr"),
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		closers = append(closers, func() { _ = rdb.Close() })
		pngCache := cache.NewPNGCache(rdb, encoder.Variant(), cfg.Redis.TTL)
		opts.Cache = pngCache
		checks = append(checks, handlers.HealthCheck{Name: "redis", Ping: pngCache.Ping})
	}

	if cfg.S3.Bucket != "" {
		a, err := archive.NewS3Archive(ctx, cfg.S3)
		if err != nil {
			return nil, nil, fmt.Errorf("s3 archive: %w", err)
		}
		opts.Archive = a
	}

	if cfg.RabbitMQ.URL != "" {
		mq, err := rabbitmq.NewClient(rabbitmq.Config{
			URL:      cfg.RabbitMQ.URL,
			Exchange: cfg.RabbitMQ.Exchange,
			Queue:    cfg.RabbitMQ.Queue,
		}, log.With("component", "rabbitmq"))
		if err != nil {
			return nil, nil, fmt.Errorf("rabbitmq: %w", err)
		}
		closers = append(closers, func() { _ = mq.Close() })
		opts.Events = mq

		if cfg.RabbitMQ.Consume {
			if err := mq.ConsumeEvents(auditHandler(log.With("component", "audit"))); err != nil {
				return nil, nil, fmt.Errorf("rabbitmq consumer: %w", err)
			}
		}
	}

	authService := services.NewAuthService(store.Accounts, cfg.Auth, services.WithAuthLogger(log.With("component", "auth")))
	qrService := services.NewQRService(
		store.Accounts,
		store.Records,
		encoder,
		qr.NewDecoder(cfg.Decode.MaxImagePixels),
		worker.New(cfg.Decode.Workers, log.With("component", "worker")),
		opts,
	)

	app = handlers.NewApp(handlers.Dependencies{
		Config:       cfg,
		AuthService:  authService,
		QRService:    qrService,
		Logger:       log.With("component", "http"),
		AccessLog:    os.Stdout,
		HealthChecks: checks,
	})
	return app, cleanup, nil
}

// auditHandler logs every QR event delivered to the audit queue. Messages
// that are not QR events are rejected.
func auditHandler(log logging.Logger) func(amqp.Delivery) error {
	return func(msg amqp.Delivery) error {
		var event services.QREvent
		if err := json.Unmarshal(msg.Body, &event); err != nil {
			return fmt.Errorf("decode qr event: %w", err)
		}
		if event.Type == "" {
			return fmt.Errorf("qr event %s has no type", msg.MessageId)
		}
		log.Info(context.Background(), "qr event",
			"id", event.ID,
			"type", event.Type,
			"record_id", event.RecordID,
			"username", event.Username,
			"content_length", event.ContentLength,
			"occurred_at", event.OccurredAt,
		)
		return nil
	}
}
