package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/waterpolo-stats/internal/amqp"
	"github.com/waterpolo-stats/internal/config"
	"github.com/waterpolo-stats/internal/handler"
	"github.com/waterpolo-stats/internal/kafka"
	"github.com/waterpolo-stats/internal/memstore"
	"github.com/waterpolo-stats/internal/metrics"
	"github.com/waterpolo-stats/internal/postgres"
	"github.com/waterpolo-stats/internal/reconcile"
	"github.com/waterpolo-stats/internal/redis"
	"github.com/waterpolo-stats/internal/service"
	"github.com/waterpolo-stats/internal/sqlite"
	"github.com/waterpolo-stats/internal/websocket"
	"github.com/waterpolo-stats/internal/worker"
)

// pinger is implemented by stores that can report reachability
type pinger interface {
	Ping(ctx context.Context) error
}

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		slog.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Log.SlogLevel(),
	}))
	slog.SetDefault(logger)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics
	recorder, metricsHandler, shutdownMetrics, err := metrics.Setup(ctx, metrics.TelemetryConfig{
		Enabled:     cfg.Metrics.Enabled,
		ServiceName: cfg.Metrics.ServiceName,
	})
	if err != nil {
		logger.Error("failed to set up metrics", "error", err)
		os.Exit(1)
	}

	// Durable store
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(cfg.WebSocket.MaxBroadcastsPerSecond, logger)
	go wsHub.Run()
	logger.Info("WebSocket hub initialized")

	opts := []service.Option{
		service.WithBroadcaster(wsHub),
		service.WithRecorder(recorder),
	}

	checks := []pinger{}
	if p, ok := store.(pinger); ok {
		checks = append(checks, p)
	}

	// Initialize Redis session cache
	if cfg.Redis.Enabled {
		logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		cache, err := redis.NewSessionCache(&cfg.Redis, logger)
		if err != nil {
			logger.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer cache.Close()
		opts = append(opts, service.WithCache(cache))
		checks = append(checks, cache)
		logger.Info("connected to Redis")
	}

	// Event feeds
	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		producer, err = kafka.NewProducer(&cfg.Kafka, recorder, logger)
		if err != nil {
			logger.Warn("failed to create Kafka producer, continuing without event feed", "error", err)
		} else {
			opts = append(opts, service.WithPublisher("kafka", producer))
		}
	}

	var publisher *amqp.Publisher
	if cfg.AMQP.Enabled {
		publisher, err = amqp.NewPublisher(&cfg.AMQP, recorder, logger)
		if err != nil {
			logger.Warn("failed to connect to RabbitMQ, continuing without it", "error", err)
		} else {
			opts = append(opts, service.WithPublisher("amqp", publisher))
		}
	}

	// Initialize services
	gameService := service.NewGameService(
		reconcile.NewReconciler(store, logger),
		store,
		&cfg.Game,
		logger,
		opts...,
	)
	wsHub.SetScoreboardSource(gameService.ScoreboardFor)

	// Resume games a previous process left in the cache
	if recovered, err := gameService.Recover(ctx); err != nil {
		logger.Warn("failed to recover live games", "error", err)
	} else if recovered > 0 {
		logger.Info("recovered live games", "count", recovered)
	}

	// Workers
	clockDriver := worker.NewClockDriver(gameService, &cfg.Clock, logger)
	if err := clockDriver.Start(ctx); err != nil {
		logger.Error("failed to start clock driver", "error", err)
		os.Exit(1)
	}

	autosaver := worker.NewAutosaver(gameService, &cfg.Autosave, logger)
	if cfg.Autosave.Enabled {
		if err := autosaver.Start(ctx); err != nil {
			logger.Error("failed to start autosaver", "error", err)
			os.Exit(1)
		}
	}

	// Initialize Kafka consumer for scorekeeper commands
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.CommandsTopic,
		)
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, gameService, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else if err := kafkaConsumer.Start(); err != nil {
			logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
			kafkaConsumer = nil
		} else {
			logger.Info("Kafka consumer started successfully")
		}
	}

	// Initialize HTTP handler
	httpHandler := handler.NewHandler(gameService, wsHub, recorder, logger)
	if metricsHandler != nil {
		httpHandler.SetMetricsHandler(metricsHandler)
	}
	httpHandler.SetReadinessCheck(func(ctx context.Context) error {
		for _, c := range checks {
			if err := c.Ping(ctx); err != nil {
				return err
			}
		}
		return nil
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port, "store", cfg.Store.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop accepting commands before the final save
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}
	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}
	if err := clockDriver.Stop(); err != nil {
		logger.Error("failed to stop clock driver", "error", err)
	}
	if err := autosaver.Stop(); err != nil {
		logger.Error("failed to stop autosaver", "error", err)
	}

	if saved, err := gameService.SaveDirty(shutdownCtx); err != nil {
		logger.Error("final save failed", "saved", saved, "error", err)
	} else {
		logger.Info("final save completed", "saved", saved)
	}

	wsHub.Stop()
	if producer != nil {
		if err := producer.Close(); err != nil {
			logger.Error("failed to close Kafka producer", "error", err)
		}
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Error("failed to close RabbitMQ publisher", "error", err)
		}
	}
	if err := shutdownMetrics(shutdownCtx); err != nil {
		logger.Error("failed to shutdown metrics", "error", err)
	}

	snap := recorder.Snapshot()
	logger.Info("server stopped",
		"merges", snap.Merges,
		"merge_failures", snap.MergeFailures,
		"clock_cycles", snap.ClockCycles,
		"actions", snap.Actions,
		"publish_errors", snap.PublishErrors,
	)
}

// openStore opens the configured entity store and returns its close function
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (reconcile.Store, func(), error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		repo, err := postgres.NewRepository(&cfg.Postgres, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := repo.RunMigrations(ctx); err != nil {
			repo.Close()
			return nil, nil, fmt.Errorf("running migrations: %w", err)
		}
		logger.Info("connected to PostgreSQL")
		return repo, repo.Close, nil

	case config.DriverSQLite:
		st, err := sqlite.Open(cfg.SQLite.Path, logger)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { st.Close() }, nil

	default:
		logger.Warn("using in-memory store, saved games are lost on exit")
		return memstore.New(), func() {}, nil
	}
}
