package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fjod/go_cart/merch-cart/internal/cart"
	"github.com/fjod/go_cart/merch-cart/internal/checkout"
	"github.com/fjod/go_cart/merch-cart/internal/config"
	"github.com/fjod/go_cart/merch-cart/internal/events"
	h "github.com/fjod/go_cart/merch-cart/internal/http"
	"github.com/fjod/go_cart/merch-cart/internal/poller"
	"github.com/fjod/go_cart/merch-cart/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	log := logrus.New()
	log.Formatter = &logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "severity",
			logrus.FieldKeyMsg:   "message",
		},
		TimestampFormat: time.RFC3339Nano,
	}
	log.Out = os.Stdout

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	} else {
		log.WithField("level", cfg.LogLevel).Warn("unknown log level, keeping info")
	}

	ctx := context.Background()
	store, err := openStorage(ctx, cfg, log)
	if err != nil {
		log.WithError(err).WithField("backend", cfg.StorageBackend).Fatal("failed to open cart storage")
	}
	defer store.Close()
	log.WithField("backend", cfg.StorageBackend).Info("cart storage ready")

	carts := cart.NewManager(store, cfg.PriceCatalog, log)

	// Checkout attempts go to Kafka only when brokers are configured.
	var recorder checkout.Recorder
	var completed *poller.Poller
	pollCtx, stopPolling := context.WithCancel(ctx)
	defer stopPolling()
	if len(cfg.KafkaBrokers) > 0 {
		publisher := events.NewPublisher(log, cfg.KafkaCheckoutTopic, cfg.KafkaBrokers...)
		defer publisher.Close()
		recorder = publisher

		completed = poller.NewPoller(carts, log, cfg.KafkaCompletedTopic, cfg.KafkaBrokers...)
		go completed.Run(pollCtx)
		log.WithField("brokers", cfg.KafkaBrokers).Info("kafka enabled")
	}

	client := checkout.NewClient(cfg.CheckoutURL, cfg.CheckoutTimeout, log)
	initiator := checkout.NewInitiator(client, recorder, log)

	router := h.NewRouter(h.RouterConfig{
		Carts:              carts,
		Checkout:           initiator,
		Catalog:            cfg.PriceCatalog,
		Log:                log,
		RequestTimeout:     cfg.RequestTimeout,
		MaxRequestBodySize: cfg.MaxRequestBodySize,
	})

	// WriteTimeout stays unset so the event stream is not cut off.
	srv := &http.Server{
		Addr:        ":" + cfg.HTTPPort,
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Infof("merch cart starting on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")
	stopPolling()
	if completed != nil {
		completed.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}

	log.Info("server exited")
}

func openStorage(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (storage.Storage, error) {
	switch cfg.StorageBackend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		})
		s := storage.NewRedis(client, cfg.RedisTTL)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := s.Ping(pingCtx); err != nil {
			s.Close()
			return nil, err
		}
		log.WithField("addr", cfg.RedisAddr).Info("redis ping succeeded")
		return s, nil

	case config.BackendMongo:
		db, err := storage.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			return nil, err
		}
		return storage.NewMongo(db), nil

	case config.BackendSQLite, config.BackendPostgres:
		var (
			s   *storage.SQL
			err error
		)
		if cfg.StorageBackend == config.BackendSQLite {
			s, err = storage.NewSQLite(cfg.SQLitePath)
		} else {
			s, err = storage.NewPostgres(&storage.Credentials{
				Host:     cfg.DBHost,
				Port:     cfg.DBPort,
				User:     cfg.DBUser,
				Password: cfg.DBPassword,
				DBName:   cfg.DBName,
			})
		}
		if err != nil {
			return nil, err
		}
		if err := s.RunMigrations(cfg.MigrationsPath); err != nil {
			s.Close()
			return nil, err
		}
		log.WithField("path", cfg.MigrationsPath).Info("migrations applied")
		return s, nil

	default:
		log.Warn("using in-memory cart storage, carts are lost on restart")
		return storage.NewMemory(), nil
	}
}
