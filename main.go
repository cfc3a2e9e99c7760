package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"festival-ticketing/internal/analytics"
	analytics_api "festival-ticketing/internal/analytics/api"
	"festival-ticketing/internal/auth"
	"festival-ticketing/internal/config"
	"festival-ticketing/internal/database/migrations"
	"festival-ticketing/internal/kafka"
	"festival-ticketing/internal/logger"
	"festival-ticketing/internal/metrics"
	"festival-ticketing/internal/notify"
	"festival-ticketing/internal/order"
	"festival-ticketing/internal/order/db"
	"festival-ticketing/internal/order/discount"
	"festival-ticketing/internal/order/order_api"
	rediswrap "festival-ticketing/internal/order/redis"
	"festival-ticketing/internal/payment/gateway"
	"festival-ticketing/internal/reconcile"
	"festival-ticketing/internal/scheduler"
	"festival-ticketing/internal/sse"
	"festival-ticketing/internal/tickets"
	"festival-ticketing/internal/tickets/qr"
	"festival-ticketing/internal/tickets/template"
	"festival-ticketing/internal/worker"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

func connectPostgres(cfg config.DatabaseConfig, log *logger.Logger) *sql.DB {
	var sqldb *sql.DB
	var err error
	maxRetries := 5

	for i := 0; i < maxRetries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", cfg.DSN)
		if err != nil {
			log.Error("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
			time.Sleep(2 * time.Second)
			continue
		}

		err = sqldb.Ping()
		if err == nil {
			break
		}

		log.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		sqldb.Close()
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}

	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}

	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.MaxLifetime)
	log.Info("DATABASE", "PostgreSQL connection successful")
	return sqldb
}

// migrate runs on its own connection because the runner closes it.
func migrate(cfg config.DatabaseConfig, log *logger.Logger) {
	sqldb, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		log.Fatal("MIGRATE", fmt.Sprintf("Failed to open migration connection: %v", err))
	}
	runner := migrations.NewRunner(sqldb, migrations.MigrateOptions{}, log)
	defer runner.Close()
	if err := runner.RunMigrations(); err != nil {
		log.Fatal("MIGRATE", err.Error())
	}
}

func connectRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) *redis.Client {
	if !cfg.Enabled {
		log.Warn("REDIS", "Redis disabled, gateway tokens are cached in memory and jobs are not locked across replicas")
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatal("REDIS", fmt.Sprintf("Redis connection error: %v", err))
	}
	log.Info("REDIS", fmt.Sprintf("Redis connection successful to %s (DB: %d)", cfg.Addr, cfg.DB))
	return client
}

func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.LogAPI(r.Method, r.URL.Path, ww.Status(), time.Since(start))
		})
	}
}

func main() {
	envErr := godotenv.Load()
	cfg := config.Load()

	log, err := logger.NewLogger(logger.Options{
		Dir:      cfg.Log.Dir,
		Service:  "festival-ticketing",
		MinLevel: logger.ParseLevel(cfg.Log.Level),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	if envErr != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	}
	log.Info("APP", "Starting festival ticketing service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Database.AutoMigrate {
		migrate(cfg.Database, log)
	}
	sqldb := connectPostgres(cfg.Database, log)
	bunDB := bun.NewDB(sqldb, pgdialect.New())
	defer bunDB.Close()
	store := db.New(bunDB)

	redisClient := connectRedis(ctx, cfg.Redis, log)
	var tokens gateway.TokenStore = gateway.NewMemoryTokenStore()
	var jobLock scheduler.JobLock
	if redisClient != nil {
		defer redisClient.Close()
		tokens = gateway.NewRedisTokenStore(redisClient)
		jobLock = rediswrap.NewRedis(redisClient, cfg.Scheduler.LockTTL, log)
	}

	hub := sse.NewOrderStatusHub()
	var publisher kafka.Publisher = kafka.NewLogPublisher(log)
	var events order.EventPublisher
	var statusHub order.StatusBroadcaster = hub
	var consumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, log)
		defer producer.Close()

		topics := []string{cfg.Kafka.Topics.OrderEvents, cfg.Kafka.Topics.Notifications}
		if err := kafka.EnsureTopicsExist(ctx, cfg.Kafka.Brokers, topics, log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		publisher = producer
		events = kafka.NewOrderEventStream(producer, cfg.Kafka.Topics.OrderEvents)

		// every replica relays the topic into its own hub, so the service
		// must not emit locally as well
		host, _ := os.Hostname()
		consumer = kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.OrderEvents, cfg.Kafka.StatusGroupPrefix+"-"+host, log)
		statusHub = nil
	} else {
		log.Warn("KAFKA", "Kafka disabled, notifications are only logged")
	}

	gw := gateway.New(cfg.Gateway, tokens, log)
	notifier := notify.NewKafkaNotifier(publisher, cfg.Kafka.Topics.Notifications, cfg.Frontend.BaseURL, log)
	generator := tickets.NewGenerator(
		qr.NewQRGenerator(cfg.Tickets.QRSecret),
		tickets.NewLocalStorage(cfg.Tickets.Dir, cfg.Tickets.BaseURL),
		log,
	)
	if cfg.Tickets.PDF {
		generator.WithPDF(template.NewTicketPDFGenerator(cfg.Tickets.FontPath), cfg.Tickets.Festival)
	}
	promos := discount.NewPromoService(store, log, nil)

	orderService := order.NewOrderService(order.Deps{
		DB:       store,
		Gateway:  gw,
		Promos:   promos,
		Tickets:  generator,
		Notifier: notifier,
		Events:   events,
		Hub:      statusHub,
		URLs:     order.URLs{PublicURL: cfg.Server.PublicURL, FrontendURL: cfg.Frontend.BaseURL},
		Logger:   log,
	})
	reconciler := reconcile.NewHandler(store, orderService, gw, log)

	pool := worker.NewPool(store, orderService, cfg.Fulfillment, log, nil)
	sched := scheduler.New(scheduler.Deps{
		Store:  store,
		Sender: notifier,
		Orders: orderService,
		Tasks:  pool,
		Lock:   jobLock,
		Config: cfg.Scheduler,
		Logger: log,
	})

	verifier, err := auth.NewVerifier(ctx, cfg.Auth)
	if err != nil {
		log.Fatal("AUTH", fmt.Sprintf("Admin authentication not configured: %v", err))
	}

	handler := order_api.NewHandler(orderService, reconciler, promos, hub, sched, log)
	analyticsHandler := analytics_api.NewHandler(analytics.NewService(analytics.NewDB(bunDB)), log, nil)

	log.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.Frontend.BaseURL},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Handle("/metrics", metrics.Handler())
	r.Handle("/tickets/*", http.StripPrefix("/tickets/", http.FileServer(http.Dir(cfg.Tickets.Dir))))
	handler.RegisterRoutes(r, verifier, analyticsHandler.RegisterRoutes)
	log.Info("ROUTER", "Order, payment and admin routes registered under /api")

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	pool.Start(ctx)
	sched.Start(ctx)
	if consumer != nil {
		go func() {
			if err := consumer.Run(ctx, hub.Emit); err != nil {
				log.Error("KAFKA", fmt.Sprintf("Order event consumer stopped: %v", err))
			}
		}()
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("Festival ticketing running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	}
	pool.Wait()
	sched.Wait()
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Consumer close: %v", err))
		}
	}
	log.Info("APP", "Festival ticketing shutdown complete")
}
