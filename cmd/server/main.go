package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/example/trip-dispatch/internal/config"
	"github.com/example/trip-dispatch/internal/eta"
	"github.com/example/trip-dispatch/internal/event"
	"github.com/example/trip-dispatch/internal/geo"
	httpapi "github.com/example/trip-dispatch/internal/http"
	"github.com/example/trip-dispatch/internal/logging"
	"github.com/example/trip-dispatch/internal/matcher"
	"github.com/example/trip-dispatch/internal/notify"
	"github.com/example/trip-dispatch/internal/payments"
	"github.com/example/trip-dispatch/internal/pricing"
	"github.com/example/trip-dispatch/internal/storage"
	"github.com/example/trip-dispatch/internal/trip"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		panic(err)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	if cfg.RunMigrations && cfg.PGDSN != "" {
		runMigrations(cfg.PGDSN, logger)
	}

	// storage
	var store storage.TripStore
	var closeStore func() error
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		store = ps
		closeStore = ps.Close
	} else {
		logger.Warn("PG_DSN unset, using in-memory trip store")
		store = storage.NewMemoryStore()
	}

	// geo candidate source
	var source geo.CandidateSource
	var sink httpapi.LocationSink
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		rg := geo.NewRedisGeo(rc, cfg.RedisGeoKey)
		source, sink = rg, rg
		defer rg.Close()
	} else {
		logger.Warn("REDIS_ADDR unset, using in-memory geo index")
		idx := geo.NewIndex()
		source, sink = idx, idx
	}

	// event bus
	var bus event.Bus
	if len(cfg.KafkaBrokers) > 0 {
		kb := event.NewKafkaBus(cfg.KafkaBrokers, cfg.KafkaGroupID, logger)
		bus = kb
		defer kb.Close()
	} else {
		logger.Warn("KAFKA_BROKERS unset, using in-process event bus")
		bus = event.NewMemoryBus(logger)
	}

	// pricing with optional routing engine
	var etaCli eta.Client
	if cfg.OSRMEndpoint != "" {
		etaCli = eta.NewOSRMClient(cfg.OSRMEndpoint)
	}
	estimator := pricing.NewEstimator(cfg.Pricing, etaCli, eta.NewCache(5*time.Minute))

	// payments, optional
	var provider trip.PaymentProvider
	if key := os.Getenv("STRIPE_API_KEY"); key != "" {
		provider = payments.NewStripeClient(key)
	}

	trips := trip.NewService(store, bus, estimator, provider, cfg.Pricing.Currency, logger)

	offers := matcher.NewOfferBook()
	engine := matcher.NewEngine(source, trips, bus, offers, cfg.Matching, logger)
	engine.SpeedMps = cfg.Pricing.SpeedMps

	coord := matcher.NewCoordinator(engine, trips, bus, logger)
	if err := coord.Start(); err != nil {
		logger.Error("coordinator start failed", "error", err)
		os.Exit(1)
	}

	wsreg := notify.NewWSRegistry()
	var push *notify.PushClient
	if cfg.PushEndpoint != "" {
		push = notify.NewPushClient(cfg.PushEndpoint, cfg.PushKey)
	}
	if err := notify.NewNotifier(wsreg, push, logger).Start(bus); err != nil {
		logger.Error("notifier start failed", "error", err)
		os.Exit(1)
	}

	api := httpapi.NewServer(trips, engine, sink, bus, wsreg, logger)
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("trip-dispatch listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	coord.Stop()
	if closeStore != nil {
		_ = closeStore()
	}
}

func runMigrations(dsn string, logger *slog.Logger) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Error("migration db open error", "error", err)
		return
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_trips.sql"))
	if err != nil {
		logger.Error("migration read error", "error", err)
		return
	}
	if _, err := db.Exec(string(b)); err != nil {
		logger.Error("migration exec error", "error", err)
		return
	}
	logger.Info("migration applied", "file", "001_create_trips.sql")
}
