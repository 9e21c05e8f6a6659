package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"github.com/netrelay/dnsrelay/internal/adapters/cache"
	"github.com/netrelay/dnsrelay/internal/adapters/listener"
	"github.com/netrelay/dnsrelay/internal/adapters/repository"
	"github.com/netrelay/dnsrelay/internal/core/domain"
	"github.com/netrelay/dnsrelay/internal/core/ports"
	"github.com/netrelay/dnsrelay/internal/core/services"
	"github.com/netrelay/dnsrelay/internal/infrastructure/metrics"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("application failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	listenAddr := getEnv("RELAY_LISTEN_ADDR", "0.0.0.0:53")
	upstreamAddr := getEnv("RELAY_UPSTREAM_ADDR", "8.8.8.8:53")
	metricsAddr := getEnv("RELAY_METRICS_ADDR", ":9090")
	nsName := os.Getenv("RELAY_NS_NAME")
	nsIP := net.ParseIP(os.Getenv("RELAY_NS_IP"))
	localOnly := getEnv("RELAY_LOCAL_ONLY", "true") == "true"

	records := domain.NewRecordStore()
	filters := domain.NewFilterTable()

	var db *sql.DB
	var recordRepo ports.RecordRepository
	var filterRepo ports.FilterRepository
	dbURL := getEnv("RELAY_DATABASE_URL", "none")
	if dbURL != "none" {
		var err error
		db, err = sql.Open("pgx", dbURL)
		if err != nil {
			return err
		}
		db.SetMaxOpenConns(10)
		db.SetConnMaxLifetime(10 * time.Minute)
		defer func() { _ = db.Close() }()

		recRepo := repository.NewPostgresRecordRepository(db)
		filRepo := repository.NewPostgresFilterRepository(db)

		seedCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := seedStores(seedCtx, recRepo, filRepo, records, filters); err != nil {
			return fmt.Errorf("seed stores from postgres: %w", err)
		}
		recordRepo, filterRepo = recRepo, filRepo
		logger.Info("seeded stores from postgres",
			"records", len(records.Snapshot()),
			"filters", len(filters.Snapshot()),
		)

		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					metrics.DBConnectionsActive.Set(float64(db.Stats().InUse))
				}
			}
		}()
	}

	answerCache := cache.NewLayered(cache.NewL1(), nil)
	redisURL := os.Getenv("RELAY_REDIS_URL")
	if redisURL != "" {
		opts, err := goredis.ParseURL(redisURL)
		if err != nil {
			return fmt.Errorf("parse RELAY_REDIS_URL: %w", err)
		}
		l2 := cache.NewL2(goredis.NewClient(opts))
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := l2.Ping(pingCtx); err != nil {
			cancel()
			return fmt.Errorf("connect to redis at %s: %w", redisURL, err)
		}
		cancel()
		answerCache = cache.NewLayered(answerCache.L1, l2)
		go answerCache.RunInvalidationListener(ctx)
		logger.Info("connected to redis cache", "url", redisURL)
	}

	l, err := listener.Open(ctx, listenAddr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", listenAddr, err)
	}

	forwarding := services.NewForwarding()
	stopSweep := forwarding.RunSweepLoop(5 * time.Second)
	defer stopSweep()

	server, err := services.NewServer(l, records, filters, forwarding, answerCache, recordRepo, filterRepo, services.Config{
		UpstreamAddr: upstreamAddr,
		NSName:       nsName,
		NSIP:         nsIP,
		LocalOnly:    localOnly,
	}, logger)
	if err != nil {
		return err
	}

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Run() }()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(pingCtx); err != nil {
				http.Error(w, "database unreachable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	httpServer := &http.Server{
		Addr:              metricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	logger.Info("relaydns started",
		"listen_addr", l.LocalAddr().String(),
		"upstream_addr", upstreamAddr,
		"metrics_addr", metricsAddr,
		"local_only", localOnly,
	)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		_ = l.Close()
		<-serverErr
	case err := <-serverErr:
		if err != nil {
			return err
		}
		logger.Info("server stopped by command channel")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// seedStores loads the durable record/filter tables into the in-memory
// maps the query hot path reads from.
func seedStores(ctx context.Context, recRepo ports.RecordRepository, filRepo ports.FilterRepository, records *domain.RecordStore, filters *domain.FilterTable) error {
	recs, err := recRepo.LoadAll(ctx)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		records.Put(rec)
	}
	fils, err := filRepo.LoadAll(ctx)
	if err != nil {
		return err
	}
	for _, f := range fils {
		filters.Put(f.Domain, f.Mode)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
