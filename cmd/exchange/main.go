package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	clientv3 "go.etcd.io/etcd/client/v3"
	"golang.org/x/sync/errgroup"

	"github.com/terminal-bench/timemarket/internal/archive"
	"github.com/terminal-bench/timemarket/internal/auth"
	"github.com/terminal-bench/timemarket/internal/config"
	"github.com/terminal-bench/timemarket/internal/exchange"
	"github.com/terminal-bench/timemarket/internal/gateway"
	"github.com/terminal-bench/timemarket/internal/governor"
	"github.com/terminal-bench/timemarket/internal/ledger"
	"github.com/terminal-bench/timemarket/internal/params"
	"github.com/terminal-bench/timemarket/internal/registry"
	"github.com/terminal-bench/timemarket/internal/session"
	"github.com/terminal-bench/timemarket/internal/stream"
	"github.com/terminal-bench/timemarket/internal/telemetry"
	"github.com/terminal-bench/timemarket/pkg/circuit"
	"github.com/terminal-bench/timemarket/pkg/messaging"
	"github.com/terminal-bench/timemarket/pkg/payments"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Stores
	paramStore := params.NewStore(cfg.Operator, params.Parameters{
		Tariff:              cfg.Tariff,
		AccountCeiling:      cfg.AccountCeiling,
		FeePercent:          cfg.FeePercent,
		CompensationPercent: cfg.CompensationPercent,
		GlobalCap:           cfg.GlobalCap,
	})
	ledgerStore := ledger.NewStore()
	listingRegistry := registry.NewRegistry()
	sessionTracker := session.NewTracker()

	// Messaging (optional)
	var msgClient *messaging.Client
	if cfg.NATSURL != "" {
		msgClient, err = messaging.NewClient(messaging.Config{
			URL:           cfg.NATSURL,
			Name:          "timemarket-exchange",
			ReconnectWait: time.Second,
			MaxReconnects: 10,
		})
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
		defer msgClient.Close()
	}

	// Payments: in-process bank behind a circuit breaker
	bank := payments.NewMemoryBank()
	paymentGateway := payments.NewBreakerGateway(bank, circuit.Config{
		Name:        "payments",
		MaxFailures: 5,
		Timeout:     30 * time.Second,
		HalfOpenMax: 3,
	})

	engine := exchange.NewEngine(exchange.Config{
		Params:      paramStore,
		Ledger:      ledgerStore,
		Registry:    listingRegistry,
		Sessions:    sessionTracker,
		Payments:    paymentGateway,
		Messaging:   msgClient,
		SessionUnit: cfg.SessionUnit,
	})

	// Parameter mirror (optional)
	var mirror *governor.Mirror
	if len(cfg.EtcdEndpoints) > 0 {
		etcdClient, err := clientv3.New(clientv3.Config{
			Endpoints:   cfg.EtcdEndpoints,
			DialTimeout: 5 * time.Second,
		})
		if err != nil {
			log.Fatalf("Failed to connect to etcd: %v", err)
		}
		defer etcdClient.Close()
		mirror = governor.NewMirror(etcdClient, governor.DefaultParamsKey)
	}

	gov := governor.New(paramStore, msgClient, mirror)

	// Telemetry (optional)
	var metrics *telemetry.Recorder
	if cfg.InfluxURL != "" {
		metrics = telemetry.NewRecorder(telemetry.Config{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		})
		defer metrics.Close()
	}

	// Read cache (optional)
	var cache *redis.Client
	if cfg.RedisAddr != "" {
		cache = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer cache.Close()
	}

	authSvc := auth.NewService(cfg.JWTSecret, 24*time.Hour)

	// Event stream (needs messaging)
	var feed *stream.Feed
	if msgClient != nil {
		feed = stream.NewFeed(msgClient)
	}

	gw := gateway.NewGateway(gateway.Config{}, engine, gov, authSvc, feed, cache, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)

	// Durable snapshots (optional)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(10)
		db.SetConnMaxLifetime(5 * time.Minute)

		snapshotter := archive.NewSnapshotter(db, engine, cfg.SnapshotEvery)
		if err := snapshotter.CreateSchema(ctx); err != nil {
			log.Fatalf("Failed to create snapshot schema: %v", err)
		}
		group.Go(func() error {
			err := snapshotter.Run(ctx)
			if err == context.Canceled {
				return nil
			}
			return err
		})
	}

	if feed != nil {
		if err := feed.Start(ctx); err != nil {
			log.Fatalf("Failed to start event feed: %v", err)
		}
		defer feed.Stop()
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: gw.Router(),
	}

	group.Go(func() error {
		log.Printf("exchange listening on :%s (operator=%s)", cfg.Port, cfg.Operator)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Fatalf("exchange exited: %v", err)
	}
	log.Println("exchange stopped")
}
