package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/DishantPal/meetmingle-api/internal/billing"
	"github.com/DishantPal/meetmingle-api/internal/calls"
	"github.com/DishantPal/meetmingle-api/internal/coins"
	"github.com/DishantPal/meetmingle-api/internal/config"
	"github.com/DishantPal/meetmingle-api/internal/matching"
	"github.com/DishantPal/meetmingle-api/internal/metrics"
	"github.com/DishantPal/meetmingle-api/internal/notify"
	"github.com/DishantPal/meetmingle-api/internal/queue"
	"github.com/DishantPal/meetmingle-api/internal/ratelimit"
	"github.com/DishantPal/meetmingle-api/internal/session"
	"github.com/DishantPal/meetmingle-api/internal/suspend"
	"github.com/DishantPal/meetmingle-api/internal/user"
	"github.com/DishantPal/meetmingle-api/internal/ws"
	"github.com/DishantPal/meetmingle-api/migrations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		cancel()
		log.Fatalf("failed to connect to Postgres: %v", err)
	}
	cancel()

	if err := migrations.Up(db); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	// --- Redis ---
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancel()
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	cancel()

	// --- NATS ---
	// Event publishing is best-effort; the server runs without it.
	publisher, err := notify.NewPublisher(notify.DefaultConfig(cfg.NATSURL))
	if err != nil {
		log.Printf("NATS unavailable, lifecycle events disabled: %v", err)
		publisher = nil
	}

	// --- domain wiring ---
	users := user.NewStore(db)
	queueStore := queue.NewStore(db, users)
	coinLedger := coins.NewStore(db)
	prices := billing.NewPrices(db, rdb, cfg.PriceCacheTTL)
	gate := billing.NewGate(coinLedger, prices)
	callLedger := calls.NewLedger(db)
	registry := session.NewRegistry()
	orchestrator := matching.NewOrchestrator(db, queueStore, gate, callLedger, registry)
	limiter := ratelimit.NewLimiter(rdb)
	suspensions := suspend.NewStore(rdb)

	a := &app{
		registry:     registry,
		orchestrator: orchestrator,
		queue:        queueStore,
		ledger:       callLedger,
		limiter:      limiter,
		publisher:    publisher,
		suspensions:  suspensions,
	}

	dispatcher := ws.NewMessageDispatcher()
	a.registerHandlers(dispatcher)

	serverConfig := ws.DefaultServerConfig()
	serverConfig.ListenAddr = cfg.ListenAddr
	serverConfig.MaxConnections = cfg.MaxConnections
	serverConfig.ReadTimeout = cfg.ReadTimeout
	serverConfig.WriteTimeout = cfg.WriteTimeout

	auth := ws.NewJWTAuthenticator(cfg.JWTSecret)
	server := ws.NewServer(serverConfig, auth, dispatcher.Dispatch)
	server.SetConnectGate(func(userID int64) bool {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return limiter.Allow(ctx, ratelimit.RuleConnect, userID)
	})
	server.SetOnConnect(a.onConnect)
	server.SetOnDisconnect(a.onDisconnect)
	a.server = server

	log.Printf("meetmingle matching/signaling server starting")
	log.Printf("  listen_addr:     %s", cfg.ListenAddr)
	log.Printf("  max_connections: %d", cfg.MaxConnections)
	log.Printf("  read_timeout:    %s", cfg.ReadTimeout)
	log.Printf("  write_timeout:   %s", cfg.WriteTimeout)
	log.Printf("  redis_addr:      %s", cfg.RedisAddr)
	log.Printf("  nats_url:        %s", cfg.NATSURL)

	// Sample the queue depth for the metrics endpoint.
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				if n, err := queueStore.WaitingCount(ctx); err == nil {
					metrics.MatchQueueSize.Set(float64(n))
				}
				cancel()
			}
		}
	}()

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	close(done)
	if err := server.Shutdown(); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	publisher.Close()
	rdb.Close()
	db.Close()
}
