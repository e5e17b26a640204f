package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"auction-ledger/internal/api"
	"auction-ledger/internal/archive"
	"auction-ledger/internal/bids"
	"auction-ledger/internal/config"
	"auction-ledger/internal/engine"
	"auction-ledger/internal/funds"
	"auction-ledger/internal/items"
	"auction-ledger/internal/kv"
	"auction-ledger/internal/lease"
	"auction-ledger/internal/notify"
	"auction-ledger/internal/ratelimit"
	"auction-ledger/internal/registry"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	store := kv.NewRedisStore(client, cfg.KeyPrefix)

	ledger := funds.NewLedger(store)
	if cfg.FeeBps > 0 {
		ledger = ledger.WithFee(int64(cfg.FeeBps), cfg.FeeSink)
	}
	itemReg := items.NewRegistry(store)
	auctionReg := registry.New(store)
	bidLedger := bids.NewLedger(store, ledger)

	var sink notify.Sink = notify.Noop{}
	if cfg.NATSURL != "" {
		conn, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			log.Fatalf("connect nats: %v", err)
		}
		defer conn.Close()
		sink = notify.NewNATSSink(conn)
	}

	eng := engine.New(auctionReg, bidLedger, ledger, itemReg, sink, lease.New(client, 10*time.Second))

	var recorders []archive.Recorder
	if cfg.PostgresDSN != "" {
		pg, err := archive.New(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("connect postgres: %v", err)
		}
		defer pg.Close()
		if err := pg.RunMigrations(ctx); err != nil {
			log.Fatalf("migrations: %v", err)
		}
		recorders = append(recorders, pg)
	}
	if cfg.ArchiveS3Bucket != "" {
		exporter, err := archive.NewExporter(ctx, cfg)
		if err != nil {
			log.Fatalf("init s3 exporter: %v", err)
		}
		recorders = append(recorders, exporter)
	}
	if fanout := archive.NewFanout(recorders...); !fanout.Empty() {
		eng = eng.WithArchiver(fanout)
	}

	limiter := ratelimit.New(client, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	server := api.New(cfg, eng, ledger, limiter)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Printf("api listening on :%s", cfg.HTTPPort)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
