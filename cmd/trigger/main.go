package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"auction-ledger/internal/archive"
	"auction-ledger/internal/bids"
	"auction-ledger/internal/config"
	"auction-ledger/internal/engine"
	"auction-ledger/internal/funds"
	"auction-ledger/internal/items"
	"auction-ledger/internal/kv"
	"auction-ledger/internal/lease"
	"auction-ledger/internal/notify"
	"auction-ledger/internal/registry"
	"auction-ledger/internal/telemetry"
	"auction-ledger/internal/trigger"
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

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	t := trigger.New(eng, auctionReg, cfg.TriggerInterval)
	log.Printf("trigger started with interval=%s", cfg.TriggerInterval)
	if err := t.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("trigger stopped: %v", err)
	}
}
