package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/richardliu001/account-events/internal/config"
	"github.com/richardliu001/account-events/internal/logger"
	"github.com/richardliu001/account-events/internal/repo"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

func main() {
	path := "internal/config/config.yaml"
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	if cfg.Store.Driver == config.DriverMemory {
		log.Fatal("outbox relay needs a SQL store; memory driver has no outbox")
	}
	gdb, err := repo.OpenDB(cfg.Store)
	if err != nil {
		log.Fatalf("open %s: %v", cfg.Store.Driver, err)
	}

	kw := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.Hash{},
	}
	defer kw.Close()

	repository := repo.NewRepository(gdb, kw, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(cfg.Poller.Interval)
	defer ticker.Stop()

	log.Info("account-events poller started")
	for {
		select {
		case <-ctx.Done():
			log.Info("account-events poller stopped")
			return
		case <-ticker.C:
		}
		relay(ctx, repository, cfg.Poller.BatchSize, log)
	}
}

// relay publishes one batch. An event that fails to publish stops the batch
// so later versions of the same aggregate are not sent ahead of it; whatever
// went out before it is marked in one update.
func relay(ctx context.Context, r *repo.Repository, limit int, log *zap.SugaredLogger) {
	events, err := r.PollOutbox(ctx, limit)
	if err != nil {
		log.Errorf("poll outbox: %v", err)
		return
	}
	sent := make([]uint64, 0, len(events))
	for _, evt := range events {
		if err := r.PublishEvent(ctx, evt); err != nil {
			log.Errorf("publish id=%d aggregate=%s v%d: %v", evt.ID, evt.AggregateID, evt.AggregateVersion, err)
			break
		}
		sent = append(sent, evt.ID)
		log.Debugf("event %s v%d sent", evt.AggregateID, evt.AggregateVersion)
	}
	n, err := r.MarkOutboxProcessed(ctx, sent...)
	if err != nil {
		log.Errorf("mark %d outbox rows processed: %v", len(sent), err)
		return
	}
	if n > 0 {
		log.Infof("relayed %d events", n)
	}
}
