package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/richardliu001/account-events/internal/config"
	"github.com/richardliu001/account-events/internal/logger"
	"github.com/richardliu001/account-events/internal/metrics"
	"github.com/richardliu001/account-events/internal/repo"
	"github.com/richardliu001/account-events/internal/resolver"
	"github.com/richardliu001/account-events/internal/service"
	httptransport "github.com/richardliu001/account-events/internal/transport/http"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/segmentio/kafka-go"
)

func main() {
	// 1. load config
	path := "internal/config/config.yaml"
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	// 2. init logger
	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	// 3. metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewPrometheus(reg)

	// 4. event store
	var store repo.EventStore
	if cfg.Store.Driver == config.DriverMemory {
		log.Warn("using in-memory event store; events are lost on exit")
		store = repo.NewMemoryStore()
	} else {
		gdb, err := repo.OpenDB(cfg.Store)
		if err != nil {
			log.Fatalf("open %s: %v", cfg.Store.Driver, err)
		}
		kw := &kafka.Writer{
			Addr:     kafka.TCP(cfg.Kafka.Brokers...),
			Topic:    cfg.Kafka.Topic,
			Balancer: &kafka.Hash{},
		}
		repository := repo.NewRepository(gdb, kw, log)
		if err := repository.Migrate(context.Background()); err != nil {
			log.Fatalf("auto-migrate: %v", err)
		}
		store = repository
	}

	// 5. resolver, with redis head cache when enabled
	opts := []resolver.Option{resolver.WithLogger(log), resolver.WithMetrics(m)}
	if cfg.Cache.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("redis ping: %v", err)
		}
		opts = append(opts, resolver.WithCache(repo.NewLatestCache(rdb, cfg.Cache.TTL)))
	}
	res := resolver.New(store, opts...)

	// 6. service
	svc := service.NewAccountHolderService(store, res, cfg.Retry, m, log)

	// 7. gin router
	router := httptransport.NewRouter(svc, cfg.RateLimit, reg, log)

	// 8. serve
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Infof("account-events server listening on %s (store=%s)", addr, cfg.Store.Driver)
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatalf("listen: %v", err)
	}
}
