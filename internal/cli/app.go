package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/StevenEgasJ/SupermarketTatylu-sub000/internal/checkout"
	"github.com/StevenEgasJ/SupermarketTatylu-sub000/internal/config"
	"github.com/StevenEgasJ/SupermarketTatylu-sub000/internal/handler"
	"github.com/StevenEgasJ/SupermarketTatylu-sub000/internal/metrics"
	"github.com/StevenEgasJ/SupermarketTatylu-sub000/internal/notify"
	"github.com/StevenEgasJ/SupermarketTatylu-sub000/internal/service"
	"github.com/StevenEgasJ/SupermarketTatylu-sub000/internal/store"
	"github.com/StevenEgasJ/SupermarketTatylu-sub000/internal/store/memstore"
)

// app is the fully wired service. Close releases resources in reverse
// construction order.
type app struct {
	log     *slog.Logger
	router  *mux.Router
	closers []func() error
}

func openStore(ctx context.Context, cfg config.Config, migrate bool) (store.Store, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return memstore.New(), nil
	case config.StorePostgres:
		st, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if migrate {
			if err := st.Migrate(ctx); err != nil {
				_ = st.Close()
				return nil, err
			}
		}
		return st, nil
	}
	return nil, fmt.Errorf("unknown store %q", cfg.Store)
}

func newApp(ctx context.Context, cfg config.Config, log *slog.Logger, migrate bool) (*app, error) {
	a := &app{log: log}

	st, err := openStore(ctx, cfg, migrate)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, st.Close)
	log.Info("store ready", "kind", cfg.Store)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var sender notify.Sender = notify.LogSender{Log: log}
	if len(cfg.KafkaBrokers) > 0 {
		w := notify.NewWriter(cfg.KafkaBrokers)
		a.closers = append(a.closers, w.Close)
		sender = notify.NewKafkaSender(w, cfg.KafkaTopic)
		log.Info("order events go to kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	dispatcher := notify.NewDispatcher(log, sender, cfg.Notify.Workers, cfg.Notify.Queue, cfg.Notify.Timeout)
	a.closers = append(a.closers, func() error {
		dispatcher.Close()
		return nil
	})

	coord := checkout.NewCoordinator(log, st,
		checkout.WithMaxAttempts(cfg.Checkout.MaxAttempts),
		checkout.WithBackoff(cfg.Checkout.Backoff),
		checkout.WithNotifier(dispatcher),
		checkout.WithMetrics(metrics.NewCheckout(reg)),
	)
	svc := service.NewService(st, coord)

	opts := []handler.Option{handler.WithMetrics(metrics.NewServerMetrics(reg))}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.closers = append(a.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			// checkout still works without the guard
			log.Warn("redis unreachable; idempotency keys are not enforced until it recovers", "addr", cfg.RedisAddr, "err", err)
		}
		opts = append(opts, handler.WithIdempotency(handler.NewRedisIdempotency(rdb, cfg.IdempotencyTTL)))
	}

	r := mux.NewRouter()
	handler.NewHandler(log, svc, opts...).RegisterRoutes(r)
	r.Handle("/metrics", metrics.Handler(reg)).Methods("GET")
	a.router = r
	return a, nil
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
