package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nazeru/storefront-checkout-go/internal/config"
	"github.com/nazeru/storefront-checkout-go/internal/httpapi"
	"github.com/nazeru/storefront-checkout-go/internal/notify"
	"github.com/nazeru/storefront-checkout-go/internal/notify/deliverylog"
	"github.com/nazeru/storefront-checkout-go/internal/storefront/cart"
	"github.com/nazeru/storefront-checkout-go/internal/storefront/checkout"
	"github.com/nazeru/storefront-checkout-go/internal/storefront/report"
	"github.com/nazeru/storefront-checkout-go/internal/storefront/store"
	"github.com/nazeru/storefront-checkout-go/internal/storefront/store/memory"
	"github.com/nazeru/storefront-checkout-go/internal/storefront/store/postgres"
	"github.com/nazeru/storefront-checkout-go/pkg/kafka"
	"github.com/nazeru/storefront-checkout-go/pkg/logging"
	"github.com/nazeru/storefront-checkout-go/pkg/metrics"
	"github.com/nazeru/storefront-checkout-go/pkg/rabbitmq"
	"github.com/nazeru/storefront-checkout-go/pkg/telemetry"
)

const service = "storefront-service"

func main() {
	cfg, err := config.LoadStorefront()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger, err := logging.New(service, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.SetupTracer(ctx, service, cfg.OTLPEndpoint)
	if err != nil {
		logger.Fatal("tracer setup failed", zap.Error(err))
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(sctx)
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	g, gctx := errgroup.WithContext(ctx)

	// 1) Хранилище: postgres или in-process.
	var (
		st   store.Store
		pool *pgxpool.Pool
		ping func(ctx context.Context) error
	)
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err = openPostgres(ctx, cfg)
		if err != nil {
			logger.Fatal("db init failed", zap.Error(err))
		}
		defer pool.Close()
		st = postgres.New(pool, cfg.LockTimeout)
		ping = pool.Ping
	default:
		mem := memory.New(cfg.LockTimeout)
		mem.Seed()
		st = mem
	}

	// 2) Уведомления: outbox + relay в брокер, либо шина в процессе.
	var (
		sink notify.Sink
		bus  *notify.Bus
	)
	if pool != nil {
		sink = notify.OutboxSink{DB: pool}
		pub, closePub, err := newPublisher(cfg.Broker, logger)
		if err != nil {
			logger.Fatal("broker init failed", zap.Error(err))
		}
		defer closePub()
		if pub == nil {
			bus = notify.NewBus(1024, cfg.Broker.RetryInterval)
			pub = bus
		}
		relay := notify.NewRelay(pool, pub, cfg.OutboxBatch, cfg.OutboxPoll, logger, metrics.NewRelayMetrics(reg))
		g.Go(func() error { return relay.Run(gctx) })
	} else {
		if cfg.Broker.Kind != config.BrokerNone {
			logger.Warn("memory store has no outbox, broker ignored", zap.String("broker", cfg.Broker.Kind))
		}
		bus = notify.NewBus(1024, cfg.Broker.RetryInterval)
		sink = bus
	}
	if bus != nil {
		dlog, err := deliverylog.Open(cfg.DeliveryLogPath)
		if err != nil {
			logger.Fatal("delivery log init failed", zap.Error(err))
		}
		defer dlog.Close()
		h := notify.NewHandler(notify.NewMemoryDeduper(24*time.Hour), notify.LogMailer{Logger: logger}, dlog, logger)
		g.Go(func() error { return bus.Run(gctx, h.Handle) })
		logger.Info("notifications delivered in-process", zap.String("delivery_log", cfg.DeliveryLogPath))
	}
	enq := notify.NewEnqueuer(sink, cfg.NotifyRecipient)

	// 3) Checkout, отчёт, HTTP.
	engine := checkout.New(st, enq, checkout.Config{LowStockThreshold: cfg.LowStockThreshold}, logger, metrics.NewCheckoutMetrics(reg))

	job := report.NewJob(st, enq, cfg.ReportLocation, logger)
	sched, err := job.Schedule(cfg.ReportCron)
	if err != nil {
		logger.Fatal("report schedule failed", zap.Error(err))
	}
	sched.Start()
	defer func() { <-sched.Stop().Done() }()

	h := httpapi.NewHandler(cart.NewService(st, logger), engine, st, job, ping, logger)
	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: httpapi.NewRouter(h, httpapi.RouterConfig{
			Logger:         logger,
			Metrics:        metrics.NewServerMetrics(reg, "storefront_service"),
			Gatherer:       reg,
			RequestTimeout: cfg.RequestTimeout,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		logger.Info("storefront-service listening",
			zap.String("port", cfg.Port),
			zap.String("store", cfg.StoreDriver),
			zap.String("broker", cfg.Broker.Kind),
			zap.Int("low_stock_threshold", cfg.LowStockThreshold))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("storefront-service stopped", zap.Error(err))
	}
}

func openPostgres(ctx context.Context, cfg config.Storefront) (*pgxpool.Pool, error) {
	ictx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ictx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ictx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := postgres.Migrate(ictx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	if cfg.SeedDemo {
		if err := postgres.Seed(ictx, pool); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return pool, nil
}

// newPublisher returns nil when no broker is configured.
func newPublisher(b config.Broker, logger *zap.Logger) (notify.Publisher, func(), error) {
	switch b.Kind {
	case config.BrokerKafka:
		p := kafka.NewPublisher(kafka.NewClient(b.KafkaBrokers, b.KafkaPrefix))
		return p, func() { _ = p.Close() }, nil
	case config.BrokerRabbitMQ:
		conn, ch, err := rabbitmq.SetupConn(b.AMQPURL, b.AMQPExchange, logger)
		if err != nil {
			return nil, func() {}, err
		}
		return rabbitmq.NewPublisher(ch, b.AMQPExchange), func() {
			_ = ch.Close()
			_ = conn.Close()
		}, nil
	default:
		return nil, func() {}, nil
	}
}
