package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nazeru/storefront-checkout-go/internal/config"
	"github.com/nazeru/storefront-checkout-go/internal/notify"
	"github.com/nazeru/storefront-checkout-go/internal/notify/deliverylog"
	"github.com/nazeru/storefront-checkout-go/pkg/contracts"
	"github.com/nazeru/storefront-checkout-go/pkg/kafka"
	"github.com/nazeru/storefront-checkout-go/pkg/logging"
	"github.com/nazeru/storefront-checkout-go/pkg/metrics"
	"github.com/nazeru/storefront-checkout-go/pkg/rabbitmq"
	"github.com/nazeru/storefront-checkout-go/pkg/telemetry"
)

const service = "notification-service"

func main() {
	cfg, err := config.LoadNotification()
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

	// Дедупликация: redis, если задан, иначе в памяти процесса.
	var (
		dedupe notify.Deduper
		rdb    *redis.Client
	)
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		dedupe = notify.NewRedisDeduper(rdb, "notify", cfg.DedupeTTL)
	} else {
		logger.Warn("REDIS_ADDR not set, deduplication is per process")
		dedupe = notify.NewMemoryDeduper(cfg.DedupeTTL)
	}

	dlog, err := deliverylog.Open(cfg.DeliveryLogPath)
	if err != nil {
		logger.Fatal("delivery log init failed", zap.Error(err))
	}
	defer dlog.Close()

	handler := notify.NewHandler(dedupe, notify.LogMailer{Logger: logger}, dlog, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return consume(gctx, cfg.Broker, handler, logger) })

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	srvMetrics := metrics.NewServerMetrics(reg, "notification_service")

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		if rdb != nil {
			if err := rdb.Ping(r.Context()).Err(); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "redis_error"})
				srvMetrics.Observe("health", http.StatusServiceUnavailable, time.Since(start))
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		srvMetrics.Observe("health", http.StatusOK, time.Since(start))
	})
	mux.HandleFunc("/deliveries", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit <= 0 {
			limit = 50
		}
		entries, err := dlog.Recent(r.Context(), limit)
		if err != nil {
			logger.Error("delivery log read failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "delivery log unavailable"})
			srvMetrics.Observe("deliveries", http.StatusInternalServerError, time.Since(start))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deliveries": entries})
		srvMetrics.Observe("deliveries", http.StatusOK, time.Since(start))
	})
	mux.Handle("/metrics", metrics.Handler(reg))

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	g.Go(func() error {
		logger.Info("notification-service listening",
			zap.String("port", cfg.Port),
			zap.String("broker", cfg.Broker.Kind),
			zap.Bool("redis", rdb != nil))
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
		logger.Error("notification-service stopped", zap.Error(err))
	}
}

func consume(ctx context.Context, b config.Broker, h *notify.Handler, logger *zap.Logger) error {
	switch b.Kind {
	case config.BrokerRabbitMQ:
		conn, ch, err := rabbitmq.SetupConn(b.AMQPURL, b.AMQPExchange, logger)
		if err != nil {
			return err
		}
		defer conn.Close()
		defer ch.Close()
		return rabbitmq.Consume(ctx, ch, b.AMQPExchange, b.AMQPQueue, contracts.Topics, b.RetryInterval, h.Handle)
	default:
		client := kafka.NewClient(b.KafkaBrokers, b.KafkaPrefix)
		return client.Consume(ctx, contracts.Topics, b.KafkaGroupID, b.RetryInterval, h.Handle)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
