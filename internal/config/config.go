package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	BrokerKafka    = "kafka"
	BrokerRabbitMQ = "rabbitmq"
	BrokerNone     = "none"
)

type Broker struct {
	Kind          string
	KafkaBrokers  string
	KafkaPrefix   string
	KafkaGroupID  string
	AMQPURL       string
	AMQPExchange  string
	AMQPQueue     string
	RetryInterval time.Duration
}

type Storefront struct {
	Port              string
	DatabaseURL       string
	StoreDriver       string
	LowStockThreshold int
	NotifyRecipient   string
	LockTimeout       time.Duration
	RequestTimeout    time.Duration
	OutboxPoll        time.Duration
	OutboxBatch       int
	ReportCron        string
	ReportLocation    *time.Location
	SeedDemo          bool
	DeliveryLogPath   string
	LogLevel          string
	OTLPEndpoint      string
	Broker            Broker
}

type Notification struct {
	Port            string
	RedisAddr       string
	DedupeTTL       time.Duration
	DeliveryLogPath string
	LogLevel        string
	OTLPEndpoint    string
	Broker          Broker
}

func LoadStorefront() (Storefront, error) {
	var errs []error
	c := Storefront{
		Port:              getenv("PORT", "8080"),
		DatabaseURL:       strings.TrimSpace(os.Getenv("DATABASE_URL")),
		StoreDriver:       strings.ToLower(getenv("STORE_DRIVER", DriverPostgres)),
		LowStockThreshold: intEnv("LOW_STOCK_THRESHOLD", 5, &errs),
		NotifyRecipient:   getenv("NOTIFY_RECIPIENT", "admin@example.com"),
		LockTimeout:       msEnv("LOCK_TIMEOUT_MS", 2000, &errs),
		RequestTimeout:    msEnv("REQUEST_TIMEOUT_MS", 10000, &errs),
		OutboxPoll:        msEnv("OUTBOX_POLL_MS", 500, &errs),
		OutboxBatch:       intEnv("OUTBOX_BATCH", 100, &errs),
		ReportCron:        getenv("REPORT_CRON", "55 23 * * *"),
		SeedDemo:          boolEnv("SEED_DEMO", false),
		DeliveryLogPath:   getenv("DELIVERY_LOG_PATH", ":memory:"),
		LogLevel:          getenv("LOG_LEVEL", "info"),
		OTLPEndpoint:      getenv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		Broker:            loadBroker(&errs),
	}

	loc, err := time.LoadLocation(getenv("REPORT_TZ", "UTC"))
	if err != nil {
		errs = append(errs, fmt.Errorf("REPORT_TZ: %w", err))
	}
	c.ReportLocation = loc

	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be %s or %s, got %q", DriverPostgres, DriverMemory, c.StoreDriver))
	}
	if c.LowStockThreshold < 0 {
		errs = append(errs, errors.New("LOW_STOCK_THRESHOLD must be >= 0"))
	}
	if c.LockTimeout <= 0 {
		errs = append(errs, errors.New("LOCK_TIMEOUT_MS must be > 0"))
	}
	return c, errors.Join(errs...)
}

func LoadNotification() (Notification, error) {
	var errs []error
	c := Notification{
		Port:            getenv("PORT", "8081"),
		RedisAddr:       getenv("REDIS_ADDR", ""),
		DedupeTTL:       durationEnv("DEDUPE_TTL", 24*time.Hour, &errs),
		DeliveryLogPath: getenv("DELIVERY_LOG_PATH", "deliveries.db"),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		OTLPEndpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		Broker:          loadBroker(&errs),
	}
	if c.Broker.Kind == BrokerNone {
		errs = append(errs, errors.New("NOTIFY_BROKER must be kafka or rabbitmq for the notification service"))
	}
	return c, errors.Join(errs...)
}

func loadBroker(errs *[]error) Broker {
	b := Broker{
		Kind:          strings.ToLower(getenv("NOTIFY_BROKER", BrokerKafka)),
		KafkaBrokers:  getenv("KAFKA_BROKERS", ""),
		KafkaPrefix:   getenv("KAFKA_TOPIC_PREFIX", "storefront."),
		KafkaGroupID:  getenv("KAFKA_GROUP_ID", "notification-service"),
		AMQPURL:       getenv("AMQP_URL", ""),
		AMQPExchange:  getenv("AMQP_EXCHANGE", "storefront.events"),
		AMQPQueue:     getenv("AMQP_QUEUE", "notification-service"),
		RetryInterval: msEnv("NOTIFY_RETRY_MS", 2000, errs),
	}
	switch b.Kind {
	case BrokerKafka:
		if b.KafkaBrokers == "" {
			*errs = append(*errs, errors.New("KAFKA_BROKERS is required when NOTIFY_BROKER=kafka"))
		}
	case BrokerRabbitMQ:
		if b.AMQPURL == "" {
			*errs = append(*errs, errors.New("AMQP_URL is required when NOTIFY_BROKER=rabbitmq"))
		}
	case BrokerNone:
	default:
		*errs = append(*errs, fmt.Errorf("NOTIFY_BROKER must be kafka, rabbitmq or none, got %q", b.Kind))
	}
	return b
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}

func intEnv(k string, def int, errs *[]error) int {
	v := getenv(k, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return n
}

func msEnv(k string, def int, errs *[]error) time.Duration {
	return time.Duration(intEnv(k, def, errs)) * time.Millisecond
}

func durationEnv(k string, def time.Duration, errs *[]error) time.Duration {
	v := getenv(k, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return d
}

func boolEnv(k string, def bool) bool {
	switch strings.ToLower(getenv(k, "")) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	default:
		return def
	}
}
