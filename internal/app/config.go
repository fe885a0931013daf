package app

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vladislavdragonenkov/stockoms/internal/service/audit"
	"github.com/vladislavdragonenkov/stockoms/internal/service/orders"
)

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска сервиса. Поля сравнимы, поэтому Config можно сравнивать через ==.
type Config struct {
	GRPCAddr    string `yaml:"grpc_addr"`
	HTTPAddr    string `yaml:"http_addr"`
	MetricsAddr string `yaml:"metrics_addr"`

	StorageDriver       string `yaml:"storage_driver"`
	PostgresDSN         string `yaml:"postgres_dsn"`
	PostgresAutoMigrate bool   `yaml:"postgres_auto_migrate"`
	// SeedCatalog заполняет in-memory каталог демонстрационными товарами.
	SeedCatalog bool `yaml:"seed_catalog"`

	// RestockPolicy — always или unshipped, см. orders.ParseRestockPolicy.
	RestockPolicy string `yaml:"restock_policy"`
	// AuditSchedule — cron-расписание аудитора; пустая строка отключает аудит.
	AuditSchedule string `yaml:"audit_schedule"`

	// KafkaBrokers — список брокеров через запятую; пустой список включает публикацию в лог.
	KafkaBrokers  string `yaml:"kafka_brokers"`
	KafkaClientID string `yaml:"kafka_client_id"`
	KafkaTopic    string `yaml:"kafka_topic"`
	KafkaDLQTopic string `yaml:"kafka_dlq_topic"`

	OutboxPollInterval time.Duration `yaml:"outbox_poll_interval"`
	OutboxBatchSize    int           `yaml:"outbox_batch_size"`
	OutboxMaxAttempts  int           `yaml:"outbox_max_attempts"`
	OutboxRetryDelay   time.Duration `yaml:"outbox_retry_delay"`
	// OutboxMaxPendingAge — возраст старейшего неотправленного события, после которого health деградирует.
	OutboxMaxPendingAge time.Duration `yaml:"outbox_max_pending_age"`

	IdempotencyTTL              time.Duration `yaml:"idempotency_ttl"`
	IdempotencyCleanupInterval  time.Duration `yaml:"idempotency_cleanup_interval"`
	IdempotencyCleanupBatchSize int           `yaml:"idempotency_cleanup_batch_size"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultConfig возвращает настройки для локального запуска на in-memory хранилище.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:    ":50051",
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		SeedCatalog:         true,

		RestockPolicy: orders.RestockAlways.String(),
		AuditSchedule: "@every 5m",

		KafkaClientID: "stockoms",
		KafkaTopic:    "oms.order.events",
		KafkaDLQTopic: "oms.order.events.dlq",

		OutboxPollInterval:  time.Second,
		OutboxBatchSize:     100,
		OutboxMaxAttempts:   5,
		OutboxRetryDelay:    500 * time.Millisecond,
		OutboxMaxPendingAge: 5 * time.Minute,

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,

		ShutdownTimeout: 5 * time.Second,
	}
}

// LoadConfigFile накладывает значения из YAML-файла на base. Неизвестные ключи считаются ошибкой.
func LoadConfigFile(path string, base Config) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read config file: %w", err)
	}

	cfg := base
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return base, nil
		}
		return base, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек перед запуском.
func (c Config) Validate() error {
	var errs []error

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres_dsn is required for postgres storage driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver: %q", c.StorageDriver))
	}

	if _, err := c.restockPolicy(); err != nil {
		errs = append(errs, err)
	}
	if c.AuditSchedule != "" {
		if err := audit.ValidateSchedule(c.AuditSchedule); err != nil {
			errs = append(errs, fmt.Errorf("invalid audit schedule %q: %w", c.AuditSchedule, err))
		}
	}

	if c.GRPCAddr == "" || c.HTTPAddr == "" || c.MetricsAddr == "" {
		errs = append(errs, errors.New("grpc, http and metrics addresses must be set"))
	}
	if c.OutboxPollInterval <= 0 || c.OutboxBatchSize <= 0 || c.OutboxMaxAttempts <= 0 {
		errs = append(errs, errors.New("outbox poll interval, batch size and max attempts must be positive"))
	}
	if c.OutboxRetryDelay < 0 {
		errs = append(errs, errors.New("outbox retry delay must be non-negative"))
	}
	if c.IdempotencyTTL <= 0 || c.IdempotencyCleanupInterval <= 0 || c.IdempotencyCleanupBatchSize <= 0 {
		errs = append(errs, errors.New("idempotency ttl, cleanup interval and batch size must be positive"))
	}

	return errors.Join(errs...)
}

// restockPolicy разбирает RestockPolicy в тип движка.
func (c Config) restockPolicy() (orders.RestockPolicy, error) {
	return orders.ParseRestockPolicy(c.RestockPolicy)
}

// kafkaBrokerList разбирает KafkaBrokers, отбрасывая пустые элементы.
func (c Config) kafkaBrokerList() []string {
	var brokers []string
	for _, broker := range strings.Split(c.KafkaBrokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}
