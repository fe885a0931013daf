package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockoms/internal/app"
	"github.com/vladislavdragonenkov/stockoms/internal/version"
)

const (
	envConfigFile = "OMS_CONFIG_FILE"
	envLogLevel   = "OMS_LOG_LEVEL"

	envGRPCAddr                    = "OMS_GRPC_ADDR"
	envHTTPAddr                    = "OMS_HTTP_ADDR"
	envMetricsAddr                 = "OMS_METRICS_ADDR"
	envStorageDriver               = "OMS_STORAGE_DRIVER"
	envPostgresDSN                 = "OMS_POSTGRES_DSN"
	envPostgresAutoMigrate         = "OMS_POSTGRES_AUTO_MIGRATE"
	envSeedCatalog                 = "OMS_SEED_CATALOG"
	envRestockPolicy               = "OMS_RESTOCK_POLICY"
	envAuditSchedule               = "OMS_AUDIT_SCHEDULE"
	envKafkaBrokers                = "KAFKA_BROKERS"
	envKafkaTopic                  = "OMS_KAFKA_TOPIC"
	envKafkaDLQTopic               = "OMS_KAFKA_DLQ_TOPIC"
	envOutboxPollInterval          = "OMS_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize             = "OMS_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts           = "OMS_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay            = "OMS_OUTBOX_RETRY_DELAY"
	envOutboxMaxPendingAge         = "OMS_OUTBOX_MAX_PENDING_AGE"
	envIdempotencyTTL              = "OMS_IDEMPOTENCY_TTL"
	envIdempotencyCleanupInterval  = "OMS_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "OMS_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
)

type envLookup func(string) (string, bool)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(lookup envLookup) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	if raw, ok := lookup(envLogLevel); ok && strings.TrimSpace(raw) != "" {
		level, err := log.ParseLevel(strings.TrimSpace(raw))
		if err != nil {
			log.WithError(err).Warnf("invalid %s, using info", envLogLevel)
			return
		}
		log.SetLevel(level)
	}
}

// loadConfig читает YAML-файл из OMS_CONFIG_FILE, затем применяет переменные окружения.
func loadConfig(lookup envLookup) (app.Config, []string, error) {
	base := app.DefaultConfig()
	if path, ok := lookup(envConfigFile); ok && strings.TrimSpace(path) != "" {
		loaded, err := app.LoadConfigFile(strings.TrimSpace(path), base)
		if err != nil {
			return base, nil, err
		}
		base = loaded
	}

	cfg, warnings := applyEnv(base, lookup)
	return cfg, warnings, nil
}

// readConfigFromEnv применяет переменные окружения к конфигурации по умолчанию.
// Некорректные значения пропускаются с предупреждением.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	return applyEnv(app.DefaultConfig(), lookup)
}

func applyEnv(cfg app.Config, lookup envLookup) (app.Config, []string) {
	var warnings []string
	warn := func(key, raw string, err error) {
		warnings = append(warnings, fmt.Sprintf("%s=%q ignored: %v", key, raw, err))
	}

	setString := func(key string, dst *string) {
		if raw, ok := lookup(key); ok && strings.TrimSpace(raw) != "" {
			*dst = strings.TrimSpace(raw)
		}
	}
	setBool := func(key string, dst *bool) {
		raw, ok := lookup(key)
		if !ok || strings.TrimSpace(raw) == "" {
			return
		}
		value, err := parseBool(raw)
		if err != nil {
			warn(key, raw, err)
			return
		}
		*dst = value
	}
	setInt := func(key string, dst *int) {
		raw, ok := lookup(key)
		if !ok || strings.TrimSpace(raw) == "" {
			return
		}
		value, err := parseInt(raw, func(v int) bool { return v > 0 }, "must be > 0")
		if err != nil {
			warn(key, raw, err)
			return
		}
		*dst = value
	}
	setDuration := func(key string, dst *time.Duration, valid func(time.Duration) bool, rule string) {
		raw, ok := lookup(key)
		if !ok || strings.TrimSpace(raw) == "" {
			return
		}
		value, err := parseDuration(raw, valid, rule)
		if err != nil {
			warn(key, raw, err)
			return
		}
		*dst = value
	}
	positive := func(v time.Duration) bool { return v > 0 }
	nonNegative := func(v time.Duration) bool { return v >= 0 }

	setString(envGRPCAddr, &cfg.GRPCAddr)
	setString(envHTTPAddr, &cfg.HTTPAddr)
	setString(envMetricsAddr, &cfg.MetricsAddr)
	if raw, ok := lookup(envStorageDriver); ok && strings.TrimSpace(raw) != "" {
		cfg.StorageDriver = strings.ToLower(strings.TrimSpace(raw))
	}
	setString(envPostgresDSN, &cfg.PostgresDSN)
	setBool(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)
	setBool(envSeedCatalog, &cfg.SeedCatalog)
	if raw, ok := lookup(envRestockPolicy); ok && strings.TrimSpace(raw) != "" {
		cfg.RestockPolicy = strings.ToLower(strings.TrimSpace(raw))
	}
	if raw, ok := lookup(envAuditSchedule); ok {
		// Пустое значение отключает аудит.
		cfg.AuditSchedule = strings.TrimSpace(raw)
	}
	setString(envKafkaBrokers, &cfg.KafkaBrokers)
	setString(envKafkaTopic, &cfg.KafkaTopic)
	setString(envKafkaDLQTopic, &cfg.KafkaDLQTopic)

	setDuration(envOutboxPollInterval, &cfg.OutboxPollInterval, positive, "must be > 0")
	setInt(envOutboxBatchSize, &cfg.OutboxBatchSize)
	setInt(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts)
	setDuration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegative, "must be >= 0")
	setDuration(envOutboxMaxPendingAge, &cfg.OutboxMaxPendingAge, nonNegative, "must be >= 0")
	setDuration(envIdempotencyTTL, &cfg.IdempotencyTTL, positive, "must be > 0")
	setDuration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positive, "must be > 0")
	setInt(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize)

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if !valid(value) {
		return 0, errors.New(rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if !valid(value) {
		return 0, errors.New(rule)
	}
	return value, nil
}

func main() {
	setupLogger(os.LookupEnv)

	cfg, warnings, err := loadConfig(os.LookupEnv)
	if err != nil {
		log.WithError(err).Fatal("не удалось загрузить конфигурацию")
	}
	for _, warning := range warnings {
		log.Warn(warning)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(version.Fields()).WithFields(log.Fields{
		"grpc_addr":      cfg.GRPCAddr,
		"http_addr":      cfg.HTTPAddr,
		"metrics_addr":   cfg.MetricsAddr,
		"storage_driver": cfg.StorageDriver,
		"restock_policy": cfg.RestockPolicy,
	}).Info("запускаем OrderService")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("OrderService остановлен")
}
