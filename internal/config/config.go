// Пакет config — загрузка и валидация конфигурации Filekeeper
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Filekeeper.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Путь к корневой директории хранения файлов
	DataDir string
	// Максимальный размер файла в байтах
	MaxFileSize int64
	// Потолок суммарного объёма хранилища в байтах (0 = без потолка)
	MaxCapacity int64
	// Разрешённые MIME-типы (пустой список = принимать любые)
	AllowedMIMETypes []string
	// Срок хранения по умолчанию в днях
	DefaultRetentionDays int
	// Срок жизни временных файлов
	TempFileTTL time.Duration
	// Срок жизни архивных файлов
	ArchivedTTL time.Duration
	// Срок хранения в зоне мягкого удаления
	DeletedTTL time.Duration
	// Включена ли автоочистка
	AutoCleanupEnabled bool
	// Интервал автоочистки
	CleanupInterval time.Duration
	// Срок жизни токена скачивания по умолчанию
	TokenTTL time.Duration
	// URL JWKS endpoint для проверки JWT (пусто = аутентификация выключена)
	JWKSUrl string
	// Путь к CA-сертификату для проверки TLS JWKS endpoint (опционально)
	JWKSCACert string
	// Путь к TLS сертификату (пусто = HTTP без TLS)
	TLSCert string
	// Путь к TLS приватному ключу
	TLSKey string
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics (FK_DEPHEALTH_GROUP)
	DephealthGroup string
	// Имя зависимости (целевого сервиса) в метриках topologymetrics (FK_DEPHEALTH_DEP_NAME)
	DephealthDepName string
	// Имя владельца пода для метки name в topologymetrics (DEPHEALTH_NAME)
	DephealthName string
	// Таймаут graceful shutdown HTTP-сервера.
	// Должен быть меньше K8s terminationGracePeriodSeconds.
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}

	// FK_PORT — порт HTTP-сервера (по умолчанию 8080)
	port, err := getEnvInt("FK_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("FK_PORT: %w", err)
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("FK_PORT: значение %d вне допустимого диапазона 1-65535", port)
	}
	cfg.Port = port

	// FK_DATA_DIR — обязательный
	cfg.DataDir, err = getEnvRequired("FK_DATA_DIR")
	if err != nil {
		return nil, err
	}

	// FK_MAX_FILE_SIZE — максимальный размер файла (по умолчанию 1 GB)
	maxFileSize, err := getEnvInt64("FK_MAX_FILE_SIZE", 1073741824)
	if err != nil {
		return nil, fmt.Errorf("FK_MAX_FILE_SIZE: %w", err)
	}
	if maxFileSize <= 0 {
		return nil, fmt.Errorf("FK_MAX_FILE_SIZE: значение должно быть положительным")
	}
	cfg.MaxFileSize = maxFileSize

	// FK_MAX_CAPACITY — потолок хранилища в байтах (по умолчанию без потолка)
	cfg.MaxCapacity, err = getEnvInt64("FK_MAX_CAPACITY", 0)
	if err != nil {
		return nil, fmt.Errorf("FK_MAX_CAPACITY: %w", err)
	}
	if cfg.MaxCapacity > 0 && cfg.MaxCapacity < cfg.MaxFileSize {
		return nil, fmt.Errorf("FK_MAX_CAPACITY: значение %d должно быть >= FK_MAX_FILE_SIZE (%d)",
			cfg.MaxCapacity, cfg.MaxFileSize)
	}

	// FK_ALLOWED_MIME_TYPES — список через запятую (пусто = любые)
	if raw := getEnvDefault("FK_ALLOWED_MIME_TYPES", ""); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				cfg.AllowedMIMETypes = append(cfg.AllowedMIMETypes, t)
			}
		}
	}

	// FK_DEFAULT_RETENTION_DAYS — срок хранения по умолчанию (по умолчанию 30)
	cfg.DefaultRetentionDays, err = getEnvInt("FK_DEFAULT_RETENTION_DAYS", 30)
	if err != nil {
		return nil, fmt.Errorf("FK_DEFAULT_RETENTION_DAYS: %w", err)
	}
	if cfg.DefaultRetentionDays <= 0 {
		return nil, fmt.Errorf("FK_DEFAULT_RETENTION_DAYS: значение должно быть положительным")
	}

	// FK_TEMP_TTL — срок жизни временных файлов (по умолчанию 1h)
	cfg.TempFileTTL, err = getEnvDuration("FK_TEMP_TTL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("FK_TEMP_TTL: %w", err)
	}

	// FK_ARCHIVED_TTL — срок жизни архивных файлов (по умолчанию 30 дней)
	cfg.ArchivedTTL, err = getEnvDuration("FK_ARCHIVED_TTL", 30*24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("FK_ARCHIVED_TTL: %w", err)
	}

	// FK_DELETED_TTL — льготный период мягкого удаления (по умолчанию 7 дней)
	cfg.DeletedTTL, err = getEnvDuration("FK_DELETED_TTL", 7*24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("FK_DELETED_TTL: %w", err)
	}

	// FK_AUTO_CLEANUP — автоочистка (по умолчанию включена)
	cfg.AutoCleanupEnabled, err = getEnvBool("FK_AUTO_CLEANUP", true)
	if err != nil {
		return nil, fmt.Errorf("FK_AUTO_CLEANUP: %w", err)
	}

	// FK_CLEANUP_INTERVAL — интервал автоочистки (по умолчанию 1h)
	cfg.CleanupInterval, err = getEnvDuration("FK_CLEANUP_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("FK_CLEANUP_INTERVAL: %w", err)
	}
	if cfg.CleanupInterval <= 0 {
		return nil, fmt.Errorf("FK_CLEANUP_INTERVAL: значение должно быть положительным")
	}

	// FK_TOKEN_TTL — срок жизни токена скачивания (по умолчанию 1h)
	cfg.TokenTTL, err = getEnvDuration("FK_TOKEN_TTL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("FK_TOKEN_TTL: %w", err)
	}

	// FK_JWKS_URL — JWKS endpoint (пусто = аутентификация выключена)
	cfg.JWKSUrl = getEnvDefault("FK_JWKS_URL", "")

	// FK_JWKS_CA_CERT — путь к CA-сертификату для JWKS endpoint (опционально)
	cfg.JWKSCACert = getEnvDefault("FK_JWKS_CA_CERT", "")

	// FK_TLS_CERT / FK_TLS_KEY — TLS (пусто = HTTP без TLS)
	cfg.TLSCert = getEnvDefault("FK_TLS_CERT", "")
	cfg.TLSKey = getEnvDefault("FK_TLS_KEY", "")
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return nil, fmt.Errorf("FK_TLS_CERT и FK_TLS_KEY должны задаваться вместе")
	}

	// FK_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("FK_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("FK_LOG_LEVEL: %w", err)
	}

	// FK_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("FK_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("FK_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// FK_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("FK_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FK_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// FK_DEPHEALTH_GROUP — имя группы в метриках topologymetrics (по умолчанию "filekeeper")
	cfg.DephealthGroup = getEnvDefault("FK_DEPHEALTH_GROUP", "filekeeper")

	// FK_DEPHEALTH_DEP_NAME — имя зависимости в метриках topologymetrics (по умолчанию "auth-jwks")
	cfg.DephealthDepName = getEnvDefault("FK_DEPHEALTH_DEP_NAME", "auth-jwks")

	// DEPHEALTH_NAME — имя владельца пода для метки name в topologymetrics (без префикса модуля)
	cfg.DephealthName = getEnvDefault("DEPHEALTH_NAME", "")

	// FK_SHUTDOWN_TIMEOUT — таймаут graceful shutdown HTTP-сервера (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("FK_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FK_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 6h)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
