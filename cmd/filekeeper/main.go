// Точка входа filekeeper — сервиса хранения файлов с жизненным циклом.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/dkruglov/filekeeper/internal/api/handlers"
	"github.com/dkruglov/filekeeper/internal/config"
	"github.com/dkruglov/filekeeper/internal/server"
	"github.com/dkruglov/filekeeper/internal/service"
	"github.com/dkruglov/filekeeper/internal/storage/engine"
)

func main() {
	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("filekeeper запускается",
		slog.String("version", config.Version),
		slog.String("data_dir", cfg.DataDir),
		slog.Int("port", cfg.Port),
		slog.Bool("auth", cfg.JWKSUrl != ""),
	)

	// --- Инициализация компонентов ---

	// 1. Фасад подсистемы хранения: движок, retention, выдача
	facade, err := service.NewFacade(service.FacadeConfig{
		Engine: engine.Config{
			RootDir:          cfg.DataDir,
			MaxFileSize:      cfg.MaxFileSize,
			AllowedMIMETypes: cfg.AllowedMIMETypes,
		},
		Retention: service.RetentionConfig{
			TempFileTTL:        cfg.TempFileTTL,
			ArchivedTTL:        cfg.ArchivedTTL,
			DeletedTTL:         cfg.DeletedTTL,
			MaxTotalStorage:    cfg.MaxCapacity,
			AutoCleanupEnabled: cfg.AutoCleanupEnabled,
			CleanupInterval:    cfg.CleanupInterval,
		},
		TokenTTL: cfg.TokenTTL,
	}, logger)
	if err != nil {
		logger.Error("Ошибка инициализации подсистемы хранения", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Фоновые процессы
	ctx := context.Background()
	facade.Start(ctx)

	// 2.1 topologymetrics — мониторинг JWKS endpoint (только при включённой
	// аутентификации: без FK_JWKS_URL внешних зависимостей нет)
	var dephealthSvc *service.DephealthService
	if cfg.JWKSUrl != "" {
		name := cfg.DephealthName
		if name == "" {
			name = ownerNameFromHostname()
		}

		var dephealthErr error
		dephealthSvc, dephealthErr = service.NewDephealthService(
			name,
			cfg.DephealthGroup,
			cfg.DephealthDepName,
			cfg.JWKSUrl,
			cfg.DephealthCheckInterval,
			logger,
		)
		if dephealthErr != nil {
			logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
				slog.String("error", dephealthErr.Error()),
			)
			dephealthSvc = nil
		} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
		} else {
			logger.Info("topologymetrics запущен",
				slog.String("jwks_url", cfg.JWKSUrl),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 3. HTTP-сервер с handlers и middleware
	apiHandler := handlers.NewAPIHandler(cfg, facade, diskUsageFn(cfg.DataDir))

	srv := server.New(cfg, logger, apiHandler)

	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// --- Graceful shutdown фоновых процессов ---
	logger.Info("Остановка фоновых процессов...")

	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	facade.Shutdown()

	logger.Info("filekeeper остановлен")
}

// diskUsageFn возвращает пробу ёмкости диска для директории данных.
func diskUsageFn(dataDir string) handlers.DiskUsageFn {
	return func() (int64, int64, int64, error) {
		return getDiskUsage(dataDir)
	}
}
