// retention.go — сервис политики хранения (retention / garbage collection).
//
// Пять стратегий очистки над категориями файлов: временные, архивные,
// мягко удалённые, старше порога, по владельцу (кампания/пользователь).
// Каждая стратегия вызывается независимо или композицией через RunCleanup.
//
// Планировщик запускается как горутина с периодическим тикером
// (FK_CLEANUP_INTERVAL) и на каждом тике чистит временные файлы.
package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dkruglov/filekeeper/internal/domain/model"
	"github.com/dkruglov/filekeeper/internal/storage/engine"
)

// Prometheus метрики очистки
var (
	// cleanupRunsTotal — количество запусков очистки.
	cleanupRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fk_cleanup_runs_total",
		Help: "Общее количество запусков очистки",
	})

	// cleanupFilesDeletedTotal — количество удалённых файлов.
	cleanupFilesDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fk_cleanup_files_deleted_total",
		Help: "Общее количество файлов, удалённых очисткой",
	})

	// cleanupBytesReclaimedTotal — освобождено байт.
	cleanupBytesReclaimedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fk_cleanup_bytes_reclaimed_total",
		Help: "Общее количество байт, освобождённых очисткой",
	})

	// cleanupDurationSeconds — длительность выполнения очистки.
	cleanupDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fk_cleanup_duration_seconds",
		Help:    "Длительность выполнения очистки в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// ErrNoTarget — целевая очистка вызвана без кампании и без пользователя.
var ErrNoTarget = errors.New("не задан целевой идентификатор очистки")

// ceilingSweepMaxFiles — жёсткий потолок одного прохода очистки по переполнению.
const ceilingSweepMaxFiles = 1000

// RetentionConfig — политика хранения.
type RetentionConfig struct {
	// TempFileTTL — срок жизни временных файлов
	TempFileTTL time.Duration
	// ArchivedTTL — срок жизни архивных файлов
	ArchivedTTL time.Duration
	// DeletedTTL — срок хранения в зоне мягкого удаления до полного удаления
	DeletedTTL time.Duration
	// MaxTotalStorage — потолок суммарного размера хранилища в байтах
	// (0 = без потолка)
	MaxTotalStorage int64
	// AutoCleanupEnabled — включён ли планировщик автоочистки
	AutoCleanupEnabled bool
	// CleanupInterval — интервал между запусками автоочистки
	CleanupInterval time.Duration
}

// CleanupOptions — общие параметры любой стратегии очистки.
type CleanupOptions struct {
	// DryRun — симуляция: кандидаты вычисляются и отдаются
	// в том же виде, файлы не удаляются
	DryRun bool
	// MaxFiles — потолок обрабатываемых кандидатов за один вызов
	// (0 = без ограничения)
	MaxFiles int
}

// SelectionOptions — выбор стратегий для композитного RunCleanup.
type SelectionOptions struct {
	// Temporary — чистить временные файлы
	Temporary bool
	// Archived — чистить архивные файлы
	Archived bool
	// Deleted — чистить зону мягкого удаления
	Deleted bool
	// OlderThanDays — чистить файлы старше N дней (0 = стратегия выключена)
	OlderThanDays int
	// CampaignID — чистить файлы кампании
	CampaignID string
	// UserID — чистить файлы пользователя
	UserID string

	CleanupOptions
}

// RetentionManager — сервис очистки файлов по политике хранения.
//
// Планировщик: не более одного активного таймера на процесс,
// повторный Start при работающем планировщике — no-op,
// UpdateConfig перезапускает таймер.
//
// Сам проход очистки mutex'ом НЕ защищён: одновременные плановый
// и ручной проходы могут удалить один файл дважды (удаление
// идемпотентно, но счётчики задвоятся). Известное ограничение.
type RetentionManager struct {
	eng    *engine.Engine
	logger *slog.Logger

	mu      sync.Mutex // защита конфигурации и состояния планировщика
	cfg     RetentionConfig
	running bool
	cancel  context.CancelFunc

	now func() time.Time // подменяется в тестах
}

// NewRetentionManager создаёт сервис очистки.
func NewRetentionManager(eng *engine.Engine, cfg RetentionConfig, logger *slog.Logger) *RetentionManager {
	return &RetentionManager{
		eng:    eng,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "retention")),
		now:    time.Now,
	}
}

// Config возвращает копию текущей политики.
func (rm *RetentionManager) Config() RetentionConfig {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.cfg
}

// Running сообщает, работает ли планировщик автоочистки.
func (rm *RetentionManager) Running() bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.running
}

// UpdateConfig заменяет политику хранения. Если планировщик работал,
// он перезапускается с новым интервалом; если автоочистка выключена —
// останавливается.
func (rm *RetentionManager) UpdateConfig(ctx context.Context, cfg RetentionConfig) {
	rm.mu.Lock()
	rm.cfg = cfg
	wasRunning := rm.running
	rm.mu.Unlock()

	if wasRunning {
		rm.Stop()
	}
	if cfg.AutoCleanupEnabled {
		rm.Start(ctx)
	}

	rm.logger.Info("политика хранения обновлена",
		slog.Bool("auto_cleanup", cfg.AutoCleanupEnabled),
		slog.String("interval", cfg.CleanupInterval.String()),
	)
}

// Start запускает фоновую горутину автоочистки с периодическим тикером.
// Повторный вызов при работающем планировщике — no-op (идемпотентный старт).
func (rm *RetentionManager) Start(ctx context.Context) {
	rm.mu.Lock()
	if rm.running {
		rm.mu.Unlock()
		return
	}
	schedCtx, cancel := context.WithCancel(ctx)
	rm.cancel = cancel
	rm.running = true
	interval := rm.cfg.CleanupInterval
	rm.mu.Unlock()

	go rm.run(schedCtx, interval)

	rm.logger.Info("планировщик автоочистки запущен",
		slog.String("interval", interval.String()),
	)
}

// Stop останавливает планировщик. Повторный вызов безопасен.
func (rm *RetentionManager) Stop() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if !rm.running {
		return
	}
	if rm.cancel != nil {
		rm.cancel()
		rm.cancel = nil
	}
	rm.running = false
	rm.logger.Info("планировщик автоочистки остановлен")
}

// run — основной цикл фоновой горутины.
// На каждом тике чистятся временные файлы.
func (rm *RetentionManager) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run, err := rm.CleanupTemporary(CleanupOptions{})
			if err != nil {
				rm.logger.Error("плановая очистка не выполнена",
					slog.String("error", err.Error()),
				)
				continue
			}
			rm.logger.Info("плановая очистка завершена",
				slog.Int("deleted", run.FilesDeleted),
				slog.Int64("space_cleaned", run.SpaceCleaned),
				slog.Int("errors", len(run.Errors)),
			)
		}
	}
}

// RunCleanup — композитная точка входа: выполняет выбранные стратегии
// и сливает их результаты в один CleanupRun (свёртка независимых
// под-проходов).
func (rm *RetentionManager) RunCleanup(sel SelectionOptions) (*model.CleanupRun, error) {
	result := &model.CleanupRun{DryRun: sel.DryRun}

	if sel.Temporary {
		sub, err := rm.CleanupTemporary(sel.CleanupOptions)
		if err != nil {
			return nil, err
		}
		result.Merge(sub)
	}

	if sel.Archived {
		sub, err := rm.CleanupArchived(sel.CleanupOptions)
		if err != nil {
			return nil, err
		}
		result.Merge(sub)
	}

	if sel.Deleted {
		sub, err := rm.CleanupDeleted(sel.CleanupOptions)
		if err != nil {
			return nil, err
		}
		result.Merge(sub)
	}

	if sel.OlderThanDays > 0 {
		sub, err := rm.CleanupOlderThan(sel.OlderThanDays, sel.CleanupOptions)
		if err != nil {
			return nil, err
		}
		result.Merge(sub)
	}

	if sel.CampaignID != "" || sel.UserID != "" {
		sub, err := rm.CleanupTarget(sel.CampaignID, sel.UserID, sel.CleanupOptions)
		if err != nil {
			return nil, err
		}
		result.Merge(sub)
	}

	return result, nil
}

// CleanupTemporary удаляет файлы из temp/ старше TempFileTTL.
// Основная цель плановой автоочистки.
func (rm *RetentionManager) CleanupTemporary(opts CleanupOptions) (*model.CleanupRun, error) {
	cutoff := rm.cutoff(rm.Config().TempFileTTL)
	return rm.sweep(engine.DirTemp, "истёк срок жизни временного файла", opts,
		func(entry model.ListEntry) bool {
			return !entry.Info.ModifiedAt.After(cutoff)
		})
}

// CleanupArchived удаляет файлы старше ArchivedTTL, имя или путь которых
// содержит "archive".
//
// Определение архивности по подстроке — эвристика: статус архивности
// этой подсистеме не принадлежит, явного признака в хранилище нет.
func (rm *RetentionManager) CleanupArchived(opts CleanupOptions) (*model.CleanupRun, error) {
	cutoff := rm.cutoff(rm.Config().ArchivedTTL)
	return rm.sweep("", "истёк срок жизни архивного файла", opts,
		func(entry model.ListEntry) bool {
			if !strings.Contains(strings.ToLower(entry.Path), "archive") {
				return false
			}
			return !entry.Info.ModifiedAt.After(cutoff)
		})
}

// CleanupDeleted окончательно удаляет файлы из deleted/,
// пролежавшие там дольше DeletedTTL (конец льготного периода
// мягкого удаления).
func (rm *RetentionManager) CleanupDeleted(opts CleanupOptions) (*model.CleanupRun, error) {
	cutoff := rm.cutoff(rm.Config().DeletedTTL)
	return rm.sweep(engine.DirDeleted, "истёк льготный период мягкого удаления", opts,
		func(entry model.ListEntry) bool {
			return !entry.Info.ModifiedAt.After(cutoff)
		})
}

// CleanupOlderThan удаляет файлы старше days дней по всему хранилищу,
// кроме скрытых путей и templates/. Общая зачистка, используется
// при переполнении хранилища.
func (rm *RetentionManager) CleanupOlderThan(days int, opts CleanupOptions) (*model.CleanupRun, error) {
	if days <= 0 {
		return nil, fmt.Errorf("порог возраста должен быть положительным, получен %d", days)
	}
	cutoff := rm.cutoff(time.Duration(days) * 24 * time.Hour)
	reason := fmt.Sprintf("файл старше %d дней", days)
	return rm.sweep("", reason, opts,
		func(entry model.ListEntry) bool {
			if isHiddenPath(entry.Path) {
				return false
			}
			if strings.HasPrefix(entry.Path, engine.DirTemplates+"/") {
				return false
			}
			return !entry.Info.ModifiedAt.After(cutoff)
		})
}

// CleanupTarget удаляет все файлы кампании и/или пользователя.
// Используется при удалении аккаунта или кампании.
func (rm *RetentionManager) CleanupTarget(campaignID, userID string, opts CleanupOptions) (*model.CleanupRun, error) {
	if campaignID == "" && userID == "" {
		return nil, ErrNoTarget
	}

	result := &model.CleanupRun{DryRun: opts.DryRun}
	all := func(model.ListEntry) bool { return true }

	if campaignID != "" {
		sub, err := rm.sweep(engine.DirCampaigns+"/"+campaignID, "удаление кампании", opts, all)
		if err != nil {
			return nil, err
		}
		result.Merge(sub)
	}
	if userID != "" {
		sub, err := rm.sweep(engine.DirUsers+"/"+userID, "удаление пользователя", opts, all)
		if err != nil {
			return nil, err
		}
		result.Merge(sub)
	}

	return result, nil
}

// CheckStorageAndCleanup сравнивает текущий занятый объём с потолком
// и при превышении запускает ограниченную зачистку: временные +
// архивные + старше 7 дней, не более ceilingSweepMaxFiles файлов.
//
// Возвращает nil без ошибки, если потолок не превышен или не задан.
func (rm *RetentionManager) CheckStorageAndCleanup() (*model.CleanupRun, error) {
	ceiling := rm.Config().MaxTotalStorage
	if ceiling <= 0 {
		return nil, nil
	}

	usage, err := rm.eng.CalculateDiskUsage("")
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчёта занятого места: %w", err)
	}
	if usage.TotalSize <= ceiling {
		return nil, nil
	}

	rm.logger.Warn("превышен потолок хранилища, запуск зачистки",
		slog.Int64("total_size", usage.TotalSize),
		slog.Int64("ceiling", ceiling),
	)

	return rm.RunCleanup(SelectionOptions{
		Temporary:     true,
		Archived:      true,
		OlderThanDays: 7,
		CleanupOptions: CleanupOptions{
			MaxFiles: ceilingSweepMaxFiles,
		},
	})
}

// sweep — общий проход одной стратегии: обходит поддерево relPath,
// отбирает кандидатов предикатом match и удаляет их (или только
// фиксирует при DryRun).
//
// Continue-on-error: ошибка удаления одного файла попадает в Errors
// и Details, проход продолжается. Ошибкой всего прохода считается
// только невозможность перечислить кандидатов.
func (rm *RetentionManager) sweep(
	relPath, reason string,
	opts CleanupOptions,
	match func(model.ListEntry) bool,
) (*model.CleanupRun, error) {
	start := time.Now()
	result := &model.CleanupRun{DryRun: opts.DryRun}

	processed := 0
	for entry, err := range rm.eng.ListFiles(relPath, engine.ListOptions{
		Recursive:    true,
		IncludeStats: true,
	}) {
		if err != nil {
			// Отсутствующая директория — пустой набор кандидатов,
			// а не ошибка: для кампании могли ни разу не загружать файлы.
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			// Обход даже не начался — проход невозможен
			if processed == 0 && len(result.Details) == 0 {
				return nil, fmt.Errorf("ошибка перечисления кандидатов в %q: %w", relPath, err)
			}
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		if entry.Info == nil || !match(entry) {
			continue
		}
		if opts.MaxFiles > 0 && processed >= opts.MaxFiles {
			break
		}
		processed++

		if opts.DryRun {
			result.Record(model.CleanupDetail{
				Path:   entry.Path,
				Action: model.ActionWouldDelete,
				Reason: reason,
				Size:   entry.Info.Size,
			})
			continue
		}

		if err := rm.eng.Delete(entry.Path); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", entry.Path, err))
			result.Record(model.CleanupDetail{
				Path:   entry.Path,
				Action: model.ActionError,
				Reason: reason,
				Size:   entry.Info.Size,
			})
			continue
		}
		result.Record(model.CleanupDetail{
			Path:   entry.Path,
			Action: model.ActionDeleted,
			Reason: reason,
			Size:   entry.Info.Size,
		})
	}

	duration := time.Since(start)

	cleanupRunsTotal.Inc()
	if !opts.DryRun {
		cleanupFilesDeletedTotal.Add(float64(result.FilesDeleted))
		cleanupBytesReclaimedTotal.Add(float64(result.SpaceCleaned))
	}
	cleanupDurationSeconds.Observe(duration.Seconds())

	rm.logger.Debug("проход очистки завершён",
		slog.String("path", relPath),
		slog.String("reason", reason),
		slog.Bool("dry_run", opts.DryRun),
		slog.Int("deleted", result.FilesDeleted),
		slog.Int64("space_cleaned", result.SpaceCleaned),
		slog.Int("errors", len(result.Errors)),
		slog.Duration("duration", duration),
	)

	return result, nil
}

// cutoff — граница отбора по возрасту. Файл с mtime, равным границе,
// попадает в кандидаты (включающая граница).
func (rm *RetentionManager) cutoff(ttl time.Duration) time.Time {
	return rm.now().UTC().Add(-ttl)
}

// isHiddenPath сообщает, содержит ли путь скрытый сегмент.
func isHiddenPath(path string) bool {
	for _, seg := range strings.Split(path, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}
