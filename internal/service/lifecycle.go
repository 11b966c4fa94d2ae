// lifecycle.go — фасад подсистемы хранения.
//
// Единая точка входа: инициализирует компоненты в правильном порядке
// (движок → retention → выдача: плановые зачистки зависят от готового
// движка), пробрасывает операции, агрегирует health-check и владеет
// остановкой планировщика.
package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"time"

	apierrors "github.com/dkruglov/filekeeper/internal/api/errors"
	"github.com/dkruglov/filekeeper/internal/domain/lifecycle"
	"github.com/dkruglov/filekeeper/internal/domain/model"
	"github.com/dkruglov/filekeeper/internal/storage/engine"
	"github.com/dkruglov/filekeeper/internal/storage/tokenstore"
)

// ErrNotReady — операция вызвана вне состояния ready.
var ErrNotReady = errors.New("подсистема хранения не готова")

// FacadeConfig — конфигурация всей подсистемы хранения.
type FacadeConfig struct {
	// Engine — политика движка хранения
	Engine engine.Config
	// Retention — политика хранения
	Retention RetentionConfig
	// TokenTTL — срок жизни токена скачивания по умолчанию
	TokenTTL time.Duration
}

// Facade — фасад подсистемы хранения.
// Компоненты за фасадом друг с другом не разговаривают:
// retention и выдача зависят только от движка.
type Facade struct {
	sm        *lifecycle.StateMachine
	eng       *engine.Engine
	retention *RetentionManager
	broker    *AccessBroker
	logger    *slog.Logger
}

// NewFacade создаёт и инициализирует подсистему хранения.
// Порядок строгий: сначала движок (он размечает директории),
// затем retention и выдача поверх него.
func NewFacade(cfg FacadeConfig, logger *slog.Logger) (*Facade, error) {
	sm := lifecycle.New()

	eng, err := engine.New(cfg.Engine, logger)
	if err != nil {
		return nil, fmt.Errorf("инициализация движка хранения: %w", err)
	}

	f := &Facade{
		sm:        sm,
		eng:       eng,
		retention: NewRetentionManager(eng, cfg.Retention, logger),
		broker:    NewAccessBroker(eng, tokenstore.New(), cfg.TokenTTL, logger),
		logger:    logger.With(slog.String("component", "facade")),
	}

	if err := sm.TransitionTo(lifecycle.StateReady); err != nil {
		return nil, err
	}

	f.logger.Info("подсистема хранения инициализирована",
		slog.String("root", cfg.Engine.RootDir),
	)

	return f, nil
}

// Start запускает планировщик автоочистки, если он включён политикой.
func (f *Facade) Start(ctx context.Context) {
	if f.retention.Config().AutoCleanupEnabled {
		f.retention.Start(ctx)
	}
}

// Shutdown останавливает планировщик и переводит фасад в stopped.
// Идемпотентен: повторный вызов — no-op.
func (f *Facade) Shutdown() {
	if f.sm.Current() == lifecycle.StateStopped {
		return
	}
	f.retention.Stop()
	_ = f.sm.TransitionTo(lifecycle.StateStopped)
	f.logger.Info("подсистема хранения остановлена")
}

// State возвращает текущее состояние жизненного цикла.
func (f *Facade) State() lifecycle.State {
	return f.sm.Current()
}

// ready возвращает ErrNotReady вне состояния ready.
func (f *Facade) ready() error {
	if !f.sm.IsReady() {
		return ErrNotReady
	}
	return nil
}

// notReadyAccessError — ErrNotReady в форме ошибки выдачи.
func notReadyAccessError() *AccessError {
	return &AccessError{
		StatusCode: http.StatusServiceUnavailable,
		Code:       apierrors.CodeInternalError,
		Message:    ErrNotReady.Error(),
	}
}

// --- Проброс операций движка ---

// Store сохраняет файл.
func (f *Facade) Store(data []byte, originalName, mimeType string, opts model.PlacementOptions) (*model.StoredFile, error) {
	if err := f.ready(); err != nil {
		return nil, err
	}
	return f.eng.Store(data, originalName, mimeType, opts)
}

// GetFileInfo возвращает состояние пути.
func (f *Facade) GetFileInfo(relPath string, withChecksum bool) (*model.FileInfo, error) {
	if err := f.ready(); err != nil {
		return nil, err
	}
	return f.eng.GetFileInfo(relPath, withChecksum)
}

// Copy копирует файл как новый логический файл.
func (f *Facade) Copy(sourcePath, mimeType string, opts model.PlacementOptions) (*model.StoredFile, error) {
	if err := f.ready(); err != nil {
		return nil, err
	}
	return f.eng.Copy(sourcePath, mimeType, opts)
}

// Move перемещает файл (копия + удаление источника).
func (f *Facade) Move(sourcePath, mimeType string, opts model.PlacementOptions) (*model.StoredFile, error) {
	if err := f.ready(); err != nil {
		return nil, err
	}
	return f.eng.Move(sourcePath, mimeType, opts)
}

// Delete удаляет файл. Идемпотентно.
func (f *Facade) Delete(relPath string) error {
	if err := f.ready(); err != nil {
		return err
	}
	return f.eng.Delete(relPath)
}

// ListFiles возвращает ленивую последовательность файлов директории.
func (f *Facade) ListFiles(relPath string, opts engine.ListOptions) iter.Seq2[model.ListEntry, error] {
	if err := f.ready(); err != nil {
		return func(yield func(model.ListEntry, error) bool) {
			yield(model.ListEntry{}, err)
		}
	}
	return f.eng.ListFiles(relPath, opts)
}

// CalculateDiskUsage возвращает занятое место поддерева.
func (f *Facade) CalculateDiskUsage(relPath string) (*model.DiskUsage, error) {
	if err := f.ready(); err != nil {
		return nil, err
	}
	return f.eng.CalculateDiskUsage(relPath)
}

// StorageConfig возвращает текущую политику движка.
func (f *Facade) StorageConfig() engine.Config {
	return f.eng.Config()
}

// UpdateStorageConfig заменяет политику движка и заново размечает директории.
func (f *Facade) UpdateStorageConfig(cfg engine.Config) error {
	if err := f.ready(); err != nil {
		return err
	}
	return f.eng.UpdateConfig(cfg)
}

// --- Проброс операций retention ---

// RunCleanup выполняет выбранные стратегии очистки.
func (f *Facade) RunCleanup(sel SelectionOptions) (*model.CleanupRun, error) {
	if err := f.ready(); err != nil {
		return nil, err
	}
	return f.retention.RunCleanup(sel)
}

// CheckStorageAndCleanup запускает зачистку при превышении потолка.
func (f *Facade) CheckStorageAndCleanup() (*model.CleanupRun, error) {
	if err := f.ready(); err != nil {
		return nil, err
	}
	return f.retention.CheckStorageAndCleanup()
}

// RetentionConfig возвращает текущую политику хранения.
func (f *Facade) RetentionConfig() RetentionConfig {
	return f.retention.Config()
}

// SchedulerRunning сообщает, работает ли планировщик автоочистки.
func (f *Facade) SchedulerRunning() bool {
	return f.retention.Running()
}

// UpdateRetentionConfig заменяет политику хранения
// (перезапускает планировщик при необходимости).
func (f *Facade) UpdateRetentionConfig(ctx context.Context, cfg RetentionConfig) error {
	if err := f.ready(); err != nil {
		return err
	}
	f.retention.UpdateConfig(ctx, cfg)
	return nil
}

// --- Проброс операций выдачи ---

// DownloadDirect отдаёт файл целиком.
func (f *Facade) DownloadDirect(w http.ResponseWriter, relPath string, opts DownloadOptions) (*model.DownloadResult, *AccessError) {
	if err := f.ready(); err != nil {
		return nil, notReadyAccessError()
	}
	return f.broker.DownloadDirect(w, relPath, opts)
}

// DownloadStream отдаёт файл потоково.
func (f *Facade) DownloadStream(w http.ResponseWriter, relPath string, opts DownloadOptions) (*model.DownloadResult, *AccessError) {
	if err := f.ready(); err != nil {
		return nil, notReadyAccessError()
	}
	return f.broker.DownloadStream(w, relPath, opts)
}

// IssueToken выпускает токен скачивания.
func (f *Facade) IssueToken(fileID, relPath string, opts TokenOptions) (*model.DownloadToken, *AccessError) {
	if err := f.ready(); err != nil {
		return nil, notReadyAccessError()
	}
	return f.broker.IssueToken(fileID, relPath, opts)
}

// RedeemToken гасит токен и отдаёт файл.
func (f *Facade) RedeemToken(w http.ResponseWriter, value string, opts DownloadOptions) (*model.DownloadResult, *AccessError) {
	if err := f.ready(); err != nil {
		return nil, notReadyAccessError()
	}
	return f.broker.RedeemToken(w, value, opts)
}

// RevokeToken отзывает токен.
func (f *Facade) RevokeToken(value string) bool {
	return f.broker.RevokeToken(value)
}

// GetTokenInfo возвращает публичную информацию о токене.
func (f *Facade) GetTokenInfo(value string) (*model.TokenInfo, bool) {
	return f.broker.GetTokenInfo(value)
}

// SweepExpiredTokens вытесняет истёкшие токены.
func (f *Facade) SweepExpiredTokens() int {
	return f.broker.SweepExpiredTokens()
}

// CheckAccess — проверка доступа к файлу.
func (f *Facade) CheckAccess(relPath, userID string) bool {
	return f.broker.CheckAccess(relPath, userID)
}

// RecentDownloads возвращает события недавних скачиваний.
func (f *Facade) RecentDownloads() []model.DownloadEvent {
	return f.broker.RecentDownloads()
}

// --- Health ---

// HealthCheck выполняет живую проверку подсистемы: проба
// запись-удаление в temp/ и сверка состояния планировщика
// с политикой. Никогда не паникует и не возвращает ошибку —
// деградация выражается статусом warning/error.
func (f *Facade) HealthCheck() *model.HealthStatus {
	status := &model.HealthStatus{
		State:   model.HealthHealthy,
		Details: map[string]string{},
	}

	state := f.sm.Current()
	status.Details["state"] = string(state)
	if state != lifecycle.StateReady {
		status.State = model.HealthError
		status.Details["reason"] = "подсистема не в состоянии ready"
		return status
	}

	// Проба запись-удаление: движок жив и диск доступен на запись.
	// MIME пробы подбирается под действующий allow-list.
	probeMIME := "text/plain"
	if cfg := f.eng.Config(); len(cfg.AllowedMIMETypes) > 0 {
		probeMIME = cfg.AllowedMIMETypes[0]
	}

	probe, err := f.eng.Store([]byte("health probe"), "health_probe.txt", probeMIME,
		model.PlacementOptions{IsTemporary: true})
	if err != nil {
		status.State = model.HealthError
		status.Details["storage"] = fmt.Sprintf("проба записи не прошла: %v", err)
		return status
	}
	if err := f.eng.Delete(probe.FilePath); err != nil {
		// Запись работает, удаление нет: файл-сирота в temp/,
		// его приберёт плановая очистка
		status.State = model.HealthWarning
		status.Details["storage"] = fmt.Sprintf("проба удаления не прошла: %v", err)
	} else {
		status.Details["storage"] = "ok"
	}

	// Сверка планировщика с политикой
	autoCleanup := f.retention.Config().AutoCleanupEnabled
	running := f.retention.Running()
	if autoCleanup != running {
		if status.State == model.HealthHealthy {
			status.State = model.HealthWarning
		}
		status.Details["scheduler"] = fmt.Sprintf(
			"состояние планировщика (running=%t) расходится с политикой (auto_cleanup=%t)",
			running, autoCleanup,
		)
	} else {
		status.Details["scheduler"] = "ok"
	}

	return status
}
