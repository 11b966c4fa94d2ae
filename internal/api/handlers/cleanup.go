// cleanup.go — HTTP handlers очистки хранилища и политики хранения.
package handlers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dkruglov/filekeeper/internal/api/errors"
	"github.com/dkruglov/filekeeper/internal/service"
)

// CleanupHandler — обработчик endpoints очистки.
type CleanupHandler struct {
	facade *service.Facade
}

// NewCleanupHandler создаёт обработчик очистки.
func NewCleanupHandler(facade *service.Facade) *CleanupHandler {
	return &CleanupHandler{facade: facade}
}

// cleanupRequest — тело запроса ручной очистки.
type cleanupRequest struct {
	Temporary     bool   `json:"temporary,omitempty"`
	Archived      bool   `json:"archived,omitempty"`
	Deleted       bool   `json:"deleted,omitempty"`
	OlderThanDays int    `json:"older_than_days,omitempty"`
	CampaignID    string `json:"campaign_id,omitempty"`
	UserID        string `json:"user_id,omitempty"`
	DryRun        bool   `json:"dry_run,omitempty"`
	MaxFiles      int    `json:"max_files,omitempty"`
}

// RunCleanup обрабатывает POST /api/v1/cleanup.
// Композиция выбранных стратегий за один вызов; пустое тело —
// валидный запрос без единой стратегии (пустой отчёт).
func (h *CleanupHandler) RunCleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			errors.ValidationError(w, fmt.Sprintf("Некорректный JSON: %s", err.Error()))
			return
		}
	}
	if req.OlderThanDays < 0 {
		errors.ValidationError(w, "Поле 'older_than_days' не может быть отрицательным")
		return
	}
	if req.MaxFiles < 0 {
		errors.ValidationError(w, "Поле 'max_files' не может быть отрицательным")
		return
	}

	sel := service.SelectionOptions{
		Temporary:     req.Temporary,
		Archived:      req.Archived,
		Deleted:       req.Deleted,
		OlderThanDays: req.OlderThanDays,
		CampaignID:    req.CampaignID,
		UserID:        req.UserID,
		CleanupOptions: service.CleanupOptions{
			DryRun:   req.DryRun,
			MaxFiles: req.MaxFiles,
		},
	}

	run, err := h.facade.RunCleanup(sel)
	if err != nil {
		writeCleanupError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// CheckStorage обрабатывает POST /api/v1/cleanup/check.
// Проверка потолка хранилища с принудительной очисткой при превышении.
// triggered=false — потолок не задан или не достигнут.
func (h *CleanupHandler) CheckStorage(w http.ResponseWriter, _ *http.Request) {
	run, err := h.facade.CheckStorageAndCleanup()
	if err != nil {
		writeCleanupError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"triggered": run != nil,
		"run":       run,
	})
}

// retentionConfigResponse — политика хранения в JSON-представлении.
// Длительности сериализуются строками Go ("24h0m0s").
type retentionConfigResponse struct {
	TempFileTTL        string `json:"temp_file_ttl"`
	ArchivedTTL        string `json:"archived_ttl"`
	DeletedTTL         string `json:"deleted_ttl"`
	MaxTotalStorage    int64  `json:"max_total_storage"`
	AutoCleanupEnabled bool   `json:"auto_cleanup_enabled"`
	CleanupInterval    string `json:"cleanup_interval"`
	SchedulerRunning   bool   `json:"scheduler_running"`
}

// GetRetentionConfig обрабатывает GET /api/v1/retention.
func (h *CleanupHandler) GetRetentionConfig(w http.ResponseWriter, _ *http.Request) {
	cfg := h.facade.RetentionConfig()
	writeJSON(w, http.StatusOK, retentionConfigResponse{
		TempFileTTL:        cfg.TempFileTTL.String(),
		ArchivedTTL:        cfg.ArchivedTTL.String(),
		DeletedTTL:         cfg.DeletedTTL.String(),
		MaxTotalStorage:    cfg.MaxTotalStorage,
		AutoCleanupEnabled: cfg.AutoCleanupEnabled,
		CleanupInterval:    cfg.CleanupInterval.String(),
		SchedulerRunning:   h.facade.SchedulerRunning(),
	})
}

// retentionConfigRequest — тело запроса обновления политики хранения.
// nil-поля не меняются (частичное обновление).
type retentionConfigRequest struct {
	TempFileTTL        *string `json:"temp_file_ttl,omitempty"`
	ArchivedTTL        *string `json:"archived_ttl,omitempty"`
	DeletedTTL         *string `json:"deleted_ttl,omitempty"`
	MaxTotalStorage    *int64  `json:"max_total_storage,omitempty"`
	AutoCleanupEnabled *bool   `json:"auto_cleanup_enabled,omitempty"`
	CleanupInterval    *string `json:"cleanup_interval,omitempty"`
}

// UpdateRetentionConfig обрабатывает PUT /api/v1/retention.
// Планировщик перезапускается с новым интервалом при необходимости.
func (h *CleanupHandler) UpdateRetentionConfig(w http.ResponseWriter, r *http.Request) {
	var req retentionConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.ValidationError(w, fmt.Sprintf("Некорректный JSON: %s", err.Error()))
		return
	}

	cfg := h.facade.RetentionConfig()

	if req.TempFileTTL != nil {
		d, err := parsePositiveDuration("temp_file_ttl", *req.TempFileTTL)
		if err != nil {
			errors.ValidationError(w, err.Error())
			return
		}
		cfg.TempFileTTL = d
	}
	if req.ArchivedTTL != nil {
		d, err := parsePositiveDuration("archived_ttl", *req.ArchivedTTL)
		if err != nil {
			errors.ValidationError(w, err.Error())
			return
		}
		cfg.ArchivedTTL = d
	}
	if req.DeletedTTL != nil {
		d, err := parsePositiveDuration("deleted_ttl", *req.DeletedTTL)
		if err != nil {
			errors.ValidationError(w, err.Error())
			return
		}
		cfg.DeletedTTL = d
	}
	if req.MaxTotalStorage != nil {
		if *req.MaxTotalStorage < 0 {
			errors.ValidationError(w, "Поле 'max_total_storage' не может быть отрицательным")
			return
		}
		cfg.MaxTotalStorage = *req.MaxTotalStorage
	}
	if req.AutoCleanupEnabled != nil {
		cfg.AutoCleanupEnabled = *req.AutoCleanupEnabled
	}
	if req.CleanupInterval != nil {
		d, err := parsePositiveDuration("cleanup_interval", *req.CleanupInterval)
		if err != nil {
			errors.ValidationError(w, err.Error())
			return
		}
		cfg.CleanupInterval = d
	}

	// Контекст запроса отменяется по завершении ответа — планировщик
	// должен пережить запрос
	if err := h.facade.UpdateRetentionConfig(context.WithoutCancel(r.Context()), cfg); err != nil {
		writeCleanupError(w, err)
		return
	}

	h.GetRetentionConfig(w, r)
}

// parsePositiveDuration разбирает длительность вида "24h", "30m"
// и требует строго положительного значения.
func parsePositiveDuration(field, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("Поле '%s': некорректная длительность '%s'", field, value)
	}
	if d <= 0 {
		return 0, fmt.Errorf("Поле '%s' должно быть положительным", field)
	}
	return d, nil
}

// writeCleanupError преобразует ошибки очистки в HTTP-ответ.
func writeCleanupError(w http.ResponseWriter, err error) {
	switch {
	case stderrors.Is(err, service.ErrNoTarget):
		errors.ValidationError(w, "Укажите 'campaign_id' и/или 'user_id'")
	case stderrors.Is(err, service.ErrNotReady):
		errors.WriteError(w, http.StatusServiceUnavailable, errors.CodeInternalError, "Сервис остановлен")
	default:
		errors.InternalError(w, err.Error())
	}
}
