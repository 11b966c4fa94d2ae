// system.go — обработчик GET /api/v1/info (информация о сервисе).
// Публичный endpoint (без аутентификации) для service discovery и мониторинга.
package handlers

import (
	"net/http"

	"github.com/dkruglov/filekeeper/internal/config"
	"github.com/dkruglov/filekeeper/internal/service"
)

// DiskUsageFn — функция получения ёмкости файловой системы
// (total, used, available в байтах). nil — проверка недоступна.
type DiskUsageFn func() (total, used, available int64, err error)

// SystemHandler — обработчик системных endpoints.
type SystemHandler struct {
	cfg       *config.Config
	facade    *service.Facade
	diskUsage DiskUsageFn
}

// NewSystemHandler создаёт обработчик системных endpoints.
func NewSystemHandler(cfg *config.Config, facade *service.Facade, diskUsage DiskUsageFn) *SystemHandler {
	return &SystemHandler{
		cfg:       cfg,
		facade:    facade,
		diskUsage: diskUsage,
	}
}

// capacityInfo — сведения о занятости хранилища.
// TotalBytes == 0 означает, что потолок не задан.
type capacityInfo struct {
	TotalBytes     int64 `json:"total_bytes"`
	UsedBytes      int64 `json:"used_bytes"`
	AvailableBytes int64 `json:"available_bytes"`
}

// serviceInfo — ответ GET /api/v1/info.
type serviceInfo struct {
	Service          string        `json:"service"`
	Version          string        `json:"version"`
	State            string        `json:"state"`
	Capacity         capacityInfo  `json:"capacity"`
	Filesystem       *capacityInfo `json:"filesystem,omitempty"`
	MaxFileSize      int64         `json:"max_file_size"`
	AllowedMimeTypes []string      `json:"allowed_mime_types,omitempty"`
	AutoCleanup      bool          `json:"auto_cleanup"`
	SchedulerRunning bool          `json:"scheduler_running"`
}

// GetServiceInfo обрабатывает GET /api/v1/info.
func (h *SystemHandler) GetServiceInfo(w http.ResponseWriter, _ *http.Request) {
	var usedBytes int64
	if usage, err := h.facade.CalculateDiskUsage(""); err == nil {
		usedBytes = usage.TotalSize
	}

	availableBytes := h.cfg.MaxCapacity - usedBytes
	if availableBytes < 0 {
		availableBytes = 0
	}

	storageCfg := h.facade.StorageConfig()
	retentionCfg := h.facade.RetentionConfig()

	resp := serviceInfo{
		Service: "filekeeper",
		Version: config.Version,
		State:   string(h.facade.State()),
		Capacity: capacityInfo{
			TotalBytes:     h.cfg.MaxCapacity,
			UsedBytes:      usedBytes,
			AvailableBytes: availableBytes,
		},
		MaxFileSize:      storageCfg.MaxFileSize,
		AllowedMimeTypes: storageCfg.AllowedMIMETypes,
		AutoCleanup:      retentionCfg.AutoCleanupEnabled,
		SchedulerRunning: h.facade.SchedulerRunning(),
	}

	// Ёмкость файловой системы (если проба доступна)
	if h.diskUsage != nil {
		if total, used, available, err := h.diskUsage(); err == nil {
			resp.Filesystem = &capacityInfo{
				TotalBytes:     total,
				UsedBytes:      used,
				AvailableBytes: available,
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
