// handler.go — APIHandler собирает доменные handlers и описывает
// маршруты HTTP API.
package handlers

import (
	"github.com/go-chi/chi/v5"

	"github.com/dkruglov/filekeeper/internal/config"
	"github.com/dkruglov/filekeeper/internal/service"
)

// APIHandler — единая точка сборки всех endpoint'ов сервиса.
type APIHandler struct {
	files   *FilesHandler
	tokens  *TokensHandler
	cleanup *CleanupHandler
	system  *SystemHandler
	health  *HealthHandler
}

// NewAPIHandler создаёт handlers поверх фасада.
// diskUsage — проба ёмкости файловой системы (nil = не показывать).
func NewAPIHandler(cfg *config.Config, facade *service.Facade, diskUsage DiskUsageFn) *APIHandler {
	return &APIHandler{
		files:   NewFilesHandler(facade),
		tokens:  NewTokensHandler(facade),
		cleanup: NewCleanupHandler(facade),
		system:  NewSystemHandler(cfg, facade, diskUsage),
		health:  NewHealthHandler(facade),
	}
}

// RegisterPublic навешивает endpoints, доступные без аутентификации:
// health probes, service discovery и скачивание по токену
// (токен сам является capability).
func (h *APIHandler) RegisterPublic(r chi.Router) {
	r.Get("/health/live", h.health.HealthLive)
	r.Get("/health/ready", h.health.HealthReady)
	r.Get("/api/v1/info", h.system.GetServiceInfo)
	r.Get("/download/{token}", h.tokens.RedeemToken)
}

// RegisterAPI навешивает защищённые endpoints API.
func (h *APIHandler) RegisterAPI(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		// Файловые операции
		r.Post("/files", h.files.UploadFile)
		r.Get("/files", h.files.ListFiles)
		r.Delete("/files", h.files.DeleteFile)
		r.Get("/files/download", h.files.DownloadFile)
		r.Get("/files/info", h.files.GetFileInfo)
		r.Post("/files/copy", h.files.CopyFile)
		r.Post("/files/move", h.files.MoveFile)
		r.Get("/usage", h.files.GetDiskUsage)

		// Токены скачивания
		r.Post("/tokens", h.tokens.IssueToken)
		r.Post("/tokens/sweep", h.tokens.SweepTokens)
		r.Get("/tokens/{token}", h.tokens.GetTokenInfo)
		r.Delete("/tokens/{token}", h.tokens.RevokeToken)
		r.Get("/downloads/recent", h.tokens.RecentDownloads)

		// Очистка и политика хранения
		r.Post("/cleanup", h.cleanup.RunCleanup)
		r.Post("/cleanup/check", h.cleanup.CheckStorage)
		r.Get("/retention", h.cleanup.GetRetentionConfig)
		r.Put("/retention", h.cleanup.UpdateRetentionConfig)
	})
}
