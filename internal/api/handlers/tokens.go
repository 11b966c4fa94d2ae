// tokens.go — HTTP handlers токенов скачивания.
// Выпуск, погашение (скачивание по ссылке), информация, отзыв, уборка.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dkruglov/filekeeper/internal/api/errors"
	"github.com/dkruglov/filekeeper/internal/service"
)

// TokensHandler — обработчик endpoints токенов скачивания.
type TokensHandler struct {
	facade *service.Facade
}

// NewTokensHandler создаёт обработчик токенов.
func NewTokensHandler(facade *service.Facade) *TokensHandler {
	return &TokensHandler{facade: facade}
}

// issueTokenRequest — тело запроса выпуска токена.
type issueTokenRequest struct {
	FileID string `json:"file_id"`
	Path   string `json:"path"`
	// TTLMinutes — срок жизни в минутах. Отсутствие поля — срок
	// по умолчанию; явный 0 — немедленное истечение.
	TTLMinutes   *int   `json:"ttl_minutes,omitempty"`
	MaxDownloads int    `json:"max_downloads,omitempty"`
	UserID       string `json:"user_id,omitempty"`
}

// IssueToken обрабатывает POST /api/v1/tokens.
func (h *TokensHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req issueTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.ValidationError(w, fmt.Sprintf("Некорректный JSON: %s", err.Error()))
		return
	}
	if req.FileID == "" || req.Path == "" {
		errors.ValidationError(w, "Поля 'file_id' и 'path' обязательны")
		return
	}
	if req.MaxDownloads < 0 {
		errors.ValidationError(w, "Поле 'max_downloads' не может быть отрицательным")
		return
	}

	opts := service.TokenOptions{
		MaxDownloads: req.MaxDownloads,
		UserID:       req.UserID,
	}
	if req.TTLMinutes != nil {
		ttl := time.Duration(*req.TTLMinutes) * time.Minute
		opts.TTL = &ttl
	}

	token, aerr := h.facade.IssueToken(req.FileID, req.Path, opts)
	if aerr != nil {
		errors.WriteError(w, aerr.StatusCode, aerr.Code, aerr.Message)
		return
	}

	writeJSON(w, http.StatusCreated, token)
}

// RedeemToken обрабатывает GET /download/{token}.
// Публичный endpoint (без аутентификации): токен сам является
// capability. Query: inline=1, filename.
func (h *TokensHandler) RedeemToken(w http.ResponseWriter, r *http.Request) {
	value := chi.URLParam(r, "token")

	opts := service.DownloadOptions{
		FileName: r.URL.Query().Get("filename"),
		Inline:   r.URL.Query().Get("inline") == "1",
	}

	if _, aerr := h.facade.RedeemToken(w, value, opts); aerr != nil {
		errors.WriteError(w, aerr.StatusCode, aerr.Code, aerr.Message)
	}
}

// GetTokenInfo обрабатывает GET /api/v1/tokens/{token}.
// Путь файла в ответ не попадает.
func (h *TokensHandler) GetTokenInfo(w http.ResponseWriter, r *http.Request) {
	value := chi.URLParam(r, "token")

	info, ok := h.facade.GetTokenInfo(value)
	if !ok {
		errors.NotFound(w, "Токен не найден")
		return
	}

	writeJSON(w, http.StatusOK, info)
}

// RevokeToken обрабатывает DELETE /api/v1/tokens/{token}.
func (h *TokensHandler) RevokeToken(w http.ResponseWriter, r *http.Request) {
	value := chi.URLParam(r, "token")

	if !h.facade.RevokeToken(value) {
		errors.NotFound(w, "Токен не найден")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SweepTokens обрабатывает POST /api/v1/tokens/sweep.
// Ленивое уплотнение: вытесняет истёкшие токены.
func (h *TokensHandler) SweepTokens(w http.ResponseWriter, _ *http.Request) {
	swept := h.facade.SweepExpiredTokens()
	writeJSON(w, http.StatusOK, map[string]int{"swept": swept})
}

// RecentDownloads обрабатывает GET /api/v1/downloads/recent.
// Оперативная статистика из кэша недавних скачиваний.
func (h *TokensHandler) RecentDownloads(w http.ResponseWriter, _ *http.Request) {
	events := h.facade.RecentDownloads()
	writeJSON(w, http.StatusOK, map[string]any{
		"items": events,
		"total": len(events),
	})
}
