// files.go — HTTP handlers файловых операций Filekeeper.
// Upload, Download, Info, List, Copy, Move, Delete, Usage.
package handlers

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dkruglov/filekeeper/internal/api/errors"
	"github.com/dkruglov/filekeeper/internal/api/middleware"
	"github.com/dkruglov/filekeeper/internal/domain/model"
	"github.com/dkruglov/filekeeper/internal/service"
	"github.com/dkruglov/filekeeper/internal/storage/engine"
)

// FilesHandler — обработчик файловых endpoints.
type FilesHandler struct {
	facade *service.Facade
}

// NewFilesHandler создаёт обработчик файловых endpoints.
func NewFilesHandler(facade *service.Facade) *FilesHandler {
	return &FilesHandler{facade: facade}
}

// placementFromForm собирает теги размещения из полей multipart-формы.
func placementFromForm(r *http.Request) model.PlacementOptions {
	return model.PlacementOptions{
		IsTemporary: r.FormValue("is_temporary") == "true",
		CampaignID:  r.FormValue("campaign_id"),
		BatchID:     r.FormValue("batch_id"),
		UserID:      r.FormValue("user_id"),
		FileType:    r.FormValue("file_type"),
	}
}

// UploadFile обрабатывает POST /api/v1/files.
// Multipart form: file (обязательно), is_temporary, campaign_id,
// batch_id, user_id, file_type (опционально, теги размещения).
func (h *FilesHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	// Парсим multipart form (буфер в памяти + spill на диск)
	if err := r.ParseMultipartForm(32 << 20); err != nil { // 32 MB buffer
		errors.ValidationError(w, fmt.Sprintf("Ошибка парсинга multipart: %s", err.Error()))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		errors.ValidationError(w, "Поле 'file' обязательно")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = engine.ContentTypeByExtension(header.Filename)
	}

	data, err := io.ReadAll(file)
	if err != nil {
		errors.InternalError(w, "Ошибка чтения загружаемого файла")
		return
	}

	stored, err := h.facade.Store(data, header.Filename, contentType, placementFromForm(r))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	middleware.OperationsTotal.WithLabelValues("upload", "success").Inc()

	writeJSON(w, http.StatusCreated, stored)
}

// writeStoreError переводит ошибку сохранения в HTTP-ответ.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case stderrors.Is(err, engine.ErrEmptyFile):
		errors.EmptyFile(w, "Пустой файл не принимается")
	case stderrors.Is(err, engine.ErrFileTooLarge):
		errors.FileTooLarge(w, "Файл превышает максимальный размер")
	case stderrors.Is(err, engine.ErrTypeNotAllowed):
		errors.TypeNotAllowed(w, "MIME-тип файла не входит в список разрешённых")
	case stderrors.Is(err, engine.ErrNotFound):
		errors.NotFound(w, "Исходный файл не найден")
	case stderrors.Is(err, engine.ErrInvalidPath):
		errors.ValidationError(w, "Недопустимый путь файла")
	case stderrors.Is(err, service.ErrNotReady):
		errors.WriteError(w, http.StatusServiceUnavailable, errors.CodeInternalError, err.Error())
	default:
		errors.InternalError(w, "Ошибка сохранения файла")
	}
}

// DownloadFile обрабатывает GET /api/v1/files/download.
// Query: path (обязательно), stream=1 (потоковая отдача),
// inline=1 (Content-Disposition inline), filename (переопределение имени).
func (h *FilesHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	relPath := r.URL.Query().Get("path")
	if relPath == "" {
		errors.ValidationError(w, "Параметр 'path' обязателен")
		return
	}

	opts := service.DownloadOptions{
		FileName: r.URL.Query().Get("filename"),
		Inline:   r.URL.Query().Get("inline") == "1",
	}

	var aerr *service.AccessError
	if r.URL.Query().Get("stream") == "1" {
		_, aerr = h.facade.DownloadStream(w, relPath, opts)
	} else {
		_, aerr = h.facade.DownloadDirect(w, relPath, opts)
	}
	if aerr != nil {
		errors.WriteError(w, aerr.StatusCode, aerr.Code, aerr.Message)
	}
}

// GetFileInfo обрабатывает GET /api/v1/files/info.
// Query: path (обязательно), checksum=1 (вычислить SHA-256).
// Отсутствие файла — нормальный ответ 200 с exists=false.
func (h *FilesHandler) GetFileInfo(w http.ResponseWriter, r *http.Request) {
	relPath := r.URL.Query().Get("path")
	if relPath == "" {
		errors.ValidationError(w, "Параметр 'path' обязателен")
		return
	}

	info, err := h.facade.GetFileInfo(relPath, r.URL.Query().Get("checksum") == "1")
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, info)
}

// ListFiles обрабатывает GET /api/v1/files.
// Query: path (поддиректория, по умолчанию корень), recursive=1,
// stats=1, suffix (фильтр по суффиксу имени).
func (h *FilesHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	relPath := r.URL.Query().Get("path")
	suffix := r.URL.Query().Get("suffix")

	opts := engine.ListOptions{
		Recursive:    r.URL.Query().Get("recursive") == "1",
		IncludeStats: r.URL.Query().Get("stats") == "1",
	}
	if suffix != "" {
		opts.Filter = func(name string) bool {
			return strings.HasSuffix(name, suffix)
		}
	}

	items := make([]model.ListEntry, 0)
	for entry, err := range h.facade.ListFiles(relPath, opts) {
		if err != nil {
			writeStoreError(w, err)
			return
		}
		items = append(items, entry)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"total": len(items),
	})
}

// fileOpRequest — тело запроса копирования/перемещения.
type fileOpRequest struct {
	SourcePath string                 `json:"source_path"`
	MimeType   string                 `json:"mime_type,omitempty"`
	Placement  model.PlacementOptions `json:"placement"`
}

// CopyFile обрабатывает POST /api/v1/files/copy.
// Источник читается и сохраняется как новый логический файл.
func (h *FilesHandler) CopyFile(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeFileOp(w, r)
	if !ok {
		return
	}

	stored, err := h.facade.Copy(req.SourcePath, req.MimeType, req.Placement)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	middleware.OperationsTotal.WithLabelValues("copy", "success").Inc()
	writeJSON(w, http.StatusCreated, stored)
}

// MoveFile обрабатывает POST /api/v1/files/move.
// Копия + удаление источника; неудача удаления не откатывает копию.
func (h *FilesHandler) MoveFile(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeFileOp(w, r)
	if !ok {
		return
	}

	stored, err := h.facade.Move(req.SourcePath, req.MimeType, req.Placement)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	middleware.OperationsTotal.WithLabelValues("move", "success").Inc()
	writeJSON(w, http.StatusCreated, stored)
}

func decodeFileOp(w http.ResponseWriter, r *http.Request) (*fileOpRequest, bool) {
	var req fileOpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.ValidationError(w, fmt.Sprintf("Некорректный JSON: %s", err.Error()))
		return nil, false
	}
	if req.SourcePath == "" {
		errors.ValidationError(w, "Поле 'source_path' обязательно")
		return nil, false
	}
	return &req, true
}

// DeleteFile обрабатывает DELETE /api/v1/files.
// Query: path (обязательно). Идемпотентно: удаление отсутствующего
// пути — тоже 204.
func (h *FilesHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	relPath := r.URL.Query().Get("path")
	if relPath == "" {
		errors.ValidationError(w, "Параметр 'path' обязателен")
		return
	}

	if err := h.facade.Delete(relPath); err != nil {
		writeStoreError(w, err)
		return
	}

	middleware.OperationsTotal.WithLabelValues("delete", "success").Inc()
	w.WriteHeader(http.StatusNoContent)
}

// GetDiskUsage обрабатывает GET /api/v1/usage.
// Query: path (поддиректория, по умолчанию корень).
// Полный обход дерева — частые вызовы должны троттлиться клиентом.
func (h *FilesHandler) GetDiskUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := h.facade.CalculateDiskUsage(r.URL.Query().Get("path"))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	middleware.StorageBytes.Set(float64(usage.TotalSize))

	writeJSON(w, http.StatusOK, usage)
}

// writeJSON вспомогательная функция для записи JSON-ответа.
func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}
