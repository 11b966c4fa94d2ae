// Пакет errors — конструкторы стандартных ошибок в формате Filekeeper.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors //nolint:revive // TODO: переименовать пакет errors, конфликт со stdlib

import (
	"encoding/json"
	"net/http"
)

// Машиночитаемые коды ошибок API.
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeEmptyFile       = "EMPTY_FILE"
	CodeFileTooLarge    = "FILE_TOO_LARGE"
	CodeTypeNotAllowed  = "TYPE_NOT_ALLOWED"
	CodeTokenInvalid    = "TOKEN_INVALID"
	CodeTokenExpired    = "TOKEN_EXPIRED"
	CodeTokenExhausted  = "TOKEN_EXHAUSTED"
	CodeStorageFull     = "STORAGE_FULL"
	CodeInternalError   = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате Filekeeper.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// EmptyFile — 400 пустой файл.
func EmptyFile(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeEmptyFile, message)
}

// FileTooLarge — 413 файл превышает лимит.
func FileTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, CodeFileTooLarge, message)
}

// TypeNotAllowed — 400 MIME-тип вне списка разрешённых.
func TypeNotAllowed(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeTypeNotAllowed, message)
}

// TokenInvalid — 400 токен неизвестен или отозван.
func TokenInvalid(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeTokenInvalid, message)
}

// TokenExpired — 400 срок жизни токена истёк.
func TokenExpired(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeTokenExpired, message)
}

// TokenExhausted — 400 лимит скачиваний по токену исчерпан.
func TokenExhausted(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeTokenExhausted, message)
}

// StorageFull — 507 превышен потолок хранилища.
func StorageFull(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInsufficientStorage, CodeStorageFull, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
