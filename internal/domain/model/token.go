// token.go — модели токенов скачивания и событий скачивания.
package model

import (
	"time"
)

// DownloadToken — capability-объект, дающий ограниченный по времени
// и количеству использований доступ к одному файлу без знания его пути.
// Живёт только в памяти процесса (не персистентен).
type DownloadToken struct {
	// Token — непредсказуемое opaque-значение (ключ в хранилище).
	// Никаких claims внутри: всё состояние на стороне сервера.
	Token string `json:"token"`

	// FileID — идентификатор файла
	FileID string `json:"file_id"`

	// FilePath — путь файла относительно корня хранилища.
	// Наружу (в TokenInfo) не отдаётся.
	FilePath string `json:"-"`

	// ExpiresAt — момент истечения; после него токен
	// непригоден независимо от остатка использований
	ExpiresAt time.Time `json:"expires_at"`

	// MaxDownloads — лимит скачиваний (0 = без лимита)
	MaxDownloads int `json:"max_downloads,omitempty"`

	// Downloads — текущий счётчик скачиваний.
	// Никогда не превышает MaxDownloads при установленном лимите.
	Downloads int `json:"downloads"`

	// UserID — владелец токена (опционально)
	UserID string `json:"user_id,omitempty"`
}

// TokenInfo — публичная информация о токене.
// Путь файла намеренно не раскрывается.
type TokenInfo struct {
	FileID       string    `json:"file_id"`
	ExpiresAt    time.Time `json:"expires_at"`
	MaxDownloads int       `json:"max_downloads,omitempty"`
	Downloads    int       `json:"downloads"`
	UserID       string    `json:"user_id,omitempty"`
}

// DownloadResult — итог выполненного скачивания.
type DownloadResult struct {
	// FileName — имя файла, отданное клиенту
	FileName string `json:"file_name"`

	// ContentType — MIME-тип в ответе
	ContentType string `json:"content_type"`

	// Size — отдано байт
	Size int64 `json:"size"`

	// Streamed — файл отдан потоково, без буферизации
	Streamed bool `json:"streamed"`
}

// DownloadEvent — событие скачивания для кэша недавних скачиваний.
type DownloadEvent struct {
	// Path — путь файла относительно корня хранилища
	Path string `json:"path"`

	// FileName — имя файла в ответе
	FileName string `json:"file_name"`

	// Size — отдано байт
	Size int64 `json:"size"`

	// ViaToken — скачивание по токену
	ViaToken bool `json:"via_token"`

	// At — момент скачивания (UTC)
	At time.Time `json:"at"`
}
