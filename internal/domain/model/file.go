// Пакет model — доменные модели Filekeeper.
// file.go — результаты операций StorageEngine: сохранение, stat,
// листинг директорий, подсчёт занятого места.
package model

import (
	"time"
)

// PlacementOptions — теги размещения файла при сохранении.
// Определяют целевую директорию по строгому приоритету:
// temporary > campaign(+batch) > user > file type > general.
// Применяется ровно одна ветка.
type PlacementOptions struct {
	// IsTemporary — файл временный, размещается в temp/.
	// Имеет высший приоритет над остальными тегами.
	IsTemporary bool `json:"is_temporary,omitempty"`

	// CampaignID — идентификатор кампании (campaigns/{id}/)
	CampaignID string `json:"campaign_id,omitempty"`

	// BatchID — идентификатор батча внутри кампании
	// (campaigns/{campaign}/batches/{batch}/). Учитывается
	// только вместе с CampaignID.
	BatchID string `json:"batch_id,omitempty"`

	// UserID — идентификатор пользователя (users/{id}/)
	UserID string `json:"user_id,omitempty"`

	// FileType — объявленный тип файла (types/{type}/)
	FileType string `json:"file_type,omitempty"`
}

// StoredFile — результат успешного сохранения файла.
// Неизменяем после создания. Движок не хранит его в памяти:
// персистентность метаданных — забота вызывающей стороны.
type StoredFile struct {
	// FileID — сгенерированный идентификатор файла
	// (временная метка + случайный суффикс)
	FileID string `json:"file_id"`

	// FileName — сгенерированное имя файла на диске
	// (FileID + оригинальное расширение)
	FileName string `json:"file_name"`

	// FilePath — путь файла относительно корня хранилища
	FilePath string `json:"file_path"`

	// Checksum — SHA-256 содержимого, lower-case hex
	Checksum string `json:"checksum"`

	// Size — размер в байтах
	Size int64 `json:"size"`
}

// FileInfo — состояние пути на момент запроса. Не кэшируется.
// Отсутствие файла — нормальный результат, а не ошибка.
type FileInfo struct {
	// Exists — существует ли путь
	Exists bool `json:"exists"`

	// Size — размер в байтах (0 если не существует)
	Size int64 `json:"size"`

	// CreatedAt — время создания (на практике — mtime,
	// время рождения файла POSIX переносимо недоступно)
	CreatedAt time.Time `json:"created_at,omitzero"`

	// ModifiedAt — время последней модификации
	ModifiedAt time.Time `json:"modified_at,omitzero"`

	// IsDirectory — является ли путь директорией
	IsDirectory bool `json:"is_directory"`

	// Checksum — SHA-256 содержимого (опционально,
	// вычисляется только по запросу)
	Checksum string `json:"checksum,omitempty"`
}

// ListEntry — элемент листинга директории.
type ListEntry struct {
	// Name — имя файла без пути
	Name string `json:"name"`

	// Path — путь относительно корня хранилища
	Path string `json:"path"`

	// Info — stat файла (заполняется только при IncludeStats)
	Info *FileInfo `json:"info,omitempty"`
}

// DiskUsage — результат рекурсивного подсчёта занятого места.
// Полный обход дерева, без кэширования: частые вызовы
// должны троттлиться вызывающей стороной.
type DiskUsage struct {
	// TotalSize — суммарный размер файлов в байтах
	TotalSize int64 `json:"total_size"`

	// FileCount — количество файлов
	FileCount int `json:"file_count"`

	// DirectoryCount — количество директорий (без корня обхода)
	DirectoryCount int `json:"directory_count"`
}
