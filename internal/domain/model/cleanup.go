// cleanup.go — модели результата garbage collection.
package model

// CleanupAction — действие, применённое к файлу в рамках GC-прохода.
type CleanupAction string

const (
	// ActionDeleted — файл удалён с диска
	ActionDeleted CleanupAction = "deleted"
	// ActionWouldDelete — кандидат на удаление (dry-run)
	ActionWouldDelete CleanupAction = "would_delete"
	// ActionError — удаление не удалось
	ActionError CleanupAction = "error"
)

// CleanupDetail — исход обработки одного файла.
type CleanupDetail struct {
	// Path — путь файла относительно корня хранилища
	Path string `json:"path"`

	// Action — применённое действие
	Action CleanupAction `json:"action"`

	// Reason — причина попадания файла в кандидаты
	// (например "temp ttl exceeded", "archived ttl exceeded")
	Reason string `json:"reason"`

	// Size — размер файла в байтах
	Size int64 `json:"size"`
}

// CleanupRun — результат одного GC-прохода.
// Несколько стратегий сливаются в один результат через Merge.
//
// Инварианты: FilesDeleted равен количеству detail-записей
// с действием deleted; SpaceCleaned — сумме их размеров.
type CleanupRun struct {
	// FilesDeleted — количество удалённых файлов
	FilesDeleted int `json:"files_deleted"`

	// SpaceCleaned — освобождено байт
	SpaceCleaned int64 `json:"space_cleaned"`

	// DryRun — проход был симуляцией
	DryRun bool `json:"dry_run"`

	// Errors — ошибки по отдельным файлам (continue-on-error:
	// ошибка одного файла не прерывает проход)
	Errors []string `json:"errors,omitempty"`

	// Details — поимённые исходы по каждому файлу
	Details []CleanupDetail `json:"details,omitempty"`
}

// Merge добавляет результат под-прохода в текущий.
// Свёртка независимых исходов в одну запись (fold).
func (r *CleanupRun) Merge(sub *CleanupRun) {
	if sub == nil {
		return
	}
	r.FilesDeleted += sub.FilesDeleted
	r.SpaceCleaned += sub.SpaceCleaned
	r.Errors = append(r.Errors, sub.Errors...)
	r.Details = append(r.Details, sub.Details...)
}

// Record фиксирует исход обработки одного файла.
// Для действия deleted обновляет счётчики FilesDeleted и SpaceCleaned.
func (r *CleanupRun) Record(detail CleanupDetail) {
	r.Details = append(r.Details, detail)
	if detail.Action == ActionDeleted {
		r.FilesDeleted++
		r.SpaceCleaned += detail.Size
	}
}
