// Пакет engine — операции с физическими файлами под корневой директорией.
// Обеспечивает запись с подсчётом SHA-256 на лету, чтение, копирование,
// перемещение, удаление, ленивый листинг и рекурсивный подсчёт занятого места.
//
// Движок не хранит состояние файлов в памяти и не обращается к базе данных:
// это чистый filesystem-движок, возвращающий структурированные результаты,
// которые вызывающая сторона персистирует самостоятельно.
package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dkruglov/filekeeper/internal/domain/model"
)

// Поддиректории корня хранилища. Провижинятся при инициализации
// и при обновлении конфигурации.
const (
	// DirTemp — временные файлы, самый ранний TTL
	DirTemp = "temp"
	// DirCampaigns — файлы кампаний (campaigns/{id}/batches/{id})
	DirCampaigns = "campaigns"
	// DirUsers — файлы пользователей
	DirUsers = "users"
	// DirTypes — файлы по объявленному типу
	DirTypes = "types"
	// DirGeneral — fallback, когда ни один тег не задан
	DirGeneral = "general"
	// DirTemplates — шаблоны (исключаются из age-based очистки)
	DirTemplates = "templates"
	// DirExports — экспорты
	DirExports = "exports"
	// DirDeleted — зона мягкого удаления
	DirDeleted = "deleted"
)

// provisionedDirs — полный список директорий, создаваемых при инициализации.
var provisionedDirs = []string{
	DirTemp, DirCampaigns, DirUsers, DirTypes,
	DirGeneral, DirTemplates, DirExports, DirDeleted,
}

// Ошибки валидации и чтения.
var (
	// ErrEmptyFile — попытка сохранить пустой файл
	ErrEmptyFile = errors.New("пустой файл")
	// ErrFileTooLarge — размер превышает настроенный лимит
	ErrFileTooLarge = errors.New("файл превышает максимальный размер")
	// ErrTypeNotAllowed — MIME-тип вне allow-list
	ErrTypeNotAllowed = errors.New("недопустимый MIME-тип")
	// ErrNotFound — файл не найден
	ErrNotFound = errors.New("файл не найден")
	// ErrInvalidPath — путь выходит за пределы корня хранилища
	ErrInvalidPath = errors.New("недопустимый путь")
)

// Config — политика движка хранения.
type Config struct {
	// RootDir — корневая директория хранения
	RootDir string
	// MaxFileSize — максимальный размер файла в байтах
	MaxFileSize int64
	// AllowedMIMETypes — allow-list MIME-типов.
	// Пустой список означает «принимать любой тип» — это явная
	// политика, а не упущение.
	AllowedMIMETypes []string
	// DefaultRetentionDays — срок хранения по умолчанию (информационно,
	// применяется RetentionManager-ом)
	DefaultRetentionDays int
	// CompressEnabled — флаг сжатия при записи.
	// TODO: сжатие на лету пока не применяется при записи.
	CompressEnabled bool
}

// Engine — движок хранения файлов.
// Потокобезопасен: конфигурация защищена RWMutex, конкурентные Store
// не конфликтуют благодаря уникальным именам файлов.
type Engine struct {
	mu      sync.RWMutex
	cfg     Config
	allowed map[string]bool // нормализованный allow-list (lower-case)
	logger  *slog.Logger
}

// ListOptions — параметры листинга директории.
type ListOptions struct {
	// Recursive — обходить поддиректории (depth-first, плоский результат)
	Recursive bool
	// IncludeStats — заполнять Info каждой записи
	IncludeStats bool
	// Filter — предикат по имени файла (nil = все файлы)
	Filter func(name string) bool
}

// New создаёт движок хранения и провижинит директории.
func New(cfg Config, logger *slog.Logger) (*Engine, error) {
	if cfg.RootDir == "" {
		return nil, fmt.Errorf("не задана корневая директория хранилища")
	}
	if cfg.MaxFileSize <= 0 {
		return nil, fmt.Errorf("максимальный размер файла должен быть положительным, получено %d", cfg.MaxFileSize)
	}

	e := &Engine{
		cfg:     cfg,
		allowed: normalizeAllowList(cfg.AllowedMIMETypes),
		logger:  logger.With(slog.String("component", "storage_engine")),
	}

	if err := e.provisionDirs(); err != nil {
		return nil, err
	}

	return e, nil
}

// UpdateConfig заменяет конфигурацию движка и заново провижинит директории.
func (e *Engine) UpdateConfig(cfg Config) error {
	if cfg.RootDir == "" {
		return fmt.Errorf("не задана корневая директория хранилища")
	}
	if cfg.MaxFileSize <= 0 {
		return fmt.Errorf("максимальный размер файла должен быть положительным, получено %d", cfg.MaxFileSize)
	}

	e.mu.Lock()
	e.cfg = cfg
	e.allowed = normalizeAllowList(cfg.AllowedMIMETypes)
	e.mu.Unlock()

	return e.provisionDirs()
}

// Config возвращает копию текущей конфигурации.
func (e *Engine) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// RootDir возвращает корневую директорию хранилища.
func (e *Engine) RootDir() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg.RootDir
}

// provisionDirs создаёт корень и все стандартные поддиректории.
func (e *Engine) provisionDirs() error {
	root := e.RootDir()
	for _, dir := range append([]string{""}, provisionedDirs...) {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o750); err != nil {
			return fmt.Errorf("не удалось создать директорию %s: %w", dir, err)
		}
	}
	return nil
}

// Store сохраняет файл в хранилище.
//
// Валидация: пустой файл, превышение размера, MIME-тип вне allow-list
// (при непустом allow-list). Директория размещения выбирается по строгому
// приоритету temp > campaign(+batch) > user > type > general.
//
// Паттерн записи: temp файл → запись + SHA-256 → fsync → atomic rename.
// При ошибке temp файл удаляется.
func (e *Engine) Store(data []byte, originalName, mimeType string, opts model.PlacementOptions) (*model.StoredFile, error) {
	e.mu.RLock()
	maxSize := e.cfg.MaxFileSize
	allowed := e.allowed
	root := e.cfg.RootDir
	e.mu.RUnlock()

	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	if int64(len(data)) > maxSize {
		return nil, fmt.Errorf("%w: %d байт при лимите %d", ErrFileTooLarge, len(data), maxSize)
	}
	if len(allowed) > 0 && !allowed[strings.ToLower(mimeType)] {
		return nil, fmt.Errorf("%w: %s", ErrTypeNotAllowed, mimeType)
	}

	// Выбор директории размещения: применяется ровно одна ветка
	placement := placementDir(opts)

	fileID := generateFileID()
	fileName := fileID + strings.ToLower(filepath.Ext(originalName))
	relPath := filepath.ToSlash(filepath.Join(placement, fileName))
	fullPath := filepath.Join(root, placement, fileName)

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию размещения: %w", err)
	}

	checksum, err := writeAtomic(fullPath, data)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("Файл сохранён",
		slog.String("file_id", fileID),
		slog.String("path", relPath),
		slog.Int("size", len(data)),
	)

	return &model.StoredFile{
		FileID:   fileID,
		FileName: fileName,
		FilePath: relPath,
		Checksum: checksum,
		Size:     int64(len(data)),
	}, nil
}

// writeAtomic записывает данные по пути fullPath через временный файл
// с fsync и атомарным rename. Возвращает SHA-256 hex содержимого.
func writeAtomic(fullPath string, data []byte) (string, error) {
	tmpPath := fullPath + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	hasher := sha256.New()
	w := io.MultiWriter(f, hasher)

	if _, err := w.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("ошибка записи данных: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// ReadFile читает файл целиком.
// Возвращает ErrNotFound, если путь отсутствует.
func (e *Engine) ReadFile(relPath string) ([]byte, error) {
	fullPath, err := e.resolve(relPath)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, relPath)
		}
		return nil, fmt.Errorf("ошибка чтения файла %s: %w", relPath, err)
	}
	return data, nil
}

// Open открывает файл для потокового чтения.
// Вызывающий код обязан закрыть файл.
func (e *Engine) Open(relPath string) (*os.File, error) {
	fullPath, err := e.resolve(relPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, relPath)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", relPath, err)
	}
	return f, nil
}

// GetFileInfo возвращает stat пути на момент вызова. Не кэшируется.
// Отсутствие пути — нормальный результат (Exists: false), не ошибка.
// withChecksum — дополнительно вычислить SHA-256 содержимого.
func (e *Engine) GetFileInfo(relPath string, withChecksum bool) (*model.FileInfo, error) {
	fullPath, err := e.resolve(relPath)
	if err != nil {
		return nil, err
	}

	stat, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &model.FileInfo{Exists: false}, nil
		}
		return nil, fmt.Errorf("ошибка stat %s: %w", relPath, err)
	}

	info := &model.FileInfo{
		Exists:      true,
		Size:        stat.Size(),
		CreatedAt:   stat.ModTime(),
		ModifiedAt:  stat.ModTime(),
		IsDirectory: stat.IsDir(),
	}

	if withChecksum && !stat.IsDir() {
		sum, err := e.computeChecksum(fullPath)
		if err != nil {
			return nil, err
		}
		info.Checksum = sum
	}

	return info, nil
}

// computeChecksum вычисляет SHA-256 хэш существующего файла.
func (e *Engine) computeChecksum(fullPath string) (string, error) {
	f, err := os.Open(fullPath)
	if err != nil {
		return "", fmt.Errorf("ошибка открытия файла: %w", err)
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("ошибка вычисления checksum: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Copy читает исходный файл и сохраняет его как новый логический файл:
// новый id, новое имя, checksum пересчитывается, поскольку операция
// определена как store-of-bytes, а не как ссылка.
// MIME-тип, если не задан, выводится из расширения источника.
func (e *Engine) Copy(sourcePath, mimeType string, opts model.PlacementOptions) (*model.StoredFile, error) {
	data, err := e.ReadFile(sourcePath)
	if err != nil {
		return nil, err
	}

	if mimeType == "" {
		mimeType = ContentTypeByExtension(sourcePath)
	}

	return e.Store(data, filepath.Base(sourcePath), mimeType, opts)
}

// Move копирует файл в новое размещение и удаляет источник.
// Если удаление источника после успешного копирования не удалось,
// новый файл сохраняется, а сбой фиксируется как предупреждение —
// частичный успех допустим и не откатывается.
func (e *Engine) Move(sourcePath, mimeType string, opts model.PlacementOptions) (*model.StoredFile, error) {
	stored, err := e.Copy(sourcePath, mimeType, opts)
	if err != nil {
		return nil, err
	}

	if err := e.Delete(sourcePath); err != nil {
		e.logger.Warn("Источник не удалён после перемещения",
			slog.String("source", sourcePath),
			slog.String("target", stored.FilePath),
			slog.String("error", err.Error()),
		)
	}

	return stored, nil
}

// Delete удаляет файл. Идемпотентен: удаление отсутствующего
// пути не является ошибкой.
func (e *Engine) Delete(relPath string) error {
	fullPath, err := e.resolve(relPath)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", relPath, err)
	}
	return nil
}

// ListFiles возвращает ленивую перезапускаемую последовательность файлов
// директории. Каждый проход range заново обходит диск, поэтому
// последовательность можно итерировать многократно.
//
// При Recursive поддиректории обходятся depth-first, результат
// выравнивается в одну последовательность. Ошибки обхода отдаются
// вторым значением итератора.
func (e *Engine) ListFiles(relPath string, opts ListOptions) iter.Seq2[model.ListEntry, error] {
	return func(yield func(model.ListEntry, error) bool) {
		baseFull, err := e.resolve(relPath)
		if err != nil {
			yield(model.ListEntry{}, err)
			return
		}
		root := e.RootDir()

		if opts.Recursive {
			e.walkRecursive(baseFull, root, opts, yield)
			return
		}

		entries, err := os.ReadDir(baseFull)
		if err != nil {
			yield(model.ListEntry{}, fmt.Errorf("ошибка чтения директории %s: %w", relPath, err))
			return
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if opts.Filter != nil && !opts.Filter(entry.Name()) {
				continue
			}
			le, err := e.toListEntry(filepath.Join(baseFull, entry.Name()), root, entry, opts.IncludeStats)
			if err != nil {
				if !yield(model.ListEntry{}, err) {
					return
				}
				continue
			}
			if !yield(le, nil) {
				return
			}
		}
	}
}

// walkRecursive — рекурсивный depth-first обход для ListFiles.
func (e *Engine) walkRecursive(baseFull, root string, opts ListOptions, yield func(model.ListEntry, error) bool) {
	stopped := false
	_ = filepath.WalkDir(baseFull, func(path string, d fs.DirEntry, err error) error {
		if stopped {
			return filepath.SkipAll
		}
		if err != nil {
			if !yield(model.ListEntry{}, fmt.Errorf("ошибка обхода %s: %w", path, err)) {
				stopped = true
				return filepath.SkipAll
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if opts.Filter != nil && !opts.Filter(d.Name()) {
			return nil
		}
		le, leErr := e.toListEntry(path, root, d, opts.IncludeStats)
		if leErr != nil {
			if !yield(model.ListEntry{}, leErr) {
				stopped = true
				return filepath.SkipAll
			}
			return nil
		}
		if !yield(le, nil) {
			stopped = true
			return filepath.SkipAll
		}
		return nil
	})
}

// toListEntry строит ListEntry из элемента директории.
func (e *Engine) toListEntry(fullPath, root string, d fs.DirEntry, withStats bool) (model.ListEntry, error) {
	rel, err := filepath.Rel(root, fullPath)
	if err != nil {
		return model.ListEntry{}, fmt.Errorf("ошибка вычисления относительного пути %s: %w", fullPath, err)
	}

	le := model.ListEntry{
		Name: d.Name(),
		Path: filepath.ToSlash(rel),
	}

	if withStats {
		stat, err := d.Info()
		if err != nil {
			return model.ListEntry{}, fmt.Errorf("ошибка stat %s: %w", fullPath, err)
		}
		le.Info = &model.FileInfo{
			Exists:      true,
			Size:        stat.Size(),
			CreatedAt:   stat.ModTime(),
			ModifiedAt:  stat.ModTime(),
			IsDirectory: stat.IsDir(),
		}
	}

	return le, nil
}

// CalculateDiskUsage выполняет полный рекурсивный обход поддерева
// и возвращает суммарный размер, количество файлов и директорий.
// Стоимость линейна по размеру дерева, результат не кэшируется.
func (e *Engine) CalculateDiskUsage(relPath string) (*model.DiskUsage, error) {
	baseFull, err := e.resolve(relPath)
	if err != nil {
		return nil, err
	}

	usage := &model.DiskUsage{}
	walkErr := filepath.WalkDir(baseFull, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if path != baseFull {
				usage.DirectoryCount++
			}
			return nil
		}
		stat, err := d.Info()
		if err != nil {
			return err
		}
		usage.FileCount++
		usage.TotalSize += stat.Size()
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("ошибка подсчёта занятого места %s: %w", relPath, walkErr)
	}

	return usage, nil
}

// resolve преобразует относительный путь в абсолютный с проверкой,
// что результат не выходит за пределы корня хранилища.
func (e *Engine) resolve(relPath string) (string, error) {
	root := e.RootDir()

	cleaned := filepath.Clean(filepath.FromSlash(relPath))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrInvalidPath, relPath)
	}
	if cleaned == "." {
		return root, nil
	}
	return filepath.Join(root, cleaned), nil
}

// placementDir выбирает директорию размещения по тегам.
// Приоритет тотальный и детерминированный:
// temporary > campaign(+batch) > user > type > general.
func placementDir(opts model.PlacementOptions) string {
	switch {
	case opts.IsTemporary:
		return DirTemp
	case opts.CampaignID != "":
		if opts.BatchID != "" {
			return filepath.Join(DirCampaigns, sanitizeSegment(opts.CampaignID), "batches", sanitizeSegment(opts.BatchID))
		}
		return filepath.Join(DirCampaigns, sanitizeSegment(opts.CampaignID))
	case opts.UserID != "":
		return filepath.Join(DirUsers, sanitizeSegment(opts.UserID))
	case opts.FileType != "":
		return filepath.Join(DirTypes, sanitizeSegment(opts.FileType))
	default:
		return DirGeneral
	}
}

// generateFileID генерирует устойчивый к коллизиям идентификатор файла.
// Формат: {timestamp}_{uuid8}, например 20260829150405_a1b2c3d4.
// Конкурентные Store не конфликтуют: идентификаторы практически уникальны.
func generateFileID() string {
	ts := time.Now().UTC().Format("20060102150405")
	uid := uuid.New().String()[:8]
	return fmt.Sprintf("%s_%s", ts, uid)
}

// sanitizeSegment убирает небезопасные символы из сегмента пути.
// Оставляет буквы, цифры, дефис и подчёркивание.
func sanitizeSegment(s string) string {
	var result strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' {
			result.WriteRune(r)
		}
	}
	if result.Len() == 0 {
		return "unknown"
	}
	return result.String()
}

// normalizeAllowList переводит allow-list MIME-типов в lower-case набор.
func normalizeAllowList(types []string) map[string]bool {
	allowed := make(map[string]bool, len(types))
	for _, t := range types {
		t = strings.TrimSpace(strings.ToLower(t))
		if t != "" {
			allowed[t] = true
		}
	}
	return allowed
}
