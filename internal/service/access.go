// access.go — сервис контролируемой выдачи файлов.
//
// Два пути выдачи: прямой (путь известен вызывающей стороне) и по
// токену (capability: путь файла скрыт, доступ ограничен по времени
// и количеству скачиваний). Токены живут в tokenstore и не переживают
// рестарт процесса.
package service

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	apierrors "github.com/dkruglov/filekeeper/internal/api/errors"
	"github.com/dkruglov/filekeeper/internal/api/middleware"
	"github.com/dkruglov/filekeeper/internal/domain/model"
	"github.com/dkruglov/filekeeper/internal/storage/engine"
	"github.com/dkruglov/filekeeper/internal/storage/tokenstore"
)

// recentDownloadsSize — ёмкость кэша недавних скачиваний.
const recentDownloadsSize = 128

// recentDownloadsTTL — срок жизни записи в кэше недавних скачиваний.
const recentDownloadsTTL = time.Hour

// AccessError — ошибка выдачи файла с HTTP-кодом.
type AccessError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// DownloadOptions — параметры выдачи файла.
type DownloadOptions struct {
	// FileName — имя файла в Content-Disposition
	// (по умолчанию — базовое имя пути)
	FileName string
	// Inline — отдавать inline вместо attachment
	Inline bool
}

// TokenOptions — параметры выпуска токена скачивания.
type TokenOptions struct {
	// TTL — срок жизни токена. nil — срок по умолчанию;
	// нулевое значение — токен истекает немедленно.
	TTL *time.Duration
	// MaxDownloads — лимит скачиваний (0 = без лимита)
	MaxDownloads int
	// UserID — владелец токена
	UserID string
}

// AccessBroker — сервис выдачи файлов и управления токенами скачивания.
type AccessBroker struct {
	eng        *engine.Engine
	tokens     *tokenstore.Store
	defaultTTL time.Duration
	logger     *slog.Logger

	// recent — кэш недавних событий скачивания с вытеснением по
	// TTL и ёмкости; отдаётся как оперативная статистика
	recent *expirable.LRU[string, model.DownloadEvent]
}

// NewAccessBroker создаёт сервис выдачи файлов.
func NewAccessBroker(
	eng *engine.Engine,
	tokens *tokenstore.Store,
	defaultTTL time.Duration,
	logger *slog.Logger,
) *AccessBroker {
	return &AccessBroker{
		eng:        eng,
		tokens:     tokens,
		defaultTTL: defaultTTL,
		logger:     logger.With(slog.String("component", "access_broker")),
		recent: expirable.NewLRU[string, model.DownloadEvent](
			recentDownloadsSize, nil, recentDownloadsTTL,
		),
	}
}

// DownloadDirect читает файл целиком в память и отдаёт клиенту.
// Для больших файлов предпочтителен DownloadStream.
func (b *AccessBroker) DownloadDirect(w http.ResponseWriter, relPath string, opts DownloadOptions) (*model.DownloadResult, *AccessError) {
	return b.download(w, relPath, opts, false, false)
}

// DownloadStream отдаёт файл потоково, без буферизации в памяти.
// Ошибка посередине потока фиксируется, но сервис продолжает работать.
func (b *AccessBroker) DownloadStream(w http.ResponseWriter, relPath string, opts DownloadOptions) (*model.DownloadResult, *AccessError) {
	return b.download(w, relPath, opts, true, false)
}

func (b *AccessBroker) download(w http.ResponseWriter, relPath string, opts DownloadOptions, streamed, viaToken bool) (*model.DownloadResult, *AccessError) {
	fileName := opts.FileName
	if fileName == "" {
		fileName = path.Base(relPath)
	}
	contentType := engine.ContentTypeByExtension(fileName)

	var (
		size    int64
		sendErr error
	)

	if streamed {
		file, err := b.eng.Open(relPath)
		if aerr := b.mapReadError(relPath, err); aerr != nil {
			return nil, aerr
		}
		defer file.Close()

		stat, err := file.Stat()
		if err != nil {
			b.logger.Error("ошибка stat файла",
				slog.String("path", relPath),
				slog.String("error", err.Error()),
			)
			return nil, &AccessError{
				StatusCode: http.StatusInternalServerError,
				Code:       apierrors.CodeInternalError,
				Message:    "ошибка чтения файла",
			}
		}
		size = stat.Size()

		writeDownloadHeaders(w, fileName, contentType, size, opts.Inline)
		_, sendErr = io.Copy(w, file)
	} else {
		data, err := b.eng.ReadFile(relPath)
		if aerr := b.mapReadError(relPath, err); aerr != nil {
			return nil, aerr
		}
		size = int64(len(data))

		writeDownloadHeaders(w, fileName, contentType, size, opts.Inline)
		_, sendErr = w.Write(data)
	}

	if sendErr != nil {
		// Заголовки уже ушли клиенту, статус менять поздно
		b.logger.Error("ошибка отдачи файла клиенту",
			slog.String("path", relPath),
			slog.Bool("streamed", streamed),
			slog.String("error", sendErr.Error()),
		)
		middleware.OperationsTotal.WithLabelValues("download", "error").Inc()
		return nil, &AccessError{
			StatusCode: http.StatusInternalServerError,
			Code:       apierrors.CodeInternalError,
			Message:    "ошибка отдачи файла",
		}
	}

	middleware.OperationsTotal.WithLabelValues("download", "success").Inc()
	b.recordDownload(relPath, fileName, size, viaToken)

	b.logger.Debug("файл отдан",
		slog.String("path", relPath),
		slog.String("filename", fileName),
		slog.Int64("size", size),
		slog.Bool("streamed", streamed),
	)

	return &model.DownloadResult{
		FileName:    fileName,
		ContentType: contentType,
		Size:        size,
		Streamed:    streamed,
	}, nil
}

// mapReadError превращает ошибку чтения движка в AccessError.
// nil при отсутствии ошибки.
func (b *AccessBroker) mapReadError(relPath string, err error) *AccessError {
	if err == nil {
		return nil
	}
	if errors.Is(err, engine.ErrNotFound) || errors.Is(err, engine.ErrInvalidPath) {
		return &AccessError{
			StatusCode: http.StatusNotFound,
			Code:       apierrors.CodeNotFound,
			Message:    fmt.Sprintf("файл %s не найден", relPath),
		}
	}
	b.logger.Error("ошибка чтения файла",
		slog.String("path", relPath),
		slog.String("error", err.Error()),
	)
	return &AccessError{
		StatusCode: http.StatusInternalServerError,
		Code:       apierrors.CodeInternalError,
		Message:    "ошибка чтения файла",
	}
}

// IssueToken выпускает токен скачивания для файла.
// Срок жизни по умолчанию применяется только когда TTL не задан вовсе;
// явный нулевой TTL означает немедленное истечение.
func (b *AccessBroker) IssueToken(fileID, relPath string, opts TokenOptions) (*model.DownloadToken, *AccessError) {
	ttl := b.defaultTTL
	if opts.TTL != nil {
		ttl = *opts.TTL
	}

	token, err := b.tokens.Issue(tokenstore.IssueParams{
		FileID:       fileID,
		FilePath:     relPath,
		TTL:          ttl,
		MaxDownloads: opts.MaxDownloads,
		UserID:       opts.UserID,
	})
	if err != nil {
		b.logger.Error("ошибка выпуска токена",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
		return nil, &AccessError{
			StatusCode: http.StatusInternalServerError,
			Code:       apierrors.CodeInternalError,
			Message:    "ошибка выпуска токена",
		}
	}

	middleware.TokensActive.Set(float64(b.tokens.Count()))

	b.logger.Info("выпущен токен скачивания",
		slog.String("file_id", fileID),
		slog.Time("expires_at", token.ExpiresAt),
		slog.Int("max_downloads", token.MaxDownloads),
	)

	return token, nil
}

// RedeemToken гасит токен и выполняет скачивание по нему.
// Погашение атомарно: проверка и инкремент счётчика — один шаг
// в tokenstore, два конкурентных погашения не обойдут лимит.
func (b *AccessBroker) RedeemToken(w http.ResponseWriter, value string, opts DownloadOptions) (*model.DownloadResult, *AccessError) {
	token, outcome := b.tokens.TryRedeem(value)
	switch outcome {
	case tokenstore.RedeemNotFound:
		return nil, &AccessError{
			StatusCode: http.StatusBadRequest,
			Code:       apierrors.CodeTokenInvalid,
			Message:    "недействительный токен",
		}
	case tokenstore.RedeemExpired:
		middleware.TokensActive.Set(float64(b.tokens.Count()))
		return nil, &AccessError{
			StatusCode: http.StatusBadRequest,
			Code:       apierrors.CodeTokenExpired,
			Message:    "срок жизни токена истёк",
		}
	case tokenstore.RedeemExhausted:
		middleware.TokensActive.Set(float64(b.tokens.Count()))
		return nil, &AccessError{
			StatusCode: http.StatusBadRequest,
			Code:       apierrors.CodeTokenExhausted,
			Message:    "лимит скачиваний по токену исчерпан",
		}
	}

	middleware.TokensActive.Set(float64(b.tokens.Count()))

	result, aerr := b.download(w, token.FilePath, opts, false, true)
	if aerr != nil {
		return nil, aerr
	}

	b.logger.Debug("скачивание по токену",
		slog.String("file_id", token.FileID),
		slog.Int("downloads", token.Downloads),
	)

	return result, nil
}

// RevokeToken отзывает токен. Возвращает true, если токен существовал.
func (b *AccessBroker) RevokeToken(value string) bool {
	revoked := b.tokens.Revoke(value)
	middleware.TokensActive.Set(float64(b.tokens.Count()))
	if revoked {
		b.logger.Info("токен отозван")
	}
	return revoked
}

// GetTokenInfo возвращает публичную информацию о токене.
// Путь файла не раскрывается. Второе значение false при отсутствии.
func (b *AccessBroker) GetTokenInfo(value string) (*model.TokenInfo, bool) {
	token, ok := b.tokens.Get(value)
	if !ok {
		return nil, false
	}
	return &model.TokenInfo{
		FileID:       token.FileID,
		ExpiresAt:    token.ExpiresAt,
		MaxDownloads: token.MaxDownloads,
		Downloads:    token.Downloads,
		UserID:       token.UserID,
	}, true
}

// SweepExpiredTokens удаляет истёкшие токены (ленивое уплотнение).
func (b *AccessBroker) SweepExpiredTokens() int {
	swept := b.tokens.SweepExpired()
	middleware.TokensActive.Set(float64(b.tokens.Count()))
	if swept > 0 {
		b.logger.Debug("вытеснены истёкшие токены", slog.Int("count", swept))
	}
	return swept
}

// CheckAccess — минимальная проверка доступа по существованию файла.
// Точка подключения настоящей политики авторизации; сейчас userID
// и права не проверяются.
func (b *AccessBroker) CheckAccess(relPath, userID string) bool {
	_ = userID

	info, err := b.eng.GetFileInfo(relPath, false)
	if err != nil {
		return false
	}
	return info.Exists && !info.IsDirectory
}

// RecentDownloads возвращает события недавних скачиваний
// (не старше часа, не более recentDownloadsSize).
func (b *AccessBroker) RecentDownloads() []model.DownloadEvent {
	return b.recent.Values()
}

// recordDownload кладёт событие скачивания в кэш недавних.
func (b *AccessBroker) recordDownload(relPath, fileName string, size int64, viaToken bool) {
	b.recent.Add(uuid.NewString(), model.DownloadEvent{
		Path:     relPath,
		FileName: fileName,
		Size:     size,
		ViaToken: viaToken,
		At:       time.Now().UTC(),
	})
}

// writeDownloadHeaders выставляет контракт заголовков выдачи файла:
// Content-Disposition, Content-Length, Content-Type и подавление
// кэширования.
func writeDownloadHeaders(w http.ResponseWriter, fileName, contentType string, size int64, inline bool) {
	disposition := "attachment"
	if inline {
		disposition = "inline"
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("%s; filename=\"%s\"", disposition, fileName))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", size))
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
}
