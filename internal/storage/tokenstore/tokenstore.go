// Пакет tokenstore — потокобезопасное in-memory хранилище токенов скачивания.
//
// Хранилище keyed: opaque-значение токена → состояние токена.
// Не персистентно: при рестарте процесса все токены теряются.
//
// Погашение токена (поиск, проверка истечения, инкремент счётчика,
// возможное вытеснение) выполняется как единая критическая секция,
// чтобы два конкурентных погашения не прошли проверку лимита
// до инкремента (классическая check-then-act гонка).
package tokenstore

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/dkruglov/filekeeper/internal/domain/model"
)

// RedeemOutcome — исход попытки погашения токена.
type RedeemOutcome int

const (
	// RedeemOK — токен действителен, счётчик увеличен
	RedeemOK RedeemOutcome = iota
	// RedeemNotFound — токен неизвестен
	RedeemNotFound
	// RedeemExpired — токен истёк (вытеснен как побочный эффект)
	RedeemExpired
	// RedeemExhausted — лимит скачиваний исчерпан (вытеснен)
	RedeemExhausted
)

// IssueParams — параметры выпуска токена.
type IssueParams struct {
	// FileID — идентификатор целевого файла
	FileID string
	// FilePath — путь файла относительно корня хранилища
	FilePath string
	// TTL — срок жизни токена
	TTL time.Duration
	// MaxDownloads — лимит скачиваний (0 = без лимита)
	MaxDownloads int
	// UserID — владелец токена (опционально)
	UserID string
}

// Store — in-memory хранилище токенов.
// Потокобезопасен через sync.Mutex: все операции над токеном
// атомарны в пределах процесса.
type Store struct {
	mu     sync.Mutex
	tokens map[string]*model.DownloadToken
	now    func() time.Time // подменяется в тестах
}

// New создаёт пустое хранилище токенов.
func New() *Store {
	return &Store{
		tokens: make(map[string]*model.DownloadToken),
		now:    time.Now,
	}
}

// Issue выпускает новый токен и сохраняет его.
// Значение токена — 32 случайных байта в hex (непредсказуемое,
// без embedded claims: всё состояние на стороне сервера).
func (s *Store) Issue(params IssueParams) (*model.DownloadToken, error) {
	value, err := generateTokenValue()
	if err != nil {
		return nil, err
	}

	token := &model.DownloadToken{
		Token:        value,
		FileID:       params.FileID,
		FilePath:     params.FilePath,
		ExpiresAt:    s.now().UTC().Add(params.TTL),
		MaxDownloads: params.MaxDownloads,
		UserID:       params.UserID,
	}

	s.mu.Lock()
	s.tokens[value] = token
	s.mu.Unlock()

	copied := *token
	return &copied, nil
}

// TryRedeem атомарно пытается погасить токен.
//
// Единая критическая секция: поиск → проверка истечения → проверка
// лимита → инкремент счётчика → вытеснение при исчерпании.
// Истёкший или исчерпанный токен вытесняется как побочный эффект.
//
// При RedeemOK возвращается копия токена с уже увеличенным счётчиком.
func (s *Store) TryRedeem(value string) (*model.DownloadToken, RedeemOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[value]
	if !ok {
		return nil, RedeemNotFound
	}

	if s.now().UTC().After(token.ExpiresAt) {
		delete(s.tokens, value)
		return nil, RedeemExpired
	}

	if token.MaxDownloads > 0 && token.Downloads >= token.MaxDownloads {
		delete(s.tokens, value)
		return nil, RedeemExhausted
	}

	// Исчерпанный токен НЕ вытесняется сразу при достижении лимита:
	// следующая попытка должна получить отличимый исход "исчерпан",
	// а не "не найден". Вытеснение происходит при этой попытке.
	token.Downloads++
	copied := *token

	return &copied, RedeemOK
}

// Revoke удаляет токен. Возвращает true, если токен существовал.
func (s *Store) Revoke(value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[value]; !ok {
		return false
	}
	delete(s.tokens, value)
	return true
}

// Get возвращает копию токена без его погашения.
// Второе значение false, если токен отсутствует.
func (s *Store) Get(value string) (*model.DownloadToken, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[value]
	if !ok {
		return nil, false
	}
	copied := *token
	return &copied, true
}

// SweepExpired удаляет все истёкшие токены (ленивое уплотнение).
// Возвращает количество вытесненных.
func (s *Store) SweepExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	count := 0
	for value, token := range s.tokens {
		if now.After(token.ExpiresAt) {
			delete(s.tokens, value)
			count++
		}
	}
	return count
}

// Count возвращает количество живых токенов (включая ещё не вытесненные истёкшие).
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

// generateTokenValue генерирует непредсказуемое opaque-значение токена.
func generateTokenValue() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
