package service

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apierrors "github.com/dkruglov/filekeeper/internal/api/errors"
	"github.com/dkruglov/filekeeper/internal/domain/model"
	"github.com/dkruglov/filekeeper/internal/storage/engine"
	"github.com/dkruglov/filekeeper/internal/storage/tokenstore"
)

func newTestBroker(t *testing.T) (*engine.Engine, *AccessBroker) {
	t.Helper()

	eng, err := engine.New(engine.Config{
		RootDir:     t.TempDir(),
		MaxFileSize: 10 << 20,
	}, testLogger())
	if err != nil {
		t.Fatalf("engine.New: неожиданная ошибка: %v", err)
	}

	broker := NewAccessBroker(eng, tokenstore.New(), time.Hour, testLogger())
	return eng, broker
}

func storeGeneral(t *testing.T, eng *engine.Engine, name string, data []byte) *model.StoredFile {
	t.Helper()

	stored, err := eng.Store(data, name, "text/csv", model.PlacementOptions{})
	if err != nil {
		t.Fatalf("Store: неожиданная ошибка: %v", err)
	}
	return stored
}

func TestDownloadDirect_HeadersAndBody(t *testing.T) {
	eng, broker := newTestBroker(t)
	data := []byte("id,email\n1,a@b.ru\n")
	stored := storeGeneral(t, eng, "prospects.csv", data)

	rec := httptest.NewRecorder()
	result, aerr := broker.DownloadDirect(rec, stored.FilePath, DownloadOptions{})
	if aerr != nil {
		t.Fatalf("DownloadDirect: неожиданная ошибка: %v", aerr)
	}

	if rec.Body.String() != string(data) {
		t.Errorf("тело ответа: хотели %q, получили %q", data, rec.Body.String())
	}
	if result.Size != int64(len(data)) {
		t.Errorf("Size: хотели %d, получили %d", len(data), result.Size)
	}
	if result.Streamed {
		t.Error("прямая выдача не должна помечаться как потоковая")
	}

	headers := map[string]string{
		"Content-Type":  "text/csv",
		"Cache-Control": "no-cache, no-store, must-revalidate",
		"Pragma":        "no-cache",
		"Expires":       "0",
	}
	for name, want := range headers {
		if got := rec.Header().Get(name); got != want {
			t.Errorf("заголовок %s: хотели %q, получили %q", name, want, got)
		}
	}
	if got := rec.Header().Get("Content-Disposition"); got != `attachment; filename="`+result.FileName+`"` {
		t.Errorf("Content-Disposition: получили %q", got)
	}
}

func TestDownloadDirect_Inline(t *testing.T) {
	eng, broker := newTestBroker(t)
	stored := storeGeneral(t, eng, "report.pdf", []byte("%PDF-1.4"))

	rec := httptest.NewRecorder()
	if _, aerr := broker.DownloadDirect(rec, stored.FilePath, DownloadOptions{Inline: true}); aerr != nil {
		t.Fatalf("DownloadDirect: %v", aerr)
	}
	if got := rec.Header().Get("Content-Disposition"); got[:6] != "inline" {
		t.Errorf("Content-Disposition: хотели inline, получили %q", got)
	}
}

func TestDownloadDirect_NotFound(t *testing.T) {
	_, broker := newTestBroker(t)

	rec := httptest.NewRecorder()
	_, aerr := broker.DownloadDirect(rec, "general/нет-такого.csv", DownloadOptions{})
	if aerr == nil {
		t.Fatal("хотели ошибку для отсутствующего файла")
	}
	if aerr.StatusCode != http.StatusNotFound || aerr.Code != apierrors.CodeNotFound {
		t.Errorf("хотели 404 %s, получили %d %s", apierrors.CodeNotFound, aerr.StatusCode, aerr.Code)
	}
}

func TestDownloadStream(t *testing.T) {
	eng, broker := newTestBroker(t)
	data := []byte("потоковое содержимое файла")
	stored := storeGeneral(t, eng, "big.csv", data)

	rec := httptest.NewRecorder()
	result, aerr := broker.DownloadStream(rec, stored.FilePath, DownloadOptions{})
	if aerr != nil {
		t.Fatalf("DownloadStream: %v", aerr)
	}
	if !result.Streamed {
		t.Error("потоковая выдача должна помечаться Streamed")
	}
	if rec.Body.String() != string(data) {
		t.Errorf("тело ответа: хотели %q, получили %q", data, rec.Body.String())
	}
}

func TestIssueToken_DefaultTTL(t *testing.T) {
	eng, broker := newTestBroker(t)
	stored := storeGeneral(t, eng, "a.csv", []byte("данные"))

	token, aerr := broker.IssueToken(stored.FileID, stored.FilePath, TokenOptions{})
	if aerr != nil {
		t.Fatalf("IssueToken: %v", aerr)
	}

	left := time.Until(token.ExpiresAt)
	if left < 55*time.Minute || left > 65*time.Minute {
		t.Errorf("TTL по умолчанию около часа, получили %s", left)
	}
}

func TestRedeemToken_Success(t *testing.T) {
	eng, broker := newTestBroker(t)
	data := []byte("содержимое по токену")
	stored := storeGeneral(t, eng, "secret.csv", data)

	token, aerr := broker.IssueToken(stored.FileID, stored.FilePath, TokenOptions{})
	if aerr != nil {
		t.Fatalf("IssueToken: %v", aerr)
	}

	rec := httptest.NewRecorder()
	result, aerr := broker.RedeemToken(rec, token.Token, DownloadOptions{})
	if aerr != nil {
		t.Fatalf("RedeemToken: %v", aerr)
	}
	if rec.Body.String() != string(data) {
		t.Errorf("тело ответа: хотели %q, получили %q", data, rec.Body.String())
	}
	if result.Size != int64(len(data)) {
		t.Errorf("Size: хотели %d, получили %d", len(data), result.Size)
	}
}

// Исчерпание: лимит 1 — первое погашение успешно, второе даёт
// отличимую ошибку "исчерпан", не "не найден".
func TestRedeemToken_Exhaustion(t *testing.T) {
	eng, broker := newTestBroker(t)
	stored := storeGeneral(t, eng, "once.csv", []byte("один раз"))

	token, aerr := broker.IssueToken(stored.FileID, stored.FilePath, TokenOptions{MaxDownloads: 1})
	if aerr != nil {
		t.Fatalf("IssueToken: %v", aerr)
	}

	if _, aerr := broker.RedeemToken(httptest.NewRecorder(), token.Token, DownloadOptions{}); aerr != nil {
		t.Fatalf("первое погашение: %v", aerr)
	}

	_, aerr = broker.RedeemToken(httptest.NewRecorder(), token.Token, DownloadOptions{})
	if aerr == nil {
		t.Fatal("второе погашение должно отклоняться")
	}
	if aerr.Code != apierrors.CodeTokenExhausted {
		t.Errorf("код: хотели %s, получили %s", apierrors.CodeTokenExhausted, aerr.Code)
	}
}

// Нулевой TTL: токен немедленно непригоден, попытка погашения
// вытесняет его из хранилища.
func TestRedeemToken_ZeroTTL(t *testing.T) {
	eng, broker := newTestBroker(t)
	stored := storeGeneral(t, eng, "instant.csv", []byte("мгновенно"))

	zero := time.Duration(0)
	token, aerr := broker.IssueToken(stored.FileID, stored.FilePath, TokenOptions{TTL: &zero})
	if aerr != nil {
		t.Fatalf("IssueToken: %v", aerr)
	}

	time.Sleep(time.Millisecond)

	_, aerr = broker.RedeemToken(httptest.NewRecorder(), token.Token, DownloadOptions{})
	if aerr == nil {
		t.Fatal("истёкший токен должен отклоняться")
	}
	if aerr.Code != apierrors.CodeTokenExpired {
		t.Errorf("код: хотели %s, получили %s", apierrors.CodeTokenExpired, aerr.Code)
	}

	if _, ok := broker.GetTokenInfo(token.Token); ok {
		t.Error("истёкший токен должен вытесняться при попытке погашения")
	}
}

func TestRedeemToken_Unknown(t *testing.T) {
	_, broker := newTestBroker(t)

	_, aerr := broker.RedeemToken(httptest.NewRecorder(), "выдуманный", DownloadOptions{})
	if aerr == nil {
		t.Fatal("неизвестный токен должен отклоняться")
	}
	if aerr.Code != apierrors.CodeTokenInvalid {
		t.Errorf("код: хотели %s, получили %s", apierrors.CodeTokenInvalid, aerr.Code)
	}
}

func TestGetTokenInfo_HidesPath(t *testing.T) {
	eng, broker := newTestBroker(t)
	stored := storeGeneral(t, eng, "hidden.csv", []byte("скрытый путь"))

	token, aerr := broker.IssueToken(stored.FileID, stored.FilePath, TokenOptions{UserID: "u1", MaxDownloads: 3})
	if aerr != nil {
		t.Fatalf("IssueToken: %v", aerr)
	}

	info, ok := broker.GetTokenInfo(token.Token)
	if !ok {
		t.Fatal("GetTokenInfo: токен не найден")
	}
	if info.FileID != stored.FileID {
		t.Errorf("FileID: хотели %s, получили %s", stored.FileID, info.FileID)
	}
	if info.UserID != "u1" || info.MaxDownloads != 3 {
		t.Errorf("неожиданные атрибуты: %+v", info)
	}
}

func TestRevokeToken(t *testing.T) {
	eng, broker := newTestBroker(t)
	stored := storeGeneral(t, eng, "rev.csv", []byte("отзыв"))

	token, aerr := broker.IssueToken(stored.FileID, stored.FilePath, TokenOptions{})
	if aerr != nil {
		t.Fatalf("IssueToken: %v", aerr)
	}

	if !broker.RevokeToken(token.Token) {
		t.Error("отзыв существующего токена: хотели true")
	}
	if broker.RevokeToken(token.Token) {
		t.Error("повторный отзыв: хотели false")
	}
}

func TestSweepExpiredTokens(t *testing.T) {
	eng, broker := newTestBroker(t)
	stored := storeGeneral(t, eng, "sweep.csv", []byte("уборка"))

	zero := time.Duration(0)
	if _, aerr := broker.IssueToken(stored.FileID, stored.FilePath, TokenOptions{TTL: &zero}); aerr != nil {
		t.Fatalf("IssueToken: %v", aerr)
	}
	if _, aerr := broker.IssueToken(stored.FileID, stored.FilePath, TokenOptions{}); aerr != nil {
		t.Fatalf("IssueToken: %v", aerr)
	}

	time.Sleep(time.Millisecond)

	if swept := broker.SweepExpiredTokens(); swept != 1 {
		t.Errorf("вытеснено: хотели 1, получили %d", swept)
	}
}

func TestCheckAccess(t *testing.T) {
	eng, broker := newTestBroker(t)
	stored := storeGeneral(t, eng, "acc.csv", []byte("доступ"))

	if !broker.CheckAccess(stored.FilePath, "u1") {
		t.Error("существующий файл должен проходить проверку доступа")
	}
	if broker.CheckAccess("general/нет.csv", "u1") {
		t.Error("отсутствующий файл не должен проходить проверку доступа")
	}
	if broker.CheckAccess(engine.DirGeneral, "u1") {
		t.Error("директория не должна проходить проверку доступа")
	}
}

func TestRecentDownloads(t *testing.T) {
	eng, broker := newTestBroker(t)
	stored := storeGeneral(t, eng, "stat.csv", []byte("статистика"))

	if _, aerr := broker.DownloadDirect(httptest.NewRecorder(), stored.FilePath, DownloadOptions{}); aerr != nil {
		t.Fatalf("DownloadDirect: %v", aerr)
	}

	token, aerr := broker.IssueToken(stored.FileID, stored.FilePath, TokenOptions{})
	if aerr != nil {
		t.Fatalf("IssueToken: %v", aerr)
	}
	if _, aerr := broker.RedeemToken(httptest.NewRecorder(), token.Token, DownloadOptions{}); aerr != nil {
		t.Fatalf("RedeemToken: %v", aerr)
	}

	events := broker.RecentDownloads()
	if len(events) != 2 {
		t.Fatalf("событий: хотели 2, получили %d", len(events))
	}

	viaToken := 0
	for _, ev := range events {
		if ev.Path != stored.FilePath {
			t.Errorf("путь события: хотели %s, получили %s", stored.FilePath, ev.Path)
		}
		if ev.ViaToken {
			viaToken++
		}
	}
	if viaToken != 1 {
		t.Errorf("событий по токену: хотели 1, получили %d", viaToken)
	}
}
