package service

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dkruglov/filekeeper/internal/domain/lifecycle"
	"github.com/dkruglov/filekeeper/internal/domain/model"
	"github.com/dkruglov/filekeeper/internal/storage/engine"
)

func newTestFacade(t *testing.T, cfg FacadeConfig) *Facade {
	t.Helper()

	if cfg.Engine.RootDir == "" {
		cfg.Engine.RootDir = t.TempDir()
	}
	if cfg.Engine.MaxFileSize == 0 {
		cfg.Engine.MaxFileSize = 10 << 20
	}
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = time.Hour
	}

	f, err := NewFacade(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewFacade: неожиданная ошибка: %v", err)
	}
	t.Cleanup(f.Shutdown)
	return f
}

func TestNewFacade_Ready(t *testing.T) {
	f := newTestFacade(t, FacadeConfig{})

	if f.State() != lifecycle.StateReady {
		t.Errorf("состояние: хотели ready, получили %s", f.State())
	}
}

func TestFacade_PassThrough(t *testing.T) {
	f := newTestFacade(t, FacadeConfig{})

	stored, err := f.Store([]byte("через фасад"), "a.csv", "text/csv", model.PlacementOptions{})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	info, err := f.GetFileInfo(stored.FilePath, false)
	if err != nil {
		t.Fatalf("GetFileInfo: %v", err)
	}
	if !info.Exists {
		t.Error("файл должен существовать")
	}

	rec := httptest.NewRecorder()
	if _, aerr := f.DownloadDirect(rec, stored.FilePath, DownloadOptions{}); aerr != nil {
		t.Fatalf("DownloadDirect: %v", aerr)
	}
	if rec.Body.String() != "через фасад" {
		t.Errorf("тело: получили %q", rec.Body.String())
	}

	usage, err := f.CalculateDiskUsage("")
	if err != nil {
		t.Fatalf("CalculateDiskUsage: %v", err)
	}
	if usage.FileCount != 1 {
		t.Errorf("FileCount: хотели 1, получили %d", usage.FileCount)
	}

	count := 0
	for _, err := range f.ListFiles(engine.DirGeneral, engine.ListOptions{}) {
		if err != nil {
			t.Fatalf("ListFiles: %v", err)
		}
		count++
	}
	if count != 1 {
		t.Errorf("файлов в general: хотели 1, получили %d", count)
	}

	if err := f.Delete(stored.FilePath); err != nil {
		t.Fatalf("Delete: %v", err)
	}
}

func TestFacade_TokenFlow(t *testing.T) {
	f := newTestFacade(t, FacadeConfig{})

	stored, err := f.Store([]byte("токен"), "t.csv", "text/csv", model.PlacementOptions{})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	token, aerr := f.IssueToken(stored.FileID, stored.FilePath, TokenOptions{MaxDownloads: 1})
	if aerr != nil {
		t.Fatalf("IssueToken: %v", aerr)
	}

	if _, ok := f.GetTokenInfo(token.Token); !ok {
		t.Fatal("токен должен находиться")
	}

	rec := httptest.NewRecorder()
	if _, aerr := f.RedeemToken(rec, token.Token, DownloadOptions{}); aerr != nil {
		t.Fatalf("RedeemToken: %v", aerr)
	}
	if rec.Body.String() != "токен" {
		t.Errorf("тело: получили %q", rec.Body.String())
	}
}

func TestFacade_ShutdownIdempotent(t *testing.T) {
	f := newTestFacade(t, FacadeConfig{
		Retention: RetentionConfig{
			AutoCleanupEnabled: true,
			CleanupInterval:    time.Hour,
		},
	})

	f.Start(context.Background())
	if !f.retention.Running() {
		t.Fatal("планировщик должен запуститься")
	}

	f.Shutdown()
	if f.State() != lifecycle.StateStopped {
		t.Fatalf("состояние: хотели stopped, получили %s", f.State())
	}
	if f.retention.Running() {
		t.Fatal("планировщик должен остановиться")
	}

	// Повторный shutdown — no-op
	f.Shutdown()
	if f.State() != lifecycle.StateStopped {
		t.Error("повторный shutdown не должен менять состояние")
	}
}

func TestFacade_OperationsAfterShutdown(t *testing.T) {
	f := newTestFacade(t, FacadeConfig{})
	f.Shutdown()

	if _, err := f.Store([]byte("x"), "a.csv", "text/csv", model.PlacementOptions{}); !errors.Is(err, ErrNotReady) {
		t.Errorf("Store после shutdown: хотели ErrNotReady, получили %v", err)
	}
	if _, err := f.RunCleanup(SelectionOptions{Temporary: true}); !errors.Is(err, ErrNotReady) {
		t.Errorf("RunCleanup после shutdown: хотели ErrNotReady, получили %v", err)
	}
	if _, aerr := f.DownloadDirect(httptest.NewRecorder(), "general/a.csv", DownloadOptions{}); aerr == nil {
		t.Error("DownloadDirect после shutdown должен отклоняться")
	}
}

func TestHealthCheck_Healthy(t *testing.T) {
	f := newTestFacade(t, FacadeConfig{})

	status := f.HealthCheck()
	if status.State != model.HealthHealthy {
		t.Fatalf("состояние: хотели healthy, получили %s (%v)", status.State, status.Details)
	}
	if status.Details["storage"] != "ok" || status.Details["scheduler"] != "ok" {
		t.Errorf("детали: %v", status.Details)
	}
}

func TestHealthCheck_SchedulerMismatch(t *testing.T) {
	f := newTestFacade(t, FacadeConfig{
		Retention: RetentionConfig{
			AutoCleanupEnabled: true,
			CleanupInterval:    time.Hour,
		},
	})
	// Планировщик намеренно не запущен: политика говорит running

	status := f.HealthCheck()
	if status.State != model.HealthWarning {
		t.Fatalf("состояние: хотели warning, получили %s (%v)", status.State, status.Details)
	}
	if status.Details["scheduler"] == "ok" {
		t.Error("расхождение планировщика должно попасть в детали")
	}
}

func TestHealthCheck_AfterShutdown(t *testing.T) {
	f := newTestFacade(t, FacadeConfig{})
	f.Shutdown()

	status := f.HealthCheck()
	if status.State != model.HealthError {
		t.Fatalf("состояние: хотели error, получили %s", status.State)
	}
}

func TestHealthCheck_ProbeRespectsAllowList(t *testing.T) {
	f := newTestFacade(t, FacadeConfig{
		Engine: engine.Config{
			RootDir:          t.TempDir(),
			MaxFileSize:      1 << 20,
			AllowedMIMETypes: []string{"text/csv"},
		},
	})

	status := f.HealthCheck()
	if status.State != model.HealthHealthy {
		t.Fatalf("проба должна подстраиваться под allow-list, получили %s (%v)",
			status.State, status.Details)
	}
}
