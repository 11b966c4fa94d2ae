package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dkruglov/filekeeper/internal/domain/model"
	"github.com/dkruglov/filekeeper/internal/storage/engine"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRetention(t *testing.T, cfg RetentionConfig) (*engine.Engine, *RetentionManager, string) {
	t.Helper()

	root := t.TempDir()
	eng, err := engine.New(engine.Config{
		RootDir:     root,
		MaxFileSize: 10 << 20,
	}, testLogger())
	if err != nil {
		t.Fatalf("engine.New: неожиданная ошибка: %v", err)
	}

	return eng, NewRetentionManager(eng, cfg, testLogger()), root
}

// setAge сдвигает mtime файла в прошлое относительно текущего времени.
func setAge(t *testing.T, root, relPath string, age time.Duration) {
	t.Helper()

	full := filepath.Join(root, filepath.FromSlash(relPath))
	stamp := time.Now().Add(-age)
	if err := os.Chtimes(full, stamp, stamp); err != nil {
		t.Fatalf("Chtimes %s: %v", relPath, err)
	}
}

func storeTemp(t *testing.T, eng *engine.Engine, data []byte) *model.StoredFile {
	t.Helper()

	stored, err := eng.Store(data, "prospects.csv", "text/csv", model.PlacementOptions{IsTemporary: true})
	if err != nil {
		t.Fatalf("Store: неожиданная ошибка: %v", err)
	}
	return stored
}

// Сценарий: 10-байтовый CSV во временной зоне, очистка с нулевым TTL.
func TestCleanupTemporary_Scenario(t *testing.T) {
	eng, rm, _ := newTestRetention(t, RetentionConfig{TempFileTTL: 0})

	data := []byte("id,email\n1")
	if len(data) != 10 {
		t.Fatalf("тестовые данные должны быть 10 байт, получили %d", len(data))
	}

	stored := storeTemp(t, eng, data)

	if filepath.Dir(stored.FilePath) != engine.DirTemp {
		t.Errorf("путь: хотели temp/..., получили %s", stored.FilePath)
	}
	sum := sha256.Sum256(data)
	if stored.Checksum != hex.EncodeToString(sum[:]) {
		t.Errorf("checksum: хотели %s, получили %s", hex.EncodeToString(sum[:]), stored.Checksum)
	}

	run, err := rm.CleanupTemporary(CleanupOptions{})
	if err != nil {
		t.Fatalf("CleanupTemporary: %v", err)
	}
	if run.FilesDeleted != 1 {
		t.Errorf("FilesDeleted: хотели 1, получили %d", run.FilesDeleted)
	}
	if run.SpaceCleaned != 10 {
		t.Errorf("SpaceCleaned: хотели 10, получили %d", run.SpaceCleaned)
	}

	info, err := eng.GetFileInfo(stored.FilePath, false)
	if err != nil {
		t.Fatalf("GetFileInfo: %v", err)
	}
	if info.Exists {
		t.Error("файл должен отсутствовать после очистки")
	}
}

// Включающая граница: файл с возрастом ровно TTL попадает в кандидаты,
// файл моложе на секунду — нет.
func TestCleanupTemporary_Boundary(t *testing.T) {
	ttl := 30 * time.Minute
	eng, rm, root := newTestRetention(t, RetentionConfig{TempFileTTL: ttl})

	fixed := time.Now()
	rm.now = func() time.Time { return fixed }

	exact := storeTemp(t, eng, []byte("ровно на границе"))
	fresh := storeTemp(t, eng, []byte("моложе границы"))

	exactStamp := fixed.Add(-ttl)
	freshStamp := fixed.Add(-ttl).Add(time.Second)
	if err := os.Chtimes(filepath.Join(root, filepath.FromSlash(exact.FilePath)), exactStamp, exactStamp); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	if err := os.Chtimes(filepath.Join(root, filepath.FromSlash(fresh.FilePath)), freshStamp, freshStamp); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	run, err := rm.CleanupTemporary(CleanupOptions{})
	if err != nil {
		t.Fatalf("CleanupTemporary: %v", err)
	}
	if run.FilesDeleted != 1 {
		t.Fatalf("FilesDeleted: хотели 1, получили %d", run.FilesDeleted)
	}
	if run.Details[0].Path != exact.FilePath {
		t.Errorf("удалён не тот файл: хотели %s, получили %s", exact.FilePath, run.Details[0].Path)
	}
}

// Dry-run: кандидаты те же, что у боевого прохода, файлы не тронуты.
func TestCleanupTemporary_DryRun(t *testing.T) {
	eng, rm, _ := newTestRetention(t, RetentionConfig{TempFileTTL: 0})

	stored := storeTemp(t, eng, []byte("кандидат"))

	run, err := rm.CleanupTemporary(CleanupOptions{DryRun: true})
	if err != nil {
		t.Fatalf("CleanupTemporary: %v", err)
	}
	if !run.DryRun {
		t.Error("DryRun должен быть true")
	}
	if run.FilesDeleted != 0 {
		t.Errorf("dry-run не удаляет: FilesDeleted хотели 0, получили %d", run.FilesDeleted)
	}
	if len(run.Details) != 1 || run.Details[0].Action != model.ActionWouldDelete {
		t.Fatalf("хотели одну запись would_delete, получили %+v", run.Details)
	}

	info, err := eng.GetFileInfo(stored.FilePath, false)
	if err != nil {
		t.Fatalf("GetFileInfo: %v", err)
	}
	if !info.Exists {
		t.Error("dry-run не должен трогать файлы")
	}
}

func TestCleanupArchived_SubstringHeuristic(t *testing.T) {
	eng, rm, root := newTestRetention(t, RetentionConfig{ArchivedTTL: 24 * time.Hour})

	// Эвристика матчится по подстроке в пути: архивы живут в types/archives/
	archived, err := eng.Store([]byte("старый архив"), "report.csv", "text/csv",
		model.PlacementOptions{FileType: "archives"})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	plain, err := eng.Store([]byte("обычный файл"), "report.csv", "text/csv", model.PlacementOptions{})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	setAge(t, root, archived.FilePath, 48*time.Hour)
	setAge(t, root, plain.FilePath, 48*time.Hour)

	run, err := rm.CleanupArchived(CleanupOptions{})
	if err != nil {
		t.Fatalf("CleanupArchived: %v", err)
	}
	if run.FilesDeleted != 1 {
		t.Fatalf("FilesDeleted: хотели 1, получили %d", run.FilesDeleted)
	}
	if run.Details[0].Path != archived.FilePath {
		t.Errorf("удалён не тот файл: %s", run.Details[0].Path)
	}
}

func TestCleanupDeleted_GracePeriod(t *testing.T) {
	_, rm, root := newTestRetention(t, RetentionConfig{DeletedTTL: 24 * time.Hour})

	// Файл в зоне мягкого удаления создаём напрямую:
	// движок помещает туда файлы внешним перемещением
	full := filepath.Join(root, engine.DirDeleted, "old.csv")
	if err := os.WriteFile(full, []byte("на удаление"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	setAge(t, root, engine.DirDeleted+"/old.csv", 48*time.Hour)

	fresh := filepath.Join(root, engine.DirDeleted, "fresh.csv")
	if err := os.WriteFile(fresh, []byte("в льготном периоде"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	run, err := rm.CleanupDeleted(CleanupOptions{})
	if err != nil {
		t.Fatalf("CleanupDeleted: %v", err)
	}
	if run.FilesDeleted != 1 {
		t.Errorf("FilesDeleted: хотели 1, получили %d", run.FilesDeleted)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("файл в льготном периоде не должен удаляться")
	}
}

func TestCleanupOlderThan_ExcludesTemplatesAndHidden(t *testing.T) {
	eng, rm, root := newTestRetention(t, RetentionConfig{})

	old, err := eng.Store([]byte("старый"), "old.csv", "text/csv", model.PlacementOptions{})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	setAge(t, root, old.FilePath, 10*24*time.Hour)

	tpl := filepath.Join(root, engine.DirTemplates, "letter.docx")
	if err := os.WriteFile(tpl, []byte("шаблон"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	setAge(t, root, engine.DirTemplates+"/letter.docx", 10*24*time.Hour)

	hidden := filepath.Join(root, engine.DirGeneral, ".keep")
	if err := os.WriteFile(hidden, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	setAge(t, root, engine.DirGeneral+"/.keep", 10*24*time.Hour)

	run, err := rm.CleanupOlderThan(7, CleanupOptions{})
	if err != nil {
		t.Fatalf("CleanupOlderThan: %v", err)
	}
	if run.FilesDeleted != 1 {
		t.Fatalf("FilesDeleted: хотели 1, получили %d: %+v", run.FilesDeleted, run.Details)
	}
	if run.Details[0].Path != old.FilePath {
		t.Errorf("удалён не тот файл: %s", run.Details[0].Path)
	}
	if _, err := os.Stat(tpl); err != nil {
		t.Error("шаблоны не должны удаляться зачисткой по возрасту")
	}
	if _, err := os.Stat(hidden); err != nil {
		t.Error("скрытые файлы не должны удаляться зачисткой по возрасту")
	}
}

func TestCleanupOlderThan_RejectsNonPositive(t *testing.T) {
	_, rm, _ := newTestRetention(t, RetentionConfig{})

	if _, err := rm.CleanupOlderThan(0, CleanupOptions{}); err == nil {
		t.Error("нулевой порог должен отклоняться")
	}
}

func TestCleanupTarget(t *testing.T) {
	eng, rm, _ := newTestRetention(t, RetentionConfig{})

	campaignFile, err := eng.Store([]byte("кампания"), "a.csv", "text/csv",
		model.PlacementOptions{CampaignID: "c1"})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	otherFile, err := eng.Store([]byte("другая"), "b.csv", "text/csv",
		model.PlacementOptions{CampaignID: "c2"})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	run, err := rm.CleanupTarget("c1", "", CleanupOptions{})
	if err != nil {
		t.Fatalf("CleanupTarget: %v", err)
	}
	if run.FilesDeleted != 1 {
		t.Errorf("FilesDeleted: хотели 1, получили %d", run.FilesDeleted)
	}

	info, err := eng.GetFileInfo(campaignFile.FilePath, false)
	if err != nil {
		t.Fatalf("GetFileInfo: %v", err)
	}
	if info.Exists {
		t.Error("файл кампании c1 должен быть удалён")
	}
	info, err = eng.GetFileInfo(otherFile.FilePath, false)
	if err != nil {
		t.Fatalf("GetFileInfo: %v", err)
	}
	if !info.Exists {
		t.Error("файл кампании c2 не должен быть затронут")
	}
}

// TestCleanupTarget_NeverStored: кампания и пользователь без единой
// загрузки — директорий нет, но это пустой набор кандидатов, а не ошибка.
func TestCleanupTarget_NeverStored(t *testing.T) {
	_, rm, _ := newTestRetention(t, RetentionConfig{})

	run, err := rm.CleanupTarget("c-empty", "u-empty", CleanupOptions{})
	if err != nil {
		t.Fatalf("CleanupTarget по отсутствующим директориям: %v", err)
	}
	if run.FilesDeleted != 0 {
		t.Errorf("FilesDeleted: хотели 0, получили %d", run.FilesDeleted)
	}
	if len(run.Errors) != 0 {
		t.Errorf("ошибок быть не должно, получили %v", run.Errors)
	}
}

func TestCleanupTarget_RequiresTarget(t *testing.T) {
	_, rm, _ := newTestRetention(t, RetentionConfig{})

	if _, err := rm.CleanupTarget("", "", CleanupOptions{}); !errors.Is(err, ErrNoTarget) {
		t.Errorf("хотели ErrNoTarget, получили %v", err)
	}
}

func TestSweep_MaxFilesCap(t *testing.T) {
	eng, rm, _ := newTestRetention(t, RetentionConfig{TempFileTTL: 0})

	for i := 0; i < 5; i++ {
		storeTemp(t, eng, []byte("файл"))
	}

	run, err := rm.CleanupTemporary(CleanupOptions{MaxFiles: 3})
	if err != nil {
		t.Fatalf("CleanupTemporary: %v", err)
	}
	if run.FilesDeleted != 3 {
		t.Errorf("FilesDeleted: хотели 3, получили %d", run.FilesDeleted)
	}
}

func TestRunCleanup_MergesStrategies(t *testing.T) {
	eng, rm, _ := newTestRetention(t, RetentionConfig{TempFileTTL: 0})

	storeTemp(t, eng, []byte("temp1"))
	if _, err := eng.Store([]byte("user"), "u.csv", "text/csv",
		model.PlacementOptions{UserID: "u1"}); err != nil {
		t.Fatalf("Store: %v", err)
	}

	run, err := rm.RunCleanup(SelectionOptions{
		Temporary: true,
		UserID:    "u1",
	})
	if err != nil {
		t.Fatalf("RunCleanup: %v", err)
	}
	if run.FilesDeleted != 2 {
		t.Errorf("FilesDeleted: хотели 2, получили %d: %+v", run.FilesDeleted, run.Details)
	}
}

func TestCheckStorageAndCleanup(t *testing.T) {
	t.Run("под потолком — no-op", func(t *testing.T) {
		eng, rm, _ := newTestRetention(t, RetentionConfig{MaxTotalStorage: 1 << 20})
		storeTemp(t, eng, []byte("немного данных"))

		run, err := rm.CheckStorageAndCleanup()
		if err != nil {
			t.Fatalf("CheckStorageAndCleanup: %v", err)
		}
		if run != nil {
			t.Errorf("под потолком зачистка не запускается, получили %+v", run)
		}
	})

	t.Run("потолок не задан — no-op", func(t *testing.T) {
		_, rm, _ := newTestRetention(t, RetentionConfig{})
		run, err := rm.CheckStorageAndCleanup()
		if err != nil {
			t.Fatalf("CheckStorageAndCleanup: %v", err)
		}
		if run != nil {
			t.Error("без потолка зачистка не запускается")
		}
	})

	t.Run("над потолком — ограниченная зачистка", func(t *testing.T) {
		eng, rm, _ := newTestRetention(t, RetentionConfig{
			MaxTotalStorage: 10,
			TempFileTTL:     0,
		})
		stored := storeTemp(t, eng, []byte("достаточно длинное содержимое"))

		run, err := rm.CheckStorageAndCleanup()
		if err != nil {
			t.Fatalf("CheckStorageAndCleanup: %v", err)
		}
		if run == nil || run.FilesDeleted != 1 {
			t.Fatalf("хотели один удалённый файл, получили %+v", run)
		}

		info, err := eng.GetFileInfo(stored.FilePath, false)
		if err != nil {
			t.Fatalf("GetFileInfo: %v", err)
		}
		if info.Exists {
			t.Error("временный файл должен быть удалён зачисткой по переполнению")
		}
	})
}

func TestScheduler_IdempotentStartStop(t *testing.T) {
	_, rm, _ := newTestRetention(t, RetentionConfig{
		AutoCleanupEnabled: true,
		CleanupInterval:    time.Hour,
	})

	ctx := context.Background()
	rm.Start(ctx)
	if !rm.Running() {
		t.Fatal("планировщик должен работать после Start")
	}

	// Повторный Start — no-op
	rm.Start(ctx)
	if !rm.Running() {
		t.Fatal("повторный Start не должен останавливать планировщик")
	}

	rm.Stop()
	if rm.Running() {
		t.Fatal("планировщик должен остановиться после Stop")
	}

	// Повторный Stop безопасен
	rm.Stop()
}

func TestUpdateConfig_RestartsScheduler(t *testing.T) {
	_, rm, _ := newTestRetention(t, RetentionConfig{
		AutoCleanupEnabled: true,
		CleanupInterval:    time.Hour,
	})

	ctx := context.Background()
	rm.Start(ctx)

	rm.UpdateConfig(ctx, RetentionConfig{
		AutoCleanupEnabled: true,
		CleanupInterval:    30 * time.Minute,
	})
	if !rm.Running() {
		t.Fatal("планировщик должен работать после обновления с включённой автоочисткой")
	}
	if rm.Config().CleanupInterval != 30*time.Minute {
		t.Errorf("интервал: хотели 30m, получили %s", rm.Config().CleanupInterval)
	}

	rm.UpdateConfig(ctx, RetentionConfig{AutoCleanupEnabled: false})
	if rm.Running() {
		t.Fatal("планировщик должен остановиться при выключенной автоочистке")
	}
}
