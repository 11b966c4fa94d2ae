// health.go — обработчики health endpoints для Kubernetes probes.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dkruglov/filekeeper/internal/config"
	"github.com/dkruglov/filekeeper/internal/domain/model"
	"github.com/dkruglov/filekeeper/internal/service"
)

// HealthHandler реализует health endpoints: /health/live, /health/ready.
type HealthHandler struct {
	version string
	facade  *service.Facade
}

// NewHealthHandler создаёт обработчик health endpoints.
func NewHealthHandler(facade *service.Facade) *HealthHandler {
	return &HealthHandler{
		version: config.Version,
		facade:  facade,
	}
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс жив. Не проверяет зависимости.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "filekeeper",
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// HealthReady обрабатывает GET /health/ready.
// Глубокая проверка: пробная запись и удаление в хранилище,
// соответствие планировщика политике. warning не роняет readiness —
// сервис обслуживает запросы, но деградация видна в checks.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	hs := h.facade.HealthCheck()

	overallStatus := "ok"
	httpStatus := http.StatusOK
	switch hs.State {
	case model.HealthWarning:
		overallStatus = "degraded"
	case model.HealthError:
		overallStatus = "fail"
		httpStatus = http.StatusServiceUnavailable
	}

	resp := map[string]any{
		"status":    overallStatus,
		"state":     hs.State,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "filekeeper",
		"checks":    hs.Details,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(resp)
}
