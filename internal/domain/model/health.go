// health.go — модель результата health check подсистемы.
package model

// HealthState — агрегированное состояние подсистемы.
type HealthState string

const (
	// HealthHealthy — все проверки пройдены
	HealthHealthy HealthState = "healthy"
	// HealthWarning — подсистема работает, но есть расхождения
	// (например планировщик не соответствует конфигурации)
	HealthWarning HealthState = "warning"
	// HealthError — базовые операции не работают
	HealthError HealthState = "error"
)

// HealthStatus — результат health check фасада.
// Ошибки проверок не пробрасываются наружу: они деградируют
// в состояние warning/error с деталями.
type HealthStatus struct {
	// State — итоговое состояние
	State HealthState `json:"state"`

	// Details — детали по отдельным проверкам
	Details map[string]string `json:"details,omitempty"`
}
