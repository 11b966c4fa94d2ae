// Пакет lifecycle — конечный автомат жизненного цикла подсистемы хранения.
//
// Жизненный цикл линейный: created → ready → stopped.
// Повторный переход в stopped — no-op (идемпотентный shutdown).
// Операции над файлами допустимы только в состоянии ready.
//
// Потокобезопасен через sync.RWMutex.
package lifecycle

import (
	"fmt"
	"sync"
	"time"
)

// State — состояние подсистемы.
type State string

const (
	// StateCreated — фасад сконструирован, компоненты не инициализированы
	StateCreated State = "created"
	// StateReady — инициализация завершена, операции доступны
	StateReady State = "ready"
	// StateStopped — подсистема остановлена
	StateStopped State = "stopped"
)

// TransitionRecord — запись о смене состояния.
type TransitionRecord struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// StateMachine — конечный автомат жизненного цикла.
// Потокобезопасен для одновременного чтения/записи.
type StateMachine struct {
	mu      sync.RWMutex
	current State
	history []TransitionRecord
}

// validTransitions — матрица допустимых переходов.
// stopped → stopped отсутствует намеренно: повторный shutdown
// обрабатывается в TransitionTo как no-op, а не как переход.
var validTransitions = map[State]map[State]bool{
	StateCreated: {StateReady: true, StateStopped: true},
	StateReady:   {StateStopped: true},
	StateStopped: {},
}

// New создаёт конечный автомат в состоянии created.
func New() *StateMachine {
	return &StateMachine{
		current: StateCreated,
		history: make([]TransitionRecord, 0),
	}
}

// Current возвращает текущее состояние.
func (sm *StateMachine) Current() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// IsReady возвращает true, если подсистема готова к операциям.
func (sm *StateMachine) IsReady() bool {
	return sm.Current() == StateReady
}

// TransitionTo выполняет переход в указанное состояние.
// Переход в текущее состояние — no-op без ошибки (идемпотентность).
func (sm *StateMachine) TransitionTo(target State) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.current == target {
		return nil
	}

	transitions, ok := validTransitions[sm.current]
	if !ok || !transitions[target] {
		return fmt.Errorf("недопустимый переход %s → %s", sm.current, target)
	}

	sm.history = append(sm.history, TransitionRecord{
		From:      sm.current,
		To:        target,
		Timestamp: time.Now().UTC(),
	})
	sm.current = target
	return nil
}

// History возвращает копию истории переходов.
func (sm *StateMachine) History() []TransitionRecord {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	out := make([]TransitionRecord, len(sm.history))
	copy(out, sm.history)
	return out
}
