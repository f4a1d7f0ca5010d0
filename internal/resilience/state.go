package resilience

import (
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

func fromBreakerState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// CircuitState состояние circuit breaker одного шлюза
type CircuitState struct {
	Gateway         string     `json:"gateway"`
	State           State      `json:"state"`
	FailureCount    int        `json:"failure_count"`
	LastFailureTime *time.Time `json:"last_failure_time,omitempty"`
	NextRetryTime   *time.Time `json:"next_retry_time,omitempty"`
}

// Registry набор клиентов для отчёта о здоровье интеграций
type Registry struct {
	mu      sync.RWMutex
	clients []*Client
}

func NewRegistry(clients ...*Client) *Registry {
	return &Registry{clients: clients}
}

// Register добавляет клиента в отчёт
func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients = append(r.clients, c)
}

// States возвращает состояния всех зарегистрированных шлюзов
func (r *Registry) States() []CircuitState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	states := make([]CircuitState, 0, len(r.clients))
	for _, c := range r.clients {
		states = append(states, c.State())
	}
	return states
}

// Healthy true если ни одна цепь не разомкнута
func (r *Registry) Healthy() bool {
	for _, s := range r.States() {
		if s.State != StateClosed {
			return false
		}
	}
	return true
}
