package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// agentRepositoryInMemory — in-memory реализация AgentRepository.
// AddOrder/RemoveOrder выполняются под общим мьютексом, поэтому проверка
// ёмкости и дозапись заказа — одна атомарная операция.
type agentRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Agent
}

// NewAgentRepository возвращает in-memory репозиторий агентов доставки.
func NewAgentRepository() domain.AgentRepository {
	return &agentRepositoryInMemory{
		items: make(map[string]domain.Agent),
	}
}

// Create сохраняет нового агента, если ID ещё не занят.
func (r *agentRepositoryInMemory) Create(agent domain.Agent) error {
	if agent.ID == "" {
		return domain.ErrAgentIDRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[agent.ID]; exists {
		return domain.ErrVersionConflict
	}
	agent.IsAvailable = len(agent.CurrentOrders) < agent.MaxOrders
	r.items[agent.ID] = cloneAgent(agent)
	return nil
}

// Get возвращает агента или ErrAgentNotFound.
func (r *agentRepositoryInMemory) Get(id string) (domain.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, ok := r.items[id]
	if !ok {
		return domain.Agent{}, domain.ErrAgentNotFound
	}
	return cloneAgent(agent), nil
}

// ListByPincode возвращает агентов зоны в стабильном порядке по id.
// Детерминированный порядок нужен ранжированию: при равных скорах
// выбор агента не должен зависеть от порядка обхода map.
func (r *agentRepositoryInMemory) ListByPincode(pincode string) ([]domain.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Agent, 0, len(r.items))
	for _, agent := range r.items {
		if agent.Covers(pincode) {
			result = append(result, cloneAgent(agent))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// Save перезаписывает агента, проверяя версию (optimistic locking).
func (r *agentRepositoryInMemory) Save(agent domain.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[agent.ID]
	if !ok {
		return domain.ErrAgentNotFound
	}
	if current.Version != agent.Version {
		return domain.ErrVersionConflict
	}
	agent.Version++
	agent.UpdatedAt = time.Now().UTC()
	agent.IsAvailable = len(agent.CurrentOrders) < agent.MaxOrders
	r.items[agent.ID] = cloneAgent(agent)
	return nil
}

// AddOrder атомарно добавляет заказ агенту, проверяя ёмкость.
func (r *agentRepositoryInMemory) AddOrder(agentID, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.items[agentID]
	if !ok {
		return domain.ErrAgentNotFound
	}
	if agent.HasOrder(orderID) {
		return nil
	}
	if len(agent.CurrentOrders) >= agent.MaxOrders {
		return domain.ErrAgentCapacityExceeded
	}

	agent.CurrentOrders = append(agent.CurrentOrders, orderID)
	agent.IsAvailable = len(agent.CurrentOrders) < agent.MaxOrders
	agent.Version++
	agent.UpdatedAt = time.Now().UTC()
	r.items[agentID] = agent
	return nil
}

// RemoveOrder атомарно убирает заказ и пересчитывает доступность агента.
// Удаление отсутствующего заказа — no-op.
func (r *agentRepositoryInMemory) RemoveOrder(agentID, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.items[agentID]
	if !ok {
		return domain.ErrAgentNotFound
	}
	if !agent.HasOrder(orderID) {
		return nil
	}

	agent.RemoveOrder(orderID)
	agent.Version++
	agent.UpdatedAt = time.Now().UTC()
	r.items[agentID] = agent
	return nil
}

func cloneAgent(src domain.Agent) domain.Agent {
	dst := src
	dst.Pincodes = append([]string(nil), src.Pincodes...)
	dst.CurrentOrders = append([]string(nil), src.CurrentOrders...)
	return dst
}

var _ domain.AgentRepository = (*agentRepositoryInMemory)(nil)
