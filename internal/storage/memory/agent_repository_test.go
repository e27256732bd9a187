package memory

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

func seedAgent(t *testing.T, repo domain.AgentRepository, id string, maxOrders int) {
	t.Helper()

	err := repo.Create(domain.Agent{
		ID:        id,
		Name:      "agent " + id,
		Pincodes:  []string{"560001"},
		Rating:    4.0,
		MaxOrders: maxOrders,
	})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
}

func TestAgentRepositoryAddOrderCapacity(t *testing.T) {
	repo := NewAgentRepository()
	seedAgent(t, repo, "agent-1", 1)

	if err := repo.AddOrder("agent-1", "order-1"); err != nil {
		t.Fatalf("first add: %v", err)
	}
	err := repo.AddOrder("agent-1", "order-2")
	if !errors.Is(err, domain.ErrAgentCapacityExceeded) {
		t.Fatalf("second add err = %v, want ErrAgentCapacityExceeded", err)
	}

	// Повтор того же заказа — no-op, а не ошибка ёмкости.
	if err := repo.AddOrder("agent-1", "order-1"); err != nil {
		t.Fatalf("repeated add: %v", err)
	}

	agent, err := repo.Get("agent-1")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if len(agent.CurrentOrders) != 1 {
		t.Fatalf("current orders = %v, want exactly one", agent.CurrentOrders)
	}
	if agent.IsAvailable {
		t.Error("agent at capacity must not be available")
	}
}

func TestAgentRepositoryAddOrderConcurrent(t *testing.T) {
	repo := NewAgentRepository()
	const capacity = 5
	seedAgent(t, repo, "agent-1", capacity)

	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(n int) {
			defer wg.Done()
			_ = repo.AddOrder("agent-1", fmt.Sprintf("order-%d", n))
		}(i)
	}
	wg.Wait()

	agent, err := repo.Get("agent-1")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if len(agent.CurrentOrders) > capacity {
		t.Fatalf("current orders %d exceed capacity %d", len(agent.CurrentOrders), capacity)
	}
	if len(agent.CurrentOrders) != capacity {
		t.Fatalf("current orders = %d, want exactly %d", len(agent.CurrentOrders), capacity)
	}
}

func TestAgentRepositoryRemoveOrder(t *testing.T) {
	repo := NewAgentRepository()
	seedAgent(t, repo, "agent-1", 1)

	if err := repo.AddOrder("agent-1", "order-1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := repo.RemoveOrder("agent-1", "order-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	// Повторное удаление — no-op.
	if err := repo.RemoveOrder("agent-1", "order-1"); err != nil {
		t.Fatalf("repeated remove: %v", err)
	}

	agent, err := repo.Get("agent-1")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if !agent.IsAvailable {
		t.Error("agent must become available after removal")
	}
	if len(agent.CurrentOrders) != 0 {
		t.Fatalf("current orders = %v, want empty", agent.CurrentOrders)
	}
}

func TestAgentRepositorySaveVersionConflict(t *testing.T) {
	repo := NewAgentRepository()
	seedAgent(t, repo, "agent-1", 2)

	agent, err := repo.Get("agent-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	stale := agent
	agent.Rating = 4.5
	if err := repo.Save(agent); err != nil {
		t.Fatalf("save: %v", err)
	}

	stale.Rating = 1.0
	if err := repo.Save(stale); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("stale save err = %v, want ErrVersionConflict", err)
	}
}

func TestAgentRepositoryListByPincodeOrder(t *testing.T) {
	repo := NewAgentRepository()
	for _, id := range []string{"agent-c", "agent-a", "agent-b"} {
		seedAgent(t, repo, id, 2)
	}

	agents, err := repo.ListByPincode("560001")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(agents) != 3 {
		t.Fatalf("got %d agents, want 3", len(agents))
	}
	for i, want := range []string{"agent-a", "agent-b", "agent-c"} {
		if agents[i].ID != want {
			t.Fatalf("agents[%d] = %s, want %s", i, agents[i].ID, want)
		}
	}
}
