package postgres

import (
	"fmt"
	"sync"
	"testing"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

func TestAgentRepositoryAddOrderCapacityIntegration(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewAgentRepository(store)

	if err := repo.Create(domain.Agent{
		ID:          "agent-1",
		Name:        "integration agent",
		Pincodes:    []string{"560001", "560002"},
		Rating:      4.2,
		MaxOrders:   2,
		IsAvailable: true,
	}); err != nil {
		t.Fatalf("create agent: %v", err)
	}

	if err := repo.AddOrder("agent-1", "order-1"); err != nil {
		t.Fatalf("first add: %v", err)
	}
	// Повторное закрепление того же заказа — no-op.
	if err := repo.AddOrder("agent-1", "order-1"); err != nil {
		t.Fatalf("repeat add must be no-op: %v", err)
	}
	if err := repo.AddOrder("agent-1", "order-2"); err != nil {
		t.Fatalf("second add: %v", err)
	}

	err := repo.AddOrder("agent-1", "order-3")
	if !domain.IsCapacityExceeded(err) {
		t.Fatalf("expected capacity exceeded, got %v", err)
	}

	agent, err := repo.Get("agent-1")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if len(agent.CurrentOrders) != 2 {
		t.Errorf("expected 2 current orders, got %d", len(agent.CurrentOrders))
	}
	if agent.IsAvailable {
		t.Error("full agent must be unavailable")
	}

	if err := repo.RemoveOrder("agent-1", "order-1"); err != nil {
		t.Fatalf("remove order: %v", err)
	}
	agent, _ = repo.Get("agent-1")
	if !agent.IsAvailable {
		t.Error("availability must be recomputed after removal")
	}
}

func TestAgentRepositoryConcurrentAddOrderIntegration(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewAgentRepository(store)

	const capacity = 3
	if err := repo.Create(domain.Agent{
		ID:          "agent-race",
		Pincodes:    []string{"560001"},
		MaxOrders:   capacity,
		IsAvailable: true,
	}); err != nil {
		t.Fatalf("create agent: %v", err)
	}

	const workers = 12
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if err := repo.AddOrder("agent-race", fmt.Sprintf("order-%d", n)); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if succeeded != capacity {
		t.Errorf("expected exactly %d successful adds, got %d", capacity, succeeded)
	}

	agent, err := repo.Get("agent-race")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if len(agent.CurrentOrders) != capacity {
		t.Errorf("agent carries %d orders, capacity is %d", len(agent.CurrentOrders), capacity)
	}
}

func TestAgentRepositoryListByPincodeIntegration(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewAgentRepository(store)

	for _, id := range []string{"agent-b", "agent-a"} {
		if err := repo.Create(domain.Agent{
			ID:          id,
			Pincodes:    []string{"110011"},
			MaxOrders:   5,
			IsAvailable: true,
		}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	if err := repo.Create(domain.Agent{
		ID:          "agent-other-zone",
		Pincodes:    []string{"220022"},
		MaxOrders:   5,
		IsAvailable: true,
	}); err != nil {
		t.Fatalf("create agent-other-zone: %v", err)
	}

	agents, err := repo.ListByPincode("110011")
	if err != nil {
		t.Fatalf("list by pincode: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(agents))
	}
	if agents[0].ID != "agent-a" || agents[1].ID != "agent-b" {
		t.Errorf("expected stable id order, got %s, %s", agents[0].ID, agents[1].ID)
	}
}
