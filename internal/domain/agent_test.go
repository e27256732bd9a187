package domain

import "testing"

func TestAgentCovers(t *testing.T) {
	agent := Agent{Pincodes: []string{"560001", "560002"}}

	if !agent.Covers("560001") {
		t.Error("agent must cover 560001")
	}
	if agent.Covers("110011") {
		t.Error("agent must not cover 110011")
	}
}

func TestAgentSpareCapacity(t *testing.T) {
	agent := Agent{MaxOrders: 3, CurrentOrders: []string{"o1"}}
	if got := agent.SpareCapacity(); got != 2 {
		t.Fatalf("spare capacity = %d, want 2", got)
	}

	// Даже при рассинхронизации данных spare не уходит в минус.
	agent.CurrentOrders = []string{"o1", "o2", "o3", "o4"}
	if got := agent.SpareCapacity(); got != 0 {
		t.Fatalf("spare capacity = %d, want 0", got)
	}
}

func TestAgentRemoveOrder(t *testing.T) {
	agent := Agent{
		MaxOrders:     2,
		CurrentOrders: []string{"o1", "o2"},
		IsAvailable:   false,
	}

	agent.RemoveOrder("o1")

	if agent.HasOrder("o1") {
		t.Error("order o1 must be removed")
	}
	if !agent.HasOrder("o2") {
		t.Error("order o2 must remain")
	}
	if !agent.IsAvailable {
		t.Error("agent must become available after freeing a slot")
	}

	// Удаление отсутствующего заказа — no-op.
	agent.RemoveOrder("missing")
	if len(agent.CurrentOrders) != 1 {
		t.Fatalf("current orders = %v, want 1 entry", agent.CurrentOrders)
	}
}
