package postgres

import (
	"testing"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

func TestWebhookEventRepositoryDedupIntegration(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewWebhookEventRepository(store)

	const key = "payment_captured:pay_123"

	record, duplicate, err := repo.CreateProcessing(key, domain.EventPaymentCaptured, []byte(`{"x":1}`))
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	if duplicate {
		t.Fatal("first create must not be duplicate")
	}
	if record.Status != domain.WebhookEventProcessing {
		t.Fatalf("expected processing, got %s", record.Status)
	}

	// Повторная доставка до завершения обработки — дубликат.
	_, duplicate, err = repo.CreateProcessing(key, domain.EventPaymentCaptured, nil)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if !duplicate {
		t.Fatal("in-flight record must be reported as duplicate")
	}

	if err := repo.MarkApplied(key, 1); err != nil {
		t.Fatalf("mark applied: %v", err)
	}
	applied, duplicate, err := repo.CreateProcessing(key, domain.EventPaymentCaptured, nil)
	if err != nil {
		t.Fatalf("create after applied: %v", err)
	}
	if !duplicate || applied.Status != domain.WebhookEventApplied {
		t.Fatalf("expected applied duplicate, got duplicate=%v status=%s", duplicate, applied.Status)
	}
}

func TestWebhookEventRepositoryAbandonedReopenIntegration(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewWebhookEventRepository(store)

	const key = "payment_failed:pay_456"

	if _, _, err := repo.CreateProcessing(key, domain.EventPaymentFailed, nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.MarkAbandoned(key, 3, "payment not found"); err != nil {
		t.Fatalf("mark abandoned: %v", err)
	}

	abandoned, err := repo.ListAbandoned(10)
	if err != nil {
		t.Fatalf("list abandoned: %v", err)
	}
	if len(abandoned) != 1 || abandoned[0].Key != key {
		t.Fatalf("expected one abandoned record for %s, got %+v", key, abandoned)
	}
	if abandoned[0].Attempts != 3 || abandoned[0].LastError == "" {
		t.Errorf("abandoned record must keep attempts and last error: %+v", abandoned[0])
	}

	// Повторная доставка переоткрывает abandoned-запись без признака дубликата.
	record, duplicate, err := repo.CreateProcessing(key, domain.EventPaymentFailed, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if duplicate {
		t.Fatal("abandoned record must be reopenable, not duplicate")
	}
	if record.Status != domain.WebhookEventProcessing {
		t.Fatalf("expected processing after reopen, got %s", record.Status)
	}
}
