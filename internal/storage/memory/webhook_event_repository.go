package memory

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// webhookEventRepositoryInMemory — in-memory реализация WebhookEventRepository.
type webhookEventRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.WebhookEventRecord
}

// NewWebhookEventRepository создаёт in-memory журнал webhook-событий.
func NewWebhookEventRepository() domain.WebhookEventRepository {
	return &webhookEventRepositoryInMemory{
		items: make(map[string]domain.WebhookEventRecord),
	}
}

// CreateProcessing создаёт запись в статусе processing.
// Если ключ уже существует, возвращает текущую запись и признак дубликата.
// Запись в статусе abandoned дубликатом не считается: повторная доставка
// события — легальный путь её переобработки.
func (r *webhookEventRepositoryInMemory) CreateProcessing(key string, eventType domain.WebhookEventType, payload []byte) (domain.WebhookEventRecord, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.WebhookEventRecord{}, false, domain.ErrEventTypeRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.items[key]; ok {
		if existing.Status == domain.WebhookEventAbandoned {
			existing.Status = domain.WebhookEventProcessing
			existing.UpdatedAt = time.Now().UTC()
			r.items[key] = existing
			return cloneEventRecord(existing), false, nil
		}
		return cloneEventRecord(existing), true, nil
	}

	now := time.Now().UTC()
	record := domain.WebhookEventRecord{
		Key:       key,
		Type:      eventType,
		Status:    domain.WebhookEventProcessing,
		Payload:   append([]byte(nil), payload...),
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.items[key] = record
	return cloneEventRecord(record), false, nil
}

// Get возвращает запись или ErrEventNotFound.
func (r *webhookEventRepositoryInMemory) Get(key string) (domain.WebhookEventRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.items[key]
	if !ok {
		return domain.WebhookEventRecord{}, domain.ErrEventNotFound
	}
	return cloneEventRecord(record), nil
}

// MarkApplied фиксирует успешную обработку события.
func (r *webhookEventRepositoryInMemory) MarkApplied(key string, attempts int) error {
	return r.markStatus(key, domain.WebhookEventApplied, attempts, "")
}

// MarkAbandoned фиксирует исчерпание retry-бюджета.
func (r *webhookEventRepositoryInMemory) MarkAbandoned(key string, attempts int, lastError string) error {
	return r.markStatus(key, domain.WebhookEventAbandoned, attempts, lastError)
}

// ListAbandoned возвращает события, ожидающие ручной сверки, старые первыми.
func (r *webhookEventRepositoryInMemory) ListAbandoned(limit int) ([]domain.WebhookEventRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []domain.WebhookEventRecord
	for _, record := range r.items {
		if record.Status == domain.WebhookEventAbandoned {
			result = append(result, cloneEventRecord(record))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].Key < result[j].Key
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Delete удаляет запись, возвращая событие в очередь переобработки.
func (r *webhookEventRepositoryInMemory) Delete(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[key]; !ok {
		return domain.ErrEventNotFound
	}
	delete(r.items, key)
	return nil
}

func (r *webhookEventRepositoryInMemory) markStatus(key string, status domain.WebhookEventStatus, attempts int, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.items[key]
	if !ok {
		return domain.ErrEventNotFound
	}

	record.Status = status
	record.Attempts = attempts
	record.LastError = lastError
	record.UpdatedAt = time.Now().UTC()
	r.items[key] = record
	return nil
}

func cloneEventRecord(src domain.WebhookEventRecord) domain.WebhookEventRecord {
	dst := src
	dst.Payload = append([]byte(nil), src.Payload...)
	return dst
}

var _ domain.WebhookEventRepository = (*webhookEventRepositoryInMemory)(nil)
