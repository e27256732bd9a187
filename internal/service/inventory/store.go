package inventory

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const defaultShardCount = 32

// Store — конкурентно-безопасная таблица резервов, шардированная по
// checkout-сессии. Резервы живут только в памяти процесса: после рестарта
// таблица пуста, что допустимо при TTL в 30 минут. Шардирование убирает
// глобальный мьютекс с checkout-пути: несвязанные сессии не
// сериализуются друг о друга.
type Store struct {
	shards []*storeShard
}

type storeShard struct {
	mu    sync.RWMutex
	items map[string]domain.Reservation
}

// NewStore создаёт пустую таблицу резервов с числом шардов по умолчанию.
func NewStore() *Store {
	return NewStoreWithShards(defaultShardCount)
}

// NewStoreWithShards создаёт таблицу с заданным числом шардов (минимум 1).
func NewStoreWithShards(n int) *Store {
	if n < 1 {
		n = 1
	}
	shards := make([]*storeShard, n)
	for i := range shards {
		shards[i] = &storeShard{items: make(map[string]domain.Reservation)}
	}
	return &Store{shards: shards}
}

func (s *Store) shardFor(sessionID string) *storeShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// Replace кладёт резерв сессии, вытесняя предыдущий, и возвращает его
// (второй результат — признак, что предыдущий существовал и не истёк).
func (s *Store) Replace(res domain.Reservation, now time.Time) (domain.Reservation, bool) {
	shard := s.shardFor(res.SessionID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	prev, existed := shard.items[res.SessionID]
	shard.items[res.SessionID] = cloneReservation(res)
	if existed && !prev.Expired(now) {
		return cloneReservation(prev), true
	}
	return domain.Reservation{}, false
}

// Get возвращает активный резерв сессии. Истёкший резерв невидим для
// читателя ещё до фоновой зачистки.
func (s *Store) Get(sessionID string, now time.Time) (domain.Reservation, bool) {
	shard := s.shardFor(sessionID)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	res, ok := shard.items[sessionID]
	if !ok || res.Expired(now) {
		return domain.Reservation{}, false
	}
	return cloneReservation(res), true
}

// Delete снимает резерв сессии и возвращает его содержимое.
// Удаление отсутствующего или истёкшего резерва — успешный no-op.
func (s *Store) Delete(sessionID string, now time.Time) (domain.Reservation, bool) {
	shard := s.shardFor(sessionID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	res, ok := shard.items[sessionID]
	if !ok {
		return domain.Reservation{}, false
	}
	delete(shard.items, sessionID)
	if res.Expired(now) {
		return domain.Reservation{}, false
	}
	return cloneReservation(res), true
}

// ReservedQty возвращает суммарное количество товара во всех активных резервах.
func (s *Store) ReservedQty(productID string, now time.Time) int32 {
	var total int32
	for _, shard := range s.shards {
		shard.mu.RLock()
		for _, res := range shard.items {
			if res.Expired(now) {
				continue
			}
			total += res.QtyFor(productID)
		}
		shard.mu.RUnlock()
	}
	return total
}

// Len возвращает число записей в таблице, включая истёкшие до зачистки.
func (s *Store) Len() int {
	total := 0
	for _, shard := range s.shards {
		shard.mu.RLock()
		total += len(shard.items)
		shard.mu.RUnlock()
	}
	return total
}

// Sweep удаляет истёкшие резервы и возвращает их количество.
// Проверка и удаление выполняются под локом шарда, поэтому зачистка не
// гоняется с ReserveItems/ReleaseReservation по той же сессии.
func (s *Store) Sweep(now time.Time) int {
	removed := 0
	for _, shard := range s.shards {
		shard.mu.Lock()
		for sessionID, res := range shard.items {
			if res.Expired(now) {
				delete(shard.items, sessionID)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}

func cloneReservation(src domain.Reservation) domain.Reservation {
	dst := src
	dst.Items = append([]domain.ReservationItem(nil), src.Items...)
	return dst
}
