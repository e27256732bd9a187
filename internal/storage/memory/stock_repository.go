package memory

import (
	"sync"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// StockRepository — in-memory каталог остатков для локальной разработки и тестов.
// Экспортируется как структура: SetStock не входит в порт StockRepository,
// но нужен для seed-данных.
type StockRepository struct {
	mu    sync.RWMutex
	stock map[string]int32
}

// NewStockRepository возвращает пустой in-memory каталог остатков.
func NewStockRepository() *StockRepository {
	return &StockRepository{stock: make(map[string]int32)}
}

// SetStock задаёт on-hand остаток товара.
func (r *StockRepository) SetStock(productID string, qty int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stock[productID] = qty
}

// GetStock возвращает остаток или ErrProductNotFound.
func (r *StockRepository) GetStock(productID string) (int32, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	qty, ok := r.stock[productID]
	if !ok {
		return 0, domain.ErrProductNotFound
	}
	return qty, nil
}

// DecrementStock списывает количество; остаток не опускается ниже нуля.
func (r *StockRepository) DecrementStock(productID string, qty int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.stock[productID]
	if !ok {
		return domain.ErrProductNotFound
	}

	current -= qty
	if current < 0 {
		current = 0
	}
	r.stock[productID] = current
	return nil
}

var _ domain.StockRepository = (*StockRepository)(nil)
