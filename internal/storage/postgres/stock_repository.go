package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// StockRepository — PostgreSQL-реализация каталога остатков.
// Экспортируется как структура: SetStock не входит в порт StockRepository,
// но нужен для сидинга и админ-операций.
type StockRepository struct {
	db *sql.DB
}

// NewStockRepository создаёт PostgreSQL-реализацию StockRepository.
func NewStockRepository(store *Store) *StockRepository {
	return &StockRepository{db: store.DB()}
}

func (r *StockRepository) GetStock(productID string) (int32, error) {
	if productID == "" {
		return 0, domain.ErrProductIDRequired
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var onHand int32
	err := r.db.QueryRowContext(ctx, `
		SELECT on_hand FROM product_stock WHERE product_id = $1
	`, productID).Scan(&onHand)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrProductNotFound
		}
		return 0, fmt.Errorf("select product stock: %w", err)
	}

	return onHand, nil
}

// DecrementStock списывает количество с отсечкой в ноль: конвертация резерва
// не должна падать из-за рассинхронизации остатков при разрешённом oversell.
func (r *StockRepository) DecrementStock(productID string, qty int32) error {
	if productID == "" {
		return domain.ErrProductIDRequired
	}
	if qty <= 0 {
		return domain.ErrQuantityInvalid
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE product_stock
		SET on_hand = GREATEST(on_hand - $1, 0),
		    updated_at = NOW()
		WHERE product_id = $2
	`, qty, productID)
	if err != nil {
		return fmt.Errorf("decrement product stock: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrProductNotFound
	}

	return nil
}

// SetStock выставляет остаток товара (для сидинга и админ-операций).
func (r *StockRepository) SetStock(productID string, qty int32) error {
	if productID == "" {
		return domain.ErrProductIDRequired
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO product_stock (product_id, on_hand, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (product_id) DO UPDATE
		SET on_hand = EXCLUDED.on_hand,
		    updated_at = NOW()
	`, productID, qty); err != nil {
		return fmt.Errorf("upsert product stock: %w", err)
	}

	return nil
}

var _ domain.StockRepository = (*StockRepository)(nil)
