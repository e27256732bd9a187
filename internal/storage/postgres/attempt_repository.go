package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

type attemptRepository struct {
	db *sql.DB
}

// NewAttemptRepository создаёт PostgreSQL-реализацию AttemptRepository.
func NewAttemptRepository(store *Store) domain.AttemptRepository {
	return &attemptRepository{db: store.DB()}
}

// Append добавляет попытку. Строгую нумерацию обеспечивает условная вставка:
// запись проходит только если её номер ровно на 1 больше последнего.
func (r *attemptRepository) Append(attempt domain.DeliveryAttempt) error {
	if errs := attempt.Validate(); len(errs) > 0 {
		return errs[0]
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if attempt.RecordedAt.IsZero() {
		attempt.RecordedAt = time.Now().UTC()
	}

	var nextAttemptAt sql.NullTime
	if attempt.NextAttemptAt != nil {
		nextAttemptAt = sql.NullTime{Time: *attempt.NextAttemptAt, Valid: true}
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO delivery_attempts (
			id, order_id, agent_id, attempt_number, outcome, reason, next_attempt_at, recorded_at
		)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8
		WHERE $4 = (
			SELECT COALESCE(MAX(attempt_number), 0) + 1
			FROM delivery_attempts
			WHERE order_id = $2
		)
	`,
		attempt.ID, attempt.OrderID, attempt.AgentID, attempt.Number,
		string(attempt.Outcome), attempt.Reason, nextAttemptAt, attempt.RecordedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAttemptOutOfOrder
		}
		return fmt.Errorf("insert delivery attempt: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrAttemptOutOfOrder
	}

	return nil
}

// List возвращает попытки заказа в порядке возрастания номера.
func (r *attemptRepository) List(orderID string) ([]domain.DeliveryAttempt, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, agent_id, attempt_number, outcome, reason, next_attempt_at, recorded_at
		FROM delivery_attempts
		WHERE order_id = $1
		ORDER BY attempt_number ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list delivery attempts: %w", err)
	}
	defer rows.Close()

	attempts := make([]domain.DeliveryAttempt, 0)
	for rows.Next() {
		var (
			attempt       domain.DeliveryAttempt
			outcome       string
			nextAttemptAt sql.NullTime
		)
		if err := rows.Scan(
			&attempt.ID, &attempt.OrderID, &attempt.AgentID, &attempt.Number,
			&outcome, &attempt.Reason, &nextAttemptAt, &attempt.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("scan delivery attempt: %w", err)
		}
		attempt.Outcome = domain.AttemptOutcome(outcome)
		if nextAttemptAt.Valid {
			t := nextAttemptAt.Time
			attempt.NextAttemptAt = &t
		}
		attempts = append(attempts, attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate delivery attempts: %w", err)
	}

	return attempts, nil
}

// CountFailed возвращает число неуспешных попыток заказа.
func (r *attemptRepository) CountFailed(orderID string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var count int
	if err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM delivery_attempts
		WHERE order_id = $1
		  AND outcome = $2
	`, orderID, string(domain.AttemptOutcomeFailed)).Scan(&count); err != nil {
		return 0, fmt.Errorf("count failed delivery attempts: %w", err)
	}

	return count, nil
}

var _ domain.AttemptRepository = (*attemptRepository)(nil)
