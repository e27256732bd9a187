package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

type paymentRepository struct {
	db *sql.DB
}

// NewPaymentRepository создаёт PostgreSQL-реализацию PaymentRepository.
func NewPaymentRepository(store *Store) domain.PaymentRepository {
	return &paymentRepository{db: store.DB()}
}

func (r *paymentRepository) Create(payment domain.Payment) error {
	if errs := payment.Validate(); len(errs) > 0 {
		return errs[0]
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payments (
			id, order_id, provider, provider_order_id, provider_payment_id,
			status, amount_minor, currency, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`,
		payment.ID, payment.OrderID, payment.Provider, payment.ProviderOrderID,
		payment.ProviderPaymentID, string(payment.Status), payment.AmountMinor,
		payment.Currency, payment.Version, payment.CreatedAt, payment.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrVersionConflict
		}
		return fmt.Errorf("insert payment: %w", err)
	}

	return nil
}

func (r *paymentRepository) Get(id string) (domain.Payment, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.getBy(ctx, `WHERE id = $1`, id)
}

func (r *paymentRepository) GetByProviderOrderID(providerOrderID string) (domain.Payment, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.getBy(ctx, `WHERE provider_order_id = $1`, providerOrderID)
}

func (r *paymentRepository) getBy(ctx context.Context, where string, arg interface{}) (domain.Payment, error) {
	var (
		payment domain.Payment
		status  string
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT id, order_id, provider, provider_order_id, provider_payment_id,
		       status, amount_minor, currency, version, created_at, updated_at
		FROM payments
	`+where, arg).Scan(
		&payment.ID, &payment.OrderID, &payment.Provider, &payment.ProviderOrderID,
		&payment.ProviderPaymentID, &status, &payment.AmountMinor,
		&payment.Currency, &payment.Version, &payment.CreatedAt, &payment.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Payment{}, domain.ErrPaymentNotFound
		}
		return domain.Payment{}, fmt.Errorf("select payment: %w", err)
	}
	payment.Status = domain.PaymentStatus(status)

	refunds, err := r.loadRefunds(ctx, payment.ID)
	if err != nil {
		return domain.Payment{}, err
	}
	payment.Refunds = refunds

	return payment, nil
}

func (r *paymentRepository) Save(payment domain.Payment) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE payments
		SET status = $1,
		    provider_payment_id = $2,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $3
		  AND version = $4
	`, string(payment.Status), payment.ProviderPaymentID, payment.ID, payment.Version)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := r.paymentExists(ctx, payment.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrPaymentNotFound
		}
		return domain.ErrVersionConflict
	}

	return nil
}

// AppendRefund добавляет возврат. Повторная запись того же provider refund id
// поглощается уникальным индексом: возврат остаётся ровно один.
func (r *paymentRepository) AppendRefund(paymentID string, refund domain.Refund) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO refunds (id, payment_id, provider_refund_id, amount_minor, status, reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (payment_id, provider_refund_id) DO NOTHING
	`,
		refund.ID, paymentID, refund.ProviderRefundID, refund.AmountMinor,
		string(refund.Status), refund.Reason, refund.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert refund: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if inserted > 0 {
		var updated int64
		updatedRes, updErr := tx.ExecContext(ctx, `
			UPDATE payments
			SET version = version + 1,
			    updated_at = NOW()
			WHERE id = $1
		`, paymentID)
		if updErr != nil {
			err = fmt.Errorf("bump payment version: %w", updErr)
			return err
		}
		if updated, err = updatedRes.RowsAffected(); err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if updated == 0 {
			err = domain.ErrPaymentNotFound
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit append refund: %w", err)
	}

	return nil
}

// UpdateRefundStatus меняет статус возврата по provider refund id.
func (r *paymentRepository) UpdateRefundStatus(paymentID, providerRefundID string, status domain.RefundStatus) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE refunds
		SET status = $1
		WHERE payment_id = $2
		  AND provider_refund_id = $3
	`, string(status), paymentID, providerRefundID)
	if err != nil {
		return fmt.Errorf("update refund status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrPaymentNotFound
	}

	return nil
}

func (r *paymentRepository) loadRefunds(ctx context.Context, paymentID string) ([]domain.Refund, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, provider_refund_id, amount_minor, status, reason, created_at
		FROM refunds
		WHERE payment_id = $1
		ORDER BY created_at ASC, id ASC
	`, paymentID)
	if err != nil {
		return nil, fmt.Errorf("load refunds: %w", err)
	}
	defer rows.Close()

	refunds := make([]domain.Refund, 0)
	for rows.Next() {
		var (
			refund domain.Refund
			status string
		)
		if err := rows.Scan(&refund.ID, &refund.ProviderRefundID, &refund.AmountMinor,
			&status, &refund.Reason, &refund.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan refund: %w", err)
		}
		refund.Status = domain.RefundStatus(status)
		refunds = append(refunds, refund)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refunds: %w", err)
	}

	if len(refunds) == 0 {
		return nil, nil
	}
	return refunds, nil
}

func (r *paymentRepository) paymentExists(ctx context.Context, id string) (bool, error) {
	var found string
	err := r.db.QueryRowContext(ctx, `SELECT id FROM payments WHERE id = $1`, id).Scan(&found)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check payment exists: %w", err)
}

var _ domain.PaymentRepository = (*paymentRepository)(nil)
