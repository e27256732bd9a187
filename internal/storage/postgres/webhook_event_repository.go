package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

type webhookEventRepository struct {
	db *sql.DB
}

// NewWebhookEventRepository создаёт PostgreSQL-реализацию WebhookEventRepository.
func NewWebhookEventRepository(store *Store) domain.WebhookEventRepository {
	return &webhookEventRepository{db: store.DB()}
}

// CreateProcessing создаёт запись в статусе processing. Гонку конкурентных
// доставок одного события разрешает первичный ключ: вторая вставка падает
// по уникальности, и вызывающий получает текущую запись с признаком дубликата.
// Abandoned-запись дубликатом не считается и возвращается в processing.
func (r *webhookEventRepository) CreateProcessing(key string, eventType domain.WebhookEventType, payload []byte) (domain.WebhookEventRecord, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.WebhookEventRecord{}, false, domain.ErrEventTypeRequired
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_events (key, type, status, attempts, last_error, payload, created_at, updated_at)
		VALUES ($1,$2,$3,0,'',$4,$5,$6)
	`, key, string(eventType), string(domain.WebhookEventProcessing), payload, now, now)
	if err == nil {
		return domain.WebhookEventRecord{
			Key:       key,
			Type:      eventType,
			Status:    domain.WebhookEventProcessing,
			Payload:   append([]byte(nil), payload...),
			CreatedAt: now,
			UpdatedAt: now,
		}, false, nil
	}
	if !isUniqueViolation(err) {
		return domain.WebhookEventRecord{}, false, fmt.Errorf("create webhook event record: %w", err)
	}

	existing, getErr := r.Get(key)
	if getErr != nil {
		return domain.WebhookEventRecord{}, false, getErr
	}

	if existing.Status == domain.WebhookEventAbandoned {
		res, updErr := r.db.ExecContext(ctx, `
			UPDATE webhook_events
			SET status = $1,
			    updated_at = $2
			WHERE key = $3
			  AND status = $4
		`, string(domain.WebhookEventProcessing), now, key, string(domain.WebhookEventAbandoned))
		if updErr != nil {
			return domain.WebhookEventRecord{}, false, fmt.Errorf("reopen abandoned webhook event: %w", updErr)
		}
		affected, updErr := res.RowsAffected()
		if updErr != nil {
			return domain.WebhookEventRecord{}, false, fmt.Errorf("rows affected: %w", updErr)
		}
		if affected > 0 {
			existing.Status = domain.WebhookEventProcessing
			existing.UpdatedAt = now
			return existing, false, nil
		}
		// Конкурент успел переоткрыть запись первым.
		return existing, true, nil
	}

	return existing, true, nil
}

func (r *webhookEventRepository) Get(key string) (domain.WebhookEventRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		record    domain.WebhookEventRecord
		typeRaw   string
		statusRaw string
		payload   []byte
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT key, type, status, attempts, last_error, payload, created_at, updated_at
		FROM webhook_events
		WHERE key = $1
	`, key).Scan(
		&record.Key, &typeRaw, &statusRaw, &record.Attempts,
		&record.LastError, &payload, &record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.WebhookEventRecord{}, domain.ErrEventNotFound
		}
		return domain.WebhookEventRecord{}, fmt.Errorf("get webhook event record: %w", err)
	}

	record.Type = domain.WebhookEventType(typeRaw)
	record.Status = domain.WebhookEventStatus(statusRaw)
	if !record.Status.Valid() {
		return domain.WebhookEventRecord{}, fmt.Errorf("invalid webhook event status %q for key %s", statusRaw, key)
	}
	record.Payload = append([]byte(nil), payload...)

	return record, nil
}

func (r *webhookEventRepository) MarkApplied(key string, attempts int) error {
	return r.markStatus(key, domain.WebhookEventApplied, attempts, "")
}

func (r *webhookEventRepository) MarkAbandoned(key string, attempts int, lastError string) error {
	return r.markStatus(key, domain.WebhookEventAbandoned, attempts, lastError)
}

func (r *webhookEventRepository) ListAbandoned(limit int) ([]domain.WebhookEventRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := `
		SELECT key, type, status, attempts, last_error, payload, created_at, updated_at
		FROM webhook_events
		WHERE status = $1
		ORDER BY created_at ASC, key ASC
	`

	var (
		rows *sql.Rows
		err  error
	)

	if limit > 0 {
		rows, err = r.db.QueryContext(ctx, query+" LIMIT $2", string(domain.WebhookEventAbandoned), limit)
	} else {
		rows, err = r.db.QueryContext(ctx, query, string(domain.WebhookEventAbandoned))
	}
	if err != nil {
		return nil, fmt.Errorf("list abandoned webhook events: %w", err)
	}
	defer rows.Close()

	records := make([]domain.WebhookEventRecord, 0)
	for rows.Next() {
		var (
			record    domain.WebhookEventRecord
			typeRaw   string
			statusRaw string
			payload   []byte
		)
		if err := rows.Scan(
			&record.Key, &typeRaw, &statusRaw, &record.Attempts,
			&record.LastError, &payload, &record.CreatedAt, &record.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan webhook event record: %w", err)
		}
		record.Type = domain.WebhookEventType(typeRaw)
		record.Status = domain.WebhookEventStatus(statusRaw)
		record.Payload = append([]byte(nil), payload...)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate webhook event records: %w", err)
	}

	return records, nil
}

func (r *webhookEventRepository) Delete(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM webhook_events WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("delete webhook event record: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrEventNotFound
	}

	return nil
}

func (r *webhookEventRepository) markStatus(key string, status domain.WebhookEventStatus, attempts int, lastError string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrEventNotFound
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE webhook_events
		SET status = $1,
		    attempts = $2,
		    last_error = $3,
		    updated_at = $4
		WHERE key = $5
	`, string(status), attempts, lastError, time.Now().UTC(), key)
	if err != nil {
		return fmt.Errorf("mark webhook event status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrEventNotFound
	}

	return nil
}

var _ domain.WebhookEventRepository = (*webhookEventRepository)(nil)
