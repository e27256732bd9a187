package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

type agentRepository struct {
	db *sql.DB
}

// NewAgentRepository создаёт PostgreSQL-реализацию AgentRepository.
func NewAgentRepository(store *Store) domain.AgentRepository {
	return &agentRepository{db: store.DB()}
}

func (r *agentRepository) Create(agent domain.Agent) error {
	if agent.ID == "" {
		return domain.ErrAgentIDRequired
	}

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

	_, err = tx.ExecContext(ctx, `
		INSERT INTO agents (
			id, name, phone, rating, max_orders, completed_orders, failed_orders,
			is_available, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW(),NOW())
	`,
		agent.ID, agent.Name, agent.Phone, agent.Rating, agent.MaxOrders,
		agent.CompletedOrders, agent.FailedOrders, agent.IsAvailable, agent.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrVersionConflict
		}
		return fmt.Errorf("insert agent: %w", err)
	}

	for _, pincode := range agent.Pincodes {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO agent_pincodes (agent_id, pincode) VALUES ($1,$2)
			ON CONFLICT DO NOTHING
		`, agent.ID, pincode); err != nil {
			return fmt.Errorf("insert agent pincode: %w", err)
		}
	}
	for _, orderID := range agent.CurrentOrders {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO agent_orders (agent_id, order_id) VALUES ($1,$2)
			ON CONFLICT DO NOTHING
		`, agent.ID, orderID); err != nil {
			return fmt.Errorf("insert agent order: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create agent: %w", err)
	}

	return nil
}

func (r *agentRepository) Get(id string) (domain.Agent, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	agent, err := r.getAgentRow(ctx, id)
	if err != nil {
		return domain.Agent{}, err
	}
	if err := r.loadRelations(ctx, &agent); err != nil {
		return domain.Agent{}, err
	}

	return agent, nil
}

// ListByPincode возвращает агентов зоны в стабильном порядке по id.
func (r *agentRepository) ListByPincode(pincode string) ([]domain.Agent, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT a.id, a.name, a.phone, a.rating, a.max_orders, a.completed_orders,
		       a.failed_orders, a.is_available, a.version, a.created_at, a.updated_at
		FROM agents a
		JOIN agent_pincodes p ON p.agent_id = a.id
		WHERE p.pincode = $1
		ORDER BY a.id ASC
	`, pincode)
	if err != nil {
		return nil, fmt.Errorf("list agents by pincode: %w", err)
	}
	defer rows.Close()

	agents := make([]domain.Agent, 0)
	for rows.Next() {
		var agent domain.Agent
		if err := rows.Scan(
			&agent.ID, &agent.Name, &agent.Phone, &agent.Rating, &agent.MaxOrders,
			&agent.CompletedOrders, &agent.FailedOrders, &agent.IsAvailable,
			&agent.Version, &agent.CreatedAt, &agent.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan agent row: %w", err)
		}
		agents = append(agents, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agent rows: %w", err)
	}

	for i := range agents {
		if err := r.loadRelations(ctx, &agents[i]); err != nil {
			return nil, err
		}
	}

	return agents, nil
}

func (r *agentRepository) Save(agent domain.Agent) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE agents
		SET name = $1,
		    phone = $2,
		    rating = $3,
		    max_orders = $4,
		    completed_orders = $5,
		    failed_orders = $6,
		    is_available = $7,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $8
		  AND version = $9
	`,
		agent.Name, agent.Phone, agent.Rating, agent.MaxOrders,
		agent.CompletedOrders, agent.FailedOrders, agent.IsAvailable,
		agent.ID, agent.Version,
	)
	if err != nil {
		return fmt.Errorf("update agent: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := r.agentExists(ctx, agent.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrAgentNotFound
		}
		return domain.ErrVersionConflict
	}

	return nil
}

// AddOrder атомарно закрепляет заказ за агентом. Строка агента блокируется
// FOR UPDATE, поэтому проверка ёмкости и вставка — одна операция и
// конкурентные назначения не переполняют агента.
func (r *agentRepository) AddOrder(agentID, orderID string) error {
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

	var maxOrders int
	err = tx.QueryRowContext(ctx, `
		SELECT max_orders FROM agents WHERE id = $1 FOR UPDATE
	`, agentID).Scan(&maxOrders)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = domain.ErrAgentNotFound
			return err
		}
		return fmt.Errorf("lock agent row: %w", err)
	}

	var current int
	if err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM agent_orders WHERE agent_id = $1
	`, agentID).Scan(&current); err != nil {
		return fmt.Errorf("count agent orders: %w", err)
	}

	var exists bool
	if err = tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM agent_orders WHERE agent_id = $1 AND order_id = $2)
	`, agentID, orderID).Scan(&exists); err != nil {
		return fmt.Errorf("check agent order: %w", err)
	}
	if exists {
		// Повторное закрепление того же заказа — no-op.
		err = tx.Commit()
		return err
	}

	if current >= maxOrders {
		err = domain.ErrAgentCapacityExceeded
		return err
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO agent_orders (agent_id, order_id) VALUES ($1,$2)
	`, agentID, orderID); err != nil {
		return fmt.Errorf("insert agent order: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE agents
		SET is_available = ($1 + 1) < max_orders,
		    updated_at = NOW()
		WHERE id = $2
	`, current, agentID); err != nil {
		return fmt.Errorf("update agent availability: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit add order: %w", err)
	}

	return nil
}

// RemoveOrder снимает заказ с агента и пересчитывает доступность.
func (r *agentRepository) RemoveOrder(agentID, orderID string) error {
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

	err = tx.QueryRowContext(ctx, `SELECT 1 FROM agents WHERE id = $1 FOR UPDATE`, agentID).Scan(new(int))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = domain.ErrAgentNotFound
			return err
		}
		return fmt.Errorf("lock agent row: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `
		DELETE FROM agent_orders WHERE agent_id = $1 AND order_id = $2
	`, agentID, orderID); err != nil {
		return fmt.Errorf("delete agent order: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE agents
		SET is_available = (SELECT COUNT(*) FROM agent_orders WHERE agent_id = $1) < max_orders,
		    updated_at = NOW()
		WHERE id = $1
	`, agentID); err != nil {
		return fmt.Errorf("update agent availability: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit remove order: %w", err)
	}

	return nil
}

func (r *agentRepository) getAgentRow(ctx context.Context, id string) (domain.Agent, error) {
	var agent domain.Agent

	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, phone, rating, max_orders, completed_orders, failed_orders,
		       is_available, version, created_at, updated_at
		FROM agents
		WHERE id = $1
	`, id).Scan(
		&agent.ID, &agent.Name, &agent.Phone, &agent.Rating, &agent.MaxOrders,
		&agent.CompletedOrders, &agent.FailedOrders, &agent.IsAvailable,
		&agent.Version, &agent.CreatedAt, &agent.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Agent{}, domain.ErrAgentNotFound
		}
		return domain.Agent{}, fmt.Errorf("select agent: %w", err)
	}

	return agent, nil
}

func (r *agentRepository) loadRelations(ctx context.Context, agent *domain.Agent) error {
	pincodes, err := r.loadStrings(ctx, `
		SELECT pincode FROM agent_pincodes WHERE agent_id = $1 ORDER BY pincode ASC
	`, agent.ID)
	if err != nil {
		return fmt.Errorf("load agent pincodes: %w", err)
	}
	agent.Pincodes = pincodes

	orders, err := r.loadStrings(ctx, `
		SELECT order_id FROM agent_orders WHERE agent_id = $1 ORDER BY assigned_at ASC, order_id ASC
	`, agent.ID)
	if err != nil {
		return fmt.Errorf("load agent orders: %w", err)
	}
	agent.CurrentOrders = orders

	return nil
}

func (r *agentRepository) loadStrings(ctx context.Context, query, arg string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := make([]string, 0)
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	return values, rows.Err()
}

func (r *agentRepository) agentExists(ctx context.Context, id string) (bool, error) {
	var found string
	err := r.db.QueryRowContext(ctx, `SELECT id FROM agents WHERE id = $1`, id).Scan(&found)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check agent exists: %w", err)
}

var _ domain.AgentRepository = (*agentRepository)(nil)
