package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/supportdesk/internal/logger"
	"github.com/supportdesk/internal/model"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// Create stores m and bumps the customer's last activity in one transaction.
func (r *MessageRepository) Create(ctx context.Context, m *model.ChatMessage) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("msgRepo.Create begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE support_customers SET last_activity = $2 WHERE id::text = $1`, m.CustomerID, m.Timestamp)
	if err != nil {
		return fmt.Errorf("msgRepo.Create touch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO support_messages (id, customer_id, sender, text, is_read, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.CustomerID, m.Sender, m.Text, m.Read, m.Timestamp,
	); err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("msgRepo.Create commit: %w", err)
	}
	return nil
}

func (r *MessageRepository) ListByCustomer(ctx context.Context, customerID string) ([]model.ChatMessage, error) {
	defer logger.DeferLogDuration("msg.ListByCustomer", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id::text, customer_id::text, sender, text, is_read, created_at
		 FROM support_messages
		 WHERE customer_id::text = $1
		 ORDER BY created_at ASC, id ASC`, customerID)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListByCustomer query: %w", err)
	}
	defer rows.Close()

	msgs := make([]model.ChatMessage, 0, 64)
	for rows.Next() {
		var m model.ChatMessage
		if err := rows.Scan(&m.ID, &m.CustomerID, &m.Sender, &m.Text, &m.Read, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("msgRepo.ListByCustomer scan: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.ListByCustomer rows: %w", err)
	}
	return msgs, nil
}

// MarkRead flags unread messages from sender in one conversation. Empty ids
// means all of them.
func (r *MessageRepository) MarkRead(ctx context.Context, customerID string, sender model.SenderRole, ids []string) (int64, error) {
	defer logger.DeferLogDuration("msg.MarkRead", time.Now())()
	q := `UPDATE support_messages SET is_read = true
	      WHERE customer_id::text = $1 AND sender = $2 AND NOT is_read`
	args := []any{customerID, sender}
	if len(ids) > 0 {
		q += ` AND id::text = ANY($3)`
		args = append(args, ids)
	}
	tag, err := r.pool.Exec(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("msgRepo.MarkRead: %w", err)
	}
	return tag.RowsAffected(), nil
}
