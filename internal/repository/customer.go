package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/supportdesk/internal/logger"
	"github.com/supportdesk/internal/model"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

// customerCols is the SELECT list; order matches scanCustomer.
const customerCols = `c.id::text, c.name, c.email, c.phone, c.status, c.last_activity, c.created_at`

type CustomerRepository struct {
	pool *pgxpool.Pool
}

func NewCustomerRepository(pool *pgxpool.Pool) *CustomerRepository {
	return &CustomerRepository{pool: pool}
}

func scanCustomer(s interface{ Scan(dest ...any) error }, c *model.Customer, extra ...any) error {
	dest := append([]any{&c.ID, &c.Name, &c.Email, &c.Phone, &c.Status, &c.LastActivity, &c.CreatedAt}, extra...)
	return s.Scan(dest...)
}

func (r *CustomerRepository) Create(ctx context.Context, c *model.Customer) error {
	defer logger.DeferLogDuration("customer.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO support_customers (id, name, email, phone, status, last_activity, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.Name, c.Email, c.Phone, c.Status, c.LastActivity, c.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("customerRepo.Create: %w", err)
	}
	return nil
}

func (r *CustomerRepository) GetByID(ctx context.Context, id string) (*model.Customer, error) {
	defer logger.DeferLogDuration("customer.GetByID", time.Now())()
	return r.getOne(ctx, "customerRepo.GetByID", `c.id::text = $1`, id)
}

func (r *CustomerRepository) GetByPhone(ctx context.Context, phone string) (*model.Customer, error) {
	defer logger.DeferLogDuration("customer.GetByPhone", time.Now())()
	return r.getOne(ctx, "customerRepo.GetByPhone", `c.phone = $1`, phone)
}

func (r *CustomerRepository) getOne(ctx context.Context, op, where string, arg any) (*model.Customer, error) {
	c := &model.Customer{}
	row := r.pool.QueryRow(ctx,
		`SELECT `+customerCols+`,
		        (SELECT count(*) FROM support_messages m WHERE m.customer_id = c.id AND m.sender = 'customer' AND NOT m.is_read)
		 FROM support_customers c WHERE `+where, arg)
	if err := scanCustomer(row, c, &c.UnreadCount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

// List returns every customer, most recently active first, with the unread
// counter and the last message preview.
func (r *CustomerRepository) List(ctx context.Context) ([]model.Customer, error) {
	defer logger.DeferLogDuration("customer.List", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+customerCols+`,
		        COALESCE(u.unread, 0),
		        lm.id, lm.sender, lm.text, lm.is_read, lm.created_at
		 FROM support_customers c
		 LEFT JOIN LATERAL (
		     SELECT count(*) AS unread FROM support_messages m
		     WHERE m.customer_id = c.id AND m.sender = 'customer' AND NOT m.is_read
		 ) u ON true
		 LEFT JOIN LATERAL (
		     SELECT m.id::text AS id, m.sender, m.text, m.is_read, m.created_at FROM support_messages m
		     WHERE m.customer_id = c.id
		     ORDER BY m.created_at DESC
		     LIMIT 1
		 ) lm ON true
		 ORDER BY c.last_activity DESC`)
	if err != nil {
		return nil, fmt.Errorf("customerRepo.List query: %w", err)
	}
	defer rows.Close()

	out := make([]model.Customer, 0, 32)
	for rows.Next() {
		var (
			c        model.Customer
			lmID     *string
			lmSender *string
			lmText   *string
			lmRead   *bool
			lmAt     *time.Time
		)
		if err := scanCustomer(rows, &c, &c.UnreadCount, &lmID, &lmSender, &lmText, &lmRead, &lmAt); err != nil {
			return nil, fmt.Errorf("customerRepo.List scan: %w", err)
		}
		if lmID != nil {
			c.LastMessage = &model.ChatMessage{
				ID:         *lmID,
				CustomerID: c.ID,
				Sender:     model.SenderRole(*lmSender),
				Text:       *lmText,
				Read:       *lmRead,
				Timestamp:  *lmAt,
			}
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("customerRepo.List rows: %w", err)
	}
	return out, nil
}

func (r *CustomerRepository) SetStatus(ctx context.Context, id string, status model.ConversationStatus) error {
	defer logger.DeferLogDuration("customer.SetStatus", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE support_customers SET status = $2, last_activity = now() WHERE id::text = $1`, id, status)
	if err != nil {
		return fmt.Errorf("customerRepo.SetStatus: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
