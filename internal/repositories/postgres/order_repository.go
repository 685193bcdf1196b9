package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wagnerwagner/merx/internal/domain"
	"github.com/wagnerwagner/merx/internal/repositories"
)

const opTimeout = 5 * time.Second

const orderColumns = `id, number, sequence, access_uuid, items, totals, fields, payment_method, correlation_id,
	payment_complete, paid_at, payment_details, invoice_date, created_at, updated_at`

// OrderRepository stores orders in the orders table.
type OrderRepository struct {
	db  *sql.DB
	now func() time.Time
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs the repository on store.
func NewOrderRepository(store *Store) *OrderRepository {
	return &OrderRepository{db: store.db, now: time.Now}
}

// Create inserts order with ON CONFLICT DO NOTHING and falls back to reading the existing row.
func (r *OrderRepository) Create(ctx context.Context, order domain.Order) (domain.Order, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	items, totals, fields, details, err := encodeJSONColumns(order)
	if err != nil {
		return domain.Order{}, false, err
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (id) DO NOTHING`,
		order.ID, order.Number, order.Sequence, order.AccessUUID, items, totals, fields,
		order.PaymentMethod, order.CorrelationID, order.PaymentComplete, order.PaidAt, details,
		order.InvoiceDate, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, false, wrapError("orders.create", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		existing, err := r.Get(ctx, order.ID)
		return existing, false, err
	}
	return order, true, nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, strings.TrimSpace(id))
	order, err := scanOrder(row)
	return order, wrapError("orders.get", err)
}

func (r *OrderRepository) FindByCorrelation(ctx context.Context, correlationID string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE correlation_id = $1 AND correlation_id <> '' LIMIT 1`,
		strings.TrimSpace(correlationID))
	order, err := scanOrder(row)
	return order, wrapError("orders.findByCorrelation", err)
}

// MarkPaid is a single conditional UPDATE; a concurrent second call matches no row.
func (r *OrderRepository) MarkPaid(ctx context.Context, id string, paidAt time.Time, details map[string]any) (domain.Order, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var rawDetails []byte
	if details != nil {
		encoded, err := json.Marshal(details)
		if err != nil {
			return domain.Order{}, false, fmt.Errorf("orders.markPaid: encode details: %w", err)
		}
		rawDetails = encoded
	}
	row := r.db.QueryRowContext(ctx, `
		UPDATE orders
		SET payment_complete = TRUE, paid_at = $2, payment_details = COALESCE($3, payment_details), updated_at = $4
		WHERE id = $1 AND paid_at IS NULL
		RETURNING `+orderColumns,
		strings.TrimSpace(id), paidAt.UTC(), rawDetails, r.now().UTC(),
	)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		existing, getErr := r.Get(ctx, id)
		return existing, false, getErr
	}
	if err != nil {
		return domain.Order{}, false, wrapError("orders.markPaid", err)
	}
	return order, true, nil
}

func encodeJSONColumns(order domain.Order) (items, totals, fields, details []byte, err error) {
	if items, err = json.Marshal(order.Items); err != nil {
		return
	}
	if totals, err = json.Marshal(order.Totals); err != nil {
		return
	}
	if order.Fields == nil {
		order.Fields = map[string]string{}
	}
	if fields, err = json.Marshal(order.Fields); err != nil {
		return
	}
	if order.PaymentDetails != nil {
		details, err = json.Marshal(order.PaymentDetails)
	}
	return
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order                          domain.Order
		items, totals, fields, details []byte
		paidAt                         sql.NullTime
	)
	err := row.Scan(&order.ID, &order.Number, &order.Sequence, &order.AccessUUID, &items, &totals, &fields,
		&order.PaymentMethod, &order.CorrelationID, &order.PaymentComplete, &paidAt, &details,
		&order.InvoiceDate, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return domain.Order{}, err
	}
	if paidAt.Valid {
		paid := paidAt.Time.UTC()
		order.PaidAt = &paid
	}
	if err := json.Unmarshal(items, &order.Items); err != nil {
		return domain.Order{}, fmt.Errorf("decode items: %w", err)
	}
	if err := json.Unmarshal(totals, &order.Totals); err != nil {
		return domain.Order{}, fmt.Errorf("decode totals: %w", err)
	}
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &order.Fields); err != nil {
			return domain.Order{}, fmt.Errorf("decode fields: %w", err)
		}
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &order.PaymentDetails); err != nil {
			return domain.Order{}, fmt.Errorf("decode payment details: %w", err)
		}
	}
	return order, nil
}
