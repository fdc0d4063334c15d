package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/xela07ax/po-approvals/internal/domain"
)

const orderColumns = `id, reference, supplier_name, total_price, currency, status, requester_id`

// OrderRepo читает заказы из таблицы системы закупок. Движок заказы не меняет.
type OrderRepo struct {
	db *sql.DB
}

func NewOrderRepo(db *sql.DB) *OrderRepo {
	return &OrderRepo{db: db}
}

func (r *OrderRepo) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.Errorf(domain.ErrNotFound, "Purchase order %s not found", id)
		}
		return nil, err
	}
	return o, nil
}

// ListOpenOrders — заказы в работе: pending, placed, on_hold
func (r *OrderRepo) ListOpenOrders(ctx context.Context) ([]*domain.Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM purchase_orders
		WHERE status IN ($1, $2, $3) ORDER BY id`,
		string(domain.OrderPending), string(domain.OrderPlaced), string(domain.OrderOnHold))
}

func (r *OrderRepo) ListOrders(ctx context.Context) ([]*domain.Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM purchase_orders ORDER BY id`)
}

func (r *OrderRepo) list(ctx context.Context, query string, args ...any) ([]*domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query purchase orders: %w", err)
	}

	// Инициализируем пустой слайс, чтобы в JSON был [] вместо null
	orders := make([]*domain.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}
	return orders, nil
}

func scanOrder(s scanner) (*domain.Order, error) {
	var o domain.Order
	var status string
	var supplier, currency, requester sql.NullString
	var total decimal.NullDecimal

	if err := s.Scan(&o.ID, &o.Reference, &supplier, &total, &currency, &status, &requester); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("postgres: failed to scan purchase order: %w", err)
	}
	o.SupplierName = supplier.String
	o.Currency = currency.String
	o.RequesterID = requester.String
	o.Status = domain.OrderStatus(status)
	if total.Valid {
		o.TotalValue = total.Decimal
		o.HasTotal = true
	}
	return &o, nil
}
