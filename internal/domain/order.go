package domain

import "github.com/shopspring/decimal"

// OrderStatus — жизненный цикл заказа во внешней системе закупок
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPlaced    OrderStatus = "placed"
	OrderOnHold    OrderStatus = "on_hold"
	OrderComplete  OrderStatus = "complete"
	OrderCancelled OrderStatus = "cancelled"
	OrderLost      OrderStatus = "lost"
	OrderReturned  OrderStatus = "returned"
)

// IsOpen — заказ еще в работе
func (s OrderStatus) IsOpen() bool {
	switch s {
	case OrderPending, OrderPlaced, OrderOnHold:
		return true
	}
	return false
}

// AllowsApprovalRequest — новые запросы на согласование возможны только до размещения заказа
func (s OrderStatus) AllowsApprovalRequest() bool {
	return s == OrderPending
}

// Order — заказ на закупку. Владелец — внешняя система, движок только читает.
type Order struct {
	ID           string          `json:"id"`
	Reference    string          `json:"reference"`
	SupplierName string          `json:"supplier_name,omitempty"`
	TotalValue   decimal.Decimal `json:"total_value"`
	HasTotal     bool            `json:"-"` // NULL в total_price
	Currency     string          `json:"currency"`
	Status       OrderStatus     `json:"status"`
	RequesterID  string          `json:"requester_id,omitempty"`
}

// FormattedTotal — сумма для отображения ("USD 12500.00"), nil если суммы нет
func (o *Order) FormattedTotal() *string {
	if !o.HasTotal {
		return nil
	}
	s := o.TotalValue.StringFixed(2)
	if o.Currency != "" {
		s = o.Currency + " " + s
	}
	return &s
}

// SupplierPtr — поставщик для JSON, nil если не задан
func (o *Order) SupplierPtr() *string {
	if o.SupplierName == "" {
		return nil
	}
	s := o.SupplierName
	return &s
}
