package approval

import (
	"context"
	"errors"

	"github.com/xela07ax/po-approvals/internal/domain"
)

var (
	// ErrPendingExists — на уровне уже есть активная pending-запись. Никогда не перезаписываем.
	ErrPendingExists = errors.New("ledger: pending record already exists for level")
	// ErrNotPending — запись уже решена (проиграли гонку) или не существует.
	ErrNotPending = errors.New("ledger: record is not pending")
)

// Snapshot — согласованный срез леджера по одному заказу
type Snapshot struct {
	OrderID string                  `json:"order_id"`
	Policy  *domain.ApprovalPolicy  `json:"policy,omitempty"` // nil до первого запроса
	Records []domain.ApprovalRecord `json:"records"`
}

// LedgerReader — чтение без блокировок
type LedgerReader interface {
	Snapshot(ctx context.Context, orderID string) (*Snapshot, error)
	Snapshots(ctx context.Context, orderIDs []string) (map[string]*Snapshot, error)
}

// Ledger — долговременное хранилище записей согласования.
// InOrderTx — граница сериализации записей внутри одного заказа: все или ничего.
type Ledger interface {
	LedgerReader
	InOrderTx(ctx context.Context, orderID string, fn func(tx LedgerTx) error) error
}

// LedgerTx — операции внутри per-order транзакции
type LedgerTx interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
	ActiveRecord(ctx context.Context, level int) (*domain.ApprovalRecord, error)
	Append(ctx context.Context, rec domain.ApprovalRecord) error
	Resolve(ctx context.Context, recordID string, d domain.Decision) error
	FreezePolicy(ctx context.Context, p domain.ApprovalPolicy) (domain.ApprovalPolicy, error)
}

// SnapshotCache — кэш чтения с ограниченной устаревшестью.
// Get возвращает поколение и при промахе; Set с поколением, которое успел сменить Invalidate, игнорируется.
type SnapshotCache interface {
	Get(ctx context.Context, orderID string) (snap *Snapshot, gen string, ok bool)
	Set(ctx context.Context, s *Snapshot, gen string)
	Invalidate(ctx context.Context, orderID string)
}

// OrderSource — внешний источник заказов
type OrderSource interface {
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	ListOpenOrders(ctx context.Context) ([]*domain.Order, error)
	ListOrders(ctx context.Context) ([]*domain.Order, error)
}

// UserDirectory — внешний справочник пользователей
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
	ListActiveUsers(ctx context.Context) ([]*domain.User, error)
}
