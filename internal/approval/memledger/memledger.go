// Package memledger — леджер в памяти процесса: per-order мьютекс и staged-запись с применением на коммите.
package memledger

import (
	"context"
	"sync"

	"github.com/xela07ax/po-approvals/internal/approval"
	"github.com/xela07ax/po-approvals/internal/domain"
)

type orderBook struct {
	mu      sync.Mutex // сериализует транзакции одного заказа
	policy  *domain.ApprovalPolicy
	records []domain.ApprovalRecord
}

type MemoryLedger struct {
	mu    sync.RWMutex // защищает карту и содержимое книг при чтении
	books map[string]*orderBook
}

func New() *MemoryLedger {
	return &MemoryLedger{books: make(map[string]*orderBook)}
}

func (l *MemoryLedger) book(orderID string) *orderBook {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.books[orderID]
	if !ok {
		b = &orderBook{}
		l.books[orderID] = b
	}
	return b
}

func (l *MemoryLedger) Snapshot(ctx context.Context, orderID string) (*approval.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshotLocked(orderID), nil
}

func (l *MemoryLedger) Snapshots(ctx context.Context, orderIDs []string) (map[string]*approval.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]*approval.Snapshot, len(orderIDs))
	for _, id := range orderIDs {
		out[id] = l.snapshotLocked(id)
	}
	return out, nil
}

func (l *MemoryLedger) snapshotLocked(orderID string) *approval.Snapshot {
	snap := &approval.Snapshot{OrderID: orderID, Records: []domain.ApprovalRecord{}}
	b, ok := l.books[orderID]
	if !ok {
		return snap
	}
	if b.policy != nil {
		p := *b.policy
		snap.Policy = &p
	}
	snap.Records = cloneRecords(b.records)
	approval.SortRecords(snap.Records)
	return snap
}

// InOrderTx: изменения копятся в tx и публикуются только при nil от fn.
func (l *MemoryLedger) InOrderTx(ctx context.Context, orderID string, fn func(tx approval.LedgerTx) error) error {
	b := l.book(orderID)

	// Ожидание блокировки прерывается контекстом
	locked := make(chan struct{})
	go func() {
		b.mu.Lock()
		close(locked)
	}()
	select {
	case <-locked:
	case <-ctx.Done():
		go func() {
			<-locked
			b.mu.Unlock()
		}()
		return ctx.Err()
	}
	defer b.mu.Unlock()

	l.mu.RLock()
	tx := &memTx{orderID: orderID, records: cloneRecords(b.records)}
	if b.policy != nil {
		p := *b.policy
		tx.policy = &p
	}
	l.mu.RUnlock()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// commit
	l.mu.Lock()
	b.policy = tx.policy
	b.records = tx.records
	l.mu.Unlock()
	return nil
}

type memTx struct {
	orderID string
	policy  *domain.ApprovalPolicy
	records []domain.ApprovalRecord
}

func (t *memTx) Snapshot(ctx context.Context) (*approval.Snapshot, error) {
	snap := &approval.Snapshot{OrderID: t.orderID, Records: cloneRecords(t.records)}
	if t.policy != nil {
		p := *t.policy
		snap.Policy = &p
	}
	approval.SortRecords(snap.Records)
	return snap, nil
}

func (t *memTx) ActiveRecord(ctx context.Context, level int) (*domain.ApprovalRecord, error) {
	for i := range t.records {
		if t.records[i].Level == level && t.records[i].Status == domain.StatusPending {
			rec := t.records[i]
			return &rec, nil
		}
	}
	return nil, nil
}

func (t *memTx) Append(ctx context.Context, rec domain.ApprovalRecord) error {
	active, _ := t.ActiveRecord(ctx, rec.Level)
	if active != nil {
		return approval.ErrPendingExists
	}
	rec.OrderID = t.orderID
	t.records = append(t.records, rec)
	return nil
}

func (t *memTx) Resolve(ctx context.Context, recordID string, d domain.Decision) error {
	for i := range t.records {
		if t.records[i].ID != recordID {
			continue
		}
		if err := t.records[i].Apply(d); err != nil {
			return approval.ErrNotPending
		}
		return nil
	}
	return approval.ErrNotPending
}

func (t *memTx) FreezePolicy(ctx context.Context, p domain.ApprovalPolicy) (domain.ApprovalPolicy, error) {
	if t.policy == nil {
		t.policy = &p
	}
	return *t.policy, nil
}

func cloneRecords(in []domain.ApprovalRecord) []domain.ApprovalRecord {
	out := make([]domain.ApprovalRecord, len(in))
	copy(out, in)
	for i := range out {
		// Указатели внутри записи не должны делиться между копиями
		if in[i].ActualApprover != nil {
			u := *in[i].ActualApprover
			out[i].ActualApprover = &u
		}
		if in[i].DecidedAt != nil {
			ts := *in[i].DecidedAt
			out[i].DecidedAt = &ts
		}
		if in[i].RequestedApprover.User != nil {
			u := *in[i].RequestedApprover.User
			out[i].RequestedApprover.User = &u
		}
	}
	return out
}
