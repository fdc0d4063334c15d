package approval

import (
	"context"

	"github.com/xela07ax/po-approvals/internal/domain"
)

// NotifyResult — что удалось отправить. Сбой доставки не влияет на леджер.
type NotifyResult struct {
	EmailSent bool
	TeamsSent bool
}

// Notifier доставляет уведомления после коммита. Никогда не возвращает ошибку.
type Notifier interface {
	Notify(ctx context.Context, order *domain.Order, rec domain.ApprovalRecord) NotifyResult
	// NotifyDecision сообщает автору запроса о принятом решении
	NotifyDecision(ctx context.Context, order *domain.Order, rec domain.ApprovalRecord) bool
}

// EventPublisher — шина событий леджера (Redis Pub/Sub)
type EventPublisher interface {
	Publish(ctx context.Context, ev domain.ApprovalEvent) error
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, *domain.Order, domain.ApprovalRecord) NotifyResult {
	return NotifyResult{}
}

func (nopNotifier) NotifyDecision(context.Context, *domain.Order, domain.ApprovalRecord) bool {
	return false
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, domain.ApprovalEvent) error { return nil }

type nopCache struct{}

func (nopCache) Get(context.Context, string) (*Snapshot, string, bool) { return nil, "", false }
func (nopCache) Set(context.Context, *Snapshot, string)                {}
func (nopCache) Invalidate(context.Context, string)                    {}
