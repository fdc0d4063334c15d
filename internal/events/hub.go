package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/po-approvals/internal/domain"
)

const subscriberBuffer = 64

// Hub раздает события подключенным клиентам (websocket).
// Медленный клиент теряет события, но не тормозит остальных.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	logger *zap.Logger
}

// Subscription — одна подписка; OrderID пустой = все заказы
type Subscription struct {
	OrderID string
	C       chan domain.ApprovalEvent
	once    sync.Once
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		subs:   make(map[*Subscription]struct{}),
		logger: logger.Named("events"),
	}
}

func (h *Hub) Subscribe(orderID string) *Subscription {
	s := &Subscription{OrderID: orderID, C: make(chan domain.ApprovalEvent, subscriberBuffer)}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (h *Hub) Unsubscribe(s *Subscription) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
	s.once.Do(func() { close(s.C) })
}

// Size — число активных подписок
func (h *Hub) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Broadcast кладет событие во все подходящие подписки без блокировки
func (h *Hub) Broadcast(ev domain.ApprovalEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		if s.OrderID != "" && s.OrderID != ev.OrderID {
			continue
		}
		select {
		case s.C <- ev:
		default:
			h.logger.Warn("subscriber is slow, event dropped",
				zap.String("order_id", ev.OrderID),
				zap.String("type", ev.Type),
			)
		}
	}
}

// Publish — локальная шина для режима без Redis
func (h *Hub) Publish(_ context.Context, ev domain.ApprovalEvent) error {
	h.Broadcast(ev)
	return nil
}

// Run слушает Redis-канал и раздает события, переподключаясь при обрыве
func (h *Hub) Run(ctx context.Context, rdb *redis.Client, channel string) {
	for {
		pubsub := rdb.Subscribe(ctx, channel)

		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			if ctx.Err() != nil {
				return
			}
			h.logger.Error("failed to subscribe", zap.String("chan", channel), zap.Error(err))
			if !sleep(ctx, 5*time.Second) {
				return
			}
			continue
		}
		h.logger.Info("subscribed to approval events", zap.String("chan", channel))

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop
				}
				var ev domain.ApprovalEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					h.logger.Error("invalid event payload", zap.String("payload", msg.Payload), zap.Error(err))
					continue
				}
				h.Broadcast(ev)
			}
		}

		pubsub.Close()
		if !sleep(ctx, time.Second) {
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
