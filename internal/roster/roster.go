package roster

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/po-approvals/internal/infra"
)

// UsernameResolver переводит имена из конфигурации в id активных пользователей
type UsernameResolver interface {
	ActiveIDsByUsernames(ctx context.Context, usernames []string) ([]string, error)
}

// SeniorRoster — кто может принимать решения на senior-уровне high-value заказов.
// Источник — список имен в конфигурации; L1 в памяти, L2 — Redis set для других инстансов.
// Пустой список означает, что senior-уровень не может согласовать никто.
type SeniorRoster struct {
	users     UsernameResolver
	usernames []string
	rdb       *redis.Client
	logger    *zap.Logger

	mu     sync.RWMutex
	ids    map[string]bool
	loaded bool
}

func NewSeniorRoster(rdb *redis.Client, users UsernameResolver, usernames []string, logger *zap.Logger) *SeniorRoster {
	return &SeniorRoster{
		users:     users,
		usernames: usernames,
		rdb:       rdb,
		logger:    logger.Named("roster"),
		ids:       make(map[string]bool),
	}
}

// Init загружает состав при старте и при переподключении к шине
func (r *SeniorRoster) Init(ctx context.Context) error {
	ids, err := r.users.ActiveIDsByUsernames(ctx, r.usernames)
	if err != nil {
		return fmt.Errorf("failed to resolve senior approvers: %w", err)
	}
	if len(ids) < len(r.usernames) {
		r.logger.Warn("some senior approvers are unknown or inactive",
			zap.Strings("configured", r.usernames), zap.Int("resolved", len(ids)))
	}

	return WarmupState(ctx, r.rdb, r.logger, ids, infra.RedisKeySeniorApprovers, infra.RedisKeyLockSeniorWarmup, func(items []string) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.ids = make(map[string]bool, len(items))
		for _, id := range items {
			r.ids[id] = true
		}
		r.loaded = true
	})
}

// StartListener применяет точечные изменения состава в реальном времени. Блокирует до отмены ctx.
func (r *SeniorRoster) StartListener(ctx context.Context) {
	if r.rdb == nil {
		return
	}
	ListenStateResilient(ctx, r.rdb, r.logger, infra.RedisChanSeniorRoster,
		func() error { return r.Init(ctx) },
		func(id string, status bool) {
			r.mu.Lock()
			defer r.mu.Unlock()
			if status {
				r.ids[id] = true
			} else {
				delete(r.ids, id)
			}
		},
	)
}

// IsSenior — быстрый путь по L1; до первой загрузки спрашиваем Redis
func (r *SeniorRoster) IsSenior(ctx context.Context, userID string) (bool, error) {
	r.mu.RLock()
	loaded, hit := r.loaded, r.ids[userID]
	r.mu.RUnlock()
	if loaded || r.rdb == nil {
		return hit, nil
	}
	ok, err := r.rdb.SIsMember(ctx, infra.RedisKeySeniorApprovers, userID).Result()
	if err != nil {
		return false, fmt.Errorf("redis: senior lookup: %w", err)
	}
	return ok, nil
}

// Size — текущий размер состава
func (r *SeniorRoster) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ids)
}
