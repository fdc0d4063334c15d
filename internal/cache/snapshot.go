// Package cache — read-through кэш снимков леджера в Redis с ограниченной устаревшестью.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/po-approvals/internal/approval"
	"github.com/xela07ax/po-approvals/internal/infra"
)

// SnapshotCache — сбой Redis никогда не превращается в ошибку чтения: это просто промах.
//
// Рядом со снимком хранится счетчик поколений заказа. Invalidate увеличивает его,
// Set пишет снимок только если поколение не изменилось с момента Get.
// Так чтение, начатое до коммита, не вернет в кэш снимок, который коммит уже устарил.
type SnapshotCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	genTTL time.Duration
	logger *zap.Logger
}

// genFloor — счетчик живет заметно дольше любого чтения
const genFloor = 24 * time.Hour

// setIfGen: KEYS[1] снимок, KEYS[2] поколение; ARGV: поколение, снимок, ttl в мс
var setIfGen = redis.NewScript(`
local gen = redis.call('GET', KEYS[2])
if not gen then gen = '0' end
if gen ~= ARGV[1] then return 0 end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

func NewSnapshotCache(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *SnapshotCache {
	return &SnapshotCache{
		rdb:    rdb,
		ttl:    ttl,
		genTTL: max(genFloor, 10*ttl),
		logger: logger.Named("snapshot-cache"),
	}
}

// Get читает снимок и поколение одним MGET. Пустое поколение — Redis недоступен, Set ничего не запишет.
func (c *SnapshotCache) Get(ctx context.Context, orderID string) (*approval.Snapshot, string, bool) {
	vals, err := c.rdb.MGet(ctx, infra.SnapshotKey(orderID), infra.SnapshotGenKey(orderID)).Result()
	if err != nil {
		c.logger.Warn("snapshot cache read failed", zap.String("order_id", orderID), zap.Error(err))
		return nil, "", false
	}

	gen := "0"
	if g, ok := vals[1].(string); ok {
		gen = g
	}
	raw, ok := vals[0].(string)
	if !ok {
		return nil, gen, false
	}
	var snap approval.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		c.logger.Warn("corrupted snapshot in cache", zap.String("order_id", orderID), zap.Error(err))
		return nil, gen, false
	}
	return &snap, gen, true
}

func (c *SnapshotCache) Set(ctx context.Context, s *approval.Snapshot, gen string) {
	if s == nil || c.ttl <= 0 || gen == "" {
		return
	}
	raw, err := json.Marshal(s)
	if err != nil {
		c.logger.Warn("snapshot marshal failed", zap.String("order_id", s.OrderID), zap.Error(err))
		return
	}
	keys := []string{infra.SnapshotKey(s.OrderID), infra.SnapshotGenKey(s.OrderID)}
	stored, err := setIfGen.Run(ctx, c.rdb, keys, gen, raw, c.ttl.Milliseconds()).Int()
	if err != nil {
		c.logger.Warn("snapshot cache write failed", zap.String("order_id", s.OrderID), zap.Error(err))
		return
	}
	if stored == 0 {
		c.logger.Debug("stale snapshot discarded", zap.String("order_id", s.OrderID), zap.String("gen", gen))
	}
}

// Invalidate вызывается после коммита записи: новое поколение и удаление снимка в одной MULTI
func (c *SnapshotCache) Invalidate(ctx context.Context, orderID string) {
	ctx = context.WithoutCancel(ctx)
	genKey := infra.SnapshotGenKey(orderID)
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.PExpire(ctx, genKey, c.genTTL)
		pipe.Del(ctx, infra.SnapshotKey(orderID))
		return nil
	})
	if err != nil {
		// Устаревание ограничено TTL
		c.logger.Warn("snapshot cache invalidation failed", zap.String("order_id", orderID), zap.Error(err))
	}
}
