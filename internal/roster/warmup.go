package roster

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// WarmupState — прогрев L1 (RAM) и L2 (Redis) кэшей из источника истины.
func WarmupState(
	ctx context.Context,
	rdb *redis.Client,
	logger *zap.Logger,
	ids []string,
	redisKey string,
	lockKey string,
	updateL1 func([]string), // Callback для обновления локальной мапы
) error {
	// 1. Локальный кэш обновляем всегда
	updateL1(ids)

	if rdb == nil {
		return nil
	}

	// 2. SetNX: только один инстанс переписывает Redis
	ok, err := rdb.SetNX(ctx, lockKey, "processing", 30*time.Second).Result()
	if err != nil || !ok {
		return nil // Либо ошибка сети, либо другой уже греет кэш
	}
	defer rdb.Del(context.WithoutCancel(ctx), lockKey)

	// 3. Конфигурация — источник истины: набор переписываем целиком
	logger.Info("warming up Redis set", zap.String("key", redisKey), zap.Int("count", len(ids)))
	pipe := rdb.TxPipeline()
	pipe.Del(ctx, redisKey)
	for _, id := range ids {
		pipe.SAdd(ctx, redisKey, id)
	}
	_, err = pipe.Exec(ctx)
	return err
}
