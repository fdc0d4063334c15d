package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "po-approvals"
)

// Ключи для Sets и кэша (состояние)
const (
	RedisKeySeniorApprovers  = RedisNamespace + ":approvers:senior_set"
	RedisKeyLockSeniorWarmup = RedisNamespace + ":lock:warmup:senior"
	RedisKeyEmailQueue       = RedisNamespace + ":notifications:email"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanApprovalEvents — канал для трансляции запросов и решений по заказам.
	RedisChanApprovalEvents = RedisNamespace + ":approvals:events"
	RedisChanSeniorRoster   = RedisNamespace + ":approvers:senior-signal"
)

// SnapshotKey — ключ кэша снимка леджера заказа
func SnapshotKey(orderID string) string {
	return fmt.Sprintf("%s:approvals:snapshot:%s", RedisNamespace, orderID)
}

// SnapshotGenKey — счетчик поколений снимка, растет при каждой записи в леджер
func SnapshotGenKey(orderID string) string {
	return fmt.Sprintf("%s:approvals:snapshot-gen:%s", RedisNamespace, orderID)
}
