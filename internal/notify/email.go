package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	EmailKindRequest  = "approval_request"
	EmailKindDecision = "approval_decision"
)

// EmailJob — задание для почтового релея. Отправка письма — забота релея.
type EmailJob struct {
	Kind      string    `json:"kind"`
	To        string    `json:"to"`
	ToName    string    `json:"to_name"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	OrderID   string    `json:"order_id"`
	RecordID  string    `json:"record_id"`
	CreatedAt time.Time `json:"created_at"`
}

// EmailQueue — Redis list, который вычитывает релей (BRPOP)
type EmailQueue struct {
	rdb *redis.Client
	key string
}

func NewEmailQueue(rdb *redis.Client, key string) *EmailQueue {
	return &EmailQueue{rdb: rdb, key: key}
}

func (q *EmailQueue) Enqueue(ctx context.Context, job EmailJob) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal email job: %w", err)
	}
	if err := q.rdb.LPush(ctx, q.key, raw).Err(); err != nil {
		return fmt.Errorf("redis: enqueue email: %w", err)
	}
	return nil
}
