package audit

import "time"

// Действия над заказом, которые попадают в журнал
const (
	ActionRequested = "requested"
	ActionApproved  = "approved"
	ActionRejected  = "rejected"
)

const (
	OutcomeSuccess = "SUCCESS"
	OutcomeDenied  = "DENIED"
	OutcomeFailed  = "FAILED"
)

type AuditEvent struct {
	ID       string         `json:"id"`       // UUID события
	TraceID  string         `json:"trace_id"` // Сквозной ID запроса
	OrderID  string         `json:"order_id"`
	Level    int            `json:"level"`
	Action   string         `json:"action"`   // requested / approved / rejected
	ActorID  string         `json:"actor_id"` // Кто делал
	RecordID string         `json:"record_id,omitempty"`
	Payload  map[string]any `json:"payload"` // approver hint, notes

	// Результат
	Outcome    string    `json:"outcome"` // SUCCESS, DENIED, FAILED
	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error"`
}
