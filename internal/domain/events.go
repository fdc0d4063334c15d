package domain

import "time"

// Типы событий шины согласований
const (
	EventApprovalRequested = "approval.requested"
	EventApprovalApproved  = "approval.approved"
	EventApprovalRejected  = "approval.rejected"
)

// ApprovalEvent — факт изменения леджера, публикуется после коммита
type ApprovalEvent struct {
	Type     string         `json:"type"`
	OrderID  string         `json:"order_id"`
	RecordID string         `json:"record_id"`
	Level    int            `json:"level"`
	Status   ApprovalStatus `json:"status"`
	ActorID  string         `json:"actor_id"`
	TraceID  string         `json:"trace_id,omitempty"`
	At       time.Time      `json:"at"`
}
