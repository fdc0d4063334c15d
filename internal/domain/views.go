package domain

import "time"

// StatusView — read-only проекция состояния согласования для дашборда
type StatusView struct {
	OrderID        string      `json:"order_id"`
	OrderReference string      `json:"order_reference"`
	OrderStatus    OrderStatus `json:"order_status"`
	OrderTotal     *string     `json:"order_total"`

	ApprovedCount   int  `json:"approved_count"`
	TotalRequired   int  `json:"total_required"`
	IsFullyApproved bool `json:"is_fully_approved"`
	HasPending      bool `json:"has_pending"`
	PendingLevel    *int `json:"pending_level"`
	IsHighValue     bool `json:"is_high_value"`

	UserCanApprove       bool    `json:"user_can_approve"`
	UserCanApproveReason *string `json:"user_can_approve_reason"`
	CanRequestApproval   bool    `json:"can_request_approval"`
	CanRequestReason     *string `json:"can_request_reason"`

	Approvals []ApprovalRecord `json:"approvals"`
}

// RequestResult — авторитетный ответ на запрос согласования
type RequestResult struct {
	Level             int            `json:"approval_level"`
	RequestedApprover *string        `json:"requested_approver"`
	EmailSent         bool           `json:"email_sent"`
	TeamsSent         bool           `json:"teams_sent"`
	Record            ApprovalRecord `json:"record"`
}

// DecisionResult — состояние после решения, без повторного чтения
type DecisionResult struct {
	Level           int            `json:"approval_level"`
	Approved        bool           `json:"approved"`
	ApprovedCount   int            `json:"approval_count"`
	TotalRequired   int            `json:"total_required"`
	IsFullyApproved bool           `json:"fully_approved"`
	CanPlaceOrder   bool           `json:"can_place_order"`
	CanReRequest    bool           `json:"can_re_request"`
	Record          ApprovalRecord `json:"record"`
}

// PendingOrder — строка списка заказов, ожидающих решения
type PendingOrder struct {
	OrderID        string    `json:"order_id"`
	OrderReference string    `json:"order_reference"`
	OrderTotal     *string   `json:"order_total"`
	Supplier       *string   `json:"supplier"`
	ApprovalLevel  int       `json:"approval_level"`
	RequestedBy    string    `json:"requested_by"`
	RequestedAt    time.Time `json:"requested_at"`
	IsHighValue    bool      `json:"is_high_value"`
	URL            string    `json:"url"`
}

// OrderApprovalStatus — сводный статус согласования для таблицы заказов
type OrderApprovalStatus string

const (
	OrderApprovalNone     OrderApprovalStatus = "none"
	OrderApprovalPending  OrderApprovalStatus = "pending"
	OrderApprovalApproved OrderApprovalStatus = "approved"
	OrderApprovalRejected OrderApprovalStatus = "rejected"
)

type OrderWithApproval struct {
	Order
	OrderTotal     *string             `json:"order_total"`
	ApprovalStatus OrderApprovalStatus `json:"approval_status"`
}

// ApproverUser — кандидат в согласующие для выпадающего списка
type ApproverUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}
