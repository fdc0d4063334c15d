package domain

import (
	"errors"
	"strings"
	"time"
)

// Статусы State Machine
type ApprovalStatus string

const (
	StatusPending  ApprovalStatus = "pending"
	StatusApproved ApprovalStatus = "approved"
	StatusRejected ApprovalStatus = "rejected"
)

var (
	ErrInvalidTransition = errors.New("invalid approval status transition")
	ErrAlreadyProcessed  = errors.New("approval request already processed")
)

// TeamsChannelHint — значение approver_id, которым фронтенд выбирает рассылку в канал.
const TeamsChannelHint = "teams_channel"

// HintKind — тег варианта ApproverHint
type HintKind string

const (
	HintAnyApprover      HintKind = "any"
	HintSpecificUser     HintKind = "user"
	HintChannelBroadcast HintKind = "teams_channel"
)

// ApproverHint — подсказка, кого уведомить. На право принять решение не влияет.
type ApproverHint struct {
	Kind HintKind `json:"kind"`
	User *UserRef `json:"user,omitempty"`
}

func AnyApprover() ApproverHint { return ApproverHint{Kind: HintAnyApprover} }

func SpecificUser(u UserRef) ApproverHint { return ApproverHint{Kind: HintSpecificUser, User: &u} }

func ChannelBroadcast() ApproverHint { return ApproverHint{Kind: HintChannelBroadcast} }

// IsChannel true, если запрос уходит в Teams-канал
func (h ApproverHint) IsChannel() bool { return h.Kind == HintChannelBroadcast }

// ParseApproverHint разбирает approver_id из тела запроса.
// Для конкретного пользователя возвращает его id: имя подтягивает вызывающий из директории.
func ParseApproverHint(raw string) (HintKind, string) {
	raw = strings.TrimSpace(raw)
	switch raw {
	case "":
		return HintAnyApprover, ""
	case TeamsChannelHint:
		return HintChannelBroadcast, ""
	}
	return HintSpecificUser, raw
}

// Label — человекочитаемое имя адресата для ответа API
func (h ApproverHint) Label() string {
	switch h.Kind {
	case HintSpecificUser:
		if h.User != nil {
			return h.User.DisplayName()
		}
	case HintChannelBroadcast:
		return "Teams Channel"
	}
	return ""
}

// ApprovalRecord — одна попытка согласования на уровне (order, level, attempt).
// История только дописывается: повторный запрос создает новую запись.
type ApprovalRecord struct {
	ID                string         `json:"id"`
	OrderID           string         `json:"order_id"`
	Level             int            `json:"level"`
	Status            ApprovalStatus `json:"status"`
	RequestedBy       UserRef        `json:"requested_by"`
	RequestedApprover ApproverHint   `json:"requested_approver"`
	ActualApprover    *UserRef       `json:"actual_approver,omitempty"`

	Notes         string `json:"notes,omitempty"`          // заметки при запросе
	DecisionNotes string `json:"decision_notes,omitempty"` // заметки при решении

	RequestedAt time.Time  `json:"requested_at"`
	DecidedAt   *time.Time `json:"decided_at,omitempty"`
}

// CanTransitionTo проверяет правила конечного автомата
func (a *ApprovalRecord) CanTransitionTo(next ApprovalStatus) error {
	if a.Status != StatusPending {
		return ErrAlreadyProcessed
	}
	if next == StatusPending {
		return ErrInvalidTransition
	}
	return nil
}

// Decision — терминальное решение по pending-записи
type Decision struct {
	Status    ApprovalStatus
	Approver  UserRef
	Notes     string
	DecidedAt time.Time
}

// Apply переводит запись в терминальный статус
func (a *ApprovalRecord) Apply(d Decision) error {
	if err := a.CanTransitionTo(d.Status); err != nil {
		return err
	}
	approver := d.Approver
	decidedAt := d.DecidedAt
	a.Status = d.Status
	a.ActualApprover = &approver
	a.DecisionNotes = d.Notes
	a.DecidedAt = &decidedAt
	return nil
}
