package approval

import (
	"context"
	"fmt"

	"github.com/xela07ax/po-approvals/internal/domain"
)

// SeniorDirectory — внешний источник: кто из пользователей senior-согласующий.
type SeniorDirectory interface {
	IsSenior(ctx context.Context, userID string) (bool, error)
}

// Verdict — решение проверки с причиной для пользователя и видом ошибки
type Verdict struct {
	Allowed bool
	Reason  string
	Kind    error
}

func allow() Verdict { return Verdict{Allowed: true, Reason: "OK"} }

func deny(kind error, reason string) Verdict {
	return Verdict{Allowed: false, Reason: reason, Kind: kind}
}

// Err превращает отказ в ошибку таксономии
func (v Verdict) Err() error {
	if v.Allowed {
		return nil
	}
	return domain.Errorf(v.Kind, "%s", v.Reason)
}

// ReasonPtr — причина отказа для JSON (nil, если разрешено)
func (v Verdict) ReasonPtr() *string {
	if v.Allowed {
		return nil
	}
	r := v.Reason
	return &r
}

const (
	ReasonNoPending        = "No pending approval request"
	ReasonPendingExists    = "There is already a pending approval request"
	ReasonFullyApproved    = "Order is already fully approved"
	ReasonOrderNotPending  = "Order must be in PENDING status to request approval"
	ReasonSelfApproval     = "You cannot approve your own request"
	ReasonSeniorRequired   = "Only senior approvers can approve high-value orders"
	ReasonPermissionDenied = "Permission denied"
)

type EligibilityChecker struct {
	seniors SeniorDirectory
}

func NewEligibilityChecker(seniors SeniorDirectory) *EligibilityChecker {
	return &EligibilityChecker{seniors: seniors}
}

// CanRequest — может ли пользователь запросить согласование текущего уровня.
func (c *EligibilityChecker) CanRequest(order *domain.Order, state LedgerState, user *domain.User) Verdict {
	if !order.Status.AllowsApprovalRequest() {
		return deny(domain.ErrConflict, ReasonOrderNotPending)
	}
	level := state.CurrentLevel()
	if level == 0 {
		return deny(domain.ErrConflict, ReasonFullyApproved)
	}
	if state.Pending(level) != nil {
		return deny(domain.ErrConflict, ReasonPendingExists)
	}
	if !user.HasScope(domain.ScopeOrderChange) {
		return deny(domain.ErrAuthorization, ReasonPermissionDenied)
	}
	return allow()
}

// CanApprove — может ли пользователь принять решение по pending-записи уровня.
// Подсказка requested_approver здесь не участвует: она сужает рассылку, а не круг согласующих.
func (c *EligibilityChecker) CanApprove(ctx context.Context, state LedgerState, level int, user *domain.User) (Verdict, error) {
	pending := state.Pending(level)
	if pending == nil {
		return deny(domain.ErrNotFound, ReasonNoPending), nil
	}
	// 1. Свой запрос согласовать нельзя при любой роли
	if pending.RequestedBy.ID == user.ID {
		return deny(domain.ErrAuthorization, ReasonSelfApproval), nil
	}
	if !user.HasScope(domain.ScopeOrderChange) {
		return deny(domain.ErrAuthorization, ReasonPermissionDenied), nil
	}
	// 2. Senior-уровень high-value заказа
	if state.Policy.SeniorOnly(level) {
		senior, err := c.seniors.IsSenior(ctx, user.ID)
		if err != nil {
			return Verdict{}, fmt.Errorf("senior directory lookup failed: %w", err)
		}
		if !senior {
			return deny(domain.ErrAuthorization, ReasonSeniorRequired), nil
		}
	}
	return allow(), nil
}
