package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xela07ax/po-approvals/internal/approval"
	"github.com/xela07ax/po-approvals/internal/domain"
)

// ApprovalCommands — изменения леджера
type ApprovalCommands interface {
	Request(ctx context.Context, rc approval.RequestContext, orderID string, hint domain.ApproverHint, notes string) (*domain.RequestResult, error)
	Decide(ctx context.Context, rc approval.RequestContext, orderID string, level int, approve bool, notes string) (*domain.DecisionResult, error)
	CanPlace(ctx context.Context, orderID string) (bool, string, error)
}

// ApprovalQueries — read-only проекции
type ApprovalQueries interface {
	Status(ctx context.Context, rc approval.RequestContext, orderID string) (*domain.StatusView, error)
	ListPendingForUser(ctx context.Context, rc approval.RequestContext) ([]domain.PendingOrder, error)
	ListPendingAnyApprover(ctx context.Context) ([]domain.PendingOrder, error)
	ListOrdersWithApprovalStatus(ctx context.Context) ([]domain.OrderWithApproval, error)
	ListEligibleApprovers(ctx context.Context, rc approval.RequestContext, highValueOnly bool) ([]domain.ApproverUser, error)
}

type ApprovalHandler struct {
	commands ApprovalCommands
	queries  ApprovalQueries
	logger   *zap.Logger
}

func NewApprovalHandler(c ApprovalCommands, q ApprovalQueries, logger *zap.Logger) *ApprovalHandler {
	return &ApprovalHandler{commands: c, queries: q, logger: logger.Named("approval-api")}
}

// approverID принимает и строку, и число: фронтенд шлет pk пользователя как есть
type approverID string

func (a *approverID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*a = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = approverID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*a = approverID(n.String())
	return nil
}

type RequestApprovalBody struct {
	ApproverID approverID `json:"approver_id"`
	Notes      string     `json:"notes"`
}

type DecisionBody struct {
	Notes string `json:"notes"`
	Level int    `json:"level"` // 0 — текущий pending-уровень
}

type requestResponse struct {
	Success           bool    `json:"success"`
	ApprovalLevel     int     `json:"approval_level"`
	RequestedApprover *string `json:"requested_approver"`
	EmailSent         bool    `json:"email_sent"`
	TeamsSent         bool    `json:"teams_sent"`
	Message           string  `json:"message"`
}

type approveResponse struct {
	Success         bool   `json:"success"`
	ApprovalLevel   int    `json:"approval_level"`
	ApprovalCount   int    `json:"approval_count"`
	TotalRequired   int    `json:"total_required"`
	IsFullyApproved bool   `json:"fully_approved"`
	CanPlaceOrder   bool   `json:"can_place_order"`
	Message         string `json:"message"`
}

type rejectResponse struct {
	Success         bool   `json:"success"`
	RejectionLevel  int    `json:"rejection_level"`
	ApprovalCount   int    `json:"approval_count"`
	TotalRequired   int    `json:"total_required"`
	IsFullyApproved bool   `json:"fully_approved"`
	CanReRequest    bool   `json:"can_re_request"`
	Message         string `json:"message"`
}

type placementResponse struct {
	CanPlace bool   `json:"can_place"`
	Reason   string `json:"reason"`
}

func (h *ApprovalHandler) Status(w http.ResponseWriter, r *http.Request) {
	rc, ok := h.viewer(w, r)
	if !ok {
		return
	}
	view, err := h.queries.Status(r.Context(), rc, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *ApprovalHandler) Placement(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.viewer(w, r); !ok {
		return
	}
	allowed, reason, err := h.commands.CanPlace(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, placementResponse{CanPlace: allowed, Reason: reason})
}

func (h *ApprovalHandler) Request(w http.ResponseWriter, r *http.Request) {
	rc, ok := h.actor(w, r)
	if !ok {
		return
	}
	var body RequestApprovalBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	var hint domain.ApproverHint
	switch kind, id := domain.ParseApproverHint(string(body.ApproverID)); kind {
	case domain.HintSpecificUser:
		hint = domain.SpecificUser(domain.UserRef{ID: id})
	case domain.HintChannelBroadcast:
		hint = domain.ChannelBroadcast()
	default:
		hint = domain.AnyApprover()
	}

	res, err := h.commands.Request(r.Context(), rc, chi.URLParam(r, "id"), hint, strings.TrimSpace(body.Notes))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, requestResponse{
		Success:           true,
		ApprovalLevel:     res.Level,
		RequestedApprover: res.RequestedApprover,
		EmailSent:         res.EmailSent,
		TeamsSent:         res.TeamsSent,
		Message:           "Approval requested successfully",
	})
}

func (h *ApprovalHandler) Approve(w http.ResponseWriter, r *http.Request) {
	res, ok := h.decide(w, r, true)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, approveResponse{
		Success:         true,
		ApprovalLevel:   res.Level,
		ApprovalCount:   res.ApprovedCount,
		TotalRequired:   res.TotalRequired,
		IsFullyApproved: res.IsFullyApproved,
		CanPlaceOrder:   res.CanPlaceOrder,
		Message:         "Approval granted",
	})
}

func (h *ApprovalHandler) Reject(w http.ResponseWriter, r *http.Request) {
	res, ok := h.decide(w, r, false)
	if !ok {
		return
	}
	msg := "Approval rejected."
	if res.CanReRequest {
		msg += " A new approval can be requested."
	}
	writeJSON(w, http.StatusOK, rejectResponse{
		Success:         true,
		RejectionLevel:  res.Level,
		ApprovalCount:   res.ApprovedCount,
		TotalRequired:   res.TotalRequired,
		IsFullyApproved: res.IsFullyApproved,
		CanReRequest:    res.CanReRequest,
		Message:         msg,
	})
}

func (h *ApprovalHandler) decide(w http.ResponseWriter, r *http.Request, approve bool) (*domain.DecisionResult, bool) {
	rc, ok := h.actor(w, r)
	if !ok {
		return nil, false
	}
	var body DecisionBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, h.logger, r, err)
		return nil, false
	}
	res, err := h.commands.Decide(r.Context(), rc, chi.URLParam(r, "id"), body.Level, approve, strings.TrimSpace(body.Notes))
	if err != nil {
		writeError(w, h.logger, r, err)
		return nil, false
	}
	return res, true
}

func (h *ApprovalHandler) PendingForUser(w http.ResponseWriter, r *http.Request) {
	rc, ok := h.viewer(w, r)
	if !ok {
		return
	}
	items, err := h.queries.ListPendingForUser(r.Context(), rc)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeList(w, items)
}

func (h *ApprovalHandler) PendingAny(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.viewer(w, r); !ok {
		return
	}
	items, err := h.queries.ListPendingAnyApprover(r.Context())
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeList(w, items)
}

func (h *ApprovalHandler) Orders(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.viewer(w, r); !ok {
		return
	}
	items, err := h.queries.ListOrdersWithApprovalStatus(r.Context())
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeList(w, items)
}

func (h *ApprovalHandler) Approvers(w http.ResponseWriter, r *http.Request) {
	rc, ok := h.actor(w, r)
	if !ok {
		return
	}
	highValue := strings.EqualFold(r.URL.Query().Get("is_high_value"), "true")
	items, err := h.queries.ListEligibleApprovers(r.Context(), rc, highValue)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeList(w, items)
}

func (h *ApprovalHandler) actor(w http.ResponseWriter, r *http.Request) (approval.RequestContext, bool) {
	rc, ok := requestContext(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "Unauthorized"})
	}
	return rc, ok
}

// viewer — чтение доступно только с правом просмотра заказов
func (h *ApprovalHandler) viewer(w http.ResponseWriter, r *http.Request) (approval.RequestContext, bool) {
	rc, ok := h.actor(w, r)
	if !ok {
		return rc, false
	}
	if !rc.Actor.HasScope(domain.ScopeOrderView) {
		writeJSON(w, http.StatusForbidden, errorBody{Error: approval.ReasonPermissionDenied})
		return rc, false
	}
	return rc, true
}
