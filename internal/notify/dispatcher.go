package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/xela07ax/po-approvals/internal/approval"
	"github.com/xela07ax/po-approvals/internal/domain"
)

const (
	ChannelEmail = "email"
	ChannelTeams = "teams"
)

// UserLookup — откуда берем адрес получателя
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
}

// EmailSink — очередь почтовых заданий
type EmailSink interface {
	Enqueue(ctx context.Context, job EmailJob) error
}

type Settings struct {
	SendEmail bool
	BaseURL   string
}

// Dispatcher рассылает уведомления о запросах и решениях.
// Реализует approval.Notifier: ошибки доставки только логируются и считаются.
type Dispatcher struct {
	users    UserLookup
	email    EmailSink
	teams    Sender // nil, если вебхук не настроен
	settings Settings
	failures *prometheus.CounterVec
	logger   *zap.Logger
	clock    func() time.Time
}

var _ approval.Notifier = (*Dispatcher)(nil)

func NewDispatcher(users UserLookup, email EmailSink, teams Sender, s Settings, failures *prometheus.CounterVec, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		users:    users,
		email:    email,
		teams:    teams,
		settings: s,
		failures: failures,
		logger:   logger.Named("notify"),
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

func (d *Dispatcher) Notify(ctx context.Context, order *domain.Order, rec domain.ApprovalRecord) approval.NotifyResult {
	var res approval.NotifyResult
	orderURL := d.orderURL(order)

	switch rec.RequestedApprover.Kind {
	case domain.HintSpecificUser:
		if rec.RequestedApprover.User == nil || !d.settings.SendEmail || d.email == nil {
			return res
		}
		approver := d.recipient(ctx, rec.RequestedApprover.User.ID)
		if approver == nil {
			return res
		}
		job := EmailJob{
			Kind:      EmailKindRequest,
			To:        approver.Email,
			ToName:    approver.DisplayName(),
			Subject:   fmt.Sprintf("[InvenTree] Approval Required: %s", order.Reference),
			Body:      requestBody(order, rec, approver, orderURL),
			OrderID:   order.ID,
			RecordID:  rec.ID,
			CreatedAt: d.clock(),
		}
		res.EmailSent = d.enqueue(ctx, job)

	case domain.HintChannelBroadcast:
		res.TeamsSent = d.sendTeams(ctx, order, rec, orderURL)
	}
	return res
}

func (d *Dispatcher) NotifyDecision(ctx context.Context, order *domain.Order, rec domain.ApprovalRecord) bool {
	if !d.settings.SendEmail || d.email == nil || rec.Status == domain.StatusPending {
		return false
	}
	requester := d.recipient(ctx, rec.RequestedBy.ID)
	if requester == nil {
		return false
	}

	decision := "Approved"
	if rec.Status == domain.StatusRejected {
		decision = "Rejected"
	}
	job := EmailJob{
		Kind:      EmailKindDecision,
		To:        requester.Email,
		ToName:    requester.DisplayName(),
		Subject:   fmt.Sprintf("[InvenTree] PO %s - %s", order.Reference, decision),
		Body:      decisionBody(order, rec, requester, decision, d.orderURL(order)),
		OrderID:   order.ID,
		RecordID:  rec.ID,
		CreatedAt: d.clock(),
	}
	return d.enqueue(ctx, job)
}

// recipient — активный пользователь с адресом, иначе nil
func (d *Dispatcher) recipient(ctx context.Context, userID string) *domain.User {
	if userID == "" {
		return nil
	}
	u, err := d.users.GetUser(ctx, userID)
	if err != nil {
		d.logger.Warn("recipient lookup failed", zap.String("user_id", userID), zap.Error(err))
		d.fail(ChannelEmail)
		return nil
	}
	if u == nil || u.Email == "" {
		d.logger.Debug("recipient has no email, skipping", zap.String("user_id", userID))
		return nil
	}
	return u
}

func (d *Dispatcher) enqueue(ctx context.Context, job EmailJob) bool {
	if err := d.email.Enqueue(ctx, job); err != nil {
		d.logger.Error("failed to queue email",
			zap.String("order_id", job.OrderID),
			zap.String("kind", job.Kind),
			zap.Error(err),
		)
		d.fail(ChannelEmail)
		return false
	}
	d.logger.Info("email queued",
		zap.String("order_id", job.OrderID),
		zap.String("kind", job.Kind),
		zap.String("to", job.To),
	)
	return true
}

func (d *Dispatcher) sendTeams(ctx context.Context, order *domain.Order, rec domain.ApprovalRecord, orderURL string) bool {
	if d.teams == nil {
		d.logger.Warn("teams webhook URL not configured", zap.String("order_id", order.ID))
		return false
	}
	payload, err := BuildApprovalCard(order, rec, orderURL)
	if err != nil {
		d.logger.Error("failed to build teams card", zap.Error(err))
		d.fail(ChannelTeams)
		return false
	}
	if err := d.teams.Send(ctx, payload); err != nil {
		d.logger.Error("teams notification failed", zap.String("order_id", order.ID), zap.Error(err))
		d.fail(ChannelTeams)
		return false
	}
	d.logger.Info("teams notification sent", zap.String("order_id", order.ID))
	return true
}

func (d *Dispatcher) fail(channel string) {
	if d.failures != nil {
		d.failures.WithLabelValues(channel).Inc()
	}
}

func (d *Dispatcher) orderURL(order *domain.Order) string {
	return d.settings.BaseURL + fmt.Sprintf(approval.PanelPath, order.ID)
}

func orderDetails(b *strings.Builder, order *domain.Order) {
	supplier := "N/A"
	if order.SupplierName != "" {
		supplier = order.SupplierName
	}
	total := "N/A"
	if t := order.FormattedTotal(); t != nil {
		total = *t
	}
	fmt.Fprintf(b, "Order Details:\n")
	fmt.Fprintf(b, "- Reference: %s\n", order.Reference)
	fmt.Fprintf(b, "- Supplier: %s\n", supplier)
	fmt.Fprintf(b, "- Total Value: %s\n", total)
}

func requestBody(order *domain.Order, rec domain.ApprovalRecord, approver *domain.User, orderURL string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", approver.DisplayName())
	fmt.Fprintf(&b, "%s has requested your approval for Purchase Order %s.\n\n", rec.RequestedBy.DisplayName(), order.Reference)
	orderDetails(&b, order)
	if rec.Notes != "" {
		fmt.Fprintf(&b, "\nNotes: %s\n", rec.Notes)
	}
	fmt.Fprintf(&b, "\nView and approve: %s\n", orderURL)
	return b.String()
}

func decisionBody(order *domain.Order, rec domain.ApprovalRecord, requester *domain.User, decision, orderURL string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", requester.DisplayName())
	fmt.Fprintf(&b, "Your approval request for Purchase Order %s has been %s.\n\n", order.Reference, strings.ToLower(decision))
	orderDetails(&b, order)
	fmt.Fprintf(&b, "- Decision: %s\n", decision)
	if rec.ActualApprover != nil {
		fmt.Fprintf(&b, "- Decided by: %s\n", rec.ActualApprover.DisplayName())
	}
	if rec.DecisionNotes != "" {
		fmt.Fprintf(&b, "\nNotes: %s\n", rec.DecisionNotes)
	}
	fmt.Fprintf(&b, "\nView order: %s\n", orderURL)
	return b.String()
}
