package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/po-approvals/internal/audit"
	"github.com/xela07ax/po-approvals/internal/domain"
)

const ReasonApprovalRequired = "Purchase Order requires approval before it can be placed"

// Settings — рабочие параметры координатора из конфигурации
type Settings struct {
	Enabled       bool
	WriteTimeout  time.Duration
	NotifyTimeout time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = 5 * time.Second
	}
	if s.NotifyTimeout <= 0 {
		s.NotifyTimeout = 10 * time.Second
	}
	return s
}

// Coordinator — единственная точка входа для изменений леджера.
// Проверка и запись идут в одной per-order транзакции, побочные эффекты после коммита.
type Coordinator struct {
	orders   OrderSource
	ledger   Ledger
	users    UserDirectory
	resolver *PolicyResolver
	checker  *EligibilityChecker

	notifier Notifier
	events   EventPublisher
	cache    SnapshotCache
	auditor  audit.Auditor
	metrics  *Metrics
	logger   *zap.Logger

	settings Settings
	clock    func() time.Time
	newID    func() string
}

type Option func(*Coordinator)

func WithNotifier(n Notifier) Option        { return func(c *Coordinator) { c.notifier = n } }
func WithEvents(p EventPublisher) Option    { return func(c *Coordinator) { c.events = p } }
func WithCache(sc SnapshotCache) Option     { return func(c *Coordinator) { c.cache = sc } }
func WithAuditor(a audit.Auditor) Option    { return func(c *Coordinator) { c.auditor = a } }
func WithMetrics(m *Metrics) Option         { return func(c *Coordinator) { c.metrics = m } }
func WithSettings(s Settings) Option        { return func(c *Coordinator) { c.settings = s.withDefaults() } }
func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.clock = now } }
func WithIDs(gen func() string) Option      { return func(c *Coordinator) { c.newID = gen } }

func NewCoordinator(
	orders OrderSource,
	ledger Ledger,
	users UserDirectory,
	resolver *PolicyResolver,
	checker *EligibilityChecker,
	logger *zap.Logger,
	opts ...Option,
) *Coordinator {
	c := &Coordinator{
		orders:   orders,
		ledger:   ledger,
		users:    users,
		resolver: resolver,
		checker:  checker,
		notifier: nopNotifier{},
		events:   nopPublisher{},
		cache:    nopCache{},
		auditor:  audit.Nop{},
		metrics:  NewMetrics(nil),
		logger:   logger.Named("coordinator"),
		settings: Settings{Enabled: true}.withDefaults(),
		clock:    func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request создает pending-запись на текущем уровне заказа и уведомляет адресата.
func (c *Coordinator) Request(ctx context.Context, rc RequestContext, orderID string, hint domain.ApproverHint, notes string) (res *domain.RequestResult, err error) {
	start := c.clock()
	defer func() {
		outcome := Outcome(err)
		c.metrics.RequestsTotal.WithLabelValues(outcome).Inc()
		c.metrics.OperationDuration.WithLabelValues("request", outcome).Observe(time.Since(start).Seconds())
	}()

	if err := rc.Validate(); err != nil {
		return nil, err
	}
	if orderID == "" {
		return nil, domain.Errorf(domain.ErrValidation, "Order ID is required")
	}

	// 1. Адресат уведомления должен существовать
	hint, err = c.resolveHint(ctx, hint)
	if err != nil {
		return nil, err
	}

	order, err := c.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	// 2. Проверка и запись под блокировкой заказа
	var rec domain.ApprovalRecord
	err = c.inOrderTx(ctx, orderID, func(ctx context.Context, tx LedgerTx) error {
		snap, err := tx.Snapshot(ctx)
		if err != nil {
			return err
		}
		policy := c.resolver.Effective(order, snap.Policy)
		state := NewLedgerState(policy, snap.Records)

		level := state.CurrentLevel()
		if level == 0 {
			return domain.Errorf(domain.ErrConflict, ReasonFullyApproved)
		}
		active, err := tx.ActiveRecord(ctx, level)
		if err != nil {
			return err
		}
		if active != nil {
			return domain.Errorf(domain.ErrConflict, ReasonPendingExists)
		}
		if v := c.checker.CanRequest(order, state, &rc.Actor); !v.Allowed {
			return v.Err()
		}

		// Политика фиксируется первым успешным запросом
		if _, err := tx.FreezePolicy(ctx, policy); err != nil {
			return err
		}

		rec = domain.ApprovalRecord{
			ID:                c.newID(),
			OrderID:           orderID,
			Level:             level,
			Status:            domain.StatusPending,
			RequestedBy:       rc.Actor.Ref(),
			RequestedApprover: hint,
			Notes:             notes,
			RequestedAt:       c.clock(),
		}
		return tx.Append(ctx, rec)
	})
	if err != nil {
		err = c.mapLedgerErr(err)
		c.audit(rc, orderID, 0, audit.ActionRequested, "", start, err, nil)
		c.logger.Info("approval request refused",
			zap.String("order_id", orderID),
			zap.String("actor_id", rc.Actor.ID),
			zap.String("trace_id", rc.TraceID),
			zap.Error(err),
		)
		return nil, err
	}

	// 3. После коммита: кэш, журнал, шина, уведомление
	c.afterCommit(ctx, rc, rec, domain.EventApprovalRequested)
	c.audit(rc, orderID, rec.Level, audit.ActionRequested, rec.ID, start, nil, map[string]any{
		"requested_approver": string(hint.Kind),
		"notes":              notes,
	})

	sent := c.notify(ctx, order, rec)

	c.logger.Info("approval requested",
		zap.String("order_id", orderID),
		zap.Int("level", rec.Level),
		zap.String("actor_id", rc.Actor.ID),
		zap.String("hint", string(hint.Kind)),
		zap.Bool("email_sent", sent.EmailSent),
		zap.Bool("teams_sent", sent.TeamsSent),
	)

	res = &domain.RequestResult{
		Level:     rec.Level,
		EmailSent: sent.EmailSent,
		TeamsSent: sent.TeamsSent,
		Record:    rec,
	}
	if label := hint.Label(); label != "" {
		res.RequestedApprover = &label
	}
	return res, nil
}

// Decide разрешает pending-запись уровня. level == 0 — текущий pending-уровень.
func (c *Coordinator) Decide(ctx context.Context, rc RequestContext, orderID string, level int, approve bool, notes string) (res *domain.DecisionResult, err error) {
	start := c.clock()
	decision := domain.StatusRejected
	action := audit.ActionRejected
	if approve {
		decision = domain.StatusApproved
		action = audit.ActionApproved
	}
	defer func() {
		outcome := Outcome(err)
		c.metrics.DecisionsTotal.WithLabelValues(string(decision), outcome).Inc()
		c.metrics.OperationDuration.WithLabelValues("decide", outcome).Observe(time.Since(start).Seconds())
	}()

	if err := rc.Validate(); err != nil {
		return nil, err
	}
	if orderID == "" {
		return nil, domain.Errorf(domain.ErrValidation, "Order ID is required")
	}
	if level < 0 {
		return nil, domain.Errorf(domain.ErrValidation, "Invalid approval level")
	}

	order, err := c.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	var updated domain.ApprovalRecord
	err = c.inOrderTx(ctx, orderID, func(ctx context.Context, tx LedgerTx) error {
		snap, err := tx.Snapshot(ctx)
		if err != nil {
			return err
		}
		if snap.Policy == nil {
			return domain.Errorf(domain.ErrNotFound, ReasonNoPending)
		}
		state := NewLedgerState(*snap.Policy, snap.Records)

		target := level
		if target == 0 {
			if p := state.PendingRecord(); p != nil {
				target = p.Level
			}
		}
		pending, err := tx.ActiveRecord(ctx, target)
		if err != nil {
			return err
		}
		if pending == nil {
			return domain.Errorf(domain.ErrNotFound, ReasonNoPending)
		}

		v, err := c.checker.CanApprove(ctx, state, target, &rc.Actor)
		if err != nil {
			return err
		}
		if !v.Allowed {
			return v.Err()
		}

		d := domain.Decision{
			Status:    decision,
			Approver:  rc.Actor.Ref(),
			Notes:     notes,
			DecidedAt: c.clock(),
		}
		if err := tx.Resolve(ctx, pending.ID, d); err != nil {
			return err
		}

		updated = *pending
		if err := updated.Apply(d); err != nil {
			return err
		}
		after := state.WithRecord(updated)

		res = &domain.DecisionResult{
			Level:           target,
			Approved:        approve,
			ApprovedCount:   after.ApprovedCount(),
			TotalRequired:   after.Policy.RequiredLevels,
			IsFullyApproved: after.FullyApproved(),
			CanPlaceOrder:   approve && after.FullyApproved(),
			CanReRequest:    !approve && order.Status.AllowsApprovalRequest(),
			Record:          updated,
		}
		return nil
	})
	if err != nil {
		err = c.mapLedgerErr(err)
		c.audit(rc, orderID, level, action, "", start, err, nil)
		c.logger.Info("approval decision refused",
			zap.String("order_id", orderID),
			zap.Int("level", level),
			zap.String("decision", string(decision)),
			zap.String("actor_id", rc.Actor.ID),
			zap.String("trace_id", rc.TraceID),
			zap.Error(err),
		)
		return nil, err
	}

	evType := domain.EventApprovalRejected
	if approve {
		evType = domain.EventApprovalApproved
	}
	c.afterCommit(ctx, rc, updated, evType)
	c.audit(rc, orderID, updated.Level, action, updated.ID, start, nil, map[string]any{"notes": notes})
	c.notifyDecision(ctx, order, updated)

	c.logger.Info("approval decided",
		zap.String("order_id", orderID),
		zap.Int("level", updated.Level),
		zap.String("decision", string(decision)),
		zap.String("actor_id", rc.Actor.ID),
		zap.Bool("fully_approved", res.IsFullyApproved),
	)
	return res, nil
}

// CanPlace — можно ли переводить заказ в placed. Читает леджер напрямую, минуя кэш.
func (c *Coordinator) CanPlace(ctx context.Context, orderID string) (bool, string, error) {
	if !c.settings.Enabled {
		return true, "Approvals are disabled", nil
	}
	if orderID == "" {
		return false, "", domain.Errorf(domain.ErrValidation, "Order ID is required")
	}
	order, err := c.orders.GetOrder(ctx, orderID)
	if err != nil {
		return false, "", err
	}
	snap, err := c.ledger.Snapshot(ctx, orderID)
	if err != nil {
		return false, "", fmt.Errorf("read ledger: %w", err)
	}
	if snap.Policy == nil {
		return false, ReasonApprovalRequired, nil
	}
	state := NewLedgerState(c.resolver.Effective(order, snap.Policy), snap.Records)
	if !state.FullyApproved() {
		return false, ReasonApprovalRequired, nil
	}
	return true, "OK", nil
}

func (c *Coordinator) resolveHint(ctx context.Context, hint domain.ApproverHint) (domain.ApproverHint, error) {
	switch hint.Kind {
	case "", domain.HintAnyApprover:
		return domain.AnyApprover(), nil
	case domain.HintChannelBroadcast:
		return hint, nil
	case domain.HintSpecificUser:
		if hint.User == nil || hint.User.ID == "" {
			return hint, domain.Errorf(domain.ErrValidation, "Invalid approver ID")
		}
		u, err := c.users.GetUser(ctx, hint.User.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return hint, domain.Errorf(domain.ErrValidation, "Invalid approver ID")
			}
			return hint, err
		}
		if !u.Active {
			return hint, domain.Errorf(domain.ErrValidation, "Invalid approver ID")
		}
		return domain.SpecificUser(u.Ref()), nil
	}
	return hint, domain.Errorf(domain.ErrValidation, "Invalid approver ID")
}

// inOrderTx — запись под таймаутом. Запись по таймауту — отказ без эффекта, ретраев нет.
func (c *Coordinator) inOrderTx(ctx context.Context, orderID string, fn func(ctx context.Context, tx LedgerTx) error) error {
	wctx, cancel := context.WithTimeout(ctx, c.settings.WriteTimeout)
	defer cancel()
	return c.ledger.InOrderTx(wctx, orderID, func(tx LedgerTx) error {
		return fn(wctx, tx)
	})
}

func (c *Coordinator) mapLedgerErr(err error) error {
	switch {
	case domain.KindOf(err) != nil:
		return err
	case errors.Is(err, ErrPendingExists):
		return domain.Errorf(domain.ErrConflict, ReasonPendingExists)
	case errors.Is(err, ErrNotPending):
		return domain.Errorf(domain.ErrNotFound, ReasonNoPending)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("approval write timed out: %w", err)
	}
	return err
}

func (c *Coordinator) afterCommit(ctx context.Context, rc RequestContext, rec domain.ApprovalRecord, evType string) {
	c.cache.Invalidate(ctx, rec.OrderID)

	ev := domain.ApprovalEvent{
		Type:     evType,
		OrderID:  rec.OrderID,
		RecordID: rec.ID,
		Level:    rec.Level,
		Status:   rec.Status,
		ActorID:  rc.Actor.ID,
		TraceID:  rc.TraceID,
		At:       c.clock(),
	}
	// Сбой шины не откатывает коммит
	if err := c.events.Publish(ctx, ev); err != nil {
		c.logger.Error("failed to publish approval event",
			zap.String("order_id", rec.OrderID),
			zap.String("type", evType),
			zap.Error(err),
		)
	}
}

func (c *Coordinator) audit(rc RequestContext, orderID string, level int, action, recordID string, start time.Time, err error, payload map[string]any) {
	ev := audit.AuditEvent{
		ID:         c.newID(),
		TraceID:    rc.TraceID,
		OrderID:    orderID,
		Level:      level,
		Action:     action,
		ActorID:    rc.Actor.ID,
		RecordID:   recordID,
		Payload:    payload,
		Outcome:    audit.OutcomeSuccess,
		Timestamp:  c.clock(),
		DurationMs: c.clock().Sub(start).Milliseconds(),
	}
	if err != nil {
		ev.Outcome = audit.OutcomeFailed
		if domain.KindOf(err) != nil {
			ev.Outcome = audit.OutcomeDenied
		}
		ev.Error = err.Error()
	}
	c.auditor.Log(ev)
}

// notify выполняется вне блокировки, со своим таймаутом и без права уронить запрос
func (c *Coordinator) notify(ctx context.Context, order *domain.Order, rec domain.ApprovalRecord) (res NotifyResult) {
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.settings.NotifyTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("notifier panicked", zap.Any("panic", r), zap.String("order_id", rec.OrderID))
			res = NotifyResult{}
		}
	}()
	return c.notifier.Notify(nctx, order, rec)
}

func (c *Coordinator) notifyDecision(ctx context.Context, order *domain.Order, rec domain.ApprovalRecord) {
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.settings.NotifyTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("notifier panicked", zap.Any("panic", r), zap.String("order_id", rec.OrderID))
		}
	}()
	c.notifier.NotifyDecision(nctx, order, rec)
}
