package approval

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/avast/retry-go/v5"
	"go.uber.org/zap"

	"github.com/xela07ax/po-approvals/internal/domain"
)

// PanelPath — страница заказа с панелью согласований во внешней системе
const PanelPath = "/web/purchasing/purchase-order/%s/po-approvals-panel"

// Projector — read-only проекции леджера. Блокировок не берет.
type Projector struct {
	orders   OrderSource
	ledger   LedgerReader
	users    UserDirectory
	seniors  SeniorDirectory
	resolver *PolicyResolver
	checker  *EligibilityChecker
	cache    SnapshotCache
	metrics  *Metrics
	logger   *zap.Logger

	baseURL    string
	retryDelay time.Duration
}

type ProjectorOption func(*Projector)

func WithProjectorCache(sc SnapshotCache) ProjectorOption {
	return func(p *Projector) { p.cache = sc }
}

func WithProjectorMetrics(m *Metrics) ProjectorOption {
	return func(p *Projector) { p.metrics = m }
}

// WithBaseURL — префикс абсолютных ссылок в списках ожидания
func WithBaseURL(u string) ProjectorOption {
	return func(p *Projector) { p.baseURL = u }
}

func WithRetryDelay(d time.Duration) ProjectorOption {
	return func(p *Projector) { p.retryDelay = d }
}

func NewProjector(
	orders OrderSource,
	ledger LedgerReader,
	users UserDirectory,
	seniors SeniorDirectory,
	resolver *PolicyResolver,
	checker *EligibilityChecker,
	logger *zap.Logger,
	opts ...ProjectorOption,
) *Projector {
	p := &Projector{
		orders:     orders,
		ledger:     ledger,
		users:      users,
		seniors:    seniors,
		resolver:   resolver,
		checker:    checker,
		cache:      nopCache{},
		metrics:    NewMetrics(nil),
		logger:     logger.Named("projector"),
		retryDelay: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Status — состояние согласования заказа глазами пользователя
func (p *Projector) Status(ctx context.Context, rc RequestContext, orderID string) (view *domain.StatusView, err error) {
	defer p.observe("status", time.Now(), &err)

	if err := rc.Validate(); err != nil {
		return nil, err
	}
	if orderID == "" {
		return nil, domain.Errorf(domain.ErrValidation, "Order ID is required")
	}

	var order *domain.Order
	if err := p.read(ctx, func() (e error) {
		order, e = p.orders.GetOrder(ctx, orderID)
		return e
	}); err != nil {
		return nil, err
	}

	snap, err := p.snapshot(ctx, orderID)
	if err != nil {
		return nil, err
	}
	state := NewLedgerState(p.resolver.Effective(order, snap.Policy), snap.Records)

	view = &domain.StatusView{
		OrderID:         order.ID,
		OrderReference:  order.Reference,
		OrderStatus:     order.Status,
		OrderTotal:      order.FormattedTotal(),
		ApprovedCount:   state.ApprovedCount(),
		TotalRequired:   state.Policy.RequiredLevels,
		IsFullyApproved: state.FullyApproved(),
		IsHighValue:     state.Policy.IsHighValue,
		Approvals:       state.Records,
	}

	canRequest := p.checker.CanRequest(order, state, &rc.Actor)
	view.CanRequestApproval = canRequest.Allowed
	view.CanRequestReason = canRequest.ReasonPtr()

	canApprove := deny(domain.ErrNotFound, ReasonNoPending)
	if pending := state.PendingRecord(); pending != nil {
		level := pending.Level
		view.HasPending = true
		view.PendingLevel = &level
		canApprove, err = p.checker.CanApprove(ctx, state, level, &rc.Actor)
		if err != nil {
			return nil, err
		}
	}
	view.UserCanApprove = canApprove.Allowed
	view.UserCanApproveReason = canApprove.ReasonPtr()

	return view, nil
}

// ListPendingForUser — открытые заказы, по которым пользователь может принять решение сейчас
func (p *Projector) ListPendingForUser(ctx context.Context, rc RequestContext) (items []domain.PendingOrder, err error) {
	defer p.observe("pending_for_user", time.Now(), &err)

	if err := rc.Validate(); err != nil {
		return nil, err
	}
	rows, err := p.pendingRows(ctx)
	if err != nil {
		return nil, err
	}

	items = make([]domain.PendingOrder, 0, len(rows))
	for _, r := range rows {
		v, err := p.checker.CanApprove(ctx, r.state, r.pending.Level, &rc.Actor)
		if err != nil {
			return nil, err
		}
		if v.Allowed {
			items = append(items, p.pendingItem(r))
		}
	}
	return items, nil
}

// ListPendingAnyApprover — pending-записи на уровнях, не закрытых под senior-согласующих
func (p *Projector) ListPendingAnyApprover(ctx context.Context) (items []domain.PendingOrder, err error) {
	defer p.observe("pending_any", time.Now(), &err)

	rows, err := p.pendingRows(ctx)
	if err != nil {
		return nil, err
	}
	items = make([]domain.PendingOrder, 0, len(rows))
	for _, r := range rows {
		if !r.state.Policy.SeniorOnly(r.pending.Level) {
			items = append(items, p.pendingItem(r))
		}
	}
	return items, nil
}

// ListOrdersWithApprovalStatus — все заказы со сводным статусом согласования
func (p *Projector) ListOrdersWithApprovalStatus(ctx context.Context) (items []domain.OrderWithApproval, err error) {
	defer p.observe("orders_with_status", time.Now(), &err)

	var orders []*domain.Order
	if err := p.read(ctx, func() (e error) {
		orders, e = p.orders.ListOrders(ctx)
		return e
	}); err != nil {
		return nil, err
	}

	snaps, err := p.snapshots(ctx, orders)
	if err != nil {
		return nil, err
	}

	items = make([]domain.OrderWithApproval, 0, len(orders))
	for _, o := range orders {
		status := domain.OrderApprovalNone
		if s, ok := snaps[o.ID]; ok {
			status = NewLedgerState(p.resolver.Effective(o, s.Policy), s.Records).DerivedStatus()
		}
		items = append(items, domain.OrderWithApproval{
			Order:          *o,
			OrderTotal:     o.FormattedTotal(),
			ApprovalStatus: status,
		})
	}
	return items, nil
}

// ListEligibleApprovers — активные пользователи с правом просмотра заказов, кроме самого вызывающего.
// highValueOnly оставляет только senior-согласующих.
func (p *Projector) ListEligibleApprovers(ctx context.Context, rc RequestContext, highValueOnly bool) (items []domain.ApproverUser, err error) {
	defer p.observe("eligible_approvers", time.Now(), &err)

	if err := rc.Validate(); err != nil {
		return nil, err
	}

	var users []*domain.User
	if err := p.read(ctx, func() (e error) {
		users, e = p.users.ListActiveUsers(ctx)
		return e
	}); err != nil {
		return nil, err
	}

	items = make([]domain.ApproverUser, 0, len(users))
	for _, u := range users {
		if u.ID == rc.Actor.ID || !u.Active || !u.HasScope(domain.ScopeOrderView) {
			continue
		}
		if highValueOnly {
			senior, err := p.seniors.IsSenior(ctx, u.ID)
			if err != nil {
				return nil, fmt.Errorf("senior directory lookup failed: %w", err)
			}
			if !senior {
				continue
			}
		}
		items = append(items, domain.ApproverUser{
			ID:       u.ID,
			Username: u.Username,
			FullName: u.FullName,
			Email:    u.Email,
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Username < items[j].Username })
	return items, nil
}

type pendingRow struct {
	order   *domain.Order
	state   LedgerState
	pending *domain.ApprovalRecord
}

func (p *Projector) pendingRows(ctx context.Context) ([]pendingRow, error) {
	var orders []*domain.Order
	if err := p.read(ctx, func() (e error) {
		orders, e = p.orders.ListOpenOrders(ctx)
		return e
	}); err != nil {
		return nil, err
	}

	snaps, err := p.snapshots(ctx, orders)
	if err != nil {
		return nil, err
	}

	rows := make([]pendingRow, 0)
	for _, o := range orders {
		s, ok := snaps[o.ID]
		if !ok || s.Policy == nil {
			continue
		}
		state := NewLedgerState(*s.Policy, s.Records)
		if pending := state.PendingRecord(); pending != nil {
			rows = append(rows, pendingRow{order: o, state: state, pending: pending})
		}
	}
	// Старые запросы первыми
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].pending.RequestedAt.Before(rows[j].pending.RequestedAt)
	})
	return rows, nil
}

func (p *Projector) pendingItem(r pendingRow) domain.PendingOrder {
	return domain.PendingOrder{
		OrderID:        r.order.ID,
		OrderReference: r.order.Reference,
		OrderTotal:     r.order.FormattedTotal(),
		Supplier:       r.order.SupplierPtr(),
		ApprovalLevel:  r.pending.Level,
		RequestedBy:    r.pending.RequestedBy.DisplayName(),
		RequestedAt:    r.pending.RequestedAt,
		IsHighValue:    r.state.Policy.IsHighValue,
		URL:            p.baseURL + fmt.Sprintf(PanelPath, r.order.ID),
	}
}

// snapshot: сначала кэш, затем леджер с одной повторной попыткой.
// Поколение берется до чтения леджера: запись, закоммиченная после него, не даст положить старый снимок.
func (p *Projector) snapshot(ctx context.Context, orderID string) (*Snapshot, error) {
	s, gen, ok := p.cache.Get(ctx, orderID)
	if ok {
		return s, nil
	}
	var snap *Snapshot
	if err := p.read(ctx, func() (e error) {
		snap, e = p.ledger.Snapshot(ctx, orderID)
		return e
	}); err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	p.cache.Set(ctx, snap, gen)
	return snap, nil
}

func (p *Projector) snapshots(ctx context.Context, orders []*domain.Order) (map[string]*Snapshot, error) {
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	if len(ids) == 0 {
		return map[string]*Snapshot{}, nil
	}
	var snaps map[string]*Snapshot
	if err := p.read(ctx, func() (e error) {
		snaps, e = p.ledger.Snapshots(ctx, ids)
		return e
	}); err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	return snaps, nil
}

// read — чтения идемпотентны, поэтому сбой хранилища повторяем один раз.
// Ошибки таксономии (не найдено и т.п.) не повторяем.
func (p *Projector) read(ctx context.Context, fn func() error) error {
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(2),
		retry.Delay(p.retryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return domain.KindOf(err) == nil
		}),
	)
	err := r.Do(fn)
	if err != nil && domain.KindOf(err) == nil {
		p.logger.Warn("storage read failed", zap.Error(err))
	}
	return err
}

func (p *Projector) observe(op string, start time.Time, err *error) {
	p.metrics.OperationDuration.WithLabelValues(op, Outcome(*err)).Observe(time.Since(start).Seconds())
}
