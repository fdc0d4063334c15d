package approval_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xela07ax/po-approvals/internal/approval"
	"github.com/xela07ax/po-approvals/internal/approval/memledger"
	"github.com/xela07ax/po-approvals/internal/audit"
	"github.com/xela07ax/po-approvals/internal/domain"
)

var threshold = decimal.NewFromInt(10000)

type fakeOrders struct {
	mu     sync.Mutex
	orders map[string]*domain.Order
}

func newFakeOrders(orders ...*domain.Order) *fakeOrders {
	f := &fakeOrders{orders: map[string]*domain.Order{}}
	for _, o := range orders {
		f.orders[o.ID] = o
	}
	return f
}

func (f *fakeOrders) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, domain.Errorf(domain.ErrNotFound, "Purchase order %s not found", id)
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrders) ListOpenOrders(ctx context.Context) ([]*domain.Order, error) {
	all, _ := f.ListOrders(ctx)
	out := make([]*domain.Order, 0, len(all))
	for _, o := range all {
		if o.Status.IsOpen() {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeOrders) ListOrders(_ context.Context) ([]*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*domain.Order, 0, len(f.orders))
	for _, id := range sortedKeys(f.orders) {
		cp := *f.orders[id]
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeOrders) set(o *domain.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[o.ID] = o
}

func sortedKeys(m map[string]*domain.Order) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type fakeUsers struct {
	users  map[string]*domain.User
	order  []string
	senior map[string]bool
}

func newFakeUsers(users ...*domain.User) *fakeUsers {
	f := &fakeUsers{users: map[string]*domain.User{}, senior: map[string]bool{}}
	for _, u := range users {
		f.users[u.ID] = u
		f.order = append(f.order, u.ID)
	}
	return f
}

func (f *fakeUsers) GetUser(_ context.Context, id string) (*domain.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, domain.Errorf(domain.ErrNotFound, "User %s not found", id)
	}
	return u, nil
}

func (f *fakeUsers) ListActiveUsers(_ context.Context) ([]*domain.User, error) {
	out := make([]*domain.User, 0, len(f.order))
	for _, id := range f.order {
		if f.users[id].Active {
			out = append(out, f.users[id])
		}
	}
	return out, nil
}

func (f *fakeUsers) IsSenior(_ context.Context, userID string) (bool, error) {
	return f.senior[userID], nil
}

type recordingNotifier struct {
	mu        sync.Mutex
	notified  []domain.ApprovalRecord
	decisions []domain.ApprovalRecord
	result    approval.NotifyResult
	panics    bool
}

func (n *recordingNotifier) Notify(_ context.Context, _ *domain.Order, rec domain.ApprovalRecord) approval.NotifyResult {
	if n.panics {
		panic("webhook exploded")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notified = append(n.notified, rec)
	return n.result
}

func (n *recordingNotifier) NotifyDecision(_ context.Context, _ *domain.Order, rec domain.ApprovalRecord) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.decisions = append(n.decisions, rec)
	return true
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.ApprovalEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev domain.ApprovalEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

type recordingAuditor struct {
	mu     sync.Mutex
	events []audit.AuditEvent
}

func (a *recordingAuditor) Log(ev audit.AuditEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
}

func user(id, name string, scopes ...string) *domain.User {
	if len(scopes) == 0 {
		scopes = []string{domain.ScopeOrderView, domain.ScopeOrderChange}
	}
	set := make(map[string]bool, len(scopes))
	for _, sc := range scopes {
		set[sc] = true
	}
	return &domain.User{ID: id, Username: name, FullName: name, Email: name + "@example.com", Active: true, Scopes: set}
}

func order(id string, total int64) *domain.Order {
	return &domain.Order{
		ID:          id,
		Reference:   "PO-" + id,
		TotalValue:  decimal.NewFromInt(total),
		HasTotal:    true,
		Currency:    "USD",
		Status:      domain.OrderPending,
		RequesterID: "u-alice",
	}
}

type harness struct {
	orders    *fakeOrders
	users     *fakeUsers
	ledger    *memledger.MemoryLedger
	notifier  *recordingNotifier
	events    *recordingPublisher
	auditor   *recordingAuditor
	coord     *approval.Coordinator
	projector *approval.Projector

	alice, bob, carol, viewer *domain.User
}

func newHarness(orders ...*domain.Order) *harness {
	h := &harness{
		orders:   newFakeOrders(orders...),
		ledger:   memledger.New(),
		notifier: &recordingNotifier{},
		events:   &recordingPublisher{},
		auditor:  &recordingAuditor{},
		alice:    user("u-alice", "alice"),
		bob:      user("u-bob", "bob"),
		carol:    user("u-carol", "carol"),
		viewer:   user("u-viewer", "viewer", domain.ScopeOrderView),
	}
	h.users = newFakeUsers(h.alice, h.bob, h.carol, h.viewer)
	h.users.senior["u-carol"] = true

	resolver := approval.NewPolicyResolver(threshold)
	checker := approval.NewEligibilityChecker(h.users)

	tick := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	var clockMu sync.Mutex
	clock := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		tick = tick.Add(time.Second)
		return tick
	}

	h.coord = approval.NewCoordinator(h.orders, h.ledger, h.users, resolver, checker, zap.NewNop(),
		approval.WithNotifier(h.notifier),
		approval.WithEvents(h.events),
		approval.WithAuditor(h.auditor),
		approval.WithClock(clock),
		approval.WithSettings(approval.Settings{Enabled: true}),
	)
	h.projector = approval.NewProjector(h.orders, h.ledger, h.users, h.users, resolver, checker, zap.NewNop(),
		approval.WithRetryDelay(time.Millisecond),
	)
	return h
}

func rc(u *domain.User) approval.RequestContext {
	return approval.RequestContext{Actor: *u, TraceID: "trace-" + u.ID}
}

func zapNop() *zap.Logger { return zap.NewNop() }
