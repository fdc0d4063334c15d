package server

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/po-approvals/internal/approval"
	"github.com/xela07ax/po-approvals/internal/approval/memledger"
	"github.com/xela07ax/po-approvals/internal/console/handler"
	"github.com/xela07ax/po-approvals/internal/domain"
	"github.com/xela07ax/po-approvals/internal/infra/auth"
)

type directory map[string]*domain.User

func (d directory) GetUser(_ context.Context, id string) (*domain.User, error) {
	if u, ok := d[id]; ok {
		return u, nil
	}
	return nil, domain.Errorf(domain.ErrNotFound, "User %s not found", id)
}

func (d directory) ListActiveUsers(context.Context) ([]*domain.User, error) {
	out := make([]*domain.User, 0, len(d))
	for _, u := range d {
		out = append(out, u)
	}
	return out, nil
}

type seniors map[string]bool

func (s seniors) IsSenior(_ context.Context, id string) (bool, error) { return s[id], nil }

type orders map[string]*domain.Order

func (o orders) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	if v, ok := o[id]; ok {
		cp := *v
		return &cp, nil
	}
	return nil, domain.Errorf(domain.ErrNotFound, "Purchase order %s not found", id)
}

func (o orders) ListOpenOrders(ctx context.Context) ([]*domain.Order, error) {
	return o.ListOrders(ctx)
}

func (o orders) ListOrders(context.Context) ([]*domain.Order, error) {
	out := make([]*domain.Order, 0, len(o))
	for _, v := range o {
		cp := *v
		out = append(out, &cp)
	}
	return out, nil
}

type fixture struct {
	srv *httptest.Server
	key *rsa.PrivateKey
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	change := map[string]bool{domain.ScopeOrderView: true, domain.ScopeOrderChange: true}
	users := directory{
		"u-alice": {ID: "u-alice", Username: "alice", FullName: "Alice", Active: true, Scopes: change},
		"u-bob":   {ID: "u-bob", Username: "bob", FullName: "Bob", Active: true, Scopes: change},
		"u-carol": {ID: "u-carol", Username: "carol", FullName: "Carol", Active: true, Scopes: change},
	}
	src := orders{
		"po-1": {ID: "po-1", Reference: "PO-0001", TotalValue: decimal.NewFromInt(12500), HasTotal: true, Currency: "USD", Status: domain.OrderPending},
	}
	senior := seniors{"u-carol": true}

	logger := zap.NewNop()
	ledger := memledger.New()
	resolver := approval.NewPolicyResolver(decimal.NewFromInt(10000))
	checker := approval.NewEligibilityChecker(senior)

	coord := approval.NewCoordinator(src, ledger, users, resolver, checker, logger,
		approval.WithSettings(approval.Settings{Enabled: true}))
	proj := approval.NewProjector(src, ledger, users, senior, resolver, checker, logger)

	s := NewConsoleServer(Deps{
		Prefix:    "/plugin/approvals",
		Validator: auth.NewRS256Validator(&key.PublicKey),
		Users:     users,
		Auth:      handler.NewAuthHandler(nil, logger),
		Approvals: handler.NewApprovalHandler(coord, proj, logger),
		Health: map[string]HealthCheck{
			"ledger": func(context.Context) error { return nil },
		},
	}, logger)

	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)
	return &fixture{srv: ts, key: key}
}

func (f *fixture) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodRS256, &domain.CustomClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    auth.Issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(f.key)
	require.NoError(t, err)
	return tok
}

func (f *fixture) call(t *testing.T, userID, method, path, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+"/plugin/approvals"+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+f.token(t, userID))
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestHighValueFlowOverHTTP(t *testing.T) {
	f := newFixture(t)

	code, body := f.call(t, "u-alice", http.MethodPost, "/po/po-1/request", `{"approver_id":"u-bob"}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "Bob", body["requested_approver"])

	// Нельзя согласовать свой же запрос
	code, body = f.call(t, "u-alice", http.MethodPost, "/po/po-1/approve", `{}`)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, false, body["success"])

	code, body = f.call(t, "u-bob", http.MethodPost, "/po/po-1/approve", `{}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, false, body["can_place_order"])

	code, _ = f.call(t, "u-alice", http.MethodPost, "/po/po-1/request", `{}`)
	require.Equal(t, http.StatusOK, code)

	// Второй уровень только для senior
	code, _ = f.call(t, "u-bob", http.MethodPost, "/po/po-1/approve", `{}`)
	assert.Equal(t, http.StatusForbidden, code)

	code, body = f.call(t, "u-carol", http.MethodPost, "/po/po-1/approve", `{}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["fully_approved"])
	assert.Equal(t, true, body["can_place_order"])

	code, body = f.call(t, "u-alice", http.MethodGet, "/po/po-1/status", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), body["approved_count"])
	assert.Equal(t, true, body["is_fully_approved"])
	assert.Len(t, body["approvals"], 2)

	code, body = f.call(t, "u-alice", http.MethodGet, "/po/po-1/placement", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["can_place"])

	code, _ = f.call(t, "u-alice", http.MethodPost, "/po/po-1/request", `{}`)
	assert.Equal(t, http.StatusConflict, code)
}

func TestUnknownOrderIs404(t *testing.T) {
	f := newFixture(t)
	code, body := f.call(t, "u-alice", http.MethodGet, "/po/po-404/status", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, false, body["success"])
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	f := newFixture(t)
	resp, err := f.srv.Client().Get(f.srv.URL + "/plugin/approvals/pending")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	logger := zap.NewNop()
	healthy := NewConsoleServer(Deps{Health: map[string]HealthCheck{"db": func(context.Context) error { return nil }}}, logger)
	sick := NewConsoleServer(Deps{Health: map[string]HealthCheck{"db": func(context.Context) error { return errors.New("down") }}}, logger)

	rec := httptest.NewRecorder()
	healthy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	sick.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
