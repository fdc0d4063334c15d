package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/po-approvals/internal/approval"
	"github.com/xela07ax/po-approvals/internal/domain"
	"github.com/xela07ax/po-approvals/internal/infra"
)

func newCache(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *SnapshotCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, NewSnapshotCache(rdb, ttl, zap.NewNop())
}

func TestSnapshotCache_RoundTripAndTTL(t *testing.T) {
	mr, c := newCache(t, time.Minute)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	snap := &approval.Snapshot{
		OrderID: "1",
		Policy:  &domain.ApprovalPolicy{IsHighValue: true, RequiredLevels: 2},
		Records: []domain.ApprovalRecord{{
			ID: "r1", OrderID: "1", Level: 1, Status: domain.StatusPending,
			RequestedBy:       domain.UserRef{ID: "u1", Name: "alice"},
			RequestedApprover: domain.ChannelBroadcast(),
			RequestedAt:       at,
		}},
	}
	_, gen, ok := c.Get(ctx, "1")
	require.False(t, ok)
	assert.Equal(t, "0", gen)
	c.Set(ctx, snap, gen)

	got, _, ok := c.Get(ctx, "1")
	require.True(t, ok)
	assert.Equal(t, snap.Policy, got.Policy)
	require.Len(t, got.Records, 1)
	assert.Equal(t, "r1", got.Records[0].ID)
	assert.True(t, got.Records[0].RequestedApprover.IsChannel())
	assert.True(t, got.Records[0].RequestedAt.Equal(at))

	mr.FastForward(2 * time.Minute)
	_, _, ok = c.Get(ctx, "1")
	assert.False(t, ok)
}

func TestSnapshotCache_Invalidate(t *testing.T) {
	_, c := newCache(t, time.Minute)
	ctx := context.Background()

	c.Set(ctx, &approval.Snapshot{OrderID: "1", Records: []domain.ApprovalRecord{}}, "0")
	c.Invalidate(ctx, "1")
	_, gen, ok := c.Get(ctx, "1")
	assert.False(t, ok)
	assert.Equal(t, "1", gen)
}

func TestSnapshotCache_SetAfterInvalidateIsDiscarded(t *testing.T) {
	mr, c := newCache(t, time.Minute)
	ctx := context.Background()

	// Читатель взял поколение до коммита
	_, gen, ok := c.Get(ctx, "1")
	require.False(t, ok)

	// Писатель закоммитил и сбросил кэш
	c.Invalidate(ctx, "1")

	// Снимок читателя прочитан до коммита и не должен попасть в кэш
	c.Set(ctx, &approval.Snapshot{OrderID: "1", Records: []domain.ApprovalRecord{}}, gen)
	assert.False(t, mr.Exists(infra.SnapshotKey("1")))

	// Следующий читатель видит новое поколение и кэширует
	_, gen, _ = c.Get(ctx, "1")
	c.Set(ctx, &approval.Snapshot{OrderID: "1", Records: []domain.ApprovalRecord{}}, gen)
	assert.True(t, mr.Exists(infra.SnapshotKey("1")))
	assert.Greater(t, mr.TTL(infra.SnapshotGenKey("1")), time.Hour)
}

func TestSnapshotCache_ZeroTTLDisablesWrites(t *testing.T) {
	mr, c := newCache(t, 0)
	c.Set(context.Background(), &approval.Snapshot{OrderID: "1"}, "0")
	assert.False(t, mr.Exists(infra.SnapshotKey("1")))
}

func TestSnapshotCache_CorruptedOrUnavailableIsMiss(t *testing.T) {
	mr, c := newCache(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, mr.Set(infra.SnapshotKey("1"), "{not json"))
	_, _, ok := c.Get(ctx, "1")
	assert.False(t, ok)

	mr.Close()
	_, gen, ok := c.Get(ctx, "1")
	assert.False(t, ok)
	assert.Empty(t, gen)
	assert.NotPanics(t, func() { c.Set(ctx, &approval.Snapshot{OrderID: "1"}, gen) })
	assert.NotPanics(t, func() { c.Invalidate(ctx, "1") })
}
