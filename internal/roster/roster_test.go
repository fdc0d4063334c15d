package roster

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/po-approvals/internal/infra"
)

type staticUsers struct {
	byName map[string]string
	err    error
}

func (s staticUsers) ActiveIDsByUsernames(_ context.Context, names []string) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	ids := make([]string, 0, len(names))
	for _, n := range names {
		if id, ok := s.byName[n]; ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

var users = staticUsers{byName: map[string]string{"carol": "u3", "dave": "u4"}}

func TestSeniorRoster_InitFillsBothLevels(t *testing.T) {
	mr, rdb := newRedis(t)
	ctx := context.Background()
	mr.SAdd(infra.RedisKeySeniorApprovers, "stale")

	r := NewSeniorRoster(rdb, users, []string{"carol", "dave", "ghost"}, zap.NewNop())
	require.NoError(t, r.Init(ctx))

	ok, err := r.IsSenior(ctx, "u3")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = r.IsSenior(ctx, "u1")
	assert.False(t, ok)
	assert.Equal(t, 2, r.Size())

	members, err := mr.Members(infra.RedisKeySeniorApprovers)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u3", "u4"}, members)
	assert.False(t, mr.Exists(infra.RedisKeyLockSeniorWarmup), "lock released after warm-up")
}

func TestSeniorRoster_EmptyConfigMeansNobody(t *testing.T) {
	_, rdb := newRedis(t)
	r := NewSeniorRoster(rdb, users, nil, zap.NewNop())
	require.NoError(t, r.Init(context.Background()))

	ok, err := r.IsSenior(context.Background(), "u3")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSeniorRoster_OtherInstanceHoldsLock(t *testing.T) {
	mr, rdb := newRedis(t)
	ctx := context.Background()
	require.NoError(t, mr.Set(infra.RedisKeyLockSeniorWarmup, "processing"))

	r := NewSeniorRoster(rdb, users, []string{"carol"}, zap.NewNop())
	require.NoError(t, r.Init(ctx))

	ok, _ := r.IsSenior(ctx, "u3")
	assert.True(t, ok, "L1 is filled regardless of the lock")
	assert.False(t, mr.Exists(infra.RedisKeySeniorApprovers))
}

func TestSeniorRoster_FallsBackToRedisBeforeInit(t *testing.T) {
	mr, rdb := newRedis(t)
	mr.SAdd(infra.RedisKeySeniorApprovers, "u7")

	r := NewSeniorRoster(rdb, users, nil, zap.NewNop())
	ok, err := r.IsSenior(context.Background(), "u7")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSeniorRoster_InitError(t *testing.T) {
	r := NewSeniorRoster(nil, staticUsers{err: errors.New("db down")}, []string{"carol"}, zap.NewNop())
	assert.ErrorContains(t, r.Init(context.Background()), "db down")
}

func TestSeniorRoster_ListenerAppliesSignals(t *testing.T) {
	mr, rdb := newRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := NewSeniorRoster(rdb, users, []string{"carol"}, zap.NewNop())
	done := make(chan struct{})
	go func() {
		r.StartListener(ctx)
		close(done)
	}()

	// Подписка поднимается и делает Init
	require.Eventually(t, func() bool { return r.Size() == 1 }, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return mr.Publish(infra.RedisChanSeniorRoster, "u9:on") > 0
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		ok, _ := r.IsSenior(ctx, "u9")
		return ok
	}, time.Second, 5*time.Millisecond)

	mr.Publish(infra.RedisChanSeniorRoster, "garbage")
	mr.Publish(infra.RedisChanSeniorRoster, "u3:off")
	require.Eventually(t, func() bool {
		ok, _ := r.IsSenior(ctx, "u3")
		return !ok
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("listener did not stop on context cancel")
	}
}

func TestParseSignal(t *testing.T) {
	cases := []struct {
		in     string
		id     string
		status bool
		valid  bool
	}{
		{"u1:on", "u1", true, true},
		{"u1:false", "u1", false, true},
		{"a:b:off", "a:b", false, true},
		{"u1", "", false, false},
		{":on", "", false, false},
		{"u1:maybe", "", false, false},
	}
	for _, c := range cases {
		id, status, valid := parseSignal(c.in)
		assert.Equal(t, c.valid, valid, c.in)
		assert.Equal(t, c.id, id, c.in)
		assert.Equal(t, c.status, status, c.in)
	}
}
