package memledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/po-approvals/internal/approval"
	"github.com/xela07ax/po-approvals/internal/domain"
)

func pending(id string, level int) domain.ApprovalRecord {
	return domain.ApprovalRecord{
		ID:          id,
		Level:       level,
		Status:      domain.StatusPending,
		RequestedBy: domain.UserRef{ID: "u1", Name: "alice"},
		RequestedAt: time.Now(),
	}
}

func TestMemoryLedger_AppendAndRead(t *testing.T) {
	ctx := context.Background()
	l := New()

	err := l.InOrderTx(ctx, "po-1", func(tx approval.LedgerTx) error {
		_, err := tx.FreezePolicy(ctx, domain.ApprovalPolicy{RequiredLevels: 1})
		require.NoError(t, err)
		return tx.Append(ctx, pending("r1", 1))
	})
	require.NoError(t, err)

	snap, err := l.Snapshot(ctx, "po-1")
	require.NoError(t, err)
	require.NotNil(t, snap.Policy)
	assert.Equal(t, 1, snap.Policy.RequiredLevels)
	require.Len(t, snap.Records, 1)
	assert.Equal(t, "po-1", snap.Records[0].OrderID)
}

func TestMemoryLedger_DuplicatePendingRejected(t *testing.T) {
	ctx := context.Background()
	l := New()

	require.NoError(t, l.InOrderTx(ctx, "po-1", func(tx approval.LedgerTx) error {
		return tx.Append(ctx, pending("r1", 1))
	}))
	err := l.InOrderTx(ctx, "po-1", func(tx approval.LedgerTx) error {
		return tx.Append(ctx, pending("r2", 1))
	})
	assert.ErrorIs(t, err, approval.ErrPendingExists)

	snap, _ := l.Snapshot(ctx, "po-1")
	assert.Len(t, snap.Records, 1)
}

func TestMemoryLedger_FailedTxLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	l := New()
	boom := errors.New("boom")

	err := l.InOrderTx(ctx, "po-1", func(tx approval.LedgerTx) error {
		_, _ = tx.FreezePolicy(ctx, domain.ApprovalPolicy{IsHighValue: true, RequiredLevels: 2})
		require.NoError(t, tx.Append(ctx, pending("r1", 1)))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	snap, _ := l.Snapshot(ctx, "po-1")
	assert.Nil(t, snap.Policy)
	assert.Empty(t, snap.Records)
}

func TestMemoryLedger_ResolveIsCompareAndSet(t *testing.T) {
	ctx := context.Background()
	l := New()
	require.NoError(t, l.InOrderTx(ctx, "po-1", func(tx approval.LedgerTx) error {
		return tx.Append(ctx, pending("r1", 1))
	}))

	d := domain.Decision{Status: domain.StatusApproved, Approver: domain.UserRef{ID: "u2"}, DecidedAt: time.Now()}
	require.NoError(t, l.InOrderTx(ctx, "po-1", func(tx approval.LedgerTx) error {
		return tx.Resolve(ctx, "r1", d)
	}))

	err := l.InOrderTx(ctx, "po-1", func(tx approval.LedgerTx) error {
		return tx.Resolve(ctx, "r1", d)
	})
	assert.ErrorIs(t, err, approval.ErrNotPending)

	err = l.InOrderTx(ctx, "po-1", func(tx approval.LedgerTx) error {
		return tx.Resolve(ctx, "missing", d)
	})
	assert.ErrorIs(t, err, approval.ErrNotPending)

	snap, _ := l.Snapshot(ctx, "po-1")
	require.Len(t, snap.Records, 1)
	assert.Equal(t, domain.StatusApproved, snap.Records[0].Status)
	require.NotNil(t, snap.Records[0].ActualApprover)
	assert.Equal(t, "u2", snap.Records[0].ActualApprover.ID)
}

func TestMemoryLedger_FreezePolicyKeepsFirst(t *testing.T) {
	ctx := context.Background()
	l := New()
	require.NoError(t, l.InOrderTx(ctx, "po-1", func(tx approval.LedgerTx) error {
		_, err := tx.FreezePolicy(ctx, domain.ApprovalPolicy{IsHighValue: true, RequiredLevels: 2})
		return err
	}))
	require.NoError(t, l.InOrderTx(ctx, "po-1", func(tx approval.LedgerTx) error {
		got, err := tx.FreezePolicy(ctx, domain.ApprovalPolicy{RequiredLevels: 1})
		assert.Equal(t, 2, got.RequiredLevels)
		return err
	}))
}

func TestMemoryLedger_SerializesPerOrder(t *testing.T) {
	ctx := context.Background()
	l := New()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.InOrderTx(ctx, "po-1", func(tx approval.LedgerTx) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestMemoryLedger_LockWaitHonorsContext(t *testing.T) {
	l := New()
	release := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_ = l.InOrderTx(context.Background(), "po-1", func(tx approval.LedgerTx) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.InOrderTx(ctx, "po-1", func(tx approval.LedgerTx) error {
		t.Fatal("must not enter the critical section")
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)

	// Блокировка освобождается, следующий вызов проходит
	require.Eventually(t, func() bool {
		return l.InOrderTx(context.Background(), "po-1", func(approval.LedgerTx) error { return nil }) == nil
	}, time.Second, 5*time.Millisecond)
}

func TestMemoryLedger_SnapshotsForUnknownOrders(t *testing.T) {
	l := New()
	snaps, err := l.Snapshots(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, snaps, 2)
	assert.Nil(t, snaps["a"].Policy)
	assert.Empty(t, snaps["b"].Records)
}
