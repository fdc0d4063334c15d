package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memStorage struct {
	mu      sync.Mutex
	batches [][]AuditEvent
	err     error
}

func (m *memStorage) WriteBatch(_ context.Context, events []AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]AuditEvent, len(events))
	copy(cp, events)
	m.batches = append(m.batches, cp)
	return m.err
}

func (m *memStorage) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		n += len(b)
	}
	return n
}

func TestTrail_FlushesOnBatchSizeAndStop(t *testing.T) {
	store := &memStorage{}
	tr := NewTrail(store, Options{BatchSize: 2, FlushInterval: time.Hour}, nil, zap.NewNop())
	tr.Start()

	for i := 0; i < 5; i++ {
		tr.Log(AuditEvent{ID: "e", OrderID: "1", Action: ActionRequested, Outcome: OutcomeSuccess})
	}

	require.Eventually(t, func() bool { return store.total() >= 4 }, time.Second, 5*time.Millisecond)

	tr.Stop()
	assert.Equal(t, 5, store.total(), "final flush must drain the remainder")
}

func TestTrail_FlushesOnTicker(t *testing.T) {
	store := &memStorage{}
	tr := NewTrail(store, Options{BatchSize: 100, FlushInterval: 10 * time.Millisecond}, nil, zap.NewNop())
	tr.Start()
	defer tr.Stop()

	tr.Log(AuditEvent{ID: "e1", OrderID: "7"})
	require.Eventually(t, func() bool { return store.total() == 1 }, time.Second, 5*time.Millisecond)

	store.mu.Lock()
	ts := store.batches[0][0].Timestamp
	store.mu.Unlock()
	assert.False(t, ts.IsZero())
}

func TestTrail_LogAfterStopIsDropped(t *testing.T) {
	store := &memStorage{}
	tr := NewTrail(store, Options{}, nil, zap.NewNop())
	tr.Start()
	tr.Stop()

	assert.NotPanics(t, func() { tr.Log(AuditEvent{ID: "late"}) })
	assert.NotPanics(t, tr.Stop)
	assert.Equal(t, 0, store.total())
}

func TestTrail_StorageErrorDoesNotStopWorker(t *testing.T) {
	store := &memStorage{err: errors.New("db down")}
	tr := NewTrail(store, Options{BatchSize: 1, FlushInterval: time.Hour}, nil, zap.NewNop())
	tr.Start()

	tr.Log(AuditEvent{ID: "a"})
	tr.Log(AuditEvent{ID: "b"})
	tr.Stop()

	assert.Equal(t, 2, store.total())
}

func TestTrail_OverflowShedsLoad(t *testing.T) {
	store := &memStorage{}
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_fill"})
	// Воркер не запущен, буфер на одно событие
	tr := NewTrail(store, Options{BufferSize: 1}, gauge, zap.NewNop())

	tr.Log(AuditEvent{ID: "1"})
	tr.Log(AuditEvent{ID: "2"})

	assert.Equal(t, 1, len(tr.ch))
	assert.Equal(t, float64(1), testutil.ToFloat64(gauge))
}
