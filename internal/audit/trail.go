package audit

/*
Trail — асинхронный журнал действий по согласованиям.

- Log не блокирует вызывающего: событие кладется в буферизованный канал,
  при переполнении сбрасывается с записью в лог (load shedding).
- Воркер копит пачку и пишет ее в хранилище по размеру пачки или по таймеру.
- Stop закрывает вход, воркер вычитывает остаток и делает финальный flush.
*/

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// StorageInterface определяет, куда физически будут сохраняться события
type StorageInterface interface {
	// WriteBatch сохраняет пачку событий за один раз
	WriteBatch(ctx context.Context, events []AuditEvent) error
}

type Auditor interface {
	Log(event AuditEvent)
}

type Options struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.BufferSize <= 0 {
		o.BufferSize = 10000
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 500 * time.Millisecond
	}
	return o
}

type Trail struct {
	ch     chan AuditEvent
	repo   StorageInterface
	logger *zap.Logger
	opts   Options
	fill   prometheus.Gauge
	wg     sync.WaitGroup

	// mu защищает закрытие канала от конкурентного Log
	mu     sync.RWMutex
	closed bool
}

// NewTrail: fill — gauge заполненности буфера, может быть nil
func NewTrail(repo StorageInterface, opts Options, fill prometheus.Gauge, logger *zap.Logger) *Trail {
	opts = opts.withDefaults()
	return &Trail{
		ch:     make(chan AuditEvent, opts.BufferSize),
		repo:   repo,
		logger: logger.Named("audit"),
		opts:   opts,
		fill:   fill,
	}
}

func (t *Trail) Start() {
	t.wg.Add(1)
	go t.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
func (t *Trail) Stop() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.ch)
	t.mu.Unlock()

	t.logger.Info("stopping audit trail: flushing buffer...")
	t.wg.Wait()
	t.logger.Info("audit trail stopped gracefully")
}

func (t *Trail) Log(event AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		t.logger.Warn("audit event dropped: trail is stopping", zap.String("id", event.ID))
		return
	}

	select {
	case t.ch <- event:
		t.observeFill()
	default:
		// Backpressure: не держим горячий путь, фиксируем в логе
		t.logger.Error("audit_buffer_overflow",
			zap.String("order_id", event.OrderID),
			zap.String("action", event.Action),
			zap.String("trace_id", event.TraceID),
		)
	}
}

func (t *Trail) observeFill() {
	if t.fill != nil {
		t.fill.Set(float64(len(t.ch)))
	}
}

func (t *Trail) worker() {
	defer t.wg.Done()

	batch := make([]AuditEvent, 0, t.opts.BatchSize)
	ticker := time.NewTicker(t.opts.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: контекст запроса к этому моменту уже закрыт
		if err := t.repo.WriteBatch(context.Background(), batch); err != nil {
			t.logger.Error("audit flush failed", zap.Int("events", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
		t.observeFill()
	}

	for {
		select {
		case event, ok := <-t.ch:
			if !ok {
				// Канал закрыт в Stop: остаток уже вычитан
				flush()
				return
			}
			batch = append(batch, event)
			if len(batch) >= t.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Nop — журнал-заглушка для режимов без хранилища
type Nop struct{}

func (Nop) Log(AuditEvent) {}
