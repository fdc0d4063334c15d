package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Sender — один транспорт доставки
type Sender interface {
	Send(ctx context.Context, payload []byte) error
}

type ReliabilitySettings struct {
	Name          string
	RPS           float64
	Burst         int
	Attempts      uint
	CallTimeout   time.Duration
	CBMaxRequests uint32
	CBInterval    time.Duration
	CBTimeout     time.Duration
}

func (s ReliabilitySettings) withDefaults() ReliabilitySettings {
	if s.Name == "" {
		s.Name = "webhook"
	}
	if s.RPS <= 0 {
		s.RPS = 5
	}
	if s.Burst <= 0 {
		s.Burst = 5
	}
	if s.Attempts == 0 {
		s.Attempts = 3
	}
	if s.CallTimeout <= 0 {
		s.CallTimeout = 10 * time.Second
	}
	if s.CBMaxRequests == 0 {
		s.CBMaxRequests = 3
	}
	if s.CBInterval <= 0 {
		s.CBInterval = 5 * time.Second
	}
	if s.CBTimeout <= 0 {
		s.CBTimeout = 30 * time.Second
	}
	return s
}

// ReliabilityWrapper: rate limiter -> circuit breaker -> retry с бэкоффом
type ReliabilityWrapper struct {
	next     Sender
	cb       *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	settings ReliabilitySettings
}

// NewReliabilityWrapper: cbState — gauge состояния предохранителя, может быть nil
func NewReliabilityWrapper(next Sender, s ReliabilitySettings, cbState prometheus.Gauge) *ReliabilityWrapper {
	s = s.withDefaults()

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.CBMaxRequests,
		Interval:    s.CBInterval,
		Timeout:     s.CBTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Если более 5 ошибок подряд — открываемся
			return counts.ConsecutiveFailures > 5
		},
		// Отказ по содержимому не говорит о недоступности получателя
		IsSuccessful: func(err error) bool {
			var perm *PermanentError
			return err == nil || errors.As(err, &perm)
		},
		OnStateChange: func(_ string, _ gobreaker.State, to gobreaker.State) {
			if cbState == nil {
				return
			}
			if to == gobreaker.StateOpen {
				cbState.Set(1)
			} else {
				cbState.Set(0)
			}
		},
	})

	return &ReliabilityWrapper{
		next:     next,
		cb:       cb,
		limiter:  rate.NewLimiter(rate.Limit(s.RPS), s.Burst),
		settings: s,
	}
}

func (w *ReliabilityWrapper) Send(ctx context.Context, payload []byte) error {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit exceeded: %w", err)
	}

	// 2. Circuit Breaker
	_, err := w.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(w.settings.Attempts),
			retry.LastErrorOnly(true),
			retry.RetryIf(func(err error) bool {
				var perm *PermanentError
				return !errors.As(err, &perm)
			}),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Получатель сам сказал, сколько ждать
				var tErr *ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}
				return retry.BackOffDelay(n, err, config)
			}),
		)

		return nil, r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, w.settings.CallTimeout)
			defer cancel()
			return w.next.Send(tCtx, payload)
		})
	})
	return err
}

// State — текущее состояние предохранителя
func (w *ReliabilityWrapper) State() gobreaker.State {
	return w.cb.State()
}
