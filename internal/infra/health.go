package infra

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthProbe — проверка одной зависимости
type HealthProbe func(ctx context.Context) error

// HealthServer — gRPC health для оркестратора. Статус пересчитывается по пробам периодически.
type HealthServer struct {
	srv      *grpc.Server
	health   *health.Server
	probes   map[string]HealthProbe
	interval time.Duration
	logger   *zap.Logger
}

func NewHealthServer(probes map[string]HealthProbe, interval time.Duration, logger *zap.Logger) *HealthServer {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	h := &HealthServer{
		srv:      grpc.NewServer(),
		health:   health.NewServer(),
		probes:   probes,
		interval: interval,
		logger:   logger.Named("grpc-health"),
	}
	healthpb.RegisterHealthServer(h.srv, h.health)
	return h
}

// Serve блокирует до остановки сервера
func (h *HealthServer) Serve(lis net.Listener) error {
	if err := h.srv.Serve(lis); err != nil {
		return fmt.Errorf("grpc health serve: %w", err)
	}
	return nil
}

// Watch пересчитывает статус до отмены ctx
func (h *HealthServer) Watch(ctx context.Context) {
	h.Check(ctx)
	t := time.NewTicker(h.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			h.Check(ctx)
		}
	}
}

// Check прогоняет пробы один раз и выставляет статус сервиса "" (весь процесс)
func (h *HealthServer) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	for name, probe := range h.probes {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := probe(pctx)
		cancel()
		if err != nil {
			h.logger.Warn("dependency unhealthy", zap.String("dependency", name), zap.Error(err))
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	h.health.SetServingStatus("", status)
	return status
}

func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.srv.GracefulStop()
}
