package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xela07ax/po-approvals/internal/console/handler"
	"github.com/xela07ax/po-approvals/internal/infra/auth"
)

// HealthCheck — проверка зависимости (Postgres, Redis). Ошибка = 503.
type HealthCheck func(ctx context.Context) error

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger
	prefix string

	// Проверка токенов (RS256) и загрузка актуального пользователя
	validator auth.TokenValidator
	users     auth.ActorLoader

	authHandler     *handler.AuthHandler     // /auth/token
	approvalHandler *handler.ApprovalHandler // /po/*, /pending, /users, /po-list
	stream          http.Handler             // /events (websocket)
	metrics         http.Handler             // /metrics
	health          map[string]HealthCheck
}

type Deps struct {
	Prefix    string
	Validator auth.TokenValidator
	Users     auth.ActorLoader
	Auth      *handler.AuthHandler
	Approvals *handler.ApprovalHandler
	Stream    http.Handler
	Metrics   http.Handler
	Health    map[string]HealthCheck
}

// NewConsoleServer собирает HTTP API согласований со всеми зависимостями
func NewConsoleServer(d Deps, logger *zap.Logger) *ConsoleServer {
	s := &ConsoleServer{
		router:          chi.NewRouter(),
		logger:          logger.Named("console-api"),
		prefix:          d.Prefix,
		validator:       d.Validator,
		users:           d.Users,
		authHandler:     d.Auth,
		approvalHandler: d.Approvals,
		stream:          d.Stream,
		metrics:         d.Metrics,
		health:          d.Health,
	}
	if s.prefix == "" {
		s.prefix = "/"
	}
	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware ---
	r.Use(middleware.RequestID)
	r.Use(auth.TracingMiddleware)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	// --- 2. Ops ---
	r.Get("/health", s.healthz)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route(s.prefix, func(r chi.Router) {
		// --- 3. Публичные роуты ---
		r.Post("/auth/token", s.authHandler.Login)

		// --- 4. Защищенный периметр (RS256 токен) ---
		r.Group(func(r chi.Router) {
			r.Use(auth.NewMiddleware(s.validator, s.users, s.logger))

			r.Route("/po/{id}", func(r chi.Router) {
				r.Get("/status", s.approvalHandler.Status)
				r.Get("/placement", s.approvalHandler.Placement)
				r.Post("/request", s.approvalHandler.Request)
				r.Post("/approve", s.approvalHandler.Approve)
				r.Post("/reject", s.approvalHandler.Reject)
			})

			r.Get("/pending", s.approvalHandler.PendingForUser)
			r.Get("/pending/any", s.approvalHandler.PendingAny)
			r.Get("/users", s.approvalHandler.Approvers)
			r.Get("/po-list", s.approvalHandler.Orders)

			if s.stream != nil {
				r.Handle("/events", s.stream)
			}
		})
	})
}

func (s *ConsoleServer) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	for name, check := range s.health {
		if err := check(ctx); err != nil {
			s.logger.Warn("health check failed", zap.String("dependency", name), zap.Error(err))
			status = http.StatusServiceUnavailable
		}
	}
	w.WriteHeader(status)
}

// requestLogger — access log в zap вместо stdlib-логгера chi
func (s *ConsoleServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("trace_id", auth.TraceIDFrom(r.Context())),
		)
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
