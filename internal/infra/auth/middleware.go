package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/po-approvals/internal/domain"
)

// TokenValidator — проверка подписи и срока токена
type TokenValidator interface {
	VerifyToken(tokenStr string) (*domain.CustomClaims, error)
}

// ActorLoader — актуальная учетная запись. Права берем из справочника, а не из токена.
type ActorLoader interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
}

const TraceHeader = "X-Trace-ID"

type ctxKey int

const (
	actorKey ctxKey = iota
	traceKey
)

// NewMiddleware проверяет Bearer-токен и кладет в контекст активного пользователя
func NewMiddleware(v TokenValidator, users ActorLoader, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w)
				return
			}

			claims, err := v.VerifyToken(authHeader)
			if err != nil {
				logger.Warn("auth failure", zap.Error(err))
				unauthorized(w)
				return
			}

			user, err := users.GetUser(r.Context(), claims.UserID)
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				logger.Error("actor lookup failed", zap.String("user_id", claims.UserID), zap.Error(err))
				writeError(w, http.StatusInternalServerError, "Internal server error")
				return
			}
			if user == nil || !user.Active {
				logger.Warn("token subject is unknown or inactive", zap.String("user_id", claims.UserID))
				unauthorized(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), user)))
		})
	}
}

// TracingMiddleware берет Trace-ID из X-Trace-ID или генерирует новый и возвращает его клиенту
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(TraceHeader)
		if traceID == "" {
			traceID = uuid.New().String()
		}
		w.Header().Set(TraceHeader, traceID)
		next.ServeHTTP(w, r.WithContext(WithTraceID(r.Context(), traceID)))
	})
}

func WithActor(ctx context.Context, u *domain.User) context.Context {
	return context.WithValue(ctx, actorKey, u)
}

// ActorFrom — пользователь, прошедший аутентификацию
func ActorFrom(ctx context.Context) (*domain.User, bool) {
	u, ok := ctx.Value(actorKey).(*domain.User)
	return u, ok && u != nil
}

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey, id)
}

func TraceIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(traceKey).(string)
	return id
}

func unauthorized(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "Unauthorized")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": msg})
}
