package approval

import "github.com/xela07ax/po-approvals/internal/domain"

// RequestContext — явный контекст вызова движка: кто действует и сквозной trace-id.
// Собирается транспортом из JWT и директории пользователей.
type RequestContext struct {
	Actor   domain.User
	TraceID string
}

func (rc RequestContext) Validate() error {
	if rc.Actor.ID == "" {
		return domain.Errorf(domain.ErrValidation, "Acting user is required")
	}
	return nil
}
