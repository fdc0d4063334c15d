package approval

import (
	"github.com/shopspring/decimal"
	"github.com/xela07ax/po-approvals/internal/domain"
)

// PolicyResolver — чистая функция от атрибутов заказа. Порог приходит из конфигурации.
type PolicyResolver struct {
	threshold decimal.Decimal
}

func NewPolicyResolver(threshold decimal.Decimal) *PolicyResolver {
	return &PolicyResolver{threshold: threshold}
}

// Resolve: high-value — total_value >= threshold, тогда два уровня, иначе один.
func (r *PolicyResolver) Resolve(o *domain.Order) domain.ApprovalPolicy {
	highValue := o != nil && o.HasTotal && o.TotalValue.GreaterThanOrEqual(r.threshold)
	if highValue {
		return domain.ApprovalPolicy{IsHighValue: true, RequiredLevels: 2}
	}
	return domain.ApprovalPolicy{IsHighValue: false, RequiredLevels: 1}
}

// Effective возвращает замороженную политику, если она уже есть в леджере
func (r *PolicyResolver) Effective(o *domain.Order, frozen *domain.ApprovalPolicy) domain.ApprovalPolicy {
	if frozen != nil {
		return *frozen
	}
	return r.Resolve(o)
}
