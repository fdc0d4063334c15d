package domain

// ApprovalPolicy — производная политика заказа, не хранится отдельно до первого запроса.
type ApprovalPolicy struct {
	IsHighValue    bool `json:"is_high_value"`
	RequiredLevels int  `json:"required_levels"`
}

// SeniorOnly — уровень, решение по которому может принять только senior-согласующий.
func (p ApprovalPolicy) SeniorOnly(level int) bool {
	return p.IsHighValue && level >= 2
}
