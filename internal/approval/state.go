package approval

import (
	"sort"

	"github.com/xela07ax/po-approvals/internal/domain"
)

// LedgerState — производные факты по истории согласований одного заказа.
type LedgerState struct {
	Policy  domain.ApprovalPolicy
	Records []domain.ApprovalRecord
}

func NewLedgerState(policy domain.ApprovalPolicy, records []domain.ApprovalRecord) LedgerState {
	sorted := make([]domain.ApprovalRecord, len(records))
	copy(sorted, records)
	SortRecords(sorted)
	return LedgerState{Policy: policy, Records: sorted}
}

// SortRecords упорядочивает историю по (level, requested_at)
func SortRecords(records []domain.ApprovalRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Level != records[j].Level {
			return records[i].Level < records[j].Level
		}
		return records[i].RequestedAt.Before(records[j].RequestedAt)
	})
}

func (s LedgerState) ApprovedAt(level int) bool {
	for _, r := range s.Records {
		if r.Level == level && r.Status == domain.StatusApproved {
			return true
		}
	}
	return false
}

func (s LedgerState) ApprovedCount() int {
	n := 0
	for _, r := range s.Records {
		if r.Status == domain.StatusApproved {
			n++
		}
	}
	return n
}

// CurrentLevel — первый уровень без approved-записи; 0, если заказ полностью согласован.
func (s LedgerState) CurrentLevel() int {
	for level := 1; level <= s.Policy.RequiredLevels; level++ {
		if !s.ApprovedAt(level) {
			return level
		}
	}
	return 0
}

func (s LedgerState) FullyApproved() bool {
	return s.Policy.RequiredLevels > 0 && s.CurrentLevel() == 0
}

// Pending — активная pending-запись на уровне
func (s LedgerState) Pending(level int) *domain.ApprovalRecord {
	for i := range s.Records {
		if s.Records[i].Level == level && s.Records[i].Status == domain.StatusPending {
			return &s.Records[i]
		}
	}
	return nil
}

// PendingRecord — любая pending-запись (уровни последовательны, она максимум одна)
func (s LedgerState) PendingRecord() *domain.ApprovalRecord {
	for i := range s.Records {
		if s.Records[i].Status == domain.StatusPending {
			return &s.Records[i]
		}
	}
	return nil
}

// Latest — последняя попытка на самом высоком уровне, к которому обращались
func (s LedgerState) Latest() *domain.ApprovalRecord {
	if len(s.Records) == 0 {
		return nil
	}
	return &s.Records[len(s.Records)-1]
}

// WithRecord возвращает состояние, в котором запись с тем же ID заменена
func (s LedgerState) WithRecord(rec domain.ApprovalRecord) LedgerState {
	records := make([]domain.ApprovalRecord, 0, len(s.Records)+1)
	replaced := false
	for _, r := range s.Records {
		if r.ID == rec.ID {
			records = append(records, rec)
			replaced = true
			continue
		}
		records = append(records, r)
	}
	if !replaced {
		records = append(records, rec)
	}
	return NewLedgerState(s.Policy, records)
}

// DerivedStatus — сводный статус для таблицы заказов.
// rejected показываем, только если последняя попытка отклонена и ее ничто не перекрыло.
func (s LedgerState) DerivedStatus() domain.OrderApprovalStatus {
	if len(s.Records) == 0 {
		return domain.OrderApprovalNone
	}
	if s.FullyApproved() {
		return domain.OrderApprovalApproved
	}
	if s.PendingRecord() != nil {
		return domain.OrderApprovalPending
	}
	if s.Latest().Status == domain.StatusRejected {
		return domain.OrderApprovalRejected
	}
	// Частично согласован, следующий уровень еще не запрошен
	return domain.OrderApprovalPending
}
