package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xela07ax/po-approvals/internal/audit"
)

type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(db *sql.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

// Количество колонок в таблице audit_logs
const auditFields = 12

// WriteBatch — одна многострочная вставка на пачку событий
func (r *AuditRepo) WriteBatch(ctx context.Context, events []audit.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}

	rowsSQL := make([]string, 0, len(events))
	vals := make([]any, 0, len(events)*auditFields)

	for i, e := range events {
		rowsSQL = append(rowsSQL, "("+placeholders(i*auditFields+1, auditFields)+")")

		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("postgres: marshal audit payload: %w", err)
		}

		vals = append(vals,
			e.ID, e.TraceID, e.OrderID, e.Level, e.Action, e.ActorID,
			e.RecordID, payload, e.Outcome, e.DurationMs, e.Timestamp, e.Error,
		)
	}

	query := "INSERT INTO audit_logs (id, trace_id, order_id, level, action, actor_id, record_id, payload, outcome, duration_ms, timestamp, error) VALUES " +
		strings.Join(rowsSQL, ", ")

	if _, err := r.db.ExecContext(ctx, query, vals...); err != nil {
		return fmt.Errorf("postgres: failed to write audit batch: %w", err)
	}
	return nil
}
