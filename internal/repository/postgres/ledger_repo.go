package postgres

/*
Файл ledger_repo.go — леджер согласований в PostgreSQL.

- Сериализация по заказу: pg_advisory_xact_lock на id заказа в начале транзакции.
  Блокировка снимается коммитом или откатом, заказы друг другу не мешают.
- Частичный уникальный индекс (order_id, level) WHERE status = 'pending'
  не дает появиться второй активной записи даже в обход блокировки.
- Решение — CAS: UPDATE ... WHERE status = 'pending' RETURNING.
- Записи никогда не удаляются.
*/

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xela07ax/po-approvals/internal/approval"
	"github.com/xela07ax/po-approvals/internal/domain"
)

const uniqueViolation = "23505"

const recordColumns = `id, order_id, level, status, requested_by_id, requested_by_name,
	hint_kind, hint_user_id, hint_user_name, approver_id, approver_name,
	notes, decision_notes, requested_at, decided_at`

type LedgerRepo struct {
	db *sql.DB
}

func NewLedgerRepo(db *sql.DB) *LedgerRepo {
	return &LedgerRepo{db: db}
}

func (r *LedgerRepo) Snapshot(ctx context.Context, orderID string) (*approval.Snapshot, error) {
	return readSnapshot(ctx, r.db, orderID)
}

// Snapshots читает политики и записи пачки заказов двумя запросами
func (r *LedgerRepo) Snapshots(ctx context.Context, orderIDs []string) (map[string]*approval.Snapshot, error) {
	out := make(map[string]*approval.Snapshot, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}
	for _, id := range orderIDs {
		out[id] = &approval.Snapshot{OrderID: id, Records: []domain.ApprovalRecord{}}
	}
	// Один параметр text[]: число заказов не упирается в лимит bind-параметров
	ids := append([]string(nil), orderIDs...)

	// 1. Замороженные политики
	rows, err := r.db.QueryContext(ctx,
		`SELECT order_id, is_high_value, required_levels FROM approval_orders WHERE order_id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query approval policies: %w", err)
	}
	for rows.Next() {
		var id string
		var p domain.ApprovalPolicy
		if err := rows.Scan(&id, &p.IsHighValue, &p.RequiredLevels); err != nil {
			rows.Close()
			return nil, fmt.Errorf("postgres: scan approval policy: %w", err)
		}
		if s, ok := out[id]; ok {
			s.Policy = &p
		}
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	// 2. История
	rows, err = r.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM approval_records WHERE order_id = ANY($1) ORDER BY order_id, level, requested_at`, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query approval records: %w", err)
	}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		if s, ok := out[rec.OrderID]; ok {
			s.Records = append(s.Records, rec)
		}
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}
	return out, nil
}

// InOrderTx открывает транзакцию и берет блокировку заказа. Ошибка fn — откат.
func (r *LedgerRepo) InOrderTx(ctx context.Context, orderID string, fn func(tx approval.LedgerTx) error) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, orderID); err != nil {
		return fmt.Errorf("postgres: failed to lock order %s: %w", orderID, err)
	}

	if err = fn(&ledgerTx{tx: tx, orderID: orderID}); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

type ledgerTx struct {
	tx      *sql.Tx
	orderID string
}

func (t *ledgerTx) Snapshot(ctx context.Context) (*approval.Snapshot, error) {
	return readSnapshot(ctx, t.tx, t.orderID)
}

func (t *ledgerTx) ActiveRecord(ctx context.Context, level int) (*domain.ApprovalRecord, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM approval_records WHERE order_id = $1 AND level = $2 AND status = 'pending'`,
		t.orderID, level)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// Append добавляет запись. Вторая pending на уровне упирается в частичный индекс.
func (t *ledgerTx) Append(ctx context.Context, rec domain.ApprovalRecord) error {
	var hintUserID, hintUserName sql.NullString
	if rec.RequestedApprover.User != nil {
		hintUserID = sql.NullString{String: rec.RequestedApprover.User.ID, Valid: true}
		hintUserName = sql.NullString{String: rec.RequestedApprover.User.Name, Valid: true}
	}
	hintKind := rec.RequestedApprover.Kind
	if hintKind == "" {
		hintKind = domain.HintAnyApprover
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO approval_records (id, order_id, level, status, requested_by_id, requested_by_name,
			hint_kind, hint_user_id, hint_user_name, notes, requested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, t.orderID, rec.Level, string(rec.Status), rec.RequestedBy.ID, rec.RequestedBy.Name,
		string(hintKind), hintUserID, hintUserName, rec.Notes, rec.RequestedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return approval.ErrPendingExists
		}
		return fmt.Errorf("postgres: failed to append approval record: %w", err)
	}
	return nil
}

// Resolve атомарно переводит запись из pending.
// WHERE status = 'pending' исключает Double Decision.
func (t *ledgerTx) Resolve(ctx context.Context, recordID string, d domain.Decision) error {
	var id string
	err := t.tx.QueryRowContext(ctx, `
		UPDATE approval_records
		SET status = $1,
		    approver_id = $2,
		    approver_name = $3,
		    decision_notes = $4,
		    decided_at = $5
		WHERE id = $6 AND order_id = $7 AND status = 'pending'
		RETURNING id`,
		string(d.Status), d.Approver.ID, d.Approver.Name, d.Notes, d.DecidedAt, recordID, t.orderID,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Либо неверный ID, либо решение уже принято
			return approval.ErrNotPending
		}
		return fmt.Errorf("postgres: failed to resolve approval record: %w", err)
	}
	return nil
}

// FreezePolicy: вставка, если политики еще нет; всегда возвращает сохраненную
func (t *ledgerTx) FreezePolicy(ctx context.Context, p domain.ApprovalPolicy) (domain.ApprovalPolicy, error) {
	var stored domain.ApprovalPolicy
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO approval_orders (order_id, is_high_value, required_levels)
		VALUES ($1, $2, $3)
		ON CONFLICT (order_id) DO UPDATE SET order_id = EXCLUDED.order_id
		RETURNING is_high_value, required_levels`,
		t.orderID, p.IsHighValue, p.RequiredLevels,
	).Scan(&stored.IsHighValue, &stored.RequiredLevels)
	if err != nil {
		return stored, fmt.Errorf("postgres: failed to freeze approval policy: %w", err)
	}
	return stored, nil
}

func readSnapshot(ctx context.Context, q querier, orderID string) (*approval.Snapshot, error) {
	snap := &approval.Snapshot{OrderID: orderID, Records: []domain.ApprovalRecord{}}

	var p domain.ApprovalPolicy
	err := q.QueryRowContext(ctx,
		`SELECT is_high_value, required_levels FROM approval_orders WHERE order_id = $1`, orderID,
	).Scan(&p.IsHighValue, &p.RequiredLevels)
	switch {
	case err == nil:
		snap.Policy = &p
	case errors.Is(err, sql.ErrNoRows):
	default:
		return nil, fmt.Errorf("postgres: failed to read approval policy: %w", err)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM approval_records WHERE order_id = $1 ORDER BY level, requested_at`, orderID)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query approval records: %w", err)
	}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		snap.Records = append(snap.Records, rec)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}
	return snap, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (domain.ApprovalRecord, error) {
	var rec domain.ApprovalRecord
	var status, hintKind string
	// NULL из БД
	var hintUserID, hintUserName, approverID, approverName sql.NullString
	var decidedAt sql.NullTime

	err := s.Scan(
		&rec.ID, &rec.OrderID, &rec.Level, &status, &rec.RequestedBy.ID, &rec.RequestedBy.Name,
		&hintKind, &hintUserID, &hintUserName, &approverID, &approverName,
		&rec.Notes, &rec.DecisionNotes, &rec.RequestedAt, &decidedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("postgres: failed to scan approval record: %w", err)
	}

	rec.Status = domain.ApprovalStatus(status)
	switch domain.HintKind(hintKind) {
	case domain.HintSpecificUser:
		rec.RequestedApprover = domain.SpecificUser(domain.UserRef{ID: hintUserID.String, Name: hintUserName.String})
	case domain.HintChannelBroadcast:
		rec.RequestedApprover = domain.ChannelBroadcast()
	default:
		rec.RequestedApprover = domain.AnyApprover()
	}
	if approverID.Valid {
		rec.ActualApprover = &domain.UserRef{ID: approverID.String, Name: approverName.String}
	}
	if decidedAt.Valid {
		ts := decidedAt.Time
		rec.DecidedAt = &ts
	}
	return rec, nil
}

// closeRows проверяет ошибки итерации и закрывает курсор
func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return rows.Close()
}
