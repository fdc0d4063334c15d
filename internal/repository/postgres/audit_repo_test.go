package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/xela07ax/po-approvals/internal/audit"
)

func TestAuditRepo_WriteBatch(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAuditRepo(db)
	now := time.Now().UTC()

	events := []audit.AuditEvent{
		{ID: "e1", TraceID: "t1", OrderID: "1", Level: 1, Action: audit.ActionRequested, ActorID: "u1", Outcome: audit.OutcomeSuccess, Timestamp: now},
		{ID: "e2", TraceID: "t2", OrderID: "1", Level: 1, Action: audit.ActionApproved, ActorID: "u2", Outcome: audit.OutcomeDenied, Timestamp: now, Error: "denied"},
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_logs")+`.*\(\$1, .*\$12\), \(\$13, .*\$24\)`).
		WithArgs(
			"e1", "t1", "1", 1, "requested", "u1", "", sqlmock.AnyArg(), "SUCCESS", int64(0), now, "",
			"e2", "t2", "1", 1, "approved", "u2", "", sqlmock.AnyArg(), "DENIED", int64(0), now, "denied",
		).
		WillReturnResult(sqlmock.NewResult(0, 2))

	assert.NoError(t, repo.WriteBatch(context.Background(), events))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepo_EmptyBatchIsNoop(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAuditRepo(db)

	assert.NoError(t, repo.WriteBatch(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepo_WriteError(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAuditRepo(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_logs")).WillReturnError(errors.New("disk full"))

	err := repo.WriteBatch(context.Background(), []audit.AuditEvent{{ID: "e1"}})
	assert.ErrorContains(t, err, "disk full")
}
