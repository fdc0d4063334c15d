package postgres

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/po-approvals/internal/domain"
)

var orderCols = []string{"id", "reference", "supplier_name", "total_price", "currency", "status", "requester_id"}

func TestOrderRepo_GetOrder(t *testing.T) {
	db, mock := newMock(t)
	repo := NewOrderRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM purchase_orders WHERE id = $1")).
		WithArgs("42").
		WillReturnRows(sqlmock.NewRows(orderCols).AddRow("42", "PO-0042", "Acme", "12500.50", "EUR", "pending", "u1"))

	o, err := repo.GetOrder(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "PO-0042", o.Reference)
	assert.True(t, o.HasTotal)
	assert.Equal(t, "12500.5", o.TotalValue.String())
	assert.Equal(t, domain.OrderPending, o.Status)
	assert.Equal(t, "EUR 12500.50", *o.FormattedTotal())

	mock.ExpectQuery(regexp.QuoteMeta("FROM purchase_orders WHERE id = $1")).
		WithArgs("43").
		WillReturnRows(sqlmock.NewRows(orderCols).AddRow("43", "PO-0043", nil, nil, nil, "placed", nil))

	o, err = repo.GetOrder(context.Background(), "43")
	require.NoError(t, err)
	assert.False(t, o.HasTotal)
	assert.Nil(t, o.FormattedTotal())
	assert.Nil(t, o.SupplierPtr())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepo_GetOrderNotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewOrderRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM purchase_orders WHERE id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(orderCols))

	_, err := repo.GetOrder(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepo_ListOpenOrders(t *testing.T) {
	db, mock := newMock(t)
	repo := NewOrderRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE status IN ($1, $2, $3) ORDER BY id")).
		WithArgs("pending", "placed", "on_hold").
		WillReturnRows(sqlmock.NewRows(orderCols).
			AddRow("1", "PO-1", "Acme", "10", "USD", "pending", "u1").
			AddRow("2", "PO-2", "Acme", "20", "USD", "on_hold", "u1"))

	orders, err := repo.ListOpenOrders(context.Background())
	require.NoError(t, err)
	assert.Len(t, orders, 2)

	mock.ExpectQuery(regexp.QuoteMeta("FROM purchase_orders ORDER BY id")).
		WillReturnRows(sqlmock.NewRows(orderCols))
	all, err := repo.ListOrders(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, all)
	assert.Empty(t, all)

	assert.NoError(t, mock.ExpectationsWereMet())
}
