package subscribers

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		mock.ExpectClose()
		require.NoError(t, db.Close())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
	return NewPostgresStore(db), mock
}

func TestPostgresStore_List(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(listQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"chat_id", "address"}).
			AddRow(int64(-100), "NQ07 AAAA").
			AddRow(int64(5), "NQ07 BBBB"))

	list, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Subscriber{
		{ChatID: -100, Address: "NQ07 AAAA"},
		{ChatID: 5, Address: "NQ07 BBBB"},
	}, list)
}

func TestPostgresStore_Get(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(getQuery)).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"address"}).AddRow("NQ07 BBBB"))
	mock.ExpectQuery(regexp.QuoteMeta(getQuery)).
		WithArgs(int64(6)).
		WillReturnRows(sqlmock.NewRows([]string{"address"}))

	sub, ok, err := s.Get(context.Background(), 5)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "NQ07 BBBB", sub.Address)

	_, ok, err = s.Get(context.Background(), 6)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPostgresStore_SetAndDelete(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(upsertQuery)).
		WithArgs(int64(5), "NQ07 CCCC").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(deleteQuery)).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Set(context.Background(), 5, "NQ07 CCCC"))
	require.NoError(t, s.Delete(context.Background(), 5))
}
