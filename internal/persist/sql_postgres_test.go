package persist

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// setupMockDB creates a postgres GORM *gorm.DB backed by sqlmock.
func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{})
	require.NoError(t, err)
	return gormDB, mock
}

func TestSQLStorage_PostgresUpsert(t *testing.T) {
	db, mock := setupMockDB(t)
	s := &SQLStorage{db: db, namespace: "buyer-A"}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "client_state_entries"`) + `.*` +
		regexp.QuoteMeta(`ON CONFLICT ("namespace","item_key") DO UPDATE SET "value"="excluded"."value","updated_at"="excluded"."updated_at"`)).
		WithArgs("buyer-A", "theme", "dark", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.SetItem(context.Background(), "theme", "dark"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStorage_PostgresGetItem(t *testing.T) {
	db, mock := setupMockDB(t)
	s := &SQLStorage{db: db, namespace: "buyer-A"}
	query := regexp.QuoteMeta(`SELECT * FROM "client_state_entries" WHERE namespace = $1 AND item_key = $2`)

	mock.ExpectQuery(query).WillReturnRows(
		sqlmock.NewRows([]string{"namespace", "item_key", "value", "updated_at"}).
			AddRow("buyer-A", "theme", "light", time.Now()))
	got, err := s.GetItem(context.Background(), "theme")
	require.NoError(t, err)
	assert.Equal(t, "light", got)

	mock.ExpectQuery(query).WillReturnRows(
		sqlmock.NewRows([]string{"namespace", "item_key", "value", "updated_at"}))
	_, err = s.GetItem(context.Background(), "persist:root")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStorage_PostgresRemoveItem(t *testing.T) {
	db, mock := setupMockDB(t)
	s := &SQLStorage{db: db, namespace: "seller-B"}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "client_state_entries" WHERE namespace = $1 AND item_key = $2`)).
		WithArgs("seller-B", "persist:root").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.RemoveItem(context.Background(), "persist:root"))
	require.NoError(t, mock.ExpectationsWereMet())
}
