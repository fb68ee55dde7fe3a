package grants

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/access"
)

func TestSQLStore_RecordsActor(t *testing.T) {
	db := setupTestDB(t)
	store := NewSQLStore(db)

	ctx := WithActor(context.Background(), "root@co.com")
	require.NoError(t, store.Set(ctx, "alice@co.com", access.GrantSet{Pages: []string{"tasks"}}))

	var updatedBy string
	require.NoError(t, db.QueryRow("SELECT updated_by FROM user_grants WHERE email = $1", "alice@co.com").Scan(&updatedBy))
	assert.Equal(t, "root@co.com", updatedBy)
}

func TestSQLStore_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT pages, features FROM user_grants").
		WithArgs("alice@co.com").
		WillReturnError(errors.New("connection reset"))

	_, err = NewSQLStore(db).Get(context.Background(), "alice@co.com")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_CorruptDocument(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT pages, features FROM user_grants").
		WithArgs("alice@co.com").
		WillReturnRows(sqlmock.NewRows([]string{"pages", "features"}).AddRow("{not json", "[]"))

	_, err = NewSQLStore(db).Get(context.Background(), "alice@co.com")
	assert.Error(t, err)
}

func TestSQLStore_ExecError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO user_grants").
		WithArgs("alice@co.com", `["dashboard"]`, `[]`, sqlmock.AnyArg(), "").
		WillReturnError(errors.New("read-only transaction"))

	err = NewSQLStore(db).Set(context.Background(), "alice@co.com", access.GrantSet{Pages: []string{"dashboard"}})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
