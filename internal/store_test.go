package internal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lychee-technology/formbase"
)

func TestBindingStore_Get(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ownerID := uuid.New()
	created := time.Now().UTC()
	rows := pgxmock.NewRows([]string{"owner_id", "owner_kind", "table_name", "created_at"}).
		AddRow(ownerID, formbase.OwnerKindForm, "customer_survey", created)
	mock.ExpectQuery(`SELECT owner_id, owner_kind, table_name, created_at FROM formbase_table_bindings`).
		WithArgs(ownerID).
		WillReturnRows(rows)

	store := NewBindingStore(mock)
	binding, err := store.Get(ctx, ownerID)
	require.NoError(t, err)
	assert.Equal(t, "customer_survey", binding.TableName)
	assert.Equal(t, formbase.OwnerKindForm, binding.OwnerKind)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBindingStore_GetNotFound(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ownerID := uuid.New()
	mock.ExpectQuery(`SELECT owner_id, owner_kind, table_name, created_at FROM formbase_table_bindings`).
		WithArgs(ownerID).
		WillReturnRows(pgxmock.NewRows([]string{"owner_id", "owner_kind", "table_name", "created_at"}))

	store := NewBindingStore(mock)
	_, err = store.Get(ctx, ownerID)
	require.Error(t, err)
	assert.True(t, formbase.IsNotFound(err))
	assert.True(t, formbase.IsErrorCode(err, formbase.ErrCodeBindingNotFound))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBindingStore_RenameMissingOwner(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ownerID := uuid.New()
	mock.ExpectExec(`UPDATE formbase_table_bindings SET table_name`).
		WithArgs(ownerID, "renamed").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	store := NewBindingStore(mock)
	err = store.Rename(ctx, mock, ownerID, "renamed")
	assert.True(t, formbase.IsNotFound(err))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrationStore_InsertAssignsID(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rec := &formbase.MigrationRecord{
		FormID:        uuid.New(),
		MigrationType: formbase.MigrationAddField,
		TableName:     "customer_survey",
		ColumnName:    "email",
		ExecutedBy:    "system",
		ExecutedAt:    time.Now().UTC(),
		Success:       true,
		NewValue:      map[string]any{"columnName": "email"},
	}

	mock.ExpectExec(`INSERT INTO formbase_migration_records`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), rec.FormID, rec.MigrationType, rec.TableName,
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), rec.ExecutedBy,
			rec.ExecutedAt, true, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	store := NewMigrationStore(mock)
	require.NoError(t, store.Insert(ctx, mock, rec))
	assert.NotEqual(t, uuid.Nil, rec.ID, "insert must assign an id")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrationStore_GetNotFound(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectQuery(`SELECT .+ FROM formbase_migration_records WHERE id`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	store := NewMigrationStore(mock)
	_, err = store.Get(ctx, id)
	assert.True(t, formbase.IsErrorCode(err, formbase.ErrCodeRecordNotFound))

	require.NoError(t, mock.ExpectationsWereMet())
}

func migrationRecordRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "field_id", "form_id", "migration_type", "table_name", "column_name",
		"old_value", "new_value", "backup_id", "executed_by", "executed_at",
		"success", "error_message", "rollback_sql",
	})
}

func TestMigrationStore_HistoryFiltersAndPages(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	formID := uuid.New()
	success := true

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM formbase_migration_records WHERE 1=1 AND form_id = \$1 AND success = \$2`).
		WithArgs(formID, success).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(5))

	rows := migrationRecordRows().
		AddRow(uuid.New(), nil, formID, formbase.MigrationAddField, "t", ptr("email"),
			nil, []byte(`{"columnName":"email"}`), nil, "system", time.Now().UTC(),
			true, nil, nil).
		AddRow(uuid.New(), nil, formID, formbase.MigrationRenameField, "t", ptr("years"),
			[]byte(`{"columnName":"age"}`), []byte(`{"columnName":"years"}`), nil, "system",
			time.Now().UTC(), true, nil, ptr("ALTER TABLE ..."))
	mock.ExpectQuery(`SELECT .+ FROM formbase_migration_records WHERE 1=1 AND form_id = \$1 AND success = \$2 ORDER BY executed_at DESC LIMIT \$3 OFFSET \$4`).
		WithArgs(formID, success, 2, 2).
		WillReturnRows(rows)

	store := NewMigrationStore(mock)
	page, err := store.History(ctx, formbase.HistoryQuery{
		FormID:   &formID,
		Success:  &success,
		Page:     2,
		PageSize: 2,
	})
	require.NoError(t, err)

	assert.Equal(t, 5, page.Total)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 3, page.Pages)
	require.Len(t, page.Records, 2)
	assert.Equal(t, "email", page.Records[0].ColumnName)
	assert.Equal(t, map[string]any{"columnName": "years"}, page.Records[1].NewValue)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrationStore_HistoryDefaults(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM formbase_migration_records WHERE 1=1`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT .+ FROM formbase_migration_records WHERE 1=1 ORDER BY executed_at DESC LIMIT \$1 OFFSET \$2`).
		WithArgs(50, 0).
		WillReturnRows(migrationRecordRows())

	store := NewMigrationStore(mock)
	page, err := store.History(ctx, formbase.HistoryQuery{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Zero(t, page.Pages)
	assert.Empty(t, page.Records)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureMetadataTables(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS formbase_table_bindings`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, EnsureMetadataTables(ctx, mock, NewSchemaGenerator()))
	require.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS formbase_table_bindings`).
		WillReturnError(errors.New("permission denied"))
	err = EnsureMetadataTables(ctx, mock, NewSchemaGenerator())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bootstrap metadata tables")
}

func ptr[T any](v T) *T {
	return &v
}

// anyArgs returns n pgxmock.AnyArg matchers; pgxmock v4 matches an
// expectation without WithArgs only against zero-argument calls, so
// arg-bearing statements need explicit matchers.
func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}
