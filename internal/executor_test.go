package internal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lychee-technology/formbase"
)

func newExecutor(mock pgxmock.PgxPoolIface) *MigrationExecutor {
	migrations := NewMigrationStore(mock)
	gen := NewSchemaGenerator()
	backups := NewBackupRepository(mock, migrations, gen, 90*24*time.Hour, nil)
	return NewMigrationExecutor(mock, backups, migrations, gen, 1000, 5*time.Second)
}

func TestExecute_AddField(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	exec := newExecutor(mock)
	formID := uuid.New()
	fieldID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`SET LOCAL lock_timeout`).
		WillReturnResult(pgxmock.NewResult("SET", 0))
	mock.ExpectExec(`ALTER TABLE "customer_survey" ADD COLUMN "email" varchar\(255\)`).
		WillReturnResult(pgxmock.NewResult("ALTER", 0))
	mock.ExpectExec(`INSERT INTO formbase_migration_records`).
		WithArgs(anyArgs(14)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	record, err := exec.Execute(ctx, formbase.ChangeOp{
		Type:       formbase.MigrationAddField,
		FormID:     formID,
		FieldID:    &fieldID,
		ColumnName: "email",
		NewType:    formbase.TypeEmail,
	}, "customer_survey", ExecuteOptions{Backup: true, ExecutedBy: "system"})

	require.NoError(t, err)
	assert.True(t, record.Success)
	assert.Equal(t, formbase.MigrationAddField, record.MigrationType)
	assert.Equal(t, "email", record.ColumnName)
	assert.Contains(t, record.RollbackSQL, `DROP COLUMN "email"`)
	assert.Nil(t, record.BackupID, "adds are not destructive, no backup")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecute_DeleteFieldBacksUpFirst(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	exec := newExecutor(mock)
	formID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`SET LOCAL lock_timeout`).
		WillReturnResult(pgxmock.NewResult("SET", 0))
	// backup happens inside the same transaction, before the drop
	mock.ExpectQuery(`SELECT row_id::text, "fax" FROM "customer_survey"`).
		WillReturnRows(pgxmock.NewRows([]string{"row_id", "fax"}).AddRow(uuid.NewString(), "555-1234"))
	mock.ExpectExec(`INSERT INTO formbase_data_backups`).
		WithArgs(anyArgs(11)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`ALTER TABLE "customer_survey" DROP COLUMN "fax"`).
		WillReturnResult(pgxmock.NewResult("ALTER", 0))
	mock.ExpectExec(`INSERT INTO formbase_migration_records`).
		WithArgs(anyArgs(14)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	record, err := exec.Execute(ctx, formbase.ChangeOp{
		Type:       formbase.MigrationDeleteField,
		FormID:     formID,
		ColumnName: "fax",
		OldType:    formbase.TypePhone,
	}, "customer_survey", ExecuteOptions{Backup: true, ExecutedBy: "system"})

	require.NoError(t, err)
	assert.True(t, record.Success)
	require.NotNil(t, record.BackupID, "destructive op must record its backup")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecute_DeleteFieldBackupDisabled(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	exec := newExecutor(mock)

	mock.ExpectBegin()
	mock.ExpectExec(`SET LOCAL lock_timeout`).
		WillReturnResult(pgxmock.NewResult("SET", 0))
	mock.ExpectExec(`ALTER TABLE "customer_survey" DROP COLUMN "fax"`).
		WillReturnResult(pgxmock.NewResult("ALTER", 0))
	mock.ExpectExec(`INSERT INTO formbase_migration_records`).
		WithArgs(anyArgs(14)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	record, err := exec.Execute(ctx, formbase.ChangeOp{
		Type:       formbase.MigrationDeleteField,
		FormID:     uuid.New(),
		ColumnName: "fax",
		OldType:    formbase.TypePhone,
	}, "customer_survey", ExecuteOptions{Backup: false, ExecutedBy: "system"})

	require.NoError(t, err)
	assert.Nil(t, record.BackupID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecute_ChangeTypeRejectsBadSample(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	exec := newExecutor(mock)

	// sampling runs before any transaction; "abc" kills the conversion
	mock.ExpectQuery(`SELECT "age"::text FROM "customer_survey" WHERE "age" IS NOT NULL LIMIT 1000`).
		WillReturnRows(pgxmock.NewRows([]string{"age"}).
			AddRow("12").AddRow("34").AddRow("abc"))

	_, err = exec.Execute(ctx, formbase.ChangeOp{
		Type:       formbase.MigrationChangeType,
		FormID:     uuid.New(),
		ColumnName: "age",
		OldType:    formbase.TypeShortText,
		NewType:    formbase.TypeNumber,
	}, "customer_survey", ExecuteOptions{Backup: true, ExecutedBy: "system"})

	require.Error(t, err)
	assert.True(t, formbase.IsConversionError(err))
	assert.Contains(t, err.Error(), `"abc"`)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecute_ChangeTypeValidSampleProceeds(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	exec := newExecutor(mock)

	mock.ExpectQuery(`SELECT "age"::text FROM "customer_survey" WHERE "age" IS NOT NULL LIMIT 1000`).
		WillReturnRows(pgxmock.NewRows([]string{"age"}).AddRow("12").AddRow("34.5"))
	mock.ExpectBegin()
	mock.ExpectExec(`SET LOCAL lock_timeout`).
		WillReturnResult(pgxmock.NewResult("SET", 0))
	mock.ExpectQuery(`SELECT row_id::text, "age" FROM "customer_survey"`).
		WillReturnRows(pgxmock.NewRows([]string{"row_id", "age"}).AddRow(uuid.NewString(), "12"))
	mock.ExpectExec(`INSERT INTO formbase_data_backups`).
		WithArgs(anyArgs(11)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`ALTER TABLE "customer_survey" ALTER COLUMN "age" TYPE numeric\(10,2\) USING "age"::numeric\(10,2\)`).
		WillReturnResult(pgxmock.NewResult("ALTER", 0))
	mock.ExpectExec(`INSERT INTO formbase_migration_records`).
		WithArgs(anyArgs(14)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	record, err := exec.Execute(ctx, formbase.ChangeOp{
		Type:       formbase.MigrationChangeType,
		FormID:     uuid.New(),
		ColumnName: "age",
		OldType:    formbase.TypeShortText,
		NewType:    formbase.TypeNumber,
	}, "customer_survey", ExecuteOptions{Backup: true, ExecutedBy: "system"})

	require.NoError(t, err)
	assert.True(t, record.Success)
	assert.NotNil(t, record.BackupID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecute_ReorderIsMetadataOnly(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	exec := newExecutor(mock)

	// no transaction, no DDL: just the audit record
	mock.ExpectExec(`INSERT INTO formbase_migration_records`).
		WithArgs(anyArgs(14)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	record, err := exec.Execute(ctx, formbase.ChangeOp{
		Type:   formbase.MigrationReorderFields,
		FormID: uuid.New(),
	}, "customer_survey", ExecuteOptions{Backup: true, ExecutedBy: "system"})

	require.NoError(t, err)
	assert.True(t, record.Success)
	assert.Empty(t, record.RollbackSQL)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecute_DDLFailureWritesFailureRecord(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	exec := newExecutor(mock)
	ddlErr := &pgconn.PgError{Code: "42703", Message: "column does not exist"}

	mock.ExpectBegin()
	mock.ExpectExec(`SET LOCAL lock_timeout`).
		WillReturnResult(pgxmock.NewResult("SET", 0))
	mock.ExpectExec(`ALTER TABLE "customer_survey" RENAME COLUMN "age" TO "years"`).
		WillReturnError(ddlErr)
	mock.ExpectRollback()
	// failure record goes through the pool in its own implicit transaction
	mock.ExpectExec(`INSERT INTO formbase_migration_records`).
		WithArgs(anyArgs(14)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	record, err := exec.Execute(ctx, formbase.ChangeOp{
		Type:          formbase.MigrationRenameField,
		FormID:        uuid.New(),
		OldColumnName: "age",
		NewColumnName: "years",
	}, "customer_survey", ExecuteOptions{Backup: true, ExecutedBy: "system"})

	require.Error(t, err)
	assert.True(t, formbase.IsErrorCode(err, formbase.ErrCodeDDLExecutionFailed))
	require.NotNil(t, record)
	assert.False(t, record.Success)
	assert.Contains(t, record.ErrorMessage, "column does not exist")
	assert.Nil(t, record.BackupID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecute_UnsupportedType(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	exec := newExecutor(mock)
	_, err = exec.Execute(context.Background(), formbase.ChangeOp{
		Type: formbase.MigrationType("SPLIT_FIELD"),
	}, "t", ExecuteOptions{})
	assert.True(t, formbase.IsErrorCode(err, formbase.ErrCodeUnsupportedOperation))
}

func TestConvertibleTo(t *testing.T) {
	cases := []struct {
		value  string
		target formbase.LogicalType
		ok     bool
	}{
		{"12", formbase.TypeNumber, true},
		{"34.5", formbase.TypeNumber, true},
		{"-7", formbase.TypeNumber, true},
		{"abc", formbase.TypeNumber, false},
		{"", formbase.TypeNumber, true},
		{"5", formbase.TypeRating, true},
		{"5.5", formbase.TypeRating, false},
		{"yes", formbase.TypeBoolean, true},
		{"TRUE", formbase.TypeBoolean, true},
		{"maybe", formbase.TypeBoolean, false},
		{"2026-01-31", formbase.TypeDate, true},
		{"31/01/2026", formbase.TypeDate, false},
		{"13:45:00", formbase.TypeTime, true},
		{"13:45", formbase.TypeTime, true},
		{"2026-01-31T13:45:00Z", formbase.TypeDateTime, true},
		{"(13.75, 100.5)", formbase.TypeGeoPoint, true},
		{"13.75, 100.5", formbase.TypeGeoPoint, false},
		{"anything", formbase.TypeShortText, true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, convertibleTo(tc.value, tc.target),
			"value %q to %s", tc.value, tc.target)
	}
}

func TestIsTransientError(t *testing.T) {
	assert.True(t, IsTransientError(&pgconn.PgError{Code: "55P03"}))
	assert.True(t, IsTransientError(&pgconn.PgError{Code: "40001"}))
	assert.True(t, IsTransientError(&pgconn.PgError{Code: "40P01"}))
	assert.False(t, IsTransientError(&pgconn.PgError{Code: "42703"}))
	assert.False(t, IsTransientError(errors.New("plain error")))

	wrapped := formbase.NewDDLExecutionError("t", "stmt", &pgconn.PgError{Code: "55P03"})
	assert.True(t, IsTransientError(wrapped), "transient codes survive wrapping")
}
