package internal

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/lychee-technology/formbase"
)

// ExecuteOptions tune one migration execution.
type ExecuteOptions struct {
	// Backup controls the pre-destructive snapshot. Defaults to true for
	// destructive operations; opting out is an explicit caller decision.
	Backup     bool
	ExecutedBy string
}

// MigrationExecutor applies one change operation transactionally. The DDL
// and its audit record commit together; a failed DDL rolls everything back
// and a success=false record is written afterwards in its own transaction,
// so the audit trail can neither claim a DDL that never happened nor stay
// silent about one that failed.
type MigrationExecutor struct {
	pool        dbPool
	backups     *BackupRepository
	migrations  *MigrationStore
	gen         *SchemaGenerator
	sampleLimit int
	lockTimeout time.Duration
	nowFunc     func() time.Time
}

// NewMigrationExecutor constructs a MigrationExecutor.
func NewMigrationExecutor(pool dbPool, backups *BackupRepository, migrations *MigrationStore, gen *SchemaGenerator, sampleLimit int, lockTimeout time.Duration) *MigrationExecutor {
	if sampleLimit <= 0 {
		sampleLimit = 1000
	}
	return &MigrationExecutor{
		pool:        pool,
		backups:     backups,
		migrations:  migrations,
		gen:         gen,
		sampleLimit: sampleLimit,
		lockTimeout: lockTimeout,
		nowFunc:     time.Now,
	}
}

func (e *MigrationExecutor) withClock(now func() time.Time) {
	if now != nil {
		e.nowFunc = now
	}
}

// Execute applies op against table. The returned record reflects what was
// audited, including on failure (record with Success=false plus the error).
func (e *MigrationExecutor) Execute(ctx context.Context, op formbase.ChangeOp, table string, opts ExecuteOptions) (*formbase.MigrationRecord, error) {
	plan, err := e.planStatement(op, table)
	if err != nil {
		return nil, err
	}

	record := &formbase.MigrationRecord{
		FieldID:       op.FieldID,
		FormID:        op.FormID,
		MigrationType: op.Type,
		TableName:     table,
		ColumnName:    plan.column,
		OldValue:      plan.oldValue,
		NewValue:      plan.newValue,
		ExecutedBy:    opts.ExecutedBy,
		RollbackSQL:   plan.rollbackSQL,
	}

	// CHANGE_TYPE is validated by sampling before any schema is touched:
	// destructive retyping is never attempted blind.
	if op.Type == formbase.MigrationChangeType {
		if err := e.validateConversion(ctx, table, op.ColumnName, op.NewType); err != nil {
			return nil, err
		}
	}

	if op.Type == formbase.MigrationReorderFields {
		// Metadata-only: display order lives outside the physical schema,
		// so the audit record is the whole operation.
		record.ExecutedAt = e.nowFunc().UTC()
		record.Success = true
		if err := e.migrations.Insert(ctx, e.pool, record); err != nil {
			return nil, err
		}
		return record, nil
	}

	execErr := e.applyInTransaction(ctx, op, plan, record, opts)
	if execErr == nil {
		zap.S().Infow("migration applied",
			"table", table, "type", op.Type, "column", plan.column)
		return record, nil
	}

	// The DDL transaction is gone; persist the failure in its own
	// transaction so the audit trail survives the rollback.
	record.Success = false
	record.ErrorMessage = execErr.Error()
	record.ExecutedAt = e.nowFunc().UTC()
	record.BackupID = nil
	if auditErr := e.migrations.Insert(ctx, e.pool, record); auditErr != nil {
		zap.S().Errorw("failed to write failure audit record",
			"table", table, "type", op.Type, "error", auditErr)
	}
	return record, execErr
}

func (e *MigrationExecutor) applyInTransaction(ctx context.Context, op formbase.ChangeOp, plan *statementPlan, record *formbase.MigrationRecord, opts ExecuteOptions) error {
	tx, err := e.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return formbase.NewDDLExecutionError(record.TableName, "begin transaction", err)
	}
	defer tx.Rollback(ctx) // no-op if committed

	if e.lockTimeout > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", e.lockTimeout.Milliseconds())); err != nil {
			return formbase.NewDDLExecutionError(record.TableName, "set lock timeout", err)
		}
	}

	if op.Type.IsDestructive() && opts.Backup {
		backupType := formbase.BackupPreDelete
		sqlType := e.gen.ColumnType(op.OldType)
		if op.Type == formbase.MigrationChangeType {
			backupType = formbase.BackupPreTypeChange
		}
		backup, err := e.backups.BackupColumnTx(ctx, tx, BackupRequest{
			TableName:  record.TableName,
			ColumnName: plan.column,
			SQLType:    sqlType,
			FieldID:    op.FieldID,
			FormID:     op.FormID,
			BackupType: backupType,
			CreatedBy:  opts.ExecutedBy,
		})
		if err != nil {
			return err
		}
		record.BackupID = &backup.ID
	}

	if _, err := tx.Exec(ctx, plan.ddl); err != nil {
		return formbase.NewDDLExecutionError(record.TableName, plan.ddl, err).WithColumn(plan.column)
	}

	record.ExecutedAt = e.nowFunc().UTC()
	record.Success = true
	if err := e.migrations.Insert(ctx, tx, record); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return formbase.NewDDLExecutionError(record.TableName, "commit migration", err)
	}
	return nil
}

type statementPlan struct {
	ddl         string
	rollbackSQL string
	column      string
	oldValue    map[string]any
	newValue    map[string]any
}

func (e *MigrationExecutor) planStatement(op formbase.ChangeOp, table string) (*statementPlan, error) {
	switch op.Type {
	case formbase.MigrationAddField:
		return &statementPlan{
			ddl:         e.gen.AddColumnStatement(table, op.ColumnName, op.NewType),
			rollbackSQL: e.gen.DropColumnStatement(table, op.ColumnName),
			column:      op.ColumnName,
			newValue:    map[string]any{"columnName": op.ColumnName, "type": string(op.NewType)},
		}, nil
	case formbase.MigrationDeleteField:
		// Rollback re-creates the column shape only; values come back
		// through restoreColumn, never through blind rollback SQL.
		return &statementPlan{
			ddl:         e.gen.DropColumnStatement(table, op.ColumnName),
			rollbackSQL: e.gen.AddColumnStatement(table, op.ColumnName, op.OldType),
			column:      op.ColumnName,
			oldValue:    map[string]any{"columnName": op.ColumnName, "type": string(op.OldType)},
		}, nil
	case formbase.MigrationRenameField:
		return &statementPlan{
			ddl:         e.gen.RenameColumnStatement(table, op.OldColumnName, op.NewColumnName),
			rollbackSQL: e.gen.RenameColumnStatement(table, op.NewColumnName, op.OldColumnName),
			column:      op.NewColumnName,
			oldValue:    map[string]any{"columnName": op.OldColumnName},
			newValue:    map[string]any{"columnName": op.NewColumnName},
		}, nil
	case formbase.MigrationChangeType:
		// The reverse cast is best effort: it may lose precision, which is
		// accepted and visible in the audit record.
		return &statementPlan{
			ddl:         e.gen.AlterColumnTypeStatement(table, op.ColumnName, op.NewType),
			rollbackSQL: e.gen.AlterColumnTypeStatement(table, op.ColumnName, op.OldType),
			column:      op.ColumnName,
			oldValue:    map[string]any{"oldType": string(op.OldType)},
			newValue:    map[string]any{"newType": string(op.NewType)},
		}, nil
	case formbase.MigrationReorderFields:
		return &statementPlan{}, nil
	default:
		return nil, formbase.NewError(formbase.ErrorTypeValidation, formbase.ErrCodeUnsupportedOperation,
			fmt.Sprintf("unsupported migration type %q", op.Type))
	}
}

// validateConversion samples up to sampleLimit non-null values and checks
// every one converts to the target type. Rejects with a descriptive error
// before any DDL when a sampled value cannot convert.
func (e *MigrationExecutor) validateConversion(ctx context.Context, table, column string, target formbase.LogicalType) error {
	if !needsConversionCheck(target) {
		return nil
	}
	query := fmt.Sprintf("SELECT %s::text FROM %s WHERE %s IS NOT NULL LIMIT %d",
		sanitizeIdentifier(column), sanitizeIdentifier(table), sanitizeIdentifier(column), e.sampleLimit)
	rows, err := e.pool.Query(ctx, query)
	if err != nil {
		return formbase.NewDDLExecutionError(table, "sample column values", err).WithColumn(column)
	}
	defer rows.Close()

	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return formbase.NewDDLExecutionError(table, "scan sampled value", err).WithColumn(column)
		}
		if !convertibleTo(value, target) {
			return formbase.NewIncompatibleConversionError(column, "", target,
				fmt.Sprintf("existing value %q cannot be converted to %s", value, target)).WithTable(table)
		}
	}
	if err := rows.Err(); err != nil {
		return formbase.NewDDLExecutionError(table, "iterate sampled values", err).WithColumn(column)
	}
	return nil
}

func needsConversionCheck(target formbase.LogicalType) bool {
	switch target {
	case formbase.TypeNumber, formbase.TypeRating, formbase.TypeSlider,
		formbase.TypeBoolean, formbase.TypeDate, formbase.TypeTime,
		formbase.TypeDateTime, formbase.TypeGeoPoint:
		return true
	}
	// Everything else widens to a text-backed type.
	return false
}

func convertibleTo(value string, target formbase.LogicalType) bool {
	v := strings.TrimSpace(value)
	if v == "" {
		return true
	}
	switch target {
	case formbase.TypeNumber:
		_, isString := tryParseNumber(v).(string)
		return !isString
	case formbase.TypeRating, formbase.TypeSlider:
		_, err := strconv.ParseInt(v, 10, 32)
		return err == nil
	case formbase.TypeBoolean:
		switch strings.ToLower(v) {
		case "true", "false", "t", "f", "1", "0", "yes", "no", "on", "off":
			return true
		}
		return false
	case formbase.TypeDate:
		return parsesAs(v, "2006-01-02", time.RFC3339)
	case formbase.TypeTime:
		return parsesAs(v, "15:04:05", "15:04")
	case formbase.TypeDateTime:
		return parsesAs(v, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02")
	case formbase.TypeGeoPoint:
		return parsesAsPoint(v)
	}
	return true
}

func parsesAs(v string, layouts ...string) bool {
	for _, layout := range layouts {
		if _, err := time.Parse(layout, v); err == nil {
			return true
		}
	}
	return false
}

func parsesAsPoint(v string) bool {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "(") || !strings.HasSuffix(v, ")") {
		return false
	}
	parts := strings.Split(v[1:len(v)-1], ",")
	if len(parts) != 2 {
		return false
	}
	for _, p := range parts {
		if _, err := strconv.ParseFloat(strings.TrimSpace(p), 64); err != nil {
			return false
		}
	}
	return true
}

// IsTransientError reports whether a DDL failure is worth retrying: lock
// timeouts, deadlocks, and serialization failures clear on their own,
// while anything else (bad statement, missing column) will fail the same
// way again.
func IsTransientError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03", "40001", "40P01": // lock_not_available, serialization_failure, deadlock_detected
			return true
		}
	}
	return false
}
