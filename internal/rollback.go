package internal

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/lychee-technology/formbase"
)

// RollbackRecord executes the rollback SQL stored on a successful audit
// record and appends a new ROLLBACK record referencing it. Schema shape
// only: data recovery for destructive migrations goes through
// RestoreColumn, never through rollback SQL.
func (e *MigrationExecutor) RollbackRecord(ctx context.Context, recordID uuid.UUID, executedBy string) (*formbase.MigrationRecord, error) {
	original, err := e.migrations.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if !original.Success {
		return nil, formbase.NewError(formbase.ErrorTypeValidation, formbase.ErrCodeInvalidArgument,
			fmt.Sprintf("migration record %s was not successful; nothing to roll back", recordID))
	}
	if original.RollbackSQL == "" {
		return nil, formbase.NewError(formbase.ErrorTypeValidation, formbase.ErrCodeUnsupportedOperation,
			fmt.Sprintf("migration record %s has no rollback statement", recordID))
	}

	record := &formbase.MigrationRecord{
		FieldID:       original.FieldID,
		FormID:        original.FormID,
		MigrationType: formbase.MigrationRollback,
		TableName:     original.TableName,
		ColumnName:    original.ColumnName,
		OldValue:      map[string]any{"rolledBackRecordId": original.ID.String()},
		BackupID:      original.BackupID,
		ExecutedBy:    executedBy,
	}

	tx, err := e.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, formbase.NewDDLExecutionError(original.TableName, "begin rollback transaction", err)
	}
	defer tx.Rollback(ctx) // no-op if committed

	if _, err := tx.Exec(ctx, original.RollbackSQL); err != nil {
		execErr := formbase.NewDDLExecutionError(original.TableName, original.RollbackSQL, err)
		record.Success = false
		record.ErrorMessage = execErr.Error()
		record.ExecutedAt = e.nowFunc().UTC()
		if auditErr := e.migrations.Insert(ctx, e.pool, record); auditErr != nil {
			zap.S().Errorw("failed to write rollback failure record",
				"recordId", recordID, "error", auditErr)
		}
		return record, execErr
	}

	record.ExecutedAt = e.nowFunc().UTC()
	record.Success = true
	if err := e.migrations.Insert(ctx, tx, record); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, formbase.NewDDLExecutionError(original.TableName, "commit rollback", err)
	}

	zap.S().Infow("migration rolled back",
		"recordId", recordID, "table", original.TableName, "column", original.ColumnName)
	return record, nil
}
