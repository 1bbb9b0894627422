package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/lychee-technology/formbase"
)

// Archiver exports a backup to long-term storage just before the retention
// sweep deletes it. A nil Archiver disables archiving.
type Archiver interface {
	Archive(ctx context.Context, backup *formbase.DataBackup) error
}

// BackupRequest describes one column snapshot.
type BackupRequest struct {
	TableName  string
	ColumnName string
	SQLType    string
	FieldID    *uuid.UUID
	FormID     uuid.UUID
	BackupType formbase.BackupType
	CreatedBy  string
}

// BackupRepository snapshots and restores column data.
type BackupRepository struct {
	pool       dbPool
	migrations *MigrationStore
	gen        *SchemaGenerator
	retention  time.Duration
	archiver   Archiver
	nowFunc    func() time.Time
}

// NewBackupRepository constructs a BackupRepository. archiver may be nil.
func NewBackupRepository(pool dbPool, migrations *MigrationStore, gen *SchemaGenerator, retention time.Duration, archiver Archiver) *BackupRepository {
	return &BackupRepository{
		pool:       pool,
		migrations: migrations,
		gen:        gen,
		retention:  retention,
		archiver:   archiver,
		nowFunc:    time.Now,
	}
}

func (r *BackupRepository) withClock(now func() time.Time) {
	if now != nil {
		r.nowFunc = now
	}
}

// BackupColumnTx snapshots every row's (row_id, value) pair for the column
// inside the caller's transaction. Running in the same transaction as the
// destructive DDL keeps the snapshot consistent with the drop (no row can
// slip in between) and rolls the backup away if the DDL later fails, so a
// failed migration never leaves an orphan backup behind.
func (r *BackupRepository) BackupColumnTx(ctx context.Context, tx pgx.Tx, req BackupRequest) (*formbase.DataBackup, error) {
	query := fmt.Sprintf("SELECT %s::text, %s FROM %s ORDER BY %s, %s",
		SystemColumnRowID,
		sanitizeIdentifier(req.ColumnName),
		sanitizeIdentifier(req.TableName),
		SystemColumnSubmittedAt,
		SystemColumnRowID,
	)
	rows, err := tx.Query(ctx, query)
	if err != nil {
		return nil, formbase.NewBackupError(req.TableName, req.ColumnName, err)
	}
	defer rows.Close()

	snapshot := make([]formbase.SnapshotEntry, 0, 64)
	for rows.Next() {
		var entry formbase.SnapshotEntry
		if err := rows.Scan(&entry.RowID, &entry.Value); err != nil {
			return nil, formbase.NewBackupError(req.TableName, req.ColumnName, err)
		}
		snapshot = append(snapshot, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, formbase.NewBackupError(req.TableName, req.ColumnName, err)
	}

	now := r.nowFunc().UTC()
	backup := &formbase.DataBackup{
		ID:             uuid.New(),
		FieldID:        req.FieldID,
		FormID:         req.FormID,
		TableName:      req.TableName,
		ColumnName:     req.ColumnName,
		ColumnType:     req.SQLType,
		Snapshot:       snapshot,
		BackupType:     req.BackupType,
		RetentionUntil: now.Add(r.retention),
		CreatedBy:      req.CreatedBy,
		CreatedAt:      now,
	}

	payload, err := json.Marshal(backup.Snapshot)
	if err != nil {
		return nil, formbase.NewBackupError(req.TableName, req.ColumnName, err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO formbase_data_backups
		 (id, field_id, form_id, table_name, column_name, column_type, data_snapshot, backup_type, retention_until, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		backup.ID, backup.FieldID, backup.FormID, backup.TableName, backup.ColumnName,
		backup.ColumnType, payload, backup.BackupType, backup.RetentionUntil,
		backup.CreatedBy, backup.CreatedAt); err != nil {
		return nil, formbase.NewBackupError(req.TableName, req.ColumnName, err)
	}

	zap.S().Infow("column snapshot taken",
		"table", req.TableName, "column", req.ColumnName,
		"rows", len(snapshot), "backupId", backup.ID)
	return backup, nil
}

const backupColumns = `id, field_id, form_id, table_name, column_name, column_type,
	data_snapshot, backup_type, retention_until, created_by, created_at`

// Get loads one backup by id.
func (r *BackupRepository) Get(ctx context.Context, id uuid.UUID) (*formbase.DataBackup, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+backupColumns+` FROM formbase_data_backups WHERE id = $1`, id)
	return scanBackup(row, id)
}

func scanBackup(row rowScanner, id uuid.UUID) (*formbase.DataBackup, error) {
	var (
		b   formbase.DataBackup
		raw []byte
	)
	if err := row.Scan(&b.ID, &b.FieldID, &b.FormID, &b.TableName, &b.ColumnName,
		&b.ColumnType, &raw, &b.BackupType, &b.RetentionUntil, &b.CreatedBy, &b.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, formbase.NewBackupNotFoundError(id.String())
		}
		return nil, fmt.Errorf("load backup: %w", err)
	}
	if err := json.Unmarshal(raw, &b.Snapshot); err != nil {
		return nil, fmt.Errorf("decode backup snapshot: %w", err)
	}
	return &b, nil
}

// RestoreColumn writes a backup's values back into the table, re-creating
// the column (with the type recorded at backup time) when it no longer
// exists. Rows that have since been deleted are skipped, not errored, and
// the restore appends a RESTORE audit record in the same transaction.
// Restoring does not consume the backup.
func (r *BackupRepository) RestoreColumn(ctx context.Context, backupID uuid.UUID, executedBy string) (*formbase.RestoreResult, error) {
	backup, err := r.Get(ctx, backupID)
	if err != nil {
		return nil, err
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin restore transaction: %w", err)
	}
	defer tx.Rollback(ctx) // no-op if committed

	recreated := false
	exists, err := columnExists(ctx, tx, backup.TableName, backup.ColumnName)
	if err != nil {
		return nil, err
	}
	if !exists {
		ddl := r.gen.AddColumnWithTypeStatement(backup.TableName, backup.ColumnName, backup.ColumnType)
		if _, err := tx.Exec(ctx, ddl); err != nil {
			return nil, formbase.NewDDLExecutionError(backup.TableName, "re-create column for restore", err)
		}
		recreated = true
	}

	updateSQL := fmt.Sprintf("UPDATE %s SET %s = $1 WHERE %s = $2::uuid",
		sanitizeIdentifier(backup.TableName),
		sanitizeIdentifier(backup.ColumnName),
		SystemColumnRowID)

	restored, skipped := 0, 0
	for _, entry := range backup.Snapshot {
		tag, err := tx.Exec(ctx, updateSQL, entry.Value, entry.RowID)
		if err != nil {
			return nil, fmt.Errorf("restore row %s: %w", entry.RowID, err)
		}
		if tag.RowsAffected() == 0 {
			skipped++
		} else {
			restored++
		}
	}

	record := &formbase.MigrationRecord{
		FieldID:       backup.FieldID,
		FormID:        backup.FormID,
		MigrationType: formbase.MigrationRestore,
		TableName:     backup.TableName,
		ColumnName:    backup.ColumnName,
		NewValue: map[string]any{
			"rowsRestored":    restored,
			"rowsSkipped":     skipped,
			"columnRecreated": recreated,
		},
		BackupID:   &backup.ID,
		ExecutedBy: executedBy,
		ExecutedAt: r.nowFunc().UTC(),
		Success:    true,
	}
	if err := r.migrations.Insert(ctx, tx, record); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit restore: %w", err)
	}

	zap.S().Infow("backup restored",
		"backupId", backup.ID, "table", backup.TableName, "column", backup.ColumnName,
		"restored", restored, "skipped", skipped, "recreated", recreated)

	return &formbase.RestoreResult{
		BackupID:        backup.ID,
		ColumnRecreated: recreated,
		RowsRestored:    restored,
		RowsSkipped:     skipped,
	}, nil
}

// SweepExpired deletes backups past their retention horizon. The sweep is
// a pure delete: audit records keep their backup_id references even after
// the payload is gone. When an archiver is configured, each backup is
// exported first; an archive failure keeps that backup for the next sweep.
func (r *BackupRepository) SweepExpired(ctx context.Context) (int, error) {
	now := r.nowFunc().UTC()
	rows, err := r.pool.Query(ctx,
		`SELECT `+backupColumns+` FROM formbase_data_backups WHERE retention_until < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("query expired backups: %w", err)
	}
	expired := make([]*formbase.DataBackup, 0, 16)
	for rows.Next() {
		b, err := scanBackup(rows, uuid.Nil)
		if err != nil {
			rows.Close()
			return 0, err
		}
		expired = append(expired, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate expired backups: %w", err)
	}

	deleted := 0
	for _, b := range expired {
		if r.archiver != nil {
			if err := r.archiver.Archive(ctx, b); err != nil {
				zap.S().Warnw("backup archive failed, keeping backup until next sweep",
					"backupId", b.ID, "error", err)
				continue
			}
		}
		if _, err := r.pool.Exec(ctx,
			`DELETE FROM formbase_data_backups WHERE id = $1`, b.ID); err != nil {
			return deleted, fmt.Errorf("delete expired backup %s: %w", b.ID, err)
		}
		deleted++
	}
	if deleted > 0 {
		zap.S().Infow("retention sweep completed", "deleted", deleted)
	}
	return deleted, nil
}

func columnExists(ctx context.Context, tx pgx.Tx, table, column string) (bool, error) {
	row := tx.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM information_schema.columns
			WHERE table_schema = current_schema() AND table_name = $1 AND column_name = $2
		)`, table, column)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, fmt.Errorf("check column existence: %w", err)
	}
	return exists, nil
}
