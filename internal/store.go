package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lychee-technology/formbase"
)

// dbExecutor is the narrow surface shared by a pool and a transaction, so
// stores can write either standalone or inside a caller's transaction.
type dbExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// dbPool adds transaction control on top of dbExecutor. pgxpool.Pool and
// pgxmock both satisfy it.
type dbPool interface {
	dbExecutor
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

const (
	tableBindings         = "formbase_table_bindings"
	tableMigrationRecords = "formbase_migration_records"
	tableDataBackups      = "formbase_data_backups"
)

// BindingStore persists the one-to-one mapping from owners to physical
// tables.
type BindingStore struct {
	pool dbPool
}

// NewBindingStore constructs a BindingStore.
func NewBindingStore(pool dbPool) *BindingStore {
	return &BindingStore{pool: pool}
}

// Get loads the binding for an owner.
func (s *BindingStore) Get(ctx context.Context, ownerID uuid.UUID) (*formbase.TableBinding, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT owner_id, owner_kind, table_name, created_at FROM formbase_table_bindings WHERE owner_id = $1`,
		ownerID)
	var b formbase.TableBinding
	if err := row.Scan(&b.OwnerID, &b.OwnerKind, &b.TableName, &b.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, formbase.NewBindingNotFoundError(ownerID.String())
		}
		return nil, fmt.Errorf("load table binding: %w", err)
	}
	return &b, nil
}

// TableNameExists reports whether any binding already claims the name.
func (s *BindingStore) TableNameExists(ctx context.Context, tableName string) (bool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM formbase_table_bindings WHERE table_name = $1)`, tableName)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, fmt.Errorf("check table name: %w", err)
	}
	return exists, nil
}

// Create inserts a binding inside the caller's transaction, so table
// creation and binding registration commit or roll back together.
func (s *BindingStore) Create(ctx context.Context, tx dbExecutor, b *formbase.TableBinding) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO formbase_table_bindings (owner_id, owner_kind, table_name, created_at) VALUES ($1, $2, $3, $4)`,
		b.OwnerID, b.OwnerKind, b.TableName, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert table binding: %w", err)
	}
	return nil
}

// Rename updates the stored table name inside the caller's transaction.
func (s *BindingStore) Rename(ctx context.Context, tx dbExecutor, ownerID uuid.UUID, newTableName string) error {
	tag, err := tx.Exec(ctx,
		`UPDATE formbase_table_bindings SET table_name = $2 WHERE owner_id = $1`,
		ownerID, newTableName)
	if err != nil {
		return fmt.Errorf("rename table binding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return formbase.NewBindingNotFoundError(ownerID.String())
	}
	return nil
}

// Delete removes the binding inside the caller's transaction. Only owner
// deletion reaches here.
func (s *BindingStore) Delete(ctx context.Context, tx dbExecutor, ownerID uuid.UUID) error {
	if _, err := tx.Exec(ctx,
		`DELETE FROM formbase_table_bindings WHERE owner_id = $1`, ownerID); err != nil {
		return fmt.Errorf("delete table binding: %w", err)
	}
	return nil
}

// MigrationStore persists the append-only audit log. Records are never
// updated or deleted by normal operation.
type MigrationStore struct {
	pool dbPool
}

// NewMigrationStore constructs a MigrationStore.
func NewMigrationStore(pool dbPool) *MigrationStore {
	return &MigrationStore{pool: pool}
}

const migrationRecordColumns = `id, field_id, form_id, migration_type, table_name, column_name,
	old_value, new_value, backup_id, executed_by, executed_at, success, error_message, rollback_sql`

// Insert writes one audit record through the given executor. The executor
// is the migration's own transaction on the success path and the bare pool
// on the failure path, so a failed DDL still leaves its record behind.
func (s *MigrationStore) Insert(ctx context.Context, db dbExecutor, rec *formbase.MigrationRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	oldVal, err := marshalValueMap(rec.OldValue)
	if err != nil {
		return fmt.Errorf("marshal old value: %w", err)
	}
	newVal, err := marshalValueMap(rec.NewValue)
	if err != nil {
		return fmt.Errorf("marshal new value: %w", err)
	}
	_, err = db.Exec(ctx,
		`INSERT INTO formbase_migration_records (`+migrationRecordColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		rec.ID, rec.FieldID, rec.FormID, rec.MigrationType, rec.TableName, nullableString(rec.ColumnName),
		oldVal, newVal, rec.BackupID, rec.ExecutedBy, rec.ExecutedAt, rec.Success,
		nullableString(rec.ErrorMessage), nullableString(rec.RollbackSQL))
	if err != nil {
		return fmt.Errorf("insert migration record: %w", err)
	}
	return nil
}

// Get loads one audit record by id.
func (s *MigrationStore) Get(ctx context.Context, id uuid.UUID) (*formbase.MigrationRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+migrationRecordColumns+` FROM formbase_migration_records WHERE id = $1`, id)
	rec, err := scanMigrationRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, formbase.NewError(formbase.ErrorTypeNotFound, formbase.ErrCodeRecordNotFound,
				fmt.Sprintf("migration record %s not found", id))
		}
		return nil, err
	}
	return rec, nil
}

// History returns a page of audit records, newest first, optionally
// filtered by form and success flag.
func (s *MigrationStore) History(ctx context.Context, q formbase.HistoryQuery) (*formbase.HistoryPage, error) {
	page := q.Page
	if page < 1 {
		page = 1
	}
	pageSize := q.PageSize
	if pageSize < 1 {
		pageSize = 50
	}

	where := "WHERE 1=1"
	args := make([]any, 0, 4)
	if q.FormID != nil {
		args = append(args, *q.FormID)
		where += fmt.Sprintf(" AND form_id = $%d", len(args))
	}
	if q.Success != nil {
		args = append(args, *q.Success)
		where += fmt.Sprintf(" AND success = $%d", len(args))
	}

	var total int
	countRow := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM formbase_migration_records `+where, args...)
	if err := countRow.Scan(&total); err != nil {
		return nil, fmt.Errorf("count migration records: %w", err)
	}

	args = append(args, pageSize, (page-1)*pageSize)
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM formbase_migration_records %s ORDER BY executed_at DESC LIMIT $%d OFFSET $%d`,
			migrationRecordColumns, where, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, fmt.Errorf("query migration records: %w", err)
	}
	defer rows.Close()

	records := make([]formbase.MigrationRecord, 0, pageSize)
	for rows.Next() {
		rec, err := scanMigrationRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate migration records: %w", err)
	}

	pages := total / pageSize
	if total%pageSize != 0 {
		pages++
	}
	return &formbase.HistoryPage{Records: records, Total: total, Page: page, Pages: pages}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMigrationRecord(row rowScanner) (*formbase.MigrationRecord, error) {
	var (
		rec          formbase.MigrationRecord
		column       *string
		oldRaw       []byte
		newRaw       []byte
		errorMessage *string
		rollbackSQL  *string
	)
	if err := row.Scan(&rec.ID, &rec.FieldID, &rec.FormID, &rec.MigrationType, &rec.TableName,
		&column, &oldRaw, &newRaw, &rec.BackupID, &rec.ExecutedBy, &rec.ExecutedAt,
		&rec.Success, &errorMessage, &rollbackSQL); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan migration record: %w", err)
	}
	if column != nil {
		rec.ColumnName = *column
	}
	if errorMessage != nil {
		rec.ErrorMessage = *errorMessage
	}
	if rollbackSQL != nil {
		rec.RollbackSQL = *rollbackSQL
	}
	var err error
	if rec.OldValue, err = unmarshalValueMap(oldRaw); err != nil {
		return nil, fmt.Errorf("decode old value: %w", err)
	}
	if rec.NewValue, err = unmarshalValueMap(newRaw); err != nil {
		return nil, fmt.Errorf("decode new value: %w", err)
	}
	return &rec, nil
}

func marshalValueMap(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func unmarshalValueMap(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// EnsureMetadataTables creates the engine's metadata tables when missing.
func EnsureMetadataTables(ctx context.Context, pool dbPool, gen *SchemaGenerator) error {
	if _, err := pool.Exec(ctx, gen.MetadataBootstrapDDL()); err != nil {
		return fmt.Errorf("bootstrap metadata tables: %w", err)
	}
	return nil
}
