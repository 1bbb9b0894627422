package internal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/lychee-technology/formbase"
)

// TableManager owns the owner -> physical-table lifecycle: first save
// creates the table and its binding, title changes rename in place, owner
// deletion drops both. It is the only component that creates tables.
type TableManager struct {
	pool       dbPool
	bindings   *BindingStore
	gen        *SchemaGenerator
	translator *IdentifierTranslator
	nowFunc    func() time.Time
}

// NewTableManager constructs a TableManager.
func NewTableManager(pool dbPool, bindings *BindingStore, gen *SchemaGenerator, translator *IdentifierTranslator) *TableManager {
	return &TableManager{
		pool:       pool,
		bindings:   bindings,
		gen:        gen,
		translator: translator,
		nowFunc:    time.Now,
	}
}

// ResolveColumnNames fills ColumnName for every field whose name is still
// empty, deriving it from the label. Collisions within the list get a
// stable suffix from the field id, so two fields labelled identically stay
// distinct without renaming the first one.
func (m *TableManager) ResolveColumnNames(ctx context.Context, fields []formbase.FieldDefinition) []formbase.FieldDefinition {
	out := make([]formbase.FieldDefinition, len(fields))
	copy(out, fields)
	taken := make(map[string]struct{}, len(out))
	for _, f := range out {
		if f.ColumnName != "" {
			taken[f.ColumnName] = struct{}{}
		}
	}
	for i, f := range out {
		if f.ColumnName != "" {
			continue
		}
		name := m.translator.ToIdentifier(ctx, f.Label, IdentifierKindColumn, "", 0)
		if _, clash := taken[name]; clash {
			name = m.translator.ToIdentifier(ctx, f.Label, IdentifierKindColumn, shortHash(f.ID.String(), 6), 0)
		}
		taken[name] = struct{}{}
		out[i].ColumnName = name
	}
	return out
}

// EnsureTable returns the owner's binding, creating the physical table,
// its indexes, and the binding in one transaction when the owner is saved
// for the first time. The table name carries a disambiguator derived from
// the owner id so two forms with the same title never collide.
func (m *TableManager) EnsureTable(ctx context.Context, ownerID uuid.UUID, kind formbase.OwnerKind, title string, fields []formbase.FieldDefinition) (*formbase.TableBinding, error) {
	binding, err := m.bindings.Get(ctx, ownerID)
	if err == nil {
		return binding, nil
	}
	if !formbase.IsNotFound(err) {
		return nil, err
	}

	tableName := m.translator.ToIdentifier(ctx, title, IdentifierKindTable,
		shortHash(ownerID.String(), 8), 0)

	schema, err := m.gen.GenerateSchema(tableName, fields, kind)
	if err != nil {
		return nil, err
	}

	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin create-table transaction: %w", err)
	}
	defer tx.Rollback(ctx) // no-op if committed

	if _, err := tx.Exec(ctx, schema.CreateStatement); err != nil {
		return nil, formbase.NewDDLExecutionError(tableName, schema.CreateStatement, err)
	}
	for _, idx := range schema.Indexes {
		if _, err := tx.Exec(ctx, idx); err != nil {
			return nil, formbase.NewDDLExecutionError(tableName, idx, err)
		}
	}

	binding = &formbase.TableBinding{
		OwnerID:   ownerID,
		OwnerKind: kind,
		TableName: tableName,
		CreatedAt: m.nowFunc().UTC(),
	}
	if err := m.bindings.Create(ctx, tx, binding); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit create-table transaction: %w", err)
	}

	zap.S().Infow("dynamic table created",
		"ownerId", ownerID, "kind", kind, "table", tableName, "columns", len(schema.Columns))
	return binding, nil
}

// RenameTable renames the owner's table in place after a title change.
// The binding is updated in the same transaction as the DDL.
func (m *TableManager) RenameTable(ctx context.Context, ownerID uuid.UUID, newTitle string) (*formbase.TableBinding, error) {
	binding, err := m.bindings.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	newName := m.translator.ToIdentifier(ctx, newTitle, IdentifierKindTable,
		shortHash(ownerID.String(), 8), 0)
	if newName == binding.TableName {
		return binding, nil
	}

	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin rename-table transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	ddl := m.gen.RenameTableStatement(binding.TableName, newName)
	if _, err := tx.Exec(ctx, ddl); err != nil {
		return nil, formbase.NewDDLExecutionError(binding.TableName, ddl, err)
	}
	if err := m.bindings.Rename(ctx, tx, ownerID, newName); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit rename-table transaction: %w", err)
	}

	zap.S().Infow("dynamic table renamed",
		"ownerId", ownerID, "from", binding.TableName, "to", newName)
	binding.TableName = newName
	return binding, nil
}

// DropTable removes the owner's table and binding. Only owner deletion
// calls this; ordinary field edits go through the migration queue.
func (m *TableManager) DropTable(ctx context.Context, ownerID uuid.UUID) error {
	binding, err := m.bindings.Get(ctx, ownerID)
	if err != nil {
		return err
	}

	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin drop-table transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	ddl := m.gen.DropTableStatement(binding.TableName)
	if _, err := tx.Exec(ctx, ddl); err != nil {
		return formbase.NewDDLExecutionError(binding.TableName, ddl, err)
	}
	if err := m.bindings.Delete(ctx, tx, ownerID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit drop-table transaction: %w", err)
	}

	zap.S().Infow("dynamic table dropped", "ownerId", ownerID, "table", binding.TableName)
	return nil
}
