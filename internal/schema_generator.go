package internal

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/lychee-technology/formbase"
)

// System columns present on every generated table. Sub-form tables carry
// an extra reference to their parent row.
const (
	SystemColumnRowID       = "row_id"
	SystemColumnOwnerRef    = "form_id"
	SystemColumnParentRow   = "parent_row_id"
	SystemColumnSubmittedAt = "submitted_at"
)

// ColumnSpec is one generated column definition.
type ColumnSpec struct {
	Name    string    `json:"name"`
	SQLType string    `json:"sqlType"`
	FieldID uuid.UUID `json:"fieldId"`
}

// GeneratedSchema is the pure output of schema generation: statements are
// produced but never executed here, so previews and tests need no database.
type GeneratedSchema struct {
	TableName       string       `json:"tableName"`
	CreateStatement string       `json:"createStatement"`
	Columns         []ColumnSpec `json:"columns"`
	Indexes         []string     `json:"indexes"`
}

// SchemaGenerator maps field lists onto PostgreSQL DDL.
type SchemaGenerator struct{}

// NewSchemaGenerator constructs a SchemaGenerator.
func NewSchemaGenerator() *SchemaGenerator {
	return &SchemaGenerator{}
}

// ColumnType maps a logical field type to its physical column type. The
// switch is exhaustive over the closed LogicalType set; unknown values get
// text so a forward-compatible payload degrades instead of failing.
func (g *SchemaGenerator) ColumnType(t formbase.LogicalType) string {
	switch t {
	case formbase.TypeShortText, formbase.TypeEmail, formbase.TypeSingleChoice,
		formbase.TypeRegion, formbase.TypeEnumCustom:
		return "varchar(255)"
	case formbase.TypePhone:
		return "varchar(50)"
	case formbase.TypeLongText, formbase.TypeURL, formbase.TypeFile, formbase.TypeImage:
		return "text"
	case formbase.TypeNumber:
		return "numeric(10,2)"
	case formbase.TypeRating, formbase.TypeSlider:
		return "integer"
	case formbase.TypeBoolean:
		return "boolean"
	case formbase.TypeDate:
		return "date"
	case formbase.TypeTime:
		return "time"
	case formbase.TypeDateTime:
		return "timestamptz"
	case formbase.TypeGeoPoint:
		return "point"
	default:
		return "text"
	}
}

// GenerateSchema emits the CREATE TABLE statement, column specs, and index
// definitions for an owner's field list. Fields are laid out in
// displayOrder. Duplicate field ids or column names are rejected before
// any DDL could run.
func (g *SchemaGenerator) GenerateSchema(tableName string, fields []formbase.FieldDefinition, kind formbase.OwnerKind) (*GeneratedSchema, error) {
	if tableName == "" {
		return nil, formbase.NewSchemaGenerationError(formbase.ErrCodeInvalidArgument, "table name cannot be empty")
	}
	if err := validateFieldList(fields); err != nil {
		return nil, err
	}

	ordered := make([]formbase.FieldDefinition, len(fields))
	copy(ordered, fields)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].DisplayOrder < ordered[j].DisplayOrder
	})

	lines := []string{
		fmt.Sprintf("%s uuid PRIMARY KEY DEFAULT gen_random_uuid()", SystemColumnRowID),
		fmt.Sprintf("%s uuid NOT NULL", SystemColumnOwnerRef),
	}
	if kind == formbase.OwnerKindSubForm {
		lines = append(lines, fmt.Sprintf("%s uuid NOT NULL", SystemColumnParentRow))
	}
	lines = append(lines, fmt.Sprintf("%s timestamptz NOT NULL DEFAULT now()", SystemColumnSubmittedAt))

	columns := make([]ColumnSpec, 0, len(ordered))
	for _, f := range ordered {
		sqlType := g.ColumnType(f.LogicalType)
		columns = append(columns, ColumnSpec{Name: f.ColumnName, SQLType: sqlType, FieldID: f.ID})
		lines = append(lines, fmt.Sprintf("%s %s", sanitizeIdentifier(f.ColumnName), sqlType))
	}

	create := fmt.Sprintf("CREATE TABLE %s (\n    %s\n)",
		sanitizeIdentifier(tableName), strings.Join(lines, ",\n    "))

	// Index the frequently filtered system columns only: indexing user
	// fields would grow unbounded on high-cardinality text.
	indexes := []string{
		g.indexStatement(tableName, SystemColumnOwnerRef),
		g.indexStatement(tableName, SystemColumnSubmittedAt),
	}
	if kind == formbase.OwnerKindSubForm {
		indexes = append(indexes, g.indexStatement(tableName, SystemColumnParentRow))
	}

	return &GeneratedSchema{
		TableName:       tableName,
		CreateStatement: create,
		Columns:         columns,
		Indexes:         indexes,
	}, nil
}

func (g *SchemaGenerator) indexStatement(table, column string) string {
	name := fmt.Sprintf("idx_%s_%s", table, column)
	if len(name) > DefaultMaxIdentifierLen {
		name = truncateIdentifier(name, DefaultMaxIdentifierLen-9) + "_" + shortHash(name, 8)
	}
	return fmt.Sprintf("CREATE INDEX %s ON %s (%s)",
		sanitizeIdentifier(name), sanitizeIdentifier(table), sanitizeIdentifier(column))
}

// AddColumnStatement emits the DDL for adding one field column.
func (g *SchemaGenerator) AddColumnStatement(table, column string, t formbase.LogicalType) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
		sanitizeIdentifier(table), sanitizeIdentifier(column), g.ColumnType(t))
}

// AddColumnWithTypeStatement emits ADD COLUMN with a raw SQL type; used by
// restore, which re-creates a column with the type stored in the backup.
func (g *SchemaGenerator) AddColumnWithTypeStatement(table, column, sqlType string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
		sanitizeIdentifier(table), sanitizeIdentifier(column), sqlType)
}

// DropColumnStatement emits the DDL for dropping one column.
func (g *SchemaGenerator) DropColumnStatement(table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s",
		sanitizeIdentifier(table), sanitizeIdentifier(column))
}

// RenameColumnStatement emits the DDL for renaming one column.
func (g *SchemaGenerator) RenameColumnStatement(table, oldColumn, newColumn string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s",
		sanitizeIdentifier(table), sanitizeIdentifier(oldColumn), sanitizeIdentifier(newColumn))
}

// AlterColumnTypeStatement emits the DDL for retyping one column with an
// explicit cast of existing values.
func (g *SchemaGenerator) AlterColumnTypeStatement(table, column string, newType formbase.LogicalType) string {
	sqlType := g.ColumnType(newType)
	return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s",
		sanitizeIdentifier(table), sanitizeIdentifier(column), sqlType,
		sanitizeIdentifier(column), sqlType)
}

// AlterColumnRawTypeStatement is the raw-SQL-type variant used for
// rollback statements, where only the SQL type at backup time is known.
func (g *SchemaGenerator) AlterColumnRawTypeStatement(table, column, sqlType string) string {
	return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s",
		sanitizeIdentifier(table), sanitizeIdentifier(column), sqlType,
		sanitizeIdentifier(column), sqlType)
}

// RenameTableStatement emits the DDL for renaming a table in place.
func (g *SchemaGenerator) RenameTableStatement(oldName, newName string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME TO %s",
		sanitizeIdentifier(oldName), sanitizeIdentifier(newName))
}

// DropTableStatement emits the DDL for dropping an owner's table. Only the
// owner-deletion flow uses it.
func (g *SchemaGenerator) DropTableStatement(table string) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s", sanitizeIdentifier(table))
}

func validateFieldList(fields []formbase.FieldDefinition) error {
	seenIDs := make(map[uuid.UUID]struct{}, len(fields))
	seenColumns := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if f.ID == uuid.Nil {
			return formbase.NewSchemaGenerationError(formbase.ErrCodeInvalidArgument,
				fmt.Sprintf("field %q has no id", f.Label))
		}
		if f.ColumnName == "" {
			return formbase.NewSchemaGenerationError(formbase.ErrCodeInvalidArgument,
				fmt.Sprintf("field %q has no column name", f.Label))
		}
		if _, dup := seenIDs[f.ID]; dup {
			return formbase.NewSchemaGenerationError(formbase.ErrCodeDuplicateFieldID,
				fmt.Sprintf("duplicate field id %s", f.ID))
		}
		if _, dup := seenColumns[f.ColumnName]; dup {
			return formbase.NewSchemaGenerationError(formbase.ErrCodeDuplicateColumnName,
				fmt.Sprintf("duplicate column name %q", f.ColumnName))
		}
		seenIDs[f.ID] = struct{}{}
		seenColumns[f.ColumnName] = struct{}{}
	}
	return nil
}

// Bootstrap DDL for the engine's own metadata tables. Executed with
// CREATE IF NOT EXISTS at startup by the factory.
const metadataBootstrapDDL = `
CREATE TABLE IF NOT EXISTS formbase_table_bindings (
    owner_id uuid PRIMARY KEY,
    owner_kind varchar(20) NOT NULL,
    table_name varchar(63) NOT NULL UNIQUE,
    created_at timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS formbase_migration_records (
    id uuid PRIMARY KEY,
    field_id uuid,
    form_id uuid NOT NULL,
    migration_type varchar(20) NOT NULL,
    table_name varchar(63) NOT NULL,
    column_name varchar(63),
    old_value jsonb,
    new_value jsonb,
    backup_id uuid,
    executed_by varchar(255) NOT NULL,
    executed_at timestamptz NOT NULL,
    success boolean NOT NULL,
    error_message text,
    rollback_sql text
);

CREATE INDEX IF NOT EXISTS idx_formbase_migration_records_form
ON formbase_migration_records (form_id, executed_at);

CREATE TABLE IF NOT EXISTS formbase_data_backups (
    id uuid PRIMARY KEY,
    field_id uuid,
    form_id uuid NOT NULL,
    table_name varchar(63) NOT NULL,
    column_name varchar(63) NOT NULL,
    column_type varchar(100) NOT NULL,
    data_snapshot jsonb NOT NULL,
    backup_type varchar(20) NOT NULL,
    retention_until timestamptz NOT NULL,
    created_by varchar(255) NOT NULL,
    created_at timestamptz NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_formbase_data_backups_retention
ON formbase_data_backups (retention_until);
`

// MetadataBootstrapDDL returns the metadata-table bootstrap statements.
func (g *SchemaGenerator) MetadataBootstrapDDL() string {
	return metadataBootstrapDDL
}
