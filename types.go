package formbase

import (
	"time"

	"github.com/google/uuid"
)

// LogicalType is the closed set of field types a form designer can pick.
// The schema generator maps each variant onto exactly one PostgreSQL
// column type; adding a variant requires extending that switch.
type LogicalType string

const (
	TypeShortText    LogicalType = "short_text"
	TypeLongText     LogicalType = "long_text"
	TypeEmail        LogicalType = "email"
	TypePhone        LogicalType = "phone"
	TypeNumber       LogicalType = "number"
	TypeURL          LogicalType = "url"
	TypeFile         LogicalType = "file"
	TypeImage        LogicalType = "image"
	TypeDate         LogicalType = "date"
	TypeTime         LogicalType = "time"
	TypeDateTime     LogicalType = "datetime"
	TypeBoolean      LogicalType = "boolean"
	TypeSingleChoice LogicalType = "single_choice"
	TypeRating       LogicalType = "rating"
	TypeSlider       LogicalType = "slider"
	TypeGeoPoint     LogicalType = "geo_point"
	TypeRegion       LogicalType = "region"
	TypeEnumCustom   LogicalType = "enum_custom"
)

// OwnerKind distinguishes a main form table from a sub-form table.
type OwnerKind string

const (
	OwnerKindForm    OwnerKind = "form"
	OwnerKindSubForm OwnerKind = "sub_form"
)

// FieldDefinition describes one logical input of a form. ID is stable for
// the life of the field: labels and types may change, the id never does,
// and the migration planner matches snapshots by it.
type FieldDefinition struct {
	ID           uuid.UUID   `json:"id"`
	Label        string      `json:"label"`
	ColumnName   string      `json:"columnName"`
	LogicalType  LogicalType `json:"logicalType"`
	Required     bool        `json:"required"`
	DisplayOrder int         `json:"displayOrder"`
	FormID       uuid.UUID   `json:"formId"`
	SubFormID    *uuid.UUID  `json:"subFormId,omitempty"`
}

// OwnerKey returns the partition key used when diffing snapshots: fields
// of different sub-forms must never be compared against each other.
func (f FieldDefinition) OwnerKey() uuid.UUID {
	if f.SubFormID != nil {
		return *f.SubFormID
	}
	return f.FormID
}

// TableBinding maps a form or sub-form to its physical table. Exactly one
// binding exists per owner; the table is renamed in place on title changes
// and dropped only when the owner is deleted.
type TableBinding struct {
	OwnerID   uuid.UUID `json:"ownerId"`
	OwnerKind OwnerKind `json:"ownerKind"`
	TableName string    `json:"tableName"`
	CreatedAt time.Time `json:"createdAt"`
}

// MigrationType identifies one kind of schema change.
type MigrationType string

const (
	MigrationAddField      MigrationType = "ADD_FIELD"
	MigrationDeleteField   MigrationType = "DELETE_FIELD"
	MigrationRenameField   MigrationType = "RENAME_FIELD"
	MigrationChangeType    MigrationType = "CHANGE_TYPE"
	MigrationReorderFields MigrationType = "REORDER_FIELDS"
	MigrationRestore       MigrationType = "RESTORE"
	MigrationRollback      MigrationType = "ROLLBACK"
)

// IsDestructive reports whether the migration type discards column data
// and therefore requires a backup before the DDL runs.
func (t MigrationType) IsDestructive() bool {
	return t == MigrationDeleteField || t == MigrationChangeType
}

// ChangeOp is one planned schema change produced by the migration planner.
// Only the fields relevant to Type are populated.
type ChangeOp struct {
	Type          MigrationType    `json:"type"`
	FormID        uuid.UUID        `json:"formId"`
	SubFormID     *uuid.UUID       `json:"subFormId,omitempty"`
	FieldID       *uuid.UUID       `json:"fieldId,omitempty"`
	ColumnName    string           `json:"columnName,omitempty"`
	OldColumnName string           `json:"oldColumnName,omitempty"`
	NewColumnName string           `json:"newColumnName,omitempty"`
	OldType       LogicalType      `json:"oldType,omitempty"`
	NewType       LogicalType      `json:"newType,omitempty"`
	Field         *FieldDefinition `json:"field,omitempty"`
}

// MigrationRecord is one append-only audit entry. It is inserted in the
// same transaction as the DDL it describes, so a committed record never
// lies about what happened; a failed DDL still leaves a success=false
// record behind (written separately after rollback).
type MigrationRecord struct {
	ID            uuid.UUID      `json:"id"`
	FieldID       *uuid.UUID     `json:"fieldId,omitempty"`
	FormID        uuid.UUID      `json:"formId"`
	MigrationType MigrationType  `json:"migrationType"`
	TableName     string         `json:"tableName"`
	ColumnName    string         `json:"columnName,omitempty"`
	OldValue      map[string]any `json:"oldValue,omitempty"`
	NewValue      map[string]any `json:"newValue,omitempty"`
	BackupID      *uuid.UUID     `json:"backupId,omitempty"`
	ExecutedBy    string         `json:"executedBy"`
	ExecutedAt    time.Time      `json:"executedAt"`
	Success       bool           `json:"success"`
	ErrorMessage  string         `json:"errorMessage,omitempty"`
	RollbackSQL   string         `json:"rollbackSql,omitempty"`
}

// BackupType marks why a column snapshot was taken.
type BackupType string

const (
	BackupPreDelete     BackupType = "pre_delete"
	BackupPreTypeChange BackupType = "pre_type_change"
)

// SnapshotEntry is one row's value for the backed-up column.
type SnapshotEntry struct {
	RowID string `json:"rowId"`
	Value any    `json:"value"`
}

// DataBackup is a point-in-time snapshot of one column. ColumnType keeps
// the SQL type the column had at backup time so a restore can re-create
// it without consulting live metadata. After the retention sweep removes
// a backup, MigrationRecord.BackupID keeps pointing at the deleted id:
// the audit trail deliberately outlives the payload.
type DataBackup struct {
	ID             uuid.UUID       `json:"id"`
	FieldID        *uuid.UUID      `json:"fieldId,omitempty"`
	FormID         uuid.UUID       `json:"formId"`
	TableName      string          `json:"tableName"`
	ColumnName     string          `json:"columnName"`
	ColumnType     string          `json:"columnType"`
	Snapshot       []SnapshotEntry `json:"dataSnapshot"`
	BackupType     BackupType      `json:"backupType"`
	RetentionUntil time.Time       `json:"retentionUntil"`
	CreatedBy      string          `json:"createdBy"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// RestoreResult reports the outcome of restoring a backup. Rows missing
// from the live table are skipped, not errored.
type RestoreResult struct {
	BackupID        uuid.UUID `json:"backupId"`
	ColumnRecreated bool      `json:"columnRecreated"`
	RowsRestored    int       `json:"rowsRestored"`
	RowsSkipped     int       `json:"rowsSkipped"`
}

// HistoryQuery filters the migration audit log.
type HistoryQuery struct {
	FormID   *uuid.UUID `json:"formId,omitempty"`
	Success  *bool      `json:"success,omitempty"`
	Page     int        `json:"page"`
	PageSize int        `json:"pageSize"`
}

// HistoryPage is one page of audit records.
type HistoryPage struct {
	Records []MigrationRecord `json:"records"`
	Total   int               `json:"total"`
	Page    int               `json:"page"`
	Pages   int               `json:"pages"`
}

// Preview is the dry-run result for a set of planned operations. No DDL
// is executed to produce it.
type Preview struct {
	SQL         []string `json:"sql"`
	RollbackSQL []string `json:"rollbackSql"`
	Risks       []string `json:"risks"`
}

// MigrationEvent is emitted to the notification collaborator once per
// completed or failed migration record. Delivery is fire-and-forget.
type MigrationEvent struct {
	Record     MigrationRecord `json:"record"`
	OccurredAt time.Time       `json:"occurredAt"`
}
