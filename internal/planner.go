package internal

import (
	"sort"

	"github.com/google/uuid"

	"github.com/lychee-technology/formbase"
)

// MigrationPlanner diffs two field-list snapshots into an ordered list of
// change operations. Pure function of its inputs: no database, no clock.
type MigrationPlanner struct{}

// NewMigrationPlanner constructs a MigrationPlanner.
func NewMigrationPlanner() *MigrationPlanner {
	return &MigrationPlanner{}
}

// Diff compares snapshots taken before and after a form edit. Fields are
// matched by stable id, never by label or position: a relabelled field is
// a RENAME, not a DELETE+ADD, or its data would be silently dropped.
//
// Fields belonging to different sub-forms are partitioned before diffing
// so an edit confined to one sub-form can never emit false DELETE ops for
// another sub-form's fields on the same owning form.
func (p *MigrationPlanner) Diff(oldFields, newFields []formbase.FieldDefinition) []formbase.ChangeOp {
	oldParts := partitionByOwner(oldFields)
	newParts := partitionByOwner(newFields)

	keys := make([]uuid.UUID, 0, len(oldParts)+len(newParts))
	seen := make(map[uuid.UUID]struct{})
	for _, f := range oldFields {
		if _, ok := seen[f.OwnerKey()]; !ok {
			seen[f.OwnerKey()] = struct{}{}
			keys = append(keys, f.OwnerKey())
		}
	}
	for _, f := range newFields {
		if _, ok := seen[f.OwnerKey()]; !ok {
			seen[f.OwnerKey()] = struct{}{}
			keys = append(keys, f.OwnerKey())
		}
	}

	var ops []formbase.ChangeOp
	for _, key := range keys {
		ops = append(ops, diffPartition(oldParts[key], newParts[key])...)
	}
	return ops
}

func partitionByOwner(fields []formbase.FieldDefinition) map[uuid.UUID][]formbase.FieldDefinition {
	parts := make(map[uuid.UUID][]formbase.FieldDefinition)
	for _, f := range fields {
		parts[f.OwnerKey()] = append(parts[f.OwnerKey()], f)
	}
	return parts
}

// diffPartition applies the change rules in fixed order (add, delete,
// rename, retype, reorder) within one table's field list.
func diffPartition(oldFields, newFields []formbase.FieldDefinition) []formbase.ChangeOp {
	oldByID := make(map[uuid.UUID]formbase.FieldDefinition, len(oldFields))
	for _, f := range oldFields {
		oldByID[f.ID] = f
	}
	newByID := make(map[uuid.UUID]formbase.FieldDefinition, len(newFields))
	for _, f := range newFields {
		newByID[f.ID] = f
	}

	var adds, deletes, renames, retypes []formbase.ChangeOp

	for _, f := range sortedByOrder(newFields) {
		if _, existed := oldByID[f.ID]; !existed {
			field := f
			adds = append(adds, formbase.ChangeOp{
				Type:       formbase.MigrationAddField,
				FormID:     f.FormID,
				SubFormID:  f.SubFormID,
				FieldID:    &field.ID,
				ColumnName: f.ColumnName,
				NewType:    f.LogicalType,
				Field:      &field,
			})
		}
	}

	for _, f := range sortedByOrder(oldFields) {
		if _, kept := newByID[f.ID]; !kept {
			field := f
			deletes = append(deletes, formbase.ChangeOp{
				Type:       formbase.MigrationDeleteField,
				FormID:     f.FormID,
				SubFormID:  f.SubFormID,
				FieldID:    &field.ID,
				ColumnName: f.ColumnName,
				OldType:    f.LogicalType,
			})
		}
	}

	reorderOnly := len(adds) == 0 && len(deletes) == 0

	for _, newF := range sortedByOrder(newFields) {
		oldF, existed := oldByID[newF.ID]
		if !existed {
			continue
		}
		field := newF
		renamed := oldF.ColumnName != newF.ColumnName
		retyped := oldF.LogicalType != newF.LogicalType
		if renamed {
			renames = append(renames, formbase.ChangeOp{
				Type:          formbase.MigrationRenameField,
				FormID:        newF.FormID,
				SubFormID:     newF.SubFormID,
				FieldID:       &field.ID,
				OldColumnName: oldF.ColumnName,
				NewColumnName: newF.ColumnName,
			})
		}
		if retyped {
			// After a simultaneous rename the retype targets the new name.
			retypes = append(retypes, formbase.ChangeOp{
				Type:       formbase.MigrationChangeType,
				FormID:     newF.FormID,
				SubFormID:  newF.SubFormID,
				FieldID:    &field.ID,
				ColumnName: newF.ColumnName,
				OldType:    oldF.LogicalType,
				NewType:    newF.LogicalType,
			})
		}
		if renamed || retyped {
			reorderOnly = false
		}
	}

	ops := make([]formbase.ChangeOp, 0, len(adds)+len(deletes)+len(renames)+len(retypes)+1)
	ops = append(ops, adds...)
	ops = append(ops, deletes...)
	ops = append(ops, renames...)
	ops = append(ops, retypes...)

	if reorderOnly && displayOrderChanged(oldFields, newByID) {
		op := formbase.ChangeOp{Type: formbase.MigrationReorderFields}
		if len(newFields) > 0 {
			op.FormID = newFields[0].FormID
			op.SubFormID = newFields[0].SubFormID
		}
		ops = append(ops, op)
	}
	return ops
}

func sortedByOrder(fields []formbase.FieldDefinition) []formbase.FieldDefinition {
	out := make([]formbase.FieldDefinition, len(fields))
	copy(out, fields)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DisplayOrder < out[j].DisplayOrder
	})
	return out
}

func displayOrderChanged(oldFields []formbase.FieldDefinition, newByID map[uuid.UUID]formbase.FieldDefinition) bool {
	for _, oldF := range oldFields {
		if newF, ok := newByID[oldF.ID]; ok && newF.DisplayOrder != oldF.DisplayOrder {
			return true
		}
	}
	return false
}
