package formbase

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestFieldDefinition_OwnerKey(t *testing.T) {
	formID := uuid.New()
	subFormID := uuid.New()

	mainField := FieldDefinition{ID: uuid.New(), FormID: formID}
	assert.Equal(t, formID, mainField.OwnerKey())

	subField := FieldDefinition{ID: uuid.New(), FormID: formID, SubFormID: &subFormID}
	assert.Equal(t, subFormID, subField.OwnerKey())
}

func TestMigrationType_IsDestructive(t *testing.T) {
	destructive := []MigrationType{MigrationDeleteField, MigrationChangeType}
	for _, mt := range destructive {
		assert.True(t, mt.IsDestructive(), string(mt))
	}

	safe := []MigrationType{
		MigrationAddField, MigrationRenameField, MigrationReorderFields,
		MigrationRestore, MigrationRollback,
	}
	for _, mt := range safe {
		assert.False(t, mt.IsDestructive(), string(mt))
	}
}
