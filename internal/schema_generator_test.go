package internal

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lychee-technology/formbase"
)

func TestColumnType(t *testing.T) {
	g := NewSchemaGenerator()

	cases := map[formbase.LogicalType]string{
		formbase.TypeShortText:    "varchar(255)",
		formbase.TypeEmail:        "varchar(255)",
		formbase.TypeSingleChoice: "varchar(255)",
		formbase.TypePhone:        "varchar(50)",
		formbase.TypeLongText:     "text",
		formbase.TypeURL:          "text",
		formbase.TypeNumber:       "numeric(10,2)",
		formbase.TypeRating:       "integer",
		formbase.TypeSlider:       "integer",
		formbase.TypeBoolean:      "boolean",
		formbase.TypeDate:         "date",
		formbase.TypeTime:         "time",
		formbase.TypeDateTime:     "timestamptz",
		formbase.TypeGeoPoint:     "point",
	}
	for logical, physical := range cases {
		assert.Equal(t, physical, g.ColumnType(logical), "type %s", logical)
	}

	// unknown logical types degrade to text
	assert.Equal(t, "text", g.ColumnType(formbase.LogicalType("hologram")))
}

func TestGenerateSchema_FormTable(t *testing.T) {
	g := NewSchemaGenerator()
	formID := uuid.New()

	fields := []formbase.FieldDefinition{
		field(formID, "email", formbase.TypeEmail, 1),
		field(formID, "name", formbase.TypeShortText, 0),
	}

	schema, err := g.GenerateSchema("customer_survey", fields, formbase.OwnerKindForm)
	require.NoError(t, err)

	assert.Equal(t, "customer_survey", schema.TableName)
	assert.Contains(t, schema.CreateStatement, `"row_id" uuid PRIMARY KEY DEFAULT gen_random_uuid()`)
	assert.Contains(t, schema.CreateStatement, `"form_id" uuid NOT NULL`)
	assert.Contains(t, schema.CreateStatement, `"submitted_at" timestamptz NOT NULL DEFAULT now()`)
	assert.NotContains(t, schema.CreateStatement, "parent_row_id")

	// columns come out in display order
	require.Len(t, schema.Columns, 2)
	assert.Equal(t, "name", schema.Columns[0].Name)
	assert.Equal(t, "email", schema.Columns[1].Name)
	assert.Less(t,
		strings.Index(schema.CreateStatement, `"name"`),
		strings.Index(schema.CreateStatement, `"email"`))

	require.Len(t, schema.Indexes, 2)
	assert.Contains(t, schema.Indexes[0], "form_id")
	assert.Contains(t, schema.Indexes[1], "submitted_at")
}

func TestGenerateSchema_SubFormTable(t *testing.T) {
	g := NewSchemaGenerator()
	formID := uuid.New()

	schema, err := g.GenerateSchema("order_items",
		[]formbase.FieldDefinition{field(formID, "qty", formbase.TypeNumber, 0)},
		formbase.OwnerKindSubForm)
	require.NoError(t, err)

	assert.Contains(t, schema.CreateStatement, `"parent_row_id" uuid NOT NULL`)
	require.Len(t, schema.Indexes, 3)
	assert.Contains(t, schema.Indexes[2], "parent_row_id")
}

func TestGenerateSchema_Validation(t *testing.T) {
	g := NewSchemaGenerator()
	formID := uuid.New()

	_, err := g.GenerateSchema("", nil, formbase.OwnerKindForm)
	assert.True(t, formbase.IsValidationError(err))

	dup := field(formID, "name", formbase.TypeShortText, 0)
	_, err = g.GenerateSchema("t", []formbase.FieldDefinition{dup, dup}, formbase.OwnerKindForm)
	assert.True(t, formbase.IsErrorCode(err, formbase.ErrCodeDuplicateFieldID))

	a := field(formID, "name", formbase.TypeShortText, 0)
	b := field(formID, "name", formbase.TypeShortText, 1)
	_, err = g.GenerateSchema("t", []formbase.FieldDefinition{a, b}, formbase.OwnerKindForm)
	assert.True(t, formbase.IsErrorCode(err, formbase.ErrCodeDuplicateColumnName))

	noID := formbase.FieldDefinition{ColumnName: "x", FormID: formID}
	_, err = g.GenerateSchema("t", []formbase.FieldDefinition{noID}, formbase.OwnerKindForm)
	assert.Error(t, err)
}

func TestAlterStatements(t *testing.T) {
	g := NewSchemaGenerator()

	assert.Equal(t,
		`ALTER TABLE "members" ADD COLUMN "age" numeric(10,2)`,
		g.AddColumnStatement("members", "age", formbase.TypeNumber))

	assert.Equal(t,
		`ALTER TABLE "members" ADD COLUMN "age" varchar(255)`,
		g.AddColumnWithTypeStatement("members", "age", "varchar(255)"))

	assert.Equal(t,
		`ALTER TABLE "members" DROP COLUMN "fax"`,
		g.DropColumnStatement("members", "fax"))

	assert.Equal(t,
		`ALTER TABLE "members" RENAME COLUMN "age" TO "years"`,
		g.RenameColumnStatement("members", "age", "years"))

	assert.Equal(t,
		`ALTER TABLE "members" ALTER COLUMN "age" TYPE numeric(10,2) USING "age"::numeric(10,2)`,
		g.AlterColumnTypeStatement("members", "age", formbase.TypeNumber))

	assert.Equal(t,
		`ALTER TABLE "members" RENAME TO "people"`,
		g.RenameTableStatement("members", "people"))

	assert.Equal(t,
		`DROP TABLE IF EXISTS "members"`,
		g.DropTableStatement("members"))
}

func TestAlterStatements_QuoteInjection(t *testing.T) {
	g := NewSchemaGenerator()

	// embedded quotes are doubled, never terminate the identifier
	stmt := g.DropColumnStatement(`mem"bers`, `fa"x`)
	assert.Contains(t, stmt, `"mem""bers"`)
	assert.Contains(t, stmt, `"fa""x"`)
}

func TestIndexStatement_LongNamesStayUnderLimit(t *testing.T) {
	g := NewSchemaGenerator()

	table := strings.Repeat("x", 60)
	stmt := g.indexStatement(table, "submitted_at")
	// index name is the first quoted identifier in the statement
	start := strings.Index(stmt, `"`)
	end := strings.Index(stmt[start+1:], `"`)
	require.Greater(t, end, 0)
	assert.LessOrEqual(t, end, DefaultMaxIdentifierLen)
}

func TestMetadataBootstrapDDL(t *testing.T) {
	g := NewSchemaGenerator()
	ddl := g.MetadataBootstrapDDL()

	assert.Contains(t, ddl, "formbase_table_bindings")
	assert.Contains(t, ddl, "formbase_migration_records")
	assert.Contains(t, ddl, "formbase_data_backups")
	assert.Contains(t, ddl, "IF NOT EXISTS")
}
