package main

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lychee-technology/formbase"
)

func TestParseResourcePath(t *testing.T) {
	id := uuid.New()

	parsed, action, err := parseResourcePath("/api/v1/migrations/"+id.String(), "/api/v1/migrations/")
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
	assert.Equal(t, "", action)

	parsed, action, err = parseResourcePath("/api/v1/migrations/"+id.String()+"/rollback", "/api/v1/migrations/")
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
	assert.Equal(t, "rollback", action)
}

func TestParseResourcePathInvalid(t *testing.T) {
	_, _, err := parseResourcePath("/api/v1/migrations/", "/api/v1/migrations/")
	assert.Error(t, err)

	_, _, err = parseResourcePath("/api/v1/migrations/not-a-uuid", "/api/v1/migrations/")
	assert.Error(t, err)

	_, _, err = parseResourcePath("/api/v1/migrations/"+uuid.NewString()+"/a/b", "/api/v1/migrations/")
	assert.Error(t, err)
}

func TestParsePagination(t *testing.T) {
	page, size := parsePagination(url.Values{})
	assert.Equal(t, 1, page)
	assert.Equal(t, 20, size)

	page, size = parsePagination(url.Values{"page": {"3"}, "page_size": {"50"}})
	assert.Equal(t, 3, page)
	assert.Equal(t, 50, size)

	// oversized page_size is clamped, garbage falls back to defaults
	page, size = parsePagination(url.Values{"page": {"zero"}, "page_size": {"500"}})
	assert.Equal(t, 1, page)
	assert.Equal(t, 100, size)
}

func TestStatusForError(t *testing.T) {
	notFound := formbase.NewBackupNotFoundError(uuid.New().String())
	assert.Equal(t, http.StatusNotFound, statusForError(notFound))

	conversion := formbase.NewIncompatibleConversionError("age", formbase.TypeShortText, formbase.TypeNumber, "value does not parse")
	assert.Equal(t, http.StatusUnprocessableEntity, statusForError(conversion))

	internal := formbase.NewInternalError("boom", nil)
	assert.Equal(t, http.StatusInternalServerError, statusForError(internal))
}
