package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lychee-technology/formbase"
)

// parseResourcePath parses {prefix}{id} or {prefix}{id}/{action}
func parseResourcePath(path, prefix string) (uuid.UUID, string, error) {
	path = strings.TrimPrefix(path, prefix)
	path = strings.Trim(path, "/")

	if path == "" {
		return uuid.Nil, "", fmt.Errorf("missing resource id")
	}

	parts := strings.Split(path, "/")
	id, err := uuid.Parse(parts[0])
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("invalid id %q: %w", parts[0], err)
	}

	switch len(parts) {
	case 1:
		return id, "", nil
	case 2:
		return id, parts[1], nil
	default:
		return uuid.Nil, "", fmt.Errorf("invalid path format")
	}
}

// parsePagination extracts page and page_size from query parameters
func parsePagination(queryParams url.Values) (int, int) {
	page := 1
	pageSize := 20

	if p := queryParams.Get("page"); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil && parsed > 0 {
			page = parsed
		}
	}

	if ps := queryParams.Get("page_size"); ps != "" {
		if parsed, err := strconv.Atoi(ps); err == nil && parsed > 0 {
			if parsed > 100 {
				parsed = 100
			}
			pageSize = parsed
		}
	}

	return page, pageSize
}

// statusForError maps engine error codes onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case formbase.IsNotFound(err):
		return http.StatusNotFound
	case formbase.IsValidationError(err), formbase.IsConversionError(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// contextWithTimeout derives a bounded context from the request.
func contextWithTimeout(r *http.Request, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), d)
}

// APIResponse is the standard response format
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// writeJSON writes JSON response to http.ResponseWriter
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func writeError(w http.ResponseWriter, statusCode int, message string) error {
	return writeJSON(w, statusCode, APIResponse{
		Success: false,
		Error:   message,
	})
}

// writeSuccess writes a success response
func writeSuccess(w http.ResponseWriter, statusCode int, data interface{}) error {
	return writeJSON(w, statusCode, data)
}

// readJSONBody reads and decodes JSON from request body
func readJSONBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
