package main

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/lychee-technology/formbase"
)

// handleHealth handles GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ctx, cancel := contextWithTimeout(r, 5*time.Second)
	defer cancel()

	if err := s.engine.Pool.Ping(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("database unreachable: %v", err))
		return
	}
	writeSuccess(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleHistory handles GET /api/v1/migrations?form_id=...&success=...&page=...&page_size=...
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	queryParams := r.URL.Query()
	query := formbase.HistoryQuery{}
	query.Page, query.PageSize = parsePagination(queryParams)

	if v := queryParams.Get("form_id"); v != "" {
		formID, err := uuid.Parse(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid form_id: %v", err))
			return
		}
		query.FormID = &formID
	}
	if v := queryParams.Get("success"); v != "" {
		success, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid success: %v", err))
			return
		}
		query.Success = &success
	}

	page, err := s.engine.Migrations.History(r.Context(), query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("history query failed: %v", err))
		return
	}
	writeSuccess(w, http.StatusOK, page)
}

// migrationHandler dispatches /api/v1/migrations/{id} and
// /api/v1/migrations/{id}/rollback
func (s *Server) migrationHandler(w http.ResponseWriter, r *http.Request) {
	id, action, err := parseResourcePath(r.URL.Path, "/api/v1/migrations/")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid path: %v", err))
		return
	}

	switch action {
	case "":
		s.handleGetMigration(w, r, id)
	case "rollback":
		s.handleRollback(w, r, id)
	default:
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown action: %s", action))
	}
}

// handleGetMigration handles GET /api/v1/migrations/{id}
func (s *Server) handleGetMigration(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	record, err := s.engine.Migrations.Get(r.Context(), id)
	if err != nil {
		writeError(w, statusForError(err), fmt.Sprintf("migration record: %v", err))
		return
	}
	writeSuccess(w, http.StatusOK, record)
}

// handleRollback handles POST /api/v1/migrations/{id}/rollback
func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		ExecutedBy string `json:"executed_by"`
	}
	if r.ContentLength > 0 {
		if err := readJSONBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid json body: %v", err))
			return
		}
	}
	if body.ExecutedBy == "" {
		body.ExecutedBy = "admin"
	}

	record, err := s.engine.Executor.RollbackRecord(r.Context(), id, body.ExecutedBy)
	if err != nil {
		writeError(w, statusForError(err), fmt.Sprintf("rollback failed: %v", err))
		return
	}
	writeSuccess(w, http.StatusOK, record)
}

// previewRequest carries planned operations for a dry run. The target
// table is resolved from the sub-form when one is given, otherwise from
// the form.
type previewRequest struct {
	FormID     uuid.UUID           `json:"form_id"`
	SubFormID  *uuid.UUID          `json:"sub_form_id,omitempty"`
	Operations []formbase.ChangeOp `json:"operations"`
}

// handlePreview handles POST /api/v1/migrations/preview
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req previewRequest
	if err := readJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid json body: %v", err))
		return
	}
	if len(req.Operations) == 0 {
		writeError(w, http.StatusBadRequest, "operations is required")
		return
	}

	ownerID := req.FormID
	if req.SubFormID != nil {
		ownerID = *req.SubFormID
	}
	binding, err := s.engine.Bindings.Get(r.Context(), ownerID)
	if err != nil {
		writeError(w, statusForError(err), fmt.Sprintf("resolve table: %v", err))
		return
	}

	preview, err := s.engine.Orchestrator.Preview(req.Operations, binding.TableName)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("preview failed: %v", err))
		return
	}
	writeSuccess(w, http.StatusOK, preview)
}

// backupHandler dispatches /api/v1/backups/{id}/restore
func (s *Server) backupHandler(w http.ResponseWriter, r *http.Request) {
	id, action, err := parseResourcePath(r.URL.Path, "/api/v1/backups/")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid path: %v", err))
		return
	}
	if action != "restore" {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown action: %s", action))
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		ExecutedBy string `json:"executed_by"`
	}
	if r.ContentLength > 0 {
		if err := readJSONBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid json body: %v", err))
			return
		}
	}
	if body.ExecutedBy == "" {
		body.ExecutedBy = "admin"
	}

	result, err := s.engine.Backups.RestoreColumn(r.Context(), id, body.ExecutedBy)
	if err != nil {
		writeError(w, statusForError(err), fmt.Sprintf("restore failed: %v", err))
		return
	}
	writeSuccess(w, http.StatusOK, result)
}

// handleSweep handles POST /api/v1/backups/sweep
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	removed, err := s.engine.Backups.SweepExpired(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("sweep failed: %v", err))
		return
	}
	writeSuccess(w, http.StatusOK, map[string]int{"removed": removed})
}
