package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/sheetload/internal/core"
	"github.com/JonMunkholm/sheetload/internal/logging"
	"github.com/JonMunkholm/sheetload/internal/upload"
)

const (
	// multipartOverhead is the slack allowed on top of the file limit for
	// form boundaries and the table field.
	multipartOverhead = 64 << 10

	// maxImportBody bounds the JSON body of an import request.
	maxImportBody = 1 << 20

	multipartMemory = 8 << 20
)

// withClient records the caller in the request context for service logs.
func withClient(r *http.Request) *http.Request {
	ctx := core.ContextWithClient(r.Context(), r.RemoteAddr, r.UserAgent())
	return r.WithContext(ctx)
}

// handleHealth reports whether the database answers.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Ping(r.Context()); err != nil {
		logging.FromContext(r.Context()).Warn("health check failed", "error", err)
		writeJSONStatus(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// StatusResponse describes import capacity.
type StatusResponse struct {
	Imports        core.LimiterStatus `json:"imports"`
	MaxUploadSize  string             `json:"max_upload_size"`
	MaxUploadBytes int64              `json:"max_upload_bytes"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	size := s.service.MaxUploadSize()
	writeJSON(w, StatusResponse{
		Imports:        s.service.LimiterStatus(),
		MaxUploadSize:  humanize.Bytes(uint64(size)),
		MaxUploadBytes: size,
	})
}

func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	tables, err := s.service.ListTables(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	if tables == nil {
		tables = []string{}
	}
	writeJSON(w, map[string]any{"tables": tables})
}

func (s *Server) handleTableColumns(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	columns, err := s.service.TableColumns(r.Context(), table)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"table": table, "columns": columns})
}

// handleUpload stores a workbook sent as multipart field "file" and answers
// with the mapping surface for the table in field "table". A workbook that
// cannot be inspected is deleted again.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r = withClient(r)
	ctx := r.Context()

	maxSize := s.service.MaxUploadSize()
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, fmt.Errorf("%w: limit is %s", upload.ErrTooLarge, humanize.Bytes(uint64(maxSize))))
			return
		}
		respondError(w, r, fmt.Errorf("%w: %v", upload.ErrNoFile, err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	table := r.FormValue("table")
	if err := core.ValidateTableName(table); err != nil {
		respondError(w, r, err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, fmt.Errorf("%w: %v", upload.ErrNoFile, err))
		return
	}
	defer file.Close()

	name, err := s.service.SaveUpload(ctx, header.Filename, file)
	if err != nil {
		respondError(w, r, err)
		return
	}

	inspection, err := s.service.InspectUpload(ctx, name, table)
	if err != nil {
		if derr := s.service.DiscardUpload(name); derr != nil {
			logging.FromContext(ctx).Error("failed to discard upload", "upload", name, "error", derr)
		}
		respondError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/uploads/"+name)
	writeJSONStatus(w, http.StatusCreated, inspection)
}

// importBody is the JSON body of an import request. Mapping keys are
// 1-based column numbers, e.g. {"1": "full_name", "2": "age"}.
type importBody struct {
	Table   string             `json:"table"`
	Mapping core.ColumnMapping `json:"mapping"`
}

// handleImport applies a mapping to a stored upload. The upload is gone
// after this handler returns, whatever the result.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	r = withClient(r)
	ctx := r.Context()
	name := chi.URLParam(r, "upload")

	var body importBody
	dec := json.NewDecoder(io.LimitReader(r.Body, maxImportBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		if derr := s.service.DiscardUpload(name); derr != nil && upload.ValidName(name) {
			logging.FromContext(ctx).Error("failed to discard upload", "upload", name, "error", derr)
		}
		respondError(w, r, fmt.Errorf("%w: request body: %v", core.ErrInvalidMapping, err))
		return
	}

	outcome, err := s.service.MapAndImport(ctx, core.ImportRequest{
		Upload:  name,
		Table:   body.Table,
		Mapping: body.Mapping,
	})
	if err != nil {
		respondImportError(w, r, err, outcome)
		return
	}

	writeJSON(w, outcome)
}

// handleDiscardUpload deletes an upload the client will not import.
func (s *Server) handleDiscardUpload(w http.ResponseWriter, r *http.Request) {
	r = withClient(r)
	if err := s.service.DiscardUpload(chi.URLParam(r, "upload")); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
