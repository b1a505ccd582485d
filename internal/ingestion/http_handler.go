package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/hugamara/sheetaudit/internal/domain"
)

// Handler exposes the ingestion service over HTTP.
type Handler struct {
	service *Service
}

// NewHTTPHandler mounts the ingestion routes on a fresh mux.
func NewHTTPHandler(service *Service) http.Handler {
	h := &Handler{service: service}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /ingestion/upload", h.handleUpload)
	mux.HandleFunc("POST /ingestion/import-link", h.handleImportLink)
	mux.HandleFunc("GET /ingestion/uploads", h.handleList)
	mux.HandleFunc("GET /ingestion/upload/{id}", h.handleGet)
	mux.HandleFunc("GET /ingestion/audit/{id}", h.handleAudit)
	mux.HandleFunc("GET /ingestion/file/{id}", h.handleDownload)
	mux.HandleFunc("GET /ingestion/file/{id}/preview", h.handlePreview)
	return mux
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, fmt.Sprintf("invalid form data: %v", err), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, fmt.Sprintf("file required: %v", err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	upload, err := h.service.Upload(r.Context(), Request{
		FileName:     header.Filename,
		Branch:       strings.TrimSpace(r.FormValue("branch")),
		DocumentKind: strings.TrimSpace(r.FormValue("documentKind")),
		ContentType:  header.Header.Get("Content-Type"),
		Data:         file,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, upload)
}

func (h *Handler) handleImportLink(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL          string `json:"url"`
		Branch       string `json:"branch"`
		DocumentKind string `json:"documentKind"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	upload, err := h.service.ImportByLink(r.Context(), ImportRequest{
		URL:          strings.TrimSpace(body.URL),
		Branch:       strings.TrimSpace(body.Branch),
		DocumentKind: strings.TrimSpace(body.DocumentKind),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, upload)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	filter := ListFilter{
		Branch:       query.Get("branch"),
		DocumentKind: query.Get("documentKind"),
		Status:       query.Get("status"),
	}
	if raw := query.Get("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil {
			filter.Limit = limit
		}
	}
	if raw := query.Get("offset"); raw != "" {
		if offset, err := strconv.Atoi(raw); err == nil {
			filter.Offset = offset
		}
	}

	uploads, err := h.service.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, uploads)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	upload, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, upload)
}

func (h *Handler) handleAudit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	view, err := h.service.GetAudit(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	rc, upload, err := h.service.Download(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", upload.OriginalFilename))
	_, _ = io.Copy(w, rc)
}

func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	preview, err := h.service.Preview(r.Context(), id, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, preview)
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid upload id: %v", err), http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func writeError(w http.ResponseWriter, err error) {
	var validationErr domain.ValidationError
	var fetchErr domain.ImportFetchError
	var storageErr domain.StorageError

	switch {
	case errors.As(err, &validationErr):
		http.Error(w, validationErr.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrUploadNotFound), errors.Is(err, domain.ErrAuditNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrAuditNotReady):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.As(err, &fetchErr):
		http.Error(w, fetchErr.Error(), http.StatusBadGateway)
	case errors.As(err, &storageErr):
		http.Error(w, storageErr.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
