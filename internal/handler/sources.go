package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/quillworks/quill/internal/model"
	"github.com/quillworks/quill/internal/store"
)

// SourcesHandler serves source CRUD nested under a notebook. Ownership of
// the notebook (for create/list) or the source itself (for get/delete) is
// enforced upstream by the authorization middleware.
type SourcesHandler struct {
	store *store.Store
}

// NewSourcesHandler returns a SourcesHandler.
func NewSourcesHandler(st *store.Store) *SourcesHandler {
	return &SourcesHandler{store: st}
}

type sourceRequest struct {
	Title   string `json:"title"`
	Kind    string `json:"kind"`
	Content string `json:"content"`
	URL     string `json:"url"`
}

// Create adds a source to a notebook.
// POST /api/v1/notebooks/{notebookID}/sources
func (h *SourcesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "Source title is required")
		return
	}
	switch req.Kind {
	case "text", "url", "file":
	case "":
		req.Kind = "text"
	default:
		writeError(w, http.StatusBadRequest, "Unknown source kind: "+req.Kind)
		return
	}
	if req.Kind == "url" && req.URL == "" {
		writeError(w, http.StatusBadRequest, "URL sources require a url")
		return
	}

	src := &model.Source{
		NotebookID: chi.URLParam(r, "notebookID"),
		Title:      req.Title,
		Kind:       req.Kind,
		Content:    req.Content,
		URL:        req.URL,
	}
	if err := h.store.CreateSource(r.Context(), src); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create source: "+err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, src)
}

// List returns a notebook's sources.
// GET /api/v1/notebooks/{notebookID}/sources
func (h *SourcesHandler) List(w http.ResponseWriter, r *http.Request) {
	sources, err := h.store.ListSources(r.Context(), chi.URLParam(r, "notebookID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sources: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, listEnvelope(sources, len(sources)))
}

// Get returns one source.
// GET /api/v1/notebooks/{notebookID}/sources/{sourceID}
func (h *SourcesHandler) Get(w http.ResponseWriter, r *http.Request) {
	src, err := h.store.GetSource(r.Context(), chi.URLParam(r, "sourceID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Source not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get source: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, src)
}

// Delete removes a source.
// DELETE /api/v1/notebooks/{notebookID}/sources/{sourceID}
func (h *SourcesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	err := h.store.DeleteSource(r.Context(), chi.URLParam(r, "sourceID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Source not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete source: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Source deleted",
	})
}
