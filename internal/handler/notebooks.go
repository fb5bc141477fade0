package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/quillworks/quill/internal/model"
	mw "github.com/quillworks/quill/internal/server/middleware"
	"github.com/quillworks/quill/internal/store"
)

// NotebooksHandler serves notebook CRUD. Ownership of the notebook named in
// the URL is enforced by the authorization middleware before these handlers
// run; list and create are scoped to the principal here.
type NotebooksHandler struct {
	store *store.Store
}

// NewNotebooksHandler returns a NotebooksHandler.
func NewNotebooksHandler(st *store.Store) *NotebooksHandler {
	return &NotebooksHandler{store: st}
}

type notebookRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Emoji       string `json:"emoji"`
}

// Create makes a new notebook owned by the principal.
// POST /api/v1/notebooks
func (h *NotebooksHandler) Create(w http.ResponseWriter, r *http.Request) {
	principal := mw.GetPrincipal(r.Context())

	var req notebookRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "Notebook title is required")
		return
	}

	nb := &model.Notebook{
		UserID:      principal.UserID,
		Title:       req.Title,
		Description: req.Description,
		Emoji:       req.Emoji,
	}
	if err := h.store.CreateNotebook(r.Context(), nb); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create notebook: "+err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, nb)
}

// List returns the principal's notebooks, newest first.
// GET /api/v1/notebooks
func (h *NotebooksHandler) List(w http.ResponseWriter, r *http.Request) {
	principal := mw.GetPrincipal(r.Context())

	notebooks, err := h.store.ListNotebooks(r.Context(), principal.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list notebooks: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, listEnvelope(notebooks, len(notebooks)))
}

// Get returns one notebook.
// GET /api/v1/notebooks/{notebookID}
func (h *NotebooksHandler) Get(w http.ResponseWriter, r *http.Request) {
	nb, err := h.store.GetNotebook(r.Context(), chi.URLParam(r, "notebookID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Notebook not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get notebook: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, nb)
}

// Update changes a notebook's title, description, or emoji.
// PATCH /api/v1/notebooks/{notebookID}
func (h *NotebooksHandler) Update(w http.ResponseWriter, r *http.Request) {
	nb, err := h.store.GetNotebook(r.Context(), chi.URLParam(r, "notebookID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Notebook not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get notebook: "+err.Error())
		return
	}

	var req struct {
		Title       *string `json:"title"`
		Description *string `json:"description"`
		Emoji       *string `json:"emoji"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Title != nil {
		if *req.Title == "" {
			writeError(w, http.StatusBadRequest, "Notebook title cannot be empty")
			return
		}
		nb.Title = *req.Title
	}
	if req.Description != nil {
		nb.Description = *req.Description
	}
	if req.Emoji != nil {
		nb.Emoji = *req.Emoji
	}

	if err := h.store.UpdateNotebook(r.Context(), nb); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update notebook: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, nb)
}

// Delete removes a notebook and everything inside it.
// DELETE /api/v1/notebooks/{notebookID}
func (h *NotebooksHandler) Delete(w http.ResponseWriter, r *http.Request) {
	principal := mw.GetPrincipal(r.Context())

	err := h.store.DeleteNotebook(r.Context(), principal.UserID, chi.URLParam(r, "notebookID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Notebook not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete notebook: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Notebook deleted",
	})
}
