package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/quillworks/quill/internal/model"
	"github.com/quillworks/quill/internal/store"
)

// NotesHandler serves note CRUD and search nested under a notebook.
type NotesHandler struct {
	store *store.Store
}

// NewNotesHandler returns a NotesHandler.
func NewNotesHandler(st *store.Store) *NotesHandler {
	return &NotesHandler{store: st}
}

type noteRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Kind    string `json:"kind"`
}

// Create adds a note to a notebook.
// POST /api/v1/notebooks/{notebookID}/notes
func (h *NotesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "Note title is required")
		return
	}
	switch req.Kind {
	case "manual", "saved_response":
	case "":
		req.Kind = "manual"
	default:
		writeError(w, http.StatusBadRequest, "Unknown note kind: "+req.Kind)
		return
	}

	note := &model.Note{
		NotebookID: chi.URLParam(r, "notebookID"),
		Title:      req.Title,
		Content:    req.Content,
		Kind:       req.Kind,
	}
	if err := h.store.CreateNote(r.Context(), note); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create note: "+err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

// List returns a notebook's notes. With ?q= it becomes a substring search
// over titles and content.
// GET /api/v1/notebooks/{notebookID}/notes
func (h *NotesHandler) List(w http.ResponseWriter, r *http.Request) {
	notebookID := chi.URLParam(r, "notebookID")

	var (
		notes []model.Note
		err   error
	)
	if q := r.URL.Query().Get("q"); q != "" {
		notes, err = h.store.SearchNotes(r.Context(), notebookID, q)
	} else {
		notes, err = h.store.ListNotes(r.Context(), notebookID)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list notes: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, listEnvelope(notes, len(notes)))
}

// Get returns one note.
// GET /api/v1/notebooks/{notebookID}/notes/{noteID}
func (h *NotesHandler) Get(w http.ResponseWriter, r *http.Request) {
	note, err := h.store.GetNote(r.Context(), chi.URLParam(r, "noteID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Note not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get note: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// Update changes a note's title or content.
// PATCH /api/v1/notebooks/{notebookID}/notes/{noteID}
func (h *NotesHandler) Update(w http.ResponseWriter, r *http.Request) {
	note, err := h.store.GetNote(r.Context(), chi.URLParam(r, "noteID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Note not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get note: "+err.Error())
		return
	}

	var req struct {
		Title   *string `json:"title"`
		Content *string `json:"content"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Title != nil {
		if *req.Title == "" {
			writeError(w, http.StatusBadRequest, "Note title cannot be empty")
			return
		}
		note.Title = *req.Title
	}
	if req.Content != nil {
		note.Content = *req.Content
	}

	if err := h.store.UpdateNote(r.Context(), note); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update note: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// Delete removes a note.
// DELETE /api/v1/notebooks/{notebookID}/notes/{noteID}
func (h *NotesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	err := h.store.DeleteNote(r.Context(), chi.URLParam(r, "noteID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Note not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete note: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Note deleted",
	})
}
