package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/quillworks/quill/internal/model"
	"github.com/quillworks/quill/internal/store"
)

// ResearchHandler manages research task lifecycle. Synthesis itself runs out
// of process; tasks are created pending and advanced by whatever worker picks
// them up.
type ResearchHandler struct {
	store *store.Store
}

// NewResearchHandler returns a ResearchHandler.
func NewResearchHandler(st *store.Store) *ResearchHandler {
	return &ResearchHandler{store: st}
}

// Create queues a research task for a notebook.
// POST /api/v1/notebooks/{notebookID}/research
func (h *ResearchHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "Research query is required")
		return
	}

	task := &model.ResearchTask{
		NotebookID: chi.URLParam(r, "notebookID"),
		Query:      req.Query,
		Status:     model.ResearchPending,
	}
	if err := h.store.CreateResearchTask(r.Context(), task); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create research task: "+err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, task)
}

// List returns a notebook's research tasks.
// GET /api/v1/notebooks/{notebookID}/research
func (h *ResearchHandler) List(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.store.ListResearchTasks(r.Context(), chi.URLParam(r, "notebookID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list research tasks: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, listEnvelope(tasks, len(tasks)))
}

// Get returns one research task, including its result once completed.
// GET /api/v1/notebooks/{notebookID}/research/{taskID}
func (h *ResearchHandler) Get(w http.ResponseWriter, r *http.Request) {
	task, err := h.store.GetResearchTask(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Research task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get research task: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// Cancel marks a pending or running task as failed with a cancellation
// error. Finished tasks cannot be cancelled.
// POST /api/v1/notebooks/{notebookID}/research/{taskID}/cancel
func (h *ResearchHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	task, err := h.store.GetResearchTask(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Research task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get research task: "+err.Error())
		return
	}
	if task.Status == model.ResearchCompleted || task.Status == model.ResearchFailed {
		writeError(w, http.StatusConflict, "Research task already finished")
		return
	}

	if err := h.store.SetResearchTaskStatus(r.Context(), task.ID, model.ResearchFailed, "", "cancelled by user"); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to cancel research task: "+err.Error())
		return
	}

	task, err = h.store.GetResearchTask(r.Context(), task.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reload research task: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, task)
}
