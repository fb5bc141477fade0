package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quillworks/quill/internal/model"
)

// ---------------------------------------------------------------------------
// Notebooks
// ---------------------------------------------------------------------------

// CreateNotebook inserts a new notebook owned by user_id.
func (s *Store) CreateNotebook(ctx context.Context, nb *model.Notebook) error {
	now := time.Now().UTC()
	nb.ID = uuid.NewString()
	nb.CreatedAt = now
	nb.UpdatedAt = now

	const q = `INSERT INTO notebooks (id, user_id, title, description, emoji, created_at, updated_at)
		VALUES (:id, :user_id, :title, :description, :emoji, :created_at, :updated_at)`

	if _, err := s.db.NamedExecContext(ctx, q, nb); err != nil {
		return fmt.Errorf("insert notebook: %w", err)
	}
	return nil
}

// GetNotebook returns a notebook by ID regardless of owner. Ownership is the
// resolver's concern, not the lookup's.
func (s *Store) GetNotebook(ctx context.Context, id string) (*model.Notebook, error) {
	var nb model.Notebook
	q := s.rebind("SELECT * FROM notebooks WHERE id = ?")
	if err := s.db.GetContext(ctx, &nb, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get notebook: %w", err)
	}
	return &nb, nil
}

// ListNotebooks returns all notebooks owned by a user, newest first.
func (s *Store) ListNotebooks(ctx context.Context, userID string) ([]model.Notebook, error) {
	var nbs []model.Notebook
	q := s.rebind("SELECT * FROM notebooks WHERE user_id = ? ORDER BY created_at DESC")
	if err := s.db.SelectContext(ctx, &nbs, q, userID); err != nil {
		return nil, fmt.Errorf("list notebooks: %w", err)
	}
	return nbs, nil
}

// UpdateNotebook updates title, description, and emoji.
func (s *Store) UpdateNotebook(ctx context.Context, nb *model.Notebook) error {
	nb.UpdatedAt = time.Now().UTC()

	const q = `UPDATE notebooks SET title = :title, description = :description,
		emoji = :emoji, updated_at = :updated_at
		WHERE id = :id AND user_id = :user_id`

	result, err := s.db.NamedExecContext(ctx, q, nb)
	if err != nil {
		return fmt.Errorf("update notebook: %w", err)
	}
	return requireRow(result, "update notebook")
}

// DeleteNotebook removes a notebook and, via cascade, everything in it.
func (s *Store) DeleteNotebook(ctx context.Context, userID, id string) error {
	q := s.rebind("DELETE FROM notebooks WHERE id = ? AND user_id = ?")
	result, err := s.db.ExecContext(ctx, q, id, userID)
	if err != nil {
		return fmt.Errorf("delete notebook: %w", err)
	}
	return requireRow(result, "delete notebook")
}

// ---------------------------------------------------------------------------
// Sources
// ---------------------------------------------------------------------------

// CreateSource inserts a new source into a notebook.
func (s *Store) CreateSource(ctx context.Context, src *model.Source) error {
	now := time.Now().UTC()
	src.ID = uuid.NewString()
	src.CreatedAt = now
	src.UpdatedAt = now

	const q = `INSERT INTO sources (id, notebook_id, title, kind, content, url, created_at, updated_at)
		VALUES (:id, :notebook_id, :title, :kind, :content, :url, :created_at, :updated_at)`

	if _, err := s.db.NamedExecContext(ctx, q, src); err != nil {
		return fmt.Errorf("insert source: %w", err)
	}
	return nil
}

// GetSource returns a source by ID.
func (s *Store) GetSource(ctx context.Context, id string) (*model.Source, error) {
	var src model.Source
	q := s.rebind("SELECT * FROM sources WHERE id = ?")
	if err := s.db.GetContext(ctx, &src, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get source: %w", err)
	}
	return &src, nil
}

// ListSources returns all sources in a notebook, newest first.
func (s *Store) ListSources(ctx context.Context, notebookID string) ([]model.Source, error) {
	var srcs []model.Source
	q := s.rebind("SELECT * FROM sources WHERE notebook_id = ? ORDER BY created_at DESC")
	if err := s.db.SelectContext(ctx, &srcs, q, notebookID); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return srcs, nil
}

// DeleteSource removes a source by ID.
func (s *Store) DeleteSource(ctx context.Context, id string) error {
	q := s.rebind("DELETE FROM sources WHERE id = ?")
	result, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("delete source: %w", err)
	}
	return requireRow(result, "delete source")
}

// ---------------------------------------------------------------------------
// Notes
// ---------------------------------------------------------------------------

// CreateNote inserts a new note into a notebook.
func (s *Store) CreateNote(ctx context.Context, note *model.Note) error {
	now := time.Now().UTC()
	note.ID = uuid.NewString()
	note.CreatedAt = now
	note.UpdatedAt = now

	const q = `INSERT INTO notes (id, notebook_id, title, content, kind, created_at, updated_at)
		VALUES (:id, :notebook_id, :title, :content, :kind, :created_at, :updated_at)`

	if _, err := s.db.NamedExecContext(ctx, q, note); err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

// GetNote returns a note by ID.
func (s *Store) GetNote(ctx context.Context, id string) (*model.Note, error) {
	var note model.Note
	q := s.rebind("SELECT * FROM notes WHERE id = ?")
	if err := s.db.GetContext(ctx, &note, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get note: %w", err)
	}
	return &note, nil
}

// ListNotes returns all notes in a notebook, newest first.
func (s *Store) ListNotes(ctx context.Context, notebookID string) ([]model.Note, error) {
	var notes []model.Note
	q := s.rebind("SELECT * FROM notes WHERE notebook_id = ? ORDER BY created_at DESC")
	if err := s.db.SelectContext(ctx, &notes, q, notebookID); err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	return notes, nil
}

// SearchNotes returns notes in a notebook whose title or content contains the
// query string.
func (s *Store) SearchNotes(ctx context.Context, notebookID, query string) ([]model.Note, error) {
	var notes []model.Note
	pattern := "%" + query + "%"
	q := s.rebind(`SELECT * FROM notes WHERE notebook_id = ?
		AND (title LIKE ? OR content LIKE ?) ORDER BY created_at DESC`)
	if err := s.db.SelectContext(ctx, &notes, q, notebookID, pattern, pattern); err != nil {
		return nil, fmt.Errorf("search notes: %w", err)
	}
	return notes, nil
}

// UpdateNote updates a note's title and content.
func (s *Store) UpdateNote(ctx context.Context, note *model.Note) error {
	note.UpdatedAt = time.Now().UTC()

	const q = `UPDATE notes SET title = :title, content = :content, updated_at = :updated_at
		WHERE id = :id`

	result, err := s.db.NamedExecContext(ctx, q, note)
	if err != nil {
		return fmt.Errorf("update note: %w", err)
	}
	return requireRow(result, "update note")
}

// DeleteNote removes a note by ID.
func (s *Store) DeleteNote(ctx context.Context, id string) error {
	q := s.rebind("DELETE FROM notes WHERE id = ?")
	result, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	return requireRow(result, "delete note")
}

// ---------------------------------------------------------------------------
// Research tasks
// ---------------------------------------------------------------------------

// CreateResearchTask inserts a new pending research task.
func (s *Store) CreateResearchTask(ctx context.Context, task *model.ResearchTask) error {
	now := time.Now().UTC()
	task.ID = uuid.NewString()
	if task.Status == "" {
		task.Status = model.ResearchPending
	}
	task.CreatedAt = now
	task.UpdatedAt = now

	const q = `INSERT INTO research_tasks (id, notebook_id, query, status, result, error, created_at, updated_at)
		VALUES (:id, :notebook_id, :query, :status, :result, :error, :created_at, :updated_at)`

	if _, err := s.db.NamedExecContext(ctx, q, task); err != nil {
		return fmt.Errorf("insert research task: %w", err)
	}
	return nil
}

// GetResearchTask returns a research task by ID.
func (s *Store) GetResearchTask(ctx context.Context, id string) (*model.ResearchTask, error) {
	var task model.ResearchTask
	q := s.rebind("SELECT * FROM research_tasks WHERE id = ?")
	if err := s.db.GetContext(ctx, &task, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get research task: %w", err)
	}
	return &task, nil
}

// ListResearchTasks returns all research tasks in a notebook, newest first.
func (s *Store) ListResearchTasks(ctx context.Context, notebookID string) ([]model.ResearchTask, error) {
	var tasks []model.ResearchTask
	q := s.rebind("SELECT * FROM research_tasks WHERE notebook_id = ? ORDER BY created_at DESC")
	if err := s.db.SelectContext(ctx, &tasks, q, notebookID); err != nil {
		return nil, fmt.Errorf("list research tasks: %w", err)
	}
	return tasks, nil
}

// SetResearchTaskStatus transitions a task's lifecycle state, recording the
// result or error text and the finish time for terminal states.
func (s *Store) SetResearchTaskStatus(ctx context.Context, id, status, result, errText string) error {
	now := time.Now().UTC()
	var finished *time.Time
	if status == model.ResearchCompleted || status == model.ResearchFailed {
		finished = &now
	}

	q := s.rebind(`UPDATE research_tasks SET status = ?, result = ?, error = ?,
		finished_at = ?, updated_at = ? WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, q, status, result, errText, finished, now, id)
	if err != nil {
		return fmt.Errorf("set research task status: %w", err)
	}
	return requireRow(res, "set research task status")
}
