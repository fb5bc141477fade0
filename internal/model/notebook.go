package model

import "time"

// Notebook is the top-level container for a user's research material.
// Every source, note, and research task belongs to exactly one notebook.
type Notebook struct {
	ID          string    `json:"id" db:"id"`
	UserID      string    `json:"user_id" db:"user_id"`
	Title       string    `json:"title" db:"title"`
	Description string    `json:"description,omitempty" db:"description"`
	Emoji       string    `json:"emoji,omitempty" db:"emoji"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Source is an ingested document or URL inside a notebook.
type Source struct {
	ID         string    `json:"id" db:"id"`
	NotebookID string    `json:"notebook_id" db:"notebook_id"`
	Title      string    `json:"title" db:"title"`
	Kind       string    `json:"kind" db:"kind"` // "text", "url", "file"
	Content    string    `json:"content,omitempty" db:"content"`
	URL        string    `json:"url,omitempty" db:"url"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// Note is a user- or assistant-written note inside a notebook.
type Note struct {
	ID         string    `json:"id" db:"id"`
	NotebookID string    `json:"notebook_id" db:"notebook_id"`
	Title      string    `json:"title" db:"title"`
	Content    string    `json:"content" db:"content"`
	Kind       string    `json:"kind" db:"kind"` // "manual", "saved_response"
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// Research task status values.
const (
	ResearchPending   = "pending"
	ResearchRunning   = "running"
	ResearchCompleted = "completed"
	ResearchFailed    = "failed"
)

// ResearchTask is a long-running report synthesis job scoped to a notebook.
// The synthesis call itself is an external collaborator; the task record
// tracks its lifecycle and result.
type ResearchTask struct {
	ID         string     `json:"id" db:"id"`
	NotebookID string     `json:"notebook_id" db:"notebook_id"`
	Query      string     `json:"query" db:"query"`
	Status     string     `json:"status" db:"status"`
	Result     string     `json:"result,omitempty" db:"result"`
	Error      string     `json:"error,omitempty" db:"error"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" db:"finished_at"`
}
