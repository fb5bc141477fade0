package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/quillworks/quill/internal/store"
)

// ResourceKind names a node type in the ownership chain.
type ResourceKind string

const (
	ResourceNotebook ResourceKind = "notebook"
	ResourceSource   ResourceKind = "source"
	ResourceNote     ResourceKind = "note"
	ResourceResearch ResourceKind = "research_task"
)

// ResourceRef identifies the target of a request for ownership resolution.
type ResourceRef struct {
	Kind ResourceKind
	ID   string
}

// Resolver walks a resource's ownership chain to confirm the authenticated
// principal may act on it. The hierarchy depth is fixed by design
// (leaf → notebook → user), so the walk is two lookups at most — never
// recursion.
type Resolver struct {
	store *store.Store
}

// NewResolver returns a Resolver backed by the given store.
func NewResolver(st *store.Store) *Resolver {
	return &Resolver{store: st}
}

// Resolve returns nil when userID owns the referenced resource. It
// distinguishes a missing resource or parent (resource_not_found) from one
// owned by a different user (ownership_mismatch).
func (r *Resolver) Resolve(ctx context.Context, userID string, ref ResourceRef) error {
	notebookID, err := r.parentNotebook(ctx, ref)
	if err != nil {
		return err
	}

	nb, err := r.store.GetNotebook(ctx, notebookID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &Error{Kind: KindResourceNotFound, Message: "notebook not found"}
		}
		return err
	}

	if nb.UserID != userID {
		return &Error{Kind: KindOwnershipMismatch, Message: string(ref.Kind) + " belongs to a different user"}
	}
	return nil
}

// parentNotebook fetches the leaf resource and returns its declared parent
// notebook id. Notebooks are their own parent step.
func (r *Resolver) parentNotebook(ctx context.Context, ref ResourceRef) (string, error) {
	switch ref.Kind {
	case ResourceNotebook:
		return ref.ID, nil
	case ResourceSource:
		src, err := r.store.GetSource(ctx, ref.ID)
		if err != nil {
			return "", leafErr(err, ref)
		}
		return src.NotebookID, nil
	case ResourceNote:
		note, err := r.store.GetNote(ctx, ref.ID)
		if err != nil {
			return "", leafErr(err, ref)
		}
		return note.NotebookID, nil
	case ResourceResearch:
		task, err := r.store.GetResearchTask(ctx, ref.ID)
		if err != nil {
			return "", leafErr(err, ref)
		}
		return task.NotebookID, nil
	default:
		return "", fmt.Errorf("unknown resource kind %q", ref.Kind)
	}
}

func leafErr(err error, ref ResourceRef) error {
	if errors.Is(err, store.ErrNotFound) {
		return &Error{Kind: KindResourceNotFound, Message: string(ref.Kind) + " not found"}
	}
	return err
}
