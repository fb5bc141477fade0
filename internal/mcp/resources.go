package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/quillworks/quill/internal/gateway"
	"github.com/quillworks/quill/internal/model"
)

// registerResources adds MCP resource definitions to the server. Resources
// provide read-only data that LLM clients can load into their context.
// Resource reads pass through the gateway like tool calls, so the key's
// scopes bound what the client can see.
func (s *MCPServer) registerResources(srv *server.MCPServer) {

	// -------------------------------------------------------------------
	// quill://notebooks — the key owner's notebooks
	// -------------------------------------------------------------------
	srv.AddResource(
		mcp.NewResource(
			"quill://notebooks",
			"Notebooks",
			mcp.WithResourceDescription(
				"All notebooks owned by the connected API key's user, "+
					"with titles and descriptions.",
			),
			mcp.WithMIMEType("application/json"),
		),
		s.handleNotebooksResource,
	)

	// -------------------------------------------------------------------
	// quill://notebooks/{id} — one notebook with its sources and notes
	// -------------------------------------------------------------------
	srv.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"quill://notebooks/{id}",
			"Notebook Contents",
			mcp.WithTemplateDescription(
				"A single notebook with its sources and notes inlined, "+
					"suitable for loading as grounding context.",
			),
			mcp.WithTemplateMIMEType("application/json"),
		),
		s.handleNotebookResource,
	)
}

// handleNotebooksResource returns a JSON list of the key owner's notebooks.
func (s *MCPServer) handleNotebooksResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	verdict, err := s.authorize(ctx, gateway.OpNotebooksRead, nil)
	if err != nil {
		return nil, fmt.Errorf("not authorized: %w", err)
	}

	notebooks, err := s.store.ListNotebooks(ctx, verdict.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notebooks: %w", err)
	}
	s.meter(ctx, verdict, "resource/notebooks")

	b, err := json.MarshalIndent(notebooks, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal notebooks: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "quill://notebooks",
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

// handleNotebookResource returns one notebook with sources and notes inlined.
func (s *MCPServer) handleNotebookResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	// Extract the notebook id from "quill://notebooks/{id}".
	uri := request.Params.URI
	id := strings.TrimPrefix(uri, "quill://notebooks/")
	if id == "" || id == uri {
		return nil, fmt.Errorf("invalid notebook URI %q: expected quill://notebooks/{id}", uri)
	}

	verdict, err := s.authorize(ctx, gateway.OpNotebooksRead,
		&gateway.ResourceRef{Kind: gateway.ResourceNotebook, ID: id})
	if err != nil {
		return nil, fmt.Errorf("not authorized: %w", err)
	}

	nb, err := s.store.GetNotebook(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get notebook: %w", err)
	}
	sources, err := s.store.ListSources(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	notes, err := s.store.ListNotes(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	s.meter(ctx, verdict, "resource/notebook")

	payload := struct {
		Notebook *model.Notebook `json:"notebook"`
		Sources  []model.Source  `json:"sources"`
		Notes    []model.Note    `json:"notes"`
	}{nb, sources, notes}

	b, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal notebook: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}
