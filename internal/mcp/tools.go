package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/quillworks/quill/internal/gateway"
	"github.com/quillworks/quill/internal/model"
)

// registerTools registers all quill MCP tools on the given server.
func (s *MCPServer) registerTools(srv *server.MCPServer) {

	// ----- Discovery tools -----

	srv.AddTool(
		mcp.NewTool("quill_list_notebooks",
			mcp.WithDescription(
				"List the notebooks the API key's owner has access to. Returns each "+
					"notebook's id, title, description, and emoji. Use this first to find "+
					"the notebook to work in.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handleListNotebooks,
	)

	srv.AddTool(
		mcp.NewTool("quill_get_notebook",
			mcp.WithDescription(
				"Get one notebook by id, including its description.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("notebook_id",
				mcp.Required(),
				mcp.Description("ID of the notebook"),
			),
		),
		s.handleGetNotebook,
	)

	// ----- Source tools -----

	srv.AddTool(
		mcp.NewTool("quill_list_sources",
			mcp.WithDescription(
				"List the sources (documents and URLs) in a notebook. Source content is "+
					"included for text sources.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("notebook_id",
				mcp.Required(),
				mcp.Description("ID of the notebook to list sources for"),
			),
		),
		s.handleListSources,
	)

	srv.AddTool(
		mcp.NewTool("quill_add_source",
			mcp.WithDescription(
				"Add a text or URL source to a notebook.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("notebook_id",
				mcp.Required(),
				mcp.Description("ID of the notebook to add the source to"),
			),
			mcp.WithString("title",
				mcp.Required(),
				mcp.Description("Title of the source"),
			),
			mcp.WithString("content",
				mcp.Description("Text content, for text sources"),
			),
			mcp.WithString("url",
				mcp.Description("URL, for url sources"),
			),
		),
		s.handleAddSource,
	)

	// ----- Note tools -----

	srv.AddTool(
		mcp.NewTool("quill_search_notes",
			mcp.WithDescription(
				"List or search the notes in a notebook. With a query, matches note "+
					"titles and content by substring; without one, returns every note.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("notebook_id",
				mcp.Required(),
				mcp.Description("ID of the notebook to search in"),
			),
			mcp.WithString("query",
				mcp.Description("Substring to match against note titles and content"),
			),
		),
		s.handleSearchNotes,
	)

	srv.AddTool(
		mcp.NewTool("quill_create_note",
			mcp.WithDescription(
				"Create a note in a notebook. Use this to save findings or summaries "+
					"back into the user's notebook.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("notebook_id",
				mcp.Required(),
				mcp.Description("ID of the notebook to create the note in"),
			),
			mcp.WithString("title",
				mcp.Required(),
				mcp.Description("Title of the note"),
			),
			mcp.WithString("content",
				mcp.Required(),
				mcp.Description("Markdown content of the note"),
			),
		),
		s.handleCreateNote,
	)

	// ----- Research tools -----

	srv.AddTool(
		mcp.NewTool("quill_start_research",
			mcp.WithDescription(
				"Queue a research task against a notebook's sources. The task runs "+
					"asynchronously; poll it with quill_get_research.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("notebook_id",
				mcp.Required(),
				mcp.Description("ID of the notebook to research in"),
			),
			mcp.WithString("query",
				mcp.Required(),
				mcp.Description("Research question to answer from the notebook's sources"),
			),
		),
		s.handleStartResearch,
	)

	srv.AddTool(
		mcp.NewTool("quill_get_research",
			mcp.WithDescription(
				"Get a research task's status and, once completed, its result.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("task_id",
				mcp.Required(),
				mcp.Description("ID of the research task"),
			),
		),
		s.handleGetResearch,
	)
}

// handleListNotebooks lists the key owner's notebooks.
func (s *MCPServer) handleListNotebooks(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	verdict, err := s.authorize(ctx, gateway.OpNotebooksRead, nil)
	if err != nil {
		return gatewayError(err)
	}

	notebooks, err := s.store.ListNotebooks(ctx, verdict.UserID)
	if err != nil {
		return toolError("Failed to list notebooks: %v", err)
	}

	s.meter(ctx, verdict, "quill_list_notebooks")
	return successJSON(notebooks)
}

// handleGetNotebook returns one notebook.
func (s *MCPServer) handleGetNotebook(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	notebookID, err := requireString(request, "notebook_id")
	if err != nil {
		return toolError("%v", err)
	}

	verdict, err := s.authorize(ctx, gateway.OpNotebooksRead,
		&gateway.ResourceRef{Kind: gateway.ResourceNotebook, ID: notebookID})
	if err != nil {
		return gatewayError(err)
	}

	nb, err := s.store.GetNotebook(ctx, notebookID)
	if err != nil {
		return toolError("Failed to get notebook: %v", err)
	}

	s.meter(ctx, verdict, "quill_get_notebook")
	return successJSON(nb)
}

// handleListSources lists a notebook's sources.
func (s *MCPServer) handleListSources(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	notebookID, err := requireString(request, "notebook_id")
	if err != nil {
		return toolError("%v", err)
	}

	verdict, err := s.authorize(ctx, gateway.OpSourcesRead,
		&gateway.ResourceRef{Kind: gateway.ResourceNotebook, ID: notebookID})
	if err != nil {
		return gatewayError(err)
	}

	sources, err := s.store.ListSources(ctx, notebookID)
	if err != nil {
		return toolError("Failed to list sources: %v", err)
	}

	s.meter(ctx, verdict, "quill_list_sources")
	return successJSON(sources)
}

// handleAddSource adds a text or url source to a notebook.
func (s *MCPServer) handleAddSource(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	notebookID, err := requireString(request, "notebook_id")
	if err != nil {
		return toolError("%v", err)
	}
	title, err := requireString(request, "title")
	if err != nil {
		return toolError("%v", err)
	}
	content := optionalString(request, "content")
	url := optionalString(request, "url")
	if content == "" && url == "" {
		return toolError("Provide either content (text source) or url (url source)")
	}

	verdict, err := s.authorize(ctx, gateway.OpSourcesWrite,
		&gateway.ResourceRef{Kind: gateway.ResourceNotebook, ID: notebookID})
	if err != nil {
		return gatewayError(err)
	}

	kind := "text"
	if url != "" {
		kind = "url"
	}
	src := &model.Source{
		NotebookID: notebookID,
		Title:      title,
		Kind:       kind,
		Content:    content,
		URL:        url,
	}
	if err := s.store.CreateSource(ctx, src); err != nil {
		return toolError("Failed to create source: %v", err)
	}

	s.meter(ctx, verdict, "quill_add_source")
	return successJSON(src)
}

// handleSearchNotes lists or searches a notebook's notes.
func (s *MCPServer) handleSearchNotes(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	notebookID, err := requireString(request, "notebook_id")
	if err != nil {
		return toolError("%v", err)
	}
	query := optionalString(request, "query")

	verdict, err := s.authorize(ctx, gateway.OpNotesRead,
		&gateway.ResourceRef{Kind: gateway.ResourceNotebook, ID: notebookID})
	if err != nil {
		return gatewayError(err)
	}

	var notes []model.Note
	if query != "" {
		notes, err = s.store.SearchNotes(ctx, notebookID, query)
	} else {
		notes, err = s.store.ListNotes(ctx, notebookID)
	}
	if err != nil {
		return toolError("Failed to search notes: %v", err)
	}

	s.meter(ctx, verdict, "quill_search_notes")
	return successJSON(notes)
}

// handleCreateNote creates a note in a notebook.
func (s *MCPServer) handleCreateNote(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	notebookID, err := requireString(request, "notebook_id")
	if err != nil {
		return toolError("%v", err)
	}
	title, err := requireString(request, "title")
	if err != nil {
		return toolError("%v", err)
	}
	content, err := requireString(request, "content")
	if err != nil {
		return toolError("%v", err)
	}

	verdict, err := s.authorize(ctx, gateway.OpNotesWrite,
		&gateway.ResourceRef{Kind: gateway.ResourceNotebook, ID: notebookID})
	if err != nil {
		return gatewayError(err)
	}

	note := &model.Note{
		NotebookID: notebookID,
		Title:      title,
		Content:    content,
		Kind:       "saved_response",
	}
	if err := s.store.CreateNote(ctx, note); err != nil {
		return toolError("Failed to create note: %v", err)
	}

	s.meter(ctx, verdict, "quill_create_note")
	return successJSON(note)
}

// handleStartResearch queues a research task.
func (s *MCPServer) handleStartResearch(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	notebookID, err := requireString(request, "notebook_id")
	if err != nil {
		return toolError("%v", err)
	}
	query, err := requireString(request, "query")
	if err != nil {
		return toolError("%v", err)
	}

	verdict, err := s.authorize(ctx, gateway.OpResearchWrite,
		&gateway.ResourceRef{Kind: gateway.ResourceNotebook, ID: notebookID})
	if err != nil {
		return gatewayError(err)
	}

	task := &model.ResearchTask{
		NotebookID: notebookID,
		Query:      query,
		Status:     model.ResearchPending,
	}
	if err := s.store.CreateResearchTask(ctx, task); err != nil {
		return toolError("Failed to create research task: %v", err)
	}

	s.meter(ctx, verdict, "quill_start_research")
	return successJSON(task)
}

// handleGetResearch returns a research task's status and result.
func (s *MCPServer) handleGetResearch(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	taskID, err := requireString(request, "task_id")
	if err != nil {
		return toolError("%v", err)
	}

	verdict, err := s.authorize(ctx, gateway.OpResearchRead,
		&gateway.ResourceRef{Kind: gateway.ResourceResearch, ID: taskID})
	if err != nil {
		return gatewayError(err)
	}

	task, err := s.store.GetResearchTask(ctx, taskID)
	if err != nil {
		return toolError("Failed to get research task: %v", err)
	}

	s.meter(ctx, verdict, "quill_get_research")
	return successJSON(task)
}
