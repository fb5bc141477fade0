package mcp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/quillworks/quill/internal/gateway"
)

// requireString extracts a required string argument from the tool request.
func requireString(request mcp.CallToolRequest, key string) (string, error) {
	val, err := request.RequireString(key)
	if err != nil {
		return "", fmt.Errorf("missing required parameter %q", key)
	}
	return val, nil
}

// optionalString extracts an optional string argument from the tool request.
func optionalString(request mcp.CallToolRequest, key string) string {
	return request.GetString(key, "")
}

// successJSON marshals data to JSON and returns it as a tool result.
func successJSON(data interface{}) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

// toolError returns a tool-level error result. Errors returned this way are
// visible to the LLM so it can self-correct; they do NOT terminate the MCP
// session.
func toolError(format string, args ...interface{}) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(fmt.Sprintf(format, args...)), nil
}

// gatewayError maps an authorization refusal into a tool error the LLM can
// act on.
func gatewayError(err error) (*mcp.CallToolResult, error) {
	ge, ok := gateway.AsError(err)
	if !ok {
		return toolError("Authorization failed: %v", err)
	}
	switch ge.Kind {
	case gateway.KindInsufficientScope:
		return toolError("API key lacks the %q scope required for this tool", ge.RequiredScope)
	case gateway.KindRateLimited:
		return toolError("Rate limit exceeded; retry in %s", ge.RetryAfter.Round(time.Second))
	default:
		return toolError("Not authorized: %s", ge.Message)
	}
}
