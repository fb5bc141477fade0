package mcp

import (
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/quillworks/quill/internal/gateway"
)

// resultText extracts the text payload from a tool result.
func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("tool result has no content")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, want mcp.TextContent", result.Content[0])
	}
	return tc.Text
}

func TestSuccessJSON(t *testing.T) {
	result, err := successJSON(map[string]string{"title": "Thesis"})
	if err != nil {
		t.Fatalf("successJSON: %v", err)
	}
	if result.IsError {
		t.Error("successJSON result marked as error")
	}
	if text := resultText(t, result); !strings.Contains(text, `"title": "Thesis"`) {
		t.Errorf("text = %q, want it to contain the marshalled field", text)
	}
}

func TestToolError(t *testing.T) {
	result, err := toolError("bad thing: %s", "details")
	if err != nil {
		t.Fatalf("toolError should not return a protocol error: %v", err)
	}
	if !result.IsError {
		t.Error("toolError result not marked as error")
	}
	if text := resultText(t, result); text != "bad thing: details" {
		t.Errorf("text = %q", text)
	}
}

func TestGatewayError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "insufficient scope names the scope",
			err:  &gateway.Error{Kind: gateway.KindInsufficientScope, RequiredScope: "notes"},
			want: `"notes" scope`,
		},
		{
			name: "rate limited names the retry interval",
			err:  &gateway.Error{Kind: gateway.KindRateLimited, RetryAfter: 42 * time.Second},
			want: "retry in 42s",
		},
		{
			name: "other kinds carry the message",
			err:  &gateway.Error{Kind: gateway.KindOwnershipMismatch, Message: "access denied"},
			want: "access denied",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := gatewayError(tt.err)
			if err != nil {
				t.Fatalf("gatewayError: %v", err)
			}
			if !res.IsError {
				t.Error("gateway refusal not marked as tool error")
			}
			if text := resultText(t, res); !strings.Contains(text, tt.want) {
				t.Errorf("text = %q, want it to contain %q", text, tt.want)
			}
		})
	}
}

func TestBoolPtr(t *testing.T) {
	truePtr := boolPtr(true)
	if truePtr == nil || *truePtr != true {
		t.Errorf("boolPtr(true) = %v", truePtr)
	}
	falsePtr := boolPtr(false)
	if falsePtr == nil || *falsePtr != false {
		t.Errorf("boolPtr(false) = %v", falsePtr)
	}
	if truePtr == falsePtr {
		t.Error("boolPtr should return distinct pointers")
	}
}

func TestAnnotations(t *testing.T) {
	ro := readOnlyAnnotation()
	if ro.ReadOnlyHint == nil || *ro.ReadOnlyHint != true {
		t.Errorf("readOnlyAnnotation hint = %v", ro.ReadOnlyHint)
	}
	mut := mutatingAnnotation()
	if mut.ReadOnlyHint == nil || *mut.ReadOnlyHint != false {
		t.Errorf("mutatingAnnotation hint = %v", mut.ReadOnlyHint)
	}
}
