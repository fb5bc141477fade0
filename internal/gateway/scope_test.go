package gateway

import (
	"testing"

	"github.com/quillworks/quill/internal/model"
)

func TestAuthorizeScopeTable(t *testing.T) {
	tests := []struct {
		name   string
		scopes []string
		op     Operation
		allow  bool
	}{
		{"wildcard read", []string{"*"}, OpNotebooksRead, true},
		{"wildcard write", []string{"*"}, OpNotebooksWrite, true},
		{"specific tag read", []string{"notes"}, OpNotesRead, true},
		{"specific tag write", []string{"notes"}, OpNotesWrite, true},
		{"missing tag", []string{"notes"}, OpSourcesRead, false},
		{"read grant covers reads", []string{"read"}, OpResearchRead, true},
		{"read grant never covers writes", []string{"read"}, OpResearchWrite, false},
		{"read plus tag covers tag write", []string{"read", "sources"}, OpSourcesWrite, true},
		{"empty scopes deny everything", nil, OpNotebooksRead, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := AuthorizeScope(model.StringList(tt.scopes), tt.op)
			if tt.allow && err != nil {
				t.Errorf("denied: %v", err)
			}
			if !tt.allow {
				assertKind(t, err, KindInsufficientScope)
			}
		})
	}
}

func TestValidScope(t *testing.T) {
	for _, s := range KnownScopes {
		if !ValidScope(s) {
			t.Errorf("known scope %q reported invalid", s)
		}
	}
	for _, s := range []string{"", "admin", "Notebooks", "**"} {
		if ValidScope(s) {
			t.Errorf("unknown scope %q reported valid", s)
		}
	}
}
