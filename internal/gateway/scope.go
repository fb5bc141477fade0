package gateway

import "github.com/quillworks/quill/internal/model"

// Capability tags grantable to an API key. ScopeRead is a blanket grant for
// non-mutating operations across all resource kinds; ScopeAll grants
// everything.
const (
	ScopeNotebooks = "notebooks"
	ScopeSources   = "sources"
	ScopeNotes     = "notes"
	ScopeChat      = "chat"
	ScopeAudio     = "audio"
	ScopeVideo     = "video"
	ScopeResearch  = "research"
	ScopeStudy     = "study"
	ScopeRead      = "read"
	ScopeAll       = "*"
)

// KnownScopes lists every grantable tag, used to validate key policies.
var KnownScopes = []string{
	ScopeNotebooks, ScopeSources, ScopeNotes, ScopeChat, ScopeAudio,
	ScopeVideo, ScopeResearch, ScopeStudy, ScopeRead, ScopeAll,
}

// Operation describes a protected operation: the capability it requires and
// whether it mutates state. The mutating flag decides whether the blanket
// read grant applies.
type Operation struct {
	Scope    string
	Mutating bool
}

// Operations declared by the CRUD surface.
var (
	OpNotebooksRead   = Operation{Scope: ScopeNotebooks}
	OpNotebooksWrite  = Operation{Scope: ScopeNotebooks, Mutating: true}
	OpSourcesRead     = Operation{Scope: ScopeSources}
	OpSourcesWrite    = Operation{Scope: ScopeSources, Mutating: true}
	OpNotesRead       = Operation{Scope: ScopeNotes}
	OpNotesWrite      = Operation{Scope: ScopeNotes, Mutating: true}
	OpResearchRead    = Operation{Scope: ScopeResearch}
	OpResearchWrite   = Operation{Scope: ScopeResearch, Mutating: true}
)

// AuthorizeScope checks a key's granted scope set against the operation's
// required capability. The wildcard grants everything; the read tag grants
// only non-mutating access, regardless of which resource-specific tags the
// key also holds.
func AuthorizeScope(scopes model.StringList, op Operation) error {
	if scopes.Contains(ScopeAll) {
		return nil
	}
	if !op.Mutating && scopes.Contains(ScopeRead) {
		return nil
	}
	if scopes.Contains(op.Scope) {
		return nil
	}
	return &Error{
		Kind:          KindInsufficientScope,
		Message:       "API key lacks required scope: " + op.Scope,
		RequiredScope: op.Scope,
	}
}

// ValidScope reports whether tag is a known capability.
func ValidScope(tag string) bool {
	for _, s := range KnownScopes {
		if s == tag {
			return true
		}
	}
	return false
}
