package types

import "strings"

// Fact is one citable unit of the knowledge base. The id encodes provenance
// (source tag, section slug, sequence number).
type Fact struct {
	ID   string `json:"id" yaml:"id"`
	Text string `json:"text" yaml:"text"`
}

// EmbeddedFact is a Fact plus the vector computed for it at build time.
type EmbeddedFact struct {
	Fact
	Embedding []float32 `json:"embedding"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type ChatMessage struct {
	Role    string `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content" validate:"required"`
}

// HistoryLimit caps the number of messages kept per conversation.
const HistoryLimit = 10

// TrimHistory returns the last n messages of history.
func TrimHistory(history []ChatMessage, n int) []ChatMessage {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

// ModelAnswer is the JSON shape the model is instructed to produce.
type ModelAnswer struct {
	Answer           string   `json:"answer"`
	SupportedByFacts bool     `json:"supported_by_facts"`
	Citations        []string `json:"citations"`
}

// Scope restricts retrieval to one partition of the knowledge base.
type Scope string

const (
	ScopeAny     Scope = "any"
	ScopeSite    Scope = "kb"
	ScopeProfile Scope = "li"
)

// Id namespaces written by the knowledge base builder.
const (
	SiteNamespace    = "kb"
	ProfileNamespace = "li"
)

// Matches reports whether a fact id belongs to the scope. Scope is derived
// from the id prefix only; there is no stored partition field.
func (s Scope) Matches(id string) bool {
	switch s {
	case ScopeSite, ScopeProfile:
		return strings.HasPrefix(id, string(s)+":")
	default:
		return true
	}
}
