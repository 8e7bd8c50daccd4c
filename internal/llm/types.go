package llm

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completer produces an answer for a query given a context block of
// retrieved documents. Implemented by the HTTP client below; tests use
// doubles.
type Completer interface {
	Complete(ctx context.Context, contextBlock, query string) (string, error)
}
