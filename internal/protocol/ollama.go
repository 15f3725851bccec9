package protocol

import "net/http"

// OllamaDialect targets Ollama's native /api/chat endpoint rather than the
// OpenAI-compatible shape — grounded on the teacher's ollama.go, upgraded
// from its /api/generate (single-prompt) call to /api/chat so multi-turn
// history and tool declarations survive (spec.md §6: "provider-local
// variants (LMStudio, Ollama on localhost)"). Local Ollama instances are
// unauthenticated.
type OllamaDialect struct{}

func (OllamaDialect) AuthStyle() AuthStyle { return AuthNone }

func (OllamaDialect) BuildRequest(endpoint string, body interface{}) (*http.Request, error) {
	return jsonRequest(http.MethodPost, endpoint, body)
}
