package protocol

import "net/http"

// OpenAIDialect targets the OpenAI chat-completions wire format
// (spec.md §6: "POST {base}/v1/chat/completions, bearer auth") — also used
// by every OpenAI-compatible provider (vLLM, TGI, OpenRouter) since they
// share this exact shape, mirroring how the teacher's inference.Router
// dispatched all of them through one createClient branch.
type OpenAIDialect struct{}

func (OpenAIDialect) AuthStyle() AuthStyle { return AuthBearer }

func (OpenAIDialect) BuildRequest(endpoint string, body interface{}) (*http.Request, error) {
	return jsonRequest(http.MethodPost, endpoint, body)
}
