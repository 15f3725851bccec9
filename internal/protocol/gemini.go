package protocol

import "net/http"

// GeminiDialect targets Gemini's generateContent endpoint
// (spec.md §6: "POST {base}/v1beta/models/{model}:generateContent,
// api-key param or bearer"). The endpoint already embeds the model name
// (built by the Router Preprocessor, spec.md §4.2); this dialect only needs
// to know it authenticates via query parameter rather than a header.
type GeminiDialect struct{}

func (GeminiDialect) AuthStyle() AuthStyle { return AuthAPIKeyQueryParam }

func (GeminiDialect) BuildRequest(endpoint string, body interface{}) (*http.Request, error) {
	return jsonRequest(http.MethodPost, endpoint, body)
}
