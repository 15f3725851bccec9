package protocol

import "net/http"

// LlamaCppDialect targets llama.cpp server's native /completion endpoint —
// a single "prompt" string, not a messages array — grounded on the
// teacher's LlamaCPPClient.
type LlamaCppDialect struct{}

func (LlamaCppDialect) AuthStyle() AuthStyle { return AuthNone }

func (LlamaCppDialect) BuildRequest(endpoint string, body interface{}) (*http.Request, error) {
	return jsonRequest(http.MethodPost, endpoint, body)
}
