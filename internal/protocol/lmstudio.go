package protocol

import "net/http"

// LMStudioDialect targets LMStudio's local OpenAI-compatible server. It is
// wire-identical to OpenAIDialect; kept as its own type (rather than an
// alias) so the blueprint's layer kind string ("protocol.lmstudio") stays
// self-documenting and a future LMStudio-specific quirk has somewhere to
// live without disturbing the shared OpenAI path. Grounded on the teacher's
// TGIClient, which hit a bespoke /generate endpoint — LMStudio's server
// instead speaks the same /v1/chat/completions shape OpenAIDialect does.
type LMStudioDialect struct{}

func (LMStudioDialect) AuthStyle() AuthStyle { return AuthNone }

func (LMStudioDialect) BuildRequest(endpoint string, body interface{}) (*http.Request, error) {
	return jsonRequest(http.MethodPost, endpoint, body)
}
