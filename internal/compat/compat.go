// Package compat implements the Server-Compatibility Layer (spec.md §4.5):
// request-preprocess (clamping, capability gating) runs outbound against
// the already-built *http.Request body, and response-postprocess (idempotent
// per-provider fix tags, plus textual-tool-call extraction) runs inbound
// against the raw provider response bytes — before the transformer parses
// them into the canonical envelope. This keeps the fixed layer order from
// spec.md §4.2 (client, router, transformer, protocol, compatibility,
// server) exact: compatibility sits downstream of protocol outbound and
// upstream of transformer inbound.
package compat

import (
	"bytes"
	"io"
	"net/http"

	"github.com/cortexhub/anthropic-gateway/internal/config"
	"github.com/cortexhub/anthropic-gateway/internal/pipeline"
)

type Layer struct {
	provider *config.Provider
}

func NewLayer(provider *config.Provider) *Layer {
	return &Layer{provider: provider}
}

func (l *Layer) Name() string { return "compatibility" }

func (l *Layer) Process(ctx *pipeline.Context, env pipeline.Envelope, dir pipeline.Direction) (pipeline.Envelope, error) {
	if dir == pipeline.DirectionOutbound {
		req, ok := env.(*http.Request)
		if !ok {
			return env, nil
		}
		return req, l.preprocessRequest(req)
	}
	body, ok := env.([]byte)
	if !ok {
		return env, nil
	}
	return ResponsePostprocess(body, l.provider), nil
}

// preprocessRequest clamps numeric knobs and drops unsupported tool fields
// directly on the marshalled request body (spec.md §4.5).
func (l *Layer) preprocessRequest(req *http.Request) error {
	if req.Body == nil {
		return nil
	}
	raw, err := io.ReadAll(req.Body)
	if err != nil {
		return err
	}
	req.Body.Close()

	fixed := RequestPreprocess(raw, l.provider)
	req.Body = io.NopCloser(bytes.NewReader(fixed))
	req.ContentLength = int64(len(fixed))
	return nil
}
