// Package protocol implements the Protocol Layer (spec.md §4.4, §6): one
// wire dialect per provider family. A Dialect builds the outbound HTTP
// request's method, URL and body for its family; it does not attach
// authentication or execute the call — that is the Server Layer's job
// (internal/upstream), which owns key rotation and is the only layer that
// knows which key is "current".
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cortexhub/anthropic-gateway/internal/pipeline"
)

// AuthStyle tells the server layer how to attach the chosen API key.
type AuthStyle int

const (
	AuthBearer AuthStyle = iota
	AuthAPIKeyQueryParam
	AuthNone
)

// Dialect is implemented once per outbound wire format.
type Dialect interface {
	AuthStyle() AuthStyle
	BuildRequest(endpoint string, body interface{}) (*http.Request, error)
}

// Layer adapts a Dialect into a pipeline.Layer occupying position 4. It only
// runs outbound: it turns the transformer's provider-native body into an
// unauthenticated *http.Request. Inbound, it is a passthrough — raw response
// bytes already arrived from the server layer by the time this layer is
// walked in reverse.
type Layer struct {
	Dialect Dialect
}

func NewLayer(dialect Dialect) *Layer { return &Layer{Dialect: dialect} }

func (l *Layer) Name() string { return "protocol" }

func (l *Layer) Process(ctx *pipeline.Context, env pipeline.Envelope, dir pipeline.Direction) (pipeline.Envelope, error) {
	if dir == pipeline.DirectionInbound {
		return env, nil
	}
	endpoint := ctx.Blueprint.EndpointURL
	return l.Dialect.BuildRequest(endpoint, env)
}

func jsonRequest(method, url string, body interface{}) (*http.Request, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	req, err := http.NewRequest(method, url, bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}
