// Package transform implements the Transformer Layer (spec.md §4.4): the
// bidirectional converter between the canonical Anthropic-shaped envelope
// and each upstream provider family's own wire dialect.
package transform

import (
	"github.com/cortexhub/anthropic-gateway/internal/canonical"
	"github.com/cortexhub/anthropic-gateway/internal/pipeline"
)

// Converter is implemented once per provider family. RequestOut builds the
// provider-native request body from a canonical request; ResponseIn builds
// a canonical response from the provider-native reply.
type Converter interface {
	RequestOut(req *canonical.Request, model string) (interface{}, error)
	ResponseIn(virtualModel string, raw interface{}) (*canonical.Response, error)
}

// Layer adapts a Converter into a pipeline.Layer. It does not itself talk
// HTTP — the protocol layer downstream owns wire encoding; this layer only
// maps field shapes.
type Layer struct {
	model     string
	converter Converter
}

func NewLayer(model string, converter Converter) *Layer {
	return &Layer{model: model, converter: converter}
}

func (l *Layer) Name() string { return "transformer" }

func (l *Layer) Process(ctx *pipeline.Context, env pipeline.Envelope, dir pipeline.Direction) (pipeline.Envelope, error) {
	if dir == pipeline.DirectionOutbound {
		req, ok := env.(*canonical.Request)
		if !ok {
			return nil, errWrongEnvelope("transformer", "outbound", "*canonical.Request")
		}
		return l.converter.RequestOut(req, l.model)
	}
	virtualModel := ""
	if ctx.Blueprint != nil {
		virtualModel = ctx.Blueprint.RouteName
	}
	return l.converter.ResponseIn(virtualModel, env)
}

type errWrongEnvelope2 struct{ layer, dir, want string }

func (e errWrongEnvelope2) Error() string {
	return e.layer + " " + e.dir + ": expected " + e.want
}

func errWrongEnvelope(layer, dir, want string) error { return errWrongEnvelope2{layer, dir, want} }
