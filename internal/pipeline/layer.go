// Package pipeline assembles the six-layer request/response processor for
// each (route, provider, model) triple (spec.md §4.2, §9). A Pipeline is an
// array of Layer objects, not a class hierarchy — the polymorphic contract
// recommended in spec.md §9's design notes.
package pipeline

import "context"

// Direction distinguishes the outbound (client→upstream) pass from the
// inbound (upstream→client) pass through a layer.
type Direction int

const (
	DirectionOutbound Direction = iota
	DirectionInbound
)

// Envelope is whatever a layer passes to the next: a *canonical.Request or
// *canonical.Response outbound, raw provider bytes or a *canonical.Response
// inbound, depending on where in the chain the layer sits. Layers type-assert
// on what they expect; a mismatch is an Internal error.
type Envelope = interface{}

// Context carries the per-request values every layer may need: the blueprint
// it was assembled from, a logger, the debug tracer, and the request's
// cancellation signal. It is the explicit dependency spec.md §9 calls for in
// place of global singletons.
type Context struct {
	context.Context
	Blueprint *Blueprint
	RequestID string
	Trace     Tracer
}

// Tracer receives one call per layer transition when debug tracing is
// enabled; a no-op implementation is substituted otherwise.
type Tracer interface {
	Trace(requestID, layer string, direction Direction, payload interface{})
}

// NoopTracer discards every trace call.
type NoopTracer struct{}

func (NoopTracer) Trace(string, string, Direction, interface{}) {}

// Layer is implemented by each of the six layer kinds (client, router,
// transformer, protocol, compatibility, server).
type Layer interface {
	Name() string
	Process(ctx *Context, env Envelope, dir Direction) (Envelope, error)
}
