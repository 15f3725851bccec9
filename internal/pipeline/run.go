package pipeline

import (
	"fmt"

	"github.com/cortexhub/anthropic-gateway/internal/canonical"
)

// Run drives a request through all six layers: forward (client→server) for
// the outbound pass, then backward (server→client) for the inbound pass —
// the server layer's own Process call is where the actual HTTP round trip
// happens, on the outbound visit; its inbound visit is a passthrough
// (spec.md §4.2's fixed layer order, §4.5's ordering of compatibility
// relative to protocol and server).
func Run(ctx *Context, p *Pipeline, req *canonical.Request) (*canonical.Response, error) {
	var env Envelope = req
	for i := 0; i < 6; i++ {
		layer := p.Layers[i]
		if layer == nil {
			return nil, fmt.Errorf("pipeline %s missing layer at position %d", p.ID, i)
		}
		ctx.Trace.Trace(ctx.RequestID, layer.Name(), DirectionOutbound, env)
		next, err := layer.Process(ctx, env, DirectionOutbound)
		if err != nil {
			return nil, err
		}
		env = next
	}
	for i := 5; i >= 0; i-- {
		layer := p.Layers[i]
		ctx.Trace.Trace(ctx.RequestID, layer.Name(), DirectionInbound, env)
		next, err := layer.Process(ctx, env, DirectionInbound)
		if err != nil {
			return nil, err
		}
		env = next
	}
	resp, ok := env.(*canonical.Response)
	if !ok {
		return nil, fmt.Errorf("pipeline %s: inbound pass did not produce a canonical response", p.ID)
	}
	return resp, nil
}
