package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cortexhub/anthropic-gateway/internal/bus"
	"github.com/cortexhub/anthropic-gateway/internal/canonical"
	"github.com/cortexhub/anthropic-gateway/internal/config"
	"github.com/cortexhub/anthropic-gateway/internal/debugtrace"
	"github.com/cortexhub/anthropic-gateway/internal/flow"
	"github.com/cortexhub/anthropic-gateway/internal/gatewayerr"
	"github.com/cortexhub/anthropic-gateway/internal/pipeline"
	"github.com/cortexhub/anthropic-gateway/internal/router"
	"github.com/cortexhub/anthropic-gateway/internal/switching"
)

// fakeLayer lets each test stand up a minimal six-layer pipeline without the
// real transform/protocol/compat/upstream dialects.
type fakeLayer struct {
	name  string
	outFn func(env pipeline.Envelope) (pipeline.Envelope, error)
}

func (f fakeLayer) Name() string { return f.name }

func (f fakeLayer) Process(ctx *pipeline.Context, env pipeline.Envelope, dir pipeline.Direction) (pipeline.Envelope, error) {
	if dir == pipeline.DirectionOutbound && f.outFn != nil {
		return f.outFn(env)
	}
	return env, nil
}

func passthrough(name string) fakeLayer { return fakeLayer{name: name} }

// succeedingPipeline returns a pipeline whose server layer manufactures a
// fixed canonical.Response on the outbound pass, regardless of input.
func succeedingPipeline(id, routeName string, resp *canonical.Response) *pipeline.Pipeline {
	bp := &pipeline.Blueprint{ID: id, RouteName: routeName, Provider: &config.Provider{Name: "acme"}, Model: "m", EndpointURL: "https://x", RetryBudget: 2}
	serverLayer := fakeLayer{
		name:  "server",
		outFn: func(env pipeline.Envelope) (pipeline.Envelope, error) { return resp, nil },
	}
	return &pipeline.Pipeline{
		ID: id, RouteName: routeName, Blueprint: bp, Status: pipeline.StatusHealthy,
		Layers: [6]pipeline.Layer{passthrough("client"), passthrough("router"), passthrough("transformer"), passthrough("protocol"), passthrough("compatibility"), serverLayer},
	}
}

// failingPipeline always returns a gateway error from its server layer.
func failingPipeline(id, routeName string, gerr *gatewayerr.Error) *pipeline.Pipeline {
	bp := &pipeline.Blueprint{ID: id, RouteName: routeName, Provider: &config.Provider{Name: "acme"}, Model: "m", EndpointURL: "https://x", RetryBudget: 2}
	serverLayer := fakeLayer{
		name:  "server",
		outFn: func(env pipeline.Envelope) (pipeline.Envelope, error) { return nil, gerr },
	}
	return &pipeline.Pipeline{
		ID: id, RouteName: routeName, Blueprint: bp, Status: pipeline.StatusHealthy,
		Layers: [6]pipeline.Layer{passthrough("client"), passthrough("router"), passthrough("transformer"), passthrough("protocol"), passthrough("compatibility"), serverLayer},
	}
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil)) }

func newTestServer(t *testing.T, pipelines map[string]*pipeline.Pipeline) (*Server, *switching.Controller) {
	t.Helper()
	logger := testLogger()
	switchCtl := switching.NewController(logger, false)
	blueprints := make([]*pipeline.Blueprint, 0, len(pipelines))
	for id, p := range pipelines {
		switchCtl.Register(p)
		bp := *p.Blueprint
		bp.ID = id
		blueprints = append(blueprints, &bp)
	}
	rt := router.New(&config.RoutingTable{}, blueprints, switchCtl)
	flowCtl := flow.NewController(flow.DefaultLimits(), flow.DefaultIdleTimeouts(), logger, nil)
	trace := debugtrace.NewWriter(t.TempDir(), 0, false)
	hub := bus.NewHub(logger)
	srv := New("127.0.0.1", 0, "test", flowCtl, rt, switchCtl, pipelines, trace, hub, logger)
	srv.requestTimeout = 2 * time.Second
	return srv, switchCtl
}

func sampleBody() []byte {
	req := map[string]interface{}{
		"model":      "default",
		"max_tokens": 64,
		"messages":   []map[string]string{{"role": "user", "content": "hi"}},
	}
	b, _ := json.Marshal(req)
	return b
}

func TestMessagesHandler_Success(t *testing.T) {
	resp := &canonical.Response{ID: "msg_1", Type: "message", Role: canonical.RoleAssistant, Model: "m", StopReason: canonical.StopEndTurn}
	srv, _ := newTestServer(t, map[string]*pipeline.Pipeline{"p1": succeedingPipeline("p1", "default", resp)})

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader(sampleBody()))
	rec := httptest.NewRecorder()
	srv.messagesHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var got canonical.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID != "msg_1" {
		t.Errorf("id = %s, want msg_1", got.ID)
	}
}

func TestMessagesHandler_ValidationRejectsMissingModel(t *testing.T) {
	srv, _ := newTestServer(t, map[string]*pipeline.Pipeline{})
	body, _ := json.Marshal(map[string]interface{}{"max_tokens": 10, "messages": []map[string]string{{"role": "user", "content": "hi"}}})
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.messagesHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestMessagesHandler_RetriesOnRecoverableFailure(t *testing.T) {
	rateLimited := gatewayerr.New(gatewayerr.KindRateLimit, "server", "", "429 from upstream")
	ok := &canonical.Response{ID: "msg_2", Type: "message", Role: canonical.RoleAssistant, Model: "m", StopReason: canonical.StopEndTurn}

	bad := failingPipeline("bad", "default", rateLimited)
	good := succeedingPipeline("good", "default", ok)
	srv, switchCtl := newTestServer(t, map[string]*pipeline.Pipeline{"bad": bad, "good": good})

	// Give "bad" the lower (earlier) priority slot so it is tried first,
	// regardless of map iteration order.
	rt := router.New(&config.RoutingTable{}, []*pipeline.Blueprint{
		{ID: "bad", RouteName: "default", Provider: &config.Provider{Name: "acme"}, EndpointURL: "https://x", RetryBudget: 2,
			Layers: [6]pipeline.LayerDescriptor{{Kind: "k"}, {Kind: "k", Config: map[string]interface{}{"priority": 0}}, {Kind: "k"}, {Kind: "k"}, {Kind: "k"}, {Kind: "k"}}},
		{ID: "good", RouteName: "default", Provider: &config.Provider{Name: "acme"}, EndpointURL: "https://x", RetryBudget: 2,
			Layers: [6]pipeline.LayerDescriptor{{Kind: "k"}, {Kind: "k", Config: map[string]interface{}{"priority": 1}}, {Kind: "k"}, {Kind: "k"}, {Kind: "k"}, {Kind: "k"}}},
	}, switchCtl)
	srv.router = rt

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader(sampleBody()))
	rec := httptest.NewRecorder()
	srv.messagesHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var got canonical.Response
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.ID != "msg_2" {
		t.Errorf("expected the retry to land on the healthy pipeline, got %s", got.ID)
	}
}

func TestHealthHandler_ReportsHealthyWhenAllPipelinesUp(t *testing.T) {
	resp := &canonical.Response{ID: "msg_1"}
	srv, _ := newTestServer(t, map[string]*pipeline.Pipeline{"p1": succeedingPipeline("p1", "default", resp)})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.healthHandler(rec, req)

	var got HealthResponse
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Overall != "healthy" || got.Healthy != 1 || got.Total != 1 {
		t.Errorf("got %+v", got)
	}
}

func TestStatusHandler_ListsProviders(t *testing.T) {
	resp := &canonical.Response{ID: "msg_1"}
	srv, _ := newTestServer(t, map[string]*pipeline.Pipeline{"p1": succeedingPipeline("p1", "default", resp)})

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	srv.statusHandler(rec, req)

	var got StatusResponse
	json.Unmarshal(rec.Body.Bytes(), &got)
	if len(got.Providers) != 1 || got.Providers[0] != "acme" {
		t.Errorf("got %+v", got)
	}
}

func TestShutdown_StopsLiveServer(t *testing.T) {
	srv, _ := newTestServer(t, map[string]*pipeline.Pipeline{})
	go srv.Start()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
