package router

import (
	"testing"
	"time"

	"github.com/cortexhub/anthropic-gateway/internal/canonical"
	"github.com/cortexhub/anthropic-gateway/internal/config"
	"github.com/cortexhub/anthropic-gateway/internal/pipeline"
	"github.com/cortexhub/anthropic-gateway/internal/switching"
)

type fakeHealth map[string]switching.Record

func (f fakeHealth) Get(id string) (switching.Record, bool) {
	r, ok := f[id]
	return r, ok
}

func blueprint(id, route string, priority int) *pipeline.Blueprint {
	b := &pipeline.Blueprint{ID: id, RouteName: route}
	b.Layers[1] = pipeline.LayerDescriptor{Kind: "router.stamp", Config: map[string]interface{}{"priority": priority}}
	return b
}

func TestSelect_FirstHealthyByPriority(t *testing.T) {
	bps := []*pipeline.Blueprint{
		blueprint("pipeline_a_m1", "default", 0),
		blueprint("pipeline_b_m1", "default", 1),
	}
	health := fakeHealth{
		"pipeline_a_m1": {Status: pipeline.StatusHealthy},
		"pipeline_b_m1": {Status: pipeline.StatusHealthy},
	}
	r := New(&config.RoutingTable{}, bps, health)

	id, err := r.Select(&canonical.Request{})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if id != "pipeline_a_m1" {
		t.Errorf("expected first-priority pipeline, got %s", id)
	}
}

func TestSelect_SkipsUnhealthy(t *testing.T) {
	bps := []*pipeline.Blueprint{
		blueprint("pipeline_a_m1", "default", 0),
		blueprint("pipeline_b_m1", "default", 1),
	}
	health := fakeHealth{
		"pipeline_a_m1": {Status: pipeline.StatusBlacklisted},
		"pipeline_b_m1": {Status: pipeline.StatusHealthy},
	}
	r := New(&config.RoutingTable{}, bps, health)

	id, err := r.Select(&canonical.Request{})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if id != "pipeline_b_m1" {
		t.Errorf("expected fallback pipeline, got %s", id)
	}
}

func TestSelect_NoHealthyPipeline(t *testing.T) {
	bps := []*pipeline.Blueprint{blueprint("pipeline_a_m1", "default", 0)}
	health := fakeHealth{"pipeline_a_m1": {Status: pipeline.StatusBlacklisted}}
	r := New(&config.RoutingTable{}, bps, health)

	if _, err := r.Select(&canonical.Request{}); err != ErrNoHealthyPipeline {
		t.Errorf("expected ErrNoHealthyPipeline, got %v", err)
	}
}

func TestCategory_BackgroundWinsOverToolUse(t *testing.T) {
	req := &canonical.Request{
		Tools:    []canonical.Tool{{Name: "get_weather"}},
		Metadata: canonical.Metadata{Background: true},
	}
	if got := category(req, true); got != "background" {
		t.Errorf("expected background to win, got %s", got)
	}
}

func TestCategory_ToolUse(t *testing.T) {
	req := &canonical.Request{Tools: []canonical.Tool{{Name: "get_weather"}}}
	if got := category(req, true); got != "tooluse" {
		t.Errorf("expected tooluse, got %s", got)
	}
	if got := category(req, false); got != "default" {
		t.Errorf("expected default when no tooluse route exists, got %s", got)
	}
}

func TestCategory_LongContext(t *testing.T) {
	big := make([]byte, longContextThreshold+1)
	for i := range big {
		big[i] = 'x'
	}
	req := &canonical.Request{Messages: []canonical.Message{{Text: string(big)}}}
	if got := category(req, false); got != "longcontext" {
		t.Errorf("expected longcontext, got %s", got)
	}
}

func TestSelect_TieBreakOnFailureCount(t *testing.T) {
	bps := []*pipeline.Blueprint{
		blueprint("pipeline_a_m1", "default", 0),
		blueprint("pipeline_b_m1", "default", 0),
	}
	now := time.Now()
	health := fakeHealth{
		"pipeline_a_m1": {Status: pipeline.StatusHealthy, ConsecutiveFailures: 2, LastFailure: now},
		"pipeline_b_m1": {Status: pipeline.StatusHealthy, ConsecutiveFailures: 1, LastFailure: now.Add(-time.Minute)},
	}
	r := New(&config.RoutingTable{}, bps, health)

	id, err := r.Select(&canonical.Request{})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if id != "pipeline_b_m1" {
		t.Errorf("expected fewer-failures pipeline to win tie, got %s", id)
	}
}
