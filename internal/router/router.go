// Package router implements the runtime Router (spec.md §4.3): given a
// CanonicalRequest, choose a pipeline id. It holds a non-owning mapping of
// virtual-model → ordered pipeline ids (spec.md §3's ownership rule) and
// consults the switching controller's health records to skip unhealthy
// pipelines.
package router

import (
	"errors"
	"sort"

	"github.com/cortexhub/anthropic-gateway/internal/canonical"
	"github.com/cortexhub/anthropic-gateway/internal/config"
	"github.com/cortexhub/anthropic-gateway/internal/pipeline"
	"github.com/cortexhub/anthropic-gateway/internal/switching"
)

// ErrNoHealthyPipeline is returned when every candidate for the selected
// route is unhealthy (spec.md §4.3).
var ErrNoHealthyPipeline = errors.New("no healthy pipeline for route")

// longContextThreshold is the message-text size (bytes) above which a
// request is classified into the longcontext category (spec.md §4.3 item 3).
const longContextThreshold = 32 * 1024

// HealthSource is the subset of *switching.Controller the router consults.
type HealthSource interface {
	Get(pipelineID string) (switching.Record, bool)
}

// Router maps categories to routes and routes to priority-ordered
// pipeline ids, built once from the RoutingTable and the assembled pipelines.
type Router struct {
	routePipelines map[string][]string       // routeName -> ordered pipeline ids
	priorities     map[string]map[string]int // routeName -> pipeline id -> configured priority
	health         HealthSource
}

func New(table *config.RoutingTable, blueprints []*pipeline.Blueprint, health HealthSource) *Router {
	r := &Router{routePipelines: make(map[string][]string), priorities: make(map[string]map[string]int), health: health}
	byRoute := make(map[string][]*pipeline.Blueprint)
	for _, bp := range blueprints {
		byRoute[bp.RouteName] = append(byRoute[bp.RouteName], bp)
	}
	for routeName, bps := range byRoute {
		sort.SliceStable(bps, func(i, j int) bool {
			pi, _ := bps[i].Layers[1].Config["priority"].(int)
			pj, _ := bps[j].Layers[1].Config["priority"].(int)
			return pi < pj
		})
		ids := make([]string, len(bps))
		prio := make(map[string]int, len(bps))
		for i, bp := range bps {
			ids[i] = bp.ID
			prio[bp.ID], _ = bp.Layers[1].Config["priority"].(int)
		}
		r.routePipelines[routeName] = ids
		r.priorities[routeName] = prio
	}
	_ = table // routes were already expanded into blueprints; table kept for future category→route remaps
	return r
}

// category applies spec.md §4.3's fixed-order classification.
func category(req *canonical.Request, hasToolUseRoute bool) string {
	switch {
	case req.Metadata.Background:
		return "background"
	case len(req.Tools) > 0 && hasToolUseRoute:
		return "tooluse"
	case requestSize(req) > longContextThreshold:
		return "longcontext"
	case req.Metadata.Thinking:
		return "thinking"
	case req.Metadata.Search:
		return "search"
	default:
		return "default"
	}
}

func requestSize(req *canonical.Request) int {
	n := len(req.System)
	for _, m := range req.Messages {
		n += len(m.Text)
		for _, b := range m.Blocks {
			n += len(b.Text)
		}
	}
	return n
}

// Select picks a pipeline id for req, per spec.md §4.3: map category to
// route, walk that route's priority-ordered pipelines, skip unhealthy ones,
// tie-break ties on fewer recent failures then earlier last-failure time.
func (r *Router) Select(req *canonical.Request) (string, error) {
	return r.SelectExcluding(req, nil)
}

// SelectExcluding is Select, additionally skipping any pipeline id in
// excluded — the switching controller's retry loop (spec.md §4.7: "switch
// to next healthy pipeline in the same route") uses this to avoid retrying
// the pipeline that just failed within the same request, whatever state the
// switching controller left its global health record in.
func (r *Router) SelectExcluding(req *canonical.Request, excluded map[string]bool) (string, error) {
	_, hasToolUse := r.routePipelines["tooluse"]
	cat := category(req, hasToolUse)
	routeName := cat
	if _, ok := r.routePipelines[routeName]; !ok {
		routeName = "default"
	}

	// ids is already priority-ordered; "first remaining" after skipping
	// unhealthy entries is the primary rule. Equal-priority candidates
	// (a config edge case, not the common path) fall back to fewer recent
	// failures then earlier last-failure (spec.md §4.3).
	ids := r.routePipelines[routeName]
	var tied []string
	var tiedRecords []switching.Record
	bestPriority := -1
	for _, id := range ids {
		if excluded[id] {
			continue
		}
		rec, ok := r.health.Get(id)
		if ok && rec.Status != pipeline.StatusHealthy {
			continue
		}
		p := r.priorityOf(routeName, id)
		switch {
		case bestPriority == -1 || p < bestPriority:
			bestPriority = p
			tied, tiedRecords = []string{id}, []switching.Record{rec}
		case p == bestPriority:
			tied = append(tied, id)
			tiedRecords = append(tiedRecords, rec)
		}
	}
	if len(tied) == 0 {
		return "", ErrNoHealthyPipeline
	}
	best, bestRecord := tied[0], tiedRecords[0]
	for i := 1; i < len(tied); i++ {
		if betterCandidate(tiedRecords[i], bestRecord) {
			best, bestRecord = tied[i], tiedRecords[i]
		}
	}
	return best, nil
}

func (r *Router) priorityOf(routeName, pipelineID string) int {
	if p, ok := r.priorities[routeName][pipelineID]; ok {
		return p
	}
	return len(r.routePipelines[routeName])
}

func betterCandidate(candidate, current switching.Record) bool {
	if candidate.ConsecutiveFailures != current.ConsecutiveFailures {
		return candidate.ConsecutiveFailures < current.ConsecutiveFailures
	}
	return candidate.LastFailure.Before(current.LastFailure)
}

// RouteNames lists the routes known to this router, e.g. for /status.
func (r *Router) RouteNames() []string {
	names := make([]string, 0, len(r.routePipelines))
	for name := range r.routePipelines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PipelinesFor returns the priority-ordered pipeline ids for a route.
func (r *Router) PipelinesFor(routeName string) []string {
	return r.routePipelines[routeName]
}
