package pipeline

import "log/slog"

// Pipeline is a constructed, stateless-per-request assembly of six layer
// objects (spec.md §3). Status starts healthy unless assembly failed.
type Pipeline struct {
	ID        string
	RouteName string
	Blueprint *Blueprint
	Layers    [6]Layer
	Status    Status
}

// LayerFactory builds the concrete Layer for one descriptor kind. Supplying
// this as an injected registry — rather than importing internal/protocol,
// internal/transform, internal/compat and internal/upstream directly — keeps
// the assembler ignorant of any one dialect and avoids an import cycle back
// into those packages' own use of pipeline.Layer.
type LayerFactory func(desc LayerDescriptor, blueprint *Blueprint) (Layer, error)

// Assembler owns every Pipeline once constructed (spec.md §3's ownership
// rule); the pipeline map is written only here, at startup, and is
// lock-free for readers thereafter (spec.md §5).
type Assembler struct {
	logger     *slog.Logger
	factories  map[string]LayerFactory
	pipelines  map[string]*Pipeline
}

// Result summarises one assembly pass.
type Result struct {
	Pipelines map[string]*Pipeline
	Healthy   int
	Failed    int
	Failures  map[string]error
}

func NewAssembler(logger *slog.Logger, factories map[string]LayerFactory) *Assembler {
	return &Assembler{logger: logger, factories: factories, pipelines: make(map[string]*Pipeline)}
}

// Assemble constructs the six layer objects per blueprint, performing only
// local validation — it never probes the network (spec.md §4.2). A failed
// blueprint does not abort assembly; its pipeline is recorded blacklisted.
func (a *Assembler) Assemble(blueprints []*Blueprint) Result {
	res := Result{Pipelines: make(map[string]*Pipeline, len(blueprints)), Failures: make(map[string]error)}
	for _, bp := range blueprints {
		p, err := a.assembleOne(bp)
		res.Pipelines[bp.ID] = p
		if err != nil {
			res.Failed++
			res.Failures[bp.ID] = err
			a.logger.Warn("pipeline assembly failed", "pipeline_id", bp.ID, "error", err)
			continue
		}
		res.Healthy++
	}
	a.pipelines = res.Pipelines
	return res
}

func (a *Assembler) assembleOne(bp *Blueprint) (*Pipeline, error) {
	if err := bp.Validate(); err != nil {
		return &Pipeline{ID: bp.ID, RouteName: bp.RouteName, Blueprint: bp, Status: StatusBlacklisted}, err
	}
	p := &Pipeline{ID: bp.ID, RouteName: bp.RouteName, Blueprint: bp, Status: StatusHealthy}
	for i, desc := range bp.Layers {
		factory, ok := a.factories[desc.Kind]
		if !ok {
			err := errUnknownLayerKind(desc.Kind)
			p.Status = StatusBlacklisted
			return p, err
		}
		layer, err := factory(desc, bp)
		if err != nil {
			p.Status = StatusBlacklisted
			return p, err
		}
		p.Layers[i] = layer
	}
	return p, nil
}

// Pipelines returns the most recently assembled pipeline map.
func (a *Assembler) Pipelines() map[string]*Pipeline { return a.pipelines }

type errUnknownLayerKind string

func (e errUnknownLayerKind) Error() string { return "unknown layer kind: " + string(e) }
