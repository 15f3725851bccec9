package switching

import (
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/cortexhub/anthropic-gateway/internal/gatewayerr"
	"github.com/cortexhub/anthropic-gateway/internal/pipeline"
)

// Controller owns the PipelineHealthRecord map (spec.md §3, §5: "written by
// the switching controller on every pipeline error or success; readers take
// a read lock, writers a short exclusive lock"). Each pipeline also gets a
// sony/gobreaker circuit breaker, whose trip detection supplies the
// consecutive-failures threshold from spec.md §8.4 — the breaker's own
// cooldown clock is not used, since spec.md mandates an exponential,
// capped backoff rather than gobreaker's fixed half-open timeout; Record's
// CooldownExpiry is the authority readers consult.
type Controller struct {
	mu        sync.RWMutex
	records   map[string]*Record
	breakers  map[string]*gobreaker.CircuitBreaker
	destroyOn bool
	logger    *slog.Logger
}

// consecutiveFailureThreshold is 1: spec.md §8.4's seed scenario has a
// single upstream 503 flip the pipeline straight to temporarily-blocked,
// so there is no tolerance window before a recoverable failure counts.
const consecutiveFailureThreshold = 1

func NewController(logger *slog.Logger, destroyOnBlacklist bool) *Controller {
	return &Controller{
		records:   make(map[string]*Record),
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
		destroyOn: destroyOnBlacklist,
		logger:    logger,
	}
}

// Register seeds a health record for a freshly assembled pipeline.
func (c *Controller) Register(p *pipeline.Pipeline) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[p.ID] = &Record{PipelineID: p.ID, Status: p.Status}
	c.breakers[p.ID] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        p.ID,
		MaxRequests: 1,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= consecutiveFailureThreshold
		},
	})
}

// Get returns a snapshot copy of a pipeline's health record.
func (c *Controller) Get(pipelineID string) (Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.records[pipelineID]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// RecordSuccess clears the pipeline's failure streak. It does not heal a
// blacklisted or destroyed pipeline (spec.md §4.7: "success on an alternate
// pipeline does not heal the failed pipeline").
func (c *Controller) RecordSuccess(pipelineID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.records[pipelineID]
	if !ok {
		return
	}
	r.ConsecutiveFailures = 0
	if r.Status == pipeline.StatusTemporarilyBlocked && time.Now().After(r.CooldownExpiry) {
		r.Status = pipeline.StatusHealthy
	}
	if b, ok := c.breakers[pipelineID]; ok {
		b.Execute(func() (interface{}, error) { return nil, nil })
	}
}

// RecordFailure classifies err and applies the corresponding state
// transition, returning the classification so the caller (the router
// retry loop) knows whether to attempt an alternate pipeline.
func (c *Controller) RecordFailure(pipelineID string, err *gatewayerr.Error) Recoverability {
	class := Classify(err)

	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.records[pipelineID]
	if !ok {
		r = &Record{PipelineID: pipelineID, Status: pipeline.StatusHealthy}
		c.records[pipelineID] = r
	}

	switch class {
	case Terminal:
		// no state change: surfaced to the client unchanged.
	case Recoverable:
		r.ConsecutiveFailures++
		r.LastFailure = time.Now()
		if b, ok := c.breakers[pipelineID]; ok {
			b.Execute(func() (interface{}, error) { return nil, err })
		}
		if r.ConsecutiveFailures >= consecutiveFailureThreshold && r.Status == pipeline.StatusHealthy {
			r.Status = pipeline.StatusTemporarilyBlocked
			r.CooldownExpiry = time.Now().Add(nextCooldown(r.ConsecutiveFailures))
			c.logger.Warn("pipeline temporarily blocked", "pipeline_id", pipelineID, "failures", r.ConsecutiveFailures)
		} else if r.Status == pipeline.StatusTemporarilyBlocked {
			r.CooldownExpiry = time.Now().Add(nextCooldown(r.ConsecutiveFailures))
		}
	case NonRecoverable:
		r.ConsecutiveFailures++
		r.LastFailure = time.Now()
		r.Status = pipeline.StatusBlacklisted
		c.logger.Error("pipeline blacklisted", "pipeline_id", pipelineID, "error", err)
		if c.destroyOn {
			r.Status = pipeline.StatusDestroyed
		}
	}
	return class
}

// Reset is the operator-initiated manual healing path (spec.md §4.7:
// "healing requires either the cooldown to expire or an operator reset").
// It refuses to resurrect a destroyed pipeline.
func (c *Controller) Reset(pipelineID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.records[pipelineID]
	if !ok || r.Status == pipeline.StatusDestroyed {
		return false
	}
	r.Status = pipeline.StatusHealthy
	r.ConsecutiveFailures = 0
	r.CooldownExpiry = time.Time{}
	return true
}

// Reconcile heals any temporarily-blocked pipeline whose cooldown has
// expired, independent of a recorded success — without it, a pipeline the
// router keeps skipping (because it's unhealthy) would never get a success
// to trigger the lazy heal in RecordSuccess. Intended to run on a schedule
// (internal/scheduler).
func (c *Controller) Reconcile(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.records {
		if r.Status == pipeline.StatusTemporarilyBlocked && now.After(r.CooldownExpiry) {
			r.Status = pipeline.StatusHealthy
			r.ConsecutiveFailures = 0
		}
	}
}

// Snapshot returns every record, for the /health and /status endpoints.
func (c *Controller) Snapshot() map[string]Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Record, len(c.records))
	for id, r := range c.records {
		out[id] = *r
	}
	return out
}
