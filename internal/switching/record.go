// Package switching implements the Pipeline Switching Controller (spec.md
// §4.7): failure classification, cooldown/backoff, and the blacklist
// machinery that keeps a failed pipeline out of rotation. It owns the
// PipelineHealthRecord map (spec.md §3's ownership rule) and replaces the
// teacher's healthring package, which polled member health on a ticker —
// here health is derived from live request outcomes instead.
package switching

import (
	"math"
	"time"

	"github.com/cortexhub/anthropic-gateway/internal/pipeline"
)

// Record is the per-pipeline PipelineHealthRecord (spec.md §3).
type Record struct {
	PipelineID          string
	Status              pipeline.Status
	ConsecutiveFailures int
	LastFailure         time.Time
	CooldownExpiry      time.Time
}

const (
	baseCooldown = 2 * time.Second
	maxCooldown  = 5 * time.Minute
)

// nextCooldown grows exponentially with consecutive failures, capped
// (spec.md §3 invariant, §4.7).
func nextCooldown(consecutiveFailures int) time.Duration {
	d := time.Duration(float64(baseCooldown) * math.Pow(2, float64(consecutiveFailures-1)))
	if d > maxCooldown || d <= 0 {
		return maxCooldown
	}
	return d
}

// InCooldown reports whether the record is still serving its backoff
// window at instant now.
func (r *Record) InCooldown(now time.Time) bool {
	return r.Status == pipeline.StatusTemporarilyBlocked && now.Before(r.CooldownExpiry)
}

// IsSelectable reports whether a router may pick this pipeline right now:
// healthy, or temporarily-blocked with an expired cooldown (which the
// controller treats as healed back to healthy on the next touch).
func (r *Record) IsSelectable(now time.Time) bool {
	if r.Status == pipeline.StatusBlacklisted || r.Status == pipeline.StatusDestroyed {
		return false
	}
	return !r.InCooldown(now)
}
