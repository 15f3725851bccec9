// Package upstream implements the Server Layer (spec.md §4.6): the actual
// outbound HTTP call, key rotation, and translation of transport failures
// into the gatewayerr taxonomy.
package upstream

import (
	"sync"
	"time"
)

// KeyState is one API key's availability (spec.md §4.6).
type KeyState string

const (
	KeyActive                    KeyState = "active"
	KeyCoolingDownAfterRateLimit KeyState = "cooling_down_after_rate_limit"
	KeyDisabledAfterErrors       KeyState = "disabled_after_consecutive_errors"
)

// Strategy selects among a provider's available keys.
type Strategy string

const (
	StrategyRoundRobin Strategy = "round_robin"
	StrategyHealthBased Strategy = "health_based"
)

const consecutiveErrorDisableThreshold = 3

type keyRecord struct {
	key                 string
	state               KeyState
	consecutiveErrors   int
	cooldownExpiry      time.Time
}

// ErrNoHealthyKey is returned when every key for a provider is unavailable.
type ErrNoHealthyKey struct{ Provider string }

func (e ErrNoHealthyKey) Error() string { return "no healthy api key for provider " + e.Provider }

// KeyRotator is per-provider-lockable (spec.md §5): "a tiny critical
// section covering pick next available key + mark as just-used."
type KeyRotator struct {
	mu       sync.Mutex
	provider string
	strategy Strategy
	keys     []*keyRecord
	nextIdx  int
	cooldown time.Duration
}

func NewKeyRotator(provider string, keys []string, strategy Strategy, rateLimitCooldown time.Duration) *KeyRotator {
	records := make([]*keyRecord, len(keys))
	for i, k := range keys {
		records[i] = &keyRecord{key: k, state: KeyActive}
	}
	return &KeyRotator{provider: provider, strategy: strategy, keys: records, cooldown: rateLimitCooldown}
}

// Pick returns the next usable key per the configured strategy.
func (r *KeyRotator) Pick() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for _, rec := range r.keys {
		if rec.state == KeyCoolingDownAfterRateLimit && now.After(rec.cooldownExpiry) {
			rec.state = KeyActive
			rec.consecutiveErrors = 0
		}
	}

	n := len(r.keys)
	if n == 0 {
		return "", ErrNoHealthyKey{Provider: r.provider}
	}

	if r.strategy == StrategyHealthBased {
		for _, rec := range r.keys {
			if rec.state == KeyActive {
				return rec.key, nil
			}
		}
		return "", ErrNoHealthyKey{Provider: r.provider}
	}

	for i := 0; i < n; i++ {
		idx := (r.nextIdx + i) % n
		if r.keys[idx].state == KeyActive {
			r.nextIdx = (idx + 1) % n
			return r.keys[idx].key, nil
		}
	}
	return "", ErrNoHealthyKey{Provider: r.provider}
}

// ReportRateLimited puts key into cooldown (spec.md §4.6: "on HTTP 429 a
// key enters rate-limit cooldown for a configured duration").
func (r *KeyRotator) ReportRateLimited(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec := r.find(key); rec != nil {
		rec.state = KeyCoolingDownAfterRateLimit
		rec.cooldownExpiry = time.Now().Add(r.cooldown)
	}
}

// ReportFailure increments the consecutive non-429 error count and disables
// the key after the default threshold (spec.md §4.6).
func (r *KeyRotator) ReportFailure(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.find(key)
	if rec == nil {
		return
	}
	rec.consecutiveErrors++
	if rec.consecutiveErrors >= consecutiveErrorDisableThreshold {
		rec.state = KeyDisabledAfterErrors
	}
}

// ReportSuccess clears a key's failure streak.
func (r *KeyRotator) ReportSuccess(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec := r.find(key); rec != nil {
		rec.consecutiveErrors = 0
		if rec.state == KeyDisabledAfterErrors {
			// disabled keys require a manual reset, not an automatic heal.
			return
		}
		rec.state = KeyActive
	}
}

// Reset manually restores a disabled key (spec.md §4.6: "manual reset
// restores it").
func (r *KeyRotator) Reset(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.find(key)
	if rec == nil {
		return false
	}
	rec.state = KeyActive
	rec.consecutiveErrors = 0
	return true
}

func (r *KeyRotator) find(key string) *keyRecord {
	for _, rec := range r.keys {
		if rec.key == key {
			return rec
		}
	}
	return nil
}
