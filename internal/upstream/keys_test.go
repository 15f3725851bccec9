package upstream

import (
	"testing"
	"time"
)

func TestKeyRotator_RoundRobinCyclesKeys(t *testing.T) {
	r := NewKeyRotator("prov", []string{"a", "b", "c"}, StrategyRoundRobin, time.Minute)

	var seen []string
	for i := 0; i < 4; i++ {
		k, err := r.Pick()
		if err != nil {
			t.Fatalf("Pick: %v", err)
		}
		seen = append(seen, k)
	}
	want := []string{"a", "b", "c", "a"}
	for i, k := range want {
		if seen[i] != k {
			t.Errorf("pick %d = %s, want %s", i, seen[i], k)
		}
	}
}

func TestKeyRotator_HealthBasedPrefersFirstActive(t *testing.T) {
	r := NewKeyRotator("prov", []string{"a", "b"}, StrategyHealthBased, time.Minute)
	r.ReportFailure("a")
	r.ReportFailure("a")
	r.ReportFailure("a") // disables a after 3 consecutive failures

	k, err := r.Pick()
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if k != "b" {
		t.Errorf("Pick() = %s, want b (a should be disabled)", k)
	}
}

func TestKeyRotator_RateLimitedKeyEntersAndExitsCooldown(t *testing.T) {
	r := NewKeyRotator("prov", []string{"a", "b"}, StrategyRoundRobin, 10*time.Millisecond)
	r.ReportRateLimited("a")

	k, err := r.Pick()
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if k != "b" {
		t.Errorf("Pick() = %s, want b while a cools down", k)
	}

	time.Sleep(20 * time.Millisecond)

	// a should be eligible again once its cooldown expires.
	found := false
	for i := 0; i < 2; i++ {
		if k, _ := r.Pick(); k == "a" {
			found = true
		}
	}
	if !found {
		t.Error("key a never reappeared after its cooldown expired")
	}
}

func TestKeyRotator_ConsecutiveFailuresDisableKey(t *testing.T) {
	r := NewKeyRotator("prov", []string{"a"}, StrategyRoundRobin, time.Minute)
	r.ReportFailure("a")
	r.ReportFailure("a")
	r.ReportFailure("a")

	if _, err := r.Pick(); err == nil {
		t.Error("expected ErrNoHealthyKey after threshold consecutive failures")
	}
}

func TestKeyRotator_SuccessClearsFailureStreak(t *testing.T) {
	r := NewKeyRotator("prov", []string{"a"}, StrategyRoundRobin, time.Minute)
	r.ReportFailure("a")
	r.ReportFailure("a")
	r.ReportSuccess("a")
	r.ReportFailure("a")
	r.ReportFailure("a")

	if _, err := r.Pick(); err != nil {
		t.Errorf("key should still be active, only 2 failures since last success: %v", err)
	}
}

func TestKeyRotator_DisabledKeyRequiresManualReset(t *testing.T) {
	r := NewKeyRotator("prov", []string{"a"}, StrategyRoundRobin, time.Minute)
	r.ReportFailure("a")
	r.ReportFailure("a")
	r.ReportFailure("a")
	r.ReportSuccess("a") // should not auto-heal a disabled key

	if _, err := r.Pick(); err == nil {
		t.Fatal("disabled key should not be picked without a manual Reset")
	}

	if ok := r.Reset("a"); !ok {
		t.Fatal("Reset should find the key")
	}
	if _, err := r.Pick(); err != nil {
		t.Errorf("key should be active after Reset: %v", err)
	}
}

func TestKeyRotator_NoKeysReturnsError(t *testing.T) {
	r := NewKeyRotator("prov", nil, StrategyRoundRobin, time.Minute)
	if _, err := r.Pick(); err == nil {
		t.Error("expected ErrNoHealthyKey for a provider with no keys")
	}
}
