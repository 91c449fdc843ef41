package gateway

import (
	"testing"
	"time"
)

func TestRateLimiter_Disabled(t *testing.T) {
	rl := NewRateLimiter(0, 5)
	if rl.Enabled() {
		t.Fatal("Enabled() = true, want false for rpm=0")
	}
	for i := 0; i < 100; i++ {
		if !rl.Allow("ip") {
			t.Fatalf("Allow #%d = false on disabled limiter", i)
		}
	}
}

func TestRateLimiter_BurstPerKey(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rl := NewRateLimiter(60, 2)
	rl.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if !rl.Allow("a") {
			t.Fatalf("Allow(a) #%d = false within burst", i)
		}
	}
	if rl.Allow("a") {
		t.Error("Allow(a) after burst = true, want false")
	}
	if !rl.Allow("b") {
		t.Error("Allow(b) = false, keys must not share a bucket")
	}

	now = now.Add(time.Second)
	if !rl.Allow("a") {
		t.Error("Allow(a) after refill = false, want true")
	}
}

func TestRateLimiter_EvictsAtCap(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rl := NewRateLimiter(60, 1)
	rl.now = func() time.Time { return now }
	for i := 0; i < maxTrackedKeys+10; i++ {
		rl.Allow(time.Duration(i).String())
	}
	if n := len(rl.entries); n > maxTrackedKeys {
		t.Errorf("tracked keys = %d, want <= %d", n, maxTrackedKeys)
	}
}
