package fetcher

import (
	"testing"
	"time"
)

func TestKeyringRotation(t *testing.T) {
	kr := NewKeyring([]string{"a", "b", "c"})

	got := make([]string, 0, 4)
	for i := 0; i < 4; i++ {
		key, ok := kr.Next()
		if !ok {
			t.Fatalf("expected an eligible key on call %d", i)
		}
		got = append(got, key)
	}

	want := []string{"a", "b", "c", "a"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rotation order mismatch: got %v want %v", got, want)
		}
	}
}

func TestKeyringFailureCooldown(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	kr := NewKeyring([]string{"a"})
	kr.now = func() time.Time { return now }

	for i := 0; i < maxConsecutiveFailures; i++ {
		kr.MarkFailure("a")
	}

	if _, ok := kr.Next(); ok {
		t.Fatal("key with 3 consecutive failures should be excluded")
	}

	// Still inside the cooldown window.
	now = now.Add(failureCooldown - time.Second)
	if _, ok := kr.Next(); ok {
		t.Fatal("key should stay excluded until the cooldown elapses")
	}

	// Cooldown elapsed: eligible again with the counter reset.
	now = now.Add(2 * time.Second)
	key, ok := kr.Next()
	if !ok || key != "a" {
		t.Fatalf("key should be eligible after cooldown, got %q ok=%v", key, ok)
	}

	kr.MarkFailure("a")
	if _, ok := kr.Next(); !ok {
		t.Fatal("a single failure after reset must not exclude the key")
	}
}

func TestKeyringRateLimit(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	kr := NewKeyring([]string{"a"})
	kr.now = func() time.Time { return now }

	kr.MarkRateLimited("a")
	if _, ok := kr.Next(); ok {
		t.Fatal("rate-limited key should be excluded")
	}

	now = now.Add(rateLimitPenalty + time.Second)
	if _, ok := kr.Next(); !ok {
		t.Fatal("key should be eligible after the rate-limit window")
	}
}

func TestKeyringSuccessResets(t *testing.T) {
	kr := NewKeyring([]string{"a", "b"})

	kr.MarkFailure("a")
	kr.MarkFailure("a")
	kr.MarkRateLimited("a")
	kr.MarkSuccess("a")

	cred := kr.find("a")
	if cred.consecutiveFailures != 0 {
		t.Fatalf("success should reset failures, got %d", cred.consecutiveFailures)
	}
	if !cred.rateLimitedUntil.IsZero() {
		t.Fatal("success should clear the rate-limit flag")
	}
}
