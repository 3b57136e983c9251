package fetcher

import (
	"sync"
	"time"
)

const (
	maxConsecutiveFailures = 3
	failureCooldown        = 5 * time.Minute
	rateLimitPenalty       = 60 * time.Second
)

// credentialHealth tracks one API key's recent behaviour. Mutated only by
// the owning Keyring.
type credentialHealth struct {
	key                 string
	consecutiveFailures int
	lastFailureAt       time.Time
	rateLimitedUntil    time.Time
}

// Keyring owns the credential pool for a single provider and decides which
// key the next call should use. A key with rateLimitedUntil in the future is
// never selected; a key with three consecutive failures sits out a
// five-minute cooldown, after which its failure counter resets to zero.
type Keyring struct {
	mu     sync.Mutex
	keys   []*credentialHealth
	cursor int
	now    func() time.Time
}

// NewKeyring builds a Keyring over the given API keys. Empty keys are
// ignored.
func NewKeyring(keys []string) *Keyring {
	kr := &Keyring{now: time.Now}
	for _, k := range keys {
		if k == "" {
			continue
		}
		kr.keys = append(kr.keys, &credentialHealth{key: k})
	}
	return kr
}

// Len reports the number of managed credentials.
func (kr *Keyring) Len() int {
	kr.mu.Lock()
	defer kr.mu.Unlock()
	return len(kr.keys)
}

// Next returns the next eligible key and advances the rotation cursor.
// ok is false when every credential is rate limited or cooling down.
func (kr *Keyring) Next() (string, bool) {
	kr.mu.Lock()
	defer kr.mu.Unlock()

	now := kr.now()
	for i := 0; i < len(kr.keys); i++ {
		idx := (kr.cursor + i) % len(kr.keys)
		cred := kr.keys[idx]
		if !kr.eligible(cred, now) {
			continue
		}
		kr.cursor = (idx + 1) % len(kr.keys)
		return cred.key, true
	}
	return "", false
}

func (kr *Keyring) eligible(cred *credentialHealth, now time.Time) bool {
	if now.Before(cred.rateLimitedUntil) {
		return false
	}
	if cred.consecutiveFailures >= maxConsecutiveFailures {
		if now.Sub(cred.lastFailureAt) < failureCooldown {
			return false
		}
		// Cooldown elapsed: the key earns a clean slate.
		cred.consecutiveFailures = 0
	}
	return true
}

// MarkSuccess resets the key's failure counter and clears any rate limit.
func (kr *Keyring) MarkSuccess(key string) {
	kr.mu.Lock()
	defer kr.mu.Unlock()
	if cred := kr.find(key); cred != nil {
		cred.consecutiveFailures = 0
		cred.rateLimitedUntil = time.Time{}
	}
}

// MarkFailure records a non-rate-limit failure for the key.
func (kr *Keyring) MarkFailure(key string) {
	kr.mu.Lock()
	defer kr.mu.Unlock()
	if cred := kr.find(key); cred != nil {
		cred.consecutiveFailures++
		cred.lastFailureAt = kr.now()
	}
}

// MarkRateLimited excludes the key from rotation for the rate-limit penalty
// window regardless of its failure count.
func (kr *Keyring) MarkRateLimited(key string) {
	kr.mu.Lock()
	defer kr.mu.Unlock()
	if cred := kr.find(key); cred != nil {
		cred.rateLimitedUntil = kr.now().Add(rateLimitPenalty)
	}
}

func (kr *Keyring) find(key string) *credentialHealth {
	for _, cred := range kr.keys {
		if cred.key == key {
			return cred
		}
	}
	return nil
}
