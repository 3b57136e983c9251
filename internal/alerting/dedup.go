package alerting

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// dedupCache remembers alerts already triggered during this process
// lifetime so an alert fires at most once per session even when the same
// price is evaluated twice. Capacity is fixed: old entries fall out instead
// of growing for the life of the process; the status guard in storage still
// protects evicted entries.
//
// Keyed by alert ID alone: TRIGGERED is terminal, so an alert can only ever
// have one trigger event per process and the trigger time needs no part in
// the key. It is kept as the entry value for observability.
type dedupCache struct {
	entries *lru.Cache[int64, time.Time]
}

func newDedupCache(capacity int) (*dedupCache, error) {
	entries, err := lru.New[int64, time.Time](capacity)
	if err != nil {
		return nil, err
	}
	return &dedupCache{entries: entries}, nil
}

// Seen reports whether the alert already triggered this session.
func (d *dedupCache) Seen(alertID int64) bool {
	return d.entries.Contains(alertID)
}

// Add records the alert's trigger time.
func (d *dedupCache) Add(alertID int64, triggeredAt time.Time) {
	d.entries.Add(alertID, triggeredAt)
}
