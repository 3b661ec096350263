// Package usage keeps the running total of enrichment provider tokens
// consumed since process start. The total is monotonically non-decreasing
// and resets only on restart; cost is charged when the provider reports
// usage, never rolled back on downstream delivery failures.
package usage

import (
	"sync/atomic"

	"github.com/alertdeck/alertdeck/internal/metrics"
)

// Tracker accumulates token usage reported by enrichment calls.
type Tracker struct {
	total atomic.Int64
}

// NewTracker returns a zeroed tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Record adds the reported token count. Non-positive counts are ignored.
func (t *Tracker) Record(tokens int) {
	if tokens <= 0 {
		return
	}
	t.total.Add(int64(tokens))
	metrics.AddTokens(tokens)
}

// Total returns the tokens consumed since process start.
func (t *Tracker) Total() int64 {
	return t.total.Load()
}
