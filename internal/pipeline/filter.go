package pipeline

import (
	"time"

	"github.com/alertdeck/alertdeck/internal/cache"
	"github.com/alertdeck/alertdeck/internal/models"
)

// Filter decides, per incident identity, whether the pipeline should
// process it or skip it as already handled. State lives in the cache
// store; the filter itself is stateless.
type Filter struct {
	store    *cache.Store
	cooldown time.Duration
	now      func() time.Time
}

// NewFilter creates a filter with the given failure cooldown window.
func NewFilter(store *cache.Store, cooldown time.Duration) *Filter {
	return &Filter{
		store:    store,
		cooldown: cooldown,
		now:      time.Now,
	}
}

// Decide returns whether the identity should be processed, plus the
// reason for a skip. Failed incidents become eligible again once the
// cooldown has elapsed; everything in flight or delivered is skipped.
func (f *Filter) Decide(identity string) (bool, string) {
	entry, ok := f.store.Get(identity)
	if !ok {
		return true, "first seen"
	}

	switch entry.State {
	case models.StateNew:
		return true, "new"
	case models.StateEnriching:
		return false, "enrichment in flight"
	case models.StateEnriched:
		return false, "awaiting delivery"
	case models.StateDelivered:
		return false, "already delivered"
	case models.StateFailed:
		if f.now().Sub(entry.FailedAt) < f.cooldown {
			return false, "failure cooldown"
		}
		return true, "retry after cooldown"
	default:
		return false, "unknown state"
	}
}
