// Package cache holds the process-wide incident store. The dashboard read
// path is served entirely from here, so reads never touch the monitoring
// source or the enrichment provider.
package cache

import (
	"sync"
	"time"

	"github.com/alertdeck/alertdeck/internal/models"
)

// Entry is one cached incident together with its pipeline state and,
// once enriched, the immutable enrichment result.
type Entry struct {
	Incident models.Incident
	Result   *models.EnrichmentResult
	State    models.IncidentState
	FailedAt time.Time
	// seq orders entries by first insertion; eviction drops the lowest.
	seq uint64
}

// Store is an in-memory, bounded incident cache. Writes are atomic per
// identity; concurrent reads are always safe. Eviction is deterministic:
// when the bound is exceeded the entry with the oldest first insertion is
// dropped, regardless of state.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	order   []string // identities in insertion order
	max     int
	nextSeq uint64
}

// NewStore creates a store bounded to max entries.
func NewStore(max int) *Store {
	if max <= 0 {
		max = 500
	}
	return &Store{
		entries: make(map[string]*Entry),
		max:     max,
	}
}

// Track inserts the incident if unseen (state new) or refreshes the mutable
// fields of an existing entry, last value wins. FirstSeenAt and state are
// preserved across refreshes. The returned Entry is a copy.
func (s *Store) Track(inc models.Incident) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[inc.ID]; ok {
		existing.Incident.Host = inc.Host
		existing.Incident.Problem = inc.Problem
		existing.Incident.Severity = inc.Severity
		existing.Incident.Tags = append([]models.Tag(nil), inc.Tags...)
		return *existing
	}

	entry := &Entry{
		Incident: inc,
		State:    models.StateNew,
		seq:      s.nextSeq,
	}
	s.nextSeq++
	s.entries[inc.ID] = entry
	s.order = append(s.order, inc.ID)
	s.evictLocked()
	return *entry
}

// Get returns a copy of the entry for the identity, if present.
func (s *Store) Get(identity string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[identity]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// ListRecent returns up to limit entries, newest insertion first.
// A non-positive limit returns everything.
func (s *Store) ListRecent(limit int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.order)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Entry, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		if entry, ok := s.entries[s.order[i]]; ok {
			out = append(out, *entry)
		}
	}
	return out
}

// BeginEnrichment transitions an identity into the enriching state. It
// returns false when the identity is unknown, already enriching, or in a
// terminal state, guaranteeing a single enrichment in flight per identity
// even when poll cycles overlap.
func (s *Store) BeginEnrichment(identity string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[identity]
	if !ok {
		return false
	}
	if entry.State != models.StateNew && entry.State != models.StateFailed {
		return false
	}
	entry.State = models.StateEnriching
	return true
}

// Put stores the enrichment result and moves the entry to enriched.
// This write happens-before any broadcast of the result.
func (s *Store) Put(identity string, inc models.Incident, result models.EnrichmentResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[identity]
	if !ok {
		entry = &Entry{Incident: inc, seq: s.nextSeq}
		s.nextSeq++
		s.entries[identity] = entry
		s.order = append(s.order, identity)
		s.evictLocked()
	}
	res := result
	entry.Result = &res
	entry.State = models.StateEnriched
	entry.FailedAt = time.Time{}
}

// SetState overwrites the pipeline state for an identity.
func (s *Store) SetState(identity string, state models.IncidentState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[identity]
	if !ok {
		return false
	}
	entry.State = state
	return true
}

// MarkFailed records an enrichment failure; the incident becomes eligible
// again once the caller's cooldown window has elapsed.
func (s *Store) MarkFailed(identity string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[identity]
	if !ok {
		return
	}
	entry.State = models.StateFailed
	entry.FailedAt = at
}

// Len returns the number of cached entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store) evictLocked() {
	for len(s.order) > s.max {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.entries, oldest)
	}
}
