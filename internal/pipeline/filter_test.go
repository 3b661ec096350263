package pipeline

import (
	"testing"
	"time"

	"github.com/alertdeck/alertdeck/internal/cache"
	"github.com/alertdeck/alertdeck/internal/models"
)

func TestFilterDecide(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	cooldown := 10 * time.Minute

	cases := []struct {
		name    string
		prepare func(s *cache.Store)
		now     time.Time
		want    bool
	}{
		{
			name:    "unseen identity",
			prepare: func(_ *cache.Store) {},
			now:     base,
			want:    true,
		},
		{
			name: "new",
			prepare: func(s *cache.Store) {
				s.Track(models.Incident{ID: "ev-1"})
			},
			now:  base,
			want: true,
		},
		{
			name: "enriching",
			prepare: func(s *cache.Store) {
				s.Track(models.Incident{ID: "ev-1"})
				s.BeginEnrichment("ev-1")
			},
			now:  base,
			want: false,
		},
		{
			name: "enriched",
			prepare: func(s *cache.Store) {
				s.Track(models.Incident{ID: "ev-1"})
				s.Put("ev-1", models.Incident{ID: "ev-1"}, models.EnrichmentResult{RootCause: "x"})
			},
			now:  base,
			want: false,
		},
		{
			name: "delivered",
			prepare: func(s *cache.Store) {
				s.Track(models.Incident{ID: "ev-1"})
				s.SetState("ev-1", models.StateDelivered)
			},
			now:  base,
			want: false,
		},
		{
			name: "failed inside cooldown",
			prepare: func(s *cache.Store) {
				s.Track(models.Incident{ID: "ev-1"})
				s.MarkFailed("ev-1", base)
			},
			now:  base.Add(cooldown - time.Second),
			want: false,
		},
		{
			name: "failed after cooldown",
			prepare: func(s *cache.Store) {
				s.Track(models.Incident{ID: "ev-1"})
				s.MarkFailed("ev-1", base)
			},
			now:  base.Add(cooldown),
			want: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := cache.NewStore(10)
			tc.prepare(store)

			filter := NewFilter(store, cooldown)
			filter.now = func() time.Time { return tc.now }

			got, reason := filter.Decide("ev-1")
			if got != tc.want {
				t.Fatalf("Decide() = %v (%s), want %v", got, reason, tc.want)
			}
		})
	}
}
