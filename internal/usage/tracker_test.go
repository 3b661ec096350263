package usage

import (
	"sync"
	"testing"
)

func TestTrackerIgnoresNonPositiveCounts(t *testing.T) {
	tracker := NewTracker()
	tracker.Record(0)
	tracker.Record(-50)
	if got := tracker.Total(); got != 0 {
		t.Fatalf("total = %d, want 0", got)
	}
}

func TestTrackerAccumulatesConcurrently(t *testing.T) {
	tracker := NewTracker()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tracker.Record(3)
			}
		}()
	}
	wg.Wait()

	if got := tracker.Total(); got != 6000 {
		t.Fatalf("total = %d, want 6000", got)
	}
}
