package ws

import (
	"testing"
	"time"

	"github.com/alertdeck/alertdeck/internal/cache"
	"github.com/alertdeck/alertdeck/internal/models"
)

func entry(id string, severity models.Severity, state models.IncidentState) cache.Entry {
	return cache.Entry{
		Incident: models.Incident{
			ID:          id,
			Host:        "db-01",
			Problem:     "High CPU utilization",
			Severity:    severity,
			FirstSeenAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		},
		State: state,
	}
}

func TestNewIncidentViewCapsTags(t *testing.T) {
	e := entry("ev-1", models.SeverityHigh, models.StateEnriched)
	e.Incident.Tags = []models.Tag{
		{Key: "a", Value: "1"}, {Key: "b", Value: "2"}, {Key: "c", Value: "3"},
		{Key: "d", Value: "4"}, {Key: "e", Value: "5"},
	}
	e.Result = &models.EnrichmentResult{RootCause: "cause", ActionCommand: "cmd"}

	view := NewIncidentView(e)
	if len(view.Tags) != 4 {
		t.Fatalf("tags = %v, want 4 entries", view.Tags)
	}
	if view.Tags[0] != "a:1" {
		t.Fatalf("unexpected tag rendering: %v", view.Tags)
	}
	if view.FirstSeenAt != "2026-03-01T12:00:00Z" {
		t.Fatalf("unexpected first seen: %s", view.FirstSeenAt)
	}
	if view.RootCause != "cause" || view.ActionCommand != "cmd" {
		t.Fatalf("result not mapped: %+v", view)
	}
	if view.SeverityLabel != "high" || view.Severity != 4 {
		t.Fatalf("severity mapping: %+v", view)
	}
}

func TestSnapshotMessageStats(t *testing.T) {
	entries := []cache.Entry{
		entry("ev-1", models.SeverityDisaster, models.StateDelivered),
		entry("ev-2", models.SeverityHigh, models.StateEnriched),
		entry("ev-3", models.SeverityWarning, models.StateNew),
	}

	msg := SnapshotMessage(entries, 4321)
	if msg.Type != "snapshot" {
		t.Fatalf("unexpected type: %s", msg.Type)
	}
	if msg.Stats == nil || msg.Stats.Total != 3 {
		t.Fatalf("unexpected stats: %+v", msg.Stats)
	}
	if msg.Stats.Critical != 2 {
		t.Fatalf("critical = %d, want 2 (high and disaster)", msg.Stats.Critical)
	}
	if msg.Stats.TokensUsed != 4321 {
		t.Fatalf("tokens = %d", msg.Stats.TokensUsed)
	}
	if len(msg.Incidents) != 3 {
		t.Fatalf("incident views: %d", len(msg.Incidents))
	}
}

func TestIncidentMessageShape(t *testing.T) {
	inc := models.Incident{ID: "ev-1", Host: "db-01", Severity: models.SeverityHigh}
	res := models.EnrichmentResult{RootCause: "cause"}

	msg := IncidentMessage(inc, res, models.StateEnriched)
	if msg.Type != "incident" {
		t.Fatalf("unexpected type: %s", msg.Type)
	}
	if msg.Incident == nil || msg.Incident.Identity != "ev-1" {
		t.Fatalf("incident view missing: %+v", msg.Incident)
	}
	if msg.Incident.State != "enriched" {
		t.Fatalf("unexpected state: %s", msg.Incident.State)
	}
	if msg.Stats != nil || msg.Incidents != nil {
		t.Fatal("live updates must not carry snapshot fields")
	}
}
