package ws

import (
	"time"

	"github.com/alertdeck/alertdeck/internal/cache"
	"github.com/alertdeck/alertdeck/internal/models"
)

// IncidentView is the wire shape pushed to dashboard sessions and served
// on the read path.
type IncidentView struct {
	Identity      string   `json:"identity"`
	Host          string   `json:"host"`
	Problem       string   `json:"problem"`
	Severity      int      `json:"severity"`
	SeverityLabel string   `json:"severity_label"`
	Tags          []string `json:"tags"`
	State         string   `json:"state"`
	FirstSeenAt   string   `json:"first_seen_at,omitempty"`
	RootCause     string   `json:"root_cause,omitempty"`
	ActionCommand string   `json:"action_command,omitempty"`
}

// Stats summarises the cache for the dashboard header.
type Stats struct {
	Total      int   `json:"total"`
	Critical   int   `json:"critical"`
	TokensUsed int64 `json:"tokens_used"`
}

// Message is the envelope for every server-to-client push.
type Message struct {
	Type      string         `json:"type"` // "snapshot" or "incident"
	Stats     *Stats         `json:"stats,omitempty"`
	Incidents []IncidentView `json:"incidents,omitempty"`
	Incident  *IncidentView  `json:"incident,omitempty"`
}

// NewIncidentView maps a cache entry onto its wire shape.
func NewIncidentView(entry cache.Entry) IncidentView {
	inc := entry.Incident
	view := IncidentView{
		Identity:      inc.ID,
		Host:          inc.Host,
		Problem:       inc.Problem,
		Severity:      int(inc.Severity),
		SeverityLabel: inc.Severity.String(),
		State:         string(entry.State),
	}
	if !inc.FirstSeenAt.IsZero() {
		view.FirstSeenAt = inc.FirstSeenAt.UTC().Format(time.RFC3339)
	}
	for i, tag := range inc.Tags {
		if i >= 4 {
			break
		}
		view.Tags = append(view.Tags, tag.String())
	}
	if entry.Result != nil {
		view.RootCause = entry.Result.RootCause
		view.ActionCommand = entry.Result.ActionCommand
	}
	return view
}

// SnapshotMessage builds the full-state message sent on connect and served
// on the dashboard read path.
func SnapshotMessage(entries []cache.Entry, tokensUsed int64) Message {
	stats := Stats{TokensUsed: tokensUsed}
	views := make([]IncidentView, 0, len(entries))
	for _, entry := range entries {
		stats.Total++
		if entry.Incident.Severity.Critical() {
			stats.Critical++
		}
		views = append(views, NewIncidentView(entry))
	}
	return Message{Type: "snapshot", Stats: &stats, Incidents: views}
}

// IncidentMessage builds the live update pushed after each enrichment.
func IncidentMessage(inc models.Incident, res models.EnrichmentResult, state models.IncidentState) Message {
	entry := cache.Entry{Incident: inc, Result: &res, State: state}
	view := NewIncidentView(entry)
	return Message{Type: "incident", Incident: &view}
}
