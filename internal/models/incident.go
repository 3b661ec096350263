package models

import (
	"strconv"
	"time"
)

// IncidentState tracks an incident through the enrichment pipeline.
type IncidentState string

const (
	StateNew       IncidentState = "new"
	StateEnriching IncidentState = "enriching"
	StateEnriched  IncidentState = "enriched"
	StateDelivered IncidentState = "delivered"
	StateFailed    IncidentState = "failed"
)

// Terminal reports whether the state accepts no further transitions
// (failed incidents stay eligible for retry after the cooldown).
func (s IncidentState) Terminal() bool {
	return s == StateDelivered
}

// Severity is the ordinal problem severity reported by the monitoring source.
type Severity int

const (
	SeverityNotClassified Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityAverage
	SeverityHigh
	SeverityDisaster
)

// ParseSeverity maps the monitoring source's priority string ("0".."5")
// onto a Severity. Unknown values collapse to SeverityNotClassified.
func ParseSeverity(priority string) Severity {
	n, err := strconv.Atoi(priority)
	if err != nil || n < int(SeverityNotClassified) || n > int(SeverityDisaster) {
		return SeverityNotClassified
	}
	return Severity(n)
}

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityAverage:
		return "average"
	case SeverityHigh:
		return "high"
	case SeverityDisaster:
		return "disaster"
	default:
		return "not_classified"
	}
}

// Critical reports whether the severity should count towards the
// dashboard's critical tally.
func (s Severity) Critical() bool {
	return s >= SeverityHigh
}

// Tag is one key/value context pair attached to an incident. Order matters:
// the monitoring source lists the most relevant tags first.
type Tag struct {
	Key   string
	Value string
}

func (t Tag) String() string {
	if t.Value == "" {
		return t.Key
	}
	return t.Key + ":" + t.Value
}

// Incident is a single problem event tracked by stable identity.
type Incident struct {
	ID          string
	Host        string
	Problem     string
	Severity    Severity
	Tags        []Tag
	FirstSeenAt time.Time
}

// EnrichmentResult is the AI output for one incident. Immutable once created.
type EnrichmentResult struct {
	RootCause     string
	ActionCommand string
	TokensUsed    int
	ProducedAt    time.Time
}
